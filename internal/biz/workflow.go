package biz

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"RxGate/internal/conf"
	"RxGate/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
)

// patientIDRe matches a valid patient identifier: 6 to 8 digits.
var patientIDRe = regexp.MustCompile(`^\d{6,8}$`)

// WorkflowUsecase drives refill conversations through the explicit step
// machine. Each step has exactly one node function; a node mutates the
// working state and names the next step. Reaching any step without a node
// is a structural fault, never a silent stop.
type WorkflowUsecase struct {
	conversations ConversationRepo
	classifier    IntentClassifier
	extractor     EntityExtractor
	escalations   EscalationSink
	safety        *SafetyUsecase
	notifier      Notifier
	audit         AuditLogger

	confidenceThreshold float64
	logger              *log.Helper
}

// NewWorkflowUsecase creates a new workflow usecase.
func NewWorkflowUsecase(
	c *conf.Safety,
	conversations ConversationRepo,
	classifier IntentClassifier,
	extractor EntityExtractor,
	escalations EscalationSink,
	safety *SafetyUsecase,
	notifier Notifier,
	audit AuditLogger,
	logger log.Logger,
) *WorkflowUsecase {
	return &WorkflowUsecase{
		conversations:       conversations,
		classifier:          classifier,
		extractor:           extractor,
		escalations:         escalations,
		safety:              safety,
		notifier:            notifier,
		audit:               audit,
		confidenceThreshold: c.ConfidenceThreshold,
		logger:              log.NewHelper(logger),
	}
}

// node processes one step and returns the next step. A node that returns
// its own step parks the conversation until the next user turn.
type node func(ctx context.Context, state *model.RefillState, turn Turn) (model.Step, error)

// Run processes one user turn for a conversation: it loads (or creates) the
// working state, advances the step machine until it parks or terminates, and
// persists the outcome. The returned state reflects everything that happened
// during this turn.
func (uc *WorkflowUsecase) Run(ctx context.Context, conversationID string, turn Turn) (*model.RefillState, error) {
	if conversationID == "" {
		return nil, ErrBadRequest("conversation_id is required")
	}
	if turn.Text == "" && turn.ExplicitIntent == "" {
		return nil, ErrBadRequest("message text is required")
	}

	state, err := uc.conversations.Load(ctx, conversationID)
	switch {
	case err == ErrConversationNotFound:
		state = model.NewRefillState(conversationID, turn.Channel)
	case err != nil:
		return nil, fmt.Errorf("load conversation %s: %w", conversationID, err)
	}

	if state.CurrentStep.Terminal() {
		// Terminal conversations are immutable. Surface the final state
		// so the caller can render the outcome.
		return state, nil
	}

	if turn.Text != "" {
		state.Messages = append(state.Messages, turn.Text)
	}
	if state.PAID == "" {
		state.PAID = turn.PAID
	}
	state.LastError = ""

	nodes := map[model.Step]node{
		model.StepCollecting:     uc.collectNode,
		model.StepClarifying:     uc.clarifyNode,
		model.StepClassifying:    uc.classifyNode,
		model.StepExtracting:     uc.extractNode,
		model.StepCheckingSafety: uc.safetyNode,
	}

	for hops := 0; ; hops++ {
		step := state.CurrentStep
		if step.Terminal() {
			if err := uc.finalize(ctx, state); err != nil {
				return nil, err
			}
			break
		}

		n, ok := nodes[step]
		if !ok {
			uc.logger.Errorw("msg", "workflow reached undefined step",
				"conversation_id", conversationID, "step", step)
			return nil, ErrInvalidStep(string(step))
		}

		next, err := n(ctx, state, turn)
		if err != nil {
			state.LastError = err.Error()
			state.UpdatedAt = time.Now()
			if saveErr := uc.conversations.Save(ctx, state); saveErr != nil {
				uc.logger.Errorw("msg", "save after node failure",
					"conversation_id", conversationID, "error", saveErr)
			}
			return nil, err
		}
		if !next.Valid() {
			return nil, ErrInvalidStep(string(next))
		}

		if next != step {
			uc.audit.LogStepTransition(ctx, conversationID, step, next)
			uc.logger.Infow("msg", "workflow step transition",
				"conversation_id", conversationID,
				"from", step, "to", next)
		}
		parked := next == step || ((next == model.StepCollecting || next == model.StepClarifying) && hops > 0)
		state.CurrentStep = next
		if parked {
			break
		}
	}

	state.UpdatedAt = time.Now()
	if err := uc.conversations.Save(ctx, state); err != nil {
		return nil, fmt.Errorf("save conversation %s: %w", conversationID, err)
	}
	return state, nil
}

// Status returns the working state for a conversation without advancing it.
func (uc *WorkflowUsecase) Status(ctx context.Context, conversationID string) (*model.RefillState, error) {
	state, err := uc.conversations.Load(ctx, conversationID)
	if err == ErrConversationNotFound {
		return nil, ErrNotFound(fmt.Sprintf("conversation %s not found", conversationID))
	}
	if err != nil {
		return nil, err
	}
	return state, nil
}

// PurgeStale removes conversations idle longer than maxIdle. Wired to the
// cron scheduler.
func (uc *WorkflowUsecase) PurgeStale(ctx context.Context, maxIdle time.Duration) (int, error) {
	n, err := uc.conversations.PurgeStale(ctx, maxIdle)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		uc.logger.Infow("msg", "purged stale conversations", "count", n, "max_idle", maxIdle)
	}
	return n, nil
}

// collectNode accepts the inbound turn and hands it to classification.
func (uc *WorkflowUsecase) collectNode(_ context.Context, state *model.RefillState, _ Turn) (model.Step, error) {
	state.Missing = nil
	return model.StepClassifying, nil
}

// clarifyNode resumes a conversation parked on a clarification question.
// The fresh turn is re-classified like any other.
func (uc *WorkflowUsecase) clarifyNode(_ context.Context, _ *model.RefillState, _ Turn) (model.Step, error) {
	return model.StepClassifying, nil
}

// classifyNode labels the turn with an intent and routes on it. Confidence
// below the threshold rejects outright: acting on a poorly-understood
// clinical request is itself a safety hazard. A classifier outage is not a
// rejection; the conversation re-prompts instead.
func (uc *WorkflowUsecase) classifyNode(ctx context.Context, state *model.RefillState, turn Turn) (model.Step, error) {
	result, err := uc.resolveIntent(ctx, turn)
	if err != nil {
		uc.logger.Errorw("msg", "classification failed, re-prompting",
			"conversation_id", state.ConversationID, "error", err)
		state.LastError = err.Error()
		return model.StepCollecting, nil
	}
	state.Intents = append(state.Intents, *result)

	uc.logger.Infow("msg", "intent classified",
		"conversation_id", state.ConversationID,
		"intent", result.Intent,
		"confidence", result.Confidence,
		"confidence_source", result.ConfidenceSource)

	if result.Confidence < uc.confidenceThreshold {
		state.LastError = fmt.Sprintf("confidence %.2f below threshold %.2f",
			result.Confidence, uc.confidenceThreshold)
		return model.StepRejected, nil
	}

	switch result.Intent {
	case model.IntentRequestRefill:
		return model.StepExtracting, nil
	case model.IntentCancelRequest:
		return model.StepRejected, nil
	case model.IntentStatusInquiry:
		// Status inquiries are answered from the current state; the
		// refill itself waits for the next turn.
		return model.StepCollecting, nil
	}
	// Clarification and anything unrecognized: re-prompt.
	return model.StepCollecting, nil
}

// extractNode fills refill slots from the turn and either proceeds to the
// safety check or parks to collect the missing slots.
func (uc *WorkflowUsecase) extractNode(ctx context.Context, state *model.RefillState, turn Turn) (model.Step, error) {
	intent := model.IntentRequestRefill
	if latest := state.LatestIntent(); latest != nil {
		intent = latest.Intent
	}

	// Web form turns may carry only an explicit intent; extract from the
	// most recent message on record instead.
	text := turn.Text
	if text == "" {
		text = state.LatestMessage()
	}

	extracted, err := uc.extractor.Extract(ctx, text, intent)
	if err != nil {
		uc.logger.Errorw("msg", "entity extraction failed, re-prompting",
			"conversation_id", state.ConversationID, "error", err)
		state.LastError = err.Error()
		state.Missing = state.Entities.MissingSlots()
		return model.StepCollecting, nil
	}

	merged := state.Entities.Merge(extracted)
	if merged.PatientID != "" && !patientIDRe.MatchString(merged.PatientID) {
		uc.logger.Warnw("msg", "discarding malformed patient id",
			"conversation_id", state.ConversationID)
		merged.PatientID = ""
	}
	state.Entities = merged

	missing := merged.MissingSlots()
	if len(missing) > 0 {
		state.Missing = missing
		return model.StepCollecting, nil
	}
	state.Missing = nil
	return model.StepCheckingSafety, nil
}

// safetyNode runs the safety aggregate and routes on its verdict. A verdict
// reached while a dependency breaker is open is not a clinical outcome: the
// conversation stays at this step and the caller is told to retry.
func (uc *WorkflowUsecase) safetyNode(ctx context.Context, state *model.RefillState, _ Turn) (model.Step, error) {
	result := uc.safety.Check(ctx, state.Entities)
	state.Safety = result
	uc.audit.LogSafetyChecked(ctx, state.ConversationID, result)

	if result.Degraded {
		return model.StepCheckingSafety, ErrServiceDegraded("clinical safety checks")
	}

	switch {
	case result.Blocked:
		return model.StepRejected, nil
	case result.EscalationRequired:
		return model.StepEscalated, nil
	}
	return model.StepDispensed, nil
}

// finalize performs the terminal-step side effects exactly once.
func (uc *WorkflowUsecase) finalize(ctx context.Context, state *model.RefillState) error {
	switch state.CurrentStep {
	case model.StepDispensed:
		state.OrderID = uuid.NewString()
		uc.audit.LogTerminal(ctx, state.ConversationID, state.CurrentStep,
			fmt.Sprintf("order %s placed", state.OrderID))
		uc.logger.Infow("msg", "refill dispensed",
			"conversation_id", state.ConversationID,
			"order_id", state.OrderID,
			"drug_name", state.Entities.DrugName)
		event := &model.DispenseEvent{
			ConversationID: state.ConversationID,
			OrderID:        state.OrderID,
			PatientID:      state.Entities.PatientID,
			DrugName:       state.Entities.DrugName,
			Dose:           state.Entities.Dose,
			Quantity:       state.Entities.Quantity,
			DispensedAt:    time.Now(),
		}
		if err := uc.notifier.NotifyDispensed(ctx, event); err != nil {
			uc.logger.Errorw("msg", "dispense notification failed",
				"order_id", state.OrderID, "error", err)
		}

	case model.StepEscalated:
		esc := &model.EscalationContext{
			EscalationID: uuid.NewString(),
			Reason:       escalationReason(state.Safety),
			Safety:       state.Safety,
			CreatedAt:    time.Now(),
		}
		state.Escalation = esc
		if err := uc.escalations.Deliver(ctx, state); err != nil {
			return fmt.Errorf("deliver escalation %s: %w", esc.EscalationID, err)
		}
		uc.audit.LogTerminal(ctx, state.ConversationID, state.CurrentStep, esc.Reason)
		event := &model.EscalationRaisedEvent{
			ConversationID: state.ConversationID,
			EscalationID:   esc.EscalationID,
			PatientID:      state.Entities.PatientID,
			DrugName:       state.Entities.DrugName,
			Reason:         esc.Reason,
			RaisedAt:       esc.CreatedAt,
		}
		if err := uc.notifier.NotifyEscalationRaised(ctx, event); err != nil {
			uc.logger.Errorw("msg", "escalation notification failed",
				"escalation_id", esc.EscalationID, "error", err)
		}

	case model.StepRejected:
		uc.audit.LogTerminal(ctx, state.ConversationID, state.CurrentStep,
			rejectionReason(state))
	}
	return nil
}

// escalationReason summarizes why the physician-review package was raised.
func escalationReason(safety *model.SafetyResult) string {
	if safety == nil {
		return "escalation requested"
	}
	for _, f := range safety.Findings {
		if f.Severity.AtLeast(model.SeverityModerate) {
			return f.Description
		}
	}
	return "safety review required"
}

// rejectionReason summarizes why the refill was refused.
func rejectionReason(state *model.RefillState) string {
	if latest := state.LatestIntent(); latest != nil && latest.Intent == model.IntentCancelRequest {
		return "canceled at patient request"
	}
	if state.Safety != nil && state.Safety.Blocked {
		for _, f := range state.Safety.Findings {
			if f.Severity == model.SeverityMajor || f.Severity == model.SeverityError {
				return f.Description
			}
		}
	}
	if state.LastError != "" {
		return state.LastError
	}
	return "request refused"
}
