package service

import (
	"context"
	"fmt"
	"strings"

	"RxGate/internal/biz"
	"RxGate/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"github.com/google/wire"
)

// ProviderSet is service providers.
var ProviderSet = wire.NewSet(NewRefillService)

// RefillService exposes the refill workflow over HTTP.
type RefillService struct {
	workflow *biz.WorkflowUsecase
	safety   *biz.SafetyUsecase
	logger   *log.Helper
}

// NewRefillService creates a new RefillService instance.
func NewRefillService(workflow *biz.WorkflowUsecase, safety *biz.SafetyUsecase, logger log.Logger) *RefillService {
	return &RefillService{
		workflow: workflow,
		safety:   safety,
		logger:   log.NewHelper(logger),
	}
}

// RunRefillRequest is one inbound conversation turn.
type RunRefillRequest struct {
	ConversationID string   `json:"conversation_id"`
	Message        string   `json:"message"`
	Channel        string   `json:"channel"`
	PatientID      string   `json:"patient_id,omitempty"`
	Intent         string   `json:"intent,omitempty"`
	ASRConfidence  *float64 `json:"asr_confidence,omitempty"`
}

// RefillReply is the caller-facing view of a conversation after a turn.
type RefillReply struct {
	ConversationID string              `json:"conversation_id"`
	Step           string              `json:"step"`
	Message        string              `json:"message"`
	Missing        []string            `json:"missing_slots,omitempty"`
	OrderID        string              `json:"order_id,omitempty"`
	EscalationID   string              `json:"escalation_id,omitempty"`
	Safety         *model.SafetyResult `json:"safety,omitempty"`
	LastError      string              `json:"last_error,omitempty"`
}

// HealthReply reports service liveness and the availability of the two
// protected upstreams.
type HealthReply struct {
	Status string `json:"status"`
	EHR    string `json:"ehr"`
	DrugKB string `json:"drug_kb"`
}

// RunRefill drives a conversation one turn forward. A request without a
// conversation id starts a fresh conversation under a generated one.
func (s *RefillService) RunRefill(ctx context.Context, req *RunRefillRequest) (*RefillReply, error) {
	if req.ConversationID == "" {
		req.ConversationID = uuid.NewString()
	}

	s.logger.Infow("msg", "RunRefill called",
		"conversation_id", req.ConversationID,
		"channel", req.Channel)

	channel, err := parseChannel(req.Channel)
	if err != nil {
		return nil, err
	}

	state, err := s.workflow.Run(ctx, req.ConversationID, biz.Turn{
		Text:           req.Message,
		Channel:        channel,
		PAID:           req.PatientID,
		ASRConfidence:  req.ASRConfidence,
		ExplicitIntent: model.Intent(req.Intent),
	})
	if err != nil {
		s.logger.Errorw("msg", "refill turn failed",
			"conversation_id", req.ConversationID, "error", err)
		return nil, err
	}

	return stateToReply(state), nil
}

// GetRefill returns the current state of a conversation.
func (s *RefillService) GetRefill(ctx context.Context, conversationID string) (*RefillReply, error) {
	s.logger.Debugw("msg", "GetRefill called", "conversation_id", conversationID)

	state, err := s.workflow.Status(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return stateToReply(state), nil
}

// Health reports breaker-derived availability of the EHR and drug
// knowledge base. The service itself stays up when either is degraded;
// safety checks fail closed instead.
func (s *RefillService) Health(_ context.Context) *HealthReply {
	reply := &HealthReply{
		Status: "ok",
		EHR:    availability(s.safety.EHRAvailable()),
		DrugKB: availability(s.safety.DrugKBAvailable()),
	}
	if reply.EHR != "available" || reply.DrugKB != "available" {
		reply.Status = "degraded"
	}
	return reply
}

func availability(up bool) string {
	if up {
		return "available"
	}
	return "unavailable"
}

func parseChannel(raw string) (model.Channel, error) {
	switch model.Channel(raw) {
	case model.ChannelWeb, model.ChannelVoice, model.ChannelMobile, model.ChannelChat:
		return model.Channel(raw), nil
	case "":
		// chat is the least privileged channel: no confidence bypass
		return model.ChannelChat, nil
	default:
		return "", biz.ErrBadRequest(fmt.Sprintf("unknown channel %q", raw))
	}
}

func stateToReply(state *model.RefillState) *RefillReply {
	reply := &RefillReply{
		ConversationID: state.ConversationID,
		Step:           string(state.CurrentStep),
		Message:        userMessage(state),
		Missing:        state.Missing,
		OrderID:        state.OrderID,
		Safety:         state.Safety,
		LastError:      state.LastError,
	}
	if state.Escalation != nil {
		reply.EscalationID = state.Escalation.EscalationID
	}
	return reply
}

// userMessage renders the outcome of a turn for the patient.
func userMessage(state *model.RefillState) string {
	switch state.CurrentStep {
	case model.StepDispensed:
		return fmt.Sprintf("Refill processed. Order ID: %s", state.OrderID)
	case model.StepEscalated:
		id := ""
		if state.Escalation != nil {
			id = state.Escalation.EscalationID
		}
		return fmt.Sprintf("Requires physician approval. Escalation ID: %s", id)
	case model.StepRejected:
		return "This refill request cannot be completed."
	}
	if len(state.Missing) > 0 {
		return fmt.Sprintf("Additional information needed: %s", strings.Join(state.Missing, ", "))
	}
	return "Processing your request..."
}
