package model

import "time"

// Step identifies a workflow step. The workflow engine only ever moves a
// conversation between these steps; anything else is a structural fault.
type Step string

const (
	StepCollecting     Step = "collecting"
	StepClassifying    Step = "classifying"
	StepExtracting     Step = "extracting"
	StepCheckingSafety Step = "checking_safety"
	StepClarifying     Step = "clarifying"
	StepEscalated      Step = "escalated"
	StepDispensed      Step = "dispensed"
	StepRejected       Step = "rejected"
)

// Terminal reports whether the step ends the workflow.
func (s Step) Terminal() bool {
	switch s {
	case StepEscalated, StepDispensed, StepRejected:
		return true
	}
	return false
}

// Valid reports whether the step belongs to the defined step set.
func (s Step) Valid() bool {
	switch s {
	case StepCollecting, StepClassifying, StepExtracting, StepCheckingSafety,
		StepClarifying, StepEscalated, StepDispensed, StepRejected:
		return true
	}
	return false
}

// Channel identifies where a refill message came from. The channel decides
// how intent confidence is sourced.
type Channel string

const (
	ChannelWeb    Channel = "web"
	ChannelVoice  Channel = "voice"
	ChannelMobile Channel = "mobile"
	ChannelChat   Channel = "chat"
)

// Intent is a classified user intent.
type Intent string

const (
	IntentRequestRefill Intent = "RequestRefill"
	IntentCancelRequest Intent = "CancelRequest"
	IntentStatusInquiry Intent = "StatusInquiry"
	IntentClarification Intent = "Clarification"
)

// ConfidenceSource records where an intent confidence score originated.
type ConfidenceSource string

const (
	// ConfidenceWebForm means the user explicitly selected the intent;
	// confidence is always 1.0.
	ConfidenceWebForm ConfidenceSource = "web_form"
	// ConfidenceASR means the score is the speech recognizer's
	// transcription confidence.
	ConfidenceASR ConfidenceSource = "asr_transcript"
	// ConfidenceClassifier means the score is the classifier's
	// self-reported confidence.
	ConfidenceClassifier ConfidenceSource = "classifier"
)

// IntentResult is the output of the intent classification step.
type IntentResult struct {
	Intent           Intent            `json:"intent"`
	Confidence       float64           `json:"confidence"`
	ConfidenceSource ConfidenceSource  `json:"confidence_source"`
	ASRMetadata      map[string]string `json:"asr_metadata,omitempty"`
	Reasoning        string            `json:"reasoning,omitempty"`
}

// RequiredSlots is the set of slots that must be filled before a safety
// check can run.
var RequiredSlots = []string{"patient_id", "drug_name", "dose", "quantity"}

// Entities holds the structured slots extracted from a free-form message.
type Entities struct {
	PatientID string `json:"patient_id"`
	DrugName  string `json:"drug_name"`
	Dose      string `json:"dose"`
	Quantity  int    `json:"quantity"`
	Frequency string `json:"frequency,omitempty"`
}

// MissingSlots returns the required slots that are still unfilled, in
// RequiredSlots order.
func (e Entities) MissingSlots() []string {
	var missing []string
	if e.PatientID == "" {
		missing = append(missing, "patient_id")
	}
	if e.DrugName == "" {
		missing = append(missing, "drug_name")
	}
	if e.Dose == "" {
		missing = append(missing, "dose")
	}
	if e.Quantity <= 0 {
		missing = append(missing, "quantity")
	}
	return missing
}

// Merge fills empty slots of e from other without overwriting slots already
// filled in earlier turns of the conversation.
func (e Entities) Merge(other Entities) Entities {
	if e.PatientID == "" {
		e.PatientID = other.PatientID
	}
	if e.DrugName == "" {
		e.DrugName = other.DrugName
	}
	if e.Dose == "" {
		e.Dose = other.Dose
	}
	if e.Quantity <= 0 {
		e.Quantity = other.Quantity
	}
	if e.Frequency == "" {
		e.Frequency = other.Frequency
	}
	return e
}

// EscalationContext is the package delivered to the escalation sink when a
// workflow terminates in the escalated step.
type EscalationContext struct {
	EscalationID string        `json:"escalation_id"`
	Reason       string        `json:"reason"`
	Safety       *SafetyResult `json:"safety,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

// RefillState is the workflow's working memory for one conversation. It is
// owned by a single workflow run at a time and mutated by exactly one node
// per step.
type RefillState struct {
	ConversationID string   `json:"conversation_id"`
	PAID           string   `json:"pa_id,omitempty"`
	Channel        Channel  `json:"channel"`
	Messages       []string `json:"messages"`

	// Intents is ordered, most recent last.
	Intents  []IntentResult `json:"intents,omitempty"`
	Entities Entities       `json:"entities"`

	Safety     *SafetyResult      `json:"safety,omitempty"`
	Escalation *EscalationContext `json:"escalation,omitempty"`

	OrderID     string   `json:"order_id,omitempty"`
	CurrentStep Step     `json:"current_step"`
	Missing     []string `json:"missing_slots,omitempty"`
	LastError   string   `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewRefillState creates the working memory for a fresh conversation.
func NewRefillState(conversationID string, channel Channel) *RefillState {
	now := time.Now()
	return &RefillState{
		ConversationID: conversationID,
		Channel:        channel,
		CurrentStep:    StepCollecting,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// LatestIntent returns the most recent classification result, or nil when
// the conversation has not been classified yet.
func (s *RefillState) LatestIntent() *IntentResult {
	if len(s.Intents) == 0 {
		return nil
	}
	return &s.Intents[len(s.Intents)-1]
}

// LatestMessage returns the most recent message in the conversation.
func (s *RefillState) LatestMessage() string {
	if len(s.Messages) == 0 {
		return ""
	}
	return s.Messages[len(s.Messages)-1]
}
