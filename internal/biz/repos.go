package biz

import (
	"context"
	"time"

	"RxGate/internal/model"
)

// Sentinel errors shared with the data layer.
var (
	ErrConversationNotFound = model.ErrConversationNotFound
	ErrDrugNotFound         = model.ErrDrugNotFound
)

// PatientRepo fetches patient bundles from the EHR store.
// Following Kratos v2 DDD architecture, interfaces are defined in biz layer;
// implementations live in the data layer.
type PatientRepo interface {
	// FetchPatient assembles the patient bundle. Sub-resources are
	// fetched independently: a failing sub-resource leaves its field
	// empty and clears DataComplete rather than failing the bundle.
	// Only a failure of the whole store returns an error.
	FetchPatient(ctx context.Context, patientID string) (*model.PatientRecord, error)
}

// DrugRepo answers drug-knowledge queries.
type DrugRepo interface {
	// LookupDrug resolves a free-form drug name against the formulary.
	// Returns ErrDrugNotFound when the best match scores below the
	// similarity-confidence threshold.
	LookupDrug(ctx context.Context, drugName string) (*model.DrugInfo, error)

	// Interactions returns known interactions between the requested drug
	// and each of the given active medications.
	Interactions(ctx context.Context, activeMedications []string, drugName string) ([]model.Interaction, error)

	// CrossSensitivity checks the drug's class against the patient's
	// allergy list. Returns a non-empty description when a
	// cross-sensitivity is known, empty string otherwise.
	CrossSensitivity(ctx context.Context, drugClass string, allergies []model.Allergy) (string, error)
}

// ConversationRepo persists workflow working memory between turns.
type ConversationRepo interface {
	Load(ctx context.Context, conversationID string) (*model.RefillState, error)
	Save(ctx context.Context, state *model.RefillState) error
	Delete(ctx context.Context, conversationID string) error
	// PurgeStale removes conversations idle for longer than maxIdle and
	// returns how many were removed.
	PurgeStale(ctx context.Context, maxIdle time.Duration) (int, error)
}

// EscalationSink receives the physician-review package when a workflow
// terminates in the escalated step.
type EscalationSink interface {
	Deliver(ctx context.Context, state *model.RefillState) error
}

// IntentClassifier is the external NLU dependency that labels a free-form
// message with an intent and a self-reported confidence.
type IntentClassifier interface {
	Classify(ctx context.Context, message string) (*model.IntentResult, error)
}

// EntityExtractor is the external NLU dependency that fills refill slots
// from a free-form message.
type EntityExtractor interface {
	Extract(ctx context.Context, message string, intent model.Intent) (model.Entities, error)
}

// Notifier delivers out-of-band notifications for operational events.
type Notifier interface {
	NotifyBreakerOpen(ctx context.Context, event *model.BreakerOpenEvent) error
	NotifyBreakerRecovered(ctx context.Context, event *model.BreakerRecoveredEvent) error
	NotifyEscalationRaised(ctx context.Context, event *model.EscalationRaisedEvent) error
	// NotifyDispensed tells the prescribing authority that the refill
	// order was placed.
	NotifyDispensed(ctx context.Context, event *model.DispenseEvent) error
}
