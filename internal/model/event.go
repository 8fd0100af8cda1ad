package model

import "time"

// BreakerOpenEvent is emitted when a dependency breaker trips open.
type BreakerOpenEvent struct {
	Dependency string
	Failures   int
	OpenedAt   time.Time
}

// BreakerRecoveredEvent is emitted when a dependency breaker closes again.
type BreakerRecoveredEvent struct {
	Dependency  string
	RecoveredAt time.Time
}

// EscalationRaisedEvent is emitted when a workflow terminates in the
// escalated step and a physician-review package has been persisted.
type EscalationRaisedEvent struct {
	ConversationID string
	EscalationID   string
	PatientID      string
	DrugName       string
	Reason         string
	RaisedAt       time.Time
}

// DispenseEvent is emitted when a workflow terminates in the dispensed step.
type DispenseEvent struct {
	ConversationID string
	OrderID        string
	PatientID      string
	DrugName       string
	Dose           string
	Quantity       int
	DispensedAt    time.Time
}
