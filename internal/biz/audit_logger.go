package biz

import (
	"context"

	"RxGate/internal/model"
)

// AuditEventType defines the type of audit event
type AuditEventType string

const (
	AuditEventWorkflowStep  AuditEventType = AuditEventType(model.AuditEventWorkflowStep)
	AuditEventSafetyChecked AuditEventType = AuditEventType(model.AuditEventSafetyChecked)
	AuditEventDispensed     AuditEventType = AuditEventType(model.AuditEventDispensed)
	AuditEventEscalated     AuditEventType = AuditEventType(model.AuditEventEscalated)
	AuditEventRejected      AuditEventType = AuditEventType(model.AuditEventRejected)
	AuditEventBreakerOpen   AuditEventType = AuditEventType(model.AuditEventBreakerOpen)
)

// AuditLogger defines the interface for the clinical audit trail. Logging is
// best-effort and must never block or fail the workflow.
type AuditLogger interface {
	// LogStepTransition records one workflow step transition.
	LogStepTransition(ctx context.Context, conversationID string, from, to model.Step)

	// LogSafetyChecked records the merged outcome of a safety check.
	LogSafetyChecked(ctx context.Context, conversationID string, result *model.SafetyResult)

	// LogTerminal records the terminal outcome of a workflow run.
	LogTerminal(ctx context.Context, conversationID string, step model.Step, detail string)

	// LogBreakerEvent records a dependency breaker state change.
	LogBreakerEvent(ctx context.Context, dependency string, from, to string)
}
