package model

// Audit event type constants
const (
	AuditEventWorkflowStep    = "WORKFLOW_STEP"
	AuditEventSafetyChecked   = "SAFETY_CHECKED"
	AuditEventDispensed       = "DISPENSED"
	AuditEventEscalated       = "ESCALATED"
	AuditEventRejected        = "REJECTED"
	AuditEventBreakerOpen     = "BREAKER_OPEN"
	AuditEventBreakerRecovery = "BREAKER_RECOVERED"
)
