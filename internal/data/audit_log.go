package data

import (
	"context"
	"encoding/json"
	"time"

	"RxGate/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

// AuditLog is the GORM model for the refill_audit_logs table.
type AuditLog struct {
	ID             int64     `gorm:"primaryKey;column:id"`
	ConversationID string    `gorm:"column:conversation_id;type:varchar(64);index"`
	EventType      string    `gorm:"column:event_type;type:varchar(50);not null"`
	Details        string    `gorm:"column:details;type:json"` // JSON string
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName specifies the table name for GORM
func (AuditLog) TableName() string {
	return "refill_audit_logs"
}

// AuditLoggerImpl implements biz.AuditLogger interface
type AuditLoggerImpl struct {
	db      *gorm.DB
	logChan chan *AuditLog
	logger  *log.Helper
}

// NewAuditLogger creates a new audit logger with async channel
func NewAuditLogger(db *gorm.DB, logger log.Logger) *AuditLoggerImpl {
	al := &AuditLoggerImpl{
		db:      db,
		logChan: make(chan *AuditLog, 1000), // Buffer size 1000 to prevent blocking
		logger:  log.NewHelper(logger),
	}

	// Start background goroutine for async logging
	go al.start()

	return al
}

// start processes audit log events from channel
func (a *AuditLoggerImpl) start() {
	for event := range a.logChan {
		ctx := context.Background()
		if err := a.db.WithContext(ctx).Create(event).Error; err != nil {
			a.logger.Errorw("failed to write audit log",
				"conversation_id", event.ConversationID,
				"event_type", event.EventType,
				"error", err)
		} else {
			a.logger.Debugw("audit log written",
				"conversation_id", event.ConversationID,
				"event_type", event.EventType)
		}
	}
}

// enqueue sends an event to the writer goroutine without blocking the
// workflow. A full channel drops the event with a warning; the structured
// log line above it is the fallback record.
func (a *AuditLoggerImpl) enqueue(event *AuditLog) {
	select {
	case a.logChan <- event:
	default:
		a.logger.Warnw("audit log channel full, dropping event",
			"conversation_id", event.ConversationID,
			"event_type", event.EventType)
	}
}

func (a *AuditLoggerImpl) marshalDetails(details map[string]interface{}) (string, bool) {
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		a.logger.Errorw("failed to marshal audit log details", "error", err)
		return "", false
	}
	return string(detailsJSON), true
}

// LogStepTransition logs one workflow step transition
func (a *AuditLoggerImpl) LogStepTransition(ctx context.Context, conversationID string, from, to model.Step) {
	details, ok := a.marshalDetails(map[string]interface{}{
		"from": string(from),
		"to":   string(to),
	})
	if !ok {
		return
	}

	a.enqueue(&AuditLog{
		ConversationID: conversationID,
		EventType:      model.AuditEventWorkflowStep,
		Details:        details,
	})
}

// LogSafetyChecked logs the merged safety verdict for one request
func (a *AuditLoggerImpl) LogSafetyChecked(ctx context.Context, conversationID string, result *model.SafetyResult) {
	findings := make([]map[string]string, 0, len(result.Findings))
	for _, f := range result.Findings {
		findings = append(findings, map[string]string{
			"check":    f.Check,
			"severity": string(f.Severity),
		})
	}

	details, ok := a.marshalDetails(map[string]interface{}{
		"passed":              result.Passed,
		"blocked":             result.Blocked,
		"escalation_required": result.EscalationRequired,
		"findings":            findings,
	})
	if !ok {
		return
	}

	a.enqueue(&AuditLog{
		ConversationID: conversationID,
		EventType:      model.AuditEventSafetyChecked,
		Details:        details,
	})
}

// LogTerminal logs a workflow reaching a terminal step
func (a *AuditLoggerImpl) LogTerminal(ctx context.Context, conversationID string, step model.Step, detail string) {
	eventType := model.AuditEventRejected
	switch step {
	case model.StepDispensed:
		eventType = model.AuditEventDispensed
	case model.StepEscalated:
		eventType = model.AuditEventEscalated
	}

	details, ok := a.marshalDetails(map[string]interface{}{
		"step":   string(step),
		"detail": detail,
	})
	if !ok {
		return
	}

	a.enqueue(&AuditLog{
		ConversationID: conversationID,
		EventType:      eventType,
		Details:        details,
	})
}

// LogBreakerEvent logs a dependency breaker state transition
func (a *AuditLoggerImpl) LogBreakerEvent(ctx context.Context, dependency, from, to string) {
	eventType := model.AuditEventBreakerOpen
	if to == "closed" {
		eventType = model.AuditEventBreakerRecovery
	}

	details, ok := a.marshalDetails(map[string]interface{}{
		"dependency": dependency,
		"from":       from,
		"to":         to,
	})
	if !ok {
		return
	}

	a.enqueue(&AuditLog{
		EventType: eventType,
		Details:   details,
	})
}
