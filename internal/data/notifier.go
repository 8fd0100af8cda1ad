package data

import (
	"context"

	"RxGate/internal/model"

	"github.com/go-kratos/kratos/v2/log"
)

// NoopNotifier logs operational events without delivering them anywhere.
// The pharmacy ops webhook integration replaces this once its endpoint is
// provisioned.
type NoopNotifier struct {
	logger *log.Helper
}

// NewNoopNotifier creates a new noop notifier
func NewNoopNotifier(logger log.Logger) *NoopNotifier {
	return &NoopNotifier{
		logger: log.NewHelper(logger),
	}
}

// NotifyBreakerOpen logs a breaker-open event (delivery disabled)
func (n *NoopNotifier) NotifyBreakerOpen(ctx context.Context, event *model.BreakerOpenEvent) error {
	n.logger.Warnw("msg", "dependency breaker opened (notification delivery disabled)",
		"dependency", event.Dependency,
		"failures", event.Failures,
		"opened_at", event.OpenedAt)
	return nil
}

// NotifyBreakerRecovered logs a breaker-recovery event (delivery disabled)
func (n *NoopNotifier) NotifyBreakerRecovered(ctx context.Context, event *model.BreakerRecoveredEvent) error {
	n.logger.Infow("msg", "dependency breaker recovered (notification delivery disabled)",
		"dependency", event.Dependency,
		"recovered_at", event.RecoveredAt)
	return nil
}

// NotifyEscalationRaised logs an escalation event (delivery disabled)
func (n *NoopNotifier) NotifyEscalationRaised(ctx context.Context, event *model.EscalationRaisedEvent) error {
	n.logger.Infow("msg", "escalation raised (notification delivery disabled)",
		"escalation_id", event.EscalationID,
		"conversation_id", event.ConversationID,
		"reason", event.Reason)
	return nil
}

// NotifyDispensed logs a dispense event (delivery disabled)
func (n *NoopNotifier) NotifyDispensed(ctx context.Context, event *model.DispenseEvent) error {
	n.logger.Infow("msg", "refill dispensed (notification delivery disabled)",
		"conversation_id", event.ConversationID,
		"order_id", event.OrderID,
		"drug_name", event.DrugName)
	return nil
}
