// Package biz contains business logic layer implementations.
// This layer holds the core clinical workflow rules and safety policy.
package biz

import (
	"RxGate/internal/data"

	"github.com/google/wire"
)

// ProviderSet is biz providers.
var ProviderSet = wire.NewSet(
	NewSafetyUsecase,
	NewWorkflowUsecase,
	// Import data layer providers
	data.NewPatientRepo,
	data.NewDrugRepo,
	data.NewConversationRepo,
	data.NewEscalationRepo,
	data.NewClassifierClient,
	data.NewAuditLogger,
	data.NewNoopNotifier,
	// Bind data layer implementations to biz layer interfaces
	wire.Bind(new(PatientRepo), new(*data.PatientRepo)),
	wire.Bind(new(DrugRepo), new(*data.DrugRepo)),
	wire.Bind(new(ConversationRepo), new(*data.ConversationRepo)),
	wire.Bind(new(EscalationSink), new(*data.EscalationRepo)),
	wire.Bind(new(IntentClassifier), new(*data.ClassifierClient)),
	wire.Bind(new(EntityExtractor), new(*data.ClassifierClient)),
	wire.Bind(new(AuditLogger), new(*data.AuditLoggerImpl)),
	wire.Bind(new(Notifier), new(*data.NoopNotifier)),
)
