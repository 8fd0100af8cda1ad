package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"RxGate/internal/biz"
	"RxGate/internal/conf"
	"RxGate/internal/model"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/durationpb"
)

// MockPatientRepo is a mock implementation of biz.PatientRepo for testing.
type MockPatientRepo struct {
	mock.Mock
}

func (m *MockPatientRepo) FetchPatient(ctx context.Context, patientID string) (*model.PatientRecord, error) {
	args := m.Called(ctx, patientID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PatientRecord), args.Error(1)
}

// MockDrugRepo is a mock implementation of biz.DrugRepo for testing.
type MockDrugRepo struct {
	mock.Mock
}

func (m *MockDrugRepo) LookupDrug(ctx context.Context, drugName string) (*model.DrugInfo, error) {
	args := m.Called(ctx, drugName)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.DrugInfo), args.Error(1)
}

func (m *MockDrugRepo) Interactions(ctx context.Context, activeMedications []string, drugName string) ([]model.Interaction, error) {
	args := m.Called(ctx, activeMedications, drugName)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Interaction), args.Error(1)
}

func (m *MockDrugRepo) CrossSensitivity(ctx context.Context, drugClass string, allergies []model.Allergy) (string, error) {
	args := m.Called(ctx, drugClass, allergies)
	return args.String(0), args.Error(1)
}

// MockClassifier is a mock implementation of biz.IntentClassifier.
type MockClassifier struct {
	mock.Mock
}

func (m *MockClassifier) Classify(ctx context.Context, message string) (*model.IntentResult, error) {
	args := m.Called(ctx, message)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.IntentResult), args.Error(1)
}

// MockExtractor is a mock implementation of biz.EntityExtractor.
type MockExtractor struct {
	mock.Mock
}

func (m *MockExtractor) Extract(ctx context.Context, message string, intent model.Intent) (model.Entities, error) {
	args := m.Called(ctx, message, intent)
	return args.Get(0).(model.Entities), args.Error(1)
}

// MockEscalationSink is a mock implementation of biz.EscalationSink.
type MockEscalationSink struct {
	mock.Mock
}

func (m *MockEscalationSink) Deliver(ctx context.Context, state *model.RefillState) error {
	args := m.Called(ctx, state)
	return args.Error(0)
}

// noopNotifier and noopAudit satisfy the operational interfaces without
// asserting anything; notification behavior is covered in the biz tests.
type noopNotifier struct{}

func (noopNotifier) NotifyBreakerOpen(context.Context, *model.BreakerOpenEvent) error { return nil }
func (noopNotifier) NotifyBreakerRecovered(context.Context, *model.BreakerRecoveredEvent) error {
	return nil
}
func (noopNotifier) NotifyEscalationRaised(context.Context, *model.EscalationRaisedEvent) error {
	return nil
}
func (noopNotifier) NotifyDispensed(context.Context, *model.DispenseEvent) error { return nil }

type noopAudit struct{}

func (noopAudit) LogStepTransition(context.Context, string, model.Step, model.Step) {}
func (noopAudit) LogSafetyChecked(context.Context, string, *model.SafetyResult)     {}
func (noopAudit) LogTerminal(context.Context, string, model.Step, string)           {}
func (noopAudit) LogBreakerEvent(context.Context, string, string, string)           {}

// memConversations is an in-memory ConversationRepo.
type memConversations struct {
	mu     sync.Mutex
	states map[string]*model.RefillState
}

func newMemConversations() *memConversations {
	return &memConversations{states: make(map[string]*model.RefillState)}
}

func (r *memConversations) Load(_ context.Context, id string) (*model.RefillState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.states[id]
	if !ok {
		return nil, model.ErrConversationNotFound
	}
	return state, nil
}

func (r *memConversations) Save(_ context.Context, state *model.RefillState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[state.ConversationID] = state
	return nil
}

func (r *memConversations) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.states, id)
	return nil
}

func (r *memConversations) PurgeStale(_ context.Context, _ time.Duration) (int, error) {
	return 0, nil
}

type serviceFixture struct {
	svc        *RefillService
	patients   *MockPatientRepo
	drugs      *MockDrugRepo
	classifier *MockClassifier
	extractor  *MockExtractor
	sink       *MockEscalationSink
}

// setupTestService creates a RefillService over real usecases with mock
// repositories.
func setupTestService(t *testing.T) *serviceFixture {
	t.Helper()

	c := &conf.Safety{
		ConfidenceThreshold: 0.70,
		Breaker: &conf.Safety_Breaker{
			FailureThreshold: 5,
			CallTimeout:      durationpb.New(3 * time.Second),
			RecoveryTimeout:  durationpb.New(30 * time.Second),
		},
	}

	f := &serviceFixture{
		patients:   new(MockPatientRepo),
		drugs:      new(MockDrugRepo),
		classifier: new(MockClassifier),
		extractor:  new(MockExtractor),
		sink:       new(MockEscalationSink),
	}

	logger := log.DefaultLogger
	safety := biz.NewSafetyUsecase(c, f.patients, f.drugs, noopNotifier{}, noopAudit{}, logger)
	workflow := biz.NewWorkflowUsecase(c, newMemConversations(), f.classifier, f.extractor,
		f.sink, safety, noopNotifier{}, noopAudit{}, logger)

	f.svc = NewRefillService(workflow, safety, logger)
	return f
}

func TestRunRefill_Dispenses(t *testing.T) {
	f := setupTestService(t)
	ctx := context.Background()

	f.classifier.On("Classify", mock.Anything, mock.Anything).Return(&model.IntentResult{
		Intent:     model.IntentRequestRefill,
		Confidence: 0.95,
	}, nil)
	f.extractor.On("Extract", mock.Anything, mock.Anything, model.IntentRequestRefill).Return(model.Entities{
		PatientID: "123456",
		DrugName:  "atorvastatin",
		Dose:      "20 mg",
		Quantity:  30,
	}, nil)
	f.patients.On("FetchPatient", mock.Anything, "123456").Return(&model.PatientRecord{
		Demographics: &model.Demographics{PatientID: "123456", Name: "Jordan Reyes"},
		DataComplete: true,
	}, nil)
	f.drugs.On("LookupDrug", mock.Anything, "atorvastatin").Return(&model.DrugInfo{
		Name:            "atorvastatin",
		DrugClass:       "statin",
		MinDose:         10,
		MaxDose:         80,
		DoseUnit:        "mg",
		MatchConfidence: 1.0,
	}, nil)
	f.drugs.On("CrossSensitivity", mock.Anything, "statin", mock.Anything).Return("", nil).Maybe()

	reply, err := f.svc.RunRefill(ctx, &RunRefillRequest{
		ConversationID: "conv-1",
		Message:        "refill my atorvastatin 20 mg, 30 tablets, patient 123456",
		Channel:        "chat",
	})
	require.NoError(t, err)
	assert.Equal(t, "dispensed", reply.Step)
	assert.NotEmpty(t, reply.OrderID)
	assert.Equal(t, "Refill processed. Order ID: "+reply.OrderID, reply.Message)
	require.NotNil(t, reply.Safety)
	assert.True(t, reply.Safety.Passed)
}

func TestRunRefill_GeneratesConversationID(t *testing.T) {
	f := setupTestService(t)

	f.classifier.On("Classify", mock.Anything, mock.Anything).Return(&model.IntentResult{
		Intent:     model.IntentRequestRefill,
		Confidence: 0.90,
	}, nil)
	f.extractor.On("Extract", mock.Anything, mock.Anything, model.IntentRequestRefill).Return(model.Entities{}, nil)

	reply, err := f.svc.RunRefill(context.Background(), &RunRefillRequest{
		Message: "I need a refill",
		Channel: "chat",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, reply.ConversationID)

	// The generated id names a real conversation.
	got, err := f.svc.GetRefill(context.Background(), reply.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, reply.ConversationID, got.ConversationID)
}

func TestRunRefill_UnknownChannelRejected(t *testing.T) {
	f := setupTestService(t)

	_, err := f.svc.RunRefill(context.Background(), &RunRefillRequest{
		ConversationID: "conv-2",
		Message:        "refill please",
		Channel:        "fax",
	})
	require.Error(t, err)
	assert.Equal(t, "INVALID_REQUEST", kerrors.FromError(err).Reason)
}

func TestRunRefill_DefaultsToChatChannel(t *testing.T) {
	f := setupTestService(t)

	f.classifier.On("Classify", mock.Anything, mock.Anything).Return(&model.IntentResult{
		Intent:     model.IntentRequestRefill,
		Confidence: 0.30,
	}, nil)

	reply, err := f.svc.RunRefill(context.Background(), &RunRefillRequest{
		ConversationID: "conv-3",
		Message:        "uh, the blue pills?",
	})
	require.NoError(t, err)
	assert.Equal(t, "rejected", reply.Step)
}

func TestRunRefill_MissingSlotsSurface(t *testing.T) {
	f := setupTestService(t)

	f.classifier.On("Classify", mock.Anything, mock.Anything).Return(&model.IntentResult{
		Intent:     model.IntentRequestRefill,
		Confidence: 0.90,
	}, nil)
	f.extractor.On("Extract", mock.Anything, mock.Anything, model.IntentRequestRefill).Return(model.Entities{
		PatientID: "123456",
		DrugName:  "atorvastatin",
	}, nil)

	reply, err := f.svc.RunRefill(context.Background(), &RunRefillRequest{
		ConversationID: "conv-4",
		Message:        "refill my atorvastatin, patient 123456",
		Channel:        "chat",
	})
	require.NoError(t, err)
	assert.Equal(t, "collecting", reply.Step)
	assert.Equal(t, []string{"dose", "quantity"}, reply.Missing)
	assert.Equal(t, "Additional information needed: dose, quantity", reply.Message)
}

func TestGetRefill_NotFound(t *testing.T) {
	f := setupTestService(t)

	_, err := f.svc.GetRefill(context.Background(), "missing-conv")
	require.Error(t, err)
	assert.Equal(t, "NOT_FOUND", kerrors.FromError(err).Reason)
}

func TestGetRefill_ReturnsState(t *testing.T) {
	f := setupTestService(t)

	f.classifier.On("Classify", mock.Anything, mock.Anything).Return(&model.IntentResult{
		Intent:     model.IntentRequestRefill,
		Confidence: 0.90,
	}, nil)
	f.extractor.On("Extract", mock.Anything, mock.Anything, model.IntentRequestRefill).Return(model.Entities{}, nil)

	_, err := f.svc.RunRefill(context.Background(), &RunRefillRequest{
		ConversationID: "conv-5",
		Message:        "I need a refill",
		Channel:        "chat",
	})
	require.NoError(t, err)

	reply, err := f.svc.GetRefill(context.Background(), "conv-5")
	require.NoError(t, err)
	assert.Equal(t, "conv-5", reply.ConversationID)
	assert.Equal(t, "collecting", reply.Step)
}

func TestHealth_AllAvailable(t *testing.T) {
	f := setupTestService(t)

	reply := f.svc.Health(context.Background())
	assert.Equal(t, "ok", reply.Status)
	assert.Equal(t, "available", reply.EHR)
	assert.Equal(t, "available", reply.DrugKB)
}
