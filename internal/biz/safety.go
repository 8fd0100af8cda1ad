package biz

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"RxGate/internal/conf"
	"RxGate/internal/model"
	"RxGate/pkg/breaker"
	"RxGate/pkg/probe"

	"github.com/go-kratos/kratos/v2/log"
)

// SafetyUsecase runs the clinical safety checks for one refill request.
// The four checks (allergy, interaction, dosage, controlled substance)
// execute concurrently; their outcomes are merged under a deterministic
// severity policy. Every external dependency is guarded by its own breaker:
// the EHR store and the drug knowledge base never share one.
type SafetyUsecase struct {
	patients PatientRepo
	drugs    DrugRepo

	ehrBreaker  *breaker.Breaker
	drugBreaker *breaker.Breaker

	escalateScheduleIV bool

	notifier Notifier
	audit    AuditLogger
	logger   *log.Helper
}

// NewSafetyUsecase creates a new safety usecase with one breaker per
// protected dependency.
func NewSafetyUsecase(
	c *conf.Safety,
	patients PatientRepo,
	drugs DrugRepo,
	notifier Notifier,
	audit AuditLogger,
	logger log.Logger,
) *SafetyUsecase {
	uc := &SafetyUsecase{
		patients:           patients,
		drugs:              drugs,
		escalateScheduleIV: c.EscalateScheduleIV,
		notifier:           notifier,
		audit:              audit,
		logger:             log.NewHelper(logger),
	}

	cfg := breaker.Config{
		FailureThreshold: c.Breaker.FailureThreshold,
		CallTimeout:      c.Breaker.CallTimeout.AsDuration(),
		RecoveryTimeout:  c.Breaker.RecoveryTimeout.AsDuration(),
		OnStateChange:    uc.onBreakerStateChange,
	}

	ehrCfg := cfg
	ehrCfg.Name = "ehr"
	uc.ehrBreaker = breaker.New(ehrCfg)

	drugCfg := cfg
	drugCfg.Name = "drugdb"
	uc.drugBreaker = breaker.New(drugCfg)

	return uc
}

// onBreakerStateChange logs, audits and notifies dependency breaker
// transitions. Invoked from inside the breaker's state lock, so delivery
// failures are logged and swallowed.
func (uc *SafetyUsecase) onBreakerStateChange(name string, from, to breaker.State) {
	ctx := context.Background()
	uc.logger.Warnw("msg", "dependency breaker state change",
		"dependency", name,
		"from", from.String(),
		"to", to.String())
	uc.audit.LogBreakerEvent(ctx, name, from.String(), to.String())

	switch to {
	case breaker.StateOpen:
		if err := uc.notifier.NotifyBreakerOpen(ctx, &model.BreakerOpenEvent{
			Dependency: name,
			OpenedAt:   time.Now(),
		}); err != nil {
			uc.logger.Errorw("msg", "breaker open notification failed", "dependency", name, "error", err)
		}
	case breaker.StateClosed:
		if from != breaker.StateHalfOpen {
			return
		}
		if err := uc.notifier.NotifyBreakerRecovered(ctx, &model.BreakerRecoveredEvent{
			Dependency:  name,
			RecoveredAt: time.Now(),
		}); err != nil {
			uc.logger.Errorw("msg", "breaker recovery notification failed", "dependency", name, "error", err)
		}
	}
}

// EHRAvailable reports whether the EHR breaker currently admits calls.
// Used by the health endpoint.
func (uc *SafetyUsecase) EHRAvailable() bool {
	return uc.ehrBreaker.State() != breaker.StateOpen
}

// DrugKBAvailable reports whether the drug-knowledge breaker currently
// admits calls.
func (uc *SafetyUsecase) DrugKBAvailable() bool {
	return uc.drugBreaker.State() != breaker.StateOpen
}

// FetchPatient fetches the patient bundle through the EHR breaker.
func (uc *SafetyUsecase) FetchPatient(ctx context.Context, patientID string) (*model.PatientRecord, error) {
	return breaker.Execute(ctx, uc.ehrBreaker, func(ctx context.Context) (*model.PatientRecord, error) {
		return uc.patients.FetchPatient(ctx, patientID)
	})
}

// LookupDrug resolves a drug name through the drug-knowledge breaker.
func (uc *SafetyUsecase) LookupDrug(ctx context.Context, drugName string) (*model.DrugInfo, error) {
	return breaker.Execute(ctx, uc.drugBreaker, func(ctx context.Context) (*model.DrugInfo, error) {
		return uc.drugs.LookupDrug(ctx, drugName)
	})
}

// Check is the safety-check entry point for the workflow. It fetches the
// patient bundle and drug record concurrently, then validates. Dependency
// failures are folded into the returned SafetyResult as error-severity
// findings; Check never returns an error to the workflow.
func (uc *SafetyUsecase) Check(ctx context.Context, entities model.Entities) *model.SafetyResult {
	type fetched struct {
		patient *model.PatientRecord
		drug    *model.DrugInfo
	}

	outcomes := probe.Run(ctx, map[string]probe.Op[any]{
		"patient": func(ctx context.Context) (any, error) {
			return uc.FetchPatient(ctx, entities.PatientID)
		},
		"drug": func(ctx context.Context) (any, error) {
			return uc.LookupDrug(ctx, entities.DrugName)
		},
	})

	var f fetched
	patientOut := outcomes["patient"]
	drugOut := outcomes["drug"]
	if !patientOut.Failed() {
		f.patient = patientOut.Value.(*model.PatientRecord)
	}
	if !drugOut.Failed() {
		f.drug = drugOut.Value.(*model.DrugInfo)
	}

	if patientOut.Failed() {
		uc.logger.Errorw("msg", "patient fetch failed", "patient_id", entities.PatientID, "error", patientOut.Err)
	}
	if drugOut.Failed() {
		uc.logger.Errorw("msg", "drug lookup failed", "drug_name", entities.DrugName, "error", drugOut.Err)
	}

	return uc.validate(ctx, f.patient, patientOut.Err, f.drug, drugOut.Err, entities.Dose, entities.Quantity)
}

// Validate runs the four safety checks against already-resolved contexts.
func (uc *SafetyUsecase) Validate(
	ctx context.Context,
	patient *model.PatientRecord,
	drug *model.DrugInfo,
	requestedDose string,
	requestedQuantity int,
) *model.SafetyResult {
	return uc.validate(ctx, patient, nil, drug, nil, requestedDose, requestedQuantity)
}

func (uc *SafetyUsecase) validate(
	ctx context.Context,
	patient *model.PatientRecord,
	patientErr error,
	drug *model.DrugInfo,
	drugErr error,
	requestedDose string,
	requestedQuantity int,
) *model.SafetyResult {
	ops := map[string]probe.Op[model.Finding]{
		model.CheckAllergy: func(ctx context.Context) (model.Finding, error) {
			if patientErr != nil {
				return model.Finding{}, fmt.Errorf("patient record unavailable: %w", patientErr)
			}
			if drugErr != nil {
				return model.Finding{}, fmt.Errorf("drug record unavailable: %w", drugErr)
			}
			return uc.checkAllergies(ctx, patient, drug)
		},
		model.CheckInteraction: func(ctx context.Context) (model.Finding, error) {
			if patientErr != nil {
				return model.Finding{}, fmt.Errorf("patient record unavailable: %w", patientErr)
			}
			if drugErr != nil {
				return model.Finding{}, fmt.Errorf("drug record unavailable: %w", drugErr)
			}
			return uc.checkInteractions(ctx, patient, drug)
		},
		model.CheckDosage: func(ctx context.Context) (model.Finding, error) {
			if drugErr != nil {
				return model.Finding{}, fmt.Errorf("drug record unavailable: %w", drugErr)
			}
			return uc.checkDosage(drug, requestedDose, requestedQuantity), nil
		},
		model.CheckControlledSubstance: func(ctx context.Context) (model.Finding, error) {
			if drugErr != nil {
				return model.Finding{}, fmt.Errorf("drug record unavailable: %w", drugErr)
			}
			return uc.checkControlledSubstance(drug), nil
		},
	}

	outcomes := probe.Run(ctx, ops)

	return uc.merge(outcomes)
}

// merge applies the severity policy. Findings are emitted in the canonical
// check order no matter which check finished first; an unresolved failure of
// the allergy check blocks (fail-closed), an unresolved interaction failure
// stays visible but does not block on its own.
func (uc *SafetyUsecase) merge(outcomes map[string]probe.Outcome[model.Finding]) *model.SafetyResult {
	findings := make([]model.Finding, 0, len(model.CheckOrder))
	blocked := false
	escalate := false
	degraded := false

	for _, name := range model.CheckOrder {
		out := outcomes[name]

		var finding model.Finding
		if out.Failed() {
			description := fmt.Sprintf("check could not be completed: %v", out.Err)
			if errors.Is(out.Err, breaker.ErrCircuitOpen) {
				// Breaker internals stay in the logs; the caller only
				// sees that the dependency is temporarily unavailable.
				degraded = true
				description = "check could not be completed: dependency temporarily unavailable, please retry"
			}
			finding = model.Finding{
				Check:       name,
				Severity:    model.SeverityError,
				Description: description,
			}
			// Fail-closed for the mandatory allergy check: an
			// unconfirmed allergy is the highest-risk unknown.
			if name == model.CheckAllergy {
				blocked = true
				finding.Recommendation = "BLOCK: allergy status could not be verified"
			}
		} else {
			finding = out.Value
			switch {
			case finding.Severity == model.SeverityMajor &&
				(name == model.CheckAllergy || name == model.CheckInteraction):
				blocked = true
			case finding.Severity == model.SeverityModerate:
				escalate = true
			}
		}

		findings = append(findings, finding)
	}

	if blocked {
		escalate = false
	}

	var recommendations []string
	for _, f := range findings {
		if f.Recommendation != "" {
			recommendations = append(recommendations, f.Recommendation)
		}
	}

	return &model.SafetyResult{
		Passed:             !blocked,
		Blocked:            blocked,
		EscalationRequired: escalate,
		Degraded:           degraded,
		Findings:           findings,
		Recommendations:    recommendations,
	}
}

// checkAllergies looks for a direct ingredient match against the patient's
// recorded allergies, then a drug-class cross-sensitivity.
func (uc *SafetyUsecase) checkAllergies(ctx context.Context, patient *model.PatientRecord, drug *model.DrugInfo) (model.Finding, error) {
	for _, allergy := range patient.Allergies {
		for _, ingredient := range drug.ActiveIngredients {
			if strings.EqualFold(allergy.Substance, ingredient) {
				return model.Finding{
					Check:          model.CheckAllergy,
					Severity:       model.SeverityMajor,
					Description:    fmt.Sprintf("patient allergic to %s", allergy.Substance),
					Recommendation: "BLOCK: Do not dispense",
				}, nil
			}
		}
	}

	if len(patient.Allergies) > 0 {
		description, err := breaker.Execute(ctx, uc.drugBreaker, func(ctx context.Context) (string, error) {
			return uc.drugs.CrossSensitivity(ctx, drug.DrugClass, patient.Allergies)
		})
		if err != nil {
			return model.Finding{}, fmt.Errorf("cross-sensitivity lookup failed: %w", err)
		}
		if description != "" {
			return model.Finding{
				Check:          model.CheckAllergy,
				Severity:       model.SeverityModerate,
				Description:    description,
				Recommendation: "Escalate to physician for review",
			}, nil
		}
	}

	return model.Finding{
		Check:       model.CheckAllergy,
		Severity:    model.SeverityNone,
		Description: "no allergies detected",
	}, nil
}

// checkInteractions queries the knowledge base for interactions with each
// active medication. Patients with no active medications short-circuit to a
// clean finding without querying.
func (uc *SafetyUsecase) checkInteractions(ctx context.Context, patient *model.PatientRecord, drug *model.DrugInfo) (model.Finding, error) {
	if len(patient.ActiveMedications) == 0 {
		return model.Finding{
			Check:       model.CheckInteraction,
			Severity:    model.SeverityNone,
			Description: "no active medications",
		}, nil
	}

	interactions, err := breaker.Execute(ctx, uc.drugBreaker, func(ctx context.Context) ([]model.Interaction, error) {
		return uc.drugs.Interactions(ctx, patient.ActiveMedications, drug.Name)
	})
	if err != nil {
		return model.Finding{}, fmt.Errorf("interaction lookup failed: %w", err)
	}

	var worst *model.Interaction
	for i := range interactions {
		in := &interactions[i]
		if in.Severity == model.SeverityMajor {
			worst = in
			break
		}
		if in.Severity == model.SeverityModerate && worst == nil {
			worst = in
		}
	}

	switch {
	case worst != nil && worst.Severity == model.SeverityMajor:
		return model.Finding{
			Check:          model.CheckInteraction,
			Severity:       model.SeverityMajor,
			Description:    fmt.Sprintf("major interaction with %s: %s", worst.WithDrug, worst.Description),
			Recommendation: "BLOCK: Do not dispense",
		}, nil
	case worst != nil:
		return model.Finding{
			Check:          model.CheckInteraction,
			Severity:       model.SeverityModerate,
			Description:    fmt.Sprintf("moderate interaction with %s: %s", worst.WithDrug, worst.Description),
			Recommendation: "Escalate for physician review",
		}, nil
	}

	return model.Finding{
		Check:       model.CheckInteraction,
		Severity:    model.SeverityNone,
		Description: "no significant interactions",
	}, nil
}

var doseRe = regexp.MustCompile(`^(\d+(?:\.\d+)?)\s*(mg|mcg|g|mL)$`)

// ParseDose splits a dose string into numeric value and unit. A malformed
// dose is a validation failure, not a crash.
func ParseDose(dose string) (float64, string, error) {
	m := doseRe.FindStringSubmatch(dose)
	if m == nil {
		return 0, "", fmt.Errorf("invalid dose format %q", dose)
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, "", fmt.Errorf("invalid dose value %q: %w", m[1], err)
	}
	return value, m[2], nil
}

// checkDosage validates the requested dose against the formulary range.
// Runs without I/O; malformed input yields an error-severity finding.
func (uc *SafetyUsecase) checkDosage(drug *model.DrugInfo, requestedDose string, requestedQuantity int) model.Finding {
	value, unit, err := ParseDose(requestedDose)
	if err != nil {
		return model.Finding{
			Check:          model.CheckDosage,
			Severity:       model.SeverityError,
			Description:    err.Error(),
			Recommendation: "Confirm the requested dose with the prescriber",
		}
	}

	if requestedQuantity <= 0 || requestedQuantity > 365 {
		return model.Finding{
			Check:          model.CheckDosage,
			Severity:       model.SeverityError,
			Description:    fmt.Sprintf("quantity %d outside allowed range 1-365", requestedQuantity),
			Recommendation: "Confirm the requested quantity with the prescriber",
		}
	}

	if value < drug.MinDose || (drug.MaxDose > 0 && value > drug.MaxDose) {
		return model.Finding{
			Check:    model.CheckDosage,
			Severity: model.SeverityModerate,
			Description: fmt.Sprintf("dose %s outside formulary range (%g-%g%s)",
				requestedDose, drug.MinDose, drug.MaxDose, unit),
			Recommendation: "Escalate for physician review",
		}
	}

	return model.Finding{
		Check:       model.CheckDosage,
		Severity:    model.SeverityNone,
		Description: "dose within acceptable range",
	}
}

// checkControlledSubstance maps the regulatory schedule to a finding.
// Schedule II/III requires co-signature; Schedule IV is informational by
// default, escalating only when the policy flag is set.
func (uc *SafetyUsecase) checkControlledSubstance(drug *model.DrugInfo) model.Finding {
	switch drug.Schedule {
	case "II", "III":
		return model.Finding{
			Check:          model.CheckControlledSubstance,
			Severity:       model.SeverityModerate,
			Description:    fmt.Sprintf("controlled substance Schedule %s", drug.Schedule),
			Recommendation: "Requires physician co-signature",
		}
	case "IV":
		if uc.escalateScheduleIV {
			return model.Finding{
				Check:          model.CheckControlledSubstance,
				Severity:       model.SeverityModerate,
				Description:    "controlled substance Schedule IV",
				Recommendation: "Requires physician co-signature",
			}
		}
		return model.Finding{
			Check:       model.CheckControlledSubstance,
			Severity:    model.SeverityMinor,
			Description: "controlled substance Schedule IV (informational)",
		}
	}

	return model.Finding{
		Check:       model.CheckControlledSubstance,
		Severity:    model.SeverityNone,
		Description: "non-controlled",
	}
}
