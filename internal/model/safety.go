package model

// Severity is the ordinal outcome of a single safety check:
// none < minor < moderate < major < error.
type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityMinor    Severity = "minor"
	SeverityModerate Severity = "moderate"
	SeverityMajor    Severity = "major"
	// SeverityError marks a check that could not be completed. It is a
	// finding, not a crash; downstream policy decides what it blocks.
	SeverityError Severity = "error"
)

var severityRank = map[Severity]int{
	SeverityNone:     0,
	SeverityMinor:    1,
	SeverityModerate: 2,
	SeverityMajor:    3,
	SeverityError:    4,
}

// AtLeast reports whether s ranks at or above other.
func (s Severity) AtLeast(other Severity) bool {
	return severityRank[s] >= severityRank[other]
}

// Safety check names. Findings are always emitted in this order.
const (
	CheckAllergy             = "allergy"
	CheckInteraction         = "interaction"
	CheckDosage              = "dosage"
	CheckControlledSubstance = "controlled_substance"
)

// CheckOrder is the canonical findings order, independent of the order in
// which concurrently executing checks complete.
var CheckOrder = []string{CheckAllergy, CheckInteraction, CheckDosage, CheckControlledSubstance}

// Finding is the structured outcome of one safety check.
type Finding struct {
	Check          string   `json:"check"`
	Severity       Severity `json:"severity"`
	Description    string   `json:"description"`
	Recommendation string   `json:"recommendation,omitempty"`
}

// SafetyResult is the merged outcome of all safety checks for one request.
// It is immutable after construction.
type SafetyResult struct {
	Passed             bool `json:"passed"`
	Blocked            bool `json:"blocked"`
	EscalationRequired bool `json:"escalation_required"`
	// Degraded is set when a check could not run because a protected
	// dependency is unavailable. The request should be retried, not
	// treated as a clinical verdict.
	Degraded        bool      `json:"degraded,omitempty"`
	Findings        []Finding `json:"findings"`
	Recommendations []string  `json:"recommendations,omitempty"`
}

// Allergy is one recorded patient allergy.
type Allergy struct {
	Substance   string `json:"substance"`
	Criticality string `json:"criticality,omitempty"`
}

// Demographics holds the patient demographics sub-resource.
type Demographics struct {
	PatientID string `json:"patient_id"`
	Name      string `json:"name"`
	BirthDate string `json:"birth_date,omitempty"`
	Gender    string `json:"gender,omitempty"`
}

// PatientRecord is the patient bundle assembled from the EHR store. Any
// sub-resource may be missing after a partial fetch; DataComplete reports
// whether every sub-fetch succeeded.
type PatientRecord struct {
	Demographics      *Demographics      `json:"demographics,omitempty"`
	ActiveMedications []string           `json:"active_medications"`
	Allergies         []Allergy          `json:"allergies"`
	Labs              map[string]float64 `json:"labs"`
	DataComplete      bool               `json:"data_complete"`
}

// DrugInfo is the drug-knowledge record for a formulary entry.
type DrugInfo struct {
	Name              string   `json:"name"`
	ActiveIngredients []string `json:"active_ingredients"`
	DrugClass         string   `json:"drug_class"`
	MinDose           float64  `json:"min_dose"`
	MaxDose           float64  `json:"max_dose"`
	DoseUnit          string   `json:"dose_unit"`
	// Schedule is the regulatory schedule ("II".."V"), empty when the
	// drug is unscheduled.
	Schedule string `json:"schedule,omitempty"`
	// MatchConfidence is the lookup similarity score in [0,1].
	MatchConfidence float64 `json:"match_confidence"`
}

// Interaction is one known drug-drug interaction.
type Interaction struct {
	WithDrug    string   `json:"with_drug"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
}
