package data

import (
	"context"
	"errors"
	"fmt"

	"RxGate/internal/model"
	"RxGate/pkg/probe"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

// PatientDemographics is the GORM model for the patient_demographics table.
type PatientDemographics struct {
	PatientID string `gorm:"primaryKey;column:patient_id;type:varchar(16)"`
	Name      string `gorm:"column:name;type:varchar(255);not null"`
	BirthDate string `gorm:"column:birth_date;type:varchar(10)"`
	Gender    string `gorm:"column:gender;type:varchar(16)"`
}

// TableName specifies the table name for GORM
func (PatientDemographics) TableName() string {
	return "patient_demographics"
}

// PatientMedication is the GORM model for the patient_medications table.
type PatientMedication struct {
	ID        int64  `gorm:"primaryKey;column:id"`
	PatientID string `gorm:"column:patient_id;type:varchar(16);not null;index"`
	DrugName  string `gorm:"column:drug_name;type:varchar(255);not null"`
	Active    bool   `gorm:"column:active;default:true"`
}

// TableName specifies the table name for GORM
func (PatientMedication) TableName() string {
	return "patient_medications"
}

// PatientAllergy is the GORM model for the patient_allergies table.
type PatientAllergy struct {
	ID          int64  `gorm:"primaryKey;column:id"`
	PatientID   string `gorm:"column:patient_id;type:varchar(16);not null;index"`
	Substance   string `gorm:"column:substance;type:varchar(255);not null"`
	Criticality string `gorm:"column:criticality;type:varchar(32)"`
}

// TableName specifies the table name for GORM
func (PatientAllergy) TableName() string {
	return "patient_allergies"
}

// PatientLab is the GORM model for the patient_labs table. Results are keyed
// by LOINC code; only the most recent value per code is returned.
type PatientLab struct {
	ID        int64   `gorm:"primaryKey;column:id"`
	PatientID string  `gorm:"column:patient_id;type:varchar(16);not null;index"`
	LoincCode string  `gorm:"column:loinc_code;type:varchar(16);not null"`
	Value     float64 `gorm:"column:value;not null"`
}

// TableName specifies the table name for GORM
func (PatientLab) TableName() string {
	return "patient_labs"
}

// PatientRepo implements biz.PatientRepo against the EHR MySQL store. The
// four sub-resources are fetched concurrently and a failing sub-resource
// clears DataComplete instead of failing the bundle.
type PatientRepo struct {
	db     *gorm.DB
	cache  CacheClient
	logger *log.Helper
}

// NewPatientRepo creates a new patient repository.
func NewPatientRepo(db *gorm.DB, d *Data, logger log.Logger) *PatientRepo {
	return &PatientRepo{
		db:     db,
		cache:  d.GetCache(),
		logger: log.NewHelper(logger),
	}
}

// FetchPatient assembles the patient bundle. Complete bundles are cached;
// partial ones are not, so the missing sub-resource is retried next time.
func (r *PatientRepo) FetchPatient(ctx context.Context, patientID string) (*model.PatientRecord, error) {
	cacheKey := BuildCacheKey(CacheKeyPatient, patientID)

	var cached model.PatientRecord
	if err := r.cache.Get(ctx, cacheKey, &cached); err == nil {
		return &cached, nil
	} else if !errors.Is(err, ErrCacheNotFound) {
		r.logger.Warnw("msg", "patient cache read failed", "error", err)
	}

	outcomes := probe.Run(ctx, map[string]probe.Op[any]{
		"demographics": func(ctx context.Context) (any, error) {
			return r.fetchDemographics(ctx, patientID)
		},
		"medications": func(ctx context.Context) (any, error) {
			return r.fetchMedications(ctx, patientID)
		},
		"allergies": func(ctx context.Context) (any, error) {
			return r.fetchAllergies(ctx, patientID)
		},
		"labs": func(ctx context.Context) (any, error) {
			return r.fetchLabs(ctx, patientID)
		},
	})

	record := &model.PatientRecord{DataComplete: true}
	failures := 0
	for name, out := range outcomes {
		if out.Failed() {
			failures++
			record.DataComplete = false
			r.logger.Warnw("msg", "patient sub-resource fetch failed",
				"patient_id", patientID, "resource", name, "error", out.Err)
			continue
		}
		switch name {
		case "demographics":
			record.Demographics = out.Value.(*model.Demographics)
		case "medications":
			record.ActiveMedications = out.Value.([]string)
		case "allergies":
			record.Allergies = out.Value.([]model.Allergy)
		case "labs":
			record.Labs = out.Value.(map[string]float64)
		}
	}

	// Every sub-fetch failing means the store itself is down.
	if failures == len(outcomes) {
		return nil, fmt.Errorf("patient store unavailable for %s: %w", patientID, outcomes["demographics"].Err)
	}

	if record.Demographics == nil && record.DataComplete {
		return nil, fmt.Errorf("patient %s not found", patientID)
	}

	if record.DataComplete {
		if err := r.cache.Set(ctx, cacheKey, record, TTLPatient); err != nil {
			r.logger.Warnw("msg", "patient cache write failed", "error", err)
		}
	}

	return record, nil
}

func (r *PatientRepo) fetchDemographics(ctx context.Context, patientID string) (*model.Demographics, error) {
	var row PatientDemographics
	err := r.db.WithContext(ctx).Where("patient_id = ?", patientID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("patient %s not found", patientID)
	}
	if err != nil {
		return nil, err
	}
	return &model.Demographics{
		PatientID: row.PatientID,
		Name:      row.Name,
		BirthDate: row.BirthDate,
		Gender:    row.Gender,
	}, nil
}

func (r *PatientRepo) fetchMedications(ctx context.Context, patientID string) ([]string, error) {
	var rows []PatientMedication
	err := r.db.WithContext(ctx).
		Where("patient_id = ? AND active = ?", patientID, true).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	meds := make([]string, 0, len(rows))
	for _, row := range rows {
		meds = append(meds, row.DrugName)
	}
	return meds, nil
}

func (r *PatientRepo) fetchAllergies(ctx context.Context, patientID string) ([]model.Allergy, error) {
	var rows []PatientAllergy
	err := r.db.WithContext(ctx).Where("patient_id = ?", patientID).Find(&rows).Error
	if err != nil {
		return nil, err
	}
	allergies := make([]model.Allergy, 0, len(rows))
	for _, row := range rows {
		allergies = append(allergies, model.Allergy{
			Substance:   row.Substance,
			Criticality: row.Criticality,
		})
	}
	return allergies, nil
}

// monitoredLoincCodes are the lab results the safety checks care about:
// serum creatinine (2160-0) and ALT (38483-4). Everything else in the chart
// stays out of the bundle.
var monitoredLoincCodes = []string{"2160-0", "38483-4"}

func (r *PatientRepo) fetchLabs(ctx context.Context, patientID string) (map[string]float64, error) {
	var rows []PatientLab
	err := r.db.WithContext(ctx).
		Where("patient_id = ? AND loinc_code IN ?", patientID, monitoredLoincCodes).
		Order("id DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return latestLabValues(rows), nil
}

// latestLabValues collapses lab rows, newest first, to the most recent value
// per monitored LOINC code.
func latestLabValues(rows []PatientLab) map[string]float64 {
	monitored := make(map[string]bool, len(monitoredLoincCodes))
	for _, code := range monitoredLoincCodes {
		monitored[code] = true
	}
	labs := make(map[string]float64, len(monitoredLoincCodes))
	for _, row := range rows {
		if !monitored[row.LoincCode] {
			continue
		}
		if _, ok := labs[row.LoincCode]; !ok {
			labs[row.LoincCode] = row.Value
		}
	}
	return labs
}
