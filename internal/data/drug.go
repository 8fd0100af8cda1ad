package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"RxGate/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	lru "github.com/hashicorp/golang-lru/v2"
	"gorm.io/gorm"
)

// similarityThreshold is the minimum name-match score below which a lookup
// reports not-found rather than guessing.
const similarityThreshold = 0.75

// drugLRUSize bounds the in-process formulary cache. The formulary is small
// and hot entries repeat heavily within a shift.
const drugLRUSize = 512

// FormularyDrug is the GORM model for the formulary_drugs table.
type FormularyDrug struct {
	ID                int64   `gorm:"primaryKey;column:id"`
	Name              string  `gorm:"column:name;type:varchar(255);not null;uniqueIndex"`
	ActiveIngredients string  `gorm:"column:active_ingredients;type:json"` // JSON array of strings
	DrugClass         string  `gorm:"column:drug_class;type:varchar(128)"`
	MinDose           float64 `gorm:"column:min_dose"`
	MaxDose           float64 `gorm:"column:max_dose"`
	DoseUnit          string  `gorm:"column:dose_unit;type:varchar(16)"`
	Schedule          string  `gorm:"column:schedule;type:varchar(8)"`
}

// TableName specifies the table name for GORM
func (FormularyDrug) TableName() string {
	return "formulary_drugs"
}

// DrugInteraction is the GORM model for the drug_interactions table. Pairs
// are stored once with drug_a < drug_b lexicographically.
type DrugInteraction struct {
	ID          int64  `gorm:"primaryKey;column:id"`
	DrugA       string `gorm:"column:drug_a;type:varchar(255);not null;index:idx_pair"`
	DrugB       string `gorm:"column:drug_b;type:varchar(255);not null;index:idx_pair"`
	Severity    string `gorm:"column:severity;type:varchar(16);not null"`
	Description string `gorm:"column:description;type:text"`
}

// TableName specifies the table name for GORM
func (DrugInteraction) TableName() string {
	return "drug_interactions"
}

// CrossSensitivityRule is the GORM model for the cross_sensitivities table.
type CrossSensitivityRule struct {
	ID          int64  `gorm:"primaryKey;column:id"`
	Allergen    string `gorm:"column:allergen;type:varchar(255);not null;index"`
	DrugClass   string `gorm:"column:drug_class;type:varchar(128);not null"`
	Description string `gorm:"column:description;type:text"`
}

// TableName specifies the table name for GORM
func (CrossSensitivityRule) TableName() string {
	return "cross_sensitivities"
}

// DrugRepo implements biz.DrugRepo against the formulary MySQL store with an
// in-process LRU in front of it.
type DrugRepo struct {
	db     *gorm.DB
	cache  CacheClient
	lru    *lru.Cache[string, *model.DrugInfo]
	logger *log.Helper
}

// NewDrugRepo creates a new drug knowledge repository.
func NewDrugRepo(db *gorm.DB, d *Data, logger log.Logger) (*DrugRepo, error) {
	l, err := lru.New[string, *model.DrugInfo](drugLRUSize)
	if err != nil {
		return nil, fmt.Errorf("create drug lru: %w", err)
	}
	return &DrugRepo{
		db:     db,
		cache:  d.GetCache(),
		lru:    l,
		logger: log.NewHelper(logger),
	}, nil
}

// LookupDrug resolves a free-form drug name. Exact matches are preferred;
// otherwise the best fuzzy candidate wins if it scores at or above the
// similarity threshold.
func (r *DrugRepo) LookupDrug(ctx context.Context, drugName string) (*model.DrugInfo, error) {
	normalized := normalizeDrugName(drugName)
	if normalized == "" {
		return nil, model.ErrDrugNotFound
	}

	if info, ok := r.lru.Get(normalized); ok {
		return info, nil
	}

	cacheKey := BuildCacheKey(CacheKeyDrug, normalized)
	var cached model.DrugInfo
	if err := r.cache.Get(ctx, cacheKey, &cached); err == nil {
		r.lru.Add(normalized, &cached)
		return &cached, nil
	} else if !errors.Is(err, ErrCacheNotFound) {
		r.logger.Warnw("msg", "drug cache read failed", "error", err)
	}

	var row FormularyDrug
	err := r.db.WithContext(ctx).Where("name = ?", normalized).First(&row).Error
	switch {
	case err == nil:
		info, err := r.toDrugInfo(&row, 1.0)
		if err != nil {
			return nil, err
		}
		r.storeLookup(ctx, normalized, cacheKey, info)
		return info, nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, fmt.Errorf("formulary lookup %q: %w", normalized, err)
	}

	best, score, err := r.bestFuzzyMatch(ctx, normalized)
	if err != nil {
		return nil, err
	}
	if best == nil || score < similarityThreshold {
		r.logger.Infow("msg", "drug name below similarity threshold",
			"input", drugName, "best_score", score)
		return nil, model.ErrDrugNotFound
	}

	info, err := r.toDrugInfo(best, score)
	if err != nil {
		return nil, err
	}
	r.storeLookup(ctx, normalized, cacheKey, info)
	return info, nil
}

// storeLookup writes a resolved record through both cache tiers.
func (r *DrugRepo) storeLookup(ctx context.Context, normalized, cacheKey string, info *model.DrugInfo) {
	r.lru.Add(normalized, info)
	if err := r.cache.Set(ctx, cacheKey, info, TTLDrug); err != nil {
		r.logger.Warnw("msg", "drug cache write failed", "error", err)
	}
}

// bestFuzzyMatch scores every formulary name against the input and returns
// the best row. The formulary is small enough to scan names in one query.
func (r *DrugRepo) bestFuzzyMatch(ctx context.Context, normalized string) (*FormularyDrug, float64, error) {
	var names []string
	if err := r.db.WithContext(ctx).Model(&FormularyDrug{}).Pluck("name", &names).Error; err != nil {
		return nil, 0, fmt.Errorf("formulary name scan: %w", err)
	}

	bestScore := 0.0
	bestName := ""
	for _, name := range names {
		if s := nameSimilarity(normalized, name); s > bestScore {
			bestScore = s
			bestName = name
		}
	}
	if bestName == "" {
		return nil, 0, nil
	}

	var row FormularyDrug
	if err := r.db.WithContext(ctx).Where("name = ?", bestName).First(&row).Error; err != nil {
		return nil, 0, fmt.Errorf("formulary lookup %q: %w", bestName, err)
	}
	return &row, bestScore, nil
}

func (r *DrugRepo) toDrugInfo(row *FormularyDrug, matchConfidence float64) (*model.DrugInfo, error) {
	var ingredients []string
	if row.ActiveIngredients != "" {
		if err := json.Unmarshal([]byte(row.ActiveIngredients), &ingredients); err != nil {
			return nil, fmt.Errorf("decode ingredients for %s: %w", row.Name, err)
		}
	}
	return &model.DrugInfo{
		Name:              row.Name,
		ActiveIngredients: ingredients,
		DrugClass:         row.DrugClass,
		MinDose:           row.MinDose,
		MaxDose:           row.MaxDose,
		DoseUnit:          row.DoseUnit,
		Schedule:          row.Schedule,
		MatchConfidence:   matchConfidence,
	}, nil
}

// Interactions returns known interactions between the requested drug and the
// patient's active medications. Pair lookups are cached in Redis.
func (r *DrugRepo) Interactions(ctx context.Context, activeMedications []string, drugName string) ([]model.Interaction, error) {
	requested := normalizeDrugName(drugName)
	var result []model.Interaction

	for _, med := range activeMedications {
		active := normalizeDrugName(med)
		if active == "" || active == requested {
			continue
		}

		a, b := orderPair(requested, active)
		cacheKey := BuildCacheKey(CacheKeyInteraction, a, b)

		var cached []model.Interaction
		if err := r.cache.Get(ctx, cacheKey, &cached); err == nil {
			result = append(result, cached...)
			continue
		}

		var rows []DrugInteraction
		err := r.db.WithContext(ctx).
			Where("drug_a = ? AND drug_b = ?", a, b).
			Find(&rows).Error
		if err != nil {
			return nil, fmt.Errorf("interaction lookup %s/%s: %w", a, b, err)
		}

		pair := make([]model.Interaction, 0, len(rows))
		for _, row := range rows {
			pair = append(pair, model.Interaction{
				WithDrug:    active,
				Severity:    model.Severity(row.Severity),
				Description: row.Description,
			})
		}
		if err := r.cache.Set(ctx, cacheKey, pair, TTLInteraction); err != nil {
			r.logger.Warnw("msg", "interaction cache write failed", "error", err)
		}
		result = append(result, pair...)
	}

	return result, nil
}

// CrossSensitivity checks the drug's class against the allergy list and
// returns a description of the first known cross-sensitivity.
func (r *DrugRepo) CrossSensitivity(ctx context.Context, drugClass string, allergies []model.Allergy) (string, error) {
	if drugClass == "" || len(allergies) == 0 {
		return "", nil
	}

	allergens := make([]string, 0, len(allergies))
	for _, a := range allergies {
		allergens = append(allergens, strings.ToLower(strings.TrimSpace(a.Substance)))
	}

	var rule CrossSensitivityRule
	err := r.db.WithContext(ctx).
		Where("allergen IN ? AND drug_class = ?", allergens, drugClass).
		First(&rule).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("cross-sensitivity lookup: %w", err)
	}
	if rule.Description != "" {
		return rule.Description, nil
	}
	return fmt.Sprintf("possible cross-sensitivity between %s allergy and %s", rule.Allergen, drugClass), nil
}

func normalizeDrugName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// orderPair returns the two names in lexicographic order, matching how
// interaction pairs are stored.
func orderPair(a, b string) (string, string) {
	if a > b {
		return b, a
	}
	return a, b
}

// nameSimilarity scores two normalized drug names in [0,1] using a Dice
// coefficient over character bigrams. Deterministic and cheap, which is all
// a misspelled-drug match needs.
func nameSimilarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	ba := bigrams(a)
	bb := bigrams(b)
	if len(ba) == 0 || len(bb) == 0 {
		return 0
	}
	shared := 0
	for g, n := range ba {
		if m, ok := bb[g]; ok {
			if m < n {
				shared += m
			} else {
				shared += n
			}
		}
	}
	totalA := 0
	for _, n := range ba {
		totalA += n
	}
	totalB := 0
	for _, n := range bb {
		totalB += n
	}
	return 2.0 * float64(shared) / float64(totalA+totalB)
}

func bigrams(s string) map[string]int {
	grams := make(map[string]int)
	runes := []rune(s)
	for i := 0; i+1 < len(runes); i++ {
		grams[string(runes[i:i+2])]++
	}
	return grams
}
