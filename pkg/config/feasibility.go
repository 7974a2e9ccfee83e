package config

import "github.com/trialqeb/interpretpipe/pkg/model"

// FeasibilityConfig tunes Stage 11's composite scoring and key-criteria
// selection (spec.md §4.10).
type FeasibilityConfig struct {
	// MaxKeyCriteria bounds key-criteria selection ("≤15").
	MaxKeyCriteria int `yaml:"max_key_criteria"`

	// KillerCriteriaCount is the top-N queryable criteria by elimination
	// rate selected as killer criteria (default N=8).
	KillerCriteriaCount int `yaml:"killer_criteria_count"`

	// CategoryBonus adds a flat bonus to the composite score per clinical
	// category, before selection-rule thresholds are applied.
	CategoryBonus map[model.ClinicalCategory]float64 `yaml:"category_bonus"`

	// CategoryEliminationThreshold is the minimum estimated elimination
	// rate (0..100) a functional/treatment_history/safety_exclusion
	// criterion must clear to be force-included (spec.md §4.10 selection
	// rule 3).
	CategoryEliminationThreshold map[model.ClinicalCategory]float64 `yaml:"category_elimination_threshold"`

	// ConfidenceWidenPct widens a population estimate's confidence band
	// by method (spec.md §4.10: query ±15%, prevalence ±30%, hybrid ±20%).
	ConfidenceWidenPct map[model.PopulationMethod]float64 `yaml:"confidence_widen_pct"`
}

// DefaultFeasibilityConfig returns the built-in feasibility defaults.
func DefaultFeasibilityConfig() *FeasibilityConfig {
	return &FeasibilityConfig{
		MaxKeyCriteria:      15,
		KillerCriteriaCount: 8,
		CategoryBonus: map[model.ClinicalCategory]float64{
			model.CategoryPrimaryAnchor:    10,
			model.CategoryBiomarker:        5,
			model.CategorySafetyExclusion:  3,
		},
		CategoryEliminationThreshold: map[model.ClinicalCategory]float64{
			model.CategoryFunctional:       20,
			model.CategoryTreatmentHistory: 20,
			model.CategorySafetyExclusion:  15,
		},
		ConfidenceWidenPct: map[model.PopulationMethod]float64{
			model.MethodQuery:      15,
			model.MethodPrevalence: 30,
			model.MethodHybrid:     20,
		},
	}
}
