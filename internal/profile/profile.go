// Package profile holds the risk profile: every tunable the decision pass
// consults, loaded from a YAML file that operators may edit while the
// process runs. The registry revalidates on every change and keeps the last
// good profile when a reload fails.
package profile

import (
	"fmt"

	"swell/internal/position"
	"swell/internal/rank"
)

// Profile is the full tunable set. Exposure fields are fractions of account
// equity; Pct fields are percent units. The schema requires every field, so
// a profile file is always explicit about the risk it configures.
type Profile struct {
	MaxPositionExposure float64 `yaml:"max_position_exposure" json:"max_position_exposure"`
	StepExposure        float64 `yaml:"step_exposure" json:"step_exposure"`
	MaxSideExposure     float64 `yaml:"max_side_exposure" json:"max_side_exposure"`
	MaxTotalExposure    float64 `yaml:"max_total_exposure" json:"max_total_exposure"`
	FreezeLevel         float64 `yaml:"freeze_level" json:"freeze_level"`

	EntryPercentile float64 `yaml:"entry_percentile" json:"entry_percentile"`
	TightenLevel    float64 `yaml:"tighten_level" json:"tighten_level"`
	TightenMargin   float64 `yaml:"tighten_margin" json:"tighten_margin"`

	EntryScoreFloor  float64 `yaml:"entry_score_floor" json:"entry_score_floor"`
	ExitScoreFloor   float64 `yaml:"exit_score_floor" json:"exit_score_floor"`
	OverexposedScore float64 `yaml:"overexposed_score" json:"overexposed_score"`

	MomentumExitPct float64 `yaml:"momentum_exit_pct" json:"momentum_exit_pct"`
	StopLossPct     float64 `yaml:"stop_loss_pct" json:"stop_loss_pct"`
	AddBlockPLPct   float64 `yaml:"add_block_pl_pct" json:"add_block_pl_pct"`
	StagnationPct   float64 `yaml:"stagnation_pct" json:"stagnation_pct"`
	MaxAgeDays      int     `yaml:"max_age_days" json:"max_age_days"`
	TopWindow       int     `yaml:"top_window" json:"top_window"`
}

// Default mirrors configs/risk_profile.yaml as shipped.
func Default() Profile {
	return Profile{
		MaxPositionExposure: 0.08,
		StepExposure:        0.02,
		MaxSideExposure:     0.80,
		MaxTotalExposure:    1.60,
		FreezeLevel:         0.90,
		EntryPercentile:     0.70,
		TightenLevel:        0.70,
		TightenMargin:       0.10,
		EntryScoreFloor:     0.40,
		ExitScoreFloor:      0.35,
		OverexposedScore:    0.50,
		MomentumExitPct:     2.0,
		StopLossPct:         -5.0,
		AddBlockPLPct:       -2.0,
		StagnationPct:       1.0,
		MaxAgeDays:          5,
		TopWindow:           10,
	}
}

// Limits maps the profile onto the book's cap set.
func (p Profile) Limits() position.Limits {
	return position.Limits{
		MaxPositionExposure: p.MaxPositionExposure,
		StepExposure:        p.StepExposure,
		MaxSideExposure:     p.MaxSideExposure,
		MaxTotalExposure:    p.MaxTotalExposure,
		FreezeLevel:         p.FreezeLevel,
		EntryScoreFloor:     p.EntryScoreFloor,
		ExitScoreFloor:      p.ExitScoreFloor,
		OverexposedScore:    p.OverexposedScore,
		MomentumExitPct:     p.MomentumExitPct,
		StopLossPct:         p.StopLossPct,
		AddBlockPLPct:       p.AddBlockPLPct,
		StagnationPct:       p.StagnationPct,
		MaxAgeDays:          p.MaxAgeDays,
		TopWindow:           p.TopWindow,
	}
}

// Thresholds maps the profile onto the ranking gates.
func (p Profile) Thresholds() rank.Thresholds {
	return rank.Thresholds{
		EntryPercentile: p.EntryPercentile,
		ScoreFloor:      p.EntryScoreFloor,
		TightenLevel:    p.TightenLevel,
		TightenMargin:   p.TightenMargin,
	}
}

// validate covers the cross-field constraints the JSON schema cannot state.
func (p Profile) validate() error {
	if p.StepExposure > p.MaxPositionExposure {
		return fmt.Errorf("step_exposure %.4f exceeds max_position_exposure %.4f", p.StepExposure, p.MaxPositionExposure)
	}
	if p.MaxSideExposure > p.MaxTotalExposure {
		return fmt.Errorf("max_side_exposure %.4f exceeds max_total_exposure %.4f", p.MaxSideExposure, p.MaxTotalExposure)
	}
	if p.ExitScoreFloor > p.EntryScoreFloor {
		return fmt.Errorf("exit_score_floor %.4f exceeds entry_score_floor %.4f", p.ExitScoreFloor, p.EntryScoreFloor)
	}
	return nil
}
