package position

// Limits are the exposure caps and exit thresholds in force for a cycle.
// Exposure fields are fractions of account equity (0.08 = 8%); fields ending
// in Pct are percent units, matching indicator momentum and brokerage P&L
// figures.
type Limits struct {
	// MaxPositionExposure is the per-symbol ceiling. Steps may land exactly
	// on it; anything past it is a violation.
	MaxPositionExposure float64 `json:"max_position_exposure"`
	// StepExposure is the size of one entry or add, before whole-share
	// flooring.
	StepExposure float64 `json:"step_exposure"`
	// MaxSideExposure and MaxTotalExposure are hard walls: a step whose
	// projected exposure reaches either is rejected, never clipped.
	MaxSideExposure  float64 `json:"max_side_exposure"`
	MaxTotalExposure float64 `json:"max_total_exposure"`
	// FreezeLevel, as a fraction of MaxTotalExposure, stops all new entries
	// and adds once total exposure crosses it.
	FreezeLevel float64 `json:"freeze_level"`

	// EntryScoreFloor doubles as the weak-read bar for the ranking-drop
	// exit rule. ExitScoreFloor closes a position outright.
	EntryScoreFloor  float64 `json:"entry_score_floor"`
	ExitScoreFloor   float64 `json:"exit_score_floor"`
	OverexposedScore float64 `json:"overexposed_score"`

	MomentumExitPct float64 `json:"momentum_exit_pct"`
	StopLossPct     float64 `json:"stop_loss_pct"`
	AddBlockPLPct   float64 `json:"add_block_pl_pct"`
	StagnationPct   float64 `json:"stagnation_pct"`
	MaxAgeDays      int     `json:"max_age_days"`
	TopWindow       int     `json:"top_window"`
}

// DefaultLimits mirrors the shipped risk profile.
func DefaultLimits() Limits {
	return Limits{
		MaxPositionExposure: 0.08,
		StepExposure:        0.02,
		MaxSideExposure:     0.80,
		MaxTotalExposure:    1.60,
		FreezeLevel:         0.90,
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
