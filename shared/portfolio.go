package shared

import (
	"time"
)

// PortfolioState represents the process-wide portfolio valuation state.
type PortfolioState struct {
	// InitialValue is the seeded portfolio value at startup.
	InitialValue float64
	// CurrentValue is the most recently observed portfolio value.
	CurrentValue float64
	// PeakValue is the highest observed portfolio value.
	PeakValue float64
	// Drawdown is 1 - CurrentValue/PeakValue.
	Drawdown float64
	// UpdatedOn is the time of the last portfolio update.
	UpdatedOn time.Time
}

// EmergencyLevel represents the discrete risk regime derived from drawdown.
type EmergencyLevel int

const (
	LevelNormal EmergencyLevel = iota
	LevelCaution
	LevelElevated
	LevelCrisis
	LevelHalt
)

// emergencyThresholds are the drawdown thresholds for each level above normal,
// inclusive on the way up.
var emergencyThresholds = [4]float64{0.10, 0.15, 0.20, 0.25}

// sizeMultipliers are the position size multipliers per emergency level.
var sizeMultipliers = [5]float64{1.0, 0.8, 0.6, 0.3, 0.0}

// String stringifies the provided emergency level.
func (l EmergencyLevel) String() string {
	switch l {
	case LevelNormal:
		return "normal"
	case LevelCaution:
		return "caution"
	case LevelElevated:
		return "elevated"
	case LevelCrisis:
		return "crisis"
	case LevelHalt:
		return "halt"
	default:
		return "unknown"
	}
}

// SizeMultiplier returns the position size multiplier for the level.
func (l EmergencyLevel) SizeMultiplier() float64 {
	if l < LevelNormal || l > LevelHalt {
		return 0
	}

	return sizeMultipliers[l]
}

// DowngradeThreshold returns the drawdown below which the level may recede.
func (l EmergencyLevel) DowngradeThreshold() float64 {
	if l <= LevelNormal || l > LevelHalt {
		return 0
	}

	return emergencyThresholds[l-1]
}

// EmergencyLevelFor derives the emergency level for the provided drawdown.
func EmergencyLevelFor(drawdown float64) EmergencyLevel {
	level := LevelNormal
	for idx := range emergencyThresholds {
		if drawdown >= emergencyThresholds[idx] {
			level = EmergencyLevel(idx + 1)
		}
	}

	return level
}

// EmergencyTransition represents a logged change of emergency level.
type EmergencyTransition struct {
	From      EmergencyLevel
	To        EmergencyLevel
	Drawdown  float64
	CreatedOn time.Time
}
