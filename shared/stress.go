package shared

import (
	"time"
)

const (
	// StressSeverityThreshold is the volatility ratio at which a stress event is detected.
	StressSeverityThreshold = 2.0
	// CriticalSeverityThreshold is the volatility ratio at which a stress event is critical.
	CriticalSeverityThreshold = 3.0
)

// StressKind represents the kind of detected stress event.
type StressKind int

const (
	VolatilitySpike StressKind = iota
	PriceGap
	CorrelationBreak
	Liquidity
)

// String stringifies the provided stress kind.
func (k StressKind) String() string {
	switch k {
	case VolatilitySpike:
		return "VOL_SPIKE"
	case PriceGap:
		return "GAP"
	case CorrelationBreak:
		return "CORRELATION_BREAK"
	case Liquidity:
		return "LIQUIDITY"
	default:
		return "unknown"
	}
}

// StressEvent represents a detected volatility or structural anomaly for an instrument.
type StressEvent struct {
	Instrument string
	Timeframe  Timeframe
	// Severity is the ratio of current volatility to baseline volatility.
	Severity   float64
	Kind       StressKind
	DetectedOn time.Time
}

// Critical reports whether the stress event is of critical severity.
func (e *StressEvent) Critical() bool {
	return e.Severity >= CriticalSeverityThreshold
}
