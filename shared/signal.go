package shared

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Direction represents the direction of a signal.
type Direction int

const (
	Long Direction = iota
	Short
)

// String stringifies the provided direction.
func (d Direction) String() string {
	switch d {
	case Long:
		return "LONG"
	case Short:
		return "SHORT"
	default:
		return "unknown"
	}
}

// SignalStatus represents the lifecycle status of a signal.
type SignalStatus int

const (
	StatusNew SignalStatus = iota
	StatusDelivered
	StatusSuppressed
	StatusExpired
)

// String stringifies the provided signal status.
func (s SignalStatus) String() string {
	switch s {
	case StatusNew:
		return "NEW"
	case StatusDelivered:
		return "DELIVERED"
	case StatusSuppressed:
		return "SUPPRESSED"
	case StatusExpired:
		return "EXPIRED"
	default:
		return "unknown"
	}
}

// Signal represents an actionable trade signal generated by a strategy.
type Signal struct {
	ID         string
	StrategyID string
	Instrument string
	Timeframe  Timeframe
	Direction  Direction

	EntryPrice  float64
	StopLoss    float64
	TakeProfit  float64
	ATRAtSignal float64

	EmergencyLevelAtSignal EmergencyLevel
	PositionSizeMultiplier float64

	BarOpenTime time.Time
	CreatedOn   time.Time
	Fingerprint string
	Status      SignalStatus
	// SuppressedReason records why a suppressed signal was not delivered.
	SuppressedReason string
}

// RiskReward returns the realized reward to risk ratio of the signal.
func (s *Signal) RiskReward() float64 {
	var reward, risk float64
	switch s.Direction {
	case Long:
		reward = s.TakeProfit - s.EntryPrice
		risk = s.EntryPrice - s.StopLoss
	case Short:
		reward = s.EntryPrice - s.TakeProfit
		risk = s.StopLoss - s.EntryPrice
	}

	if risk <= 0 {
		return 0
	}

	return reward / risk
}

// SignalFingerprint generates the deduplication fingerprint for a signal candidate.
func SignalFingerprint(strategyID string, instrument string, timeframe Timeframe,
	direction Direction, barOpenTime time.Time) string {
	key := fmt.Sprintf("%s|%s|%s|%s|%d", strategyID, instrument, timeframe.String(),
		direction.String(), barOpenTime.UTC().Unix())
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
