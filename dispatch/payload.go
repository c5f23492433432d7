package dispatch

import (
	"time"

	"github.com/dnldd/fxsignal/shared"
)

// Payload represents the webhook delivery payload for a signal. Consumers
// treat repeated deliveries of the same id as idempotent.
type Payload struct {
	ID             string  `json:"id"`
	StrategyID     string  `json:"strategy_id"`
	Instrument     string  `json:"instrument"`
	Timeframe      string  `json:"timeframe"`
	Direction      string  `json:"direction"`
	EntryPrice     float64 `json:"entry_price"`
	StopLoss       float64 `json:"stop_loss"`
	TakeProfit     float64 `json:"take_profit"`
	ATR            float64 `json:"atr"`
	EmergencyLevel int     `json:"emergency_level"`
	SizeMultiplier float64 `json:"size_multiplier"`
	BarOpenTime    string  `json:"bar_open_time"`
	CreatedAt      string  `json:"created_at"`
}

// NewPayload builds the delivery payload for the provided signal.
func NewPayload(signal *shared.Signal) Payload {
	return Payload{
		ID:             signal.ID,
		StrategyID:     signal.StrategyID,
		Instrument:     signal.Instrument,
		Timeframe:      signal.Timeframe.String(),
		Direction:      signal.Direction.String(),
		EntryPrice:     signal.EntryPrice,
		StopLoss:       signal.StopLoss,
		TakeProfit:     signal.TakeProfit,
		ATR:            signal.ATRAtSignal,
		EmergencyLevel: int(signal.EmergencyLevelAtSignal),
		SizeMultiplier: signal.PositionSizeMultiplier,
		BarOpenTime:    signal.BarOpenTime.UTC().Format(time.RFC3339),
		CreatedAt:      signal.CreatedOn.UTC().Format(time.RFC3339),
	}
}
