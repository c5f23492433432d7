package strategy

import (
	"time"

	"github.com/dnldd/fxsignal/indicator"
	"github.com/dnldd/fxsignal/shared"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// EvaluatorConfig represents the configuration for the signal evaluator.
type EvaluatorConfig struct {
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Evaluator transforms indicator state and strategy parameters into signal
// candidates on bar close.
type Evaluator struct {
	cfg *EvaluatorConfig
}

// NewEvaluator initializes a new signal evaluator.
func NewEvaluator(cfg *EvaluatorConfig) *Evaluator {
	return &Evaluator{cfg: cfg}
}

// crossoverDirection detects a moving average crossover between the previous
// and current bar. Exact equality on both bars resolves to no signal.
func crossoverDirection(state *indicator.State) (shared.Direction, bool) {
	switch {
	case state.PrevFastMA <= state.PrevSlowMA && state.FastMA > state.SlowMA:
		return shared.Long, true
	case state.PrevFastMA >= state.PrevSlowMA && state.FastMA < state.SlowMA:
		return shared.Short, true
	default:
		return 0, false
	}
}

// Evaluate applies the provided strategy to the indicator state, producing at
// most one signal candidate for the current bar. Only warm states from
// complete candles participate.
func (e *Evaluator) Evaluate(state *indicator.State, cfg *Config) (*shared.Signal, bool) {
	if !state.Warm {
		return nil, false
	}

	direction, crossed := crossoverDirection(state)
	if !crossed {
		return nil, false
	}

	if state.ATR < cfg.MinATR {
		e.cfg.Logger.Debug().Msgf("%s: %s crossover on %s %s below minimum atr (%v < %v)",
			cfg.ID, direction.String(), state.Instrument, state.Timeframe.String(),
			state.ATR, cfg.MinATR)
		return nil, false
	}

	entry := state.LastClose

	var stopLoss, takeProfit float64
	switch direction {
	case shared.Long:
		stopLoss = entry - cfg.StopLossATRMult*state.ATR
		takeProfit = entry + cfg.TakeProfitATRMult*state.ATR
	case shared.Short:
		stopLoss = entry + cfg.StopLossATRMult*state.ATR
		takeProfit = entry - cfg.TakeProfitATRMult*state.ATR
	}

	signal := &shared.Signal{
		ID:          uuid.NewString(),
		StrategyID:  cfg.ID,
		Instrument:  state.Instrument,
		Timeframe:   state.Timeframe,
		Direction:   direction,
		EntryPrice:  entry,
		StopLoss:    stopLoss,
		TakeProfit:  takeProfit,
		ATRAtSignal: state.ATR,
		BarOpenTime: state.LastOpenTime,
		CreatedOn:   time.Now().UTC(),
		Status:      shared.StatusNew,
	}
	signal.Fingerprint = shared.SignalFingerprint(cfg.ID, state.Instrument, state.Timeframe,
		direction, state.LastOpenTime)

	if rr := signal.RiskReward(); rr < cfg.MinRiskReward {
		e.cfg.Logger.Debug().Msgf("%s: %s crossover on %s %s below minimum reward to risk (%v < %v)",
			cfg.ID, direction.String(), state.Instrument, state.Timeframe.String(),
			rr, cfg.MinRiskReward)
		return nil, false
	}

	return signal, true
}
