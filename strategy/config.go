package strategy

import (
	"errors"
	"fmt"

	"github.com/dnldd/fxsignal/indicator"
	"github.com/dnldd/fxsignal/shared"
)

// Config represents the parameters of a single crossover strategy.
type Config struct {
	// ID uniquely identifies the strategy.
	ID string
	// Instrument is the canonical instrument symbol the strategy trades.
	Instrument string
	// Timeframe is the bar width the strategy evaluates on.
	Timeframe shared.Timeframe
	// FastPeriod is the fast moving average period.
	FastPeriod int
	// SlowPeriod is the slow moving average period.
	SlowPeriod int
	// ATRPeriod is the average true range period.
	ATRPeriod int
	// StopLossATRMult is the stop loss distance in multiples of the ATR.
	StopLossATRMult float64
	// TakeProfitATRMult is the take profit distance in multiples of the ATR.
	TakeProfitATRMult float64
	// MinATR is the minimum ATR required for a signal.
	MinATR float64
	// MinRiskReward is the minimum realized reward to risk ratio for a signal.
	MinRiskReward float64
}

// Validate asserts the strategy config has sane inputs.
func (cfg *Config) Validate() error {
	var errs error

	if cfg.ID == "" {
		errs = errors.Join(errs, fmt.Errorf("strategy id cannot be an empty string"))
	}
	if cfg.Instrument == "" {
		errs = errors.Join(errs, fmt.Errorf("%s: instrument cannot be an empty string", cfg.ID))
	}
	if cfg.FastPeriod < 2 {
		errs = errors.Join(errs, fmt.Errorf("%s: fast period must be at least 2, got %d",
			cfg.ID, cfg.FastPeriod))
	}
	if cfg.SlowPeriod < 2 {
		errs = errors.Join(errs, fmt.Errorf("%s: slow period must be at least 2, got %d",
			cfg.ID, cfg.SlowPeriod))
	}
	if cfg.ATRPeriod < 2 {
		errs = errors.Join(errs, fmt.Errorf("%s: atr period must be at least 2, got %d",
			cfg.ID, cfg.ATRPeriod))
	}
	if cfg.FastPeriod >= cfg.SlowPeriod {
		errs = errors.Join(errs, fmt.Errorf("%s: fast period %d must be below slow period %d",
			cfg.ID, cfg.FastPeriod, cfg.SlowPeriod))
	}
	if cfg.StopLossATRMult <= 0 {
		errs = errors.Join(errs, fmt.Errorf("%s: stop loss atr multiplier must be positive, got %f",
			cfg.ID, cfg.StopLossATRMult))
	}
	if cfg.TakeProfitATRMult <= 0 {
		errs = errors.Join(errs, fmt.Errorf("%s: take profit atr multiplier must be positive, got %f",
			cfg.ID, cfg.TakeProfitATRMult))
	}
	if cfg.MinATR < 0 {
		errs = errors.Join(errs, fmt.Errorf("%s: minimum atr cannot be negative, got %f",
			cfg.ID, cfg.MinATR))
	}
	if cfg.MinRiskReward <= 0 {
		errs = errors.Join(errs, fmt.Errorf("%s: minimum reward to risk must be positive, got %f",
			cfg.ID, cfg.MinRiskReward))
	}
	if cfg.StopLossATRMult > 0 && cfg.TakeProfitATRMult/cfg.StopLossATRMult < cfg.MinRiskReward {
		errs = errors.Join(errs, fmt.Errorf("%s: configured reward to risk %f is below minimum %f",
			cfg.ID, cfg.TakeProfitATRMult/cfg.StopLossATRMult, cfg.MinRiskReward))
	}

	return errs
}

// Periods returns the indicator lookback periods of the strategy.
func (cfg *Config) Periods() indicator.Periods {
	return indicator.Periods{
		Fast: cfg.FastPeriod,
		Slow: cfg.SlowPeriod,
		ATR:  cfg.ATRPeriod,
	}
}
