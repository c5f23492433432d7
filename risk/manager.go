package risk

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dnldd/fxsignal/shared"
	"github.com/rs/zerolog"
)

const (
	// defaultDowngradeDwell is the period drawdown must stay below the lower
	// threshold before the emergency level recedes.
	defaultDowngradeDwell = time.Minute * 15
	// crisisMinRiskReward is the minimum reward to risk admitted at crisis level.
	crisisMinRiskReward = 3.0
	// crisisMinATRFactor scales a strategy's minimum atr for crisis admission.
	crisisMinATRFactor = 1.5
	// stressMinRiskReward is the minimum reward to risk admitted under an
	// active stress event.
	stressMinRiskReward = 2.0
)

// ManagerConfig represents the configuration for the risk manager.
type ManagerConfig struct {
	// InitialValue seeds the portfolio value.
	InitialValue float64
	// Enabled toggles the emergency framework. When disabled all signals are
	// accepted at full size.
	Enabled bool
	// DowngradeDwell is the sustained period below the lower threshold
	// required before the emergency level recedes.
	DowngradeDwell time.Duration
	// PersistTransition persists an emergency level transition.
	PersistTransition func(transition shared.EmergencyTransition)
	// PersistStressEvent persists a detected stress event.
	PersistStressEvent func(event shared.StressEvent)
	// StressShortWindow is the number of returns in the short volatility window.
	StressShortWindow int
	// StressBaselineWindow is the number of returns in the baseline
	// volatility window.
	StressBaselineWindow int
	// StressExpiry is the active window of a detected stress event.
	StressExpiry time.Duration
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Validate asserts the config has sane inputs.
func (cfg *ManagerConfig) Validate() error {
	var errs error

	if cfg.InitialValue <= 0 {
		errs = errors.Join(errs, fmt.Errorf("initial portfolio value must be positive, got %f",
			cfg.InitialValue))
	}
	if cfg.PersistTransition == nil {
		errs = errors.Join(errs, fmt.Errorf("persist transition function cannot be nil"))
	}
	if cfg.PersistStressEvent == nil {
		errs = errors.Join(errs, fmt.Errorf("persist stress event function cannot be nil"))
	}
	if cfg.Logger == nil {
		errs = errors.Join(errs, fmt.Errorf("logger cannot be nil"))
	}

	return errs
}

// Manager tracks portfolio value and drawdown, derives the emergency level,
// vetoes or resizes signals and detects stress events. It is never bypassed:
// internal errors fail closed by rejecting the signal under evaluation.
type Manager struct {
	cfg *ManagerConfig

	mtx        sync.Mutex
	portfolio  shared.PortfolioState
	level      shared.EmergencyLevel
	belowSince time.Time
	stress     *stressMonitor

	health shared.Health
	now    func() time.Time
}

// NewManager initializes a new risk manager.
func NewManager(cfg *ManagerConfig) (*Manager, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	if cfg.DowngradeDwell == 0 {
		cfg.DowngradeDwell = defaultDowngradeDwell
	}

	now := time.Now().UTC()
	m := &Manager{
		cfg: cfg,
		portfolio: shared.PortfolioState{
			InitialValue: cfg.InitialValue,
			CurrentValue: cfg.InitialValue,
			PeakValue:    cfg.InitialValue,
			UpdatedOn:    now,
		},
		now: func() time.Time { return time.Now().UTC() },
	}
	m.stress = newStressMonitor(cfg)

	return m, nil
}

// UpdatePortfolio updates the current and peak portfolio values, recomputes
// drawdown and advances the emergency level.
func (m *Manager) UpdatePortfolio(currentValue float64) error {
	if currentValue < 0 {
		m.health.RecordPermanentFail()
		return fmt.Errorf("portfolio value cannot be negative, got %f", currentValue)
	}

	m.mtx.Lock()
	defer m.mtx.Unlock()

	now := m.now()
	m.portfolio.CurrentValue = currentValue
	if currentValue > m.portfolio.PeakValue {
		m.portfolio.PeakValue = currentValue
	}
	m.portfolio.Drawdown = 1 - m.portfolio.CurrentValue/m.portfolio.PeakValue
	m.portfolio.UpdatedOn = now

	m.advanceLevel(now)
	m.health.RecordSuccess()

	return nil
}

// advanceLevel applies the hysteretic emergency level transitions for the
// current drawdown. Upgrades are immediate, downgrades require the drawdown
// to stay below the lower threshold for the configured dwell, and the halt
// level is sticky until an operator reset. Callers must hold the mutex.
func (m *Manager) advanceLevel(now time.Time) {
	target := shared.EmergencyLevelFor(m.portfolio.Drawdown)

	switch {
	case target > m.level:
		m.transition(target, now)
		m.belowSince = time.Time{}

	case target < m.level:
		if m.level == shared.LevelHalt {
			// Sticky until operator reset.
			return
		}

		if m.portfolio.Drawdown >= m.level.DowngradeThreshold() {
			m.belowSince = time.Time{}
			return
		}

		if m.belowSince.IsZero() {
			m.belowSince = now
			return
		}

		if now.Sub(m.belowSince) >= m.cfg.DowngradeDwell {
			m.transition(target, now)
			m.belowSince = time.Time{}
		}

	default:
		m.belowSince = time.Time{}
	}
}

// transition moves to the provided emergency level, logging and persisting
// the change. Callers must hold the mutex.
func (m *Manager) transition(to shared.EmergencyLevel, now time.Time) {
	from := m.level
	m.level = to

	m.cfg.Logger.Info().Msgf("emergency level transition: %s -> %s (drawdown %.4f)",
		from.String(), to.String(), m.portfolio.Drawdown)
	m.cfg.PersistTransition(shared.EmergencyTransition{
		From:      from,
		To:        to,
		Drawdown:  m.portfolio.Drawdown,
		CreatedOn: now,
	})
}

// Reset clears a sticky halt level, recomputing the level from the current
// drawdown. It is the explicit operator acknowledgement required to resume
// signal generation after an emergency stop.
func (m *Manager) Reset() {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	if m.level != shared.LevelHalt {
		return
	}

	m.transition(shared.EmergencyLevelFor(m.portfolio.Drawdown), m.now())
	m.belowSince = time.Time{}
}

// Portfolio returns a snapshot of the portfolio state.
func (m *Manager) Portfolio() shared.PortfolioState {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	return m.portfolio
}

// Level returns the current emergency level.
func (m *Manager) Level() shared.EmergencyLevel {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	return m.level
}

// Validate gates and sizes the provided signal against the current emergency
// level and active stress events. minATR is the evaluating strategy's
// minimum atr parameter. Internal errors fail closed.
func (m *Manager) Validate(signal *shared.Signal, minATR float64) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			m.health.RecordPermanentFail()
			m.cfg.Logger.Error().Msgf("risk validation panic, failing closed: %v", r)
			outcome = rejected("risk_internal_error")
		}
	}()

	if signal == nil {
		m.health.RecordPermanentFail()
		return rejected("risk_internal_error")
	}

	m.mtx.Lock()
	level := m.level
	m.mtx.Unlock()

	outcome = m.decide(level, signal, minATR)
	outcome.Level = level

	return outcome
}

// decide applies the gating rules for the provided emergency level.
func (m *Manager) decide(level shared.EmergencyLevel, signal *shared.Signal, minATR float64) Outcome {
	if !m.cfg.Enabled {
		m.health.RecordSuccess()
		return accepted()
	}

	rr := signal.RiskReward()

	switch level {
	case shared.LevelHalt:
		m.health.RecordSuccess()
		return rejected("emergency_stop")

	case shared.LevelCrisis:
		if rr >= crisisMinRiskReward && signal.ATRAtSignal >= crisisMinATRFactor*minATR {
			m.health.RecordSuccess()
			return resized(level.SizeMultiplier())
		}
		m.health.RecordSuccess()
		return rejected("crisis_rr_insufficient")

	case shared.LevelCaution, shared.LevelElevated:
		if _, active := m.stress.active(signal.Instrument, m.now()); active {
			if rr < stressMinRiskReward {
				m.health.RecordSuccess()
				return rejected("stress_rr_insufficient")
			}
		}
		m.health.RecordSuccess()
		return resized(level.SizeMultiplier())

	default:
		m.health.RecordSuccess()
		return accepted()
	}
}

// MonitorStress folds the provided close into the volatility windows for the
// instrument and timeframe, emitting a stress event when the short window
// volatility spikes against the baseline.
func (m *Manager) MonitorStress(instrument string, timeframe shared.Timeframe, close float64) {
	m.stress.observe(instrument, timeframe, close, m.now())
}

// ActiveStress returns the unexpired stress event for the provided
// instrument, if any.
func (m *Manager) ActiveStress(instrument string) (shared.StressEvent, bool) {
	return m.stress.active(instrument, m.now())
}

// Health returns a snapshot of the risk manager health counters.
func (m *Manager) Health() shared.HealthSnapshot {
	return m.health.Snapshot()
}
