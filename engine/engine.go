package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dnldd/fxsignal/dedup"
	"github.com/dnldd/fxsignal/indicator"
	"github.com/dnldd/fxsignal/risk"
	"github.com/dnldd/fxsignal/shared"
	"github.com/dnldd/fxsignal/store"
	"github.com/dnldd/fxsignal/strategy"
	"github.com/rs/zerolog"
)

const (
	// appendRetryLimit bounds retries of transient signal append errors
	// before the store is considered lost.
	appendRetryLimit = 5
	// appendRetryDelay is the pause between signal append retries.
	appendRetryDelay = time.Second
)

// EngineConfig represents the configuration for the evaluation engine.
type EngineConfig struct {
	// Instruments are the tracked instrument symbols.
	Instruments []string
	// Timeframes are the tracked bar widths.
	Timeframes []shared.Timeframe
	// Cache is the indicator cache.
	Cache *indicator.Cache
	// Registry owns the active strategies.
	Registry *strategy.Registry
	// Evaluator produces signal candidates.
	Evaluator *strategy.Evaluator
	// Risk gates and sizes signal candidates.
	Risk *risk.Manager
	// Dedup suppresses duplicate signal candidates.
	Dedup *dedup.Deduplicator
	// Store is the durable signal store.
	Store store.SignalStorer
	// Subscribe registers a candle subscription for a lane.
	Subscribe func(instrument string, timeframe shared.Timeframe, lastOpenTime time.Time) (<-chan shared.Candlestick, error)
	// Backfill fetches historical candles for indicator warm up.
	Backfill func(instrument string, timeframe shared.Timeframe, from time.Time, to time.Time) ([]shared.Candlestick, error)
	// PersistCandle stores a complete candle for audit and warm restarts.
	PersistCandle func(ctx context.Context, candle *shared.Candlestick) error
	// NotifyDispatcher nudges the delivery dispatcher after a signal commit.
	NotifyDispatcher func()
	// ReportFatal surfaces an unrecoverable error to the orchestrator.
	ReportFatal func(err error)
	// AppendRetryDelay is the pause between transient signal append retries.
	AppendRetryDelay time.Duration
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Validate asserts the config has sane inputs.
func (cfg *EngineConfig) Validate() error {
	var errs error

	if len(cfg.Instruments) == 0 {
		errs = errors.Join(errs, fmt.Errorf("no instruments provided for the engine"))
	}
	if len(cfg.Timeframes) == 0 {
		errs = errors.Join(errs, fmt.Errorf("no timeframes provided for the engine"))
	}
	if cfg.Cache == nil {
		errs = errors.Join(errs, fmt.Errorf("indicator cache cannot be nil"))
	}
	if cfg.Registry == nil {
		errs = errors.Join(errs, fmt.Errorf("strategy registry cannot be nil"))
	}
	if cfg.Evaluator == nil {
		errs = errors.Join(errs, fmt.Errorf("evaluator cannot be nil"))
	}
	if cfg.Risk == nil {
		errs = errors.Join(errs, fmt.Errorf("risk manager cannot be nil"))
	}
	if cfg.Dedup == nil {
		errs = errors.Join(errs, fmt.Errorf("deduplicator cannot be nil"))
	}
	if cfg.Store == nil {
		errs = errors.Join(errs, fmt.Errorf("store cannot be nil"))
	}
	if cfg.Subscribe == nil {
		errs = errors.Join(errs, fmt.Errorf("subscribe function cannot be nil"))
	}
	if cfg.Backfill == nil {
		errs = errors.Join(errs, fmt.Errorf("backfill function cannot be nil"))
	}
	if cfg.PersistCandle == nil {
		errs = errors.Join(errs, fmt.Errorf("persist candle function cannot be nil"))
	}
	if cfg.NotifyDispatcher == nil {
		errs = errors.Join(errs, fmt.Errorf("notify dispatcher function cannot be nil"))
	}
	if cfg.ReportFatal == nil {
		errs = errors.Join(errs, fmt.Errorf("report fatal function cannot be nil"))
	}
	if cfg.Logger == nil {
		errs = errors.Join(errs, fmt.Errorf("logger cannot be nil"))
	}

	return errs
}

// lane owns the serial evaluation path for one instrument and timeframe.
// Candle order within a lane is evaluation order is signal creation order.
type lane struct {
	instrument string
	timeframe  shared.Timeframe
	strategies []*strategy.Config
}

// Engine drives the evaluation pipeline: one serial lane per instrument and
// timeframe, parallel across lanes.
type Engine struct {
	cfg    *EngineConfig
	lanes  []*lane
	health shared.Health
	wg     sync.WaitGroup
}

// NewEngine initializes a new evaluation engine.
func NewEngine(cfg *EngineConfig) (*Engine, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	if cfg.AppendRetryDelay == 0 {
		cfg.AppendRetryDelay = appendRetryDelay
	}

	lanes := make([]*lane, 0, len(cfg.Instruments)*len(cfg.Timeframes))
	for _, instrument := range cfg.Instruments {
		for _, timeframe := range cfg.Timeframes {
			strategies := cfg.Registry.ActiveFor(instrument, timeframe)
			if len(strategies) == 0 {
				continue
			}

			lanes = append(lanes, &lane{
				instrument: instrument,
				timeframe:  timeframe,
				strategies: strategies,
			})
		}
	}

	return &Engine{
		cfg:   cfg,
		lanes: lanes,
	}, nil
}

// warmUp bulk loads recent history into the lane's indicator window and
// returns the open time of the last ingested candle.
func (e *Engine) warmUp(l *lane) (time.Time, error) {
	periods := make([]indicator.Periods, 0, len(l.strategies))
	lookback := 0
	for idx := range l.strategies {
		periods = append(periods, l.strategies[idx].Periods())
		lookback = max(lookback, l.strategies[idx].SlowPeriod, l.strategies[idx].ATRPeriod)
	}

	e.cfg.Cache.Ensure(l.instrument, l.timeframe, periods)

	// Twice the warm up requirement covers weekend gaps in the feed.
	bars := (lookback + 1) * 2
	from := time.Now().UTC().Add(-time.Duration(bars) * l.timeframe.Duration())
	history, err := e.cfg.Backfill(l.instrument, l.timeframe, from, time.Time{})
	if err != nil {
		return time.Time{}, fmt.Errorf("backfilling warm up history: %w", err)
	}

	err = e.cfg.Cache.WarmUp(l.instrument, l.timeframe, history)
	if err != nil {
		return time.Time{}, err
	}

	return e.cfg.Cache.LastOpenTime(l.instrument, l.timeframe)
}

// processCandle advances the lane's indicator state with the provided
// complete candle and runs each active strategy against the updated state.
func (e *Engine) processCandle(ctx context.Context, l *lane, candle *shared.Candlestick) {
	err := e.cfg.Cache.OnCandle(candle)
	if err != nil {
		e.health.RecordPermanentFail()
		e.cfg.Logger.Error().Msgf("updating indicator state: %v", err)
		return
	}

	err = e.cfg.PersistCandle(ctx, candle)
	if err != nil {
		// Candle audit persistence is best effort, the window is rebuildable.
		e.cfg.Logger.Warn().Msgf("persisting candle: %v", err)
	}

	e.cfg.Risk.MonitorStress(l.instrument, l.timeframe, candle.Close)

	for _, strat := range l.strategies {
		state, err := e.cfg.Cache.StateFor(l.instrument, l.timeframe, strat.Periods())
		if err != nil {
			e.health.RecordPermanentFail()
			e.cfg.Logger.Error().Msgf("fetching indicator state: %v", err)
			continue
		}

		signal, ok := e.cfg.Evaluator.Evaluate(&state, strat)
		if !ok {
			continue
		}

		e.processSignal(ctx, signal, strat)
	}
}

// processSignal gates, deduplicates, persists and hands off a signal candidate.
func (e *Engine) processSignal(ctx context.Context, signal *shared.Signal, strat *strategy.Config) {
	outcome := e.cfg.Risk.Validate(signal, strat.MinATR)
	if outcome.Action == risk.Reject {
		e.health.RecordSuccess()
		e.cfg.Logger.Info().Msgf("signal %s (%s %s %s) vetoed: %s",
			signal.ID, signal.Instrument, signal.Timeframe.String(),
			signal.Direction.String(), outcome.Reason)
		return
	}

	// The outcome carries the level it was decided under, a fresh Level()
	// read could race a concurrent transition.
	signal.EmergencyLevelAtSignal = outcome.Level
	signal.PositionSizeMultiplier = outcome.SizeMultiplier

	if e.cfg.Dedup.Seen(signal.Fingerprint) {
		signal.Status = shared.StatusSuppressed
		signal.SuppressedReason = "duplicate_fingerprint"
		e.append(ctx, signal)
		e.cfg.Logger.Info().Msgf("signal %s suppressed: duplicate fingerprint %s",
			signal.ID, signal.Fingerprint)
		return
	}

	if !e.append(ctx, signal) {
		return
	}

	e.health.RecordSuccess()
	e.cfg.NotifyDispatcher()
}

// append commits the signal to the store, retrying transient errors. A
// duplicate id is treated as success. It reports whether the signal is
// durably visible to consumers.
func (e *Engine) append(ctx context.Context, signal *shared.Signal) bool {
	for attempt := 1; ; attempt++ {
		outcome, err := e.cfg.Store.AppendSignal(ctx, signal)
		switch outcome {
		case store.AppendOk, store.AppendDuplicate:
			return true

		case store.AppendTransient:
			e.health.RecordTransientFail()
			if attempt >= appendRetryLimit {
				e.cfg.Logger.Error().Msgf("store connectivity lost appending signal %s: %v",
					signal.ID, err)
				e.cfg.ReportFatal(err)
				return false
			}

			e.cfg.Logger.Warn().Msgf("transient store error appending signal %s (attempt %d): %v",
				signal.ID, attempt, err)
			select {
			case <-time.After(e.cfg.AppendRetryDelay):
			case <-ctx.Done():
				return false
			}

		default:
			e.health.RecordPermanentFail()
			e.cfg.ReportFatal(err)
			return false
		}
	}
}

// runLane warms up and drives one evaluation lane until cancellation.
func (e *Engine) runLane(ctx context.Context, l *lane) {
	lastOpenTime, err := e.warmUp(l)
	if err != nil {
		e.health.RecordTransientFail()
		e.cfg.Logger.Error().Msgf("warming up %s %s lane: %v", l.instrument, l.timeframe.String(), err)
	}

	candles, err := e.cfg.Subscribe(l.instrument, l.timeframe, lastOpenTime)
	if err != nil {
		e.health.RecordPermanentFail()
		e.cfg.Logger.Error().Msgf("subscribing %s %s lane: %v", l.instrument, l.timeframe.String(), err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case candle := <-candles:
			if !candle.Complete {
				// Partial candles are previews, they never trigger signal creation.
				continue
			}

			e.processCandle(ctx, l, &candle)
		}
	}
}

// Health returns a snapshot of the engine health counters.
func (e *Engine) Health() shared.HealthSnapshot {
	return e.health.Snapshot()
}

// Run manages the lifecycle processes of the evaluation engine.
func (e *Engine) Run(ctx context.Context) {
	for idx := range e.lanes {
		l := e.lanes[idx]
		e.wg.Add(1)
		go func() {
			e.runLane(ctx, l)
			e.wg.Done()
		}()
	}

	e.wg.Wait()
}
