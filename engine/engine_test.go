package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dnldd/fxsignal/dedup"
	"github.com/dnldd/fxsignal/indicator"
	"github.com/dnldd/fxsignal/risk"
	"github.com/dnldd/fxsignal/shared"
	"github.com/dnldd/fxsignal/store"
	"github.com/dnldd/fxsignal/strategy"
	"github.com/peterldowns/testy/assert"
	"github.com/rs/zerolog"
)

// fakeStore is an in-memory signal store for engine tests.
type fakeStore struct {
	mtx      sync.Mutex
	signals  []shared.Signal
	appends  []store.AppendOutcome
	appendAt int
}

func (f *fakeStore) AppendSignal(ctx context.Context, signal *shared.Signal) (store.AppendOutcome, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	// Scripted outcomes take precedence, then append normally.
	if f.appendAt < len(f.appends) {
		outcome := f.appends[f.appendAt]
		f.appendAt++
		if outcome != store.AppendOk {
			return outcome, fmt.Errorf("scripted append outcome")
		}
	}

	f.signals = append(f.signals, *signal)
	return store.AppendOk, nil
}

func (f *fakeStore) ListSignals(ctx context.Context, since time.Time, limit int) ([]shared.Signal, error) {
	return f.persisted(), nil
}

func (f *fakeStore) UpdateSignalStatus(ctx context.Context, id string, status shared.SignalStatus, reason string) error {
	return nil
}

func (f *fakeStore) PendingSignals(ctx context.Context) ([]shared.Signal, error) {
	return nil, nil
}

func (f *fakeStore) RecordDeliveryAttempt(ctx context.Context, attempt *shared.DeliveryAttempt) error {
	return nil
}

func (f *fakeStore) persisted() []shared.Signal {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	return append([]shared.Signal{}, f.signals...)
}

// testHarness wires an engine against in-memory components and a scripted
// candle feed.
type testHarness struct {
	engine  *Engine
	store   *fakeStore
	risk    *risk.Manager
	candles chan shared.Candlestick

	mtx      sync.Mutex
	notified int
	fatals   []error
}

func (h *testHarness) notifications() int {
	h.mtx.Lock()
	defer h.mtx.Unlock()

	return h.notified
}

func (h *testHarness) fatalCount() int {
	h.mtx.Lock()
	defer h.mtx.Unlock()

	return len(h.fatals)
}

func testStrategy() strategy.Config {
	return strategy.Config{
		ID:                "ma-cross-EUR_USD-H4",
		Instrument:        "EUR_USD",
		Timeframe:         shared.FourHour,
		FastPeriod:        2,
		SlowPeriod:        3,
		ATRPeriod:         3,
		StopLossATRMult:   1.0,
		TakeProfitATRMult: 2.0,
		MinATR:            0,
		MinRiskReward:     1.5,
	}
}

func newTestHarness(t *testing.T, emergencyEnabled bool) *testHarness {
	t.Helper()

	logger := zerolog.Nop()

	registry := strategy.NewRegistry()
	assert.NoError(t, registry.Load([]strategy.Config{testStrategy()}))

	riskMgr, err := risk.NewManager(&risk.ManagerConfig{
		InitialValue:       100_000,
		Enabled:            emergencyEnabled,
		PersistTransition:  func(transition shared.EmergencyTransition) {},
		PersistStressEvent: func(event shared.StressEvent) {},
		Logger:             &logger,
	})
	assert.NoError(t, err)

	deduplicator, err := dedup.NewDeduplicator(&dedup.DeduplicatorConfig{
		SlowestTimeframe: shared.FourHour.Duration(),
		Logger:           &logger,
	})
	assert.NoError(t, err)

	h := &testHarness{
		store:   &fakeStore{},
		risk:    riskMgr,
		candles: make(chan shared.Candlestick, 16),
	}

	engine, err := NewEngine(&EngineConfig{
		Instruments: []string{"EUR_USD"},
		Timeframes:  []shared.Timeframe{shared.FourHour},
		Cache:       indicator.NewCache(&indicator.CacheConfig{Logger: &logger}),
		Registry:    registry,
		Evaluator:   strategy.NewEvaluator(&strategy.EvaluatorConfig{Logger: &logger}),
		Risk:        riskMgr,
		Dedup:       deduplicator,
		Store:       h.store,
		Subscribe: func(instrument string, timeframe shared.Timeframe, lastOpenTime time.Time) (<-chan shared.Candlestick, error) {
			return h.candles, nil
		},
		Backfill: func(instrument string, timeframe shared.Timeframe, from time.Time, to time.Time) ([]shared.Candlestick, error) {
			return nil, nil
		},
		PersistCandle: func(ctx context.Context, candle *shared.Candlestick) error {
			return nil
		},
		NotifyDispatcher: func() {
			h.mtx.Lock()
			h.notified++
			h.mtx.Unlock()
		},
		ReportFatal: func(err error) {
			h.mtx.Lock()
			h.fatals = append(h.fatals, err)
			h.mtx.Unlock()
		},
		AppendRetryDelay: time.Millisecond,
		Logger:           &logger,
	})
	assert.NoError(t, err)
	h.engine = engine

	return h
}

// crossoverCandles yields a warm up run of falling closes followed by a surge
// that lifts the fast average through the slow one.
func crossoverCandles() []shared.Candlestick {
	closes := []float64{10, 9, 8, 20}
	openTime := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)

	candles := make([]shared.Candlestick, 0, len(closes))
	for idx := range closes {
		close := closes[idx]
		candles = append(candles, shared.Candlestick{
			Open:       close,
			High:       close + 0.5,
			Low:        close - 0.5,
			Close:      close,
			OpenTime:   openTime.Add(time.Duration(idx) * shared.FourHour.Duration()),
			Complete:   true,
			Instrument: "EUR_USD",
			Timeframe:  shared.FourHour,
		})
	}

	return candles
}

func (h *testHarness) run(t *testing.T, candles []shared.Candlestick) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		h.engine.Run(ctx)
		close(done)
	}()

	for idx := range candles {
		h.candles <- candles[idx]
	}

	// Wait for the lane to drain the feed before cancelling.
	deadline := time.Now().Add(time.Second * 10)
	for time.Now().Before(deadline) && len(h.candles) > 0 {
		time.Sleep(time.Millisecond * 10)
	}
	time.Sleep(time.Millisecond * 50)

	cancel()
	<-done
}

func TestEngineEmitsSignalOnCrossover(t *testing.T) {
	h := newTestHarness(t, true)
	h.run(t, crossoverCandles())

	persisted := h.store.persisted()
	assert.Equal(t, len(persisted), 1)

	signal := persisted[0]
	assert.Equal(t, signal.Direction, shared.Long)
	assert.Equal(t, signal.StrategyID, testStrategy().ID)
	assert.Equal(t, signal.Status, shared.StatusNew)
	assert.Equal(t, signal.EntryPrice, 20.0)
	assert.Equal(t, signal.EmergencyLevelAtSignal, shared.LevelNormal)
	assert.Equal(t, signal.PositionSizeMultiplier, 1.0)
	assert.NotEqual(t, signal.Fingerprint, "")

	assert.Equal(t, h.notifications(), 1)
	assert.Equal(t, h.fatalCount(), 0)
}

func TestEngineSkipsPartialCandles(t *testing.T) {
	h := newTestHarness(t, true)

	candles := crossoverCandles()
	candles[3].Complete = false

	h.run(t, candles)
	assert.Equal(t, len(h.store.persisted()), 0)
	assert.Equal(t, h.notifications(), 0)
}

func TestEngineDoesNotPersistRiskRejectedSignals(t *testing.T) {
	h := newTestHarness(t, true)

	// A halt level drawdown vetoes every candidate.
	assert.NoError(t, h.risk.UpdatePortfolio(70_000))

	h.run(t, crossoverCandles())
	assert.Equal(t, len(h.store.persisted()), 0)
	assert.Equal(t, h.notifications(), 0)
}

func TestEngineSuppressesDuplicateSignals(t *testing.T) {
	h := newTestHarness(t, true)
	strat := testStrategy()

	barOpenTime := time.Date(2024, 6, 3, 12, 0, 0, 0, time.UTC)
	candidate := func(id string) *shared.Signal {
		return &shared.Signal{
			ID:          id,
			StrategyID:  strat.ID,
			Instrument:  strat.Instrument,
			Timeframe:   strat.Timeframe,
			Direction:   shared.Long,
			EntryPrice:  20,
			StopLoss:    19,
			TakeProfit:  22,
			ATRAtSignal: 1,
			BarOpenTime: barOpenTime,
			CreatedOn:   time.Now().UTC(),
			Fingerprint: shared.SignalFingerprint(strat.ID, strat.Instrument, strat.Timeframe,
				shared.Long, barOpenTime),
			Status: shared.StatusNew,
		}
	}

	// The first candidate for the bar persists and nudges the dispatcher.
	h.engine.processSignal(context.Background(), candidate("sig-1"), &strat)
	assert.Equal(t, h.notifications(), 1)

	// A replay of the same bar persists as suppressed without a nudge.
	h.engine.processSignal(context.Background(), candidate("sig-2"), &strat)
	assert.Equal(t, h.notifications(), 1)

	persisted := h.store.persisted()
	assert.Equal(t, len(persisted), 2)
	assert.Equal(t, persisted[0].Status, shared.StatusNew)
	assert.Equal(t, persisted[1].Status, shared.StatusSuppressed)
	assert.Equal(t, persisted[1].SuppressedReason, "duplicate_fingerprint")
}

func TestEngineReportsFatalOnPersistentAppendFailure(t *testing.T) {
	h := newTestHarness(t, true)

	// Every append attempt fails transiently until the retry limit trips.
	h.store.appends = []store.AppendOutcome{
		store.AppendTransient, store.AppendTransient, store.AppendTransient,
		store.AppendTransient, store.AppendTransient,
	}

	h.run(t, crossoverCandles())
	assert.Equal(t, len(h.store.persisted()), 0)
	assert.Equal(t, h.fatalCount(), 1)
	assert.Equal(t, h.notifications(), 0)
}

func TestEngineTreatsDuplicateAppendAsSuccess(t *testing.T) {
	h := newTestHarness(t, true)

	h.store.appends = []store.AppendOutcome{store.AppendDuplicate}

	h.run(t, crossoverCandles())
	assert.Equal(t, len(h.store.persisted()), 0)

	// The duplicate commit still nudges the dispatcher.
	assert.Equal(t, h.notifications(), 1)
}
