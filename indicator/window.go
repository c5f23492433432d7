package indicator

import (
	"fmt"
	"math"
	"time"

	"github.com/dnldd/fxsignal/shared"
	"github.com/rs/zerolog"
)

const (
	// atrDriftTolerance is the maximum tolerated drift between the incremental
	// average true range and its replayed reference value.
	atrDriftTolerance = 1e-9
	// windowSafetyMargin is the number of candles retained beyond the maximum
	// configured lookback.
	windowSafetyMargin = 16
)

// State represents an indicator state snapshot for an instrument and timeframe.
type State struct {
	Instrument string
	Timeframe  shared.Timeframe

	FastMA     float64
	SlowMA     float64
	PrevFastMA float64
	PrevSlowMA float64
	ATR        float64

	// Warm indicates enough complete candles have been ingested for the
	// snapshot to be used for signal evaluation.
	Warm bool

	LastOpenTime time.Time
	LastClose    float64
}

// Periods identifies the lookback periods a window maintains generators for.
type Periods struct {
	Fast int
	Slow int
	ATR  int
}

// Window maintains the rolling indicator state for a single instrument and
// timeframe. Each generator retains its own slice of the rolling window, the
// moving averages their closes and the average true ranges their true ranges,
// so the retained history is exactly what recomputation needs.
type Window struct {
	instrument string
	timeframe  shared.Timeframe
	capacity   int

	smas map[int]*SMA
	atrs map[int]*ATR

	lastClose    float64
	lastOpenTime time.Time
	ingested     int

	logger *zerolog.Logger
}

// NewWindow initializes an indicator window for the provided instrument and
// timeframe, sized to the maximum lookback across the provided periods plus
// a safety margin.
func NewWindow(instrument string, timeframe shared.Timeframe, periods []Periods, logger *zerolog.Logger) *Window {
	maxLookback := 0
	for idx := range periods {
		maxLookback = max(maxLookback, periods[idx].Fast, periods[idx].Slow, periods[idx].ATR)
	}

	capacity := maxLookback + windowSafetyMargin
	w := &Window{
		instrument: instrument,
		timeframe:  timeframe,
		capacity:   capacity,
		smas:       make(map[int]*SMA),
		atrs:       make(map[int]*ATR),
		logger:     logger,
	}

	for idx := range periods {
		w.register(periods[idx])
	}

	return w
}

// register ensures generators exist for the provided periods.
func (w *Window) register(periods Periods) {
	for _, period := range []int{periods.Fast, periods.Slow} {
		if _, ok := w.smas[period]; !ok {
			w.smas[period] = NewSMA(period)
		}
	}
	if _, ok := w.atrs[periods.ATR]; !ok {
		w.atrs[periods.ATR] = NewATR(periods.ATR, w.capacity)
	}
}

// OnCandle advances the window with the provided complete candle, updating
// all generators incrementally and verifying them against recomputation.
func (w *Window) OnCandle(candle *shared.Candlestick) error {
	if !candle.Complete {
		return fmt.Errorf("%s %s candle at %s is not complete",
			candle.Instrument, candle.Timeframe.String(), candle.OpenTime.Format(time.RFC3339))
	}
	if err := candle.Validate(); err != nil {
		return err
	}
	if !w.lastOpenTime.IsZero() && !candle.OpenTime.After(w.lastOpenTime) {
		return fmt.Errorf("%s %s candle at %s does not advance the window past %s",
			candle.Instrument, candle.Timeframe.String(),
			candle.OpenTime.Format(time.RFC3339), w.lastOpenTime.Format(time.RFC3339))
	}

	tr := candle.High - candle.Low
	if w.ingested > 0 {
		tr = candle.TrueRange(w.lastClose)
	}

	for _, sma := range w.smas {
		sma.Update(candle.Close)
	}
	for _, atr := range w.atrs {
		atr.Update(tr)
	}

	w.verify()

	w.ingested++
	w.lastClose = candle.Close
	w.lastOpenTime = candle.OpenTime

	return nil
}

// verify checks incremental values against recomputation from the retained
// window, forcing a resync when drift exceeds tolerance.
func (w *Window) verify() {
	for period, sma := range w.smas {
		value, ok := sma.Value()
		if !ok {
			continue
		}

		if recomputed := sma.Recompute(); recomputed != value {
			w.logger.Warn().Msgf("%s %s: sma(%d) drifted from recompute (%v != %v), resyncing",
				w.instrument, w.timeframe.String(), period, value, recomputed)
			sma.Resync()
		}
	}

	for period, atr := range w.atrs {
		value, ok := atr.Value()
		if !ok {
			continue
		}

		replayed, ok := atr.Replay()
		if ok && math.Abs(replayed-value) > atrDriftTolerance {
			w.logger.Warn().Msgf("%s %s: atr(%d) drifted from replay (%v != %v), resyncing",
				w.instrument, w.timeframe.String(), period, value, replayed)
			atr.Resync()
		}
	}
}

// WarmUp bulk loads historical candles, skipping incomplete ones.
func (w *Window) WarmUp(history []shared.Candlestick) error {
	for idx := range history {
		if !history[idx].Complete {
			continue
		}

		err := w.OnCandle(&history[idx])
		if err != nil {
			return fmt.Errorf("warming %s %s window: %w", w.instrument, w.timeframe.String(), err)
		}
	}

	return nil
}

// StateFor assembles an indicator state snapshot for the provided periods.
func (w *Window) StateFor(periods Periods) State {
	state := State{
		Instrument:   w.instrument,
		Timeframe:    w.timeframe,
		LastOpenTime: w.lastOpenTime,
		LastClose:    w.lastClose,
	}

	fastSMA, ok := w.smas[periods.Fast]
	if !ok {
		return state
	}
	slowSMA, ok := w.smas[periods.Slow]
	if !ok {
		return state
	}
	atrGen, ok := w.atrs[periods.ATR]
	if !ok {
		return state
	}

	fast, fastOK := fastSMA.Value()
	slow, slowOK := slowSMA.Value()
	prevFast, prevFastOK := fastSMA.Prev()
	prevSlow, prevSlowOK := slowSMA.Prev()
	atr, atrOK := atrGen.Value()

	state.FastMA = fast
	state.SlowMA = slow
	state.PrevFastMA = prevFast
	state.PrevSlowMA = prevSlow
	state.ATR = atr

	warmAfter := max(periods.Slow, periods.ATR) + 1
	state.Warm = fastOK && slowOK && prevFastOK && prevSlowOK && atrOK &&
		w.ingested >= warmAfter

	return state
}

// LastOpenTime returns the open time of the most recently ingested candle.
func (w *Window) LastOpenTime() time.Time {
	return w.lastOpenTime
}
