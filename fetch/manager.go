package fetch

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/dnldd/fxsignal/shared"
	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

const (
	// subscriberBuffer is the buffer size for subscription channels.
	subscriberBuffer = 128
	// backoffBase is the base delay for transient fetch error backoff.
	backoffBase = time.Second
	// backoffCap is the maximum delay for transient fetch error backoff.
	backoffCap = time.Second * 60
)

// CandleSource defines the requirements for fetching candles from a broker.
type CandleSource interface {
	// FetchCandles fetches candles for the provided instrument and timeframe
	// starting from the provided time. A zero to time requests up to the
	// newest available candle.
	FetchCandles(ctx context.Context, instrument string, timeframe shared.Timeframe,
		from time.Time, to time.Time) ([]shared.Candlestick, error)
}

// ManagerConfig represents the configuration for the fetch manager.
type ManagerConfig struct {
	// Source represents the broker candle source.
	Source CandleSource
	// JobScheduler runs the periodic polling jobs.
	JobScheduler *gocron.Scheduler
	// ReportFatal surfaces an unrecoverable error to the orchestrator.
	ReportFatal func(err error)
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Validate asserts the config has sane inputs.
func (cfg *ManagerConfig) Validate() error {
	var errs error

	if cfg.Source == nil {
		errs = errors.Join(errs, fmt.Errorf("candle source cannot be nil"))
	}
	if cfg.JobScheduler == nil {
		errs = errors.Join(errs, fmt.Errorf("job scheduler cannot be nil"))
	}
	if cfg.ReportFatal == nil {
		errs = errors.Join(errs, fmt.Errorf("report fatal function cannot be nil"))
	}
	if cfg.Logger == nil {
		errs = errors.Join(errs, fmt.Errorf("logger cannot be nil"))
	}

	return errs
}

// subscription tracks the polling state for one instrument and timeframe.
type subscription struct {
	instrument string
	timeframe  shared.Timeframe

	// lastOpenTime is the open time of the last complete candle forwarded.
	lastOpenTime time.Time
	// candles receives forwarded candles, in open time order.
	candles chan shared.Candlestick

	attempts    int
	nextPollAt  time.Time
	lastSuccess atomic.Time
}

// Manager polls the broker per subscription and forwards a monotonic,
// gap-aware stream of candles downstream.
type Manager struct {
	cfg           *ManagerConfig
	mtx           sync.Mutex
	subscriptions map[string]*subscription
	health        shared.Health
	dropped       shared.Health
}

// NewManager initializes the fetch manager.
func NewManager(cfg *ManagerConfig) (*Manager, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	return &Manager{
		cfg:           cfg,
		subscriptions: make(map[string]*subscription),
	}, nil
}

// subscriptionKey generates the key for the provided instrument and timeframe.
func subscriptionKey(instrument string, timeframe shared.Timeframe) string {
	return fmt.Sprintf("%s:%s", instrument, timeframe.String())
}

// Subscribe registers a polling subscription for the provided instrument and
// timeframe, restartable from the provided last persisted open time. It is
// idempotent, resubscribing returns the existing stream.
func (m *Manager) Subscribe(instrument string, timeframe shared.Timeframe, lastOpenTime time.Time) (<-chan shared.Candlestick, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	key := subscriptionKey(instrument, timeframe)
	if sub, ok := m.subscriptions[key]; ok {
		return sub.candles, nil
	}

	sub := &subscription{
		instrument:   instrument,
		timeframe:    timeframe,
		lastOpenTime: lastOpenTime,
		candles:      make(chan shared.Candlestick, subscriberBuffer),
	}
	m.subscriptions[key] = sub

	_, err := m.cfg.JobScheduler.Every(timeframe.PollInterval()).SingletonMode().Do(m.poll, key)
	if err != nil {
		delete(m.subscriptions, key)
		return nil, fmt.Errorf("scheduling poll job for %s: %w", key, err)
	}

	return sub.candles, nil
}

// backoffDelay computes the exponential backoff delay with full jitter for
// the provided attempt count.
func backoffDelay(attempts int) time.Duration {
	delay := backoffBase << (attempts - 1)
	if delay > backoffCap || delay <= 0 {
		delay = backoffCap
	}

	return time.Duration(rand.Int63n(int64(delay)) + 1)
}

// poll requests the newest candles for the provided subscription key and
// forwards the complete ones downstream in order.
func (m *Manager) poll(key string) {
	m.mtx.Lock()
	sub, ok := m.subscriptions[key]
	m.mtx.Unlock()
	if !ok {
		return
	}

	now := time.Now().UTC()
	if now.Before(sub.nextPollAt) {
		// Backing off after a transient error.
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultRequestTimeout)
	defer cancel()

	var from time.Time
	if !sub.lastOpenTime.IsZero() {
		from = shared.NextOpenTime(sub.lastOpenTime, sub.timeframe)
	}

	candles, err := m.cfg.Source.FetchCandles(ctx, sub.instrument, sub.timeframe, from, time.Time{})
	if err != nil {
		m.handleFetchError(sub, err)
		return
	}

	sub.attempts = 0
	sub.nextPollAt = time.Time{}
	sub.lastSuccess.Store(now)
	m.health.RecordSuccess()

	m.forward(sub, candles)
}

// handleFetchError applies backoff for transient errors and surfaces fatal ones.
func (m *Manager) handleFetchError(sub *subscription, err error) {
	if errors.Is(err, ErrAuth) {
		m.health.RecordPermanentFail()
		m.cfg.Logger.Error().Msgf("fatal broker auth error on %s %s: %v",
			sub.instrument, sub.timeframe.String(), err)
		m.cfg.ReportFatal(err)
		return
	}

	sub.attempts++
	delay := backoffDelay(sub.attempts)
	sub.nextPollAt = time.Now().UTC().Add(delay)
	m.health.RecordTransientFail()
	m.cfg.Logger.Warn().Msgf("transient fetch error on %s %s (attempt %d, retrying in %s): %v",
		sub.instrument, sub.timeframe.String(), sub.attempts, delay, err)
}

// forward relays candles downstream in order, backfilling any detected gap
// before emitting newer candles. Only complete candles advance the stream, a
// partial candle is forwarded as a preview.
func (m *Manager) forward(sub *subscription, candles []shared.Candlestick) {
	for idx := range candles {
		candle := candles[idx]

		if !candle.Complete {
			m.emit(sub, &candle)
			continue
		}

		if err := candle.Validate(); err != nil {
			m.dropped.RecordPermanentFail()
			m.cfg.Logger.Error().Msgf("dropping inconsistent candle: %v", err)
			continue
		}

		if !sub.lastOpenTime.IsZero() && !candle.OpenTime.After(sub.lastOpenTime) {
			// Already forwarded.
			continue
		}

		if m.gapBefore(sub, &candle) {
			err := m.fillGap(sub, candle.OpenTime)
			if err != nil {
				m.cfg.Logger.Error().Msgf("backfilling gap on %s %s: %v",
					sub.instrument, sub.timeframe.String(), err)
				// Stop the batch so order holds, the gap is redetected next poll.
				return
			}
		}

		if !m.emit(sub, &candle) {
			// lastOpenTime has not advanced, the bar is refetched next poll.
			return
		}
		sub.lastOpenTime = candle.OpenTime
	}
}

// gapBefore reports whether the provided candle leaves a gap after the last
// forwarded candle.
func (m *Manager) gapBefore(sub *subscription, candle *shared.Candlestick) bool {
	if sub.lastOpenTime.IsZero() {
		return false
	}

	expected := shared.NextOpenTime(sub.lastOpenTime, sub.timeframe)
	return candle.OpenTime.After(expected)
}

// fillGap requests a targeted backfill for the missing window and forwards
// the recovered candles.
func (m *Manager) fillGap(sub *subscription, until time.Time) error {
	from := shared.NextOpenTime(sub.lastOpenTime, sub.timeframe)
	candles, err := m.Backfill(sub.instrument, sub.timeframe, from, until)
	if err != nil {
		return err
	}

	for idx := range candles {
		candle := candles[idx]
		if !candle.Complete || !candle.OpenTime.After(sub.lastOpenTime) ||
			!candle.OpenTime.Before(until) {
			continue
		}
		if err := candle.Validate(); err != nil {
			m.dropped.RecordPermanentFail()
			m.cfg.Logger.Error().Msgf("dropping inconsistent candle: %v", err)
			continue
		}

		if !m.emit(sub, &candle) {
			return fmt.Errorf("candle channel for %s %s at capacity",
				sub.instrument, sub.timeframe.String())
		}
		sub.lastOpenTime = candle.OpenTime
	}

	return nil
}

// emit forwards the candle to the subscription stream, reporting whether the
// send succeeded. Callers only advance lastOpenTime on success so a dropped
// bar stays fetchable.
func (m *Manager) emit(sub *subscription, candle *shared.Candlestick) bool {
	select {
	case sub.candles <- *candle:
		return true
	default:
		m.cfg.Logger.Error().Msgf("candle channel for %s %s at capacity: %d/%d",
			sub.instrument, sub.timeframe.String(), len(sub.candles), subscriberBuffer)
		return false
	}
}

// Backfill fetches candles for the provided range in order.
func (m *Manager) Backfill(instrument string, timeframe shared.Timeframe, from time.Time, to time.Time) ([]shared.Candlestick, error) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultRequestTimeout)
	defer cancel()

	return m.cfg.Source.FetchCandles(ctx, instrument, timeframe, from, to)
}

// Health returns the last successful fetch time per subscription.
func (m *Manager) Health() map[string]time.Time {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	health := make(map[string]time.Time, len(m.subscriptions))
	for key, sub := range m.subscriptions {
		health[key] = sub.lastSuccess.Load()
	}

	return health
}

// Run manages the lifecycle processes of the fetch manager.
func (m *Manager) Run(ctx context.Context) {
	m.cfg.JobScheduler.StartAsync()

	<-ctx.Done()
	m.cfg.JobScheduler.Stop()
}
