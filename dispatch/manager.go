package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/dnldd/fxsignal/shared"
	"github.com/dnldd/fxsignal/store"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
	"golang.org/x/time/rate"
)

const (
	// bufferSize is the default buffer size for channels.
	bufferSize = 64
	// defaultHTTPTimeout is the per-request timeout for webhook calls.
	defaultHTTPTimeout = time.Second * 15
	// defaultMaxAttempts is the default delivery attempt cap per channel.
	defaultMaxAttempts = 8
	// defaultWorkersPerChannel bounds in-flight deliveries per channel.
	defaultWorkersPerChannel = 4
	// defaultRatePerSecond is the default request rate per channel.
	defaultRatePerSecond = 5
	// retryBackoffBase is the base delay for delivery retry backoff.
	retryBackoffBase = time.Second
	// retryBackoffCap is the maximum delay for delivery retry backoff.
	retryBackoffCap = time.Minute * 5
)

// Channel represents a configured webhook delivery channel.
type Channel struct {
	// ID uniquely identifies the channel.
	ID string
	// URL is the webhook endpoint.
	URL string
}

// ManagerConfig represents the configuration for the delivery dispatcher.
type ManagerConfig struct {
	// Channels are the configured delivery channels.
	Channels []Channel
	// Store is the durable signal store deliveries are driven from.
	Store store.SignalStorer
	// MaxAttempts caps delivery attempts per signal and channel.
	MaxAttempts int
	// WorkersPerChannel bounds in-flight deliveries per channel.
	WorkersPerChannel int
	// RatePerSecond caps the webhook request rate per channel.
	RatePerSecond float64
	// HTTPTimeout is the per-request timeout for webhook calls.
	HTTPTimeout time.Duration
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Validate asserts the config has sane inputs.
func (cfg *ManagerConfig) Validate() error {
	var errs error

	if cfg.Store == nil {
		errs = errors.Join(errs, fmt.Errorf("store cannot be nil"))
	}
	if cfg.Logger == nil {
		errs = errors.Join(errs, fmt.Errorf("logger cannot be nil"))
	}
	for idx := range cfg.Channels {
		if cfg.Channels[idx].ID == "" || cfg.Channels[idx].URL == "" {
			errs = errors.Join(errs, fmt.Errorf("channel %d: id and url cannot be empty strings", idx))
		}
	}

	return errs
}

// task represents one pending delivery of a signal to a channel.
type task struct {
	signal *shared.Signal
	// remaining counts channels yet to succeed for the signal, shared across
	// the signal's tasks.
	remaining *atomic.Int64
}

// channelDispatcher owns per-lane FIFO queues and the worker pool for one channel.
type channelDispatcher struct {
	channel Channel
	limiter *rate.Limiter
	workers chan struct{}

	mtx   sync.Mutex
	lanes map[string]chan *task
}

// Manager delivers NEW signals from the store to the configured channels with
// at-least-once semantics. Within a lane and channel, signals go out in
// creation order, across lanes delivery is concurrent.
type Manager struct {
	cfg           *ManagerConfig
	notifications chan struct{}
	dispatchers   []*channelDispatcher
	httpc         *http.Client
	health        shared.Health

	mtx      sync.Mutex
	enqueued map[string]bool

	wg sync.WaitGroup
}

// NewManager initializes a new delivery dispatcher.
func NewManager(cfg *ManagerConfig) (*Manager, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.WorkersPerChannel == 0 {
		cfg.WorkersPerChannel = defaultWorkersPerChannel
	}
	if cfg.RatePerSecond == 0 {
		cfg.RatePerSecond = defaultRatePerSecond
	}
	if cfg.HTTPTimeout == 0 {
		cfg.HTTPTimeout = defaultHTTPTimeout
	}

	dispatchers := make([]*channelDispatcher, 0, len(cfg.Channels))
	for idx := range cfg.Channels {
		dispatchers = append(dispatchers, &channelDispatcher{
			channel: cfg.Channels[idx],
			limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1),
			workers: make(chan struct{}, cfg.WorkersPerChannel),
			lanes:   make(map[string]chan *task),
		})
	}

	return &Manager{
		cfg:           cfg,
		notifications: make(chan struct{}, bufferSize),
		dispatchers:   dispatchers,
		httpc:         &http.Client{Timeout: cfg.HTTPTimeout},
		enqueued:      make(map[string]bool),
	}, nil
}

// Notify nudges the dispatcher to pick up newly persisted signals.
func (m *Manager) Notify() {
	select {
	case m.notifications <- struct{}{}:
		// do nothing.
	default:
		// A pickup is already pending, the next pass covers this signal.
	}
}

// pickup reads NEW signals from the store and enqueues any not yet in flight.
// Reading from the store rather than accepting in-memory handoffs is what
// makes delivery survive crashes.
func (m *Manager) pickup(ctx context.Context) {
	signals, err := m.cfg.Store.PendingSignals(ctx)
	if err != nil {
		m.health.RecordTransientFail()
		m.cfg.Logger.Error().Msgf("fetching pending signals: %v", err)
		return
	}

	for idx := range signals {
		signal := signals[idx]

		m.mtx.Lock()
		seen := m.enqueued[signal.ID]
		if !seen {
			m.enqueued[signal.ID] = true
		}
		m.mtx.Unlock()
		if seen {
			continue
		}

		remaining := atomic.NewInt64(int64(len(m.dispatchers)))
		for _, d := range m.dispatchers {
			d.enqueue(ctx, m, &task{signal: &signal, remaining: remaining})
		}
	}
}

// laneKey generates the ordering lane key for a signal.
func laneKey(signal *shared.Signal) string {
	return fmt.Sprintf("%s:%s", signal.Instrument, signal.Timeframe.String())
}

// enqueue places the task on the channel's lane queue, creating the lane
// worker on first use.
func (d *channelDispatcher) enqueue(ctx context.Context, m *Manager, t *task) {
	key := laneKey(t.signal)

	d.mtx.Lock()
	lane, ok := d.lanes[key]
	if !ok {
		lane = make(chan *task, bufferSize)
		d.lanes[key] = lane
		m.wg.Add(1)
		go func() {
			m.runLane(ctx, d, lane)
			m.wg.Done()
		}()
	}
	d.mtx.Unlock()

	select {
	case lane <- t:
		// do nothing.
	default:
		m.cfg.Logger.Error().Msgf("delivery lane %s for channel %s at capacity: %d/%d",
			key, d.channel.ID, len(lane), bufferSize)
		// The signal stays NEW in the store and is retried on the next pickup.
		m.forget(t.signal.ID)
	}
}

// forget clears the in-flight marker for a signal so a later pickup can
// requeue it.
func (m *Manager) forget(id string) {
	m.mtx.Lock()
	delete(m.enqueued, id)
	m.mtx.Unlock()
}

// runLane delivers tasks for one lane and channel serially, preserving
// creation order, with in-flight deliveries bounded per channel.
func (m *Manager) runLane(ctx context.Context, d *channelDispatcher, lane chan *task) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-lane:
			select {
			case d.workers <- struct{}{}:
			case <-ctx.Done():
				return
			}

			delivered := m.deliver(ctx, d, t.signal)
			<-d.workers

			if delivered && t.remaining.Dec() == 0 {
				m.markDelivered(t.signal)
			}
		}
	}
}

// markDelivered transitions the signal to DELIVERED once all channels
// succeeded and clears its in-flight marker. Pickup filters on status NEW, so
// a delivered signal never requeues; if the status update fails the signal is
// requeued and redelivered on the next pickup instead.
func (m *Manager) markDelivered(signal *shared.Signal) {
	defer m.forget(signal.ID)

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.HTTPTimeout)
	defer cancel()

	err := m.cfg.Store.UpdateSignalStatus(ctx, signal.ID, shared.StatusDelivered, "")
	if err != nil {
		m.health.RecordTransientFail()
		m.cfg.Logger.Error().Msgf("marking signal %s delivered: %v", signal.ID, err)
		return
	}

	m.health.RecordSuccess()
}

// retryDelay computes the backoff delay for the provided attempt, honoring a
// Retry-After header value when present.
func retryDelay(attempt int, retryAfter string) time.Duration {
	if retryAfter != "" {
		if secs, err := strconv.Atoi(retryAfter); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}

	delay := retryBackoffBase << (attempt - 1)
	if delay > retryBackoffCap || delay <= 0 {
		delay = retryBackoffCap
	}

	// Jitter up to a quarter of the delay.
	return delay + time.Duration(rand.Int63n(int64(delay/4)+1))
}

// deliver posts the signal payload to the channel, retrying transient
// failures with backoff up to the attempt cap. It reports whether the
// delivery succeeded.
func (m *Manager) deliver(ctx context.Context, d *channelDispatcher, signal *shared.Signal) bool {
	body, err := json.Marshal(NewPayload(signal))
	if err != nil {
		m.health.RecordPermanentFail()
		m.cfg.Logger.Error().Msgf("marshalling payload for signal %s: %v", signal.ID, err)
		return false
	}

	for attempt := 1; attempt <= m.cfg.MaxAttempts; attempt++ {
		if err := d.limiter.Wait(ctx); err != nil {
			return false
		}

		status, retryAfter, err := m.post(ctx, d.channel.URL, body)

		attemptRecord := &shared.DeliveryAttempt{
			SignalID:      signal.ID,
			ChannelID:     d.channel.ID,
			AttemptNumber: attempt,
			ScheduledOn:   time.Now().UTC(),
			LastStatus:    status,
		}
		if err != nil {
			attemptRecord.LastError = err.Error()
		}

		switch {
		case err == nil && status >= 200 && status < 300:
			m.record(attemptRecord)
			m.health.RecordSuccess()
			return true

		case err == nil && status >= 400 && status < 500 && status != http.StatusTooManyRequests:
			// Terminal for this channel, no retry.
			m.record(attemptRecord)
			m.health.RecordPermanentFail()
			m.cfg.Logger.Error().Msgf("terminal delivery failure for signal %s on channel %s: status %d",
				signal.ID, d.channel.ID, status)
			return false

		default:
			// 429, 5xx and network errors retry with backoff.
			delay := retryDelay(attempt, retryAfter)
			attemptRecord.NextRetryOn = time.Now().UTC().Add(delay)
			m.record(attemptRecord)
			m.health.RecordTransientFail()
			m.cfg.Logger.Warn().Msgf("delivery attempt %d/%d for signal %s on channel %s failed "+
				"(status %d, retrying in %s): %v",
				attempt, m.cfg.MaxAttempts, signal.ID, d.channel.ID, status, delay, err)

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return false
			}
		}
	}

	m.cfg.Logger.Error().Msgf("delivery attempt cap reached for signal %s on channel %s, "+
		"marking channel failed", signal.ID, d.channel.ID)
	return false
}

// post performs a single webhook request, returning the response status and
// any Retry-After header value.
func (m *Manager) post(ctx context.Context, url string, body []byte) (int, string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, m.cfg.HTTPTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpc.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	return resp.StatusCode, resp.Header.Get("Retry-After"), nil
}

// record persists a delivery attempt.
func (m *Manager) record(attempt *shared.DeliveryAttempt) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.HTTPTimeout)
	defer cancel()

	err := m.cfg.Store.RecordDeliveryAttempt(ctx, attempt)
	if err != nil {
		m.cfg.Logger.Error().Msgf("recording delivery attempt for signal %s: %v",
			attempt.SignalID, err)
	}
}

// Health returns a snapshot of the dispatcher health counters.
func (m *Manager) Health() shared.HealthSnapshot {
	return m.health.Snapshot()
}

// Run manages the lifecycle processes of the delivery dispatcher.
func (m *Manager) Run(ctx context.Context) {
	// Idempotent pickup of signals persisted before a crash.
	m.pickup(ctx)

	for {
		select {
		case <-ctx.Done():
			m.wg.Wait()
			return
		case <-m.notifications:
			m.pickup(ctx)
		}
	}
}
