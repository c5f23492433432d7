package risk

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/dnldd/fxsignal/shared"
	"gonum.org/v1/gonum/stat"
)

const (
	// defaultStressShortWindow is the default number of returns in the short
	// volatility window.
	defaultStressShortWindow = 12
	// defaultStressBaselineWindow is the default number of returns in the
	// baseline volatility window, twenty times the short window.
	defaultStressBaselineWindow = 240
	// defaultStressExpiry is the default active window of a stress event.
	defaultStressExpiry = time.Minute * 60
)

// returnWindow tracks log returns for a single instrument and timeframe.
type returnWindow struct {
	lastClose float64
	returns   []float64
	start     int
	count     int
}

// push adds a log return to the window, evicting the oldest at capacity.
func (w *returnWindow) push(r float64) {
	capacity := cap(w.returns)
	if w.count == capacity {
		w.returns[w.start] = r
		w.start = (w.start + 1) % capacity
		return
	}

	w.returns = w.returns[:w.count+1]
	w.returns[(w.start+w.count)%capacity] = r
	w.count++
}

// lastN copies the most recent n returns, oldest first.
func (w *returnWindow) lastN(n int) []float64 {
	if n > w.count {
		n = w.count
	}

	capacity := cap(w.returns)
	set := make([]float64, n)
	start := (w.start + w.count - n + capacity) % capacity
	for i := range n {
		set[i] = w.returns[(start+i)%capacity]
	}

	return set
}

// stressMonitor compares short window realized volatility against a baseline
// per instrument and timeframe, tracking detected events until expiry.
type stressMonitor struct {
	cfg *ManagerConfig

	mtx     sync.Mutex
	windows map[string]*returnWindow
	events  map[string]shared.StressEvent
}

// newStressMonitor initializes the stress monitor, applying window defaults.
func newStressMonitor(cfg *ManagerConfig) *stressMonitor {
	if cfg.StressShortWindow == 0 {
		cfg.StressShortWindow = defaultStressShortWindow
	}
	if cfg.StressBaselineWindow == 0 {
		cfg.StressBaselineWindow = defaultStressBaselineWindow
	}
	if cfg.StressExpiry == 0 {
		cfg.StressExpiry = defaultStressExpiry
	}

	return &stressMonitor{
		cfg:     cfg,
		windows: make(map[string]*returnWindow),
		events:  make(map[string]shared.StressEvent),
	}
}

// observe folds a close into the volatility windows, detecting a stress
// event when the volatility ratio reaches the detection threshold.
func (s *stressMonitor) observe(instrument string, timeframe shared.Timeframe, close float64, now time.Time) {
	if close <= 0 {
		return
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()

	key := fmt.Sprintf("%s:%s", instrument, timeframe.String())
	window, ok := s.windows[key]
	if !ok {
		window = &returnWindow{
			lastClose: close,
			returns:   make([]float64, 0, s.cfg.StressBaselineWindow),
		}
		s.windows[key] = window
		return
	}

	window.push(math.Log(close / window.lastClose))
	window.lastClose = close

	// The baseline must be populated before the ratio means anything.
	if window.count < s.cfg.StressBaselineWindow {
		return
	}

	baselineVol := stat.StdDev(window.lastN(s.cfg.StressBaselineWindow), nil)
	shortVol := stat.StdDev(window.lastN(s.cfg.StressShortWindow), nil)
	if baselineVol == 0 {
		return
	}

	severity := shortVol / baselineVol
	if severity < shared.StressSeverityThreshold {
		return
	}

	event := shared.StressEvent{
		Instrument: instrument,
		Timeframe:  timeframe,
		Severity:   severity,
		Kind:       shared.VolatilitySpike,
		DetectedOn: now,
	}

	// Refresh the active event only when none exists or severity worsened.
	active, exists := s.events[instrument]
	expired := !exists || now.Sub(active.DetectedOn) >= s.cfg.StressExpiry
	if expired || severity > active.Severity {
		s.events[instrument] = event
		s.cfg.PersistStressEvent(event)

		logEvent := s.cfg.Logger.Warn()
		if event.Critical() {
			logEvent = s.cfg.Logger.Error()
		}
		logEvent.Msgf("stress event on %s %s: severity %.2f (%s)",
			instrument, timeframe.String(), severity, event.Kind.String())
	}
}

// active returns the unexpired stress event for the instrument, if any.
func (s *stressMonitor) active(instrument string, now time.Time) (shared.StressEvent, bool) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	event, ok := s.events[instrument]
	if !ok {
		return shared.StressEvent{}, false
	}

	if now.Sub(event.DetectedOn) >= s.cfg.StressExpiry {
		delete(s.events, instrument)
		return shared.StressEvent{}, false
	}

	return event, true
}

// InjectStressEvent registers a stress event directly, used to seed state on
// restart from persisted events.
func (m *Manager) InjectStressEvent(event shared.StressEvent) {
	m.stress.mtx.Lock()
	defer m.stress.mtx.Unlock()

	active, ok := m.stress.events[event.Instrument]
	if !ok || event.Severity > active.Severity || event.DetectedOn.After(active.DetectedOn) {
		m.stress.events[event.Instrument] = event
	}
}
