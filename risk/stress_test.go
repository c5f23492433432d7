package risk

import (
	"math"
	"testing"
	"time"

	"github.com/dnldd/fxsignal/shared"
	"github.com/peterldowns/testy/assert"
	"github.com/rs/zerolog"
)

func newStressTestManager(t *testing.T) (*Manager, *testClock, *[]shared.StressEvent) {
	t.Helper()

	events := &[]shared.StressEvent{}
	logger := zerolog.Nop()
	mgr, err := NewManager(&ManagerConfig{
		InitialValue:      100_000,
		Enabled:           true,
		PersistTransition: func(transition shared.EmergencyTransition) {},
		PersistStressEvent: func(event shared.StressEvent) {
			*events = append(*events, event)
		},
		StressShortWindow:    2,
		StressBaselineWindow: 8,
		StressExpiry:         time.Hour,
		Logger:               &logger,
	})
	assert.NoError(t, err)

	clock := &testClock{now: time.Date(2024, 6, 3, 12, 0, 0, 0, time.UTC)}
	mgr.now = clock.Now

	return mgr, clock, events
}

// feedReturns folds a seed close plus one close per log return into the
// stress monitor.
func feedReturns(mgr *Manager, instrument string, returns []float64) {
	close := 100.0
	mgr.MonitorStress(instrument, shared.FourHour, close)
	for _, r := range returns {
		close *= math.Exp(r)
		mgr.MonitorStress(instrument, shared.FourHour, close)
	}
}

func TestStressDetection(t *testing.T) {
	mgr, _, events := newStressTestManager(t)

	// Six quiet returns followed by two violent ones: the short window
	// volatility dwarfs the baseline.
	quiet := 0.0001
	violent := 0.05
	feedReturns(mgr, "EUR_USD", []float64{
		quiet, -quiet, quiet, -quiet, quiet, -quiet, violent, -violent,
	})

	assert.Equal(t, len(*events), 1)
	event := (*events)[0]
	assert.Equal(t, event.Instrument, "EUR_USD")
	assert.Equal(t, event.Kind, shared.VolatilitySpike)
	assert.GreaterThanOrEqual(t, event.Severity, shared.StressSeverityThreshold)

	active, ok := mgr.ActiveStress("EUR_USD")
	assert.True(t, ok)
	assert.Equal(t, active.Severity, event.Severity)
}

func TestStressNotDetectedWhenQuiet(t *testing.T) {
	mgr, _, events := newStressTestManager(t)

	quiet := 0.0001
	feedReturns(mgr, "EUR_USD", []float64{
		quiet, -quiet, quiet, -quiet, quiet, -quiet, quiet, -quiet, quiet, -quiet,
	})

	assert.Equal(t, len(*events), 0)

	_, ok := mgr.ActiveStress("EUR_USD")
	assert.False(t, ok)
}

func TestStressRequiresPopulatedBaseline(t *testing.T) {
	mgr, _, events := newStressTestManager(t)

	// Violent returns before the baseline fills must not trigger detection.
	violent := 0.05
	feedReturns(mgr, "EUR_USD", []float64{violent, -violent, violent})

	assert.Equal(t, len(*events), 0)
}

func TestStressEventExpires(t *testing.T) {
	mgr, clock, _ := newStressTestManager(t)

	mgr.InjectStressEvent(shared.StressEvent{
		Instrument: "EUR_USD",
		Timeframe:  shared.FourHour,
		Severity:   2.4,
		Kind:       shared.VolatilitySpike,
		DetectedOn: clock.Now(),
	})

	_, ok := mgr.ActiveStress("EUR_USD")
	assert.True(t, ok)

	clock.Advance(time.Hour + time.Minute)
	_, ok = mgr.ActiveStress("EUR_USD")
	assert.False(t, ok)
}

func TestInjectStressEventKeepsWorst(t *testing.T) {
	mgr, clock, _ := newStressTestManager(t)

	mgr.InjectStressEvent(shared.StressEvent{
		Instrument: "EUR_USD",
		Severity:   2.8,
		DetectedOn: clock.Now(),
	})
	mgr.InjectStressEvent(shared.StressEvent{
		Instrument: "EUR_USD",
		Severity:   2.1,
		DetectedOn: clock.Now().Add(-time.Minute),
	})

	active, ok := mgr.ActiveStress("EUR_USD")
	assert.True(t, ok)
	assert.Equal(t, active.Severity, 2.8)
}

func TestStressEventCritical(t *testing.T) {
	moderate := shared.StressEvent{Severity: 2.4}
	assert.False(t, moderate.Critical())

	critical := shared.StressEvent{Severity: 3.1}
	assert.True(t, critical.Critical())
}
