package shared

import (
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
)

func TestTimeframeString(t *testing.T) {
	tests := []struct {
		name      string
		timeframe Timeframe
		want      string
	}{
		{
			"Five Minute",
			FiveMinute,
			"M5",
		},
		{
			"Four Hour",
			FourHour,
			"H4",
		},
		{
			"One Week",
			OneWeek,
			"W",
		},
		{
			"unknown",
			Timeframe(999),
			"unknown",
		},
	}

	for _, test := range tests {
		str := test.timeframe.String()
		if str != test.want {
			t.Errorf("%s: expected %v, got %v", test.name, test.want, str)
		}
	}
}

func TestParseTimeframe(t *testing.T) {
	// Ensure every stringified timeframe parses back to itself.
	for _, timeframe := range []Timeframe{FiveMinute, FifteenMinute, OneHour, FourHour, OneDay, OneWeek} {
		parsed, err := ParseTimeframe(timeframe.String())
		assert.NoError(t, err)
		assert.Equal(t, parsed, timeframe)
	}

	// Ensure an error is returned for an unknown timeframe name.
	_, err := ParseTimeframe("M1")
	assert.Error(t, err)
}

func TestPollInterval(t *testing.T) {
	// Ensure the polling interval is bounded for every timeframe.
	for _, timeframe := range []Timeframe{FiveMinute, FifteenMinute, OneHour, FourHour, OneDay, OneWeek} {
		interval := timeframe.PollInterval()
		assert.GreaterThanOrEqual(t, interval, time.Second*5)
		assert.LessThanOrEqual(t, interval, time.Second*60)
	}
}

func TestSlowestTimeframe(t *testing.T) {
	slowest := SlowestTimeframe([]Timeframe{FiveMinute, FourHour, OneHour})
	assert.Equal(t, slowest, FourHour)

	slowest = SlowestTimeframe([]Timeframe{OneWeek, OneDay})
	assert.Equal(t, slowest, OneWeek)
}

func TestOpenTimeAlignment(t *testing.T) {
	at := time.Date(2024, 6, 3, 13, 47, 21, 0, time.UTC)

	aligned := AlignOpenTime(at, OneHour)
	assert.Equal(t, aligned, time.Date(2024, 6, 3, 13, 0, 0, 0, time.UTC))

	next := NextOpenTime(at, OneHour)
	assert.Equal(t, next, time.Date(2024, 6, 3, 14, 0, 0, 0, time.UTC))

	// Ensure an already aligned time is unchanged.
	aligned = AlignOpenTime(aligned, OneHour)
	assert.Equal(t, aligned, time.Date(2024, 6, 3, 13, 0, 0, 0, time.UTC))
}
