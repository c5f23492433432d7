package shared

import (
	"math"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
)

func TestRiskReward(t *testing.T) {
	tests := []struct {
		name   string
		signal Signal
		want   float64
	}{
		{
			name: "long two to one",
			signal: Signal{
				Direction:  Long,
				EntryPrice: 1.1000,
				StopLoss:   1.0950,
				TakeProfit: 1.1100,
			},
			want: 2,
		},
		{
			name: "short three to one",
			signal: Signal{
				Direction:  Short,
				EntryPrice: 1.1000,
				StopLoss:   1.1050,
				TakeProfit: 1.0850,
			},
			want: 3,
		},
		{
			name: "long with inverted stop",
			signal: Signal{
				Direction:  Long,
				EntryPrice: 1.1000,
				StopLoss:   1.1100,
				TakeProfit: 1.1200,
			},
			want: 0,
		},
	}

	for _, test := range tests {
		rr := test.signal.RiskReward()
		if math.Abs(rr-test.want) > 1e-9 {
			t.Errorf("%s: expected reward to risk %v, got %v", test.name, test.want, rr)
		}
	}
}

func TestSignalFingerprint(t *testing.T) {
	barOpenTime := time.Date(2024, 6, 3, 12, 0, 0, 0, time.UTC)

	fingerprint := SignalFingerprint("ma-cross-1", "EUR_USD", FourHour, Long, barOpenTime)
	assert.NotEqual(t, fingerprint, "")

	// Ensure the fingerprint is deterministic.
	again := SignalFingerprint("ma-cross-1", "EUR_USD", FourHour, Long, barOpenTime)
	assert.Equal(t, fingerprint, again)

	// Ensure every keyed field contributes to the fingerprint.
	assert.NotEqual(t, fingerprint,
		SignalFingerprint("ma-cross-2", "EUR_USD", FourHour, Long, barOpenTime))
	assert.NotEqual(t, fingerprint,
		SignalFingerprint("ma-cross-1", "GBP_USD", FourHour, Long, barOpenTime))
	assert.NotEqual(t, fingerprint,
		SignalFingerprint("ma-cross-1", "EUR_USD", OneHour, Long, barOpenTime))
	assert.NotEqual(t, fingerprint,
		SignalFingerprint("ma-cross-1", "EUR_USD", FourHour, Short, barOpenTime))
	assert.NotEqual(t, fingerprint,
		SignalFingerprint("ma-cross-1", "EUR_USD", FourHour, Long, barOpenTime.Add(time.Hour*4)))

	// Ensure equivalent times in different locations fingerprint identically.
	loc := time.FixedZone("UTC+2", 2*60*60)
	assert.Equal(t, fingerprint,
		SignalFingerprint("ma-cross-1", "EUR_USD", FourHour, Long, barOpenTime.In(loc)))
}
