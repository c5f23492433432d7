package indicator

import (
	"testing"

	"github.com/peterldowns/testy/assert"
)

// wilderReference computes the average true range over the full series, the
// seed being the arithmetic mean of the first period true ranges.
func wilderReference(period int, trs []float64) float64 {
	var seed float64
	for i := range period {
		seed += trs[i]
	}
	value := seed / float64(period)

	for i := period; i < len(trs); i++ {
		value = (value*float64(period-1) + trs[i]) / float64(period)
	}

	return value
}

func testTrueRanges(n int) []float64 {
	trs := make([]float64, n)
	for i := range n {
		trs[i] = float64((i*104729)%17+1) / 10
	}

	return trs
}

func TestATRWarmGate(t *testing.T) {
	atr := NewATR(3, 8)

	atr.Update(1)
	atr.Update(2)
	_, ok := atr.Value()
	assert.False(t, ok)
	_, ok = atr.Replay()
	assert.False(t, ok)

	atr.Update(3)
	value, ok := atr.Value()
	assert.True(t, ok)
	assert.Equal(t, value, 2.0)

	_, ok = atr.Prev()
	assert.False(t, ok)

	atr.Update(4)
	prev, ok := atr.Prev()
	assert.True(t, ok)
	assert.Equal(t, prev, 2.0)
}

func TestATRMatchesFullRecompute(t *testing.T) {
	const period = 3
	trs := testTrueRanges(60)

	atr := NewATR(period, 7)
	for i := range trs {
		atr.Update(trs[i])

		value, ok := atr.Value()
		if !ok {
			continue
		}

		want := wilderReference(period, trs[:i+1])
		if value != want {
			t.Fatalf("true range %d: incremental %v != full recompute %v", i, value, want)
		}
	}
}

func TestATRReplayMatchesIncremental(t *testing.T) {
	const period = 5

	// A capacity barely above the period forces evictions through the seed
	// region and across the anchor boundary.
	atr := NewATR(period, period+2)
	for _, tr := range testTrueRanges(100) {
		atr.Update(tr)

		value, ok := atr.Value()
		if !ok {
			continue
		}

		replayed, ok := atr.Replay()
		assert.True(t, ok)
		if replayed != value {
			t.Fatalf("replay %v != incremental %v after %d true ranges", replayed, value, atr.total)
		}
	}
}

func TestATRResync(t *testing.T) {
	atr := NewATR(3, 8)
	for _, tr := range testTrueRanges(20) {
		atr.Update(tr)
	}

	replayed, ok := atr.Replay()
	assert.True(t, ok)

	// Force drift on the incremental value and resync from the replay.
	atr.value += 1
	atr.Resync()

	value, ok := atr.Value()
	assert.True(t, ok)
	assert.Equal(t, value, replayed)
}
