package indicator

// ATR represents an incrementally updated average true range using Wilder
// smoothing, seeded with the arithmetic mean of the first period true ranges.
//
// A bounded ring of recent true ranges plus an anchor value (the smoothed
// average as of just before the oldest retained true range) allows replaying
// the retained history to verify the incremental value.
type ATR struct {
	period int

	// Seed phase accumulator.
	seedSum float64
	seedATR float64

	// trs is a ring of the most recent true ranges.
	trs      []float64
	start    int
	count    int
	total    int
	anchor   float64
	anchored bool

	value float64
	prev  float64
}

// NewATR initializes an average true range of the provided period retaining
// up to capacity true ranges for replay verification.
func NewATR(period int, capacity int) *ATR {
	return &ATR{
		period: period,
		trs:    make([]float64, capacity),
	}
}

// Update advances the average true range with the provided true range.
func (a *ATR) Update(tr float64) {
	a.prev = a.value
	a.total++

	switch {
	case a.total < a.period:
		a.seedSum += tr
	case a.total == a.period:
		a.seedSum += tr
		a.seedATR = a.seedSum / float64(a.period)
		a.value = a.seedATR
	default:
		a.value = (a.value*float64(a.period-1) + tr) / float64(a.period)
	}

	a.push(tr)
}

// push adds the true range to the retained ring, advancing the anchor when
// an eviction crosses the seed boundary.
func (a *ATR) push(tr float64) {
	capacity := len(a.trs)
	if a.count == capacity {
		evicted := a.trs[a.start]
		evictedIndex := a.total - capacity

		switch {
		case evictedIndex == a.period:
			a.anchor = a.seedATR
			a.anchored = true
		case evictedIndex > a.period:
			a.anchor = (a.anchor*float64(a.period-1) + evicted) / float64(a.period)
		default:
			// Evictions within the seed region leave the seed value as the
			// replay starting point.
		}

		a.trs[a.start] = tr
		a.start = (a.start + 1) % capacity
	} else {
		a.trs[(a.start+a.count)%capacity] = tr
		a.count++
	}
}

// Replay folds the retained true ranges from the replay starting point,
// producing the reference value for drift checks on the incremental update.
func (a *ATR) Replay() (float64, bool) {
	if a.total < a.period {
		return 0, false
	}

	capacity := len(a.trs)
	oldestIndex := a.total - a.count + 1

	var value float64
	var from int
	switch {
	case a.anchored:
		// All retained true ranges postdate the seed region.
		value = a.anchor
		from = 0
	default:
		// The seed value covers true ranges up to the period boundary, fold
		// the retained true ranges after it.
		value = a.seedATR
		from = a.period - oldestIndex + 1
	}

	for i := from; i < a.count; i++ {
		tr := a.trs[(a.start+i)%capacity]
		value = (value*float64(a.period-1) + tr) / float64(a.period)
	}

	return value, true
}

// Value returns the current average true range, false when fewer true ranges
// than the period have been ingested.
func (a *ATR) Value() (float64, bool) {
	return a.value, a.total >= a.period
}

// Prev returns the average true range as of the previous bar.
func (a *ATR) Prev() (float64, bool) {
	return a.prev, a.total >= a.period+1
}

// Resync replaces the incremental value with the replayed reference value.
func (a *ATR) Resync() {
	value, ok := a.Replay()
	if ok {
		a.value = value
	}
}
