package indicator

// SMA represents an incrementally updated simple moving average over closes.
type SMA struct {
	period int
	closes []float64
	start  int
	count  int
	total  int
	sum    float64
	value  float64
	prev   float64
}

// NewSMA initializes a simple moving average of the provided period.
func NewSMA(period int) *SMA {
	return &SMA{
		period: period,
		closes: make([]float64, period),
	}
}

// Update advances the moving average with the provided close.
func (s *SMA) Update(close float64) {
	s.prev = s.value

	if s.count == s.period {
		// Evict the oldest close when the window is at capacity.
		s.sum -= s.closes[s.start]
		s.closes[s.start] = close
		s.start = (s.start + 1) % s.period
	} else {
		s.closes[(s.start+s.count)%s.period] = close
		s.count++
	}

	s.total++
	s.sum += close
	s.value = s.sum / float64(s.period)
}

// Recompute returns the average produced by summing the retained closes from
// oldest to newest, the reference value for drift checks on the running sum.
func (s *SMA) Recompute() float64 {
	if s.count < s.period {
		return 0
	}

	var sum float64
	for i := range s.period {
		sum += s.closes[(s.start+i)%s.period]
	}

	return sum / float64(s.period)
}

// Resync replaces the running sum with the recomputed reference value.
func (s *SMA) Resync() {
	if s.count < s.period {
		return
	}

	var sum float64
	for i := range s.period {
		sum += s.closes[(s.start+i)%s.period]
	}

	s.sum = sum
	s.value = sum / float64(s.period)
}

// Value returns the current moving average, false when fewer closes than the
// period have been ingested.
func (s *SMA) Value() (float64, bool) {
	return s.value, s.total >= s.period
}

// Prev returns the moving average as of the previous close, false when the
// previous close had ingested fewer closes than the period.
func (s *SMA) Prev() (float64, bool) {
	return s.prev, s.total >= s.period+1
}
