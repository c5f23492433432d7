package shared

import (
	"fmt"
	"math"
	"time"
)

// Candlestick represents a unit candlestick for an instrument and timeframe.
type Candlestick struct {
	Open   float64
	Low    float64
	High   float64
	Close  float64
	Volume float64

	// OpenTime is the open time of the bar, keyed uniquely with the
	// instrument and timeframe.
	OpenTime time.Time
	// Complete indicates whether the bar has closed.
	Complete bool

	Instrument string
	Timeframe  Timeframe
}

// Validate asserts the candlestick satisfies the OHLC invariants.
func (c *Candlestick) Validate() error {
	bodyLow := math.Min(c.Open, c.Close)
	bodyHigh := math.Max(c.Open, c.Close)

	switch {
	case c.Low > bodyLow:
		return fmt.Errorf("%s %s candle at %s has low %f above body low %f",
			c.Instrument, c.Timeframe.String(), c.OpenTime.Format(time.RFC3339), c.Low, bodyLow)
	case c.High < bodyHigh:
		return fmt.Errorf("%s %s candle at %s has high %f below body high %f",
			c.Instrument, c.Timeframe.String(), c.OpenTime.Format(time.RFC3339), c.High, bodyHigh)
	case c.Volume < 0:
		return fmt.Errorf("%s %s candle at %s has negative volume %f",
			c.Instrument, c.Timeframe.String(), c.OpenTime.Format(time.RFC3339), c.Volume)
	default:
		return nil
	}
}

// TrueRange returns the true range of the candle given the close of the preceding candle.
func (c *Candlestick) TrueRange(prevClose float64) float64 {
	return math.Max(c.High-c.Low,
		math.Max(math.Abs(c.High-prevClose), math.Abs(c.Low-prevClose)))
}
