package shared

import (
	"fmt"
	"time"
)

const (
	// minPollInterval is the minimum market data polling interval.
	minPollInterval = time.Second * 5
	// maxPollInterval is the maximum market data polling interval.
	maxPollInterval = time.Second * 60
)

// Timeframe represents the market data bar width.
type Timeframe int

const (
	FiveMinute Timeframe = iota
	FifteenMinute
	OneHour
	FourHour
	OneDay
	OneWeek
)

// String stringifies the provided timeframe.
func (t Timeframe) String() string {
	switch t {
	case FiveMinute:
		return "M5"
	case FifteenMinute:
		return "M15"
	case OneHour:
		return "H1"
	case FourHour:
		return "H4"
	case OneDay:
		return "D"
	case OneWeek:
		return "W"
	default:
		return "unknown"
	}
}

// Duration returns the bar width of the provided timeframe.
func (t Timeframe) Duration() time.Duration {
	switch t {
	case FiveMinute:
		return time.Minute * 5
	case FifteenMinute:
		return time.Minute * 15
	case OneHour:
		return time.Hour
	case FourHour:
		return time.Hour * 4
	case OneDay:
		return time.Hour * 24
	case OneWeek:
		return time.Hour * 24 * 7
	default:
		return 0
	}
}

// PollInterval returns the market data polling interval for the timeframe,
// being a quarter of the bar width bounded to [5s, 60s].
func (t Timeframe) PollInterval() time.Duration {
	interval := t.Duration() / 4
	switch {
	case interval < minPollInterval:
		return minPollInterval
	case interval > maxPollInterval:
		return maxPollInterval
	default:
		return interval
	}
}

// ParseTimeframe parses a timeframe from the provided string.
func ParseTimeframe(name string) (Timeframe, error) {
	switch name {
	case "M5":
		return FiveMinute, nil
	case "M15":
		return FifteenMinute, nil
	case "H1":
		return OneHour, nil
	case "H4":
		return FourHour, nil
	case "D":
		return OneDay, nil
	case "W":
		return OneWeek, nil
	default:
		return 0, fmt.Errorf("unknown timeframe: %s", name)
	}
}

// SlowestTimeframe returns the timeframe with the widest bar from the provided set.
func SlowestTimeframe(timeframes []Timeframe) Timeframe {
	var slowest Timeframe
	for idx := range timeframes {
		if timeframes[idx].Duration() > slowest.Duration() {
			slowest = timeframes[idx]
		}
	}

	return slowest
}

// AlignOpenTime truncates the provided time to the open time of the bar containing it.
func AlignOpenTime(t time.Time, timeframe Timeframe) time.Time {
	return t.UTC().Truncate(timeframe.Duration())
}

// NextOpenTime returns the open time of the bar immediately after the one containing
// the provided time.
func NextOpenTime(t time.Time, timeframe Timeframe) time.Time {
	return AlignOpenTime(t, timeframe).Add(timeframe.Duration())
}
