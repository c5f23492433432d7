package indicator

import (
	"fmt"
	"sync"
	"time"

	"github.com/dnldd/fxsignal/shared"
	"github.com/rs/zerolog"
)

// CacheConfig represents the configuration for the indicator cache.
type CacheConfig struct {
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Cache maintains indicator windows keyed by instrument and timeframe.
type Cache struct {
	cfg     *CacheConfig
	mtx     sync.RWMutex
	windows map[string]*Window
}

// NewCache initializes a new indicator cache.
func NewCache(cfg *CacheConfig) *Cache {
	return &Cache{
		cfg:     cfg,
		windows: make(map[string]*Window),
	}
}

// windowKey generates the cache key for the provided instrument and timeframe.
func windowKey(instrument string, timeframe shared.Timeframe) string {
	return fmt.Sprintf("%s:%s", instrument, timeframe.String())
}

// Ensure creates the window for the provided instrument and timeframe if it
// does not exist yet, registering generators for the provided periods.
func (c *Cache) Ensure(instrument string, timeframe shared.Timeframe, periods []Periods) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	key := windowKey(instrument, timeframe)
	if _, ok := c.windows[key]; !ok {
		c.windows[key] = NewWindow(instrument, timeframe, periods, c.cfg.Logger)
	}
}

// window fetches the window for the provided instrument and timeframe.
func (c *Cache) window(instrument string, timeframe shared.Timeframe) (*Window, error) {
	c.mtx.RLock()
	defer c.mtx.RUnlock()

	window, ok := c.windows[windowKey(instrument, timeframe)]
	if !ok {
		return nil, fmt.Errorf("no indicator window for %s %s", instrument, timeframe.String())
	}

	return window, nil
}

// OnCandle advances the window owning the provided candle.
func (c *Cache) OnCandle(candle *shared.Candlestick) error {
	window, err := c.window(candle.Instrument, candle.Timeframe)
	if err != nil {
		return err
	}

	return window.OnCandle(candle)
}

// StateFor returns the indicator state snapshot for the provided instrument,
// timeframe and periods.
func (c *Cache) StateFor(instrument string, timeframe shared.Timeframe, periods Periods) (State, error) {
	window, err := c.window(instrument, timeframe)
	if err != nil {
		return State{}, err
	}

	return window.StateFor(periods), nil
}

// WarmUp bulk loads historical candles into the owning window.
func (c *Cache) WarmUp(instrument string, timeframe shared.Timeframe, history []shared.Candlestick) error {
	window, err := c.window(instrument, timeframe)
	if err != nil {
		return err
	}

	return window.WarmUp(history)
}

// LastOpenTime returns the open time of the most recent candle ingested for
// the provided instrument and timeframe.
func (c *Cache) LastOpenTime(instrument string, timeframe shared.Timeframe) (time.Time, error) {
	window, err := c.window(instrument, timeframe)
	if err != nil {
		return time.Time{}, err
	}

	return window.LastOpenTime(), nil
}
