package dedup

import (
	"errors"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
)

const (
	// ttlTimeframeFactor scales the slowest timeframe into the fingerprint
	// retention window.
	ttlTimeframeFactor = 2
	// cleanupInterval is how often expired fingerprints are purged.
	cleanupInterval = time.Minute * 5
)

// DeduplicatorConfig represents the configuration for the deduplicator.
type DeduplicatorConfig struct {
	// SlowestTimeframe is the widest configured bar width, sizing the
	// fingerprint retention window.
	SlowestTimeframe time.Duration
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Validate asserts the config has sane inputs.
func (cfg *DeduplicatorConfig) Validate() error {
	var errs error

	if cfg.SlowestTimeframe <= 0 {
		errs = errors.Join(errs, fmt.Errorf("slowest timeframe must be positive, got %s",
			cfg.SlowestTimeframe))
	}
	if cfg.Logger == nil {
		errs = errors.Join(errs, fmt.Errorf("logger cannot be nil"))
	}

	return errs
}

// Deduplicator suppresses signal candidates whose fingerprint was already
// seen within the retention window.
type Deduplicator struct {
	cfg   *DeduplicatorConfig
	cache *gocache.Cache
}

// NewDeduplicator initializes a new deduplicator.
func NewDeduplicator(cfg *DeduplicatorConfig) (*Deduplicator, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	ttl := cfg.SlowestTimeframe * ttlTimeframeFactor
	return &Deduplicator{
		cfg:   cfg,
		cache: gocache.New(ttl, cleanupInterval),
	}, nil
}

// Seen records the provided fingerprint, reporting whether it was already
// present within the retention window.
func (d *Deduplicator) Seen(fingerprint string) bool {
	err := d.cache.Add(fingerprint, struct{}{}, gocache.DefaultExpiration)
	return err != nil
}

// Len returns the number of retained fingerprints.
func (d *Deduplicator) Len() int {
	return d.cache.ItemCount()
}
