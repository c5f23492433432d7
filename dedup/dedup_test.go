package dedup

import (
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/rs/zerolog"
)

func TestDeduplicatorConfigValidate(t *testing.T) {
	logger := zerolog.Nop()

	_, err := NewDeduplicator(&DeduplicatorConfig{Logger: &logger})
	assert.Error(t, err)

	_, err = NewDeduplicator(&DeduplicatorConfig{SlowestTimeframe: time.Hour * 4})
	assert.Error(t, err)

	_, err = NewDeduplicator(&DeduplicatorConfig{
		SlowestTimeframe: time.Hour * 4,
		Logger:           &logger,
	})
	assert.NoError(t, err)
}

func TestSeen(t *testing.T) {
	logger := zerolog.Nop()
	dedup, err := NewDeduplicator(&DeduplicatorConfig{
		SlowestTimeframe: time.Hour * 4,
		Logger:           &logger,
	})
	assert.NoError(t, err)

	// The first sighting of a fingerprint records it.
	assert.False(t, dedup.Seen("fp-1"))
	assert.Equal(t, dedup.Len(), 1)

	// Repeats within the retention window are duplicates.
	assert.True(t, dedup.Seen("fp-1"))
	assert.True(t, dedup.Seen("fp-1"))
	assert.Equal(t, dedup.Len(), 1)

	// Distinct fingerprints are independent.
	assert.False(t, dedup.Seen("fp-2"))
	assert.Equal(t, dedup.Len(), 2)
}
