package shared

import (
	"time"

	"go.uber.org/atomic"
)

// Health tracks component health counters.
type Health struct {
	success       atomic.Uint64
	transientFail atomic.Uint64
	permanentFail atomic.Uint64
	lastError     atomic.Time
	lastSuccess   atomic.Time
}

// HealthSnapshot represents a point-in-time read of component health counters.
type HealthSnapshot struct {
	Success       uint64
	TransientFail uint64
	PermanentFail uint64
	LastError     time.Time
	LastSuccess   time.Time
}

// RecordSuccess increments the success counter.
func (h *Health) RecordSuccess() {
	h.success.Inc()
	h.lastSuccess.Store(time.Now().UTC())
}

// RecordTransientFail increments the transient failure counter.
func (h *Health) RecordTransientFail() {
	h.transientFail.Inc()
	h.lastError.Store(time.Now().UTC())
}

// RecordPermanentFail increments the permanent failure counter.
func (h *Health) RecordPermanentFail() {
	h.permanentFail.Inc()
	h.lastError.Store(time.Now().UTC())
}

// Snapshot returns a consistent snapshot of the health counters.
func (h *Health) Snapshot() HealthSnapshot {
	return HealthSnapshot{
		Success:       h.success.Load(),
		TransientFail: h.transientFail.Load(),
		PermanentFail: h.permanentFail.Load(),
		LastError:     h.lastError.Load(),
		LastSuccess:   h.lastSuccess.Load(),
	}
}
