package shared

import (
	"time"
)

// DeliveryAttempt represents a recorded webhook delivery attempt for a signal.
type DeliveryAttempt struct {
	SignalID      string
	ChannelID     string
	AttemptNumber int
	ScheduledOn   time.Time
	LastStatus    int
	LastError     string
	NextRetryOn   time.Time
}
