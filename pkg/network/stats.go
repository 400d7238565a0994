package network

import (
	"time"
)

// Stats is a point in time view of the relay, published by the event loop
// after every wake-up. Readers on other goroutines only ever see whole snapshots.
type Stats struct {
	Listening    string         `json:"listening"`
	StartedAt    time.Time      `json:"started_at"`
	Capacity     int            `json:"capacity"`
	Connected    int            `json:"connected"`
	Identities   []int          `json:"identities"`
	Accepted     uint64         `json:"accepted"`
	Rejected     uint64         `json:"rejected"`
	Disconnected uint64         `json:"disconnected"`
	Routing      RouterCounters `json:"routing"`
}

// Uptime returns time since the loop started
func (s Stats) Uptime() time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	return time.Since(s.StartedAt)
}
