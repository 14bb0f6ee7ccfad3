package reconcile

import (
	"sync"
	"time"
)

// HeartbeatRegistry records the last time traffic was seen per logical
// channel. Other subsystems read it to detect channel silence; the registry
// itself draws no conclusions.
type HeartbeatRegistry struct {
	mu    sync.RWMutex
	beats map[string]time.Time
}

func NewHeartbeatRegistry() *HeartbeatRegistry {
	return &HeartbeatRegistry{beats: make(map[string]time.Time)}
}

// Beat records a liveness timestamp for the channel.
func (r *HeartbeatRegistry) Beat(channel string, ts time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.beats[channel] = ts
}

// Last returns the most recent heartbeat for the channel.
func (r *HeartbeatRegistry) Last(channel string) (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ts, ok := r.beats[channel]
	return ts, ok
}

// Snapshot copies all recorded heartbeats.
func (r *HeartbeatRegistry) Snapshot() map[string]time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]time.Time, len(r.beats))
	for ch, ts := range r.beats {
		out[ch] = ts
	}
	return out
}
