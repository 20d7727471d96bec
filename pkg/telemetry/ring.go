package telemetry

import (
	"sync"
	"time"
)

// Sample is one handled message: how long it took, a short summary of what
// it was, and when it happened.
type Sample struct {
	Latency time.Duration `json:"latency_ns"`
	Summary string        `json:"summary"`
	At      time.Time     `json:"at"`
}

// Ring is a bounded, append-only window over the most recent samples.
type Ring struct {
	mu      sync.Mutex
	samples []Sample
	size    int
}

// NewRing returns a ring keeping the last size samples.
func NewRing(size int) *Ring {
	if size <= 0 {
		size = 1
	}
	return &Ring{size: size}
}

// Add appends a sample, discarding the oldest when full.
func (r *Ring) Add(latency time.Duration, summary string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, Sample{Latency: latency, Summary: summary, At: time.Now().UTC()})
	if len(r.samples) > r.size {
		r.samples = r.samples[len(r.samples)-r.size:]
	}
}

// Snapshot returns a copy of the current window, oldest first.
func (r *Ring) Snapshot() []Sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Sample(nil), r.samples...)
}

// Len returns the number of retained samples.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.samples)
}

// The protocol server records every handled message in Requests and every
// handler failure in Errors; both feed the stats endpoint.
var (
	Requests = NewRing(1000)
	Errors   = NewRing(100)
)
