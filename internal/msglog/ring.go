// Package msglog keeps a bounded in-memory history of recent dispatch
// attempts for the dashboard. History is intentionally not durable.
package msglog

import (
	"sync"
	"time"
)

// DefaultCapacity is the number of entries retained before eviction.
const DefaultCapacity = 100

// excerptLimit bounds how much of a message body is retained per entry.
const excerptLimit = 80

// Entry records the outcome of one dispatch attempt.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Target    string    `json:"target"`
	Excerpt   string    `json:"message"`
	Success   bool      `json:"success"`
	MessageID string    `json:"id,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Ring is a fixed-capacity FIFO buffer of dispatch log entries.
type Ring struct {
	mu       sync.Mutex
	entries  []Entry
	capacity int
}

// NewRing creates a ring with the given capacity. Non-positive capacity
// falls back to DefaultCapacity.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{capacity: capacity}
}

// Append pushes an entry, evicting the oldest once capacity is exceeded.
func (r *Ring) Append(e Entry) {
	e.Excerpt = Excerpt(e.Excerpt)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	if len(r.entries) > r.capacity {
		r.entries = r.entries[len(r.entries)-r.capacity:]
	}
}

// Recent returns a copy of the entries, most recent first.
func (r *Ring) Recent() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	for i, e := range r.entries {
		out[len(r.entries)-1-i] = e
	}
	return out
}

// Len returns the current number of entries.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Excerpt truncates a message body to the retained excerpt length.
func Excerpt(body string) string {
	runes := []rune(body)
	if len(runes) <= excerptLimit {
		return body
	}
	return string(runes[:excerptLimit]) + "…"
}
