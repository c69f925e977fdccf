// Package journal keeps a fixed-capacity ring of recently accepted state
// updates for diagnostics. When full, the oldest entries are overwritten.
package journal

import (
	"sync"
	"time"
)

// Entry records one accepted state update.
type Entry struct {
	Keys   []string  `json:"keys"`
	Source string    `json:"source"`
	At     time.Time `json:"at"`
}

// Journal is a thread-safe ring buffer of Entries.
type Journal struct {
	mu      sync.RWMutex
	entries []Entry
	start   int // index of the oldest entry
	count   int
}

// New creates a Journal holding at most capacity entries. Capacity values
// below 1 are treated as 1.
func New(capacity int) *Journal {
	if capacity < 1 {
		capacity = 1
	}
	return &Journal{
		entries: make([]Entry, capacity),
	}
}

// Append records e, overwriting the oldest entry when the ring is full.
func (j *Journal) Append(e Entry) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.count < len(j.entries) {
		j.entries[(j.start+j.count)%len(j.entries)] = e
		j.count++
		return
	}
	j.entries[j.start] = e
	j.start = (j.start + 1) % len(j.entries)
}

// Entries returns the recorded entries, oldest first.
func (j *Journal) Entries() []Entry {
	j.mu.RLock()
	defer j.mu.RUnlock()

	out := make([]Entry, j.count)
	for i := 0; i < j.count; i++ {
		out[i] = j.entries[(j.start+i)%len(j.entries)]
	}
	return out
}

// Len returns the number of recorded entries.
func (j *Journal) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.count
}

// Cap returns the ring capacity.
func (j *Journal) Cap() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.entries)
}
