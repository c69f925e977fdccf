// Package signaling correlates SDP offers relayed to the robot client with
// the answers it sends back over the hub socket.
package signaling

import (
	"sync"

	"github.com/google/uuid"

	"github.com/robot-teleop/hub/internal/protocol"
)

// Exchange tracks in-flight offers by correlation ID. One waiter per offer;
// an answer with an unknown or already-resolved ID is dropped.
type Exchange struct {
	mu      sync.Mutex
	waiters map[string]chan protocol.SessionDescription
}

// NewExchange creates an empty Exchange.
func NewExchange() *Exchange {
	return &Exchange{
		waiters: make(map[string]chan protocol.SessionDescription),
	}
}

// Register allocates a correlation ID for a new offer and returns the
// channel its answer will arrive on. The caller must Cancel the ID if it
// gives up waiting.
func (e *Exchange) Register() (string, <-chan protocol.SessionDescription) {
	id := uuid.NewString()
	ch := make(chan protocol.SessionDescription, 1)

	e.mu.Lock()
	e.waiters[id] = ch
	e.mu.Unlock()

	return id, ch
}

// Resolve delivers answer to the waiter registered under id. It returns
// false when no such waiter exists.
func (e *Exchange) Resolve(id string, answer protocol.SessionDescription) bool {
	e.mu.Lock()
	ch, ok := e.waiters[id]
	if ok {
		delete(e.waiters, id)
	}
	e.mu.Unlock()

	if !ok {
		return false
	}
	ch <- answer
	return true
}

// Cancel discards the waiter registered under id.
func (e *Exchange) Cancel(id string) {
	e.mu.Lock()
	delete(e.waiters, id)
	e.mu.Unlock()
}

// Pending returns the number of unanswered offers.
func (e *Exchange) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.waiters)
}
