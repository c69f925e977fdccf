// Package state defines the shared hub state model: a flat key/value mapping
// merged shallowly on every update, plus the listener registry used to
// observe changes.
package state

// Well-known keys maintained by the client itself rather than the hub.
const (
	// KeyStatus holds the client-local connection status. The hub never
	// writes this key; incoming merges must not overwrite it.
	KeyStatus = "status"

	// KeyUpdates counts the state-bearing frames merged into a mirror.
	KeyUpdates = "updates"
)

// Connection status values stored under KeyStatus.
const (
	StatusOffline    = "offline"
	StatusConnecting = "connecting"
	StatusOnline     = "online"
)

// State is a mutable mapping from string keys to JSON-decoded values.
type State map[string]any

// Merge applies partial onto s key by key, last key wins. The KeyStatus
// entry is client-local and is skipped if present in partial.
func (s State) Merge(partial State) {
	for k, v := range partial {
		if k == KeyStatus {
			continue
		}
		s[k] = v
	}
}

// Clone returns a shallow copy of s. Values are shared, not deep-copied.
func (s State) Clone() State {
	out := make(State, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Status returns the connection status stored in s, or StatusOffline when
// the key is missing or not a string.
func (s State) Status() string {
	if v, ok := s[KeyStatus].(string); ok {
		return v
	}
	return StatusOffline
}
