package state

// Listener observes hub state changes. StateChanged receives the
// authoritative mutated state, not a snapshot; implementations must not
// retain or mutate it outside the callback.
type Listener interface {
	StateChanged(s State)
}

// Func wraps a plain function as a Listener. Each call returns a distinct
// identity, so the returned value must be kept to remove the registration
// later.
func Func(fn func(s State)) Listener {
	return &funcListener{fn: fn}
}

type funcListener struct {
	fn func(s State)
}

func (f *funcListener) StateChanged(s State) { f.fn(s) }

// ListenerList is an ordered listener registry. Insertion order determines
// notification order. Duplicate registrations are allowed; removal is by
// interface identity and removes one registration per call. Listeners must
// be comparable values (pointers, typically).
type ListenerList struct {
	listeners []Listener
}

// Add appends l to the registry.
func (ll *ListenerList) Add(l Listener) {
	ll.listeners = append(ll.listeners, l)
}

// Remove deletes the first registration identical to l. It returns true if
// a registration was removed.
func (ll *ListenerList) Remove(l Listener) bool {
	for i, reg := range ll.listeners {
		if reg == l {
			ll.listeners = append(ll.listeners[:i], ll.listeners[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of registrations.
func (ll *ListenerList) Len() int {
	return len(ll.listeners)
}

// Notify invokes every registered listener, in order, with s. Delivery is
// synchronous; a panicking listener propagates to the caller.
func (ll *ListenerList) Notify(s State) {
	for _, l := range ll.listeners {
		l.StateChanged(s)
	}
}
