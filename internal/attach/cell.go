package attach

// Cell holds a value and broadcasts every change to its subscribers.
//
// A Cell is not safe for concurrent use. Every Cell owned by an Orchestrator
// is only touched from the orchestrator's loop goroutine.
type Cell[T comparable] struct {
	value T
	subs  []*cellSubscription[T]
}

type cellSubscription[T comparable] struct {
	fn     func(T)
	active bool
}

// NewCell creates a cell holding the initial value.
func NewCell[T comparable](initial T) *Cell[T] {
	return &Cell[T]{value: initial}
}

// Get returns the current value.
func (c *Cell[T]) Get() T {
	return c.value
}

// Set stores v and notifies subscribers if it differs from the current value.
// Returns true if the value changed.
func (c *Cell[T]) Set(v T) bool {
	if v == c.value {
		return false
	}
	c.value = v

	// Subscribers may unsubscribe (or subscribe) while being notified, so
	// iterate over a copy and skip anything cancelled mid-delivery.
	subs := make([]*cellSubscription[T], len(c.subs))
	copy(subs, c.subs)
	for _, s := range subs {
		if s.active {
			s.fn(v)
		}
	}
	return true
}

// Subscribe registers fn and immediately calls it with the current value.
// The returned function cancels the subscription.
func (c *Cell[T]) Subscribe(fn func(T)) (cancel func()) {
	s := &cellSubscription[T]{fn: fn, active: true}
	c.subs = append(c.subs, s)
	fn(c.value)

	return func() {
		if !s.active {
			return
		}
		s.active = false
		for i, other := range c.subs {
			if other == s {
				c.subs = append(c.subs[:i], c.subs[i+1:]...)
				break
			}
		}
	}
}
