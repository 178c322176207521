package crdt

import "github.com/causalmesh/replica/internal/event"

// IncrementCmd is the only command a Counter accepts.
type IncrementCmd struct{}

// Counter is a grow-only counter CRDT. Prepare always
// produces a delta of 1; Effect sums deltas, which is trivially
// commutative and idempotent under causal delivery (each increment event
// is applied exactly once by the replication protocol's dedup).
type Counter struct {
	value uint64
}

// NewCounter returns the identity element: a zeroed counter.
func NewCounter() *Counter {
	return &Counter{}
}

func (c *Counter) Query() uint64 {
	return c.value
}

func (c *Counter) Prepare(IncrementCmd) uint64 {
	return 1
}

func (c *Counter) Effect(e event.Event[uint64]) {
	c.value += e.Data
}
