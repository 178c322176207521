package crdt

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/causalmesh/replica/internal/clock"
	"github.com/causalmesh/replica/internal/event"
)

func TestCounterIncrements(t *testing.T) {
	c := NewCounter()
	for i := 0; i < 3; i++ {
		delta := c.Prepare(IncrementCmd{})
		c.Effect(event.Event[uint64]{Data: delta})
	}
	assert.Equal(t, uint64(3), c.Query())
}

func TestCounterEffectIsOrderIndependent(t *testing.T) {
	a := NewCounter()
	b := NewCounter()

	events := []event.Event[uint64]{
		{Origin: "r0", OriginSeqNr: 1, Data: 1, Version: clock.VectorClock{"r0": 1}},
		{Origin: "r1", OriginSeqNr: 1, Data: 1, Version: clock.VectorClock{"r1": 1}},
	}

	for _, e := range events {
		a.Effect(e)
	}
	for i := len(events) - 1; i >= 0; i-- {
		b.Effect(events[i])
	}

	assert.Equal(t, a.Query(), b.Query())
}
