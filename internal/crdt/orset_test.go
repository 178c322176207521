package crdt

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/causalmesh/replica/internal/clock"
	"github.com/causalmesh/replica/internal/event"
)

func applyORSet[T comparable](s *ORSet[T], origin clock.ReplicaID, seq clock.SeqNr, op ORSetOp[T]) {
	s.Effect(event.Event[ORSetOp[T]]{
		Origin:      origin,
		OriginSeqNr: seq,
		Version:     clock.VectorClock{origin: seq},
		Data:        op,
	})
}

func TestORSetAddThenQuery(t *testing.T) {
	s := NewORSet[string]()
	op := s.Prepare(ORSetCmd[string]{Kind: ORSetAdd, Value: "x"})
	applyORSet(s, "r0", 1, op)
	assert.Equal(t, []string{"x"}, s.Query())
}

func TestORSetRemoveErasesObservedTags(t *testing.T) {
	s := NewORSet[string]()
	applyORSet(s, "r0", 1, s.Prepare(ORSetCmd[string]{Kind: ORSetAdd, Value: "x"}))

	removeOp := s.Prepare(ORSetCmd[string]{Kind: ORSetRemove, Value: "x"})
	applyORSet(s, "r0", 2, removeOp)

	assert.Empty(t, s.Query())
}

func TestORSetConcurrentAddWinsOverRemove(t *testing.T) {
	// Replica 0 has seen only its own add of "x" and removes it.
	r0 := NewORSet[string]()
	addAt0 := event.Event[ORSetOp[string]]{
		Origin: "r0", OriginSeqNr: 1,
		Version: clock.VectorClock{"r0": 1},
		Data:    ORSetOp[string]{Kind: ORSetAdded, Value: "x"},
	}
	r0.Effect(addAt0)
	removeOp := r0.Prepare(ORSetCmd[string]{Kind: ORSetRemove, Value: "x"})
	r0.Effect(event.Event[ORSetOp[string]]{Origin: "r0", OriginSeqNr: 2, Version: clock.VectorClock{"r0": 2}, Data: removeOp})
	assert.Empty(t, r0.Query())

	// Replica 1 concurrently adds "x" with a version r0 never observed.
	r1 := NewORSet[string]()
	addAt1 := event.Event[ORSetOp[string]]{
		Origin: "r1", OriginSeqNr: 1,
		Version: clock.VectorClock{"r1": 1},
		Data:    ORSetOp[string]{Kind: ORSetAdded, Value: "x"},
	}
	r1.Effect(addAt1)

	// After both replicas exchange all events, each ends up with the
	// union: r0's remove only targets the version it actually saw.
	final := NewORSet[string]()
	final.Effect(addAt0)
	final.Effect(addAt1)
	final.Effect(event.Event[ORSetOp[string]]{Origin: "r0", OriginSeqNr: 2, Version: clock.VectorClock{"r0": 2}, Data: removeOp})

	assert.Equal(t, []string{"x"}, final.Query())
}

func TestORSetQueryDeduplicates(t *testing.T) {
	s := NewORSet[string]()
	applyORSet(s, "r0", 1, ORSetOp[string]{Kind: ORSetAdded, Value: "x"})
	applyORSet(s, "r1", 1, ORSetOp[string]{Kind: ORSetAdded, Value: "x"})
	got := s.Query()
	sort.Strings(got)
	assert.Equal(t, []string{"x"}, got)
}
