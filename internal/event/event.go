// Package event defines the immutable event record persisted by every
// replica and the append-only store contract events are read from and
// written to.
package event

import (
	"fmt"

	"github.com/causalmesh/replica/internal/clock"
)

// Event is one state transition produced by a CRDT's Prepare step. Origin
// and OriginSeqNr uniquely identify it across the whole system; LocalSeqNr
// is the position a particular replica has stored it at, which can differ
// replica to replica for the same event.
type Event[E any] struct {
	Origin      clock.ReplicaID
	OriginSeqNr clock.SeqNr
	LocalSeqNr  clock.SeqNr
	Version     clock.VectorClock
	Data        E
}

// WithLocalSeqNr returns a copy of e re-numbered to local, leaving the
// origin coordinates untouched. Used when a replica re-stamps an incoming
// replicated event at its own local position.
func (e Event[E]) WithLocalSeqNr(local clock.SeqNr) Event[E] {
	e.LocalSeqNr = local
	return e
}

func (e Event[E]) String() string {
	return fmt.Sprintf("Event{origin=%s#%d local=%d version=%v}", e.Origin, e.OriginSeqNr, e.LocalSeqNr, e.Version)
}

// ErrNotContiguous is returned by an EventStore when an Append call
// would leave a gap or regression in the stored local sequence numbers,
// which must form a contiguous run from 1.
var ErrNotContiguous = fmt.Errorf("event: append is not contiguous with the stored log")
