// Package crdt provides the generic Conflict-free Replicated Data Type
// capability contract plus four concrete convergent types: Counter,
// OR-Set, LSeq, and RGA.
package crdt

import "github.com/causalmesh/replica/internal/event"

// CRDT is the capability interface every concrete convergent type in this
// package satisfies. S is the queryable view, Cmd is what a local caller
// submits, Op is what ends up as an event's payload and is shipped to
// peers.
//
// Prepare MUST be pure (read current state, never mutate). Effect MUST be
// commutative and idempotent-under-causal-delivery: for any two replicas
// that have applied the same set of events, Query must return equal
// values regardless of application order compatible with causality.
//
// There is deliberately no Default() method here: Go has no notion of a
// "static" factory callable through an interface value, so each concrete
// type exposes its own constructor (NewCounter, NewORSet, NewLSeq,
// NewRGA) playing that role instead.
type CRDT[S any, Cmd any, Op any] interface {
	Query() S
	Prepare(cmd Cmd) Op
	Effect(e event.Event[Op])
}
