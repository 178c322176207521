package crdt

import (
	"sort"
	"strconv"
	"strings"

	"github.com/causalmesh/replica/internal/clock"
	"github.com/causalmesh/replica/internal/event"
)

// ORSetCmdKind distinguishes the two commands an OR-Set accepts.
type ORSetCmdKind int

const (
	ORSetAdd ORSetCmdKind = iota
	ORSetRemove
)

// ORSetCmd is the command payload submitted by a caller.
type ORSetCmd[T comparable] struct {
	Kind  ORSetCmdKind
	Value T
}

// ORSetOpKind distinguishes the two operations an OR-Set effect applies.
type ORSetOpKind int

const (
	ORSetAdded ORSetOpKind = iota
	ORSetRemoved
)

// ORSetOp is the event payload produced by Prepare and consumed by
// Effect. For Added, Value holds the element being introduced; for
// Removed, Versions holds the observed-remove tombstone set: every
// version tag the preparing replica saw attached to the element at the
// time of removal.
type ORSetOp[T comparable] struct {
	Kind     ORSetOpKind
	Value    T
	Versions []clock.VectorClock
}

type orSetEntry[T comparable] struct {
	value   T
	version clock.VectorClock
}

// ORSet is an add-wins observed-remove set CRDT. Every Add
// tags the element with the event's vector clock; Remove only erases the
// tags it observed, so an Add concurrent with a Remove survives because
// its version was never seen by the remover.
type ORSet[T comparable] struct {
	entries []orSetEntry[T]
}

// NewORSet returns the identity element: an empty set.
func NewORSet[T comparable]() *ORSet[T] {
	return &ORSet[T]{}
}

func (s *ORSet[T]) Query() []T {
	seen := make(map[T]struct{}, len(s.entries))
	out := make([]T, 0, len(s.entries))
	for _, e := range s.entries {
		if _, ok := seen[e.value]; ok {
			continue
		}
		seen[e.value] = struct{}{}
		out = append(out, e.value)
	}
	return out
}

func (s *ORSet[T]) Prepare(cmd ORSetCmd[T]) ORSetOp[T] {
	switch cmd.Kind {
	case ORSetAdd:
		return ORSetOp[T]{Kind: ORSetAdded, Value: cmd.Value}
	case ORSetRemove:
		var versions []clock.VectorClock
		for _, e := range s.entries {
			if e.value == cmd.Value {
				versions = append(versions, e.version)
			}
		}
		return ORSetOp[T]{Kind: ORSetRemoved, Versions: versions}
	default:
		return ORSetOp[T]{}
	}
}

func (s *ORSet[T]) Effect(e event.Event[ORSetOp[T]]) {
	switch e.Data.Kind {
	case ORSetAdded:
		s.entries = append(s.entries, orSetEntry[T]{value: e.Data.Value, version: e.Version})
	case ORSetRemoved:
		if len(e.Data.Versions) == 0 {
			return
		}
		doomed := make(map[string]struct{}, len(e.Data.Versions))
		for _, v := range e.Data.Versions {
			doomed[vectorKey(v)] = struct{}{}
		}
		kept := s.entries[:0:0]
		for _, entry := range s.entries {
			if _, remove := doomed[vectorKey(entry.version)]; remove {
				continue
			}
			kept = append(kept, entry)
		}
		s.entries = kept
	}
}

// vectorKey produces a stable, comparable key for a vector clock so it
// can be used in a set. Map iteration order in Go is randomized, so we
// sort the replica IDs before formatting.
func vectorKey(v clock.VectorClock) string {
	ids := make([]string, 0, len(v))
	for id := range v {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)
	var b strings.Builder
	for _, id := range ids {
		b.WriteString(id)
		b.WriteByte('=')
		b.WriteString(strconv.FormatUint(uint64(v[clock.ReplicaID(id)]), 10))
		b.WriteByte(';')
	}
	return b.String()
}
