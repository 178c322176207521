// Package replica implements the per-replica state machine that turns a
// local command or an incoming replication message into a state
// transition, per the causal replication protocol.
package replica

import (
	"fmt"

	"github.com/causalmesh/replica/internal/clock"
	"github.com/causalmesh/replica/internal/event"
)

// Snapshottable is the capability a CRDT must additionally provide to be
// usable inside a State: the CRDT[S,Cmd,Op] contract plus a way to
// capture its full internal representation (not just its queryable
// view) so a restart can resume from a snapshot and keep accepting
// writes. CS is the concrete snapshot type (e.g. crdt.RGASnapshot[rune]).
type Snapshottable[S any, Cmd any, Op any, CS any] interface {
	Query() S
	Prepare(cmd Cmd) Op
	Effect(e event.Event[Op])
	SnapshotState() CS
}

// appliedKey dedups events by their globally-unique origin coordinates,
// closing the duplicate-apply anomaly a pure Observed-map high-water-mark
// check leaves open when a replica receives the same origin's events
// relayed through more than one peer out of order.
type appliedKey struct {
	origin    clock.ReplicaID
	originSeq clock.SeqNr
}

// Snapshot is the durable image of a State: everything process_replay
// needs to resume a replica without replaying its entire history.
type Snapshot[CS any] struct {
	ID        clock.ReplicaID
	SeqNr     clock.SeqNr
	Version   clock.VectorClock
	Observed  map[clock.ReplicaID]clock.SeqNr
	CRDTState CS
	Applied   []AppliedRecord
}

// AppliedRecord is one entry of the dedup set, exported so it can be
// persisted as part of a Snapshot.
type AppliedRecord struct {
	Origin      clock.ReplicaID
	OriginSeqNr clock.SeqNr
}

// State is one replica's authoritative view: its own sequence counter,
// its merged causal version, the highest origin-local sequence number it
// has observed from every peer, and the CRDT it replicates.
type State[S any, Cmd any, Op any, CS any] struct {
	ID       clock.ReplicaID
	SeqNr    clock.SeqNr
	Version  clock.VectorClock
	Observed map[clock.ReplicaID]clock.SeqNr
	CRDT     Snapshottable[S, Cmd, Op, CS]

	applied map[appliedKey]struct{}
}

// New returns the identity state for id: a fresh CRDT, zero sequence
// number, and an empty version.
func New[S any, Cmd any, Op any, CS any](id clock.ReplicaID, c Snapshottable[S, Cmd, Op, CS]) *State[S, Cmd, Op, CS] {
	return &State[S, Cmd, Op, CS]{
		ID:       id,
		Version:  clock.New(),
		Observed: make(map[clock.ReplicaID]clock.SeqNr),
		CRDT:     c,
		applied:  make(map[appliedKey]struct{}),
	}
}

// Query returns the CRDT's current queryable view.
func (s *State[S, Cmd, Op, CS]) Query() S {
	return s.CRDT.Query()
}

// ProcessCommand turns a locally submitted command into a new event,
// applies it, appends it to store, and returns it for replication to
// peers. This is the only transition that mints new origin coordinates.
func (s *State[S, Cmd, Op, CS]) ProcessCommand(cmd Cmd, store event.Store[Snapshot[CS], Op]) (event.Event[Op], error) {
	s.SeqNr++
	s.Version = s.Version.Increment(s.ID)

	data := s.CRDT.Prepare(cmd)
	e := event.Event[Op]{
		Origin:      s.ID,
		OriginSeqNr: s.SeqNr,
		LocalSeqNr:  s.SeqNr,
		Version:     s.Version.Clone(),
		Data:        data,
	}

	s.CRDT.Effect(e)
	s.markApplied(e)

	if err := store.Append([]event.Event[Op]{e}); err != nil {
		return e, fmt.Errorf("process command: %w", err)
	}
	return e, nil
}

// ProcessEvent applies a single event during snapshot replay. Unlike
// ProcessReplicated, it never re-stamps LocalSeqNr and never appends to
// store: the event is assumed to already be durable (it is the store
// replaying itself).
func (s *State[S, Cmd, Op, CS]) ProcessEvent(e event.Event[Op]) {
	s.Version = s.Version.Merge(e.Version)
	if e.OriginSeqNr > s.Observed[e.Origin] {
		s.Observed[e.Origin] = e.OriginSeqNr
	}
	if e.LocalSeqNr > s.SeqNr {
		s.SeqNr = e.LocalSeqNr
	}
	s.CRDT.Effect(e)
	s.markApplied(e)
}

// SyncRequest is the pull request ProcessSync builds for a peer: "send
// me what your log holds from this sequence number on, along with my
// current causal frontier to filter it against".
type SyncRequest struct {
	Peer    clock.ReplicaID
	FromSeq clock.SeqNr
	Version clock.VectorClock
}

// ProcessSync builds this replica's pull request against peer's log: the
// next sequence number of peer's log this replica hasn't pulled yet,
// plus this replica's current version for the peer to filter on.
func (s *State[S, Cmd, Op, CS]) ProcessSync(peer clock.ReplicaID) SyncRequest {
	return SyncRequest{
		Peer:    peer,
		FromSeq: s.Observed[peer] + 1,
		Version: s.Version.Clone(),
	}
}

// ReplayBatch is what ProcessReplay answers a Sync with: the events the
// requester hasn't already observed, per its submitted version.
type ReplayBatch[Op any] struct {
	From      clock.ReplicaID
	LastLocal clock.SeqNr
	Events    []event.Event[Op]
}

// ProcessReplay reads this replica's own log from fromSeq and filters
// out anything the requester's version already dominates or equals,
// since forwarding those would be wasted bandwidth, not a correctness
// problem (Effect is idempotent under causal delivery on the receiving
// side regardless).
func (s *State[S, Cmd, Op, CS]) ProcessReplay(fromSeq clock.SeqNr, requesterVersion clock.VectorClock, store event.Store[Snapshot[CS], Op]) (ReplayBatch[Op], error) {
	events, err := store.LoadEvents(fromSeq)
	if err != nil {
		return ReplayBatch[Op]{}, fmt.Errorf("process replay: %w", err)
	}

	var lastLocal clock.SeqNr
	kept := make([]event.Event[Op], 0, len(events))
	for _, e := range events {
		if e.LocalSeqNr > lastLocal {
			lastLocal = e.LocalSeqNr
		}
		cmp := e.Version.Compare(requesterVersion)
		if cmp == clock.Greater || cmp == clock.Concurrent {
			kept = append(kept, e)
		}
	}
	return ReplayBatch[Op]{From: s.ID, LastLocal: lastLocal, Events: kept}, nil
}

// ProcessReplicated applies a batch of events received from sender's own
// log (as produced by sender's ProcessReplay), dropping anything already
// seen and re-stamping the rest with this replica's own LocalSeqNr
// before appending them to store. senderLastLocal is the highest
// LocalSeqNr the batch represents in sender's log (ReplayBatch.LastLocal),
// used to advance the per-peer high-water mark Sync pulls from next time,
// independent of which replica any individual event actually originated
// from. It reports how many events were actually stamped and appended
// (the batch minus the already-seen duplicates), so callers can skip a
// pointless store round trip and keep applied/dropped counts accurate.
func (s *State[S, Cmd, Op, CS]) ProcessReplicated(sender clock.ReplicaID, events []event.Event[Op], senderLastLocal clock.SeqNr, store event.Store[Snapshot[CS], Op]) (int, error) {
	fresh := make([]event.Event[Op], 0, len(events))
	for _, e := range events {
		if s.unseen(e) {
			fresh = append(fresh, e)
		}
	}

	if senderLastLocal > s.Observed[sender] {
		s.Observed[sender] = senderLastLocal
	}
	if len(fresh) == 0 {
		return 0, nil
	}

	stamped := make([]event.Event[Op], 0, len(fresh))
	for _, e := range fresh {
		s.SeqNr++
		s.Version = s.Version.Merge(e.Version)
		s.CRDT.Effect(e)
		s.markApplied(e)

		stamped = append(stamped, e.WithLocalSeqNr(s.SeqNr))
	}

	if err := store.Append(stamped); err != nil {
		return len(stamped), fmt.Errorf("process replicated: %w", err)
	}
	return len(stamped), nil
}

// unseen reports whether e should still be applied: it hasn't already
// been applied by exact origin coordinates, and its version isn't
// already dominated by this replica's own frontier.
func (s *State[S, Cmd, Op, CS]) unseen(e event.Event[Op]) bool {
	if _, ok := s.applied[appliedKey{e.Origin, e.OriginSeqNr}]; ok {
		return false
	}
	cmp := e.Version.Compare(s.Version)
	return cmp == clock.Greater || cmp == clock.Concurrent
}

func (s *State[S, Cmd, Op, CS]) markApplied(e event.Event[Op]) {
	s.applied[appliedKey{e.Origin, e.OriginSeqNr}] = struct{}{}
}

// TakeSnapshot captures the full current state for SaveSnapshot.
func (s *State[S, Cmd, Op, CS]) TakeSnapshot() Snapshot[CS] {
	observed := make(map[clock.ReplicaID]clock.SeqNr, len(s.Observed))
	for id, n := range s.Observed {
		observed[id] = n
	}
	applied := make([]AppliedRecord, 0, len(s.applied))
	for k := range s.applied {
		applied = append(applied, AppliedRecord{Origin: k.origin, OriginSeqNr: k.originSeq})
	}
	return Snapshot[CS]{
		ID:        s.ID,
		SeqNr:     s.SeqNr,
		Version:   s.Version.Clone(),
		Observed:  observed,
		CRDTState: s.CRDT.SnapshotState(),
		Applied:   applied,
	}
}

// Restore rebuilds a State from a snapshot and a freshly-hydrated CRDT
// (constructed by the caller from snap.CRDTState via the concrete
// package's RestoreXxx function, since restoring a CS value into a live
// CRDT is type-specific and doesn't belong behind this interface).
func Restore[S any, Cmd any, Op any, CS any](snap Snapshot[CS], crdt Snapshottable[S, Cmd, Op, CS]) *State[S, Cmd, Op, CS] {
	observed := make(map[clock.ReplicaID]clock.SeqNr, len(snap.Observed))
	for id, n := range snap.Observed {
		observed[id] = n
	}
	applied := make(map[appliedKey]struct{}, len(snap.Applied))
	for _, a := range snap.Applied {
		applied[appliedKey{a.Origin, a.OriginSeqNr}] = struct{}{}
	}
	return &State[S, Cmd, Op, CS]{
		ID:       snap.ID,
		SeqNr:    snap.SeqNr,
		Version:  snap.Version.Clone(),
		Observed: observed,
		CRDT:     crdt,
		applied:  applied,
	}
}
