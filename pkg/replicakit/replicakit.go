// Package replicakit is the public entry point for embedding a causally
// consistent replica in another program: construct one with New*, wire
// it to peers with Connect, and drive it with Submit/Query/Sync.
package replicakit

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/causalmesh/replica/internal/clock"
	"github.com/causalmesh/replica/internal/crdt"
	"github.com/causalmesh/replica/internal/event"
	"github.com/causalmesh/replica/internal/monitoring"
	"github.com/causalmesh/replica/internal/replica"
	"github.com/causalmesh/replica/internal/runtime"
)

// Options configures a replica instance.
type Options struct {
	// ReplicaID is this replica's identity. Required.
	ReplicaID string
	// MailboxCapacity bounds how many in-flight messages this replica
	// will buffer per direction before dropping under backpressure.
	// Zero defaults to 64.
	MailboxCapacity int
	// SnapshotEvery is how many applied events trigger a snapshot save.
	// Zero disables automatic snapshotting.
	SnapshotEvery int

	Logger  *zap.Logger
	Metrics *monitoring.Metrics
}

func (o Options) mailboxCapacity() int {
	if o.MailboxCapacity > 0 {
		return o.MailboxCapacity
	}
	return 64
}

// Replica is the generic public handle around a running actor. Callers
// typically use one of the concrete constructors below rather than this
// type directly.
type Replica[S any, Cmd any, Op any, CS any] struct {
	actor *runtime.Actor[S, Cmd, Op, CS]
	store event.Store[replica.Snapshot[CS], Op]
}

// Submit enqueues a local command for this replica to process.
func (r *Replica[S, Cmd, Op, CS]) Submit(cmd Cmd) error {
	if !r.actor.SendCommand(cmd) {
		return fmt.Errorf("replicakit: mailbox full or replica failed, command dropped")
	}
	return nil
}

// Query returns the replica's current CRDT view.
func (r *Replica[S, Cmd, Op, CS]) Query() (S, error) {
	return r.actor.Query()
}

// Fingerprint returns a content hash of this replica's event log, useful
// for confirming two replicas that should have converged actually did.
func (r *Replica[S, Cmd, Op, CS]) Fingerprint() []byte {
	return r.store.Fingerprint()
}

// Sync asks this replica to pull from peer on its next turn.
func (r *Replica[S, Cmd, Op, CS]) Sync(peer string) error {
	if !r.actor.TriggerSync(clock.ReplicaID(peer)) {
		return fmt.Errorf("replicakit: mailbox full or replica failed, sync request dropped")
	}
	return nil
}

// SyncAll asks this replica to pull from every peer it is connected to.
func (r *Replica[S, Cmd, Op, CS]) SyncAll() error {
	if !r.actor.TriggerSyncAll() {
		return fmt.Errorf("replicakit: mailbox full or replica failed, sync request dropped")
	}
	return nil
}

// Err reports the fatal store error that failed this replica, or nil
// while it is healthy. A supervisor that observes a non-nil Err should
// rebuild the replica by calling the same New* constructor again
// against this replica's Store, which recovers from the last snapshot
// and log rather than starting from scratch.
func (r *Replica[S, Cmd, Op, CS]) Err() error {
	return r.actor.Err()
}

// Store exposes the underlying event store so a supervisor can pass it
// back into the same New* constructor to recover this replica after a
// failure, or so a caller can persist/restore it across process
// restarts.
func (r *Replica[S, Cmd, Op, CS]) Store() event.Store[replica.Snapshot[CS], Op] {
	return r.store
}

// Connect wires two replicas' mailboxes together so either can Sync
// from the other.
func Connect[S any, Cmd any, Op any, CS any](a, b *Replica[S, Cmd, Op, CS]) {
	runtime.Connect(a.actor, b.actor)
}

// Run drives the replica's mailbox until ctx is cancelled. Callers
// typically invoke this in its own goroutine right after construction.
func (r *Replica[S, Cmd, Op, CS]) Run(ctx context.Context) {
	r.actor.Run(ctx)
}

// resolveStore returns the caller-supplied store for a recovering
// replica, or builds a fresh one for a replica starting from scratch.
// New* constructors accept store as a variadic solely so existing
// zero-argument call sites keep compiling; passing more than one is a
// programmer error and only the first is used.
func resolveStore[S any, E any](stores []event.Store[S, E], fresh func() event.Store[S, E]) event.Store[S, E] {
	if len(stores) > 0 && stores[0] != nil {
		return stores[0]
	}
	return fresh()
}

// NewCounter constructs a replica replicating a grow-only Counter. If
// store already holds a prior snapshot/log for this replica ID (e.g.
// handed back from Replica.Store after a failure), the replica recovers
// from it instead of starting from the identity element.
func NewCounter(opts Options, store ...event.Store[replica.Snapshot[crdt.CounterSnapshot], uint64]) (*Replica[uint64, crdt.IncrementCmd, uint64, crdt.CounterSnapshot], error) {
	if opts.ReplicaID == "" {
		return nil, fmt.Errorf("replicakit: ReplicaID cannot be empty")
	}
	st := resolveStore(store, func() event.Store[replica.Snapshot[crdt.CounterSnapshot], uint64] {
		return event.NewInMemory[replica.Snapshot[crdt.CounterSnapshot], uint64]()
	})
	actor, err := runtime.Start[uint64, crdt.IncrementCmd, uint64, crdt.CounterSnapshot](
		clock.ReplicaID(opts.ReplicaID),
		func() replica.Snapshottable[uint64, crdt.IncrementCmd, uint64, crdt.CounterSnapshot] { return crdt.NewCounter() },
		func(s crdt.CounterSnapshot) replica.Snapshottable[uint64, crdt.IncrementCmd, uint64, crdt.CounterSnapshot] {
			return crdt.RestoreCounter(s)
		},
		st, opts.mailboxCapacity(), opts.SnapshotEvery, opts.Logger, opts.Metrics,
	)
	if err != nil {
		return nil, fmt.Errorf("replicakit: %w", err)
	}
	return &Replica[uint64, crdt.IncrementCmd, uint64, crdt.CounterSnapshot]{actor: actor, store: st}, nil
}

// NewORSet constructs a replica replicating an add-wins observed-remove
// set of T. See NewCounter for the recovery behavior of a non-nil store.
func NewORSet[T comparable](opts Options, store ...event.Store[replica.Snapshot[crdt.ORSetSnapshot[T]], crdt.ORSetOp[T]]) (*Replica[[]T, crdt.ORSetCmd[T], crdt.ORSetOp[T], crdt.ORSetSnapshot[T]], error) {
	if opts.ReplicaID == "" {
		return nil, fmt.Errorf("replicakit: ReplicaID cannot be empty")
	}
	st := resolveStore(store, func() event.Store[replica.Snapshot[crdt.ORSetSnapshot[T]], crdt.ORSetOp[T]] {
		return event.NewInMemory[replica.Snapshot[crdt.ORSetSnapshot[T]], crdt.ORSetOp[T]]()
	})
	actor, err := runtime.Start[[]T, crdt.ORSetCmd[T], crdt.ORSetOp[T], crdt.ORSetSnapshot[T]](
		clock.ReplicaID(opts.ReplicaID),
		func() replica.Snapshottable[[]T, crdt.ORSetCmd[T], crdt.ORSetOp[T], crdt.ORSetSnapshot[T]] { return crdt.NewORSet[T]() },
		func(s crdt.ORSetSnapshot[T]) replica.Snapshottable[[]T, crdt.ORSetCmd[T], crdt.ORSetOp[T], crdt.ORSetSnapshot[T]] {
			return crdt.RestoreORSet[T](s)
		},
		st, opts.mailboxCapacity(), opts.SnapshotEvery, opts.Logger, opts.Metrics,
	)
	if err != nil {
		return nil, fmt.Errorf("replicakit: %w", err)
	}
	return &Replica[[]T, crdt.ORSetCmd[T], crdt.ORSetOp[T], crdt.ORSetSnapshot[T]]{actor: actor, store: st}, nil
}

// NewLSeq constructs a replica replicating an ordered sequence of T
// (typically rune, to model collaboratively-edited text). See NewCounter
// for the recovery behavior of a non-nil store.
func NewLSeq[T any](opts Options, store ...event.Store[replica.Snapshot[crdt.LSeqSnapshot[T]], crdt.LSeqOp[T]]) (*Replica[[]T, crdt.LSeqCmd[T], crdt.LSeqOp[T], crdt.LSeqSnapshot[T]], error) {
	if opts.ReplicaID == "" {
		return nil, fmt.Errorf("replicakit: ReplicaID cannot be empty")
	}
	st := resolveStore(store, func() event.Store[replica.Snapshot[crdt.LSeqSnapshot[T]], crdt.LSeqOp[T]] {
		return event.NewInMemory[replica.Snapshot[crdt.LSeqSnapshot[T]], crdt.LSeqOp[T]]()
	})
	actor, err := runtime.Start[[]T, crdt.LSeqCmd[T], crdt.LSeqOp[T], crdt.LSeqSnapshot[T]](
		clock.ReplicaID(opts.ReplicaID),
		func() replica.Snapshottable[[]T, crdt.LSeqCmd[T], crdt.LSeqOp[T], crdt.LSeqSnapshot[T]] { return crdt.NewLSeq[T]() },
		func(s crdt.LSeqSnapshot[T]) replica.Snapshottable[[]T, crdt.LSeqCmd[T], crdt.LSeqOp[T], crdt.LSeqSnapshot[T]] {
			return crdt.RestoreLSeq[T](s)
		},
		st, opts.mailboxCapacity(), opts.SnapshotEvery, opts.Logger, opts.Metrics,
	)
	if err != nil {
		return nil, fmt.Errorf("replicakit: %w", err)
	}
	return &Replica[[]T, crdt.LSeqCmd[T], crdt.LSeqOp[T], crdt.LSeqSnapshot[T]]{actor: actor, store: st}, nil
}

// NewRGA constructs a replica replicating a Replicated Growable Array of
// T (typically rune, to model collaboratively-edited text). See
// NewCounter for the recovery behavior of a non-nil store.
func NewRGA[T any](opts Options, store ...event.Store[replica.Snapshot[crdt.RGASnapshot[T]], crdt.RGAOp[T]]) (*Replica[[]T, crdt.RGACmd[T], crdt.RGAOp[T], crdt.RGASnapshot[T]], error) {
	if opts.ReplicaID == "" {
		return nil, fmt.Errorf("replicakit: ReplicaID cannot be empty")
	}
	owner := clock.ReplicaID(opts.ReplicaID)
	st := resolveStore(store, func() event.Store[replica.Snapshot[crdt.RGASnapshot[T]], crdt.RGAOp[T]] {
		return event.NewInMemory[replica.Snapshot[crdt.RGASnapshot[T]], crdt.RGAOp[T]]()
	})
	actor, err := runtime.Start[[]T, crdt.RGACmd[T], crdt.RGAOp[T], crdt.RGASnapshot[T]](
		owner,
		func() replica.Snapshottable[[]T, crdt.RGACmd[T], crdt.RGAOp[T], crdt.RGASnapshot[T]] { return crdt.NewRGA[T](owner) },
		func(s crdt.RGASnapshot[T]) replica.Snapshottable[[]T, crdt.RGACmd[T], crdt.RGAOp[T], crdt.RGASnapshot[T]] {
			return crdt.RestoreRGA[T](s)
		},
		st, opts.mailboxCapacity(), opts.SnapshotEvery, opts.Logger, opts.Metrics,
	)
	if err != nil {
		return nil, fmt.Errorf("replicakit: %w", err)
	}
	return &Replica[[]T, crdt.RGACmd[T], crdt.RGAOp[T], crdt.RGASnapshot[T]]{actor: actor, store: st}, nil
}
