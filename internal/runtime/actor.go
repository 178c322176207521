// Package runtime implements the single-threaded, mailbox-driven actor
// that owns one replica's state: every Command, Sync trigger, and
// incoming replication message for a given replica is handled serially
// by reading its own mailbox in a single goroutine, so replica.State
// never needs its own locking.
package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/causalmesh/replica/internal/clock"
	"github.com/causalmesh/replica/internal/event"
	"github.com/causalmesh/replica/internal/monitoring"
	"github.com/causalmesh/replica/internal/replica"
	"github.com/causalmesh/replica/internal/tracing"
	"github.com/causalmesh/replica/internal/transport"
)

// Kind distinguishes the messages an Actor's mailbox accepts.
type Kind int

const (
	// KindCommand carries a locally submitted command.
	KindCommand Kind = iota
	// KindConnect registers a peer's mailbox under its replica ID.
	KindConnect
	// KindSync is a self-directed trigger: pull from the named peer, or
	// from every known peer when Peer is unset.
	KindSync
	// KindReplicate is a peer's pull request against our own log.
	KindReplicate
	// KindReplicated is a peer's reply to our pull request.
	KindReplicated
	// KindQuery asks for the current CRDT view, replied on QueryReply.
	KindQuery
)

// Message is the single envelope type every Actor's mailbox carries,
// mirroring the small closed set of message kinds the causal replication
// protocol defines: Command, Connect, Sync, Replicate, Replicated,
// Query.
type Message[S any, Cmd any, Op any] struct {
	Kind Kind
	From clock.ReplicaID

	Cmd Cmd

	Peer    clock.ReplicaID
	FromSeq clock.SeqNr
	Version clock.VectorClock

	Events    []event.Event[Op]
	LastLocal clock.SeqNr

	PeerMailbox *transport.Mailbox[Message[S, Cmd, Op]]

	QueryReply chan<- S
}

// Actor owns one replica's state and the mailboxes of every peer it
// knows about. Run must be called exactly once, typically in its own
// goroutine; every other interaction goes through the mailbox.
//
// An Actor that hits a fatal store error transitions to Failed: Run
// stops processing further messages and returns, and every external
// entry point (SendCommand, TriggerSync, Query) starts rejecting work
// instead of enqueueing it against a goroutine that is no longer
// draining the mailbox. A supervisor observes this through Err and
// recovers by building a fresh Actor with Start against the same store,
// which replays the snapshot-and-log recovery sequence.
type Actor[S any, Cmd any, Op any, CS any] struct {
	ID      clock.ReplicaID
	state   *replica.State[S, Cmd, Op, CS]
	store   event.Store[replica.Snapshot[CS], Op]
	mailbox *transport.Mailbox[Message[S, Cmd, Op]]
	peers   map[clock.ReplicaID]*transport.Mailbox[Message[S, Cmd, Op]]

	snapshotEvery int
	sinceSnapshot int

	// pendingSync tracks, per peer, when this actor last sent that peer a
	// Replicate request, so the matching Replicated reply can record how
	// long the round trip took. Only ever touched from the actor's own
	// goroutine inside handle, so it needs no lock.
	pendingSync map[clock.ReplicaID]time.Time

	logger  *zap.Logger
	metrics *monitoring.Metrics

	mu     sync.RWMutex
	failed error
	done   chan struct{}
}

// New builds an Actor around an already-constructed replica.State.
// snapshotEvery is how many applied events trigger a snapshot save; 0
// disables automatic snapshotting. Most callers want Start instead,
// which additionally performs the snapshot-and-log recovery sequence
// before handing back a ready-to-run Actor; New is the bare constructor
// Start (and tests that build their own State directly) build on top
// of.
func New[S any, Cmd any, Op any, CS any](
	state *replica.State[S, Cmd, Op, CS],
	store event.Store[replica.Snapshot[CS], Op],
	mailboxCapacity int,
	snapshotEvery int,
	logger *zap.Logger,
	metrics *monitoring.Metrics,
) *Actor[S, Cmd, Op, CS] {
	return &Actor[S, Cmd, Op, CS]{
		ID:            state.ID,
		state:         state,
		store:         store,
		mailbox:       transport.NewMailbox[Message[S, Cmd, Op]](mailboxCapacity, metrics),
		peers:         make(map[clock.ReplicaID]*transport.Mailbox[Message[S, Cmd, Op]]),
		snapshotEvery: snapshotEvery,
		pendingSync:   make(map[clock.ReplicaID]time.Time),
		logger:        logger,
		metrics:       metrics,
		done:          make(chan struct{}),
	}
}

// Start performs the replica startup sequence before building an Actor:
// it loads the last snapshot (if any) and replays
// store.LoadEvents(snapshot.seq_nr+1) through replica.ProcessEvent to
// reconstruct in-memory state, then the returned Actor is ready for
// Run. def constructs the CRDT's identity element for a replica starting
// from scratch; restore rebuilds the same CRDT type from a persisted
// snapshot's CS payload (e.g. crdt.RestoreCounter). A failure to load
// the snapshot or replay the log is a fatal store error: Start returns
// it rather than handing back a half-recovered Actor.
func Start[S any, Cmd any, Op any, CS any](
	id clock.ReplicaID,
	def func() replica.Snapshottable[S, Cmd, Op, CS],
	restore func(CS) replica.Snapshottable[S, Cmd, Op, CS],
	store event.Store[replica.Snapshot[CS], Op],
	mailboxCapacity int,
	snapshotEvery int,
	logger *zap.Logger,
	metrics *monitoring.Metrics,
) (*Actor[S, Cmd, Op, CS], error) {
	state, recovered, replayed, err := load(id, def, restore, store)
	if err != nil {
		return nil, fmt.Errorf("runtime: start replica %s: %w", id, err)
	}
	if logger != nil && (recovered || replayed > 0) {
		logger.Info("replica recovered from store",
			zap.String("replica_id", string(id)),
			zap.Bool("from_snapshot", recovered),
			zap.Int("events_replayed", replayed),
			zap.Uint64("seq_nr", uint64(state.SeqNr)),
		)
	}
	return New(state, store, mailboxCapacity, snapshotEvery, logger, metrics), nil
}

// load implements the Loading phase: build state from the last snapshot
// (or the identity element if there is none), then replay every event
// after the snapshot's floor through ProcessEvent.
func load[S any, Cmd any, Op any, CS any](
	id clock.ReplicaID,
	def func() replica.Snapshottable[S, Cmd, Op, CS],
	restore func(CS) replica.Snapshottable[S, Cmd, Op, CS],
	store event.Store[replica.Snapshot[CS], Op],
) (state *replica.State[S, Cmd, Op, CS], recoveredFromSnapshot bool, replayed int, err error) {
	snap, ok, err := store.LoadSnapshot()
	if err != nil {
		return nil, false, 0, fmt.Errorf("load snapshot: %w", err)
	}
	if ok {
		state = replica.Restore[S, Cmd, Op, CS](snap, restore(snap.CRDTState))
	} else {
		state = replica.New[S, Cmd, Op, CS](id, def())
	}

	events, err := store.LoadEvents(state.SeqNr + 1)
	if err != nil {
		return nil, false, 0, fmt.Errorf("load events from %d: %w", state.SeqNr+1, err)
	}
	for _, e := range events {
		state.ProcessEvent(e)
	}
	return state, ok, len(events), nil
}

// Mailbox exposes this actor's inbox so other actors (or the console
// front-end) can hand it a peer mailbox via Connect, or send it Commands
// and Queries directly.
func (a *Actor[S, Cmd, Op, CS]) Mailbox() *transport.Mailbox[Message[S, Cmd, Op]] {
	return a.mailbox
}

// Err reports the fatal store error that put this actor into the Failed
// state, or nil while it is still Ready.
func (a *Actor[S, Cmd, Op, CS]) Err() error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.failed
}

func (a *Actor[S, Cmd, Op, CS]) fail(err error) {
	a.mu.Lock()
	a.failed = err
	a.mu.Unlock()
	if a.logger != nil {
		a.logger.Error("replica store error is fatal, replica transitioning to failed", zap.Error(err))
	}
}

// Run processes the mailbox serially until ctx is cancelled, the mailbox
// is closed, or a handler reports a fatal store error, in which case Run
// records it via Err and stops rather than continuing to serve requests
// against a store that may no longer be durable.
func (a *Actor[S, Cmd, Op, CS]) Run(ctx context.Context) {
	defer close(a.done)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-a.mailbox.Recv():
			if !ok {
				return
			}
			if err := a.handle(ctx, msg); err != nil {
				a.fail(err)
				return
			}
		}
	}
}

func (a *Actor[S, Cmd, Op, CS]) handle(ctx context.Context, msg Message[S, Cmd, Op]) error {
	switch msg.Kind {
	case KindCommand:
		return a.handleCommand(msg)
	case KindConnect:
		a.handleConnect(msg)
		return nil
	case KindSync:
		a.handleSync(ctx, msg)
		return nil
	case KindReplicate:
		return a.handleReplicate(ctx, msg)
	case KindReplicated:
		return a.handleReplicated(msg)
	case KindQuery:
		a.handleQuery(msg)
		return nil
	}
	return nil
}

func (a *Actor[S, Cmd, Op, CS]) handleCommand(msg Message[S, Cmd, Op]) error {
	_, err := a.state.ProcessCommand(msg.Cmd, a.store)
	if err != nil {
		if a.logger != nil {
			a.logger.Error("process command failed", zap.Error(err))
		}
		return err
	}
	if a.metrics != nil {
		a.metrics.EventsAppended.Inc()
		a.metrics.EventsApplied.Inc()
		a.metrics.ReplicaSeqNr.Set(float64(a.state.SeqNr))
	}
	a.maybeSnapshot(1)
	return nil
}

func (a *Actor[S, Cmd, Op, CS]) handleConnect(msg Message[S, Cmd, Op]) {
	a.peers[msg.From] = msg.PeerMailbox
}

func (a *Actor[S, Cmd, Op, CS]) handleSync(ctx context.Context, msg Message[S, Cmd, Op]) {
	if msg.Peer != "" {
		a.syncPeer(ctx, msg.Peer)
		return
	}
	for peer := range a.peers {
		a.syncPeer(ctx, peer)
	}
}

func (a *Actor[S, Cmd, Op, CS]) syncPeer(ctx context.Context, peer clock.ReplicaID) {
	peerMailbox, ok := a.peers[peer]
	if !ok {
		return
	}
	_, span := tracing.StartSpan(ctx, "replica.sync")
	defer span.End()

	req := a.state.ProcessSync(peer)
	if a.metrics != nil {
		a.metrics.SyncRounds.Inc()
	}
	// Recorded so the Replicated reply this Replicate request eventually
	// provokes can report the full Sync/Replay/Replicated round trip time.
	a.pendingSync[peer] = time.Now()
	peerMailbox.Send(Message[S, Cmd, Op]{
		Kind:        KindReplicate,
		From:        a.ID,
		FromSeq:     req.FromSeq,
		Version:     req.Version,
		PeerMailbox: a.mailbox,
	})
}

func (a *Actor[S, Cmd, Op, CS]) handleReplicate(ctx context.Context, msg Message[S, Cmd, Op]) error {
	start := time.Now()
	_, span := tracing.StartSpan(ctx, "replica.replicate")
	defer span.End()

	batch, err := a.state.ProcessReplay(msg.FromSeq, msg.Version, a.store)
	if err != nil {
		if a.logger != nil {
			a.logger.Error("process replay failed", zap.Error(err))
		}
		return err
	}

	// A Replicate from a sender we haven't Connect-ed is dropped with no
	// reply rather than trusting the envelope's own PeerMailbox, so an
	// unregistered sender can't get a response just by attaching a
	// return address.
	replyTo, ok := a.peers[msg.From]
	if !ok {
		if a.logger != nil {
			a.logger.Warn("replicate from unknown peer, dropping", zap.String("from", string(msg.From)))
		}
		return nil
	}
	replyTo.Send(Message[S, Cmd, Op]{
		Kind:      KindReplicated,
		From:      a.ID,
		Events:    batch.Events,
		LastLocal: batch.LastLocal,
	})
	if a.metrics != nil {
		// The requester's own round trip is recorded as SyncDuration when
		// its Replicated reply lands; this side only owns the latency of
		// loading and shipping its own replay batch.
		a.metrics.ReplicateRTT.Observe(time.Since(start).Seconds())
	}
	return nil
}

func (a *Actor[S, Cmd, Op, CS]) handleReplicated(msg Message[S, Cmd, Op]) error {
	applied, err := a.state.ProcessReplicated(msg.From, msg.Events, msg.LastLocal, a.store)
	if err != nil {
		if a.logger != nil {
			a.logger.Error("process replicated failed", zap.Error(err))
		}
		return err
	}
	if start, ok := a.pendingSync[msg.From]; ok {
		if a.metrics != nil {
			a.metrics.SyncDuration.Observe(time.Since(start).Seconds())
		}
		delete(a.pendingSync, msg.From)
	}
	if a.metrics != nil {
		a.metrics.EventsAppended.Add(float64(applied))
		a.metrics.EventsApplied.Add(float64(applied))
		a.metrics.EventsDropped.Add(float64(len(msg.Events) - applied))
		a.metrics.ReplicaSeqNr.Set(float64(a.state.SeqNr))
	}
	if applied > 0 {
		a.maybeSnapshot(applied)
	}
	return nil
}

func (a *Actor[S, Cmd, Op, CS]) handleQuery(msg Message[S, Cmd, Op]) {
	if msg.QueryReply == nil {
		return
	}
	msg.QueryReply <- a.state.Query()
}

func (a *Actor[S, Cmd, Op, CS]) maybeSnapshot(applied int) {
	if a.snapshotEvery <= 0 {
		return
	}
	a.sinceSnapshot += applied
	if a.sinceSnapshot < a.snapshotEvery {
		return
	}
	a.sinceSnapshot = 0
	snap := a.state.TakeSnapshot()
	if err := a.store.SaveSnapshot(snap); err != nil && a.logger != nil {
		a.logger.Error("save snapshot failed", zap.Error(err))
	}
}

// SendCommand enqueues a command on this actor's own mailbox. It refuses
// once the actor has failed, since nothing is left running to drain the
// mailbox and apply it.
func (a *Actor[S, Cmd, Op, CS]) SendCommand(cmd Cmd) bool {
	if a.Err() != nil {
		return false
	}
	return a.mailbox.Send(Message[S, Cmd, Op]{Kind: KindCommand, From: a.ID, Cmd: cmd})
}

// Connect wires this actor and peer together in both directions so
// either side's periodic Sync trigger can find the other's mailbox.
func Connect[S any, Cmd any, Op any, CS any](a, peer *Actor[S, Cmd, Op, CS]) {
	a.mailbox.Send(Message[S, Cmd, Op]{Kind: KindConnect, From: peer.ID, PeerMailbox: peer.mailbox})
	peer.mailbox.Send(Message[S, Cmd, Op]{Kind: KindConnect, From: a.ID, PeerMailbox: a.mailbox})
}

// TriggerSync enqueues a self-directed Sync message asking the actor to
// pull from peer on its next mailbox turn. It refuses once the actor has
// failed, for the same reason SendCommand does.
func (a *Actor[S, Cmd, Op, CS]) TriggerSync(peer clock.ReplicaID) bool {
	if a.Err() != nil {
		return false
	}
	return a.mailbox.Send(Message[S, Cmd, Op]{Kind: KindSync, From: a.ID, Peer: peer})
}

// TriggerSyncAll enqueues a single Sync covering every peer known to the
// actor at the time the message is handled, the way a periodic scheduler
// or console trigger drives a full pull round.
func (a *Actor[S, Cmd, Op, CS]) TriggerSyncAll() bool {
	if a.Err() != nil {
		return false
	}
	return a.mailbox.Send(Message[S, Cmd, Op]{Kind: KindSync, From: a.ID})
}

// Query enqueues a query and blocks for the reply. Intended for
// console/CLI use, not for hot paths inside another actor's goroutine. It
// returns an error immediately if the actor has already failed, and
// unblocks with an error if the actor fails after the query was enqueued
// but before it was answered.
func (a *Actor[S, Cmd, Op, CS]) Query() (S, error) {
	var zero S
	if err := a.Err(); err != nil {
		return zero, fmt.Errorf("runtime: replica failed: %w", err)
	}
	reply := make(chan S, 1)
	if !a.mailbox.Send(Message[S, Cmd, Op]{Kind: KindQuery, From: a.ID, QueryReply: reply}) {
		return zero, fmt.Errorf("runtime: mailbox full, query dropped")
	}
	select {
	case v := <-reply:
		return v, nil
	case <-a.done:
		if err := a.Err(); err != nil {
			return zero, fmt.Errorf("runtime: replica failed: %w", err)
		}
		return zero, fmt.Errorf("runtime: replica stopped before answering query")
	}
}
