package runtime

import (
	"context"
	"fmt"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/causalmesh/replica/internal/clock"
	"github.com/causalmesh/replica/internal/crdt"
	"github.com/causalmesh/replica/internal/event"
	"github.com/causalmesh/replica/internal/monitoring"
	"github.com/causalmesh/replica/internal/replica"
)

func newCounterActor(t *testing.T, id clock.ReplicaID) *Actor[uint64, crdt.IncrementCmd, uint64, crdt.CounterSnapshot] {
	t.Helper()
	store := event.NewInMemory[replica.Snapshot[crdt.CounterSnapshot], uint64]()
	state := replica.New[uint64, crdt.IncrementCmd, uint64, crdt.CounterSnapshot](id, crdt.NewCounter())
	return New[uint64, crdt.IncrementCmd, uint64, crdt.CounterSnapshot](state, store, 16, 0, nil, nil)
}

func TestActorCommandAndQuery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := newCounterActor(t, "a")
	go a.Run(ctx)

	require.True(t, a.SendCommand(crdt.IncrementCmd{}))
	require.True(t, a.SendCommand(crdt.IncrementCmd{}))

	require.Eventually(t, func() bool {
		v, err := a.Query()
		return err == nil && v == 2
	}, time.Second, time.Millisecond)
}

func TestActorSyncConverges(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := newCounterActor(t, "a")
	b := newCounterActor(t, "b")
	go a.Run(ctx)
	go b.Run(ctx)

	Connect(a, b)

	require.True(t, a.SendCommand(crdt.IncrementCmd{}))
	require.True(t, a.SendCommand(crdt.IncrementCmd{}))
	require.True(t, b.SendCommand(crdt.IncrementCmd{}))

	require.True(t, b.TriggerSync("a"))
	require.True(t, a.TriggerSync("b"))

	require.Eventually(t, func() bool {
		va, errA := a.Query()
		vb, errB := b.Query()
		return errA == nil && errB == nil && va == 3 && vb == 3
	}, 2*time.Second, 5*time.Millisecond)
}

// TestActorTriggerSyncAllPullsFromEveryPeer checks the broadcast form of
// Sync: one trigger pulls from both connected peers in a single round.
func TestActorTriggerSyncAllPullsFromEveryPeer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := newCounterActor(t, "a")
	b := newCounterActor(t, "b")
	c := newCounterActor(t, "c")
	go a.Run(ctx)
	go b.Run(ctx)
	go c.Run(ctx)

	Connect(a, b)
	Connect(a, c)

	require.True(t, b.SendCommand(crdt.IncrementCmd{}))
	require.True(t, c.SendCommand(crdt.IncrementCmd{}))
	require.True(t, a.TriggerSyncAll())

	require.Eventually(t, func() bool {
		v, err := a.Query()
		return err == nil && v == 2
	}, 2*time.Second, 5*time.Millisecond)
}

func TestActorQuerySurfacesMailboxFullAsError(t *testing.T) {
	store := event.NewInMemory[replica.Snapshot[crdt.CounterSnapshot], uint64]()
	state := replica.New[uint64, crdt.IncrementCmd, uint64, crdt.CounterSnapshot]("a", crdt.NewCounter())
	a := New[uint64, crdt.IncrementCmd, uint64, crdt.CounterSnapshot](state, store, 1, 0, nil, nil)

	// Fill the single mailbox slot without a running consumer so the
	// next Send observes it full.
	require.True(t, a.SendCommand(crdt.IncrementCmd{}))
	_, err := a.Query()
	assert.Error(t, err)
}

func TestStartRecoversFromSnapshotAndLog(t *testing.T) {
	store := event.NewInMemory[replica.Snapshot[crdt.CounterSnapshot], uint64]()
	seed := replica.New[uint64, crdt.IncrementCmd, uint64, crdt.CounterSnapshot]("a", crdt.NewCounter())
	for i := 0; i < 3; i++ {
		_, err := seed.ProcessCommand(crdt.IncrementCmd{}, store)
		require.NoError(t, err)
	}
	require.NoError(t, store.SaveSnapshot(seed.TakeSnapshot()))
	for i := 0; i < 2; i++ {
		_, err := seed.ProcessCommand(crdt.IncrementCmd{}, store)
		require.NoError(t, err)
	}

	actor, err := Start[uint64, crdt.IncrementCmd, uint64, crdt.CounterSnapshot](
		"a",
		func() replica.Snapshottable[uint64, crdt.IncrementCmd, uint64, crdt.CounterSnapshot] { return crdt.NewCounter() },
		func(s crdt.CounterSnapshot) replica.Snapshottable[uint64, crdt.IncrementCmd, uint64, crdt.CounterSnapshot] {
			return crdt.RestoreCounter(s)
		},
		store, 16, 0, nil, nil,
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go actor.Run(ctx)

	v, err := actor.Query()
	require.NoError(t, err)
	assert.EqualValues(t, 5, v)

	require.True(t, actor.SendCommand(crdt.IncrementCmd{}))
	require.Eventually(t, func() bool {
		v, err := actor.Query()
		return err == nil && v == 6
	}, time.Second, time.Millisecond)
}

// failingAppendStore wraps a working Store but fails every Append, to
// exercise the Failed-state transition a fatal StoreError triggers.
type failingAppendStore struct {
	event.Store[replica.Snapshot[crdt.CounterSnapshot], uint64]
}

func (failingAppendStore) Append(events []event.Event[uint64]) error {
	return fmt.Errorf("boom: store unavailable")
}

func TestActorFailsOnStoreAppendError(t *testing.T) {
	store := failingAppendStore{Store: event.NewInMemory[replica.Snapshot[crdt.CounterSnapshot], uint64]()}
	state := replica.New[uint64, crdt.IncrementCmd, uint64, crdt.CounterSnapshot]("a", crdt.NewCounter())
	a := New[uint64, crdt.IncrementCmd, uint64, crdt.CounterSnapshot](state, store, 16, 0, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)

	require.Nil(t, a.Err())
	require.True(t, a.SendCommand(crdt.IncrementCmd{}))

	require.Eventually(t, func() bool { return a.Err() != nil }, time.Second, time.Millisecond)

	assert.False(t, a.SendCommand(crdt.IncrementCmd{}))
	assert.False(t, a.TriggerSync("b"))
	_, err := a.Query()
	assert.Error(t, err)
}

func TestActorSyncConvergesRecordsTimingMetrics(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := monitoring.NewMetrics()
	storeA := event.NewInMemory[replica.Snapshot[crdt.CounterSnapshot], uint64]()
	storeB := event.NewInMemory[replica.Snapshot[crdt.CounterSnapshot], uint64]()
	stateA := replica.New[uint64, crdt.IncrementCmd, uint64, crdt.CounterSnapshot]("a", crdt.NewCounter())
	stateB := replica.New[uint64, crdt.IncrementCmd, uint64, crdt.CounterSnapshot]("b", crdt.NewCounter())
	a := New[uint64, crdt.IncrementCmd, uint64, crdt.CounterSnapshot](stateA, storeA, 16, 0, nil, metrics)
	b := New[uint64, crdt.IncrementCmd, uint64, crdt.CounterSnapshot](stateB, storeB, 16, 0, nil, metrics)
	go a.Run(ctx)
	go b.Run(ctx)

	Connect(a, b)
	require.True(t, b.SendCommand(crdt.IncrementCmd{}))
	require.True(t, a.TriggerSync("b"))

	require.Eventually(t, func() bool {
		v, err := a.Query()
		return err == nil && v == 1
	}, time.Second, time.Millisecond)

	assert.EqualValues(t, 1, histogramSampleCount(t, metrics.SyncDuration))
	assert.EqualValues(t, 1, histogramSampleCount(t, metrics.ReplicateRTT))
}

func histogramSampleCount(t *testing.T, h interface {
	Write(*dto.Metric) error
}) uint64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, h.Write(&m))
	return m.GetHistogram().GetSampleCount()
}
