// Command replicad is a small interactive demo that spins up a handful
// of in-process replicas, wires them pairwise over the in-memory
// transport, and lets an operator drive them from stdin. It is not
// meant to be a production server; it exists to exercise the full
// Command/Sync/Replicate/Replicated/Query message flow end to end.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/causalmesh/replica/internal/clock"
	"github.com/causalmesh/replica/internal/crdt"
	"github.com/causalmesh/replica/internal/input"
	"github.com/causalmesh/replica/internal/logging"
	"github.com/causalmesh/replica/internal/monitoring"
	"github.com/causalmesh/replica/internal/tracing"
	"github.com/causalmesh/replica/pkg/replicakit"
)

const replicaCount = 3

// demo bundles the three replicated structures one replica owns: a
// counter, a string OR-Set, and a text LSeq, so a single command line
// like "INC:0" or "A:0;hello" can address any of them by replica index.
// edit is the input.Receiver surface a terminal front end would drive;
// the E action feeds it one character at a time.
type demo struct {
	id      clock.ReplicaID
	counter *replicakit.Replica[uint64, crdt.IncrementCmd, uint64, crdt.CounterSnapshot]
	set     *replicakit.Replica[[]string, crdt.ORSetCmd[string], crdt.ORSetOp[string], crdt.ORSetSnapshot[string]]
	text    *replicakit.Replica[[]rune, crdt.LSeqCmd[rune], crdt.LSeqOp[rune], crdt.LSeqSnapshot[rune]]
	edit    input.Receiver
}

func newDemo(id clock.ReplicaID, logger *zap.Logger, metrics *monitoring.Metrics) (*demo, error) {
	opts := func() replicakit.Options {
		return replicakit.Options{ReplicaID: string(id), SnapshotEvery: 50, Logger: logger, Metrics: metrics}
	}

	counter, err := replicakit.NewCounter(opts())
	if err != nil {
		return nil, fmt.Errorf("replica %s: counter: %w", id, err)
	}
	set, err := replicakit.NewORSet[string](opts())
	if err != nil {
		return nil, fmt.Errorf("replica %s: orset: %w", id, err)
	}
	text, err := replicakit.NewLSeq[rune](opts())
	if err != nil {
		return nil, fmt.Errorf("replica %s: lseq: %w", id, err)
	}
	edit := &input.LSeqReceiver{Owner: string(id), Text: text}
	return &demo{id: id, counter: counter, set: set, text: text, edit: edit}, nil
}

func main() {
	logger, err := logging.NewLogger("info", "console")
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	instanceID := uuid.New().String()
	logger.Logger = logger.With(zap.String("instance_id", instanceID))
	metrics := monitoring.NewMetrics()

	if tp, err := tracing.InitTracer("replicad", "http://localhost:14268/api/traces"); err == nil {
		defer tp.Shutdown(context.Background())
	}

	go func() {
		http.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(":9090", nil); err != nil {
			logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	demos := make(map[clock.ReplicaID]*demo, replicaCount)
	for i := 0; i < replicaCount; i++ {
		id := clock.ReplicaID(strconv.Itoa(i))
		d, err := newDemo(id, logger.Logger, metrics)
		if err != nil {
			log.Fatal(err)
		}
		demos[id] = d
		go d.counter.Run(ctx)
		go d.set.Run(ctx)
		go d.text.Run(ctx)
	}

	for i := 0; i < replicaCount; i++ {
		for j := i + 1; j < replicaCount; j++ {
			a := demos[clock.ReplicaID(strconv.Itoa(i))]
			b := demos[clock.ReplicaID(strconv.Itoa(j))]
			replicakit.Connect(a.counter, b.counter)
			replicakit.Connect(a.set, b.set)
			replicakit.Connect(a.text, b.text)
		}
	}

	fmt.Println("replicad ready. Commands: INC:id  Q:id  S:id  A:id;value  R:id;value  E:id;text")
	runLoop(os.Stdin, demos)
}

func runLoop(in *os.File, demos map[clock.ReplicaID]*demo) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := dispatch(line, demos); err != nil {
			fmt.Println(err)
		}
	}
}

func dispatch(line string, demos map[clock.ReplicaID]*demo) error {
	action, rest, ok := strings.Cut(line, ":")
	if !ok {
		return fmt.Errorf("malformed command %q: expected ACTION:ID[;VALUE]", line)
	}

	id, value, _ := strings.Cut(rest, ";")
	id = strings.TrimSpace(id)
	value = strings.TrimSpace(value)

	d, ok := demos[clock.ReplicaID(id)]
	if !ok {
		return fmt.Errorf("unknown replica id %q", id)
	}

	switch strings.ToUpper(action) {
	case "INC":
		return d.counter.Submit(crdt.IncrementCmd{})
	case "Q":
		return printQuery(d)
	case "S":
		return syncAll(d)
	case "A":
		return d.set.Submit(crdt.ORSetCmd[string]{Kind: crdt.ORSetAdd, Value: value})
	case "R":
		return d.set.Submit(crdt.ORSetCmd[string]{Kind: crdt.ORSetRemove, Value: value})
	case "E":
		return appendText(d, value)
	default:
		return fmt.Errorf("unrecognized action %q", action)
	}
}

func printQuery(d *demo) error {
	count, err := d.counter.Query()
	if err != nil {
		return err
	}
	items, err := d.set.Query()
	if err != nil {
		return err
	}
	text, err := d.text.Query()
	if err != nil {
		return err
	}
	fmt.Printf("[%s] counter=%d set=%v text=%q\n", d.id, count, items, string(text))
	return nil
}

func syncAll(d *demo) error {
	if err := d.counter.SyncAll(); err != nil {
		return err
	}
	if err := d.set.SyncAll(); err != nil {
		return err
	}
	return d.text.SyncAll()
}

// appendText inserts every rune of value at the end of d's current text
// through the edit receiver, the way a real terminal front end would
// drive it one keystroke at a time.
func appendText(d *demo, value string) error {
	current, err := d.text.Query()
	if err != nil {
		return err
	}
	pos := len(current)
	for _, ch := range value {
		if err := d.edit.InsertAt(pos, ch); err != nil {
			return err
		}
		pos++
	}
	return nil
}
