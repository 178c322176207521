// Package input adapts position-based character edits, the shape a
// text UI naturally produces, into the command types the sequence
// CRDTs (LSeq, RGA) accept.
package input

import (
	"github.com/causalmesh/replica/internal/clock"
	"github.com/causalmesh/replica/internal/crdt"
)

// Submitter accepts prepared commands for a replica to process.
// replicakit.Replica satisfies it directly.
type Submitter[Cmd any] interface {
	Submit(cmd Cmd) error
}

// Receiver is the callback surface a text-editing front end drives:
// insert a character at a visible position, or remove the character at
// one.
type Receiver interface {
	InsertAt(position int, ch rune) error
	RemoveAt(position int) error
}

// LSeqReceiver adapts Receiver calls into LSeqCmd submissions. Owner is
// the replica minting pointers for inserted characters.
type LSeqReceiver struct {
	Owner string
	Text  Submitter[crdt.LSeqCmd[rune]]
}

func (r *LSeqReceiver) InsertAt(position int, ch rune) error {
	return r.Text.Submit(crdt.LSeqCmd[rune]{
		Kind:  crdt.LSeqInsert,
		Index: position,
		Owner: clock.ReplicaID(r.Owner),
		Value: ch,
	})
}

func (r *LSeqReceiver) RemoveAt(position int) error {
	return r.Text.Submit(crdt.LSeqCmd[rune]{Kind: crdt.LSeqRemove, Index: position})
}

// RGAReceiver adapts Receiver calls into RGACmd submissions.
type RGAReceiver struct {
	Text Submitter[crdt.RGACmd[rune]]
}

func (r *RGAReceiver) InsertAt(position int, ch rune) error {
	return r.Text.Submit(crdt.RGACmd[rune]{Kind: crdt.RGAInsert, Index: position, Value: ch})
}

func (r *RGAReceiver) RemoveAt(position int) error {
	return r.Text.Submit(crdt.RGACmd[rune]{Kind: crdt.RGARemove, Index: position})
}
