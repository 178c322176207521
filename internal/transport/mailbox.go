// Package transport provides the abstract point-to-point delivery layer
// every replica actor sends and receives messages through: a message a
// Send accepts is delivered exactly once, a Send to a full mailbox is
// refused and its message dropped (see Mailbox), and nothing guarantees
// two concurrent Sends land in send order. It deliberately
// knows nothing about CRDTs or replication semantics; it only moves
// values of M between a bounded buffer and a receiving goroutine.
package transport

import "github.com/causalmesh/replica/internal/monitoring"

// Mailbox is a bounded, non-blocking inbox. A full mailbox drops the
// newest message rather than blocking its sender, trading delivery for
// liveness: a slow or wedged peer cannot stall the rest of the system.
type Mailbox[M any] struct {
	ch      chan M
	metrics *monitoring.Metrics
}

// NewMailbox creates a mailbox with room for capacity messages.
// metrics may be nil, in which case drops are silently uncounted.
func NewMailbox[M any](capacity int, metrics *monitoring.Metrics) *Mailbox[M] {
	return &Mailbox[M]{ch: make(chan M, capacity), metrics: metrics}
}

// Send attempts to enqueue msg without blocking. It reports whether the
// message was actually enqueued; a false return means the mailbox was
// full and the message was dropped.
func (m *Mailbox[M]) Send(msg M) bool {
	select {
	case m.ch <- msg:
		if m.metrics != nil {
			m.metrics.MailboxDepth.Set(float64(len(m.ch)))
		}
		return true
	default:
		if m.metrics != nil {
			m.metrics.DroppedMessages.Inc()
		}
		return false
	}
}

// Recv exposes the receive-only side of the mailbox for a consumer loop
// (typically a single `for msg := range mailbox.Recv()`).
func (m *Mailbox[M]) Recv() <-chan M {
	return m.ch
}

// Close stops further delivery. Callers must ensure no goroutine calls
// Send after Close; doing so panics, matching close-channel semantics.
func (m *Mailbox[M]) Close() {
	close(m.ch)
}
