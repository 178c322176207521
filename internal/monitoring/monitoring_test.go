package monitoring

import (
	"testing"
)

func TestNewMetrics(t *testing.T) {
	metrics := NewMetrics()
	if metrics == nil {
		t.Fatal("Expected Metrics, got nil")
	}

	if metrics.EventsAppended == nil {
		t.Error("Expected EventsAppended to be initialized")
	}
	if metrics.EventsApplied == nil {
		t.Error("Expected EventsApplied to be initialized")
	}
	if metrics.EventsDropped == nil {
		t.Error("Expected EventsDropped to be initialized")
	}
	if metrics.SyncRounds == nil {
		t.Error("Expected SyncRounds to be initialized")
	}
	if metrics.SyncDuration == nil {
		t.Error("Expected SyncDuration to be initialized")
	}
	if metrics.ReplicateRTT == nil {
		t.Error("Expected ReplicateRTT to be initialized")
	}
	if metrics.MailboxDepth == nil {
		t.Error("Expected MailboxDepth to be initialized")
	}
	if metrics.DroppedMessages == nil {
		t.Error("Expected DroppedMessages to be initialized")
	}
	if metrics.ReplicaSeqNr == nil {
		t.Error("Expected ReplicaSeqNr to be initialized")
	}
}
