package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/causalmesh/replica/internal/monitoring"
)

func TestMailboxSendAndRecv(t *testing.T) {
	m := NewMailbox[int](2, nil)
	assert.True(t, m.Send(1))
	assert.True(t, m.Send(2))
	assert.Equal(t, 1, <-m.Recv())
	assert.Equal(t, 2, <-m.Recv())
}

func TestMailboxDropsWhenFull(t *testing.T) {
	metrics := monitoring.NewMetrics()
	m := NewMailbox[int](1, metrics)
	assert.True(t, m.Send(1))
	assert.False(t, m.Send(2))
	assert.Equal(t, 1, <-m.Recv())
}
