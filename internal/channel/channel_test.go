package channel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuffered_FIFO(t *testing.T) {
	q := NewBuffered[func() int](2)
	q.Send(func() int { return 1 })
	q.Send(func() int { return 2 })

	assert.Equal(t, 2, q.Len())
	assert.Equal(t, 1, (<-q.Receive())())
	assert.Equal(t, 2, (<-q.Receive())())
	assert.Zero(t, q.Len())
}

func TestSendUntil_StopsWhenDone(t *testing.T) {
	tests := map[string]Channel[int]{
		"full buffer": NewBuffered[int](1),
		"no receiver": NewUnbuffered[int](),
	}
	for name, q := range tests {
		t.Run(name, func(t *testing.T) {
			done := make(chan struct{})
			if name == "full buffer" {
				assert.True(t, q.SendUntil(done, 1))
			}
			close(done)
			assert.False(t, q.SendUntil(done, 2))
		})
	}
}

func TestTrySend(t *testing.T) {
	q := NewBuffered[int](1)
	assert.True(t, q.TrySend(1))
	assert.False(t, q.TrySend(2))
	assert.Equal(t, 1, <-q.Receive())
	assert.True(t, q.TrySend(3))

	assert.False(t, NewUnbuffered[int]().TrySend(1))
}

func TestUnbuffered_HandOff(t *testing.T) {
	q := NewUnbuffered[string]()
	go q.Send("tick")

	assert.Equal(t, "tick", <-q.Receive())
	assert.Zero(t, q.Len())
}

func TestClose(t *testing.T) {
	q := New[int](4)
	q.Close()
	_, ok := <-q.Receive()
	assert.False(t, ok)
}
