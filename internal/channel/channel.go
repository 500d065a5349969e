// Package channel holds the event loop's job queue. Debug builds swap the
// buffered queue for a hand-off so every post meets the loop goroutine.
package channel

// Channel is a closable FIFO of T.
type Channel[T any] interface {
	Send(v T)
	// SendUntil blocks until v is accepted or done is closed. It reports
	// whether v was accepted.
	SendUntil(done <-chan struct{}, v T) bool
	// TrySend queues v only if that does not block.
	TrySend(v T) bool
	Receive() <-chan T
	// Len is the number of queued values; always 0 without a buffer.
	Len() int
	Close()
}

type queue[T any] struct {
	ch chan T
}

// NewBuffered returns a queue holding up to size values.
func NewBuffered[T any](size int) Channel[T] {
	return &queue[T]{ch: make(chan T, size)}
}

// NewUnbuffered returns a queue where each send waits for a receiver.
func NewUnbuffered[T any]() Channel[T] {
	return &queue[T]{ch: make(chan T)}
}

func (q *queue[T]) Send(v T) { q.ch <- v }

func (q *queue[T]) SendUntil(done <-chan struct{}, v T) bool {
	select {
	case q.ch <- v:
		return true
	case <-done:
		return false
	}
}

func (q *queue[T]) TrySend(v T) bool {
	select {
	case q.ch <- v:
		return true
	default:
		return false
	}
}

func (q *queue[T]) Receive() <-chan T { return q.ch }
func (q *queue[T]) Len() int          { return len(q.ch) }
func (q *queue[T]) Close()            { close(q.ch) }
