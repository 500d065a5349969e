//go:build !debug

package channel

// New returns the event loop queue: buffered to size.
func New[T any](size int) Channel[T] {
	return NewBuffered[T](size)
}
