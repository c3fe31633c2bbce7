package channel

import "sync/atomic"

// Buffered queues values from a producer that must not stall to a consumer
// draining at its own pace.
type Buffered[T any] struct {
	ch      chan T
	dropped atomic.Int64
}

var (
	_ Sender[int]   = (*Buffered[int])(nil)
	_ Receiver[int] = (*Buffered[int])(nil)
)

// NewBuffered creates a queue holding up to size values.
func NewBuffered[T any](size int) *Buffered[T] {
	return &Buffered[T]{ch: make(chan T, size)}
}

// Send blocks until there is room for v.
func (b *Buffered[T]) Send(v T) {
	b.ch <- v
}

// TrySend queues v unless the queue is full, in which case v is counted as
// dropped.
func (b *Buffered[T]) TrySend(v T) bool {
	select {
	case b.ch <- v:
		return true
	default:
		b.dropped.Add(1)
		return false
	}
}

func (b *Buffered[T]) Receive() <-chan T { return b.ch }

// Len returns the number of queued values.
func (b *Buffered[T]) Len() int { return len(b.ch) }

// Dropped returns how many values TrySend has refused.
func (b *Buffered[T]) Dropped() int64 { return b.dropped.Load() }

// Close ends the consumer's range loop once the queue is empty.
func (b *Buffered[T]) Close() { close(b.ch) }
