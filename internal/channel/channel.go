// Package channel holds the hand-offs between the host thread and the
// goroutines it feeds: a drop-on-full queue for statistics and the baton the
// scheduler passes to its tasks.
package channel

// Receiver provides read access to a queue.
type Receiver[T any] interface {
	Receive() <-chan T
	Len() int
}

// Sender provides write access to a queue.
type Sender[T any] interface {
	Send(T)
	TrySend(T) bool
}
