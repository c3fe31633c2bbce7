// Package queue provides the breadth-first frontier used to walk coupled
// consists.
package queue

// Frontier is a FIFO that admits each key at most once over its lifetime.
// It is not safe for concurrent use; callers hold their own lock while
// walking.
type Frontier[K comparable, T any] struct {
	key   func(T) K
	seen  map[K]struct{}
	items []T
}

// NewFrontier creates a frontier keyed by key and seeded with items.
func NewFrontier[K comparable, T any](key func(T) K, items ...T) *Frontier[K, T] {
	f := &Frontier[K, T]{key: key, seen: make(map[K]struct{}, len(items))}
	f.Push(items...)
	return f
}

// Push enqueues the items whose key has not been seen and returns how many
// were admitted.
func (f *Frontier[K, T]) Push(items ...T) int {
	n := 0
	for _, it := range items {
		if f.Mark(f.key(it)) {
			f.items = append(f.items, it)
			n++
		}
	}
	return n
}

// Mark records k as seen without enqueueing anything. It reports whether k
// was new.
func (f *Frontier[K, T]) Mark(k K) bool {
	if _, ok := f.seen[k]; ok {
		return false
	}
	f.seen[k] = struct{}{}
	return true
}

// Seen reports whether k has been pushed or marked.
func (f *Frontier[K, T]) Seen(k K) bool {
	_, ok := f.seen[k]
	return ok
}

// Pop removes and returns the front item. ok is false when the frontier is
// empty.
func (f *Frontier[K, T]) Pop() (item T, ok bool) {
	if len(f.items) == 0 {
		return item, false
	}
	item = f.items[0]
	var zero T
	f.items[0] = zero
	f.items = f.items[1:]
	return item, true
}

// Len returns the number of queued items.
func (f *Frontier[K, T]) Len() int {
	return len(f.items)
}

// Visited returns the number of distinct keys seen.
func (f *Frontier[K, T]) Visited() int {
	return len(f.seen)
}
