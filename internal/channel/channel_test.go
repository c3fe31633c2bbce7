package channel

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBuffered_TrySend(t *testing.T) {
	b := NewBuffered[int](2)

	assert.True(t, b.TrySend(1))
	assert.True(t, b.TrySend(2))
	assert.False(t, b.TrySend(3), "full queue drops")
	assert.Equal(t, 2, b.Len())
	assert.Equal(t, int64(1), b.Dropped())

	assert.Equal(t, 1, <-b.Receive())
	assert.True(t, b.TrySend(3))

	b.Close()
	var got []int
	for v := range b.Receive() {
		got = append(got, v)
	}
	assert.Equal(t, []int{2, 3}, got)
}

func TestBaton_OneSideRunsAtATime(t *testing.T) {
	b := NewBaton()
	var steps atomic.Int32
	finished := make(chan struct{})

	go func() {
		defer close(finished)
		b.Await()
		steps.Add(1)
		b.Yield()
		steps.Add(1)
		b.Finish()
	}()

	select {
	case <-finished:
		t.Fatal("worker ran before Resume")
	case <-time.After(20 * time.Millisecond):
	}
	assert.Zero(t, steps.Load())

	b.Resume()
	assert.Equal(t, int32(1), steps.Load())

	b.Resume()
	assert.Equal(t, int32(2), steps.Load())
	<-finished
}
