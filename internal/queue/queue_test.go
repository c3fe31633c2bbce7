package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type car struct {
	GUID string
	ID   string
}

func byGUID(c car) string { return c.GUID }

func TestFrontier_Seeded(t *testing.T) {
	f := NewFrontier(byGUID, car{"a", "L-001"})
	assert.Equal(t, 1, f.Len())
	assert.True(t, f.Seen("a"))

	got, ok := f.Pop()
	require.True(t, ok)
	assert.Equal(t, "L-001", got.ID)
	assert.Zero(t, f.Len())
}

func TestFrontier_FIFO(t *testing.T) {
	f := NewFrontier[string, car](byGUID)
	f.Push(car{"a", "1"})
	f.Push(car{"b", "2"}, car{"c", "3"})

	for _, want := range []string{"1", "2", "3"} {
		got, ok := f.Pop()
		require.True(t, ok)
		assert.Equal(t, want, got.ID)
	}
	_, ok := f.Pop()
	assert.False(t, ok)
}

func TestFrontier_AdmitsKeyOnce(t *testing.T) {
	f := NewFrontier(byGUID, car{"a", "1"})
	_, _ = f.Pop()

	assert.Equal(t, 1, f.Push(car{"a", "1 again"}, car{"b", "2"}, car{"b", "2 again"}))
	assert.Equal(t, 1, f.Len())
	assert.Equal(t, 2, f.Visited())
}

func TestFrontier_Mark(t *testing.T) {
	f := NewFrontier[string, car](byGUID)

	assert.True(t, f.Mark("missing"))
	assert.False(t, f.Mark("missing"))
	assert.Zero(t, f.Push(car{"missing", "x"}))
	assert.Zero(t, f.Len())
}

func TestFrontier_PopEmpty(t *testing.T) {
	f := NewFrontier[string, car](byGUID)
	got, ok := f.Pop()
	assert.False(t, ok)
	assert.Equal(t, car{}, got)
}
