package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danmuck/tipctl/internal/testutil/testlog"
)

func TestRingRetainsMostRecentInOrder(t *testing.T) {
	testlog.Start(t)
	const capacity = 4
	r := NewRing[int](capacity)
	evictions := 0
	for i := 1; i <= 11; i++ {
		if r.Push(i) {
			evictions++
		}
	}
	assert.Equal(t, []int{8, 9, 10, 11}, r.Snapshot())
	assert.Equal(t, capacity, r.Len())
	assert.Equal(t, 7, evictions)
	assert.Equal(t, RingStats{Written: 11, Evicted: 7}, r.Stats())
	assert.Equal(t, []int{10, 11}, r.Last(2))
	assert.Equal(t, []int{8, 9, 10, 11}, r.Last(100))
}

func TestRingPartialAndReset(t *testing.T) {
	testlog.Start(t)
	r := NewRing[string](3)
	assert.Empty(t, r.Snapshot())
	r.Push("a")
	r.Push("b")
	assert.Equal(t, []string{"a", "b"}, r.Snapshot())

	r.Reset()
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, RingStats{}, r.Stats())
	r.Push("c")
	assert.Equal(t, []string{"c"}, r.Snapshot())
}

func TestRingChangedFiresOnPush(t *testing.T) {
	testlog.Start(t)
	r := NewRing[int](2)
	ch := r.Changed()
	select {
	case <-ch:
		t.Fatalf("changed fired before push")
	default:
	}
	r.Push(1)
	select {
	case <-ch:
	default:
		t.Fatalf("changed did not fire")
	}
	require.NotEqual(t, ch, r.Changed())
}

func TestRingSinceReturnsOnlyNewerItems(t *testing.T) {
	testlog.Start(t)
	r := NewRing[int](4)
	r.Push(1)
	r.Push(2)
	mark := r.Stats().Written
	assert.Empty(t, r.Since(mark))

	r.Push(3)
	assert.Equal(t, []int{3}, r.Since(mark))
	for i := 4; i <= 9; i++ {
		r.Push(i)
	}
	assert.Equal(t, []int{6, 7, 8, 9}, r.Since(mark))

	r.Reset()
	r.Push(10)
	assert.Equal(t, []int{10}, r.Since(mark))
}
