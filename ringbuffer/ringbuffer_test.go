package ringbuffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuffer_PushAndOverwrite(t *testing.T) {
	b := New[int](3)
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, 3, b.Cap())

	b.Push(1)
	b.Push(2)
	assert.Equal(t, 2, b.Len())
	assert.Equal(t, []int{1, 2}, b.Slice())

	b.Push(3)
	b.Push(4) // overwrites 1
	require.Equal(t, 3, b.Len())
	assert.Equal(t, []int{2, 3, 4}, b.Slice())
}

func TestBuffer_At(t *testing.T) {
	b := New[string](2)
	b.Push("a")
	b.Push("b")
	b.Push("c")
	assert.Equal(t, "b", b.At(0))
	assert.Equal(t, "c", b.At(1))
	assert.Panics(t, func() { b.At(2) })
}

func TestBuffer_Newest(t *testing.T) {
	b := New[int](2)
	_, ok := b.Newest()
	assert.False(t, ok)

	b.Push(10)
	b.Push(20)
	v, ok := b.Newest()
	require.True(t, ok)
	assert.Equal(t, 20, v)
}

func TestBuffer_IterNewestFirst(t *testing.T) {
	b := New[int](4)
	for i := 1; i <= 4; i++ {
		b.Push(i)
	}
	var seen []int
	b.IterNewestFirst(func(v int) bool {
		seen = append(seen, v)
		return true
	})
	assert.Equal(t, []int{4, 3, 2, 1}, seen)

	seen = nil
	b.IterNewestFirst(func(v int) bool {
		seen = append(seen, v)
		return len(seen) < 2
	})
	assert.Equal(t, []int{4, 3}, seen)
}

func TestBuffer_PanicsOnZeroCapacity(t *testing.T) {
	assert.Panics(t, func() { New[int](0) })
}
