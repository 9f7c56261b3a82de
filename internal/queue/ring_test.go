package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect[T any](r *Ring[T]) []T {
	out := make([]T, 0, r.Len())
	r.Each(func(_ int, v T) bool {
		out = append(out, v)
		return true
	})

	return out
}

func TestRing(t *testing.T) {
	assert := assert.New(t)

	t.Run("Empty Ring", func(t *testing.T) {
		r := NewRing[int](3)

		assert.Equal(0, r.Len())
		assert.Equal(3, r.Cap())
		assert.False(r.IsFull())
		assert.Empty(collect(r))
	})

	t.Run("Push Without Eviction", func(t *testing.T) {
		r := NewRing[int](3)

		for i := 1; i <= 3; i++ {
			_, evicted := r.Push(i)
			assert.False(evicted)
		}

		assert.True(r.IsFull())
		assert.Equal([]int{1, 2, 3}, collect(r))
		assert.Equal(1, r.At(0))
		assert.Equal(3, r.At(2))
	})

	t.Run("Push Evicts Oldest", func(t *testing.T) {
		r := NewRing[string](2)
		r.Push("a")
		r.Push("b")

		old, evicted := r.Push("c")
		assert.True(evicted)
		assert.Equal("a", old)
		assert.Equal([]string{"b", "c"}, collect(r))

		old, evicted = r.Push("d")
		assert.True(evicted)
		assert.Equal("b", old)
		assert.Equal([]string{"c", "d"}, collect(r))
	})

	t.Run("Wraps Many Times", func(t *testing.T) {
		r := NewRing[int](10)
		for i := 0; i < 95; i++ {
			r.Push(i)
		}

		assert.Equal(10, r.Len())
		assert.Equal([]int{85, 86, 87, 88, 89, 90, 91, 92, 93, 94}, collect(r))
	})

	t.Run("Each Stops Early", func(t *testing.T) {
		r := NewRing[int](4)
		for i := 0; i < 4; i++ {
			r.Push(i)
		}

		seen := 0
		r.Each(func(i int, v int) bool {
			seen++
			return v < 1
		})
		assert.Equal(2, seen)
	})

	t.Run("Reset", func(t *testing.T) {
		r := NewRing[*int](2)
		v := 1
		r.Push(&v)
		r.Push(&v)
		r.Reset()

		assert.Equal(0, r.Len())
		assert.Nil(r.items[0])
		assert.Nil(r.items[1])

		r.Push(&v)
		assert.Equal(1, r.Len())
	})
}

func TestRing_Panics(t *testing.T) {
	require.Panics(t, func() { NewRing[int](0) })

	r := NewRing[int](2)
	r.Push(1)
	require.Panics(t, func() { r.At(1) })
	require.Panics(t, func() { r.At(-1) })
}
