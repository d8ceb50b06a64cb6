package set

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBits(t *testing.T) {
	var s Bits[int]

	assert.Equal(t, 0, s.Size())
	assert.False(t, s.IsSet(3))

	s.SetAll(1, 3, 64, 200)

	assert.True(t, s.IsSet(1))
	assert.True(t, s.IsSet(64))
	assert.True(t, s.IsSet(200))
	assert.False(t, s.IsSet(2))
	assert.False(t, s.IsSet(1000))
	assert.Equal(t, 4, s.Size())
	assert.Equal(t, []int{1, 3, 64, 200}, s.Slice())

	s.Clear(64)
	s.Clear(1000)

	assert.Equal(t, []int{1, 3, 200}, s.Slice())
}

func TestBitsMerge(t *testing.T) {
	a := Of(1, 2)
	b := Of(2, 130)

	assert.True(t, a.Merge(b))
	assert.Equal(t, []int{1, 2, 130}, a.Slice())

	assert.False(t, a.Merge(b))
	assert.False(t, a.Merge(Bits[int]{}))

	c := a.Copy()
	c.Substract(Of(2))

	assert.Equal(t, []int{1, 130}, c.Slice())
	assert.Equal(t, []int{1, 2, 130}, a.Slice())
}

func TestBitsEqual(t *testing.T) {
	a := Of(5)
	b := MakeBits[int](1000)
	b.Set(5)

	assert.True(t, a.Equal(b))
	assert.True(t, b.Equal(a))

	b.Set(700)
	assert.False(t, a.Equal(b))
	assert.False(t, b.Equal(a))

	assert.True(t, Bits[int]{}.Equal(MakeBits[int](128)))
}

func TestBitsRangeStop(t *testing.T) {
	s := Of(1, 2, 3, 4)

	var got []int

	s.Range(func(k int) bool {
		got = append(got, k)
		return k < 2
	})

	assert.Equal(t, []int{1, 2}, got)
}
