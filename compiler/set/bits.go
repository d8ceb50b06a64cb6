package set

import (
	"math/bits"

	"tlog.app/go/tlog/tlwire"
)

type (
	Key interface {
		~int | ~int64
	}

	// Bits is a set of small non-negative keys.
	// The zero value is an empty set ready to use.
	Bits[K Key] struct {
		b []uint64
	}
)

func MakeBits[K Key](n int) Bits[K] {
	return Bits[K]{
		b: make([]uint64, (n+63)/64),
	}
}

func Of[K Key](keys ...K) (s Bits[K]) {
	s.SetAll(keys...)

	return s
}

func (s Bits[K]) Copy() Bits[K] {
	c := Bits[K]{
		b: make([]uint64, len(s.b)),
	}

	copy(c.b, s.b)

	return c
}

func (s *Bits[K]) Set(k K) {
	i, j := ij(k)

	s.grow(i + 1)

	s.b[i] |= 1 << j
}

func (s *Bits[K]) SetAll(k ...K) {
	for _, k := range k {
		s.Set(k)
	}
}

func (s Bits[K]) IsSet(k K) bool {
	i, j := ij(k)

	if i >= len(s.b) {
		return false
	}

	return s.b[i]&(1<<j) != 0
}

func (s Bits[K]) Clear(k K) {
	i, j := ij(k)

	if i >= len(s.b) {
		return
	}

	s.b[i] &^= 1 << j
}

// Merge adds all keys of x and reports whether s changed.
func (s *Bits[K]) Merge(x Bits[K]) (changed bool) {
	s.grow(len(x.b))

	for i, w := range x.b {
		if s.b[i]|w != s.b[i] {
			s.b[i] |= w
			changed = true
		}
	}

	return changed
}

// Substract removes all keys of x.
func (s Bits[K]) Substract(x Bits[K]) {
	n := len(s.b)
	if m := len(x.b); m < n {
		n = m
	}

	for i, w := range x.b[:n] {
		s.b[i] &^= w
	}
}

func (s Bits[K]) Equal(x Bits[K]) bool {
	long, short := s.b, x.b
	if len(long) < len(short) {
		long, short = short, long
	}

	for i, w := range short {
		if long[i] != w {
			return false
		}
	}

	for _, w := range long[len(short):] {
		if w != 0 {
			return false
		}
	}

	return true
}

func (s Bits[K]) Size() (r int) {
	for _, w := range s.b {
		r += bits.OnesCount64(w)
	}

	return r
}

// Range calls f for every key in increasing order until f returns false.
func (s Bits[K]) Range(f func(k K) bool) {
	for i, w := range s.b {
		for w != 0 {
			j := bits.TrailingZeros64(w)
			w &^= 1 << j

			if !f(K(i*64 + j)) {
				return
			}
		}
	}
}

func (s Bits[K]) Slice() (r []K) {
	s.Range(func(k K) bool {
		r = append(r, k)
		return true
	})

	return r
}

func (s Bits[K]) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	b = e.AppendArray(b, s.Size())

	s.Range(func(k K) bool {
		b = e.AppendInt(b, int(k))
		return true
	})

	return b
}

func (s *Bits[K]) grow(n int) {
	for len(s.b) < n {
		s.b = append(s.b, 0)
	}
}

func ij[K Key](k K) (i, j int) {
	p := int(k)

	return p / 64, p % 64
}
