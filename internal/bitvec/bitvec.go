// Copyright 2023 Gustavo C. Viegas. All rights reserved.

// Package bitvec defines a bit vector used to hand out
// small integer handles (e.g., for live-object tracking
// and graph traversal marks).
package bitvec

import (
	"iter"
	"math/bits"
)

const nbit = 64

// V is a growable bit vector.
// The zero value is an empty vector ready for use.
type V struct {
	s   []uint64
	set int
}

// Len returns the number of bits in the vector.
func (v *V) Len() int { return len(v.s) * nbit }

// Count returns the number of set bits.
func (v *V) Count() int { return v.set }

// Grow appends n unset bits, rounded up to a multiple
// of 64. It returns the index of the first new bit.
func (v *V) Grow(n int) (index int) {
	index = v.Len()
	if n > 0 {
		v.s = append(v.s, make([]uint64, (n+nbit-1)/nbit)...)
	}
	return
}

// Set sets a given bit.
func (v *V) Set(index int) {
	w, b := index/nbit, uint64(1)<<(index%nbit)
	if v.s[w]&b == 0 {
		v.s[w] |= b
		v.set++
	}
}

// Unset unsets a given bit.
func (v *V) Unset(index int) {
	w, b := index/nbit, uint64(1)<<(index%nbit)
	if v.s[w]&b != 0 {
		v.s[w] &^= b
		v.set--
	}
}

// IsSet checks whether a given bit is set.
// Indices out of range are reported as unset.
func (v *V) IsSet(index int) bool {
	if index < 0 || index >= v.Len() {
		return false
	}
	return v.s[index/nbit]&(1<<(index%nbit)) != 0
}

// Search locates the lowest unset bit.
// It fails only when every bit is set.
func (v *V) Search() (index int, ok bool) {
	for i, x := range v.s {
		if x != ^uint64(0) {
			return i*nbit + bits.TrailingZeros64(^x), true
		}
	}
	return
}

// Alloc sets the lowest unset bit, growing the vector
// if needed, and returns its index.
func (v *V) Alloc() int {
	i, ok := v.Search()
	if !ok {
		i = v.Grow(nbit)
	}
	v.Set(i)
	return i
}

// Clear unsets every bit.
func (v *V) Clear() {
	clear(v.s)
	v.set = 0
}

// Ones returns an iterator over the indices of set bits,
// in increasing order.
func (v *V) Ones() iter.Seq[int] {
	return func(yield func(int) bool) {
		for i, x := range v.s {
			for x != 0 {
				b := bits.TrailingZeros64(x)
				if !yield(i*nbit + b) {
					return
				}
				x &^= 1 << b
			}
		}
	}
}
