// Package bitset is a fixed-size set of bit flags packed into 64-bit words.
// The aggregator uses it to track which slots of a ring buffer hold live samples.
package bitset

import "math/bits"

func NewBitSet(len uint64) BitSet {
	words := (len + 63) / 64
	return make([]uint64, words)
}

type BitSet []uint64

func (b BitSet) IsSet(index uint64) bool {
	wordPosition := index / 64
	bitPosition := index % 64
	mask := uint64(1) << bitPosition

	return (b[wordPosition] & mask) != 0
}

func (b BitSet) Set(index uint64) {
	wordPosition := index / 64
	bitPosition := index % 64
	mask := uint64(1) << bitPosition

	b[wordPosition] |= mask
}

func (b BitSet) Unset(index uint64) {
	wordPosition := index / 64
	bitPosition := index % 64
	mask := uint64(1) << bitPosition

	b[wordPosition] &^= mask
}

// Count returns the number of set bits.
func (b BitSet) Count() uint64 {
	var n int
	for _, w := range b {
		n += bits.OnesCount64(w)
	}
	return uint64(n)
}

// Clone returns an independent copy.
func (b BitSet) Clone() BitSet {
	if b == nil {
		return nil
	}
	out := make(BitSet, len(b))
	copy(out, b)
	return out
}

// Each calls fn with the index of every set bit in ascending order. fn may unset the bit it
// is given.
func (b BitSet) Each(fn func(index uint64)) {
	for i, w := range b {
		for w != 0 {
			tz := bits.TrailingZeros64(w)
			fn(uint64(i)*64 + uint64(tz))
			w &= w - 1
		}
	}
}
