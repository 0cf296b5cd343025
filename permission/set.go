package permission

import "math/bits"

// MaxCapabilities is the number of distinct capabilities a Registry can hold.
const MaxCapabilities = 256

// Set is a fixed 256-bit capability bitmask. The zero value is empty.
type Set [MaxCapabilities / 64]uint64

func locate(bit int) (word int, mask uint64, ok bool) {
	if bit < 0 || bit >= MaxCapabilities {
		return 0, 0, false
	}
	return bit >> 6, 1 << (bit & 63), true
}

// Has reports whether bit is set. Out-of-range bits are never set.
func (s *Set) Has(bit int) bool {
	w, mask, ok := locate(bit)
	return ok && s[w]&mask != 0
}

// Set turns bit on. Out-of-range bits are ignored.
func (s *Set) Set(bit int) {
	if w, mask, ok := locate(bit); ok {
		s[w] |= mask
	}
}

// Clear turns bit off.
func (s *Set) Clear(bit int) {
	if w, mask, ok := locate(bit); ok {
		s[w] &^= mask
	}
}

// Union returns s | o.
func (s Set) Union(o Set) Set {
	for i := range s {
		s[i] |= o[i]
	}
	return s
}

func (s Set) Empty() bool {
	return s.Len() == 0
}

// Len counts the set bits.
func (s Set) Len() int {
	n := 0
	for _, w := range s {
		n += bits.OnesCount64(w)
	}
	return n
}
