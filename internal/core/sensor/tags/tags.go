// Package tags provides the fixed-width tag bitmask consumed by the sensor
// map and a small registry that allocates one bit per tag name.
package tags

import "math/bits"

// Width is the number of distinct tags a Tags value can hold.
const Width = 64

// Tags is a set of tag bits. A single allocated tag is a Tags with one bit set.
type Tags uint64

// None is the empty tag set.
const None Tags = 0

// All has every bit set.
const All Tags = ^Tags(0)

// Bit returns the tag set holding only bit i.
func Bit(i uint) Tags { return Tags(1) << (i % Width) }

// Of unions the given tag sets.
func Of(ts ...Tags) Tags {
	var out Tags
	for _, t := range ts {
		out |= t
	}
	return out
}

func (t Tags) Union(o Tags) Tags      { return t | o }
func (t Tags) Intersect(o Tags) Tags  { return t & o }
func (t Tags) Without(o Tags) Tags    { return t &^ o }
func (t Tags) Delta(o Tags) Tags      { return t ^ o }
func (t Tags) Intersects(o Tags) bool { return t&o != 0 }
func (t Tags) Contains(sub Tags) bool { return t&sub == sub }
func (t Tags) IsEmpty() bool          { return t == 0 }
func (t Tags) Count() int             { return bits.OnesCount64(uint64(t)) }

// Each calls fn with the index of every set bit, lowest first.
func (t Tags) Each(fn func(bit uint)) {
	for v := uint64(t); v != 0; v &= v - 1 {
		fn(uint(bits.TrailingZeros64(v)))
	}
}
