package sensor

import (
	"math"

	"github.com/zeusync/sensormap/internal/core/sensor/octree"
	"github.com/zeusync/sensormap/internal/core/sensor/tags"
	"github.com/zeusync/sensormap/internal/core/systems/physics"
)

const (
	nilIndex         = math.MaxUint32
	initialArenaSize = 64
)

type volume struct {
	id     VolumeID
	alive  bool
	bounds physics.Bounds
	attr   tags.Tags
	listen tags.Tags
	sink   EventSink
	owner  any

	// membership: cell is octree.None for strays, in which case strayAt is
	// the position in the stray list.
	cell       octree.Cell
	prev, next uint32
	strayAt    int

	pending bool
	// cache holds the last query result, sorted by VolumeID.Compare.
	cache []VolumeID
}

func (v *volume) params() VolumeParams {
	return VolumeParams{
		Bounds:        v.bounds,
		AttributeTags: v.attr,
		ListenerTags:  v.listen,
		Sink:          v.sink,
		Owner:         v.owner,
	}
}

// arena is a slot pool with generation-checked handles. Pointers returned by
// allocate and resolve are invalidated by the next allocate.
type arena struct {
	slots []volume
	free  []uint32
	live  int
	limit int
}

func newArena(limit int) *arena {
	return &arena{limit: limit}
}

// allocate pops a free slot, doubling the pool when none is left. It returns
// nil once limit slots are live.
func (a *arena) allocate() *volume {
	if len(a.free) == 0 && !a.grow() {
		return nil
	}
	index := a.free[len(a.free)-1]
	a.free = a.free[:len(a.free)-1]

	v := &a.slots[index]
	v.alive = true
	v.id.Index = index
	v.prev, v.next = nilIndex, nilIndex
	v.cell = octree.None
	v.strayAt = -1
	a.live++
	return v
}

func (a *arena) grow() bool {
	n := len(a.slots)
	if n >= a.limit {
		return false
	}
	size := min(max(2*n, initialArenaSize), a.limit)
	slots := make([]volume, size)
	copy(slots, a.slots)
	for i := size - 1; i >= n; i-- {
		slots[i].id = VolumeID{Index: uint32(i), Generation: 1}
		a.free = append(a.free, uint32(i))
	}
	a.slots = slots
	return true
}

// resolve returns the live volume for id, or nil when id is stale.
func (a *arena) resolve(id VolumeID) *volume {
	if !id.IsValid() || int(id.Index) >= len(a.slots) {
		return nil
	}
	v := &a.slots[id.Index]
	if !v.alive || v.id.Generation != id.Generation {
		return nil
	}
	return v
}

func (a *arena) at(index uint32) *volume {
	return &a.slots[index]
}

// release clears v, bumps its generation and returns the slot to the free list.
func (a *arena) release(v *volume) {
	gen := v.id.Generation + 1
	if gen == 0 {
		// wrapped past maxGeneration
		gen = 1
	}
	*v = volume{
		id:      VolumeID{Index: v.id.Index, Generation: gen},
		cache:   v.cache[:0],
		cell:    octree.None,
		prev:    nilIndex,
		next:    nilIndex,
		strayAt: -1,
	}
	a.free = append(a.free, v.id.Index)
	a.live--
}

// each calls fn for every live volume in slot order.
func (a *arena) each(fn func(v *volume) bool) {
	for i := range a.slots {
		if a.slots[i].alive && !fn(&a.slots[i]) {
			return
		}
	}
}
