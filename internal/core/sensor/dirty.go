package sensor

import (
	"github.com/zeusync/sensormap/internal/core/sensor/octree"
	"github.com/zeusync/sensormap/internal/core/sensor/tags"
	"github.com/zeusync/sensormap/internal/core/systems/physics"
)

// dirtyQueue accumulates, per cell, the attribute bits whose coverage changed
// since the last sweep.
type dirtyQueue struct {
	cells map[octree.Cell]tags.Tags
}

func newDirtyQueue() *dirtyQueue {
	return &dirtyQueue{cells: make(map[octree.Cell]tags.Tags)}
}

// markDirty records that the attribute bits in delta changed inside region.
// Only cells with something in their subtree are recorded: an empty cell has
// no listener to notify. Stray listeners are checked directly.
func (m *Map) markDirty(region physics.AABB, delta tags.Tags) {
	if delta.IsEmpty() {
		return
	}
	m.space.Walk(region, func(c octree.Cell) bool {
		l := m.members.list(c)
		if l == nil {
			return false
		}
		if l.count > 0 {
			m.dirty.cells[c] |= delta
		}
		return true
	})
	for _, i := range m.members.strays {
		v := m.arena.at(i)
		if v.listen.Intersects(delta) && v.bounds.AABB().Intersects(region) {
			m.flagPending(v)
		}
	}
}

// drainDirty flags every listener living in a dirty cell whose listener tags
// intersect that cell's changed bits, then empties the queue.
func (m *Map) drainDirty() int {
	n := len(m.dirty.cells)
	for c, changed := range m.dirty.cells {
		m.members.each(c, func(v *volume) {
			if v.listen.Intersects(changed) {
				m.flagPending(v)
			}
		})
	}
	clear(m.dirty.cells)
	return n
}

func (m *Map) flagPending(v *volume) {
	if v.pending {
		return
	}
	v.pending = true
	m.pending = append(m.pending, v.id)
}
