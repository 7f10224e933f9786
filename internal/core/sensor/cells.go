package sensor

import (
	"github.com/zeusync/sensormap/internal/core/sensor/octree"
)

// cellList is the intrusive membership list of one cell.
type cellList struct {
	head, tail uint32
	// count is the number of volumes linked in this cell, subtree the number
	// linked in this cell or any descendant. A cell with an empty subtree has
	// no entry at all.
	count   int32
	subtree int32
}

// membership keeps every live volume linked into the list of its containing
// cell, or into the stray list when no cell contains it.
type membership struct {
	space  *octree.Space
	arena  *arena
	cells  map[octree.Cell]*cellList
	spare  []*cellList
	strays []uint32
}

func newMembership(space *octree.Space, a *arena) *membership {
	return &membership{
		space: space,
		arena: a,
		cells: make(map[octree.Cell]*cellList),
	}
}

// list returns the entry of c, or nil when nothing lives in its subtree.
func (m *membership) list(c octree.Cell) *cellList {
	return m.cells[c]
}

func (m *membership) occupied(c octree.Cell) bool {
	_, ok := m.cells[c]
	return ok
}

func (m *membership) ensure(c octree.Cell) *cellList {
	if l, ok := m.cells[c]; ok {
		return l
	}
	var l *cellList
	if n := len(m.spare); n > 0 {
		l = m.spare[n-1]
		m.spare = m.spare[:n-1]
	} else {
		l = new(cellList)
	}
	*l = cellList{head: nilIndex, tail: nilIndex}
	m.cells[c] = l
	return l
}

// remap moves v to the cell containing its bounds. It reports whether the
// cell changed.
func (m *membership) remap(v *volume) bool {
	cell := m.space.ContainingCell(v.bounds.AABB())
	linked := v.cell != octree.None || v.strayAt >= 0
	if linked && cell == v.cell {
		return false
	}
	if linked {
		m.unlink(v)
	}
	m.link(v, cell)
	return true
}

func (m *membership) link(v *volume, cell octree.Cell) {
	v.cell = cell
	if cell == octree.None {
		v.strayAt = len(m.strays)
		m.strays = append(m.strays, v.id.Index)
		return
	}

	l := m.ensure(cell)
	v.prev, v.next = l.tail, nilIndex
	if l.tail != nilIndex {
		m.arena.at(l.tail).next = v.id.Index
	} else {
		l.head = v.id.Index
	}
	l.tail = v.id.Index
	l.count++

	for c := cell; c != octree.None; c = m.space.ParentOf(c) {
		m.ensure(c).subtree++
	}
}

// unlink removes v from its list without relinking it anywhere.
func (m *membership) unlink(v *volume) {
	if v.strayAt >= 0 {
		last := len(m.strays) - 1
		moved := m.strays[last]
		m.strays[v.strayAt] = moved
		m.arena.at(moved).strayAt = v.strayAt
		m.strays = m.strays[:last]
		v.strayAt = -1
		return
	}
	if v.cell == octree.None {
		return
	}

	l := m.cells[v.cell]
	if v.prev != nilIndex {
		m.arena.at(v.prev).next = v.next
	} else {
		l.head = v.next
	}
	if v.next != nilIndex {
		m.arena.at(v.next).prev = v.prev
	} else {
		l.tail = v.prev
	}
	l.count--

	for c := v.cell; c != octree.None; c = m.space.ParentOf(c) {
		e := m.cells[c]
		if e.subtree--; e.subtree == 0 {
			delete(m.cells, c)
			m.spare = append(m.spare, e)
		}
	}
	v.cell, v.prev, v.next = octree.None, nilIndex, nilIndex
}

// each calls fn for every volume linked directly in c.
func (m *membership) each(c octree.Cell, fn func(v *volume)) {
	l := m.cells[c]
	if l == nil {
		return
	}
	for i := l.head; i != nilIndex; {
		v := m.arena.at(i)
		i = v.next
		fn(v)
	}
}

// rebuild relinks every live volume into a new address space.
func (m *membership) rebuild(space *octree.Space) {
	for c, l := range m.cells {
		m.spare = append(m.spare, l)
		delete(m.cells, c)
	}
	m.strays = m.strays[:0]
	m.space = space
	m.arena.each(func(v *volume) bool {
		v.cell, v.prev, v.next, v.strayAt = octree.None, nilIndex, nilIndex, -1
		m.link(v, space.ContainingCell(v.bounds.AABB()))
		return true
	})
}

// occupiedCells counts cells with at least one volume linked directly.
func (m *membership) occupiedCells() int {
	n := 0
	for _, l := range m.cells {
		if l.count > 0 {
			n++
		}
	}
	return n
}
