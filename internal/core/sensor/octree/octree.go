// Package octree implements a fixed-depth, fixed-bounds octree address space.
//
// Every cell at every depth has a stable index: cells are numbered level by
// level (root first) and, within a level, by the Morton code of their integer
// coordinates. No cell is ever materialized; the space only maps between
// bounds and indices and enumerates indices overlapping a query.
package octree

import (
	"errors"
	"fmt"
	"math"

	"github.com/zeusync/sensormap/internal/core/systems/physics"
)

// MaxDepth bounds the number of subdivision levels. Coordinates are encoded
// with 10 bits per axis, which is what keeps every cell index within 32 bits.
const MaxDepth = 10

// Cell is the index of one octree cell.
type Cell uint32

const (
	// Root is the depth 0 cell covering the whole space.
	Root Cell = 0
	// None marks bounds that no cell contains.
	None Cell = math.MaxUint32
)

var ErrInvalidBounds = errors.New("octree bounds must have positive size on every axis")

// Space maps 3D bounds to cells of a regular octree.
type Space struct {
	bounds   physics.AABB
	depth    int
	cellSize [MaxDepth + 1]physics.Vec3
	// offsets[d] is the index of the first cell at depth d; offsets[depth+1]
	// is the total cell count.
	offsets [MaxDepth + 2]uint32
}

// New creates a space over bounds subdivided depth times. Depth is clamped
// to [0, MaxDepth].
func New(bounds physics.AABB, depth int) (*Space, error) {
	size := bounds.Size()
	if !(size.X > 0 && size.Y > 0 && size.Z > 0) || math.IsInf(size.X+size.Y+size.Z, 0) {
		return nil, fmt.Errorf("%w: %v..%v", ErrInvalidBounds, bounds.Min, bounds.Max)
	}
	depth = max(0, min(depth, MaxDepth))

	s := &Space{bounds: bounds, depth: depth}
	for d := 0; d <= depth; d++ {
		s.cellSize[d] = size.Scale(1 / float64(uint32(1)<<d))
	}
	var count uint32
	for d := 0; d <= depth; d++ {
		s.offsets[d] = count
		count += uint32(1) << (3 * d)
	}
	s.offsets[depth+1] = count
	return s, nil
}

// Bounds returns the root extent.
func (s *Space) Bounds() physics.AABB { return s.bounds }

// Depth returns the deepest level; the root is depth 0.
func (s *Space) Depth() int { return s.depth }

// CellCount returns the number of addressable cells across all depths.
func (s *Space) CellCount() int { return int(s.offsets[s.depth+1]) }

// Valid reports whether c addresses a cell of this space.
func (s *Space) Valid(c Cell) bool { return c != None && uint32(c) < s.offsets[s.depth+1] }

// DepthOf returns the level of c, or -1 if c is not valid.
func (s *Space) DepthOf(c Cell) int {
	if !s.Valid(c) {
		return -1
	}
	for d := s.depth; d > 0; d-- {
		if uint32(c) >= s.offsets[d] {
			return d
		}
	}
	return 0
}

// CellAt returns the cell at depth d with integer coordinates (x, y, z).
func (s *Space) CellAt(d int, x, y, z uint32) Cell {
	return Cell(s.offsets[d] + morton(x, y, z))
}

// Coords decodes c into its depth and integer coordinates.
func (s *Space) Coords(c Cell) (d int, x, y, z uint32) {
	d = s.DepthOf(c)
	if d < 0 {
		return -1, 0, 0, 0
	}
	x, y, z = unmorton(uint32(c) - s.offsets[d])
	return d, x, y, z
}

// ParentOf returns the cell one level up, or None for the root and for
// invalid cells.
func (s *Space) ParentOf(c Cell) Cell {
	d := s.DepthOf(c)
	if d <= 0 {
		return None
	}
	local := uint32(c) - s.offsets[d]
	return Cell(s.offsets[d-1] + local>>3)
}

// CellExtent returns the static extent of c. Invalid cells yield the zero box.
func (s *Space) CellExtent(c Cell) physics.AABB {
	d, x, y, z := s.Coords(c)
	if d < 0 {
		return physics.AABB{}
	}
	return physics.AABB{
		Min: physics.Vec3{X: s.edge(d, 0, int32(x)), Y: s.edge(d, 1, int32(y)), Z: s.edge(d, 2, int32(z))},
		Max: physics.Vec3{X: s.edge(d, 0, int32(x)+1), Y: s.edge(d, 1, int32(y)+1), Z: s.edge(d, 2, int32(z)+1)},
	}
}

// edge returns the coordinate of the i-th cell boundary at depth d along axis.
// The last boundary is the root max exactly, so the deepest cells tile the
// root without rounding gaps.
func (s *Space) edge(d, axis int, i int32) float64 {
	if i >= int32(1)<<d {
		return s.bounds.Max.Axis(axis)
	}
	return s.bounds.Min.Axis(axis) + float64(i)*s.cellSize[d].Axis(axis)
}

// coord returns the largest cell coordinate at depth d whose lower boundary
// is <= v, clamped to the grid.
func (s *Space) coord(d, axis int, v float64) int32 {
	n := int32(1) << d
	lo := s.bounds.Min.Axis(axis)
	i := int32(0)
	if f := math.Floor((v - lo) / s.cellSize[d].Axis(axis)); f > 0 {
		i = int32(min(f, float64(n-1)))
	}
	// floor can be off by one ulp relative to edge(); settle on edge().
	for i > 0 && s.edge(d, axis, i) > v {
		i--
	}
	for i < n-1 && s.edge(d, axis, i+1) <= v {
		i++
	}
	return i
}

// lowerCoord is like coord but, when v sits exactly on a boundary, returns the
// cell below it, since that cell's closed extent touches v too.
func (s *Space) lowerCoord(d, axis int, v float64) int32 {
	i := s.coord(d, axis, v)
	if i > 0 && s.edge(d, axis, i) == v {
		i--
	}
	return i
}

// ContainingCell returns the smallest cell whose extent fully contains b, or
// None when b is not inside the root.
//
// A volume straddling a cell boundary at some depth is kept in the cell one
// level up, so it is never split across cells.
func (s *Space) ContainingCell(b physics.AABB) Cell {
	if !s.bounds.Contains(b) {
		return None
	}
	cell := Root
	for d := 1; d <= s.depth; d++ {
		var xyz [3]uint32
		for axis := 0; axis < 3; axis++ {
			lo := s.coord(d, axis, b.Min.Axis(axis))
			if lo != s.coord(d, axis, b.Max.Axis(axis)) {
				return cell
			}
			xyz[axis] = uint32(lo)
		}
		cell = s.CellAt(d, xyz[0], xyz[1], xyz[2])
	}
	return cell
}

// VisitOverlappingCells calls visit once for every cell, at every depth, whose
// extent intersects q. Cells are visited parent before children.
func (s *Space) VisitOverlappingCells(q physics.AABB, visit func(Cell)) {
	s.Walk(q, func(c Cell) bool {
		visit(c)
		return true
	})
}

// Walk is VisitOverlappingCells with pruning: when visit returns false the
// children of that cell are skipped.
func (s *Space) Walk(q physics.AABB, visit func(Cell) bool) {
	if !q.Valid() || !s.bounds.Intersects(q) {
		return
	}
	w := walker{space: s, visit: visit}
	for d := 0; d <= s.depth; d++ {
		for axis := 0; axis < 3; axis++ {
			w.lo[d][axis] = s.lowerCoord(d, axis, q.Min.Axis(axis))
			w.hi[d][axis] = s.coord(d, axis, q.Max.Axis(axis))
		}
	}
	w.descend(0, 0, 0, 0)
}

type walker struct {
	space  *Space
	visit  func(Cell) bool
	lo, hi [MaxDepth + 1][3]int32
}

// descend visits (d, x, y, z), already known to overlap, then its overlapping children.
func (w *walker) descend(d int, x, y, z int32) {
	if !w.visit(w.space.CellAt(d, uint32(x), uint32(y), uint32(z))) || d == w.space.depth {
		return
	}
	c := d + 1
	lo, hi := w.lo[c], w.hi[c]
	for cz := 2 * z; cz <= 2*z+1; cz++ {
		if cz < lo[2] || cz > hi[2] {
			continue
		}
		for cy := 2 * y; cy <= 2*y+1; cy++ {
			if cy < lo[1] || cy > hi[1] {
				continue
			}
			for cx := 2 * x; cx <= 2*x+1; cx++ {
				if cx < lo[0] || cx > hi[0] {
					continue
				}
				w.descend(c, cx, cy, cz)
			}
		}
	}
}

func part1by2(v uint32) uint32 {
	v &= 0x3ff
	v = (v | v<<16) & 0x030000ff
	v = (v | v<<8) & 0x0300f00f
	v = (v | v<<4) & 0x030c30c3
	v = (v | v<<2) & 0x09249249
	return v
}

func compact1by2(v uint32) uint32 {
	v &= 0x09249249
	v = (v ^ v>>2) & 0x030c30c3
	v = (v ^ v>>4) & 0x0300f00f
	v = (v ^ v>>8) & 0x030000ff
	v = (v ^ v>>16) & 0x000003ff
	return v
}

func morton(x, y, z uint32) uint32 {
	return part1by2(x) | part1by2(y)<<1 | part1by2(z)<<2
}

func unmorton(m uint32) (x, y, z uint32) {
	return compact1by2(m), compact1by2(m >> 1), compact1by2(m >> 2)
}
