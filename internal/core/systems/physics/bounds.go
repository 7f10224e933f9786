package physics

import "fmt"

// Shape identifies which variant a Bounds holds.
type Shape uint8

const (
	ShapePoint Shape = iota
	ShapeBox
	ShapeSphere
	ShapeOriented
)

func (s Shape) String() string {
	switch s {
	case ShapePoint:
		return "point"
	case ShapeBox:
		return "box"
	case ShapeSphere:
		return "sphere"
	case ShapeOriented:
		return "oriented"
	default:
		return fmt.Sprintf("shape(%d)", uint8(s))
	}
}

// Bounds is an immutable volume: an axis-aligned box, an oriented box, a
// sphere or a point. The zero value is a point at the origin.
//
// Every variant carries its conservative AABB so broad-phase checks never
// branch on the shape.
type Bounds struct {
	shape  Shape
	aabb   AABB
	sphere Sphere
	obb    OBB
}

// PointBounds returns a point volume.
func PointBounds(p Vec3) Bounds {
	return Bounds{shape: ShapePoint, aabb: AABB{Min: p, Max: p}}
}

// BoxBounds returns an axis-aligned box volume. A zero-size box is a point.
func BoxBounds(b AABB) Bounds {
	b = NewAABB(b.Min, b.Max)
	if b.IsPoint() {
		return PointBounds(b.Min)
	}
	return Bounds{shape: ShapeBox, aabb: b}
}

// BoxAt is a convenience for BoxBounds(AABBFromCenter(center, half)).
func BoxAt(center, half Vec3) Bounds {
	return BoxBounds(AABBFromCenter(center, half))
}

// SphereBounds returns a sphere volume. A sphere with no radius is a point.
func SphereBounds(s Sphere) Bounds {
	if s.Radius <= 0 {
		return PointBounds(s.Center)
	}
	return Bounds{shape: ShapeSphere, aabb: s.AABB(), sphere: s}
}

// OrientedBounds returns an oriented box volume. A zero-size box is a point.
func OrientedBounds(o OBB) Bounds {
	o.HalfExtents = o.HalfExtents.Abs()
	if o.HalfExtents.IsZero() {
		return PointBounds(o.Center)
	}
	return Bounds{shape: ShapeOriented, aabb: o.AABB(), obb: o}
}

func (b Bounds) Shape() Shape { return b.shape }

// AABB returns the conservative axis-aligned box enclosing b.
func (b Bounds) AABB() AABB { return b.aabb }

func (b Bounds) Point() (Vec3, bool)    { return b.aabb.Min, b.shape == ShapePoint }
func (b Bounds) Box() (AABB, bool)      { return b.aabb, b.shape == ShapeBox }
func (b Bounds) Sphere() (Sphere, bool) { return b.sphere, b.shape == ShapeSphere }
func (b Bounds) Oriented() (OBB, bool)  { return b.obb, b.shape == ShapeOriented }

// Center returns the center of the enclosing AABB.
func (b Bounds) Center() Vec3 { return b.aabb.Center() }

// Translate returns b moved by v.
func (b Bounds) Translate(v Vec3) Bounds {
	out := b
	out.aabb = b.aabb.Translate(v)
	out.sphere.Center = b.sphere.Center.Add(v)
	out.obb.Center = b.obb.Center.Add(v)
	return out
}

// Overlaps reports whether a and b share at least one point.
func (b Bounds) Overlaps(o Bounds) bool {
	if !b.aabb.Intersects(o.aabb) {
		return false
	}
	a := b
	if a.shape > o.shape {
		a, o = o, a
	}

	switch a.shape {
	case ShapePoint:
		p := a.aabb.Min
		switch o.shape {
		case ShapePoint:
			return p == o.aabb.Min
		case ShapeBox:
			return true // aabb already intersected
		case ShapeSphere:
			return o.sphere.ContainsPoint(p)
		default:
			return o.obb.ContainsPoint(p)
		}
	case ShapeBox:
		switch o.shape {
		case ShapeBox:
			return true
		case ShapeSphere:
			return sphereOverlapsAABB(o.sphere, a.aabb)
		default:
			return obbOverlapsOBB(obbFromAABB(a.aabb), o.obb)
		}
	case ShapeSphere:
		if o.shape == ShapeSphere {
			return sphereOverlapsSphere(a.sphere, o.sphere)
		}
		return sphereOverlapsOBB(a.sphere, o.obb)
	default:
		return obbOverlapsOBB(a.obb, o.obb)
	}
}

func (b Bounds) String() string {
	switch b.shape {
	case ShapeSphere:
		return fmt.Sprintf("sphere(%v r=%g)", b.sphere.Center, b.sphere.Radius)
	case ShapeOriented:
		return fmt.Sprintf("oriented(%v half=%v)", b.obb.Center, b.obb.HalfExtents)
	default:
		return fmt.Sprintf("%s(%v..%v)", b.shape, b.aabb.Min, b.aabb.Max)
	}
}
