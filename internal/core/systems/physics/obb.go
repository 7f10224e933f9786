package physics

import "math"

// satEpsilon guards the separating axis test against near-parallel edge pairs
// whose cross product degenerates to zero.
const satEpsilon = 1e-9

// Sphere is a solid ball.
type Sphere struct {
	Center Vec3
	Radius float64
}

func (s Sphere) AABB() AABB {
	r := math.Abs(s.Radius)
	return AABB{Min: s.Center.Sub(Vec3{r, r, r}), Max: s.Center.Add(Vec3{r, r, r})}
}

func (s Sphere) ContainsPoint(p Vec3) bool {
	return p.Sub(s.Center).LengthSq() <= s.Radius*s.Radius
}

// OBB is an oriented box. Axes must be orthonormal.
type OBB struct {
	Center      Vec3
	HalfExtents Vec3
	Axes        [3]Vec3
}

// IdentityAxes are the world X, Y and Z axes.
var IdentityAxes = [3]Vec3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}

// NewOBB builds an oriented box from a center, half extents and orientation axes.
func NewOBB(center, half Vec3, axes [3]Vec3) OBB {
	return OBB{Center: center, HalfExtents: half.Abs(), Axes: axes}
}

// AxesFromEuler returns orthonormal axes for a rotation of yaw about Z,
// then pitch about X, then roll about Y (radians).
func AxesFromEuler(yaw, pitch, roll float64) [3]Vec3 {
	cy, sy := math.Cos(yaw), math.Sin(yaw)
	cp, sp := math.Cos(pitch), math.Sin(pitch)
	cr, sr := math.Cos(roll), math.Sin(roll)

	// R = Rz(yaw) * Rx(pitch) * Ry(roll); columns are the rotated axes.
	m := [3][3]float64{
		{cy*cr - sy*sp*sr, -sy * cp, cy*sr + sy*sp*cr},
		{sy*cr + cy*sp*sr, cy * cp, sy*sr - cy*sp*cr},
		{-cp * sr, sp, cp * cr},
	}
	return [3]Vec3{
		{m[0][0], m[1][0], m[2][0]},
		{m[0][1], m[1][1], m[2][1]},
		{m[0][2], m[1][2], m[2][2]},
	}
}

func obbFromAABB(b AABB) OBB {
	return OBB{Center: b.Center(), HalfExtents: b.HalfSize(), Axes: IdentityAxes}
}

// AABB returns the tight axis-aligned box around o.
func (o OBB) AABB() AABB {
	var ext Vec3
	h := o.HalfExtents.array()
	for j := 0; j < 3; j++ {
		ext = ext.Add(o.Axes[j].Abs().Scale(h[j]))
	}
	return AABB{Min: o.Center.Sub(ext), Max: o.Center.Add(ext)}
}

// toLocal expresses p in the box frame.
func (o OBB) toLocal(p Vec3) Vec3 {
	d := p.Sub(o.Center)
	return Vec3{d.Dot(o.Axes[0]), d.Dot(o.Axes[1]), d.Dot(o.Axes[2])}
}

func (o OBB) ContainsPoint(p Vec3) bool {
	l := o.toLocal(p).Abs()
	h := o.HalfExtents
	return l.X <= h.X+satEpsilon && l.Y <= h.Y+satEpsilon && l.Z <= h.Z+satEpsilon
}

// ClosestPoint returns the point of o nearest to p, in world space.
func (o OBB) ClosestPoint(p Vec3) Vec3 {
	l := o.toLocal(p)
	h := o.HalfExtents
	l = Vec3{clamp(l.X, -h.X, h.X), clamp(l.Y, -h.Y, h.Y), clamp(l.Z, -h.Z, h.Z)}
	return o.Center.
		Add(o.Axes[0].Scale(l.X)).
		Add(o.Axes[1].Scale(l.Y)).
		Add(o.Axes[2].Scale(l.Z))
}

func sphereOverlapsAABB(s Sphere, b AABB) bool {
	return b.ClosestPoint(s.Center).Sub(s.Center).LengthSq() <= s.Radius*s.Radius
}

func sphereOverlapsOBB(s Sphere, o OBB) bool {
	return o.ClosestPoint(s.Center).Sub(s.Center).LengthSq() <= s.Radius*s.Radius+satEpsilon
}

func sphereOverlapsSphere(a, b Sphere) bool {
	r := a.Radius + b.Radius
	return b.Center.Sub(a.Center).LengthSq() <= r*r
}

// obbOverlapsOBB runs the separating axis test over the 15 candidate axes.
func obbOverlapsOBB(a, b OBB) bool {
	var r, absR [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] = a.Axes[i].Dot(b.Axes[j])
			absR[i][j] = math.Abs(r[i][j]) + satEpsilon
		}
	}

	d := b.Center.Sub(a.Center)
	t := [3]float64{d.Dot(a.Axes[0]), d.Dot(a.Axes[1]), d.Dot(a.Axes[2])}
	ae, be := a.HalfExtents.array(), b.HalfExtents.array()

	for i := 0; i < 3; i++ {
		ra := ae[i]
		rb := be[0]*absR[i][0] + be[1]*absR[i][1] + be[2]*absR[i][2]
		if math.Abs(t[i]) > ra+rb {
			return false
		}
	}

	for j := 0; j < 3; j++ {
		ra := ae[0]*absR[0][j] + ae[1]*absR[1][j] + ae[2]*absR[2][j]
		rb := be[j]
		if math.Abs(t[0]*r[0][j]+t[1]*r[1][j]+t[2]*r[2][j]) > ra+rb {
			return false
		}
	}

	// a.Axes[i] x b.Axes[j]
	for i := 0; i < 3; i++ {
		i1, i2 := (i+1)%3, (i+2)%3
		for j := 0; j < 3; j++ {
			j1, j2 := (j+1)%3, (j+2)%3
			ra := ae[i1]*absR[i2][j] + ae[i2]*absR[i1][j]
			rb := be[j1]*absR[i][j2] + be[j2]*absR[i][j1]
			if math.Abs(t[i2]*r[i1][j]-t[i1]*r[i2][j]) > ra+rb {
				return false
			}
		}
	}
	return true
}
