package sensor

import (
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zeusync/sensormap/internal/core/sensor/tags"
	"github.com/zeusync/sensormap/internal/core/systems/physics"
)

func bruteQuery(m *Map, b physics.Bounds, listen tags.Tags, exclude VolumeID) []VolumeID {
	var out []VolumeID
	m.Each(func(id VolumeID, p VolumeParams) bool {
		if id != exclude && (listen.IsEmpty() || p.AttributeTags.Intersects(listen)) && p.Bounds.Overlaps(b) {
			out = append(out, id)
		}
		return true
	})
	slices.SortFunc(out, VolumeID.Compare)
	return out
}

func sorted(ids []VolumeID) []VolumeID {
	slices.SortFunc(ids, VolumeID.Compare)
	return ids
}

func TestQueryMatchesBruteForce(t *testing.T) {
	r := rand.New(rand.NewPCG(3, 5))
	m := newTestMap(t, func(c *Config) { c.MaxVolumes = 16384 })

	for i := 0; i < 10000; i++ {
		mustCreate(t, m, VolumeParams{Bounds: randomBounds(r, 128, 6), AttributeTags: randomTags(r)})
	}
	require.Equal(t, 10000, m.Len())

	for i := 0; i < 100; i++ {
		probe := randomBounds(r, 140, 40)
		listen := randomTags(r)
		want := bruteQuery(m, probe, listen, InvalidVolumeID)
		got := sorted(m.Query(probe, listen, InvalidVolumeID))
		require.Equal(t, want, got, "probe %s listen %b", probe, listen)
	}
}

func TestQueryAcrossCellBoundaries(t *testing.T) {
	m := newTestMap(t)
	// straddles the root split planes and lives in the root cell
	center := mustCreate(t, m, VolumeParams{Bounds: box(0, 0, 0, 1), AttributeTags: flame})
	// deep in one octant
	deep := mustCreate(t, m, VolumeParams{Bounds: box(33, 33, 33, 0.5), AttributeTags: flame})
	// touching face to face counts as overlap
	touching := mustCreate(t, m, VolumeParams{Bounds: physics.BoxBounds(physics.AABB{
		Min: physics.V3(34, 32, 32), Max: physics.V3(35, 34, 34),
	}), AttributeTags: flame})

	probe := physics.BoxBounds(physics.AABB{Min: physics.V3(0.25, 0.25, 0.25), Max: physics.V3(34, 34, 34)})
	require.ElementsMatch(t, []VolumeID{center, deep, touching}, m.Query(probe, flame, InvalidVolumeID))
	require.ElementsMatch(t, []VolumeID{center, deep, touching}, m.Query(probe, tags.None, InvalidVolumeID))
	require.Empty(t, m.Query(probe, water, InvalidVolumeID))
	require.ElementsMatch(t, []VolumeID{center, touching}, m.Query(probe, flame, deep))
}

func TestQueryUsesExactShapes(t *testing.T) {
	m := newTestMap(t)
	ball := mustCreate(t, m, VolumeParams{
		Bounds:        physics.SphereBounds(physics.Sphere{Center: physics.V3(0, 0, 0), Radius: 1}),
		AttributeTags: flame,
	})

	// inside the sphere AABB corner but outside the sphere
	corner := physics.PointBounds(physics.V3(0.9, 0.9, 0.9))
	require.Empty(t, m.Query(corner, flame, InvalidVolumeID))
	require.Equal(t, []VolumeID{ball}, m.Query(physics.PointBounds(physics.V3(0.5, 0.5, 0.5)), flame, InvalidVolumeID))
}

func TestQueryInto(t *testing.T) {
	m := newTestMap(t)
	a := mustCreate(t, m, VolumeParams{Bounds: box(0, 0, 0, 1), AttributeTags: flame})
	dst := []VolumeID{InvalidVolumeID}
	dst = m.QueryInto(dst, box(0, 0, 0, 1), flame, InvalidVolumeID)
	require.Equal(t, []VolumeID{InvalidVolumeID, a}, dst)
}

func TestQueryOutsideRoot(t *testing.T) {
	m := newTestMap(t)
	stray := mustCreate(t, m, VolumeParams{Bounds: box(1000, 0, 0, 10), AttributeTags: flame})
	mustCreate(t, m, VolumeParams{Bounds: box(0, 0, 0, 10), AttributeTags: flame})
	require.Equal(t, []VolumeID{stray}, m.Query(box(1003, 0, 0, 1), flame, InvalidVolumeID))
}

func BenchmarkQuery(b *testing.B) {
	r := rand.New(rand.NewPCG(1, 1))
	m := newTestMap(b, func(c *Config) { c.MaxVolumes = 16384 })
	for i := 0; i < 10000; i++ {
		mustCreate(b, m, VolumeParams{Bounds: randomBounds(r, 128, 4), AttributeTags: randomTags(r)})
	}
	probes := make([]physics.Bounds, 256)
	for i := range probes {
		probes[i] = randomBounds(r, 128, 16)
	}

	var dst []VolumeID
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		dst = m.QueryInto(dst[:0], probes[i%len(probes)], flame, InvalidVolumeID)
	}
}
