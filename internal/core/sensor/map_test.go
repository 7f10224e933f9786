package sensor

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/zeusync/sensormap/internal/core/observability/log"
	"github.com/zeusync/sensormap/internal/core/sensor/octree"
	"github.com/zeusync/sensormap/internal/core/sensor/tags"
	"github.com/zeusync/sensormap/internal/core/systems/physics"
)

const (
	flame = tags.Tags(1 << iota)
	water
	player
)

func testConfig() Config {
	return Config{
		Name:       "test",
		Bounds:     physics.AABB{Min: physics.V3(-128, -128, -128), Max: physics.V3(128, 128, 128)},
		Depth:      6,
		MaxVolumes: 4096,
	}
}

func newTestMap(t testing.TB, opts ...func(*Config)) *Map {
	t.Helper()
	cfg := testConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	m, err := New(cfg)
	require.NoError(t, err)
	return m
}

type recorder struct {
	events []Event
}

func (r *recorder) OnSensorEvent(e Event) { r.events = append(r.events, e) }

func (r *recorder) take() []Event {
	out := r.events
	r.events = nil
	return out
}

func box(x, y, z, size float64) physics.Bounds {
	h := size / 2
	return physics.BoxAt(physics.V3(x, y, z), physics.V3(h, h, h))
}

func mustCreate(t testing.TB, m *Map, p VolumeParams) VolumeID {
	t.Helper()
	id, err := m.CreateVolume(p)
	require.NoError(t, err)
	require.True(t, id.IsValid())
	return id
}

func TestEnterThenLeave(t *testing.T) {
	m := newTestMap(t)
	rec := &recorder{}

	a := mustCreate(t, m, VolumeParams{Bounds: box(0, 0, 0, 2), ListenerTags: flame, Sink: rec, Owner: "a"})
	b := mustCreate(t, m, VolumeParams{Bounds: box(0, 0, 0.5, 2), AttributeTags: flame, Owner: "b"})

	m.Update()
	require.Equal(t, []Event{{Kind: Entering, Self: a, Other: b, OtherOwner: "b"}}, rec.take())

	require.NoError(t, m.UpdateBounds(b, box(100, 100, 100, 2)))
	m.Update()
	require.Equal(t, []Event{{Kind: Leaving, Self: a, Other: b, OtherOwner: "b"}}, rec.take())

	m.Update()
	require.Empty(t, rec.take())
}

func TestUpdateWithoutChangesIsSilent(t *testing.T) {
	m := newTestMap(t)
	rec := &recorder{}
	for i := 0; i < 10; i++ {
		mustCreate(t, m, VolumeParams{
			Bounds:        box(float64(i), 0, 0, 3),
			AttributeTags: flame,
			ListenerTags:  flame,
			Sink:          rec,
		})
	}
	m.Update()
	require.NotEmpty(t, rec.take())

	m.Update()
	assert.Empty(t, rec.take())
	assert.Zero(t, m.Stats().LastQueries)
	assert.Zero(t, m.Stats().LastDirtyCells)
}

func TestUpdateBoundsUnchangedIsNoop(t *testing.T) {
	m := newTestMap(t)
	a := mustCreate(t, m, VolumeParams{Bounds: box(0, 0, 0, 2), ListenerTags: flame})
	m.Update()

	require.NoError(t, m.UpdateBounds(a, box(0, 0, 0, 2)))
	m.Update()
	assert.Zero(t, m.Stats().LastQueries)
}

func TestStaleHandles(t *testing.T) {
	m := newTestMap(t)
	id := mustCreate(t, m, VolumeParams{Bounds: box(0, 0, 0, 1)})
	require.NoError(t, m.DestroyVolume(id))

	require.ErrorIs(t, m.DestroyVolume(id), ErrStaleVolume)
	require.ErrorIs(t, m.UpdateBounds(id, box(1, 1, 1, 1)), ErrStaleVolume)
	require.ErrorIs(t, m.SetAttributeTags(id, flame), ErrStaleVolume)
	require.ErrorIs(t, m.SetListenerTags(id, flame), ErrStaleVolume)
	require.ErrorIs(t, m.SetEventSink(id, &recorder{}), ErrStaleVolume)
	_, ok := m.GetVolumeParams(id)
	require.False(t, ok)
	require.False(t, m.Contains(id))

	// the slot is reused under a new generation
	again := mustCreate(t, m, VolumeParams{Bounds: box(5, 5, 5, 1), Owner: 2})
	require.Equal(t, id.Index, again.Index)
	require.NotEqual(t, id.Generation, again.Generation)
	require.ErrorIs(t, m.DestroyVolume(id), ErrStaleVolume)

	p, ok := m.GetVolumeParams(again)
	require.True(t, ok)
	require.Equal(t, 2, p.Owner)

	require.ErrorIs(t, m.DestroyVolume(InvalidVolumeID), ErrStaleVolume)
	require.ErrorIs(t, m.DestroyVolume(VolumeID{Index: 1 << 20, Generation: 1}), ErrStaleVolume)
}

func TestGetVolumeParams(t *testing.T) {
	m := newTestMap(t)
	rec := &recorder{}
	want := VolumeParams{
		Bounds:        physics.SphereBounds(physics.Sphere{Center: physics.V3(1, 2, 3), Radius: 4}),
		AttributeTags: flame | water,
		ListenerTags:  player,
		Sink:          rec,
		Owner:         "owner",
	}
	id := mustCreate(t, m, want)

	got, ok := m.GetVolumeParams(id)
	require.True(t, ok)
	require.Equal(t, want, got)

	require.NoError(t, m.SetAttributeTags(id, water))
	require.NoError(t, m.SetListenerTags(id, flame))
	require.NoError(t, m.SetEventSink(id, nil))
	got, _ = m.GetVolumeParams(id)
	require.Equal(t, water, got.AttributeTags)
	require.Equal(t, flame, got.ListenerTags)
	require.Nil(t, got.Sink)
}

func TestDestroyReportsLeavingWithOwner(t *testing.T) {
	m := newTestMap(t)
	rec := &recorder{}
	a := mustCreate(t, m, VolumeParams{Bounds: box(0, 0, 0, 4), ListenerTags: flame, Sink: rec})
	b := mustCreate(t, m, VolumeParams{Bounds: box(1, 0, 0, 1), AttributeTags: flame, Owner: "torch"})
	m.Update()
	rec.take()

	require.NoError(t, m.DestroyVolume(b))
	// the slot is taken again before the sweep
	c := mustCreate(t, m, VolumeParams{Bounds: box(50, 50, 50, 1), AttributeTags: flame, Owner: "other"})
	require.Equal(t, b.Index, c.Index)

	m.Update()
	require.Equal(t, []Event{{Kind: Leaving, Self: a, Other: b, OtherOwner: "torch"}}, rec.take())
	require.Empty(t, m.Results(a))
}

func TestDestroyedListenerReceivesNothing(t *testing.T) {
	m := newTestMap(t)
	rec := &recorder{}
	a := mustCreate(t, m, VolumeParams{Bounds: box(0, 0, 0, 4), ListenerTags: flame, Sink: rec})
	mustCreate(t, m, VolumeParams{Bounds: box(1, 0, 0, 1), AttributeTags: flame})
	m.Update()
	rec.take()

	mustCreate(t, m, VolumeParams{Bounds: box(-1, 0, 0, 1), AttributeTags: flame})
	require.NoError(t, m.DestroyVolume(a))
	m.Update()
	require.Empty(t, rec.take())
}

func TestTagChanges(t *testing.T) {
	m := newTestMap(t)
	rec := &recorder{}
	a := mustCreate(t, m, VolumeParams{Bounds: box(0, 0, 0, 4), ListenerTags: flame, Sink: rec})
	b := mustCreate(t, m, VolumeParams{Bounds: box(1, 1, 1, 1), AttributeTags: water})
	m.Update()
	require.Empty(t, rec.take())

	require.NoError(t, m.SetAttributeTags(b, water|flame))
	m.Update()
	require.Equal(t, []Event{{Kind: Entering, Self: a, Other: b}}, rec.take())

	require.NoError(t, m.SetListenerTags(a, water))
	m.Update()
	require.Empty(t, rec.take(), "b still matches through water")

	require.NoError(t, m.SetAttributeTags(b, flame))
	m.Update()
	require.Equal(t, []Event{{Kind: Leaving, Self: a, Other: b}}, rec.take())

	require.NoError(t, m.SetListenerTags(a, flame))
	m.Update()
	require.Equal(t, []Event{{Kind: Entering, Self: a, Other: b}}, rec.take())

	require.NoError(t, m.SetListenerTags(a, tags.None))
	m.Update()
	require.Equal(t, []Event{{Kind: Leaving, Self: a, Other: b}}, rec.take())
	require.Empty(t, m.Results(a))
}

func TestListenerMovesOntoTarget(t *testing.T) {
	m := newTestMap(t)
	rec := &recorder{}
	a := mustCreate(t, m, VolumeParams{Bounds: physics.PointBounds(physics.V3(-60, 0, 0)), ListenerTags: player, Sink: rec})
	b := mustCreate(t, m, VolumeParams{Bounds: box(60, 0, 0, 10), AttributeTags: player})
	m.Update()
	require.Empty(t, rec.take())

	require.NoError(t, m.UpdateBounds(a, physics.PointBounds(physics.V3(58, 1, 1))))
	m.Update()
	require.Equal(t, []Event{{Kind: Entering, Self: a, Other: b}}, rec.take())
	require.Equal(t, []VolumeID{b}, m.Results(a))
}

func TestSelfIsNeverReported(t *testing.T) {
	m := newTestMap(t)
	rec := &recorder{}
	a := mustCreate(t, m, VolumeParams{Bounds: box(0, 0, 0, 2), AttributeTags: flame, ListenerTags: flame, Sink: rec})
	m.Update()
	require.Empty(t, rec.take())
	require.Empty(t, m.Query(box(0, 0, 0, 2), flame, a))
	require.Equal(t, []VolumeID{a}, m.Query(box(0, 0, 0, 2), flame, InvalidVolumeID))
}

func TestEmptyTagsNeverMatch(t *testing.T) {
	m := newTestMap(t)
	rec := &recorder{}
	mustCreate(t, m, VolumeParams{Bounds: box(0, 0, 0, 4), Owner: "untagged"})
	mustCreate(t, m, VolumeParams{Bounds: box(0, 0, 0, 4), ListenerTags: flame, Sink: rec})
	m.Update()
	require.Empty(t, rec.take(), "a volume without attribute tags is invisible to listeners")
}

func TestCapacityExceeded(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	m := newTestMap(t, func(c *Config) {
		c.MaxVolumes = 3
		c.Logger = log.NewFromZap(zap.New(core), log.LevelInfo)
	})

	var ids []VolumeID
	for i := 0; i < 3; i++ {
		ids = append(ids, mustCreate(t, m, VolumeParams{Bounds: box(0, 0, 0, 1)}))
	}
	id, err := m.CreateVolume(VolumeParams{Bounds: box(0, 0, 0, 1)})
	require.ErrorIs(t, err, ErrCapacityExceeded)
	require.Equal(t, InvalidVolumeID, id)
	require.Equal(t, 3, m.Len())
	require.Equal(t, 1, logs.FilterMessage("Sensor map full").Len())

	require.NoError(t, m.DestroyVolume(ids[1]))
	mustCreate(t, m, VolumeParams{Bounds: box(0, 0, 0, 1)})
}

func TestStrayVolumes(t *testing.T) {
	m := newTestMap(t)
	rec := &recorder{}

	a := mustCreate(t, m, VolumeParams{Bounds: box(127.5, 0, 0, 2), ListenerTags: flame, Sink: rec})
	cell, ok := m.VolumeCell(a)
	require.True(t, ok)
	require.Equal(t, octree.None, cell, "straddles the root boundary")

	far := mustCreate(t, m, VolumeParams{Bounds: box(500, 0, 0, 2), AttributeTags: flame})
	inside := mustCreate(t, m, VolumeParams{Bounds: box(126.5, 0, 0, 1), AttributeTags: flame})
	require.Equal(t, 2, m.StrayCount())

	m.Update()
	require.Equal(t, []Event{{Kind: Entering, Self: a, Other: inside}}, rec.take())

	require.NoError(t, m.UpdateBounds(far, box(128.5, 0, 0, 1)))
	m.Update()
	require.Equal(t, []Event{{Kind: Entering, Self: a, Other: far}}, rec.take())

	require.NoError(t, m.UpdateBounds(a, box(0, 0, 0, 2)))
	cell, _ = m.VolumeCell(a)
	require.NotEqual(t, octree.None, cell)
	require.Equal(t, 1, m.StrayCount())

	m.Update()
	events := rec.take()
	require.Len(t, events, 2)
	require.ElementsMatch(t, []VolumeID{inside, far}, []VolumeID{events[0].Other, events[1].Other})
	for _, e := range events {
		require.Equal(t, Leaving, e.Kind)
	}
	checkMembership(t, m)
}

func TestSinkMayMutateDuringDispatch(t *testing.T) {
	m := newTestMap(t)
	var events []Event
	a := mustCreate(t, m, VolumeParams{
		Bounds:       box(0, 0, 0, 4),
		ListenerTags: flame,
		Sink: SinkFunc(func(e Event) {
			events = append(events, e)
			if e.Kind == Entering {
				require.NoError(t, m.DestroyVolume(e.Other))
				for i := 0; i < 200; i++ {
					_, err := m.CreateVolume(VolumeParams{Bounds: box(90, 90, 90, 1)})
					require.NoError(t, err)
				}
			}
		}),
	})
	b := mustCreate(t, m, VolumeParams{Bounds: box(0, 0, 0, 1), AttributeTags: flame, Owner: "b"})
	c := mustCreate(t, m, VolumeParams{Bounds: box(1, 0, 0, 1), AttributeTags: flame, Owner: "c"})

	m.Update()
	require.Len(t, events, 2)
	require.False(t, m.Contains(b))
	require.False(t, m.Contains(c))

	events = nil
	m.Update()
	require.ElementsMatch(t, []Event{
		{Kind: Leaving, Self: a, Other: b, OtherOwner: "b"},
		{Kind: Leaving, Self: a, Other: c, OtherOwner: "c"},
	}, events)
}

func TestSetEventSink(t *testing.T) {
	m := newTestMap(t)
	first, second := &recorder{}, &recorder{}
	a := mustCreate(t, m, VolumeParams{Bounds: box(0, 0, 0, 4), ListenerTags: flame, Sink: first})
	mustCreate(t, m, VolumeParams{Bounds: box(0, 0, 0, 1), AttributeTags: flame})

	require.NoError(t, m.SetEventSink(a, second))
	m.Update()
	require.Empty(t, first.events)
	require.Len(t, second.events, 1)
}

func TestEachAndStats(t *testing.T) {
	m := newTestMap(t)
	mustCreate(t, m, VolumeParams{Bounds: box(0, 0, 0, 4), ListenerTags: flame})
	mustCreate(t, m, VolumeParams{Bounds: box(0, 0, 0, 1), AttributeTags: flame})
	mustCreate(t, m, VolumeParams{Bounds: box(300, 0, 0, 1), AttributeTags: flame})
	m.Update()

	seen := 0
	m.Each(func(id VolumeID, p VolumeParams) bool {
		require.True(t, m.Contains(id))
		seen++
		return true
	})
	require.Equal(t, 3, seen)
	require.Equal(t, 3, m.Len())

	seen = 0
	m.Each(func(VolumeID, VolumeParams) bool {
		seen++
		return false
	})
	require.Equal(t, 1, seen)

	s := m.Stats()
	assert.Equal(t, uint64(1), s.Updates)
	assert.Equal(t, 1, s.LastQueries)
	assert.Equal(t, 1, s.LastEvents)
	assert.Equal(t, 3, s.Volumes)
	assert.Equal(t, 1, s.StrayVolumes)
	assert.Positive(t, s.OccupiedCells)
	assert.Equal(t, s.TotalSweep, s.AverageSweep())
}

func TestReconfigure(t *testing.T) {
	m := newTestMap(t)
	rec := &recorder{}
	a := mustCreate(t, m, VolumeParams{Bounds: box(10, 10, 10, 4), ListenerTags: flame, Sink: rec})
	b := mustCreate(t, m, VolumeParams{Bounds: box(10, 10, 10, 1), AttributeTags: flame})
	stray := mustCreate(t, m, VolumeParams{Bounds: box(400, 0, 0, 1), AttributeTags: flame})
	m.Update()
	rec.take()
	require.Equal(t, 1, m.StrayCount())

	before, _ := m.VolumeCell(b)
	err := m.Reconfigure(physics.AABB{Min: physics.V3(-512, -512, -512), Max: physics.V3(512, 512, 512)}, 3)
	require.NoError(t, err)
	require.Equal(t, 3, m.Space().Depth())
	require.Zero(t, m.StrayCount())
	after, _ := m.VolumeCell(b)
	require.NotEqual(t, before, after)
	require.True(t, m.CellExtent(after).Contains(box(10, 10, 10, 1).AABB()))
	checkMembership(t, m)

	m.Update()
	require.Empty(t, rec.take(), "results survive a rebuild")
	require.Equal(t, 1, m.Stats().LastQueries)

	require.NoError(t, m.UpdateBounds(a, box(400, 0, 0, 4)))
	m.Update()
	require.ElementsMatch(t, []Event{
		{Kind: Leaving, Self: a, Other: b},
		{Kind: Entering, Self: a, Other: stray},
	}, rec.take())

	err = m.Reconfigure(physics.AABB{Min: physics.V3(0, 0, 0), Max: physics.V3(0, 1, 1)}, 3)
	require.ErrorIs(t, err, ErrInvalidConfig)
	require.Equal(t, 3, m.Space().Depth())
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	for name, mutate := range map[string]func(*Config){
		"flat bounds":   func(c *Config) { c.Bounds.Max.Z = c.Bounds.Min.Z },
		"negative cap":  func(c *Config) { c.MaxVolumes = -1 },
		"cap too large": func(c *Config) { c.MaxVolumes = MaxVolumesLimit + 1 },
		"too deep":      func(c *Config) { c.Depth = octree.MaxDepth + 1 },
		"nan bounds":    func(c *Config) { c.Bounds.Min.X = math.NaN() },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := testConfig()
			mutate(&cfg)
			_, err := New(cfg)
			require.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func randomBounds(r *rand.Rand, extent, maxSize float64) physics.Bounds {
	c := physics.V3(
		(r.Float64()*2-1)*extent,
		(r.Float64()*2-1)*extent,
		(r.Float64()*2-1)*extent,
	)
	half := physics.V3(r.Float64()*maxSize/2+0.01, r.Float64()*maxSize/2+0.01, r.Float64()*maxSize/2+0.01)
	switch r.IntN(4) {
	case 0:
		return physics.PointBounds(c)
	case 1:
		return physics.BoxAt(c, half)
	case 2:
		return physics.SphereBounds(physics.Sphere{Center: c, Radius: half.X})
	default:
		axes := physics.AxesFromEuler(r.Float64()*2*math.Pi, r.Float64()*2*math.Pi, r.Float64()*2*math.Pi)
		return physics.OrientedBounds(physics.NewOBB(c, half, axes))
	}
}

func randomTags(r *rand.Rand) tags.Tags {
	return tags.Tags(r.Uint64() & 0xf)
}

// checkMembership verifies the cell lists and occupancy counts against a
// recomputation from every live volume.
func checkMembership(t *testing.T, m *Map) {
	t.Helper()
	count := make(map[octree.Cell]int32)
	subtree := make(map[octree.Cell]int32)
	strays := 0

	m.arena.each(func(v *volume) bool {
		require.Equal(t, m.space.ContainingCell(v.bounds.AABB()), v.cell, "volume %s", v.id)
		if v.cell == octree.None {
			strays++
			require.Equal(t, v.id.Index, m.members.strays[v.strayAt])
			return true
		}
		require.Equal(t, -1, v.strayAt)
		count[v.cell]++
		for c := v.cell; c != octree.None; c = m.space.ParentOf(c) {
			subtree[c]++
		}
		return true
	})

	require.Len(t, m.members.strays, strays)
	require.Len(t, m.members.cells, len(subtree))
	for c, l := range m.members.cells {
		require.Equal(t, count[c], l.count, "cell %d", c)
		require.Equal(t, subtree[c], l.subtree, "cell %d", c)

		n := int32(0)
		prev := uint32(nilIndex)
		for i := l.head; i != nilIndex; i = m.arena.at(i).next {
			v := m.arena.at(i)
			require.True(t, v.alive)
			require.Equal(t, c, v.cell)
			require.Equal(t, prev, v.prev)
			prev = i
			n++
		}
		require.Equal(t, l.tail, prev)
		require.Equal(t, l.count, n)
	}
}

func TestMembershipStaysConsistent(t *testing.T) {
	r := rand.New(rand.NewPCG(7, 11))
	m := newTestMap(t)
	var ids []VolumeID

	for step := 0; step < 2000; step++ {
		switch op := r.IntN(10); {
		case op < 4 || len(ids) == 0:
			ids = append(ids, mustCreate(t, m, VolumeParams{Bounds: randomBounds(r, 140, 40)}))
		case op < 8:
			id := ids[r.IntN(len(ids))]
			require.NoError(t, m.UpdateBounds(id, randomBounds(r, 140, 40)))
		default:
			i := r.IntN(len(ids))
			require.NoError(t, m.DestroyVolume(ids[i]))
			ids[i] = ids[len(ids)-1]
			ids = ids[:len(ids)-1]
		}
		if step%50 == 0 {
			checkMembership(t, m)
		}
	}
	checkMembership(t, m)

	for _, id := range ids {
		require.NoError(t, m.DestroyVolume(id))
	}
	require.Empty(t, m.members.cells)
	require.Empty(t, m.members.strays)
}
