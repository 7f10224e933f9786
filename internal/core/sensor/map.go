// Package sensor implements a dynamic spatial sensor index.
//
// A Map tracks volumes carrying attribute tags (what a volume is) and
// listener tags (what a volume wants to hear about). Each Update reports, to
// every listener, which tag-matching volumes started or stopped overlapping
// it since the previous Update.
//
// Volumes are stored in an octree at the smallest cell that fully contains
// them. Changes to a volume mark the cells around its old and new bounds
// dirty with the attribute bits involved; only listeners in those cells whose
// listener tags intersect the dirty bits are re-queried.
//
// A Map is not safe for concurrent use.
package sensor

import (
	"fmt"
	"slices"

	"github.com/zeusync/sensormap/internal/core/observability/log"
	"github.com/zeusync/sensormap/internal/core/sensor/octree"
	"github.com/zeusync/sensormap/internal/core/sensor/tags"
	"github.com/zeusync/sensormap/internal/core/systems/physics"
)

// VolumeParams describes a volume.
type VolumeParams struct {
	Bounds physics.Bounds
	// AttributeTags is what the volume is.
	AttributeTags tags.Tags
	// ListenerTags is what the volume wants to be told about. Volumes with no
	// listener tags are never queried and receive no events.
	ListenerTags tags.Tags
	// Sink receives the events of this volume. May be nil.
	Sink EventSink
	// Owner is passed through in the events of other listeners.
	Owner any
}

type Map struct {
	name    string
	log     log.Log
	tags    tags.Registry
	metrics *metrics

	space   *octree.Space
	arena   *arena
	members *membership
	dirty   *dirtyQueue

	pending   []VolumeID
	scratch   []VolumeID
	batch     []Event
	graveyard map[VolumeID]any

	stats UpdateStats
}

// New creates an empty map.
func New(cfg Config) (*Map, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	space, err := octree.New(cfg.Bounds, cfg.Depth)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	a := newArena(cfg.MaxVolumes)
	m := &Map{
		name:      cfg.Name,
		log:       cfg.Logger.With(log.String("map", cfg.Name)),
		tags:      cfg.Tags,
		metrics:   newMetrics(cfg.Registerer, cfg.Name),
		space:     space,
		arena:     a,
		members:   newMembership(space, a),
		dirty:     newDirtyQueue(),
		graveyard: make(map[VolumeID]any),
	}

	m.log.Info("Sensor map created",
		log.Int("depth", space.Depth()),
		log.Int("cells", space.CellCount()),
		log.Int("max_volumes", cfg.MaxVolumes),
	)
	return m, nil
}

func (m *Map) Name() string { return m.name }

// Tags returns the registry naming this map's tag bits.
func (m *Map) Tags() tags.Registry { return m.tags }

// Space returns the current octree address space.
func (m *Map) Space() *octree.Space { return m.space }

// Len returns the number of live volumes.
func (m *Map) Len() int { return m.arena.live }

// StrayCount returns the number of live volumes outside the octree bounds.
func (m *Map) StrayCount() int { return len(m.members.strays) }

// CreateVolume adds a volume. It fails with ErrCapacityExceeded, returning
// InvalidVolumeID, once the configured maximum of live volumes is reached.
func (m *Map) CreateVolume(p VolumeParams) (VolumeID, error) {
	v := m.arena.allocate()
	if v == nil {
		m.metrics.capacityErrors.Inc()
		m.log.Warn("Sensor map full", log.Int("live", m.arena.live))
		return InvalidVolumeID, ErrCapacityExceeded
	}

	v.bounds = p.Bounds
	v.attr = p.AttributeTags
	v.listen = p.ListenerTags
	v.sink = p.Sink
	v.owner = p.Owner

	m.members.remap(v)
	if v.cell == octree.None && m.log.Enabled(log.LevelDebug) {
		m.log.Debug("Volume outside octree bounds", log.Stringer("volume", v.id), log.Stringer("bounds", v.bounds))
	}
	m.markDirty(v.bounds.AABB(), v.attr)
	if !v.listen.IsEmpty() {
		m.flagPending(v)
	}
	return v.id, nil
}

// DestroyVolume removes a volume. Listeners overlapping it receive Leaving
// events on the next Update. The id, and every copy of it, becomes stale.
func (m *Map) DestroyVolume(id VolumeID) error {
	v := m.arena.resolve(id)
	if v == nil {
		return ErrStaleVolume
	}
	// a listener may still hold id from before a tag change this sweep
	m.graveyard[id] = v.owner
	m.markDirty(v.bounds.AABB(), v.attr)
	m.members.unlink(v)
	m.arena.release(v)
	return nil
}

// UpdateBounds moves or resizes a volume.
func (m *Map) UpdateBounds(id VolumeID, b physics.Bounds) error {
	v := m.arena.resolve(id)
	if v == nil {
		return ErrStaleVolume
	}
	if v.bounds == b {
		return nil
	}

	old := v.bounds.AABB()
	v.bounds = b
	// both the vacated and the newly covered region may hold affected listeners
	m.markDirty(old, v.attr)
	m.markDirty(b.AABB(), v.attr)

	if m.members.remap(v) && v.cell == octree.None && m.log.Enabled(log.LevelDebug) {
		m.log.Debug("Volume left octree bounds", log.Stringer("volume", v.id), log.Stringer("bounds", b))
	}
	if !v.listen.IsEmpty() || len(v.cache) > 0 {
		m.flagPending(v)
	}
	return nil
}

// SetAttributeTags replaces what a volume is.
func (m *Map) SetAttributeTags(id VolumeID, t tags.Tags) error {
	v := m.arena.resolve(id)
	if v == nil {
		return ErrStaleVolume
	}
	delta := v.attr.Delta(t)
	v.attr = t
	m.markDirty(v.bounds.AABB(), delta)
	return nil
}

// SetListenerTags replaces what a volume listens for. Clearing them reports
// every volume in its current result as leaving.
func (m *Map) SetListenerTags(id VolumeID, t tags.Tags) error {
	v := m.arena.resolve(id)
	if v == nil {
		return ErrStaleVolume
	}
	if v.listen == t {
		return nil
	}
	v.listen = t
	m.flagPending(v)
	return nil
}

// SetEventSink replaces the sink of a volume.
func (m *Map) SetEventSink(id VolumeID, sink EventSink) error {
	v := m.arena.resolve(id)
	if v == nil {
		return ErrStaleVolume
	}
	v.sink = sink
	return nil
}

// GetVolumeParams returns the current parameters of a volume, or false when
// id is stale.
func (m *Map) GetVolumeParams(id VolumeID) (VolumeParams, bool) {
	v := m.arena.resolve(id)
	if v == nil {
		return VolumeParams{}, false
	}
	return v.params(), true
}

// Contains reports whether id refers to a live volume.
func (m *Map) Contains(id VolumeID) bool {
	return m.arena.resolve(id) != nil
}

// Results returns a copy of the overlap set reported to listener id by the
// last Update, sorted by VolumeID.Compare.
func (m *Map) Results(id VolumeID) []VolumeID {
	v := m.arena.resolve(id)
	if v == nil {
		return nil
	}
	return slices.Clone(v.cache)
}

// VolumeCell returns the cell holding a volume, octree.None for strays, and
// false when id is stale.
func (m *Map) VolumeCell(id VolumeID) (octree.Cell, bool) {
	v := m.arena.resolve(id)
	if v == nil {
		return octree.None, false
	}
	return v.cell, true
}

// CellExtent returns the static extent of an octree cell.
func (m *Map) CellExtent(c octree.Cell) physics.AABB {
	return m.space.CellExtent(c)
}

// Each calls fn for every live volume until fn returns false. fn must not
// create or destroy volumes.
func (m *Map) Each(fn func(id VolumeID, p VolumeParams) bool) {
	m.arena.each(func(v *volume) bool {
		return fn(v.id, v.params())
	})
}

// Stats returns update statistics and the current population.
func (m *Map) Stats() UpdateStats {
	s := m.stats
	s.Volumes = m.arena.live
	s.StrayVolumes = len(m.members.strays)
	s.OccupiedCells = m.members.occupiedCells()
	return s
}

// Reconfigure replaces the octree bounds and depth and relinks every volume.
// Cell indices obtained before the call are meaningless afterwards. Every
// listener is re-queried on the next Update.
func (m *Map) Reconfigure(bounds physics.AABB, depth int) error {
	space, err := octree.New(bounds, depth)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	m.space = space
	m.members.rebuild(space)
	clear(m.dirty.cells)
	m.arena.each(func(v *volume) bool {
		if !v.listen.IsEmpty() || len(v.cache) > 0 {
			m.flagPending(v)
		}
		return true
	})

	m.log.Info("Sensor map reconfigured",
		log.Int("depth", space.Depth()),
		log.Int("volumes", m.arena.live),
		log.Int("strays", len(m.members.strays)),
	)
	return nil
}
