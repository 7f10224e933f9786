package sensor

import (
	"slices"
	"time"

	"github.com/zeusync/sensormap/internal/core/observability/log"
	"github.com/zeusync/sensormap/internal/core/sensor/octree"
	"github.com/zeusync/sensormap/internal/core/sensor/tags"
	"github.com/zeusync/sensormap/internal/core/systems/physics"
)

// Query returns every volume whose bounds overlap b and, unless listen is
// empty, whose attribute tags intersect listen. The volume exclude is never
// returned; pass InvalidVolumeID to exclude nothing. Results are unordered.
func (m *Map) Query(b physics.Bounds, listen tags.Tags, exclude VolumeID) []VolumeID {
	return m.QueryInto(nil, b, listen, exclude)
}

// QueryInto is Query appending to dst.
func (m *Map) QueryInto(dst []VolumeID, b physics.Bounds, listen tags.Tags, exclude VolumeID) []VolumeID {
	match := func(v *volume) bool {
		return v.id != exclude &&
			(listen.IsEmpty() || v.attr.Intersects(listen)) &&
			v.bounds.Overlaps(b)
	}

	m.space.Walk(b.AABB(), func(c octree.Cell) bool {
		l := m.members.list(c)
		if l == nil {
			return false
		}
		for i := l.head; i != nilIndex; {
			v := m.arena.at(i)
			i = v.next
			if match(v) {
				dst = append(dst, v.id)
			}
		}
		return true
	})

	// strays are not in the tree: test each one
	for _, i := range m.members.strays {
		if v := m.arena.at(i); match(v) {
			dst = append(dst, v.id)
		}
	}
	return dst
}

// requery refreshes the result cache of listener v and appends an event for
// every id that entered or left it.
func (m *Map) requery(v *volume) {
	fresh := m.scratch[:0]
	if !v.listen.IsEmpty() {
		fresh = m.QueryInto(fresh, v.bounds, v.listen, v.id)
		slices.SortFunc(fresh, VolumeID.Compare)
	}
	m.scratch = fresh

	before := len(m.batch)
	old := v.cache
	i, j := 0, 0
	for i < len(old) || j < len(fresh) {
		switch {
		case j == len(fresh) || (i < len(old) && old[i].Compare(fresh[j]) < 0):
			m.batch = append(m.batch, Event{Kind: Leaving, Self: v.id, Other: old[i], OtherOwner: m.ownerOf(old[i])})
			i++
		case i == len(old) || old[i].Compare(fresh[j]) > 0:
			m.batch = append(m.batch, Event{Kind: Entering, Self: v.id, Other: fresh[j], OtherOwner: m.ownerOf(fresh[j])})
			j++
		default:
			i++
			j++
		}
	}

	// unchanged neighborhoods keep their cache as is
	if len(m.batch) != before {
		v.cache = append(v.cache[:0], fresh...)
	}
}

// ownerOf returns the owner of id, including volumes destroyed since the last sweep.
func (m *Map) ownerOf(id VolumeID) any {
	if v := m.arena.resolve(id); v != nil {
		return v.owner
	}
	return m.graveyard[id]
}

// Update runs one sweep: it turns dirty cells into pending listeners,
// re-queries every pending listener, then delivers the resulting events.
//
// Events are delivered only after every query has finished, so sinks see a
// consistent map and may mutate it. Update must not be called from a sink.
func (m *Map) Update() {
	start := time.Now()

	dirtyCells := m.drainDirty()

	queries := 0
	for _, id := range m.pending {
		v := m.arena.resolve(id)
		if v == nil || !v.pending {
			continue
		}
		v.pending = false
		m.requery(v)
		queries++
	}
	m.pending = m.pending[:0]

	// Owners of volumes destroyed during dispatch belong to the next sweep.
	clear(m.graveyard)

	entering := 0
	for _, ev := range m.batch {
		if ev.Kind == Entering {
			entering++
		}
		v := m.arena.resolve(ev.Self)
		if v == nil || v.sink == nil {
			continue
		}
		v.sink.OnSensorEvent(ev)
	}
	events := len(m.batch)
	clear(m.batch) // drop owner references
	m.batch = m.batch[:0]

	took := time.Since(start)
	m.stats.Updates++
	m.stats.Queries += uint64(queries)
	m.stats.EventsDispatched += uint64(events)
	m.stats.TotalSweep += took
	m.stats.LastQueries = queries
	m.stats.LastEvents = events
	m.stats.LastDirtyCells = dirtyCells
	m.stats.LastSweep = took
	m.stats.LastUpdate = start

	m.metrics.instrumentSweep(took, queries, entering, events-entering)
	m.metrics.instrumentPopulation(m.arena.live, len(m.members.strays))

	if m.log.Enabled(log.LevelDebug) && (queries > 0 || events > 0) {
		m.log.Debug("Sensor update",
			log.Int("dirty_cells", dirtyCells),
			log.Int("queries", queries),
			log.Int("events", events),
			log.Duration("took", took),
		)
	}
}
