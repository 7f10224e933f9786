// Package world is a small entity simulation driving a sensor map: entities
// move each tick, push their bounds into the map and turn sensor events into
// contact messages on an event bus.
package world

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/google/uuid"

	"github.com/zeusync/sensormap/internal/core/events/bus"
	"github.com/zeusync/sensormap/internal/core/observability/log"
	"github.com/zeusync/sensormap/internal/core/sensor"
	"github.com/zeusync/sensormap/internal/core/sensor/tags"
	"github.com/zeusync/sensormap/internal/core/systems/physics"
)

// Bus event types published by the world.
const (
	TypeEntering = "contact.entering"
	TypeLeaving  = "contact.leaving"
)

const source = "world"

type World struct {
	sensors *sensor.Map
	bus     bus.EventBus
	log     log.Log
	cfg     Config
	rng     *rand.Rand

	entities map[uuid.UUID]*Entity
	order    []*Entity
	tick     uint64
}

func New(m *sensor.Map, cfg Config, b bus.EventBus, logger log.Log) (*World, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &World{
		sensors:  m,
		bus:      b,
		log:      logger.With(log.String("component", "world")),
		cfg:      cfg,
		rng:      rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		entities: make(map[uuid.UUID]*Entity),
	}, nil
}

func (w *World) Map() *sensor.Map  { return w.sensors }
func (w *World) Len() int          { return len(w.order) }
func (w *World) TickCount() uint64 { return w.tick }

func (w *World) Entity(id uuid.UUID) (*Entity, bool) {
	e, ok := w.entities[id]
	return e, ok
}

// Each calls fn for every entity in spawn order until fn returns false.
func (w *World) Each(fn func(*Entity) bool) {
	for _, e := range w.order {
		if !fn(e) {
			return
		}
	}
}

// TagsOf resolves tag names through the map registry, creating missing ones.
func (w *World) TagsOf(names ...string) (tags.Tags, error) {
	var out tags.Tags
	for _, name := range names {
		t, err := w.sensors.Tags().Create(name)
		if err != nil {
			return tags.None, fmt.Errorf("tag %q: %w", name, err)
		}
		out |= t
	}
	return out, nil
}

// Spawn creates an entity and its sensor volume.
func (w *World) Spawn(spec Spec) (*Entity, error) {
	e := &Entity{
		ID:       uuid.New(),
		Name:     spec.Name,
		Position: spec.Position,
		Velocity: spec.Velocity,
		Shape:    spec.Shape,
		Attr:     spec.Attr,
		Listen:   spec.Listen,
		contacts: make(map[uuid.UUID]*Entity),
	}
	if e.Name == "" {
		e.Name = e.ID.String()[:8]
	}

	id, err := w.sensors.CreateVolume(sensor.VolumeParams{
		Bounds:        e.Bounds(),
		AttributeTags: e.Attr,
		ListenerTags:  e.Listen,
		Sink:          w.sinkFor(e),
		Owner:         e,
	})
	if err != nil {
		return nil, fmt.Errorf("spawn %s: %w", e.Name, err)
	}
	e.Volume = id
	w.entities[e.ID] = e
	w.order = append(w.order, e)

	if w.log.Enabled(log.LevelDebug) {
		w.log.Debug("Entity spawned", log.String("entity", e.Name), log.Stringer("volume", id))
	}
	return e, nil
}

// Despawn removes an entity. Listeners in contact with it receive a leaving
// contact on the next tick.
func (w *World) Despawn(id uuid.UUID) error {
	e, ok := w.entities[id]
	if !ok {
		return ErrUnknownEntity
	}
	if err := w.sensors.DestroyVolume(e.Volume); err != nil {
		return fmt.Errorf("despawn %s: %w", e.Name, err)
	}
	delete(w.entities, id)
	for i, o := range w.order {
		if o == e {
			w.order = append(w.order[:i], w.order[i+1:]...)
			break
		}
	}
	if w.log.Enabled(log.LevelDebug) {
		w.log.Debug("Entity despawned", log.String("entity", e.Name))
	}
	return nil
}

// Populate spawns cfg.Entities random entities inside the map bounds.
func (w *World) Populate() error {
	var pool []tags.Tags
	for _, name := range w.cfg.Tags {
		t, err := w.TagsOf(name)
		if err != nil {
			return err
		}
		pool = append(pool, t)
	}

	root := w.sensors.Space().Bounds()
	for i := 0; i < w.cfg.Entities; i++ {
		spec := Spec{
			Name:     fmt.Sprintf("entity-%d", i),
			Position: w.randomPoint(root),
			Velocity: w.randomDirection().Scale(w.cfg.MinSpeed + w.rng.Float64()*(w.cfg.MaxSpeed-w.cfg.MinSpeed)),
			Shape:    w.randomShape(),
			Attr:     pool[w.rng.IntN(len(pool))],
		}
		if w.rng.Float64() < w.cfg.ListenerRatio {
			spec.Listen = pool[w.rng.IntN(len(pool))] | pool[w.rng.IntN(len(pool))]
		}
		if _, err := w.Spawn(spec); err != nil {
			return err
		}
	}

	w.log.Info("World populated",
		log.Int("entities", len(w.order)),
		log.Int("tags", len(pool)),
	)
	return nil
}

// Step moves every entity by dt seconds, bouncing off the map bounds, and
// pushes the new bounds into the sensor map.
func (w *World) Step(dt float64) {
	root := w.sensors.Space().Bounds()
	for _, e := range w.order {
		if e.Velocity.IsZero() {
			continue
		}
		p := e.Position.Add(e.Velocity.Scale(dt))
		bounce(&p.X, &e.Velocity.X, root.Min.X, root.Max.X)
		bounce(&p.Y, &e.Velocity.Y, root.Min.Y, root.Max.Y)
		bounce(&p.Z, &e.Velocity.Z, root.Min.Z, root.Max.Z)
		e.Position = p
		if err := w.sensors.UpdateBounds(e.Volume, e.Bounds()); err != nil {
			w.log.Error("Failed to move entity", log.String("entity", e.Name), log.Error(err))
		}
	}
}

// Tick advances the simulation by one step and runs the sensor update.
func (w *World) Tick(dt float64) {
	w.tick++
	w.Step(dt)
	w.sensors.Update()
}

// FindEntitiesInRadius returns the entities overlapping a sphere whose
// attribute tags intersect filter, or all of them when filter is empty.
func (w *World) FindEntitiesInRadius(center physics.Vec3, radius float64, filter tags.Tags) []*Entity {
	ids := w.sensors.Query(physics.SphereBounds(physics.Sphere{Center: center, Radius: radius}), filter, sensor.InvalidVolumeID)
	out := make([]*Entity, 0, len(ids))
	for _, id := range ids {
		if p, ok := w.sensors.GetVolumeParams(id); ok {
			if e, ok := p.Owner.(*Entity); ok {
				out = append(out, e)
			}
		}
	}
	return out
}

func (w *World) sinkFor(e *Entity) sensor.EventSink {
	return sensor.SinkFunc(func(ev sensor.Event) {
		other, ok := ev.OtherOwner.(*Entity)
		if !ok {
			return
		}

		typ := TypeEntering
		if ev.Kind == sensor.Entering {
			e.contacts[other.ID] = other
		} else {
			typ = TypeLeaving
			delete(e.contacts, other.ID)
		}

		if w.bus == nil {
			return
		}
		err := w.bus.Publish(bus.NewEvent(typ, source, Contact{
			Kind:         ev.Kind.String(),
			Tick:         w.tick,
			Listener:     e.ID,
			ListenerName: e.Name,
			Other:        other.ID,
			OtherName:    other.Name,
		}))
		if err != nil {
			w.log.Warn("Contact handler failed", log.String("entity", e.Name), log.Error(err))
		}
	})
}

func (w *World) randomPoint(b physics.AABB) physics.Vec3 {
	s := b.Size()
	return physics.V3(
		b.Min.X+w.rng.Float64()*s.X,
		b.Min.Y+w.rng.Float64()*s.Y,
		b.Min.Z+w.rng.Float64()*s.Z,
	)
}

func (w *World) randomDirection() physics.Vec3 {
	// uniform on the sphere
	z := w.rng.Float64()*2 - 1
	a := w.rng.Float64() * 2 * math.Pi
	r := math.Sqrt(1 - z*z)
	return physics.V3(r*math.Cos(a), r*math.Sin(a), z)
}

func (w *World) randomShape() physics.Bounds {
	size := w.cfg.MaxSize
	half := physics.V3(
		0.1+w.rng.Float64()*size/2,
		0.1+w.rng.Float64()*size/2,
		0.1+w.rng.Float64()*size/2,
	)
	switch w.rng.IntN(4) {
	case 0:
		return physics.PointBounds(physics.Vec3{})
	case 1:
		return physics.BoxAt(physics.Vec3{}, half)
	case 2:
		return physics.SphereBounds(physics.Sphere{Radius: half.X})
	default:
		axes := physics.AxesFromEuler(w.rng.Float64()*2*math.Pi, w.rng.Float64()*2*math.Pi, 0)
		return physics.OrientedBounds(physics.NewOBB(physics.Vec3{}, half, axes))
	}
}

func bounce(p, v *float64, lo, hi float64) {
	switch {
	case *p < lo:
		*p, *v = lo, math.Abs(*v)
	case *p > hi:
		*p, *v = hi, -math.Abs(*v)
	}
}
