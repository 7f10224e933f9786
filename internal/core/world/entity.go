package world

import (
	"github.com/google/uuid"

	"github.com/zeusync/sensormap/internal/core/sensor"
	"github.com/zeusync/sensormap/internal/core/sensor/tags"
	"github.com/zeusync/sensormap/internal/core/systems/physics"
)

// Entity is a moving body backed by one sensor volume. The entity itself is
// the volume owner, so contact events can name the other side even after it
// was despawned.
type Entity struct {
	ID       uuid.UUID
	Name     string
	Position physics.Vec3
	Velocity physics.Vec3
	// Shape is centered on the origin and translated to Position.
	Shape  physics.Bounds
	Attr   tags.Tags
	Listen tags.Tags
	Volume sensor.VolumeID

	contacts map[uuid.UUID]*Entity
}

// Bounds returns the world space bounds of e.
func (e *Entity) Bounds() physics.Bounds {
	return e.Shape.Translate(e.Position)
}

// Contacts returns the ids of the entities e currently overlaps, as reported
// by the last sensor update.
func (e *Entity) Contacts() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(e.contacts))
	for id := range e.contacts {
		out = append(out, id)
	}
	return out
}

func (e *Entity) InContact(id uuid.UUID) bool {
	_, ok := e.contacts[id]
	return ok
}

// Spec describes an entity to spawn.
type Spec struct {
	Name     string
	Position physics.Vec3
	Velocity physics.Vec3
	Shape    physics.Bounds
	Attr     tags.Tags
	Listen   tags.Tags
}

// Contact is published on the event bus for every sensor event of a listening entity.
type Contact struct {
	Kind         string    `json:"kind"`
	Tick         uint64    `json:"tick"`
	Listener     uuid.UUID `json:"listener"`
	ListenerName string    `json:"listener_name"`
	Other        uuid.UUID `json:"other"`
	OtherName    string    `json:"other_name"`
}
