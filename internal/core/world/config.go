package world

import (
	"fmt"
	"time"
)

// Config drives the demo simulation.
type Config struct {
	// Entities is the number of entities spawned by Populate.
	Entities int `yaml:"entities"`
	// Seed makes Populate deterministic.
	Seed uint64 `yaml:"seed"`
	// Tags names the attribute and listener tags handed out at random.
	Tags []string `yaml:"tags,flow"`
	// ListenerRatio is the share of entities that listen for contacts.
	ListenerRatio float64 `yaml:"listener_ratio"`
	MinSpeed      float64 `yaml:"min_speed"`
	MaxSpeed      float64 `yaml:"max_speed"`
	// MaxSize bounds the extent of a spawned entity.
	MaxSize float64 `yaml:"max_size"`
	// TickInterval is the simulated time step.
	TickInterval time.Duration `yaml:"tick_interval"`
}

func DefaultConfig() Config {
	return Config{
		Entities:      500,
		Seed:          1,
		Tags:          []string{"player", "npc", "projectile", "trigger"},
		ListenerRatio: 0.2,
		MinSpeed:      1,
		MaxSpeed:      8,
		MaxSize:       4,
		TickInterval:  50 * time.Millisecond,
	}
}

func (c Config) Validate() error {
	switch {
	case c.Entities < 0:
		return fmt.Errorf("%w: negative entity count %d", ErrInvalidConfig, c.Entities)
	case c.Entities > 0 && len(c.Tags) == 0:
		return fmt.Errorf("%w: no tags to assign", ErrInvalidConfig)
	case c.ListenerRatio < 0 || c.ListenerRatio > 1:
		return fmt.Errorf("%w: listener ratio %g out of range (0..1)", ErrInvalidConfig, c.ListenerRatio)
	case c.MinSpeed < 0 || c.MaxSpeed < c.MinSpeed:
		return fmt.Errorf("%w: bad speed range %g..%g", ErrInvalidConfig, c.MinSpeed, c.MaxSpeed)
	case c.MaxSize < 0:
		return fmt.Errorf("%w: negative max size", ErrInvalidConfig)
	case c.TickInterval <= 0:
		return fmt.Errorf("%w: tick interval must be positive", ErrInvalidConfig)
	}
	return nil
}
