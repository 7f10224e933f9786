package sensor

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"

	"github.com/zeusync/sensormap/internal/core/observability/log"
	"github.com/zeusync/sensormap/internal/core/sensor/octree"
	"github.com/zeusync/sensormap/internal/core/sensor/tags"
	"github.com/zeusync/sensormap/internal/core/systems/physics"
)

const (
	DefaultMaxVolumes = 1 << 16
	// MaxVolumesLimit is the largest accepted MaxVolumes.
	MaxVolumesLimit = 1 << 24
	DefaultDepth    = 8
)

// Config holds sensor map construction settings.
type Config struct {
	// Name labels logs and metrics of this map.
	Name string
	// Bounds is the root extent of the octree. Volumes outside it are strays.
	Bounds physics.AABB
	// Depth is the number of octree subdivisions, clamped to octree.MaxDepth.
	Depth int
	// MaxVolumes is the hard cap on concurrently live volumes.
	MaxVolumes int

	Logger log.Log
	// Tags names the tag bits in logs and introspection output. A new
	// tags.Library is used when nil.
	Tags tags.Registry
	// Registerer receives the map metrics. Metrics are still collected, but
	// not exported, when nil.
	Registerer prometheus.Registerer
}

// DefaultConfig returns a 2048 unit cube centered on the origin, 8 levels deep.
func DefaultConfig() Config {
	return Config{
		Name:       "default",
		Bounds:     physics.AABB{Min: physics.V3(-1024, -1024, -1024), Max: physics.V3(1024, 1024, 1024)},
		Depth:      DefaultDepth,
		MaxVolumes: DefaultMaxVolumes,
	}
}

// Validate checks c and fills unset optional fields.
func (c *Config) Validate() error {
	if c.Name == "" {
		c.Name = "default"
	}
	if c.MaxVolumes == 0 {
		c.MaxVolumes = DefaultMaxVolumes
	}
	if c.MaxVolumes < 0 || c.MaxVolumes > MaxVolumesLimit {
		return fmt.Errorf("%w: max volumes %d out of range (1..%d)", ErrInvalidConfig, c.MaxVolumes, MaxVolumesLimit)
	}
	if c.Depth < 0 || c.Depth > octree.MaxDepth {
		return fmt.Errorf("%w: depth %d out of range (0..%d)", ErrInvalidConfig, c.Depth, octree.MaxDepth)
	}
	size := c.Bounds.Size()
	if !(size.X > 0 && size.Y > 0 && size.Z > 0) {
		return fmt.Errorf("%w: bounds %v..%v must have positive size", ErrInvalidConfig, c.Bounds.Min, c.Bounds.Max)
	}
	if c.Logger == nil {
		c.Logger = log.NewNop()
	}
	if c.Tags == nil {
		c.Tags = tags.NewLibrary()
	}
	return nil
}

// FileConfig is the YAML form of Config.
type FileConfig struct {
	Name       string       `yaml:"name"`
	Bounds     BoundsConfig `yaml:"bounds"`
	Depth      *int         `yaml:"depth,omitempty"`
	MaxVolumes int          `yaml:"max_volumes,omitempty"`
}

type BoundsConfig struct {
	Min [3]float64 `yaml:"min,flow"`
	Max [3]float64 `yaml:"max,flow"`
}

func (b BoundsConfig) AABB() physics.AABB {
	return physics.AABB{
		Min: physics.V3(b.Min[0], b.Min[1], b.Min[2]),
		Max: physics.V3(b.Max[0], b.Max[1], b.Max[2]),
	}
}

func (b BoundsConfig) IsZero() bool {
	return b.Min == [3]float64{} && b.Max == [3]float64{}
}

// Config converts f into a Config, keeping defaults for missing fields.
func (f FileConfig) Config() Config {
	c := DefaultConfig()
	if f.Name != "" {
		c.Name = f.Name
	}
	if !f.Bounds.IsZero() {
		c.Bounds = f.Bounds.AABB()
	}
	if f.Depth != nil {
		c.Depth = *f.Depth
	}
	if f.MaxVolumes != 0 {
		c.MaxVolumes = f.MaxVolumes
	}
	return c
}

// LoadConfigYAML decodes and validates a FileConfig.
func LoadConfigYAML(r io.Reader) (Config, error) {
	var f FileConfig
	if err := yaml.NewDecoder(r).Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode sensor config: %w", err)
	}
	c := f.Config()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func LoadConfigFile(path string) (Config, error) {
	fd, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer fd.Close()
	return LoadConfigYAML(fd)
}
