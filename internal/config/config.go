// Package config loads the sensord application file.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/zeusync/sensormap/internal/core/observability/log"
	"github.com/zeusync/sensormap/internal/core/sensor"
	"github.com/zeusync/sensormap/internal/core/world"
	"github.com/zeusync/sensormap/internal/server"
)

// Config is the whole application file:
//
//	log_level: info
//	map:
//	  name: demo
//	  bounds: {min: [-256, -256, -256], max: [256, 256, 256]}
//	  depth: 7
//	world:
//	  entities: 1000
//	  tick_interval: 50ms
//	server:
//	  listen_addr: 127.0.0.1:8080
type Config struct {
	LogLevel string            `yaml:"log_level"`
	Map      sensor.FileConfig `yaml:"map"`
	World    world.Config      `yaml:"world"`
	Server   server.Config     `yaml:"server"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		LogLevel: "info",
		Map:      sensor.FileConfig{Name: "demo"},
		World:    world.DefaultConfig(),
		Server:   server.DefaultServerConfig(),
	}
}

// Level parses LogLevel.
func (c Config) Level() (log.Level, error) {
	return log.ParseLevel(c.LogLevel)
}

// SensorConfig returns the map section with defaults applied.
func (c Config) SensorConfig() sensor.Config {
	return c.Map.Config()
}

func (c Config) Validate() error {
	if _, err := c.Level(); err != nil {
		return err
	}
	mc := c.SensorConfig()
	if err := mc.Validate(); err != nil {
		return fmt.Errorf("map: %w", err)
	}
	if err := c.World.Validate(); err != nil {
		return fmt.Errorf("world: %w", err)
	}
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

// LoadYAML decodes a file on top of Default and validates the result.
// Unknown keys are rejected.
func LoadYAML(r io.Reader) (Config, error) {
	c := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Load reads the file at path, or returns Default when path is empty.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	fd, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer fd.Close()
	return LoadYAML(fd)
}
