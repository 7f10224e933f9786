package server

import (
	"fmt"
	"time"
)

// Config holds debug server configuration
type Config struct {
	// Network settings
	ListenAddr        string        `yaml:"listen_addr"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`

	// Event stream settings
	MaxClients   int           `yaml:"max_clients"`
	ClientBuffer int           `yaml:"client_buffer"`
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// MaxVolumes caps the size of a /volumes response.
	MaxVolumes int `yaml:"max_volumes"`
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() Config {
	return Config{
		ListenAddr:        "127.0.0.1:8080",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   10 * time.Second,
		MaxClients:        64,
		ClientBuffer:      256,
		WriteTimeout:      5 * time.Second,
		MaxVolumes:        1000,
	}
}

func (c Config) Validate() error {
	switch {
	case c.ListenAddr == "":
		return fmt.Errorf("%w: empty listen address", ErrInvalidConfig)
	case c.MaxClients <= 0:
		return fmt.Errorf("%w: max clients must be positive", ErrInvalidConfig)
	case c.ClientBuffer <= 0:
		return fmt.Errorf("%w: client buffer must be positive", ErrInvalidConfig)
	case c.MaxVolumes <= 0:
		return fmt.Errorf("%w: max volumes must be positive", ErrInvalidConfig)
	}
	return nil
}
