// Package store provides auth.Store backends: process memory, a bbolt file
// and redis. Every backend persists the same three values under the same
// keys, JSON encoded.
package store

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/adamwoolhether/forge/auth"
	"github.com/adamwoolhether/forge/client"
)

// Driver identifiers accepted by [New].
const (
	DriverMemory = "memory"
	DriverBolt   = "bolt"
	DriverRedis  = "redis"
)

const (
	keyAuth     = "auth"
	keyIdentity = "identity"
	keyProfile  = "profile"
)

// Store is an auth.Store that holds resources until closed.
type Store interface {
	auth.Store
	io.Closer
}

// Config selects and configures a backend.
type Config struct {
	Driver string       `yaml:"driver" validate:"omitempty,oneof=memory bolt redis"`
	Path   string       `yaml:"path" validate:"required_if=Driver bolt"`
	Redis  *RedisConfig `yaml:"redis" validate:"required_if=Driver redis"`
}

// RedisConfig captures connection options for the redis backend.
type RedisConfig struct {
	Addr     string `yaml:"addr" validate:"required"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" validate:"gte=0"`
	Prefix   string `yaml:"prefix"`
}

// New creates a store based on cfg. An empty driver selects memory.
func New(cfg Config) (Store, error) {
	if err := client.Validate(cfg); err != nil {
		return nil, fmt.Errorf("validating store config: %w", err)
	}

	switch cfg.Driver {
	case "", DriverMemory:
		return NewMemory(), nil
	case DriverBolt:
		return NewBolt(cfg.Path)
	case DriverRedis:
		return NewRedis(*cfg.Redis)
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", cfg.Driver)
	}
}

// encode marshals v, returning nil for a nil pointer so callers delete
// instead of writing "null".
func encode[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	return data, nil
}

func decode[T any](data []byte) (*T, error) {
	if len(data) == 0 {
		return nil, nil
	}

	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}

	return &v, nil
}
