package forge

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"

	"github.com/adamwoolhether/forge/client"
)

// Config is the connection configuration of a [Service]. It is fixed once
// the Service is built.
type Config struct {
	BaseURL        string        `env:"FORGE_BASE_URL" yaml:"baseURL" json:"baseURL" validate:"required,url"`
	APIKey         string        `env:"FORGE_API_KEY" yaml:"apiKey" json:"apiKey" validate:"required"`
	RequestTimeout time.Duration `env:"FORGE_REQUEST_TIMEOUT" yaml:"requestTimeout" json:"requestTimeout" validate:"gte=0"`
}

// ConfigFromEnv reads a Config from the FORGE_* environment variables.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("decoding env: %w", err)
	}

	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// ParseConfig reads a Config from YAML. Durations use Go syntax, e.g. "30s".
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("decoding yaml: %w", err)
	}

	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate reports whether the Config can be used to build a Service.
func (c Config) Validate() error {
	if err := client.Validate(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.RequestTimeout == 0 {
		c.RequestTimeout = client.DefaultTimeout
	}
	return c
}

func (c Config) baseURL() (*url.URL, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base url: %w", err)
	}
	return u, nil
}
