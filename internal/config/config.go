package config

import (
	"fmt"
	"time"

	"github.com/knadh/koanf/v2"
)

// Geoid model names
const (
	GeoidEGM96 = "egm96"
	GeoidDAC   = "dac"
	GeoidNone  = "none"
)

// Config represents the complete server configuration
type Config struct {
	Location LocationConfig `yaml:"location" koanf:"location"`
	Terrain  TerrainConfig  `yaml:"terrain" koanf:"terrain"`
	Geoid    GeoidConfig    `yaml:"geoid" koanf:"geoid"`
}

// LocationConfig holds pointer resolution settings
type LocationConfig struct {
	Debounce      time.Duration `yaml:"debounce" koanf:"debounce"`
	SampleTimeout time.Duration `yaml:"sampleTimeout" koanf:"sampleTimeout"`
	Digits        int           `yaml:"digits" koanf:"digits"`
	UseProjection bool          `yaml:"useProjection" koanf:"useProjection"`
	Ellipsoid     bool          `yaml:"ellipsoid" koanf:"ellipsoid"`
	StreamBuffer  int           `yaml:"streamBuffer" koanf:"streamBuffer"`

	AllowedOrigins []string `yaml:"allowedOrigins" koanf:"allowedOrigins"`
}

// TerrainConfig holds terrain sampling service settings
type TerrainConfig struct {
	BaseURL           string        `yaml:"baseUrl" koanf:"baseUrl"`
	RequestsPerSecond float64       `yaml:"requestsPerSecond" koanf:"requestsPerSecond"`
	CacheTTL          time.Duration `yaml:"cacheTtl" koanf:"cacheTtl"`
	CleanupInterval   time.Duration `yaml:"cleanupInterval" koanf:"cleanupInterval"`
}

// GeoidConfig selects the geoid model
type GeoidConfig struct {
	Model   string `yaml:"model" koanf:"model"`
	DACPath string `yaml:"dacPath" koanf:"dacPath"`
}

// Load reads the location, terrain and geoid sections from k over the
// defaults and validates the result.
func Load(k *koanf.Koanf) (*Config, error) {
	cfg := DefaultConfig()

	sections := []struct {
		path   string
		target interface{}
	}{
		{"location", &cfg.Location},
		{"terrain", &cfg.Terrain},
		{"geoid", &cfg.Geoid},
	}
	for _, section := range sections {
		if err := k.Unmarshal(section.path, section.target); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s section: %w", section.path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks settings that have no usable fallback
func (c *Config) Validate() error {
	switch c.Geoid.Model {
	case GeoidEGM96, GeoidNone:
	case GeoidDAC:
		if c.Geoid.DACPath == "" {
			return fmt.Errorf("geoid.dacPath is required for model %q", GeoidDAC)
		}
	default:
		return fmt.Errorf("unknown geoid model %q", c.Geoid.Model)
	}
	if c.Location.Debounce < 0 {
		return fmt.Errorf("location.debounce must not be negative")
	}
	if c.Terrain.RequestsPerSecond < 0 {
		return fmt.Errorf("terrain.requestsPerSecond must not be negative")
	}
	return nil
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Location: LocationConfig{
			Debounce:      250 * time.Millisecond,
			SampleTimeout: 10 * time.Second,
			Digits:        3,
			StreamBuffer:  8,
		},
		Terrain: TerrainConfig{
			BaseURL:           "https://api.open-elevation.com",
			RequestsPerSecond: 5,
			CacheTTL:          24 * time.Hour,
			CleanupInterval:   time.Hour,
		},
		Geoid: GeoidConfig{
			Model: GeoidEGM96,
		},
	}
}
