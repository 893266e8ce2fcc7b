// Package config holds the service configuration. All fields are pointers
// so a JSON file only needs to name the values it changes; the Get* methods
// supply defaults for everything else.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// APIKeyEnv names the environment variable holding the generation API key.
// The key never appears in the config file.
const APIKeyEnv = "FLEETSENTRY_API_KEY"

// Config is the root service configuration. The schema is stable so the
// same JSON can feed both local runs and deployments.
type Config struct {
	// Server params
	ListenAddr *string `json:"listen_addr,omitempty"`

	// Storage params
	DBPath        *string `json:"db_path,omitempty"`
	MigrationsDir *string `json:"migrations_dir,omitempty"`

	// Generation params
	Model             *string  `json:"model,omitempty"`
	BaseURL           *string  `json:"base_url,omitempty"`
	Temperature       *float64 `json:"temperature,omitempty"`
	MaxTokens         *int     `json:"max_tokens,omitempty"`
	GenerationTimeout *string  `json:"generation_timeout,omitempty"` // duration string like "45s"

	// Classification params
	SeverityIncrementsKm map[string]float64 `json:"severity_increments_km,omitempty"`
	DefaultIncrementKm   *float64           `json:"default_increment_km,omitempty"`
}

// Empty returns a Config with all fields unset.
func Empty() *Config {
	return &Config{}
}

// Load reads a Config from a JSON file. Fields omitted from the file keep
// their defaults, so partial configs are safe.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Empty()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are usable.
func (c *Config) Validate() error {
	if c.GenerationTimeout != nil && *c.GenerationTimeout != "" {
		if _, err := time.ParseDuration(*c.GenerationTimeout); err != nil {
			return fmt.Errorf("invalid generation_timeout '%s': %w", *c.GenerationTimeout, err)
		}
	}
	if c.Temperature != nil {
		if *c.Temperature < 0 || *c.Temperature > 1 {
			return fmt.Errorf("temperature must be between 0 and 1, got %f", *c.Temperature)
		}
	}
	if c.MaxTokens != nil && *c.MaxTokens <= 0 {
		return fmt.Errorf("max_tokens must be positive, got %d", *c.MaxTokens)
	}
	for severity, km := range c.SeverityIncrementsKm {
		if km < 0 {
			return fmt.Errorf("severity_increments_km[%s] must be non-negative, got %f", severity, km)
		}
	}
	if c.DefaultIncrementKm != nil && *c.DefaultIncrementKm < 0 {
		return fmt.Errorf("default_increment_km must be non-negative, got %f", *c.DefaultIncrementKm)
	}
	return nil
}

// GetListenAddr returns the listen address or the default.
func (c *Config) GetListenAddr() string {
	if c.ListenAddr == nil || *c.ListenAddr == "" {
		return ":8080"
	}
	return *c.ListenAddr
}

// GetDBPath returns the sqlite database path or the default.
func (c *Config) GetDBPath() string {
	if c.DBPath == nil || *c.DBPath == "" {
		return "fleetsentry.db"
	}
	return *c.DBPath
}

// GetMigrationsDir returns the migrations directory or the default.
func (c *Config) GetMigrationsDir() string {
	if c.MigrationsDir == nil || *c.MigrationsDir == "" {
		return "db/migrations"
	}
	return *c.MigrationsDir
}

// GetModel returns the generation model name or empty, leaving the client
// to apply its own default.
func (c *Config) GetModel() string {
	if c.Model == nil {
		return ""
	}
	return *c.Model
}

// GetBaseURL returns the generation API base URL or empty.
func (c *Config) GetBaseURL() string {
	if c.BaseURL == nil {
		return ""
	}
	return *c.BaseURL
}

// GetTemperature returns the sampling temperature or zero.
func (c *Config) GetTemperature() float64 {
	if c.Temperature == nil {
		return 0
	}
	return *c.Temperature
}

// GetMaxTokens returns the generation token limit or zero.
func (c *Config) GetMaxTokens() int {
	if c.MaxTokens == nil {
		return 0
	}
	return *c.MaxTokens
}

// GetSeverityIncrementsKm returns the severity distance overrides, possibly
// empty. Severities absent from the map keep their built-in increments.
func (c *Config) GetSeverityIncrementsKm() map[string]float64 {
	return c.SeverityIncrementsKm
}

// GetDefaultIncrementKm returns the fallback distance increment or the
// built-in default.
func (c *Config) GetDefaultIncrementKm() float64 {
	if c.DefaultIncrementKm == nil {
		return 8000
	}
	return *c.DefaultIncrementKm
}

// GetGenerationTimeout parses and returns the per-stage generation timeout.
func (c *Config) GetGenerationTimeout() time.Duration {
	if c.GenerationTimeout == nil || *c.GenerationTimeout == "" {
		return 45 * time.Second // default
	}
	d, err := time.ParseDuration(*c.GenerationTimeout)
	if err != nil {
		return 45 * time.Second // default on parse error
	}
	return d
}
