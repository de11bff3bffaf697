// Package config loads the client configuration from YAML with environment
// overrides, validates it and watches the file for changes.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Environment variables that override file values.
const (
	EnvAPIRoot    = "SHELF_API_ROOT"
	EnvStaticRoot = "SHELF_STATIC_ROOT"
	EnvToken      = "SHELF_TOKEN"
)

// Config is the client configuration.
type Config struct {
	APIRoot     string        `json:"api_root" yaml:"api_root" validate:"required,root"`
	StaticRoot  string        `json:"static_root,omitempty" yaml:"static_root,omitempty" validate:"omitempty,root"`
	Origin      string        `json:"origin,omitempty" yaml:"origin,omitempty" validate:"omitempty,url"`
	Token       string        `json:"-" yaml:"token,omitempty"`
	TokenHeader string        `json:"token_header,omitempty" yaml:"token_header,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty" validate:"gte=0"`
	RateLimit   float64       `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty" validate:"gte=0"`
	RateBurst   int           `json:"rate_burst,omitempty" yaml:"rate_burst,omitempty" validate:"gte=0"`

	Cache   CacheConfig   `json:"cache" yaml:"cache"`
	Plugins PluginsConfig `json:"plugins" yaml:"plugins"`
	Log     LogConfig     `json:"log" yaml:"log"`
}

// CacheConfig selects the GET response cache. An empty Backend disables
// caching.
type CacheConfig struct {
	Backend    string        `json:"backend,omitempty" yaml:"backend,omitempty" validate:"omitempty,oneof=memory redis sqlite"`
	TTL        time.Duration `json:"ttl,omitempty" yaml:"ttl,omitempty" validate:"gte=0"`
	RedisAddr  string        `json:"redis_addr,omitempty" yaml:"redis_addr,omitempty" validate:"required_if=Backend redis"`
	SQLitePath string        `json:"sqlite_path,omitempty" yaml:"sqlite_path,omitempty" validate:"required_if=Backend sqlite"`
}

// PluginsConfig locates plugin scripts and local plugin state.
type PluginsConfig struct {
	// Dir holds plugin scripts loaded at startup.
	Dir string `json:"dir,omitempty" yaml:"dir,omitempty"`
	// StatePath is the SQLite file recording locally disabled plugins.
	StatePath string `json:"state_path,omitempty" yaml:"state_path,omitempty"`
	// Enabled is used instead of asking the server when set.
	Enabled []string `json:"enabled,omitempty" yaml:"enabled,omitempty" validate:"dive,required"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `json:"level,omitempty" yaml:"level,omitempty" validate:"omitempty,oneof=debug info warn error"`
	Format string `json:"format,omitempty" yaml:"format,omitempty" validate:"omitempty,oneof=text json"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		APIRoot: "/api/v1",
		Timeout: 30 * time.Second,
		Cache:   CacheConfig{TTL: time.Minute},
		Log:     LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults without validating.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides roots and token from the environment. lookup is
// usually os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvAPIRoot); ok && v != "" {
		c.APIRoot = v
	}
	if v, ok := lookup(EnvStaticRoot); ok && v != "" {
		c.StaticRoot = v
	}
	if v, ok := lookup(EnvToken); ok {
		c.Token = v
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// A root is an absolute http(s) URL or an absolute path on the origin.
	_ = v.RegisterValidation("root", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		return strings.HasPrefix(s, "/") || strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
	})
	return v
}

// Validate checks the struct tags.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// Hash returns the SHA256 hex digest of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
