package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration decodes YAML duration strings like "30s" or "2m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be a scalar")
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(n.Value))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", n.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the standard library representation.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config represents the complete convertd configuration.
type Config struct {
	Service ServiceConfig `yaml:"service"`
	Listen  string        `yaml:"listen"`
	Auth    AuthConfig    `yaml:"auth,omitempty"`
	Convert ConvertConfig `yaml:"convert"`
	History HistoryConfig `yaml:"history,omitempty"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// AuthConfig defines API authentication settings.
type AuthConfig struct {
	// APIKey is the shared secret expected in the X-Api-Key header.
	// Empty disables authentication.
	APIKey string `yaml:"api_key"`
}

// ConvertConfig defines conversion orchestrator settings.
type ConvertConfig struct {
	// EngineBinary is the name or path of the headless conversion engine.
	EngineBinary string `yaml:"engine_binary"`
	// WorkRoot is the directory under which per-conversion workspaces live.
	WorkRoot string `yaml:"work_root"`
	// Timeout bounds a single engine invocation.
	Timeout Duration `yaml:"timeout"`
	// MaxConcurrent caps simultaneous engine invocations.
	MaxConcurrent int `yaml:"max_concurrent"`
	// MaxUploadBytes caps the request body accepted by the HTTP layer.
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`
	// SweepInterval controls how often stale workspaces are swept.
	SweepInterval Duration `yaml:"sweep_interval"`
	// SweepAge is the minimum age before a leftover workspace is swept.
	SweepAge Duration `yaml:"sweep_age"`
}

// HistoryConfig defines conversion history storage settings.
type HistoryConfig struct {
	// Path is the SQLite database file. Empty disables history recording.
	Path string `yaml:"path"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "convertd",
			LogLevel:  "info",
			LogFormat: "json",
		},
		Listen: "0.0.0.0:3000",
		Convert: ConvertConfig{
			EngineBinary:   "libreoffice",
			WorkRoot:       "/tmp/convertd",
			Timeout:        Duration(120 * time.Second),
			MaxConcurrent:  4,
			MaxUploadBytes: 10 * 1024 * 1024,
			SweepInterval:  Duration(10 * time.Minute),
			SweepAge:       Duration(1 * time.Hour),
		},
	}
}
