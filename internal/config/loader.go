package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a YAML file, applies defaults and
// validates the result.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	if _, err := os.Stat(absPath); err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	// Apply environment variable interpolation before parsing so secrets can
	// live outside the file (e.g. api_key: ${CONVERTD_API_KEY}).
	interpolated := interpolateEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// interpolateEnv replaces ${VAR} references with environment values.
// Unset variables expand to the empty string.
func interpolateEnv(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})
}

// applyDefaults fills zero-valued fields from Defaults.
func applyDefaults(cfg *Config) {
	d := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = d.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = d.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = d.Service.LogFormat
	}
	if cfg.Listen == "" {
		cfg.Listen = d.Listen
	}
	if cfg.Convert.EngineBinary == "" {
		cfg.Convert.EngineBinary = d.Convert.EngineBinary
	}
	if cfg.Convert.WorkRoot == "" {
		cfg.Convert.WorkRoot = d.Convert.WorkRoot
	}
	if cfg.Convert.Timeout == 0 {
		cfg.Convert.Timeout = d.Convert.Timeout
	}
	if cfg.Convert.MaxConcurrent == 0 {
		cfg.Convert.MaxConcurrent = d.Convert.MaxConcurrent
	}
	if cfg.Convert.MaxUploadBytes == 0 {
		cfg.Convert.MaxUploadBytes = d.Convert.MaxUploadBytes
	}
	if cfg.Convert.SweepInterval == 0 {
		cfg.Convert.SweepInterval = d.Convert.SweepInterval
	}
	if cfg.Convert.SweepAge == 0 {
		cfg.Convert.SweepAge = d.Convert.SweepAge
	}
}

// Validate checks the configuration for values the daemon cannot run with.
func (c *Config) Validate() error {
	if c.Convert.Timeout <= 0 {
		return fmt.Errorf("convert.timeout must be positive, got %v", c.Convert.Timeout.Std())
	}
	if c.Convert.MaxConcurrent < 0 {
		return fmt.Errorf("convert.max_concurrent must not be negative, got %d", c.Convert.MaxConcurrent)
	}
	if c.Convert.MaxUploadBytes <= 0 {
		return fmt.Errorf("convert.max_upload_bytes must be positive, got %d", c.Convert.MaxUploadBytes)
	}
	if c.Convert.WorkRoot == "" {
		return fmt.Errorf("convert.work_root is empty")
	}
	if c.Convert.EngineBinary == "" {
		return fmt.Errorf("convert.engine_binary is empty")
	}
	if c.Convert.SweepInterval < 0 || c.Convert.SweepAge < 0 {
		return fmt.Errorf("convert sweep settings must not be negative")
	}
	return nil
}
