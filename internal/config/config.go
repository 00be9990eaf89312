package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// ProjectFile is the per-workspace override file.
const ProjectFile = ".pulse.yaml"

// Config holds all configurable pulse settings.
type Config struct {
	APIURL         string   `yaml:"api_url"`
	Sync           Sync     `yaml:"sync"`
	Storage        Storage  `yaml:"storage"`
	IgnorePatterns []string `yaml:"ignore_patterns"`
	Logging        Logging  `yaml:"logging"`
	Tracing        Tracing  `yaml:"tracing"`
	MetricsAddr    string   `yaml:"metrics_addr"` // empty disables /metrics
}

type Sync struct {
	Interval         time.Duration `yaml:"interval"`
	BatchSize        int           `yaml:"batch_size"`
	MaxRetryAttempts int           `yaml:"max_retry_attempts"`
	InitialBackoff   time.Duration `yaml:"initial_backoff"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
}

type Storage struct {
	Backend   string `yaml:"backend"` // "file" | "sqlite" | "redis" | "memory"
	Path      string `yaml:"path"`
	RedisAddr string `yaml:"redis_addr"`
}

type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" | "json"
}

type Tracing struct {
	Exporter string `yaml:"exporter"` // "none" | "stdout" | "otlp"
	Endpoint string `yaml:"endpoint"`
}

// Defaults returns sensible default configuration values.
func Defaults() Config {
	return Config{
		APIURL: "http://localhost:8080/v1/pulses",
		Sync: Sync{
			Interval:         5 * time.Minute,
			BatchSize:        3000,
			MaxRetryAttempts: 3,
			InitialBackoff:   time.Second,
			RequestTimeout:   30 * time.Second,
		},
		Storage:        Storage{Backend: BackendFile},
		IgnorePatterns: []string{},
		Logging:        Logging{Level: "info", Format: "text"},
		Tracing:        Tracing{Exporter: "none"},
	}
}

// GlobalPath is ~/.config/pulse/config.yaml, honouring XDG_CONFIG_HOME.
func GlobalPath() (string, error) {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "pulse", "config.yaml"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "pulse", "config.yaml"), nil
}

// LoadGlobal reads the global config file.
// Returns defaults if the file is absent.
func LoadGlobal() (*Config, error) {
	path, err := GlobalPath()
	if err != nil {
		return nil, err
	}
	return loadFile(path, true)
}

// LoadProject reads .pulse.yaml in dir.
// Returns nil (no error) if the file is absent.
func LoadProject(dir string) (*Config, error) {
	return loadFile(filepath.Join(dir, ProjectFile), false)
}

// Load merges the global file with the project file in dir and validates the result.
func Load(dir string) (Config, error) {
	global, err := LoadGlobal()
	if err != nil {
		return Config{}, err
	}
	project, err := LoadProject(dir)
	if err != nil {
		return Config{}, err
	}
	cfg := Merge(global, project)
	return cfg, cfg.Validate()
}

// loadFile reads and parses a YAML config file at path.
// If returnDefaults is true, returns defaults when the file is absent.
// If returnDefaults is false, returns nil when the file is absent.
func loadFile(path string, returnDefaults bool) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if returnDefaults {
				d := Defaults()
				return &d, nil
			}
			return nil, nil
		}
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	return &cfg, nil
}

// Merge combines global and project configs, with project taking precedence.
// Missing keys fall back to global, then defaults.
func Merge(global, project *Config) Config {
	result := Defaults()
	if global != nil {
		overlay(&result, global)
	}
	if project != nil {
		overlay(&result, project)
	}
	return result
}

func overlay(dst, src *Config) {
	setString(&dst.APIURL, src.APIURL)
	setDuration(&dst.Sync.Interval, src.Sync.Interval)
	setInt(&dst.Sync.BatchSize, src.Sync.BatchSize)
	setInt(&dst.Sync.MaxRetryAttempts, src.Sync.MaxRetryAttempts)
	setDuration(&dst.Sync.InitialBackoff, src.Sync.InitialBackoff)
	setDuration(&dst.Sync.RequestTimeout, src.Sync.RequestTimeout)
	setString(&dst.Storage.Backend, src.Storage.Backend)
	setString(&dst.Storage.Path, src.Storage.Path)
	setString(&dst.Storage.RedisAddr, src.Storage.RedisAddr)
	if len(src.IgnorePatterns) > 0 {
		dst.IgnorePatterns = src.IgnorePatterns
	}
	setString(&dst.Logging.Level, src.Logging.Level)
	setString(&dst.Logging.Format, src.Logging.Format)
	setString(&dst.Tracing.Exporter, src.Tracing.Exporter)
	setString(&dst.Tracing.Endpoint, src.Tracing.Endpoint)
	setString(&dst.MetricsAddr, src.MetricsAddr)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v != 0 {
		*dst = v
	}
}

// Validate reports the first setting that cannot be used as-is.
func (c Config) Validate() error {
	switch {
	case c.APIURL == "":
		return errors.New("api_url must be set")
	case c.Sync.Interval <= 0:
		return fmt.Errorf("sync.interval must be positive, got %s", c.Sync.Interval)
	case c.Sync.BatchSize <= 0:
		return fmt.Errorf("sync.batch_size must be positive, got %d", c.Sync.BatchSize)
	case c.Sync.MaxRetryAttempts <= 0:
		return fmt.Errorf("sync.max_retry_attempts must be positive, got %d", c.Sync.MaxRetryAttempts)
	case c.Sync.InitialBackoff < 0:
		return fmt.Errorf("sync.initial_backoff must not be negative, got %s", c.Sync.InitialBackoff)
	case c.Sync.RequestTimeout <= 0:
		return fmt.Errorf("sync.request_timeout must be positive, got %s", c.Sync.RequestTimeout)
	}
	backends := []string{BackendFile, BackendSQLite, BackendRedis, BackendMemory}
	if !slices.Contains(backends, c.Storage.Backend) {
		return fmt.Errorf("storage.backend %q is not one of %v", c.Storage.Backend, backends)
	}
	if c.Storage.Backend == BackendRedis && c.Storage.RedisAddr == "" {
		return errors.New("storage.redis_addr is required for the redis backend")
	}
	switch c.Tracing.Exporter {
	case "none", "stdout", "otlp":
	default:
		return fmt.Errorf("tracing.exporter %q is not one of none, stdout, otlp", c.Tracing.Exporter)
	}
	return nil
}

// ParseError is returned when a config file exists but cannot be parsed.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return "failed to parse config file " + e.Path + ": " + e.Err.Error()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
