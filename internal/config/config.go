// Package config handles configuration loading from TOML files, environment
// variables and command line flags.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/log"

	"github.com/zot/zipenv/internal/build"
	"github.com/zot/zipenv/internal/bundle"
)

// DefaultFile is read when no configuration file is named explicitly.
const DefaultFile = "zipenv.toml"

// Config holds all configuration settings.
type Config struct {
	Build   BuildConfig   `toml:"build"`
	Runtime RuntimeConfig `toml:"runtime"`
	Logging LoggingConfig `toml:"logging"`
}

// BuildConfig holds packaging settings. Empty commands use the built-in
// defaults.
type BuildConfig struct {
	Builder     []string `toml:"builder"`
	Installer   []string `toml:"installer"`
	Probe       []string `toml:"probe"`
	Marker      string   `toml:"marker"`
	Compression string   `toml:"compression"` // "store", "deflate", "zstd", "xz"
	Launcher    string   `toml:"launcher"`
	Timeout     Duration `toml:"timeout"` // 0 = no limit
}

// RuntimeConfig holds settings for running archives.
type RuntimeConfig struct {
	TempDir       string `toml:"temp_dir"`
	ConfigPattern string `toml:"config_pattern"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level     string `toml:"level"`     // "debug", "info", "warn", "error"
	Verbosity int    `toml:"verbosity"` // any value above 0 enables debug output
}

// Duration is a time.Duration that can be unmarshaled from TOML strings.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for Duration.
func (d *Duration) UnmarshalText(text []byte) error {
	duration, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(duration)
	return nil
}

// MarshalText implements encoding.TextMarshaler for Duration.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// String returns the duration as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// DefaultConfig returns a Config with all default values.
func DefaultConfig() *Config {
	return &Config{
		Build: BuildConfig{
			Marker:      build.DefaultMarker,
			Compression: string(bundle.CompressionDeflate),
			Timeout:     Duration(30 * time.Minute),
		},
		Runtime: RuntimeConfig{
			ConfigPattern: "*.pth",
		},
		Logging: LoggingConfig{
			Level:     "info",
			Verbosity: 0,
		},
	}
}

// Load loads configuration from a TOML file and environment variables.
// Priority: env vars > TOML file > defaults. Command line flags are applied
// by the caller on top of the result.
//
// An empty path reads DefaultFile when it exists.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	if err := cfg.loadTOML(path); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEnv loads defaults and environment variables only. Bundled
// applications use it so a stray file in the working directory cannot
// change how they start.
func LoadEnv() (*Config, error) {
	cfg := DefaultConfig()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadTOML loads configuration from a TOML file. Unknown keys are errors.
func (c *Config) loadTOML(path string) error {
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return fmt.Errorf("failed to load config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, key := range undecoded {
			keys[i] = key.String()
		}
		return fmt.Errorf("unknown keys in %s: %s", path, strings.Join(keys, ", "))
	}
	return nil
}

// applyEnv applies environment variable overrides.
func (c *Config) applyEnv() error {
	if v := os.Getenv("ZIPENV_BUILDER"); v != "" {
		c.Build.Builder = strings.Fields(v)
	}
	if v := os.Getenv("ZIPENV_INSTALLER"); v != "" {
		c.Build.Installer = strings.Fields(v)
	}
	if v := os.Getenv("ZIPENV_MARKER"); v != "" {
		c.Build.Marker = v
	}
	if v := os.Getenv("ZIPENV_COMPRESSION"); v != "" {
		c.Build.Compression = v
	}
	if v := os.Getenv("ZIPENV_LAUNCHER"); v != "" {
		c.Build.Launcher = v
	}
	if v := os.Getenv("ZIPENV_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("ZIPENV_TIMEOUT: %w", err)
		}
		c.Build.Timeout = Duration(d)
	}
	if v := os.Getenv("ZIPENV_TEMP_DIR"); v != "" {
		c.Runtime.TempDir = v
	}
	if v := os.Getenv("ZIPENV_CONFIG_PATTERN"); v != "" {
		c.Runtime.ConfigPattern = v
	}
	if v := os.Getenv("ZIPENV_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("ZIPENV_VERBOSITY"); v != "" {
		verbosity, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ZIPENV_VERBOSITY: %w", err)
		}
		c.Logging.Verbosity = verbosity
	}
	return nil
}

// Validate checks values that have a fixed set of choices.
func (c *Config) Validate() error {
	if _, err := bundle.Compression(c.Build.Compression).Method(); err != nil {
		return err
	}
	if _, err := log.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging level: %w", err)
	}
	return nil
}

// Verbosity returns the configured verbosity level.
func (c *Config) Verbosity() int {
	return c.Logging.Verbosity
}
