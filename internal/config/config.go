// Package config loads the easystate CLI configuration from TOML.
//
// Every key is optional; a missing key keeps its default. Relative paths
// are resolved against the directory holding the config file.
//
//	frame_interval = "16ms"
//	database       = "traces.db"
//	log_level      = "info"
//	scenarios_dir  = "scenarios"
//	watch_debounce = "200ms"
package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds the CLI settings.
type Config struct {
	// FrameInterval is the event loop's frame tick.
	FrameInterval time.Duration
	// Database is the trace store path. Empty disables recording.
	Database string
	// LogLevel is the slog level for CLI output.
	LogLevel slog.Level
	// ScenariosDir is the default directory for test, validate and watch.
	ScenariosDir string
	// WatchDebounce is how long watch waits after the last change before
	// re-running.
	WatchDebounce time.Duration
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		FrameInterval: 16 * time.Millisecond,
		LogLevel:      slog.LevelInfo,
		ScenariosDir:  "scenarios",
		WatchDebounce: 200 * time.Millisecond,
	}
}

// config.toml key mapping to Config.
type fileConfig struct {
	FrameInterval string `toml:"frame_interval"`
	Database      string `toml:"database"`
	LogLevel      string `toml:"log_level"`
	ScenariosDir  string `toml:"scenarios_dir"`
	WatchDebounce string `toml:"watch_debounce"`
}

// Load reads the TOML file at path over the defaults.
// Unknown keys are an error.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, fmt.Errorf("load config: unknown keys %s", strings.Join(keys, ", "))
	}

	base := filepath.Dir(path)

	if meta.IsDefined("frame_interval") {
		d, err := parsePositiveDuration("frame_interval", raw.FrameInterval)
		if err != nil {
			return Config{}, err
		}
		cfg.FrameInterval = d
	}
	if meta.IsDefined("database") {
		cfg.Database = resolvePath(base, raw.Database)
	}
	if meta.IsDefined("log_level") {
		level, err := ParseLevel(raw.LogLevel)
		if err != nil {
			return Config{}, fmt.Errorf("load config: %w", err)
		}
		cfg.LogLevel = level
	}
	if meta.IsDefined("scenarios_dir") {
		cfg.ScenariosDir = resolvePath(base, raw.ScenariosDir)
	}
	if meta.IsDefined("watch_debounce") {
		d, err := parsePositiveDuration("watch_debounce", raw.WatchDebounce)
		if err != nil {
			return Config{}, err
		}
		cfg.WatchDebounce = d
	}

	return cfg, nil
}

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("invalid log level %q (expected debug, info, warn or error)", s)
	}
	return level, nil
}

func parsePositiveDuration(key, s string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("load config: %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("load config: %s must be positive, got %s", key, s)
	}
	return d, nil
}

func resolvePath(base, p string) string {
	p = strings.TrimSpace(p)
	if p == "" || filepath.IsAbs(p) || p == ":memory:" {
		return p
	}
	return filepath.Join(base, p)
}
