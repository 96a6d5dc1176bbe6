// Package config loads and validates process configuration from environment
// variables. The economy itself is configured by a scenario document; this
// covers where it runs, what it writes and how it is observed.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all process configuration.
type Config struct {
	// Run settings.
	ScenarioPath  string        // YAML or TOML scenario; empty runs the built-in baseline.
	Seed          int64         // Overrides the scenario seed when non-zero.
	RandomSeed    bool          // Draw a fresh seed for the run.
	Cycles        int           // Overrides the scenario cycle count when positive.
	CycleBudget   time.Duration // Wall-clock limit per cycle, 0 for none.
	CycleInterval time.Duration // Pause between cycles, 0 runs flat out.

	// Output settings.
	DBPath    string // SQLite store; empty disables persistence.
	ExportDir string // CSV and JSON exports; empty disables them.

	// API settings.
	Port      int  // 0 disables the HTTP API.
	Serve     bool // Keep serving the API after the run completes.
	RateLimit int  // Requests per client per minute.
	CacheSize int  // Cached API responses.

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	LogLevel string
}

// Load reads configuration from environment variables with sensible
// defaults. Every malformed variable is reported, not just the first.
func Load() (Config, error) {
	var errs []error
	str := envStr
	num := func(key string, def int) int {
		v, err := envInt(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}
	dur := func(key string, def time.Duration) time.Duration {
		v, err := envDuration(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}
	flag := func(key string, def bool) bool {
		v, err := envBool(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}

	cfg := Config{
		ScenarioPath:  str("ECONSIM_SCENARIO", ""),
		Seed:          int64(num("ECONSIM_SEED", 0)),
		RandomSeed:    flag("ECONSIM_RANDOM_SEED", false),
		Cycles:        num("ECONSIM_CYCLES", 0),
		CycleBudget:   dur("ECONSIM_CYCLE_BUDGET", 2*time.Second),
		CycleInterval: dur("ECONSIM_CYCLE_INTERVAL", 0),
		DBPath:        str("ECONSIM_DB", "data/econsim.db"),
		ExportDir:     str("ECONSIM_EXPORT_DIR", "data/exports"),
		Port:          num("ECONSIM_PORT", 8080),
		Serve:         flag("ECONSIM_SERVE", false),
		RateLimit:     num("ECONSIM_RATE_LIMIT", 120),
		CacheSize:     num("ECONSIM_CACHE_SIZE", 256),
		OTELEndpoint:  str("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:  flag("ECONSIM_OTEL_INSECURE", false),
		ServiceName:   str("OTEL_SERVICE_NAME", "econsim"),
		LogLevel:      str("ECONSIM_LOG_LEVEL", "info"),
	}
	if len(errs) > 0 {
		return Config{}, fmt.Errorf("config: %w", errors.Join(errs...))
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.Cycles < 0 {
		return fmt.Errorf("config: ECONSIM_CYCLES must not be negative")
	}
	if c.CycleBudget < 0 || c.CycleInterval < 0 {
		return fmt.Errorf("config: ECONSIM_CYCLE_BUDGET and ECONSIM_CYCLE_INTERVAL must not be negative")
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("config: ECONSIM_PORT %d out of range", c.Port)
	}
	if c.Port > 0 && c.RateLimit <= 0 {
		return fmt.Errorf("config: ECONSIM_RATE_LIMIT must be positive")
	}
	if c.Port > 0 && c.CacheSize <= 0 {
		return fmt.Errorf("config: ECONSIM_CACHE_SIZE must be positive")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("config: ECONSIM_LOG_LEVEL %q is not a log level", s)
	}
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid boolean", key, v)
	}
	return b, nil
}

func envDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid duration", key, v)
	}
	return d, nil
}
