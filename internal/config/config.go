package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog"

	"github.com/developingchet/logfallback/internal/router"
)

// Config holds all runtime configuration.
type Config struct {
	// Operational
	LogLevel    string `koanf:"log_level"`
	LogFormat   string `koanf:"log_format"`
	MetricsAddr string `koanf:"metrics_addr"` // "" = disabled

	// Router
	RouterName           string `koanf:"router_name"`
	RouterMode           string `koanf:"router_mode"`
	RouterMinutesTimeout int    `koanf:"router_minutes_timeout"`
	RouterAppendCount    int    `koanf:"router_append_count"`

	// Relay
	RelayWorkers    int           `koanf:"relay_workers"`
	RelayBuffer     int           `koanf:"relay_buffer"`
	BatchSize       int           `koanf:"batch_size"`
	FlushInterval   time.Duration `koanf:"flush_interval"`
	MinLevel        string        `koanf:"min_level"`
	ExcludeLoggers  []string      `koanf:"exclude_loggers"` // comma-separated in env
	SpoolRetention  time.Duration `koanf:"spool_retention"`
	JanitorInterval time.Duration `koanf:"janitor_interval"`

	// Sinks in fallback order. Only settable from the YAML file.
	Sinks []SinkConfig `koanf:"sinks"`
}

// SinkConfig describes one output sink. Which fields apply depends on Kind.
type SinkConfig struct {
	Name string `koanf:"name"`
	Kind string `koanf:"kind"` // console | file | http | socket | spool

	Path    string        `koanf:"path"`    // file, spool
	Target  string        `koanf:"target"`  // console: stdout | stderr
	Network string        `koanf:"network"` // socket: tcp | udp | unix
	Address string        `koanf:"address"` // socket
	URL     string        `koanf:"url"`     // http
	Timeout time.Duration `koanf:"timeout"` // http, socket

	// file rotation
	MaxSizeMB  int  `koanf:"max_size_mb"`
	MaxBackups int  `koanf:"max_backups"`
	MaxAgeDays int  `koanf:"max_age_days"`
	Compress   bool `koanf:"compress"`

	Headers map[string]string `koanf:"headers"` // http
}

// defaults is the lowest-priority layer.
var defaults = map[string]any{
	"log_level":              "info",
	"log_format":             "json",
	"metrics_addr":           "",
	"router_name":            "fallback",
	"router_mode":            "indefinite",
	"router_minutes_timeout": router.DefaultMinutesTimeout,
	"router_append_count":    router.DefaultAppendCount,
	"relay_workers":          1,
	"relay_buffer":           64,
	"batch_size":             100,
	"flush_interval":         time.Second,
	"min_level":              "",
	"exclude_loggers":        []string{},
	"spool_retention":        7 * 24 * time.Hour,
	"janitor_interval":       5 * time.Minute,
}

// DefaultSink is used when the configuration names no sinks.
var DefaultSink = SinkConfig{Name: "console", Kind: "console", Target: "stderr"}

// Load reads configuration from (lowest → highest priority):
//  1. Built-in defaults
//  2. YAML file at CONFIG_FILE env var path (if set)
//  3. Environment variables (always highest priority)
func Load() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: defaults.
	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}

	// Layer 2: optional YAML file.
	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		if err := k.Load(file.Provider(cfgFile), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load file %s: %w", cfgFile, err)
		}
	}

	// Layer 3: environment variables.
	// Transform: "ROUTER_MODE" → "router_mode". SINKS is skipped: the sink
	// list has no flat env form. EXCLUDE_LOGGERS is comma-separated and
	// handled below.
	if err := k.Load(env.Provider("", ".", func(s string) string {
		switch s {
		case "SINKS", "EXCLUDE_LOGGERS":
			return ""
		}
		return strings.ToLower(s)
	}), nil); err != nil {
		return nil, fmt.Errorf("config: load env: %w", err)
	}

	cfg := &Config{}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	// Normalise string fields.
	cfg.LogLevel = strings.TrimSpace(strings.ToLower(cfg.LogLevel))
	cfg.LogFormat = strings.TrimSpace(strings.ToLower(cfg.LogFormat))
	cfg.RouterMode = strings.TrimSpace(strings.ToLower(cfg.RouterMode))
	cfg.MinLevel = strings.TrimSpace(strings.ToLower(cfg.MinLevel))
	for i := range cfg.Sinks {
		cfg.Sinks[i].Name = strings.TrimSpace(cfg.Sinks[i].Name)
		cfg.Sinks[i].Kind = strings.TrimSpace(strings.ToLower(cfg.Sinks[i].Kind))
	}

	if raw, ok := os.LookupEnv("EXCLUDE_LOGGERS"); ok {
		cfg.ExcludeLoggers = splitList(raw)
	}

	if len(cfg.Sinks) == 0 {
		cfg.Sinks = []SinkConfig{DefaultSink}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate aggregates every configuration error. Router tunables are not
// checked here; the router ignores out-of-range values.
func (c *Config) validate() error {
	var errs []string

	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil || c.LogLevel == "" {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL %q is not a valid level (trace|debug|info|warn|error)", c.LogLevel))
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT %q must be json or text", c.LogFormat))
	}
	if _, err := router.ParseMode(c.RouterMode); err != nil {
		errs = append(errs, fmt.Sprintf("ROUTER_MODE %q must be indefinite, time or count", c.RouterMode))
	}
	if _, err := zerolog.ParseLevel(c.MinLevel); err != nil {
		errs = append(errs, fmt.Sprintf("MIN_LEVEL %q is not a valid level", c.MinLevel))
	}
	if c.RelayWorkers < 1 {
		errs = append(errs, "RELAY_WORKERS must be at least 1")
	}
	if c.RelayBuffer < 1 {
		errs = append(errs, "RELAY_BUFFER must be at least 1")
	}
	if c.BatchSize < 1 {
		errs = append(errs, "BATCH_SIZE must be at least 1")
	}
	if c.FlushInterval <= 0 {
		errs = append(errs, "FLUSH_INTERVAL must be positive")
	}
	if c.JanitorInterval <= 0 {
		errs = append(errs, "JANITOR_INTERVAL must be positive")
	}

	seen := make(map[string]bool, len(c.Sinks))
	for i, s := range c.Sinks {
		if s.Name == "" {
			errs = append(errs, fmt.Sprintf("sinks[%d]: name is required", i))
			continue
		}
		if seen[s.Name] {
			errs = append(errs, fmt.Sprintf("sinks[%d]: duplicate name %q", i, s.Name))
		}
		seen[s.Name] = true
		if strings.ContainsRune(s.Path, 0) {
			errs = append(errs, fmt.Sprintf("sinks[%d]: path must not contain null bytes", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%d configuration error(s):\n  - %s", len(errs), strings.Join(errs, "\n  - "))
	}
	return nil
}

// splitList splits a comma-separated env value, dropping blank entries.
func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
