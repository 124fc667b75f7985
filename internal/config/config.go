// Package config loads gateway command settings from the environment,
// command-line flags and an optional YAML routes file.
package config

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Store backends.
const (
	StoreMemory = "memory"
	StoreDisk   = "disk"
	StoreSQLite = "sqlite"
)

// Config holds gateway command configuration.
type Config struct {
	Addr            string        `env:"GATEWAY_ADDR"             envDefault:":8080"`
	AdminAddr       string        `env:"GATEWAY_ADMIN_ADDR"       envDefault:":9090"`
	Origin          string        `env:"GATEWAY_ORIGIN"`
	Version         string        `env:"GATEWAY_VERSION"`
	VersionFile     string        `env:"GATEWAY_VERSION_FILE"`
	RoutesFile      string        `env:"GATEWAY_ROUTES_FILE"`
	Store           string        `env:"GATEWAY_STORE"            envDefault:"memory"`
	CacheDir        string        `env:"GATEWAY_CACHE_DIR"        envDefault:"gateway-cache"`
	CacheMaxBytes   int64         `env:"GATEWAY_CACHE_MAX_BYTES"`
	CacheCompress   bool          `env:"GATEWAY_CACHE_COMPRESS"   envDefault:"true"`
	FetchDedup      bool          `env:"GATEWAY_FETCH_DEDUP"`
	LogLevel        string        `env:"GATEWAY_LOG_LEVEL"        envDefault:"info"`
	LogFormat       string        `env:"GATEWAY_LOG_FORMAT"       envDefault:"text"`
	ShutdownTimeout time.Duration `env:"GATEWAY_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	OTelEndpoint    string        `env:"GATEWAY_OTEL_ENDPOINT"`
	OTelEnabled     bool          `env:"GATEWAY_OTEL_ENABLED"     envDefault:"true"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Parse reads the environment, then lets flags in args override it.
func Parse(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "Proxy listen address")
	fs.StringVar(&cfg.AdminAddr, "admin-addr", cfg.AdminAddr, "Metrics and health listen address (empty disables)")
	fs.StringVar(&cfg.Origin, "origin", cfg.Origin, "Application origin, e.g. https://app.example")
	fs.StringVar(&cfg.Version, "version", cfg.Version, "Version tag to deploy")
	fs.StringVar(&cfg.VersionFile, "version-file", cfg.VersionFile, "File holding the version tag; watched for changes")
	fs.StringVar(&cfg.RoutesFile, "routes", cfg.RoutesFile, "YAML routes file")
	fs.StringVar(&cfg.Store, "store", cfg.Store, "Cache backend: memory, disk or sqlite")
	fs.StringVar(&cfg.CacheDir, "cache-dir", cfg.CacheDir, "Directory for disk and sqlite backends")
	fs.Int64Var(&cfg.CacheMaxBytes, "cache-max-bytes", cfg.CacheMaxBytes, "Per-partition size limit for the disk backend (0 = unlimited)")
	fs.BoolVar(&cfg.CacheCompress, "cache-compress", cfg.CacheCompress, "Compress disk cache bodies with zstd")
	fs.BoolVar(&cfg.FetchDedup, "fetch-dedup", cfg.FetchDedup, "Collapse concurrent identical fetches")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn or error")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format: text or json")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "Graceful shutdown timeout")
	fs.StringVar(&cfg.OTelEndpoint, "otel-endpoint", cfg.OTelEndpoint, "OTLP/HTTP trace collector URL (empty disables tracing)")
	fs.BoolVar(&cfg.OTelEnabled, "otel-enabled", cfg.OTelEnabled, "Export traces when an endpoint is set")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports missing or inconsistent settings.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Origin) == "" {
		errs = append(errs, errors.New("origin is required"))
	}
	if strings.TrimSpace(c.Version) == "" && strings.TrimSpace(c.VersionFile) == "" {
		errs = append(errs, errors.New("version or version file is required"))
	}
	switch c.Store {
	case StoreMemory:
	case StoreDisk, StoreSQLite:
		if strings.TrimSpace(c.CacheDir) == "" {
			errs = append(errs, fmt.Errorf("cache dir is required for the %s store", c.Store))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store %q", c.Store))
	}
	if c.CacheMaxBytes < 0 {
		errs = append(errs, errors.New("cache max bytes must be non-negative"))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("unknown log format %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

// Level parses LogLevel.
func (c Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log level: %w", err)
	}
	return level, nil
}

// Logger builds the command logger writing to stderr.
func (c Config) Logger() *slog.Logger {
	level, err := c.Level()
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// Exitf writes a formatted error message to stderr and exits with code 1.
func Exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
