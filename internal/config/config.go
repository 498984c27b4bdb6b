package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/aryan-salemababdi/winbash/internal/domain"
)

const (
	// EnvPrefix namespaces structured overrides: APP_SERVER__PORT -> server.port.
	EnvPrefix = "APP_"

	// ConfigPathEnv names the variable that overrides the config file path.
	ConfigPathEnv = "APP_CONFIG"

	DefaultConfigPath = "config.yaml"
)

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Log       LogConfig       `koanf:"log"`
	Metrics   MetricsConfig   `koanf:"metrics"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

// ServerConfig is fixed at process start.
type ServerConfig struct {
	Port              int           `koanf:"port"`
	StaticRoot        string        `koanf:"static_root"`
	BodyLimit         int64         `koanf:"body_limit"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout"`
	Docs              DocsConfig    `koanf:"docs"`
}

// DocsConfig is the metadata rendered into the OpenAPI document.
type DocsConfig struct {
	Title       string         `koanf:"title"`
	Version     string         `koanf:"version"`
	Description string         `koanf:"description"`
	ServerURL   string         `koanf:"server_url"`
	Contact     ContactConfig  `koanf:"contact"`
	Security    SecurityConfig `koanf:"security"`
}

type ContactConfig struct {
	Name  string `koanf:"name"`
	URL   string `koanf:"url"`
	Email string `koanf:"email"`
}

// SecurityConfig describes an HTTP authentication scheme applied to every
// documented operation unless the operation opts out.
type SecurityConfig struct {
	Name         string `koanf:"name"`
	Scheme       string `koanf:"scheme"`
	BearerFormat string `koanf:"bearer_format"`
}

// DatabaseConfig configures the connection pool. TLS verification is not
// configurable and stays off.
type DatabaseConfig struct {
	URI            string        `koanf:"uri"`
	MaxConns       int           `koanf:"max_conns"`
	AcquireTimeout time.Duration `koanf:"acquire_timeout"`
	ConnectTimeout time.Duration `koanf:"connect_timeout"`
}

type LogConfig struct {
	Level string `koanf:"level"` // debug, info, warn, error
}

// SlogLevel maps Level onto slog; unknown values mean info.
func (c LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

type MetricsConfig struct {
	Addr string `koanf:"addr"` // empty disables the admin listener
}

type TelemetryConfig struct {
	Tracing bool `koanf:"tracing"`
}

var defaults = map[string]any{
	"server.port":                        5000,
	"server.static_root":                 "public",
	"server.body_limit":                  100 << 10,
	"server.read_header_timeout":         "10s",
	"server.shutdown_timeout":            "10s",
	"server.docs.title":                  "winbash",
	"server.docs.version":                "1.0.0",
	"server.docs.description":            "اولین مرجع خرید و فروش به وسیله قرعه کشی توسط کاربران",
	"server.docs.contact.name":           "aryan salemabadi",
	"server.docs.contact.email":          "aryansab80@gmail.com",
	"server.docs.security.name":          "BearerAuth",
	"server.docs.security.scheme":        "bearer",
	"server.docs.security.bearer_format": "JWT",
	"database.max_conns":                 10,
	"database.acquire_timeout":           "10s",
	"database.connect_timeout":           "5s",
	"log.level":                          "info",
}

// Load reads the config file named by APP_CONFIG (config.yaml when unset),
// then APP_-prefixed environment overrides, then PORT and DATABASE_URI.
func Load() (*Config, error) {
	path := os.Getenv(ConfigPathEnv)
	if path == "" {
		path = DefaultConfigPath
	}
	return LoadFile(path)
}

// LoadFile is Load with an explicit config file path. A missing file is not
// an error.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("%w: read %s: %w", domain.ErrConfig, path, err)
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("%w: environment: %w", domain.ErrConfig, err)
	}

	// The process contract names these two variables directly.
	if port := os.Getenv("PORT"); port != "" {
		k.Set("server.port", port)
	}
	if uri := os.Getenv("DATABASE_URI"); uri != "" {
		k.Set("database.uri", uri)
	}

	for key, value := range defaults {
		if !k.Exists(key) {
			k.Set(key, value)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrConfig, err)
	}

	if cfg.Server.Docs.ServerURL == "" {
		cfg.Server.Docs.ServerURL = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
	}
	if cfg.Server.Docs.Contact.URL == "" {
		cfg.Server.Docs.Contact.URL = cfg.Server.Docs.ServerURL
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the runtime cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server.port %d out of range", domain.ErrConfig, c.Server.Port)
	}
	if c.Server.BodyLimit <= 0 {
		return fmt.Errorf("%w: server.body_limit must be positive", domain.ErrConfig)
	}
	if c.Database.MaxConns < 1 {
		return fmt.Errorf("%w: database.max_conns must be at least 1", domain.ErrConfig)
	}
	if strings.TrimSpace(c.Database.URI) == "" {
		return fmt.Errorf("%w: DATABASE_URI is not set", domain.ErrConfig)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: log.level %q", domain.ErrConfig, c.Log.Level)
	}
	return nil
}
