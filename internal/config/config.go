package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sqllink/sqllink/internal/query"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	Database      DatabaseConfig
	Engine        EngineConfig
	REPL          REPLConfig
	Admin         AdminConfig
	Observability ObservabilityConfig
}

type ServiceConfig struct {
	Name string
}

type DatabaseConfig struct {
	Driver         string
	DSN            string
	Host           string
	Port           string
	Name           string
	User           string
	Password       string
	MaxOpenConns   int
	MaxIdleConns   int
	ConnectTimeout time.Duration
}

type EngineConfig struct {
	Workers        int
	DefaultTimeout time.Duration
	Timestamps     query.TimestampStyle
}

type REPLConfig struct {
	// TimeoutUnit scales the integer timeout carried by each request.
	TimeoutUnit  time.Duration
	MaxLineBytes int
}

type AdminConfig struct {
	Address string
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
}

func LoadFromEnv(serviceName string) (Config, error) {
	return Load(serviceName, os.LookupEnv)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup("SQLLINK_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid SQLLINK_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	appliers := []func() error{
		func() error { return applyString(lookup, "SQLLINK_SERVICE_NAME", &cfg.Service.Name) },
		func() error { return applyString(lookup, "SQLLINK_DB_DRIVER", &cfg.Database.Driver) },
		func() error { return applyString(lookup, "SQLLINK_DB_DSN", &cfg.Database.DSN) },
		func() error { return applyString(lookup, "SQLLINK_DB_HOST", &cfg.Database.Host) },
		func() error { return applyString(lookup, "SQLLINK_DB_PORT", &cfg.Database.Port) },
		func() error { return applyString(lookup, "SQLLINK_DB_NAME", &cfg.Database.Name) },
		func() error { return applyString(lookup, "SQLLINK_DB_USER", &cfg.Database.User) },
		func() error { return applyRawString(lookup, "SQLLINK_DB_PASSWORD", &cfg.Database.Password) },
		func() error { return applyInt(lookup, "SQLLINK_DB_MAX_OPEN_CONNS", &cfg.Database.MaxOpenConns) },
		func() error { return applyInt(lookup, "SQLLINK_DB_MAX_IDLE_CONNS", &cfg.Database.MaxIdleConns) },
		func() error { return applyDuration(lookup, "SQLLINK_DB_CONNECT_TIMEOUT", &cfg.Database.ConnectTimeout) },
		func() error { return applyInt(lookup, "SQLLINK_ENGINE_WORKERS", &cfg.Engine.Workers) },
		func() error { return applyDuration(lookup, "SQLLINK_ENGINE_DEFAULT_TIMEOUT", &cfg.Engine.DefaultTimeout) },
		func() error { return applyTimestampStyle(lookup, "SQLLINK_TIMESTAMP_STYLE", &cfg.Engine.Timestamps) },
		func() error { return applyTimeoutUnit(lookup, "SQLLINK_REQUEST_TIMEOUT_UNIT", &cfg.REPL.TimeoutUnit) },
		func() error { return applyInt(lookup, "SQLLINK_REPL_MAX_LINE_BYTES", &cfg.REPL.MaxLineBytes) },
		func() error { return applyString(lookup, "SQLLINK_ADMIN_ADDR", &cfg.Admin.Address) },
		func() error { return applyBool(lookup, "SQLLINK_LOG_JSON", &cfg.Observability.LogJSON) },
		func() error { return applyLogLevel(lookup, "SQLLINK_LOG_LEVEL", &cfg.Observability.LogLevel) },
	}
	for _, apply := range appliers {
		if err := apply(); err != nil {
			return Config{}, err
		}
	}

	if cfg.Service.Name == "" {
		return Config{}, fmt.Errorf("service name is required")
	}
	if cfg.Database.Driver == "" {
		return Config{}, fmt.Errorf("database driver is required")
	}
	if cfg.Engine.Workers <= 0 {
		return Config{}, fmt.Errorf("engine workers must be positive, got %d", cfg.Engine.Workers)
	}
	if cfg.Engine.DefaultTimeout <= 0 {
		return Config{}, fmt.Errorf("engine default timeout must be positive, got %s", cfg.Engine.DefaultTimeout)
	}
	if cfg.REPL.MaxLineBytes < 1024 {
		return Config{}, fmt.Errorf("repl max line bytes must be at least 1024, got %d", cfg.REPL.MaxLineBytes)
	}
	return cfg, nil
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "sqllink"},
		Database: DatabaseConfig{
			Driver:         "tds",
			MaxOpenConns:   5,
			MaxIdleConns:   5,
			ConnectTimeout: 10 * time.Second,
		},
		Engine: EngineConfig{
			Workers:        5,
			DefaultTimeout: query.DefaultTimeout,
			Timestamps:     query.TimestampISO,
		},
		REPL: REPLConfig{
			TimeoutUnit:  time.Millisecond,
			MaxLineBytes: 16 << 20,
		},
		Admin: AdminConfig{
			Address: "",
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  true,
		},
	}

	switch profile {
	case ProfileTest:
		cfg.Database.Driver = "sqlite"
		cfg.Database.Name = ":memory:"
		cfg.Observability.LogLevel = slog.LevelWarn
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
	}

	return cfg
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

// applyRawString keeps surrounding whitespace, which is significant in secrets.
func applyRawString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = raw
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyTimestampStyle(lookup LookupFunc, key string, dst *query.TimestampStyle) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	style, err := query.ParseTimestampStyle(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = style
	return nil
}

func applyTimeoutUnit(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "ms", "millis", "milliseconds":
		*dst = time.Millisecond
	case "s", "sec", "seconds":
		*dst = time.Second
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	return nil
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	level := strings.ToLower(strings.TrimSpace(raw))
	switch level {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	return nil
}
