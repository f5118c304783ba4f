package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/marcboeker/go-duckdb/v2"
	_ "github.com/thda/tds"
	_ "modernc.org/sqlite"
)

// ErrConnectionUnavailable wraps every failure to bring up the backend. It is
// fatal to the process; requests are never served without a live handle.
var ErrConnectionUnavailable = errors.New("database connection unavailable")

const (
	DriverTDS    = "tds"
	DriverPgx    = "pgx"
	DriverDuckDB = "duckdb"
	DriverSQLite = "sqlite"
)

type Config struct {
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

func SupportedDrivers() []string {
	return []string{DriverTDS, DriverPgx, DriverDuckDB, DriverSQLite}
}

// BuildDSN returns cfg.DSN when set, otherwise assembles one from the
// individual connection properties.
func BuildDSN(cfg Config) (string, error) {
	if dsn := strings.TrimSpace(cfg.DSN); dsn != "" {
		return dsn, nil
	}
	switch cfg.Driver {
	case DriverTDS:
		return networkDSN("tds", cfg)
	case DriverPgx:
		return networkDSN("postgres", cfg)
	case DriverDuckDB:
		return cfg.Name, nil
	case DriverSQLite:
		if cfg.Name == "" {
			return ":memory:", nil
		}
		return cfg.Name, nil
	default:
		return "", fmt.Errorf("unsupported driver %q", cfg.Driver)
	}
}

func networkDSN(scheme string, cfg Config) (string, error) {
	if cfg.Host == "" {
		return "", fmt.Errorf("%s host is required", cfg.Driver)
	}
	host := cfg.Host
	if cfg.Port != "" {
		host = net.JoinHostPort(cfg.Host, cfg.Port)
	}
	dsn := url.URL{Scheme: scheme, Host: host, Path: "/" + cfg.Name}
	if cfg.User != "" {
		dsn.User = url.UserPassword(cfg.User, cfg.Password)
	}
	return dsn.String(), nil
}

func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	dsn, err := BuildDSN(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionUnavailable, err)
	}

	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrConnectionUnavailable, cfg.Driver, err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: ping %s: %v", ErrConnectionUnavailable, cfg.Driver, err)
	}

	return db, nil
}
