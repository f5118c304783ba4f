package sqllink

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sqllink/sqllink/internal/config"
	"github.com/sqllink/sqllink/internal/database"
	"github.com/sqllink/sqllink/internal/engine"
	"github.com/sqllink/sqllink/internal/observability"
	"github.com/sqllink/sqllink/internal/query"
	"github.com/sqllink/sqllink/internal/repl"
)

const shutdownTimeout = 5 * time.Second

type Options struct {
	Lookup config.LookupFunc
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Run connects to the configured database and serves requests from Stdin until
// it is drained or ctx ends. Positional arguments follow the form
// `host port dbname user password`; any prefix of it may be given.
func Run(ctx context.Context, args []string, opts Options) int {
	stdin := opts.Stdin
	if stdin == nil {
		stdin = strings.NewReader("")
	}
	stdout := opts.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := opts.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("sqllink", flag.ContinueOnError)
	fs.SetOutput(stderr)
	driver := fs.String("driver", "", "database driver ("+strings.Join(database.SupportedDrivers(), ", ")+")")
	dsn := fs.String("dsn", "", "full data source name, overrides host/port/dbname/user/password")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() > 5 {
		writeUsage(stderr)
		return 2
	}

	lookup := opts.Lookup
	if lookup == nil {
		lookup = func(string) (string, bool) { return "", false }
	}
	cfg, err := config.Load("sqllink", lookup)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "invalid configuration: %v\n", err)
		return 1
	}
	applyOverrides(&cfg.Database, *driver, *dsn, fs.Args())

	logger := observability.NewLogger(cfg, stderr)
	db, err := database.Open(ctx, database.Config{
		Driver:         cfg.Database.Driver,
		DSN:            cfg.Database.DSN,
		Host:           cfg.Database.Host,
		Port:           cfg.Database.Port,
		Name:           cfg.Database.Name,
		User:           cfg.Database.User,
		Password:       cfg.Database.Password,
		MaxOpenConns:   cfg.Database.MaxOpenConns,
		MaxIdleConns:   cfg.Database.MaxIdleConns,
		ConnectTimeout: cfg.Database.ConnectTimeout,
	})
	if err != nil {
		logger.Error("failed to open database", slog.String("driver", cfg.Database.Driver), slog.Any("error", err))
		_, _ = fmt.Fprintln(stderr, err.Error())
		return 1
	}
	defer func() { _ = db.Close() }()
	_, _ = fmt.Fprintln(stdout, "connected")

	pool, err := engine.NewPool(engine.PoolConfig{
		Workers: cfg.Engine.Workers,
		Encoder: query.Encoder{Timestamps: cfg.Engine.Timestamps},
	}, logger)
	if err != nil {
		logger.Error("failed to start worker pool", slog.Any("error", err))
		return 1
	}
	defer func() {
		if err := pool.Close(shutdownTimeout); err != nil {
			logger.Warn("worker pool did not drain", slog.Any("error", err))
		}
	}()

	server := &repl.Server{
		Pool: pool,
		Conn: db,
		Decoder: repl.Decoder{
			TimeoutUnit:    cfg.REPL.TimeoutUnit,
			DefaultTimeout: cfg.Engine.DefaultTimeout,
		},
		Logger:       logger,
		MaxLineBytes: cfg.REPL.MaxLineBytes,
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error {
		defer stop()
		logger.Info("serving requests",
			slog.String("driver", cfg.Database.Driver),
			slog.Int("workers", pool.Size()),
			slog.String("timeout_unit", cfg.REPL.TimeoutUnit.String()),
		)
		return server.Serve(groupCtx, stdin, stdout)
	})

	if addr := strings.TrimSpace(cfg.Admin.Address); addr != "" {
		admin := &http.Server{
			Addr:              addr,
			Handler:           observability.NewAdminHandler(logger, db.PingContext, time.Second),
			ReadHeaderTimeout: 5 * time.Second,
		}
		group.Go(func() error {
			logger.Info("starting admin server", slog.String("addr", addr))
			if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("admin server: %w", err)
			}
			return nil
		})
		group.Go(func() error {
			<-groupCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := admin.Shutdown(shutdownCtx); err != nil {
				_ = admin.Close()
				return fmt.Errorf("admin shutdown: %w", err)
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		logger.Error("sqllink stopped with error", slog.Any("error", err))
		return 1
	}
	logger.Info("sqllink stopped")
	return 0
}

func applyOverrides(db *config.DatabaseConfig, driver, dsn string, positional []string) {
	if strings.TrimSpace(driver) != "" {
		db.Driver = strings.TrimSpace(driver)
	}
	if strings.TrimSpace(dsn) != "" {
		db.DSN = strings.TrimSpace(dsn)
	}
	targets := []*string{&db.Host, &db.Port, &db.Name, &db.User, &db.Password}
	for i, value := range positional {
		*targets[i] = value
	}
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: sqllink [flags] [host [port [dbname [user [password]]]]]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "Reads one JSON request per line on stdin and writes one JSON response per line on stdout.")
	_, _ = fmt.Fprintln(w, "Configuration is read from SQLLINK_* environment variables.")
}
