// Package main is the command line front-end of recdb.
//
// recdb is an embedded record store: typed tables with primary keys,
// auto-increment columns and foreign keys, persisted as a single JSON
// document (or SQLite file). Configuration is read from recdb.json, a .env
// file, the environment and CLI flags, in increasing order of precedence.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/maruel/recdb/internal/jsonldb"
	"github.com/maruel/recdb/internal/storage"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

func main() {
	if err := mainImpl(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "recdb: %v\n", err)
		os.Exit(1)
	}
}

func mainImpl() error {
	cfg, args, err := loadConfig(os.Args[1:], os.LookupEnv)
	if err != nil {
		return err
	}
	if cfg.Version {
		printVersion()
		return nil
	}
	if len(args) == 0 {
		return errors.New("missing command, see -help")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()
	logger := initLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	db, store, err := openDatabase(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			slog.ErrorContext(ctx, "Failed to close database", "err", err)
		}
	}()
	c := &cli{db: db, store: store, out: os.Stdout, interval: cfg.WatchInterval, addr: cfg.HTTP, rateLimit: cfg.RateLimit}
	return c.run(ctx, args)
}

// initLogger returns a colored logger on stderr at the given level.
func initLogger(level string) *slog.Logger {
	ll := &slog.LevelVar{}
	ll.Set(parseLevel(level))
	return slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:      ll,
		TimeFormat: "15:04:05.000", // Like time.TimeOnly plus milliseconds.
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Value.Kind() == slog.KindAny && a.Value.Any() == nil {
				return slog.Attr{}
			}
			return a
		},
	}))
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// openDatabase opens the store selected by cfg and attaches its tables.
func openDatabase(cfg Config, logger *slog.Logger) (*jsonldb.Database, storage.Store, error) {
	var store storage.Store
	switch cfg.Backend {
	case backendJSON:
		if cfg.Git {
			s, err := storage.NewGitStore(cfg.DB, storage.Author{Name: cfg.GitAuthor, Email: cfg.GitEmail})
			if err != nil {
				return nil, nil, fmt.Errorf("failed to initialize git store: %w", err)
			}
			store = s
		} else {
			s, err := storage.NewFileStore(cfg.DB)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to initialize file store: %w", err)
			}
			store = s
		}
	case backendSQLite:
		s, err := storage.NewSQLiteStore(cfg.DB)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize sqlite store: %w", err)
		}
		store = s
	default:
		return nil, nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
	db, err := jsonldb.Open(store, jsonldb.WithObserver(jsonldb.NewLogObserver(logger)))
	if err != nil {
		return nil, nil, err
	}
	logger.Debug("Database opened", "path", cfg.DB, "backend", cfg.Backend, "git", cfg.Git, "tables", len(db.ListTables()))
	return db, store, nil
}

func printVersion() {
	version, goVersion, revision, dirty := getBuildInfo()
	fmt.Printf("recdb %s\n", version)
	fmt.Printf("  Go version: %s\n", goVersion)
	fmt.Printf("  Revision:   %s\n", revision)
	if dirty {
		fmt.Printf("  Modified:   true\n")
	}
}

func getBuildInfo() (version, goVersion, revision string, dirty bool) {
	version = "unknown"
	goVersion = "unknown"
	revision = "unknown"
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	version = info.Main.Version
	if version == "" || version == "(devel)" {
		version = "dev"
	}
	goVersion = info.GoVersion
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			dirty = setting.Value == "true"
		}
	}
	return
}

// defaultWatchInterval limits how often watch mode reloads the document.
const defaultWatchInterval = 200 * time.Millisecond
