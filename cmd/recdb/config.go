package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/tailscale/hujson"
)

const (
	backendJSON   = "json"
	backendSQLite = "sqlite"
)

// Config is the resolved configuration of one invocation.
type Config struct {
	DB            string
	Backend       string
	Git           bool
	GitAuthor     string
	GitEmail      string
	LogLevel      string
	WatchInterval time.Duration
	HTTP          string
	RateLimit     float64
	Version       bool
}

func defaultConfig() Config {
	return Config{
		DB:            "data.json",
		Backend:       backendJSON,
		LogLevel:      "info",
		WatchInterval: defaultWatchInterval,
		HTTP:          "localhost:8080",
	}
}

// fileConfig is the content of recdb.json. Comments and trailing commas are
// allowed.
type fileConfig struct {
	DB            *string  `json:"db"`
	Backend       *string  `json:"backend"`
	Git           *bool    `json:"git"`
	GitAuthor     *string  `json:"git_author"`
	GitEmail      *string  `json:"git_email"`
	LogLevel      *string  `json:"log_level"`
	WatchInterval *string  `json:"watch_interval"`
	HTTP          *string  `json:"http"`
	RateLimit     *float64 `json:"rate_limit"`
}

// loadConfig resolves the configuration from, in increasing precedence: the
// defaults, the JSON config file, the .env file, the environment and the
// flags explicitly set in args. It returns the remaining arguments.
func loadConfig(args []string, lookupEnv func(string) (string, bool)) (Config, []string, error) {
	cfg := defaultConfig()
	f := flag.NewFlagSet("recdb", flag.ContinueOnError)
	configPath := f.String("config", "recdb.json", "Path to the JSON configuration file")
	envPath := f.String("env", ".env", "Path to the .env file")
	db := f.String("db", cfg.DB, "Path to the database file")
	backend := f.String("backend", cfg.Backend, "Storage backend (json, sqlite)")
	git := f.Bool("git", cfg.Git, "Commit every change to a git repository in the database directory (json backend only)")
	logLevel := f.String("log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	interval := f.Duration("watch-interval", cfg.WatchInterval, "Minimum delay between reloads in watch mode")
	httpAddr := f.String("http", cfg.HTTP, "Address the serve command listens on")
	rateLimit := f.Float64("rate-limit", cfg.RateLimit, "Requests per second accepted by the serve command, 0 for unlimited")
	version := f.Bool("version", false, "Print version and exit")
	f.Usage = func() {
		out := f.Output()
		_, _ = fmt.Fprintf(out, "usage: recdb [flags] <command> [args]\n\ncommands:\n%s\nflags:\n", commandHelp)
		f.PrintDefaults()
	}
	if err := f.Parse(args); err != nil {
		return Config{}, nil, err
	}

	if err := cfg.loadFile(*configPath); err != nil {
		return Config{}, nil, err
	}
	env, err := readEnv(*envPath, lookupEnv)
	if err != nil {
		return Config{}, nil, err
	}
	if err := cfg.applyEnv(env); err != nil {
		return Config{}, nil, err
	}

	set := make(map[string]bool)
	f.Visit(func(fl *flag.Flag) {
		set[fl.Name] = true
	})
	if set["db"] {
		cfg.DB = *db
	}
	if set["backend"] {
		cfg.Backend = *backend
	}
	if set["git"] {
		cfg.Git = *git
	}
	if set["log-level"] {
		cfg.LogLevel = *logLevel
	}
	if set["watch-interval"] {
		cfg.WatchInterval = *interval
	}
	if set["http"] {
		cfg.HTTP = *httpAddr
	}
	if set["rate-limit"] {
		cfg.RateLimit = *rateLimit
	}
	cfg.Version = *version
	if err := cfg.validate(); err != nil {
		return Config{}, nil, err
	}
	return cfg, f.Args(), nil
}

// loadFile applies the values present in the JSON config file at path. A
// missing file is ignored.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the -config flag
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return fmt.Errorf("invalid config %s: %w", path, err)
	}
	var fc fileConfig
	if err := json.Unmarshal(standardized, &fc); err != nil {
		return fmt.Errorf("invalid config %s: %w", path, err)
	}
	setString(&c.DB, fc.DB)
	setString(&c.Backend, fc.Backend)
	setString(&c.GitAuthor, fc.GitAuthor)
	setString(&c.GitEmail, fc.GitEmail)
	setString(&c.LogLevel, fc.LogLevel)
	setString(&c.HTTP, fc.HTTP)
	if fc.RateLimit != nil {
		c.RateLimit = *fc.RateLimit
	}
	if fc.Git != nil {
		c.Git = *fc.Git
	}
	if fc.WatchInterval != nil {
		d, err := time.ParseDuration(*fc.WatchInterval)
		if err != nil {
			return fmt.Errorf("invalid config %s: watch_interval: %w", path, err)
		}
		c.WatchInterval = d
	}
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

// envKeys lists the variables read from .env and the environment.
var envKeys = []string{"RECDB_DB", "RECDB_BACKEND", "RECDB_GIT", "RECDB_GIT_AUTHOR", "RECDB_GIT_EMAIL", "RECDB_LOG_LEVEL", "RECDB_HTTP", "RECDB_RATE_LIMIT"}

// readEnv returns the recdb variables of the .env file at path, overridden
// by the ones set in the environment. A missing file is ignored.
func readEnv(path string, lookupEnv func(string) (string, bool)) (map[string]string, error) {
	env, err := godotenv.Read(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		env = map[string]string{}
	}
	for _, k := range envKeys {
		if v, ok := lookupEnv(k); ok {
			env[k] = v
		}
	}
	return env, nil
}

func (c *Config) applyEnv(env map[string]string) error {
	if v := env["RECDB_DB"]; v != "" {
		c.DB = v
	}
	if v := env["RECDB_BACKEND"]; v != "" {
		c.Backend = v
	}
	if v := env["RECDB_GIT"]; v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid RECDB_GIT: %w", err)
		}
		c.Git = b
	}
	if v := env["RECDB_GIT_AUTHOR"]; v != "" {
		c.GitAuthor = v
	}
	if v := env["RECDB_GIT_EMAIL"]; v != "" {
		c.GitEmail = v
	}
	if v := env["RECDB_LOG_LEVEL"]; v != "" {
		c.LogLevel = v
	}
	if v := env["RECDB_HTTP"]; v != "" {
		c.HTTP = v
	}
	if v := env["RECDB_RATE_LIMIT"]; v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid RECDB_RATE_LIMIT: %w", err)
		}
		c.RateLimit = f
	}
	return nil
}

func (c *Config) validate() error {
	switch c.Backend {
	case backendJSON:
	case backendSQLite:
		if c.Git {
			return errors.New("git history requires the json backend")
		}
	default:
		return fmt.Errorf("unknown backend %q, expected json or sqlite", c.Backend)
	}
	if c.DB == "" {
		return errors.New("database path is empty")
	}
	if c.WatchInterval <= 0 {
		return fmt.Errorf("watch interval must be positive, got %s", c.WatchInterval)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate limit must not be negative, got %g", c.RateLimit)
	}
	return nil
}
