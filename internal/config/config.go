// Package config resolves run and server settings from .env files, the
// environment and command line flags, in that order of precedence.
package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/vincentbai/browsetrace-sessions/internal/database"
	coreerrors "github.com/vincentbai/browsetrace-sessions/internal/errors"
	"github.com/vincentbai/browsetrace-sessions/internal/logging"
	"github.com/vincentbai/browsetrace-sessions/internal/pipeline"
	"github.com/vincentbai/browsetrace-sessions/internal/sessionize"
	"github.com/vincentbai/browsetrace-sessions/internal/source"
)

// EnvPrefix is prepended to every environment key.
const EnvPrefix = "SESSIONSTATS_"

// DriverNone disables the run archive.
const DriverNone = "none"

type Config struct {
	BaseURL        string
	ShardPattern   string
	Shards         int
	SourceDir      string
	Timeout        time.Duration
	Retries        int
	OnShardError   string
	InvalidRecords string
	LabelPolicy    string
	LogLevel       string
	DBDriver       string
	DBDSN          string
	Address        string
	Output         string
}

// Default returns the settings used when nothing is configured.
func Default() *Config {
	return &Config{
		BaseURL:        source.DefaultBaseURL,
		ShardPattern:   source.DefaultPattern,
		Shards:         10,
		Timeout:        30 * time.Second,
		Retries:        2,
		OnShardError:   string(pipeline.Abort),
		InvalidRecords: string(pipeline.FailShard),
		LabelPolicy:    string(sessionize.LabelFirst),
		LogLevel:       string(logging.LevelInfo),
		DBDriver:       database.DriverSQLite,
		DBDSN:          filepath.Join(ApplicationDirectory(), "runs.db"),
		Address:        "127.0.0.1:8123",
	}
}

// ApplicationDirectory is the platform specific data directory. It falls
// back to the working directory when the home directory is unknown.
func ApplicationDirectory() string {
	homeDirectory, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(homeDirectory, "Library", "Application Support", "BrowserTraceSessions")
	case "windows":
		return filepath.Join(homeDirectory, "AppData", "Roaming", "BrowserTraceSessions")
	default: // linux and others
		return filepath.Join(homeDirectory, ".local", "share", "BrowserTraceSessions")
	}
}

// Load reads the given .env files (".env" when none are named) into the
// process environment and returns the defaults overlaid with it. A
// missing .env file is only logged.
func Load(logger logging.Logger, files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil {
		logger.Warn("Error loading .env file: %v", err)
	}
	cfg := Default()
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from prefixed environment keys that are set.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	texts := map[string]*string{
		"BASE_URL":        &c.BaseURL,
		"SHARD_PATTERN":   &c.ShardPattern,
		"SOURCE_DIR":      &c.SourceDir,
		"ON_SHARD_ERROR":  &c.OnShardError,
		"INVALID_RECORDS": &c.InvalidRecords,
		"LABEL_POLICY":    &c.LabelPolicy,
		"LOG_LEVEL":       &c.LogLevel,
		"DB_DRIVER":       &c.DBDriver,
		"DB_DSN":          &c.DBDSN,
		"ADDRESS":         &c.Address,
		"OUTPUT":          &c.Output,
	}
	for key, field := range texts {
		if value := getenv(EnvPrefix + key); value != "" {
			*field = value
		}
	}

	ints := map[string]*int{
		"SHARDS":  &c.Shards,
		"RETRIES": &c.Retries,
	}
	for key, field := range ints {
		value := getenv(EnvPrefix + key)
		if value == "" {
			continue
		}
		n, err := strconv.Atoi(value)
		if err != nil {
			return invalid(fmt.Errorf("%s%s: %q is not an integer", EnvPrefix, key, value), "config_value_invalid")
		}
		*field = n
	}

	if value := getenv(EnvPrefix + "TIMEOUT"); value != "" {
		timeout, err := time.ParseDuration(value)
		if err != nil {
			return invalid(fmt.Errorf("%sTIMEOUT: %q is not a duration", EnvPrefix, value), "config_value_invalid")
		}
		c.Timeout = timeout
	}
	return nil
}

// RegisterFlags binds flags to the fields, using the current values as
// defaults so flags win over the environment.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.BaseURL, "base-url", c.BaseURL, "base URL of the shard files")
	fs.StringVar(&c.ShardPattern, "shard-pattern", c.ShardPattern, "shard file name, a fmt verb taking the shard index")
	fs.IntVar(&c.Shards, "shards", c.Shards, "number of shards to process")
	fs.StringVar(&c.SourceDir, "source-dir", c.SourceDir, "read shards from this directory instead of BASE_URL")
	fs.DurationVar(&c.Timeout, "timeout", c.Timeout, "per request timeout")
	fs.IntVar(&c.Retries, "retries", c.Retries, "extra attempts after a retryable fetch failure")
	fs.StringVar(&c.OnShardError, "on-shard-error", c.OnShardError, "abort or skip")
	fs.StringVar(&c.InvalidRecords, "invalid-records", c.InvalidRecords, "fail or skip")
	fs.StringVar(&c.LabelPolicy, "label-policy", c.LabelPolicy, "first or strict")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "DEBUG, INFO, WARN, ERROR or NONE")
	fs.StringVar(&c.DBDriver, "db-driver", c.DBDriver, "sqlite, postgres or none")
	fs.StringVar(&c.DBDSN, "db-dsn", c.DBDSN, "database file (sqlite) or connection string (postgres)")
	fs.StringVar(&c.Address, "address", c.Address, "report server listen address")
	fs.StringVar(&c.Output, "output", c.Output, "report file name, strftime directives allowed; empty writes to stdout")
}

func (c *Config) Validate() error {
	if c.Shards <= 0 {
		return invalid(fmt.Errorf("shard count must be positive, got %d", c.Shards), "shard_count_invalid")
	}
	if c.Retries < 0 {
		return invalid(fmt.Errorf("retries must not be negative, got %d", c.Retries), "config_value_invalid")
	}
	if c.Timeout <= 0 {
		return invalid(fmt.Errorf("timeout must be positive, got %s", c.Timeout), "config_value_invalid")
	}
	if _, err := pipeline.ParseFailurePolicy(c.OnShardError); err != nil {
		return invalid(err, "failure_policy_invalid")
	}
	if _, err := pipeline.ParseRecordPolicy(c.InvalidRecords); err != nil {
		return invalid(err, "record_policy_invalid")
	}
	if _, err := sessionize.ParseLabelPolicy(c.LabelPolicy); err != nil {
		return invalid(err, "label_policy_invalid")
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return invalid(err, "log_level_invalid")
	}
	switch c.DBDriver {
	case database.DriverSQLite, database.DriverPostgres:
		if c.DBDSN == "" {
			return invalid(fmt.Errorf("database %s needs a dsn", c.DBDriver), "db_dsn_missing")
		}
	case DriverNone:
	default:
		return invalid(fmt.Errorf("unknown database driver: %q", c.DBDriver), "db_driver_invalid")
	}
	return nil
}

// Archived reports whether runs are stored.
func (c *Config) Archived() bool {
	return c.DBDriver != DriverNone
}

func invalid(err error, code string) error {
	return coreerrors.Wrap(err, coreerrors.CategoryInvalidInput, code, "check "+EnvPrefix+"* variables and flags", false)
}
