package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/mattn/go-isatty"

	"github.com/vincentbai/browsetrace-sessions/internal/config"
	"github.com/vincentbai/browsetrace-sessions/internal/database"
	coreerrors "github.com/vincentbai/browsetrace-sessions/internal/errors"
	"github.com/vincentbai/browsetrace-sessions/internal/logging"
	"github.com/vincentbai/browsetrace-sessions/internal/pipeline"
	"github.com/vincentbai/browsetrace-sessions/internal/report"
	"github.com/vincentbai/browsetrace-sessions/internal/server"
	"github.com/vincentbai/browsetrace-sessions/internal/sessionize"
	"github.com/vincentbai/browsetrace-sessions/internal/source"
)

const (
	exitOK      = 0
	exitFatal   = 1
	exitPartial = 3 // report written but some shards are missing from it
)

const usage = `usage: browsetrace-sessions <command> [flags]

commands:
  run     fetch every shard, print the median session report and archive it
  serve   serve archived runs over HTTP
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := realMain(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func realMain(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return exitFatal
	}
	switch args[0] {
	case "run":
		return runCommand(ctx, args[1:], stdout, stderr)
	case "serve":
		return serveCommand(ctx, args[1:], stderr)
	case "help", "-h", "-help", "--help":
		fmt.Fprint(stdout, usage)
		return exitOK
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", args[0], usage)
		return exitFatal
	}
}

// setup resolves the configuration for a subcommand and builds its logger.
// extra registers subcommand specific flags.
func setup(name string, args []string, stderr io.Writer, extra func(*flag.FlagSet)) (*config.Config, logging.Logger, error) {
	output := log.New(stderr, "", log.LstdFlags)
	cfg, err := config.Load(logging.NewPrintLoggerTo(output, logging.LevelWarn))
	if err != nil {
		return nil, nil, err
	}

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	cfg.RegisterFlags(fs)
	if extra != nil {
		extra(fs)
	}
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	level, _ := logging.ParseLevel(cfg.LogLevel)
	return cfg, logging.NewPrintLoggerTo(output, level), nil
}

func runCommand(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	var pretty bool
	cfg, logger, err := setup("run", args, stderr, func(fs *flag.FlagSet) {
		fs.BoolVar(&pretty, "pretty", false, "indent the report")
	})
	if err != nil {
		return setupFailed(stderr, err)
	}

	src, err := buildSource(cfg)
	if err != nil {
		return fatal(logger, err)
	}
	sessionizer, err := sessionize.New(sessionize.Options{LabelPolicy: sessionize.LabelPolicy(cfg.LabelPolicy)})
	if err != nil {
		return fatal(logger, err)
	}
	runner, err := pipeline.NewRunner(src, sessionizer, pipeline.Options{
		Shards:         cfg.Shards,
		OnShardError:   pipeline.FailurePolicy(cfg.OnShardError),
		InvalidRecords: pipeline.RecordPolicy(cfg.InvalidRecords),
		Logger:         logger,
	})
	if err != nil {
		return fatal(logger, err)
	}

	// Open the archive before the run so a bad DSN fails fast.
	var db *database.Database
	if cfg.Archived() {
		if db, err = openArchive(cfg); err != nil {
			return fatal(logger, err)
		}
		defer db.Close()
	}

	result, err := runner.Run(ctx)
	if err != nil {
		return fatal(logger, err)
	}

	if cfg.Output == "" {
		if f, ok := stdout.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
			pretty = true
		}
		err = report.Write(stdout, result.Report, pretty)
	} else {
		var path string
		path, err = report.WriteFile(cfg.Output, result.FinishedAt, result.Report, pretty)
		if err == nil {
			logger.Info("Report written to %s", path)
		}
	}
	if err != nil {
		return fatal(logger, err)
	}

	if db != nil {
		if err := db.SaveRun(result.Record()); err != nil {
			return fatal(logger, coreerrors.Wrap(err, coreerrors.CategoryIOFailure, "run_archive_failed",
				"the report was emitted; rerun with -db-driver none to skip archiving", false))
		}
		logger.Info("Run %s archived (digest %s)", result.RunID, result.Digest)
	}

	if result.Coverage.Partial() {
		return exitPartial
	}
	return exitOK
}

func serveCommand(ctx context.Context, args []string, stderr io.Writer) int {
	cfg, logger, err := setup("serve", args, stderr, nil)
	if err != nil {
		return setupFailed(stderr, err)
	}
	if !cfg.Archived() {
		return fatal(logger, coreerrors.Wrap(errors.New("serve needs a run archive"),
			coreerrors.CategoryInvalidInput, "db_driver_invalid", "set -db-driver to sqlite or postgres", false))
	}

	db, err := openArchive(cfg)
	if err != nil {
		return fatal(logger, err)
	}
	defer db.Close()

	srv := server.NewServer(db, cfg.Address, logger)
	if err := srv.Start(ctx); err != nil {
		return fatal(logger, coreerrors.Wrap(err, coreerrors.CategoryIOFailure, "server_failed", "", false))
	}
	return exitOK
}

func buildSource(cfg *config.Config) (source.Source, error) {
	decoder, err := source.NewDecoder()
	if err != nil {
		return nil, err
	}
	if cfg.SourceDir != "" {
		return source.NewFileSource(cfg.SourceDir, cfg.ShardPattern, decoder)
	}
	return source.NewHTTPSource(source.HTTPOptions{
		BaseURL: cfg.BaseURL,
		Pattern: cfg.ShardPattern,
		Timeout: cfg.Timeout,
		Retries: cfg.Retries,
		Decoder: decoder,
	})
}

func openArchive(cfg *config.Config) (*database.Database, error) {
	if cfg.DBDriver == database.DriverSQLite {
		// app data dir may not exist on first run
		if err := os.MkdirAll(filepath.Dir(cfg.DBDSN), 0o755); err != nil {
			return nil, coreerrors.Wrap(fmt.Errorf("create database directory: %w", err),
				coreerrors.CategoryIOFailure, "db_open_failed", "", false)
		}
	}
	db, err := database.NewDatabase(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return nil, coreerrors.Wrap(err, coreerrors.CategoryIOFailure, "db_open_failed",
			"check -db-driver and -db-dsn", false)
	}
	return db, nil
}

func setupFailed(stderr io.Writer, err error) int {
	if errors.Is(err, flag.ErrHelp) {
		return exitOK
	}
	fmt.Fprintf(stderr, "error: %v\n", err)
	if hint := coreerrors.HintOf(err); hint != "" {
		fmt.Fprintf(stderr, "hint: %s\n", hint)
	}
	return exitFatal
}

func fatal(logger logging.Logger, err error) int {
	category := coreerrors.CategoryOf(err)
	if category == "" {
		category = coreerrors.CategoryInternalFailure
	}
	logger.Error("%s: %v", category, err)
	if hint := coreerrors.HintOf(err); hint != "" {
		logger.Error("hint: %s", hint)
	}
	return exitFatal
}
