package database

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"  // Postgres
	_ "modernc.org/sqlite" // CGO-free SQLite

	"github.com/vincentbai/browsetrace-sessions/internal/models"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// ErrRunNotFound is returned when no archived run matches.
var ErrRunNotFound = errors.New("run not found")

type Database struct {
	db     *sql.DB
	driver string
}

// NewDatabase opens the run archive. For SQLite dsn is a file path.
func NewDatabase(driver, dsn string) (*Database, error) {
	switch driver {
	case DriverSQLite:
		// WAL + busy timeout to avoid "database is locked" while the server reads
		dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported database driver: %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	d := &Database{db: db, driver: driver}
	if err := d.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

func (d *Database) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS runs(
		  id              TEXT    PRIMARY KEY,
		  started_at      BIGINT  NOT NULL,
		  finished_at     BIGINT  NOT NULL,
		  shards_total    INTEGER NOT NULL,
		  shards_ok       INTEGER NOT NULL,
		  shards_empty    INTEGER NOT NULL,
		  invalid_records INTEGER NOT NULL,
		  events          BIGINT  NOT NULL,
		  sessions        BIGINT  NOT NULL,
		  partial         BOOLEAN NOT NULL,
		  report_digest   TEXT    NOT NULL,
		  report_json     TEXT    NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS shard_failures(
		  run_id   TEXT    NOT NULL REFERENCES runs(id),
		  shard    INTEGER NOT NULL,
		  category TEXT    NOT NULL,
		  code     TEXT    NOT NULL,
		  message  TEXT    NOT NULL,
		  PRIMARY KEY (run_id, shard)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at)`,
	}
	for _, query := range queries {
		if _, err := d.db.Exec(query); err != nil {
			return fmt.Errorf("failed to create database tables: %w", err)
		}
	}
	return nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

// rebind rewrites ? placeholders to $n for Postgres.
func (d *Database) rebind(query string) string {
	if d.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d *Database) ValidateRun(run models.RunRecord) error {
	if run.ID == "" {
		return fmt.Errorf("run id cannot be empty")
	}
	if run.FinishedAt.Before(run.StartedAt) {
		return fmt.Errorf("run finished before it started")
	}
	if len(run.Report) == 0 {
		return fmt.Errorf("report cannot be empty")
	}
	if run.ShardsOK+len(run.Failures) != run.ShardsTotal {
		return fmt.Errorf("shard counts do not add up: %d ok + %d failed != %d total",
			run.ShardsOK, len(run.Failures), run.ShardsTotal)
	}
	return nil
}

// SaveRun stores a finished run and its shard failures in one transaction.
func (d *Database) SaveRun(run models.RunRecord) error {
	if err := d.ValidateRun(run); err != nil {
		return fmt.Errorf("invalid run: %w", err)
	}

	transaction, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	_, err = transaction.Exec(d.rebind(`INSERT INTO runs(id, started_at, finished_at, shards_total, shards_ok,
		shards_empty, invalid_records, events, sessions, partial, report_digest, report_json)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`),
		run.ID, run.StartedAt.UnixMilli(), run.FinishedAt.UnixMilli(), run.ShardsTotal, run.ShardsOK,
		run.ShardsEmpty, run.InvalidRecords, run.Events, run.Sessions, run.Partial, run.Digest, string(run.Report))
	if err != nil {
		_ = transaction.Rollback()
		return fmt.Errorf("failed to insert run: %w", err)
	}

	statement, err := transaction.Prepare(d.rebind(`INSERT INTO shard_failures(run_id, shard, category, code, message) VALUES(?,?,?,?,?)`))
	if err != nil {
		_ = transaction.Rollback()
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer statement.Close()

	for _, failure := range run.Failures {
		if _, err := statement.Exec(run.ID, failure.Shard, failure.Category, failure.Code, failure.Message); err != nil {
			_ = transaction.Rollback()
			return fmt.Errorf("failed to insert shard failure: %w", err)
		}
	}
	if err := transaction.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

const runColumns = `id, started_at, finished_at, shards_total, shards_ok, shards_empty,
	invalid_records, events, sessions, partial, report_digest`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner, extra ...any) (models.RunRecord, error) {
	var run models.RunRecord
	var startedAt, finishedAt int64
	dest := append([]any{&run.ID, &startedAt, &finishedAt, &run.ShardsTotal, &run.ShardsOK, &run.ShardsEmpty,
		&run.InvalidRecords, &run.Events, &run.Sessions, &run.Partial, &run.Digest}, extra...)
	if err := row.Scan(dest...); err != nil {
		return run, err
	}
	run.StartedAt = time.UnixMilli(startedAt).UTC()
	run.FinishedAt = time.UnixMilli(finishedAt).UTC()
	return run, nil
}

// GetRun loads one run with its report and failures.
func (d *Database) GetRun(id string) (models.RunRecord, error) {
	row := d.db.QueryRow(d.rebind(`SELECT `+runColumns+`, report_json FROM runs WHERE id = ?`), id)

	var reportJSON string
	run, err := scanRun(row, &reportJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return models.RunRecord{}, ErrRunNotFound
	}
	if err != nil {
		return models.RunRecord{}, fmt.Errorf("failed to query run: %w", err)
	}
	run.Report = []byte(reportJSON)

	rows, err := d.db.Query(d.rebind(`SELECT shard, category, code, message FROM shard_failures WHERE run_id = ? ORDER BY shard`), id)
	if err != nil {
		return run, fmt.Errorf("failed to query shard failures: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var failure models.ShardFailure
		if err := rows.Scan(&failure.Shard, &failure.Category, &failure.Code, &failure.Message); err != nil {
			return run, fmt.Errorf("failed to scan shard failure: %w", err)
		}
		run.Failures = append(run.Failures, failure)
	}
	if err := rows.Err(); err != nil {
		return run, fmt.Errorf("failed to read shard failures: %w", err)
	}
	return run, nil
}

// LatestRun returns the most recently started run.
func (d *Database) LatestRun() (models.RunRecord, error) {
	var id string
	err := d.db.QueryRow(`SELECT id FROM runs ORDER BY started_at DESC, id DESC LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.RunRecord{}, ErrRunNotFound
	}
	if err != nil {
		return models.RunRecord{}, fmt.Errorf("failed to query latest run: %w", err)
	}
	return d.GetRun(id)
}

// ListRuns returns run summaries, newest first, without reports.
func (d *Database) ListRuns(limit int) ([]models.RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.db.Query(d.rebind(`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	runs := []models.RunRecord{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read runs: %w", err)
	}
	return runs, nil
}
