package database

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vincentbai/browsetrace-sessions/internal/models"
)

func setupTestDB(t *testing.T) (*Database, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "browsetrace-sessions-test-*")
	require.NoError(t, err)

	db, err := NewDatabase(DriverSQLite, filepath.Join(tmpDir, "test.db"))
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("Failed to create test database: %v", err)
	}

	cleanup := func() {
		db.Close()
		os.RemoveAll(tmpDir)
	}
	return db, cleanup
}

func testRun(id string, started time.Time) models.RunRecord {
	return models.RunRecord{
		ID:             id,
		StartedAt:      started,
		FinishedAt:     started.Add(1500 * time.Millisecond),
		ShardsTotal:    3,
		ShardsOK:       3,
		ShardsEmpty:    1,
		InvalidRecords: 2,
		Events:         120,
		Sessions:       17,
		Digest:         "abc123",
		Report:         []byte(`{"browser_family":{"Chrome":15}}`),
	}
}

func TestNewDatabase(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	require.NotNil(t, db)
	require.NotNil(t, db.db)
	assert.Equal(t, DriverSQLite, db.driver)
}

func TestNewDatabaseUnsupportedDriver(t *testing.T) {
	_, err := NewDatabase("mysql", "whatever")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")
}

func TestNewDatabaseReopen(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "runs.db")

	db, err := NewDatabase(DriverSQLite, path)
	require.NoError(t, err)
	require.NoError(t, db.SaveRun(testRun("run-1", time.UnixMilli(1_700_000_000_000).UTC())))
	require.NoError(t, db.Close())

	db, err = NewDatabase(DriverSQLite, path)
	require.NoError(t, err)
	defer db.Close()

	run, err := db.GetRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", run.ID)
}

func TestValidateRun(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	started := time.UnixMilli(1_700_000_000_000).UTC()
	tests := []struct {
		name      string
		mutate    func(*models.RunRecord)
		wantError bool
	}{
		{name: "valid run", mutate: func(*models.RunRecord) {}},
		{name: "empty id", mutate: func(r *models.RunRecord) { r.ID = "" }, wantError: true},
		{name: "finished before started", mutate: func(r *models.RunRecord) { r.FinishedAt = started.Add(-time.Second) }, wantError: true},
		{name: "empty report", mutate: func(r *models.RunRecord) { r.Report = nil }, wantError: true},
		{name: "shard counts do not add up", mutate: func(r *models.RunRecord) { r.ShardsOK = 2 }, wantError: true},
		{
			name: "failed shards make up the difference",
			mutate: func(r *models.RunRecord) {
				r.ShardsOK = 2
				r.Partial = true
				r.Failures = []models.ShardFailure{{Shard: 1, Category: "data_fetch", Message: "boom"}}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run := testRun("run-1", started)
			tt.mutate(&run)
			err := db.ValidateRun(run)
			if tt.wantError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSaveAndGetRun(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	run := testRun("run-1", time.UnixMilli(1_700_000_000_123).UTC())
	run.ShardsOK = 1
	run.Partial = true
	run.Failures = []models.ShardFailure{
		{Shard: 2, Category: "data_format", Code: "shard_gzip_invalid", Message: "not gzip"},
		{Shard: 0, Category: "data_fetch", Code: "shard_http_status", Message: "503"},
	}
	require.NoError(t, db.SaveRun(run))

	got, err := db.GetRun("run-1")
	require.NoError(t, err)

	assert.Equal(t, run.ID, got.ID)
	assert.True(t, run.StartedAt.Equal(got.StartedAt))
	assert.True(t, run.FinishedAt.Equal(got.FinishedAt))
	assert.Equal(t, 3, got.ShardsTotal)
	assert.Equal(t, 1, got.ShardsOK)
	assert.Equal(t, 1, got.ShardsEmpty)
	assert.Equal(t, 2, got.InvalidRecords)
	assert.Equal(t, 120, got.Events)
	assert.Equal(t, 17, got.Sessions)
	assert.True(t, got.Partial)
	assert.Equal(t, "abc123", got.Digest)
	assert.JSONEq(t, string(run.Report), string(got.Report))

	// failures come back ordered by shard
	require.Len(t, got.Failures, 2)
	assert.Equal(t, 0, got.Failures[0].Shard)
	assert.Equal(t, "shard_http_status", got.Failures[0].Code)
	assert.Equal(t, 2, got.Failures[1].Shard)
	assert.Equal(t, "data_format", got.Failures[1].Category)
}

func TestGetRunNotFound(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	_, err := db.GetRun("missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestSaveRunInvalidRun(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	run := testRun("", time.Now())
	require.Error(t, db.SaveRun(run))

	var count int
	require.NoError(t, db.db.QueryRow("SELECT COUNT(*) FROM runs").Scan(&count))
	assert.Equal(t, 0, count)
}

func TestSaveRunDuplicateRollsBack(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	started := time.UnixMilli(1_700_000_000_000).UTC()
	require.NoError(t, db.SaveRun(testRun("run-1", started)))

	duplicate := testRun("run-1", started)
	duplicate.ShardsOK = 2
	duplicate.Failures = []models.ShardFailure{{Shard: 1, Category: "data_fetch", Message: "boom"}}
	require.Error(t, db.SaveRun(duplicate))

	var count int
	require.NoError(t, db.db.QueryRow("SELECT COUNT(*) FROM shard_failures").Scan(&count))
	assert.Equal(t, 0, count)
}

func TestLatestRun(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	_, err := db.LatestRun()
	assert.ErrorIs(t, err, ErrRunNotFound)

	base := time.UnixMilli(1_700_000_000_000).UTC()
	require.NoError(t, db.SaveRun(testRun("older", base)))
	require.NoError(t, db.SaveRun(testRun("newer", base.Add(time.Hour))))
	require.NoError(t, db.SaveRun(testRun("middle", base.Add(time.Minute))))

	latest, err := db.LatestRun()
	require.NoError(t, err)
	assert.Equal(t, "newer", latest.ID)
	assert.NotEmpty(t, latest.Report)
}

func TestListRuns(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	runs, err := db.ListRuns(10)
	require.NoError(t, err)
	assert.Empty(t, runs)

	base := time.UnixMilli(1_700_000_000_000).UTC()
	for i, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, db.SaveRun(testRun(id, base.Add(time.Duration(i)*time.Minute))))
	}

	runs, err = db.ListRuns(3)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "d", runs[0].ID)
	assert.Equal(t, "c", runs[1].ID)
	assert.Equal(t, "b", runs[2].ID)
	for _, run := range runs {
		assert.Empty(t, run.Report, "list omits reports")
		assert.Empty(t, run.Failures)
	}

	runs, err = db.ListRuns(0)
	require.NoError(t, err)
	assert.Len(t, runs, 4)
}

func TestRebind(t *testing.T) {
	query := `SELECT id FROM runs WHERE id = ? AND started_at > ? LIMIT ?`

	sqlite := &Database{driver: DriverSQLite}
	assert.Equal(t, query, sqlite.rebind(query))

	postgres := &Database{driver: DriverPostgres}
	assert.Equal(t, `SELECT id FROM runs WHERE id = $1 AND started_at > $2 LIMIT $3`, postgres.rebind(query))
}

func TestDatabaseClose(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	assert.NoError(t, db.Close())
}
