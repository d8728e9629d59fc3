package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreerrors "github.com/vincentbai/browsetrace-sessions/internal/errors"
)

func TestFileSourceFetch(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "part-00000.json.gz"), gzipLines(t, validLine, validLine), 0o644))

	src, err := NewFileSource(dir, "", nil)
	require.NoError(t, err)

	batch, err := src.Fetch(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, batch.Events, 2)
	assert.Equal(t, filepath.Join(dir, "part-00000.json.gz"), batch.Location)
}

func TestFileSourcePlainJSONLines(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "shard-2.jsonl"), []byte(validLine+"\n{}\n"), 0o644))

	src, err := NewFileSource(dir, "shard-%d.jsonl", nil)
	require.NoError(t, err)

	batch, err := src.Fetch(context.Background(), 2)
	require.NoError(t, err)
	assert.Len(t, batch.Events, 1)
	require.Len(t, batch.Invalid, 1)
	assert.Equal(t, 2, batch.Invalid[0].Line)
}

func TestFileSourceEmptyFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "part-00001.json.gz"), nil, 0o644))

	src, err := NewFileSource(dir, "", nil)
	require.NoError(t, err)

	batch, err := src.Fetch(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, batch.Events)
	assert.Equal(t, int64(0), batch.Bytes)
}

func TestFileSourceMissingFile(t *testing.T) {
	src, err := NewFileSource(t.TempDir(), "", nil)
	require.NoError(t, err)

	_, err = src.Fetch(context.Background(), 9)
	require.Error(t, err)
	assert.True(t, coreerrors.Is(err, coreerrors.CategoryDataFetch))
	assert.Equal(t, "shard_not_found", coreerrors.CodeOf(err))
}

func TestFileSourceCanceled(t *testing.T) {
	src, err := NewFileSource(t.TempDir(), "", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.Fetch(ctx, 0)
	assert.Equal(t, "shard_fetch_canceled", coreerrors.CodeOf(err))
}

func TestNewFileSourceRequiresDir(t *testing.T) {
	_, err := NewFileSource("", "", nil)
	assert.True(t, coreerrors.Is(err, coreerrors.CategoryInvalidInput))
}
