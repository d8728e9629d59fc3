package source

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/edsrzf/mmap-go"

	coreerrors "github.com/vincentbai/browsetrace-sessions/internal/errors"
	"github.com/vincentbai/browsetrace-sessions/internal/models"
)

// FileSource reads shards from a local directory, typically a mirror of
// the remote bucket.
type FileSource struct {
	dir     string
	pattern string
	decoder *Decoder
}

// Ensure FileSource implements Source
var _ Source = (*FileSource)(nil)

func NewFileSource(dir, pattern string, decoder *Decoder) (*FileSource, error) {
	if dir == "" {
		return nil, coreerrors.Wrap(errors.New("source directory cannot be empty"),
			coreerrors.CategoryInvalidInput, "source_dir_invalid", "", false)
	}
	if pattern == "" {
		pattern = DefaultPattern
	}
	if decoder == nil {
		var err error
		if decoder, err = NewDecoder(); err != nil {
			return nil, err
		}
	}
	return &FileSource{dir: dir, pattern: pattern, decoder: decoder}, nil
}

// Path returns the file holding shard.
func (s *FileSource) Path(shard int) string {
	return filepath.Join(s.dir, ShardName(s.pattern, shard))
}

func (s *FileSource) Fetch(ctx context.Context, shard int) (*models.Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, coreerrors.Wrap(fmt.Errorf("shard %d: %w", shard, err),
			coreerrors.CategoryDataFetch, "shard_fetch_canceled", "", false)
	}
	path := s.Path(shard)

	f, err := os.Open(path)
	if err != nil {
		code := "shard_open_failed"
		if errors.Is(err, fs.ErrNotExist) {
			code = "shard_not_found"
		}
		return nil, coreerrors.Wrap(fmt.Errorf("shard %d: %w", shard, err),
			coreerrors.CategoryDataFetch, code, "check the source directory and shard pattern", false)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, coreerrors.Wrap(fmt.Errorf("shard %d: stat %s: %w", shard, path, err),
			coreerrors.CategoryDataFetch, "shard_open_failed", "", false)
	}
	batch := &models.Batch{Shard: shard, Location: path, Bytes: info.Size()}
	// zero-length files cannot be mapped
	if info.Size() == 0 {
		return batch, nil
	}

	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, coreerrors.Wrap(fmt.Errorf("shard %d: map %s: %w", shard, path, err),
			coreerrors.CategoryIOFailure, "shard_map_failed", "", false)
	}
	defer data.Unmap()

	events, issues, err := s.decoder.DecodePayload(data)
	if err != nil {
		return nil, fmt.Errorf("shard %d (%s): %w", shard, path, err)
	}
	batch.Events = events
	batch.Invalid = issues
	return batch, nil
}
