// Package source retrieves event shards and decodes them into events.
package source

import (
	"context"
	"fmt"

	"github.com/vincentbai/browsetrace-sessions/internal/models"
)

const (
	DefaultBaseURL = "https://d3l36jjwr70u5l.cloudfront.net/data-engineer-test/"
	DefaultPattern = "part-%05d.json.gz"
)

// Source yields the events of one shard. Implementations block until the
// shard is fully read or ctx is done.
type Source interface {
	Fetch(ctx context.Context, shard int) (*models.Batch, error)
}

// ShardName expands pattern (a fmt verb taking the shard index) for shard.
func ShardName(pattern string, shard int) string {
	return fmt.Sprintf(pattern, shard)
}
