package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapRoundTrip(t *testing.T) {
	base := stderrors.New("connection reset")
	err := Wrap(base, CategoryDataFetch, "shard_get_failed", "check network access to the shard host", true)
	require.Error(t, err)

	assert.Equal(t, CategoryDataFetch, CategoryOf(err))
	assert.Equal(t, "shard_get_failed", CodeOf(err))
	assert.Equal(t, "check network access to the shard host", HintOf(err))
	assert.True(t, RetryableOf(err))
	assert.True(t, stderrors.Is(err, base))
	assert.Equal(t, "connection reset", err.Error())
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, CategoryDataFormat, "x", "", false))
}

func TestClassificationSurvivesFmtWrap(t *testing.T) {
	inner := Wrap(stderrors.New("bad gzip header"), CategoryDataFormat, "shard_gzip_invalid", "", false)
	outer := fmt.Errorf("shard 3: %w", inner)

	assert.True(t, Is(outer, CategoryDataFormat))
	assert.False(t, Is(outer, CategoryDataFetch))
	assert.Equal(t, "shard_gzip_invalid", CodeOf(outer))
	assert.False(t, RetryableOf(outer))
}

func TestUnclassified(t *testing.T) {
	err := stderrors.New("plain")

	assert.Equal(t, Category(""), CategoryOf(err))
	assert.Empty(t, CodeOf(err))
	assert.Empty(t, HintOf(err))
	assert.False(t, RetryableOf(err))
}

func TestEmptyCauseMessage(t *testing.T) {
	err := &classifiedError{category: CategoryInternalFailure}
	assert.Equal(t, "unknown error", err.Error())
}
