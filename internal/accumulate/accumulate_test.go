package accumulate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreerrors "github.com/vincentbai/browsetrace-sessions/internal/errors"
	"github.com/vincentbai/browsetrace-sessions/internal/models"
)

func sessionsFrom(start int64, n int) []models.Session {
	sessions := make([]models.Session, n)
	for i := range sessions {
		sessions[i] = models.Session{ID: start + int64(i), BrowserFamily: "Chrome"}
	}
	return sessions
}

func TestAccumulateAdvancesOffset(t *testing.T) {
	state, err := Accumulate(State{}, sessionsFrom(0, 3))
	require.NoError(t, err)
	assert.Equal(t, int64(3), state.NextSessionID)
	assert.Equal(t, 3, state.Len())

	state, err = Accumulate(state, sessionsFrom(3, 2))
	require.NoError(t, err)
	assert.Equal(t, int64(5), state.NextSessionID)
	assert.Equal(t, int64(state.Len()), state.NextSessionID)
	assert.Equal(t, int64(3), state.Sessions[3].ID)
}

func TestAccumulateEmptyBatch(t *testing.T) {
	state, err := Accumulate(State{NextSessionID: 2, Sessions: sessionsFrom(0, 2)}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), state.NextSessionID)
	assert.Equal(t, 2, state.Len())
}

func TestAccumulateIDRanges(t *testing.T) {
	sizes := []int{4, 0, 1, 7, 2}

	state := State{}
	var total int64
	for _, k := range sizes {
		before := state.NextSessionID
		assert.Equal(t, total, before)

		var err error
		state, err = Accumulate(state, sessionsFrom(before, k))
		require.NoError(t, err)

		total += int64(k)
		assert.Equal(t, total, state.NextSessionID)
	}

	for i, session := range state.Sessions {
		assert.Equal(t, int64(i), session.ID)
	}
}

func TestAccumulateRejectsGaps(t *testing.T) {
	start, err := Accumulate(State{}, sessionsFrom(0, 3))
	require.NoError(t, err)

	tests := []struct {
		name  string
		batch []models.Session
	}{
		{"restarts at zero", sessionsFrom(0, 2)},
		{"skips an id", sessionsFrom(4, 2)},
		{"out of order", []models.Session{{ID: 4}, {ID: 3}}},
		{"duplicate", []models.Session{{ID: 3}, {ID: 3}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state, err := Accumulate(start, tt.batch)
			require.Error(t, err)
			assert.Equal(t, "session_ids_not_contiguous", coreerrors.CodeOf(err))
			assert.Equal(t, start, state)
		})
	}
}
