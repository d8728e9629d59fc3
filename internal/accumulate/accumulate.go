// Package accumulate merges sessionized batches over one ingestion run.
package accumulate

import (
	"fmt"

	coreerrors "github.com/vincentbai/browsetrace-sessions/internal/errors"
	"github.com/vincentbai/browsetrace-sessions/internal/models"
)

// State is the run-wide session set. NextSessionID always equals
// len(Sessions) for a State built only through Accumulate.
//
// A State is owned by one run loop; Accumulate may reuse the backing array
// of Sessions, so callers keep only the returned value.
type State struct {
	NextSessionID int64
	Sessions      []models.Session
}

// Accumulate appends a batch whose ids must be exactly
// NextSessionID, NextSessionID+1, ... in order. On error the returned
// State is the input unchanged.
func Accumulate(state State, batch []models.Session) (State, error) {
	for i, session := range batch {
		want := state.NextSessionID + int64(i)
		if session.ID != want {
			return state, coreerrors.Wrap(
				fmt.Errorf("session %d of batch has id %d, want %d", i, session.ID, want),
				coreerrors.CategoryInternalFailure, "session_ids_not_contiguous",
				"sessionize the batch with the accumulator's NextSessionID as offset", false)
		}
	}
	if len(batch) == 0 {
		return state, nil
	}

	return State{
		NextSessionID: state.NextSessionID + int64(len(batch)),
		Sessions:      append(state.Sessions, batch...),
	}, nil
}

// Len is the number of accumulated sessions.
func (s State) Len() int {
	return len(s.Sessions)
}
