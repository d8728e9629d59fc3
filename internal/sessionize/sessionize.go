// Package sessionize splits per-user events into gap-delimited sessions.
package sessionize

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	coreerrors "github.com/vincentbai/browsetrace-sessions/internal/errors"
	"github.com/vincentbai/browsetrace-sessions/internal/models"
)

// DefaultGap is the longest inactivity that keeps two events in one session.
const DefaultGap = 30 * time.Minute

// LabelPolicy decides what happens when events of one session disagree on
// their segment labels.
type LabelPolicy string

const (
	// LabelFirst keeps the labels of the session's first event and counts
	// the disagreeing events in Stats.LabelConflicts.
	LabelFirst LabelPolicy = "first"
	// LabelStrict fails the batch on the first disagreeing event.
	LabelStrict LabelPolicy = "strict"
)

// ParseLabelPolicy accepts "first" or "strict".
func ParseLabelPolicy(name string) (LabelPolicy, error) {
	switch LabelPolicy(name) {
	case LabelFirst, LabelStrict:
		return LabelPolicy(name), nil
	}
	return "", fmt.Errorf("unknown label policy: %q", name)
}

type Options struct {
	Gap         time.Duration
	LabelPolicy LabelPolicy
}

// Stats summarizes one Sessionize call.
type Stats struct {
	Events         int
	Sessions       int
	LabelConflicts int
}

type Sessionizer struct {
	gapMS       int64
	labelPolicy LabelPolicy
}

// New builds a Sessionizer. Zero option fields take their defaults.
func New(opts Options) (*Sessionizer, error) {
	gap := opts.Gap
	if gap == 0 {
		gap = DefaultGap
	}
	if gap < 0 {
		return nil, coreerrors.Wrap(fmt.Errorf("session gap must be positive, got %s", gap),
			coreerrors.CategoryInvalidInput, "session_gap_invalid", "", false)
	}
	policy := opts.LabelPolicy
	if policy == "" {
		policy = LabelFirst
	}
	if _, err := ParseLabelPolicy(string(policy)); err != nil {
		return nil, coreerrors.Wrap(err, coreerrors.CategoryInvalidInput, "label_policy_invalid",
			"use \"first\" or \"strict\"", false)
	}
	return &Sessionizer{gapMS: gap.Milliseconds(), labelPolicy: policy}, nil
}

// Sessionize groups events into sessions whose ids start at offset.
func (s *Sessionizer) Sessionize(events []models.Event, offset int64) ([]models.Session, error) {
	sessions, _, err := s.SessionizeWithStats(events, offset)
	return sessions, err
}

// SessionizeWithStats is Sessionize plus counters for logging.
//
// The input slice is not modified. Session ids are offset, offset+1, ...
// in (user, timestamp) order; the first event of the batch always opens a
// new session, even if the same user was active at the end of the batch
// before.
func (s *Sessionizer) SessionizeWithStats(events []models.Event, offset int64) ([]models.Session, Stats, error) {
	if offset < 0 {
		return nil, Stats{}, coreerrors.Wrap(fmt.Errorf("session id offset must not be negative, got %d", offset),
			coreerrors.CategoryInvalidInput, "session_offset_invalid", "", false)
	}
	for i, event := range events {
		if err := ValidateEvent(event); err != nil {
			return nil, Stats{}, coreerrors.Wrap(fmt.Errorf("event %d: %w", i, err),
				coreerrors.CategoryDataFormat, "event_invalid",
				"drop malformed records before sessionizing or fix the source data", false)
		}
	}

	stats := Stats{Events: len(events)}
	if len(events) == 0 {
		return nil, stats, nil
	}

	sorted := slices.Clone(events)
	slices.SortStableFunc(sorted, compareEvents)

	sessions := make([]models.Session, 0, len(sorted)/4+1)
	nextID := offset
	for i, event := range sorted {
		if i == 0 || IsBoundary(sorted[i-1], event, s.gapMS) {
			sessions = append(sessions, openSession(nextID, event))
			nextID++
			continue
		}

		current := &sessions[len(sessions)-1]
		current.Events++
		if event.TimestampMS > current.EndTS {
			current.EndTS = event.TimestampMS
		}
		if event.Labels() != sessionLabels(*current) {
			if s.labelPolicy == LabelStrict {
				return nil, Stats{}, coreerrors.Wrap(
					fmt.Errorf("session %d of user %q: segment labels %v differ from %v",
						current.ID, event.UserID, event.Labels(), sessionLabels(*current)),
					coreerrors.CategoryDataFormat, "session_labels_conflict",
					"rerun with the \"first\" label policy to keep the first event's labels", false)
			}
			stats.LabelConflicts++
		}
	}

	for i := range sessions {
		sessions[i].DurationSeconds = float64(sessions[i].EndTS-sessions[i].StartTS) / 1000.0
	}
	stats.Sessions = len(sessions)
	return sessions, stats, nil
}

// IsBoundary reports whether cur starts a new session given the event
// immediately before it in sorted order.
func IsBoundary(prev, cur models.Event, gapMS int64) bool {
	if cur.UserID != prev.UserID {
		return true
	}
	return cur.TimestampMS-prev.TimestampMS > gapMS
}

// ValidateEvent checks the fields sessionization depends on.
func ValidateEvent(event models.Event) error {
	if event.UserID == "" {
		return fmt.Errorf("user id cannot be empty")
	}
	if event.TimestampMS < 0 {
		return fmt.Errorf("timestamp must not be negative, got %d", event.TimestampMS)
	}
	return nil
}

func compareEvents(a, b models.Event) int {
	if c := cmp.Compare(a.UserID, b.UserID); c != 0 {
		return c
	}
	return cmp.Compare(a.TimestampMS, b.TimestampMS)
}

func openSession(id int64, event models.Event) models.Session {
	return models.Session{
		ID:            id,
		UserID:        event.UserID,
		BrowserFamily: event.BrowserFamily,
		OSFamily:      event.OSFamily,
		DeviceFamily:  event.DeviceFamily,
		StartTS:       event.TimestampMS,
		EndTS:         event.TimestampMS,
		Events:        1,
	}
}

func sessionLabels(s models.Session) [3]string {
	return [3]string{s.BrowserFamily, s.OSFamily, s.DeviceFamily}
}
