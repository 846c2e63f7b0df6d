package watch

import (
	"fmt"
	"time"

	"videoattend/internal/interval"
)

// Session states. A session moves forward only; Recorded is sticky for its
// (student, material, date) key and Closed sessions still accept reports the
// next calendar day via a fresh key.
const (
	StateNotStarted   = "not_started"
	StateWatching     = "watching"
	StateThresholdMet = "threshold_met"
	StateRecorded     = "recorded"
	StateClosed       = "closed"
)

// Session is the per-(student, material, date) tracking unit: the merged
// watched spans plus trigger state, persisted with a version counter for
// optimistic concurrency.
type Session struct {
	StudentID    string
	MaterialID   string
	Date         string // YYYY-MM-DD
	Spans        interval.Set
	State        string
	LastActivity time.Time
	Version      int64
}

// Key returns the composite key used for locking and idempotency.
func (s *Session) Key() string {
	return SessionKey(s.StudentID, s.MaterialID, s.Date)
}

// SessionKey builds the composite (student, material, date) key.
func SessionKey(studentID, materialID, date string) string {
	return fmt.Sprintf("%s:%s:%s", studentID, materialID, date)
}
