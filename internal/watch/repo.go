package watch

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"videoattend/internal/interval"
)

// ErrVersionConflict means the session row changed under us; reload and retry.
var ErrVersionConflict = errors.New("session version conflict")

// SessionStore persists watch sessions keyed by (student, material, date).
type SessionStore interface {
	// Get returns the session, nil when none exists yet.
	Get(ctx context.Context, studentID, materialID, date string) (*Session, error)
	// Create inserts a fresh session at version 1.
	Create(ctx context.Context, s *Session) error
	// Update writes the session back, bumping the version; fails with
	// ErrVersionConflict when the stored version moved.
	Update(ctx context.Context, s *Session) error
	// ListIdle returns open sessions with no activity since the cutoff.
	ListIdle(ctx context.Context, cutoff time.Time, limit int) ([]Session, error)
}

// Repository is the Postgres SessionStore.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Get loads one session row.
func (r *Repository) Get(ctx context.Context, studentID, materialID, date string) (*Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT student_id, material_id, watch_date, spans, state, last_activity, version
		FROM watch_sessions
		WHERE student_id = $1 AND material_id = $2 AND watch_date = $3
	`, studentID, materialID, date)
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

// Create inserts a session at version 1. A unique-key conflict surfaces as
// ErrVersionConflict so the caller re-reads the concurrent writer's row.
func (r *Repository) Create(ctx context.Context, s *Session) error {
	spans, err := json.Marshal(s.Spans)
	if err != nil {
		return err
	}
	s.Version = 1
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO watch_sessions (student_id, material_id, watch_date, spans, state, last_activity, version)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (student_id, material_id, watch_date) DO NOTHING
	`, s.StudentID, s.MaterialID, s.Date, spans, s.State, s.LastActivity, s.Version)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrVersionConflict
	}
	return nil
}

// Update compare-and-swaps the row on its version counter.
func (r *Repository) Update(ctx context.Context, s *Session) error {
	spans, err := json.Marshal(s.Spans)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE watch_sessions
		SET spans = $4, state = $5, last_activity = $6, version = version + 1
		WHERE student_id = $1 AND material_id = $2 AND watch_date = $3 AND version = $7
	`, s.StudentID, s.MaterialID, s.Date, spans, s.State, s.LastActivity, s.Version)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s@v%d", ErrVersionConflict, s.Key(), s.Version)
	}
	s.Version++
	return nil
}

// ListIdle returns open sessions whose last activity predates the cutoff.
func (r *Repository) ListIdle(ctx context.Context, cutoff time.Time, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT student_id, material_id, watch_date, spans, state, last_activity, version
		FROM watch_sessions
		WHERE state NOT IN ($1, $2) AND last_activity < $3
		ORDER BY last_activity
		LIMIT $4
	`, StateClosed, StateRecorded, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *s)
	}
	return res, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var s Session
	var date time.Time
	var spans []byte
	if err := row.Scan(&s.StudentID, &s.MaterialID, &date, &spans, &s.State, &s.LastActivity, &s.Version); err != nil {
		return nil, err
	}
	s.Date = date.Format("2006-01-02")
	if len(spans) > 0 {
		var set interval.Set
		if err := json.Unmarshal(spans, &set); err != nil {
			return nil, fmt.Errorf("corrupt spans for %s: %w", s.Key(), err)
		}
		s.Spans = set
	}
	return &s, nil
}
