package watch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"videoattend/internal/attendance"
	"videoattend/internal/interval"
	"videoattend/internal/lock"
	"videoattend/internal/material"
	"videoattend/internal/metrics"
	"videoattend/internal/notify"
	"videoattend/internal/queue"
)

// ErrStoreBusy is returned after bounded retries on a contended store. The
// client resends its next progress report, which re-evaluates safely.
var ErrStoreBusy = errors.New("store busy, retry")

// LedgerWriter is the slice of the attendance ledger the evaluator needs.
type LedgerWriter interface {
	RecordAuto(ctx context.Context, rec attendance.Record) (bool, error)
}

// Result is the outcome of one progress report.
type Result struct {
	CoverageRatio      float64 `json:"coverage_ratio"`
	CoverageSeconds    float64 `json:"coverage_seconds"`
	ThresholdMet       bool    `json:"threshold_met"`
	AttendanceRecorded bool    `json:"attendance_recorded"`
}

// Service owns the ingestion path: merge the reported span, recompute
// coverage, run the trigger state machine, and write the ledger exactly
// once per (student, material, date).
type Service struct {
	sessions  SessionStore
	ledger    LedgerWriter
	materials material.Source
	locker    lock.Locker
	events    queue.Queue

	idleTimeout time.Duration
	retries     int
	now         func() time.Time
}

// NewService wires the ingestion service. events may be nil to disable
// notifications.
func NewService(sessions SessionStore, ledger LedgerWriter, materials material.Source, locker lock.Locker, events queue.Queue, idleTimeout time.Duration, retries int) *Service {
	if idleTimeout <= 0 {
		idleTimeout = 5 * time.Minute
	}
	if retries <= 0 {
		retries = 3
	}
	return &Service{
		sessions:    sessions,
		ledger:      ledger,
		materials:   materials,
		locker:      locker,
		events:      events,
		idleTimeout: idleTimeout,
		retries:     retries,
		now:         time.Now,
	}
}

// Report applies one progress report. Safe to call more than once for the
// same logical input: re-reported ranges merge to nothing and the ledger
// write is keyed on (student, material, date).
func (s *Service) Report(ctx context.Context, studentID, materialID string, span interval.Span, observedAt time.Time) (Result, error) {
	cfg, err := s.materials.Get(ctx, materialID)
	if err != nil {
		return Result{}, err
	}
	if err := interval.Validate(span, cfg.DurationSeconds); err != nil {
		metrics.ValidationFailures.Inc()
		return Result{}, err
	}

	now := s.now().UTC()
	date := now.Format("2006-01-02")
	if !observedAt.IsZero() {
		if skew := now.Sub(observedAt.UTC()); skew > time.Hour || skew < -time.Hour {
			log.Printf("client clock skew %s for %s", skew, SessionKey(studentID, materialID, date))
		}
	}

	release, err := s.locker.Acquire(ctx, SessionKey(studentID, materialID, date))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrStoreBusy, err)
	}
	defer release()

	var res Result
	for attempt := 0; ; attempt++ {
		res, err = s.apply(ctx, cfg, studentID, date, span, now)
		if !errors.Is(err, ErrVersionConflict) {
			break
		}
		metrics.VersionConflicts.Inc()
		if attempt+1 >= s.retries {
			return Result{}, fmt.Errorf("%w: %v", ErrStoreBusy, err)
		}
	}
	if err != nil {
		return Result{}, err
	}
	metrics.ProgressReports.Inc()
	return res, nil
}

// apply runs one load-mutate-CAS round for a report.
func (s *Service) apply(ctx context.Context, cfg *material.Config, studentID, date string, span interval.Span, now time.Time) (Result, error) {
	sess, err := s.sessions.Get(ctx, studentID, cfg.MaterialID, date)
	if err != nil {
		return Result{}, err
	}
	created := false
	if sess == nil {
		sess = &Session{
			StudentID:    studentID,
			MaterialID:   cfg.MaterialID,
			Date:         date,
			State:        StateWatching,
			LastActivity: now,
		}
		created = true
	}

	sess.Spans.Add(interval.Clamp(span, cfg.DurationSeconds))
	covered := sess.Spans.Total()
	ratio := interval.Ratio(covered, cfg.DurationSeconds)

	// A report on a closed-but-unrecorded session reopens it.
	if sess.State == StateNotStarted || sess.State == StateClosed {
		sess.State = StateWatching
	}

	recorded := sess.State == StateRecorded
	if !recorded && cfg.IsAttendanceTrigger {
		// Covers the fresh crossing and any session whose earlier ledger
		// write failed, including one the sweep closed in the meantime:
		// an unrecorded session at or past the threshold owes a write.
		if ratio >= cfg.Threshold() || sess.State == StateThresholdMet {
			sess.State = StateThresholdMet
			if err := s.record(ctx, cfg, studentID, date, now); err != nil {
				// Keep the merged spans; the next report retries the write.
				sess.LastActivity = now
				if saveErr := s.save(ctx, sess, created); saveErr != nil {
					return Result{}, saveErr
				}
				return Result{}, err
			}
			sess.State = StateRecorded
			recorded = true
		}
	}

	sess.LastActivity = now
	if err := s.save(ctx, sess, created); err != nil {
		return Result{}, err
	}

	return Result{
		CoverageRatio:      ratio,
		CoverageSeconds:    covered,
		ThresholdMet:       ratio >= cfg.Threshold(),
		AttendanceRecorded: recorded,
	}, nil
}

func (s *Service) save(ctx context.Context, sess *Session, created bool) error {
	if created {
		return s.sessions.Create(ctx, sess)
	}
	return s.sessions.Update(ctx, sess)
}

// record writes the automatic attendance row, bounded-retrying transient
// store errors. A conflict (row already there) is success.
func (s *Service) record(ctx context.Context, cfg *material.Config, studentID, date string, now time.Time) error {
	status := attendance.StatusAutoPresent
	if !cfg.SessionEnd.IsZero() && now.After(cfg.SessionEnd) {
		status = attendance.StatusLate
	}
	rec := attendance.Record{
		StudentID:   studentID,
		MaterialID:  cfg.MaterialID,
		CourseID:    cfg.CourseID,
		Date:        date,
		Week:        cfg.Week,
		Status:      status,
		Type:        attendance.TypeVideoAuto,
		SubmittedAt: now,
	}

	var lastErr error
	for attempt := 0; attempt < s.retries; attempt++ {
		created, err := s.ledger.RecordAuto(ctx, rec)
		if err == nil {
			if created {
				metrics.AttendanceRecorded.WithLabelValues(status).Inc()
				s.publishRecorded(ctx, rec)
			}
			return nil
		}
		lastErr = err
	}
	return fmt.Errorf("%w: ledger write failed: %v", ErrStoreBusy, lastErr)
}

func (s *Service) publishRecorded(ctx context.Context, rec attendance.Record) {
	if s.events == nil {
		return
	}
	body, err := json.Marshal(notify.AttendanceRecorded{
		StudentID:  rec.StudentID,
		MaterialID: rec.MaterialID,
		CourseID:   rec.CourseID,
		Date:       rec.Date,
		Week:       rec.Week,
		Status:     rec.Status,
		RecordedAt: rec.SubmittedAt,
	})
	if err != nil {
		return
	}
	if err := s.events.Publish(ctx, queue.Message{Type: "attendance_recorded", Body: body}); err != nil {
		log.Printf("event publish failed: %v", err)
	}
}

// End closes today's session for a student and material on an explicit
// player end signal. Missing session is a no-op.
func (s *Service) End(ctx context.Context, studentID, materialID string) error {
	now := s.now().UTC()
	date := now.Format("2006-01-02")

	release, err := s.locker.Acquire(ctx, SessionKey(studentID, materialID, date))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreBusy, err)
	}
	defer release()

	sess, err := s.sessions.Get(ctx, studentID, materialID, date)
	if err != nil || sess == nil {
		return err
	}
	if sess.State == StateRecorded || sess.State == StateClosed {
		return nil
	}
	// Ending with a pending ledger write settles it rather than closing;
	// a failure surfaces so the client retries the end signal.
	if sess.State == StateThresholdMet {
		return s.settle(ctx, sess)
	}
	sess.State = StateClosed
	sess.LastActivity = now
	return s.sessions.Update(ctx, sess)
}

// Sweep closes sessions idle beyond the configured timeout, taking the same
// per-key lock as live ingestion. Returns the number closed.
func (s *Service) Sweep(ctx context.Context, batch int) (int, error) {
	cutoff := s.now().UTC().Add(-s.idleTimeout)
	idle, err := s.sessions.ListIdle(ctx, cutoff, batch)
	if err != nil {
		return 0, err
	}

	closed := 0
	for i := range idle {
		sess := idle[i]
		ok, err := s.closeIdle(ctx, &sess, cutoff)
		if err != nil {
			log.Printf("sweep close %s failed: %v", sess.Key(), err)
			continue
		}
		if ok {
			closed++
		}
	}
	return closed, nil
}

func (s *Service) closeIdle(ctx context.Context, sess *Session, cutoff time.Time) (bool, error) {
	release, err := s.locker.Acquire(ctx, sess.Key())
	if err != nil {
		return false, err
	}
	defer release()

	// Re-read under the lock; a report may have just landed.
	fresh, err := s.sessions.Get(ctx, sess.StudentID, sess.MaterialID, sess.Date)
	if err != nil {
		return false, err
	}
	if fresh == nil || fresh.State == StateClosed || fresh.State == StateRecorded || !fresh.LastActivity.Before(cutoff) {
		return false, nil
	}
	// An idle threshold_met session still owes its ledger write (the write
	// failed when the threshold was crossed and no report came since).
	// Settle it instead of closing; on failure leave the session open so
	// the next sweep retries.
	if fresh.State == StateThresholdMet {
		if err := s.settle(ctx, fresh); err != nil {
			return false, err
		}
		metrics.SessionsFinalized.Inc()
		return true, nil
	}
	fresh.State = StateClosed
	if err := s.sessions.Update(ctx, fresh); err != nil {
		return false, err
	}
	metrics.SessionsFinalized.Inc()
	return true, nil
}

// settle finishes the pending threshold_met -> recorded transition for a
// session whose ledger write previously failed. Caller holds the key lock.
// The on-time/late decision uses the session's last activity, the closest
// stored stand-in for when the crossing happened.
func (s *Service) settle(ctx context.Context, sess *Session) error {
	cfg, err := s.materials.Get(ctx, sess.MaterialID)
	if err != nil {
		return err
	}
	if err := s.record(ctx, cfg, sess.StudentID, sess.Date, sess.LastActivity); err != nil {
		return err
	}
	sess.State = StateRecorded
	return s.sessions.Update(ctx, sess)
}
