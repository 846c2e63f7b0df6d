package attendance

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository persists attendance records in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const recordColumns = `
	id, student_id, material_id, course_id, attendance_date, week,
	status, attendance_type, actor, submitted_at, superseded_status, superseded_at`

// RecordAuto inserts an automatic record if none exists for the
// (student, material, date) key. A conflict means another evaluator already
// recorded it, or a lecturer wrote a manual row first; both are silent
// no-ops and return created=false.
func (r *Repository) RecordAuto(ctx context.Context, rec Record) (bool, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.SubmittedAt.IsZero() {
		rec.SubmittedAt = time.Now().UTC()
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_records
			(id, student_id, material_id, course_id, attendance_date, week, status, attendance_type, submitted_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (student_id, material_id, attendance_date) DO NOTHING
	`, rec.ID, rec.StudentID, rec.MaterialID, rec.CourseID, rec.Date, rec.Week, rec.Status, TypeVideoAuto, rec.SubmittedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// RecordManual writes a lecturer-entered record. Over an existing automatic
// row it takes precedence and preserves the automatic status for audit; an
// automatic write never overwrites a manual one.
func (r *Repository) RecordManual(ctx context.Context, rec Record) error {
	if rec.Actor == "" {
		return errors.New("actor required for manual record")
	}
	if !ValidManualStatus(rec.Status) {
		return errors.New("invalid manual status: " + rec.Status)
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.SubmittedAt.IsZero() {
		rec.SubmittedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_records
			(id, student_id, material_id, course_id, attendance_date, week, status, attendance_type, actor, submitted_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (student_id, material_id, attendance_date) DO UPDATE SET
			superseded_status = CASE
				WHEN attendance_records.attendance_type = $8 THEN attendance_records.superseded_status
				ELSE attendance_records.status
			END,
			superseded_at = CASE
				WHEN attendance_records.attendance_type = $8 THEN attendance_records.superseded_at
				ELSE NOW()
			END,
			status = EXCLUDED.status,
			attendance_type = EXCLUDED.attendance_type,
			actor = EXCLUDED.actor,
			submitted_at = EXCLUDED.submitted_at
	`, rec.ID, rec.StudentID, rec.MaterialID, rec.CourseID, rec.Date, rec.Week, rec.Status, TypeManual, rec.Actor, rec.SubmittedAt)
	return err
}

// Get returns the record for a (student, material, date) key, nil when absent.
func (r *Repository) Get(ctx context.Context, studentID, materialID, date string) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM attendance_records
		WHERE student_id = $1 AND material_id = $2 AND attendance_date = $3
	`, studentID, materialID, date)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// ListByCourseAndDate returns all records for a course on one date.
func (r *Repository) ListByCourseAndDate(ctx context.Context, courseID, date string) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM attendance_records
		WHERE course_id = $1 AND attendance_date = $2
		ORDER BY student_id
	`, courseID, date)
	if err != nil {
		return nil, err
	}
	return collectRecords(rows)
}

// ListByCourseAndWeek returns records for one week, or the whole course when
// week is 0.
func (r *Repository) ListByCourseAndWeek(ctx context.Context, courseID string, week int) ([]Record, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM attendance_records
		WHERE course_id = $1`
	args := []any{courseID}
	if week > 0 {
		query += ` AND week = $2`
		args = append(args, week)
	}
	query += ` ORDER BY week, attendance_date, student_id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectRecords(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var rec Record
	var actor sql.NullString
	var date time.Time
	err := row.Scan(&rec.ID, &rec.StudentID, &rec.MaterialID, &rec.CourseID, &date, &rec.Week,
		&rec.Status, &rec.Type, &actor, &rec.SubmittedAt, &rec.SupersededStatus, &rec.SupersededAt)
	if err != nil {
		return Record{}, err
	}
	rec.Date = date.Format("2006-01-02")
	rec.Actor = actor.String
	return rec, nil
}

func collectRecords(rows *sql.Rows) ([]Record, error) {
	defer rows.Close()
	var res []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}
