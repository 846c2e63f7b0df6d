package report

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"videoattend/internal/attendance"
	"videoattend/internal/roster"
)

type fakeLedger struct {
	records []attendance.Record
}

func (f fakeLedger) ListByCourseAndWeek(_ context.Context, courseID string, week int) ([]attendance.Record, error) {
	var out []attendance.Record
	for _, rec := range f.records {
		if rec.CourseID == courseID && (week == 0 || rec.Week == week) {
			out = append(out, rec)
		}
	}
	return out, nil
}

type fakeRoster struct {
	students []roster.Student
}

func (f fakeRoster) Students(_ context.Context, _ string) ([]roster.Student, error) {
	return f.students, nil
}

func fiveStudents() []roster.Student {
	return []roster.Student{
		{ID: "s1", Name: "Student One"},
		{ID: "s2", Name: "Student Two"},
		{ID: "s3", Name: "Student Three"},
		{ID: "s4", Name: "Student Four"},
		{ID: "s5", Name: "Student Five"},
	}
}

func rec(student, status, date string, week int) attendance.Record {
	return attendance.Record{
		ID:          student + "-" + date,
		StudentID:   student,
		MaterialID:  "mat-1",
		CourseID:    "course-1",
		Date:        date,
		Week:        week,
		Status:      status,
		Type:        attendance.TypeVideoAuto,
		SubmittedAt: time.Now(),
	}
}

func TestWeeklyReportPresentAbsentSplit(t *testing.T) {
	ledger := fakeLedger{records: []attendance.Record{
		rec("s1", attendance.StatusAutoPresent, "2026-03-02", 3),
		rec("s2", attendance.StatusLate, "2026-03-02", 3),
		rec("s3", attendance.StatusPresent, "2026-03-02", 3),
	}}
	r := NewReporter(ledger, fakeRoster{students: fiveStudents()})

	rep, err := r.WeeklyReport(context.Background(), "course-1", 3)
	require.NoError(t, err)

	require.Len(t, rep.Breakdown, 1)
	day := rep.Breakdown[0]
	assert.Equal(t, "2026-03-02", day.Date)
	assert.Len(t, day.Present, 3)
	assert.Len(t, day.Absent, 2)
	assert.InDelta(t, 0.6, day.AttendanceRate, 1e-9)

	absentIDs := []string{day.Absent[0].ID, day.Absent[1].ID}
	assert.ElementsMatch(t, []string{"s4", "s5"}, absentIDs)

	require.Len(t, rep.WeeklyStats, 1)
	stat := rep.WeeklyStats[0]
	assert.Equal(t, 3, stat.Week)
	assert.Equal(t, 3, stat.PresentCount)
	assert.Equal(t, 5, stat.TotalStudents)
	assert.InDelta(t, 0.6, stat.AttendanceRate, 1e-9)
}

func TestWeeklyReportNonPresentStatusesCountAbsent(t *testing.T) {
	ledger := fakeLedger{records: []attendance.Record{
		rec("s1", attendance.StatusAutoPresent, "2026-03-02", 3),
		rec("s2", attendance.StatusSick, "2026-03-02", 3),
		rec("s3", attendance.StatusExcused, "2026-03-02", 3),
	}}
	r := NewReporter(ledger, fakeRoster{students: fiveStudents()})

	rep, err := r.WeeklyReport(context.Background(), "course-1", 3)
	require.NoError(t, err)
	require.Len(t, rep.Breakdown, 1)
	assert.Len(t, rep.Breakdown[0].Present, 1)
	assert.Len(t, rep.Breakdown[0].Absent, 4)
}

func TestWeeklyReportMultipleDatesSameWeek(t *testing.T) {
	ledger := fakeLedger{records: []attendance.Record{
		rec("s1", attendance.StatusAutoPresent, "2026-03-02", 3),
		rec("s2", attendance.StatusAutoPresent, "2026-03-02", 3),
		rec("s1", attendance.StatusAutoPresent, "2026-03-04", 3),
	}}
	r := NewReporter(ledger, fakeRoster{students: fiveStudents()[:2]})

	rep, err := r.WeeklyReport(context.Background(), "course-1", 3)
	require.NoError(t, err)

	require.Len(t, rep.Breakdown, 2)
	assert.Equal(t, "2026-03-02", rep.Breakdown[0].Date)
	assert.Equal(t, "2026-03-04", rep.Breakdown[1].Date)

	require.Len(t, rep.WeeklyStats, 1)
	stat := rep.WeeklyStats[0]
	assert.Equal(t, 2, stat.Meetings)
	assert.Equal(t, 3, stat.PresentCount)
	// 3 present marks over 2 meetings x 2 students.
	assert.InDelta(t, 0.75, stat.AttendanceRate, 1e-9)
}

func TestWeeklyReportAllWeeks(t *testing.T) {
	ledger := fakeLedger{records: []attendance.Record{
		rec("s1", attendance.StatusAutoPresent, "2026-03-02", 3),
		rec("s1", attendance.StatusAutoPresent, "2026-03-09", 4),
		rec("s2", attendance.StatusLate, "2026-03-09", 4),
	}}
	r := NewReporter(ledger, fakeRoster{students: fiveStudents()})

	rep, err := r.WeeklyReport(context.Background(), "course-1", 0)
	require.NoError(t, err)

	require.Len(t, rep.WeeklyStats, 2)
	assert.Equal(t, 3, rep.WeeklyStats[0].Week)
	assert.Equal(t, 4, rep.WeeklyStats[1].Week)
	assert.Len(t, rep.AttendancesByWeek[3], 1)
	assert.Len(t, rep.AttendancesByWeek[4], 2)
}

func TestWeeklyReportEmptyRosterIsWarningNotError(t *testing.T) {
	ledger := fakeLedger{records: []attendance.Record{
		rec("s1", attendance.StatusAutoPresent, "2026-03-02", 3),
	}}
	r := NewReporter(ledger, fakeRoster{})

	rep, err := r.WeeklyReport(context.Background(), "course-1", 3)
	require.NoError(t, err)
	assert.True(t, rep.EmptyRoster)
	require.Len(t, rep.WeeklyStats, 1)
	assert.Equal(t, 0.0, rep.WeeklyStats[0].AttendanceRate)
	assert.Equal(t, 0.0, rep.Breakdown[0].AttendanceRate)
}

func TestWeeklyReportManualOverrideWins(t *testing.T) {
	// The ledger holds one row per key; a manual override arrives as that
	// row with the manual status and the automatic one kept for audit.
	auto := attendance.StatusAutoPresent
	overridden := rec("s1", attendance.StatusExcused, "2026-03-02", 3)
	overridden.Type = attendance.TypeManual
	overridden.Actor = "lecturer-9"
	overridden.SupersededStatus = &auto

	ledger := fakeLedger{records: []attendance.Record{
		overridden,
		rec("s2", attendance.StatusAutoPresent, "2026-03-02", 3),
	}}
	r := NewReporter(ledger, fakeRoster{students: fiveStudents()[:2]})

	rep, err := r.WeeklyReport(context.Background(), "course-1", 3)
	require.NoError(t, err)
	require.Len(t, rep.Breakdown, 1)
	assert.Len(t, rep.Breakdown[0].Present, 1, "excused override must not count as present")
	assert.Equal(t, "s2", rep.Breakdown[0].Present[0].StudentID)
}

func TestWeeklyReportRejectsOutOfRangeWeek(t *testing.T) {
	r := NewReporter(fakeLedger{}, fakeRoster{})
	_, err := r.WeeklyReport(context.Background(), "course-1", 17)
	assert.ErrorIs(t, err, ErrInvalidWeek)
	_, err = r.WeeklyReport(context.Background(), "course-1", -1)
	assert.ErrorIs(t, err, ErrInvalidWeek)
}
