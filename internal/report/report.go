package report

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"videoattend/internal/attendance"
	"videoattend/internal/roster"
)

// MaxWeek bounds the week filter; the LMS runs 16-week semesters.
const MaxWeek = 16

// ErrInvalidWeek rejects week filters outside 1..MaxWeek.
var ErrInvalidWeek = errors.New("invalid week")

// LedgerReader is the slice of the attendance ledger the reporter needs.
type LedgerReader interface {
	ListByCourseAndWeek(ctx context.Context, courseID string, week int) ([]attendance.Record, error)
}

// WeekStat summarizes attendance for one week.
type WeekStat struct {
	Week           int     `json:"week"`
	Meetings       int     `json:"meetings"`
	PresentCount   int     `json:"presentCount"`
	TotalStudents  int     `json:"totalStudents"`
	AttendanceRate float64 `json:"attendanceRate"` // 0..1
}

// DayBreakdown lists who was present and absent on one meeting date.
type DayBreakdown struct {
	Date           string              `json:"date"`
	Week           int                 `json:"week"`
	Present        []attendance.Record `json:"presentStudents"`
	Absent         []roster.Student    `json:"absentStudents"`
	AttendanceRate float64             `json:"attendanceRate"` // 0..1
}

// Report is the lecturer-facing weekly attendance view.
type Report struct {
	CourseID          string                      `json:"courseId"`
	Week              int                         `json:"week,omitempty"` // 0 means all weeks
	WeeklyStats       []WeekStat                  `json:"weeklyStats"`
	AttendancesByWeek map[int][]attendance.Record `json:"attendancesByWeek"`
	Breakdown         []DayBreakdown              `json:"breakdown"`
	Students          []roster.Student            `json:"students"`
	EmptyRoster       bool                        `json:"emptyRoster,omitempty"`
}

// Reporter joins the attendance ledger with the course roster.
type Reporter struct {
	ledger LedgerReader
	roster roster.Source
}

// NewReporter creates a reporter.
func NewReporter(ledger LedgerReader, rosterSrc roster.Source) *Reporter {
	return &Reporter{ledger: ledger, roster: rosterSrc}
}

// WeeklyReport builds stats for one week, or the whole course when week is 0.
// An empty roster yields a well-formed zero report flagged EmptyRoster
// instead of an error.
func (r *Reporter) WeeklyReport(ctx context.Context, courseID string, week int) (*Report, error) {
	if week < 0 || week > MaxWeek {
		return nil, fmt.Errorf("%w: %d not in 1..%d", ErrInvalidWeek, week, MaxWeek)
	}

	students, err := r.roster.Students(ctx, courseID)
	if err != nil {
		return nil, fmt.Errorf("roster lookup: %w", err)
	}
	records, err := r.ledger.ListByCourseAndWeek(ctx, courseID, week)
	if err != nil {
		return nil, fmt.Errorf("ledger query: %w", err)
	}

	rep := &Report{
		CourseID:          courseID,
		Week:              week,
		WeeklyStats:       []WeekStat{},
		AttendancesByWeek: make(map[int][]attendance.Record),
		Breakdown:         []DayBreakdown{},
		Students:          students,
		EmptyRoster:       len(students) == 0,
	}

	// Group ledger rows by week and by meeting date within the week.
	type dayKey struct {
		week int
		date string
	}
	byDay := make(map[dayKey][]attendance.Record)
	for _, rec := range records {
		rep.AttendancesByWeek[rec.Week] = append(rep.AttendancesByWeek[rec.Week], rec)
		k := dayKey{week: rec.Week, date: rec.Date}
		byDay[k] = append(byDay[k], rec)
	}

	days := make([]dayKey, 0, len(byDay))
	for k := range byDay {
		days = append(days, k)
	}
	sort.Slice(days, func(i, j int) bool {
		if days[i].week != days[j].week {
			return days[i].week < days[j].week
		}
		return days[i].date < days[j].date
	})

	weekPresent := make(map[int]int)
	weekMeetings := make(map[int]int)
	for _, k := range days {
		day := r.breakdownDay(k.date, k.week, byDay[k], students)
		rep.Breakdown = append(rep.Breakdown, day)
		weekPresent[k.week] += len(day.Present)
		weekMeetings[k.week]++
	}

	weeks := make([]int, 0, len(weekMeetings))
	for w := range weekMeetings {
		weeks = append(weeks, w)
	}
	sort.Ints(weeks)
	for _, w := range weeks {
		stat := WeekStat{
			Week:          w,
			Meetings:      weekMeetings[w],
			PresentCount:  weekPresent[w],
			TotalStudents: len(students),
		}
		// Rate over all meetings of the week; a week with two dates and
		// full presence on both still reads 1.0.
		if seats := len(students) * weekMeetings[w]; seats > 0 {
			stat.AttendanceRate = float64(weekPresent[w]) / float64(seats)
		}
		rep.WeeklyStats = append(rep.WeeklyStats, stat)
	}
	return rep, nil
}

// breakdownDay splits one meeting date into present records and absent
// students. A student is present with any present-type record that date;
// roster minus the present set is absent.
func (r *Reporter) breakdownDay(date string, week int, records []attendance.Record, students []roster.Student) DayBreakdown {
	day := DayBreakdown{Date: date, Week: week}

	presentIDs := make(map[string]struct{})
	for _, rec := range records {
		if !attendance.IsPresent(rec.Status) {
			continue
		}
		if _, dup := presentIDs[rec.StudentID]; dup {
			continue
		}
		presentIDs[rec.StudentID] = struct{}{}
		day.Present = append(day.Present, rec)
	}
	for _, st := range students {
		if _, ok := presentIDs[st.ID]; !ok {
			day.Absent = append(day.Absent, st)
		}
	}
	if len(students) > 0 {
		day.AttendanceRate = float64(len(day.Present)) / float64(len(students))
	}
	return day
}
