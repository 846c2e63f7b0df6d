package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ProgressReports counts accepted progress reports.
	ProgressReports = promauto.NewCounter(prometheus.CounterOpts{
		Name: "videoattend_progress_reports_total",
		Help: "Progress reports accepted by the ingestion path.",
	})

	// ValidationFailures counts rejected progress reports.
	ValidationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "videoattend_validation_failures_total",
		Help: "Progress reports rejected by validation.",
	})

	// VersionConflicts counts optimistic-concurrency retries on watch sessions.
	VersionConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "videoattend_session_version_conflicts_total",
		Help: "Compare-and-swap conflicts on watch session updates.",
	})

	// AttendanceRecorded counts automatic attendance writes that created a row.
	AttendanceRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "videoattend_attendance_recorded_total",
		Help: "Automatic attendance records created, by status.",
	}, []string{"status"})

	// SessionsFinalized counts sessions closed by the idle sweep.
	SessionsFinalized = promauto.NewCounter(prometheus.CounterOpts{
		Name: "videoattend_sessions_finalized_total",
		Help: "Watch sessions closed by the inactivity sweep.",
	})
)
