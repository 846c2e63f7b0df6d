package attendance

import "time"

// Attendance statuses. Auto records only ever carry StatusAutoPresent or
// StatusLate; the rest are set by lecturers.
const (
	StatusPresent     = "present"
	StatusAutoPresent = "auto_present"
	StatusLate        = "late"
	StatusExcused     = "excused"
	StatusSick        = "sick"
	StatusAbsent      = "absent"
)

// How a record came to exist.
const (
	TypeManual    = "manual"
	TypeVideoAuto = "video_auto"
)

// Record is one attendance row. At most one row exists per
// (StudentID, MaterialID, Date); a manual write over an automatic row keeps
// the automatic status in SupersededStatus for audit.
type Record struct {
	ID          string    `json:"id"`
	StudentID   string    `json:"studentId"`
	MaterialID  string    `json:"materialId"`
	CourseID    string    `json:"courseId"`
	Date        string    `json:"attendanceDate"` // YYYY-MM-DD
	Week        int       `json:"week"`
	Status      string    `json:"status"`
	Type        string    `json:"attendanceType"`
	Actor       string    `json:"actor,omitempty"`
	SubmittedAt time.Time `json:"submittedAt"`

	SupersededStatus *string    `json:"supersededStatus,omitempty"`
	SupersededAt     *time.Time `json:"supersededAt,omitempty"`
}

// IsPresent reports whether the status counts toward the present set.
func IsPresent(status string) bool {
	switch status {
	case StatusPresent, StatusAutoPresent, StatusLate:
		return true
	}
	return false
}

// ValidManualStatus reports whether a lecturer may record this status.
func ValidManualStatus(status string) bool {
	switch status {
	case StatusPresent, StatusLate, StatusExcused, StatusSick, StatusAbsent:
		return true
	}
	return false
}
