package models

import (
	"encoding/json"
	"time"
)

// AttendanceState represents the status for attendance records.
type AttendanceState string

const (
	AttendancePresent AttendanceState = "present"
	AttendanceAbsent  AttendanceState = "absent"
	AttendanceLate    AttendanceState = "late"
	AttendanceExcused AttendanceState = "excused"
)

// Valid returns true when the state is a supported value.
func (s AttendanceState) Valid() bool {
	switch s {
	case AttendancePresent, AttendanceAbsent, AttendanceLate, AttendanceExcused:
		return true
	default:
		return false
	}
}

// Attendance is one student's presence in one class on one date.
type Attendance struct {
	ID            string          `db:"id" json:"id"`
	TenantID      string          `db:"tenant_id" json:"tenant_id"`
	StudentID     string          `db:"student_id" json:"student_id"`
	ClassID       string          `db:"class_id" json:"class_id"`
	EnrollmentID  *string         `db:"enrollment_id" json:"enrollment_id,omitempty"`
	Date          time.Time       `db:"date" json:"date"`
	State         AttendanceState `db:"state" json:"state"`
	CheckIn       *time.Time      `db:"check_in" json:"check_in,omitempty"`
	CheckOut      *time.Time      `db:"check_out" json:"check_out,omitempty"`
	TeacherUserID *string         `db:"teacher_user_id" json:"teacher_user_id,omitempty"`
	Notes         *string         `db:"notes" json:"notes,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}

// DurationHours is derived from the check in/out pair, 0 when either is missing.
func (a Attendance) DurationHours() float64 {
	if a.CheckIn == nil || a.CheckOut == nil {
		return 0
	}
	return a.CheckOut.Sub(*a.CheckIn).Hours()
}

// MarshalJSON adds the derived duration.
func (a Attendance) MarshalJSON() ([]byte, error) {
	type alias Attendance
	return json.Marshal(struct {
		alias
		DurationHours float64 `json:"duration_hours"`
	}{alias(a), a.DurationHours()})
}

// AttendanceFilter defines query filters.
type AttendanceFilter struct {
	StudentID    string
	ClassID      string
	EnrollmentID string
	State        AttendanceState
	DateFrom     *time.Time
	DateTo       *time.Time
	PageRequest
}

// AttendanceSummary counts a set of attendance rows per state.
type AttendanceSummary struct {
	Total      int     `db:"total" json:"total"`
	Present    int     `db:"present" json:"present"`
	Absent     int     `db:"absent" json:"absent"`
	Late       int     `db:"late" json:"late"`
	Excused    int     `db:"excused" json:"excused"`
	Percentage float64 `db:"-" json:"attendance_percentage"`
}
