package models

import "time"

// EnrollmentState is the lifecycle of a course enrollment.
type EnrollmentState string

const (
	EnrollmentDraft     EnrollmentState = "draft"
	EnrollmentConfirmed EnrollmentState = "confirmed"
	EnrollmentEnrolled  EnrollmentState = "enrolled"
	EnrollmentCompleted EnrollmentState = "completed"
	EnrollmentCancelled EnrollmentState = "cancelled"
	EnrollmentFailed    EnrollmentState = "failed"
)

// Valid returns true when the state is a supported value.
func (s EnrollmentState) Valid() bool {
	switch s {
	case EnrollmentDraft, EnrollmentConfirmed, EnrollmentEnrolled, EnrollmentCompleted, EnrollmentCancelled, EnrollmentFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether the enrollment accepts no further transitions.
func (s EnrollmentState) Terminal() bool {
	return s == EnrollmentCompleted || s == EnrollmentCancelled || s == EnrollmentFailed
}

// ActiveEnrollmentStates are the states that occupy a course seat.
var ActiveEnrollmentStates = []string{string(EnrollmentConfirmed), string(EnrollmentEnrolled)}

// Enrollment binds one student to one course.
type Enrollment struct {
	ID                 string          `db:"id" json:"id"`
	TenantID           string          `db:"tenant_id" json:"tenant_id"`
	StudentID          string          `db:"student_id" json:"student_id"`
	CourseID           string          `db:"course_id" json:"course_id"`
	EnrollmentDate     time.Time       `db:"enrollment_date" json:"enrollment_date"`
	State              EnrollmentState `db:"state" json:"state"`
	InvoiceID          *string         `db:"invoice_id" json:"invoice_id,omitempty"`
	Grade              *string         `db:"grade" json:"grade,omitempty"`
	Score              *float64        `db:"score" json:"score,omitempty"`
	CompletionDate     *time.Time      `db:"completion_date" json:"completion_date,omitempty"`
	CancellationReason *string         `db:"cancellation_reason" json:"cancellation_reason,omitempty"`
	Notes              *string         `db:"notes" json:"notes,omitempty"`
	CreatedAt          time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time       `db:"updated_at" json:"updated_at"`
}

// EnrollmentStats is recomputed from the attendance rows linked to the enrollment.
type EnrollmentStats struct {
	TotalClasses         int     `db:"total_classes" json:"total_classes"`
	AttendedClasses      int     `db:"attended_classes" json:"attended_classes"`
	AttendancePercentage float64 `db:"-" json:"attendance_percentage"`
}

// Percentage returns attended over total as a percentage, 0 when nothing was recorded.
func Percentage(attended, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(attended) / float64(total) * 100
}

// EnrollmentDetail enriches Enrollment with names and derived stats.
type EnrollmentDetail struct {
	Enrollment
	StudentName string          `db:"student_name" json:"student_name"`
	CourseName  string          `db:"course_name" json:"course_name"`
	Stats       EnrollmentStats `db:"-" json:"stats"`
}

// EnrollmentFilter provides filters for listing enrollments.
type EnrollmentFilter struct {
	StudentID string
	CourseID  string
	State     EnrollmentState
	PageRequest
}
