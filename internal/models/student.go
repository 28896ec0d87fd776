package models

import (
	"time"

	"github.com/lib/pq"
)

// StudentState is the lifecycle of a student record.
type StudentState string

const (
	StudentDraft       StudentState = "draft"
	StudentEnrolled    StudentState = "enrolled"
	StudentTransferred StudentState = "transferred"
	StudentGraduated   StudentState = "graduated"
	StudentSuspended   StudentState = "suspended"
	StudentDropped     StudentState = "dropped"
)

// Valid returns true when the state is a supported value.
func (s StudentState) Valid() bool {
	switch s {
	case StudentDraft, StudentEnrolled, StudentTransferred, StudentGraduated, StudentSuspended, StudentDropped:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further lifecycle action is allowed.
func (s StudentState) Terminal() bool {
	return s == StudentGraduated || s == StudentTransferred || s == StudentDropped
}

// Student represents a learner registered with a tenant. Students are never deleted.
type Student struct {
	ID               string         `db:"id" json:"id"`
	TenantID         string         `db:"tenant_id" json:"tenant_id"`
	PartyID          string         `db:"party_id" json:"party_id"`
	Code             string         `db:"code" json:"code"`
	FullName         string         `db:"full_name" json:"full_name"`
	Gender           *string        `db:"gender" json:"gender,omitempty"`
	BirthDate        *time.Time     `db:"birth_date" json:"birth_date,omitempty"`
	ClassID          *string        `db:"class_id" json:"class_id,omitempty"`
	State            StudentState   `db:"state" json:"state"`
	EnrollmentDate   *time.Time     `db:"enrollment_date" json:"enrollment_date,omitempty"`
	GraduationDate   *time.Time     `db:"graduation_date" json:"graduation_date,omitempty"`
	SuspensionReason *string        `db:"suspension_reason" json:"suspension_reason,omitempty"`
	GuardianPartyIDs pq.StringArray `db:"guardian_party_ids" json:"guardian_party_ids"`
	CreatedAt        time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at" json:"updated_at"`
}

// AgeAt returns the completed years between the birth date and t, or nil when unknown.
func (s Student) AgeAt(t time.Time) *int {
	if s.BirthDate == nil {
		return nil
	}
	b := s.BirthDate.UTC()
	t = t.UTC()
	age := t.Year() - b.Year()
	if t.Month() < b.Month() || (t.Month() == b.Month() && t.Day() < b.Day()) {
		age--
	}
	return &age
}

// StudentStats holds the aggregates derived from a student's enrollments, attendance and invoices.
type StudentStats struct {
	StudentID            string  `json:"student_id"`
	AttendancePercentage float64 `json:"attendance_percentage"`
	TotalEnrollments     int     `json:"total_enrollments"`
	ActiveEnrollments    int     `json:"active_enrollments"`
	TotalFees            float64 `json:"total_fees"`
	OutstandingFees      float64 `json:"outstanding_fees"`
	Age                  *int    `json:"age,omitempty"`
}

// StudentDetail is a student with its derived stats.
type StudentDetail struct {
	Student
	Stats StudentStats `json:"stats"`
}

// StudentFilter encapsulates allowed search parameters for listing students.
type StudentFilter struct {
	ClassID   string
	State     StudentState
	Search    string
	SortBy    string
	SortOrder string
	PageRequest
}

// TransferRequest describes a pending move of a student to another class or school.
type TransferRequest struct {
	StudentID      string  `json:"student_id"`
	CurrentClassID *string `json:"current_class_id,omitempty"`
	TargetClassID  *string `json:"target_class_id,omitempty"`
	TargetSchoolID *string `json:"target_school_id,omitempty"`
	Reason         string  `json:"reason,omitempty"`
}
