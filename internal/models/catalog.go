package models

import "time"

// School is the top-level organisational unit of a tenant.
type School struct {
	ID        string    `db:"id" json:"id"`
	TenantID  string    `db:"tenant_id" json:"tenant_id"`
	Name      string    `db:"name" json:"name"`
	Code      string    `db:"code" json:"code"`
	Address   *string   `db:"address" json:"address,omitempty"`
	Phone     *string   `db:"phone" json:"phone,omitempty"`
	Email     *string   `db:"email" json:"email,omitempty"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Department groups classes and courses within a school.
type Department struct {
	ID        string    `db:"id" json:"id"`
	TenantID  string    `db:"tenant_id" json:"tenant_id"`
	SchoolID  string    `db:"school_id" json:"school_id"`
	Name      string    `db:"name" json:"name"`
	Code      *string   `db:"code" json:"code,omitempty"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// SchoolStats rolls up a school's departments and seated students.
type SchoolStats struct {
	SchoolID         string `db:"school_id" json:"school_id"`
	TotalDepartments int    `db:"total_departments" json:"total_departments"`
	TotalStudents    int    `db:"total_students" json:"total_students"`
}

// DepartmentStats rolls up a department's classes, courses and students.
type DepartmentStats struct {
	DepartmentID  string `db:"department_id" json:"department_id"`
	TotalClasses  int    `db:"total_classes" json:"total_classes"`
	TotalCourses  int    `db:"total_courses" json:"total_courses"`
	TotalStudents int    `db:"total_students" json:"total_students"`
}

// AcademicYearState is the lifecycle of an academic year.
type AcademicYearState string

const (
	AcademicYearDraft  AcademicYearState = "draft"
	AcademicYearActive AcademicYearState = "active"
	AcademicYearClosed AcademicYearState = "closed"
)

// AcademicYear bounds the classes of a school in time.
type AcademicYear struct {
	ID        string            `db:"id" json:"id"`
	TenantID  string            `db:"tenant_id" json:"tenant_id"`
	SchoolID  string            `db:"school_id" json:"school_id"`
	Name      string            `db:"name" json:"name"`
	Code      *string           `db:"code" json:"code,omitempty"`
	StartDate time.Time         `db:"start_date" json:"start_date"`
	EndDate   time.Time         `db:"end_date" json:"end_date"`
	State     AcademicYearState `db:"state" json:"state"`
	CreatedAt time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt time.Time         `db:"updated_at" json:"updated_at"`
}

// AcademicYearStats rolls up the classes and students of a year.
type AcademicYearStats struct {
	AcademicYearID string `db:"academic_year_id" json:"academic_year_id"`
	TotalClasses   int    `db:"total_classes" json:"total_classes"`
	TotalStudents  int    `db:"total_students" json:"total_students"`
}

// Class is a group of students in one department and academic year.
type Class struct {
	ID             string    `db:"id" json:"id"`
	TenantID       string    `db:"tenant_id" json:"tenant_id"`
	Name           string    `db:"name" json:"name"`
	Code           *string   `db:"code" json:"code,omitempty"`
	DepartmentID   string    `db:"department_id" json:"department_id"`
	AcademicYearID string    `db:"academic_year_id" json:"academic_year_id"`
	TeacherUserID  *string   `db:"teacher_user_id" json:"teacher_user_id,omitempty"`
	Capacity       *int      `db:"capacity" json:"capacity,omitempty"`
	Gender         *string   `db:"gender" json:"gender,omitempty"`
	Active         bool      `db:"active" json:"active"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// HasLimit reports whether the class enforces a seat limit.
func (c Class) HasLimit() bool {
	return c.Capacity != nil && *c.Capacity > 0
}

// ClassStats reports occupancy. AvailableCapacity is nil for unlimited classes.
type ClassStats struct {
	ClassID           string `db:"class_id" json:"class_id"`
	TotalStudents     int    `db:"total_students" json:"total_students"`
	Capacity          *int   `db:"capacity" json:"capacity,omitempty"`
	AvailableCapacity *int   `db:"-" json:"available_capacity,omitempty"`
}

// Course is a sellable unit of teaching that students enroll in.
type Course struct {
	ID            string    `db:"id" json:"id"`
	TenantID      string    `db:"tenant_id" json:"tenant_id"`
	Name          string    `db:"name" json:"name"`
	Code          *string   `db:"code" json:"code,omitempty"`
	DepartmentID  string    `db:"department_id" json:"department_id"`
	TeacherUserID *string   `db:"teacher_user_id" json:"teacher_user_id,omitempty"`
	ProductRef    *string   `db:"product_ref" json:"product_ref,omitempty"`
	FeeAmount     float64   `db:"fee_amount" json:"fee_amount"`
	Capacity      int       `db:"capacity" json:"capacity"`
	Required      bool      `db:"required" json:"required"`
	Credits       int       `db:"credits" json:"credits"`
	DurationHours float64   `db:"duration_hours" json:"duration_hours"`
	Active        bool      `db:"active" json:"active"`
	Prerequisites []string  `db:"-" json:"prerequisite_ids"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// CourseStats reports enrollment counts. AvailableCapacity is nil when capacity is 0.
type CourseStats struct {
	CourseID          string `db:"course_id" json:"course_id"`
	TotalEnrollments  int    `db:"total_enrollments" json:"total_enrollments"`
	ActiveEnrollments int    `db:"active_enrollments" json:"active_enrollments"`
	Capacity          int    `db:"capacity" json:"capacity"`
	AvailableCapacity *int   `db:"-" json:"available_capacity,omitempty"`
}

// CatalogFilter narrows catalog listings. Fields that do not apply to an entity are ignored.
type CatalogFilter struct {
	SchoolID       string
	DepartmentID   string
	AcademicYearID string
	Active         *bool
	Search         string
	PageRequest
}
