package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-enrollment-api/internal/models"
	"github.com/noah-isme/sma-enrollment-api/internal/repository"
)

// memDB is an in-memory stand-in for the Postgres schema shared by the store fakes.
type memDB struct {
	mu          sync.Mutex
	seq         int
	schools     map[string]models.School
	departments map[string]models.Department
	years       map[string]models.AcademicYear
	classes     map[string]models.Class
	courses     map[string]models.Course
	prereqs     map[string][]string
	students    map[string]models.Student
	enrollments map[string]models.Enrollment
	attendance  []models.Attendance
	invoices    map[string]models.Invoice
	followUps   []models.FollowUp
	graphLocks  []string
}

func newMemDB() *memDB {
	return &memDB{
		schools:     map[string]models.School{},
		departments: map[string]models.Department{},
		years:       map[string]models.AcademicYear{},
		classes:     map[string]models.Class{},
		courses:     map[string]models.Course{},
		prereqs:     map[string][]string{},
		students:    map[string]models.Student{},
		enrollments: map[string]models.Enrollment{},
		invoices:    map[string]models.Invoice{},
	}
}

func (m *memDB) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

func duplicate(op string) error {
	return fmt.Errorf("%s: %w", op, repository.ErrDuplicate)
}

func stale(op string) error {
	return fmt.Errorf("%s: %w", op, repository.ErrStaleState)
}

type fakeSchools struct{ db *memDB }

func (f fakeSchools) Create(_ context.Context, _ sqlx.ExtContext, school *models.School) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	for _, s := range f.db.schools {
		if s.TenantID == school.TenantID && s.Code == school.Code {
			return duplicate("create school")
		}
	}
	if school.ID == "" {
		school.ID = f.db.nextID("school")
	}
	f.db.schools[school.ID] = *school
	return nil
}

func (f fakeSchools) FindByID(_ context.Context, _ sqlx.ExtContext, tenantID, id string) (*models.School, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	s, ok := f.db.schools[id]
	if !ok || s.TenantID != tenantID {
		return nil, sql.ErrNoRows
	}
	return &s, nil
}

func (f fakeSchools) List(_ context.Context, tenantID string, _ models.CatalogFilter) ([]models.School, int, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	var out []models.School
	for _, s := range f.db.schools {
		if s.TenantID == tenantID {
			out = append(out, s)
		}
	}
	return out, len(out), nil
}

func (f fakeSchools) Stats(_ context.Context, _ string, id string) (*models.SchoolStats, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	stats := &models.SchoolStats{SchoolID: id}
	departments := make(map[string]bool)
	for _, d := range f.db.departments {
		if d.SchoolID == id {
			departments[d.ID] = true
			stats.TotalDepartments++
		}
	}
	for _, st := range f.db.students {
		if st.ClassID == nil || (st.State != models.StudentEnrolled && st.State != models.StudentSuspended) {
			continue
		}
		if c, ok := f.db.classes[*st.ClassID]; ok && departments[c.DepartmentID] {
			stats.TotalStudents++
		}
	}
	return stats, nil
}

type fakeDepartments struct{ db *memDB }

func (f fakeDepartments) Create(_ context.Context, _ sqlx.ExtContext, dept *models.Department) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if dept.ID == "" {
		dept.ID = f.db.nextID("dept")
	}
	f.db.departments[dept.ID] = *dept
	return nil
}

func (f fakeDepartments) FindByID(_ context.Context, _ sqlx.ExtContext, tenantID, id string) (*models.Department, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	d, ok := f.db.departments[id]
	if !ok || d.TenantID != tenantID {
		return nil, sql.ErrNoRows
	}
	return &d, nil
}

func (f fakeDepartments) List(_ context.Context, tenantID string, _ models.CatalogFilter) ([]models.Department, int, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	var out []models.Department
	for _, d := range f.db.departments {
		if d.TenantID == tenantID {
			out = append(out, d)
		}
	}
	return out, len(out), nil
}

func (f fakeDepartments) Stats(_ context.Context, _ string, id string) (*models.DepartmentStats, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	stats := &models.DepartmentStats{DepartmentID: id}
	for _, c := range f.db.classes {
		if c.DepartmentID == id {
			stats.TotalClasses++
		}
	}
	for _, c := range f.db.courses {
		if c.DepartmentID == id {
			stats.TotalCourses++
		}
	}
	return stats, nil
}

type fakeYears struct{ db *memDB }

func (f fakeYears) Create(_ context.Context, _ sqlx.ExtContext, year *models.AcademicYear) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	for _, y := range f.db.years {
		if y.TenantID == year.TenantID && y.SchoolID == year.SchoolID && y.Name == year.Name {
			return duplicate("create academic year")
		}
	}
	if year.ID == "" {
		year.ID = f.db.nextID("year")
	}
	f.db.years[year.ID] = *year
	return nil
}

func (f fakeYears) FindByID(_ context.Context, _ sqlx.ExtContext, tenantID, id string) (*models.AcademicYear, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	y, ok := f.db.years[id]
	if !ok || y.TenantID != tenantID {
		return nil, sql.ErrNoRows
	}
	return &y, nil
}

func (f fakeYears) LockByID(ctx context.Context, exec sqlx.ExtContext, tenantID, id string) (*models.AcademicYear, error) {
	return f.FindByID(ctx, exec, tenantID, id)
}

func (f fakeYears) UpdateState(_ context.Context, _ sqlx.ExtContext, tenantID, id string, from, to models.AcademicYearState) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	y, ok := f.db.years[id]
	if !ok || y.TenantID != tenantID || y.State != from {
		return stale("update academic year")
	}
	y.State = to
	f.db.years[id] = y
	return nil
}

func (f fakeYears) List(_ context.Context, tenantID string, _ models.CatalogFilter) ([]models.AcademicYear, int, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	var out []models.AcademicYear
	for _, y := range f.db.years {
		if y.TenantID == tenantID {
			out = append(out, y)
		}
	}
	return out, len(out), nil
}

func (f fakeYears) Stats(_ context.Context, _ string, id string) (*models.AcademicYearStats, error) {
	return &models.AcademicYearStats{AcademicYearID: id}, nil
}

type fakeClasses struct{ db *memDB }

func (f fakeClasses) Create(_ context.Context, _ sqlx.ExtContext, class *models.Class) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if class.ID == "" {
		class.ID = f.db.nextID("class")
	}
	f.db.classes[class.ID] = *class
	return nil
}

func (f fakeClasses) FindByID(_ context.Context, _ sqlx.ExtContext, tenantID, id string) (*models.Class, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	c, ok := f.db.classes[id]
	if !ok || c.TenantID != tenantID {
		return nil, sql.ErrNoRows
	}
	return &c, nil
}

func (f fakeClasses) LockByID(ctx context.Context, exec sqlx.ExtContext, tenantID, id string) (*models.Class, error) {
	return f.FindByID(ctx, exec, tenantID, id)
}

func (f fakeClasses) List(_ context.Context, tenantID string, _ models.CatalogFilter) ([]models.Class, int, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	var out []models.Class
	for _, c := range f.db.classes {
		if c.TenantID == tenantID {
			out = append(out, c)
		}
	}
	return out, len(out), nil
}

func (f fakeClasses) Stats(_ context.Context, _ string, id string) (*models.ClassStats, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	c := f.db.classes[id]
	stats := &models.ClassStats{ClassID: id, Capacity: c.Capacity}
	for _, s := range f.db.students {
		if deref(s.ClassID) == id && (s.State == models.StudentEnrolled || s.State == models.StudentSuspended) {
			stats.TotalStudents++
		}
	}
	if c.HasLimit() {
		available := *c.Capacity - stats.TotalStudents
		stats.AvailableCapacity = &available
	}
	return stats, nil
}

type fakeCourses struct{ db *memDB }

func (f fakeCourses) Create(_ context.Context, _ sqlx.ExtContext, course *models.Course) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if course.ID == "" {
		course.ID = f.db.nextID("course")
	}
	stored := *course
	stored.Prerequisites = nil
	f.db.courses[course.ID] = stored
	return nil
}

func (f fakeCourses) FindByID(_ context.Context, _ sqlx.ExtContext, tenantID, id string) (*models.Course, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	c, ok := f.db.courses[id]
	if !ok || c.TenantID != tenantID {
		return nil, sql.ErrNoRows
	}
	c.Prerequisites = append([]string{}, f.db.prereqs[id]...)
	return &c, nil
}

func (f fakeCourses) LockByID(ctx context.Context, exec sqlx.ExtContext, tenantID, id string) (*models.Course, error) {
	return f.FindByID(ctx, exec, tenantID, id)
}

func (f fakeCourses) FindByIDs(_ context.Context, _ sqlx.ExtContext, tenantID string, ids []string) ([]models.Course, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	var out []models.Course
	for _, id := range ids {
		if c, ok := f.db.courses[id]; ok && c.TenantID == tenantID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f fakeCourses) LockPrerequisiteGraph(_ context.Context, _ sqlx.ExtContext, tenantID string) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	f.db.graphLocks = append(f.db.graphLocks, tenantID)
	return nil
}

func (f fakeCourses) PrerequisiteGraph(_ context.Context, _ sqlx.ExtContext, _ string) (map[string][]string, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	graph := make(map[string][]string, len(f.db.prereqs))
	for k, v := range f.db.prereqs {
		graph[k] = append([]string{}, v...)
	}
	return graph, nil
}

func (f fakeCourses) ReplacePrerequisites(_ context.Context, _ sqlx.ExtContext, courseID string, ids []string) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	f.db.prereqs[courseID] = append([]string{}, ids...)
	return nil
}

func (f fakeCourses) RequiredByDepartment(_ context.Context, _ sqlx.ExtContext, tenantID, departmentID string) ([]models.Course, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	var out []models.Course
	for _, c := range f.db.courses {
		if c.TenantID == tenantID && c.DepartmentID == departmentID && c.Required {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f fakeCourses) List(_ context.Context, tenantID string, _ models.CatalogFilter) ([]models.Course, int, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	var out []models.Course
	for _, c := range f.db.courses {
		if c.TenantID == tenantID {
			out = append(out, c)
		}
	}
	return out, len(out), nil
}

func (f fakeCourses) Stats(_ context.Context, _ string, id string) (*models.CourseStats, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	stats := &models.CourseStats{CourseID: id, Capacity: f.db.courses[id].Capacity}
	for _, e := range f.db.enrollments {
		if e.CourseID != id {
			continue
		}
		stats.TotalEnrollments++
		if e.State == models.EnrollmentConfirmed || e.State == models.EnrollmentEnrolled {
			stats.ActiveEnrollments++
		}
	}
	return stats, nil
}

type fakeStudents struct{ db *memDB }

func (f fakeStudents) Create(_ context.Context, _ sqlx.ExtContext, student *models.Student) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	for _, s := range f.db.students {
		if s.TenantID == student.TenantID && s.Code == student.Code {
			return duplicate("create student")
		}
	}
	if student.ID == "" {
		student.ID = f.db.nextID("student")
	}
	if student.State == "" {
		student.State = models.StudentDraft
	}
	f.db.students[student.ID] = *student
	return nil
}

func (f fakeStudents) FindByID(_ context.Context, _ sqlx.ExtContext, tenantID, id string) (*models.Student, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	s, ok := f.db.students[id]
	if !ok || s.TenantID != tenantID {
		return nil, sql.ErrNoRows
	}
	return &s, nil
}

func (f fakeStudents) LockByID(ctx context.Context, exec sqlx.ExtContext, tenantID, id string) (*models.Student, error) {
	return f.FindByID(ctx, exec, tenantID, id)
}

func (f fakeStudents) UpdateLifecycle(_ context.Context, _ sqlx.ExtContext, student *models.Student, from models.StudentState) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	current, ok := f.db.students[student.ID]
	if !ok || current.State != from {
		return stale("update student lifecycle")
	}
	f.db.students[student.ID] = *student
	return nil
}

func (f fakeStudents) CountSeated(_ context.Context, _ sqlx.ExtContext, tenantID, classID, excludeID string) (int, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	n := 0
	for _, s := range f.db.students {
		if s.TenantID == tenantID && deref(s.ClassID) == classID && s.ID != excludeID &&
			(s.State == models.StudentEnrolled || s.State == models.StudentSuspended) {
			n++
		}
	}
	return n, nil
}

func (f fakeStudents) ListEnrolledInClass(_ context.Context, _ sqlx.ExtContext, tenantID, classID string) ([]models.Student, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	var out []models.Student
	for _, s := range f.db.students {
		if s.TenantID == tenantID && deref(s.ClassID) == classID && s.State == models.StudentEnrolled {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FullName < out[j].FullName })
	return out, nil
}

func (f fakeStudents) List(_ context.Context, tenantID string, filter models.StudentFilter) ([]models.Student, int, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	var out []models.Student
	for _, s := range f.db.students {
		if s.TenantID != tenantID {
			continue
		}
		if filter.State != "" && s.State != filter.State {
			continue
		}
		if filter.Search != "" && !strings.Contains(strings.ToLower(s.FullName), strings.ToLower(filter.Search)) {
			continue
		}
		out = append(out, s)
	}
	return out, len(out), nil
}

type fakeEnrollments struct{ db *memDB }

func (f fakeEnrollments) Create(_ context.Context, _ sqlx.ExtContext, e *models.Enrollment) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	for _, existing := range f.db.enrollments {
		if existing.TenantID == e.TenantID && existing.StudentID == e.StudentID && existing.CourseID == e.CourseID {
			return duplicate("create enrollment")
		}
	}
	if e.ID == "" {
		e.ID = f.db.nextID("enrollment")
	}
	if e.State == "" {
		e.State = models.EnrollmentDraft
	}
	f.db.enrollments[e.ID] = *e
	return nil
}

func (f fakeEnrollments) FindByID(_ context.Context, _ sqlx.ExtContext, tenantID, id string) (*models.Enrollment, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	e, ok := f.db.enrollments[id]
	if !ok || e.TenantID != tenantID {
		return nil, sql.ErrNoRows
	}
	return &e, nil
}

func (f fakeEnrollments) LockByID(ctx context.Context, exec sqlx.ExtContext, tenantID, id string) (*models.Enrollment, error) {
	return f.FindByID(ctx, exec, tenantID, id)
}

func (f fakeEnrollments) FindDetailByID(ctx context.Context, tenantID, id string) (*models.EnrollmentDetail, error) {
	e, err := f.FindByID(ctx, nil, tenantID, id)
	if err != nil {
		return nil, err
	}
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	return &models.EnrollmentDetail{
		Enrollment:  *e,
		StudentName: f.db.students[e.StudentID].FullName,
		CourseName:  f.db.courses[e.CourseID].Name,
	}, nil
}

func (f fakeEnrollments) List(_ context.Context, tenantID string, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	var out []models.EnrollmentDetail
	for _, e := range f.db.enrollments {
		if e.TenantID != tenantID || (filter.StudentID != "" && e.StudentID != filter.StudentID) {
			continue
		}
		out = append(out, models.EnrollmentDetail{Enrollment: e})
	}
	return out, len(out), nil
}

func (f fakeEnrollments) UpdateLifecycle(_ context.Context, _ sqlx.ExtContext, e *models.Enrollment, from models.EnrollmentState) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	current, ok := f.db.enrollments[e.ID]
	if !ok || current.State != from {
		return stale("update enrollment")
	}
	e.InvoiceID = current.InvoiceID
	f.db.enrollments[e.ID] = *e
	return nil
}

func (f fakeEnrollments) AttachInvoice(_ context.Context, _ sqlx.ExtContext, tenantID, id, invoiceID string) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	e, ok := f.db.enrollments[id]
	if !ok || e.TenantID != tenantID || e.InvoiceID != nil {
		return stale("attach invoice")
	}
	e.InvoiceID = &invoiceID
	f.db.enrollments[id] = e
	return nil
}

func (f fakeEnrollments) Delete(_ context.Context, _ sqlx.ExtContext, tenantID, id string) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	e, ok := f.db.enrollments[id]
	if !ok || e.TenantID != tenantID || (e.State != models.EnrollmentDraft && e.State != models.EnrollmentCancelled) {
		return stale("delete enrollment")
	}
	delete(f.db.enrollments, id)
	return nil
}

func (f fakeEnrollments) CountActiveByCourse(_ context.Context, _ sqlx.ExtContext, tenantID, courseID string) (int, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	n := 0
	for _, e := range f.db.enrollments {
		if e.TenantID == tenantID && e.CourseID == courseID &&
			(e.State == models.EnrollmentConfirmed || e.State == models.EnrollmentEnrolled) {
			n++
		}
	}
	return n, nil
}

func (f fakeEnrollments) CompletedCourseIDs(_ context.Context, _ sqlx.ExtContext, tenantID, studentID string) ([]string, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	ids := []string{}
	for _, e := range f.db.enrollments {
		if e.TenantID == tenantID && e.StudentID == studentID && e.State == models.EnrollmentCompleted {
			ids = append(ids, e.CourseID)
		}
	}
	return ids, nil
}

func (f fakeEnrollments) FindEnrolled(_ context.Context, _ sqlx.ExtContext, tenantID, studentID, courseID string) (*models.Enrollment, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	for _, e := range f.db.enrollments {
		if e.TenantID == tenantID && e.StudentID == studentID && e.CourseID == courseID && e.State == models.EnrollmentEnrolled {
			found := e
			return &found, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f fakeEnrollments) Stats(_ context.Context, _ sqlx.ExtContext, tenantID, id string) (models.EnrollmentStats, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	var stats models.EnrollmentStats
	for _, a := range f.db.attendance {
		if a.TenantID == tenantID && deref(a.EnrollmentID) == id {
			stats.TotalClasses++
			if a.State == models.AttendancePresent {
				stats.AttendedClasses++
			}
		}
	}
	stats.AttendancePercentage = models.Percentage(stats.AttendedClasses, stats.TotalClasses)
	return stats, nil
}

func (f fakeEnrollments) CountsForStudent(_ context.Context, tenantID, studentID string) (int, int, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	total, active := 0, 0
	for _, e := range f.db.enrollments {
		if e.TenantID == tenantID && e.StudentID == studentID {
			total++
			if e.State == models.EnrollmentEnrolled {
				active++
			}
		}
	}
	return total, active, nil
}

type fakeAttendance struct{ db *memDB }

func (f fakeAttendance) Create(_ context.Context, _ sqlx.ExtContext, a *models.Attendance) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	for _, existing := range f.db.attendance {
		if existing.TenantID == a.TenantID && existing.StudentID == a.StudentID &&
			existing.ClassID == a.ClassID && existing.Date.Equal(a.Date) {
			return duplicate("create attendance")
		}
	}
	if a.ID == "" {
		a.ID = f.db.nextID("attendance")
	}
	f.db.attendance = append(f.db.attendance, *a)
	return nil
}

func (f fakeAttendance) Exists(_ context.Context, _ sqlx.ExtContext, tenantID, studentID, classID string, date time.Time) (bool, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	for _, a := range f.db.attendance {
		if a.TenantID == tenantID && a.StudentID == studentID && a.ClassID == classID && a.Date.Equal(date) {
			return true, nil
		}
	}
	return false, nil
}

func (f fakeAttendance) ExistsForClassDate(_ context.Context, _ sqlx.ExtContext, tenantID, classID string, date time.Time) (bool, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	for _, a := range f.db.attendance {
		if a.TenantID == tenantID && a.ClassID == classID && a.Date.Equal(date) {
			return true, nil
		}
	}
	return false, nil
}

func (f fakeAttendance) matching(tenantID string, filter models.AttendanceFilter) []models.Attendance {
	var out []models.Attendance
	for _, a := range f.db.attendance {
		if a.TenantID != tenantID ||
			(filter.StudentID != "" && a.StudentID != filter.StudentID) ||
			(filter.ClassID != "" && a.ClassID != filter.ClassID) ||
			(filter.EnrollmentID != "" && deref(a.EnrollmentID) != filter.EnrollmentID) ||
			(filter.State != "" && a.State != filter.State) {
			continue
		}
		out = append(out, a)
	}
	return out
}

func (f fakeAttendance) List(_ context.Context, tenantID string, filter models.AttendanceFilter) ([]models.Attendance, int, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	rows := f.matching(tenantID, filter)
	return rows, len(rows), nil
}

func (f fakeAttendance) Summary(_ context.Context, _ sqlx.ExtContext, tenantID string, filter models.AttendanceFilter) (models.AttendanceSummary, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	var s models.AttendanceSummary
	for _, a := range f.matching(tenantID, filter) {
		s.Total++
		switch a.State {
		case models.AttendancePresent:
			s.Present++
		case models.AttendanceAbsent:
			s.Absent++
		case models.AttendanceLate:
			s.Late++
		case models.AttendanceExcused:
			s.Excused++
		}
	}
	s.Percentage = models.Percentage(s.Present, s.Total)
	return s, nil
}

type fakeInvoices struct{ db *memDB }

func (f fakeInvoices) Create(_ context.Context, _ sqlx.ExtContext, inv *models.Invoice) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if inv.ID == "" {
		inv.ID = f.db.nextID("invoice")
	}
	f.db.invoices[inv.ID] = *inv
	return nil
}

func (f fakeInvoices) FindByID(_ context.Context, _ sqlx.ExtContext, tenantID, id string) (*models.Invoice, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	inv, ok := f.db.invoices[id]
	if !ok || inv.TenantID != tenantID {
		return nil, sql.ErrNoRows
	}
	return &inv, nil
}

func (f fakeInvoices) TotalsForStudent(_ context.Context, _ sqlx.ExtContext, tenantID, studentID string) (models.FeeTotals, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	var totals models.FeeTotals
	for _, e := range f.db.enrollments {
		if e.TenantID != tenantID || e.StudentID != studentID || e.InvoiceID == nil {
			continue
		}
		inv := f.db.invoices[*e.InvoiceID]
		totals.Total += inv.AmountTotal
		if inv.Status != models.InvoicePaid {
			totals.Outstanding += inv.AmountTotal
		}
	}
	return totals, nil
}

func (f fakeInvoices) setStatus(id string, status models.InvoiceStatus) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	inv := f.db.invoices[id]
	inv.Status = status
	f.db.invoices[id] = inv
}

type fakeFollowUps struct{ db *memDB }

func (f fakeFollowUps) Create(_ context.Context, fu *models.FollowUp) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	f.db.followUps = append(f.db.followUps, *fu)
	return nil
}

type fakeSequence struct {
	mu       sync.Mutex
	counters map[string]int64
}

func (f *fakeSequence) Next(_ context.Context, tenantID, prefix string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.counters == nil {
		f.counters = map[string]int64{}
	}
	f.counters[tenantID+prefix]++
	return repository.FormatSequence(prefix, f.counters[tenantID+prefix]), nil
}

type sentNote struct {
	TenantID string
	UserID   string
	Note     string
}

type fakeNotifier struct {
	mu    sync.Mutex
	notes []sentNote
}

func (f *fakeNotifier) ScheduleFollowUp(_ context.Context, tenantID, userID, note string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes = append(f.notes, sentNote{TenantID: tenantID, UserID: userID, Note: note})
}

func (f *fakeNotifier) sent() []sentNote {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentNote(nil), f.notes...)
}

// failingBilling reports every call as a collaborator outage.
type failingBilling struct{}

func (failingBilling) CreateInvoice(context.Context, sqlx.ExtContext, models.InvoiceRequest) (string, error) {
	return "", fmt.Errorf("ledger unavailable")
}

func (failingBilling) InvoiceStatus(context.Context, sqlx.ExtContext, string, string) (models.InvoiceStatus, error) {
	return "", fmt.Errorf("ledger unavailable")
}

func (failingBilling) CreateRefund(context.Context, sqlx.ExtContext, string, string) (string, error) {
	return "", fmt.Errorf("ledger unavailable")
}

func (failingBilling) StudentTotals(context.Context, string, string) (models.FeeTotals, error) {
	return models.FeeTotals{}, nil
}

const testTenant = "tenant-a"

// fixture wires every service over one memDB and one sqlmock transaction provider.
type fixture struct {
	db          *memDB
	mock        sqlmock.Sqlmock
	notifier    *fakeNotifier
	invoices    fakeInvoices
	billing     *LedgerBilling
	catalog     *CatalogService
	students    *StudentService
	attendance  *AttendanceService
	enrollments *EnrollmentService
	bulk        *BulkService
	now         time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	txDB := sqlx.NewDb(sqlDB, "sqlmock")
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = sqlDB.Close()
	})

	mem := newMemDB()
	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	notifier := &fakeNotifier{}
	invoices := fakeInvoices{db: mem}
	billing := NewLedgerBilling(invoices, "income:tuition", nil, nil)

	schools, departments, years := fakeSchools{db: mem}, fakeDepartments{db: mem}, fakeYears{db: mem}
	classes, courses := fakeClasses{db: mem}, fakeCourses{db: mem}
	students, enrollments, attendance := fakeStudents{db: mem}, fakeEnrollments{db: mem}, fakeAttendance{db: mem}

	catalog := NewCatalogService(txDB, schools, departments, years, classes, courses, nil, nil, nil)
	studentSvc := NewStudentService(StudentServiceParams{
		DB:          txDB,
		Students:    students,
		Classes:     classes,
		Departments: departments,
		Schools:     schools,
		Courses:     courses,
		Enrollments: enrollments,
		Attendance:  attendance,
		Billing:     billing,
		Sequence:    &fakeSequence{},
		Notifier:    notifier,
	})
	studentSvc.now = clock
	attendanceSvc := NewAttendanceService(txDB, attendance, students, classes, enrollments, nil, nil, nil, nil)
	attendanceSvc.now = clock
	enrollmentSvc := NewEnrollmentService(EnrollmentServiceParams{
		DB:          txDB,
		Enrollments: enrollments,
		Students:    students,
		Courses:     courses,
		Billing:     billing,
		Notifier:    notifier,
		Config:      EnrollmentServiceConfig{MinAttendancePercentage: 75, GenerateInvoice: true, AutoGrade: true},
	})
	enrollmentSvc.now = clock
	bulk := NewBulkService(txDB, attendanceSvc, studentSvc, attendance, classes, students, notifier, nil, nil, nil)

	return &fixture{
		db:          mem,
		mock:        mock,
		notifier:    notifier,
		invoices:    invoices,
		billing:     billing,
		catalog:     catalog,
		students:    studentSvc,
		attendance:  attendanceSvc,
		enrollments: enrollmentSvc,
		bulk:        bulk,
		now:         now,
	}
}

// commits expects n transactions that commit.
func (f *fixture) commits(n int) {
	for i := 0; i < n; i++ {
		f.mock.ExpectBegin()
		f.mock.ExpectCommit()
	}
}

// rollback expects one transaction that rolls back.
func (f *fixture) rollback() {
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()
}

func (f *fixture) seedSchool(code string) models.School {
	s := models.School{ID: f.db.nextID("school"), TenantID: testTenant, Name: "School " + code, Code: code, Active: true}
	f.db.schools[s.ID] = s
	return s
}

func (f *fixture) seedDepartment(schoolID string) models.Department {
	d := models.Department{ID: f.db.nextID("dept"), TenantID: testTenant, SchoolID: schoolID, Name: "Science", Active: true}
	f.db.departments[d.ID] = d
	return d
}

func (f *fixture) seedClass(departmentID string, capacity *int) models.Class {
	teacher := "teacher-1"
	c := models.Class{
		ID: f.db.nextID("class"), TenantID: testTenant, Name: "X-A", DepartmentID: departmentID,
		AcademicYearID: "year-1", Capacity: capacity, TeacherUserID: &teacher, Active: true,
	}
	f.db.classes[c.ID] = c
	return c
}

func (f *fixture) seedCourse(name string, fee float64, capacity int, prerequisites ...string) models.Course {
	teacher := "teacher-2"
	c := models.Course{
		ID: f.db.nextID("course"), TenantID: testTenant, Name: name, DepartmentID: "dept-x",
		FeeAmount: fee, Capacity: capacity, TeacherUserID: &teacher, Active: true,
	}
	f.db.courses[c.ID] = c
	if len(prerequisites) > 0 {
		f.db.prereqs[c.ID] = prerequisites
	}
	return c
}

func (f *fixture) seedStudent(name string, state models.StudentState, classID *string) models.Student {
	s := models.Student{
		ID: f.db.nextID("student"), TenantID: testTenant, PartyID: "party-" + name, Code: "STU-" + name,
		FullName: name, State: state, ClassID: classID,
	}
	f.db.students[s.ID] = s
	return s
}

func (f *fixture) seedEnrollment(studentID, courseID string, state models.EnrollmentState) models.Enrollment {
	e := models.Enrollment{
		ID: f.db.nextID("enrollment"), TenantID: testTenant, StudentID: studentID, CourseID: courseID,
		State: state, EnrollmentDate: f.now.AddDate(0, -1, 0),
	}
	f.db.enrollments[e.ID] = e
	return e
}

func (f *fixture) seedAttendance(studentID, classID, enrollmentID string, day int, state models.AttendanceState) {
	f.db.attendance = append(f.db.attendance, models.Attendance{
		ID: f.db.nextID("attendance"), TenantID: testTenant, StudentID: studentID, ClassID: classID,
		EnrollmentID: &enrollmentID, Date: time.Date(2026, 2, day, 0, 0, 0, 0, time.UTC), State: state,
	})
}

func (f *fixture) enrollmentState(id string) models.EnrollmentState {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	return f.db.enrollments[id].State
}

func intPtr(v int) *int {
	return &v
}
