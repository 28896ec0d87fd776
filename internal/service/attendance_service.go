package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-enrollment-api/internal/models"
	"github.com/noah-isme/sma-enrollment-api/internal/repository"
	appErrors "github.com/noah-isme/sma-enrollment-api/pkg/errors"
)

type attendanceStore interface {
	Create(ctx context.Context, exec sqlx.ExtContext, a *models.Attendance) error
	Exists(ctx context.Context, exec sqlx.ExtContext, tenantID, studentID, classID string, date time.Time) (bool, error)
	ExistsForClassDate(ctx context.Context, exec sqlx.ExtContext, tenantID, classID string, date time.Time) (bool, error)
	List(ctx context.Context, tenantID string, filter models.AttendanceFilter) ([]models.Attendance, int, error)
	Summary(ctx context.Context, exec sqlx.ExtContext, tenantID string, filter models.AttendanceFilter) (models.AttendanceSummary, error)
}

type enrollmentLinker interface {
	FindByID(ctx context.Context, exec sqlx.ExtContext, tenantID, id string) (*models.Enrollment, error)
	FindEnrolled(ctx context.Context, exec sqlx.ExtContext, tenantID, studentID, courseID string) (*models.Enrollment, error)
}

type studentReader interface {
	FindByID(ctx context.Context, exec sqlx.ExtContext, tenantID, id string) (*models.Student, error)
}

type classReader interface {
	FindByID(ctx context.Context, exec sqlx.ExtContext, tenantID, id string) (*models.Class, error)
}

// RecordAttendanceRequest is one attendance line.
type RecordAttendanceRequest struct {
	StudentID     string                 `json:"student_id" validate:"required"`
	ClassID       string                 `json:"class_id" validate:"required"`
	Date          time.Time              `json:"date" validate:"required"`
	State         models.AttendanceState `json:"state" validate:"required,oneof=present absent late excused"`
	CheckIn       *time.Time             `json:"check_in"`
	CheckOut      *time.Time             `json:"check_out"`
	EnrollmentID  *string                `json:"enrollment_id"`
	CourseID      *string                `json:"course_id"`
	TeacherUserID *string                `json:"teacher_user_id"`
	Notes         *string                `json:"notes"`
}

// AttendanceService records and aggregates attendance.
type AttendanceService struct {
	repo        attendanceStore
	students    studentReader
	classes     classReader
	enrollments enrollmentLinker
	cache       *CacheService
	tx          txRunner
	validator   *validator.Validate
	logger      *zap.Logger
	now         func() time.Time
}

// NewAttendanceService constructs AttendanceService.
func NewAttendanceService(db txProvider, repo attendanceStore, students studentReader, classes classReader, enrollments enrollmentLinker, cache *CacheService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *AttendanceService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AttendanceService{
		repo:        repo,
		students:    students,
		classes:     classes,
		enrollments: enrollments,
		cache:       cache,
		tx:          txRunner{db: db, metrics: metrics},
		validator:   validate,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Record stores one attendance row.
func (s *AttendanceService) Record(ctx context.Context, tenantID string, req RecordAttendanceRequest) (*models.Attendance, error) {
	var record *models.Attendance
	err := s.tx.run(ctx, "attendance.record", func(tx *sqlx.Tx) error {
		var err error
		record, err = s.record(ctx, tx, tenantID, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.cache.InvalidateStudents(ctx, tenantID, record.StudentID)
	return record, nil
}

// record validates and inserts one line inside exec.
func (s *AttendanceService) record(ctx context.Context, exec sqlx.ExtContext, tenantID string, req RecordAttendanceRequest) (*models.Attendance, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid attendance payload")
	}
	date := dateOnly(req.Date)
	if date.After(dateOnly(s.now())) {
		return nil, appErrors.Clone(appErrors.ErrFutureDate, "").With("date", date.Format("2006-01-02"))
	}
	if req.CheckIn != nil && req.CheckOut != nil && !req.CheckOut.After(*req.CheckIn) {
		return nil, appErrors.Clone(appErrors.ErrInvalidTimeRange, "").
			With("check_in", req.CheckIn.Format(time.RFC3339)).
			With("check_out", req.CheckOut.Format(time.RFC3339))
	}
	if _, err := s.students.FindByID(ctx, exec, tenantID, req.StudentID); err != nil {
		return nil, loadError(err, "student")
	}
	if _, err := s.classes.FindByID(ctx, exec, tenantID, req.ClassID); err != nil {
		return nil, loadError(err, "class")
	}
	exists, err := s.repo.Exists(ctx, exec, tenantID, req.StudentID, req.ClassID, date)
	if err != nil {
		return nil, internalError(err, "failed to check attendance")
	}
	if exists {
		return nil, duplicateAttendance(req.StudentID, req.ClassID, date)
	}
	enrollmentID, err := s.linkEnrollment(ctx, exec, tenantID, req)
	if err != nil {
		return nil, err
	}
	record := &models.Attendance{
		TenantID:      tenantID,
		StudentID:     req.StudentID,
		ClassID:       req.ClassID,
		EnrollmentID:  enrollmentID,
		Date:          date,
		State:         req.State,
		CheckIn:       req.CheckIn,
		CheckOut:      req.CheckOut,
		TeacherUserID: req.TeacherUserID,
		Notes:         req.Notes,
	}
	if err := s.repo.Create(ctx, exec, record); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, duplicateAttendance(req.StudentID, req.ClassID, date)
		}
		return nil, internalError(err, "failed to save attendance")
	}
	return record, nil
}

// linkEnrollment resolves the enrollment an attendance line counts towards.
func (s *AttendanceService) linkEnrollment(ctx context.Context, exec sqlx.ExtContext, tenantID string, req RecordAttendanceRequest) (*string, error) {
	if id := deref(req.EnrollmentID); id != "" {
		enrollment, err := s.enrollments.FindByID(ctx, exec, tenantID, id)
		if err != nil {
			return nil, loadError(err, "enrollment")
		}
		if enrollment.StudentID != req.StudentID {
			return nil, appErrors.Clone(appErrors.ErrValidation, "enrollment belongs to another student").
				With("enrollment_id", id).
				With("student_id", req.StudentID)
		}
		return &enrollment.ID, nil
	}
	courseID := deref(req.CourseID)
	if courseID == "" {
		return nil, nil
	}
	enrollment, err := s.enrollments.FindEnrolled(ctx, exec, tenantID, req.StudentID, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, internalError(err, "failed to resolve enrollment")
	}
	return &enrollment.ID, nil
}

func duplicateAttendance(studentID, classID string, date time.Time) error {
	return appErrors.Clone(appErrors.ErrDuplicateRecord, "attendance already recorded for student, class and date").
		With("entity", "attendance").
		With("student_id", studentID).
		With("class_id", classID).
		With("date", date.Format("2006-01-02"))
}

// List returns attendance rows with pagination metadata.
func (s *AttendanceService) List(ctx context.Context, tenantID string, filter models.AttendanceFilter) ([]models.Attendance, *models.Pagination, error) {
	if filter.State != "" && !filter.State.Valid() {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "invalid attendance state filter").With("state", filter.State)
	}
	if filter.DateFrom != nil && filter.DateTo != nil && filter.DateTo.Before(*filter.DateFrom) {
		return nil, nil, appErrors.Clone(appErrors.ErrInvalidTimeRange, "date_to must not be before date_from")
	}
	filter.Normalize()
	rows, total, err := s.repo.List(ctx, tenantID, filter)
	if err != nil {
		return nil, nil, internalError(err, "failed to list attendance")
	}
	return rows, filter.Paginate(total), nil
}

// StudentSummary counts a student's attendance per state within the optional date range.
func (s *AttendanceService) StudentSummary(ctx context.Context, tenantID, studentID string, from, to *time.Time) (*models.AttendanceSummary, error) {
	if _, err := s.students.FindByID(ctx, nil, tenantID, studentID); err != nil {
		return nil, loadError(err, "student")
	}
	summary, err := s.repo.Summary(ctx, nil, tenantID, models.AttendanceFilter{StudentID: studentID, DateFrom: from, DateTo: to})
	if err != nil {
		return nil, internalError(err, "failed to summarise attendance")
	}
	return &summary, nil
}
