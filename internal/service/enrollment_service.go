package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-enrollment-api/internal/models"
	"github.com/noah-isme/sma-enrollment-api/internal/repository"
	appErrors "github.com/noah-isme/sma-enrollment-api/pkg/errors"
)

const defaultCancellationReason = "Student request"

type enrollmentStore interface {
	Create(ctx context.Context, exec sqlx.ExtContext, e *models.Enrollment) error
	FindByID(ctx context.Context, exec sqlx.ExtContext, tenantID, id string) (*models.Enrollment, error)
	LockByID(ctx context.Context, exec sqlx.ExtContext, tenantID, id string) (*models.Enrollment, error)
	FindDetailByID(ctx context.Context, tenantID, id string) (*models.EnrollmentDetail, error)
	List(ctx context.Context, tenantID string, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error)
	UpdateLifecycle(ctx context.Context, exec sqlx.ExtContext, e *models.Enrollment, from models.EnrollmentState) error
	AttachInvoice(ctx context.Context, exec sqlx.ExtContext, tenantID, id, invoiceID string) error
	Delete(ctx context.Context, exec sqlx.ExtContext, tenantID, id string) error
	CountActiveByCourse(ctx context.Context, exec sqlx.ExtContext, tenantID, courseID string) (int, error)
	CompletedCourseIDs(ctx context.Context, exec sqlx.ExtContext, tenantID, studentID string) ([]string, error)
	Stats(ctx context.Context, exec sqlx.ExtContext, tenantID, id string) (models.EnrollmentStats, error)
}

type enrollmentCourseReader interface {
	FindByID(ctx context.Context, exec sqlx.ExtContext, tenantID, id string) (*models.Course, error)
	LockByID(ctx context.Context, exec sqlx.ExtContext, tenantID, id string) (*models.Course, error)
	FindByIDs(ctx context.Context, exec sqlx.ExtContext, tenantID string, ids []string) ([]models.Course, error)
}

// CreateEnrollmentRequest is the payload for a draft enrollment.
type CreateEnrollmentRequest struct {
	StudentID string  `json:"student_id" validate:"required"`
	CourseID  string  `json:"course_id" validate:"required"`
	Notes     *string `json:"notes"`
}

// CreateEnrollmentOptions tunes Create.
type CreateEnrollmentOptions struct {
	// AutoConfirm runs the confirm transition in the same transaction.
	AutoConfirm bool
	Confirm     ConfirmOptions
}

// ConfirmOptions tunes the confirm transition.
type ConfirmOptions struct {
	SkipPrerequisites bool
	SkipCapacity      bool
	// NotifyTeacher schedules a follow-up for the course teacher after commit.
	NotifyTeacher bool
}

// EnrollOptions tunes the enroll transition.
type EnrollOptions struct {
	// GenerateInvoice overrides the configured default when set.
	GenerateInvoice *bool
}

// CompleteOptions tunes the complete transition.
type CompleteOptions struct {
	MinAttendancePercentage *float64
	AutoGrade               *bool
}

// CancelOptions tunes the cancel transition.
type CancelOptions struct {
	Reason string
	// ProcessRefund reverses the invoice when it has received payment.
	ProcessRefund bool
}

// EnrollmentServiceConfig holds the transition defaults.
type EnrollmentServiceConfig struct {
	MinAttendancePercentage float64
	GenerateInvoice         bool
	AutoGrade               bool
}

// EnrollmentServiceParams groups constructor dependencies.
type EnrollmentServiceParams struct {
	DB          txProvider
	Enrollments enrollmentStore
	Students    studentReader
	Courses     enrollmentCourseReader
	Billing     Billing
	Parties     PartyResolver
	Notifier    Notifier
	Cache       *CacheService
	Metrics     *MetricsService
	Validator   *validator.Validate
	Logger      *zap.Logger
	Config      EnrollmentServiceConfig
}

// EnrollmentService drives the course enrollment lifecycle.
type EnrollmentService struct {
	repo      enrollmentStore
	students  studentReader
	courses   enrollmentCourseReader
	billing   Billing
	parties   PartyResolver
	notifier  Notifier
	cache     *CacheService
	metrics   *MetricsService
	tx        txRunner
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
	cfg       EnrollmentServiceConfig
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(params EnrollmentServiceParams) *EnrollmentService {
	cfg := params.Config
	if cfg.MinAttendancePercentage <= 0 {
		cfg.MinAttendancePercentage = 75
	}
	validate := params.Validator
	if validate == nil {
		validate = validator.New()
	}
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	parties := params.Parties
	if parties == nil {
		parties = StoredPartyResolver{}
	}
	return &EnrollmentService{
		repo:      params.Enrollments,
		students:  params.Students,
		courses:   params.Courses,
		billing:   params.Billing,
		parties:   parties,
		notifier:  params.Notifier,
		cache:     params.Cache,
		metrics:   params.Metrics,
		tx:        txRunner{db: params.DB, metrics: params.Metrics},
		validator: validate,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		cfg:       cfg,
	}
}

// Create registers a draft enrollment. A student can hold one enrollment per course, ever.
func (s *EnrollmentService) Create(ctx context.Context, tenantID string, req CreateEnrollmentRequest, opts CreateEnrollmentOptions) (*models.Enrollment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid enrollment payload")
	}
	var (
		enrollment *models.Enrollment
		course     *models.Course
	)
	err := s.tx.run(ctx, "enrollment.create", func(tx *sqlx.Tx) error {
		student, err := s.students.FindByID(ctx, tx, tenantID, req.StudentID)
		if err != nil {
			return loadError(err, "student")
		}
		if student.State.Terminal() {
			return appErrors.Transition("student", student.ID, string(student.State), "enroll in course")
		}
		c, err := s.courses.FindByID(ctx, tx, tenantID, req.CourseID)
		if err != nil {
			return loadError(err, "course")
		}
		if !c.Active {
			return appErrors.Clone(appErrors.ErrValidation, "course is not active").With("course_id", c.ID)
		}
		enrollment = &models.Enrollment{
			TenantID:       tenantID,
			StudentID:      req.StudentID,
			CourseID:       req.CourseID,
			EnrollmentDate: s.now(),
			State:          models.EnrollmentDraft,
			Notes:          req.Notes,
		}
		if err := s.repo.Create(ctx, tx, enrollment); err != nil {
			return writeError(err, "enrollment", "student is already enrolled in this course")
		}
		if opts.AutoConfirm {
			enrollment, course, err = s.confirm(ctx, tx, tenantID, enrollment.ID, opts.Confirm)
		}
		return err
	})
	if opts.AutoConfirm {
		s.metrics.RecordTransition("enrollment", "confirm", err)
	}
	if err != nil {
		return nil, err
	}
	s.logger.Info("enrollment created", zap.String("tenant_id", tenantID), zap.String("enrollment_id", enrollment.ID), zap.String("state", string(enrollment.State)))
	s.cache.InvalidateStudents(ctx, tenantID, enrollment.StudentID)
	if opts.AutoConfirm && opts.Confirm.NotifyTeacher {
		s.notifyTeacher(ctx, enrollment, course)
	}
	return enrollment, nil
}

// Confirm moves a draft enrollment to confirmed once prerequisites and capacity allow it.
func (s *EnrollmentService) Confirm(ctx context.Context, tenantID, id string, opts ConfirmOptions) (*models.Enrollment, error) {
	var (
		enrollment *models.Enrollment
		course     *models.Course
	)
	err := s.tx.run(ctx, "enrollment.confirm", func(tx *sqlx.Tx) error {
		var err error
		enrollment, course, err = s.confirm(ctx, tx, tenantID, id, opts)
		return err
	})
	s.finish(ctx, tenantID, id, "confirm", enrollment, err)
	if err != nil {
		return nil, err
	}
	if opts.NotifyTeacher {
		s.notifyTeacher(ctx, enrollment, course)
	}
	return enrollment, nil
}

// confirm locks the enrollment and then its course; the course lock serialises capacity checks.
func (s *EnrollmentService) confirm(ctx context.Context, tx sqlx.ExtContext, tenantID, id string, opts ConfirmOptions) (*models.Enrollment, *models.Course, error) {
	enrollment, err := s.repo.LockByID(ctx, tx, tenantID, id)
	if err != nil {
		return nil, nil, loadError(err, "enrollment")
	}
	if enrollment.State != models.EnrollmentDraft {
		return nil, nil, appErrors.Transition("enrollment", id, string(enrollment.State), "confirm")
	}
	course, err := s.courses.LockByID(ctx, tx, tenantID, enrollment.CourseID)
	if err != nil {
		return nil, nil, loadError(err, "course")
	}
	if !opts.SkipPrerequisites {
		if err := s.checkPrerequisites(ctx, tx, enrollment, course); err != nil {
			return nil, nil, err
		}
	}
	if !opts.SkipCapacity && course.Capacity > 0 {
		active, err := s.repo.CountActiveByCourse(ctx, tx, tenantID, course.ID)
		if err != nil {
			return nil, nil, internalError(err, "failed to count course enrollments")
		}
		if active >= course.Capacity {
			return nil, nil, appErrors.Clone(appErrors.ErrCapacityExceeded, fmt.Sprintf("course %s is full", course.Name)).
				With("course_id", course.ID).
				With("capacity", course.Capacity).
				With("active", active)
		}
	}
	enrollment.State = models.EnrollmentConfirmed
	if err := s.repo.UpdateLifecycle(ctx, tx, enrollment, models.EnrollmentDraft); err != nil {
		return nil, nil, transitionError(err, "enrollment", id, string(models.EnrollmentDraft), "confirm")
	}
	return enrollment, course, nil
}

func (s *EnrollmentService) checkPrerequisites(ctx context.Context, tx sqlx.ExtContext, enrollment *models.Enrollment, course *models.Course) error {
	if len(course.Prerequisites) == 0 {
		return nil
	}
	completed, err := s.repo.CompletedCourseIDs(ctx, tx, enrollment.TenantID, enrollment.StudentID)
	if err != nil {
		return internalError(err, "failed to load completed courses")
	}
	done := make(map[string]bool, len(completed))
	for _, id := range completed {
		done[id] = true
	}
	var missing []string
	for _, id := range course.Prerequisites {
		if !done[id] {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	names := missing
	if found, err := s.courses.FindByIDs(ctx, tx, enrollment.TenantID, missing); err == nil && len(found) > 0 {
		names = make([]string, 0, len(found))
		for _, c := range found {
			names = append(names, c.Name)
		}
	}
	return appErrors.Clone(appErrors.ErrUnmetPrerequisite, "student has not completed prerequisite courses: "+strings.Join(names, ", ")).
		With("enrollment_id", enrollment.ID).
		With("course_id", course.ID).
		With("missing_courses", names).
		With("missing_course_ids", missing)
}

// Enroll moves a confirmed enrollment to enrolled, raising its invoice in the same transaction.
func (s *EnrollmentService) Enroll(ctx context.Context, tenantID, id string, opts EnrollOptions) (*models.Enrollment, error) {
	generate := s.cfg.GenerateInvoice
	if opts.GenerateInvoice != nil {
		generate = *opts.GenerateInvoice
	}
	return s.transition(ctx, tenantID, id, "enroll", []models.EnrollmentState{models.EnrollmentConfirmed}, func(tx *sqlx.Tx, e *models.Enrollment) error {
		e.State = models.EnrollmentEnrolled
		e.EnrollmentDate = s.now()
		if generate {
			return s.generateInvoice(ctx, tx, e)
		}
		return nil
	})
}

// GenerateInvoice raises the invoice of a confirmed or enrolled enrollment.
func (s *EnrollmentService) GenerateInvoice(ctx context.Context, tenantID, id string) (*models.Enrollment, error) {
	allowed := []models.EnrollmentState{models.EnrollmentConfirmed, models.EnrollmentEnrolled}
	return s.transition(ctx, tenantID, id, "generate_invoice", allowed, func(tx *sqlx.Tx, e *models.Enrollment) error {
		return s.generateInvoice(ctx, tx, e)
	})
}

// generateInvoice bills the course fee once. Courses without a fee are skipped.
func (s *EnrollmentService) generateInvoice(ctx context.Context, tx sqlx.ExtContext, e *models.Enrollment) error {
	if e.InvoiceID != nil {
		return appErrors.Clone(appErrors.ErrInvoiceAlreadyExists, "").
			With("enrollment_id", e.ID).
			With("invoice_id", *e.InvoiceID)
	}
	course, err := s.courses.FindByID(ctx, tx, e.TenantID, e.CourseID)
	if err != nil {
		return loadError(err, "course")
	}
	if course.FeeAmount <= 0 {
		s.logger.Info("invoice skipped for free course", zap.String("enrollment_id", e.ID), zap.String("course_id", course.ID))
		return nil
	}
	student, err := s.students.FindByID(ctx, tx, e.TenantID, e.StudentID)
	if err != nil {
		return loadError(err, "student")
	}
	payer, err := s.parties.BillingParty(ctx, student)
	if err != nil {
		return integrationError(err, "resolve billing party")
	}
	if payer == "" {
		return appErrors.Clone(appErrors.ErrValidation, "student has no billing party").With("student_id", student.ID)
	}
	invoiceID, err := s.billing.CreateInvoice(ctx, tx, models.InvoiceRequest{
		TenantID:     e.TenantID,
		PayerPartyID: payer,
		Description:  "Course Enrollment: " + course.Name,
		Quantity:     1,
		UnitPrice:    course.FeeAmount,
		ProductRef:   deref(course.ProductRef),
	})
	if err != nil {
		return integrationError(err, "create invoice")
	}
	if err := s.repo.AttachInvoice(ctx, tx, e.TenantID, e.ID, invoiceID); err != nil {
		if errors.Is(err, repository.ErrStaleState) {
			return appErrors.Clone(appErrors.ErrInvoiceAlreadyExists, "").With("enrollment_id", e.ID)
		}
		return internalError(err, "failed to attach invoice")
	}
	e.InvoiceID = &invoiceID
	return nil
}

// Complete moves an enrolled enrollment to completed when attendance reaches the threshold.
func (s *EnrollmentService) Complete(ctx context.Context, tenantID, id string, opts CompleteOptions) (*models.Enrollment, error) {
	threshold := s.cfg.MinAttendancePercentage
	if opts.MinAttendancePercentage != nil {
		threshold = *opts.MinAttendancePercentage
	}
	autoGrade := s.cfg.AutoGrade
	if opts.AutoGrade != nil {
		autoGrade = *opts.AutoGrade
	}
	return s.transition(ctx, tenantID, id, "complete", []models.EnrollmentState{models.EnrollmentEnrolled}, func(tx *sqlx.Tx, e *models.Enrollment) error {
		stats, err := s.repo.Stats(ctx, tx, tenantID, id)
		if err != nil {
			return internalError(err, "failed to compute attendance")
		}
		if stats.AttendancePercentage < threshold {
			return appErrors.Clone(appErrors.ErrAttendanceBelowMinimum, "").
				With("enrollment_id", id).
				With("attendance_percentage", stats.AttendancePercentage).
				With("min_attendance_percentage", threshold).
				With("attended_classes", stats.AttendedClasses).
				With("total_classes", stats.TotalClasses)
		}
		now := s.now()
		e.State = models.EnrollmentCompleted
		e.CompletionDate = &now
		if autoGrade && e.Score != nil {
			grade := GradeForScore(*e.Score)
			e.Grade = &grade
		}
		return nil
	})
}

// Cancel moves a draft, confirmed or enrolled enrollment to cancelled.
func (s *EnrollmentService) Cancel(ctx context.Context, tenantID, id string, opts CancelOptions) (*models.Enrollment, error) {
	reason := strings.TrimSpace(opts.Reason)
	if reason == "" {
		reason = defaultCancellationReason
	}
	allowed := []models.EnrollmentState{models.EnrollmentDraft, models.EnrollmentConfirmed, models.EnrollmentEnrolled}
	return s.transition(ctx, tenantID, id, "cancel", allowed, func(tx *sqlx.Tx, e *models.Enrollment) error {
		if opts.ProcessRefund && e.InvoiceID != nil {
			if err := s.refund(ctx, tx, e); err != nil {
				return err
			}
		}
		e.State = models.EnrollmentCancelled
		e.CancellationReason = &reason
		return nil
	})
}

// refund reverses the enrollment's invoice unless nothing has been paid on it.
func (s *EnrollmentService) refund(ctx context.Context, tx sqlx.ExtContext, e *models.Enrollment) error {
	status, err := s.billing.InvoiceStatus(ctx, tx, e.TenantID, *e.InvoiceID)
	if err != nil {
		return integrationError(err, "read invoice status")
	}
	if status == models.InvoiceUnpaid {
		return nil
	}
	refundID, err := s.billing.CreateRefund(ctx, tx, e.TenantID, *e.InvoiceID)
	if err != nil {
		return integrationError(err, "create refund")
	}
	s.logger.Info("enrollment refunded", zap.String("enrollment_id", e.ID), zap.String("invoice_id", *e.InvoiceID), zap.String("refund_id", refundID))
	return nil
}

// Fail moves an enrolled enrollment to failed.
func (s *EnrollmentService) Fail(ctx context.Context, tenantID, id string) (*models.Enrollment, error) {
	return s.transition(ctx, tenantID, id, "fail", []models.EnrollmentState{models.EnrollmentEnrolled}, func(_ *sqlx.Tx, e *models.Enrollment) error {
		e.State = models.EnrollmentFailed
		return nil
	})
}

// SetScore records a 0-100 score on any enrollment that is not cancelled.
func (s *EnrollmentService) SetScore(ctx context.Context, tenantID, id string, score float64) (*models.Enrollment, error) {
	if score < 0 || score > 100 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "score must be between 0 and 100").With("score", score)
	}
	allowed := []models.EnrollmentState{
		models.EnrollmentDraft, models.EnrollmentConfirmed, models.EnrollmentEnrolled,
		models.EnrollmentCompleted, models.EnrollmentFailed,
	}
	return s.transition(ctx, tenantID, id, "set_score", allowed, func(_ *sqlx.Tx, e *models.Enrollment) error {
		e.Score = &score
		return nil
	})
}

// transition locks the enrollment, checks the source state, applies mutate and persists the result.
func (s *EnrollmentService) transition(ctx context.Context, tenantID, id, action string, allowed []models.EnrollmentState, mutate func(tx *sqlx.Tx, e *models.Enrollment) error) (*models.Enrollment, error) {
	var enrollment *models.Enrollment
	err := s.tx.run(ctx, "enrollment."+action, func(tx *sqlx.Tx) error {
		var err error
		enrollment, err = s.repo.LockByID(ctx, tx, tenantID, id)
		if err != nil {
			return loadError(err, "enrollment")
		}
		from := enrollment.State
		if !stateIn(from, allowed) {
			return appErrors.Transition("enrollment", id, string(from), action)
		}
		if err := mutate(tx, enrollment); err != nil {
			return err
		}
		if err := s.repo.UpdateLifecycle(ctx, tx, enrollment, from); err != nil {
			return transitionError(err, "enrollment", id, string(from), action)
		}
		return nil
	})
	s.finish(ctx, tenantID, id, action, enrollment, err)
	if err != nil {
		return nil, err
	}
	return enrollment, nil
}

// finish records the outcome of a transition and drops the student's cached stats on success.
func (s *EnrollmentService) finish(ctx context.Context, tenantID, id, action string, enrollment *models.Enrollment, err error) {
	s.metrics.RecordTransition("enrollment", action, err)
	if err != nil {
		if appErrors.KindOf(err) == appErrors.KindInternal || appErrors.KindOf(err) == appErrors.KindIntegration {
			s.logger.Error("enrollment transition failed", zap.String("action", action), zap.String("enrollment_id", id), zap.Error(err))
		}
		return
	}
	s.cache.InvalidateStudents(ctx, tenantID, enrollment.StudentID)
	s.logger.Info("enrollment transitioned", zap.String("tenant_id", tenantID), zap.String("enrollment_id", id), zap.String("action", action), zap.String("state", string(enrollment.State)))
}

func (s *EnrollmentService) notifyTeacher(ctx context.Context, enrollment *models.Enrollment, course *models.Course) {
	if s.notifier == nil || course == nil {
		return
	}
	s.notifier.ScheduleFollowUp(ctx, enrollment.TenantID, deref(course.TeacherUserID),
		fmt.Sprintf("Enrollment %s confirmed for course %s", enrollment.ID, course.Name))
}

// Get returns an enrollment with names and recomputed attendance stats.
func (s *EnrollmentService) Get(ctx context.Context, tenantID, id string) (*models.EnrollmentDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, tenantID, id)
	if err != nil {
		return nil, loadError(err, "enrollment")
	}
	stats, err := s.repo.Stats(ctx, nil, tenantID, id)
	if err != nil {
		return nil, internalError(err, "failed to compute enrollment stats")
	}
	detail.Stats = stats
	return detail, nil
}

// List returns enrollments with pagination metadata.
func (s *EnrollmentService) List(ctx context.Context, tenantID string, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, *models.Pagination, error) {
	if filter.State != "" && !filter.State.Valid() {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "invalid enrollment state filter").With("state", filter.State)
	}
	filter.Normalize()
	items, total, err := s.repo.List(ctx, tenantID, filter)
	if err != nil {
		return nil, nil, internalError(err, "failed to list enrollments")
	}
	return items, filter.Paginate(total), nil
}

// Delete hard-deletes a draft or cancelled enrollment.
func (s *EnrollmentService) Delete(ctx context.Context, tenantID, id string) error {
	enrollment, err := s.repo.FindByID(ctx, nil, tenantID, id)
	if err != nil {
		return loadError(err, "enrollment")
	}
	if enrollment.State != models.EnrollmentDraft && enrollment.State != models.EnrollmentCancelled {
		return appErrors.Transition("enrollment", id, string(enrollment.State), "delete")
	}
	if err := s.repo.Delete(ctx, nil, tenantID, id); err != nil {
		return transitionError(err, "enrollment", id, string(enrollment.State), "delete")
	}
	s.cache.InvalidateStudents(ctx, tenantID, enrollment.StudentID)
	s.logger.Info("enrollment deleted", zap.String("tenant_id", tenantID), zap.String("enrollment_id", id))
	return nil
}
