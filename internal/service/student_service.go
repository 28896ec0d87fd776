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
	appErrors "github.com/noah-isme/sma-enrollment-api/pkg/errors"
)

const defaultSuspensionReason = "Administrative decision"

type studentStore interface {
	Create(ctx context.Context, exec sqlx.ExtContext, student *models.Student) error
	FindByID(ctx context.Context, exec sqlx.ExtContext, tenantID, id string) (*models.Student, error)
	LockByID(ctx context.Context, exec sqlx.ExtContext, tenantID, id string) (*models.Student, error)
	UpdateLifecycle(ctx context.Context, exec sqlx.ExtContext, student *models.Student, from models.StudentState) error
	CountSeated(ctx context.Context, exec sqlx.ExtContext, tenantID, classID, excludeID string) (int, error)
	ListEnrolledInClass(ctx context.Context, exec sqlx.ExtContext, tenantID, classID string) ([]models.Student, error)
	List(ctx context.Context, tenantID string, filter models.StudentFilter) ([]models.Student, int, error)
}

type studentEnrollmentReader interface {
	CompletedCourseIDs(ctx context.Context, exec sqlx.ExtContext, tenantID, studentID string) ([]string, error)
	CountsForStudent(ctx context.Context, tenantID, studentID string) (total, active int, err error)
}

type attendanceSummarizer interface {
	Summary(ctx context.Context, exec sqlx.ExtContext, tenantID string, filter models.AttendanceFilter) (models.AttendanceSummary, error)
}

// SequenceGenerator issues the next code for a tenant and prefix.
type SequenceGenerator interface {
	Next(ctx context.Context, tenantID, prefix string) (string, error)
}

// CreateStudentRequest is the payload for registering a student.
type CreateStudentRequest struct {
	PartyID          string     `json:"party_id" validate:"required"`
	Code             string     `json:"code" validate:"omitempty,max=32"`
	FullName         string     `json:"full_name" validate:"required"`
	Gender           *string    `json:"gender" validate:"omitempty,oneof=male female"`
	BirthDate        *time.Time `json:"birth_date"`
	ClassID          *string    `json:"class_id"`
	GuardianPartyIDs []string   `json:"guardian_party_ids"`
}

// CreateStudentOptions tunes Create.
type CreateStudentOptions struct {
	// AutoEnroll runs the enroll transition right after the insert.
	AutoEnroll bool
}

// StudentEnrollOptions tunes the enroll transition.
type StudentEnrollOptions struct {
	// SkipValidation bypasses the class capacity and minimum age guards.
	SkipValidation bool
	// MinAge overrides the configured minimum age when positive.
	MinAge int
}

// TransferStudentRequest names where a student should move to.
type TransferStudentRequest struct {
	TargetClassID  *string `json:"target_class_id"`
	TargetSchoolID *string `json:"target_school_id"`
	Reason         string  `json:"reason"`
}

// RegisterStudentRequest enrolls an existing draft student, or a new one, into a class.
type RegisterStudentRequest struct {
	ClassID   string                `json:"class_id" validate:"required"`
	StudentID *string               `json:"student_id"`
	Student   *CreateStudentRequest `json:"student"`
}

// StudentServiceConfig holds lifecycle defaults.
type StudentServiceConfig struct {
	MinAge                  int
	GraduationMinAttendance float64
	CodePrefix              string
}

// StudentServiceParams groups constructor dependencies.
type StudentServiceParams struct {
	DB          txProvider
	Students    studentStore
	Classes     classStore
	Departments departmentStore
	Schools     schoolStore
	Courses     courseStore
	Enrollments studentEnrollmentReader
	Attendance  attendanceSummarizer
	Billing     Billing
	Sequence    SequenceGenerator
	Notifier    Notifier
	Cache       *CacheService
	Metrics     *MetricsService
	Validator   *validator.Validate
	Logger      *zap.Logger
	Config      StudentServiceConfig
}

// StudentService runs the student lifecycle.
type StudentService struct {
	students    studentStore
	classes     classStore
	departments departmentStore
	schools     schoolStore
	courses     courseStore
	enrollments studentEnrollmentReader
	attendance  attendanceSummarizer
	billing     Billing
	sequence    SequenceGenerator
	notifier    Notifier
	cache       *CacheService
	metrics     *MetricsService
	tx          txRunner
	validator   *validator.Validate
	logger      *zap.Logger
	now         func() time.Time
	cfg         StudentServiceConfig
}

// NewStudentService constructs StudentService with sane defaults.
func NewStudentService(params StudentServiceParams) *StudentService {
	cfg := params.Config
	if cfg.MinAge <= 0 {
		cfg.MinAge = 5
	}
	if cfg.GraduationMinAttendance <= 0 {
		cfg.GraduationMinAttendance = 75
	}
	if cfg.CodePrefix == "" {
		cfg.CodePrefix = "STU"
	}
	validate := params.Validator
	if validate == nil {
		validate = validator.New()
	}
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StudentService{
		students:    params.Students,
		classes:     params.Classes,
		departments: params.Departments,
		schools:     params.Schools,
		courses:     params.Courses,
		enrollments: params.Enrollments,
		attendance:  params.Attendance,
		billing:     params.Billing,
		sequence:    params.Sequence,
		notifier:    params.Notifier,
		cache:       params.Cache,
		metrics:     params.Metrics,
		tx:          txRunner{db: params.DB, metrics: params.Metrics},
		validator:   validate,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
		cfg:         cfg,
	}
}

// Create registers a draft student, generating a code when none is supplied.
func (s *StudentService) Create(ctx context.Context, tenantID string, req CreateStudentRequest, opts CreateStudentOptions) (*models.Student, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid student payload")
	}
	var (
		student *models.Student
		class   *models.Class
	)
	err := s.tx.run(ctx, "student.create", func(tx *sqlx.Tx) error {
		var err error
		student, err = s.create(ctx, tx, tenantID, req)
		if err != nil {
			return err
		}
		if opts.AutoEnroll {
			student, class, err = s.enroll(ctx, tx, tenantID, student.ID, "", StudentEnrollOptions{})
		}
		return err
	})
	if opts.AutoEnroll {
		s.metrics.RecordTransition("student", "enroll", err)
	}
	if err != nil {
		return nil, err
	}
	s.logger.Info("student created", zap.String("tenant_id", tenantID), zap.String("student_id", student.ID), zap.String("code", student.Code))
	if class != nil {
		s.notifyEnrolled(ctx, tenantID, student, class)
	}
	return student, nil
}

// Ages outside these bounds are treated as data entry errors.
const (
	minPlausibleAge = 3
	maxPlausibleAge = 100
)

// create inserts a draft student inside exec.
func (s *StudentService) create(ctx context.Context, exec sqlx.ExtContext, tenantID string, req CreateStudentRequest) (*models.Student, error) {
	if age := (models.Student{BirthDate: req.BirthDate}).AgeAt(s.now()); age != nil && (*age < minPlausibleAge || *age > maxPlausibleAge) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "birth date gives an implausible age").
			With("age", *age).
			With("min_age", minPlausibleAge).
			With("max_age", maxPlausibleAge)
	}
	var class *models.Class
	if id := deref(req.ClassID); id != "" {
		var err error
		if class, err = s.classes.FindByID(ctx, exec, tenantID, id); err != nil {
			return nil, loadError(err, "class")
		}
	}
	code := strings.TrimSpace(req.Code)
	if code == "" {
		prefix := s.codePrefix(ctx, exec, tenantID, class)
		next, err := s.sequence.Next(ctx, tenantID, prefix)
		if err != nil {
			return nil, internalError(err, "failed to generate student code")
		}
		code = next
	}
	student := &models.Student{
		TenantID:         tenantID,
		PartyID:          strings.TrimSpace(req.PartyID),
		Code:             code,
		FullName:         strings.TrimSpace(req.FullName),
		Gender:           req.Gender,
		BirthDate:        req.BirthDate,
		ClassID:          req.ClassID,
		State:            models.StudentDraft,
		GuardianPartyIDs: req.GuardianPartyIDs,
	}
	if err := s.students.Create(ctx, exec, student); err != nil {
		return nil, writeError(err, "student", "student code already exists")
	}
	return student, nil
}

// codePrefix resolves the school code of the class, falling back to the configured prefix.
func (s *StudentService) codePrefix(ctx context.Context, exec sqlx.ExtContext, tenantID string, class *models.Class) string {
	if class == nil {
		return s.cfg.CodePrefix
	}
	dept, err := s.departments.FindByID(ctx, exec, tenantID, class.DepartmentID)
	if err != nil {
		return s.cfg.CodePrefix
	}
	school, err := s.schools.FindByID(ctx, exec, tenantID, dept.SchoolID)
	if err != nil || strings.TrimSpace(school.Code) == "" {
		return s.cfg.CodePrefix
	}
	return strings.ToUpper(strings.TrimSpace(school.Code))
}

// Get returns a student with its derived statistics.
func (s *StudentService) Get(ctx context.Context, tenantID, id string) (*models.StudentDetail, error) {
	student, err := s.students.FindByID(ctx, nil, tenantID, id)
	if err != nil {
		return nil, loadError(err, "student")
	}
	stats, err := s.stats(ctx, student)
	if err != nil {
		return nil, err
	}
	return &models.StudentDetail{Student: *student, Stats: *stats}, nil
}

// Stats returns the derived statistics of a student.
func (s *StudentService) Stats(ctx context.Context, tenantID, id string) (*models.StudentStats, error) {
	student, err := s.students.FindByID(ctx, nil, tenantID, id)
	if err != nil {
		return nil, loadError(err, "student")
	}
	return s.stats(ctx, student)
}

func (s *StudentService) stats(ctx context.Context, student *models.Student) (*models.StudentStats, error) {
	if cached, ok := s.cache.GetStudentStats(ctx, student.TenantID, student.ID); ok {
		cached.Age = student.AgeAt(s.now())
		return cached, nil
	}
	total, active, err := s.enrollments.CountsForStudent(ctx, student.TenantID, student.ID)
	if err != nil {
		return nil, internalError(err, "failed to count enrollments")
	}
	summary, err := s.attendance.Summary(ctx, nil, student.TenantID, models.AttendanceFilter{StudentID: student.ID})
	if err != nil {
		return nil, internalError(err, "failed to summarise attendance")
	}
	fees, err := s.billing.StudentTotals(ctx, student.TenantID, student.ID)
	if err != nil {
		return nil, internalError(err, "failed to total fees")
	}
	stats := &models.StudentStats{
		StudentID:            student.ID,
		AttendancePercentage: summary.Percentage,
		TotalEnrollments:     total,
		ActiveEnrollments:    active,
		TotalFees:            fees.Total,
		OutstandingFees:      fees.Outstanding,
	}
	s.cache.SetStudentStats(ctx, student.TenantID, stats)
	stats.Age = student.AgeAt(s.now())
	return stats, nil
}

// List returns students with pagination metadata.
func (s *StudentService) List(ctx context.Context, tenantID string, filter models.StudentFilter) ([]models.Student, *models.Pagination, error) {
	if filter.State != "" && !filter.State.Valid() {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "invalid student state filter").With("state", filter.State)
	}
	filter.Normalize()
	students, total, err := s.students.List(ctx, tenantID, filter)
	if err != nil {
		return nil, nil, internalError(err, "failed to list students")
	}
	return students, filter.Paginate(total), nil
}

// Enroll moves a draft student with a class into enrolled.
func (s *StudentService) Enroll(ctx context.Context, tenantID, id string, opts StudentEnrollOptions) (*models.Student, error) {
	var (
		student *models.Student
		class   *models.Class
	)
	err := s.tx.run(ctx, "student.enroll", func(tx *sqlx.Tx) error {
		var err error
		student, class, err = s.enroll(ctx, tx, tenantID, id, "", opts)
		return err
	})
	s.metrics.RecordTransition("student", "enroll", err)
	if err != nil {
		return nil, err
	}
	s.notifyEnrolled(ctx, tenantID, student, class)
	return student, nil
}

// Register enrolls an existing draft student into a class, or creates and enrolls a new one.
func (s *StudentService) Register(ctx context.Context, tenantID string, req RegisterStudentRequest) (*models.Student, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid registration payload")
	}
	existing := deref(req.StudentID)
	if (existing == "") == (req.Student == nil) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "exactly one of student_id or student is required")
	}
	if req.Student != nil {
		if err := s.validator.Struct(req.Student); err != nil {
			return nil, validationError(err, "invalid student payload")
		}
	}
	var (
		student *models.Student
		class   *models.Class
	)
	err := s.tx.run(ctx, "student.register", func(tx *sqlx.Tx) error {
		studentID := existing
		if req.Student != nil {
			create := *req.Student
			create.ClassID = &req.ClassID
			created, err := s.create(ctx, tx, tenantID, create)
			if err != nil {
				return err
			}
			studentID = created.ID
		}
		var err error
		student, class, err = s.enroll(ctx, tx, tenantID, studentID, req.ClassID, StudentEnrollOptions{})
		return err
	})
	s.metrics.RecordTransition("student", "enroll", err)
	if err != nil {
		return nil, err
	}
	s.notifyEnrolled(ctx, tenantID, student, class)
	return student, nil
}

// enroll runs the guarded draft to enrolled move inside tx. classID, when set, reassigns the class first.
func (s *StudentService) enroll(ctx context.Context, tx sqlx.ExtContext, tenantID, id, classID string, opts StudentEnrollOptions) (*models.Student, *models.Class, error) {
	student, err := s.students.LockByID(ctx, tx, tenantID, id)
	if err != nil {
		return nil, nil, loadError(err, "student")
	}
	if student.State != models.StudentDraft {
		return nil, nil, appErrors.Transition("student", id, string(student.State), "enroll")
	}
	if classID != "" {
		student.ClassID = &classID
	}
	if deref(student.ClassID) == "" {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "student must be assigned to a class before enrolling").With("id", id)
	}
	if strings.TrimSpace(student.PartyID) == "" {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "student has no party reference").With("id", id)
	}
	class, err := s.classes.LockByID(ctx, tx, tenantID, *student.ClassID)
	if err != nil {
		return nil, nil, loadError(err, "class")
	}
	now := s.now()
	if !opts.SkipValidation {
		if class.HasLimit() {
			seated, err := s.students.CountSeated(ctx, tx, tenantID, class.ID, student.ID)
			if err != nil {
				return nil, nil, internalError(err, "failed to count class students")
			}
			if seated >= *class.Capacity {
				return nil, nil, appErrors.Clone(appErrors.ErrCapacityExceeded, "class is full").
					With("class_id", class.ID).
					With("capacity", *class.Capacity).
					With("enrolled", seated)
			}
		}
		minAge := s.cfg.MinAge
		if opts.MinAge > 0 {
			minAge = opts.MinAge
		}
		if age := student.AgeAt(now); age != nil && *age < minAge {
			return nil, nil, appErrors.Clone(appErrors.ErrValidation, "student is below the minimum age").
				With("id", id).
				With("age", *age).
				With("min_age", minAge)
		}
	}
	student.State = models.StudentEnrolled
	student.EnrollmentDate = &now
	if err := s.students.UpdateLifecycle(ctx, tx, student, models.StudentDraft); err != nil {
		return nil, nil, transitionError(err, "student", id, string(models.StudentDraft), "enroll")
	}
	return student, class, nil
}

func (s *StudentService) notifyEnrolled(ctx context.Context, tenantID string, student *models.Student, class *models.Class) {
	s.cache.InvalidateStudents(ctx, tenantID, student.ID)
	s.logger.Info("student enrolled", zap.String("tenant_id", tenantID), zap.String("student_id", student.ID), zap.String("class_id", class.ID))
	if s.notifier == nil {
		return
	}
	s.notifier.ScheduleFollowUp(ctx, tenantID, deref(class.TeacherUserID),
		fmt.Sprintf("Student %s (%s) enrolled in class %s", student.FullName, student.Code, class.Name))
}

// Transfer prepares a transfer request for an enrolled or suspended student. The student is not modified.
func (s *StudentService) Transfer(ctx context.Context, tenantID, id string, req TransferStudentRequest) (*models.TransferRequest, error) {
	student, err := s.students.FindByID(ctx, nil, tenantID, id)
	if err != nil {
		return nil, loadError(err, "student")
	}
	if student.State != models.StudentEnrolled && student.State != models.StudentSuspended {
		return nil, appErrors.Transition("student", id, string(student.State), "transfer")
	}
	if target := deref(req.TargetClassID); target != "" {
		if _, err := s.classes.FindByID(ctx, nil, tenantID, target); err != nil {
			return nil, loadError(err, "class")
		}
	}
	if target := deref(req.TargetSchoolID); target != "" {
		if _, err := s.schools.FindByID(ctx, nil, tenantID, target); err != nil {
			return nil, loadError(err, "school")
		}
	}
	return &models.TransferRequest{
		StudentID:      student.ID,
		CurrentClassID: student.ClassID,
		TargetClassID:  req.TargetClassID,
		TargetSchoolID: req.TargetSchoolID,
		Reason:         strings.TrimSpace(req.Reason),
	}, nil
}

// Graduate moves an enrolled student to graduated once attendance and required courses are satisfied.
func (s *StudentService) Graduate(ctx context.Context, tenantID, id string) (*models.Student, error) {
	return s.transition(ctx, tenantID, id, "graduate", []models.StudentState{models.StudentEnrolled}, func(tx *sqlx.Tx, student *models.Student) error {
		summary, err := s.attendance.Summary(ctx, tx, tenantID, models.AttendanceFilter{StudentID: student.ID})
		if err != nil {
			return internalError(err, "failed to summarise attendance")
		}
		missing, err := s.missingRequiredCourses(ctx, tx, student)
		if err != nil {
			return err
		}
		if summary.Percentage < s.cfg.GraduationMinAttendance || len(missing) > 0 {
			e := appErrors.Clone(appErrors.ErrGraduationRequirementsUnmet, "").
				With("id", student.ID).
				With("attendance_percentage", summary.Percentage).
				With("min_attendance_percentage", s.cfg.GraduationMinAttendance)
			if len(missing) > 0 {
				e = e.With("missing_courses", missing)
			}
			return e
		}
		now := s.now()
		student.State = models.StudentGraduated
		student.GraduationDate = &now
		return nil
	})
}

func (s *StudentService) missingRequiredCourses(ctx context.Context, tx sqlx.ExtContext, student *models.Student) ([]string, error) {
	if deref(student.ClassID) == "" {
		return nil, nil
	}
	class, err := s.classes.FindByID(ctx, tx, student.TenantID, *student.ClassID)
	if err != nil {
		return nil, loadError(err, "class")
	}
	required, err := s.courses.RequiredByDepartment(ctx, tx, student.TenantID, class.DepartmentID)
	if err != nil {
		return nil, internalError(err, "failed to load required courses")
	}
	if len(required) == 0 {
		return nil, nil
	}
	completed, err := s.enrollments.CompletedCourseIDs(ctx, tx, student.TenantID, student.ID)
	if err != nil {
		return nil, internalError(err, "failed to load completed courses")
	}
	done := make(map[string]bool, len(completed))
	for _, id := range completed {
		done[id] = true
	}
	var missing []string
	for _, c := range required {
		if !done[c.ID] {
			missing = append(missing, c.Name)
		}
	}
	return missing, nil
}

// Suspend moves an enrolled student to suspended.
func (s *StudentService) Suspend(ctx context.Context, tenantID, id, reason string) (*models.Student, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = defaultSuspensionReason
	}
	return s.transition(ctx, tenantID, id, "suspend", []models.StudentState{models.StudentEnrolled}, func(_ *sqlx.Tx, student *models.Student) error {
		student.State = models.StudentSuspended
		student.SuspensionReason = &reason
		return nil
	})
}

// Reactivate returns a suspended student to enrolled.
func (s *StudentService) Reactivate(ctx context.Context, tenantID, id string) (*models.Student, error) {
	return s.transition(ctx, tenantID, id, "reactivate", []models.StudentState{models.StudentSuspended}, func(_ *sqlx.Tx, student *models.Student) error {
		student.State = models.StudentEnrolled
		student.SuspensionReason = nil
		return nil
	})
}

// Dropout moves an enrolled or suspended student to dropped.
func (s *StudentService) Dropout(ctx context.Context, tenantID, id string) (*models.Student, error) {
	allowed := []models.StudentState{models.StudentEnrolled, models.StudentSuspended}
	return s.transition(ctx, tenantID, id, "dropout", allowed, func(_ *sqlx.Tx, student *models.Student) error {
		student.State = models.StudentDropped
		return nil
	})
}

// transition locks the student, checks the source state, applies mutate and persists the result.
func (s *StudentService) transition(ctx context.Context, tenantID, id, action string, allowed []models.StudentState, mutate func(tx *sqlx.Tx, student *models.Student) error) (*models.Student, error) {
	var student *models.Student
	err := s.tx.run(ctx, "student."+action, func(tx *sqlx.Tx) error {
		var err error
		student, err = s.students.LockByID(ctx, tx, tenantID, id)
		if err != nil {
			return loadError(err, "student")
		}
		from := student.State
		if !stateIn(from, allowed) {
			return appErrors.Transition("student", id, string(from), action)
		}
		if err := mutate(tx, student); err != nil {
			return err
		}
		if err := s.students.UpdateLifecycle(ctx, tx, student, from); err != nil {
			return transitionError(err, "student", id, string(from), action)
		}
		return nil
	})
	s.metrics.RecordTransition("student", action, err)
	if err != nil {
		var appErr *appErrors.Error
		if !errors.As(err, &appErr) || appErr.Kind == appErrors.KindInternal {
			s.logger.Error("student transition failed", zap.String("action", action), zap.String("student_id", id), zap.Error(err))
		}
		return nil, err
	}
	s.cache.InvalidateStudents(ctx, tenantID, id)
	s.logger.Info("student transitioned", zap.String("tenant_id", tenantID), zap.String("student_id", id), zap.String("action", action), zap.String("state", string(student.State)))
	return student, nil
}

func stateIn[S ~string](state S, allowed []S) bool {
	for _, a := range allowed {
		if state == a {
			return true
		}
	}
	return false
}
