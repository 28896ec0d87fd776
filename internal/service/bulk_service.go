package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-enrollment-api/internal/models"
	appErrors "github.com/noah-isme/sma-enrollment-api/pkg/errors"
)

const (
	sessionCheckInHour  = 8
	sessionCheckOutHour = 17
)

type classRoster interface {
	ListEnrolledInClass(ctx context.Context, exec sqlx.ExtContext, tenantID, classID string) ([]models.Student, error)
	FindByID(ctx context.Context, exec sqlx.ExtContext, tenantID, id string) (*models.Student, error)
}

// BulkService builds multi-line sessions that commit through the single-record paths.
type BulkService struct {
	attendance  *AttendanceService
	students    *StudentService
	attendances attendanceStore
	classes     classReader
	roster      classRoster
	notifier    Notifier
	parties     PartyResolver
	cache       *CacheService
	tx          txRunner
	logger      *zap.Logger
}

// NewBulkService constructs BulkService.
func NewBulkService(db txProvider, attendance *AttendanceService, students *StudentService, attendances attendanceStore, classes classReader, roster classRoster, notifier Notifier, cache *CacheService, metrics *MetricsService, logger *zap.Logger) *BulkService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BulkService{
		attendance:  attendance,
		students:    students,
		attendances: attendances,
		classes:     classes,
		roster:      roster,
		notifier:    notifier,
		parties:     StoredPartyResolver{},
		cache:       cache,
		tx:          txRunner{db: db, metrics: metrics},
		logger:      logger,
	}
}

// AttendanceSessionOptions tunes an attendance session.
type AttendanceSessionOptions struct {
	// CourseID links each line to the student's enrolled enrollment in that course.
	CourseID string
	// TrackTime stamps present and late lines with the school day's check in and out.
	TrackTime bool
	// NotifyAbsences schedules a follow-up per absent line for TeacherUserID, or the class teacher when unset.
	NotifyAbsences bool
	// NotifyGuardians schedules a follow-up per absent or late line for each guardian of the student.
	NotifyGuardians bool
	// AllowDuplicate skips the check for attendance already taken in the class that day.
	AllowDuplicate bool
	TeacherUserID  string
}

// AttendanceLine is one student's entry in a session.
type AttendanceLine struct {
	StudentID string                 `json:"student_id"`
	State     models.AttendanceState `json:"state"`
	Notes     string                 `json:"notes,omitempty"`
}

// AttendanceSession accumulates the attendance of one class on one date.
type AttendanceSession struct {
	svc      *BulkService
	tenantID string
	classID  string
	date     time.Time
	opts     AttendanceSessionOptions
	lines    []AttendanceLine
	index    map[string]int
}

// NewAttendanceSession starts an empty session.
func (s *BulkService) NewAttendanceSession(tenantID, classID string, date time.Time, opts AttendanceSessionOptions) *AttendanceSession {
	return &AttendanceSession{
		svc:      s,
		tenantID: tenantID,
		classID:  classID,
		date:     dateOnly(date),
		opts:     opts,
		index:    make(map[string]int),
	}
}

// PrefillFromClass adds every enrolled student of the class as present, keeping lines already added.
func (a *AttendanceSession) PrefillFromClass(ctx context.Context) error {
	students, err := a.svc.roster.ListEnrolledInClass(ctx, nil, a.tenantID, a.classID)
	if err != nil {
		return internalError(err, "failed to load class roster")
	}
	for _, st := range students {
		if _, ok := a.index[st.ID]; ok {
			continue
		}
		a.append(AttendanceLine{StudentID: st.ID, State: models.AttendancePresent})
	}
	return nil
}

// Add sets the line of a student, replacing any earlier entry for the same student.
func (a *AttendanceSession) Add(studentID string, state models.AttendanceState, notes string) error {
	studentID = strings.TrimSpace(studentID)
	if studentID == "" {
		return appErrors.Clone(appErrors.ErrValidation, "student_id is required")
	}
	if !state.Valid() {
		return appErrors.Clone(appErrors.ErrValidation, "invalid attendance state").With("state", state)
	}
	line := AttendanceLine{StudentID: studentID, State: state, Notes: strings.TrimSpace(notes)}
	if i, ok := a.index[studentID]; ok {
		a.lines[i] = line
		return nil
	}
	a.append(line)
	return nil
}

func (a *AttendanceSession) append(line AttendanceLine) {
	a.index[line.StudentID] = len(a.lines)
	a.lines = append(a.lines, line)
}

// MarkAll sets every line to state.
func (a *AttendanceSession) MarkAll(state models.AttendanceState) error {
	if !state.Valid() {
		return appErrors.Clone(appErrors.ErrValidation, "invalid attendance state").With("state", state)
	}
	for i := range a.lines {
		a.lines[i].State = state
	}
	return nil
}

// Lines returns a copy of the accumulated lines.
func (a *AttendanceSession) Lines() []AttendanceLine {
	return append([]AttendanceLine(nil), a.lines...)
}

// Summary counts the lines per state.
func (a *AttendanceSession) Summary() models.AttendanceSummary {
	var summary models.AttendanceSummary
	for _, line := range a.lines {
		summary.Total++
		switch line.State {
		case models.AttendancePresent:
			summary.Present++
		case models.AttendanceAbsent:
			summary.Absent++
		case models.AttendanceLate:
			summary.Late++
		case models.AttendanceExcused:
			summary.Excused++
		}
	}
	summary.Percentage = models.Percentage(summary.Present, summary.Total)
	return summary
}

// Commit records every line in one transaction. The first failing line aborts the session.
func (a *AttendanceSession) Commit(ctx context.Context) ([]models.Attendance, error) {
	if len(a.lines) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "attendance session has no lines")
	}
	var (
		class   *models.Class
		records []models.Attendance
	)
	err := a.svc.tx.run(ctx, "attendance.session", func(tx *sqlx.Tx) error {
		var err error
		class, err = a.svc.classes.FindByID(ctx, tx, a.tenantID, a.classID)
		if err != nil {
			return loadError(err, "class")
		}
		if !a.opts.AllowDuplicate {
			taken, err := a.svc.attendances.ExistsForClassDate(ctx, tx, a.tenantID, a.classID, a.date)
			if err != nil {
				return internalError(err, "failed to check class attendance")
			}
			if taken {
				return appErrors.Clone(appErrors.ErrDuplicateRecord, "attendance already taken for class on this date").
					With("entity", "attendance").
					With("class_id", a.classID).
					With("date", a.date.Format("2006-01-02"))
			}
		}
		records = make([]models.Attendance, 0, len(a.lines))
		for i, line := range a.lines {
			record, err := a.svc.attendance.record(ctx, tx, a.tenantID, a.request(line))
			if err != nil {
				return lineError(err, i+1, line.StudentID)
			}
			records = append(records, *record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.StudentID)
	}
	a.svc.cache.InvalidateStudents(ctx, a.tenantID, ids...)
	a.svc.logger.Info("attendance session committed", zap.String("tenant_id", a.tenantID), zap.String("class_id", a.classID), zap.Int("lines", len(records)))
	if a.opts.NotifyAbsences || a.opts.NotifyGuardians {
		a.notify(ctx, class)
	}
	return records, nil
}

func (a *AttendanceSession) request(line AttendanceLine) RecordAttendanceRequest {
	req := RecordAttendanceRequest{
		StudentID:     line.StudentID,
		ClassID:       a.classID,
		Date:          a.date,
		State:         line.State,
		CourseID:      strPtr(a.opts.CourseID),
		TeacherUserID: strPtr(a.opts.TeacherUserID),
		Notes:         strPtr(line.Notes),
	}
	if a.opts.TrackTime && (line.State == models.AttendancePresent || line.State == models.AttendanceLate) {
		in := a.date.Add(sessionCheckInHour * time.Hour)
		out := a.date.Add(sessionCheckOutHour * time.Hour)
		req.CheckIn, req.CheckOut = &in, &out
	}
	return req
}

func (a *AttendanceSession) notify(ctx context.Context, class *models.Class) {
	if a.svc.notifier == nil || class == nil {
		return
	}
	teacher := a.opts.TeacherUserID
	if teacher == "" {
		teacher = deref(class.TeacherUserID)
	}
	students := a.students(ctx)
	day := a.date.Format("2006-01-02")
	for _, line := range a.lines {
		var note string
		switch line.State {
		case models.AttendanceAbsent:
			note = "was absent from"
		case models.AttendanceLate:
			note = "was late to"
		default:
			continue
		}
		student := students[line.StudentID]
		name := line.StudentID
		if student != nil {
			name = student.FullName
		}
		note = fmt.Sprintf("Student %s %s class %s on %s", name, note, class.Name, day)

		if a.opts.NotifyAbsences && line.State == models.AttendanceAbsent && teacher != "" {
			a.svc.notifier.ScheduleFollowUp(ctx, a.tenantID, teacher, note)
		}
		if !a.opts.NotifyGuardians || student == nil {
			continue
		}
		guardians, err := a.svc.parties.Guardians(ctx, student)
		if err != nil {
			a.svc.logger.Warn("resolve guardians failed", zap.String("student_id", student.ID), zap.Error(err))
			continue
		}
		for _, guardian := range guardians {
			a.svc.notifier.ScheduleFollowUp(ctx, a.tenantID, guardian, note)
		}
	}
}

// students maps the session's absent and late students by id, from the class roster first.
func (a *AttendanceSession) students(ctx context.Context) map[string]*models.Student {
	out := make(map[string]*models.Student)
	roster, err := a.svc.roster.ListEnrolledInClass(ctx, nil, a.tenantID, a.classID)
	if err != nil {
		a.svc.logger.Warn("load class roster failed", zap.String("class_id", a.classID), zap.Error(err))
	}
	for i := range roster {
		out[roster[i].ID] = &roster[i]
	}
	for _, line := range a.lines {
		if line.State != models.AttendanceAbsent && line.State != models.AttendanceLate {
			continue
		}
		if _, ok := out[line.StudentID]; ok {
			continue
		}
		student, err := a.svc.roster.FindByID(ctx, nil, a.tenantID, line.StudentID)
		if err != nil {
			a.svc.logger.Warn("load student failed", zap.String("student_id", line.StudentID), zap.Error(err))
			continue
		}
		out[student.ID] = student
	}
	return out
}

// StudentBatchLine is one student to register in a batch.
type StudentBatchLine struct {
	FullName string `json:"full_name"`
	PartyID  string `json:"party_id"`
}

// StudentBatch accumulates draft students for one class.
type StudentBatch struct {
	svc      *BulkService
	tenantID string
	classID  string
	lines    []StudentBatchLine
}

// NewStudentBatch starts an empty batch for a class.
func (s *BulkService) NewStudentBatch(tenantID, classID string) *StudentBatch {
	return &StudentBatch{svc: s, tenantID: tenantID, classID: classID}
}

// Add appends a student line.
func (b *StudentBatch) Add(fullName, partyID string) error {
	fullName, partyID = strings.TrimSpace(fullName), strings.TrimSpace(partyID)
	if fullName == "" || partyID == "" {
		return appErrors.Clone(appErrors.ErrValidation, "full_name and party_id are required").With("line", len(b.lines)+1)
	}
	b.lines = append(b.lines, StudentBatchLine{FullName: fullName, PartyID: partyID})
	return nil
}

// Len reports the number of lines.
func (b *StudentBatch) Len() int {
	return len(b.lines)
}

// Commit creates every line as a draft student of the class in one transaction.
func (b *StudentBatch) Commit(ctx context.Context) ([]models.Student, error) {
	if len(b.lines) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "student batch has no lines")
	}
	var created []models.Student
	err := b.svc.tx.run(ctx, "student.batch", func(tx *sqlx.Tx) error {
		created = make([]models.Student, 0, len(b.lines))
		for i, line := range b.lines {
			classID := b.classID
			req := CreateStudentRequest{PartyID: line.PartyID, FullName: line.FullName, ClassID: &classID}
			if err := b.svc.students.validator.Struct(req); err != nil {
				return lineError(validationError(err, "invalid student payload"), i+1, "")
			}
			student, err := b.svc.students.create(ctx, tx, b.tenantID, req)
			if err != nil {
				return lineError(err, i+1, "")
			}
			created = append(created, *student)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	b.svc.logger.Info("student batch committed", zap.String("tenant_id", b.tenantID), zap.String("class_id", b.classID), zap.Int("lines", len(created)))
	return created, nil
}

// lineError tags err with the 1-based line that produced it.
func lineError(err error, line int, studentID string) error {
	var appErr *appErrors.Error
	if !errors.As(err, &appErr) {
		return internalError(err, fmt.Sprintf("line %d failed", line))
	}
	tagged := appErr.With("line", line)
	if studentID != "" {
		tagged = tagged.With("student_id", studentID)
	}
	return tagged
}
