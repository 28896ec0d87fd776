package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-enrollment-api/internal/models"
	appErrors "github.com/noah-isme/sma-enrollment-api/pkg/errors"
)

func TestEnrollmentFullLifecycleWithInvoiceAndGrade(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	class := f.seedClass("dept-x", nil)
	student := f.seedStudent("Sari", models.StudentEnrolled, &class.ID)
	course := f.seedCourse("Physics", 100, 0)

	f.commits(3)
	created, err := f.enrollments.Create(ctx, testTenant, CreateEnrollmentRequest{StudentID: student.ID, CourseID: course.ID}, CreateEnrollmentOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentDraft, created.State)

	_, err = f.enrollments.Confirm(ctx, testTenant, created.ID, ConfirmOptions{})
	require.NoError(t, err)

	enrolled, err := f.enrollments.Enroll(ctx, testTenant, created.ID, EnrollOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentEnrolled, enrolled.State)
	require.NotNil(t, enrolled.InvoiceID)

	invoice := f.db.invoices[*enrolled.InvoiceID]
	assert.Equal(t, 100.0, invoice.AmountTotal)
	assert.Equal(t, 1.0, invoice.Quantity)
	assert.Equal(t, "Course Enrollment: Physics", invoice.Description)
	assert.Equal(t, student.PartyID, invoice.PayerPartyID)
	assert.Equal(t, "income:tuition", deref(invoice.ProductRef))

	f.commits(10)
	for day := 1; day <= 10; day++ {
		state := models.AttendancePresent
		if day > 8 {
			state = models.AttendanceAbsent
		}
		_, err := f.attendance.Record(ctx, testTenant, RecordAttendanceRequest{
			StudentID:    student.ID,
			ClassID:      class.ID,
			Date:         time.Date(2026, 2, day, 0, 0, 0, 0, time.UTC),
			State:        state,
			EnrollmentID: &created.ID,
		})
		require.NoError(t, err)
	}

	detail, err := f.enrollments.Get(ctx, testTenant, created.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, detail.Stats.TotalClasses)
	assert.Equal(t, 8, detail.Stats.AttendedClasses)
	assert.InDelta(t, 80.0, detail.Stats.AttendancePercentage, 0.001)

	f.commits(2)
	_, err = f.enrollments.SetScore(ctx, testTenant, created.ID, 92)
	require.NoError(t, err)
	completed, err := f.enrollments.Complete(ctx, testTenant, created.ID, CompleteOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentCompleted, completed.State)
	require.NotNil(t, completed.Grade)
	assert.Equal(t, "A", *completed.Grade)
	require.NotNil(t, completed.CompletionDate)
	assert.True(t, completed.CompletionDate.Equal(f.now))

	stats, err := f.students.Stats(ctx, testTenant, student.ID)
	require.NoError(t, err)
	assert.Equal(t, 100.0, stats.TotalFees)
	assert.Equal(t, 100.0, stats.OutstandingFees)
	assert.Equal(t, 1, stats.TotalEnrollments)
	assert.Equal(t, 0, stats.ActiveEnrollments)
}

func TestConfirmFailsWhenPrerequisiteMissing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c0 := f.seedCourse("Algebra I", 0, 0)
	c2 := f.seedCourse("Algebra II", 0, 0, c0.ID)
	s2 := f.seedStudent("Budi", models.StudentEnrolled, nil)
	e := f.seedEnrollment(s2.ID, c2.ID, models.EnrollmentDraft)

	f.rollback()
	_, err := f.enrollments.Confirm(ctx, testTenant, e.ID, ConfirmOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrUnmetPrerequisite)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.KindState, appErr.Kind)
	assert.Equal(t, []string{"Algebra I"}, appErr.Details["missing_courses"])
	assert.Contains(t, appErr.Message, "Algebra I")
	assert.Equal(t, models.EnrollmentDraft, f.enrollmentState(e.ID))

	f.seedEnrollment(s2.ID, c0.ID, models.EnrollmentCompleted)
	f.commits(1)
	confirmed, err := f.enrollments.Confirm(ctx, testTenant, e.ID, ConfirmOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentConfirmed, confirmed.State)
}

func TestConfirmSkipPrerequisites(t *testing.T) {
	f := newFixture(t)
	c0 := f.seedCourse("Algebra I", 0, 0)
	c1 := f.seedCourse("Algebra II", 0, 0, c0.ID)
	s := f.seedStudent("Citra", models.StudentEnrolled, nil)
	e := f.seedEnrollment(s.ID, c1.ID, models.EnrollmentDraft)

	f.commits(1)
	confirmed, err := f.enrollments.Confirm(context.Background(), testTenant, e.ID, ConfirmOptions{SkipPrerequisites: true})
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentConfirmed, confirmed.State)
}

func TestConfirmCapacity(t *testing.T) {
	cases := []struct {
		name     string
		capacity int
		active   int
		opts     ConfirmOptions
		wantErr  bool
	}{
		{name: "below capacity", capacity: 2, active: 1},
		{name: "at capacity", capacity: 2, active: 2, wantErr: true},
		{name: "unlimited", capacity: 0, active: 5},
		{name: "skip capacity", capacity: 1, active: 1, opts: ConfirmOptions{SkipCapacity: true}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			course := f.seedCourse("Chemistry", 0, tc.capacity)
			for i := 0; i < tc.active; i++ {
				other := f.seedStudent("other", models.StudentEnrolled, nil)
				state := models.EnrollmentConfirmed
				if i%2 == 1 {
					state = models.EnrollmentEnrolled
				}
				f.seedEnrollment(other.ID, course.ID, state)
			}
			cancelled := f.seedStudent("gone", models.StudentEnrolled, nil)
			f.seedEnrollment(cancelled.ID, course.ID, models.EnrollmentCancelled)
			s := f.seedStudent("Dewi", models.StudentEnrolled, nil)
			e := f.seedEnrollment(s.ID, course.ID, models.EnrollmentDraft)

			if tc.wantErr {
				f.rollback()
			} else {
				f.commits(1)
			}
			_, err := f.enrollments.Confirm(context.Background(), testTenant, e.ID, tc.opts)
			if tc.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, appErrors.ErrCapacityExceeded)
				assert.Equal(t, tc.active, appErrors.FromError(err).Details["active"])
				assert.Equal(t, models.EnrollmentDraft, f.enrollmentState(e.ID))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, models.EnrollmentConfirmed, f.enrollmentState(e.ID))
		})
	}
}

func TestTerminalEnrollmentsRejectEveryTransition(t *testing.T) {
	ctx := context.Background()
	for _, state := range []models.EnrollmentState{models.EnrollmentCompleted, models.EnrollmentCancelled, models.EnrollmentFailed} {
		t.Run(string(state), func(t *testing.T) {
			f := newFixture(t)
			course := f.seedCourse("Biology", 50, 0)
			s := f.seedStudent("Eka", models.StudentEnrolled, nil)
			e := f.seedEnrollment(s.ID, course.ID, state)

			actions := map[string]func() error{
				"confirm": func() error {
					_, err := f.enrollments.Confirm(ctx, testTenant, e.ID, ConfirmOptions{})
					return err
				},
				"enroll": func() error {
					_, err := f.enrollments.Enroll(ctx, testTenant, e.ID, EnrollOptions{})
					return err
				},
				"complete": func() error {
					_, err := f.enrollments.Complete(ctx, testTenant, e.ID, CompleteOptions{})
					return err
				},
				"cancel": func() error {
					_, err := f.enrollments.Cancel(ctx, testTenant, e.ID, CancelOptions{})
					return err
				},
				"fail": func() error {
					_, err := f.enrollments.Fail(ctx, testTenant, e.ID)
					return err
				},
			}
			for action, run := range actions {
				f.rollback()
				err := run()
				require.Error(t, err, action)
				assert.ErrorIs(t, err, appErrors.ErrInvalidStateTransition, action)
				details := appErrors.FromError(err).Details
				assert.Equal(t, string(state), details["state"], action)
				assert.Equal(t, e.ID, details["id"], action)
			}
			assert.Equal(t, state, f.enrollmentState(e.ID))
		})
	}
}

func TestCancelCompletedEnrollmentFails(t *testing.T) {
	f := newFixture(t)
	course := f.seedCourse("History", 0, 0)
	s := f.seedStudent("Fajar", models.StudentEnrolled, nil)
	e := f.seedEnrollment(s.ID, course.ID, models.EnrollmentCompleted)

	f.rollback()
	_, err := f.enrollments.Cancel(context.Background(), testTenant, e.ID, CancelOptions{Reason: "changed mind"})
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrInvalidStateTransition)
	assert.Equal(t, "cancel", appErrors.FromError(err).Details["action"])
}

func TestCompleteRequiresAttendance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	class := f.seedClass("dept-x", nil)
	course := f.seedCourse("Geography", 0, 0)
	s := f.seedStudent("Gita", models.StudentEnrolled, &class.ID)
	e := f.seedEnrollment(s.ID, course.ID, models.EnrollmentEnrolled)
	for day := 1; day <= 4; day++ {
		state := models.AttendancePresent
		if day > 2 {
			state = models.AttendanceLate
		}
		f.seedAttendance(s.ID, class.ID, e.ID, day, state)
	}

	for i := 0; i < 2; i++ {
		f.rollback()
		_, err := f.enrollments.Complete(ctx, testTenant, e.ID, CompleteOptions{})
		require.Error(t, err)
		assert.ErrorIs(t, err, appErrors.ErrAttendanceBelowMinimum)
		assert.Equal(t, 50.0, appErrors.FromError(err).Details["attendance_percentage"])
		assert.Equal(t, models.EnrollmentEnrolled, f.enrollmentState(e.ID))
	}

	threshold := 50.0
	f.commits(1)
	completed, err := f.enrollments.Complete(ctx, testTenant, e.ID, CompleteOptions{MinAttendancePercentage: &threshold})
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentCompleted, completed.State)
	assert.Nil(t, completed.Grade)
}

func TestCompleteWithNoAttendanceFailsAtDefaultThreshold(t *testing.T) {
	f := newFixture(t)
	course := f.seedCourse("Art", 0, 0)
	s := f.seedStudent("Hadi", models.StudentEnrolled, nil)
	e := f.seedEnrollment(s.ID, course.ID, models.EnrollmentEnrolled)

	f.rollback()
	_, err := f.enrollments.Complete(context.Background(), testTenant, e.ID, CompleteOptions{})
	assert.ErrorIs(t, err, appErrors.ErrAttendanceBelowMinimum)
}

func TestInvoiceGeneratedAtMostOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	course := f.seedCourse("Music", 75, 0)
	s := f.seedStudent("Indah", models.StudentEnrolled, nil)
	e := f.seedEnrollment(s.ID, course.ID, models.EnrollmentConfirmed)

	f.commits(1)
	enrolled, err := f.enrollments.Enroll(ctx, testTenant, e.ID, EnrollOptions{})
	require.NoError(t, err)
	require.NotNil(t, enrolled.InvoiceID)

	f.rollback()
	_, err = f.enrollments.GenerateInvoice(ctx, testTenant, e.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrInvoiceAlreadyExists)
	assert.Len(t, f.db.invoices, 1)
}

func TestEnrollSkipsInvoiceForFreeCourse(t *testing.T) {
	f := newFixture(t)
	course := f.seedCourse("Scouting", 0, 0)
	s := f.seedStudent("Joko", models.StudentEnrolled, nil)
	e := f.seedEnrollment(s.ID, course.ID, models.EnrollmentConfirmed)

	f.commits(1)
	enrolled, err := f.enrollments.Enroll(context.Background(), testTenant, e.ID, EnrollOptions{})
	require.NoError(t, err)
	assert.Nil(t, enrolled.InvoiceID)
	assert.Empty(t, f.db.invoices)
}

func TestEnrollWithoutInvoiceOption(t *testing.T) {
	f := newFixture(t)
	course := f.seedCourse("Drama", 40, 0)
	s := f.seedStudent("Kiki", models.StudentEnrolled, nil)
	e := f.seedEnrollment(s.ID, course.ID, models.EnrollmentConfirmed)

	generate := false
	f.commits(1)
	enrolled, err := f.enrollments.Enroll(context.Background(), testTenant, e.ID, EnrollOptions{GenerateInvoice: &generate})
	require.NoError(t, err)
	assert.Nil(t, enrolled.InvoiceID)
	assert.Empty(t, f.db.invoices)
}

func TestBillingFailureAbortsEnroll(t *testing.T) {
	f := newFixture(t)
	f.enrollments.billing = failingBilling{}
	course := f.seedCourse("Robotics", 120, 0)
	s := f.seedStudent("Lina", models.StudentEnrolled, nil)
	e := f.seedEnrollment(s.ID, course.ID, models.EnrollmentConfirmed)

	f.rollback()
	_, err := f.enrollments.Enroll(context.Background(), testTenant, e.ID, EnrollOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrIntegration)
	assert.Equal(t, appErrors.KindIntegration, appErrors.KindOf(err))
	assert.Equal(t, models.EnrollmentConfirmed, f.enrollmentState(e.ID))
}

func TestCancelRefundsOnlyPaidInvoices(t *testing.T) {
	cases := []struct {
		status     models.InvoiceStatus
		wantRefund bool
	}{
		{status: models.InvoiceUnpaid},
		{status: models.InvoicePartiallyPaid, wantRefund: true},
		{status: models.InvoicePaid, wantRefund: true},
	}
	for _, tc := range cases {
		t.Run(string(tc.status), func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			course := f.seedCourse("Dance", 60, 0)
			s := f.seedStudent("Maya", models.StudentEnrolled, nil)
			e := f.seedEnrollment(s.ID, course.ID, models.EnrollmentConfirmed)

			f.commits(2)
			enrolled, err := f.enrollments.Enroll(ctx, testTenant, e.ID, EnrollOptions{})
			require.NoError(t, err)
			f.invoices.setStatus(*enrolled.InvoiceID, tc.status)

			cancelled, err := f.enrollments.Cancel(ctx, testTenant, e.ID, CancelOptions{ProcessRefund: true})
			require.NoError(t, err)
			assert.Equal(t, models.EnrollmentCancelled, cancelled.State)
			assert.Equal(t, defaultCancellationReason, deref(cancelled.CancellationReason))

			var refunds []models.Invoice
			for _, inv := range f.db.invoices {
				if inv.Kind == models.InvoiceKindRefund {
					refunds = append(refunds, inv)
				}
			}
			if !tc.wantRefund {
				assert.Empty(t, refunds)
				return
			}
			require.Len(t, refunds, 1)
			assert.Equal(t, *enrolled.InvoiceID, deref(refunds[0].ReversedInvoiceID))
			assert.Equal(t, 60.0, refunds[0].AmountTotal)
		})
	}
}

func TestCreateEnrollmentIsUniquePerStudentAndCourse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	course := f.seedCourse("Economics", 0, 0)
	s := f.seedStudent("Nina", models.StudentEnrolled, nil)
	f.seedEnrollment(s.ID, course.ID, models.EnrollmentCancelled)

	f.rollback()
	_, err := f.enrollments.Create(ctx, testTenant, CreateEnrollmentRequest{StudentID: s.ID, CourseID: course.ID}, CreateEnrollmentOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrDuplicateRecord)
	assert.Equal(t, appErrors.KindValidation, appErrors.KindOf(err))
}

func TestCreateEnrollmentAutoConfirmNotifiesTeacher(t *testing.T) {
	f := newFixture(t)
	course := f.seedCourse("Informatics", 0, 10)
	s := f.seedStudent("Oki", models.StudentEnrolled, nil)

	f.commits(1)
	e, err := f.enrollments.Create(context.Background(), testTenant,
		CreateEnrollmentRequest{StudentID: s.ID, CourseID: course.ID},
		CreateEnrollmentOptions{AutoConfirm: true, Confirm: ConfirmOptions{NotifyTeacher: true}})
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentConfirmed, e.State)

	notes := f.notifier.sent()
	require.Len(t, notes, 1)
	assert.Equal(t, "teacher-2", notes[0].UserID)
	assert.Contains(t, notes[0].Note, "Informatics")
}

func TestCreateEnrollmentRejectsGraduatedStudent(t *testing.T) {
	f := newFixture(t)
	course := f.seedCourse("Latin", 0, 0)
	s := f.seedStudent("Putri", models.StudentGraduated, nil)

	f.rollback()
	_, err := f.enrollments.Create(context.Background(), testTenant, CreateEnrollmentRequest{StudentID: s.ID, CourseID: course.ID}, CreateEnrollmentOptions{})
	assert.ErrorIs(t, err, appErrors.ErrInvalidStateTransition)
}

func TestSetScoreValidatesRangeAndState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	course := f.seedCourse("Statistics", 0, 0)
	s := f.seedStudent("Rina", models.StudentEnrolled, nil)
	e := f.seedEnrollment(s.ID, course.ID, models.EnrollmentEnrolled)
	gone := f.seedEnrollment(f.seedStudent("Sinta", models.StudentEnrolled, nil).ID, course.ID, models.EnrollmentCancelled)

	_, err := f.enrollments.SetScore(ctx, testTenant, e.ID, 101)
	assert.ErrorIs(t, err, appErrors.ErrValidation)
	_, err = f.enrollments.SetScore(ctx, testTenant, e.ID, -1)
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	f.rollback()
	_, err = f.enrollments.SetScore(ctx, testTenant, gone.ID, 80)
	assert.ErrorIs(t, err, appErrors.ErrInvalidStateTransition)

	f.commits(1)
	scored, err := f.enrollments.SetScore(ctx, testTenant, e.ID, 100)
	require.NoError(t, err)
	assert.Equal(t, 100.0, *scored.Score)
}

func TestDeleteOnlyDraftOrCancelled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	course := f.seedCourse("Ethics", 0, 0)
	active := f.seedEnrollment(f.seedStudent("Tono", models.StudentEnrolled, nil).ID, course.ID, models.EnrollmentEnrolled)
	draft := f.seedEnrollment(f.seedStudent("Umi", models.StudentEnrolled, nil).ID, course.ID, models.EnrollmentDraft)

	err := f.enrollments.Delete(ctx, testTenant, active.ID)
	assert.ErrorIs(t, err, appErrors.ErrInvalidStateTransition)

	require.NoError(t, f.enrollments.Delete(ctx, testTenant, draft.ID))
	_, err = f.enrollments.Get(ctx, testTenant, draft.ID)
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestListEnrollmentsRejectsUnknownState(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.enrollments.List(context.Background(), testTenant, models.EnrollmentFilter{State: "archived"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}
