package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitionCarriesContext(t *testing.T) {
	err := Transition("enrollment", "enr-1", "completed", "cancel")

	assert.Equal(t, ErrInvalidStateTransition.Code, err.Code)
	assert.Equal(t, KindState, err.Kind)
	assert.Equal(t, "completed", err.Details["state"])
	assert.Equal(t, "cancel", err.Details["action"])
	assert.Equal(t, "enr-1", err.Details["id"])
	assert.True(t, errors.Is(err, ErrInvalidStateTransition))
	assert.False(t, errors.Is(err, ErrCapacityExceeded))
}

func TestCloneDoesNotShareDetails(t *testing.T) {
	base := ErrUnmetPrerequisite.With("missing", []string{"Algebra"})
	clone := Clone(base, "")
	clone.Details["missing"] = []string{"Physics"}

	assert.Equal(t, []string{"Algebra"}, base.Details["missing"])
	assert.Nil(t, ErrUnmetPrerequisite.Details)
}

func TestFromErrorWrapsUnknown(t *testing.T) {
	err := FromError(fmt.Errorf("boom"))
	require.NotNil(t, err)
	assert.Equal(t, http.StatusInternalServerError, err.Status)
	assert.Equal(t, KindInternal, KindOf(err))

	integration := Integration(fmt.Errorf("timeout"), "create invoice")
	wrapped := fmt.Errorf("enroll: %w", integration)
	assert.Equal(t, KindIntegration, KindOf(wrapped))
	assert.Equal(t, http.StatusBadGateway, FromError(wrapped).Status)
}

func TestCatalogueCodesAreUniqueWithExpectedKinds(t *testing.T) {
	catalogue := []struct {
		err    *Error
		kind   Kind
		status int
	}{
		{ErrNotFound, KindValidation, http.StatusNotFound},
		{ErrForbidden, KindValidation, http.StatusForbidden},
		{ErrUnauthorized, KindValidation, http.StatusUnauthorized},
		{ErrValidation, KindValidation, http.StatusBadRequest},
		{ErrDuplicateRecord, KindValidation, http.StatusConflict},
		{ErrInvalidTimeRange, KindValidation, http.StatusBadRequest},
		{ErrFutureDate, KindValidation, http.StatusBadRequest},
		{ErrPrerequisiteCycle, KindValidation, http.StatusBadRequest},
		{ErrInvalidStateTransition, KindState, http.StatusConflict},
		{ErrUnmetPrerequisite, KindState, http.StatusUnprocessableEntity},
		{ErrCapacityExceeded, KindState, http.StatusConflict},
		{ErrAttendanceBelowMinimum, KindState, http.StatusUnprocessableEntity},
		{ErrGraduationRequirementsUnmet, KindState, http.StatusUnprocessableEntity},
		{ErrInvoiceAlreadyExists, KindState, http.StatusConflict},
		{ErrIntegration, KindIntegration, http.StatusBadGateway},
	}
	seen := make(map[string]bool, len(catalogue))
	for _, tc := range catalogue {
		assert.False(t, seen[tc.err.Code], "duplicate code %s", tc.err.Code)
		seen[tc.err.Code] = true
		assert.Equal(t, tc.kind, tc.err.Kind, tc.err.Code)
		assert.Equal(t, tc.status, tc.err.Status, tc.err.Code)
	}
}
