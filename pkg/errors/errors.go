package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind groups error codes into the failure families callers branch on.
type Kind string

const (
	KindValidation  Kind = "validation"
	KindState       Kind = "state"
	KindIntegration Kind = "integration"
	KindInternal    Kind = "internal"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string                 `json:"code"`
	Kind    Kind                   `json:"kind"`
	Message string                 `json:"message"`
	Status  int                    `json:"status"`
	Details map[string]interface{} `json:"details,omitempty"`
	Err     error                  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches errors sharing the same code so clones compare equal to their template.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// With returns a copy carrying an extra detail entry.
func (e *Error) With(key string, value interface{}) *Error {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Details = make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		clone.Details[k] = v
	}
	clone.Details[key] = value
	return &clone
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Kind: kindForStatus(status), Status: status, Message: message}
}

func newKind(kind Kind, code string, status int, message string) *Error {
	return &Error{Code: code, Kind: kind, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Kind: kindForStatus(status), Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrNotFound     = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden    = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrValidation   = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal     = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrCacheMiss    = New("CACHE_MISS", http.StatusNotFound, "cache miss")

	ErrDuplicateRecord   = newKind(KindValidation, "DUPLICATE_RECORD", http.StatusConflict, "record already exists")
	ErrInvalidTimeRange  = newKind(KindValidation, "INVALID_TIME_RANGE", http.StatusBadRequest, "check out time must be after check in time")
	ErrFutureDate        = newKind(KindValidation, "FUTURE_DATE", http.StatusBadRequest, "date cannot be in the future")
	ErrPrerequisiteCycle = newKind(KindValidation, "PREREQUISITE_CYCLE", http.StatusBadRequest, "prerequisites must not form a cycle")

	ErrInvalidStateTransition      = newKind(KindState, "INVALID_STATE_TRANSITION", http.StatusConflict, "invalid state transition")
	ErrUnmetPrerequisite           = newKind(KindState, "UNMET_PREREQUISITE", http.StatusUnprocessableEntity, "student has not completed prerequisite courses")
	ErrCapacityExceeded            = newKind(KindState, "CAPACITY_EXCEEDED", http.StatusConflict, "capacity exceeded")
	ErrAttendanceBelowMinimum      = newKind(KindState, "ATTENDANCE_BELOW_MINIMUM", http.StatusUnprocessableEntity, "attendance below minimum requirement")
	ErrGraduationRequirementsUnmet = newKind(KindState, "GRADUATION_REQUIREMENTS_UNMET", http.StatusUnprocessableEntity, "graduation requirements not met")
	ErrInvoiceAlreadyExists        = newKind(KindState, "INVOICE_ALREADY_EXISTS", http.StatusConflict, "invoice already exists for this enrollment")

	ErrIntegration = newKind(KindIntegration, "INTEGRATION_ERROR", http.StatusBadGateway, "billing collaborator failed")
)

// Transition builds an InvalidStateTransition error naming the entity, its current state and the attempted action.
func Transition(entity, id, state, action string) *Error {
	err := Clone(ErrInvalidStateTransition, fmt.Sprintf("cannot %s %s in state %s", action, entity, state))
	err.Details = map[string]interface{}{
		"entity": entity,
		"id":     id,
		"state":  state,
		"action": action,
	}
	return err
}

// Integration wraps a collaborator failure.
func Integration(err error, message string) *Error {
	e := Clone(ErrIntegration, message)
	e.Err = err
	return e
}

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	if err.Details != nil {
		clone.Details = make(map[string]interface{}, len(err.Details))
		for k, v := range err.Details {
			clone.Details[k] = v
		}
	}
	return &clone
}

// KindOf reports the family of err, defaulting to internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) && e.Kind != "" {
		return e.Kind
	}
	return KindInternal
}

func kindForStatus(status int) Kind {
	switch {
	case status >= 500:
		return KindInternal
	default:
		return KindValidation
	}
}
