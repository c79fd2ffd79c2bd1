// Package apperr defines the error kinds shared by services and the HTTP layer.
package apperr

import (
	"errors"
	"net/http"
)

// Kind classifies an error for status mapping.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindConflict
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindBadInput
	KindServiceUnavailable
	KindService
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindBadInput:
		return "bad_input"
	case KindServiceUnavailable:
		return "service_unavailable"
	case KindService:
		return "service"
	default:
		return "internal"
	}
}

// Status returns the HTTP status code for the kind.
func (k Kind) Status() int {
	switch k {
	case KindValidation, KindConflict, KindBadInput:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified application error.
//
// ID is the translation key used for the user-facing message, Msg the English
// fallback. Err, when set, is the upstream cause and is appended to the detail
// for collaborator failures. Data feeds placeholders in the translation.
type Error struct {
	Kind Kind
	ID   string
	Msg  string
	Err  error
	Data map[string]any
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an error of the given kind.
func New(kind Kind, id, msg string) *Error {
	return &Error{Kind: kind, ID: id, Msg: msg}
}

// Wrap builds an error of the given kind around a cause.
func Wrap(kind Kind, id, msg string, err error) *Error {
	return &Error{Kind: kind, ID: id, Msg: msg, Err: err}
}

// Field builds a validation error about one request field.
func Field(id, field, msg string) *Error {
	return &Error{Kind: KindValidation, ID: id, Msg: msg, Data: map[string]any{"Field": field}}
}

// KindOf reports the kind of err, or KindInternal if err is not classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// Shared store-level errors.
var (
	ErrCourseNotFound     = New(KindNotFound, "CourseNotFound", "Course not found for given video_id")
	ErrProgressNotFound   = New(KindNotFound, "ProgressNotFound", "No progress found")
	ErrEnrollmentNotFound = New(KindNotFound, "EnrollmentNotFound", "No enrollments found")
	ErrUserNotFound       = New(KindNotFound, "UserNotFound", "User not found")
	ErrTitleTaken         = New(KindConflict, "CourseTitleTaken", "Course title already exists")
	ErrUsernameTaken      = New(KindConflict, "UsernameTaken", "Username already registered")
	ErrEmailTaken         = New(KindConflict, "EmailTaken", "Email already registered")
)
