package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error at the point where it is raised.
type Kind string

const (
	KindValidation     Kind = "VALIDATION_ERROR"
	KindDatabase       Kind = "DATABASE_ERROR"
	KindExternalAPI    Kind = "EXTERNAL_API_ERROR"
	KindFileProcessing Kind = "FILE_PROCESSING_ERROR"
	KindNotFound       Kind = "NOT_FOUND_ERROR"
	KindUnauthorized   Kind = "UNAUTHORIZED_ERROR"
	KindConflict       Kind = "CONFLICT_ERROR"
	KindInternal       Kind = "INTERNAL_ERROR"
)

func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindExternalAPI:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error carries a user-facing Message and the underlying Cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func Validation(message string) *Error { return New(KindValidation, message, nil) }

func NotFound(message string) *Error { return New(KindNotFound, message, nil) }

func Unauthorized(message string) *Error { return New(KindUnauthorized, message, nil) }

func Conflict(message string) *Error { return New(KindConflict, message, nil) }

func Database(message string, cause error) *Error { return New(KindDatabase, message, cause) }

func ExternalAPI(message string, cause error) *Error { return New(KindExternalAPI, message, cause) }

func FileProcessing(message string, cause error) *Error {
	return New(KindFileProcessing, message, cause)
}

func Internal(message string, cause error) *Error { return New(KindInternal, message, cause) }

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf reports the Kind of err, KindInternal when err carries none.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

// MessageOf returns the user-facing message of err or fallback.
func MessageOf(err error, fallback string) string {
	if e, ok := As(err); ok && e.Message != "" {
		return e.Message
	}
	return fallback
}
