package apperrors

import (
	"fmt"
	"net/http"
)

type ErrorType string

const (
	ErrAuthFailed     ErrorType = "AUTH_FAILED"
	ErrPolicyDenied   ErrorType = "POLICY_DENIED"
	ErrSafetyInput    ErrorType = "SAFETY_REJECTED_INPUT"
	ErrSafetyOutput   ErrorType = "SAFETY_REJECTED_OUTPUT"
	ErrRetrieval      ErrorType = "RETRIEVAL_ERROR"
	ErrIntegrityFault ErrorType = "INTEGRITY_FAULT"
	ErrGeneration     ErrorType = "GENERATION_ERROR"
	ErrInvalidRequest ErrorType = "INVALID_REQUEST"
	ErrInternal       ErrorType = "INTERNAL_ERROR"
)

// AppError is the standard error struct for the application. Message is
// client-safe; Cause carries the internal detail and is never serialized.
type AppError struct {
	Type       ErrorType `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"-"`
	Cause      error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Cause }

func New(errType ErrorType, msg string, cause error) *AppError {
	return &AppError{
		Type:       errType,
		Message:    msg,
		Cause:      cause,
		HTTPStatus: mapTypeToStatus(errType),
	}
}

// NewGeneric returns an error of the given type with the fixed,
// non-informative client message for that type. The cause stays internal.
func NewGeneric(errType ErrorType, cause error) *AppError {
	return New(errType, mapTypeToMessage(errType), cause)
}

func Wrap(err error) *AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}
	return NewGeneric(ErrInternal, err)
}

func mapTypeToStatus(t ErrorType) int {
	switch t {
	case ErrAuthFailed:
		return http.StatusUnauthorized
	case ErrPolicyDenied:
		return http.StatusForbidden
	case ErrSafetyInput, ErrSafetyOutput, ErrInvalidRequest:
		return http.StatusBadRequest
	case ErrRetrieval, ErrGeneration:
		return http.StatusBadGateway
	case ErrIntegrityFault:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// mapTypeToMessage keeps client-facing text generic: no thresholds, no
// detector ids, no upstream detail.
func mapTypeToMessage(t ErrorType) string {
	switch t {
	case ErrAuthFailed:
		return "authentication failed"
	case ErrPolicyDenied:
		return "request not permitted"
	case ErrSafetyInput:
		return "request cannot be processed"
	case ErrSafetyOutput:
		return "response withheld"
	case ErrRetrieval, ErrGeneration, ErrIntegrityFault:
		return "service temporarily unavailable"
	case ErrInvalidRequest:
		return "invalid request"
	default:
		return "internal error"
	}
}
