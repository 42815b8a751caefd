package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the HTTP layer. Messages for authentication and
// token failures are deliberately generic.
type Kind string

const (
	KindValidation           Kind = "validation"
	KindAuthenticationFailed Kind = "authentication_failed"
	KindForbidden            Kind = "forbidden"
	KindTokenInvalid         Kind = "token_invalid"
	KindTokenExpired         Kind = "token_expired"
	KindAudienceMismatch     Kind = "audience_mismatch"
	KindSubjectMismatch      Kind = "subject_mismatch"
	KindNotFound             Kind = "not_found"
	KindConflict             Kind = "conflict"
	KindUpstreamUnavailable  Kind = "upstream_unavailable"
	KindTooManyRequests      Kind = "too_many_requests"
	KindInternal             Kind = "internal"
)

// AppError carries a Kind plus a client-safe message.
type AppError struct {
	Kind    Kind
	Message string
	Field   string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches any AppError of the same Kind, so the sentinels below work with errors.Is.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels, one per Kind
var (
	ErrValidation           = &AppError{Kind: KindValidation, Message: "invalid request"}
	ErrAuthenticationFailed = &AppError{Kind: KindAuthenticationFailed, Message: "authentication failed"}
	ErrForbidden            = &AppError{Kind: KindForbidden, Message: "forbidden"}
	ErrTokenInvalid         = &AppError{Kind: KindTokenInvalid, Message: "invalid token"}
	ErrTokenExpired         = &AppError{Kind: KindTokenExpired, Message: "token expired"}
	ErrAudienceMismatch     = &AppError{Kind: KindAudienceMismatch, Message: "token audience mismatch"}
	ErrSubjectMismatch      = &AppError{Kind: KindSubjectMismatch, Message: "token subject mismatch"}
	ErrNotFound             = &AppError{Kind: KindNotFound, Message: "not found"}
	ErrConflict             = &AppError{Kind: KindConflict, Message: "already exists"}
	ErrUpstreamUnavailable  = &AppError{Kind: KindUpstreamUnavailable, Message: "upstream unavailable"}
	ErrTooManyRequests      = &AppError{Kind: KindTooManyRequests, Message: "Too many requests, please try again later"}
	ErrInternal             = &AppError{Kind: KindInternal, Message: "internal error"}
)

func newKind(kind Kind, message string, cause error) *AppError {
	return &AppError{Kind: kind, Message: message, Cause: cause}
}

// WithKind builds an AppError of the given kind around cause.
func WithKind(kind Kind, message string, cause error) error {
	return newKind(kind, message, cause)
}

func Validation(message string) error { return newKind(KindValidation, message, nil) }

func ValidationField(field, message string) error {
	return &AppError{Kind: KindValidation, Message: message, Field: field}
}

func AuthenticationFailed(message string) error {
	return newKind(KindAuthenticationFailed, message, nil)
}

func Forbidden(message string) error { return newKind(KindForbidden, message, nil) }

func TokenInvalid(message string) error { return newKind(KindTokenInvalid, message, nil) }

func NotFound(message string) error { return newKind(KindNotFound, message, nil) }

func Conflict(message string) error { return newKind(KindConflict, message, nil) }

func Upstream(message string, cause error) error {
	return newKind(KindUpstreamUnavailable, message, cause)
}

func Internal(message string, cause error) error {
	return newKind(KindInternal, message, cause)
}

// KindOf returns the Kind of the first AppError in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// MessageOf returns the client-safe message for err.
func MessageOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return ErrInternal.Message
}

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// New is errors.New, re-exported so callers need a single errors import.
func New(text string) error {
	return errors.New(text)
}
