// Package apperror defines the typed failures shared by every layer.
//
// Services and stores return an *AppError that wraps one of the sentinel
// kinds below. Callers branch with errors.Is on the sentinel; the transport
// layer turns the kind into a stable code with Code and never has to match
// on message strings.
package apperror

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrValidation = errors.New("validation error")
	ErrConflict   = errors.New("conflict")
	ErrForbidden  = errors.New("forbidden")

	ErrPasswordsDoNotMatch       = errors.New("passwords do not match")
	ErrEmailAlreadyRegistered    = errors.New("email already registered")
	ErrUsernameAlreadyRegistered = errors.New("username already registered")
	ErrInvalidCredentials        = errors.New("invalid credentials")
	ErrInvalidPassword           = errors.New("invalid password")
	ErrUnauthorized              = errors.New("unauthorized")
	ErrSessionNotFound           = errors.New("session not found")
	ErrMemberNotFound            = errors.New("member not found")
	ErrProjectNotFound           = errors.New("project not found")
	ErrInvalidToken              = errors.New("invalid token")
	ErrStoreUnavailable          = errors.New("store unavailable")
	ErrRateLimited               = errors.New("rate limited")
)

type AppError struct {
	Err     error  // actual error
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New wraps kind with a human-readable message.
func New(kind error, message string) *AppError {
	return &AppError{Err: kind, Message: message}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

// Conflict reports a write that lost to an existing row, such as a
// generated token that is already taken.
func Conflict(message string) *AppError {
	return &AppError{Err: ErrConflict, Message: message}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

func PasswordsDoNotMatch() *AppError {
	return &AppError{Err: ErrPasswordsDoNotMatch, Message: "Passwords do not match", Field: "confirmedPassword"}
}

func EmailAlreadyRegistered() *AppError {
	return &AppError{Err: ErrEmailAlreadyRegistered, Message: "Email already registered", Field: "email"}
}

func UsernameAlreadyRegistered() *AppError {
	return &AppError{Err: ErrUsernameAlreadyRegistered, Message: "Username already registered", Field: "username"}
}

// InvalidCredentials deliberately carries the same message whether the email
// or the password was wrong.
func InvalidCredentials() *AppError {
	return &AppError{Err: ErrInvalidCredentials, Message: "Email or password invalid"}
}

func InvalidPassword() *AppError {
	return &AppError{Err: ErrInvalidPassword, Message: "Invalid password", Field: "password"}
}

func Unauthorized() *AppError {
	return &AppError{Err: ErrUnauthorized, Message: "Not authorized"}
}

func SessionNotFound() *AppError {
	return &AppError{Err: ErrSessionNotFound, Message: "Session not found"}
}

func MemberNotFound(id string) *AppError {
	return &AppError{Err: ErrMemberNotFound, Message: fmt.Sprintf("member not found with id %s", id)}
}

func ProjectNotFound(id string) *AppError {
	return &AppError{Err: ErrProjectNotFound, Message: fmt.Sprintf("project not found with id %s", id)}
}

func InvalidToken() *AppError {
	return &AppError{Err: ErrInvalidToken, Message: "Invalid or expired token", Field: "token"}
}

func RateLimited() *AppError {
	return &AppError{Err: ErrRateLimited, Message: "Too many requests, slow down"}
}

// StoreUnavailable hides the underlying store failure from callers while
// keeping it reachable through errors.Unwrap for logging.
func StoreUnavailable(op string, cause error) error {
	return &storeError{op: op, cause: cause}
}

type storeError struct {
	op    string
	cause error
}

func (e *storeError) Error() string {
	return fmt.Sprintf("store unavailable: %s: %v", e.op, e.cause)
}

func (e *storeError) Unwrap() []error {
	return []error{ErrStoreUnavailable, e.cause}
}

// codes maps each kind to the code exposed to API clients. Order matters
// only in that the more specific kinds are listed before the generic ones.
var codes = []struct {
	kind error
	code string
}{
	{ErrPasswordsDoNotMatch, "PASSWORDS_DO_NOT_MATCH"},
	{ErrEmailAlreadyRegistered, "EMAIL_ALREADY_REGISTERED"},
	{ErrUsernameAlreadyRegistered, "USERNAME_ALREADY_REGISTERED"},
	{ErrInvalidCredentials, "INVALID_CREDENTIALS"},
	{ErrInvalidPassword, "INVALID_PASSWORD"},
	{ErrUnauthorized, "UNAUTHORIZED"},
	{ErrSessionNotFound, "SESSION_NOT_FOUND"},
	{ErrMemberNotFound, "MEMBER_NOT_FOUND"},
	{ErrProjectNotFound, "PROJECT_NOT_FOUND"},
	{ErrInvalidToken, "INVALID_TOKEN"},
	{ErrRateLimited, "RATE_LIMITED"},
	{ErrStoreUnavailable, "STORE_UNAVAILABLE"},
	{ErrValidation, "VALIDATION_ERROR"},
	{ErrForbidden, "FORBIDDEN"},
	{ErrConflict, "CONFLICT"},
}

// Code returns the stable API code for err, or "INTERNAL_ERROR" when err
// carries no known kind. Context cancellation and deadlines count as the
// store being unavailable.
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range codes {
		if errors.Is(err, c.kind) {
			return c.code
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return "STORE_UNAVAILABLE"
	}
	return "INTERNAL_ERROR"
}
