package handler

// RESPONSE HELPERS:
// Every operation answers with the same envelope, so the frontend always
// knows what fields to expect:
//
//	{"data": {"signIn": {...}}}
//	{"errors": [{"message": "Email already registered",
//	             "extensions": {"code": "EMAIL_ALREADY_REGISTERED", "field": "email"}}]}
//
// Domain errors from the service layer are mapped to a stable code with
// apperror.Code and to an HTTP status here. The service layer never knows
// about HTTP.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/sandbox-server/internal/apperror"
)

// Response is the envelope for POST /graphql.
type Response struct {
	Data   any          `json:"data,omitempty"`
	Errors []ErrorEntry `json:"errors,omitempty"`
}

type ErrorEntry struct {
	Message    string          `json:"message"`
	Extensions ErrorExtensions `json:"extensions"`
}

type ErrorExtensions struct {
	Code  string `json:"code"`
	Field string `json:"field,omitempty"`
}

const internalMessage = "An internal error occurred"

// statusByCode maps API codes to HTTP statuses. Anything missing is a 500.
var statusByCode = map[string]int{
	"VALIDATION_ERROR":            http.StatusBadRequest,
	"PASSWORDS_DO_NOT_MATCH":      http.StatusBadRequest,
	"INVALID_TOKEN":               http.StatusBadRequest,
	"INVALID_CREDENTIALS":         http.StatusUnauthorized,
	"UNAUTHORIZED":                http.StatusUnauthorized,
	"INVALID_PASSWORD":            http.StatusForbidden,
	"FORBIDDEN":                   http.StatusForbidden,
	"SESSION_NOT_FOUND":           http.StatusNotFound,
	"MEMBER_NOT_FOUND":            http.StatusNotFound,
	"PROJECT_NOT_FOUND":           http.StatusNotFound,
	"EMAIL_ALREADY_REGISTERED":    http.StatusConflict,
	"USERNAME_ALREADY_REGISTERED": http.StatusConflict,
	"CONFLICT":                    http.StatusConflict,
	"RATE_LIMITED":                http.StatusTooManyRequests,
	"STORE_UNAVAILABLE":           http.StatusServiceUnavailable,
}

func statusFor(code string) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// writeJSON sends a JSON response with the given status code. Headers and
// status must be set before the body; once Encode writes, they are sent.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Headers are already sent; all we can do is log.
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// errorEntry converts err into its client-facing form. Typed application
// errors keep their message; store failures and unknown errors get a fixed
// message, since the raw text may contain SQL or file paths.
func errorEntry(err error) (ErrorEntry, int) {
	code := apperror.Code(err)
	entry := ErrorEntry{Message: internalMessage, Extensions: ErrorExtensions{Code: code}}

	switch code {
	case "INTERNAL_ERROR":
	case "STORE_UNAVAILABLE":
		entry.Message = "Service temporarily unavailable"
	default:
		var appErr *apperror.AppError
		if errors.As(err, &appErr) {
			entry.Message = appErr.Message
			entry.Extensions.Field = appErr.Field
		}
	}
	return entry, statusFor(code)
}

// writeError sends err in the errors envelope, logging it when it is not a
// client mistake.
func writeError(w http.ResponseWriter, logger *slog.Logger, operation string, err error) {
	entry, status := errorEntry(err)
	if status >= http.StatusInternalServerError {
		logger.Error("operation failed",
			slog.String("operation", operation),
			slog.String("code", entry.Extensions.Code),
			slog.String("error", err.Error()),
		)
	}
	writeJSON(w, status, Response{Errors: []ErrorEntry{entry}})
}
