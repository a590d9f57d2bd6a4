package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"studylib/internal/constants"
	"studylib/internal/session"
	"studylib/internal/verification"
)

const (
	ErrCodeInvalidRequest       = constants.ErrCodeInvalidRequest
	ErrCodeUnauthorized         = constants.ErrCodeUnauthorized
	ErrCodeNotFound             = constants.ErrCodeNotFound
	ErrCodePayloadTooLarge      = constants.ErrCodePayloadTooLarge
	ErrCodeInternal             = constants.ErrCodeInternal
	ErrCodeRateLimitExceeded    = constants.ErrCodeRateLimited
	ErrCodeStoreUnavailable     = constants.ErrCodeStoreUnavailable
	ErrCodeDuplicateAccount     = constants.ErrCodeDuplicateAccount
	ErrCodeCodeExpired          = constants.ErrCodeCodeExpired
	ErrCodeCodeMismatch         = constants.ErrCodeCodeMismatch
	ErrCodeAlreadyVerified      = constants.ErrCodeAlreadyVerified
	ErrCodeVerificationRequired = constants.ErrCodeVerificationRequired
	ErrCodeInvalidCredentials   = constants.ErrCodeInvalidCredentials
	ErrCodeSendFailure          = constants.ErrCodeSendFailure
	ErrCodeRoomUnknown          = constants.ErrCodeRoomUnknown
)

// ErrorResponse carries the flat envelope the web client reads
// (success/message/code) and the nested error object.
type ErrorResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Code    string      `json:"code"`
	Error   ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{
		Message: message,
		Code:    code,
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

func badRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, message)
}

func unauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

func notFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

func internalError(w http.ResponseWriter) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, "An internal error occurred")
}

// writeDomainError maps account flow errors to a status and stable code.
// Anything unrecognised is logged and reported as an internal error.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var inputErr *verification.InputError
	switch {
	case errors.As(err, &inputErr):
		badRequest(w, inputErr.Message)
	case errors.Is(err, verification.ErrDuplicateAccount):
		writeError(w, http.StatusConflict, ErrCodeDuplicateAccount, "An account with this email already exists")
	case errors.Is(err, verification.ErrNotFound):
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "No matching account was found")
	case errors.Is(err, verification.ErrExpired):
		writeError(w, http.StatusBadRequest, ErrCodeCodeExpired, "The verification code has expired. Please request a new one")
	case errors.Is(err, verification.ErrMismatch):
		writeError(w, http.StatusBadRequest, ErrCodeCodeMismatch, "The verification code is incorrect")
	case errors.Is(err, verification.ErrAlreadyVerified):
		writeError(w, http.StatusConflict, ErrCodeAlreadyVerified, "This account is already verified. Please log in")
	case errors.Is(err, session.ErrVerificationRequired):
		writeError(w, http.StatusForbidden, ErrCodeVerificationRequired, "Please verify your email before logging in")
	case errors.Is(err, session.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, ErrCodeInvalidCredentials, "Incorrect password")
	case errors.Is(err, session.ErrInvalidRefreshToken):
		unauthorized(w, "Invalid or expired refresh token")
	case errors.Is(err, verification.ErrStoreUnavailable):
		slog.Error("store unavailable", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusServiceUnavailable, ErrCodeStoreUnavailable, "The service is temporarily unavailable. Please try again shortly")
	default:
		slog.Error("request failed", "path", r.URL.Path, "error", err)
		internalError(w)
	}
}
