package web

// errors.go provides unified error responses for the API.
//
// Every error is logged with its technical detail and the request id, then
// mapped through core.MapError so clients only see the user message, a
// suggested action and a support code.

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/JonMunkholm/tabimport/internal/core"
	"github.com/JonMunkholm/tabimport/internal/logging"
	"github.com/JonMunkholm/tabimport/internal/source"
)

var (
	errRateLimited = errors.New("rate limit exceeded")
	errNoFile      = errors.New("no file provided")
)

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error   string   `json:"error"`
	Message string   `json:"message"`
	Action  string   `json:"action,omitempty"`
	Code    string   `json:"code"`
	Missing []string `json:"missing,omitempty"`
}

// respondError logs err and writes its mapped user message. A status of 0
// derives the status from the error.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	if statusCode == 0 {
		statusCode = statusFor(err)
	}
	msg := core.MapError(err)

	level := slog.LevelWarn
	if statusCode >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	logging.FromContext(r.Context()).Log(r.Context(), level, "request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", statusCode,
		"error", err.Error(),
		"code", msg.Code,
	)

	resp := ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	}
	var incomplete *core.MappingIncompleteError
	if errors.As(err, &incomplete) {
		resp.Missing = incomplete.Missing
	}
	writeJSON(w, statusCode, resp)
}

// respondErrorJSON writes a mapped error without logging. Used by
// middleware that rejects requests before they reach a handler.
func respondErrorJSON(w http.ResponseWriter, statusCode int, err error) {
	msg := core.MapError(err)
	writeJSON(w, statusCode, ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	})
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	var (
		fileErr    *core.FileParseError
		incomplete *core.MappingIncompleteError
	)
	switch {
	case errors.Is(err, core.ErrUnknownEntity), errors.Is(err, core.ErrImportNotFound):
		return http.StatusNotFound
	case errors.Is(err, source.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errNoFile), errors.Is(err, errBadRequest), errors.As(err, &fileErr):
		return http.StatusBadRequest
	case errors.As(err, &incomplete), errors.Is(err, core.ErrInvalidOverride):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrTenantRequired):
		return http.StatusUnauthorized
	case errors.Is(err, core.ErrAccessDenied), errors.Is(err, core.ErrInsufficientPermission):
		return http.StatusForbidden
	case errors.Is(err, core.ErrTooManyImports):
		return http.StatusServiceUnavailable
	case errors.Is(err, errRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON encodes v as JSON with the given status.
// Encoding errors are only logged since headers are already sent.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}
