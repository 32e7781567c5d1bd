// Package handler implements HTTP request handlers and the JSON envelope
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
)

// APIResponse represents the standard response envelope
// ALL JSON API responses use this format
type APIResponse struct {
	Code    int         `json:"code"`    // HTTP status code (200, 400, 500, etc.)
	Message string      `json:"message"` // Human-readable message ("Success", error description)
	Data    interface{} `json:"data"`    // Actual payload (can be null)
	TraceID string      `json:"trace_id,omitempty"`
}

// NewSuccessResponse creates a successful response (code 200)
func NewSuccessResponse(data interface{}) APIResponse {
	return APIResponse{
		Code:    http.StatusOK,
		Message: "Success",
		Data:    data,
	}
}

// NewErrorResponse creates an error response
func NewErrorResponse(code int, message string) APIResponse {
	return APIResponse{
		Code:    code,
		Message: message,
		Data:    nil,
	}
}

// Common error responses
func BadRequestResponse(message string) APIResponse {
	return NewErrorResponse(http.StatusBadRequest, message)
}

func UnauthorizedResponse(message string) APIResponse {
	return NewErrorResponse(http.StatusUnauthorized, message)
}

func NotFoundResponse(message string) APIResponse {
	return NewErrorResponse(http.StatusNotFound, message)
}

func InternalErrorResponse(message string) APIResponse {
	return NewErrorResponse(http.StatusInternalServerError, message)
}

// traceHeader carries the request trace id in both directions
const traceHeader = "X-Trace-Id"

// traceID returns the caller's trace id or a fresh UUID
func traceID(r *http.Request) string {
	if id := r.Header.Get(traceHeader); id != "" {
		return id
	}
	return uuid.NewString()
}

// writeJSON writes the envelope with a trace id; status comes from resp.Code
func writeJSON(w http.ResponseWriter, r *http.Request, resp APIResponse) {
	resp.TraceID = traceID(r)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(traceHeader, resp.TraceID)
	w.WriteHeader(resp.Code)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Warn("Failed to encode response", "error", err, "trace_id", resp.TraceID)
	}
}
