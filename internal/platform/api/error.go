// Package api holds the JSON response envelope shared by every HTTP surface.
package api

import (
	"encoding/json"
	"net/http"
)

// Error codes returned in ErrorResponse.Error.Code.
const (
	CodeInvalidJSON       = "INVALID_JSON"
	CodeInvalidArgument   = "INVALID_ARGUMENT"
	CodeMalformedInterval = "MALFORMED_INTERVAL"
	CodeInvalidDuration   = "INVALID_DURATION"
	CodeAuthMissing       = "AUTH_MISSING"
	CodeRateLimited       = "RATE_LIMITED"
	CodeUnavailable       = "UNAVAILABLE"
	CodeInternal          = "INTERNAL"
)

type ErrorResponse struct {
	Error APIError `json:"error"`
}

type APIError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

func (e APIError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return e.Code + ": " + e.Message
}

// WriteJSON encodes v with the given status. Encoding errors are dropped: the
// header is already on the wire.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, status int, code, message, requestID string, details map[string]any) {
	WriteJSON(w, status, ErrorResponse{Error: APIError{Code: code, Message: message, Details: details, RequestID: requestID}})
}

func BadRequest(w http.ResponseWriter, code, message, requestID string, details map[string]any) {
	WriteError(w, http.StatusBadRequest, code, message, requestID, details)
}

func Unauthorized(w http.ResponseWriter, code, message, requestID string) {
	WriteError(w, http.StatusUnauthorized, code, message, requestID, nil)
}

func NotFound(w http.ResponseWriter, code, message, requestID string) {
	WriteError(w, http.StatusNotFound, code, message, requestID, nil)
}

func RateLimited(w http.ResponseWriter, message, requestID string, details map[string]any) {
	WriteError(w, http.StatusTooManyRequests, CodeRateLimited, message, requestID, details)
}

func Unavailable(w http.ResponseWriter, message, requestID string) {
	WriteError(w, http.StatusServiceUnavailable, CodeUnavailable, message, requestID, nil)
}

func Internal(w http.ResponseWriter, requestID string) {
	WriteError(w, http.StatusInternalServerError, CodeInternal, "Internal server error", requestID, nil)
}

// DecodeError reads an ErrorResponse body. It returns a generic APIError when
// the body is not an envelope.
func DecodeError(status int, body []byte) APIError {
	var resp ErrorResponse
	if err := json.Unmarshal(body, &resp); err != nil || resp.Error.Code == "" {
		return APIError{Code: http.StatusText(status), Message: string(body)}
	}
	return resp.Error
}
