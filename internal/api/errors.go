package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

// ErrorCode is the machine-readable code carried in ErrorResponse.
type ErrorCode string

const (
	ErrCodeInternal        ErrorCode = "INTERNAL_ERROR"
	ErrCodeBadRequest      ErrorCode = "BAD_REQUEST"
	ErrCodeUnauthorized    ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden       ErrorCode = "FORBIDDEN"
	ErrCodeNotFound        ErrorCode = "NOT_FOUND"
	ErrCodeRateLimited     ErrorCode = "RATE_LIMITED"
	ErrCodeRequestTooLarge ErrorCode = "REQUEST_TOO_LARGE"

	ErrCodeValidation    ErrorCode = "VALIDATION_ERROR"
	ErrCodeInvalidJSON   ErrorCode = "INVALID_JSON"
	ErrCodeMissingField  ErrorCode = "MISSING_FIELD"
	ErrCodeInvalidStatus ErrorCode = "INVALID_STATUS"
	ErrCodeInvalidEntity ErrorCode = "INVALID_ENTITY"
	ErrCodeDuplicateRule ErrorCode = "DUPLICATE_RULE"
)

// ErrorResponse is the JSON body of every non-2xx reply.
type ErrorResponse struct {
	Error     string            `json:"error"`                // HTTP status text
	Message   string            `json:"message"`              // Human-readable description
	Code      ErrorCode         `json:"code"`                 // Machine-readable error code
	Fields    map[string]string `json:"fields,omitempty"`     // Field-level errors
	RequestID string            `json:"request_id,omitempty"` // Request ID for debugging
}

// NewErrorResponse builds a response for statusCode.
func NewErrorResponse(statusCode int, code ErrorCode, message string) *ErrorResponse {
	return &ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    code,
	}
}

func (e *ErrorResponse) WithFields(fields map[string]string) *ErrorResponse {
	e.Fields = fields
	return e
}

func (e *ErrorResponse) WithRequestID(requestID string) *ErrorResponse {
	e.RequestID = requestID
	return e
}

// writeErrorResponse stamps the chi request id onto errResp and writes it.
func writeErrorResponse(w http.ResponseWriter, r *http.Request, statusCode int, errResp *ErrorResponse) {
	if reqID := middleware.GetReqID(r.Context()); reqID != "" {
		errResp.RequestID = reqID
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errResp)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code ErrorCode, message string) {
	writeErrorResponse(w, r, status, NewErrorResponse(status, code, message))
}

// ValidationError reports a 400 with per-field messages.
func ValidationError(w http.ResponseWriter, r *http.Request, message string, fields map[string]string) {
	writeErrorResponse(w, r, http.StatusBadRequest,
		NewErrorResponse(http.StatusBadRequest, ErrCodeValidation, message).WithFields(fields))
}

func BadRequestError(w http.ResponseWriter, r *http.Request, code ErrorCode, message string) {
	writeError(w, r, http.StatusBadRequest, code, message)
}

func UnauthorizedError(w http.ResponseWriter, r *http.Request, message string) {
	writeError(w, r, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

func ForbiddenError(w http.ResponseWriter, r *http.Request, message string) {
	writeError(w, r, http.StatusForbidden, ErrCodeForbidden, message)
}

func InternalError(w http.ResponseWriter, r *http.Request, message string) {
	writeError(w, r, http.StatusInternalServerError, ErrCodeInternal, message)
}

func NotFoundError(w http.ResponseWriter, r *http.Request, message string) {
	writeError(w, r, http.StatusNotFound, ErrCodeNotFound, message)
}

func ConflictError(w http.ResponseWriter, r *http.Request, code ErrorCode, message string) {
	writeError(w, r, http.StatusConflict, code, message)
}

func RequestTooLargeError(w http.ResponseWriter, r *http.Request, message string) {
	writeError(w, r, http.StatusRequestEntityTooLarge, ErrCodeRequestTooLarge, message)
}

// RateLimitedError is the httprate limit handler.
func RateLimitedError(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusTooManyRequests, ErrCodeRateLimited, "rate limit exceeded, retry later")
}

// authError adapts the structured errors to auth.ErrorWriter.
func authError(w http.ResponseWriter, r *http.Request, status int, message string) {
	if status == http.StatusForbidden {
		ForbiddenError(w, r, message)
		return
	}
	UnauthorizedError(w, r, message)
}
