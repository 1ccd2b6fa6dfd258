package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/openlit/ruleengine/internal/audit"
	"github.com/openlit/ruleengine/internal/store"
	"github.com/openlit/ruleengine/internal/webhook"
)

// maxRequestBodySize limits JSON request bodies.
const maxRequestBodySize = 1 << 20 // 1 MB

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON reads a size-limited JSON body into v. On failure it writes the
// error response and returns false.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	dec := json.NewDecoder(r.Body)

	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			RequestTooLargeError(w, r, "request body must not exceed 1MB")
		case errors.Is(err, io.EOF):
			BadRequestError(w, r, ErrCodeInvalidJSON, "request body is required")
		default:
			BadRequestError(w, r, ErrCodeInvalidJSON, "invalid JSON: "+err.Error())
		}
		return false
	}
	return true
}

// writeStoreError maps store errors to responses.
func writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case store.IsNotFound(err):
		NotFoundError(w, r, "rule not found")
	case errors.Is(err, store.ErrAlreadyExists):
		ConflictError(w, r, ErrCodeDuplicateRule, "a rule with this id already exists")
	default:
		InternalError(w, r, "rule store unavailable")
	}
}

// logAudit records a change in the audit trail and, when it succeeded,
// notifies webhook subscribers.
func (s *Server) logAudit(b *audit.EventBuilder) {
	if s.audit == nil && s.webhooks == nil {
		return
	}
	ev := b.Build()
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	if ev.Changes == nil && (ev.BeforeState != nil || ev.AfterState != nil) {
		ev.Changes = audit.ComputeChanges(ev.BeforeState, ev.AfterState)
	}

	if s.audit != nil {
		s.audit.Log(ev)
	}
	if s.webhooks != nil {
		if hook, ok := webhook.FromAudit(ev); ok {
			s.webhooks.Dispatch(hook)
		}
	}
}
