package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/openlit/ruleengine/internal/attributes"
	"github.com/openlit/ruleengine/internal/engine"
	"github.com/openlit/ruleengine/internal/rules"
	"github.com/openlit/ruleengine/internal/snapshot"
	"github.com/openlit/ruleengine/internal/telemetry"
	"github.com/openlit/ruleengine/internal/validation"
)

// evaluateRequest carries the record to test. Record is a nested JSON
// document (a span, a trace row) that is flattened to dotted paths;
// Attributes are already-flat values and win over the record on conflict.
type evaluateRequest struct {
	Record     map[string]any   `json:"record"`
	Attributes map[string]any   `json:"attributes"`
	RuleIDs    []string         `json:"rule_ids"`
	EntityType rules.EntityType `json:"entity_type"`
	EntityID   string           `json:"entity_id"`
	Explain    bool             `json:"explain"`
}

type evaluateResponse struct {
	Matched     []string            `json:"matched"`
	Results     []engine.RuleResult `json:"results,omitempty"`
	Evaluated   int                 `json:"evaluated"`
	ETag        string              `json:"etag"`
	EvaluatedAt time.Time           `json:"evaluated_at"`
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Record) == 0 && len(req.Attributes) == 0 {
		BadRequestError(w, r, ErrCodeMissingField, "record or attributes is required")
		return
	}

	attrs := engine.Attributes{}
	if len(req.Record) > 0 {
		attrs = attributes.Flatten(req.Record)
	}
	for k, v := range req.Attributes {
		attrs[k] = v
	}

	snap := s.snap.Load()
	candidates, ok := s.candidates(w, r, snap, req)
	if !ok {
		return
	}

	reqID := middleware.GetReqID(r.Context())
	resp := evaluateResponse{
		Matched:     []string{},
		Evaluated:   len(candidates),
		ETag:        snap.ETag,
		EvaluatedAt: time.Now().UTC(),
	}

	for _, rule := range candidates {
		res := engine.Explain(attrs, rule)

		switch {
		case res.Reason == engine.ReasonInactive:
			telemetry.RecordEvaluation(telemetry.ResultInactive)
		case res.Matched:
			telemetry.RecordEvaluation(telemetry.ResultMatched)
			resp.Matched = append(resp.Matched, rule.ID)
		default:
			telemetry.RecordEvaluation(telemetry.ResultUnmatched)
		}

		if res.Reason == engine.ReasonUnknownLogic {
			telemetry.RecordDegraded(string(res.Reason))
			log.Warn().
				Str("rule_id", rule.ID).
				Str("reason", string(res.Reason)).
				Str("operator", string(rule.GroupOperator)).
				Str("request_id", reqID).
				Msg("rule skipped")
		}
		for _, c := range res.Degraded() {
			telemetry.RecordDegraded(string(c.Reason))
			log.Warn().
				Str("rule_id", rule.ID).
				Str("field", c.Field).
				Str("reason", string(c.Reason)).
				Str("detail", c.Detail).
				Str("request_id", reqID).
				Msg("condition degraded")
		}

		if req.Explain {
			resp.Results = append(resp.Results, res)
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// candidates picks the rules to evaluate: the listed ids, the rules linked to
// an entity, both intersected, or every rule in the snapshot.
func (s *Server) candidates(w http.ResponseWriter, r *http.Request, snap *snapshot.Snapshot, req evaluateRequest) ([]rules.Rule, bool) {
	byEntity := req.EntityType != "" || req.EntityID != ""
	if !byEntity {
		if len(req.RuleIDs) > 0 {
			return snap.Select(req.RuleIDs), true
		}
		return snap.Rules, true
	}

	entityType := rules.EntityType(strings.ToLower(strings.TrimSpace(string(req.EntityType))))
	if result := validation.ValidateEntity(entityType, req.EntityID); !result.Valid {
		ValidationError(w, r, "Entity validation failed", result.Errors)
		return nil, false
	}

	linked, err := s.store.RulesForEntity(r.Context(), entityType, req.EntityID)
	if err != nil {
		writeStoreError(w, r, err)
		return nil, false
	}

	ids := make([]string, 0, len(linked))
	if len(req.RuleIDs) > 0 {
		requested := make(map[string]struct{}, len(req.RuleIDs))
		for _, id := range req.RuleIDs {
			requested[id] = struct{}{}
		}
		for _, rule := range linked {
			if _, ok := requested[rule.ID]; ok {
				ids = append(ids, rule.ID)
			}
		}
	} else {
		for _, rule := range linked {
			ids = append(ids, rule.ID)
		}
	}
	// rule bodies come from the snapshot so one request sees one version
	return snap.Select(ids), true
}
