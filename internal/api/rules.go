package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/openlit/ruleengine/internal/audit"
	"github.com/openlit/ruleengine/internal/rules"
	"github.com/openlit/ruleengine/internal/store"
	"github.com/openlit/ruleengine/internal/validation"
)

type ruleRequest struct {
	ID              string                 `json:"id"`
	Name            string                 `json:"name"`
	Description     string                 `json:"description"`
	GroupOperator   rules.LogicOperator    `json:"group_operator"`
	Status          rules.Status           `json:"status"`
	ConditionGroups []rules.ConditionGroup `json:"condition_groups"`
}

// toRule applies defaults: AND between groups and ACTIVE status.
func (req ruleRequest) toRule() rules.Rule {
	return rules.Normalize(rules.Rule{
		ID:              req.ID,
		Name:            req.Name,
		Description:     req.Description,
		GroupOperator:   req.GroupOperator,
		Status:          req.Status,
		ConditionGroups: req.ConditionGroups,
	})
}

type conditionsRequest struct {
	ConditionGroups []rules.ConditionGroup `json:"condition_groups"`
}

type entityRequest struct {
	EntityType rules.EntityType `json:"entity_type"`
	EntityID   string           `json:"entity_id"`
}

type listRulesResponse struct {
	Rules []rules.Rule `json:"rules"`
	Count int          `json:"count"`
}

type fieldsResponse struct {
	Fields    []rules.FieldDescriptor             `json:"fields"`
	Operators map[rules.DataType][]rules.Operator `json:"operators"`
}

func (s *Server) handleFields(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, fieldsResponse{
		Fields:    rules.Fields(),
		Operators: rules.OperatorTable(),
	})
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	var filter store.ListFilter
	if status := strings.TrimSpace(r.URL.Query().Get("status")); status != "" {
		filter.Status = rules.Status(strings.ToUpper(status))
		if filter.Status != rules.StatusActive && filter.Status != rules.StatusInactive {
			BadRequestError(w, r, ErrCodeInvalidStatus, "status must be ACTIVE or INACTIVE")
			return
		}
	}

	rs, err := s.store.ListRules(r.Context(), filter)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listRulesResponse{Rules: rs, Count: len(rs)})
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.store.GetRule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	rule := req.toRule()

	if result := validation.ValidateRule(rule); !result.Valid {
		ValidationError(w, r, "Rule validation failed", result.Errors)
		return
	}

	created, err := s.store.CreateRule(r.Context(), rule)
	if err != nil {
		s.logAudit(audit.NewEventBuilder(r).
			ForResource(audit.ResourceTypeRule, rule.ID).
			WithAction(audit.ActionCreated).
			Failure(err.Error()))
		writeStoreError(w, r, err)
		return
	}

	s.logAudit(audit.NewEventBuilder(r).
		ForResource(audit.ResourceTypeRule, created.ID).
		WithAction(audit.ActionCreated).
		WithAfterState(audit.RuleState(created)))

	if !s.rebuild(w, r) {
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req ruleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ID != "" && strings.TrimSpace(req.ID) != id {
		ValidationError(w, r, "Rule validation failed", map[string]string{"id": "Body id must match the path id"})
		return
	}
	req.ID = id
	rule := req.toRule()

	if result := validation.ValidateRule(rule); !result.Valid {
		ValidationError(w, r, "Rule validation failed", result.Errors)
		return
	}

	before, err := s.store.GetRule(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}

	updated, err := s.store.UpdateRule(r.Context(), rule)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}

	s.logAudit(audit.NewEventBuilder(r).
		ForResource(audit.ResourceTypeRule, id).
		WithAction(audit.ActionUpdated).
		WithBeforeState(audit.RuleState(before)).
		WithAfterState(audit.RuleState(updated)))

	if !s.rebuild(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	before, err := s.store.GetRule(r.Context(), id)
	if err != nil && !store.IsNotFound(err) {
		writeStoreError(w, r, err)
		return
	}

	if err := s.store.DeleteRule(r.Context(), id); err != nil {
		writeStoreError(w, r, err)
		return
	}

	// deleting a missing rule succeeds but is not audited
	if before != nil {
		s.logAudit(audit.NewEventBuilder(r).
			ForResource(audit.ResourceTypeRule, id).
			WithAction(audit.ActionDeleted).
			WithBeforeState(audit.RuleState(before)))
	}

	if !s.rebuild(w, r) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReplaceConditions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req conditionsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if result := validation.ValidateGroups(req.ConditionGroups); !result.Valid {
		ValidationError(w, r, "Condition validation failed", result.Errors)
		return
	}

	before, err := s.store.GetRule(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}

	updated, err := s.store.ReplaceConditions(r.Context(), id, req.ConditionGroups)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}

	s.logAudit(audit.NewEventBuilder(r).
		ForResource(audit.ResourceTypeRule, id).
		WithAction(audit.ActionConditionsUpdated).
		WithBeforeState(audit.RuleState(before)).
		WithAfterState(audit.RuleState(updated)))

	if !s.rebuild(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	links, err := s.store.ListEntities(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entities": links, "count": len(links)})
}

func (s *Server) handleAddEntity(w http.ResponseWriter, r *http.Request) {
	var req entityRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	link := entityLink(chi.URLParam(r, "id"), string(req.EntityType), req.EntityID)
	if result := validation.ValidateEntity(link.EntityType, link.EntityID); !result.Valid {
		ValidationError(w, r, "Entity validation failed", result.Errors)
		return
	}

	if err := s.store.AddEntity(r.Context(), link); err != nil {
		writeStoreError(w, r, err)
		return
	}

	s.logAudit(audit.NewEventBuilder(r).
		ForResource(audit.ResourceTypeEntity, link.RuleID).
		WithAction(audit.ActionEntityLinked).
		WithAfterState(audit.EntityState(link)))

	writeJSON(w, http.StatusCreated, link)
}

func (s *Server) handleRemoveEntity(w http.ResponseWriter, r *http.Request) {
	link := entityLink(chi.URLParam(r, "id"), chi.URLParam(r, "entityType"), chi.URLParam(r, "entityID"))
	if result := validation.ValidateEntity(link.EntityType, link.EntityID); !result.Valid {
		BadRequestError(w, r, ErrCodeInvalidEntity, "invalid entity reference")
		return
	}

	if err := s.store.RemoveEntity(r.Context(), link); err != nil {
		writeStoreError(w, r, err)
		return
	}

	s.logAudit(audit.NewEventBuilder(r).
		ForResource(audit.ResourceTypeEntity, link.RuleID).
		WithAction(audit.ActionEntityUnlinked).
		WithBeforeState(audit.EntityState(link)))

	w.WriteHeader(http.StatusNoContent)
}

// entityLink normalizes an entity reference the same way for every route.
func entityLink(ruleID, entityType, entityID string) rules.EntityAssociation {
	return rules.EntityAssociation{
		RuleID:     ruleID,
		EntityType: rules.EntityType(strings.ToLower(strings.TrimSpace(entityType))),
		EntityID:   strings.TrimSpace(entityID),
	}
}

// rebuild refreshes the snapshot after a write, writing a 500 on failure.
func (s *Server) rebuild(w http.ResponseWriter, r *http.Request) bool {
	if err := s.RebuildSnapshot(r.Context()); err != nil {
		InternalError(w, r, "snapshot rebuild failed")
		return false
	}
	return true
}
