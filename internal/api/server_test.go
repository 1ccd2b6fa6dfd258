package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/openlit/ruleengine/internal/audit"
	"github.com/openlit/ruleengine/internal/rules"
	"github.com/openlit/ruleengine/internal/snapshot"
	"github.com/openlit/ruleengine/internal/store"
	"github.com/openlit/ruleengine/internal/webhook"
)

const (
	testAdminKey  = "admin-test"
	testClientKey = "client-test"
)

func newTestServer(t *testing.T, opts Options) (*Server, *store.MemoryStore, http.Handler) {
	t.Helper()
	if opts.AdminKey == "" {
		opts.AdminKey = testAdminKey
	}
	if opts.ClientKey == "" {
		opts.ClientKey = testClientKey
	}
	st := store.NewMemoryStore()
	srv := NewServer(st, nil, opts)
	return srv, st, srv.Router()
}

func do(t *testing.T, h http.Handler, method, path, key, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

const modelRuleJSON = `{
	"id": "gpt4-costly",
	"name": "GPT-4 costly calls",
	"condition_groups": [
		{"condition_operator": "AND", "conditions": [
			{"field": "gen_ai.request.model", "operator": "equals", "value": "gpt-4", "data_type": "string"},
			{"field": "gen_ai.usage.cost", "operator": "gt", "value": "10", "data_type": "number"}
		]}
	]
}`

func TestHandleHealth(t *testing.T) {
	_, _, h := newTestServer(t, Options{})

	rr := do(t, h, http.MethodGet, "/healthz", "", "")

	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rr.Code)
	}
	if rr.Body.String() != "ok" {
		t.Errorf("Expected body 'ok', got %s", rr.Body.String())
	}
}

func TestAuth(t *testing.T) {
	_, _, h := newTestServer(t, Options{})

	tests := []struct {
		name   string
		method string
		path   string
		key    string
		body   string
		want   int
	}{
		{"read without key", http.MethodGet, "/rule-engine/rules", "", "", http.StatusUnauthorized},
		{"read with wrong key", http.MethodGet, "/rule-engine/rules", "nope", "", http.StatusUnauthorized},
		{"read with client key", http.MethodGet, "/rule-engine/rules", testClientKey, "", http.StatusOK},
		{"read with admin key", http.MethodGet, "/rule-engine/rules", testAdminKey, "", http.StatusOK},
		{"write with client key", http.MethodPost, "/rule-engine/rules", testClientKey, modelRuleJSON, http.StatusForbidden},
		{"write with admin key", http.MethodPost, "/rule-engine/rules", testAdminKey, modelRuleJSON, http.StatusCreated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, h, tt.method, tt.path, tt.key, tt.body)
			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", rr.Code, tt.want, rr.Body.String())
			}
		})
	}
}

func TestCreateRule(t *testing.T) {
	srv, st, h := newTestServer(t, Options{})

	rr := do(t, h, http.MethodPost, "/rule-engine/rules", testAdminKey, modelRuleJSON)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}

	var created rules.Rule
	if err := json.NewDecoder(rr.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.GroupOperator != rules.LogicAnd {
		t.Errorf("group_operator = %q, want AND default", created.GroupOperator)
	}
	if created.Status != rules.StatusActive {
		t.Errorf("status = %q, want ACTIVE default", created.Status)
	}
	if created.CreatedAt.IsZero() {
		t.Error("created_at not set")
	}

	if _, err := st.GetRule(context.Background(), "gpt4-costly"); err != nil {
		t.Errorf("rule not stored: %v", err)
	}
	if _, ok := srv.Snapshot().Load().Rule("gpt4-costly"); !ok {
		t.Error("snapshot not rebuilt after create")
	}
}

func TestCreateRule_Errors(t *testing.T) {
	_, _, h := newTestServer(t, Options{})
	if rr := do(t, h, http.MethodPost, "/rule-engine/rules", testAdminKey, modelRuleJSON); rr.Code != http.StatusCreated {
		t.Fatalf("seed: status %d", rr.Code)
	}

	tests := []struct {
		name     string
		body     string
		want     int
		wantCode ErrorCode
		field    string
	}{
		{"invalid json", `{"name":`, http.StatusBadRequest, ErrCodeInvalidJSON, ""},
		{"empty body", ``, http.StatusBadRequest, ErrCodeInvalidJSON, ""},
		{"duplicate id", modelRuleJSON, http.StatusConflict, ErrCodeDuplicateRule, ""},
		{"missing name", `{"condition_groups":[{"condition_operator":"AND", "conditions":[{"field":"service.name","operator":"equals","value":"chat","data_type":"string"}]}]}`, http.StatusBadRequest, ErrCodeValidation, "name"},
		{"no groups", `{"name":"x"}`, http.StatusBadRequest, ErrCodeValidation, "condition_groups"},
		{"bad status", `{"name":"x","status":"PAUSED","condition_groups":[{"condition_operator":"AND", "conditions":[{"field":"service.name","operator":"equals","value":"chat","data_type":"string"}]}]}`, http.StatusBadRequest, ErrCodeValidation, "status"},
		{"operator for wrong type", `{"name":"x","condition_groups":[{"condition_operator":"AND","conditions":[
			{"field":"gen_ai.usage.cost","operator":"regex","value":"1.*","data_type":"number"}]}]}`, http.StatusBadRequest, ErrCodeValidation, "condition_groups"},
		{"bad id", `{"id":"has space","name":"x","condition_groups":[{"condition_operator":"AND", "conditions":[{"field":"service.name","operator":"equals","value":"chat","data_type":"string"}]}]}`, http.StatusBadRequest, ErrCodeValidation, "id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, h, http.MethodPost, "/rule-engine/rules", testAdminKey, tt.body)
			if rr.Code != tt.want {
				t.Fatalf("status = %d, want %d (body %s)", rr.Code, tt.want, rr.Body.String())
			}
			var resp ErrorResponse
			if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Code != tt.wantCode {
				t.Errorf("code = %s, want %s", resp.Code, tt.wantCode)
			}
			if tt.field != "" {
				if _, ok := resp.Fields[tt.field]; !ok {
					t.Errorf("fields = %v, want an entry for %s", resp.Fields, tt.field)
				}
			}
		})
	}
}

func TestCreateRule_BodyTooLarge(t *testing.T) {
	_, _, h := newTestServer(t, Options{})

	body := `{"name":"` + strings.Repeat("x", maxRequestBodySize) + `"}`
	rr := do(t, h, http.MethodPost, "/rule-engine/rules", testAdminKey, body)

	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", rr.Code)
	}
}

func TestGetAndListRules(t *testing.T) {
	_, _, h := newTestServer(t, Options{})
	do(t, h, http.MethodPost, "/rule-engine/rules", testAdminKey, modelRuleJSON)
	do(t, h, http.MethodPost, "/rule-engine/rules", testAdminKey,
		`{"id":"off","name":"disabled","status":"INACTIVE","condition_groups":[{"condition_operator":"OR", "conditions":[{"field":"service.name","operator":"equals","value":"chat","data_type":"string"}]}]}`)

	rr := do(t, h, http.MethodGet, "/rule-engine/rules/gpt4-costly", testClientKey, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("get: status %d", rr.Code)
	}
	var got rules.Rule
	_ = json.NewDecoder(rr.Body).Decode(&got)
	if len(got.ConditionGroups) != 1 || len(got.ConditionGroups[0].Conditions) != 2 {
		t.Errorf("got groups %+v", got.ConditionGroups)
	}

	if rr := do(t, h, http.MethodGet, "/rule-engine/rules/missing", testClientKey, ""); rr.Code != http.StatusNotFound {
		t.Errorf("missing rule: status %d, want 404", rr.Code)
	}

	tests := []struct {
		query string
		want  int
		code  int
	}{
		{"", 2, http.StatusOK},
		{"?status=active", 1, http.StatusOK},
		{"?status=INACTIVE", 1, http.StatusOK},
		{"?status=paused", 0, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run("list"+tt.query, func(t *testing.T) {
			rr := do(t, h, http.MethodGet, "/rule-engine/rules"+tt.query, testClientKey, "")
			if rr.Code != tt.code {
				t.Fatalf("status = %d, want %d", rr.Code, tt.code)
			}
			if tt.code != http.StatusOK {
				return
			}
			var resp listRulesResponse
			_ = json.NewDecoder(rr.Body).Decode(&resp)
			if resp.Count != tt.want || len(resp.Rules) != tt.want {
				t.Errorf("count = %d (%d rules), want %d", resp.Count, len(resp.Rules), tt.want)
			}
		})
	}
}

func TestUpdateRule(t *testing.T) {
	srv, _, h := newTestServer(t, Options{})
	do(t, h, http.MethodPost, "/rule-engine/rules", testAdminKey, modelRuleJSON)
	etag := srv.Snapshot().Load().ETag

	body := `{"name":"renamed","group_operator":"OR","status":"INACTIVE","condition_groups":[{"condition_operator":"AND", "conditions":[{"field":"service.name","operator":"equals","value":"chat","data_type":"string"}]}]}`
	rr := do(t, h, http.MethodPut, "/rule-engine/rules/gpt4-costly", testAdminKey, body)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	var updated rules.Rule
	_ = json.NewDecoder(rr.Body).Decode(&updated)
	if updated.Name != "renamed" || updated.Status != rules.StatusInactive || updated.GroupOperator != rules.LogicOr {
		t.Errorf("updated = %+v", updated)
	}
	if srv.Snapshot().Load().ETag == etag {
		t.Error("ETag unchanged after update")
	}

	if rr := do(t, h, http.MethodPut, "/rule-engine/rules/nope", testAdminKey, body); rr.Code != http.StatusNotFound {
		t.Errorf("missing rule: status %d, want 404", rr.Code)
	}
	mismatch := `{"id":"other","name":"x","condition_groups":[{"condition_operator":"AND", "conditions":[{"field":"service.name","operator":"equals","value":"chat","data_type":"string"}]}]}`
	if rr := do(t, h, http.MethodPut, "/rule-engine/rules/gpt4-costly", testAdminKey, mismatch); rr.Code != http.StatusBadRequest {
		t.Errorf("id mismatch: status %d, want 400", rr.Code)
	}
}

func TestDeleteRule(t *testing.T) {
	srv, _, h := newTestServer(t, Options{})
	do(t, h, http.MethodPost, "/rule-engine/rules", testAdminKey, modelRuleJSON)

	rr := do(t, h, http.MethodDelete, "/rule-engine/rules/gpt4-costly", testAdminKey, "")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rr.Code)
	}
	if _, ok := srv.Snapshot().Load().Rule("gpt4-costly"); ok {
		t.Error("deleted rule still in snapshot")
	}

	// idempotent
	if rr := do(t, h, http.MethodDelete, "/rule-engine/rules/gpt4-costly", testAdminKey, ""); rr.Code != http.StatusNoContent {
		t.Errorf("second delete: status %d", rr.Code)
	}
}

func TestReplaceConditions(t *testing.T) {
	srv, _, h := newTestServer(t, Options{})
	do(t, h, http.MethodPost, "/rule-engine/rules", testAdminKey, modelRuleJSON)

	body := `{"condition_groups":[{"condition_operator":"OR","conditions":[
		{"field":"service.name","operator":"in","value":"chat, search","data_type":"string"}]}]}`
	rr := do(t, h, http.MethodPost, "/rule-engine/rules/gpt4-costly/conditions", testAdminKey, body)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}

	snapRule, _ := srv.Snapshot().Load().Rule("gpt4-costly")
	if len(snapRule.ConditionGroups) != 1 || snapRule.ConditionGroups[0].Conditions[0].Field != "service.name" {
		t.Errorf("snapshot groups = %+v", snapRule.ConditionGroups)
	}

	if rr := do(t, h, http.MethodPost, "/rule-engine/rules/gpt4-costly/conditions", testAdminKey, `{"condition_groups":[]}`); rr.Code != http.StatusBadRequest {
		t.Errorf("empty groups: status %d, want 400", rr.Code)
	}
	if rr := do(t, h, http.MethodPost, "/rule-engine/rules/missing/conditions", testAdminKey, body); rr.Code != http.StatusNotFound {
		t.Errorf("missing rule: status %d, want 404", rr.Code)
	}
}

func TestEntities(t *testing.T) {
	_, _, h := newTestServer(t, Options{})
	do(t, h, http.MethodPost, "/rule-engine/rules", testAdminKey, modelRuleJSON)

	rr := do(t, h, http.MethodPost, "/rule-engine/rules/gpt4-costly/entities", testAdminKey, `{"entity_type":"Prompt","entity_id":"p-1"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("add: status %d, body %s", rr.Code, rr.Body.String())
	}

	tests := []struct {
		name string
		body string
		path string
		want int
	}{
		{"bad type", `{"entity_type":"user","entity_id":"u"}`, "/rule-engine/rules/gpt4-costly/entities", http.StatusBadRequest},
		{"missing id", `{"entity_type":"context"}`, "/rule-engine/rules/gpt4-costly/entities", http.StatusBadRequest},
		{"missing rule", `{"entity_type":"context","entity_id":"c"}`, "/rule-engine/rules/nope/entities", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rr := do(t, h, http.MethodPost, tt.path, testAdminKey, tt.body); rr.Code != tt.want {
				t.Errorf("status = %d, want %d", rr.Code, tt.want)
			}
		})
	}

	rr = do(t, h, http.MethodGet, "/rule-engine/rules/gpt4-costly/entities", testClientKey, "")
	var list struct {
		Entities []rules.EntityAssociation `json:"entities"`
		Count    int                       `json:"count"`
	}
	_ = json.NewDecoder(rr.Body).Decode(&list)
	if list.Count != 1 || list.Entities[0].EntityID != "p-1" {
		t.Fatalf("entities = %+v", list)
	}

	// Entity types are case-insensitive on both routes.
	rr = do(t, h, http.MethodDelete, "/rule-engine/rules/gpt4-costly/entities/PROMPT/p-1", testAdminKey, "")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("remove: status %d", rr.Code)
	}
	rr = do(t, h, http.MethodGet, "/rule-engine/rules/gpt4-costly/entities", testClientKey, "")
	_ = json.NewDecoder(rr.Body).Decode(&list)
	if list.Count != 0 {
		t.Errorf("entities after remove = %d, want 0", list.Count)
	}
}

func TestSnapshotEndpoint_ETag(t *testing.T) {
	srv, _, h := newTestServer(t, Options{})
	do(t, h, http.MethodPost, "/rule-engine/rules", testAdminKey, modelRuleJSON)

	rr := do(t, h, http.MethodGet, "/rule-engine/snapshot", testClientKey, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	etag := rr.Header().Get("ETag")
	if etag == "" || etag != srv.Snapshot().Load().ETag {
		t.Fatalf("ETag = %q", etag)
	}
	var snap snapshot.Snapshot
	_ = json.NewDecoder(rr.Body).Decode(&snap)
	if len(snap.Rules) != 1 {
		t.Errorf("snapshot rules = %d, want 1", len(snap.Rules))
	}

	req := httptest.NewRequest(http.MethodGet, "/rule-engine/snapshot", nil)
	req.Header.Set("Authorization", "Bearer "+testClientKey)
	req.Header.Set("If-None-Match", etag)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotModified {
		t.Errorf("conditional get: status %d, want 304", rr.Code)
	}
}

func TestFields(t *testing.T) {
	_, _, h := newTestServer(t, Options{})

	rr := do(t, h, http.MethodGet, "/rule-engine/fields", testClientKey, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var resp fieldsResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Fields) == 0 {
		t.Error("no fields")
	}
	if len(resp.Operators[rules.TypeNumber]) == 0 || len(resp.Operators[rules.TypeString]) == 0 {
		t.Errorf("operators = %v", resp.Operators)
	}
}

func TestRateLimit(t *testing.T) {
	_, _, h := newTestServer(t, Options{RateLimitPerIP: 2})

	for i := 0; i < 2; i++ {
		if rr := do(t, h, http.MethodGet, "/rule-engine/fields", testClientKey, ""); rr.Code != http.StatusOK {
			t.Fatalf("request %d: status %d", i, rr.Code)
		}
	}
	rr := do(t, h, http.MethodGet, "/rule-engine/fields", testClientKey, "")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rr.Code)
	}
	var resp ErrorResponse
	_ = json.NewDecoder(rr.Body).Decode(&resp)
	if resp.Code != ErrCodeRateLimited {
		t.Errorf("code = %s", resp.Code)
	}

	// health checks are not limited
	if rr := do(t, h, http.MethodGet, "/healthz", "", ""); rr.Code != http.StatusOK {
		t.Errorf("healthz: status %d", rr.Code)
	}
}

func TestAuditTrail(t *testing.T) {
	sink := &audit.MemorySink{}
	svc := audit.NewService(sink, nil, nil, 16)
	_, _, h := newTestServer(t, Options{Audit: svc})

	do(t, h, http.MethodPost, "/rule-engine/rules", testAdminKey, modelRuleJSON)
	do(t, h, http.MethodPut, "/rule-engine/rules/gpt4-costly", testAdminKey,
		`{"name":"renamed","condition_groups":[{"condition_operator":"AND", "conditions":[{"field":"service.name","operator":"equals","value":"chat","data_type":"string"}]}]}`)
	do(t, h, http.MethodPost, "/rule-engine/rules/gpt4-costly/entities", testAdminKey, `{"entity_type":"dataset","entity_id":"d1"}`)
	do(t, h, http.MethodDelete, "/rule-engine/rules/gpt4-costly", testAdminKey, "")
	do(t, h, http.MethodPost, "/rule-engine/rules", testAdminKey, `{"name":"bad"}`) // rejected before the store
	if err := svc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	events := sink.Events()
	wantActions := []string{audit.ActionCreated, audit.ActionUpdated, audit.ActionEntityLinked, audit.ActionDeleted}
	if len(events) != len(wantActions) {
		t.Fatalf("got %d events, want %d: %+v", len(events), len(wantActions), events)
	}
	for i, want := range wantActions {
		if events[i].Action != want {
			t.Errorf("event %d action = %s, want %s", i, events[i].Action, want)
		}
		if events[i].Actor.Role != "admin" {
			t.Errorf("event %d actor = %+v", i, events[i].Actor)
		}
	}
	if _, ok := events[1].Changes["name"]; !ok {
		t.Errorf("update changes = %v, want name", events[1].Changes)
	}
}

func TestWebhookNotification(t *testing.T) {
	received := make(chan webhook.Event, 4)
	hookSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev webhook.Event
		_ = json.NewDecoder(r.Body).Decode(&ev)
		received <- ev
		w.WriteHeader(http.StatusOK)
	}))
	defer hookSrv.Close()

	hooks := webhook.NewDispatcher([]webhook.Endpoint{{URL: hookSrv.URL, Secret: "s"}}, webhook.Options{})
	_, _, h := newTestServer(t, Options{Webhooks: hooks})

	do(t, h, http.MethodPost, "/rule-engine/rules", testAdminKey, modelRuleJSON)
	do(t, h, http.MethodDelete, "/rule-engine/rules/missing", testAdminKey, "") // nothing deleted, no event
	do(t, h, http.MethodDelete, "/rule-engine/rules/gpt4-costly", testAdminKey, "")
	if err := hooks.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	close(received)

	var types []string
	for ev := range received {
		if ev.Resource.ID != "gpt4-costly" {
			t.Errorf("resource = %+v", ev.Resource)
		}
		types = append(types, ev.Type)
	}
	if len(types) != 2 || types[0] != webhook.EventRuleCreated || types[1] != webhook.EventRuleDeleted {
		t.Errorf("events = %v", types)
	}
}
