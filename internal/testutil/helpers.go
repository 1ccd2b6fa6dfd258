// Package testutil holds helpers shared by HTTP-level tests.
package testutil

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openlit/ruleengine/internal/api"
	"github.com/openlit/ruleengine/internal/rules"
	"github.com/openlit/ruleengine/internal/store"
)

const (
	AdminKey  = "test-admin-key"
	ClientKey = "test-client-key"
)

// NewTestServer creates a test server with an in-memory store and the
// AdminKey/ClientKey credentials. Rate limiting is disabled.
func NewTestServer(t *testing.T) (*api.Server, *store.MemoryStore) {
	t.Helper()
	memStore := store.NewMemoryStore()
	server := api.NewServer(memStore, nil, api.Options{
		AdminKey:  AdminKey,
		ClientKey: ClientKey,
	})
	return server, memStore
}

// HTTPRequest is a helper for making test HTTP requests.
type HTTPRequest struct {
	Method  string
	Path    string
	Body    string
	Key     string // sent as a bearer token when set
	Headers map[string]string
}

// Do executes the HTTP request and returns the response recorder.
func (r *HTTPRequest) Do(t *testing.T, handler http.Handler) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if r.Body != "" {
		body = bytes.NewBufferString(r.Body)
	}
	req := httptest.NewRequest(r.Method, r.Path, body)
	if r.Body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.Key != "" {
		req.Header.Set("Authorization", "Bearer "+r.Key)
	}
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

// SeedRules stores rs and rebuilds the server snapshot.
func SeedRules(ctx context.Context, server *api.Server, st store.Store, rs []rules.Rule) error {
	for _, r := range rs {
		if _, err := st.CreateRule(ctx, r); err != nil {
			return err
		}
	}
	return server.RebuildSnapshot(ctx)
}

// Rule builds an ACTIVE rule with a single AND group.
func Rule(id string, conds ...rules.Condition) rules.Rule {
	return rules.Rule{
		ID:            id,
		Name:          id,
		GroupOperator: rules.LogicAnd,
		Status:        rules.StatusActive,
		ConditionGroups: []rules.ConditionGroup{
			{ConditionOperator: rules.LogicAnd, Conditions: conds},
		},
	}
}
