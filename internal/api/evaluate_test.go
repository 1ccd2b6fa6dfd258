package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"reflect"
	"sort"
	"testing"

	"github.com/openlit/ruleengine/internal/rules"
	"github.com/openlit/ruleengine/internal/testutil"
)

type evalResponse struct {
	Matched   []string `json:"matched"`
	Evaluated int      `json:"evaluated"`
	ETag      string   `json:"etag"`
	Results   []struct {
		RuleID  string `json:"rule_id"`
		Matched bool   `json:"matched"`
		Reason  string `json:"reason"`
		Groups  []struct {
			Conditions []struct {
				Field    string `json:"field"`
				Matched  bool   `json:"matched"`
				Degraded bool   `json:"degraded"`
				Reason   string `json:"reason"`
			} `json:"conditions"`
		} `json:"groups"`
	} `json:"results"`
}

func seedEvalRules(t *testing.T) http.Handler {
	t.Helper()
	server, st := testutil.NewTestServer(t)

	gpt4 := testutil.Rule("gpt4",
		rules.Condition{Field: "gen_ai.request.model", Operator: rules.OpEquals, Value: "gpt-4", DataType: rules.TypeString})
	costly := testutil.Rule("costly",
		rules.Condition{Field: "gen_ai.usage.cost", Operator: rules.OpGt, Value: "10", DataType: rules.TypeNumber})
	chat := testutil.Rule("chat",
		rules.Condition{Field: "service.name", Operator: rules.OpIn, Value: `["chat-api","chat-worker"]`, DataType: rules.TypeString})
	off := testutil.Rule("off")
	off.Status = rules.StatusInactive
	badRegex := testutil.Rule("bad-regex",
		rules.Condition{Field: "service.name", Operator: rules.OpRegex, Value: "(", DataType: rules.TypeString})

	ctx := context.Background()
	if err := testutil.SeedRules(ctx, server, st, []rules.Rule{gpt4, costly, chat, off, badRegex}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	for _, id := range []string{"gpt4", "chat"} {
		if err := st.AddEntity(ctx, rules.EntityAssociation{RuleID: id, EntityType: rules.EntityPrompt, EntityID: "p1"}); err != nil {
			t.Fatalf("link: %v", err)
		}
	}
	return server.Router()
}

func evaluate(t *testing.T, h http.Handler, body string) (int, evalResponse) {
	t.Helper()
	rr := (&testutil.HTTPRequest{
		Method: http.MethodPost,
		Path:   "/rule-engine/evaluate",
		Body:   body,
		Key:    testutil.ClientKey,
	}).Do(t, h)

	var resp evalResponse
	if rr.Code == http.StatusOK {
		if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}
	return rr.Code, resp
}

const span = `{
	"service": {"name": "chat-api"},
	"gen_ai": {"request": {"model": "gpt-4"}, "usage": {"cost": 12.5}}
}`

func TestEvaluate(t *testing.T) {
	h := seedEvalRules(t)

	tests := []struct {
		name          string
		body          string
		wantMatched   []string
		wantEvaluated int
	}{
		{
			name:          "nested record against all rules",
			body:          `{"record":` + span + `}`,
			wantMatched:   []string{"gpt4", "costly", "chat"},
			wantEvaluated: 5,
		},
		{
			name:          "flat attributes",
			body:          `{"attributes":{"gen_ai.request.model":"gpt-3.5","gen_ai.usage.cost":50}}`,
			wantMatched:   []string{"costly"},
			wantEvaluated: 5,
		},
		{
			name:          "attributes override record",
			body:          `{"record":` + span + `,"attributes":{"gen_ai.usage.cost":1}}`,
			wantMatched:   []string{"gpt4", "chat"},
			wantEvaluated: 5,
		},
		{
			name:          "selected rule ids",
			body:          `{"record":` + span + `,"rule_ids":["costly","off","unknown"]}`,
			wantMatched:   []string{"costly"},
			wantEvaluated: 2,
		},
		{
			name:          "entity candidates",
			body:          `{"record":` + span + `,"entity_type":"prompt","entity_id":"p1"}`,
			wantMatched:   []string{"gpt4", "chat"},
			wantEvaluated: 2,
		},
		{
			name:          "entity intersected with ids",
			body:          `{"record":` + span + `,"entity_type":"prompt","entity_id":"p1","rule_ids":["chat","costly"]}`,
			wantMatched:   []string{"chat"},
			wantEvaluated: 1,
		},
		{
			name:          "unlinked entity",
			body:          `{"record":` + span + `,"entity_type":"dataset","entity_id":"d9"}`,
			wantMatched:   []string{},
			wantEvaluated: 0,
		},
		{
			name:          "missing fields never match",
			body:          `{"attributes":{"span.name":"x"}}`,
			wantMatched:   []string{},
			wantEvaluated: 5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, resp := evaluate(t, h, tt.body)
			if code != http.StatusOK {
				t.Fatalf("status = %d", code)
			}
			// creation timestamps may tie, so snapshot order is not asserted
			sort.Strings(resp.Matched)
			sort.Strings(tt.wantMatched)
			if !reflect.DeepEqual(resp.Matched, tt.wantMatched) {
				t.Errorf("matched = %v, want %v", resp.Matched, tt.wantMatched)
			}
			if resp.Evaluated != tt.wantEvaluated {
				t.Errorf("evaluated = %d, want %d", resp.Evaluated, tt.wantEvaluated)
			}
			if resp.ETag == "" {
				t.Error("etag missing")
			}
			if resp.Results != nil {
				t.Error("results returned without explain")
			}
		})
	}
}

func TestEvaluate_Explain(t *testing.T) {
	h := seedEvalRules(t)

	code, resp := evaluate(t, h, `{"record":`+span+`,"explain":true}`)
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(resp.Results) != 5 {
		t.Fatalf("results = %d, want 5", len(resp.Results))
	}

	byID := map[string]int{}
	for i, r := range resp.Results {
		byID[r.RuleID] = i
	}

	if r := resp.Results[byID["off"]]; r.Matched || r.Reason != "INACTIVE" {
		t.Errorf("inactive rule result = %+v", r)
	}

	bad := resp.Results[byID["bad-regex"]]
	if bad.Matched || len(bad.Groups) != 1 || len(bad.Groups[0].Conditions) != 1 {
		t.Fatalf("bad-regex result = %+v", bad)
	}
	if c := bad.Groups[0].Conditions[0]; !c.Degraded || c.Reason != "INVALID_PATTERN" {
		t.Errorf("bad-regex condition = %+v", c)
	}
}

func TestEvaluate_BadRequests(t *testing.T) {
	h := seedEvalRules(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"no input", `{}`, http.StatusBadRequest},
		{"invalid json", `{"record":`, http.StatusBadRequest},
		{"bad entity type", `{"attributes":{"a":1},"entity_type":"user","entity_id":"u"}`, http.StatusBadRequest},
		{"entity id without type", `{"attributes":{"a":1},"entity_id":"p1"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code, _ := evaluate(t, h, tt.body); code != tt.want {
				t.Errorf("status = %d, want %d", code, tt.want)
			}
		})
	}
}
