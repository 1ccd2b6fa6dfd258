package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/openlit/ruleengine/internal/rules"
)

func sampleRule(name string) rules.Rule {
	return rules.Rule{
		Name:          name,
		GroupOperator: rules.LogicAnd,
		Status:        rules.StatusActive,
		ConditionGroups: []rules.ConditionGroup{{
			ConditionOperator: rules.LogicAnd,
			Conditions: []rules.Condition{
				{Field: "service.name", Operator: rules.OpEquals, Value: "chat-api", DataType: rules.TypeString},
			},
		}},
	}
}

// newTestMemoryStore returns a store whose clock advances one second per call
// so creation order is deterministic.
func newTestMemoryStore() *MemoryStore {
	m := NewMemoryStore()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	tick := 0
	m.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	return m
}

func TestMemoryStore_CreateAndGet(t *testing.T) {
	store := newTestMemoryStore()
	ctx := context.Background()

	created, err := store.CreateRule(ctx, sampleRule("errors"))
	if err != nil {
		t.Fatalf("CreateRule failed: %v", err)
	}
	if created.ID == "" {
		t.Fatal("Expected generated ID")
	}
	if created.CreatedAt.IsZero() || !created.CreatedAt.Equal(created.UpdatedAt) {
		t.Errorf("Expected equal non-zero timestamps, got %v / %v", created.CreatedAt, created.UpdatedAt)
	}

	got, err := store.GetRule(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetRule failed: %v", err)
	}
	if got.Name != "errors" {
		t.Errorf("Expected name 'errors', got '%s'", got.Name)
	}
	if len(got.ConditionGroups) != 1 || len(got.ConditionGroups[0].Conditions) != 1 {
		t.Fatalf("Expected 1 group with 1 condition, got %+v", got.ConditionGroups)
	}
}

func TestMemoryStore_CreateKeepsExplicitID(t *testing.T) {
	store := newTestMemoryStore()
	r := sampleRule("fixed")
	r.ID = "rule-1"

	created, err := store.CreateRule(context.Background(), r)
	if err != nil {
		t.Fatalf("CreateRule failed: %v", err)
	}
	if created.ID != "rule-1" {
		t.Errorf("Expected ID 'rule-1', got '%s'", created.ID)
	}
}

func TestMemoryStore_GetNotFound(t *testing.T) {
	store := newTestMemoryStore()
	_, err := store.GetRule(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if !IsNotFound(err) {
		t.Error("IsNotFound should report true")
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	store := newTestMemoryStore()
	ctx := context.Background()

	created, _ := store.CreateRule(ctx, sampleRule("copy"))
	created.ConditionGroups[0].Conditions[0].Value = "mutated"

	got, _ := store.GetRule(ctx, created.ID)
	if got.ConditionGroups[0].Conditions[0].Value != "chat-api" {
		t.Errorf("Store state was mutated through returned rule: %q", got.ConditionGroups[0].Conditions[0].Value)
	}
}

func TestMemoryStore_ListRules(t *testing.T) {
	store := newTestMemoryStore()
	ctx := context.Background()

	a, _ := store.CreateRule(ctx, sampleRule("a"))
	inactive := sampleRule("b")
	inactive.Status = rules.StatusInactive
	b, _ := store.CreateRule(ctx, inactive)
	c, _ := store.CreateRule(ctx, sampleRule("c"))

	tests := []struct {
		name   string
		filter ListFilter
		want   []string
	}{
		{name: "all in creation order", filter: ListFilter{}, want: []string{a.ID, b.ID, c.ID}},
		{name: "active only", filter: ListFilter{Status: rules.StatusActive}, want: []string{a.ID, c.ID}},
		{name: "inactive only", filter: ListFilter{Status: rules.StatusInactive}, want: []string{b.ID}},
		{name: "by ids", filter: ListFilter{IDs: []string{c.ID, a.ID}}, want: []string{a.ID, c.ID}},
		{name: "ids and status", filter: ListFilter{IDs: []string{b.ID}, Status: rules.StatusActive}, want: []string{}},
		{name: "unknown id", filter: ListFilter{IDs: []string{"nope"}}, want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.ListRules(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListRules failed: %v", err)
			}
			if got == nil {
				t.Fatal("Expected non-nil slice")
			}
			if len(got) != len(tt.want) {
				t.Fatalf("Expected %d rules, got %d", len(tt.want), len(got))
			}
			for i := range got {
				if got[i].ID != tt.want[i] {
					t.Errorf("rule[%d] = %s, want %s", i, got[i].ID, tt.want[i])
				}
			}
		})
	}
}

func TestMemoryStore_UpdateRule(t *testing.T) {
	store := newTestMemoryStore()
	ctx := context.Background()

	created, _ := store.CreateRule(ctx, sampleRule("before"))

	upd := sampleRule("after")
	upd.ID = created.ID
	upd.Status = rules.StatusInactive
	upd.ConditionGroups = nil

	got, err := store.UpdateRule(ctx, upd)
	if err != nil {
		t.Fatalf("UpdateRule failed: %v", err)
	}
	if got.Name != "after" || got.Status != rules.StatusInactive {
		t.Errorf("Unexpected rule after update: %+v", got)
	}
	if !got.CreatedAt.Equal(created.CreatedAt) {
		t.Errorf("CreatedAt changed: %v -> %v", created.CreatedAt, got.CreatedAt)
	}
	if !got.UpdatedAt.After(created.UpdatedAt) {
		t.Errorf("UpdatedAt did not advance")
	}
	if got.ConditionGroups == nil || len(got.ConditionGroups) != 0 {
		t.Errorf("Expected empty non-nil groups, got %#v", got.ConditionGroups)
	}

	upd.ID = "missing"
	if _, err := store.UpdateRule(ctx, upd); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_ReplaceConditions(t *testing.T) {
	store := newTestMemoryStore()
	ctx := context.Background()

	created, _ := store.CreateRule(ctx, sampleRule("r"))
	groups := []rules.ConditionGroup{
		{ConditionOperator: rules.LogicOr, Conditions: []rules.Condition{
			{Field: "duration_ms", Operator: rules.OpGt, Value: "500", DataType: rules.TypeNumber},
		}},
		{ConditionOperator: rules.LogicAnd},
	}

	got, err := store.ReplaceConditions(ctx, created.ID, groups)
	if err != nil {
		t.Fatalf("ReplaceConditions failed: %v", err)
	}
	if len(got.ConditionGroups) != 2 {
		t.Fatalf("Expected 2 groups, got %d", len(got.ConditionGroups))
	}
	if got.ConditionGroups[0].Conditions[0].Field != "duration_ms" {
		t.Errorf("Unexpected first condition: %+v", got.ConditionGroups[0].Conditions[0])
	}
	if got.ConditionGroups[1].Conditions == nil {
		t.Error("Expected empty non-nil conditions slice")
	}

	// Caller's slice must not alias stored state.
	groups[0].Conditions[0].Value = "1"
	again, _ := store.GetRule(ctx, created.ID)
	if again.ConditionGroups[0].Conditions[0].Value != "500" {
		t.Errorf("Stored conditions aliased caller slice")
	}

	if _, err := store.ReplaceConditions(ctx, "missing", groups); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_DeleteRule(t *testing.T) {
	store := newTestMemoryStore()
	ctx := context.Background()

	created, _ := store.CreateRule(ctx, sampleRule("gone"))
	link := rules.EntityAssociation{RuleID: created.ID, EntityType: rules.EntityPrompt, EntityID: "p1"}
	if err := store.AddEntity(ctx, link); err != nil {
		t.Fatalf("AddEntity failed: %v", err)
	}

	if err := store.DeleteRule(ctx, created.ID); err != nil {
		t.Fatalf("DeleteRule failed: %v", err)
	}
	if _, err := store.GetRule(ctx, created.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
	linked, _ := store.RulesForEntity(ctx, rules.EntityPrompt, "p1")
	if len(linked) != 0 {
		t.Errorf("Expected associations to be removed, got %d", len(linked))
	}

	// Deleting again is not an error.
	if err := store.DeleteRule(ctx, created.ID); err != nil {
		t.Errorf("Second DeleteRule failed: %v", err)
	}
}

func TestMemoryStore_Entities(t *testing.T) {
	store := newTestMemoryStore()
	ctx := context.Background()

	r1, _ := store.CreateRule(ctx, sampleRule("r1"))
	r2, _ := store.CreateRule(ctx, sampleRule("r2"))

	links := []rules.EntityAssociation{
		{RuleID: r1.ID, EntityType: rules.EntityDataset, EntityID: "ds"},
		{RuleID: r2.ID, EntityType: rules.EntityDataset, EntityID: "ds"},
		{RuleID: r1.ID, EntityType: rules.EntityPrompt, EntityID: "p"},
		{RuleID: r1.ID, EntityType: rules.EntityDataset, EntityID: "ds"}, // duplicate
	}
	for _, l := range links {
		if err := store.AddEntity(ctx, l); err != nil {
			t.Fatalf("AddEntity(%+v) failed: %v", l, err)
		}
	}

	ents, err := store.ListEntities(ctx, r1.ID)
	if err != nil {
		t.Fatalf("ListEntities failed: %v", err)
	}
	if len(ents) != 2 {
		t.Errorf("Expected 2 entities for r1, got %d", len(ents))
	}

	linked, err := store.RulesForEntity(ctx, rules.EntityDataset, "ds")
	if err != nil {
		t.Fatalf("RulesForEntity failed: %v", err)
	}
	if len(linked) != 2 || linked[0].ID != r1.ID || linked[1].ID != r2.ID {
		t.Errorf("Unexpected linked rules: %+v", linked)
	}

	if err := store.RemoveEntity(ctx, links[0]); err != nil {
		t.Fatalf("RemoveEntity failed: %v", err)
	}
	linked, _ = store.RulesForEntity(ctx, rules.EntityDataset, "ds")
	if len(linked) != 1 || linked[0].ID != r2.ID {
		t.Errorf("Expected only r2 after removal, got %+v", linked)
	}

	// Removing a missing link is a no-op.
	if err := store.RemoveEntity(ctx, links[0]); err != nil {
		t.Errorf("Second RemoveEntity failed: %v", err)
	}

	err = store.AddEntity(ctx, rules.EntityAssociation{RuleID: "missing", EntityType: rules.EntityPrompt, EntityID: "p"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown rule, got %v", err)
	}
	if _, err := store.ListEntities(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound from ListEntities, got %v", err)
	}
}

func TestMemoryStore_Concurrent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			created, err := store.CreateRule(ctx, sampleRule("c"))
			if err != nil {
				t.Errorf("CreateRule failed: %v", err)
				return
			}
			_, _ = store.ListRules(ctx, ListFilter{})
			_ = store.AddEntity(ctx, rules.EntityAssociation{RuleID: created.ID, EntityType: rules.EntityContext, EntityID: "ctx"})
		}()
	}
	wg.Wait()

	list, _ := store.ListRules(ctx, ListFilter{})
	if len(list) != 20 {
		t.Errorf("Expected 20 rules, got %d", len(list))
	}
	linked, _ := store.RulesForEntity(ctx, rules.EntityContext, "ctx")
	if len(linked) != 20 {
		t.Errorf("Expected 20 linked rules, got %d", len(linked))
	}
}

func TestMemoryStore_CreateDuplicateID(t *testing.T) {
	store := newTestMemoryStore()
	ctx := context.Background()

	r := sampleRule("first")
	r.ID = "dup"
	if _, err := store.CreateRule(ctx, r); err != nil {
		t.Fatalf("CreateRule failed: %v", err)
	}
	r.Name = "second"
	if _, err := store.CreateRule(ctx, r); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("Expected ErrAlreadyExists, got %v", err)
	}
	got, _ := store.GetRule(ctx, "dup")
	if got.Name != "first" {
		t.Errorf("Existing rule was overwritten: %s", got.Name)
	}
}
