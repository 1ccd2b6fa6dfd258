package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openlit/ruleengine/internal/rules"
)

// MemoryStore is an in-memory implementation of the Store interface.
// It uses maps for storage and RWMutex for thread-safe concurrent access.
// Rules are deep-copied on the way in and out so callers never share state.
type MemoryStore struct {
	mu       sync.RWMutex
	rules    map[string]rules.Rule
	entities map[string][]rules.EntityAssociation // rule id -> links
	now      func() time.Time
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rules:    make(map[string]rules.Rule),
		entities: make(map[string][]rules.EntityAssociation),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ListRules returns the stored rules matching filter.
func (m *MemoryStore) ListRules(ctx context.Context, filter ListFilter) ([]rules.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]rules.Rule, 0, len(m.rules))
	for _, r := range m.rules {
		if filter.matches(r) {
			result = append(result, r.Clone())
		}
	}
	sortRules(result)
	return result, nil
}

// GetRule retrieves a single rule by id.
func (m *MemoryStore) GetRule(ctx context.Context, id string) (*rules.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.rules[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := r.Clone()
	return &out, nil
}

// CreateRule stores a new rule.
func (m *MemoryStore) CreateRule(ctx context.Context, r rules.Rule) (*rules.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := r.Clone()
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if _, exists := m.rules[stored.ID]; exists {
		return nil, ErrAlreadyExists
	}
	now := m.now()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	stored.ConditionGroups = ensureGroupsInitialized(stored.ConditionGroups)

	m.rules[stored.ID] = stored
	out := stored.Clone()
	return &out, nil
}

// UpdateRule replaces an existing rule, keeping its creation time.
func (m *MemoryStore) UpdateRule(ctx context.Context, r rules.Rule) (*rules.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.rules[r.ID]
	if !ok {
		return nil, ErrNotFound
	}

	stored := r.Clone()
	stored.CreatedAt = existing.CreatedAt
	stored.UpdatedAt = m.now()
	stored.ConditionGroups = ensureGroupsInitialized(stored.ConditionGroups)

	m.rules[stored.ID] = stored
	out := stored.Clone()
	return &out, nil
}

// DeleteRule removes a rule and its entity links.
func (m *MemoryStore) DeleteRule(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.rules, id)
	delete(m.entities, id)
	return nil
}

// ReplaceConditions swaps a rule's condition groups.
func (m *MemoryStore) ReplaceConditions(ctx context.Context, id string, groups []rules.ConditionGroup) (*rules.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.rules[id]
	if !ok {
		return nil, ErrNotFound
	}

	existing.ConditionGroups = groups
	existing = existing.Clone()
	existing.ConditionGroups = ensureGroupsInitialized(existing.ConditionGroups)
	existing.UpdatedAt = m.now()

	m.rules[id] = existing
	out := existing.Clone()
	return &out, nil
}

// AddEntity links a rule to an entity.
func (m *MemoryStore) AddEntity(ctx context.Context, a rules.EntityAssociation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rules[a.RuleID]; !ok {
		return ErrNotFound
	}
	for _, existing := range m.entities[a.RuleID] {
		if existing == a {
			return nil
		}
	}
	m.entities[a.RuleID] = append(m.entities[a.RuleID], a)
	return nil
}

// RemoveEntity unlinks a rule from an entity.
func (m *MemoryStore) RemoveEntity(ctx context.Context, a rules.EntityAssociation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	links := m.entities[a.RuleID]
	for i, existing := range links {
		if existing == a {
			m.entities[a.RuleID] = append(links[:i:i], links[i+1:]...)
			break
		}
	}
	return nil
}

// ListEntities returns the entities linked to a rule.
func (m *MemoryStore) ListEntities(ctx context.Context, ruleID string) ([]rules.EntityAssociation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.rules[ruleID]; !ok {
		return nil, ErrNotFound
	}
	return append([]rules.EntityAssociation{}, m.entities[ruleID]...), nil
}

// RulesForEntity returns the rules linked to an entity.
func (m *MemoryStore) RulesForEntity(ctx context.Context, entityType rules.EntityType, entityID string) ([]rules.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := []rules.Rule{}
	for ruleID, links := range m.entities {
		for _, a := range links {
			if a.EntityType == entityType && a.EntityID == entityID {
				result = append(result, m.rules[ruleID].Clone())
				break
			}
		}
	}
	sortRules(result)
	return result, nil
}

// Close is a no-op for MemoryStore as there are no resources to release.
func (m *MemoryStore) Close() error {
	return nil
}

func sortRules(rs []rules.Rule) {
	sort.Slice(rs, func(i, j int) bool {
		if !rs[i].CreatedAt.Equal(rs[j].CreatedAt) {
			return rs[i].CreatedAt.Before(rs[j].CreatedAt)
		}
		return rs[i].ID < rs[j].ID
	})
}
