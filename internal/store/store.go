package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/openlit/ruleengine/internal/rules"
)

var (
	// ErrNotFound is returned when a rule does not exist.
	ErrNotFound = errors.New("rule not found")
	// ErrAlreadyExists is returned when creating a rule with an id in use.
	ErrAlreadyExists = errors.New("rule already exists")
)

// IsNotFound reports whether err means the rule is absent.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, pgx.ErrNoRows)
}

// Store defines the interface for rule persistence operations.
// Implementations must be thread-safe and support concurrent access.
type Store interface {
	// ListRules returns rules ordered by creation time, optionally filtered.
	// Returns an empty slice if no rules match.
	ListRules(ctx context.Context, filter ListFilter) ([]rules.Rule, error)

	// GetRule retrieves a single rule with its condition groups.
	// Returns ErrNotFound if the rule doesn't exist.
	GetRule(ctx context.Context, id string) (*rules.Rule, error)

	// CreateRule stores a new rule. An empty ID is replaced by a generated one.
	// Returns ErrAlreadyExists if the ID is taken.
	CreateRule(ctx context.Context, r rules.Rule) (*rules.Rule, error)

	// UpdateRule replaces a rule's attributes and condition groups.
	// Returns ErrNotFound if the rule doesn't exist.
	UpdateRule(ctx context.Context, r rules.Rule) (*rules.Rule, error)

	// DeleteRule removes a rule and its entity associations.
	// Returns no error if the rule doesn't exist (idempotent).
	DeleteRule(ctx context.Context, id string) error

	// ReplaceConditions swaps the condition groups of a rule.
	ReplaceConditions(ctx context.Context, id string, groups []rules.ConditionGroup) (*rules.Rule, error)

	// AddEntity links a rule to an entity. Adding an existing link is a no-op.
	AddEntity(ctx context.Context, a rules.EntityAssociation) error

	// RemoveEntity unlinks a rule from an entity (idempotent).
	RemoveEntity(ctx context.Context, a rules.EntityAssociation) error

	// ListEntities returns the entities linked to a rule.
	ListEntities(ctx context.Context, ruleID string) ([]rules.EntityAssociation, error)

	// RulesForEntity returns the rules linked to an entity.
	RulesForEntity(ctx context.Context, entityType rules.EntityType, entityID string) ([]rules.Rule, error)

	// Close releases any resources held by the store.
	// After Close is called, the store should not be used.
	Close() error
}

// ListFilter narrows ListRules. Zero values disable a filter.
type ListFilter struct {
	Status rules.Status
	IDs    []string
}

func (f ListFilter) matches(r rules.Rule) bool {
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if len(f.IDs) == 0 {
		return true
	}
	for _, id := range f.IDs {
		if id == r.ID {
			return true
		}
	}
	return false
}

// ensureGroupsInitialized keeps JSON output as [] instead of null.
func ensureGroupsInitialized(groups []rules.ConditionGroup) []rules.ConditionGroup {
	if groups == nil {
		return []rules.ConditionGroup{}
	}
	for i := range groups {
		if groups[i].Conditions == nil {
			groups[i].Conditions = []rules.Condition{}
		}
	}
	return groups
}
