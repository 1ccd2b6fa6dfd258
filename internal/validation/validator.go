// Package validation checks rule and association payloads submitted over the
// API and reports problems keyed by field.
package validation

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/openlit/ruleengine/internal/rules"
)

const (
	// MaxIDLength is the maximum length for client-supplied rule and entity ids
	MaxIDLength = 64
	// MaxNameLength is the maximum length for rule names
	MaxNameLength = 128
	// MaxDescriptionLength is the maximum length for rule descriptions
	MaxDescriptionLength = 500
	// MaxConditions caps the total number of conditions in one rule
	MaxConditions = 100
)

// idPattern matches alphanumeric characters, underscores, hyphens and dots
var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

// ValidationResult holds the result of validation
type ValidationResult struct {
	Valid  bool
	Errors map[string]string
}

// NewValidationResult creates a new validation result
func NewValidationResult() *ValidationResult {
	return &ValidationResult{
		Valid:  true,
		Errors: make(map[string]string),
	}
}

// AddError adds a field error and marks the result as invalid
func (v *ValidationResult) AddError(field, message string) {
	v.Valid = false
	v.Errors[field] = message
}

// Merge combines another validation result into this one
func (v *ValidationResult) Merge(other *ValidationResult) {
	if other == nil {
		return
	}
	for field, message := range other.Errors {
		v.AddError(field, message)
	}
}

// ValidateRule validates a rule submitted for create or update.
func ValidateRule(r rules.Rule) *ValidationResult {
	result := NewValidationResult()

	if r.ID != "" {
		result.Merge(ValidateID("id", r.ID))
	}
	result.Merge(ValidateName(r.Name))
	result.Merge(ValidateDescription(r.Description))

	if r.Status != rules.StatusActive && r.Status != rules.StatusInactive {
		result.AddError("status", "Status must be ACTIVE or INACTIVE")
	}
	if r.GroupOperator != rules.LogicAnd && r.GroupOperator != rules.LogicOr {
		result.AddError("group_operator", "Group operator must be AND or OR")
	}

	if len(r.ConditionGroups) == 0 {
		result.AddError("condition_groups", "At least one condition group is required")
		return result
	}
	result.Merge(ValidateGroups(r.ConditionGroups))

	return result
}

// ValidateGroups validates condition groups, as submitted on their own by the
// conditions endpoint.
func ValidateGroups(groups []rules.ConditionGroup) *ValidationResult {
	result := NewValidationResult()

	if len(groups) == 0 {
		result.AddError("condition_groups", "At least one condition group is required")
		return result
	}

	total := 0
	for _, g := range groups {
		total += len(g.Conditions)
	}
	if total > MaxConditions {
		result.AddError("condition_groups", "Rule must not exceed 100 conditions")
		return result
	}

	if err := rules.ValidateGroups(groups); err != nil {
		result.AddError("condition_groups", err.Error())
	}
	return result
}

// ValidateName validates a rule name
func ValidateName(name string) *ValidationResult {
	result := NewValidationResult()
	name = strings.TrimSpace(name)

	if name == "" {
		result.AddError("name", "Name is required")
		return result
	}

	if utf8.RuneCountInString(name) > MaxNameLength {
		result.AddError("name", "Name must not exceed 128 characters")
	}

	return result
}

// ValidateDescription validates a rule description
func ValidateDescription(description string) *ValidationResult {
	result := NewValidationResult()

	if utf8.RuneCountInString(description) > MaxDescriptionLength {
		result.AddError("description", "Description must not exceed 500 characters")
	}

	return result
}

// ValidateID validates a client-supplied identifier stored under field.
func ValidateID(field, id string) *ValidationResult {
	result := NewValidationResult()

	if strings.TrimSpace(id) == "" {
		result.AddError(field, "Identifier is required")
		return result
	}

	if utf8.RuneCountInString(id) > MaxIDLength {
		result.AddError(field, "Identifier must not exceed 64 characters")
		return result
	}

	if !idPattern.MatchString(id) {
		result.AddError(field, "Identifier must contain only alphanumeric characters, underscores, hyphens, and dots")
	}

	return result
}

// ValidateEntity validates an entity association target.
func ValidateEntity(entityType rules.EntityType, entityID string) *ValidationResult {
	result := NewValidationResult()

	switch entityType {
	case rules.EntityContext, rules.EntityPrompt, rules.EntityDataset:
	default:
		result.AddError("entity_type", "Entity type must be one of: context, prompt, dataset")
	}
	result.Merge(ValidateID("entity_id", entityID))

	return result
}
