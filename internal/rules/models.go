package rules

import (
	"strings"
	"time"
)

// Operator represents a comparison operator used in rule conditions.
type Operator string

// Supported condition operators (string values for clean JSON serialization).
const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
	OpStartsWith  Operator = "starts_with"
	OpEndsWith    Operator = "ends_with"
	OpRegex       Operator = "regex"
	OpIn          Operator = "in"
	OpNotIn       Operator = "not_in"
	OpGt          Operator = "gt"
	OpGte         Operator = "gte"
	OpLt          Operator = "lt"
	OpLte         Operator = "lte"
	OpBetween     Operator = "between"
)

// DataType declares how a condition compares its operands.
type DataType string

const (
	TypeString DataType = "string"
	TypeNumber DataType = "number"
)

// LogicOperator combines condition results inside a group and group
// results inside a rule.
type LogicOperator string

const (
	LogicAnd LogicOperator = "AND"
	LogicOr  LogicOperator = "OR"
)

// Status controls whether a rule takes part in evaluation.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusInactive Status = "INACTIVE"
)

// EntityType names the domain objects a rule can be attached to.
type EntityType string

const (
	EntityContext EntityType = "context"
	EntityPrompt  EntityType = "prompt"
	EntityDataset EntityType = "dataset"
)

// Condition is a single field comparison. Value is always stored as a
// string; list and range operators encode several values in it (see
// ParseList and ParseBounds).
type Condition struct {
	Field    string   `json:"field" yaml:"field"`
	Operator Operator `json:"operator" yaml:"operator"`
	Value    string   `json:"value" yaml:"value"`
	DataType DataType `json:"data_type" yaml:"data_type"`
}

// ConditionGroup combines its conditions with ConditionOperator.
type ConditionGroup struct {
	ConditionOperator LogicOperator `json:"condition_operator" yaml:"condition_operator"`
	Conditions        []Condition   `json:"conditions" yaml:"conditions"`
}

// Rule combines its groups with GroupOperator. Only ACTIVE rules can match.
type Rule struct {
	ID              string           `json:"id" yaml:"id,omitempty"`
	Name            string           `json:"name" yaml:"name"`
	Description     string           `json:"description" yaml:"description,omitempty"`
	GroupOperator   LogicOperator    `json:"group_operator" yaml:"group_operator"`
	Status          Status           `json:"status" yaml:"status"`
	ConditionGroups []ConditionGroup `json:"condition_groups" yaml:"condition_groups"`
	CreatedAt       time.Time        `json:"created_at" yaml:"-"`
	UpdatedAt       time.Time        `json:"updated_at" yaml:"-"`
}

// IsActive reports whether the rule may be evaluated as true.
func (r Rule) IsActive() bool {
	return r.Status == StatusActive
}

// EntityAssociation links a rule to a domain object.
type EntityAssociation struct {
	RuleID     string     `json:"rule_id"`
	EntityType EntityType `json:"entity_type"`
	EntityID   string     `json:"entity_id"`
}

// Clone returns a deep copy of r so callers can hand rules across
// goroutines without sharing slices.
func (r Rule) Clone() Rule {
	out := r
	if r.ConditionGroups == nil {
		return out
	}
	out.ConditionGroups = make([]ConditionGroup, len(r.ConditionGroups))
	for i, g := range r.ConditionGroups {
		out.ConditionGroups[i] = ConditionGroup{ConditionOperator: g.ConditionOperator}
		if g.Conditions != nil {
			out.ConditionGroups[i].Conditions = make([]Condition, len(g.Conditions))
			copy(out.ConditionGroups[i].Conditions, g.Conditions)
		}
	}
	return out
}

// Normalize applies the authoring defaults: trimmed id and name, upper-case
// logic operators and status, AND and ACTIVE when unset. r is not modified.
func Normalize(r Rule) Rule {
	out := r.Clone()
	out.ID = strings.TrimSpace(out.ID)
	out.Name = strings.TrimSpace(out.Name)
	out.GroupOperator = LogicOperator(strings.ToUpper(strings.TrimSpace(string(out.GroupOperator))))
	if out.GroupOperator == "" {
		out.GroupOperator = LogicAnd
	}
	out.Status = Status(strings.ToUpper(strings.TrimSpace(string(out.Status))))
	if out.Status == "" {
		out.Status = StatusActive
	}
	for i := range out.ConditionGroups {
		g := &out.ConditionGroups[i]
		g.ConditionOperator = LogicOperator(strings.ToUpper(strings.TrimSpace(string(g.ConditionOperator))))
	}
	return out
}
