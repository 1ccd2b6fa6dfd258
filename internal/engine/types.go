package engine

import "github.com/openlit/ruleengine/internal/rules"

// Attributes maps a field name (possibly a dotted path) to an extracted
// scalar: string, bool, any numeric kind or json.Number.
type Attributes map[string]any

// Reason explains why a condition, group or rule did not match.
type Reason string

const (
	ReasonMissingField        Reason = "MISSING_FIELD"
	ReasonNoMatch             Reason = "NO_MATCH"
	ReasonInactive            Reason = "INACTIVE"
	ReasonUnsupportedOperator Reason = "UNSUPPORTED_OPERATOR"
	ReasonUnknownDataType     Reason = "UNKNOWN_DATA_TYPE"
	ReasonUnknownLogic        Reason = "UNKNOWN_LOGIC_OPERATOR"
	ReasonInvalidPattern      Reason = "INVALID_PATTERN"
	ReasonInvalidValue        Reason = "INVALID_VALUE"
	ReasonTypeMismatch        Reason = "TYPE_MISMATCH"
)

// ConditionResult is the outcome of a single condition. Degraded marks
// conditions that evaluated to false because the rule data or the attribute
// could not be interpreted, as opposed to a plain mismatch.
type ConditionResult struct {
	Field    string         `json:"field"`
	Operator rules.Operator `json:"operator"`
	Value    string         `json:"value"`
	DataType rules.DataType `json:"data_type"`
	Actual   any            `json:"actual,omitempty"`
	Matched  bool           `json:"matched"`
	Degraded bool           `json:"degraded,omitempty"`
	Reason   Reason         `json:"reason,omitempty"`
	Detail   string         `json:"detail,omitempty"`
}

// GroupResult is the outcome of one condition group. Conditions holds the
// evaluated conditions only; Skipped counts those short-circuited away.
type GroupResult struct {
	Operator   rules.LogicOperator `json:"operator"`
	Matched    bool                `json:"matched"`
	Degraded   bool                `json:"degraded,omitempty"`
	Reason     Reason              `json:"reason,omitempty"`
	Conditions []ConditionResult   `json:"conditions"`
	Skipped    int                 `json:"skipped,omitempty"`
}

// RuleResult is the outcome of evaluating a rule, with diagnostics.
type RuleResult struct {
	RuleID   string              `json:"rule_id,omitempty"`
	Name     string              `json:"name,omitempty"`
	Operator rules.LogicOperator `json:"operator"`
	Matched  bool                `json:"matched"`
	Reason   Reason              `json:"reason,omitempty"`
	Groups   []GroupResult       `json:"groups,omitempty"`
	Skipped  int                 `json:"skipped,omitempty"`
}

// Degraded returns every degraded condition in evaluation order.
func (r RuleResult) Degraded() []ConditionResult {
	var out []ConditionResult
	for _, g := range r.Groups {
		for _, c := range g.Conditions {
			if c.Degraded {
				out = append(out, c)
			}
		}
	}
	return out
}

// HasDegraded reports whether any group or condition degraded.
func (r RuleResult) HasDegraded() bool {
	if r.Reason == ReasonUnknownLogic {
		return true
	}
	for _, g := range r.Groups {
		if g.Degraded {
			return true
		}
		for _, c := range g.Conditions {
			if c.Degraded {
				return true
			}
		}
	}
	return false
}
