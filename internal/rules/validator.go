package rules

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Sentinel errors returned by ValidateRule.
var (
	ErrInvalidRule          = errors.New("invalid rule")
	ErrInvalidStatus        = errors.New("invalid status")
	ErrInvalidGroupOperator = errors.New("invalid group operator")
	ErrInvalidCondition     = errors.New("invalid condition")
	ErrInvalidOperator      = errors.New("invalid operator")
	ErrInvalidDataType      = errors.New("invalid data type")
	ErrInvalidValue         = errors.New("invalid value")
)

// ValidateRule performs strict authoring-time validation of a Rule.
// It is a pure function: it never mutates r and has no side effects.
// The evaluator does not depend on it; rules that skipped validation still
// evaluate fail-safe.
func ValidateRule(r Rule) error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("%w: name must not be empty", ErrInvalidRule)
	}

	if r.Status != StatusActive && r.Status != StatusInactive {
		return fmt.Errorf("%w: %q, want ACTIVE or INACTIVE", ErrInvalidStatus, r.Status)
	}

	if !isLogicOperator(r.GroupOperator) {
		return fmt.Errorf("%w: group_operator %q, want AND or OR", ErrInvalidGroupOperator, r.GroupOperator)
	}

	if len(r.ConditionGroups) == 0 {
		return fmt.Errorf("%w: rule must have at least one condition group", ErrInvalidRule)
	}

	return ValidateGroups(r.ConditionGroups)
}

// ValidateGroups validates condition groups on their own, as submitted by
// the conditions endpoint.
func ValidateGroups(groups []ConditionGroup) error {
	for gi, g := range groups {
		if !isLogicOperator(g.ConditionOperator) {
			return fmt.Errorf("%w: group[%d] condition_operator %q, want AND or OR", ErrInvalidGroupOperator, gi, g.ConditionOperator)
		}
		if len(g.Conditions) == 0 {
			return fmt.Errorf("%w: group[%d] must have at least one condition", ErrInvalidCondition, gi)
		}
		for ci, c := range g.Conditions {
			if err := validateCondition(gi, ci, c); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateCondition(gi, ci int, c Condition) error {
	if strings.TrimSpace(c.Field) == "" {
		return fmt.Errorf("%w: group[%d].condition[%d] field must not be empty", ErrInvalidCondition, gi, ci)
	}

	if _, ok := operatorTable[c.DataType]; !ok {
		return fmt.Errorf("%w: group[%d].condition[%d] data_type %q, want string or number", ErrInvalidDataType, gi, ci, c.DataType)
	}

	if !IsOperatorValid(c.DataType, c.Operator) {
		return fmt.Errorf("%w: group[%d].condition[%d] operator %q is not supported for %s", ErrInvalidOperator, gi, ci, c.Operator, c.DataType)
	}

	return validateValue(gi, ci, c)
}

// validateValue checks that the encoded value can be decoded for the operator.
func validateValue(gi, ci int, c Condition) error {
	switch {
	case c.Operator == OpIn || c.Operator == OpNotIn:
		if _, err := ParseList(c.Value); err != nil {
			return fmt.Errorf("%w: group[%d].condition[%d] %v", ErrInvalidValue, gi, ci, err)
		}

	case c.Operator == OpBetween:
		if _, _, err := ParseBounds(c.Value); err != nil {
			return fmt.Errorf("%w: group[%d].condition[%d] %v", ErrInvalidValue, gi, ci, err)
		}

	case c.Operator == OpRegex:
		if _, err := regexp.Compile(c.Value); err != nil {
			return fmt.Errorf("%w: group[%d].condition[%d] pattern: %v", ErrInvalidValue, gi, ci, err)
		}

	case c.DataType == TypeNumber:
		if _, err := strconv.ParseFloat(strings.TrimSpace(c.Value), 64); err != nil {
			return fmt.Errorf("%w: group[%d].condition[%d] %q is not a number", ErrInvalidValue, gi, ci, c.Value)
		}
	}

	return nil
}

func isLogicOperator(op LogicOperator) bool {
	return op == LogicAnd || op == LogicOr
}
