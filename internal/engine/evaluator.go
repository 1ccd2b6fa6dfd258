package engine

import (
	"github.com/openlit/ruleengine/internal/rules"
)

// Evaluate reports whether attrs satisfy rule. It is deterministic, performs
// no I/O and never fails: malformed conditions count as non-matches.
func Evaluate(attrs Attributes, rule rules.Rule) bool {
	return Explain(attrs, rule).Matched
}

// Explain evaluates rule against attrs and returns per-group and
// per-condition diagnostics. Explain(a, r).Matched == Evaluate(a, r).
func Explain(attrs Attributes, rule rules.Rule) RuleResult {
	result := RuleResult{
		RuleID:   rule.ID,
		Name:     rule.Name,
		Operator: rule.GroupOperator,
	}

	if !rule.IsActive() {
		result.Reason = ReasonInactive
		return result
	}

	switch rule.GroupOperator {
	case rules.LogicAnd:
		result.Matched = true
		for i, group := range rule.ConditionGroups {
			gr := evaluateGroup(attrs, group)
			result.Groups = append(result.Groups, gr)
			if !gr.Matched {
				result.Matched = false
				result.Reason = ReasonNoMatch
				result.Skipped = len(rule.ConditionGroups) - i - 1
				break
			}
		}
	case rules.LogicOr:
		for i, group := range rule.ConditionGroups {
			gr := evaluateGroup(attrs, group)
			result.Groups = append(result.Groups, gr)
			if gr.Matched {
				result.Matched = true
				result.Skipped = len(rule.ConditionGroups) - i - 1
				break
			}
		}
		if !result.Matched {
			result.Reason = ReasonNoMatch
		}
	default:
		result.Reason = ReasonUnknownLogic
	}

	return result
}

// Match evaluates every rule in order and returns the results of those that
// matched.
func Match(attrs Attributes, candidates []rules.Rule) []RuleResult {
	var matched []RuleResult
	for _, rule := range candidates {
		if res := Explain(attrs, rule); res.Matched {
			matched = append(matched, res)
		}
	}
	return matched
}

// evaluateGroup applies the group's operator across its conditions. An empty
// AND group is true and an empty OR group is false.
func evaluateGroup(attrs Attributes, group rules.ConditionGroup) GroupResult {
	result := GroupResult{
		Operator:   group.ConditionOperator,
		Conditions: make([]ConditionResult, 0, len(group.Conditions)),
	}

	switch group.ConditionOperator {
	case rules.LogicAnd:
		result.Matched = true
		for i, c := range group.Conditions {
			cr := evaluateCondition(attrs, c)
			result.Conditions = append(result.Conditions, cr)
			if !cr.Matched {
				result.Matched = false
				result.Skipped = len(group.Conditions) - i - 1
				break
			}
		}
	case rules.LogicOr:
		for i, c := range group.Conditions {
			cr := evaluateCondition(attrs, c)
			result.Conditions = append(result.Conditions, cr)
			if cr.Matched {
				result.Matched = true
				result.Skipped = len(group.Conditions) - i - 1
				break
			}
		}
	default:
		result.Degraded = true
		result.Reason = ReasonUnknownLogic
		result.Skipped = len(group.Conditions)
	}

	return result
}

func evaluateCondition(attrs Attributes, c rules.Condition) ConditionResult {
	result := ConditionResult{
		Field:    c.Field,
		Operator: c.Operator,
		Value:    c.Value,
		DataType: c.DataType,
	}

	handler, reason := getOperatorHandler(c.DataType, c.Operator)
	if handler == nil {
		result.Degraded = true
		result.Reason = reason
		return result
	}

	actual, ok := attrs[c.Field]
	if !ok || actual == nil {
		// Absence never satisfies a condition, negative operators included.
		result.Reason = ReasonMissingField
		return result
	}
	result.Actual = actual

	matched, err := handler.Check(actual, c.Value)
	if err != nil {
		result.Degraded = true
		result.Reason = reasonFor(err)
		result.Detail = err.Error()
		return result
	}

	result.Matched = matched
	if !matched {
		result.Reason = ReasonNoMatch
	}
	return result
}
