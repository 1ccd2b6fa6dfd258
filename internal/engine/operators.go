package engine

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/openlit/ruleengine/internal/rules"
	"github.com/spf13/cast"
)

// OperatorHandler evaluates one condition operator. A returned error means
// the comparison could not be performed; the condition then counts as a
// degraded non-match.
type OperatorHandler interface {
	Check(actual any, expected string) (bool, error)
}

// Errors classifying degraded comparisons.
var (
	errTypeMismatch   = errors.New("attribute type mismatch")
	errInvalidValue   = errors.New("invalid condition value")
	errInvalidPattern = errors.New("invalid regex pattern")
)

var (
	stringHandlers = map[rules.Operator]OperatorHandler{
		rules.OpEquals:      stringHandler{cmp: func(a, b string) bool { return a == b }},
		rules.OpNotEquals:   stringHandler{cmp: func(a, b string) bool { return a != b }},
		rules.OpContains:    stringHandler{cmp: strings.Contains},
		rules.OpNotContains: stringHandler{cmp: func(a, b string) bool { return !strings.Contains(a, b) }},
		rules.OpStartsWith:  stringHandler{cmp: strings.HasPrefix},
		rules.OpEndsWith:    stringHandler{cmp: strings.HasSuffix},
		rules.OpRegex:       regexHandler{},
		rules.OpIn:          inListHandler{negate: false},
		rules.OpNotIn:       inListHandler{negate: true},
	}
	numberHandlers = map[rules.Operator]OperatorHandler{
		rules.OpEquals:    numericCompareHandler{cmp: func(a, b float64) bool { return a == b }},
		rules.OpNotEquals: numericCompareHandler{cmp: func(a, b float64) bool { return a != b }},
		rules.OpGt:        numericCompareHandler{cmp: func(a, b float64) bool { return a > b }},
		rules.OpGte:       numericCompareHandler{cmp: func(a, b float64) bool { return a >= b }},
		rules.OpLt:        numericCompareHandler{cmp: func(a, b float64) bool { return a < b }},
		rules.OpLte:       numericCompareHandler{cmp: func(a, b float64) bool { return a <= b }},
		rules.OpBetween:   betweenHandler{},
	}
	handlersByType = map[rules.DataType]map[rules.Operator]OperatorHandler{
		rules.TypeString: stringHandlers,
		rules.TypeNumber: numberHandlers,
	}
	// regexCache keeps compiled regex by pattern for the hot evaluation path.
	// Expected value type is *regexp.Regexp.
	regexCache sync.Map
)

// getOperatorHandler looks up the handler for op under dt. The second
// result distinguishes an unknown data type from an illegal pairing.
func getOperatorHandler(dt rules.DataType, op rules.Operator) (OperatorHandler, Reason) {
	table, ok := handlersByType[dt]
	if !ok {
		return nil, ReasonUnknownDataType
	}
	h, ok := table[op]
	if !ok {
		return nil, ReasonUnsupportedOperator
	}
	return h, ""
}

type stringHandler struct {
	cmp func(actual, expected string) bool
}

func (h stringHandler) Check(actual any, expected string) (bool, error) {
	s, err := toString(actual)
	if err != nil {
		return false, err
	}
	return h.cmp(s, expected), nil
}

type regexHandler struct{}

func (regexHandler) Check(actual any, expected string) (bool, error) {
	s, err := toString(actual)
	if err != nil {
		return false, err
	}
	rx, err := getCompiledRegex(expected)
	if err != nil {
		return false, err
	}
	return rx.MatchString(s), nil
}

type inListHandler struct {
	negate bool
}

func (h inListHandler) Check(actual any, expected string) (bool, error) {
	s, err := toString(actual)
	if err != nil {
		return false, err
	}
	list, err := rules.ParseList(expected)
	if err != nil {
		return false, fmt.Errorf("%w: %v", errInvalidValue, err)
	}
	found := false
	for _, item := range list {
		if item == s {
			found = true
			break
		}
	}
	return found != h.negate, nil
}

type numericCompareHandler struct {
	cmp func(a, b float64) bool
}

func (h numericCompareHandler) Check(actual any, expected string) (bool, error) {
	a, err := toFloat64(actual)
	if err != nil {
		return false, err
	}
	b, err := strconv.ParseFloat(strings.TrimSpace(expected), 64)
	if err != nil {
		return false, fmt.Errorf("%w: %q is not a number", errInvalidValue, expected)
	}
	return h.cmp(a, b), nil
}

type betweenHandler struct{}

func (betweenHandler) Check(actual any, expected string) (bool, error) {
	a, err := toFloat64(actual)
	if err != nil {
		return false, err
	}
	lo, hi, err := rules.ParseBounds(expected)
	if err != nil {
		return false, fmt.Errorf("%w: %v", errInvalidValue, err)
	}
	return a >= lo && a <= hi, nil
}

func getCompiledRegex(pattern string) (*regexp.Regexp, error) {
	if cached, ok := regexCache.Load(pattern); ok {
		if rx, ok := cached.(*regexp.Regexp); ok {
			return rx, nil
		}
	}

	rx, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidPattern, err)
	}
	regexCache.Store(pattern, rx)
	return rx, nil
}

// toString renders scalar attributes for string comparison. Numbers use
// their shortest decimal form, so 12.5 compares equal to "12.5".
func toString(v any) (string, error) {
	switch v.(type) {
	case nil, map[string]any, []any:
		return "", fmt.Errorf("%w: %T is not a scalar", errTypeMismatch, v)
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errTypeMismatch, err)
	}
	return s, nil
}

// toFloat64 coerces numeric attributes and numeric strings. Booleans are
// rejected rather than read as 0/1.
func toFloat64(v any) (float64, error) {
	switch n := v.(type) {
	case nil, bool:
		return 0, fmt.Errorf("%w: %T is not numeric", errTypeMismatch, v)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not numeric", errTypeMismatch, n)
		}
		return f, nil
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errTypeMismatch, err)
	}
	return f, nil
}

func reasonFor(err error) Reason {
	switch {
	case errors.Is(err, errInvalidPattern):
		return ReasonInvalidPattern
	case errors.Is(err, errInvalidValue):
		return ReasonInvalidValue
	default:
		return ReasonTypeMismatch
	}
}
