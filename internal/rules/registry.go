package rules

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// FieldDescriptor describes a field that rule authors can pick from.
type FieldDescriptor struct {
	Field    string   `json:"field"`
	Label    string   `json:"label"`
	DataType DataType `json:"data_type"`
}

// fieldCatalog lists the span/record attributes offered by the rule builder.
// Conditions may still reference fields outside the catalog.
var fieldCatalog = []FieldDescriptor{
	{Field: "service.name", Label: "Service Name", DataType: TypeString},
	{Field: "span.name", Label: "Span Name", DataType: TypeString},
	{Field: "deployment.environment", Label: "Environment", DataType: TypeString},
	{Field: "gen_ai.system", Label: "Provider", DataType: TypeString},
	{Field: "gen_ai.operation.name", Label: "Operation", DataType: TypeString},
	{Field: "gen_ai.request.model", Label: "Request Model", DataType: TypeString},
	{Field: "gen_ai.response.model", Label: "Response Model", DataType: TypeString},
	{Field: "gen_ai.request.temperature", Label: "Temperature", DataType: TypeNumber},
	{Field: "gen_ai.usage.input_tokens", Label: "Input Tokens", DataType: TypeNumber},
	{Field: "gen_ai.usage.output_tokens", Label: "Output Tokens", DataType: TypeNumber},
	{Field: "gen_ai.usage.cost", Label: "Cost", DataType: TypeNumber},
	{Field: "duration_ms", Label: "Duration (ms)", DataType: TypeNumber},
	{Field: "status_code", Label: "Status Code", DataType: TypeString},
}

// operatorTable maps each data type to its legal operators, in display order.
var operatorTable = map[DataType][]Operator{
	TypeString: {OpEquals, OpNotEquals, OpContains, OpNotContains, OpStartsWith, OpEndsWith, OpRegex, OpIn, OpNotIn},
	TypeNumber: {OpEquals, OpNotEquals, OpGt, OpGte, OpLt, OpLte, OpBetween},
}

// Fields returns a copy of the field catalog.
func Fields() []FieldDescriptor {
	return append([]FieldDescriptor(nil), fieldCatalog...)
}

// LookupField returns the catalog entry for field, if any.
func LookupField(field string) (FieldDescriptor, bool) {
	for _, f := range fieldCatalog {
		if f.Field == field {
			return f, true
		}
	}
	return FieldDescriptor{}, false
}

// OperatorsFor returns the operators legal for dt, or nil for an unknown type.
func OperatorsFor(dt DataType) []Operator {
	ops, ok := operatorTable[dt]
	if !ok {
		return nil
	}
	return append([]Operator(nil), ops...)
}

// OperatorTable returns the full data type to operator mapping.
func OperatorTable() map[DataType][]Operator {
	out := make(map[DataType][]Operator, len(operatorTable))
	for dt := range operatorTable {
		out[dt] = OperatorsFor(dt)
	}
	return out
}

// IsOperatorValid reports whether op may be used with dt.
func IsOperatorValid(dt DataType, op Operator) bool {
	for _, candidate := range operatorTable[dt] {
		if candidate == op {
			return true
		}
	}
	return false
}

// Errors returned by the value decoders.
var (
	ErrEmptyList     = errors.New("list value is empty")
	ErrInvalidBounds = errors.New("between value must hold exactly two numeric bounds")
)

// ParseList decodes the value of an in/not_in condition. Both a JSON array
// (["a","b"]) and a comma-separated string (a, b) are accepted; items are
// trimmed and empty items dropped.
func ParseList(value string) ([]string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, ErrEmptyList
	}

	var items []string
	if strings.HasPrefix(trimmed, "[") {
		var raw []any
		if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
			return nil, fmt.Errorf("decode list: %w", err)
		}
		items = make([]string, 0, len(raw))
		for _, item := range raw {
			switch v := item.(type) {
			case string:
				items = append(items, v)
			case float64:
				items = append(items, strconv.FormatFloat(v, 'f', -1, 64))
			case bool:
				items = append(items, strconv.FormatBool(v))
			default:
				return nil, fmt.Errorf("decode list: unsupported item %v", item)
			}
		}
	} else {
		items = strings.Split(trimmed, ",")
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		if s := strings.TrimSpace(item); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil, ErrEmptyList
	}
	return out, nil
}

// ParseBounds decodes the value of a between condition ("lo,hi" or
// "[lo, hi]"). A lower bound above the upper bound is invalid.
func ParseBounds(value string) (lo, hi float64, err error) {
	items, err := ParseList(value)
	if err != nil || len(items) != 2 {
		return 0, 0, ErrInvalidBounds
	}
	lo, err = strconv.ParseFloat(items[0], 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: lower bound %q", ErrInvalidBounds, items[0])
	}
	hi, err = strconv.ParseFloat(items[1], 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: upper bound %q", ErrInvalidBounds, items[1])
	}
	if lo > hi {
		return 0, 0, fmt.Errorf("%w: lower bound %v exceeds upper bound %v", ErrInvalidBounds, lo, hi)
	}
	return lo, hi, nil
}
