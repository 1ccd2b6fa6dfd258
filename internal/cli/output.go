package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"

	"github.com/openlit/ruleengine/internal/engine"
	"github.com/openlit/ruleengine/internal/rules"
)

// OutputFormat specifies the output format for CLI commands
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatJSON  OutputFormat = "json"
	FormatYAML  OutputFormat = "yaml"
)

// Stdout is where the Print functions write.
var Stdout io.Writer = os.Stdout

// PrintRules outputs rules in the specified format
func PrintRules(rs []rules.Rule, format OutputFormat) error {
	switch format {
	case FormatJSON:
		return printJSON(map[string][]rules.Rule{"rules": rs})
	case FormatYAML:
		return printYAML(RuleFile{Rules: rs})
	case FormatTable:
		return printRuleTable(rs)
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

// PrintRule outputs a single rule. The table format lists its conditions.
func PrintRule(r *rules.Rule, format OutputFormat) error {
	switch format {
	case FormatJSON:
		return printJSON(r)
	case FormatYAML:
		return printYAML(r)
	case FormatTable:
		if err := printRuleTable([]rules.Rule{*r}); err != nil {
			return err
		}
		return printConditionTable(r.ConditionGroups)
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

// PrintResults outputs evaluation results. The table format shows one row
// per evaluated condition.
func PrintResults(results []engine.RuleResult, format OutputFormat) error {
	switch format {
	case FormatJSON:
		return printJSON(map[string][]engine.RuleResult{"results": results})
	case FormatYAML:
		return printYAML(results)
	case FormatTable:
		return printResultTable(results)
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

// PrintFields outputs the field catalog.
func PrintFields(fields []rules.FieldDescriptor, format OutputFormat) error {
	switch format {
	case FormatJSON:
		return printJSON(map[string]any{"fields": fields, "operators": rules.OperatorTable()})
	case FormatYAML:
		return printYAML(fields)
	case FormatTable:
		table := tablewriter.NewWriter(Stdout)
		table.Header("Field", "Label", "Type", "Operators")
		for _, f := range fields {
			ops := make([]string, 0)
			for _, op := range rules.OperatorsFor(f.DataType) {
				ops = append(ops, string(op))
			}
			table.Append(f.Field, f.Label, string(f.DataType), strings.Join(ops, ", "))
		}
		return table.Render()
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

func printJSON(data any) error {
	encoder := json.NewEncoder(Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func printYAML(data any) error {
	encoder := yaml.NewEncoder(Stdout)
	defer encoder.Close()
	encoder.SetIndent(2)
	return encoder.Encode(data)
}

func printRuleTable(rs []rules.Rule) error {
	table := tablewriter.NewWriter(Stdout)
	table.Header("ID", "Name", "Status", "Groups", "Conditions", "Updated At")

	for _, r := range rs {
		conditions := 0
		for _, g := range r.ConditionGroups {
			conditions += len(g.Conditions)
		}

		name := r.Name
		if len(name) > 40 {
			name = name[:37] + "..."
		}

		updated := ""
		if !r.UpdatedAt.IsZero() {
			updated = r.UpdatedAt.Format("2006-01-02 15:04")
		}

		table.Append(
			r.ID,
			name,
			string(r.Status),
			fmt.Sprintf("%d (%s)", len(r.ConditionGroups), r.GroupOperator),
			fmt.Sprintf("%d", conditions),
			updated,
		)
	}

	return table.Render()
}

func printConditionTable(groups []rules.ConditionGroup) error {
	table := tablewriter.NewWriter(Stdout)
	table.Header("Group", "Logic", "Field", "Operator", "Value", "Type")
	for i, g := range groups {
		for _, c := range g.Conditions {
			table.Append(fmt.Sprintf("%d", i+1), string(g.ConditionOperator), c.Field, string(c.Operator), c.Value, string(c.DataType))
		}
	}
	return table.Render()
}

func printResultTable(results []engine.RuleResult) error {
	table := tablewriter.NewWriter(Stdout)
	table.Header("Rule", "Matched", "Group", "Field", "Operator", "Actual", "Result")

	for _, r := range results {
		matched := fmt.Sprintf("%t", r.Matched)
		if len(r.Groups) == 0 {
			table.Append(r.RuleID, matched, "-", "-", "-", "-", string(r.Reason))
			continue
		}
		for gi, g := range r.Groups {
			if len(g.Conditions) == 0 {
				table.Append(r.RuleID, matched, fmt.Sprintf("%d", gi+1), "-", "-", "-", string(g.Reason))
				continue
			}
			for _, c := range g.Conditions {
				outcome := "match"
				if !c.Matched {
					outcome = string(c.Reason)
				}
				actual := "-"
				if c.Actual != nil {
					actual = fmt.Sprintf("%v", c.Actual)
				}
				table.Append(r.RuleID, matched, fmt.Sprintf("%d", gi+1), c.Field, string(c.Operator), actual, outcome)
			}
		}
	}

	return table.Render()
}
