package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openlit/ruleengine/internal/attributes"
	"github.com/openlit/ruleengine/internal/cli"
	"github.com/openlit/ruleengine/internal/client"
	"github.com/openlit/ruleengine/internal/engine"
	"github.com/openlit/ruleengine/internal/rules"
)

var (
	evalRulesFile string
	evalRecord    string
	evalAttrs     []string
	evalRuleIDs   []string
	evalEntity    string
	evalExplain   bool
)

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Evaluate a record against rules",
	Long: `Evaluate a record (a span or trace row, as JSON or YAML) against rules.

With -f the rules are read from a local file and evaluated offline; no server
is contacted. Without -f the record is sent to the server's evaluate endpoint.

Examples:
  rulectl eval -f rules.yaml --record span.json --explain
  rulectl eval --record span.json --entity prompt:p-42
  rulectl eval --attr gen_ai.request.model=gpt-4 --attr gen_ai.usage.cost=12 --rule gpt4-costly`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var record map[string]any
		if evalRecord != "" {
			var err error
			if record, err = cli.LoadRecord(evalRecord); err != nil {
				return err
			}
		}
		attrs, err := parseAttrs(evalAttrs)
		if err != nil {
			return err
		}
		if record == nil && len(attrs) == 0 {
			return fmt.Errorf("--record or --attr is required")
		}

		var matched []string
		var results []engine.RuleResult
		if evalRulesFile != "" {
			matched, results, err = evalOffline(record, attrs)
		} else {
			matched, results, err = evalRemote(record, attrs)
		}
		if err != nil {
			return err
		}

		if quiet {
			return nil
		}
		if evalExplain {
			return cli.PrintResults(results, cli.OutputFormat(format))
		}
		if len(matched) == 0 {
			fmt.Println("No rules matched")
			return nil
		}
		fmt.Printf("Matched %d rule(s):\n", len(matched))
		for _, id := range matched {
			fmt.Printf("  - %s\n", id)
		}
		return nil
	},
}

func evalOffline(record, attrs map[string]any) ([]string, []engine.RuleResult, error) {
	rs, err := cli.LoadRules(evalRulesFile)
	if err != nil {
		return nil, nil, err
	}
	if len(evalRuleIDs) > 0 {
		rs = filterRules(rs, evalRuleIDs)
	}
	for _, r := range rs {
		if err := rules.ValidateRule(r); err != nil {
			return nil, nil, fmt.Errorf("rule '%s': %w", displayName(r), err)
		}
	}

	input := engine.Attributes{}
	if record != nil {
		input = attributes.Flatten(record)
	}
	for k, v := range attrs {
		input[k] = v
	}

	matched := []string{}
	results := make([]engine.RuleResult, 0, len(rs))
	for _, r := range rs {
		res := engine.Explain(input, r)
		if res.RuleID == "" {
			res.RuleID = r.Name
		}
		if res.Matched {
			matched = append(matched, res.RuleID)
		}
		results = append(results, res)
	}
	return matched, results, nil
}

func evalRemote(record, attrs map[string]any) ([]string, []engine.RuleResult, error) {
	c, _, err := newClient()
	if err != nil {
		return nil, nil, err
	}

	req := client.EvaluateRequest{
		Record:     record,
		Attributes: attrs,
		RuleIDs:    evalRuleIDs,
		Explain:    evalExplain,
	}
	if evalEntity != "" {
		entityType, entityID, ok := strings.Cut(evalEntity, ":")
		if !ok {
			return nil, nil, fmt.Errorf("--entity must be type:id, e.g. prompt:p-42")
		}
		req.EntityType = rules.EntityType(entityType)
		req.EntityID = entityID
	}

	resp, err := c.Evaluate(context.Background(), req)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to evaluate: %w", err)
	}
	if verbose {
		fmt.Printf("Evaluated %d rule(s) at snapshot %s\n", resp.Evaluated, resp.ETag)
	}
	return resp.Matched, resp.Results, nil
}

// parseAttrs turns key=value pairs into attributes. Values stay strings;
// numeric operators parse numeric strings.
func parseAttrs(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	attrs := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid --attr %q, expected key=value", p)
		}
		attrs[strings.TrimSpace(k)] = v
	}
	return attrs, nil
}

func filterRules(rs []rules.Rule, ids []string) []rules.Rule {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	out := rs[:0:0]
	for _, r := range rs {
		if want[r.ID] {
			out = append(out, r)
		}
	}
	return out
}

func init() {
	rootCmd.AddCommand(evalCmd)

	evalCmd.Flags().StringVarP(&evalRulesFile, "file", "f", "", "Evaluate offline against rules from this file")
	evalCmd.Flags().StringVar(&evalRecord, "record", "", "Record to evaluate (JSON or YAML file)")
	evalCmd.Flags().StringArrayVar(&evalAttrs, "attr", nil, "Flat attribute key=value (repeatable, overrides the record)")
	evalCmd.Flags().StringSliceVar(&evalRuleIDs, "rule", nil, "Only evaluate these rule ids")
	evalCmd.Flags().StringVar(&evalEntity, "entity", "", "Only evaluate rules linked to type:id")
	evalCmd.Flags().BoolVar(&evalExplain, "explain", false, "Show per-condition results")
}
