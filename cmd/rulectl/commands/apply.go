package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openlit/ruleengine/internal/cli"
	"github.com/openlit/ruleengine/internal/rules"
)

var (
	applyFile   string
	applyDryRun bool
	applyForce  bool
	exportOut   string
)

var applyCmd = &cobra.Command{
	Use:     "apply",
	Aliases: []string{"import"},
	Short:   "Create or update rules from a file",
	Long: `Create or update rules from a YAML or JSON file. Rules with an id that
already exists are replaced; the rest are created.

Examples:
  rulectl apply -f rules.yaml --env prod
  rulectl apply -f rules.yaml --dry-run
  rulectl apply -f rules.yaml --force`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rs, err := cli.LoadRules(applyFile)
		if err != nil {
			return err
		}

		// local validation catches most mistakes before any request is sent
		invalid := 0
		for _, r := range rs {
			if err := rules.ValidateRule(r); err != nil {
				invalid++
				fmt.Fprintf(os.Stderr, "Rule '%s': %v\n", displayName(r), err)
			}
		}

		if applyDryRun {
			fmt.Printf("Dry run: %d rule(s) found, %d invalid\n", len(rs), invalid)
			for _, r := range rs {
				fmt.Printf("  - %s (%s, %d group(s))\n", displayName(r), r.Status, len(r.ConditionGroups))
			}
			if invalid > 0 {
				return fmt.Errorf("%d invalid rule(s)", invalid)
			}
			return nil
		}
		if invalid > 0 && !applyForce {
			return fmt.Errorf("%d invalid rule(s), use --force to apply the rest", invalid)
		}

		c, effectiveEnv, err := newClient()
		if err != nil {
			return err
		}
		ctx := context.Background()

		created, updated, failed := 0, 0, 0
		for _, r := range rs {
			if rules.ValidateRule(r) != nil {
				failed++
				continue
			}
			if verbose {
				fmt.Printf("Applying rule: %s\n", displayName(r))
			}

			_, isNew, err := c.ApplyRule(ctx, r)
			if err != nil {
				failed++
				fmt.Fprintf(os.Stderr, "Failed to apply rule '%s': %v\n", displayName(r), err)
				if !applyForce {
					return fmt.Errorf("apply failed, use --force to continue on errors")
				}
				continue
			}
			if isNew {
				created++
			} else {
				updated++
			}
		}

		if !quiet {
			fmt.Printf("Apply to '%s' complete: %d created, %d updated, %d failed\n", effectiveEnv, created, updated, failed)
		}
		if failed > 0 && !applyForce {
			return fmt.Errorf("apply completed with errors")
		}
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export rules to a file",
	Long: `Export all rules to a YAML or JSON file that apply can read back.

Examples:
  rulectl export --env prod -o rules.yaml
  rulectl export --env prod -o rules.json --format json
  rulectl export --env prod > backup.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := newClient()
		if err != nil {
			return err
		}

		rs, err := c.ListRules(context.Background(), "")
		if err != nil {
			return fmt.Errorf("failed to list rules: %w", err)
		}

		out := cli.FormatYAML
		if format == string(cli.FormatJSON) {
			out = cli.FormatJSON
		}
		if err := cli.WriteRules(exportOut, rs, out); err != nil {
			return err
		}

		if exportOut != "" && exportOut != "-" && !quiet {
			fmt.Fprintf(os.Stderr, "Successfully exported %d rule(s) to %s\n", len(rs), exportOut)
		}
		return nil
	},
}

func displayName(r rules.Rule) string {
	if r.ID != "" {
		return r.ID
	}
	return r.Name
}

func init() {
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(exportCmd)

	applyCmd.Flags().StringVarP(&applyFile, "file", "f", "", "Rule file (YAML or JSON)")
	applyCmd.Flags().BoolVar(&applyDryRun, "dry-run", false, "Validate without applying")
	applyCmd.Flags().BoolVar(&applyForce, "force", false, "Continue on errors")
	_ = applyCmd.MarkFlagRequired("file")

	exportCmd.Flags().StringVarP(&exportOut, "output", "o", "", "Output file (default: stdout)")
}
