package commands

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openlit/ruleengine/internal/cli"
	"github.com/openlit/ruleengine/internal/rules"
)

var (
	listStatus  string
	deleteForce bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List rules",
	Long: `List the rules of a deployment.

Examples:
  rulectl list --env prod
  rulectl list --status active --format json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := newClient()
		if err != nil {
			return err
		}

		rs, err := c.ListRules(context.Background(), rules.Status(strings.ToUpper(listStatus)))
		if err != nil {
			return fmt.Errorf("failed to list rules: %w", err)
		}

		if quiet {
			return nil
		}
		if len(rs) == 0 {
			fmt.Println("No rules found")
			return nil
		}
		return cli.PrintRules(rs, cli.OutputFormat(format))
	},
}

var getCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show a rule and its conditions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := newClient()
		if err != nil {
			return err
		}

		r, err := c.GetRule(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("failed to get rule: %w", err)
		}
		if quiet {
			return nil
		}
		return cli.PrintRule(r, cli.OutputFormat(format))
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a rule",
	Long: `Delete a rule and its entity links. Requires the admin key.

Examples:
  rulectl delete gpt4-costly --env prod
  rulectl delete gpt4-costly --env prod --force`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]

		c, effectiveEnv, err := newClient()
		if err != nil {
			return err
		}

		if !deleteForce && !quiet {
			fmt.Printf("Are you sure you want to delete rule '%s' from environment '%s'? (y/N): ", id, effectiveEnv)
			reader := bufio.NewReader(os.Stdin)
			response, err := reader.ReadString('\n')
			if err != nil {
				return fmt.Errorf("failed to read confirmation: %w", err)
			}
			response = strings.ToLower(strings.TrimSpace(response))
			if response != "y" && response != "yes" {
				fmt.Println("Deletion cancelled")
				return nil
			}
		}

		if err := c.DeleteRule(context.Background(), id); err != nil {
			return fmt.Errorf("failed to delete rule: %w", err)
		}

		if !quiet {
			fmt.Printf("Successfully deleted rule '%s' from environment '%s'\n", id, effectiveEnv)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(deleteCmd)

	listCmd.Flags().StringVar(&listStatus, "status", "", "Only show ACTIVE or INACTIVE rules")
	deleteCmd.Flags().BoolVar(&deleteForce, "force", false, "Skip confirmation prompt")
}
