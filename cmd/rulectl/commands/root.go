package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openlit/ruleengine/internal/cli"
	"github.com/openlit/ruleengine/internal/client"
)

var (
	// Global flags
	baseURL string
	apiKey  string
	env     string
	format  string
	quiet   bool
	verbose bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "rulectl",
	Short: "CLI tool for managing and testing evaluation rules",
	Long: `rulectl manages the rules of a rule engine deployment and evaluates
records against them, remotely or offline.

Examples:
  rulectl list --env prod
  rulectl get gpt4-costly --format yaml
  rulectl apply -f rules.yaml --env dev
  rulectl eval --record span.json --explain
  rulectl eval -f rules.yaml --record span.json   # offline
  rulectl export --env prod -o backup.yaml`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&baseURL, "base-url", "", "Base URL of the rule engine API")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "API key for authentication")
	rootCmd.PersistentFlags().StringVar(&env, "env", "", "Environment from the config file")
	rootCmd.PersistentFlags().StringVar(&format, "format", "table", "Output format (table, json, yaml)")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "Suppress output")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Verbose output")
}

// newClient resolves the target deployment from flags, environment and the
// config file.
func newClient() (*client.Client, string, error) {
	envCfg, effectiveEnv, err := cli.GetEnvConfig(env, baseURL, apiKey)
	if err != nil {
		return nil, "", fmt.Errorf("configuration error: %w", err)
	}
	return client.NewClient(envCfg.BaseURL, envCfg.APIKey), effectiveEnv, nil
}
