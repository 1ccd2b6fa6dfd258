package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openlit/ruleengine/internal/cli"
	"github.com/openlit/ruleengine/internal/rules"
)

var fieldsCmd = &cobra.Command{
	Use:   "fields",
	Short: "List the known record fields and their operators",
	RunE: func(cmd *cobra.Command, args []string) error {
		// the catalog is compiled in, so no server round trip is needed
		return cli.PrintFields(rules.Fields(), cli.OutputFormat(format))
	},
}

var entitiesCmd = &cobra.Command{
	Use:   "entities",
	Short: "Manage links between rules and contexts, prompts or datasets",
}

var entitiesListCmd = &cobra.Command{
	Use:   "list <rule-id>",
	Short: "List the entities linked to a rule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := newClient()
		if err != nil {
			return err
		}
		links, err := c.ListEntities(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("failed to list entities: %w", err)
		}
		if quiet {
			return nil
		}
		if len(links) == 0 {
			fmt.Println("No entities linked")
			return nil
		}
		for _, l := range links {
			fmt.Printf("%s\t%s\n", l.EntityType, l.EntityID)
		}
		return nil
	},
}

var entitiesLinkCmd = &cobra.Command{
	Use:   "link <rule-id> <entity-type> <entity-id>",
	Short: "Link a rule to an entity",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return changeLink(args, true)
	},
}

var entitiesUnlinkCmd = &cobra.Command{
	Use:   "unlink <rule-id> <entity-type> <entity-id>",
	Short: "Remove a link between a rule and an entity",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return changeLink(args, false)
	},
}

func changeLink(args []string, link bool) error {
	c, _, err := newClient()
	if err != nil {
		return err
	}
	a := rules.EntityAssociation{RuleID: args[0], EntityType: rules.EntityType(args[1]), EntityID: args[2]}

	verb := "Linked"
	if link {
		err = c.LinkEntity(context.Background(), a)
	} else {
		verb = "Unlinked"
		err = c.UnlinkEntity(context.Background(), a)
	}
	if err != nil {
		return err
	}
	if !quiet {
		fmt.Printf("%s rule '%s' and %s '%s'\n", verb, a.RuleID, a.EntityType, a.EntityID)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(fieldsCmd)
	rootCmd.AddCommand(entitiesCmd)
	entitiesCmd.AddCommand(entitiesListCmd)
	entitiesCmd.AddCommand(entitiesLinkCmd)
	entitiesCmd.AddCommand(entitiesUnlinkCmd)
}
