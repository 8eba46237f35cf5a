package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var aggregateCmd = &cobra.Command{
	Use:   "aggregate <entity-id>",
	Short: "Combine an entity's check results into a qualification decision",
	Long:  "Evaluates the latest stored result of every check type. With --refresh, runs all checkers against the entity first.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		refresh, _ := cmd.Flags().GetBool("refresh")
		asJSON, _ := cmd.Flags().GetBool("json")

		env, err := initEnv(ctx, "aggregate")
		if err != nil {
			return err
		}
		defer env.Close()

		run := env.Aggregator.Aggregate
		if refresh {
			run = env.Aggregator.Refresh
		}
		res, err := run(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "aggregate")
		}

		if asJSON {
			return writeJSON(os.Stdout, res)
		}
		formatAggregate(os.Stdout, res)
		return nil
	},
}

func init() {
	aggregateCmd.Flags().Bool("refresh", false, "run every checker before aggregating")
	aggregateCmd.Flags().Bool("json", false, "print the result as JSON")
	rootCmd.AddCommand(aggregateCmd)
}
