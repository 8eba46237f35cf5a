package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/lead-qualifier/internal/model"
	"github.com/sells-group/lead-qualifier/internal/resilience"
)

var entityCmd = &cobra.Command{
	Use:   "entity",
	Short: "Inspect and review qualified entities",
}

// -- entity show --

var entityShowCmd = &cobra.Command{
	Use:   "show <entity-id>",
	Short: "Show an entity and its check history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		e, err := st.GetEntity(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "entity show")
		}
		results, err := st.ListChecks(ctx, e.ID)
		if err != nil {
			return eris.Wrap(err, "entity show: checks")
		}
		return writeJSON(os.Stdout, map[string]any{"entity": e, "checks": results})
	},
}

// -- entity status --

var entityStatusCmd = &cobra.Command{
	Use:   "status <entity-id> <flagged|dismissed|exported>",
	Short: "Record a reviewer decision on an entity",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		status := model.QualificationStatus(args[1])
		if !status.IsHuman() {
			return resilience.NewValidationError("status", "%q is not a reviewer status", args[1])
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.UpdateEntityStatus(ctx, args[0], status); err != nil {
			return eris.Wrap(err, "entity status")
		}
		fmt.Fprintf(os.Stdout, "Entity %s marked %s.\n", args[0], status)
		return nil
	},
}

func init() {
	entityCmd.AddCommand(entityShowCmd, entityStatusCmd)
	rootCmd.AddCommand(entityCmd)
}
