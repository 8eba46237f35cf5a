package main

import (
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/lead-qualifier/internal/score"
)

var scoreCmd = &cobra.Command{
	Use:   "score <entity-id>",
	Short: "Explain an entity's lead score",
	Long:  "Recomputes the 0-100 lead score from the entity's registry record and prints each component. With --save, stores the new score.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		save, _ := cmd.Flags().GetBool("save")

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		e, err := st.GetEntity(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "score")
		}

		b := score.Explain(e, time.Now())
		formatBreakdown(os.Stdout, e.LegalName, b)

		if save && b.Total != e.Score {
			prev := e.Score
			e.SetScore(b.Total)
			if err := st.UpsertEntity(ctx, e); err != nil {
				return eris.Wrap(err, "score: save")
			}
			zap.L().Info("score updated",
				zap.String("entity_id", e.ID),
				zap.Int("previous", prev),
				zap.Int("score", b.Total),
			)
		}
		return nil
	},
}

func init() {
	scoreCmd.Flags().Bool("save", false, "store the recomputed score")
	rootCmd.AddCommand(scoreCmd)
}
