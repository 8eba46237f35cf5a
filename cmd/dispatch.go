package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/lead-qualifier/internal/jobs"
	"github.com/sells-group/lead-qualifier/internal/model"
)

var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Create a job and trigger the registry scrape workflow",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		source, _ := cmd.Flags().GetString("source")
		term, _ := cmd.Flags().GetString("term")
		filters, _ := cmd.Flags().GetStringToString("filter")

		env, err := initEnv(ctx, "dispatch")
		if err != nil {
			return err
		}
		defer env.Close()

		req := jobs.Request{Source: model.Source(source), SearchTerm: term}
		if len(filters) > 0 {
			req.Filters = make(map[string]any, len(filters))
			for k, v := range filters {
				req.Filters[k] = v
			}
		}

		job, err := env.Dispatcher.Dispatch(ctx, req)
		if err != nil {
			return eris.Wrap(err, "dispatch")
		}

		zap.L().Info("job dispatched",
			zap.String("job_id", job.ID),
			zap.String("status", string(job.Status)),
		)
		return writeJSON(os.Stdout, job)
	},
}

func init() {
	dispatchCmd.Flags().String("source", "", "registry source (companies_house, opencorporates, sec_edgar, state_registry)")
	dispatchCmd.Flags().String("term", "", "free-text search term")
	dispatchCmd.Flags().StringToString("filter", nil, "registry filter as key=value (repeatable)")
	_ = dispatchCmd.MarkFlagRequired("source")
	rootCmd.AddCommand(dispatchCmd)
}
