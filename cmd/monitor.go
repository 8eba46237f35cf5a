package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/lead-qualifier/internal/monitoring"
	"github.com/sells-group/lead-qualifier/internal/store"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Report job health over the lookback window",
	Long:  "Collects job counts, failure and timeout rates over monitoring.lookback_window_hours and prints them as JSON. Alerts are posted to monitoring.webhook_url when set.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if hours, _ := cmd.Flags().GetInt("hours"); hours > 0 {
			cfg.Monitoring.LookbackWindowHours = hours
		}

		snap, err := newMonitor(st).Check(ctx)
		if err != nil {
			return eris.Wrap(err, "monitor")
		}
		return writeJSON(os.Stdout, snap)
	},
}

func newMonitor(st store.Store) *monitoring.Checker {
	return monitoring.NewChecker(
		monitoring.NewCollector(st),
		monitoring.NewAlerter(cfg.Monitoring),
		cfg.Monitoring,
	)
}

func init() {
	monitorCmd.Flags().Int("hours", 0, "lookback window in hours (default from config)")
	rootCmd.AddCommand(monitorCmd)
}
