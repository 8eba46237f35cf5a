package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/lead-qualifier/internal/jobs"
)

var reapCmd = &cobra.Command{
	Use:   "reap",
	Short: "Fail jobs that stopped making progress",
	Long:  "Fails pending and running jobs older than reaper.threshold_mins. With --watch, repeats every reaper.interval_secs until interrupted.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		watch, _ := cmd.Flags().GetBool("watch")

		if err := cfg.Validate("reap"); err != nil {
			return err
		}
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		reaper := jobs.NewReaper(st, reaperConfig())
		if watch {
			reaper.Run(ctx)
			return nil
		}

		res, err := reaper.Cleanup(ctx)
		if err != nil {
			return eris.Wrap(err, "reap")
		}
		return writeJSON(os.Stdout, res)
	},
}

func init() {
	reapCmd.Flags().Bool("watch", false, "keep reaping on an interval")
	rootCmd.AddCommand(reapCmd)
}
