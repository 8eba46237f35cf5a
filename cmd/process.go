package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Filter, deduplicate and persist delivered candidate batches",
	Long:  "Runs the inbound batch processor until interrupted. With --once, processes at most one queued batch and exits.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		once, _ := cmd.Flags().GetBool("once")

		env, err := initEnv(ctx, "process")
		if err != nil {
			return err
		}
		defer env.Close()

		if !once {
			return env.Processor.Run(ctx)
		}

		report, err := env.Processor.ProcessNext(ctx)
		if err != nil {
			return eris.Wrap(err, "process batch")
		}
		if report == nil {
			fmt.Fprintln(os.Stderr, "No queued batches.")
			return nil
		}
		zap.L().Info("batch processed",
			zap.String("batch_id", report.BatchID),
			zap.Int("persisted", report.Persisted),
		)
		return writeJSON(os.Stdout, report)
	},
}

func init() {
	processCmd.Flags().Bool("once", false, "process one queued batch and exit")
	rootCmd.AddCommand(processCmd)
}
