package main

import (
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"audiojoin/internal/daemon"
)

func newWorkerCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Drain the conversion queue once and exit",
		Long: "Claims pending conversions until the queue is empty or queue.max_runtime_seconds\n" +
			"elapses. Intended for cron when the API runs without in-process supervisors.",
		RunE: func(cmd *cobra.Command, args []string) error {
			signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			cfg, logger, err := ctx.newLogger()
			if err != nil {
				return err
			}
			if !cfg.Queue.Enabled {
				return errQueueDisabled
			}
			d, err := daemon.New(cfg, logger)
			if err != nil {
				return fmt.Errorf("create worker: %w", err)
			}
			defer d.Close()

			summary, err := d.Drain(signalCtx)
			if err != nil && !errors.Is(err, signalCtx.Err()) {
				return err
			}
			if asJSON {
				return writeJSON(cmd, summary)
			}
			out := cmd.OutOrStdout()
			fmt.Fprint(out, renderTable(
				[]column{left("Run"), right("Claimed"), right("Done"), right("Failed"), right("Detached"), right("Reconciled"), right("Reaped"), left("Stopped")},
				[][]string{{
					summary.RunID,
					fmt.Sprint(summary.Claimed),
					fmt.Sprint(summary.Completed),
					fmt.Sprint(summary.Failed),
					fmt.Sprint(summary.Detached),
					fmt.Sprint(summary.Reconciled),
					fmt.Sprint(summary.Reaped),
					summary.Reason,
				}},
			))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the run summary as JSON")
	return cmd
}
