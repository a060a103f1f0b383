package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"audiojoin/internal/daemon"
	"audiojoin/internal/process"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report whether a daemon is running for this configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			info, err := daemon.Lookup(cfg)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			if !info.Running {
				fmt.Fprintln(out, renderStatusLine("Daemon", statusWarn, "not running", colorize))
			} else {
				detail := "running"
				if info.PID > 0 {
					detail += " (pid " + strconv.Itoa(info.PID) + ")"
					if !(process.Handle{PID: info.PID}).IsAlive() {
						detail += ", pid not found"
					}
				}
				fmt.Fprintln(out, renderStatusLine("Daemon", statusOK, detail, colorize))
			}
			mode := "direct"
			if cfg.Queue.Enabled {
				mode = fmt.Sprintf("queued (%d slots)", cfg.Queue.MaxConcurrentJobs)
			}
			fmt.Fprintln(out, renderStatusLine("Mode", statusInfo, mode, colorize))
			fmt.Fprintln(out, renderStatusLine("Bind", statusInfo, cfg.Server.Bind, colorize))
			fmt.Fprintln(out, renderStatusLine("Sessions", statusInfo, cfg.Paths.SessionsDir, colorize))
			return nil
		},
	}
}
