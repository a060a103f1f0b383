package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"audiojoin/internal/logging"
	"audiojoin/internal/reaper"
)

func newReapCommand(ctx *commandContext) *cobra.Command {
	var maxAge time.Duration
	var list bool
	cmd := &cobra.Command{
		Use:   "reap",
		Short: "Remove session directories older than cleanup.max_age_seconds",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if maxAge <= 0 {
				maxAge = cfg.SessionMaxAge()
			}
			out := cmd.OutOrStdout()
			root := cfg.Paths.SessionsDir

			if list {
				dirs, err := reaper.List(root)
				if err != nil {
					return err
				}
				if len(dirs) == 0 {
					fmt.Fprintln(out, "No sessions on disk")
					return nil
				}
				now := time.Now()
				rows := make([][]string, 0, len(dirs))
				for _, dir := range dirs {
					expired := now.Sub(dir.ModTime) > maxAge
					rows = append(rows, []string{dir.Name, humanize.Time(dir.ModTime), humanize.IBytes(uint64(dir.Size)), yesNo(expired)})
				}
				fmt.Fprint(out, renderTable([]column{left("Session"), left("Modified"), right("Size"), left("Expired")}, rows))
				return nil
			}

			logger := logging.NewNop()
			if _, l, err := ctx.newLogger(); err == nil {
				logger = l
			}
			result := reaper.Sweep(cmd.Context(), root, maxAge, logger)
			if len(result.Removed) == 0 && len(result.Errors) == 0 {
				fmt.Fprintln(out, "Nothing to reap")
				return nil
			}
			rows := make([][]string, 0, len(result.Removed)+len(result.Errors))
			for _, path := range result.Removed {
				rows = append(rows, []string{path, "removed"})
			}
			for _, failure := range result.Errors {
				rows = append(rows, []string{failure.Path, failure.Error.Error()})
			}
			fmt.Fprint(out, renderTable([]column{left("Path"), left("Outcome")}, rows))
			if len(result.Errors) > 0 {
				return fmt.Errorf("%d session(s) could not be removed", len(result.Errors))
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&maxAge, "max-age", 0, "Override cleanup.max_age_seconds")
	cmd.Flags().BoolVar(&list, "list", false, "List session directories without removing anything")
	return cmd
}
