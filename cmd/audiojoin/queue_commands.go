package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"audiojoin/internal/api"
	"audiojoin/internal/config"
	"audiojoin/internal/queue"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the conversion queue",
	}
	queueCmd.AddCommand(newQueueStatusCommand(ctx))
	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueHealthCommand(ctx))
	return queueCmd
}

func newQueueStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show entry counts per status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(func(_ *config.Config, store *queue.Store) error {
				stats, err := api.NewQueueService(store).Stats(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, api.QueueStatsResponse{Counts: stats})
				}
				rows := make([][]string, 0, len(stats))
				for _, status := range queue.AllStatuses() {
					rows = append(rows, []string{string(status), strconv.Itoa(stats[string(status)])})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable([]column{left("Status"), right("Count")}, rows))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print counts as JSON")
	return cmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queue entries in claim order",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := make([]queue.Status, 0, len(statuses))
			for _, value := range statuses {
				status, ok := queue.ParseStatus(strings.ToLower(strings.TrimSpace(value)))
				if !ok {
					return fmt.Errorf("unknown queue status %q", value)
				}
				filter = append(filter, status)
			}
			return ctx.withQueue(func(_ *config.Config, store *queue.Store) error {
				items, err := api.NewQueueService(store).List(cmd.Context(), filter...)
				if err != nil {
					return err
				}
				if asJSON {
					if items == nil {
						items = []api.QueueItem{}
					}
					return writeJSON(cmd, api.QueueListResponse{Items: items})
				}
				out := cmd.OutOrStdout()
				if len(items) == 0 {
					fmt.Fprintln(out, "Queue is empty")
					return nil
				}
				fmt.Fprint(out, renderTable(
					[]column{right("ID"), left("Session"), left("Status"), right("Priority"), left("Created"), left("Error")},
					queueRows(items, time.Now()),
				))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by status (pending, processing, completed, failed)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print entries as JSON")
	return cmd
}

func queueRows(items []api.QueueItem, now time.Time) [][]string {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		created := item.CreatedAt
		if ts, err := time.Parse(time.RFC3339, item.CreatedAt); err == nil {
			created = humanize.RelTime(ts, now, "ago", "from now")
		}
		rows = append(rows, []string{
			strconv.FormatInt(item.ID, 10),
			item.SessionID,
			item.Status,
			strconv.Itoa(item.Priority),
			created,
			truncate(item.Error, 48),
		})
	}
	return rows
}

func newQueueHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the queue database",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(func(_ *config.Config, store *queue.Store) error {
				health, err := api.NewQueueService(store).Health(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				kind := statusOK
				if !health.Readable || !health.Integrity {
					kind = statusError
				}
				fmt.Fprintln(out, renderStatusLine("Database", kind, health.Path, colorize))
				fmt.Fprintln(out, renderStatusLine("Schema", statusInfo, strconv.Itoa(health.SchemaVersion), colorize))
				fmt.Fprintln(out, renderStatusLine("Integrity", kind, yesNo(health.Integrity), colorize))
				if health.Error != "" {
					fmt.Fprintln(out, renderStatusLine("Error", statusError, health.Error, colorize))
				}
				return nil
			})
		},
	}
}

func truncate(value string, n int) string {
	value = strings.TrimSpace(value)
	if len([]rune(value)) <= n {
		return value
	}
	return string([]rune(value)[:n-1]) + "…"
}
