package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"audiojoin/internal/config"
	"audiojoin/internal/logging"
	"audiojoin/internal/logs"
	"audiojoin/internal/queue"
	"audiojoin/internal/session"
)

func newSessionCommand(ctx *commandContext) *cobra.Command {
	sessionCmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect conversion sessions on disk",
	}
	sessionCmd.AddCommand(newSessionListCommand(ctx))
	sessionCmd.AddCommand(newSessionShowCommand(ctx))
	sessionCmd.AddCommand(newSessionLogCommand(ctx))
	return sessionCmd
}

func openSessions(cfg *config.Config) *session.Store {
	return session.NewStore(cfg.Paths.SessionsDir, logging.NewNop(), nil)
}

func newSessionListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			sessions, err := openSessions(cfg).List(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				if sessions == nil {
					sessions = []*session.Session{}
				}
				return writeJSON(cmd, sessions)
			}
			out := cmd.OutOrStdout()
			if len(sessions) == 0 {
				fmt.Fprintln(out, "No sessions")
				return nil
			}
			now := time.Now()
			rows := make([][]string, 0, len(sessions))
			for _, sess := range sessions {
				rows = append(rows, []string{
					sess.ID,
					string(sess.Status),
					strconv.Itoa(sess.Progress) + "%",
					strconv.Itoa(len(sess.Files)),
					humanize.RelTime(sess.CreatedAt, now, "ago", "from now"),
				})
			}
			fmt.Fprint(out, renderTable([]column{left("Session"), left("Status"), right("Progress"), right("Files"), left("Created")}, rows))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print sessions as JSON")
	return cmd
}

func newSessionShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one session and its queue entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			sess, err := openSessions(cfg).Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			entry, err := lookupEntry(cmd.Context(), cfg, sess.ID)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, map[string]any{"session": sess, "queue_entry": entry})
			}
			printSession(cmd.OutOrStdout(), sess, entry, time.Now())
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the session as JSON")
	return cmd
}

// lookupEntry returns the session's newest queue entry, or nil in direct mode.
func lookupEntry(ctx context.Context, cfg *config.Config, id string) (*queue.Entry, error) {
	if !cfg.Queue.Enabled {
		return nil, nil
	}
	store, err := queue.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open queue: %w", err)
	}
	defer store.Close()
	return store.Get(ctx, id)
}

func printSession(out io.Writer, sess *session.Session, entry *queue.Entry, now time.Time) {
	colorize := shouldColorize(out)
	kind := statusInfo
	switch sess.Status {
	case session.StatusDone:
		kind = statusOK
	case session.StatusError:
		kind = statusError
	}
	fmt.Fprintln(out, renderStatusLine("Session", statusInfo, sess.ID, colorize))
	fmt.Fprintln(out, renderStatusLine("Status", kind, fmt.Sprintf("%s (%d%%)", sess.Status, sess.Progress), colorize))
	if sess.Error != "" {
		fmt.Fprintln(out, renderStatusLine("Error", statusError, sess.Error, colorize))
	}
	if sess.OutputFormat != "" {
		fmt.Fprintln(out, renderStatusLine("Output", statusInfo, fmt.Sprintf("%s @ %d kbps", sess.OutputFormat, sess.Bitrate), colorize))
	}
	if sess.TotalDuration > 0 {
		d := time.Duration(sess.TotalDuration * float64(time.Second)).Round(time.Second)
		fmt.Fprintln(out, renderStatusLine("Duration", statusInfo, d.String(), colorize))
	}
	if sess.FileSize > 0 {
		fmt.Fprintln(out, renderStatusLine("Size", statusInfo, humanize.IBytes(uint64(sess.FileSize)), colorize))
	}
	if elapsed := sess.Elapsed(now); elapsed > 0 && sess.Status == session.StatusConverting {
		fmt.Fprintln(out, renderStatusLine("Running", statusInfo, elapsed.Round(time.Second).String(), colorize))
	}
	fmt.Fprintln(out, renderStatusLine("Created", statusInfo, humanize.RelTime(sess.CreatedAt, now, "ago", "from now"), colorize))
	if entry != nil {
		detail := fmt.Sprintf("#%d %s, waited %s", entry.ID, entry.Status, entry.Wait(now).Round(time.Second))
		fmt.Fprintln(out, renderStatusLine("Queue", statusInfo, detail, colorize))
	}

	rows := make([][]string, 0, len(sess.Files))
	for i, name := range sess.Files {
		rows = append(rows, []string{strconv.Itoa(i + 1), name})
	}
	if len(rows) > 0 {
		fmt.Fprint(out, renderTable([]column{right("#"), left("File")}, rows))
	}
}

func newSessionLogCommand(ctx *commandContext) *cobra.Command {
	var follow bool
	var lines int
	cmd := &cobra.Command{
		Use:   "log <id>",
		Short: "Print the ffmpeg log of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store := openSessions(cfg)
			if _, err := store.Load(cmd.Context(), args[0]); err != nil {
				return err
			}
			path, err := store.Path(args[0], session.LogFile)
			if err != nil {
				return err
			}
			if !follow {
				result, err := logs.Tail(cmd.Context(), path, logs.TailOptions{Offset: -1, Limit: lines, Flush: true})
				if err != nil {
					return err
				}
				if len(result.Lines) == 0 {
					fmt.Fprintf(cmd.ErrOrStderr(), "no ffmpeg output in %s\n", filepath.Base(path))
				}
				return writeLines(cmd.OutOrStdout(), result.Lines)
			}

			signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			done := func() bool {
				sess, err := store.Load(signalCtx, args[0])
				return err != nil || sess.Status != session.StatusConverting && sess.Status != session.StatusQueued
			}
			err = logs.Follow(signalCtx, path, cmd.OutOrStdout(), logs.FollowOptions{Lines: lines, Done: done})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing output until the conversion finishes")
	cmd.Flags().IntVarP(&lines, "lines", "n", 20, "Number of trailing lines to print first")
	return cmd
}

func writeLines(out io.Writer, lines []string) error {
	for _, line := range lines {
		if _, err := fmt.Fprintln(out, line); err != nil {
			return err
		}
	}
	return nil
}
