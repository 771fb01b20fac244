package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/kubewatch/internal/journal"
	"github.com/tonimelisma/kubewatch/internal/toggle"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show freeze state, daemon and journal status",
		Long: `Report whether watching is frozen (and until when), whether a
"kubewatch watch" daemon is running, and what the event journal holds.`,
		Args: cobra.NoArgs,
		RunE: runStatus,
	}
}

type statusReport struct {
	Frozen      bool           `json:"frozen"`
	FrozenUntil *time.Time     `json:"frozen_until,omitempty"`
	FreezeFile  string         `json:"freeze_file"`
	Daemon      daemonStatus   `json:"daemon"`
	Journal     *journalStatus `json:"journal,omitempty"`
}

type daemonStatus struct {
	Running bool   `json:"running"`
	PID     int    `json:"pid,omitempty"`
	PIDFile string `json:"pid_file"`
}

type journalStatus struct {
	Path      string     `json:"path"`
	SizeBytes int64      `json:"size_bytes"`
	Entries   int64      `json:"entries"`
	Oldest    *time.Time `json:"oldest,omitempty"`
	Newest    *time.Time `json:"newest,omitempty"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	report, err := buildStatus(cmd.Context(), cc, time.Now())
	if err != nil {
		return err
	}

	if cc.Flags.JSON {
		return writeJSON(cmd.OutOrStdout(), report)
	}

	printStatusText(cmd.OutOrStdout(), report, time.Now())

	return nil
}

func buildStatus(ctx context.Context, cc *CLIContext, now time.Time) (*statusReport, error) {
	cfg := cc.Cfg

	marker, err := toggle.ReadMarker(cfg.FreezeFile)
	if err != nil {
		return nil, err
	}

	report := &statusReport{
		Frozen:     marker.Active(now),
		FreezeFile: cfg.FreezeFile,
		Daemon:     daemonStatus{PIDFile: cfg.PIDFile},
	}

	if report.Frozen && !marker.Until.IsZero() {
		until := marker.Until
		report.FrozenUntil = &until
	}

	if proc, err := findDaemon(cfg.PIDFile); err == nil {
		report.Daemon.Running = true
		report.Daemon.PID = proc.Pid
	} else if !errors.Is(err, errNoDaemon) {
		cc.Logger.Warn("checking daemon", slog.String("error", err.Error()))
	}

	js, err := inspectJournal(ctx, cc)
	if err != nil {
		return nil, err
	}

	report.Journal = js

	return report, nil
}

// inspectJournal summarizes the journal database, or returns nil when
// none has been created yet.
func inspectJournal(ctx context.Context, cc *CLIContext) (*journalStatus, error) {
	path := cc.Cfg.JournalPath

	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("inspecting journal: %w", err)
	}

	j, err := journal.Open(ctx, path, cc.Logger)
	if err != nil {
		return nil, err
	}
	defer j.Close()

	sum, err := j.Summarize(ctx)
	if err != nil {
		return nil, err
	}

	js := &journalStatus{Path: path, SizeBytes: info.Size(), Entries: sum.Entries}
	if sum.Entries > 0 {
		js.Oldest, js.Newest = &sum.Oldest, &sum.Newest
	}

	return js, nil
}

func printStatusText(w io.Writer, r *statusReport, now time.Time) {
	switch {
	case !r.Frozen:
		fmt.Fprintln(w, "Freeze:   not frozen")
	case r.FrozenUntil == nil:
		fmt.Fprintln(w, "Freeze:   frozen until thawed")
	default:
		fmt.Fprintf(w, "Freeze:   frozen until %s (%s)\n",
			r.FrozenUntil.Format(time.RFC3339), humanize.RelTime(*r.FrozenUntil, now, "ago", "from now"))
	}

	if r.Daemon.Running {
		fmt.Fprintf(w, "Daemon:   running (PID %d)\n", r.Daemon.PID)
	} else {
		fmt.Fprintln(w, "Daemon:   not running")
	}

	if r.Journal == nil {
		fmt.Fprintln(w, "Journal:  none")

		return
	}

	fmt.Fprintf(w, "Journal:  %s entries, %s (%s)\n",
		humanize.Comma(r.Journal.Entries), humanize.Bytes(uint64(r.Journal.SizeBytes)), r.Journal.Path)

	if r.Journal.Oldest != nil {
		fmt.Fprintf(w, "          %s to %s\n", formatTime(*r.Journal.Oldest), formatTime(*r.Journal.Newest))
	}
}
