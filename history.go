package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/kubewatch/internal/journal"
	"github.com/tonimelisma/kubewatch/internal/kube"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recently journaled events",
		Long: `Print events recorded in the journal by "kubewatch watch --journal",
newest first.

Examples:
  kubewatch history
  kubewatch history --resource pods --limit 20
  kubewatch history --since 2h --json`,
		Args: cobra.NoArgs,
		RunE: runHistory,
	}

	cmd.Flags().String("resource", "", "only events for this resource (plural, version/plural or group/version/plural)")
	cmd.Flags().Int("limit", journal.DefaultLimit, "maximum number of events")
	cmd.Flags().String("since", "", "only events newer than this (e.g. 30m, 2h, 1d)")

	return cmd
}

func runHistory(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	q, err := historyQuery(cmd, time.Now())
	if err != nil {
		return err
	}

	path := cc.Cfg.JournalPath
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("no journal at %s (run \"kubewatch watch --journal\" first)", path)
	}

	j, err := journal.Open(cmd.Context(), path, cc.Logger)
	if err != nil {
		return err
	}
	defer j.Close()

	entries, err := j.Recent(cmd.Context(), q)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()

	if cc.Flags.JSON {
		if entries == nil {
			entries = []journal.Entry{}
		}

		return writeJSON(out, entries)
	}

	if len(entries) == 0 {
		cc.Statusf("No events recorded\n")

		return nil
	}

	printHistoryTable(out, entries)

	return nil
}

func historyQuery(cmd *cobra.Command, now time.Time) (journal.Query, error) {
	var q journal.Query

	resource, _ := cmd.Flags().GetString("resource")
	if resource != "" {
		res, err := kube.ParseResource(resource)
		if err != nil {
			return q, err
		}

		q.Resource = res.String()
	}

	since, _ := cmd.Flags().GetString("since")
	if since != "" {
		d, err := parseDuration(since)
		if err != nil {
			return q, fmt.Errorf("invalid --since %q: %w", since, err)
		}

		q.Since = now.Add(-d)
	}

	limit, _ := cmd.Flags().GetInt("limit")
	if limit <= 0 {
		return q, fmt.Errorf("--limit must be positive, got %d", limit)
	}

	q.Limit = limit

	return q, nil
}

func printHistoryTable(w io.Writer, entries []journal.Entry) {
	rows := make([][]string, 0, len(entries))

	for i := range entries {
		e := &entries[i]

		name := e.Name
		if e.Namespace != "" {
			name = e.Namespace + "/" + e.Name
		}

		rows = append(rows, []string{
			formatTime(e.RecordedAt),
			e.Type,
			e.Resource,
			name,
			e.ResourceVersion,
			humanize.Bytes(uint64(len(e.Object))),
			strconv.FormatInt(e.ID, 10),
		})
	}

	printTable(w, []string{"TIME", "TYPE", "RESOURCE", "NAME", "VERSION", "SIZE", "ID"}, rows)
}
