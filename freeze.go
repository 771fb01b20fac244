package main

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/kubewatch/internal/toggle"
)

func newFreezeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "freeze [duration]",
		Short: "Suspend watching",
		Long: `Freeze all watches. Running streams are closed and no new stream is
opened until the freeze ends. An optional duration (e.g. "30m", "2h",
"1d") thaws automatically once it elapses; without one, watching stays
frozen until "kubewatch thaw".

A running "kubewatch watch" daemon picks up the change through its file
watcher and is also sent a SIGHUP.

Examples:
  kubewatch freeze
  kubewatch freeze 2h
  kubewatch freeze 1d`,
		Args: cobra.MaximumNArgs(1),
		RunE: runFreeze,
	}
}

func runFreeze(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	var until time.Time

	if len(args) > 0 {
		d, err := parseDuration(args[0])
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", args[0], err)
		}

		until = time.Now().Add(d).Truncate(time.Second)
	}

	if err := toggle.WriteMarker(cc.Cfg.FreezeFile, until); err != nil {
		return fmt.Errorf("writing freeze marker: %w", err)
	}

	if until.IsZero() {
		cc.Statusf("Watching frozen\n")
	} else {
		cc.Statusf("Watching frozen until %s\n", until.Format(time.RFC3339))
	}

	notifyDaemon(cc)

	return nil
}

// notifyDaemon sends SIGHUP to a running watch daemon. Its absence is
// not an error: the marker is read on the next start.
func notifyDaemon(cc *CLIContext) {
	if err := sendSIGHUP(cc.Cfg.PIDFile); err != nil {
		cc.Logger.Debug("daemon not notified", slog.String("error", err.Error()))
		cc.Statusf("Note: %v; the change applies when a watch starts\n", err)

		return
	}

	cc.Statusf("Notified running daemon\n")
}

// hoursPerDay converts day durations to hours.
const hoursPerDay = 24

// durationPattern matches durations like "30m", "2h", "1d", "1d12h".
var durationPattern = regexp.MustCompile(`^(\d+d)?(\d+h)?(\d+m)?(\d+s)?$`)

var durationPart = regexp.MustCompile(`(\d+)([dhms])`)

// parseDuration parses Go duration syntax plus a "d" suffix for days.
// The result must be positive.
func parseDuration(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			return 0, fmt.Errorf("duration must be positive")
		}

		return d, nil
	}

	if s == "" || !durationPattern.MatchString(s) {
		return 0, fmt.Errorf("expected format like 30m, 2h, 1d, or 1d12h")
	}

	var total time.Duration

	for _, match := range durationPart.FindAllStringSubmatch(s, -1) {
		n, err := strconv.Atoi(match[1])
		if err != nil {
			return 0, fmt.Errorf("invalid number %q: %w", match[1], err)
		}

		switch match[2] {
		case "d":
			total += time.Duration(n) * hoursPerDay * time.Hour
		case "h":
			total += time.Duration(n) * time.Hour
		case "m":
			total += time.Duration(n) * time.Minute
		case "s":
			total += time.Duration(n) * time.Second
		}
	}

	if total <= 0 {
		return 0, fmt.Errorf("duration must be positive")
	}

	return total, nil
}
