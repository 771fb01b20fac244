package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/tonimelisma/kubewatch/internal/watching"
)

// statusf prints a status message to stderr unless quiet mode is set.
func statusf(quiet bool, format string, args ...any) {
	if !quiet {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// Statusf prints a status message to stderr unless quiet mode is set.
func (cc *CLIContext) Statusf(format string, args ...any) {
	statusf(cc.Flags.Quiet, format, args...)
}

// formatTime returns a compact timestamp for display.
func formatTime(t time.Time) string {
	now := time.Now()

	if t.Year() == now.Year() {
		return t.Format("Jan _2 15:04:05")
	}

	return t.Format("Jan _2  2006")
}

// printTable writes aligned columns to w. headers and each row must have
// the same length.
func printTable(w io.Writer, headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}

	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], len(cell))
		}
	}

	printRow(w, headers, widths)

	for _, row := range rows {
		printRow(w, row, widths)
	}
}

func printRow(w io.Writer, cells []string, widths []int) {
	parts := make([]string, len(cells))
	for i, cell := range cells {
		parts[i] = fmt.Sprintf("%-*s", widths[i], cell)
	}

	fmt.Fprintln(w, strings.TrimRight(strings.Join(parts, "  "), " "))
}

// writeJSON writes v as indented JSON followed by a newline.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}

// Output formats for "watch".
const (
	outputAuto = "auto"
	outputText = "text"
	outputJSON = "json"
)

// isTerminal reports whether f is attached to a terminal.
func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// resolveOutput turns "auto" into text on a terminal and JSON lines
// otherwise.
func resolveOutput(format string, tty bool) (string, error) {
	switch format {
	case outputText, outputJSON:
		return format, nil
	case outputAuto, "":
		if tty {
			return outputText, nil
		}

		return outputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want auto, text or json)", format)
	}
}

// eventLine is the JSON-lines form of a delivered event.
type eventLine struct {
	Time     time.Time       `json:"time"`
	Resource string          `json:"resource"`
	Type     string          `json:"type"`
	Object   json.RawMessage `json:"object"`
}

// eventPrinter writes events from concurrent watchers without
// interleaving lines.
type eventPrinter struct {
	mu      sync.Mutex
	w       io.Writer
	json    bool
	nowFunc func() time.Time
}

func newEventPrinter(w io.Writer, format string) *eventPrinter {
	return &eventPrinter{w: w, json: format == outputJSON, nowFunc: time.Now}
}

func (p *eventPrinter) print(resource string, ev watching.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.json {
		data, err := json.Marshal(eventLine{
			Time:     p.nowFunc().UTC(),
			Resource: resource,
			Type:     ev.Type.String(),
			Object:   ev.Object,
		})
		if err != nil {
			return fmt.Errorf("encoding event: %w", err)
		}

		_, err = fmt.Fprintf(p.w, "%s\n", data)

		return err
	}

	name, version := "-", "-"

	if meta, err := ev.Metadata(); err == nil {
		name = meta.Name
		if meta.Namespace != "" {
			name = meta.Namespace + "/" + meta.Name
		}

		if meta.ResourceVersion != "" {
			version = meta.ResourceVersion
		}
	}

	_, err := fmt.Fprintf(p.w, "%s  %-9s  %s  %s  %s\n",
		p.nowFunc().Format(time.TimeOnly), ev.Type.String(), resource, name, version)

	return err
}
