package config

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
)

// RenderEffective writes the resolved configuration as an annotated
// summary to w. This powers "config show", giving users visibility into
// the effective values after all four override layers have been applied.
func RenderEffective(r *Resolved, w io.Writer) error {
	ew := &errWriter{w: w}

	if r.ConfigPath != "" {
		ew.printf("# Effective configuration (file: %s)\n\n", r.ConfigPath)
	} else {
		ew.printf("# Effective configuration (defaults)\n\n")
	}

	renderWatchSection(ew, r)
	renderClusterSection(ew, &r.Cluster)
	renderLoggingSection(ew, &r.Logging)
	renderJournalSection(ew, r)
	renderDaemonSection(ew, r)

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func renderWatchSection(ew *errWriter, r *Resolved) {
	ew.printf("[watch]\n")
	ew.printf("  server_timeout    = %q\n", r.ServerTimeout.String())
	ew.printf("  client_timeout    = %q\n", r.ClientTimeout.String())
	ew.printf("  connect_timeout   = %q\n", r.ConnectTimeout.String())
	ew.printf("  reconnect_backoff = %q\n", r.ReconnectBackoff.String())
	ew.printf("  chunk_size        = %q\n", humanize.IBytes(uint64(r.ChunkSize)))
	ew.printf("  namespace         = %q\n", r.Namespace)

	if r.LabelSelector != "" {
		ew.printf("  label_selector    = %q\n", r.LabelSelector)
	}

	if r.FieldSelector != "" {
		ew.printf("  field_selector    = %q\n", r.FieldSelector)
	}

	ew.printf("\n")
}

func renderClusterSection(ew *errWriter, c *ClusterConfig) {
	ew.printf("[cluster]\n")

	if c.Server != "" {
		ew.printf("  server     = %q\n", c.Server)
		ew.printf("  token_file = %q\n", c.TokenFile)
	} else {
		ew.printf("  kubeconfig = %q\n", c.Kubeconfig)
		ew.printf("  context    = %q\n", c.Context)
	}

	if c.CAFile != "" {
		ew.printf("  ca_file    = %q\n", c.CAFile)
	}

	ew.printf("  insecure_skip_tls_verify = %t\n", c.InsecureSkipTLSVerify)
	ew.printf("\n")
}

func renderLoggingSection(ew *errWriter, l *LoggingConfig) {
	ew.printf("[logging]\n")
	ew.printf("  log_level  = %q\n", l.LogLevel)

	if l.LogFile != "" {
		ew.printf("  log_file   = %q\n", l.LogFile)
	}

	ew.printf("  log_format = %q\n", l.LogFormat)
	ew.printf("\n")
}

func renderJournalSection(ew *errWriter, r *Resolved) {
	ew.printf("[journal]\n")
	ew.printf("  journal_enabled   = %t\n", r.JournalEnabled)
	ew.printf("  journal_path      = %q\n", r.JournalPath)
	ew.printf("  journal_retention = %q\n", r.JournalRetention.String())
	ew.printf("\n")
}

func renderDaemonSection(ew *errWriter, r *Resolved) {
	ew.printf("[daemon]\n")
	ew.printf("  listen_address = %q\n", r.ListenAddress)
	ew.printf("  freeze_file    = %q\n", r.FreezeFile)
	ew.printf("  pid_file       = %q\n", r.PIDFile)
}
