package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/kubewatch/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// skipConfigAnnotation marks commands that must run without a resolved
// configuration (for example "config init", which creates it).
const skipConfigAnnotation = "skipConfig"

// CLIFlags holds the persistent flag values shared by every command.
type CLIFlags struct {
	ConfigPath string
	Namespace  string
	Kubeconfig string
	Context    string
	JSON       bool
	Verbose    bool
	Quiet      bool
}

// CLIContext is attached to the command context by the root pre-run and
// carries everything subcommands need.
type CLIContext struct {
	Flags  CLIFlags
	Cfg    *config.Resolved
	Logger *slog.Logger

	logFile io.Closer
}

type cliContextKey struct{}

func withCLIContext(ctx context.Context, cc *CLIContext) context.Context {
	return context.WithValue(ctx, cliContextKey{}, cc)
}

// mustCLIContext returns the CLIContext set by the root pre-run. Its
// absence is a programming error.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok {
		panic("CLIContext missing from command context")
	}

	return cc
}

// Close releases the log file, if one was opened.
func (cc *CLIContext) Close() {
	if cc.logFile != nil {
		cc.logFile.Close()
	}
}

// newRootCmd builds the root command with all subcommands registered.
func newRootCmd() *cobra.Command {
	var flags CLIFlags

	cmd := &cobra.Command{
		Use:   "kubewatch",
		Short: "Kubernetes watch-stream client",
		Long: `Keep Kubernetes resource collections under watch: list, then follow the
change stream from the listed resource version, relisting when the
server reports the checkpoint as expired.`,
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := newCLIContext(cmd, flags)
			if err != nil {
				return err
			}

			cmd.SetContext(withCLIContext(cmd.Context(), cc))

			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if cc, ok := cmd.Context().Value(cliContextKey{}).(*CLIContext); ok {
				cc.Close()
			}
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.ConfigPath, "config", "", "config file path")
	pf.StringVarP(&flags.Namespace, "namespace", "n", "", "namespace to watch (empty for all namespaces)")
	pf.StringVar(&flags.Kubeconfig, "kubeconfig", "", "kubeconfig file")
	pf.StringVar(&flags.Context, "context", "", "kubeconfig context")
	pf.BoolVar(&flags.JSON, "json", false, "output in JSON format")
	pf.BoolVarP(&flags.Verbose, "verbose", "v", false, "enable debug logging")
	pf.BoolVarP(&flags.Quiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newFreezeCmd())
	cmd.AddCommand(newThawCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newHistoryCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// newCLIContext resolves configuration (unless the command opts out)
// and builds the logger.
func newCLIContext(cmd *cobra.Command, flags CLIFlags) (*CLIContext, error) {
	cc := &CLIContext{Flags: flags}

	if cmd.Annotations[skipConfigAnnotation] == "" {
		cfg, err := config.Resolve(config.ReadEnvOverrides(), cliOverrides(cmd, flags))
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}

		cc.Cfg = cfg
	}

	logger, closer, err := buildLogger(cc.Cfg, flags, os.Stderr)
	if err != nil {
		return nil, err
	}

	cc.Logger = logger
	cc.logFile = closer

	return cc, nil
}

// cliOverrides passes only explicitly set flags to the resolver, so an
// unset flag never masks the config file or environment.
func cliOverrides(cmd *cobra.Command, flags CLIFlags) config.CLIOverrides {
	cli := config.CLIOverrides{ConfigPath: flags.ConfigPath}

	changed := func(name string) bool {
		f := cmd.Flags().Lookup(name)
		return f != nil && f.Changed
	}

	if changed("namespace") {
		cli.Namespace = &flags.Namespace
	}

	if changed("kubeconfig") {
		cli.Kubeconfig = &flags.Kubeconfig
	}

	if changed("context") {
		cli.Context = &flags.Context
	}

	// Command-local flags ("watch" only).
	if changed("selector") {
		v, _ := cmd.Flags().GetString("selector")
		cli.LabelSelector = &v
	}

	if changed("field-selector") {
		v, _ := cmd.Flags().GetString("field-selector")
		cli.FieldSelector = &v
	}

	if changed("journal") {
		v, _ := cmd.Flags().GetBool("journal")
		cli.Journal = &v
	}

	if changed("listen") {
		v, _ := cmd.Flags().GetString("listen")
		cli.ListenAddress = &v
	}

	return cli
}

// buildLogger creates the process logger. The config file provides the
// baseline level; --verbose and --quiet override it. With log_file set,
// records go to that file instead of stderr, as JSON unless log_format
// says otherwise.
func buildLogger(cfg *config.Resolved, flags CLIFlags, stderr io.Writer) (*slog.Logger, io.Closer, error) {
	level := slog.LevelInfo
	format := "auto"

	var (
		out    = stderr
		closer io.Closer
	)

	if cfg != nil {
		level = parseLevel(cfg.Logging.LogLevel)
		format = cfg.Logging.LogFormat

		if cfg.Logging.LogFile != "" {
			f, err := os.OpenFile(cfg.Logging.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
			if err != nil {
				return nil, nil, fmt.Errorf("opening log file: %w", err)
			}

			out, closer = f, f
		}
	}

	if flags.Verbose {
		level = slog.LevelDebug
	}

	if flags.Quiet {
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if format == "json" || (format == "auto" && closer != nil) {
		return slog.New(slog.NewJSONHandler(out, opts)), closer, nil
	}

	return slog.New(slog.NewTextHandler(out, opts)), closer, nil
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
