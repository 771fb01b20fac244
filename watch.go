package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/kubewatch/internal/config"
	"github.com/tonimelisma/kubewatch/internal/fanout"
	"github.com/tonimelisma/kubewatch/internal/journal"
	"github.com/tonimelisma/kubewatch/internal/kube"
	"github.com/tonimelisma/kubewatch/internal/metrics"
	"github.com/tonimelisma/kubewatch/internal/toggle"
	"github.com/tonimelisma/kubewatch/internal/watching"
)

const (
	// eventBuffer is the channel depth between a watcher and its sinks.
	eventBuffer = 64

	journalPruneInterval = time.Hour
	serverShutdownGrace  = 5 * time.Second
	readHeaderTimeout    = 10 * time.Second
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch RESOURCE...",
		Short: "List and watch resource collections until interrupted",
		Long: `Watch one or more resource collections. Each collection is listed first
(every listed object is printed as a SYNTHETIC event), then followed from
the listed resource version. When the server reports the version as
expired the collection is listed again.

RESOURCE is "plural" (core v1, e.g. pods), "version/plural" (core, e.g.
v1/configmaps) or "group/version/plural" (e.g. apps/v1/deployments).

Output is text on a terminal and JSON lines otherwise. With --journal
every event is also recorded for "kubewatch history". With --listen (or
listen_address) an HTTP server exposes /metrics, /healthz and a
websocket feed at /events.

"kubewatch freeze" and "kubewatch thaw" suspend and resume all watches.

Examples:
  kubewatch watch pods
  kubewatch watch -n prod -l app=web pods apps/v1/deployments
  kubewatch watch --journal --listen 127.0.0.1:9090 v1/events`,
		Args: cobra.MinimumNArgs(1),
		RunE: runWatch,
	}

	f := cmd.Flags()
	f.StringP("selector", "l", "", "label selector")
	f.String("field-selector", "", "field selector")
	f.Bool("journal", false, "record events in the journal")
	f.String("listen", "", "address for /metrics, /healthz and /events (e.g. 127.0.0.1:9090)")
	f.StringP("output", "o", outputAuto, "output format: auto, text or json")

	return cmd
}

func runWatch(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	cfg := cc.Cfg
	logger := cc.Logger

	resources, err := parseResources(args)
	if err != nil {
		return err
	}

	output, _ := cmd.Flags().GetString("output")

	format, err := resolveOutput(output, isTerminal(os.Stdout))
	if err != nil {
		return err
	}

	cleanup, err := writePIDFile(cfg.PIDFile)
	if err != nil {
		return err
	}
	defer cleanup()

	runCtx, stop := context.WithCancel(cmd.Context())
	defer stop()

	ctx := shutdownContext(runCtx, logger)

	sess, err := kube.NewSession(sessionOptions(cfg), logger)
	if err != nil {
		return err
	}

	client := kube.NewClient(sess.Host, sess.HTTPClient, logger, "kubewatch/"+version)
	discovery := kube.NewDiscovery(client, logger)

	freeze := toggle.NewFileToggle(cfg.FreezeFile, logger)
	if err := freeze.Refresh(); err != nil {
		return err
	}

	sinks := &eventSinks{
		printer: newEventPrinter(cmd.OutOrStdout(), format),
		logger:  logger,
	}

	if cfg.JournalEnabled {
		j, err := journal.Open(ctx, cfg.JournalPath, logger)
		if err != nil {
			return err
		}
		defer j.Close()

		sinks.journal = j
	}

	if cfg.ListenAddress != "" {
		sinks.metrics = metrics.New(freeze.IsOn)
		sinks.hub = fanout.NewHub(fanout.DefaultBuffer, logger)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return freeze.Watch(gctx) })
	g.Go(func() error { return reloadOnHangup(gctx, logger, freeze.Refresh) })

	if sinks.journal != nil {
		g.Go(func() error {
			return sinks.journal.KeepPruned(gctx, cfg.JournalRetention, journalPruneInterval)
		})
	}

	if cfg.ListenAddress != "" {
		ln, err := net.Listen("tcp", cfg.ListenAddress)
		if err != nil {
			return fmt.Errorf("listening on %s: %w", cfg.ListenAddress, err)
		}

		srv := &http.Server{
			Handler:           newDaemonMux(sinks.metrics, sinks.hub),
			ReadHeaderTimeout: readHeaderTimeout,
		}

		logger.Info("serving metrics and events", slog.String("address", ln.Addr().String()))

		g.Go(func() error { return serveDaemon(gctx, srv, ln, sinks.hub) })
	}

	for _, res := range resources {
		w := watching.NewWatcher(client, discovery, freeze, watcherOptions(cfg, res), logger)

		if sinks.metrics != nil {
			sinks.metrics.Watchers.Add(res.String(), w)
		}

		events := make(chan watching.Event, eventBuffer)
		name := res.String()

		g.Go(func() error {
			defer close(events)

			return w.Run(gctx, events)
		})

		g.Go(func() error {
			for ev := range events {
				sinks.deliver(gctx, name, ev)
			}

			return nil
		})
	}

	logger.Info("watching",
		slog.String("resources", describeResources(resources)),
		slog.String("namespace", cfg.Namespace),
		slog.Bool("frozen", freeze.IsOn()),
	)

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("all watches stopped")

	return nil
}

// parseResources parses and de-duplicates the RESOURCE arguments.
func parseResources(args []string) ([]kube.Resource, error) {
	seen := make(map[string]bool, len(args))
	resources := make([]kube.Resource, 0, len(args))

	for _, arg := range args {
		res, err := kube.ParseResource(arg)
		if err != nil {
			return nil, err
		}

		if seen[res.String()] {
			return nil, fmt.Errorf("resource %s given more than once", res)
		}

		seen[res.String()] = true
		resources = append(resources, res)
	}

	return resources, nil
}

func sessionOptions(cfg *config.Resolved) kube.SessionOptions {
	return kube.SessionOptions{
		Kubeconfig:            cfg.Cluster.Kubeconfig,
		Context:               cfg.Cluster.Context,
		Server:                cfg.Cluster.Server,
		TokenFile:             cfg.Cluster.TokenFile,
		CAFile:                cfg.Cluster.CAFile,
		InsecureSkipTLSVerify: cfg.Cluster.InsecureSkipTLSVerify,
		ConnectTimeout:        cfg.ConnectTimeout,
	}
}

func watcherOptions(cfg *config.Resolved, res kube.Resource) watching.Options {
	return watching.Options{
		Resource:  res,
		Namespace: cfg.Namespace,
		Selectors: kube.Selectors{
			Label: cfg.LabelSelector,
			Field: cfg.FieldSelector,
		},
		ServerTimeout:    cfg.ServerTimeout,
		ClientTimeout:    cfg.ClientTimeout,
		ReconnectBackoff: cfg.ReconnectBackoff,
		ChunkSize:        cfg.ChunkSize,
	}
}

// eventSinks fans one delivered event out to the printer and the
// optional journal, metrics and websocket hub.
type eventSinks struct {
	printer *eventPrinter
	journal *journal.Journal
	metrics *metrics.Metrics
	hub     *fanout.Hub
	logger  *slog.Logger
}

func (s *eventSinks) deliver(ctx context.Context, resource string, ev watching.Event) {
	if err := s.printer.print(resource, ev); err != nil {
		s.logger.Warn("printing event", slog.String("error", err.Error()))
	}

	if s.journal != nil {
		// Events already received are recorded even during shutdown.
		if err := s.journal.Record(context.WithoutCancel(ctx), resource, ev); err != nil {
			s.logger.Warn("journaling event", slog.String("error", err.Error()))
		}
	}

	if s.metrics != nil {
		s.metrics.Observe(resource, ev)
	}

	if s.hub != nil {
		s.hub.Publish(resource, ev)
	}
}

// newDaemonMux routes the daemon's HTTP endpoints.
func newDaemonMux(m *metrics.Metrics, hub *fanout.Hub) *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("GET /metrics", m.Handler())
	mux.Handle("GET /events", hub)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintln(w, "ok")
	})

	return mux
}

// serveDaemon serves on ln until ctx is done, then closes the hub so
// websocket subscribers disconnect and shuts the server down.
func serveDaemon(ctx context.Context, srv *http.Server, ln net.Listener, hub *fanout.Hub) error {
	errCh := make(chan error, 1)

	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)

	case <-ctx.Done():
		hub.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownGrace)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown: %w", err)
		}

		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}

		return nil
	}
}

// describeResources joins resource names for logging.
func describeResources(resources []kube.Resource) string {
	names := make([]string, len(resources))
	for i, r := range resources {
		names[i] = r.String()
	}

	return strings.Join(names, ", ")
}
