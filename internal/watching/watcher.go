package watching

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tonimelisma/kubewatch/internal/kube"
)

// Default timing.
const (
	DefaultServerTimeout    = 5 * time.Minute
	DefaultClientTimeout    = 6 * time.Minute
	DefaultReconnectBackoff = time.Second
)

// APIClient is the subset of *kube.Client used by a Watcher.
type APIClient interface {
	Stream(ctx context.Context, path string, query url.Values) (*http.Response, error)
	List(ctx context.Context, res kube.Resource, namespace string, sel kube.Selectors) ([]json.RawMessage, string, error)
}

// ScopeResolver reports whether a resource is namespaced.
// Satisfied by *kube.Discovery.
type ScopeResolver interface {
	IsNamespaced(ctx context.Context, res kube.Resource) (bool, error)
}

// Freezer is a two-state signal that suspends watching while on.
// Satisfied by *toggle.Toggle and *toggle.FileToggle.
type Freezer interface {
	IsOn() bool
	WaitForOn(ctx context.Context) error
	WaitForOff(ctx context.Context) error
}

// Options configure one Watcher. Zero durations disable the matching
// timeout; a zero ChunkSize means DefaultChunkSize.
type Options struct {
	Resource  kube.Resource
	Namespace string
	Selectors kube.Selectors

	ServerTimeout    time.Duration
	ClientTimeout    time.Duration
	ReconnectBackoff time.Duration
	ChunkSize        int
}

// Stats is a point-in-time snapshot of a Watcher's counters.
type Stats struct {
	Emitted    int64
	Synthetic  int64
	Relists    int64
	Reconnects int64
	Freezes    int64
	Skipped    int64
}

type counters struct {
	emitted    atomic.Int64
	synthetic  atomic.Int64
	relists    atomic.Int64
	reconnects atomic.Int64
	freezes    atomic.Int64
	skipped    atomic.Int64
}

// Watcher keeps one resource collection under watch.
type Watcher struct {
	client APIClient
	scopes ScopeResolver
	freeze Freezer
	opts   Options
	logger *slog.Logger
	stats  counters

	// sleepFunc waits between streaming attempts. Tests override it.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewWatcher creates a Watcher. scopes and freeze may be nil: without a
// resolver every resource is treated as namespaced, and without a
// freezer the watch never pauses.
func NewWatcher(client APIClient, scopes ScopeResolver, freeze Freezer, opts Options, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}

	if freeze == nil {
		freeze = neverFrozen{}
	}

	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}

	return &Watcher{
		client: client,
		scopes: scopes,
		freeze: freeze,
		opts:   opts,
		logger: logger.With(
			slog.String("resource", opts.Resource.String()),
			slog.String("namespace", opts.Namespace),
		),
		sleepFunc: timeSleep,
	}
}

// Stats returns the current counters.
func (w *Watcher) Stats() Stats {
	return Stats{
		Emitted:    w.stats.emitted.Load(),
		Synthetic:  w.stats.synthetic.Load(),
		Relists:    w.stats.relists.Load(),
		Reconnects: w.stats.reconnects.Load(),
		Freezes:    w.stats.freezes.Load(),
		Skipped:    w.stats.skipped.Load(),
	}
}

// Run watches until ctx is canceled or a fatal error occurs, sending
// every event to events. Relists, freezes and dropped connections are
// absorbed: after each, Run waits ReconnectBackoff and starts over with
// a fresh listing. Run returns nil when ctx is canceled.
func (w *Watcher) Run(ctx context.Context, events chan<- Event) error {
	w.logger.Info("watcher starting")

	send := func(ctx context.Context, ev Event) error {
		select {
		case events <- ev:
			w.stats.emitted.Add(1)

			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for {
		err := w.streaming(ctx, send)
		if ctx.Err() != nil {
			w.logger.Info("watcher stopped")

			return nil
		}

		if err != nil {
			w.logger.Error("watcher failed", slog.String("error", err.Error()))

			return err
		}

		if err := w.sleepFunc(ctx, w.opts.ReconnectBackoff); err != nil {
			w.logger.Info("watcher stopped")

			return nil
		}
	}
}

// streaming runs one continuous stream, honoring the freezer: it waits
// while frozen before starting, and stops the stream as soon as a freeze
// is requested. A freeze-triggered stop returns nil.
func (w *Watcher) streaming(ctx context.Context, emit func(context.Context, Event) error) error {
	if w.freeze.IsOn() {
		w.logger.Info("watching is frozen, waiting for thaw")

		if err := w.freeze.WaitForOff(ctx); err != nil {
			return err
		}

		w.logger.Info("watching thawed")
	}

	streamCtx, cancel := context.WithCancel(ctx)

	var (
		frozen atomic.Bool
		wg     sync.WaitGroup
	)

	wg.Add(1)

	go func() {
		defer wg.Done()

		if err := w.freeze.WaitForOn(streamCtx); err != nil {
			return
		}

		frozen.Store(true)
		w.stats.freezes.Add(1)
		w.logger.Info("freeze requested, closing watch stream")
		cancel()
	}()

	defer func() {
		cancel()
		wg.Wait()
	}()

	err := w.continuous(streamCtx, emit)

	if ctx.Err() != nil {
		return ctx.Err()
	}

	if frozen.Load() {
		return nil
	}

	return err
}

// neverFrozen is the Freezer used when none is configured.
type neverFrozen struct{}

func (neverFrozen) IsOn() bool { return false }

func (neverFrozen) WaitForOn(ctx context.Context) error {
	<-ctx.Done()

	return ctx.Err()
}

func (neverFrozen) WaitForOff(context.Context) error { return nil }

// timeSleep waits for the given duration or until the context is canceled.
func timeSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
