package watching

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/tonimelisma/kubewatch/internal/kube"
)

// rawWatch opens one watch request starting after since and passes every
// decoded line to emit, until the server closes the stream, the client
// timeout fires, ctx is canceled, or the transport fails. None of those
// endings is an error. A 410 response yields errResourceExpired, a
// connection failure yields errDisconnected, and other API errors,
// malformed lines and emit errors are returned as-is.
func (w *Watcher) rawWatch(ctx context.Context, since string, emit func(Event) error) error {
	namespace, err := w.scopedNamespace(ctx)
	if err != nil {
		return err
	}

	if w.opts.ClientTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.opts.ClientTimeout)
		defer cancel()
	}

	q := w.opts.Selectors.Query()
	q.Set("watch", "true")

	if since != "" {
		q.Set("resourceVersion", since)
	}

	if w.opts.ServerTimeout > 0 {
		q.Set("timeoutSeconds", strconv.Itoa(int(w.opts.ServerTimeout/time.Second)))
	}

	resp, err := w.client.Stream(ctx, w.opts.Resource.CollectionPath(namespace), q)
	if err != nil {
		var apiErr *kube.APIError
		if errors.As(err, &apiErr) {
			if errors.Is(err, kube.ErrGone) {
				return errResourceExpired
			}

			return fmt.Errorf("watching: watch %s: %w", w.opts.Resource, err)
		}

		if ctx.Err() != nil {
			return nil
		}

		return fmt.Errorf("%w: %w", errDisconnected, err)
	}

	// Closing the body is the only way to interrupt a blocked read.
	stop := context.AfterFunc(ctx, func() {
		resp.Body.Close()
	})
	defer func() {
		stop()
		resp.Body.Close()
	}()

	lines := newLineReader(resp.Body, w.opts.ChunkSize)

	for {
		line, err := lines.Next()
		if errors.Is(err, io.EOF) {
			w.logger.Debug("watch stream closed by server")

			return nil
		}

		if err != nil {
			if pending := lines.Pending(); pending > 0 {
				w.logger.Debug("discarding partial line",
					slog.Int("bytes", pending),
				)
			}

			w.logger.Debug("watch stream interrupted",
				slog.String("error", err.Error()),
			)

			return nil
		}

		// A stream cut mid-line ends quietly like any other transport fault.
		if lines.Truncated() {
			w.logger.Debug("discarding partial line",
				slog.Int("bytes", len(line)),
			)

			return nil
		}

		ev, err := decodeEvent(line)
		if err != nil {
			return err
		}

		if err := emit(ev); err != nil {
			return err
		}
	}
}

// scopedNamespace returns the namespace to use in request paths: the
// configured one for namespaced resources, "" for cluster-scoped ones.
func (w *Watcher) scopedNamespace(ctx context.Context) (string, error) {
	if w.opts.Namespace == "" || w.scopes == nil {
		return w.opts.Namespace, nil
	}

	namespaced, err := w.scopes.IsNamespaced(ctx, w.opts.Resource)
	if err != nil {
		return "", fmt.Errorf("watching: resolving scope of %s: %w", w.opts.Resource, err)
	}

	if !namespaced {
		return "", nil
	}

	return w.opts.Namespace, nil
}
