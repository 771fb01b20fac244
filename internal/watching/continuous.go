package watching

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
)

// stream carries the resource-version checkpoint across the raw watch
// calls of one continuous stream.
type stream struct {
	w               *Watcher
	resourceVersion string
}

// continuous lists the collection, emits every item as a synthetic event
// and then watches from the listing's resource version, reconnecting
// after each raw call ends. It returns nil when a relist is required or
// the connection could not be established, and an error for fatal
// conditions.
func (w *Watcher) continuous(ctx context.Context, emit func(context.Context, Event) error) error {
	namespace, err := w.scopedNamespace(ctx)
	if err != nil {
		return err
	}

	items, resourceVersion, err := w.client.List(ctx, w.opts.Resource, namespace, w.opts.Selectors)
	if err != nil {
		return fmt.Errorf("watching: listing %s: %w", w.opts.Resource, err)
	}

	for _, item := range items {
		w.stats.synthetic.Add(1)

		if err := emit(ctx, Event{Type: EventSynthetic, Object: item}); err != nil {
			return err
		}
	}

	s := &stream{w: w, resourceVersion: resourceVersion}

	for ctx.Err() == nil {
		err := w.rawWatch(ctx, s.resourceVersion, func(ev Event) error {
			return s.handle(ctx, ev, emit)
		})

		switch {
		case errors.Is(err, errResourceExpired):
			w.stats.relists.Add(1)
			w.logger.Info("resource version expired, relisting",
				slog.String("resource_version", s.resourceVersion),
			)

			return nil
		case errors.Is(err, errDisconnected):
			w.logger.Warn("watch connection failed",
				slog.String("error", err.Error()),
			)

			return nil
		case err != nil:
			return err
		}

		w.stats.reconnects.Add(1)
		w.logger.Debug("watch call ended, reconnecting",
			slog.String("resource_version", s.resourceVersion),
		)
	}

	return nil
}

// handle applies one wire event: data events advance the checkpoint and
// are emitted, ERROR events end the stream, anything else is skipped.
func (s *stream) handle(ctx context.Context, ev Event, emit func(context.Context, Event) error) error {
	switch ev.Type {
	case EventAdded, EventModified, EventDeleted:
		if rv := ev.resourceVersion(); rv != "" {
			s.resourceVersion = rv
		}

		return emit(ctx, ev)
	case EventError:
		werr := newWatchError(ev.Object)
		if werr.Status != nil && werr.Status.Code == http.StatusGone {
			return errResourceExpired
		}

		return werr
	default:
		s.w.stats.skipped.Add(1)
		s.w.logger.Warn("ignoring unsupported watch event",
			slog.String("type", string(ev.Type)),
		)

		return nil
	}
}
