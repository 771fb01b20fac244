package toggle

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileToggle is a Toggle driven by a marker file: on while the marker
// exists and has not expired. Refresh re-reads the marker; Watch calls it
// whenever the marker's directory changes, and a timer calls it when a
// timed marker expires.
type FileToggle struct {
	*Toggle

	path   string
	logger *slog.Logger

	mu     sync.Mutex
	marker Marker
	timer  *time.Timer

	nowFunc func() time.Time
}

// NewFileToggle creates a FileToggle for path and reads the marker once.
// An unreadable marker is logged and treated as absent.
func NewFileToggle(path string, logger *slog.Logger) *FileToggle {
	if logger == nil {
		logger = slog.Default()
	}

	f := &FileToggle{
		Toggle:  New(false),
		path:    filepath.Clean(path),
		logger:  logger,
		nowFunc: time.Now,
	}

	if err := f.Refresh(); err != nil {
		logger.Warn("ignoring unreadable freeze marker", slog.String("error", err.Error()))
	}

	return f
}

// Path returns the marker path.
func (f *FileToggle) Path() string {
	return f.path
}

// Marker returns the marker as last read.
func (f *FileToggle) Marker() Marker {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.marker
}

// Refresh re-reads the marker and updates the state. Concurrent calls
// are serialized so the last read is the one applied.
func (f *FileToggle) Refresh() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	m, err := ReadMarker(f.path)
	if err != nil {
		return err
	}

	f.marker = m

	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}

	now := f.nowFunc()
	active := m.Active(now)

	if active && !m.Until.IsZero() {
		f.timer = time.AfterFunc(m.Until.Sub(now), func() {
			if err := f.Refresh(); err != nil {
				f.logger.Warn("re-reading freeze marker", slog.String("error", err.Error()))
			}
		})
	}

	if f.Set(active) {
		attrs := []any{slog.String("path", f.path), slog.Bool("frozen", active)}
		if active && !m.Until.IsZero() {
			attrs = append(attrs, slog.Time("until", m.Until))
		}

		f.logger.Info("freeze state changed", attrs...)
	}

	return nil
}

// Watch follows changes to the marker until ctx is canceled. The
// marker's directory is created if missing so it can be watched.
func (f *FileToggle) Watch(ctx context.Context) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("toggle: creating marker directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("toggle: creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("toggle: watching %s: %w", dir, err)
	}

	defer f.stopTimer()

	// The marker may have changed before the watch was registered.
	if err := f.Refresh(); err != nil {
		f.logger.Warn("re-reading freeze marker", slog.String("error", err.Error()))
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if filepath.Clean(ev.Name) != f.path || ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) {
				continue
			}

			if err := f.Refresh(); err != nil {
				f.logger.Warn("re-reading freeze marker", slog.String("error", err.Error()))
			}

		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			f.logger.Warn("freeze marker watcher error", slog.String("error", watchErr.Error()))
		}
	}
}

func (f *FileToggle) stopTimer() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
}
