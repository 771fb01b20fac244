// Package toggle provides two-state signals that goroutines can block
// on, and a file-backed variant used as the watch freeze switch.
package toggle

import (
	"context"
	"sync"
)

// Toggle is a boolean that can be waited on. The zero value is off and
// ready to use.
type Toggle struct {
	mu      sync.Mutex
	on      bool
	changed chan struct{} // closed and replaced on every change
}

// New returns a Toggle in the given state.
func New(on bool) *Toggle {
	return &Toggle{on: on}
}

// Set changes the state and wakes all waiters. It reports whether the
// state actually changed.
func (t *Toggle) Set(on bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.on == on {
		return false
	}

	t.on = on

	if t.changed != nil {
		close(t.changed)
		t.changed = nil
	}

	return true
}

// IsOn reports the current state.
func (t *Toggle) IsOn() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.on
}

// WaitForOn blocks until the toggle is on or ctx is done.
func (t *Toggle) WaitForOn(ctx context.Context) error {
	return t.waitFor(ctx, true)
}

// WaitForOff blocks until the toggle is off or ctx is done.
func (t *Toggle) WaitForOff(ctx context.Context) error {
	return t.waitFor(ctx, false)
}

func (t *Toggle) waitFor(ctx context.Context, want bool) error {
	for {
		t.mu.Lock()
		if t.on == want {
			t.mu.Unlock()
			return nil
		}

		if t.changed == nil {
			t.changed = make(chan struct{})
		}

		ch := t.changed
		t.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
