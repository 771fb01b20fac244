package toggle

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Marker is the decoded content of a freeze marker file. A present
// marker with a zero Until freezes indefinitely.
type Marker struct {
	Present bool
	Until   time.Time
}

// Active reports whether the marker freezes at the given instant.
func (m Marker) Active(now time.Time) bool {
	if !m.Present {
		return false
	}

	return m.Until.IsZero() || now.Before(m.Until)
}

// ReadMarker reads the marker at path. A missing file is an absent
// marker, not an error.
func ReadMarker(path string) (Marker, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Marker{}, nil
	}

	if err != nil {
		return Marker{}, fmt.Errorf("toggle: reading marker: %w", err)
	}

	content := strings.TrimSpace(string(data))
	if content == "" {
		return Marker{Present: true}, nil
	}

	until, err := time.Parse(time.RFC3339, content)
	if err != nil {
		return Marker{}, fmt.Errorf("toggle: marker %s: invalid expiry %q: %w", path, content, err)
	}

	return Marker{Present: true, Until: until}, nil
}

// WriteMarker atomically creates or replaces the marker. A zero until
// freezes indefinitely.
func WriteMarker(path string, until time.Time) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("toggle: creating marker directory: %w", err)
	}

	content := ""
	if !until.IsZero() {
		content = until.UTC().Format(time.RFC3339) + "\n"
	}

	tmp, err := os.CreateTemp(dir, ".freeze-*.tmp")
	if err != nil {
		return fmt.Errorf("toggle: creating temp marker: %w", err)
	}

	tmpPath := tmp.Name()

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpPath)

		return fmt.Errorf("toggle: writing marker: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)

		return fmt.Errorf("toggle: closing marker: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)

		return fmt.Errorf("toggle: installing marker: %w", err)
	}

	return nil
}

// RemoveMarker deletes the marker. It reports whether a marker existed.
func RemoveMarker(path string) (bool, error) {
	err := os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("toggle: removing marker: %w", err)
	}

	return true, nil
}
