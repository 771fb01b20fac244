// Package journal keeps a local SQLite record of delivered watch events
// so they can be inspected after the fact with "kubewatch history".
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"

	"github.com/tonimelisma/kubewatch/internal/watching"
)

// DefaultLimit caps Recent when the query sets no limit.
const DefaultLimit = 50

const (
	sqlInsertEvent = `INSERT INTO events
		(recorded_at, resource, event_type, namespace, name, resource_version, object)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	sqlPrune = `DELETE FROM events WHERE recorded_at < ?`

	sqlSummary = `SELECT COUNT(*), COALESCE(MIN(recorded_at), 0), COALESCE(MAX(recorded_at), 0)
		FROM events`
)

// Entry is one recorded event.
type Entry struct {
	ID              int64           `json:"id"`
	RecordedAt      time.Time       `json:"recorded_at"`
	Resource        string          `json:"resource"`
	Type            string          `json:"type"`
	Namespace       string          `json:"namespace,omitempty"`
	Name            string          `json:"name,omitempty"`
	ResourceVersion string          `json:"resource_version,omitempty"`
	Object          json.RawMessage `json:"object"`
}

// Query filters Recent. Zero values match everything.
type Query struct {
	Resource string
	Since    time.Time
	Limit    int
}

// Summary describes the journal contents.
type Summary struct {
	Entries int64
	Oldest  time.Time
	Newest  time.Time
}

// Journal is the event store. Writes are serialized through a single
// connection.
type Journal struct {
	db      *sql.DB
	path    string
	logger  *slog.Logger
	nowFunc func() time.Time
}

// Open opens (creating if needed) the journal database at path and
// applies pending migrations.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Journal, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("journal: creating directory for %s: %w", path, err)
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"+
			"&_pragma=busy_timeout(5000)",
		path,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("journal: opening database %s: %w", path, err)
	}

	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("journal opened", slog.String("path", path))

	return &Journal{
		db:      db,
		path:    path,
		logger:  logger,
		nowFunc: time.Now,
	}, nil
}

// Path returns the database file path.
func (j *Journal) Path() string {
	return j.path
}

// Close releases the database.
func (j *Journal) Close() error {
	if err := j.db.Close(); err != nil {
		return fmt.Errorf("journal: closing: %w", err)
	}

	return nil
}

// Record stores one event delivered for resource. Objects whose metadata
// cannot be decoded are still stored, without name or version.
func (j *Journal) Record(ctx context.Context, resource string, ev watching.Event) error {
	meta, err := ev.Metadata()
	if err != nil {
		j.logger.Debug("journal: recording event without metadata",
			slog.String("resource", resource),
			slog.String("error", err.Error()),
		)
	}

	object := []byte(ev.Object)
	if object == nil {
		object = []byte("null")
	}

	_, err = j.db.ExecContext(ctx, sqlInsertEvent,
		j.nowFunc().UnixNano(), resource, ev.Type.String(),
		meta.Namespace, meta.Name, meta.ResourceVersion, object,
	)
	if err != nil {
		return fmt.Errorf("journal: recording %s event: %w", ev.Type, err)
	}

	return nil
}

// Recent returns matching entries, newest first.
func (j *Journal) Recent(ctx context.Context, q Query) ([]Entry, error) {
	var (
		conds []string
		args  []any
	)

	if q.Resource != "" {
		conds = append(conds, "resource = ?")
		args = append(args, q.Resource)
	}

	if !q.Since.IsZero() {
		conds = append(conds, "recorded_at >= ?")
		args = append(args, q.Since.UnixNano())
	}

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	var sb strings.Builder
	sb.WriteString(`SELECT id, recorded_at, resource, event_type, namespace, name,
		resource_version, object FROM events`)

	if len(conds) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(conds, " AND "))
	}

	sb.WriteString(" ORDER BY id DESC LIMIT ?")

	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("journal: querying events: %w", err)
	}
	defer rows.Close()

	var entries []Entry

	for rows.Next() {
		var (
			e          Entry
			recordedAt int64
			object     []byte
		)

		if err := rows.Scan(&e.ID, &recordedAt, &e.Resource, &e.Type, &e.Namespace,
			&e.Name, &e.ResourceVersion, &object); err != nil {
			return nil, fmt.Errorf("journal: scanning event row: %w", err)
		}

		e.RecordedAt = time.Unix(0, recordedAt)
		e.Object = json.RawMessage(object)
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: iterating event rows: %w", err)
	}

	return entries, nil
}

// Prune deletes entries recorded before cutoff and reports how many went.
func (j *Journal) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx, sqlPrune, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("journal: pruning events: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("journal: pruning events: %w", err)
	}

	if n > 0 {
		j.logger.Info("pruned journal", slog.Int64("entries", n), slog.Time("cutoff", cutoff))
	}

	return n, nil
}

// Summarize reports the entry count and the time span covered.
func (j *Journal) Summarize(ctx context.Context) (Summary, error) {
	var (
		s              Summary
		oldest, newest int64
	)

	if err := j.db.QueryRowContext(ctx, sqlSummary).Scan(&s.Entries, &oldest, &newest); err != nil {
		return Summary{}, fmt.Errorf("journal: summarizing: %w", err)
	}

	if s.Entries > 0 {
		s.Oldest = time.Unix(0, oldest)
		s.Newest = time.Unix(0, newest)
	}

	return s, nil
}

// KeepPruned prunes entries older than retention every interval until
// ctx is done. A zero retention keeps everything and returns at once.
func (j *Journal) KeepPruned(ctx context.Context, retention, interval time.Duration) error {
	if retention <= 0 {
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := j.Prune(ctx, j.nowFunc().Add(-retention)); err != nil {
			if ctx.Err() != nil {
				return nil
			}

			j.logger.Warn("journal prune failed", slog.String("error", err.Error()))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
