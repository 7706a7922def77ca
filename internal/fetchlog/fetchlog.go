// Package fetchlog provides the repository layer over the fetch ledger.
//
// The ledger records when each title was last resolved against upstream, so
// the aging policy survives restarts: a disk-cached payload whose ledger row
// is older than the expiry is treated as a miss.
package fetchlog

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/tedstreete/six-degrees/internal/database"
	"github.com/tedstreete/six-degrees/internal/digest"
)

// MaxAge is the ledger expiry for both resolved and missing fetches.
const MaxAge = 7 * 24 * time.Hour

// Status is the terminal outcome of a fetch as recorded in the ledger.
type Status string

const (
	StatusResolved Status = "resolved"
	StatusMissing  Status = "missing"
)

type Log struct {
	db *database.DB
}

func New(db *database.DB) *Log {
	return &Log{db: db}
}

// Record upserts the terminal outcome of a fetch for a title.
func (l *Log) Record(title string, status Status, fetchedAt time.Time) error {
	d := digest.Sum(title)
	_, err := l.db.Exec(`
		INSERT INTO fetch_log (title, digest, status, fetched_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (title) DO UPDATE SET
			status = excluded.status,
			fetched_at = excluded.fetched_at
	`, title, d.String(), string(status), fetchedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("recording fetch for %q: %w", title, err)
	}
	return nil
}

// FetchedAt returns when a title was last fetched, or ok=false if the title
// has never been through a terminal fetch.
func (l *Log) FetchedAt(title string) (time.Time, bool, error) {
	var raw string
	err := l.db.QueryRow(`SELECT fetched_at FROM fetch_log WHERE title = ?`, title).Scan(&raw)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("querying fetch_log for %q: %w", title, err)
	}

	at, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parsing fetched_at for %q: %w", title, err)
	}
	return at, true, nil
}

// Fresh reports whether a title's last fetch is still inside the aging
// window. Unknown titles are never fresh.
func (l *Log) Fresh(title string, now time.Time) (bool, error) {
	at, ok, err := l.FetchedAt(title)
	if err != nil || !ok {
		return false, err
	}
	return now.Sub(at) <= MaxAge, nil
}

// Stats summarizes the ledger for the management surface.
type Stats struct {
	Resolved    int64
	Missing     int64
	OldestFetch sql.NullString
	NewestFetch sql.NullString
}

// SizeBytes reports the ledger database size on disk.
func (l *Log) SizeBytes() (int64, error) {
	return l.db.Size()
}

func (l *Log) Stats() (*Stats, error) {
	stats := &Stats{}

	err := l.db.QueryRow(`
		SELECT
			(SELECT COUNT(*) FROM fetch_log WHERE status = 'resolved'),
			(SELECT COUNT(*) FROM fetch_log WHERE status = 'missing'),
			(SELECT MIN(fetched_at) FROM fetch_log),
			(SELECT MAX(fetched_at) FROM fetch_log)
	`).Scan(&stats.Resolved, &stats.Missing, &stats.OldestFetch, &stats.NewestFetch)
	if err != nil {
		return nil, fmt.Errorf("querying ledger stats: %w", err)
	}

	return stats, nil
}
