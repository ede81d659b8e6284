// Package probecache is a lightweight SQLite ledger of prior probe
// outcomes. Grounded on the teacher's mainDB open/pragma sequence
// (internal/database/db_init.go), scaled down from a multi-database,
// per-group connection pool to one small file. It is never a source of
// truth for a decision: every decision still derives from a live probe in
// the same invocation (spec.md's ADD note on internal/probecache). The
// prober writes per-provider runs and a per-release summary into it, and
// `cmd/completion --dry-run --history` reads the summaries back. It can
// also store and query per-provider loop failures (RecordLoopFailed,
// RecentlyLoopFailed), but the prober calls neither, so a provider pool
// that went loop_failed is dialled again on a later probe.
package probecache

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store wraps the probe-history database.
type Store struct {
	db *sql.DB
}

// Open creates (if absent) and migrates the probe-cache database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_timeout=5000&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("open probecache: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping probecache: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 30000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS probe_runs (
	fingerprint TEXT NOT NULL,
	provider_id TEXT NOT NULL,
	sent        INTEGER NOT NULL,
	missing     INTEGER NOT NULL,
	miss_ratio  REAL NOT NULL,
	ran_at      DATETIME NOT NULL,
	PRIMARY KEY (fingerprint, provider_id)
);
CREATE TABLE IF NOT EXISTS probe_summary (
	fingerprint   TEXT PRIMARY KEY,
	miss_ratio    REAL NOT NULL,
	providers_run INTEGER NOT NULL,
	ran_at        DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS loop_failures (
	fingerprint TEXT NOT NULL,
	provider_id TEXT NOT NULL,
	failed_at   DATETIME NOT NULL,
	PRIMARY KEY (fingerprint, provider_id)
);
`
	_, err := s.db.Exec(schema)
	return err
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// UpsertProbeRun records one provider's contribution to a release probe.
func (s *Store) UpsertProbeRun(fingerprint, providerID string, sent, missing int, ratio float64) error {
	if s == nil {
		return nil
	}
	_, err := s.db.Exec(`
INSERT INTO probe_runs (fingerprint, provider_id, sent, missing, miss_ratio, ran_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(fingerprint, provider_id) DO UPDATE SET
	sent = excluded.sent, missing = excluded.missing, miss_ratio = excluded.miss_ratio, ran_at = excluded.ran_at
`, fingerprint, providerID, sent, missing, ratio, time.Now())
	return err
}

// UpsertSummary records the release-level outcome of a full probe.
func (s *Store) UpsertSummary(fingerprint string, missRatio float64, providersRun int) error {
	if s == nil {
		return nil
	}
	_, err := s.db.Exec(`
INSERT INTO probe_summary (fingerprint, miss_ratio, providers_run, ran_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(fingerprint) DO UPDATE SET
	miss_ratio = excluded.miss_ratio, providers_run = excluded.providers_run, ran_at = excluded.ran_at
`, fingerprint, missRatio, providersRun, time.Now())
	return err
}

// RecordLoopFailed marks that a provider's pool went loop_failed for this
// release fingerprint, for RecentlyLoopFailed to report. The prober does
// not call it.
func (s *Store) RecordLoopFailed(fingerprint, providerID string) error {
	if s == nil {
		return nil
	}
	_, err := s.db.Exec(`
INSERT INTO loop_failures (fingerprint, provider_id, failed_at) VALUES (?, ?, ?)
ON CONFLICT(fingerprint, provider_id) DO UPDATE SET failed_at = excluded.failed_at
`, fingerprint, providerID, time.Now())
	return err
}

// RecentlyLoopFailed reports whether providerID went loop_failed for this
// fingerprint within window.
func (s *Store) RecentlyLoopFailed(fingerprint, providerID string, window time.Duration) (bool, error) {
	if s == nil {
		return false, nil
	}
	var failedAt time.Time
	err := s.db.QueryRow(`
SELECT failed_at FROM loop_failures WHERE fingerprint = ? AND provider_id = ?
`, fingerprint, providerID).Scan(&failedAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return time.Since(failedAt) < window, nil
}

// HistoryEntry is one row of operator-facing probe history.
type HistoryEntry struct {
	Fingerprint  string
	MissRatio    float64
	ProvidersRun int
	RanAt        time.Time
}

// RecentHistory returns the most recent probe summaries, newest first, for
// `cmd/completion --dry-run --history`.
func (s *Store) RecentHistory(limit int) ([]HistoryEntry, error) {
	if s == nil {
		return nil, nil
	}
	rows, err := s.db.Query(`
SELECT fingerprint, miss_ratio, providers_run, ran_at FROM probe_summary ORDER BY ran_at DESC LIMIT ?
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		if err := rows.Scan(&e.Fingerprint, &e.MissRatio, &e.ProvidersRun, &e.RanAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
