// Package history persists fetched usage snapshots to SQLite so runs can be
// compared over time.
package history

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"quotaprobe/internal/dashboard"

	_ "modernc.org/sqlite"
)

// Entry is one recorded fetch result.
type Entry struct {
	ID               int64                    `json:"id"`
	Account          dashboard.AccountID      `json:"account"`
	SignedInIdentity string                   `json:"signed_in_identity,omitempty"`
	RemainingPercent *float64                 `json:"remaining_percent,omitempty"`
	Snapshot         *dashboard.UsageSnapshot `json:"snapshot"`
	FetchedAt        time.Time                `json:"fetched_at"`
}

// Store records usage snapshots in a SQLite database.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// New initializes the database at the given path. ":memory:" is supported for
// tests.
func New(path string) (*Store, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		account TEXT NOT NULL,
		signed_in_identity TEXT,
		remaining_percent REAL,
		snapshot_json TEXT NOT NULL,
		fetched_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_snapshots_account ON snapshots(account);
	CREATE INDEX IF NOT EXISTS idx_snapshots_fetched_at ON snapshots(fetched_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores one fetch result.
func (s *Store) Record(account dashboard.AccountID, snap *dashboard.UsageSnapshot) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	blob, err := json.Marshal(snap)
	if err != nil {
		return 0, fmt.Errorf("marshal snapshot: %w", err)
	}

	var remaining sql.NullFloat64
	if snap.RemainingPercent != nil {
		remaining = sql.NullFloat64{Float64: *snap.RemainingPercent, Valid: true}
	}

	res, err := s.db.Exec(`
		INSERT INTO snapshots (account, signed_in_identity, remaining_percent, snapshot_json, fetched_at)
		VALUES (?, ?, ?, ?, ?)`,
		string(account), snap.SignedInIdentity, remaining, string(blob), snap.UpdatedAt.UTC())
	if err != nil {
		return 0, fmt.Errorf("insert snapshot: %w", err)
	}
	return res.LastInsertId()
}

// List returns the most recent entries for the account, newest first. A limit
// of zero or less means no limit.
func (s *Store) List(account dashboard.AccountID, limit int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		SELECT id, account, signed_in_identity, remaining_percent, snapshot_json, fetched_at
		FROM snapshots WHERE account = ? ORDER BY fetched_at DESC, id DESC`
	args := []interface{}{string(account)}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Latest returns the most recent entry for the account, or sql.ErrNoRows.
func (s *Store) Latest(account dashboard.AccountID) (Entry, error) {
	entries, err := s.List(account, 1)
	if err != nil {
		return Entry{}, err
	}
	if len(entries) == 0 {
		return Entry{}, sql.ErrNoRows
	}
	return entries[0], nil
}

// PruneBefore deletes entries fetched before the cutoff and reports how many
// were removed.
func (s *Store) PruneBefore(cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM snapshots WHERE fetched_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune snapshots: %w", err)
	}
	return res.RowsAffected()
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var (
		entry     Entry
		account   string
		identity  sql.NullString
		remaining sql.NullFloat64
		blob      string
	)
	if err := rows.Scan(&entry.ID, &account, &identity, &remaining, &blob, &entry.FetchedAt); err != nil {
		return Entry{}, fmt.Errorf("scan snapshot: %w", err)
	}
	entry.Account = dashboard.AccountID(account)
	if identity.Valid {
		entry.SignedInIdentity = identity.String
	}
	if remaining.Valid {
		v := remaining.Float64
		entry.RemainingPercent = &v
	}

	var snap dashboard.UsageSnapshot
	if err := json.Unmarshal([]byte(blob), &snap); err != nil {
		return Entry{}, fmt.Errorf("decode snapshot %d: %w", entry.ID, err)
	}
	entry.Snapshot = &snap
	return entry, nil
}
