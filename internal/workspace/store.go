package workspace

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Record is one persisted clone entry. The index survives restarts so
// clones on disk can be re-adopted instead of re-cloned.
type Record struct {
	Key          string
	FullName     string
	Ref          string
	Path         string
	CreatedAt    time.Time
	LastSyncedAt time.Time
}

// Store is the sqlite-backed workspace index.
type Store struct {
	db *sql.DB
}

// OpenStore opens (creating if needed) the index database at path.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("workspace.OpenStore: %w", err)
	}
	s := &Store{db: db}
	if err := s.init(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("workspace.OpenStore: %w", err)
	}
	return s, nil
}

func (s *Store) init(ctx context.Context) error {
	ddl := []string{
		`PRAGMA journal_mode=WAL;`,
		`CREATE TABLE IF NOT EXISTS workspaces (
			key TEXT PRIMARY KEY,
			full_name TEXT NOT NULL,
			ref TEXT NOT NULL,
			path TEXT NOT NULL,
			created_at TEXT NOT NULL,
			last_synced_at TEXT NOT NULL
		);`,
	}
	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Put(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO workspaces (key, full_name, ref, path, created_at, last_synced_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.Key,
		rec.FullName,
		rec.Ref,
		rec.Path,
		rec.CreatedAt.UTC().Format(time.RFC3339),
		rec.LastSyncedAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM workspaces WHERE key = ?`, key)
	return err
}

func (s *Store) TouchSynced(ctx context.Context, key string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE workspaces SET last_synced_at = ? WHERE key = ?`,
		at.UTC().Format(time.RFC3339),
		key,
	)
	return err
}

func (s *Store) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, full_name, ref, path, created_at, last_synced_at
		FROM workspaces ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var createdAt, syncedAt string
		if err := rows.Scan(&rec.Key, &rec.FullName, &rec.Ref, &rec.Path, &createdAt, &syncedAt); err != nil {
			return nil, err
		}
		rec.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		rec.LastSyncedAt, _ = time.Parse(time.RFC3339, syncedAt)
		records = append(records, rec)
	}
	return records, rows.Err()
}
