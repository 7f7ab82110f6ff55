package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"homedash/internal/model"
	"homedash/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// :memory: databases are per-connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if err := migrations.Run(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db, now: time.Now}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) stamp() string {
	return s.now().UTC().Format(timeLayout)
}

// Get returns the value stored under key, or ErrNotFound.
func (s *SQLite) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get %s: %w", key, err)
	}
	return value, nil
}

// Put stores value under key, replacing any previous value.
func (s *SQLite) Put(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, s.stamp(),
	)
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *SQLite) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// AddIDs inserts ids into the named set. Existing members keep their original timestamp.
func (s *SQLite) AddIDs(ctx context.Context, set string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.stamp()
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO id_sets (set_name, item_id, added_at) VALUES (?, ?, ?)`,
			set, id, now,
		); err != nil {
			return fmt.Errorf("add %s to %s: %w", id, set, err)
		}
	}
	return tx.Commit()
}

// RemoveIDs deletes ids from the named set.
func (s *SQLite) RemoveIDs(ctx context.Context, set string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM id_sets WHERE set_name = ? AND item_id = ?`, set, id,
		); err != nil {
			return fmt.Errorf("remove %s from %s: %w", id, set, err)
		}
	}
	return tx.Commit()
}

// ClearIDs empties the named set.
func (s *SQLite) ClearIDs(ctx context.Context, set string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM id_sets WHERE set_name = ?`, set); err != nil {
		return fmt.Errorf("clear %s: %w", set, err)
	}
	return nil
}

// IDs returns every member of the named set.
func (s *SQLite) IDs(ctx context.Context, set string) (model.IDSet, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT item_id FROM id_sets WHERE set_name = ?`, set)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", set, err)
	}
	defer func() { _ = rows.Close() }()

	ids := model.IDSet{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan %s: %w", set, err)
		}
		ids.Add(id)
	}
	return ids, rows.Err()
}

// PruneIDs removes members of the named set added before the given time.
func (s *SQLite) PruneIDs(ctx context.Context, set string, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM id_sets WHERE set_name = ? AND datetime(added_at) < datetime(?)`,
		set, before.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("prune %s: %w", set, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}
