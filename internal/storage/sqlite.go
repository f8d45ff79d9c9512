package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/qepting91/skeet-sweeper/internal/domain"
	_ "modernc.org/sqlite"
)

// schemaVersion is the latest schema version supported by migrate.
const schemaVersion = 1

// SQLiteStore keeps resume cursors in a SQLite database
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (or creates) the database at path and migrates it.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open resume db: %w", err)
	}
	// One run writes at a time.
	db.SetMaxOpenConns(1)
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY);`)
	if err != nil {
		return fmt.Errorf("migrate: create schema_migrations: %w", err)
	}

	var current int
	err = db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations;`).Scan(&current)
	if err != nil {
		return fmt.Errorf("migrate: read current version: %w", err)
	}
	if current >= schemaVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("migrate: begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS resume_cursors (
			collection TEXT PRIMARY KEY,
			cursor     TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`); err != nil {
		return fmt.Errorf("migrate: create resume_cursors: %w", err)
	}
	if _, err := tx.Exec(`INSERT INTO schema_migrations (version) VALUES (?);`, schemaVersion); err != nil {
		return fmt.Errorf("migrate: record version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("migrate: commit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context) (domain.ResumeState, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT collection, cursor FROM resume_cursors;`)
	if err != nil {
		return nil, fmt.Errorf("load cursors: query: %w", err)
	}
	defer rows.Close()

	state := domain.ResumeState{}
	for rows.Next() {
		var collection, cursor string
		if err := rows.Scan(&collection, &cursor); err != nil {
			return nil, fmt.Errorf("load cursors: scan: %w", err)
		}
		if cursor != "" {
			state[domain.Collection(collection)] = cursor
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load cursors: %w", err)
	}
	return state, nil
}

func (s *SQLiteStore) Save(ctx context.Context, collection domain.Collection, cursor string) error {
	if cursor == "" {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM resume_cursors WHERE collection = ?;`, string(collection)); err != nil {
			return fmt.Errorf("save cursor: delete: %w", err)
		}
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO resume_cursors (collection, cursor, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(collection) DO UPDATE SET cursor = excluded.cursor, updated_at = excluded.updated_at;`,
		string(collection), cursor, now)
	if err != nil {
		return fmt.Errorf("save cursor: upsert: %w", err)
	}
	return nil
}
