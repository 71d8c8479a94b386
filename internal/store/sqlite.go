package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/timetalks/internal/domain"
	"github.com/ashureev/timetalks/internal/shared"
	_ "modernc.org/sqlite"
)

const memoryDSN = ":memory:"

var _ CharacterRepository = (*SQLiteStore)(nil)

// SQLiteStore implements CharacterRepository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	dsn := dbPath
	if dbPath != memoryDSN {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// The catalog is read once at startup; a single connection also keeps
	// ":memory:" databases alive across queries.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS characters (
		position INTEGER NOT NULL,
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		period TEXT NOT NULL DEFAULT '',
		field TEXT NOT NULL DEFAULT '',
		avatar TEXT NOT NULL DEFAULT '',
		theme TEXT NOT NULL DEFAULT '',
		updated_at INTEGER NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_characters_position ON characters(position);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ListCharacters returns all characters ordered by catalog position.
func (s *SQLiteStore) ListCharacters(ctx context.Context) ([]domain.Character, error) {
	query := `
		SELECT id, name, description, period, field, avatar, theme
		FROM characters ORDER BY position`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query characters: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close character rows", "error", closeErr)
		}
	}()

	var characters []domain.Character
	for rows.Next() {
		var c domain.Character
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.Period, &c.Field, &c.Avatar, &c.Theme); err != nil {
			return nil, fmt.Errorf("scan character row: %w", err)
		}
		characters = append(characters, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate characters: %w", err)
	}

	return characters, nil
}

// CountCharacters returns the number of stored characters.
func (s *SQLiteStore) CountCharacters(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM characters`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count characters: %w", err)
	}
	return n, nil
}

// ReplaceCharacters replaces the stored catalog in a single transaction.
// Retries with exponential backoff on SQLITE_BUSY.
func (s *SQLiteStore) ReplaceCharacters(ctx context.Context, characters []domain.Character) error {
	err := shared.RetryOnConflict(ctx, "replace_characters", 3, 100*time.Millisecond, func() error {
		return s.replaceCharactersOnce(ctx, characters)
	})
	if err != nil {
		return fmt.Errorf("replace characters: %w", err)
	}
	return nil
}

func (s *SQLiteStore) replaceCharactersOnce(ctx context.Context, characters []domain.Character) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			slog.Warn("failed to roll back character replace", "error", rbErr)
		}
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM characters`); err != nil {
		return fmt.Errorf("clear characters: %w", err)
	}

	query := `
	INSERT INTO characters (position, id, name, description, period, field, avatar, theme, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	now := time.Now().Unix()
	for i, c := range characters {
		if _, err := tx.ExecContext(ctx, query,
			i, c.ID, c.Name, c.Description, c.Period, c.Field, c.Avatar, c.Theme, now,
		); err != nil {
			return fmt.Errorf("insert character %d: %w", c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
