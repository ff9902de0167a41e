package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/mattn/go-sqlite3"
)

const itemsTable = "client_storage"

// SQLStore persists items in a two-column table. The same statements run on
// Postgres and SQLite; only the placeholder format differs.
type SQLStore struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

func NewPostgresStore(ctx context.Context, db *sql.DB) (*SQLStore, error) {
	return newSQLStore(ctx, db, sq.Dollar)
}

func OpenSQLiteStore(ctx context.Context, path string) (*SQLStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	s, err := NewSQLiteStore(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func NewSQLiteStore(ctx context.Context, db *sql.DB) (*SQLStore, error) {
	return newSQLStore(ctx, db, sq.Question)
}

func newSQLStore(ctx context.Context, db *sql.DB, ph sq.PlaceholderFormat) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	s := &SQLStore{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(ph),
	}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) ensureSchema(ctx context.Context) error {
	const q = `
CREATE TABLE IF NOT EXISTS client_storage (
	item_key TEXT PRIMARY KEY,
	item_value TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`
	if _, err := s.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("ensure client_storage schema: %w", err)
	}
	return nil
}

func (s *SQLStore) GetItem(ctx context.Context, key string) (string, bool, error) {
	q, args, err := s.sb.Select("item_value").From(itemsTable).Where(sq.Eq{"item_key": key}).ToSql()
	if err != nil {
		return "", false, fmt.Errorf("build select: %w", err)
	}

	var v string
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&v); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("query storage item: %w", err)
	}
	return v, true, nil
}

func (s *SQLStore) SetItems(ctx context.Context, items map[string]string) error {
	if err := validateKeys(items); err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, k := range sortedKeys(items) {
		q, args, err := s.sb.Insert(itemsTable).
			Columns("item_key", "item_value").
			Values(k, items[k]).
			Suffix("ON CONFLICT (item_key) DO UPDATE SET item_value = excluded.item_value, updated_at = CURRENT_TIMESTAMP").
			ToSql()
		if err != nil {
			return fmt.Errorf("build upsert: %w", err)
		}
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("upsert storage item: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit storage tx: %w", err)
	}
	return nil
}

func (s *SQLStore) RemoveItems(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	q, args, err := s.sb.Delete(itemsTable).Where(sq.Eq{"item_key": keys}).ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("delete storage items: %w", err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func sortedKeys(items map[string]string) []string {
	keys := make([]string, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
