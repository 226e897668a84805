package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vitos/funding_board/internal/domain"
	"go.uber.org/multierr"
)

// FilterConfigKey is the single settings row holding the filter blob.
const FilterConfigKey = "funding-filter-config"

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, multierr.Append(err, db.Close())
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME NOT NULL
		);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// FilterRepository Implementation

func (s *SQLiteStore) LoadFilterConfig(ctx context.Context) (*domain.FilterConfig, error) {
	row := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, FilterConfigKey)

	var blob string
	if err := row.Scan(&blob); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	var cfg domain.FilterConfig
	if err := json.Unmarshal([]byte(blob), &cfg); err != nil {
		return nil, fmt.Errorf("decode stored filter config: %w", err)
	}
	return &cfg, nil
}

func (s *SQLiteStore) SaveFilterConfig(ctx context.Context, cfg domain.FilterConfig) error {
	blob, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	query := `INSERT INTO settings (key, value, updated_at)
			  VALUES (?, ?, ?)
			  ON CONFLICT(key) DO UPDATE SET
			  value=excluded.value,
			  updated_at=excluded.updated_at`
	_, err = s.db.ExecContext(ctx, query, FilterConfigKey, string(blob), time.Now().UTC())
	return err
}
