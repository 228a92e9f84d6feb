package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:chatrelay.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &sqliteStore{baseStore{db: db}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	return s.exec(ctx, []string{
		`CREATE TABLE IF NOT EXISTS viewers (
			session_id TEXT NOT NULL,
			platform TEXT NOT NULL,
			user_id TEXT NOT NULL,
			username TEXT NOT NULL,
			first_seen TEXT NOT NULL,
			PRIMARY KEY (session_id, platform, user_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_viewers_first_seen ON viewers(first_seen)`,
	})
}
