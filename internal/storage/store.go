// Package storage persists the per-session viewer registry that keeps
// first-message greetings one-shot across restarts.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"chatrelay/internal/config"
	"chatrelay/internal/model"
)

type Store interface {
	Init(ctx context.Context) error
	Close() error
	// MarkViewerSeen records the viewer for the session and reports whether
	// this was the first sighting.
	MarkViewerSeen(ctx context.Context, session string, platform model.Platform, userID, username string, at time.Time) (bool, error)
	CountViewers(ctx context.Context, session string) (int, error)
	ResetSession(ctx context.Context, session string) error
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, errors.New("unsupported storage driver")
	}
}

type baseStore struct {
	db *sql.DB
	// bind rewrites ? placeholders for drivers that use numbered ones.
	bind func(string) string
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func (b *baseStore) query(q string) string {
	if b.bind == nil {
		return q
	}
	return b.bind(q)
}

func (b *baseStore) MarkViewerSeen(ctx context.Context, session string, platform model.Platform, userID, username string, at time.Time) (bool, error) {
	if b.db == nil || userID == "" {
		return false, nil
	}
	res, err := b.db.ExecContext(ctx, b.query(
		`INSERT INTO viewers (session_id, platform, user_id, username, first_seen)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (session_id, platform, user_id) DO NOTHING`),
		session,
		string(platform.Base()),
		userID,
		username,
		at.UTC(),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (b *baseStore) CountViewers(ctx context.Context, session string) (int, error) {
	if b.db == nil {
		return 0, nil
	}
	var n int
	err := b.db.QueryRowContext(ctx, b.query(`SELECT COUNT(*) FROM viewers WHERE session_id = ?`), session).Scan(&n)
	return n, err
}

func (b *baseStore) ResetSession(ctx context.Context, session string) error {
	if b.db == nil {
		return nil
	}
	_, err := b.db.ExecContext(ctx, b.query(`DELETE FROM viewers WHERE session_id = ?`), session)
	return err
}

func (b *baseStore) exec(ctx context.Context, stmts []string) error {
	if b.db == nil {
		return nil
	}
	for _, stmt := range stmts {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
