package storage

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/chatrelay?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db, bind: numberedPlaceholders}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	return s.exec(ctx, []string{
		`CREATE TABLE IF NOT EXISTS viewers (
			session_id TEXT NOT NULL,
			platform TEXT NOT NULL,
			user_id TEXT NOT NULL,
			username TEXT NOT NULL,
			first_seen TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (session_id, platform, user_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_viewers_first_seen ON viewers(first_seen)`,
	})
}

// numberedPlaceholders turns ? into $1, $2, ... in order.
func numberedPlaceholders(q string) string {
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
