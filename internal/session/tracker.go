// Package session holds per-stream state the router consults: which viewers
// have spoken, when each platform connected, and the graceful exit counter.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"chatrelay/internal/logging"
	"chatrelay/internal/model"
	"chatrelay/internal/storage"
)

// Tracker answers whether a viewer is speaking for the first time this
// session. The in-memory set is authoritative when no store is configured or
// the store fails.
type Tracker struct {
	mu      sync.Mutex
	seen    map[string]struct{}
	store   storage.Store
	session string
	logger  *slog.Logger
	now     func() time.Time
}

func NewTracker(store storage.Store, sessionID string, logger *slog.Logger) *Tracker {
	return &Tracker{
		seen:    make(map[string]struct{}),
		store:   store,
		session: sessionID,
		logger:  logging.Component(logger, "tracker"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (t *Tracker) IsFirstMessage(ctx context.Context, platform model.Platform, userID, username string) bool {
	if userID == "" {
		return false
	}
	key := string(platform.Base()) + "|" + userID
	t.mu.Lock()
	_, known := t.seen[key]
	t.seen[key] = struct{}{}
	t.mu.Unlock()
	if known {
		return false
	}
	if t.store == nil {
		return true
	}
	first, err := t.store.MarkViewerSeen(ctx, t.session, platform, userID, username, t.now())
	if err != nil {
		if t.logger != nil {
			t.logger.Warn("viewer registry unavailable", "platform", platform, "user_id", userID, "err", err)
		}
		return true
	}
	return first
}

func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.seen)
}

// Reset forgets every viewer, including the persisted registry for the
// session.
func (t *Tracker) Reset(ctx context.Context) error {
	t.mu.Lock()
	t.seen = make(map[string]struct{})
	t.mu.Unlock()
	if t.store == nil {
		return nil
	}
	return t.store.ResetSession(ctx, t.session)
}
