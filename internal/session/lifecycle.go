package session

import (
	"sync"
	"time"

	"chatrelay/internal/model"
)

// Lifecycle records when each platform adapter last connected.
type Lifecycle struct {
	mu        sync.RWMutex
	connected map[model.Platform]time.Time
}

func NewLifecycle() *Lifecycle {
	return &Lifecycle{connected: make(map[model.Platform]time.Time)}
}

func (l *Lifecycle) MarkConnected(platform model.Platform, at time.Time) {
	l.mu.Lock()
	l.connected[platform.Base()] = at.UTC()
	l.mu.Unlock()
}

func (l *Lifecycle) MarkDisconnected(platform model.Platform) {
	l.mu.Lock()
	delete(l.connected, platform.Base())
	l.mu.Unlock()
}

func (l *Lifecycle) GetPlatformConnectionTime(platform model.Platform) (time.Time, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	t, ok := l.connected[platform.Base()]
	return t, ok
}

func (l *Lifecycle) Snapshot() map[model.Platform]time.Time {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[model.Platform]time.Time, len(l.connected))
	for k, v := range l.connected {
		out[k] = v
	}
	return out
}
