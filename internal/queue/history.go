package queue

import (
	"sync"
	"time"

	"chatrelay/internal/model"
)

// History keeps the most recent items that left the queue.
type History struct {
	mu    sync.RWMutex
	buf   []model.QueueItem
	limit int
}

func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = 500
	}
	return &History{limit: limit}
}

func (h *History) Add(item model.QueueItem) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.buf) < h.limit {
		h.buf = append(h.buf, item)
		return
	}
	copy(h.buf, h.buf[1:])
	h.buf[len(h.buf)-1] = item
}

// List returns up to limit of the newest items, oldest first.
func (h *History) List(limit int) []model.QueueItem {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if limit <= 0 || limit > len(h.buf) {
		limit = len(h.buf)
	}
	out := make([]model.QueueItem, 0, limit)
	for i := len(h.buf) - limit; i < len(h.buf); i++ {
		out = append(out, h.buf[i])
	}
	return out
}

func (h *History) Since(ts time.Time) []model.QueueItem {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]model.QueueItem, 0)
	for _, it := range h.buf {
		if !it.EnqueuedAt.Before(ts) {
			out = append(out, it)
		}
	}
	return out
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.buf)
}

func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buf = nil
}
