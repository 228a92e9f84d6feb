// Package queue holds routed items until a display sink consumes them.
// Lower priority values leave first; equal priorities keep arrival order.
package queue

import (
	"container/heap"
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"chatrelay/internal/logging"
	"chatrelay/internal/model"
)

var ErrFull = errors.New("display queue full")

// Sink displays one item. Deliver errors are logged by Run and the item is
// dropped.
type Sink interface {
	Deliver(ctx context.Context, item model.QueueItem) error
}

// DepthRecorder receives the pending count after every change.
type DepthRecorder interface {
	SetQueueDepth(n int)
}

type entry struct {
	item model.QueueItem
	seq  uint64
}

type itemHeap []entry

func (h itemHeap) Len() int      { return len(h) }
func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *itemHeap) Push(x any)   { *h = append(*h, x.(entry)) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].item.Priority != h[j].item.Priority {
		return h[i].item.Priority < h[j].item.Priority
	}
	return h[i].seq < h[j].seq
}

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

type Queue struct {
	mu       sync.Mutex
	items    itemHeap
	seq      uint64
	capacity int
	ready    chan struct{}
	history  *History
	depth    DepthRecorder
	logger   *slog.Logger
}

type Options struct {
	Capacity int
	History  *History
	Depth    DepthRecorder
	Logger   *slog.Logger
}

func New(opts Options) *Queue {
	capacity := opts.Capacity
	if capacity <= 0 {
		capacity = 1000
	}
	return &Queue{
		capacity: capacity,
		ready:    make(chan struct{}, 1),
		history:  opts.History,
		depth:    opts.Depth,
		logger:   logging.Component(opts.Logger, "queue"),
	}
}

// AddItem assigns an id when the item has none and queues it.
func (q *Queue) AddItem(ctx context.Context, item model.QueueItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	q.mu.Lock()
	if len(q.items) >= q.capacity {
		q.mu.Unlock()
		return ErrFull
	}
	q.seq++
	heap.Push(&q.items, entry{item: item, seq: q.seq})
	n := len(q.items)
	q.mu.Unlock()

	q.reportDepth(n)
	select {
	case q.ready <- struct{}{}:
	default:
	}
	return nil
}

// Pop removes the next item to display.
func (q *Queue) Pop() (model.QueueItem, bool) {
	q.mu.Lock()
	if len(q.items) == 0 {
		q.mu.Unlock()
		return model.QueueItem{}, false
	}
	e := heap.Pop(&q.items).(entry)
	n := len(q.items)
	q.mu.Unlock()

	q.reportDepth(n)
	if q.history != nil {
		q.history.Add(e.item)
	}
	return e.item, true
}

// Pending returns a snapshot in display order.
func (q *Queue) Pending() []model.QueueItem {
	q.mu.Lock()
	cp := make(itemHeap, len(q.items))
	copy(cp, q.items)
	q.mu.Unlock()

	out := make([]model.QueueItem, 0, len(cp))
	for cp.Len() > 0 {
		out = append(out, heap.Pop(&cp).(entry).item)
	}
	return out
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) Clear() {
	q.mu.Lock()
	q.items = nil
	q.mu.Unlock()
	q.reportDepth(0)
}

func (q *Queue) History() *History {
	return q.history
}

// Run hands items to sink in display order until ctx is done.
func (q *Queue) Run(ctx context.Context, sink Sink) {
	for {
		for {
			item, ok := q.Pop()
			if !ok {
				break
			}
			if err := sink.Deliver(ctx, item); err != nil && q.logger != nil {
				q.logger.Error("deliver failed", "id", item.ID, "type", item.Type, "platform", item.Platform, "err", err)
			}
			if ctx.Err() != nil {
				return
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-q.ready:
		}
	}
}

func (q *Queue) reportDepth(n int) {
	if q.depth != nil {
		q.depth.SetQueueDepth(n)
	}
}

// LogSink writes each item to the log. It is the default when no webhook is
// configured.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Deliver(_ context.Context, item model.QueueItem) error {
	if s.Logger != nil {
		s.Logger.Info("display",
			"id", item.ID,
			"type", item.Type,
			"platform", item.Platform,
			"priority", item.Priority,
			"skip_tts", item.SkipChatTTS,
		)
	}
	return nil
}
