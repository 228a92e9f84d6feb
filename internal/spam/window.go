package spam

import (
	"time"

	"chatrelay/internal/model"
)

type notification struct {
	Timestamp  time.Time
	UnitAmount int
	GiftType   string
	GiftCount  int
	Platform   model.Platform
}

// window is the per-user ring of recent low-value gifts. Evicted entries are
// skipped by head and compacted once they make up half the slice.
type window struct {
	entries []notification
	head    int
}

func (w *window) Add(n notification) {
	w.entries = append(w.entries, n)
}

// Evict drops entries strictly older than cutoff.
func (w *window) Evict(cutoff time.Time) {
	for w.head < len(w.entries) {
		if !w.entries[w.head].Timestamp.Before(cutoff) {
			break
		}
		w.head++
	}
	if w.head == len(w.entries) {
		w.entries = w.entries[:0]
		w.head = 0
		return
	}
	if w.head > 0 && w.head*2 >= len(w.entries) {
		w.entries = append([]notification{}, w.entries[w.head:]...)
		w.head = 0
	}
}

func (w *window) Len() int {
	return len(w.entries) - w.head
}

func (w *window) Clear() {
	w.entries = nil
	w.head = 0
}

func (w *window) Live() []notification {
	return w.entries[w.head:]
}

// Totals returns the coin value, gift count and first-seen gift types of the
// live entries.
func (w *window) Totals() (coins int, gifts int, types []string) {
	seen := make(map[string]struct{})
	for _, n := range w.Live() {
		coins += n.UnitAmount * n.GiftCount
		gifts += n.GiftCount
		if _, ok := seen[n.GiftType]; !ok {
			seen[n.GiftType] = struct{}{}
			types = append(types, n.GiftType)
		}
	}
	return coins, gifts, types
}
