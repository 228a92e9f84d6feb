package session

import (
	"sync"
	"sync/atomic"
)

// GracefulExit ends the session after a fixed number of chat messages.
type GracefulExit struct {
	enabled   bool
	threshold int64
	count     atomic.Int64
	once      sync.Once
	onExit    func()
}

func NewGracefulExit(enabled bool, threshold int, onExit func()) *GracefulExit {
	return &GracefulExit{enabled: enabled && threshold > 0, threshold: int64(threshold), onExit: onExit}
}

func (g *GracefulExit) IsEnabled() bool {
	return g != nil && g.enabled
}

// IncrementMessageCount counts one message and reports whether the threshold
// has been reached.
func (g *GracefulExit) IncrementMessageCount() bool {
	if !g.IsEnabled() {
		return false
	}
	return g.count.Add(1) >= g.threshold
}

func (g *GracefulExit) Count() int64 {
	return g.count.Load()
}

// TriggerExit runs the exit callback once.
func (g *GracefulExit) TriggerExit() {
	g.once.Do(func() {
		if g.onExit != nil {
			g.onExit()
		}
	})
}
