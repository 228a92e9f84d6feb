// Package metrics counts pipeline activity per platform, both as an in-memory
// snapshot for the status API and as Prometheus collectors.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chatrelay/internal/model"
)

type PlatformCounters struct {
	Received        int64            `json:"received"`
	NormalizeErrors int64            `json:"normalizeErrors"`
	Enqueued        map[string]int64 `json:"enqueued"`
	Skipped         map[string]int64 `json:"skipped"`
	GiftsSuppressed int64            `json:"giftsSuppressed"`
	UpdatedAt       time.Time        `json:"updatedAt"`
}

type Store struct {
	mu         sync.RWMutex
	byPlatform map[model.Platform]*PlatformCounters

	registry        *prometheus.Registry
	received        *prometheus.CounterVec
	normalizeErrors *prometheus.CounterVec
	enqueued        *prometheus.CounterVec
	skipped         *prometheus.CounterVec
	suppressed      *prometheus.CounterVec
	routeDuration   *prometheus.HistogramVec
	queueDepth      prometheus.Gauge
}

func NewStore() *Store {
	s := &Store{
		byPlatform: make(map[model.Platform]*PlatformCounters),
		registry:   prometheus.NewRegistry(),
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatrelay_events_received_total", Help: "Raw platform events received",
		}, []string{"platform"}),
		normalizeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatrelay_normalize_errors_total", Help: "Raw events rejected by the normalizer",
		}, []string{"platform"}),
		enqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatrelay_items_enqueued_total", Help: "Items handed to the display queue",
		}, []string{"platform", "type"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatrelay_chat_skipped_total", Help: "Chat events skipped by the router",
		}, []string{"platform", "reason"}),
		suppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatrelay_gifts_suppressed_total", Help: "Gifts folded into an aggregate",
		}, []string{"platform"}),
		routeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "chatrelay_route_duration_seconds", Help: "Time spent routing one chat event", Buckets: prometheus.DefBuckets,
		}, []string{"platform"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chatrelay_queue_depth", Help: "Items waiting in the display queue",
		}),
	}
	s.registry.MustRegister(s.received, s.normalizeErrors, s.enqueued, s.skipped, s.suppressed, s.routeDuration, s.queueDepth)
	return s
}

func (s *Store) counters(platform model.Platform) *PlatformCounters {
	c, ok := s.byPlatform[platform]
	if !ok {
		c = &PlatformCounters{Enqueued: make(map[string]int64), Skipped: make(map[string]int64)}
		s.byPlatform[platform] = c
	}
	c.UpdatedAt = time.Now().UTC()
	return c
}

func (s *Store) RecordReceived(platform model.Platform) {
	if s == nil {
		return
	}
	s.received.WithLabelValues(string(platform)).Inc()
	s.mu.Lock()
	s.counters(platform).Received++
	s.mu.Unlock()
}

func (s *Store) RecordNormalizeError(platform model.Platform) {
	if s == nil {
		return
	}
	s.normalizeErrors.WithLabelValues(string(platform)).Inc()
	s.mu.Lock()
	s.counters(platform).NormalizeErrors++
	s.mu.Unlock()
}

func (s *Store) RecordEnqueued(platform model.Platform, itemType model.ItemType) {
	if s == nil {
		return
	}
	s.enqueued.WithLabelValues(string(platform), string(itemType)).Inc()
	s.mu.Lock()
	s.counters(platform).Enqueued[string(itemType)]++
	s.mu.Unlock()
}

func (s *Store) RecordSkipped(platform model.Platform, reason string) {
	if s == nil {
		return
	}
	s.skipped.WithLabelValues(string(platform), reason).Inc()
	s.mu.Lock()
	s.counters(platform).Skipped[reason]++
	s.mu.Unlock()
}

func (s *Store) RecordSuppressed(platform model.Platform) {
	if s == nil {
		return
	}
	s.suppressed.WithLabelValues(string(platform)).Inc()
	s.mu.Lock()
	s.counters(platform).GiftsSuppressed++
	s.mu.Unlock()
}

func (s *Store) ObserveRoute(platform model.Platform, d time.Duration) {
	if s == nil {
		return
	}
	s.routeDuration.WithLabelValues(string(platform)).Observe(d.Seconds())
}

func (s *Store) SetQueueDepth(n int) {
	if s == nil {
		return
	}
	s.queueDepth.Set(float64(n))
}

// Get returns a copy of the counters for platform.
func (s *Store) Get(platform model.Platform) (PlatformCounters, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byPlatform[platform]
	if !ok {
		return PlatformCounters{}, false
	}
	return c.clone(), true
}

func (s *Store) GetAll() map[model.Platform]PlatformCounters {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[model.Platform]PlatformCounters, len(s.byPlatform))
	for p, c := range s.byPlatform {
		out[p] = c.clone()
	}
	return out
}

func (c *PlatformCounters) clone() PlatformCounters {
	out := *c
	out.Enqueued = make(map[string]int64, len(c.Enqueued))
	for k, v := range c.Enqueued {
		out.Enqueued[k] = v
	}
	out.Skipped = make(map[string]int64, len(c.Skipped))
	for k, v := range c.Skipped {
		out.Skipped[k] = v
	}
	return out
}

// Clear resets the in-memory snapshot. Prometheus counters are monotonic and
// keep their values.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byPlatform = make(map[model.Platform]*PlatformCounters)
}

func (s *Store) Registry() *prometheus.Registry {
	return s.registry
}

func (s *Store) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}
