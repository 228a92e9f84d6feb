package ingest

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"chatrelay/internal/config"
	"chatrelay/internal/logging"
	"chatrelay/internal/model"
)

type RESTServer struct {
	cfg     *config.Manager
	out     chan<- Envelope
	logger  *slog.Logger
	limiter *clientLimiter
}

func NewRESTServer(cfg *config.Manager, out chan<- Envelope, logger *slog.Logger) *RESTServer {
	rest := cfg.Get().Ingest.REST
	return &RESTServer{
		cfg:     cfg,
		out:     out,
		logger:  logging.Component(logger, "rest"),
		limiter: newClientLimiter(rest.RateLimit, rest.Burst),
	}
}

func StartREST(ctx context.Context, cfg *config.Manager, out chan<- Envelope, logger *slog.Logger) *http.Server {
	current := cfg.Get().Ingest.REST
	if !current.Enabled {
		if logger != nil {
			logger.Info("rest ingest disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("rest ingest enabled", "addr", current.Addr, "rate_limit", current.RateLimit)
	}
	server := NewRESTServer(cfg, out, logger)
	httpServer := &http.Server{Addr: current.Addr, Handler: server.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("rest ingest server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *RESTServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /events", s.limit(s.handleEnvelopes))
	mux.HandleFunc("POST /events/{platform}", s.limit(s.handlePlatform))
	mux.HandleFunc("POST /gifts/tiktok", s.limit(s.handleTikTokGifts))
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}

func (s *RESTServer) limit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow(clientIP(r)) {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}

// handleEnvelopes accepts {"platform","payload"} objects, singly or as an
// array.
func (s *RESTServer) handleEnvelopes(w http.ResponseWriter, r *http.Request) {
	items, ok := s.readPayloads(w, r)
	if !ok {
		return
	}
	accepted, failed := 0, 0
	for _, item := range items {
		raw, err := json.Marshal(item)
		if err != nil {
			failed++
			continue
		}
		env, err := DecodeEnvelope(raw)
		if err != nil {
			if s.logger != nil {
				s.logger.Warn("rest envelope rejected", "err", err)
			}
			failed++
			continue
		}
		env.Source = "rest"
		if SendNonBlocking(r.Context(), s.out, env, s.logger) {
			accepted++
		} else {
			failed++
		}
	}
	writeCounts(w, accepted, failed)
}

func (s *RESTServer) handlePlatform(w http.ResponseWriter, r *http.Request) {
	platform, ok := model.ParsePlatform(r.PathValue("platform"))
	if !ok {
		http.Error(w, "unsupported platform", http.StatusNotFound)
		return
	}
	s.accept(w, r, platform)
}

func (s *RESTServer) handleTikTokGifts(w http.ResponseWriter, r *http.Request) {
	s.accept(w, r, model.PlatformTikTokGift)
}

func (s *RESTServer) accept(w http.ResponseWriter, r *http.Request, platform model.Platform) {
	items, ok := s.readPayloads(w, r)
	if !ok {
		return
	}
	accepted, failed := 0, 0
	for _, item := range items {
		env := Envelope{Platform: string(platform), Payload: item, Source: "rest"}
		if SendNonBlocking(r.Context(), s.out, env, s.logger) {
			accepted++
		} else {
			failed++
		}
	}
	writeCounts(w, accepted, failed)
}

func (s *RESTServer) readPayloads(w http.ResponseWriter, r *http.Request) ([]any, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 2<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return nil, false
	}
	items, err := decodePayloads(body)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("rest body rejected", "err", err)
		}
		w.WriteHeader(http.StatusBadRequest)
		return nil, false
	}
	return items, true
}

func writeCounts(w http.ResponseWriter, accepted, failed int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]int{
		"accepted": accepted,
		"failed":   failed,
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// clientLimiter keeps one token bucket per client address. Buckets idle for
// longer than idleTTL are dropped on the next Allow.
type clientLimiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	clients   map[string]*clientBucket
	lastSweep time.Time
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const idleTTL = 10 * time.Minute

func newClientLimiter(perSecond float64, burst int) *clientLimiter {
	if perSecond <= 0 {
		return &clientLimiter{limit: rate.Inf}
	}
	if burst <= 0 {
		burst = 1
	}
	return &clientLimiter{limit: rate.Limit(perSecond), burst: burst, clients: make(map[string]*clientBucket)}
}

func (l *clientLimiter) Allow(client string) bool {
	if l.limit == rate.Inf {
		return true
	}
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	if now.Sub(l.lastSweep) > idleTTL {
		for k, b := range l.clients {
			if now.Sub(b.lastSeen) > idleTTL {
				delete(l.clients, k)
			}
		}
		l.lastSweep = now
	}
	b, ok := l.clients[client]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[client] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}
