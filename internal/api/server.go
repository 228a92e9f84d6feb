// Package api serves the operator HTTP surface: status, queue inspection,
// spam statistics, admin resets and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"chatrelay/internal/config"
	"chatrelay/internal/metrics"
	"chatrelay/internal/model"
	"chatrelay/internal/spam"
)

type DisplayQueue interface {
	Pending() []model.QueueItem
	Clear()
}

type QueueHistory interface {
	List(limit int) []model.QueueItem
	Since(ts time.Time) []model.QueueItem
	Clear()
}

type SpamControl interface {
	Statistics() spam.Statistics
	Reset()
}

type ViewerTracker interface {
	Count() int
	Reset(ctx context.Context) error
}

type ConnectionView interface {
	Snapshot() map[model.Platform]time.Time
}

type CooldownReset interface {
	Reset()
}

// Deps are optional; endpoints backed by a missing dependency report empty
// data.
type Deps struct {
	Metrics   *metrics.Store
	Queue     DisplayQueue
	History   QueueHistory
	Spam      SpamControl
	Tracker   ViewerTracker
	Platforms ConnectionView
	Cooldown  CooldownReset

	// OnConfigUpdate is called after a config change made through the API.
	OnConfigUpdate func(cfg *config.Config)
}

type Server struct {
	cfg     *config.Manager
	deps    Deps
	logger  *slog.Logger
	version string
}

type statusResponse struct {
	Status     string       `json:"status"`
	Time       string       `json:"time"`
	Version    string       `json:"version"`
	ConfigPath string       `json:"config_path"`
	Ingest     ingestStatus `json:"ingest"`
	API        apiStatus    `json:"api"`
	Chat       chatStatus   `json:"chat"`
	Queue      queueStatus  `json:"queue"`
	Viewers    int          `json:"viewers"`
}

type ingestStatus struct {
	REST      bool `json:"rest"`
	FileTail  bool `json:"file_tail"`
	TCPStream bool `json:"tcp_stream"`
	Kafka     bool `json:"kafka"`
	TwitchIRC bool `json:"twitch_irc"`
}

type apiStatus struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

type chatStatus struct {
	MessagesEnabled   bool `json:"messages_enabled"`
	GreetingsEnabled  bool `json:"greetings_enabled"`
	FilterOldMessages bool `json:"filter_old_messages"`
	SpamEnabled       bool `json:"spam_enabled"`
}

type queueStatus struct {
	Pending  int  `json:"pending"`
	Capacity int  `json:"capacity"`
	Webhook  bool `json:"webhook"`
}

func NewServer(cfg *config.Manager, deps Deps, logger *slog.Logger, version string) *Server {
	return &Server{cfg: cfg, deps: deps, logger: logger, version: version}
}

func Start(ctx context.Context, cfg *config.Manager, deps Deps, logger *slog.Logger, version string) *http.Server {
	if cfg == nil {
		return nil
	}
	current := cfg.Get().API
	if !current.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", current.Addr)
	}
	server := NewServer(cfg, deps, logger, version)
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
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/metrics/", s.handlePlatformMetrics)
	mux.HandleFunc("/queue", s.handleQueue)
	mux.HandleFunc("/spam/stats", s.handleSpamStats)
	mux.HandleFunc("/platforms", s.handlePlatforms)
	mux.HandleFunc("/config/ignored_users", s.handleIgnoredUsers)
	mux.HandleFunc("/admin/clear", s.handleClear)
	mux.HandleFunc("/admin/reset", s.handleReset)
	return mux
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cfg := s.cfg.Get()
	resp := statusResponse{
		Status:     "ok",
		Time:       time.Now().UTC().Format(time.RFC3339Nano),
		Version:    s.version,
		ConfigPath: s.cfg.Path(),
		Ingest: ingestStatus{
			REST:      cfg.Ingest.REST.Enabled,
			FileTail:  cfg.Ingest.FileTail.Enabled,
			TCPStream: cfg.Ingest.TCPStream.Enabled,
			Kafka:     cfg.Ingest.Kafka.Enabled,
			TwitchIRC: cfg.Ingest.TwitchIRC.Enabled,
		},
		API: apiStatus{Enabled: cfg.API.Enabled, Addr: cfg.API.Addr},
		Chat: chatStatus{
			MessagesEnabled:   cfg.Chat.MessagesEnabled.Value,
			GreetingsEnabled:  cfg.Chat.GreetingsEnabled.Value,
			FilterOldMessages: cfg.Chat.FilterOldMessages.Value,
			SpamEnabled:       cfg.Spam.Enabled.Value,
		},
		Queue: queueStatus{Capacity: cfg.Queue.Capacity, Webhook: cfg.Queue.Webhook.Enabled},
	}
	if s.deps.Queue != nil {
		resp.Queue.Pending = len(s.deps.Queue.Pending())
	}
	if s.deps.Tracker != nil {
		resp.Viewers = s.deps.Tracker.Count()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleMetrics serves the Prometheus exposition; ?format=json returns the
// per-platform snapshot instead.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Metrics == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if r.URL.Query().Get("format") == "json" {
		all := s.deps.Metrics.GetAll()
		writeJSON(w, http.StatusOK, map[string]any{
			"metrics": all,
			"count":   len(all),
		})
		return
	}
	s.deps.Metrics.Handler().ServeHTTP(w, r)
}

func (s *Server) handlePlatformMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	platform, ok := model.ParsePlatform(strings.TrimPrefix(r.URL.Path, "/metrics/"))
	if !ok || s.deps.Metrics == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	counters, ok := s.deps.Metrics.Get(platform)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"platform":   platform,
		"updated_at": counters.UpdatedAt.Format(time.RFC3339Nano),
		"metrics":    counters,
	})
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	pending := []model.QueueItem{}
	if s.deps.Queue != nil {
		pending = s.deps.Queue.Pending()
	}
	history := []model.QueueItem{}
	if s.deps.History != nil {
		if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
			ts, err := time.Parse(time.RFC3339, sinceStr)
			if err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			history = s.deps.History.Since(ts)
		} else {
			history = s.deps.History.List(limit)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pending": pending,
		"history": history,
		"count":   len(pending),
	})
}

func (s *Server) handleSpamStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Spam == nil {
		writeJSON(w, http.StatusOK, spam.Statistics{})
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Spam.Statistics())
}

func (s *Server) handlePlatforms(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cfg := s.cfg.Get()
	var connected map[model.Platform]time.Time
	if s.deps.Platforms != nil {
		connected = s.deps.Platforms.Snapshot()
	}
	out := make(map[model.Platform]map[string]any, 3)
	for _, p := range []model.Platform{model.PlatformTwitch, model.PlatformYouTube, model.PlatformTikTok} {
		entry := map[string]any{
			"messages_enabled":  cfg.MessagesEnabled(p),
			"greetings_enabled": cfg.GreetingsEnabled(p),
			"connected":         false,
		}
		if t, ok := connected[p]; ok && !t.IsZero() {
			entry["connected"] = true
			entry["connected_at"] = t.UTC().Format(time.RFC3339Nano)
		}
		out[p] = entry
	}
	writeJSON(w, http.StatusOK, map[string]any{"platforms": out})
}

func (s *Server) handleIgnoredUsers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		cfg := s.cfg.Get()
		writeJSON(w, http.StatusOK, map[string]any{
			"ignored_users": cfg.Chat.IgnoredUsers,
		})
		return
	case http.MethodPost:
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var req struct {
			IgnoredUsers []string `json:"ignored_users"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		current := s.cfg.Get()
		next := *current
		next.Chat.IgnoredUsers = sanitizeNames(req.IgnoredUsers)
		if err := s.cfg.Update(&next); err != nil {
			if s.logger != nil {
				s.logger.Error("config update failed", "err", err)
			}
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if s.deps.OnConfigUpdate != nil {
			s.deps.OnConfigUpdate(&next)
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "ignored_users": next.Chat.IgnoredUsers})
		return
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, _ := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	var req struct {
		Target string `json:"target"`
	}
	_ = json.Unmarshal(body, &req)
	target := strings.ToLower(strings.TrimSpace(req.Target))
	if target == "" {
		target = "all"
	}
	switch target {
	case "all":
		s.clearQueue()
		s.clearHistory()
		s.clearMetrics()
	case "queue":
		s.clearQueue()
	case "history":
		s.clearHistory()
	case "metrics":
		s.clearMetrics()
	default:
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "target": target})
}

// handleReset starts a fresh session: spam state, cooldowns, first-message
// registry, pending queue and metrics snapshot are all cleared.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Spam != nil {
		s.deps.Spam.Reset()
	}
	if s.deps.Cooldown != nil {
		s.deps.Cooldown.Reset()
	}
	if s.deps.Tracker != nil {
		if err := s.deps.Tracker.Reset(r.Context()); err != nil {
			if s.logger != nil {
				s.logger.Error("viewer reset failed", "err", err)
			}
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
	}
	s.clearQueue()
	s.clearMetrics()
	if s.logger != nil {
		s.logger.Info("session reset")
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) clearQueue() {
	if s.deps.Queue != nil {
		s.deps.Queue.Clear()
	}
}

func (s *Server) clearHistory() {
	if s.deps.History != nil {
		s.deps.History.Clear()
	}
}

func (s *Server) clearMetrics() {
	if s.deps.Metrics != nil {
		s.deps.Metrics.Clear()
	}
}

func sanitizeNames(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		key := strings.ToLower(v)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, v)
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
