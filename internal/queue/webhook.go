package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"chatrelay/internal/config"
	"chatrelay/internal/logging"
	"chatrelay/internal/model"
)

// WebhookSink posts items as JSON to an overlay endpoint. Consecutive failures
// open the breaker and further items are rejected until OpenTimeout passes.
type WebhookSink struct {
	url    string
	client *http.Client
	cb     *gobreaker.CircuitBreaker[struct{}]
	logger *slog.Logger
}

func NewWebhookSink(cfg config.WebhookConfig, logger *slog.Logger) *WebhookSink {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	s := &WebhookSink{
		url:    cfg.URL,
		client: &http.Client{Timeout: timeout},
		logger: logging.Component(logger, "webhook"),
	}
	s.cb = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "display-webhook",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if s.logger != nil {
				s.logger.Warn("webhook breaker state change", "name", name, "from", from.String(), "to", to.String())
			}
		},
	})
	return s
}

func (s *WebhookSink) Deliver(ctx context.Context, item model.QueueItem) error {
	body, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode item: %w", err)
	}
	_, err = s.cb.Execute(func() (struct{}, error) {
		return struct{}{}, s.post(ctx, body)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("webhook unavailable: %w", err)
	}
	return err
}

func (s *WebhookSink) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}

// State is the breaker state name, for status output.
func (s *WebhookSink) State() string {
	return s.cb.State().String()
}
