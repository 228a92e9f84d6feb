package ingest

import (
	"context"
	"log/slog"
	"strings"
	"time"

	twitchirc "github.com/gempir/go-twitch-irc/v4"

	"chatrelay/internal/config"
	"chatrelay/internal/logging"
	"chatrelay/internal/model"
)

// ConnectionTracker records when a platform connection came up so the router
// can drop backlog replayed on join.
type ConnectionTracker interface {
	MarkConnected(platform model.Platform, at time.Time)
	MarkDisconnected(platform model.Platform)
}

type TwitchIRC struct {
	client   *twitchirc.Client
	channels []string
	out      chan<- Envelope
	tracker  ConnectionTracker
	logger   *slog.Logger
}

func NewTwitchIRC(cfg config.TwitchIRCConfig, out chan<- Envelope, tracker ConnectionTracker, logger *slog.Logger) *TwitchIRC {
	var client *twitchirc.Client
	if cfg.OAuthToken == "" {
		client = twitchirc.NewAnonymousClient()
	} else {
		token := cfg.OAuthToken
		if !strings.HasPrefix(token, "oauth:") {
			token = "oauth:" + token
		}
		client = twitchirc.NewClient(cfg.Username, token)
	}
	t := &TwitchIRC{
		client:   client,
		channels: cfg.Channels,
		out:      out,
		tracker:  tracker,
		logger:   logger,
	}
	client.OnConnect(func() {
		if t.tracker != nil {
			t.tracker.MarkConnected(model.PlatformTwitch, time.Now())
		}
		if t.logger != nil {
			t.logger.Info("twitch irc connected", "channels", t.channels)
		}
	})
	client.OnPrivateMessage(func(m twitchirc.PrivateMessage) {
		SendNonBlocking(context.Background(), t.out, twitchEnvelope(m), t.logger)
	})
	client.OnReconnectMessage(func(twitchirc.ReconnectMessage) {
		if t.logger != nil {
			t.logger.Warn("twitch irc reconnect requested")
		}
	})
	for _, ch := range cfg.Channels {
		ch = strings.TrimPrefix(strings.TrimSpace(ch), "#")
		if ch != "" {
			client.Join(ch)
		}
	}
	return t
}

// Run connects and blocks until ctx is cancelled or the connection fails.
func (t *TwitchIRC) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- t.client.Connect()
	}()
	select {
	case <-ctx.Done():
		t.client.Disconnect()
		<-errCh
		t.markDisconnected()
		return ctx.Err()
	case err := <-errCh:
		t.markDisconnected()
		return err
	}
}

func (t *TwitchIRC) markDisconnected() {
	if t.tracker != nil {
		t.tracker.MarkDisconnected(model.PlatformTwitch)
	}
}

// StartTwitchIRC runs the IRC adapter with reconnect backoff until ctx ends.
func StartTwitchIRC(ctx context.Context, cfg *config.Manager, out chan<- Envelope, tracker ConnectionTracker, logger *slog.Logger) {
	current := cfg.Get().Ingest.TwitchIRC
	if !current.Enabled {
		if logger != nil {
			logger.Info("twitch irc ingest disabled")
		}
		return
	}
	logger = logging.Component(logger, "twitch_irc")
	go func() {
		backoff := time.Second
		for {
			err := NewTwitchIRC(current, out, tracker, logger).Run(ctx)
			if ctx.Err() != nil {
				return
			}
			if logger != nil {
				logger.Warn("twitch irc disconnected", "err", err, "retry_in", backoff)
			}
			if !BackoffSleep(ctx, backoff) {
				return
			}
			backoff = min(backoff*2, time.Minute)
		}
	}()
}

// twitchEnvelope rebuilds the (user, message, context) triple from the parsed
// IRC message. Tags are passed through untouched so the normalizer sees the
// same shape as a raw IRC client would produce.
func twitchEnvelope(m twitchirc.PrivateMessage) Envelope {
	tags := make(map[string]any, len(m.Tags)+3)
	for k, v := range m.Tags {
		tags[k] = v
	}
	if m.ID != "" {
		tags["messageId"] = m.ID
	}
	if _, ok := tags["tmi-sent-ts"]; !ok && !m.Time.IsZero() {
		tags["tmi-sent-ts"] = m.Time.UnixMilli()
	}
	tags["source"] = "irc"

	badges := make(map[string]any, len(m.User.Badges))
	for k, v := range m.User.Badges {
		badges[k] = v
	}
	user := map[string]any{
		"user-id":      m.User.ID,
		"username":     m.User.Name,
		"display-name": m.User.DisplayName,
		"badges":       badges,
	}
	return Envelope{
		Platform:   string(model.PlatformTwitch),
		Payload:    map[string]any{"user": user, "message": m.Message, "context": tags},
		Source:     "irc",
		ReceivedAt: time.Now(),
	}
}
