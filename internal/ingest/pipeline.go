package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"chatrelay/internal/logging"
	"chatrelay/internal/model"
	"chatrelay/internal/normalize"
	"chatrelay/internal/router"
)

type Router interface {
	HandleChat(ctx context.Context, ev model.ChatEvent) router.Result
	HandleGift(ctx context.Context, gift model.Gift) router.Result
}

type Counter interface {
	RecordReceived(platform model.Platform)
	RecordNormalizeError(platform model.Platform)
}

var ErrNotGift = errors.New("payload has no gift details")

// Pipeline normalizes envelopes and hands the result to the router. Run
// processes one envelope at a time.
type Pipeline struct {
	normalizer *normalize.Normalizer
	router     Router
	counter    Counter
	logger     *slog.Logger
}

func NewPipeline(r Router, counter Counter, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		normalizer: normalize.New(nil),
		router:     r,
		counter:    counter,
		logger:     logging.Component(logger, "pipeline"),
	}
}

func (p *Pipeline) Run(ctx context.Context, in <-chan Envelope) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-in:
			if !ok {
				return
			}
			if _, err := p.Dispatch(ctx, env); err != nil && p.logger != nil {
				p.logger.Warn("event dropped", "platform", env.Platform, "source", env.Source, "err", err)
			}
		}
	}
}

// Dispatch routes one envelope. Normalization failures fall back to a minimal
// event when identity and time can be recovered from the payload; otherwise
// the error is returned.
func (p *Pipeline) Dispatch(ctx context.Context, env Envelope) (router.Result, error) {
	platform, ok := model.ParsePlatform(env.Platform)
	if !ok {
		return router.Result{}, &normalize.Error{Kind: normalize.ErrInvalidPlatform, Field: env.Platform}
	}
	if p.counter != nil {
		p.counter.RecordReceived(platform)
	}
	if platform == model.PlatformTikTokGift {
		return p.dispatchGift(ctx, env)
	}

	args, err := payloadArgs(platform, env.Payload)
	if err != nil {
		p.recordError(platform)
		return router.Result{}, err
	}
	ev, err := p.normalizer.Normalize(string(platform), args...)
	if err != nil {
		p.recordError(platform)
		fallback := normalize.RecoverFallback(platform, args, err, p.normalizer.Resolver)
		if fallback == nil {
			return router.Result{}, err
		}
		if p.logger != nil {
			p.logger.Warn("normalization failed, using fallback event", "platform", platform, "source", env.Source, "err", err)
		}
		ev = *fallback
	}
	if ev.Metadata == nil {
		ev.Metadata = map[string]any{}
	}
	if _, ok := ev.Metadata["source"]; !ok && env.Source != "" {
		ev.Metadata["source"] = env.Source
	}
	return p.router.HandleChat(ctx, ev), nil
}

func (p *Pipeline) dispatchGift(ctx context.Context, env Envelope) (router.Result, error) {
	payload, _ := env.Payload.(map[string]any)
	if payload == nil {
		p.recordError(model.PlatformTikTokGift)
		return router.Result{}, &normalize.Error{Kind: normalize.ErrInvalidType, Field: "payload", Platform: model.PlatformTikTokGift}
	}
	gift, ok, err := normalize.ExtractGift(payload, p.normalizer.Resolver)
	if !ok {
		return router.Result{}, ErrNotGift
	}
	if err != nil {
		p.recordError(model.PlatformTikTokGift)
		return router.Result{}, err
	}
	if normalize.GiftStreaking(payload) {
		if p.logger != nil {
			p.logger.Debug("gift streak in progress", "user_id", gift.UserID, "gift_type", gift.GiftType)
		}
		return router.Result{}, nil
	}
	return p.router.HandleGift(ctx, gift), nil
}

func (p *Pipeline) recordError(platform model.Platform) {
	if p.counter != nil {
		p.counter.RecordNormalizeError(platform)
	}
}

// payloadArgs shapes a payload into the argument list Normalize expects for
// platform. Twitch payloads are either {"user","message","context"} or a flat
// IRC tag map carrying "message"; EventSub payloads are translated first.
func payloadArgs(platform model.Platform, payload any) ([]any, error) {
	m, _ := payload.(map[string]any)
	switch platform {
	case model.PlatformTwitchEventSub:
		if m == nil {
			return nil, &normalize.Error{Kind: normalize.ErrInvalidType, Field: "payload", Platform: platform}
		}
		user, message, tags, err := normalize.TranslateEventSub(m)
		if err != nil {
			return nil, err
		}
		return []any{user, message, tags}, nil
	case model.PlatformTwitch:
		if m == nil {
			return nil, &normalize.Error{Kind: normalize.ErrInvalidType, Field: "payload", Platform: platform}
		}
		if _, ok := m["context"]; ok {
			return []any{m["user"], m["message"], m["context"]}, nil
		}
		return []any{m, m["message"], m}, nil
	case model.PlatformYouTube, model.PlatformTikTok:
		return []any{payload}, nil
	}
	return nil, fmt.Errorf("no payload shape for platform %q", platform)
}
