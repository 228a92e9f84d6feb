// Package router decides what a normalized chat event turns into on the
// display queue: a chat line, a first-message greeting, a command effect, or
// nothing.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"chatrelay/internal/clock"
	"chatrelay/internal/config"
	"chatrelay/internal/logging"
	"chatrelay/internal/model"
	"chatrelay/internal/normalize"
)

// Skip reasons reported in logs, metrics and Result.SkipReason.
const (
	ReasonMessagesDisabled = "messages disabled"
	ReasonEmptyMessage     = "empty message"
	ReasonEmptySanitized   = "empty after sanitization"
	ReasonOldMessage       = "old message"
	ReasonDuplicate        = "duplicate message"
	ReasonIgnoredUser      = "ignored user"
	ReasonGracefulExit     = "graceful exit"
)

// Dependencies are all optional. A missing collaborator disables the feature
// it backs.
type Dependencies struct {
	Logger       *slog.Logger
	Clock        clock.Clock
	Queue        DisplayQueue
	VFX          VFXCommandService
	Parser       CommandParser
	Cooldown     CommandCooldownService
	Tracker      UserTracker
	Lifecycle    PlatformLifecycle
	Monetization MonetizationDetector
	GracefulExit GracefulExit
	Spam         GiftAggregator
	Dedupe       Deduper
	Ignore       IgnoreList
	Metrics      Recorder
}

type Router struct {
	deps   Dependencies
	logger *slog.Logger
	clock  clock.Clock
	cfg    atomic.Value
}

// Result lists the items that reached the queue for one event, in order.
type Result struct {
	Items      []model.QueueItem
	SkipReason string
}

func (r Result) Types() []model.ItemType {
	out := make([]model.ItemType, 0, len(r.Items))
	for _, it := range r.Items {
		out = append(out, it.Type)
	}
	return out
}

func New(cfg *config.Config, deps Dependencies) *Router {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	r := &Router{deps: deps, logger: logging.Component(deps.Logger, "router"), clock: clk}
	r.cfg.Store(cfg)
	return r
}

func (r *Router) UpdateConfig(cfg *config.Config) {
	r.cfg.Store(cfg)
}

func (r *Router) config() *config.Config {
	if v := r.cfg.Load(); v != nil {
		return v.(*config.Config)
	}
	return config.DefaultConfig()
}

// HandleChat routes one chat event. Collaborator failures are logged and never
// abort the remaining steps; the enqueue order is chat, greeting, command.
func (r *Router) HandleChat(ctx context.Context, ev model.ChatEvent) Result {
	cfg := r.config()
	start := r.clock.Now()
	defer func() {
		if r.deps.Metrics != nil {
			r.deps.Metrics.ObserveRoute(ev.Platform, r.clock.Now().Sub(start))
		}
	}()

	if res := normalize.Validate(ev); !res.IsValid && r.logger != nil {
		r.logger.Warn("chat event failed validation",
			"platform", ev.Platform,
			"user_id", ev.UserID,
			"errors", res.Errors,
		)
	}

	if r.deps.GracefulExit != nil {
		exit := false
		r.guard("graceful exit", ev, func() {
			if r.deps.GracefulExit.IsEnabled() && r.deps.GracefulExit.IncrementMessageCount() {
				exit = true
				r.deps.GracefulExit.TriggerExit()
			}
		})
		if exit {
			if r.logger != nil {
				r.logger.Info("graceful exit triggered", "platform", ev.Platform)
			}
			return Result{SkipReason: ReasonGracefulExit}
		}
	}

	if r.deps.Ignore != nil && r.deps.Ignore.IsIgnored(ev.Platform, ev.UserID, ev.Username) {
		return r.skip(ev, ReasonIgnoredUser, "")
	}
	if r.deps.Dedupe != nil {
		if id, _ := ev.Metadata["messageId"].(string); id != "" && r.deps.Dedupe.Seen(string(ev.Platform.Base())+"|"+id, start) {
			return r.skip(ev, ReasonDuplicate, "")
		}
	}

	if !cfg.MessagesEnabled(ev.Platform) {
		return r.skip(ev, ReasonMessagesDisabled, ev.Message)
	}
	if strings.TrimSpace(ev.Message) == "" {
		return r.skip(ev, ReasonEmptyMessage, ev.Message)
	}
	message := Sanitize(ev.Message)
	if message == "" {
		return r.skip(ev, ReasonEmptySanitized, ev.Message)
	}

	if cfg.Chat.FilterOldMessages.Value && r.isOld(ev) {
		if r.deps.Metrics != nil {
			r.deps.Metrics.RecordSkipped(ev.Platform, ReasonOldMessage)
		}
		if r.logger != nil {
			r.logger.Debug("chat skipped", "reason", ReasonOldMessage, "platform", ev.Platform, "timestamp", ev.Timestamp)
		}
		return Result{SkipReason: ReasonOldMessage}
	}

	var result Result

	skipTTS := false
	if cfg.TTS.DeduplicationEnabled.Value && r.deps.Monetization != nil {
		r.guard("monetization", ev, func() {
			res, err := r.deps.Monetization.DetectMonetization(message)
			if err != nil {
				r.logError("monetization detection failed", ev, err)
				return
			}
			skipTTS = res.Detected
		})
	}

	chat := model.QueueItem{
		Type:        model.ItemChat,
		Platform:    ev.Platform,
		Priority:    model.PriorityChat,
		Data:        chatData(ev, message),
		SkipChatTTS: skipTTS,
	}
	r.enqueue(ctx, ev, chat, &result)
	if r.logger != nil {
		r.logger.Info("chat routed",
			"platform", ev.Platform,
			"user", ev.Username,
			"message", logging.Truncate(message, cfg.Chat.MaxMessageLength.Value),
			"skip_tts", skipTTS,
		)
	}

	r.greet(ctx, cfg, ev, &result)
	r.dispatchCommand(ctx, ev, message, &result)
	return result
}

func (r *Router) skip(ev model.ChatEvent, reason, message string) Result {
	if r.deps.Metrics != nil {
		r.deps.Metrics.RecordSkipped(ev.Platform, reason)
	}
	if r.logger != nil {
		r.logger.Info("chat skipped",
			"reason", reason,
			"platform", ev.Platform,
			"user_id", ev.UserID,
			"message", logging.Truncate(message, r.config().Chat.MaxMessageLength.Value),
		)
	}
	return Result{SkipReason: reason}
}

// isOld reports whether ev predates the platform's current connection.
// Unparseable timestamps are never old.
func (r *Router) isOld(ev model.ChatEvent) bool {
	if r.deps.Lifecycle == nil {
		return false
	}
	connected, ok := r.deps.Lifecycle.GetPlatformConnectionTime(ev.Platform)
	if !ok || connected.IsZero() {
		return false
	}
	ts, err := normalize.ParseTimestamp(ev.Timestamp)
	if err != nil {
		return false
	}
	return ts.Before(connected)
}

func (r *Router) greet(ctx context.Context, cfg *config.Config, ev model.ChatEvent, result *Result) {
	if r.deps.Tracker == nil {
		return
	}
	first := false
	r.guard("user tracker", ev, func() {
		first = r.deps.Tracker.IsFirstMessage(ctx, ev.Platform, ev.UserID, ev.Username)
	})
	if !first || !cfg.GreetingsEnabled(ev.Platform) || !cfg.MessagesEnabled(ev.Platform) {
		return
	}
	var vfx *model.CommandConfig
	if r.deps.VFX != nil {
		r.guard("greeting vfx", ev, func() {
			c, err := r.deps.VFX.GetVFXConfig(ctx, "greetings", map[string]any{
				"userId":   ev.UserID,
				"username": ev.Username,
				"platform": string(ev.Platform),
			})
			if err != nil {
				r.logError("greeting vfx lookup failed", ev, err)
				return
			}
			vfx = c
		})
	}
	r.enqueue(ctx, ev, model.QueueItem{
		Type:     model.ItemGreeting,
		Platform: ev.Platform,
		Priority: model.PriorityGreeting,
		Data: map[string]any{
			"userId":   ev.UserID,
			"username": ev.Username,
		},
		VFXConfig: vfx,
	}, result)
}

func (r *Router) dispatchCommand(ctx context.Context, ev model.ChatEvent, message string, result *Result) {
	fields := strings.Fields(message)
	if len(fields) == 0 {
		return
	}
	token := fields[0]

	var resolved *model.CommandConfig
	switch {
	case r.deps.VFX != nil:
		r.guard("vfx selector", ev, func() {
			c, err := r.deps.VFX.SelectVFXCommand(ctx, token, message)
			if err != nil {
				r.logError("vfx command selection failed", ev, err)
				return
			}
			resolved = c
		})
	case r.deps.Parser != nil:
		r.guard("command parser", ev, func() {
			resolved = r.deps.Parser.Lookup(strings.ToLower(token), token)
		})
	}
	if resolved == nil {
		return
	}

	key := resolved.Command
	if key == "" {
		key = strings.ToLower(token)
	}
	if r.deps.Cooldown != nil {
		now := r.clock.Now()
		user := cooldownKey(ev)
		allowed := false
		r.guard("command cooldown", ev, func() {
			if !r.deps.Cooldown.CheckUserCooldown(user, key, now) {
				r.logCooldown(ev, key, "user")
				return
			}
			if !r.deps.Cooldown.CheckGlobalCooldown(key, now) {
				r.logCooldown(ev, key, "global")
				return
			}
			r.deps.Cooldown.UpdateUserCooldown(user, now)
			r.deps.Cooldown.UpdateGlobalCooldown(key, now)
			allowed = true
		})
		if !allowed {
			return
		}
	}

	vfx := *resolved
	vfx.TriggerWord = token
	r.enqueue(ctx, ev, model.QueueItem{
		Type:     model.ItemCommand,
		Platform: ev.Platform,
		Priority: model.PriorityCommand,
		Data: map[string]any{
			"userId":   ev.UserID,
			"username": ev.Username,
			"command":  key,
			"message":  message,
		},
		VFXConfig: &vfx,
	}, result)
}

// cooldownKey scopes per-user cooldowns to the platform so equal IDs on
// different platforms do not share a cooldown.
func cooldownKey(ev model.ChatEvent) string {
	return string(ev.Platform.Base()) + "|" + ev.UserID
}

func (r *Router) logCooldown(ev model.ChatEvent, command, scope string) {
	if r.logger != nil {
		r.logger.Warn("command on cooldown",
			"scope", scope,
			"user", ev.Username,
			"user_id", ev.UserID,
			"command", command,
		)
	}
}

// HandleGift runs a gift through the spam detector and enqueues it when it
// should be shown individually.
func (r *Router) HandleGift(ctx context.Context, gift model.Gift) Result {
	show := true
	if r.deps.Spam != nil {
		ev := model.ChatEvent{Platform: gift.Platform, UserID: gift.UserID, Username: gift.Username}
		r.guard("spam detector", ev, func() {
			show = r.deps.Spam.Handle(gift.UserID, gift.Username, gift.UnitAmount, gift.GiftType, gift.GiftCount, gift.Platform).ShouldShow
		})
	}
	if !show {
		if r.deps.Metrics != nil {
			r.deps.Metrics.RecordSuppressed(gift.Platform)
		}
		return Result{}
	}
	var result Result
	r.enqueue(ctx, model.ChatEvent{Platform: gift.Platform, UserID: gift.UserID}, model.QueueItem{
		Type:     model.ItemGift,
		Platform: gift.Platform,
		Priority: model.PriorityGift,
		Data: map[string]any{
			"userId":     gift.UserID,
			"username":   gift.Username,
			"giftType":   gift.GiftType,
			"giftCount":  gift.GiftCount,
			"unitAmount": gift.UnitAmount,
			"coinValue":  gift.UnitAmount * gift.GiftCount,
			"groupId":    gift.GroupID,
			"timestamp":  gift.Timestamp,
			"aggregated": false,
		},
	}, &result)
	return result
}

// EnqueueAggregated is the spam detector's flush callback.
func (r *Router) EnqueueAggregated(summary model.DonationSummary) {
	var result Result
	r.enqueue(context.Background(), model.ChatEvent{Platform: summary.Platform, UserID: summary.UserID}, model.QueueItem{
		Type:     model.ItemGift,
		Platform: summary.Platform,
		Priority: model.PriorityGift,
		Data: map[string]any{
			"userId":     summary.UserID,
			"username":   summary.Username,
			"giftTypes":  summary.GiftTypes,
			"giftCount":  summary.TotalGiftCount,
			"coinValue":  summary.TotalCoinValue,
			"message":    summary.Message,
			"timestamp":  normalize.FormatTime(summary.FlushedAt),
			"aggregated": true,
		},
	}, &result)
}

func (r *Router) enqueue(ctx context.Context, ev model.ChatEvent, item model.QueueItem, result *Result) {
	if r.deps.Queue == nil {
		return
	}
	item.EnqueuedAt = r.clock.Now()
	var err error
	r.guard("display queue", ev, func() {
		err = r.deps.Queue.AddItem(ctx, item)
	})
	if err != nil {
		r.logError("display queue rejected item", ev, err, "type", item.Type)
		return
	}
	result.Items = append(result.Items, item)
	if r.deps.Metrics != nil {
		r.deps.Metrics.RecordEnqueued(item.Platform, item.Type)
	}
}

// guard runs a collaborator call and converts a panic into a logged error.
func (r *Router) guard(step string, ev model.ChatEvent, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logError(step+" failed", ev, fmt.Errorf("panic: %v", rec))
		}
	}()
	fn()
}

func (r *Router) logError(msg string, ev model.ChatEvent, err error, attrs ...any) {
	if r.logger == nil {
		return
	}
	args := append([]any{"platform", ev.Platform, "user_id", ev.UserID, "err", err}, attrs...)
	r.logger.Error(msg, args...)
}

func chatData(ev model.ChatEvent, message string) map[string]any {
	data := make(map[string]any, len(ev.Metadata)+8)
	for k, v := range ev.Metadata {
		data[k] = v
	}
	data["userId"] = ev.UserID
	data["username"] = ev.Username
	data["message"] = message
	data["timestamp"] = ev.Timestamp
	data["isMod"] = ev.IsMod
	data["isSubscriber"] = ev.IsSubscriber
	data["isBroadcaster"] = ev.IsBroadcaster
	return data
}
