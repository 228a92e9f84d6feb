package router

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"chatrelay/internal/clock"
	"chatrelay/internal/commands"
	"chatrelay/internal/config"
	"chatrelay/internal/engine"
	"chatrelay/internal/model"
	"chatrelay/internal/normalize"
	"chatrelay/internal/session"
	"chatrelay/internal/spam"
)

type recordingQueue struct {
	mu    sync.Mutex
	items []model.QueueItem
	fail  map[model.ItemType]error
}

func (q *recordingQueue) AddItem(_ context.Context, item model.QueueItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.fail[item.Type]; err != nil {
		return err
	}
	q.items = append(q.items, item)
	return nil
}

func (q *recordingQueue) types() []model.ItemType {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]model.ItemType, 0, len(q.items))
	for _, it := range q.items {
		out = append(out, it.Type)
	}
	return out
}

type firstTracker struct{ seen map[string]bool }

func (f *firstTracker) IsFirstMessage(_ context.Context, _ model.Platform, userID, _ string) bool {
	if f.seen == nil {
		f.seen = map[string]bool{}
	}
	if f.seen[userID] {
		return false
	}
	f.seen[userID] = true
	return true
}

type panickyParser struct{}

func (panickyParser) Lookup(string, string) *model.CommandConfig { panic("boom") }

type failingSelector struct{}

func (failingSelector) SelectVFXCommand(context.Context, string, string) (*model.CommandConfig, error) {
	return nil, errors.New("vfx backend down")
}

func (failingSelector) GetVFXConfig(context.Context, string, map[string]any) (*model.CommandConfig, error) {
	return &model.CommandConfig{Command: "greeting", Media: "confetti.webm"}, nil
}

type fixedMonetization struct {
	detected bool
	err      error
}

func (m fixedMonetization) DetectMonetization(string) (model.MonetizationResult, error) {
	return model.MonetizationResult{Detected: m.detected}, m.err
}

var testStart = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func testCommands() config.CommandsConfig {
	return config.CommandsConfig{
		Enabled: true,
		Prefix:  "!",
		Items: map[string]model.CommandConfig{
			"hello": {Media: "wave.webm"},
		},
		Aliases:  map[string]string{"hi": "hello"},
		Greeting: &model.CommandConfig{Command: "greeting", Media: "confetti.webm"},
	}
}

type fixture struct {
	router    *Router
	queue     *recordingQueue
	clock     *clock.Fake
	lifecycle *session.Lifecycle
	cfg       *config.Config
}

func newFixture(t *testing.T, mutate func(cfg *config.Config, deps *Dependencies)) *fixture {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Commands = testCommands()
	clk := clock.NewFake(testStart)
	q := &recordingQueue{}
	lc := session.NewLifecycle()
	deps := Dependencies{
		Clock:     clk,
		Queue:     q,
		VFX:       commands.NewRegistry(cfg.Commands),
		Cooldown:  engine.NewCommandCooldown(engine.CooldownConfig{User: time.Minute, Global: 5 * time.Second}),
		Tracker:   &firstTracker{},
		Lifecycle: lc,
	}
	if mutate != nil {
		mutate(cfg, &deps)
	}
	return &fixture{router: New(cfg, deps), queue: q, clock: clk, lifecycle: lc, cfg: cfg}
}

func chatEvent(userID, message string, at time.Time) model.ChatEvent {
	return model.ChatEvent{
		Platform:  model.PlatformTwitch,
		UserID:    userID,
		Username:  "viewer_" + userID,
		Message:   message,
		Timestamp: normalize.FormatTime(at),
		Metadata:  map[string]any{"color": "#ff0000"},
	}
}

func equalTypes(got []model.ItemType, want ...model.ItemType) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestChatGreetingCommandOrder(t *testing.T) {
	f := newFixture(t, nil)
	res := f.router.HandleChat(context.Background(), chatEvent("u1", "!hello world", testStart))

	if !equalTypes(f.queue.types(), model.ItemChat, model.ItemGreeting, model.ItemCommand) {
		t.Fatalf("unexpected enqueue order: %v", f.queue.types())
	}
	if !equalTypes(res.Types(), model.ItemChat, model.ItemGreeting, model.ItemCommand) {
		t.Fatalf("result order mismatch: %v", res.Types())
	}
	items := f.queue.items
	if items[0].Priority > items[1].Priority || items[1].Priority > items[2].Priority {
		t.Fatalf("priorities out of order: %d %d %d", items[0].Priority, items[1].Priority, items[2].Priority)
	}
	if items[0].Data["message"] != "!hello world" || items[0].Data["color"] != "#ff0000" {
		t.Fatalf("chat data: %+v", items[0].Data)
	}
	if items[1].VFXConfig == nil || items[1].VFXConfig.Media != "confetti.webm" {
		t.Fatalf("greeting vfx: %+v", items[1].VFXConfig)
	}
	if items[2].VFXConfig == nil || items[2].VFXConfig.TriggerWord != "!hello" {
		t.Fatalf("command vfx: %+v", items[2].VFXConfig)
	}

	f.clock.Advance(10 * time.Second)
	f.router.HandleChat(context.Background(), chatEvent("u1", "just chatting", f.clock.Now()))
	if got := f.queue.types(); len(got) != 4 || got[3] != model.ItemChat {
		t.Fatalf("second message should only enqueue chat: %v", got)
	}
}

func TestTriggerWordKeepsOriginalToken(t *testing.T) {
	f := newFixture(t, nil)
	f.router.HandleChat(context.Background(), chatEvent("u1", "!HI there", testStart))
	items := f.queue.items
	cmd := items[len(items)-1]
	if cmd.Type != model.ItemCommand {
		t.Fatalf("expected command item, got %v", f.queue.types())
	}
	if cmd.VFXConfig.TriggerWord != "!HI" || cmd.VFXConfig.Command != "!hello" {
		t.Fatalf("vfx: %+v", cmd.VFXConfig)
	}
}

func TestOldMessageFilter(t *testing.T) {
	f := newFixture(t, nil)
	f.lifecycle.MarkConnected(model.PlatformTwitch, testStart)

	res := f.router.HandleChat(context.Background(), chatEvent("u1", "!hello", testStart.Add(-time.Second)))
	if res.SkipReason != ReasonOldMessage || len(f.queue.items) != 0 {
		t.Fatalf("old message should be dropped: %+v %v", res, f.queue.types())
	}

	f.router.HandleChat(context.Background(), chatEvent("u2", "hello", testStart))
	if !equalTypes(f.queue.types(), model.ItemChat, model.ItemGreeting) {
		t.Fatalf("message at connection time should pass: %v", f.queue.types())
	}

	ev := chatEvent("u3", "hello", testStart)
	ev.Timestamp = "not a time"
	if res := f.router.HandleChat(context.Background(), ev); res.SkipReason != "" {
		t.Fatalf("unparseable timestamp should bypass the filter: %+v", res)
	}
}

func TestOldMessageFilterDisabled(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config, _ *Dependencies) {
		cfg.Chat.FilterOldMessages = config.NewBool(false)
	})
	f.lifecycle.MarkConnected(model.PlatformTwitch, testStart)
	f.router.HandleChat(context.Background(), chatEvent("u1", "hi", testStart.Add(-time.Hour)))
	if len(f.queue.items) == 0 || f.queue.items[0].Type != model.ItemChat {
		t.Fatalf("filter disabled should enqueue: %v", f.queue.types())
	}
}

func TestCooldownBlocksCommandOnly(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.router.HandleChat(ctx, chatEvent("u1", "!hello", testStart))
	f.clock.Advance(10 * time.Second)
	res := f.router.HandleChat(ctx, chatEvent("u1", "!hello", f.clock.Now()))
	if !equalTypes(res.Types(), model.ItemChat) {
		t.Fatalf("user cooldown should block the command: %v", res.Types())
	}

	res = f.router.HandleChat(ctx, chatEvent("u2", "!hello", f.clock.Now()))
	if !equalTypes(res.Types(), model.ItemChat, model.ItemGreeting, model.ItemCommand) {
		t.Fatalf("other user past global cooldown should fire: %v", res.Types())
	}
	res = f.router.HandleChat(ctx, chatEvent("u3", "!hello", f.clock.Now()))
	if !equalTypes(res.Types(), model.ItemChat, model.ItemGreeting) {
		t.Fatalf("global cooldown should block: %v", res.Types())
	}
}

func TestCooldownScopedToPlatform(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.router.HandleChat(ctx, chatEvent("u1", "!hello", testStart))
	f.clock.Advance(10 * time.Second)

	ev := chatEvent("u1", "!hello", f.clock.Now())
	ev.Platform = model.PlatformTikTok
	res := f.router.HandleChat(ctx, ev)
	if !equalTypes(res.Types(), model.ItemChat, model.ItemCommand) {
		t.Fatalf("same id on another platform should not share a cooldown: %v", res.Types())
	}
	if res = f.router.HandleChat(ctx, chatEvent("u1", "!hello", f.clock.Now())); !equalTypes(res.Types(), model.ItemChat) {
		t.Fatalf("twitch user should still be on cooldown: %v", res.Types())
	}
}

func TestMissingCollaborators(t *testing.T) {
	r := New(config.DefaultConfig(), Dependencies{})
	res := r.HandleChat(context.Background(), chatEvent("u1", "!hello", testStart))
	if res.SkipReason != "" || len(res.Items) != 0 {
		t.Fatalf("router without collaborators should no-op: %+v", res)
	}

	f := newFixture(t, func(cfg *config.Config, deps *Dependencies) {
		deps.VFX = nil
		deps.Parser = commands.NewRegistry(cfg.Commands)
		deps.Cooldown = nil
		deps.Tracker = nil
	})
	res = f.router.HandleChat(context.Background(), chatEvent("u1", "!hello", testStart))
	if !equalTypes(res.Types(), model.ItemChat, model.ItemCommand) {
		t.Fatalf("parser fallback should resolve command: %v", res.Types())
	}
}

func TestSkips(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(cfg *config.Config, deps *Dependencies)
		message string
		reason  string
	}{
		{"messages disabled", func(cfg *config.Config, _ *Dependencies) { cfg.Chat.MessagesEnabled = config.NewBool(false) }, "hi", ReasonMessagesDisabled},
		{"platform disabled", func(cfg *config.Config, _ *Dependencies) { cfg.Platforms.Twitch.MessagesEnabled = config.BoolPtr(false) }, "hi", ReasonMessagesDisabled},
		{"empty", nil, "   ", ReasonEmptyMessage},
		{"sanitized empty", nil, "<b></b>\u200b", ReasonEmptySanitized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, tc.mutate)
			res := f.router.HandleChat(context.Background(), chatEvent("u1", tc.message, testStart))
			if res.SkipReason != tc.reason {
				t.Fatalf("reason = %q, want %q", res.SkipReason, tc.reason)
			}
			if len(f.queue.items) != 0 {
				t.Fatalf("nothing should be enqueued: %v", f.queue.types())
			}
		})
	}
}

func TestGreetingPolicy(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config, _ *Dependencies) {
		cfg.Platforms.Twitch.GreetingsEnabled = config.BoolPtr(false)
	})
	res := f.router.HandleChat(context.Background(), chatEvent("u1", "hello", testStart))
	if !equalTypes(res.Types(), model.ItemChat) {
		t.Fatalf("greeting should be disabled: %v", res.Types())
	}
}

func TestMonetizationMarksSkipTTS(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config, deps *Dependencies) {
		cfg.TTS.DeduplicationEnabled = config.NewBool(true)
		deps.Monetization = fixedMonetization{detected: true}
	})
	f.router.HandleChat(context.Background(), chatEvent("u1", "cheer100 nice", testStart))
	if !f.queue.items[0].SkipChatTTS {
		t.Fatalf("chat should skip tts")
	}

	g := newFixture(t, func(cfg *config.Config, deps *Dependencies) {
		cfg.TTS.DeduplicationEnabled = config.NewBool(true)
		deps.Monetization = fixedMonetization{detected: true, err: errors.New("detector down")}
	})
	g.router.HandleChat(context.Background(), chatEvent("u1", "cheer100 nice", testStart))
	if len(g.queue.items) == 0 || g.queue.items[0].SkipChatTTS {
		t.Fatalf("detector error should be treated as not detected")
	}
}

func TestCollaboratorFailuresDoNotAbort(t *testing.T) {
	f := newFixture(t, func(_ *config.Config, deps *Dependencies) {
		deps.VFX = nil
		deps.Parser = panickyParser{}
	})
	f.queue.fail = map[model.ItemType]error{model.ItemChat: errors.New("queue full")}
	res := f.router.HandleChat(context.Background(), chatEvent("u1", "!hello", testStart))
	if !equalTypes(res.Types(), model.ItemGreeting) {
		t.Fatalf("greeting should survive chat failure and parser panic: %v", res.Types())
	}
}

func TestVFXSelectorErrorSkipsCommand(t *testing.T) {
	f := newFixture(t, func(_ *config.Config, deps *Dependencies) {
		deps.VFX = failingSelector{}
		deps.Parser = panickyParser{}
	})
	res := f.router.HandleChat(context.Background(), chatEvent("u1", "!hello", testStart))
	if !equalTypes(res.Types(), model.ItemChat, model.ItemGreeting) {
		t.Fatalf("selector error should drop only the command: %v", res.Types())
	}
	if got := f.queue.items[1].VFXConfig; got == nil || got.Media != "confetti.webm" {
		t.Fatalf("greeting vfx missing: %+v", got)
	}
}

func TestGracefulExitStopsProcessing(t *testing.T) {
	exited := 0
	ge := session.NewGracefulExit(true, 2, func() { exited++ })
	f := newFixture(t, func(_ *config.Config, deps *Dependencies) { deps.GracefulExit = ge })
	ctx := context.Background()
	f.router.HandleChat(ctx, chatEvent("u1", "one", testStart))
	res := f.router.HandleChat(ctx, chatEvent("u2", "two", testStart))
	if res.SkipReason != ReasonGracefulExit || exited != 1 {
		t.Fatalf("exit should trigger on threshold: %+v exited=%d", res, exited)
	}
	if len(f.queue.items) != 2 {
		t.Fatalf("only the first message should enqueue: %v", f.queue.types())
	}
}

func TestGracefulExitCountsSkippedMessages(t *testing.T) {
	exited := 0
	ge := session.NewGracefulExit(true, 3, func() { exited++ })
	f := newFixture(t, func(cfg *config.Config, deps *Dependencies) {
		cfg.Chat.IgnoredUsers = []string{"nightbot"}
		deps.GracefulExit = ge
		deps.Dedupe = engine.NewDedupeCache(time.Minute)
		deps.Ignore = engine.BuildUserFilter(cfg)
	})
	ctx := context.Background()

	bot := chatEvent("bot", "hi", testStart)
	bot.Username = "nightbot"
	if res := f.router.HandleChat(ctx, bot); res.SkipReason != ReasonIgnoredUser {
		t.Fatalf("ignored user routed: %+v", res)
	}
	dup := chatEvent("u1", "hello", testStart)
	dup.Metadata["messageId"] = "m1"
	f.router.HandleChat(ctx, dup)
	if res := f.router.HandleChat(ctx, dup); res.SkipReason != ReasonGracefulExit || exited != 1 {
		t.Fatalf("ignored and duplicate messages should count toward the exit: %+v exited=%d", res, exited)
	}
}

func TestDedupeAndIgnore(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config, deps *Dependencies) {
		cfg.Chat.IgnoredUsers = []string{"@Nightbot"}
		deps.Dedupe = engine.NewDedupeCache(time.Minute)
		deps.Ignore = engine.BuildUserFilter(cfg)
	})
	ev := chatEvent("u1", "hello", testStart)
	ev.Metadata["messageId"] = "abc"
	f.router.HandleChat(context.Background(), ev)
	if res := f.router.HandleChat(context.Background(), ev); res.SkipReason != ReasonDuplicate {
		t.Fatalf("duplicate not detected: %+v", res)
	}

	bot := chatEvent("bot", "!hello", testStart)
	bot.Username = "nightbot"
	if res := f.router.HandleChat(context.Background(), bot); res.SkipReason != ReasonIgnoredUser {
		t.Fatalf("ignored user routed: %+v", res)
	}
}

func TestHandleGiftAndAggregation(t *testing.T) {
	f := newFixture(t, func(_ *config.Config, deps *Dependencies) {
		deps.Spam = spam.NewDetector(spam.Profile{Global: spam.Settings{
			Enabled:                    true,
			LowValueThreshold:          10,
			DetectionWindow:            5 * time.Second,
			MaxIndividualNotifications: 1,
		}}, spam.Options{Clock: deps.Clock, DisableAutoCleanup: true})
	})
	detector := f.router.deps.Spam.(*spam.Detector)
	detector.SetOnAggregatedDonation(f.router.EnqueueAggregated)

	gift := model.Gift{Platform: model.PlatformTikTok, UserID: "g", Username: "Gifter", GiftType: "Rose", UnitAmount: 1, GiftCount: 1}
	ctx := context.Background()
	if res := f.router.HandleGift(ctx, gift); len(res.Items) != 1 {
		t.Fatalf("first gift should show")
	}
	if res := f.router.HandleGift(ctx, gift); len(res.Items) != 0 {
		t.Fatalf("second gift should be aggregated")
	}
	f.clock.Advance(5 * time.Second)
	items := f.queue.items
	if len(items) != 2 || items[1].Data["aggregated"] != true {
		t.Fatalf("expected aggregated gift item: %+v", items)
	}
	if items[1].Data["message"] != "Gifter sent 2 gifts worth 2 coins (Rose)" || items[1].Priority != model.PriorityGift {
		t.Fatalf("aggregated payload: %+v", items[1])
	}
}

func TestSanitize(t *testing.T) {
	cases := []struct{ in, want string }{
		{"hello", "hello"},
		{"  <b>bold</b>   text ", "bold text"},
		{"zero\u200bwidth\u200d", "zerowidth"},
		{"<script>alert(1)</script>", "alert(1)"},
		{"<img src=x onerror=alert(1)>", ""},
		{"multi\n\nline\ttabs", "multi line tabs"},
		{"cafe\u0301", "caf\u00e9"},
		{"\ufeff<i></i>", ""},
		{"<p>nested <em>tags</em> here</p>", "nested tags here"},
	}
	for _, tc := range cases {
		if got := Sanitize(tc.in); got != tc.want {
			t.Fatalf("Sanitize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
