package session

import (
	"context"
	"testing"
	"time"

	"chatrelay/internal/model"
)

func TestTrackerFirstMessage(t *testing.T) {
	tr := NewTracker(nil, "s", nil)
	ctx := context.Background()
	if !tr.IsFirstMessage(ctx, model.PlatformTwitch, "1", "a") {
		t.Fatalf("expected first message")
	}
	if tr.IsFirstMessage(ctx, model.PlatformTwitchEventSub, "1", "a") {
		t.Fatalf("eventsub and irc share viewers")
	}
	if !tr.IsFirstMessage(ctx, model.PlatformYouTube, "1", "a") {
		t.Fatalf("platforms are independent")
	}
	if tr.IsFirstMessage(ctx, model.PlatformTwitch, "", "a") {
		t.Fatalf("empty user id is never first")
	}
	if err := tr.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if !tr.IsFirstMessage(ctx, model.PlatformTwitch, "1", "a") {
		t.Fatalf("reset should forget viewers")
	}
}

func TestLifecycle(t *testing.T) {
	l := NewLifecycle()
	if _, ok := l.GetPlatformConnectionTime(model.PlatformTikTok); ok {
		t.Fatalf("unexpected connection time")
	}
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l.MarkConnected(model.PlatformTikTokGift, at)
	got, ok := l.GetPlatformConnectionTime(model.PlatformTikTok)
	if !ok || !got.Equal(at) {
		t.Fatalf("connection time: %v %v", got, ok)
	}
	l.MarkDisconnected(model.PlatformTikTok)
	if len(l.Snapshot()) != 0 {
		t.Fatalf("expected empty snapshot")
	}
}

func TestGracefulExit(t *testing.T) {
	exits := 0
	g := NewGracefulExit(true, 2, func() { exits++ })
	if g.IncrementMessageCount() {
		t.Fatalf("threshold tripped early")
	}
	if !g.IncrementMessageCount() {
		t.Fatalf("threshold should trip")
	}
	g.TriggerExit()
	g.TriggerExit()
	if exits != 1 {
		t.Fatalf("exit ran %d times", exits)
	}
	if NewGracefulExit(true, 0, nil).IsEnabled() {
		t.Fatalf("zero threshold should disable")
	}
}
