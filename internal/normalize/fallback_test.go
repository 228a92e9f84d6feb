package normalize

import (
	"errors"
	"testing"

	"chatrelay/internal/model"
)

func TestRecoverFallbackTwitchTriple(t *testing.T) {
	ctx := map[string]any{"tmi-sent-ts": "1700000000000", "user-id": "42"}
	ev := RecoverFallback(model.PlatformTwitch, []any{"streamer", "hello chat", ctx}, errors.New("bad badges"), nil)
	if ev == nil {
		t.Fatalf("expected fallback event")
	}
	if ev.Username != "streamer" || ev.UserID != "42" || ev.Message != "hello chat" {
		t.Fatalf("fallback fields: %+v", ev)
	}
	if ev.Timestamp != "2023-11-14T22:13:20.000Z" {
		t.Fatalf("timestamp: %s", ev.Timestamp)
	}
	if ev.Metadata["fallback"] != true || ev.Metadata["error"] != "bad badges" {
		t.Fatalf("metadata: %+v", ev.Metadata)
	}
}

func TestRecoverFallbackTikTokNested(t *testing.T) {
	payload := map[string]any{
		"user":       map[string]any{"nickname": "Nick"},
		"comment":    "hey",
		"createTime": float64(1700000000000),
	}
	ev := RecoverFallback(model.PlatformTikTok, []any{payload}, nil, nil)
	if ev == nil || ev.Username != "Nick" || ev.UserID != "Nick" || ev.Message != "hey" {
		t.Fatalf("fallback: %+v", ev)
	}
}

func TestRecoverFallbackNeedsIdentityAndTime(t *testing.T) {
	if ev := RecoverFallback(model.PlatformYouTube, []any{map[string]any{"author": map[string]any{"name": "x"}}}, nil, nil); ev != nil {
		t.Fatalf("missing timestamp should not recover: %+v", ev)
	}
	if ev := RecoverFallback(model.PlatformTikTok, []any{map[string]any{"createTime": float64(1700000000000)}}, nil, nil); ev != nil {
		t.Fatalf("missing username should not recover: %+v", ev)
	}
}
