package normalize

import (
	"errors"
	"strings"
	"testing"

	"chatrelay/internal/model"
)

func TestTikTokChat(t *testing.T) {
	raw := map[string]any{
		"user":    map[string]any{"userId": "u1", "uniqueId": "tester", "nickname": "Tester"},
		"comment": "hi",
		"common":  map[string]any{"createTime": 1700000000000},
	}
	ev, err := Normalize("tiktok", raw)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if ev.Platform != model.PlatformTikTok || ev.UserID != "tester" || ev.Username != "Tester" {
		t.Fatalf("identity mismatch: %+v", ev)
	}
	if ev.Message != "hi" {
		t.Fatalf("message: %q", ev.Message)
	}
	if ev.Timestamp != "2023-11-14T22:13:20.000Z" {
		t.Fatalf("timestamp: %s", ev.Timestamp)
	}
	if ev.IsMod || ev.IsSubscriber || ev.IsBroadcaster {
		t.Fatalf("unexpected roles: %+v", ev)
	}
	if ev.Metadata["numericUserId"] != "u1" {
		t.Fatalf("numeric user id: %v", ev.Metadata["numericUserId"])
	}
	if res := Validate(ev); !res.IsValid {
		t.Fatalf("validate: %v", res.Errors)
	}
}

func TestTikTokTimestampPreference(t *testing.T) {
	raw := map[string]any{
		"common":     map[string]any{"clientSendTime": "1700000000123", "createTime": 1600000000000},
		"createTime": 1500000000000,
	}
	ts, err := ExtractTimestamp(model.PlatformTikTok, raw)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if ts != "2023-11-14T22:13:20.123Z" {
		t.Fatalf("timestamp: %s", ts)
	}

	ts, err = ExtractTimestamp(model.PlatformTikTok, map[string]any{"timestamp": "2024-01-02T03:04:05Z"})
	if err != nil || ts != "2024-01-02T03:04:05.000Z" {
		t.Fatalf("iso timestamp: %s %v", ts, err)
	}

	_, err = ExtractTimestamp(model.PlatformTikTok, map[string]any{"createTime": "yesterday"})
	if !errors.Is(err, ErrInvalidTimestamp) {
		t.Fatalf("expected invalid timestamp, got %v", err)
	}
	_, err = ExtractTimestamp(model.PlatformTikTok, map[string]any{})
	if !errors.Is(err, ErrMissingTimestamp) {
		t.Fatalf("expected missing timestamp, got %v", err)
	}
}

func TestYouTubeMicrosecondRoundTrip(t *testing.T) {
	raw := map[string]any{"item": map[string]any{"timestamp_usec": "1700000000123456"}}
	ts, err := ExtractTimestamp(model.PlatformYouTube, raw)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	parsed, err := ParseTimestamp(ts)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.UnixMilli() != 1700000000123 {
		t.Fatalf("round trip: %d", parsed.UnixMilli())
	}

	raw = map[string]any{"item": map[string]any{"timestamp": float64(1700000000456)}}
	ts, err = ExtractTimestamp(model.PlatformYouTube, raw)
	if err != nil || ts != "2023-11-14T22:13:20.456Z" {
		t.Fatalf("millis: %s %v", ts, err)
	}
}

func TestTwitchTimestampStrict(t *testing.T) {
	_, err := ExtractTimestamp(model.PlatformTwitch, map[string]any{"tmi-sent-ts": "abc"})
	if !errors.Is(err, ErrInvalidTimestamp) {
		t.Fatalf("expected invalid timestamp, got %v", err)
	}
	_, err = ExtractTimestamp(model.PlatformTwitch, map[string]any{})
	if !errors.Is(err, ErrMissingTimestamp) {
		t.Fatalf("expected missing timestamp, got %v", err)
	}
}

func TestYouTubeMessageShapes(t *testing.T) {
	cases := []struct {
		name    string
		message any
		want    string
	}{
		{"plain", "  hello  ", "hello"},
		{"text", map[string]any{"text": "hello"}, "hello"},
		{"simpleText", map[string]any{"simpleText": "hello"}, "hello"},
		{"runs", map[string]any{"runs": []any{
			map[string]any{"text": "hi "},
			map[string]any{"emoji": map[string]any{"shortcuts": []any{":wave:", ":hand:"}}},
			map[string]any{"unknown": true},
		}}, "hi :wave:"},
		{"array", []any{map[string]any{"text": "a"}, "b"}, "ab"},
		{"emojiText", map[string]any{"emojiText": ":smile:"}, ":smile:"},
	}
	for _, tc := range cases {
		raw := map[string]any{"item": map[string]any{
			"id":        "msg-1",
			"timestamp": 1700000000000,
			"author":    map[string]any{"id": "chan", "name": "@Viewer"},
			"message":   tc.message,
		}}
		ev, err := Normalize("YouTube", raw)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if ev.Message != tc.want {
			t.Fatalf("%s: message %q want %q", tc.name, ev.Message, tc.want)
		}
		if ev.Username != "Viewer" {
			t.Fatalf("%s: username %q", tc.name, ev.Username)
		}
	}
}

func TestYouTubeBadgesAndSuperChat(t *testing.T) {
	raw := map[string]any{"item": map[string]any{
		"id":        "msg-2",
		"timestamp": 1700000000000,
		"author": map[string]any{
			"id":           "chan",
			"name":         "Owner",
			"is_moderator": true,
			"badges": []any{
				map[string]any{"icon_type": "OWNER"},
				map[string]any{"tooltip": "New Member"},
			},
		},
		"superchat": map[string]any{"message": map[string]any{"simpleText": "thanks"}, "amount": "$5.00"},
	}}
	ev, err := Normalize("youtube", raw)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if !ev.IsMod || !ev.IsBroadcaster || !ev.IsSubscriber {
		t.Fatalf("roles: %+v", ev)
	}
	if ev.Message != "thanks" {
		t.Fatalf("message: %q", ev.Message)
	}
	if ev.Metadata["isSuperChat"] != true || ev.Metadata["uniqueId"] != "msg-2" {
		t.Fatalf("metadata: %v", ev.Metadata)
	}
}

func TestYouTubeMissingAuthor(t *testing.T) {
	raw := map[string]any{"item": map[string]any{"timestamp": 1700000000000, "message": "x"}}
	_, err := Normalize("youtube", raw)
	if !errors.Is(err, ErrMissingField) {
		t.Fatalf("expected missing field, got %v", err)
	}
}

func TestTwitchIRC(t *testing.T) {
	user := map[string]any{"user-id": "42", "display-name": "Alice"}
	ctx := map[string]any{
		"tmi-sent-ts": "1700000000000",
		"badges":      "moderator/1,subscriber/12",
		"color":       "#FF0000",
		"room-id":     "99",
	}
	ev, err := Normalize("twitch", user, "  hello  ", ctx)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if ev.UserID != "42" || ev.Username != "Alice" || ev.Message != "hello" {
		t.Fatalf("fields: %+v", ev)
	}
	if !ev.IsMod || !ev.IsSubscriber || ev.IsBroadcaster {
		t.Fatalf("roles: %+v", ev)
	}
	if ev.Metadata["roomId"] != "99" || ev.Metadata["color"] != "#FF0000" {
		t.Fatalf("metadata: %v", ev.Metadata)
	}
	if res := Validate(ev); !res.IsValid {
		t.Fatalf("validate: %v", res.Errors)
	}
}

func TestTwitchMissingUser(t *testing.T) {
	_, err := Normalize("twitch", map[string]any{}, "hi", map[string]any{"tmi-sent-ts": "1700000000000"})
	if !errors.Is(err, ErrMissingField) {
		t.Fatalf("expected missing field, got %v", err)
	}
}

func TestEventSubTranslation(t *testing.T) {
	payload := map[string]any{
		"chatter_user_id":     "7",
		"chatter_user_name":   "Streamer",
		"broadcaster_user_id": "7",
		"message_id":          "abc-123",
		"message_timestamp":   "2023-11-14T22:13:20.5Z",
		"badges":              map[string]any{"subscriber": "1"},
		"message": map[string]any{
			"text": "Cheer100 hi uni1",
			"fragments": []any{
				map[string]any{"type": "cheermote", "text": "Cheer100", "cheermote": map[string]any{"prefix": "Cheer", "bits": float64(100)}},
				map[string]any{"type": "text", "text": " hi "},
				map[string]any{"type": "cheermote", "text": "uni1", "cheermote": map[string]any{"prefix": "uni1", "bits": float64(1)}},
			},
		},
	}
	user, message, ctx, err := TranslateEventSub(payload)
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	ev, err := Normalize("twitch-eventsub", user, message, ctx)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if ev.Platform != model.PlatformTwitchEventSub {
		t.Fatalf("platform: %s", ev.Platform)
	}
	if ev.Timestamp != "2023-11-14T22:13:20.500Z" {
		t.Fatalf("timestamp: %s", ev.Timestamp)
	}
	if !ev.IsBroadcaster || !ev.IsMod || !ev.IsSubscriber {
		t.Fatalf("roles: %+v", ev)
	}
	if ev.Message != "hi" {
		t.Fatalf("message: %q", ev.Message)
	}
	if ev.Metadata["messageId"] != "abc-123" || ev.Metadata["source"] != "eventsub" {
		t.Fatalf("metadata: %v", ev.Metadata)
	}
	summary, ok := ev.Metadata["cheermote"].(model.CheermoteSummary)
	if !ok || summary.TotalBits != 101 {
		t.Fatalf("cheermote: %v", ev.Metadata["cheermote"])
	}
}

func TestUnknownPlatform(t *testing.T) {
	_, err := Normalize("myspace", map[string]any{})
	if !errors.Is(err, ErrInvalidPlatform) {
		t.Fatalf("expected invalid platform, got %v", err)
	}
}

func TestValidateFields(t *testing.T) {
	res := ValidateFields(map[string]any{
		"platform":  "irc",
		"userId":    "u",
		"username":  nil,
		"timestamp": "not a date",
		"isMod":     "yes",
		"metadata":  []any{},
	})
	if res.IsValid {
		t.Fatalf("expected invalid")
	}
	// platform, username, message, timestamp, isMod, metadata
	if len(res.Errors) != 6 {
		t.Fatalf("errors: %v", res.Errors)
	}

	ev := model.ChatEvent{Platform: model.PlatformTwitch, UserID: "1", Username: "a", Timestamp: "2023-11-14T22:13:20.000Z"}
	if res := Validate(ev); !res.IsValid {
		t.Fatalf("empty message should be valid: %v", res.Errors)
	}
	ev.Timestamp = ""
	if res := Validate(ev); res.IsValid {
		t.Fatalf("expected missing timestamp to fail")
	}

	ev.Timestamp = "2023-11-14T22:13:20.000Z"
	for _, tag := range []model.Platform{"TWITCH", " twitch ", "YouTube"} {
		ev.Platform = tag
		res := Validate(ev)
		if res.IsValid || len(res.Errors) != 1 || !strings.HasPrefix(res.Errors[0], "invalid platform") {
			t.Fatalf("platform %q should be rejected: %+v", tag, res)
		}
	}
}

func TestCreateFallback(t *testing.T) {
	if CreateFallback(FallbackInput{Platform: model.PlatformTikTok, Timestamp: "2023-11-14T22:13:20.000Z"}) != nil {
		t.Fatalf("expected nil without username")
	}
	if CreateFallback(FallbackInput{Platform: model.PlatformTikTok, Username: "x", Timestamp: "later"}) != nil {
		t.Fatalf("expected nil without valid timestamp")
	}
	ev := CreateFallback(FallbackInput{
		Platform:  model.PlatformTikTok,
		Username:  " viewer ",
		Message:   "hi",
		Error:     "missing field",
		Timestamp: "1700000000000",
	})
	if ev == nil {
		t.Fatalf("expected fallback event")
	}
	if ev.UserID != "viewer" || ev.Timestamp != "2023-11-14T22:13:20.000Z" {
		t.Fatalf("fallback: %+v", ev)
	}
	if ev.Metadata["fallback"] != true {
		t.Fatalf("metadata: %v", ev.Metadata)
	}
	if res := Validate(*ev); !res.IsValid {
		t.Fatalf("validate: %v", res.Errors)
	}
}

func TestExtractGift(t *testing.T) {
	raw := map[string]any{
		"user":        map[string]any{"uniqueId": "fan", "nickname": "Fan"},
		"giftDetails": map[string]any{"giftName": "Rose", "diamondCount": float64(1), "giftType": float64(1)},
		"repeatCount": float64(5),
		"repeatEnd":   true,
		"groupId":     "g1",
		"timestamp":   float64(1700000000000),
	}
	if GiftStreaking(raw) {
		t.Fatalf("streak ended")
	}
	gift, ok, err := ExtractGift(raw, nil)
	if err != nil || !ok {
		t.Fatalf("extract: %v %v", ok, err)
	}
	if gift.GiftType != "Rose" || gift.UnitAmount != 1 || gift.GiftCount != 5 || gift.UserID != "fan" {
		t.Fatalf("gift: %+v", gift)
	}
	raw["repeatEnd"] = false
	if !GiftStreaking(raw) {
		t.Fatalf("expected streaking")
	}
}
