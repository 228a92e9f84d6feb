// Package normalize converts raw Twitch, YouTube and TikTok payloads into the
// canonical model.ChatEvent. Payloads arrive as decoded JSON objects
// (map[string]any); numbers may be float64 or json.Number.
package normalize

import (
	"fmt"
	"strings"

	"chatrelay/internal/model"
)

type Normalizer struct {
	Resolver Resolver
}

func New(resolver Resolver) *Normalizer {
	if resolver == nil {
		resolver = TimestampResolver{}
	}
	return &Normalizer{Resolver: resolver}
}

// Normalize dispatches on the lower-cased platform tag. YouTube and TikTok
// take a single payload argument; Twitch takes (user, message, context).
func Normalize(platform string, args ...any) (model.ChatEvent, error) {
	return New(nil).Normalize(platform, args...)
}

func (n *Normalizer) Normalize(platform string, args ...any) (model.ChatEvent, error) {
	p, ok := model.ParsePlatform(platform)
	if !ok {
		return model.ChatEvent{}, &Error{Kind: ErrInvalidPlatform, Field: platform}
	}
	resolver := n.Resolver
	if resolver == nil {
		resolver = TimestampResolver{}
	}
	switch p.Base() {
	case model.PlatformYouTube:
		payload, err := singlePayload(p, args)
		if err != nil {
			return model.ChatEvent{}, err
		}
		return NormalizeYouTube(payload, p, resolver)
	case model.PlatformTikTok:
		payload, err := singlePayload(p, args)
		if err != nil {
			return model.ChatEvent{}, err
		}
		return NormalizeTikTok(payload, p, resolver)
	case model.PlatformTwitch:
		if len(args) != 3 {
			return model.ChatEvent{}, invalidType(p, fmt.Sprintf("expected (user, message, context), got %d args", len(args)))
		}
		ctx := asMap(args[2])
		if ctx == nil && args[2] != nil {
			return model.ChatEvent{}, invalidType(p, "context")
		}
		return NormalizeTwitch(args[0], args[1], ctx, p, resolver)
	}
	return model.ChatEvent{}, &Error{Kind: ErrInvalidPlatform, Field: platform}
}

func singlePayload(p model.Platform, args []any) (map[string]any, error) {
	if len(args) != 1 {
		return nil, invalidType(p, fmt.Sprintf("expected one payload, got %d args", len(args)))
	}
	m := asMap(args[0])
	if m == nil {
		return nil, invalidType(p, "payload")
	}
	return m, nil
}

func resolveTimestamp(resolver Resolver, p model.Platform, raw map[string]any) (string, error) {
	if resolver == nil {
		resolver = TimestampResolver{}
	}
	ts, err := resolver.ExtractTimestamp(p, raw)
	if err != nil {
		return "", err
	}
	if _, err := ParseTimestamp(ts); err != nil {
		return "", &Error{Kind: ErrInvalidTimestamp, Platform: p}
	}
	return ts, nil
}

func stringField(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := lookup(m, k).(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case nil:
		default:
			if n, ok := toInt64(v); ok {
				return fmt.Sprintf("%d", n)
			}
		}
	}
	return ""
}

func boolField(m map[string]any, keys ...string) bool {
	for _, k := range keys {
		switch v := lookup(m, k).(type) {
		case bool:
			if v {
				return true
			}
		case string:
			if v == "1" || strings.EqualFold(v, "true") {
				return true
			}
		default:
			if n, ok := toInt64(v); ok && n > 0 {
				return true
			}
		}
	}
	return false
}

func intField(m map[string]any, keys ...string) (int, bool) {
	for _, k := range keys {
		if n, ok := toInt64(lookup(m, k)); ok {
			return int(n), true
		}
	}
	return 0, false
}
