package normalize

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"chatrelay/internal/model"
)

// ISOLayout is the canonical ChatEvent timestamp format.
const ISOLayout = "2006-01-02T15:04:05.000Z"

// Values above this are microseconds, not milliseconds.
const microsecondCutoff = 1e13

// Resolver turns the platform specific time fields of a raw payload into an
// ISO-8601 UTC string.
type Resolver interface {
	ExtractTimestamp(platform model.Platform, raw map[string]any) (string, error)
}

type TimestampResolver struct{}

func (TimestampResolver) ExtractTimestamp(platform model.Platform, raw map[string]any) (string, error) {
	return ExtractTimestamp(platform, raw)
}

func ExtractTimestamp(platform model.Platform, raw map[string]any) (string, error) {
	switch platform.Base() {
	case model.PlatformTwitch:
		return twitchTimestamp(platform, raw)
	case model.PlatformYouTube:
		return youtubeTimestamp(platform, raw)
	case model.PlatformTikTok:
		return tiktokTimestamp(platform, raw)
	}
	return "", &Error{Kind: ErrInvalidPlatform, Platform: platform}
}

func FormatMillis(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(ISOLayout)
}

func FormatTime(t time.Time) string {
	return t.UTC().Format(ISOLayout)
}

func twitchTimestamp(platform model.Platform, raw map[string]any) (string, error) {
	v, ok := firstPresent(raw, "tmi-sent-ts", "timestamp")
	if !ok {
		return "", &Error{Kind: ErrMissingTimestamp, Platform: platform}
	}
	ms, ok := toInt64(v)
	if !ok {
		return "", &Error{Kind: ErrInvalidTimestamp, Platform: platform}
	}
	return FormatMillis(ms), nil
}

func youtubeTimestamp(platform model.Platform, raw map[string]any) (string, error) {
	item := asMap(raw["item"])
	if item == nil {
		item = raw
	}
	v, ok := firstPresent(item, "timestamp", "timestamp_usec")
	if !ok {
		return "", &Error{Kind: ErrMissingTimestamp, Platform: platform}
	}
	if n, ok := toInt64(v); ok {
		if float64(n) > microsecondCutoff {
			n /= 1000
		}
		return FormatMillis(n), nil
	}
	if s, ok := v.(string); ok {
		if t, err := ParseTimestamp(s); err == nil {
			return FormatTime(t), nil
		}
	}
	return "", &Error{Kind: ErrInvalidTimestamp, Platform: platform}
}

func tiktokTimestamp(platform model.Platform, raw map[string]any) (string, error) {
	common := asMap(raw["common"])
	candidates := []any{
		lookup(common, "clientSendTime"),
		lookup(common, "createTime"),
		raw["createTime"],
		raw["timestamp"],
	}
	for _, v := range candidates {
		if !usable(v) {
			continue
		}
		if ms, ok := toInt64(v); ok {
			return FormatMillis(ms), nil
		}
		if s, ok := v.(string); ok {
			if t, err := ParseTimestamp(s); err == nil {
				return FormatTime(t), nil
			}
		}
		return "", &Error{Kind: ErrInvalidTimestamp, Platform: platform}
	}
	return "", &Error{Kind: ErrMissingTimestamp, Platform: platform}
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000Z0700",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// ParseTimestamp parses an ISO-8601 string or a numeric epoch-millisecond
// string.
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, ErrMissingTimestamp
	}
	if isNumeric(value) {
		ms, err := strconv.ParseInt(value, 10, 64)
		if err == nil {
			return time.UnixMilli(ms).UTC(), nil
		}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, ErrInvalidTimestamp
}

func isNumeric(value string) bool {
	for _, ch := range value {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return len(value) > 0
}

func firstPresent(m map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v := lookup(m, k); usable(v) {
			return v, true
		}
	}
	return nil, false
}

func usable(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(t) != ""
	}
	if n, ok := toInt64(v); ok {
		return n > 0
	}
	return true
}

func lookup(m map[string]any, key string) any {
	if m == nil {
		return nil
	}
	return m[key]
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint64:
		return int64(n), true
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		if f, err := n.Float64(); err == nil {
			return int64(f), true
		}
	case string:
		s := strings.TrimSpace(n)
		if isNumeric(s) {
			if i, err := strconv.ParseInt(s, 10, 64); err == nil {
				return i, true
			}
		}
	}
	return 0, false
}
