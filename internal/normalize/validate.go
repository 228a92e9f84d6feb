package normalize

import (
	"fmt"
	"strings"

	"chatrelay/internal/model"
)

type ValidationResult struct {
	IsValid bool     `json:"isValid"`
	Errors  []string `json:"errors"`
}

// Validate checks e against the canonical event shape.
func Validate(e model.ChatEvent) ValidationResult {
	return ValidateFields(eventFields(e))
}

func eventFields(e model.ChatEvent) map[string]any {
	fields := map[string]any{
		"platform":      string(e.Platform),
		"userId":        e.UserID,
		"username":      e.Username,
		"message":       e.Message,
		"timestamp":     e.Timestamp,
		"isMod":         e.IsMod,
		"isSubscriber":  e.IsSubscriber,
		"isBroadcaster": e.IsBroadcaster,
	}
	if e.Metadata != nil {
		fields["metadata"] = e.Metadata
	}
	return fields
}

// ValidateFields validates an event given as a decoded JSON object, which is
// how events arrive from the REST and stream inputs. Every problem is
// reported, not only the first.
func ValidateFields(fields map[string]any) ValidationResult {
	var errs []string

	switch p := fields["platform"].(type) {
	case nil:
		errs = append(errs, "missing field: platform")
	case string:
		if !model.Platform(p).Valid() {
			errs = append(errs, fmt.Sprintf("invalid platform: %q", p))
		}
	case model.Platform:
		if !p.Valid() {
			errs = append(errs, fmt.Sprintf("invalid platform: %q", p))
		}
	default:
		errs = append(errs, "invalid type: platform")
	}

	for _, name := range []string{"userId", "username", "message", "timestamp"} {
		v, present := fields[name]
		if !present || v == nil {
			errs = append(errs, "missing field: "+name)
			continue
		}
		s, ok := v.(string)
		if !ok {
			errs = append(errs, "invalid type: "+name)
			continue
		}
		if name != "message" && strings.TrimSpace(s) == "" {
			errs = append(errs, "missing field: "+name)
		}
	}

	if ts, ok := fields["timestamp"].(string); ok && strings.TrimSpace(ts) != "" {
		if _, err := ParseTimestamp(ts); err != nil {
			errs = append(errs, "invalid timestamp: "+ts)
		}
	}

	for _, name := range []string{"isMod", "isSubscriber", "isBroadcaster"} {
		v, present := fields[name]
		if !present {
			continue
		}
		if _, ok := v.(bool); !ok {
			errs = append(errs, "invalid type: "+name)
		}
	}

	if v, present := fields["metadata"]; present && v != nil {
		if _, ok := v.(map[string]any); !ok {
			errs = append(errs, "invalid type: metadata")
		}
	}

	return ValidationResult{IsValid: len(errs) == 0, Errors: errs}
}

type FallbackInput struct {
	Platform  model.Platform
	UserID    string
	Username  string
	Message   string
	Error     string
	Timestamp string
}

// CreateFallback builds a minimal event for a payload the platform normalizer
// rejected. It returns nil unless a username and a parseable timestamp are
// available.
func CreateFallback(in FallbackInput) *model.ChatEvent {
	username := strings.TrimSpace(in.Username)
	if username == "" {
		return nil
	}
	ts := strings.TrimSpace(in.Timestamp)
	if ts == "" {
		return nil
	}
	parsed, err := ParseTimestamp(ts)
	if err != nil {
		return nil
	}
	platform, ok := model.ParsePlatform(string(in.Platform))
	if !ok {
		return nil
	}
	userID := strings.TrimSpace(in.UserID)
	if userID == "" {
		userID = username
	}
	return &model.ChatEvent{
		Platform:  platform,
		UserID:    userID,
		Username:  username,
		Message:   strings.TrimSpace(in.Message),
		Timestamp: FormatTime(parsed),
		Metadata: map[string]any{
			"fallback": true,
			"error":    in.Error,
		},
	}
}
