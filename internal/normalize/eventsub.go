package normalize

import (
	"strconv"

	"chatrelay/internal/model"
)

// TranslateEventSub rewrites a channel.chat.message notification into the
// (user, message, context) triple NormalizeTwitch expects. The notification may
// be the bare event or wrapped as {"event": {...}}.
func TranslateEventSub(payload map[string]any) (map[string]any, any, map[string]any, error) {
	platform := model.PlatformTwitchEventSub
	event := payload
	if inner := asMap(payload["event"]); inner != nil {
		event = inner
	}
	userID := stringField(event, "chatter_user_id")
	if userID == "" {
		return nil, nil, nil, missingField(platform, "chatter_user_id")
	}
	username := stringField(event, "chatter_user_name", "chatter_user_login")
	if username == "" {
		return nil, nil, nil, missingField(platform, "chatter_user_name")
	}

	context := map[string]any{
		"user-id": userID,
		"source":  "eventsub",
	}
	if v, ok := firstPresent(event, "message_timestamp", "timestamp"); ok {
		switch t := v.(type) {
		case string:
			parsed, err := ParseTimestamp(t)
			if err != nil {
				return nil, nil, nil, &Error{Kind: ErrInvalidTimestamp, Platform: platform}
			}
			context["tmi-sent-ts"] = strconv.FormatInt(parsed.UnixMilli(), 10)
		default:
			ms, ok := toInt64(t)
			if !ok {
				return nil, nil, nil, &Error{Kind: ErrInvalidTimestamp, Platform: platform}
			}
			context["tmi-sent-ts"] = strconv.FormatInt(ms, 10)
		}
	}
	if id := stringField(event, "message_id"); id != "" {
		context["messageId"] = id
	}
	if color := stringField(event, "color"); color != "" {
		context["color"] = color
	}
	if room := stringField(event, "broadcaster_user_id"); room != "" {
		context["room-id"] = room
	}

	badges := twitchBadges(event["badges"])
	if room := stringField(event, "broadcaster_user_id"); room != "" && room == userID {
		badges["broadcaster"] = "1"
	}
	tags := make(map[string]any, len(badges))
	for k, v := range badges {
		tags[k] = v
	}
	context["badges"] = tags

	user := map[string]any{
		"user-id":      userID,
		"display-name": username,
	}
	if login := stringField(event, "chatter_user_login"); login != "" {
		user["username"] = login
	}

	message := event["message"]
	if message == nil {
		message = ""
	}
	return user, message, context, nil
}
