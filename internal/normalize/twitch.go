package normalize

import (
	"strconv"
	"strings"

	"chatrelay/internal/model"
)

// ExtractTwitchMessageData reads the text of a Twitch message and, when the
// message carries bits fragments, their cheermote summary.
func ExtractTwitchMessageData(messageObj any) (string, *model.CheermoteSummary) {
	switch m := messageObj.(type) {
	case string:
		return m, nil
	case map[string]any:
		fragments := decodeFragments(m["fragments"])
		if len(fragments) > 0 {
			summary := ProcessCheermotes(fragments)
			if summary.Empty() {
				if text, ok := m["text"].(string); ok {
					return text, nil
				}
				return summary.TextContent, nil
			}
			return summary.TextContent, &summary
		}
		if text, ok := m["text"].(string); ok {
			return text, nil
		}
	}
	return "", nil
}

func decodeFragments(v any) []Fragment {
	switch t := v.(type) {
	case []Fragment:
		return t
	case []any:
		out := make([]Fragment, 0, len(t))
		for _, raw := range t {
			m := asMap(raw)
			if m == nil {
				continue
			}
			f := Fragment{Type: stringField(m, "type")}
			if s, ok := m["text"].(string); ok {
				f.Text = s
			}
			if cm := asMap(m["cheermote"]); cm != nil {
				bits, _ := intField(cm, "bits")
				tier, _ := intField(cm, "tier")
				f.Cheermote = &CheermoteFragment{Prefix: stringField(cm, "prefix"), Bits: bits, Tier: tier}
			}
			out = append(out, f)
		}
		return out
	}
	return nil
}

// NormalizeTwitch handles IRC-shaped input. user is either the login string or
// a tag map ("user-id", "display-name", "username"); context carries the IRC
// tags plus any caller-added "messageId"/"source".
func NormalizeTwitch(user any, message any, context map[string]any, platform model.Platform, resolver Resolver) (model.ChatEvent, error) {
	if context == nil {
		context = map[string]any{}
	}
	var userMap map[string]any
	switch u := user.(type) {
	case string:
		userMap = map[string]any{"username": u}
	case map[string]any:
		userMap = u
	case nil:
		userMap = map[string]any{}
	default:
		return model.ChatEvent{}, invalidType(platform, "user")
	}

	userID := stringField(userMap, "user-id", "userId", "id")
	if userID == "" {
		userID = stringField(context, "user-id", "userId")
	}
	if userID == "" {
		return model.ChatEvent{}, missingField(platform, "user-id")
	}
	username := stringField(userMap, "display-name", "displayName", "username", "login")
	if username == "" {
		username = stringField(context, "display-name", "username")
	}
	if username == "" {
		return model.ChatEvent{}, missingField(platform, "username")
	}

	text, cheermote := ExtractTwitchMessageData(message)
	if message != nil && text == "" && cheermote == nil {
		switch message.(type) {
		case string, map[string]any:
		default:
			return model.ChatEvent{}, invalidType(platform, "message")
		}
	}

	ts, err := resolveTimestamp(resolver, platform, context)
	if err != nil {
		return model.ChatEvent{}, err
	}

	badges := twitchBadges(context["badges"])
	if extra := twitchBadges(userMap["badges"]); len(extra) > 0 {
		for k, v := range extra {
			badges[k] = v
		}
	}
	isBroadcaster := badges["broadcaster"] != ""
	isMod := isBroadcaster || badges["moderator"] != "" || boolField(userMap, "mod") || boolField(context, "mod")
	isSub := badges["subscriber"] != "" || badges["founder"] != "" || boolField(userMap, "subscriber") || boolField(context, "subscriber")

	metadata := map[string]any{
		"badges": badges,
		"color":  stringField(context, "color"),
		"emotes": context["emotes"],
		"roomId": stringField(context, "room-id", "roomId"),
	}
	if id := stringField(context, "messageId", "id"); id != "" {
		metadata["messageId"] = id
	}
	if src := stringField(context, "source"); src != "" {
		metadata["source"] = src
	}
	if cheermote != nil {
		metadata["cheermote"] = *cheermote
	}

	return model.ChatEvent{
		Platform:      platform,
		UserID:        userID,
		Username:      username,
		Message:       strings.TrimSpace(text),
		Timestamp:     ts,
		IsMod:         isMod,
		IsSubscriber:  isSub,
		IsBroadcaster: isBroadcaster,
		Metadata:      metadata,
		RawData:       map[string]any{"user": user, "message": message, "context": context},
	}, nil
}

// twitchBadges accepts the IRC tag string ("moderator/1,subscriber/12"), a
// tag map, or an EventSub badge list.
func twitchBadges(v any) map[string]string {
	out := map[string]string{}
	switch t := v.(type) {
	case string:
		for _, part := range strings.Split(t, ",") {
			name, version, _ := strings.Cut(strings.TrimSpace(part), "/")
			if name != "" {
				if version == "" {
					version = "1"
				}
				out[name] = version
			}
		}
	case map[string]any:
		for k, raw := range t {
			switch val := raw.(type) {
			case bool:
				if val {
					out[k] = "1"
				}
			case string:
				if val != "" && val != "0" && !strings.EqualFold(val, "false") {
					out[k] = val
				}
			case nil:
			default:
				if n, ok := toInt64(val); ok && n > 0 {
					out[k] = strconv.FormatInt(n, 10)
				}
			}
		}
	case map[string]int:
		for k, n := range t {
			if n > 0 {
				out[k] = strconv.Itoa(n)
			}
		}
	case []any:
		for _, raw := range t {
			b := asMap(raw)
			if name := stringField(b, "set_id"); name != "" {
				version := stringField(b, "id")
				if version == "" {
					version = "1"
				}
				out[name] = version
			}
		}
	}
	return out
}
