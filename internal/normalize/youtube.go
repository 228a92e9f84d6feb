package normalize

import (
	"strings"

	"chatrelay/internal/model"
)

type messageKind int

const (
	messageNone messageKind = iota
	messagePlain
	messageText
	messageSimpleText
	messageRuns
	messageParts
	messageEmojiText
)

// classifyMessage names the shape a YouTube message value arrives in.
func classifyMessage(v any) messageKind {
	switch t := v.(type) {
	case string:
		return messagePlain
	case []any:
		return messageParts
	case map[string]any:
		if _, ok := t["runs"].([]any); ok {
			return messageRuns
		}
		if _, ok := t["text"].(string); ok {
			return messageText
		}
		if _, ok := t["simpleText"].(string); ok {
			return messageSimpleText
		}
		if _, ok := t["emojiText"]; ok {
			return messageEmojiText
		}
	}
	return messageNone
}

func youtubeMessageText(v any) string {
	switch classifyMessage(v) {
	case messagePlain:
		return v.(string)
	case messageText:
		return v.(map[string]any)["text"].(string)
	case messageSimpleText:
		return v.(map[string]any)["simpleText"].(string)
	case messageRuns:
		return joinParts(v.(map[string]any)["runs"].([]any))
	case messageParts:
		return joinParts(v.([]any))
	case messageEmojiText:
		return emojiText(v.(map[string]any)["emojiText"])
	}
	return ""
}

func joinParts(parts []any) string {
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(partText(p))
	}
	return b.String()
}

// partText renders one element of a runs array. Emoji contribute their first
// shortcut; unknown elements contribute nothing.
func partText(p any) string {
	switch t := p.(type) {
	case string:
		return t
	case map[string]any:
		if s, ok := t["text"].(string); ok {
			return s
		}
		if emoji := asMap(t["emoji"]); emoji != nil {
			return firstShortcut(emoji)
		}
		if _, ok := t["emojiText"]; ok {
			return emojiText(t["emojiText"])
		}
	}
	return ""
}

func emojiText(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]any:
		if s := firstShortcut(t); s != "" {
			return s
		}
		if s, ok := t["text"].(string); ok {
			return s
		}
	}
	return ""
}

func firstShortcut(emoji map[string]any) string {
	shortcuts, _ := emoji["shortcuts"].([]any)
	for _, s := range shortcuts {
		if str, ok := s.(string); ok && str != "" {
			return str
		}
	}
	return ""
}

// NormalizeYouTube converts a {item: {...}} chat payload.
func NormalizeYouTube(chatItem map[string]any, platform model.Platform, resolver Resolver) (model.ChatEvent, error) {
	item := asMap(chatItem["item"])
	if item == nil {
		return model.ChatEvent{}, missingField(platform, "item")
	}
	author := asMap(item["author"])
	if author == nil {
		return model.ChatEvent{}, missingField(platform, "item.author")
	}
	userID := stringField(author, "id", "channelId")
	if userID == "" {
		return model.ChatEvent{}, missingField(platform, "item.author.id")
	}
	username := strings.TrimSpace(strings.TrimPrefix(stringField(author, "name"), "@"))
	if username == "" {
		return model.ChatEvent{}, missingField(platform, "item.author.name")
	}
	ts, err := resolveTimestamp(resolver, platform, chatItem)
	if err != nil {
		return model.ChatEvent{}, err
	}

	superchat := asMap(item["superchat"])
	rawMessage := item["message"]
	if rawMessage == nil && superchat != nil {
		rawMessage = superchat["message"]
	}
	message := strings.TrimSpace(youtubeMessageText(rawMessage))

	isMod := boolField(author, "is_moderator", "isModerator")
	isOwner := boolField(author, "isOwner")
	isMember := boolField(author, "isMember")
	switch badges := author["badges"].(type) {
	case []any:
		for _, b := range badges {
			badge := asMap(b)
			if badge == nil {
				continue
			}
			if strings.EqualFold(stringField(badge, "icon_type"), "OWNER") {
				isOwner = true
			}
			if strings.Contains(strings.ToLower(stringField(badge, "tooltip")), "member") {
				isMember = true
			}
		}
	case map[string]any:
		isMod = isMod || boolField(badges, "isModerator")
		isMember = isMember || boolField(badges, "isMember")
		isOwner = isOwner || boolField(badges, "isOwner")
	}

	metadata := map[string]any{
		"uniqueId":       stringField(item, "id"),
		"isSuperChat":    superchat != nil,
		"isSuperSticker": item["supersticker"] != nil,
		"isMembership":   boolField(item, "isMembership") || item["membership"] != nil,
		"authorPhoto":    authorPhoto(author),
	}
	if superchat != nil {
		if amount := stringField(superchat, "amount"); amount != "" {
			metadata["superChatAmount"] = amount
		}
	}

	return model.ChatEvent{
		Platform:      platform,
		UserID:        userID,
		Username:      username,
		Message:       message,
		Timestamp:     ts,
		IsMod:         isMod,
		IsSubscriber:  isMember,
		IsBroadcaster: isOwner,
		Metadata:      metadata,
		RawData:       chatItem,
	}, nil
}

func authorPhoto(author map[string]any) string {
	if s := stringField(author, "photo"); s != "" {
		return s
	}
	switch t := author["thumbnail"].(type) {
	case string:
		return t
	case map[string]any:
		return stringField(t, "url")
	}
	return ""
}
