package normalize

import (
	"strings"

	"chatrelay/internal/model"
)

// NormalizeTikTok converts a chat or gift payload. Gift fields stay reachable
// through RawData; use ExtractGift to read them.
func NormalizeTikTok(data map[string]any, platform model.Platform, resolver Resolver) (model.ChatEvent, error) {
	user := asMap(data["user"])
	if user == nil {
		return model.ChatEvent{}, missingField(platform, "user")
	}
	userID, username, err := tiktokIdentity(platform, user)
	if err != nil {
		return model.ChatEvent{}, err
	}
	ts, err := resolveTimestamp(resolver, platform, data)
	if err != nil {
		return model.ChatEvent{}, err
	}

	message := ""
	if s, ok := data["comment"].(string); ok {
		message = strings.TrimSpace(s)
	}

	isMod, isSub := tiktokRoles(user)
	metadata := map[string]any{
		"uniqueId":       userID,
		"profilePicture": tiktokProfilePicture(user),
	}
	if id := stringField(user, "userId"); id != "" {
		metadata["numericUserId"] = id
	}
	if role, ok := intField(user, "followRole"); ok {
		metadata["followRole"] = role
	}
	if badges, ok := user["userBadges"].([]any); ok && len(badges) > 0 {
		metadata["userBadges"] = badges
	}
	if ct := stringField(asMap(data["common"]), "createTime"); ct != "" {
		metadata["createTime"] = ct
	} else if ct := stringField(data, "createTime"); ct != "" {
		metadata["createTime"] = ct
	}
	if msgID := stringField(data, "msgId"); msgID != "" {
		metadata["messageId"] = msgID
	} else if msgID := stringField(asMap(data["common"]), "msgId"); msgID != "" {
		metadata["messageId"] = msgID
	}

	return model.ChatEvent{
		Platform:     platform,
		UserID:       userID,
		Username:     username,
		Message:      message,
		Timestamp:    ts,
		IsMod:        isMod,
		IsSubscriber: isSub,
		Metadata:     metadata,
		RawData:      data,
	}, nil
}

func tiktokIdentity(platform model.Platform, user map[string]any) (string, string, error) {
	userID := stringField(user, "uniqueId", "userId")
	if userID == "" {
		return "", "", missingField(platform, "user.uniqueId")
	}
	username := stringField(user, "nickname", "uniqueId")
	if username == "" {
		return "", "", missingField(platform, "user.nickname")
	}
	return userID, username, nil
}

func tiktokRoles(user map[string]any) (bool, bool) {
	isMod := boolField(user, "isModerator")
	isSub := boolField(user, "isSubscriber")
	badges, _ := user["userBadges"].([]any)
	for _, b := range badges {
		badge := asMap(b)
		kind := strings.ToLower(stringField(badge, "type", "name", "badgeSceneType"))
		switch {
		case strings.Contains(kind, "moderator"):
			isMod = true
		case strings.Contains(kind, "subscriber"):
			isSub = true
		}
	}
	return isMod, isSub
}

func tiktokProfilePicture(user map[string]any) string {
	if s := stringField(user, "profilePictureUrl"); s != "" {
		return s
	}
	pic := asMap(user["profilePicture"])
	urls, _ := pic["url"].([]any)
	for _, u := range urls {
		if s, ok := u.(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// ExtractGift reads the gift specific fields of a TikTok gift payload. ok is
// false when the payload carries no gift details.
func ExtractGift(data map[string]any, resolver Resolver) (model.Gift, bool, error) {
	details := asMap(data["giftDetails"])
	if details == nil {
		return model.Gift{}, false, nil
	}
	platform := model.PlatformTikTokGift
	user := asMap(data["user"])
	if user == nil {
		return model.Gift{}, true, missingField(platform, "user")
	}
	userID, username, err := tiktokIdentity(platform, user)
	if err != nil {
		return model.Gift{}, true, err
	}
	ts, err := resolveTimestamp(resolver, platform, data)
	if err != nil {
		return model.Gift{}, true, err
	}
	unit, _ := intField(details, "diamondCount")
	count, ok := intField(data, "repeatCount")
	if !ok || count <= 0 {
		count = 1
	}
	giftType := stringField(details, "giftName")
	if giftType == "" {
		giftType = stringField(data, "giftName")
	}
	if giftType == "" {
		giftType = "gift"
	}
	return model.Gift{
		Platform:   platform,
		UserID:     userID,
		Username:   username,
		GiftType:   giftType,
		UnitAmount: unit,
		GiftCount:  count,
		RepeatEnd:  boolField(data, "repeatEnd"),
		GroupID:    stringField(data, "groupId"),
		Timestamp:  ts,
	}, true, nil
}

// GiftStreaking reports whether a streakable gift is still mid-combo; only the
// final event of a streak should be routed.
func GiftStreaking(data map[string]any) bool {
	details := asMap(data["giftDetails"])
	giftType, _ := intField(details, "giftType")
	return giftType == 1 && !boolField(data, "repeatEnd")
}
