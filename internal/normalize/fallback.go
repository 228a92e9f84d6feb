package normalize

import (
	"chatrelay/internal/model"
)

// identityHolders are the nested objects that carry user fields across the
// supported payload shapes.
var identityHolders = []string{"user", "author", "context", "event", "common"}

// RecoverFallback inspects the arguments of a rejected Normalize call for the
// fields CreateFallback needs and builds a fallback event from them. It
// returns nil when no username or timestamp can be recovered.
func RecoverFallback(platform model.Platform, args []any, cause error, resolver Resolver) *model.ChatEvent {
	if resolver == nil {
		resolver = TimestampResolver{}
	}
	in := FallbackInput{Platform: platform}
	if cause != nil {
		in.Error = cause.Error()
	}

	var maps []map[string]any
	for _, a := range args {
		switch v := a.(type) {
		case map[string]any:
			maps = append(maps, v)
			for _, key := range identityHolders {
				if inner := asMap(v[key]); inner != nil {
					maps = append(maps, inner)
				}
			}
		case string:
			if in.Username == "" && len(maps) == 0 {
				in.Username = v
			} else if in.Message == "" {
				in.Message = v
			}
		}
	}

	for _, m := range maps {
		if in.Username == "" {
			in.Username = stringField(m, "display-name", "displayName", "username", "nickname", "uniqueId", "chatter_user_name", "name", "login")
		}
		if in.UserID == "" {
			in.UserID = stringField(m, "user-id", "userId", "chatter_user_id", "channelId")
		}
		if in.Message == "" {
			in.Message = stringField(m, "comment", "text", "message")
		}
		if in.Timestamp == "" {
			if ts, err := resolver.ExtractTimestamp(platform, m); err == nil {
				in.Timestamp = ts
			}
		}
	}
	return CreateFallback(in)
}
