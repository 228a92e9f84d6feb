package engine

import (
	"strings"

	"chatrelay/internal/config"
	"chatrelay/internal/model"
)

// UserFilter holds the ignored-user lists: a global set plus per-platform sets.
// Bots and the streamer's own relay accounts usually live here.
type UserFilter struct {
	global   map[string]struct{}
	platform map[model.Platform]map[string]struct{}
}

func BuildUserFilter(cfg *config.Config) *UserFilter {
	f := &UserFilter{global: buildNameSet(cfg.Chat.IgnoredUsers)}
	per := map[model.Platform][]string{
		model.PlatformTwitch:  cfg.Platforms.Twitch.IgnoredUsers,
		model.PlatformYouTube: cfg.Platforms.YouTube.IgnoredUsers,
		model.PlatformTikTok:  cfg.Platforms.TikTok.IgnoredUsers,
	}
	for p, list := range per {
		set := buildNameSet(list)
		if set == nil {
			continue
		}
		if f.platform == nil {
			f.platform = make(map[model.Platform]map[string]struct{})
		}
		f.platform[p] = set
	}
	return f
}

func buildNameSet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		name := normalizeName(v)
		if name == "" {
			continue
		}
		set[name] = struct{}{}
	}
	if len(set) == 0 {
		return nil
	}
	return set
}

// IsIgnored matches either the user id or the display name.
func (f *UserFilter) IsIgnored(platform model.Platform, userID, username string) bool {
	if f == nil {
		return false
	}
	for _, candidate := range []string{normalizeName(userID), normalizeName(username)} {
		if candidate == "" {
			continue
		}
		if _, ok := f.global[candidate]; ok {
			return true
		}
		if set, ok := f.platform[platform.Base()]; ok {
			if _, ok := set[candidate]; ok {
				return true
			}
		}
	}
	return false
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), "@"))
}
