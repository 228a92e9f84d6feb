// Package engine holds the per-message guards the router consults before it
// enqueues anything: ignored users, duplicate message ids and command
// cooldowns.
package engine

import (
	"sync/atomic"
	"time"

	"chatrelay/internal/config"
	"chatrelay/internal/model"
)

// Guards bundles the guards behind one handle so a config reload can swap
// their settings without rebuilding the router.
type Guards struct {
	Cooldown *CommandCooldown
	Dedupe   *DedupeCache
	filter   atomic.Pointer[UserFilter]
}

func NewGuards(cfg *config.Config) *Guards {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	g := &Guards{
		Cooldown: NewCommandCooldown(CooldownFromConfig(cfg)),
		Dedupe:   NewDedupeCache(msDuration(cfg.Chat.MessageDedupeWindowMs.Value)),
	}
	g.filter.Store(BuildUserFilter(cfg))
	return g
}

// Apply installs settings from cfg. Cooldown history and seen ids are kept.
func (g *Guards) Apply(cfg *config.Config, heavy ...string) {
	g.Cooldown.SetConfig(CooldownFromConfig(cfg))
	g.Cooldown.MarkHeavy(heavy...)
	g.Dedupe.SetTTL(msDuration(cfg.Chat.MessageDedupeWindowMs.Value))
	g.filter.Store(BuildUserFilter(cfg))
}

func (g *Guards) IsIgnored(platform model.Platform, userID, username string) bool {
	return g.filter.Load().IsIgnored(platform, userID, username)
}

// Reset forgets cooldown history and seen message ids.
func (g *Guards) Reset() {
	g.Cooldown.Reset()
	g.Dedupe.Reset()
}

// Prune drops cooldown entries that can no longer block anything.
func (g *Guards) Prune(now time.Time) {
	g.Cooldown.Prune(now)
}

func CooldownFromConfig(cfg *config.Config) CooldownConfig {
	return CooldownConfig{
		User:           msDuration(cfg.Chat.UserCommandCooldownMs.Value),
		Global:         msDuration(cfg.Chat.GlobalCommandCooldownMs.Value),
		Heavy:          msDuration(cfg.Chat.HeavyCommandCooldownMs.Value),
		HeavyThreshold: cfg.Chat.HeavyCommandThreshold.Value,
	}
}

func msDuration(ms int) time.Duration {
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}
