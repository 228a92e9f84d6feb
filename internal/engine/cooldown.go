package engine

import (
	"strings"
	"sync"
	"time"
)

type CooldownConfig struct {
	User           time.Duration
	Global         time.Duration
	Heavy          time.Duration
	HeavyThreshold int
}

// CommandCooldown throttles command dispatch per user and per command. A user
// who fires HeavyThreshold commands inside the Heavy window, or who triggers a
// command marked heavy, waits out the Heavy cooldown instead of the User one.
type CommandCooldown struct {
	mu     sync.Mutex
	cfg    CooldownConfig
	user   map[string]time.Time
	global map[string]time.Time
	hits   map[string][]time.Time
	heavy  map[string]struct{}
}

func NewCommandCooldown(cfg CooldownConfig) *CommandCooldown {
	return &CommandCooldown{
		cfg:    cfg,
		user:   make(map[string]time.Time),
		global: make(map[string]time.Time),
		hits:   make(map[string][]time.Time),
		heavy:  make(map[string]struct{}),
	}
}

func (c *CommandCooldown) SetConfig(cfg CooldownConfig) {
	c.mu.Lock()
	c.cfg = cfg
	c.mu.Unlock()
}

// MarkHeavy flags commands that always use the heavy cooldown.
func (c *CommandCooldown) MarkHeavy(commands ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, cmd := range commands {
		if key := commandKey(cmd); key != "" {
			c.heavy[key] = struct{}{}
		}
	}
}

// CheckUserCooldown reports whether userID may run command at now.
func (c *CommandCooldown) CheckUserCooldown(userID, command string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	last, ok := c.user[userID]
	if !ok {
		return true
	}
	return now.Sub(last) >= c.userWindow(userID, command, now)
}

// CheckGlobalCooldown reports whether command may run for anyone at now.
func (c *CommandCooldown) CheckGlobalCooldown(command string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cfg.Global <= 0 {
		return true
	}
	last, ok := c.global[commandKey(command)]
	if !ok {
		return true
	}
	return now.Sub(last) >= c.cfg.Global
}

func (c *CommandCooldown) UpdateUserCooldown(userID string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.user[userID] = now
	if c.cfg.Heavy <= 0 || c.cfg.HeavyThreshold <= 0 {
		return
	}
	cutoff := now.Add(-c.cfg.Heavy)
	kept := c.hits[userID][:0]
	for _, ts := range c.hits[userID] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	c.hits[userID] = append(kept, now)
}

func (c *CommandCooldown) UpdateGlobalCooldown(command string, now time.Time) {
	c.mu.Lock()
	c.global[commandKey(command)] = now
	c.mu.Unlock()
}

func (c *CommandCooldown) userWindow(userID, command string, now time.Time) time.Duration {
	window := c.cfg.User
	if c.cfg.Heavy <= 0 {
		return window
	}
	if _, ok := c.heavy[commandKey(command)]; ok {
		return max(window, c.cfg.Heavy)
	}
	if c.cfg.HeavyThreshold > 0 {
		cutoff := now.Add(-c.cfg.Heavy)
		recent := 0
		for _, ts := range c.hits[userID] {
			if ts.After(cutoff) {
				recent++
			}
		}
		if recent >= c.cfg.HeavyThreshold {
			return max(window, c.cfg.Heavy)
		}
	}
	return window
}

// Prune drops entries older than every configured window.
func (c *CommandCooldown) Prune(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	keep := max(c.cfg.User, c.cfg.Global, c.cfg.Heavy)
	for k, ts := range c.user {
		if now.Sub(ts) > keep {
			delete(c.user, k)
			delete(c.hits, k)
		}
	}
	for k, ts := range c.global {
		if now.Sub(ts) > keep {
			delete(c.global, k)
		}
	}
}

func (c *CommandCooldown) Reset() {
	c.mu.Lock()
	c.user = make(map[string]time.Time)
	c.global = make(map[string]time.Time)
	c.hits = make(map[string][]time.Time)
	c.mu.Unlock()
}

func commandKey(command string) string {
	return strings.ToLower(strings.TrimSpace(command))
}
