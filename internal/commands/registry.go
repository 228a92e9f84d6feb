// Package commands resolves chat command tokens to VFX configurations.
package commands

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"chatrelay/internal/config"
	"chatrelay/internal/model"
)

const KindGreetings = "greetings"

type Registry struct {
	mu       sync.RWMutex
	enabled  bool
	prefix   string
	items    map[string]model.CommandConfig
	aliases  map[string]string
	greeting *model.CommandConfig
}

func NewRegistry(cfg config.CommandsConfig) *Registry {
	r := &Registry{}
	r.Update(cfg)
	return r
}

// Update swaps in a new command table. Keys and aliases are matched
// case-insensitively and get the prefix added when configured without it.
func (r *Registry) Update(cfg config.CommandsConfig) {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "!"
	}
	items := make(map[string]model.CommandConfig, len(cfg.Items))
	for key, item := range cfg.Items {
		k := canonical(prefix, key)
		if k == "" {
			continue
		}
		item.Command = k
		items[k] = item
	}
	aliases := make(map[string]string, len(cfg.Aliases))
	for alias, target := range cfg.Aliases {
		a, t := canonical(prefix, alias), canonical(prefix, target)
		if a == "" || t == "" {
			continue
		}
		aliases[a] = t
	}
	var greeting *model.CommandConfig
	if cfg.Greeting != nil {
		g := *cfg.Greeting
		greeting = &g
	}
	r.mu.Lock()
	r.enabled = cfg.Enabled
	r.prefix = prefix
	r.items = items
	r.aliases = aliases
	r.greeting = greeting
	r.mu.Unlock()
}

func canonical(prefix, key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return ""
	}
	if !strings.HasPrefix(key, prefix) {
		key = prefix + key
	}
	return key
}

// Lookup resolves command, following aliases. The returned config carries the
// canonical key in Command and original in TriggerWord.
func (r *Registry) Lookup(command, original string) *model.CommandConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.enabled {
		return nil
	}
	key := strings.ToLower(strings.TrimSpace(command))
	if key == "" || !strings.HasPrefix(key, r.prefix) || key == r.prefix {
		return nil
	}
	if target, ok := r.aliases[key]; ok {
		key = target
	}
	item, ok := r.items[key]
	if !ok {
		return nil
	}
	item.TriggerWord = original
	return &item
}

// SelectVFXCommand is the asynchronous selector form of Lookup; message is the
// full chat line the token came from.
func (r *Registry) SelectVFXCommand(ctx context.Context, command, message string) (*model.CommandConfig, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.Lookup(command, command), nil
}

func (r *Registry) GetVFXConfig(ctx context.Context, kind string, payload map[string]any) (*model.CommandConfig, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch kind {
	case KindGreetings:
		r.mu.RLock()
		defer r.mu.RUnlock()
		if r.greeting == nil {
			return nil, nil
		}
		g := *r.greeting
		return &g, nil
	case "command":
		cmd, _ := payload["command"].(string)
		return r.Lookup(cmd, cmd), nil
	}
	return nil, fmt.Errorf("unknown vfx kind %q", kind)
}

// HeavyCommands lists the canonical keys flagged heavy.
func (r *Registry) HeavyCommands() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for key, item := range r.items {
		if item.Heavy {
			out = append(out, key)
		}
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}
