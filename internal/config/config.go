package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"chatrelay/internal/model"
)

type Config struct {
	LogLevel     string             `json:"log_level" yaml:"log_level"`
	LogFormat    string             `json:"log_format" yaml:"log_format"`
	Chat         ChatConfig         `json:"chat" yaml:"chat"`
	TTS          TTSConfig          `json:"tts" yaml:"tts"`
	Platforms    PlatformsConfig    `json:"platforms" yaml:"platforms"`
	Spam         SpamConfig         `json:"spam" yaml:"spam"`
	Commands     CommandsConfig     `json:"commands" yaml:"commands"`
	Monetization MonetizationConfig `json:"monetization" yaml:"monetization"`
	GracefulExit GracefulExitConfig `json:"graceful_exit" yaml:"graceful_exit"`
	Ingest       IngestConfig       `json:"ingest" yaml:"ingest"`
	Queue        QueueConfig        `json:"queue" yaml:"queue"`
	Storage      StorageConfig      `json:"storage" yaml:"storage"`
	API          APIConfig          `json:"api" yaml:"api"`

	// Warnings lists lenient fields that failed to parse and were reset.
	Warnings []string `json:"-" yaml:"-"`
}

type ChatConfig struct {
	MessagesEnabled         Bool     `json:"messages_enabled" yaml:"messages_enabled"`
	GreetingsEnabled        Bool     `json:"greetings_enabled" yaml:"greetings_enabled"`
	FilterOldMessages       Bool     `json:"filter_old_messages" yaml:"filter_old_messages"`
	MaxMessageLength        Int      `json:"max_message_length" yaml:"max_message_length"`
	UserCommandCooldownMs   Int      `json:"user_command_cooldown_ms" yaml:"user_command_cooldown_ms"`
	GlobalCommandCooldownMs Int      `json:"global_command_cooldown_ms" yaml:"global_command_cooldown_ms"`
	HeavyCommandCooldownMs  Int      `json:"heavy_command_cooldown_ms" yaml:"heavy_command_cooldown_ms"`
	HeavyCommandThreshold   Int      `json:"heavy_command_threshold" yaml:"heavy_command_threshold"`
	MessageDedupeWindowMs   Int      `json:"message_dedupe_window_ms" yaml:"message_dedupe_window_ms"`
	IgnoredUsers            []string `json:"ignored_users" yaml:"ignored_users"`
}

type TTSConfig struct {
	DeduplicationEnabled Bool `json:"deduplication_enabled" yaml:"deduplication_enabled"`
}

// PlatformConfig holds per-platform overrides. Nil pointers inherit the
// global value.
type PlatformConfig struct {
	MessagesEnabled  *Bool        `json:"messages_enabled,omitempty" yaml:"messages_enabled,omitempty"`
	GreetingsEnabled *Bool        `json:"greetings_enabled,omitempty" yaml:"greetings_enabled,omitempty"`
	Spam             SpamOverride `json:"spam" yaml:"spam"`
	IgnoredUsers     []string     `json:"ignored_users" yaml:"ignored_users"`
}

type PlatformsConfig struct {
	Twitch  PlatformConfig `json:"twitch" yaml:"twitch"`
	YouTube PlatformConfig `json:"youtube" yaml:"youtube"`
	TikTok  PlatformConfig `json:"tiktok" yaml:"tiktok"`
}

// For returns the overrides of the platform family p belongs to. Unknown
// platforms get an empty override set.
func (p PlatformsConfig) For(platform model.Platform) PlatformConfig {
	switch platform.Base() {
	case model.PlatformTwitch:
		return p.Twitch
	case model.PlatformYouTube:
		return p.YouTube
	case model.PlatformTikTok:
		return p.TikTok
	}
	return PlatformConfig{}
}

// MessagesEnabled combines the global switch with the platform override.
func (c *Config) MessagesEnabled(platform model.Platform) bool {
	if !c.Chat.MessagesEnabled.Value {
		return false
	}
	if o := c.Platforms.For(platform).MessagesEnabled; o != nil {
		return o.Value
	}
	return true
}

// GreetingsEnabled is the platform override when present, otherwise the
// global value.
func (c *Config) GreetingsEnabled(platform model.Platform) bool {
	if o := c.Platforms.For(platform).GreetingsEnabled; o != nil {
		return o.Value && c.Chat.GreetingsEnabled.Value
	}
	return c.Chat.GreetingsEnabled.Value
}

type SpamConfig struct {
	Enabled                    Bool `json:"enabled" yaml:"enabled"`
	LowValueThreshold          Int  `json:"low_value_threshold" yaml:"low_value_threshold"`
	DetectionWindow            Int  `json:"detection_window" yaml:"detection_window"`
	MaxIndividualNotifications Int  `json:"max_individual_notifications" yaml:"max_individual_notifications"`
	CleanupInterval            Int  `json:"cleanup_interval" yaml:"cleanup_interval"`
	MaxTrackedUsers            Int  `json:"max_tracked_users" yaml:"max_tracked_users"`
}

type SpamOverride struct {
	Enabled                    *Bool `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	LowValueThreshold          *Int  `json:"low_value_threshold,omitempty" yaml:"low_value_threshold,omitempty"`
	DetectionWindow            *Int  `json:"detection_window,omitempty" yaml:"detection_window,omitempty"`
	MaxIndividualNotifications *Int  `json:"max_individual_notifications,omitempty" yaml:"max_individual_notifications,omitempty"`
}

type CommandsConfig struct {
	Enabled  bool                           `json:"enabled" yaml:"enabled"`
	Prefix   string                         `json:"prefix" yaml:"prefix"`
	Items    map[string]model.CommandConfig `json:"items" yaml:"items"`
	Aliases  map[string]string              `json:"aliases" yaml:"aliases"`
	Greeting *model.CommandConfig           `json:"greeting,omitempty" yaml:"greeting,omitempty"`
}

type MonetizationConfig struct {
	Keywords []string `json:"keywords" yaml:"keywords"`
}

type GracefulExitConfig struct {
	Enabled          Bool `json:"enabled" yaml:"enabled"`
	MessageThreshold Int  `json:"message_threshold" yaml:"message_threshold"`
}

type IngestConfig struct {
	REST      RESTConfig      `json:"rest" yaml:"rest"`
	TCPStream TCPStreamConfig `json:"tcp_stream" yaml:"tcp_stream"`
	FileTail  FileTailConfig  `json:"file_tail" yaml:"file_tail"`
	Kafka     KafkaConfig     `json:"kafka" yaml:"kafka"`
	TwitchIRC TwitchIRCConfig `json:"twitch_irc" yaml:"twitch_irc"`
}

// RESTConfig limits each client to RateLimit requests per second with Burst
// headroom. A non-positive RateLimit disables limiting.
type RESTConfig struct {
	Enabled   bool    `json:"enabled" yaml:"enabled"`
	Addr      string  `json:"addr" yaml:"addr"`
	RateLimit float64 `json:"rate_limit" yaml:"rate_limit"`
	Burst     int     `json:"burst" yaml:"burst"`
}

type TCPStreamConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type FileTailConfig struct {
	Enabled    bool     `json:"enabled" yaml:"enabled"`
	StartAtEnd bool     `json:"start_at_end" yaml:"start_at_end"`
	Files      []string `json:"files" yaml:"files"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

type TwitchIRCConfig struct {
	Enabled    bool     `json:"enabled" yaml:"enabled"`
	Username   string   `json:"username" yaml:"username"`
	OAuthToken string   `json:"oauth_token" yaml:"oauth_token"`
	Channels   []string `json:"channels" yaml:"channels"`
}

type QueueConfig struct {
	Capacity     int           `json:"capacity" yaml:"capacity"`
	HistoryLimit int           `json:"history_limit" yaml:"history_limit"`
	Webhook      WebhookConfig `json:"webhook" yaml:"webhook"`
}

type WebhookConfig struct {
	Enabled          bool          `json:"enabled" yaml:"enabled"`
	URL              string        `json:"url" yaml:"url"`
	Timeout          time.Duration `json:"timeout" yaml:"timeout"`
	FailureThreshold uint32        `json:"failure_threshold" yaml:"failure_threshold"`
	OpenTimeout      time.Duration `json:"open_timeout" yaml:"open_timeout"`
}

type StorageConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	Driver    string `json:"driver" yaml:"driver"`
	DSN       string `json:"dsn" yaml:"dsn"`
	SessionID string `json:"session_id" yaml:"session_id"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

const (
	DefaultSpamEnabled                    = true
	DefaultSpamLowValueThreshold          = 10
	DefaultSpamDetectionWindow            = 5
	DefaultSpamMaxIndividualNotifications = 2
	DefaultSpamCleanupInterval            = 30
)

func DefaultConfig() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "json",
		Chat: ChatConfig{
			MessagesEnabled:         NewBool(true),
			GreetingsEnabled:        NewBool(true),
			FilterOldMessages:       NewBool(true),
			MaxMessageLength:        NewInt(500),
			UserCommandCooldownMs:   NewInt(60000),
			GlobalCommandCooldownMs: NewInt(5000),
			HeavyCommandCooldownMs:  NewInt(300000),
			HeavyCommandThreshold:   NewInt(4),
			MessageDedupeWindowMs:   NewInt(60000),
		},
		TTS: TTSConfig{DeduplicationEnabled: NewBool(false)},
		Spam: SpamConfig{
			Enabled:                    NewBool(DefaultSpamEnabled),
			LowValueThreshold:          NewInt(DefaultSpamLowValueThreshold),
			DetectionWindow:            NewInt(DefaultSpamDetectionWindow),
			MaxIndividualNotifications: NewInt(DefaultSpamMaxIndividualNotifications),
			CleanupInterval:            NewInt(DefaultSpamCleanupInterval),
		},
		Commands: CommandsConfig{Enabled: true, Prefix: "!"},
		Monetization: MonetizationConfig{
			Keywords: []string{"bits", "cheer", "donat", "superchat", "gift", "sub"},
		},
		GracefulExit: GracefulExitConfig{Enabled: NewBool(false), MessageThreshold: NewInt(0)},
		Ingest: IngestConfig{
			REST:      RESTConfig{Enabled: true, Addr: ":8080", RateLimit: 50, Burst: 100},
			TCPStream: TCPStreamConfig{Enabled: false, Addr: ":9000"},
			FileTail:  FileTailConfig{Enabled: false, StartAtEnd: true},
			Kafka:     KafkaConfig{Enabled: false},
			TwitchIRC: TwitchIRCConfig{Enabled: false},
		},
		Queue: QueueConfig{
			Capacity:     1000,
			HistoryLimit: 500,
			Webhook:      WebhookConfig{Timeout: 5 * time.Second, FailureThreshold: 5, OpenTimeout: 30 * time.Second},
		},
		Storage: StorageConfig{Enabled: false, Driver: "sqlite", DSN: "file:chatrelay.db?_pragma=busy_timeout(5000)"},
		API:     APIConfig{Enabled: true, Addr: ":8081"},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	applyEnv(cfg)
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("CHATRELAY_TWITCH_OAUTH_TOKEN")); v != "" {
		cfg.Ingest.TwitchIRC.OAuthToken = v
	}
	if v := strings.TrimSpace(os.Getenv("CHATRELAY_STORAGE_DSN")); v != "" {
		cfg.Storage.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("CHATRELAY_LOG_LEVEL")); v != "" {
		cfg.LogLevel = v
	}
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()
	var warnings []string
	resetBool := func(name string, b *Bool, def Bool) {
		if raw, bad := b.Invalid(); bad {
			warnings = append(warnings, fmt.Sprintf("%s: cannot parse %q as boolean, using %t", name, raw, def.Value))
			*b = def
		}
	}
	resetInt := func(name string, i *Int, def Int) {
		if raw, bad := i.Invalid(); bad {
			warnings = append(warnings, fmt.Sprintf("%s: cannot parse %q as integer, using %d", name, raw, def.Value))
			*i = def
		}
	}

	resetBool("chat.messages_enabled", &cfg.Chat.MessagesEnabled, defaults.Chat.MessagesEnabled)
	resetBool("chat.greetings_enabled", &cfg.Chat.GreetingsEnabled, defaults.Chat.GreetingsEnabled)
	resetBool("chat.filter_old_messages", &cfg.Chat.FilterOldMessages, defaults.Chat.FilterOldMessages)
	resetInt("chat.max_message_length", &cfg.Chat.MaxMessageLength, defaults.Chat.MaxMessageLength)
	resetInt("chat.user_command_cooldown_ms", &cfg.Chat.UserCommandCooldownMs, defaults.Chat.UserCommandCooldownMs)
	resetInt("chat.global_command_cooldown_ms", &cfg.Chat.GlobalCommandCooldownMs, defaults.Chat.GlobalCommandCooldownMs)
	resetInt("chat.heavy_command_cooldown_ms", &cfg.Chat.HeavyCommandCooldownMs, defaults.Chat.HeavyCommandCooldownMs)
	resetInt("chat.heavy_command_threshold", &cfg.Chat.HeavyCommandThreshold, defaults.Chat.HeavyCommandThreshold)
	resetInt("chat.message_dedupe_window_ms", &cfg.Chat.MessageDedupeWindowMs, defaults.Chat.MessageDedupeWindowMs)
	resetBool("tts.deduplication_enabled", &cfg.TTS.DeduplicationEnabled, defaults.TTS.DeduplicationEnabled)
	resetBool("graceful_exit.enabled", &cfg.GracefulExit.Enabled, defaults.GracefulExit.Enabled)
	resetInt("graceful_exit.message_threshold", &cfg.GracefulExit.MessageThreshold, defaults.GracefulExit.MessageThreshold)

	resetBool("spam.enabled", &cfg.Spam.Enabled, defaults.Spam.Enabled)
	resetInt("spam.low_value_threshold", &cfg.Spam.LowValueThreshold, defaults.Spam.LowValueThreshold)
	resetInt("spam.detection_window", &cfg.Spam.DetectionWindow, defaults.Spam.DetectionWindow)
	resetInt("spam.max_individual_notifications", &cfg.Spam.MaxIndividualNotifications, defaults.Spam.MaxIndividualNotifications)
	resetInt("spam.cleanup_interval", &cfg.Spam.CleanupInterval, defaults.Spam.CleanupInterval)
	resetInt("spam.max_tracked_users", &cfg.Spam.MaxTrackedUsers, defaults.Spam.MaxTrackedUsers)

	platforms := map[string]*PlatformConfig{
		"twitch":  &cfg.Platforms.Twitch,
		"youtube": &cfg.Platforms.YouTube,
		"tiktok":  &cfg.Platforms.TikTok,
	}
	for name, pc := range platforms {
		prefix := "platforms." + name
		dropBool := func(field string, b **Bool) {
			if *b == nil {
				return
			}
			if raw, bad := (*b).Invalid(); bad {
				warnings = append(warnings, fmt.Sprintf("%s.%s: cannot parse %q as boolean, inheriting global value", prefix, field, raw))
				*b = nil
			}
		}
		dropInt := func(field string, i **Int) {
			if *i == nil {
				return
			}
			if raw, bad := (*i).Invalid(); bad {
				warnings = append(warnings, fmt.Sprintf("%s.%s: cannot parse %q as integer, inheriting global value", prefix, field, raw))
				*i = nil
			}
		}
		dropBool("messages_enabled", &pc.MessagesEnabled)
		dropBool("greetings_enabled", &pc.GreetingsEnabled)
		dropBool("spam.enabled", &pc.Spam.Enabled)
		dropInt("spam.low_value_threshold", &pc.Spam.LowValueThreshold)
		dropInt("spam.detection_window", &pc.Spam.DetectionWindow)
		dropInt("spam.max_individual_notifications", &pc.Spam.MaxIndividualNotifications)
	}

	if cfg.Chat.MaxMessageLength.Value <= 0 {
		cfg.Chat.MaxMessageLength = defaults.Chat.MaxMessageLength
	}
	if cfg.Spam.CleanupInterval.Value < 0 {
		cfg.Spam.CleanupInterval = defaults.Spam.CleanupInterval
	}
	if cfg.Commands.Prefix == "" {
		cfg.Commands.Prefix = "!"
	}
	if cfg.Queue.Capacity <= 0 {
		cfg.Queue.Capacity = defaults.Queue.Capacity
	}
	if cfg.Queue.HistoryLimit <= 0 {
		cfg.Queue.HistoryLimit = defaults.Queue.HistoryLimit
	}
	if cfg.Queue.Webhook.Timeout <= 0 {
		cfg.Queue.Webhook.Timeout = defaults.Queue.Webhook.Timeout
	}
	if cfg.Queue.Webhook.FailureThreshold == 0 {
		cfg.Queue.Webhook.FailureThreshold = defaults.Queue.Webhook.FailureThreshold
	}
	if cfg.Queue.Webhook.OpenTimeout <= 0 {
		cfg.Queue.Webhook.OpenTimeout = defaults.Queue.Webhook.OpenTimeout
	}
	if cfg.Ingest.REST.RateLimit > 0 && cfg.Ingest.REST.Burst <= 0 {
		cfg.Ingest.REST.Burst = max(1, int(cfg.Ingest.REST.RateLimit))
	}
	if cfg.Storage.SessionID == "" {
		cfg.Storage.SessionID = "default"
	}
	cfg.Warnings = warnings
}

func Validate(cfg *Config) error {
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Ingest.REST.Enabled && cfg.Ingest.REST.Addr == "" {
		return errors.New("ingest.rest.addr required when ingest.rest.enabled is true")
	}
	if cfg.Ingest.TCPStream.Enabled && cfg.Ingest.TCPStream.Addr == "" {
		return errors.New("ingest.tcp_stream.addr required when ingest.tcp_stream.enabled is true")
	}
	if cfg.Ingest.FileTail.Enabled && len(cfg.Ingest.FileTail.Files) == 0 {
		return errors.New("ingest.file_tail.files required when ingest.file_tail.enabled is true")
	}
	if cfg.Ingest.Kafka.Enabled {
		if len(cfg.Ingest.Kafka.Brokers) == 0 || cfg.Ingest.Kafka.Topic == "" || cfg.Ingest.Kafka.GroupID == "" {
			return errors.New("ingest.kafka requires brokers, topic, group_id")
		}
	}
	if cfg.Ingest.TwitchIRC.Enabled {
		if cfg.Ingest.TwitchIRC.Username == "" || len(cfg.Ingest.TwitchIRC.Channels) == 0 {
			return errors.New("ingest.twitch_irc requires username and channels")
		}
	}
	if cfg.Queue.Webhook.Enabled && cfg.Queue.Webhook.URL == "" {
		return errors.New("queue.webhook.url required when queue.webhook.enabled is true")
	}
	if cfg.Storage.Enabled {
		switch strings.ToLower(cfg.Storage.Driver) {
		case "sqlite", "postgres", "postgresql":
		default:
			return fmt.Errorf("storage.driver %q not supported", cfg.Storage.Driver)
		}
	}
	for key := range cfg.Commands.Items {
		if strings.TrimSpace(key) == "" {
			return errors.New("commands.items contains an empty command key")
		}
	}
	return nil
}

type Manager struct {
	path    string
	cfg     atomic.Value
	modTime atomic.Int64
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	info, err := os.Stat(path)
	if err == nil {
		m.modTime.Store(info.ModTime().UnixNano())
	}
	return m, nil
}

// NewStaticManager wraps an in-memory config; Reload and Watch are no-ops
// without a path.
func NewStaticManager(cfg *Config) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	m := &Manager{}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	if m.path == "" {
		return m.Get(), nil
	}
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime.Store(info.ModTime().UnixNano())
	}
	return cfg, nil
}

// Update validates cfg, writes it back to the config file when the manager has
// one, and makes it current.
func (m *Manager) Update(cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if err := Validate(cfg); err != nil {
		return err
	}
	if m.path != "" {
		if err := Save(m.path, cfg); err != nil {
			return err
		}
		if info, err := os.Stat(m.path); err == nil {
			m.modTime.Store(info.ModTime().UnixNano())
		}
	}
	m.cfg.Store(cfg)
	return nil
}

func (m *Manager) NeedsReload() (bool, error) {
	if m.path == "" {
		return false, nil
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().UnixNano() > m.modTime.Load(), nil
}

func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
