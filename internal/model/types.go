package model

import (
	"strings"
	"time"
)

type Platform string

const (
	PlatformTwitch         Platform = "twitch"
	PlatformTwitchEventSub Platform = "twitch-eventsub"
	PlatformYouTube        Platform = "youtube"
	PlatformTikTok         Platform = "tiktok"
	PlatformTikTokGift     Platform = "tiktok-gift"
)

var knownPlatforms = map[Platform]struct{}{
	PlatformTwitch:         {},
	PlatformTwitchEventSub: {},
	PlatformYouTube:        {},
	PlatformTikTok:         {},
	PlatformTikTokGift:     {},
}

// ParsePlatform lower-cases and trims tag. ok is false for tags outside the
// supported set.
func ParsePlatform(tag string) (Platform, bool) {
	p := Platform(strings.ToLower(strings.TrimSpace(tag)))
	_, ok := knownPlatforms[p]
	return p, ok
}

func (p Platform) Valid() bool {
	_, ok := knownPlatforms[p]
	return ok
}

// Base maps adapter variants onto the platform they belong to, which is the
// key used for per-platform configuration and connection tracking.
func (p Platform) Base() Platform {
	switch p {
	case PlatformTwitchEventSub:
		return PlatformTwitch
	case PlatformTikTokGift:
		return PlatformTikTok
	}
	return p
}

// ChatEvent is the canonical shape produced by the normalizer.
type ChatEvent struct {
	Platform      Platform       `json:"platform"`
	UserID        string         `json:"userId"`
	Username      string         `json:"username"`
	Message       string         `json:"message"`
	Timestamp     string         `json:"timestamp"`
	IsMod         bool           `json:"isMod"`
	IsSubscriber  bool           `json:"isSubscriber"`
	IsBroadcaster bool           `json:"isBroadcaster"`
	Metadata      map[string]any `json:"metadata"`
	RawData       any            `json:"-"`
}

type CheermoteType struct {
	Prefix string `json:"prefix"`
	Count  int    `json:"count"`
}

type CheermoteSummary struct {
	TotalBits                    int             `json:"totalBits"`
	PrimaryType                  string          `json:"primaryType,omitempty"`
	CleanPrimaryTypeOriginalCase string          `json:"cleanPrimaryTypeOriginalCase,omitempty"`
	TextContent                  string          `json:"textContent"`
	MixedTypes                   bool            `json:"mixedTypes"`
	OtherTypesCount              int             `json:"otherTypesCount"`
	Types                        []CheermoteType `json:"types"`
}

// Empty reports whether no cheermote fragment contributed to the summary.
func (s CheermoteSummary) Empty() bool {
	return s.PrimaryType == ""
}

type ItemType string

const (
	ItemChat     ItemType = "chat"
	ItemGreeting ItemType = "greeting"
	ItemCommand  ItemType = "command"
	ItemGift     ItemType = "gift"
)

// Lower values play first.
const (
	PriorityChat     = 1
	PriorityGreeting = 2
	PriorityCommand  = 3
	PriorityGift     = 4
)

type CommandConfig struct {
	Command     string `json:"command" yaml:"command"`
	TriggerWord string `json:"triggerWord,omitempty" yaml:"-"`
	Media       string `json:"media,omitempty" yaml:"media"`
	Scene       string `json:"scene,omitempty" yaml:"scene"`
	DurationMs  int    `json:"durationMs,omitempty" yaml:"duration_ms"`
	Heavy       bool   `json:"heavy,omitempty" yaml:"heavy"`
}

type QueueItem struct {
	ID          string         `json:"id"`
	Type        ItemType       `json:"type"`
	Platform    Platform       `json:"platform"`
	Priority    int            `json:"priority"`
	Data        map[string]any `json:"data"`
	SkipChatTTS bool           `json:"skipChatTTS,omitempty"`
	VFXConfig   *CommandConfig `json:"vfxConfig,omitempty"`
	EnqueuedAt  time.Time      `json:"enqueuedAt"`
}

// Gift is a monetized interaction on its way to the spam detector.
type Gift struct {
	Platform   Platform `json:"platform"`
	UserID     string   `json:"userId"`
	Username   string   `json:"username"`
	GiftType   string   `json:"giftType"`
	UnitAmount int      `json:"unitAmount"`
	GiftCount  int      `json:"giftCount"`
	RepeatEnd  bool     `json:"repeatEnd"`
	GroupID    string   `json:"groupId,omitempty"`
	Timestamp  string   `json:"timestamp"`
}

// DonationSummary is the payload emitted when suppressed gifts are flushed.
type DonationSummary struct {
	UserID         string    `json:"userId"`
	Username       string    `json:"username"`
	Platform       Platform  `json:"platform"`
	TotalCoinValue int       `json:"totalCoinValue"`
	TotalGiftCount int       `json:"totalGiftCount"`
	GiftTypes      []string  `json:"giftTypes"`
	Message        string    `json:"message"`
	FlushedAt      time.Time `json:"flushedAt"`
}

type MonetizationResult struct {
	Detected bool    `json:"detected"`
	Keyword  string  `json:"keyword,omitempty"`
	TimingMs float64 `json:"timingMs"`
}
