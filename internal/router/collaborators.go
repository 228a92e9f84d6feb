package router

import (
	"context"
	"time"

	"chatrelay/internal/model"
	"chatrelay/internal/spam"
)

// DisplayQueue receives routed items. AddItem may block on a remote sink.
type DisplayQueue interface {
	AddItem(ctx context.Context, item model.QueueItem) error
}

type VFXCommandService interface {
	SelectVFXCommand(ctx context.Context, command, message string) (*model.CommandConfig, error)
	GetVFXConfig(ctx context.Context, kind string, payload map[string]any) (*model.CommandConfig, error)
}

// CommandParser is the synchronous fallback used when no VFXCommandService is
// configured.
type CommandParser interface {
	Lookup(command, original string) *model.CommandConfig
}

type CommandCooldownService interface {
	CheckUserCooldown(userID, command string, now time.Time) bool
	CheckGlobalCooldown(command string, now time.Time) bool
	UpdateUserCooldown(userID string, now time.Time)
	UpdateGlobalCooldown(command string, now time.Time)
}

type UserTracker interface {
	IsFirstMessage(ctx context.Context, platform model.Platform, userID, username string) bool
}

type PlatformLifecycle interface {
	GetPlatformConnectionTime(platform model.Platform) (time.Time, bool)
}

type MonetizationDetector interface {
	DetectMonetization(text string) (model.MonetizationResult, error)
}

type GracefulExit interface {
	IsEnabled() bool
	IncrementMessageCount() bool
	TriggerExit()
}

type GiftAggregator interface {
	Handle(userID, username string, unitAmount int, giftType string, giftCount int, platform model.Platform) spam.Decision
}

type Deduper interface {
	Seen(key string, now time.Time) bool
}

type IgnoreList interface {
	IsIgnored(platform model.Platform, userID, username string) bool
}

type Recorder interface {
	RecordEnqueued(platform model.Platform, itemType model.ItemType)
	RecordSkipped(platform model.Platform, reason string)
	RecordSuppressed(platform model.Platform)
	ObserveRoute(platform model.Platform, d time.Duration)
}
