// Package spam coalesces bursts of low-value gifts from one viewer into a
// single aggregated notification.
package spam

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"chatrelay/internal/clock"
	"chatrelay/internal/logging"
	"chatrelay/internal/model"
)

type Decision struct {
	ShouldShow        bool    `json:"shouldShow"`
	AggregatedMessage *string `json:"aggregatedMessage"`
}

type FlushResult struct {
	ShouldShow        bool   `json:"shouldShow"`
	AggregatedMessage string `json:"aggregatedMessage"`
	TotalCoinValue    int    `json:"totalCoinValue"`
	TotalGiftCount    int    `json:"totalGiftCount"`
}

type Statistics struct {
	TrackedUsers       int  `json:"trackedUsers"`
	TotalNotifications int  `json:"totalNotifications"`
	Enabled            bool `json:"enabled"`
	Threshold          int  `json:"threshold"`
}

type userState struct {
	notifications   window
	aggregatedCount int
	lastReset       time.Time
	flushTimer      clock.Timer
	timerGen        uint64
	username        string
	platform        model.Platform
}

type Options struct {
	Logger               *slog.Logger
	Clock                clock.Clock
	OnAggregatedDonation func(model.DonationSummary)
	CleanupInterval      time.Duration
	DisableAutoCleanup   bool
	// MaxTrackedUsers evicts the state with the oldest lastReset once
	// exceeded. Zero means unbounded.
	MaxTrackedUsers int
}

type Detector struct {
	mu           sync.Mutex
	logger       *slog.Logger
	clock        clock.Clock
	profile      Profile
	users        map[string]*userState
	onAggregated func(model.DonationSummary)
	maxTracked   int
	interval     time.Duration
	cleanupTimer clock.Timer
	destroyed    bool
}

const defaultCleanupInterval = 30 * time.Second

func NewDetector(profile Profile, opts Options) *Detector {
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	interval := opts.CleanupInterval
	if interval <= 0 {
		interval = defaultCleanupInterval
	}
	profile.Global = profile.Global.sanitize()
	d := &Detector{
		logger:       logging.Component(opts.Logger, "spam"),
		clock:        clk,
		profile:      profile,
		users:        make(map[string]*userState),
		onAggregated: opts.OnAggregatedDonation,
		maxTracked:   opts.MaxTrackedUsers,
		interval:     interval,
	}
	if !opts.DisableAutoCleanup {
		d.mu.Lock()
		d.scheduleCleanupLocked()
		d.mu.Unlock()
	}
	return d
}

// SetOnAggregatedDonation replaces the flush callback.
func (d *Detector) SetOnAggregatedDonation(fn func(model.DonationSummary)) {
	d.mu.Lock()
	d.onAggregated = fn
	d.mu.Unlock()
}

// UpdateProfile applies new settings to subsequent decisions. Existing state
// is kept.
func (d *Detector) UpdateProfile(profile Profile) {
	profile.Global = profile.Global.sanitize()
	d.mu.Lock()
	d.profile = profile
	d.mu.Unlock()
}

func (d *Detector) IsLowValue(unitAmount int, platform model.Platform) bool {
	d.mu.Lock()
	s := d.profile.For(platform)
	d.mu.Unlock()
	return unitAmount < s.LowValueThreshold
}

// Handle decides whether a gift is shown individually. Unexpected failures
// fail open.
func (d *Detector) Handle(userID, username string, unitAmount int, giftType string, giftCount int, platform model.Platform) (decision Decision) {
	defer func() {
		if r := recover(); r != nil {
			if d.logger != nil {
				d.logger.Debug("spam detector recovered", "user_id", userID, "platform", platform)
				d.logger.Error("spam detector failure", "err", fmt.Sprint(r), "user_id", userID)
			}
			decision = Decision{ShouldShow: true}
		}
	}()

	if giftCount <= 0 {
		giftCount = 1
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return Decision{ShouldShow: true}
	}
	s := d.profile.For(platform)
	if !s.Enabled {
		return Decision{ShouldShow: true}
	}
	if unitAmount >= s.LowValueThreshold {
		return Decision{ShouldShow: true}
	}

	now := d.clock.Now()
	state, ok := d.users[userID]
	if !ok {
		d.evictOverflowLocked()
		state = &userState{lastReset: now, username: username, platform: platform}
		d.users[userID] = state
	}
	state.notifications.Evict(now.Add(-s.DetectionWindow))
	state.notifications.Add(notification{
		Timestamp:  now,
		UnitAmount: unitAmount,
		GiftType:   giftType,
		GiftCount:  giftCount,
		Platform:   platform,
	})
	if state.notifications.Len() <= s.MaxIndividualNotifications {
		return Decision{ShouldShow: true}
	}

	state.aggregatedCount += giftCount
	state.username = username
	state.platform = platform
	if state.flushTimer == nil {
		state.timerGen++
		gen := state.timerGen
		state.flushTimer = d.clock.AfterFunc(s.DetectionWindow, func() {
			d.flushFromTimer(userID, gen)
		})
	}
	if d.logger != nil {
		d.logger.Debug("gift suppressed",
			"user_id", userID,
			"platform", platform,
			"aggregated_count", state.aggregatedCount,
		)
	}
	return Decision{ShouldShow: false}
}

func (d *Detector) flushFromTimer(userID string, gen uint64) {
	d.mu.Lock()
	state, ok := d.users[userID]
	if !ok || state.timerGen != gen || state.flushTimer == nil {
		d.mu.Unlock()
		return
	}
	state.flushTimer = nil
	summary, result := d.flushLocked(userID, state)
	cb := d.onAggregated
	d.mu.Unlock()
	d.emit(cb, summary, result)
}

// Flush emits the aggregate for userID now. A user with no pending
// notifications yields a zero result and no callback.
func (d *Detector) Flush(userID string) FlushResult {
	d.mu.Lock()
	state, ok := d.users[userID]
	if !ok {
		d.mu.Unlock()
		return FlushResult{}
	}
	summary, result := d.flushLocked(userID, state)
	cb := d.onAggregated
	d.mu.Unlock()
	d.emit(cb, summary, result)
	return result
}

func (d *Detector) flushLocked(userID string, state *userState) (*model.DonationSummary, FlushResult) {
	if state.notifications.Len() == 0 {
		d.stopTimerLocked(state)
		return nil, FlushResult{}
	}
	coins, gifts, types := state.notifications.Totals()
	noun := "gifts"
	if gifts == 1 {
		noun = "gift"
	}
	msg := fmt.Sprintf("%s sent %d %s worth %d coins (%s)", state.username, gifts, noun, coins, strings.Join(types, ", "))
	now := d.clock.Now()
	summary := &model.DonationSummary{
		UserID:         userID,
		Username:       state.username,
		Platform:       state.platform,
		TotalCoinValue: coins,
		TotalGiftCount: gifts,
		GiftTypes:      types,
		Message:        msg,
		FlushedAt:      now,
	}
	d.stopTimerLocked(state)
	state.notifications.Clear()
	state.aggregatedCount = 0
	state.lastReset = now
	return summary, FlushResult{ShouldShow: true, AggregatedMessage: msg, TotalCoinValue: coins, TotalGiftCount: gifts}
}

func (d *Detector) emit(cb func(model.DonationSummary), summary *model.DonationSummary, result FlushResult) {
	if summary == nil {
		return
	}
	if d.logger != nil {
		d.logger.Info("donations aggregated",
			"user_id", summary.UserID,
			"platform", summary.Platform,
			"total_gift_count", result.TotalGiftCount,
			"total_coin_value", result.TotalCoinValue,
		)
	}
	if cb == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil && d.logger != nil {
			d.logger.Error("aggregated donation callback failed", "err", fmt.Sprint(r), "user_id", summary.UserID)
		}
	}()
	cb(*summary)
}

func (d *Detector) stopTimerLocked(state *userState) {
	if state.flushTimer != nil {
		state.flushTimer.Stop()
		state.flushTimer = nil
	}
	state.timerGen++
}

func (d *Detector) removeLocked(userID string, state *userState) {
	d.stopTimerLocked(state)
	delete(d.users, userID)
}

func (d *Detector) evictOverflowLocked() {
	if d.maxTracked <= 0 || len(d.users) < d.maxTracked {
		return
	}
	var oldestID string
	var oldest *userState
	for id, st := range d.users {
		if oldest == nil || st.lastReset.Before(oldest.lastReset) {
			oldestID, oldest = id, st
		}
	}
	if oldest != nil {
		d.removeLocked(oldestID, oldest)
		if d.logger != nil {
			d.logger.Debug("spam state evicted", "user_id", oldestID)
		}
	}
}

// Cleanup prunes notifications older than twice the detection window and
// drops idle states. force purges every state.
func (d *Detector) Cleanup(force bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if force {
		for id, st := range d.users {
			d.removeLocked(id, st)
		}
		return
	}
	now := d.clock.Now()
	removed := 0
	for id, st := range d.users {
		horizon := 2 * d.profile.For(st.platform).DetectionWindow
		cutoff := now.Add(-horizon)
		st.notifications.Evict(cutoff)
		if st.notifications.Len() == 0 && st.flushTimer == nil && st.lastReset.Before(cutoff) {
			d.removeLocked(id, st)
			removed++
		}
	}
	if removed > 0 && d.logger != nil {
		d.logger.Debug("spam cleanup", "removed", removed, "tracked", len(d.users))
	}
}

func (d *Detector) scheduleCleanupLocked() {
	if d.destroyed {
		return
	}
	d.cleanupTimer = d.clock.AfterFunc(d.interval, func() {
		d.Cleanup(false)
		d.mu.Lock()
		d.scheduleCleanupLocked()
		d.mu.Unlock()
	})
}

// Reset clears all per-user state. Periodic cleanup keeps running.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, st := range d.users {
		d.removeLocked(id, st)
	}
}

func (d *Detector) Statistics() Statistics {
	d.mu.Lock()
	defer d.mu.Unlock()
	total := 0
	for _, st := range d.users {
		total += st.notifications.Len()
	}
	return Statistics{
		TrackedUsers:       len(d.users),
		TotalNotifications: total,
		Enabled:            d.profile.Global.Enabled,
		Threshold:          d.profile.Global.LowValueThreshold,
	}
}

// Destroy stops periodic cleanup and every flush timer. The detector shows
// every gift afterwards.
func (d *Detector) Destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.destroyed = true
	if d.cleanupTimer != nil {
		d.cleanupTimer.Stop()
		d.cleanupTimer = nil
	}
	for id, st := range d.users {
		d.removeLocked(id, st)
	}
}
