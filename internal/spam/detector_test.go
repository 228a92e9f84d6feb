package spam

import (
	"testing"
	"time"

	"chatrelay/internal/clock"
	"chatrelay/internal/config"
	"chatrelay/internal/model"
)

func testProfile() Profile {
	return Profile{Global: Settings{
		Enabled:                    true,
		LowValueThreshold:          10,
		DetectionWindow:            5 * time.Second,
		MaxIndividualNotifications: 1,
	}}
}

func newDetectorForTest(profile Profile) (*Detector, *clock.Fake, *[]model.DonationSummary) {
	clk := clock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	var got []model.DonationSummary
	d := NewDetector(profile, Options{
		Clock:                clk,
		DisableAutoCleanup:   true,
		OnAggregatedDonation: func(s model.DonationSummary) { got = append(got, s) },
	})
	return d, clk, &got
}

func TestAggregationFlushesAfterWindow(t *testing.T) {
	d, clk, got := newDetectorForTest(testProfile())

	if dec := d.Handle("u", "u", 1, "Rose", 1, model.PlatformTikTok); !dec.ShouldShow {
		t.Fatalf("first gift should show")
	}
	clk.Advance(time.Second)
	if dec := d.Handle("u", "u", 1, "Rose", 1, model.PlatformTikTok); dec.ShouldShow {
		t.Fatalf("second gift should be suppressed")
	}
	if clk.Pending() != 1 {
		t.Fatalf("expected one flush timer, got %d", clk.Pending())
	}
	clk.Advance(5 * time.Second)
	if len(*got) != 1 {
		t.Fatalf("expected one aggregated callback, got %d", len(*got))
	}
	s := (*got)[0]
	if s.TotalGiftCount != 2 || s.TotalCoinValue != 2 {
		t.Fatalf("totals: %+v", s)
	}
	if s.Message != "u sent 2 gifts worth 2 coins (Rose)" {
		t.Fatalf("message: %q", s.Message)
	}
	if clk.Pending() != 0 {
		t.Fatalf("timer should be cleared after flush")
	}
}

func TestSingleTimerPerUser(t *testing.T) {
	d, clk, _ := newDetectorForTest(testProfile())
	for i := 0; i < 5; i++ {
		d.Handle("u", "u", 1, "Rose", 1, model.PlatformTikTok)
		clk.Advance(100 * time.Millisecond)
	}
	if clk.Pending() != 1 {
		t.Fatalf("expected a single flush timer, got %d", clk.Pending())
	}
	d.Handle("other", "other", 1, "Rose", 1, model.PlatformTikTok)
	d.Handle("other", "other", 1, "Rose", 1, model.PlatformTikTok)
	if clk.Pending() != 2 {
		t.Fatalf("expected independent timers per user, got %d", clk.Pending())
	}
}

func TestShowCountBoundedPerWindow(t *testing.T) {
	p := testProfile()
	p.Global.MaxIndividualNotifications = 2
	d, clk, got := newDetectorForTest(p)
	shown := 0
	for i := 0; i < 10; i++ {
		if d.Handle("u", "u", 1, "Rose", 1, model.PlatformTikTok).ShouldShow {
			shown++
		}
		clk.Advance(400 * time.Millisecond)
	}
	clk.Advance(5 * time.Second)
	shown += len(*got)
	if shown > p.Global.MaxIndividualNotifications+1 {
		t.Fatalf("shown %d exceeds bound", shown)
	}
}

func TestFlushMessageSingularAndTypes(t *testing.T) {
	d, _, got := newDetectorForTest(testProfile())
	d.Handle("u", "Viewer", 2, "Rose", 1, model.PlatformTikTok)
	res := d.Flush("u")
	if !res.ShouldShow || res.AggregatedMessage != "Viewer sent 1 gift worth 2 coins (Rose)" {
		t.Fatalf("flush: %+v", res)
	}
	if len(*got) != 1 {
		t.Fatalf("expected callback")
	}
	if res := d.Flush("u"); res.ShouldShow || res.TotalGiftCount != 0 {
		t.Fatalf("empty flush should be zero: %+v", res)
	}

	d.Handle("x", "X", 1, "Rose", 2, model.PlatformTikTok)
	d.Handle("x", "X", 3, "Heart", 1, model.PlatformTikTok)
	d.Handle("x", "X", 1, "Rose", 1, model.PlatformTikTok)
	res = d.Flush("x")
	if res.AggregatedMessage != "X sent 4 gifts worth 6 coins (Rose, Heart)" {
		t.Fatalf("message: %q", res.AggregatedMessage)
	}
}

func TestHighValueAndDisabledPassThrough(t *testing.T) {
	p := testProfile()
	p.Platforms = map[model.Platform]Settings{model.PlatformTwitch: {Enabled: false}}
	d, clk, _ := newDetectorForTest(p)
	for i := 0; i < 5; i++ {
		if !d.Handle("u", "u", 50, "Lion", 1, model.PlatformTikTok).ShouldShow {
			t.Fatalf("high value gift suppressed")
		}
		if !d.Handle("t", "t", 1, "bits", 1, model.PlatformTwitchEventSub).ShouldShow {
			t.Fatalf("disabled platform suppressed")
		}
	}
	if clk.Pending() != 0 || d.Statistics().TrackedUsers != 0 {
		t.Fatalf("no state expected: %+v", d.Statistics())
	}
	if !d.IsLowValue(9, model.PlatformYouTube) || d.IsLowValue(10, model.PlatformYouTube) {
		t.Fatalf("threshold mismatch")
	}
}

func TestResetBehavesLikeFresh(t *testing.T) {
	d, clk, _ := newDetectorForTest(testProfile())
	run := func() []bool {
		var out []bool
		for i := 0; i < 3; i++ {
			out = append(out, d.Handle("u", "u", 1, "Rose", 1, model.PlatformTikTok).ShouldShow)
			clk.Advance(time.Second)
		}
		return out
	}
	first := run()
	d.Reset()
	if clk.Pending() != 0 || d.Statistics().TrackedUsers != 0 {
		t.Fatalf("reset left state behind")
	}
	second := run()
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("pattern mismatch: %v vs %v", first, second)
		}
	}
}

func TestForcedCleanupAndDestroy(t *testing.T) {
	clk := clock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	d := NewDetector(testProfile(), Options{Clock: clk})
	if clk.Pending() != 1 {
		t.Fatalf("expected cleanup timer")
	}
	d.Handle("a", "a", 1, "Rose", 1, model.PlatformTikTok)
	d.Handle("a", "a", 1, "Rose", 1, model.PlatformTikTok)
	d.Handle("b", "b", 1, "Rose", 1, model.PlatformTikTok)
	d.Cleanup(true)
	if d.Statistics().TrackedUsers != 0 {
		t.Fatalf("forced cleanup left users")
	}
	if clk.Pending() != 1 {
		t.Fatalf("only the cleanup timer should remain, got %d", clk.Pending())
	}

	d.Handle("a", "a", 1, "Rose", 1, model.PlatformTikTok)
	d.Handle("a", "a", 1, "Rose", 1, model.PlatformTikTok)
	d.Destroy()
	if clk.Pending() != 0 || d.Statistics().TrackedUsers != 0 {
		t.Fatalf("destroy left timers: %d", clk.Pending())
	}
	if !d.Handle("a", "a", 1, "Rose", 1, model.PlatformTikTok).ShouldShow {
		t.Fatalf("destroyed detector should fail open")
	}
}

func TestPeriodicCleanupDropsIdleState(t *testing.T) {
	clk := clock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	d := NewDetector(testProfile(), Options{Clock: clk, CleanupInterval: 30 * time.Second})
	d.Handle("a", "a", 1, "Rose", 1, model.PlatformTikTok)
	clk.Advance(30 * time.Second)
	if d.Statistics().TrackedUsers != 0 {
		t.Fatalf("idle state should be removed")
	}
	if clk.Pending() != 1 {
		t.Fatalf("cleanup should reschedule, got %d", clk.Pending())
	}
	d.Destroy()
}

func TestMaxTrackedUsersEvictsOldest(t *testing.T) {
	clk := clock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	d := NewDetector(testProfile(), Options{Clock: clk, DisableAutoCleanup: true, MaxTrackedUsers: 2})
	d.Handle("a", "a", 1, "Rose", 1, model.PlatformTikTok)
	d.Handle("a", "a", 1, "Rose", 1, model.PlatformTikTok)
	clk.Advance(time.Second)
	d.Handle("b", "b", 1, "Rose", 1, model.PlatformTikTok)
	clk.Advance(time.Second)
	d.Handle("c", "c", 1, "Rose", 1, model.PlatformTikTok)
	if d.Statistics().TrackedUsers != 2 {
		t.Fatalf("tracked: %d", d.Statistics().TrackedUsers)
	}
	if clk.Pending() != 0 {
		t.Fatalf("evicted state kept its timer")
	}
}

func TestProfileFromConfigOverrides(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Platforms.TikTok.Spam.LowValueThreshold = config.IntPtr(3)
	cfg.Platforms.Twitch.Spam.Enabled = config.BoolPtr(false)
	p := ProfileFromConfig(cfg)
	if p.For(model.PlatformTikTokGift).LowValueThreshold != 3 {
		t.Fatalf("tiktok override not applied")
	}
	if p.For(model.PlatformTwitch).Enabled {
		t.Fatalf("twitch override not applied")
	}
	yt := p.For(model.PlatformYouTube)
	if yt.LowValueThreshold != 10 || yt.DetectionWindow != 5*time.Second || yt.MaxIndividualNotifications != 2 {
		t.Fatalf("youtube should inherit defaults: %+v", yt)
	}
}

type panicClock struct{ *clock.Fake }

func (panicClock) AfterFunc(time.Duration, func()) clock.Timer { panic("timer unavailable") }

func TestHandleFailsOpen(t *testing.T) {
	clk := panicClock{clock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))}
	d := NewDetector(testProfile(), Options{Clock: clk, DisableAutoCleanup: true})

	if dec := d.Handle("u", "u", 1, "Rose", 1, model.PlatformTikTok); !dec.ShouldShow {
		t.Fatalf("first gift should show")
	}
	if dec := d.Handle("u", "u", 1, "Rose", 1, model.PlatformTikTok); !dec.ShouldShow {
		t.Fatalf("failure while suppressing should fail open: %+v", dec)
	}
	if dec := d.Handle("v", "v", 1, "Rose", 1, model.PlatformTikTok); !dec.ShouldShow {
		t.Fatalf("detector should stay usable after a failure")
	}
}
