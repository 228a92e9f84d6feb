package spam

import (
	"time"

	"chatrelay/internal/config"
	"chatrelay/internal/model"
)

type Settings struct {
	Enabled                    bool
	LowValueThreshold          int
	DetectionWindow            time.Duration
	MaxIndividualNotifications int
}

func DefaultSettings() Settings {
	return Settings{
		Enabled:                    config.DefaultSpamEnabled,
		LowValueThreshold:          config.DefaultSpamLowValueThreshold,
		DetectionWindow:            config.DefaultSpamDetectionWindow * time.Second,
		MaxIndividualNotifications: config.DefaultSpamMaxIndividualNotifications,
	}
}

// sanitize restores the documented default for any value that cannot drive
// the detector.
func (s Settings) sanitize() Settings {
	def := DefaultSettings()
	if s.LowValueThreshold < 0 {
		s.LowValueThreshold = def.LowValueThreshold
	}
	if s.DetectionWindow <= 0 {
		s.DetectionWindow = def.DetectionWindow
	}
	if s.MaxIndividualNotifications < 0 {
		s.MaxIndividualNotifications = def.MaxIndividualNotifications
	}
	return s
}

// Profile is the global settings plus per-platform overrides.
type Profile struct {
	Global    Settings
	Platforms map[model.Platform]Settings
}

// For returns the settings that apply to platform. Unknown platforms use the
// global settings.
func (p Profile) For(platform model.Platform) Settings {
	if s, ok := p.Platforms[platform.Base()]; ok {
		return s
	}
	return p.Global
}

func ProfileFromConfig(cfg *config.Config) Profile {
	global := Settings{
		Enabled:                    cfg.Spam.Enabled.Value,
		LowValueThreshold:          cfg.Spam.LowValueThreshold.Value,
		DetectionWindow:            time.Duration(cfg.Spam.DetectionWindow.Value) * time.Second,
		MaxIndividualNotifications: cfg.Spam.MaxIndividualNotifications.Value,
	}.sanitize()
	profile := Profile{Global: global, Platforms: make(map[model.Platform]Settings)}
	for _, p := range []model.Platform{model.PlatformTwitch, model.PlatformYouTube, model.PlatformTikTok} {
		o := cfg.Platforms.For(p).Spam
		s := global
		if o.Enabled != nil {
			s.Enabled = o.Enabled.Value
		}
		if o.LowValueThreshold != nil {
			s.LowValueThreshold = o.LowValueThreshold.Value
		}
		if o.DetectionWindow != nil {
			s.DetectionWindow = time.Duration(o.DetectionWindow.Value) * time.Second
		}
		if o.MaxIndividualNotifications != nil {
			s.MaxIndividualNotifications = o.MaxIndividualNotifications.Value
		}
		profile.Platforms[p] = s.sanitize()
	}
	return profile
}
