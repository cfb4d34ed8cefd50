package config

import (
	"os"
	"strings"
)

const (
	DefaultRosterRefresh = "20 1,10,17 1,2,3,14,15,16,17 * *"
	DefaultSweepSchedule = "20 1 * * *"
	DefaultSweepExt      = ".mp4"
	DefaultAPIAddr       = ":5000"
	DefaultUploadPrivacy = "private"
)

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s == "" {
		return def
	}
	return s
}

// EffectiveRefreshSchedule is the cron spec for roster reloads; "off"
// disables them.
func (c RosterConfig) EffectiveRefreshSchedule() string {
	return orDefault(c.RefreshSchedule, DefaultRosterRefresh)
}

func (c HousekeepingConfig) EffectiveSchedule() string {
	return orDefault(c.Schedule, DefaultSweepSchedule)
}

func (c HousekeepingConfig) EffectiveExt() string {
	ext := orDefault(c.Ext, DefaultSweepExt)
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// EffectiveSweepDir falls back to the session work dir, where artifacts live.
func (c *Config) EffectiveSweepDir() string {
	return orDefault(c.Housekeeping.Dir, orDefault(c.Session.WorkDir, "."))
}

// EffectiveAddr prefers the configured address, then $PORT, then :5000.
func (c APIConfig) EffectiveAddr(getenv func(string) string) string {
	if a := strings.TrimSpace(c.Addr); a != "" {
		return a
	}
	if getenv == nil {
		getenv = os.Getenv
	}
	if p := strings.TrimSpace(getenv("PORT")); p != "" {
		return ":" + p
	}
	return DefaultAPIAddr
}
