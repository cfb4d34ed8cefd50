package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/adhocore/gronx"
)

// Validate rejects configs that would fail at wiring time. It reports every
// problem it finds, not just the first.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	check := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	dur := func(path, raw string) {
		_, err := ParseDurationField(path, raw)
		check(err)
	}
	g := gronx.New()
	cronSpec := func(path, spec string) {
		if strings.EqualFold(spec, "off") {
			return
		}
		if !g.IsValid(spec) {
			check(fmt.Errorf("%s: invalid cron expression %q", path, spec))
		}
	}

	// logging
	if cfg.Logging.Telegram.Enabled {
		if cfg.Telegram == nil || strings.TrimSpace(cfg.Telegram.Token) == "" {
			check(errors.New("logging.telegram.enabled requires telegram.token"))
		}
		if cfg.Logging.Telegram.ChatID == 0 {
			check(errors.New("logging.telegram.chat_id is required when logging.telegram.enabled"))
		}
	}
	if cfg.Telegram != nil {
		dur("telegram.request_timeout", cfg.Telegram.RequestTimeout)
	}

	// scheduler
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			check(fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err))
		}
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Scheduler.Mode)) {
	case "", "cron", "poll":
	default:
		check(fmt.Errorf("scheduler.mode: unknown %q (want cron or poll)", cfg.Scheduler.Mode))
	}
	dur("scheduler.poll_interval", cfg.Scheduler.PollInterval)

	// roster
	if strings.TrimSpace(cfg.Roster.Path) == "" {
		check(errors.New("roster.path is required"))
	}
	dur("roster.refresh_timeout", cfg.Roster.RefreshTimeout)
	cronSpec("roster.refresh_schedule", cfg.Roster.EffectiveRefreshSchedule())

	// session
	s := cfg.Session
	if strings.TrimSpace(s.StreamURL) == "" {
		check(errors.New("session.stream_url is required"))
	}
	if strings.TrimSpace(s.DayAsset) == "" || strings.TrimSpace(s.NightAsset) == "" {
		check(errors.New("session.day_asset and session.night_asset are required"))
	}
	if n := s.Night; n != nil && (n.From < 0 || n.From > 23 || n.To < 0 || n.To > 23) {
		check(fmt.Errorf("session.night: hours must be 0..23, got %d..%d", n.From, n.To))
	}
	dur("session.ceiling", s.Ceiling)
	dur("session.settle_delay", s.SettleDelay)
	dur("session.stop_grace", s.StopGrace)

	// quota
	if cfg.Quota.Cap < 0 || cfg.Quota.PoolSize < 0 {
		check(errors.New("quota.cap and quota.pool_size must be >= 0"))
	}

	// upload
	u := cfg.Upload
	dur("upload.timeout", u.Timeout)
	switch strings.ToLower(strings.TrimSpace(u.Driver)) {
	case "exec":
		if u.Exec == nil || len(u.Exec.Command) == 0 {
			check(errors.New("upload.exec.command is required when upload.driver=exec"))
		}
	case "sftp":
		if u.SFTP == nil || strings.TrimSpace(u.SFTP.Addr) == "" || strings.TrimSpace(u.SFTP.User) == "" {
			check(errors.New("upload.sftp.addr and upload.sftp.user are required when upload.driver=sftp"))
		} else {
			dur("upload.sftp.dial_timeout", u.SFTP.DialTimeout)
		}
	case "ftp":
		if u.FTP == nil || strings.TrimSpace(u.FTP.Addr) == "" {
			check(errors.New("upload.ftp.addr is required when upload.driver=ftp"))
		} else {
			dur("upload.ftp.dial_timeout", u.FTP.DialTimeout)
		}
	default:
		check(fmt.Errorf("upload.driver: unknown %q (want exec, sftp or ftp)", u.Driver))
	}

	// housekeeping
	if !cfg.Housekeeping.Disabled {
		cronSpec("housekeeping.schedule", cfg.Housekeeping.EffectiveSchedule())
	}

	// storage
	if st := cfg.Storage; st != nil {
		switch strings.ToLower(strings.TrimSpace(st.Driver)) {
		case "", "none", "memory", "file":
		case "sqlite", "sqlite3":
			if strings.TrimSpace(st.Path) == "" {
				check(errors.New("storage.path is required when storage.driver=sqlite"))
			}
		default:
			check(fmt.Errorf("storage.driver: unknown %q", st.Driver))
		}
		dur("storage.busy_timeout", st.BusyTimeout)
		if st.HistorySize < 0 {
			check(errors.New("storage.history_size must be >= 0"))
		}
	}

	// api
	dur("api.read_timeout", cfg.API.ReadTimeout)
	dur("api.write_timeout", cfg.API.WriteTimeout)

	// kafka
	if k := cfg.Kafka; k != nil && k.Enabled {
		if len(k.Brokers) == 0 || strings.TrimSpace(k.Topic) == "" {
			check(errors.New("kafka.brokers and kafka.topic are required when kafka.enabled"))
		}
		dur("kafka.batch_timeout", k.BatchTimeout)
	}

	return errors.Join(errs...)
}
