package app

import (
	"fmt"
	"os"
	"strings"
	"time"

	"dutyrec/internal/capture"
	"dutyrec/internal/config"
	"dutyrec/internal/eventbus"
	"dutyrec/internal/quota"
	"dutyrec/internal/roster"
	"dutyrec/internal/scheduler"
	"dutyrec/internal/session"
	"dutyrec/internal/storage"
	"dutyrec/internal/upload"
	logx "dutyrec/pkg/logx"
)

const defaultStorePath = "./dutyrec_store"

func mapLogging(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Notify: logx.NotifyConfig{
			Enabled:    l.Telegram.Enabled,
			ChatID:     l.Telegram.ChatID,
			ThreadID:   l.Telegram.ThreadID,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

// mapStorage always yields a store: the quota ledger must survive restarts,
// so an omitted section means the file driver.
func mapStorage(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	if sc == nil || strings.TrimSpace(sc.Driver) == "" {
		return storage.Config{Driver: "file", Path: defaultStorePath}, nil
	}
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "none":
		return storage.Config{}, fmt.Errorf("storage.driver=none cannot hold the quota ledger; use memory, file or sqlite")
	case "memory":
		return storage.Config{Driver: driver, HistorySize: sc.HistorySize}, nil
	case "file":
		if path == "" {
			path = defaultStorePath
		}
		return storage.Config{Driver: driver, Path: path, HistorySize: sc.HistorySize}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy, HistorySize: sc.HistorySize}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapScheduler(cfg *config.Config) (scheduler.Config, error) {
	poll, err := config.ParseDurationOrDefault("scheduler.poll_interval", cfg.Scheduler.PollInterval, scheduler.DefaultPollInterval)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		Timezone:     cfg.Scheduler.Timezone,
		Mode:         cfg.Scheduler.Mode,
		PollInterval: poll,
	}, nil
}

func mapSession(cfg *config.Config) (session.Config, error) {
	s := cfg.Session
	ceiling, err := config.ParseDurationOrDefault("session.ceiling", s.Ceiling, session.DefaultCeiling)
	if err != nil {
		return session.Config{}, err
	}
	settle := session.DefaultSettleDelay
	if strings.TrimSpace(s.SettleDelay) != "" {
		// "0s" is a legitimate choice here, so no default substitution.
		if settle, err = config.ParseDurationField("session.settle_delay", s.SettleDelay); err != nil {
			return session.Config{}, err
		}
	}
	grace, err := config.ParseDurationOrDefault("session.stop_grace", s.StopGrace, time.Minute)
	if err != nil {
		return session.Config{}, err
	}
	out := session.Config{
		WorkDir:     s.WorkDir,
		Title:       s.Title,
		StreamURL:   s.StreamURL,
		DayAsset:    s.DayAsset,
		NightAsset:  s.NightAsset,
		Ceiling:     ceiling,
		SettleDelay: settle,
		StopGrace:   grace,
	}
	if s.Night != nil {
		out.Night = session.NightHours{From: s.Night.From, To: s.Night.To}
	}
	return out, nil
}

func mapCapturer(cfg *config.Config, log logx.Logger) (*capture.FFmpeg, error) {
	grace, err := config.ParseDurationOrDefault("session.stop_grace", cfg.Session.StopGrace, time.Minute)
	if err != nil {
		return nil, err
	}
	return &capture.FFmpeg{
		Binary:    cfg.Session.FFmpeg.Binary,
		ExtraArgs: cfg.Session.FFmpeg.ExtraArgs,
		StopGrace: grace,
		Log:       log,
	}, nil
}

func mapQuota(cfg *config.Config) quota.Config {
	return quota.Config{Cap: cfg.Quota.Cap, PoolSize: cfg.Quota.PoolSize}
}

func mapRosterProvider(cfg *config.Config) (*roster.FileProvider, error) {
	timeout, err := config.ParseDurationOrDefault("roster.refresh_timeout", cfg.Roster.RefreshTimeout, 2*time.Minute)
	if err != nil {
		return nil, err
	}
	return &roster.FileProvider{
		Path:           cfg.Roster.Path,
		RefreshCommand: cfg.Roster.RefreshCommand,
		RefreshTimeout: timeout,
	}, nil
}

func mapUploadDriver(cfg *config.Config, log logx.Logger) (upload.Driver, time.Duration, error) {
	u := cfg.Upload
	timeout, err := config.ParseDurationOrDefault("upload.timeout", u.Timeout, time.Hour)
	if err != nil {
		return nil, 0, err
	}
	switch strings.ToLower(strings.TrimSpace(u.Driver)) {
	case "exec":
		if u.Exec == nil || len(u.Exec.Command) == 0 {
			return nil, 0, fmt.Errorf("upload.exec.command is required")
		}
		privacy := u.Exec.Privacy
		if strings.TrimSpace(privacy) == "" {
			privacy = config.DefaultUploadPrivacy
		}
		return &upload.ExecDriver{
			Command: u.Exec.Command,
			Privacy: privacy,
			Creds:   upload.CredentialSource{Getenv: os.Getenv, UseKeyring: u.UseKeyring},
			Log:     log,
		}, timeout, nil
	case "sftp":
		if u.SFTP == nil {
			return nil, 0, fmt.Errorf("upload.sftp is required")
		}
		dial, err := config.ParseDurationOrDefault("upload.sftp.dial_timeout", u.SFTP.DialTimeout, 15*time.Second)
		if err != nil {
			return nil, 0, err
		}
		return &upload.SFTPDriver{
			Remote:                upload.RemoteConfig{Addr: u.SFTP.Addr, User: u.SFTP.User, Password: u.SFTP.Password, Dir: u.SFTP.Dir},
			KeyPath:               u.SFTP.KeyPath,
			KnownHostsPath:        u.SFTP.KnownHosts,
			InsecureIgnoreHostKey: u.SFTP.InsecureIgnoreHostKey,
			DialTimeout:           dial,
		}, timeout, nil
	case "ftp":
		if u.FTP == nil {
			return nil, 0, fmt.Errorf("upload.ftp is required")
		}
		dial, err := config.ParseDurationOrDefault("upload.ftp.dial_timeout", u.FTP.DialTimeout, 15*time.Second)
		if err != nil {
			return nil, 0, err
		}
		return &upload.FTPDriver{
			Remote:      upload.RemoteConfig{Addr: u.FTP.Addr, User: u.FTP.User, Password: u.FTP.Password, Dir: u.FTP.Dir},
			TLS:         u.FTP.TLS,
			DialTimeout: dial,
		}, timeout, nil
	default:
		return nil, 0, fmt.Errorf("unknown upload.driver: %s", u.Driver)
	}
}

func mapKafka(cfg *config.Config) (eventbus.KafkaConfig, error) {
	k := cfg.Kafka
	if k == nil || !k.Enabled {
		return eventbus.KafkaConfig{}, nil
	}
	batch, err := config.ParseDurationOrDefault("kafka.batch_timeout", k.BatchTimeout, 200*time.Millisecond)
	if err != nil {
		return eventbus.KafkaConfig{}, err
	}
	return eventbus.KafkaConfig{Enabled: true, Brokers: k.Brokers, Topic: k.Topic, BatchTimeout: batch}, nil
}

// checkRuntime runs every mapper so a reload that would fail to apply is
// rejected before it is committed.
func checkRuntime(cfg *config.Config) error {
	if _, err := mapStorage(cfg); err != nil {
		return err
	}
	if _, err := mapScheduler(cfg); err != nil {
		return err
	}
	if _, err := mapSession(cfg); err != nil {
		return err
	}
	if _, err := mapRosterProvider(cfg); err != nil {
		return err
	}
	if _, _, err := mapUploadDriver(cfg, logx.Nop()); err != nil {
		return err
	}
	_, err := mapKafka(cfg)
	return err
}
