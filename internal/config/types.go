package config

// Config is the on-disk shape of dutyrec.yaml / dutyrec.json.
//
// All durations are Go duration strings (e.g. "59s", "1h").
type Config struct {
	Logging  LoggingConfig   `json:"logging"`
	Telegram *TelegramConfig `json:"telegram,omitempty"`

	Scheduler    SchedulerConfig    `json:"scheduler"`
	Roster       RosterConfig       `json:"roster"`
	Session      SessionConfig      `json:"session"`
	Quota        QuotaConfig        `json:"quota"`
	Upload       UploadConfig       `json:"upload"`
	Housekeeping HousekeepingConfig `json:"housekeeping"`

	Storage *StorageConfig `json:"storage,omitempty"`
	API     APIConfig      `json:"api"`
	Kafka   *KafkaConfig   `json:"kafka,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingTelegram forwards WARN+ lines to an operator chat.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id"`
	ThreadID   int    `json:"thread_id,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

type TelegramConfig struct {
	Token          string `json:"token"`
	RequestTimeout string `json:"request_timeout,omitempty"`
}

// SchedulerConfig controls how roster triggers are armed.
//
// Defaults:
//   - timezone: "Asia/Kolkata"
//   - mode: "cron" ("poll" evaluates every trigger each poll_interval)
//   - poll_interval: "60s"
type SchedulerConfig struct {
	Timezone     string `json:"timezone,omitempty"`
	Mode         string `json:"mode,omitempty"`
	PollInterval string `json:"poll_interval,omitempty"`
}

// RosterConfig locates the roster document. RefreshCommand, when set, runs
// before every load so an external job can pull the roster from upstream.
type RosterConfig struct {
	Path            string   `json:"path"`
	RefreshCommand  []string `json:"refresh_command,omitempty"`
	RefreshTimeout  string   `json:"refresh_timeout,omitempty"`
	RefreshSchedule string   `json:"refresh_schedule,omitempty"` // default "20 1,10,17 1,2,3,14,15,16,17 * *"
}

type SessionConfig struct {
	WorkDir    string       `json:"work_dir"`
	Title      string       `json:"title,omitempty"`
	StreamURL  string       `json:"stream_url"`
	DayAsset   string       `json:"day_asset"`
	NightAsset string       `json:"night_asset"`
	Night      *NightConfig `json:"night,omitempty"`

	Ceiling     string `json:"ceiling,omitempty"`      // default "1h"
	SettleDelay string `json:"settle_delay,omitempty"` // default "59s"
	StopGrace   string `json:"stop_grace,omitempty"`   // default "1m"

	FFmpeg FFmpegConfig `json:"ffmpeg"`
}

// NightConfig is the inclusive hour range that uses the night asset.
type NightConfig struct {
	From int `json:"from"`
	To   int `json:"to"`
}

type FFmpegConfig struct {
	Binary    string   `json:"binary,omitempty"`
	ExtraArgs []string `json:"extra_args,omitempty"`
}

type QuotaConfig struct {
	Cap      int `json:"cap,omitempty"`       // default 7
	PoolSize int `json:"pool_size,omitempty"` // default 3
}

// UploadConfig selects the upload driver. Only the block matching Driver is
// read.
type UploadConfig struct {
	Driver     string `json:"driver"` // exec | sftp | ftp
	Timeout    string `json:"timeout,omitempty"`
	UseKeyring bool   `json:"use_keyring,omitempty"`

	Exec *ExecUploadConfig `json:"exec,omitempty"`
	SFTP *SFTPUploadConfig `json:"sftp,omitempty"`
	FTP  *FTPUploadConfig  `json:"ftp,omitempty"`
}

// ExecUploadConfig runs an external uploader. Arguments may use the
// {path}, {title}, {identity} and {privacy} placeholders.
type ExecUploadConfig struct {
	Command []string `json:"command"`
	Privacy string   `json:"privacy,omitempty"` // default "private"
}

type SFTPUploadConfig struct {
	Addr                  string `json:"addr"`
	User                  string `json:"user"`
	Password              string `json:"password,omitempty"`
	Dir                   string `json:"dir,omitempty"`
	KeyPath               string `json:"key_path,omitempty"`
	KnownHosts            string `json:"known_hosts,omitempty"`
	InsecureIgnoreHostKey bool   `json:"insecure_ignore_host_key,omitempty"`
	DialTimeout           string `json:"dial_timeout,omitempty"`
}

type FTPUploadConfig struct {
	Addr        string `json:"addr"`
	User        string `json:"user"`
	Password    string `json:"password,omitempty"`
	Dir         string `json:"dir,omitempty"`
	TLS         bool   `json:"tls,omitempty"`
	DialTimeout string `json:"dial_timeout,omitempty"`
}

// HousekeepingConfig controls the orphan artifact sweep. Dir defaults to
// session.work_dir.
type HousekeepingConfig struct {
	Dir      string `json:"dir,omitempty"`
	Ext      string `json:"ext,omitempty"`      // default ".mp4"
	Schedule string `json:"schedule,omitempty"` // default "20 1 * * *"
	Disabled bool   `json:"disabled,omitempty"`
}

// StorageConfig controls the persistence layer holding the quota ledger and
// session history.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./dutyrec.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
	HistorySize int    `json:"history_size,omitempty"`
}

// APIConfig controls the read-only status endpoint. When Addr is empty the
// PORT environment variable is used, then ":5000".
type APIConfig struct {
	Disabled     bool   `json:"disabled,omitempty"`
	Addr         string `json:"addr,omitempty"`
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	// Pprof mounts net/http/pprof under /debug/pprof/. Keep the listener on
	// loopback when enabled.
	Pprof bool `json:"pprof,omitempty"`
}

type KafkaConfig struct {
	Enabled      bool     `json:"enabled"`
	Brokers      []string `json:"brokers"`
	Topic        string   `json:"topic"`
	BatchTimeout string   `json:"batch_timeout,omitempty"`
}
