package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// Zero values mean "use the default"; see Resolve for the defaults.
type Config struct {
	Scripts  ScriptsConfig  `json:"scripts"`
	Notify   NotifyConfig   `json:"notify"`
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  *StorageConfig `json:"storage,omitempty"`
	Digest   *DigestConfig  `json:"digest,omitempty"`
	Systemd  SystemdConfig  `json:"systemd"`
	Debug    *DebugConfig   `json:"debug,omitempty"`
}

// ScriptsConfig controls which scripts run and how passes are paced.
type ScriptsConfig struct {
	Dir        string `json:"dir"`
	Timeout    string `json:"timeout,omitempty"`
	Workers    int    `json:"workers,omitempty"`
	MinPassGap string `json:"min_pass_gap,omitempty"`
	MaxSleep   string `json:"max_sleep,omitempty"`
}

// NotifyConfig selects the notification backend and tunes the async
// delivery pipeline.
type NotifyConfig struct {
	// Backend is "telegram" or "test".
	Backend       string `json:"backend"`
	Workers       int    `json:"workers,omitempty"`
	QueueSize     int    `json:"queue_size,omitempty"`
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	RetryMax      *int   `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	ChatID       int64   `json:"chat_id"`
	ThreadID     int     `json:"thread_id,omitempty"`
	OwnerUserIDs []int64 `json:"owner_user_ids,omitempty"`
	PollTimeout  string  `json:"poll_timeout,omitempty"`
	// Commands enables /status, /failing and /history for owners.
	Commands bool `json:"commands,omitempty"`
}

type LoggingConfig struct {
	Level   string     `json:"level"`
	Console bool       `json:"console"`
	File    FileConfig `json:"file"`
}

type FileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig configures run history persistence.
//
// Driver: "none" (default), "file" (JSONL) or "sqlite".
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
	Keep        int    `json:"keep,omitempty"`
}

// DigestConfig enables a periodic status summary notification.
//
// Schedule is a 5-field cron expression, a descriptor like "@daily", or a
// Go duration ("6h") for a fixed interval.
type DigestConfig struct {
	Schedule string `json:"schedule"`
	Timezone string `json:"timezone,omitempty"`
}

type SystemdConfig struct {
	Notify bool `json:"notify"`
}

// DebugConfig enables the operator HTTP endpoint (/healthz, /status and
// optionally /debug/pprof/). Binding to a non-loopback address requires
// Token or AllowInsecure.
type DebugConfig struct {
	Addr          string `json:"addr"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
	// Stale fails /healthz when no pass finished for this long.
	Stale        string `json:"stale,omitempty"`
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// Default is the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Scripts: ScriptsConfig{Dir: "scripts"},
		Notify:  NotifyConfig{Backend: BackendTelegram},
		Logging: LoggingConfig{Level: "info", Console: true},
		Systemd: SystemdConfig{Notify: true},
	}
}
