package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"scriptwatch/internal/observability/debugsrv"
	"scriptwatch/internal/transport/telegram"
	logx "scriptwatch/pkg/logx"
)

const (
	BackendTelegram = "telegram"
	BackendTest     = "test"
)

// Defaults applied by Resolve.
const (
	DefaultScriptTimeout = 5000 * time.Second
	DefaultMinPassGap    = 10 * time.Second
	DefaultMaxSleep      = 60 * time.Second
	DefaultPollTimeout   = 10 * time.Second
)

// Resolved is a validated Config with durations parsed and defaults filled.
type Resolved struct {
	ScriptsDir    string
	ScriptTimeout time.Duration
	ScriptWorkers int
	MinPassGap    time.Duration
	MaxSleep      time.Duration

	Backend       string
	NotifyWorkers int
	QueueSize     int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration

	TelegramToken string
	ChatID        int64
	ThreadID      int
	Owners        []int64
	PollTimeout   time.Duration
	Commands      bool

	StorageDriver      string
	StoragePath        string
	StorageBusyTimeout time.Duration
	StorageKeep        int

	DigestSchedule string
	DigestTimezone *time.Location

	SystemdNotify bool

	Debug debugsrv.Config

	Logging LoggingConfig
}

// Resolve validates cfg and returns its typed form. Errors name the
// offending key.
func Resolve(cfg *Config) (*Resolved, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	r := &Resolved{
		ScriptsDir:    strings.TrimSpace(cfg.Scripts.Dir),
		ScriptWorkers: cfg.Scripts.Workers,
		Backend:       strings.ToLower(strings.TrimSpace(cfg.Notify.Backend)),
		NotifyWorkers: cfg.Notify.Workers,
		QueueSize:     cfg.Notify.QueueSize,
		RatePerSec:    cfg.Notify.RatePerSec,
		RetryMax:      2,
		TelegramToken: strings.TrimSpace(cfg.Telegram.Token),
		ChatID:        cfg.Telegram.ChatID,
		ThreadID:      cfg.Telegram.ThreadID,
		Owners:        append([]int64(nil), cfg.Telegram.OwnerUserIDs...),
		Commands:      cfg.Telegram.Commands,
		SystemdNotify: cfg.Systemd.Notify,
		Logging:       cfg.Logging,
	}
	var err error

	if r.ScriptsDir == "" {
		return nil, errors.New("scripts.dir: required")
	}
	if !logx.ValidLevel(cfg.Logging.Level) {
		return nil, fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level)
	}
	if r.ScriptTimeout, err = ParseDurationOrDefault("scripts.timeout", cfg.Scripts.Timeout, DefaultScriptTimeout); err != nil {
		return nil, err
	}
	if r.MinPassGap, err = ParseDurationOrDefault("scripts.min_pass_gap", cfg.Scripts.MinPassGap, DefaultMinPassGap); err != nil {
		return nil, err
	}
	if r.MaxSleep, err = ParseDurationOrDefault("scripts.max_sleep", cfg.Scripts.MaxSleep, DefaultMaxSleep); err != nil {
		return nil, err
	}
	if r.ScriptWorkers < 0 {
		return nil, errors.New("scripts.workers: must be >= 0")
	}
	if r.ScriptWorkers == 0 {
		r.ScriptWorkers = 1
	}

	if r.NotifyWorkers < 0 || r.QueueSize < 0 || r.RatePerSec < 0 {
		return nil, errors.New("notify: workers, queue_size and rate_per_sec must be >= 0")
	}
	if cfg.Notify.RetryMax != nil {
		if *cfg.Notify.RetryMax < 0 {
			return nil, errors.New("notify.retry_max: must be >= 0")
		}
		r.RetryMax = *cfg.Notify.RetryMax
	}
	if r.RetryBase, err = ParseDurationOrDefault("notify.retry_base", cfg.Notify.RetryBase, time.Second); err != nil {
		return nil, err
	}
	if r.RetryMaxDelay, err = ParseDurationOrDefault("notify.retry_max_delay", cfg.Notify.RetryMaxDelay, 10*time.Second); err != nil {
		return nil, err
	}
	if r.PollTimeout, err = ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, DefaultPollTimeout); err != nil {
		return nil, err
	}

	switch r.Backend {
	case BackendTelegram:
		if err := telegram.ValidateToken(r.TelegramToken); err != nil {
			return nil, fmt.Errorf("telegram.token: %w", err)
		}
		if r.ChatID == 0 {
			return nil, errors.New("telegram.chat_id: required for the telegram backend")
		}
		if r.Commands && len(r.Owners) == 0 {
			return nil, errors.New("telegram.owner_user_ids: required when commands are enabled")
		}
	case BackendTest:
	case "":
		return nil, errors.New("notify.backend: required (telegram or test)")
	default:
		return nil, fmt.Errorf("notify.backend: unknown backend %q", cfg.Notify.Backend)
	}

	if s := cfg.Storage; s != nil {
		r.StorageDriver = strings.ToLower(strings.TrimSpace(s.Driver))
		r.StoragePath = strings.TrimSpace(s.Path)
		r.StorageKeep = s.Keep
		switch r.StorageDriver {
		case "", "none":
			r.StorageDriver = ""
		case "file", "sqlite", "sqlite3":
			if r.StoragePath == "" {
				return nil, errors.New("storage.path: required when storage is enabled")
			}
		default:
			return nil, fmt.Errorf("storage.driver: unknown driver %q", s.Driver)
		}
		if r.StorageBusyTimeout, err = ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			return nil, err
		}
		if r.StorageKeep < 0 {
			return nil, errors.New("storage.keep: must be >= 0")
		}
	}

	if d := cfg.Digest; d != nil && strings.TrimSpace(d.Schedule) != "" {
		r.DigestSchedule = strings.TrimSpace(d.Schedule)
		r.DigestTimezone = time.UTC
		if tz := strings.TrimSpace(d.Timezone); tz != "" {
			loc, err := time.LoadLocation(tz)
			if err != nil {
				return nil, fmt.Errorf("digest.timezone: %w", err)
			}
			r.DigestTimezone = loc
		}
	}

	if d := cfg.Debug; d != nil {
		if r.Debug, err = resolveDebug(d); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func resolveDebug(d *DebugConfig) (debugsrv.Config, error) {
	out := debugsrv.Config{
		Enabled:       true,
		Addr:          strings.TrimSpace(d.Addr),
		Token:         strings.TrimSpace(d.Token),
		AllowInsecure: d.AllowInsecure,
		Pprof:         d.Pprof,
	}
	if out.Addr == "" {
		out.Addr = "127.0.0.1:6060"
	}
	if _, _, err := net.SplitHostPort(out.Addr); err != nil {
		return out, fmt.Errorf("debug.addr: invalid %q (expected host:port): %w", out.Addr, err)
	}
	if out.Token == "" && !out.AllowInsecure && !debugsrv.IsLoopbackAddr(out.Addr) {
		return out, errors.New("debug.addr: binding to non-loopback addr requires token or allow_insecure")
	}
	var err error
	if out.Stale, err = ParseDurationField("debug.stale", d.Stale); err != nil {
		return out, err
	}
	if out.ReadTimeout, err = ParseDurationOrDefault("debug.read_timeout", d.ReadTimeout, 5*time.Second); err != nil {
		return out, err
	}
	if out.WriteTimeout, err = ParseDurationField("debug.write_timeout", d.WriteTimeout); err != nil {
		return out, err
	}
	if out.IdleTimeout, err = ParseDurationOrDefault("debug.idle_timeout", d.IdleTimeout, 120*time.Second); err != nil {
		return out, err
	}
	return out, nil
}
