package config

import (
	"reflect"
	"strings"

	logx "scriptwatch/pkg/logx"
)

// SummarizeConfigChange returns the changed sections and safe structured
// attrs for logging (never includes secrets like tokens).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Scripts != newCfg.Scripts {
		changed = append(changed, "scripts")
		attrs = append(attrs,
			logx.String("scripts.dir", newCfg.Scripts.Dir),
			logx.String("scripts.timeout", newCfg.Scripts.Timeout),
			logx.Int("scripts.workers", newCfg.Scripts.Workers),
		)
	}

	if !reflect.DeepEqual(oldCfg.Notify, newCfg.Notify) {
		changed = append(changed, "notify")
		attrs = append(attrs,
			logx.String("notify.backend", newCfg.Notify.Backend),
			logx.Int("notify.rate_per_sec", newCfg.Notify.RatePerSec),
		)
	}

	// Telegram (never log token)
	if !reflect.DeepEqual(oldCfg.Telegram, newCfg.Telegram) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_changed", strings.TrimSpace(oldCfg.Telegram.Token) != strings.TrimSpace(newCfg.Telegram.Token)),
			logx.Int64("telegram.chat_id", newCfg.Telegram.ChatID),
			logx.Int("telegram.owner_count", len(newCfg.Telegram.OwnerUserIDs)),
			logx.Bool("telegram.commands", newCfg.Telegram.Commands),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
	}
	if !reflect.DeepEqual(oldCfg.Digest, newCfg.Digest) {
		changed = append(changed, "digest")
		if newCfg.Digest != nil {
			attrs = append(attrs, logx.String("digest.schedule", newCfg.Digest.Schedule))
		}
	}
	if oldCfg.Systemd != newCfg.Systemd {
		changed = append(changed, "systemd")
	}
	// Debug (never log token)
	if !reflect.DeepEqual(oldCfg.Debug, newCfg.Debug) {
		changed = append(changed, "debug")
		if d := newCfg.Debug; d != nil {
			attrs = append(attrs, logx.String("debug.addr", d.Addr), logx.Bool("debug.pprof", d.Pprof))
		} else {
			attrs = append(attrs, logx.Bool("debug.enabled", false))
		}
	}
	return changed, attrs
}

// RestartRequired lists changed keys that a running process cannot apply.
func RestartRequired(oldCfg, newCfg *Config) []string {
	if oldCfg == nil || newCfg == nil {
		return nil
	}
	var out []string
	if strings.TrimSpace(oldCfg.Scripts.Dir) != strings.TrimSpace(newCfg.Scripts.Dir) {
		out = append(out, "scripts.dir")
	}
	if !strings.EqualFold(strings.TrimSpace(oldCfg.Notify.Backend), strings.TrimSpace(newCfg.Notify.Backend)) {
		out = append(out, "notify.backend")
	}
	if oldCfg.Notify.Workers != newCfg.Notify.Workers || oldCfg.Notify.QueueSize != newCfg.Notify.QueueSize {
		out = append(out, "notify.workers/queue_size")
	}
	if strings.TrimSpace(oldCfg.Telegram.Token) != strings.TrimSpace(newCfg.Telegram.Token) {
		out = append(out, "telegram.token")
	}
	if oldCfg.Telegram.Commands != newCfg.Telegram.Commands || oldCfg.Telegram.PollTimeout != newCfg.Telegram.PollTimeout {
		out = append(out, "telegram.commands/poll_timeout")
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		out = append(out, "storage")
	}
	if oldCfg.Systemd != newCfg.Systemd {
		out = append(out, "systemd")
	}
	return out
}
