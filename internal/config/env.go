package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Environment variables that override file settings.
const (
	EnvBackend        = "BACKEND"
	EnvTelegramToken  = "TELEGRAM_TOKEN"
	EnvTelegramChatID = "TELEGRAM_CHAT_ID"
	EnvScriptsDir     = "SCRIPTS_DIR"
)

// ApplyEnv overlays environment overrides on cfg. getenv is usually os.Getenv.
func ApplyEnv(cfg *Config, getenv func(string) string) error {
	if cfg == nil || getenv == nil {
		return nil
	}
	if v := strings.TrimSpace(getenv(EnvBackend)); v != "" {
		cfg.Notify.Backend = strings.ToLower(v)
	}
	if v := strings.TrimSpace(getenv(EnvTelegramToken)); v != "" {
		cfg.Telegram.Token = v
	}
	if v := strings.TrimSpace(getenv(EnvTelegramChatID)); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: invalid chat id %q: %w", EnvTelegramChatID, v, err)
		}
		cfg.Telegram.ChatID = id
	}
	if v := strings.TrimSpace(getenv(EnvScriptsDir)); v != "" {
		cfg.Scripts.Dir = v
	}
	return nil
}
