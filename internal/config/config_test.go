package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noEnv(string) string { return "" }

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

const sampleYAML = `
scripts:
  dir: /srv/checks
  timeout: 30s
  workers: 4
notify:
  backend: telegram
  rate_per_sec: 2
  retry_max: 0
telegram:
  token: "123:abc"
  chat_id: -1001
  owner_user_ids: [7]
  commands: true
logging:
  level: debug
  console: true
storage:
  driver: sqlite
  path: ./runs.db
digest:
  schedule: "0 9 * * *"
  timezone: UTC
`

func TestParseYAML(t *testing.T) {
	t.Parallel()
	p := writeFile(t, t.TempDir(), "config.yaml", sampleYAML)
	m := NewManager(p)
	m.SetEnv(noEnv)

	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Same(t, cfg, m.Get())

	r, err := Resolve(cfg)
	require.NoError(t, err)
	assert.Equal(t, "/srv/checks", r.ScriptsDir)
	assert.Equal(t, 30*time.Second, r.ScriptTimeout)
	assert.Equal(t, 4, r.ScriptWorkers)
	assert.Equal(t, DefaultMinPassGap, r.MinPassGap)
	assert.Equal(t, DefaultMaxSleep, r.MaxSleep)
	assert.Equal(t, BackendTelegram, r.Backend)
	assert.Equal(t, 0, r.RetryMax)
	assert.Equal(t, int64(-1001), r.ChatID)
	assert.Equal(t, []int64{7}, r.Owners)
	assert.True(t, r.Commands)
	assert.Equal(t, "sqlite", r.StorageDriver)
	assert.Equal(t, "0 9 * * *", r.DigestSchedule)
	assert.Equal(t, time.UTC, r.DigestTimezone)
	// Default() keeps systemd notifications on unless disabled.
	assert.True(t, r.SystemdNotify)
}

func TestParseJSONRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	p := writeFile(t, t.TempDir(), "config.json", `{"scripts":{"dir":"x","bogus":1}}`)
	m := NewManager(p)
	m.SetEnv(noEnv)
	_, err := m.Parse()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bogus")
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()
	p := writeFile(t, t.TempDir(), "config.json", `{"scripts":{"dir":"x"}} {}`)
	m := NewManager(p)
	m.SetEnv(noEnv)
	_, err := m.Parse()
	require.Error(t, err)
}

func TestParseYAMLDocuments(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	m := NewManager(writeFile(t, dir, "empty.yaml", "# nothing here\n"))
	m.SetEnv(noEnv)
	cfg, err := m.Parse()
	require.NoError(t, err)
	assert.Equal(t, "scripts", cfg.Scripts.Dir)

	m = NewManager(writeFile(t, dir, "multi.yml", "scripts:\n  dir: a\n---\nscripts:\n  dir: b\n"))
	m.SetEnv(noEnv)
	_, err = m.Parse()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "more than one document")
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{raw: "", want: 0},
		{raw: "90", want: 90 * time.Second},
		{raw: " 1m30s ", want: 90 * time.Second},
		{raw: "250ms", want: 250 * time.Millisecond},
		{raw: "-5", wantErr: true},
		{raw: "-1s", wantErr: true},
		{raw: "soon", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseDurationField("k", tt.raw)
		if tt.wantErr {
			require.Error(t, err, tt.raw)
			assert.Contains(t, err.Error(), "k:")
			continue
		}
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, got, tt.raw)
	}

	d, err := ParseDurationOrDefault("k", "0", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, d)
}

func TestEnvOverrides(t *testing.T) {
	t.Parallel()
	m := NewManager("")
	m.SetEnv(envMap(map[string]string{
		EnvBackend:        "TEST",
		EnvTelegramToken:  "1:x",
		EnvTelegramChatID: "99",
		EnvScriptsDir:     "/opt/checks",
	}))
	cfg, err := m.Parse()
	require.NoError(t, err)
	assert.Equal(t, BackendTest, cfg.Notify.Backend)
	assert.Equal(t, "1:x", cfg.Telegram.Token)
	assert.Equal(t, int64(99), cfg.Telegram.ChatID)
	assert.Equal(t, "/opt/checks", cfg.Scripts.Dir)

	_, err = Resolve(cfg)
	require.NoError(t, err)
}

func TestEnvOverrideBadChatID(t *testing.T) {
	t.Parallel()
	m := NewManager("")
	m.SetEnv(envMap(map[string]string{EnvTelegramChatID: "abc"}))
	_, err := m.Parse()
	require.Error(t, err)
	assert.Contains(t, err.Error(), EnvTelegramChatID)
}

func TestResolveValidation(t *testing.T) {
	t.Parallel()
	base := func() *Config {
		c := Default()
		c.Telegram.Token = "123:abc"
		c.Telegram.ChatID = 5
		return c
	}
	tests := []struct {
		name   string
		mutate func(c *Config)
		errKey string
	}{
		{name: "valid"},
		{name: "missing token", mutate: func(c *Config) { c.Telegram.Token = "" }, errKey: "telegram.token"},
		{name: "malformed token", mutate: func(c *Config) { c.Telegram.Token = "abc" }, errKey: "telegram.token"},
		{name: "zero chat id", mutate: func(c *Config) { c.Telegram.ChatID = 0 }, errKey: "telegram.chat_id"},
		{name: "unknown backend", mutate: func(c *Config) { c.Notify.Backend = "smtp" }, errKey: "notify.backend"},
		{name: "test backend needs no token", mutate: func(c *Config) { c.Notify.Backend = BackendTest; c.Telegram = TelegramConfig{} }},
		{name: "bad timeout", mutate: func(c *Config) { c.Scripts.Timeout = "soon" }, errKey: "scripts.timeout"},
		{name: "negative gap", mutate: func(c *Config) { c.Scripts.MinPassGap = "-1s" }, errKey: "scripts.min_pass_gap"},
		{name: "negative workers", mutate: func(c *Config) { c.Scripts.Workers = -1 }, errKey: "scripts.workers"},
		{name: "empty dir", mutate: func(c *Config) { c.Scripts.Dir = " " }, errKey: "scripts.dir"},
		{name: "commands without owners", mutate: func(c *Config) { c.Telegram.Commands = true }, errKey: "telegram.owner_user_ids"},
		{name: "storage without path", mutate: func(c *Config) { c.Storage = &StorageConfig{Driver: "file"} }, errKey: "storage.path"},
		{name: "unknown storage", mutate: func(c *Config) { c.Storage = &StorageConfig{Driver: "redis", Path: "x"} }, errKey: "storage.driver"},
		{name: "bad timezone", mutate: func(c *Config) { c.Digest = &DigestConfig{Schedule: "@daily", Timezone: "Mars/Base"} }, errKey: "digest.timezone"},
		{name: "bad log level", mutate: func(c *Config) { c.Logging.Level = "verbose" }, errKey: "logging.level"},
		{name: "debug loopback", mutate: func(c *Config) { c.Debug = &DebugConfig{Addr: "127.0.0.1:7070", Pprof: true} }},
		{name: "debug public needs token", mutate: func(c *Config) { c.Debug = &DebugConfig{Addr: "0.0.0.0:7070"} }, errKey: "debug.addr"},
		{name: "debug public with token", mutate: func(c *Config) { c.Debug = &DebugConfig{Addr: ":7070", Token: "t"} }},
		{name: "debug bad addr", mutate: func(c *Config) { c.Debug = &DebugConfig{Addr: "7070"} }, errKey: "debug.addr"},
		{name: "debug bad stale", mutate: func(c *Config) { c.Debug = &DebugConfig{Stale: "later"} }, errKey: "debug.stale"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := base()
			if tt.mutate != nil {
				tt.mutate(c)
			}
			_, err := Resolve(c)
			if tt.errKey == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errKey)
		})
	}
}

func TestResolveDefaults(t *testing.T) {
	t.Parallel()
	c := Default()
	c.Notify.Backend = BackendTest
	r, err := Resolve(c)
	require.NoError(t, err)
	assert.Equal(t, DefaultScriptTimeout, r.ScriptTimeout)
	assert.Equal(t, 1, r.ScriptWorkers)
	assert.Equal(t, 2, r.RetryMax)
	assert.Empty(t, r.StorageDriver)
	assert.Empty(t, r.DigestSchedule)
	assert.False(t, r.Debug.Enabled)

	c.Debug = &DebugConfig{}
	r, err = Resolve(c)
	require.NoError(t, err)
	assert.True(t, r.Debug.Enabled)
	assert.Equal(t, "127.0.0.1:6060", r.Debug.Addr)
	assert.Equal(t, 5*time.Second, r.Debug.ReadTimeout)
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	a := Default()
	a.Telegram.Token = "1:secret"
	b := Default()
	b.Telegram.Token = "1:other"
	b.Logging.Level = "debug"

	changed, attrs := SummarizeConfigChange(a, b)
	assert.Equal(t, []string{"telegram", "logging"}, changed)
	assert.NotEmpty(t, attrs)
	assert.Equal(t, []string{"telegram.token"}, RestartRequired(a, b))

	changed, _ = SummarizeConfigChange(a, a)
	assert.Empty(t, changed)
}

func TestWatchPublishesValidReloads(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "config.json", `{"scripts":{"dir":"a"},"notify":{"backend":"test"}}`)
	m := NewManager(p)
	m.SetEnv(noEnv)
	m.debounce = 20 * time.Millisecond
	m.SetValidator(func(_ context.Context, cfg *Config) error {
		_, err := Resolve(cfg)
		return err
	})
	_, err := m.Load()
	require.NoError(t, err)

	sub, unsub := m.Subscribe()
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)

	// Invalid content is rejected and never published.
	writeFile(t, dir, "config.json", `{"scripts":{"dir":"b"},"notify":{"backend":"nope"}}`)
	select {
	case cfg := <-sub:
		t.Fatalf("unexpected publish: %+v", cfg.Notify)
	case <-time.After(300 * time.Millisecond):
	}

	writeFile(t, dir, "config.json", `{"scripts":{"dir":"c"},"notify":{"backend":"test"}}`)
	select {
	case cfg := <-sub:
		assert.Equal(t, "c", cfg.Scripts.Dir)
		assert.Equal(t, "c", m.Get().Scripts.Dir)
	case <-time.After(5 * time.Second):
		t.Fatal("reload was not published")
	}
}
