package config

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	logx "scriptwatch/pkg/logx"
)

// Manager loads the configuration file, applies environment overrides and,
// when watched, publishes validated reloads to subscribers.
type Manager struct {
	path     string
	getenv   func(string) string
	debounce time.Duration

	log      logx.Logger
	validate func(ctx context.Context, cfg *Config) error

	mu      sync.RWMutex
	current *Config
	digest  []byte // canonical JSON of current

	subMu  sync.Mutex
	nextID int
	subs   map[int]chan *Config
}

// NewManager returns a manager for path. An empty path means defaults plus
// environment, with nothing to watch.
func NewManager(path string) *Manager {
	return &Manager{
		path:     strings.TrimSpace(path),
		getenv:   os.Getenv,
		debounce: 250 * time.Millisecond,
		log:      logx.Nop(),
		subs:     map[int]chan *Config{},
	}
}

func (m *Manager) Path() string { return m.path }

func (m *Manager) SetLogger(log logx.Logger) {
	if !log.IsZero() {
		m.log = log
	}
}

// SetEnv replaces the environment lookup.
func (m *Manager) SetEnv(getenv func(string) string) { m.getenv = getenv }

// SetValidator installs the check a reloaded config must pass before it is
// committed and published.
func (m *Manager) SetValidator(fn func(ctx context.Context, cfg *Config) error) {
	m.validate = fn
}

// Parse reads the file (if any) over the defaults and applies environment
// overrides. It does not change the current config.
func (m *Manager) Parse() (*Config, error) {
	cfg := Default()
	if m.path != "" {
		raw, err := os.ReadFile(m.path)
		if err != nil {
			return nil, err
		}
		if err := decodeInto(cfg, m.path, raw); err != nil {
			return nil, fmt.Errorf("%s: %w", m.path, err)
		}
	}
	if err := ApplyEnv(cfg, m.getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load parses and commits the config.
func (m *Manager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	m.Commit(cfg)
	return cfg, nil
}

// Commit makes cfg current without notifying subscribers.
func (m *Manager) Commit(cfg *Config) {
	d := canonical(cfg)
	m.mu.Lock()
	m.current, m.digest = cfg, d
	m.mu.Unlock()
}

func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

func canonical(cfg *Config) []byte {
	b, err := json.Marshal(cfg)
	if err != nil {
		return nil
	}
	return b
}

// Subscribe returns a channel that receives every published config. A
// subscriber that falls behind only sees the newest one. The returned func
// closes the channel.
func (m *Manager) Subscribe() (<-chan *Config, func()) {
	ch := make(chan *Config, 1)
	m.subMu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = ch
	m.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.subMu.Lock()
			delete(m.subs, id)
			m.subMu.Unlock()
			close(ch)
		})
	}
}

func (m *Manager) publish(cfg *Config) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subs {
		// replace an unread older config
		select {
		case <-ch:
		default:
		}
		ch <- cfg
	}
}

// reload parses, validates and publishes the file if its content changed.
func (m *Manager) reload(ctx context.Context) {
	cfg, err := m.Parse()
	if err != nil {
		m.log.Warn("config parse failed", logx.String("path", m.path), logx.Err(err))
		return
	}
	d := canonical(cfg)
	m.mu.RLock()
	same := d != nil && bytes.Equal(d, m.digest)
	m.mu.RUnlock()
	if same {
		m.log.Debug("config unchanged", logx.String("path", m.path))
		return
	}
	if m.validate != nil {
		vctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := m.validate(vctx, cfg)
		cancel()
		if err != nil {
			m.log.Warn("config rejected", logx.String("path", m.path), logx.Err(err))
			return
		}
	}
	m.Commit(cfg)
	m.publish(cfg)
	m.log.Debug("config published", logx.String("path", m.path))
}
