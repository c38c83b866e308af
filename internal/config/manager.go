package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	logx "quakebot/pkg/logx"
)

// Manager owns the live config: the optional file, the environment overlay
// and the command-line override, in that order of precedence (last wins).
// Watch republishes the config to subscribers after every valid edit.
type Manager struct {
	path     string
	getenv   Getenv
	override func(*Config)
	log      logx.Logger
	check    func(ctx context.Context, cfg *Config) error

	mu   sync.RWMutex
	cfg  *Config
	hash uint64

	subsMu sync.Mutex
	subs   []chan *Config
}

// NewManager returns a manager for path. An empty path means defaults plus
// environment, with nothing to watch.
func NewManager(path string) *Manager {
	return &Manager{path: strings.TrimSpace(path), log: logx.Nop()}
}

func (m *Manager) Path() string { return m.path }

// SetGetenv replaces os.Getenv for environment overrides.
func (m *Manager) SetGetenv(fn Getenv) { m.getenv = fn }

// SetOverride installs a hook applied after the environment on every parse
// (command-line flags).
func (m *Manager) SetOverride(fn func(*Config)) { m.override = fn }

func (m *Manager) SetLogger(log logx.Logger) {
	if log.IsZero() {
		log = logx.Nop()
	}
	m.log = log
}

// SetValidator adds a check run after Validate before a reloaded config is
// committed. The app uses it for checks that need component parsers.
func (m *Manager) SetValidator(fn func(ctx context.Context, cfg *Config) error) { m.check = fn }

// Parse builds a config from Defaults, the file, the environment and the
// override. It does not validate.
func (m *Manager) Parse() (*Config, error) {
	cfg := Defaults()
	if m.path != "" {
		b, err := os.ReadFile(m.path)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		if err := decodeInto(m.path, b, cfg); err != nil {
			return nil, err
		}
	}
	ApplyEnv(cfg, m.getenv)
	if m.override != nil {
		m.override(cfg)
	}
	ApplyDryRun(cfg)
	return cfg, nil
}

// Load parses, validates and commits the config.
func (m *Manager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	m.commit(cfg)
	return cfg, nil
}

func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Manager) commit(cfg *Config) {
	m.mu.Lock()
	m.cfg = cfg
	m.hash = hashConfig(cfg)
	m.mu.Unlock()
}

// Subscribe returns a channel that receives every committed reload. A slow
// subscriber only ever misses intermediate configs, never the latest.
func (m *Manager) Subscribe(buffer int) chan *Config {
	ch := make(chan *Config, max(1, buffer))
	m.subsMu.Lock()
	m.subs = append(m.subs, ch)
	m.subsMu.Unlock()
	return ch
}

// Unsubscribe removes and closes ch.
func (m *Manager) Unsubscribe(ch chan *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for i, s := range m.subs {
		if s == ch {
			m.subs = append(m.subs[:i], m.subs[i+1:]...)
			close(ch)
			return
		}
	}
}

func (m *Manager) publish(cfg *Config) {
	// Held while sending so Unsubscribe cannot close a channel mid-send.
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		for {
			select {
			case ch <- cfg:
			default:
				// full: drop the oldest pending config and retry
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}
