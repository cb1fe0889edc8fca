package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	logx "scoutbot/pkg/logx"
)

const validateTimeout = 5 * time.Second

// ConfigManager holds the committed config and hands reloaded versions to
// subscribers. A reload is committed only after it parses and validates.
type ConfigManager struct {
	path     string
	log      logx.Logger
	validate func(ctx context.Context, cfg *Config) error

	cur     atomic.Pointer[Config]
	watches atomic.Int32

	mu   sync.Mutex
	last []byte // canonical JSON of cur
	subs map[chan *Config]struct{}
}

func NewConfigManager(path string) *ConfigManager {
	return &ConfigManager{path: path, log: logx.Nop(), subs: map[chan *Config]struct{}{}}
}

func (m *ConfigManager) Path() string { return m.path }

func (m *ConfigManager) SetLogger(log logx.Logger) {
	if !log.IsZero() {
		m.log = log
	}
}

// SetValidator installs the check a reload must pass before it is committed.
func (m *ConfigManager) SetValidator(fn func(ctx context.Context, cfg *Config) error) {
	m.validate = fn
}

// Parse reads and strictly decodes the config file (JSON, or YAML by extension).
func (m *ConfigManager) Parse() (*Config, error) {
	b, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	return decode(m.path, b)
}

// decode rejects unknown keys and anything after the first document.
func decode(path string, b []byte) (*Config, error) {
	jb, err := asJSON(path, b)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode %s: trailing data", filepath.Base(path))
	}
	return &cfg, nil
}

// Load parses the file and commits it without validation or publishing.
func (m *ConfigManager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	m.Commit(cfg)
	return cfg, nil
}

func (m *ConfigManager) Commit(cfg *Config) {
	canon, _ := json.Marshal(cfg)
	m.mu.Lock()
	m.cur.Store(cfg)
	m.last = canon
	m.mu.Unlock()
}

func (m *ConfigManager) Get() *Config { return m.cur.Load() }

// Subscribe returns a channel receiving every committed reload. A slow reader
// loses older versions, never the newest.
func (m *ConfigManager) Subscribe(buffer int) chan *Config {
	ch := make(chan *Config, max(buffer, 1))
	m.mu.Lock()
	m.subs[ch] = struct{}{}
	m.mu.Unlock()
	return ch
}

// Unsubscribe stops deliveries to ch and closes it.
func (m *ConfigManager) Unsubscribe(ch chan *Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[ch]; ok {
		delete(m.subs, ch)
		close(ch)
	}
}

// offerLatest puts cfg on ch, evicting the oldest queued value if ch is full.
func offerLatest(ch chan *Config, cfg *Config) bool {
	for range 2 {
		select {
		case ch <- cfg:
			return true
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
	return false
}

// reload parses, validates, commits and publishes the file. Any failure keeps
// the committed config.
func (m *ConfigManager) reload(ctx context.Context) {
	log := m.log.With(logx.String("path", m.path))
	cfg, err := m.Parse()
	if err != nil {
		log.Warn("config parse failed", logx.Err(err))
		return
	}
	canon, _ := json.Marshal(cfg)
	m.mu.Lock()
	same := bytes.Equal(canon, m.last)
	m.mu.Unlock()
	if same {
		log.Debug("config unchanged; skipping publish")
		return
	}
	if m.validate != nil {
		vctx, cancel := context.WithTimeout(ctx, validateTimeout)
		err := m.validate(vctx, cfg)
		cancel()
		if err != nil {
			log.Warn("config rejected", logx.Err(err))
			return
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.cur.Store(cfg)
	m.last = canon
	for ch := range m.subs {
		if !offerLatest(ch, cfg) {
			log.Debug("config update dropped (subscriber slow)", logx.Int("queue_cap", cap(ch)))
		}
	}
	log.Debug("config published", logx.Int("subscribers", len(m.subs)))
}
