package config

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	yaml "go.yaml.in/yaml/v3"

	"greenthumb/pkg/logx"
)

const (
	// debounceWindow batches the event bursts editors produce when they
	// save (truncate + write, or write-to-temp + rename).
	debounceWindow = 250 * time.Millisecond

	// watchRestartDelay paces watcher recreation after it breaks.
	watchRestartDelay = time.Second
)

// Manager owns the on-disk config: it loads it, hands out the committed
// snapshot, and hot-reloads it when the file changes.
//
// A reload is transactional: parse, compare against the committed content,
// validate, then commit and publish. A file that fails any of those steps
// leaves the previous config in force.
type Manager struct {
	path string

	mu       sync.RWMutex
	cfg      *Config
	lastHash uint64

	subsMu sync.Mutex
	subs   []chan *Config

	log      logx.Logger
	validate func(cfg *Config) error
}

func NewManager(path string) *Manager {
	return &Manager{path: path}
}

func (m *Manager) SetLogger(log logx.Logger) { m.log = log }

// SetValidator installs the check a reloaded config must pass before it is
// committed and published. Load does not run it; startup validation belongs
// to the caller, which can still refuse to boot.
func (m *Manager) SetValidator(fn func(cfg *Config) error) {
	m.validate = fn
}

// Parse reads and strictly decodes the file without touching the committed
// snapshot. Unknown keys and trailing content are errors; a typo in the file
// must surface, not silently fall back to a default.
func (m *Manager) Parse() (*Config, error) {
	raw, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	jb, err := toJSON(m.path, raw)
	if err != nil {
		return nil, err
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", m.path, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("parse %s: trailing content after config document", m.path)
	}
	return &cfg, nil
}

// Load parses the file and commits the result. Used once at startup.
func (m *Manager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	m.commit(cfg)
	return cfg, nil
}

// Get returns the committed snapshot. Treat it as read-only.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Manager) commit(cfg *Config) {
	m.mu.Lock()
	m.cfg = cfg
	m.lastHash = hashConfig(cfg)
	m.mu.Unlock()
}

func hashConfig(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	return hashBytes(b)
}

// Subscribe returns a channel that receives each committed reload.
func (m *Manager) Subscribe(buffer int) chan *Config {
	ch := make(chan *Config, buffer)
	m.subsMu.Lock()
	m.subs = append(m.subs, ch)
	m.subsMu.Unlock()
	return ch
}

// Unsubscribe removes and closes a channel returned by Subscribe.
func (m *Manager) Unsubscribe(ch chan *Config) {
	if ch == nil {
		return
	}
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

// publish delivers cfg to every subscriber without blocking. A full buffer
// drops this update; subscribers coalesce to the latest config on receive, so
// a drop only delays convergence until the next successful reload.
func (m *Manager) publish(cfg *Config) {
	// Send under subsMu so an Unsubscribe cannot close a channel mid-send.
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- cfg:
		default:
			m.log.Debug("config update dropped, subscriber not keeping up",
				logx.Int("buffered", len(ch)))
		}
	}
}

// reload runs one transactional reload pass from disk.
func (m *Manager) reload() {
	cfg, err := m.Parse()
	if err != nil {
		m.log.Warn("config reload: keeping previous config",
			logx.String("path", m.path), logx.Err(err))
		return
	}

	h := hashConfig(cfg)
	m.mu.RLock()
	unchanged := h != 0 && h == m.lastHash
	m.mu.RUnlock()
	if unchanged {
		m.log.Debug("config file touched but content unchanged", logx.String("path", m.path))
		return
	}

	if m.validate != nil {
		if err := m.validate(cfg); err != nil {
			m.log.Warn("config reload: rejected, keeping previous config",
				logx.String("path", m.path), logx.Err(err))
			return
		}
	}

	m.commit(cfg)
	m.publish(cfg)
	m.log.Info("config reloaded", logx.String("path", m.path))
}

// Watch blocks until ctx is done, reloading the config whenever the file
// changes. The parent directory is watched rather than the file itself so
// rename-style saves (write temp, rename over target) keep working. A broken
// watcher is recreated after a short delay; Watch itself never fails.
func (m *Manager) Watch(ctx context.Context) error {
	dir := filepath.Dir(m.path)
	base := filepath.Base(m.path)

	var pending *time.Timer
	defer func() {
		if pending != nil {
			pending.Stop()
		}
	}()
	schedule := func() {
		if pending != nil {
			pending.Stop()
		}
		pending = time.AfterFunc(debounceWindow, m.reload)
	}

	wait := func() bool {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(watchRestartDelay):
			return true
		}
	}

	for ctx.Err() == nil {
		w, err := fsnotify.NewWatcher()
		if err == nil {
			if err = w.Add(dir); err != nil {
				_ = w.Close()
			}
		}
		if err != nil {
			m.log.Warn("config watch setup failed, retrying",
				logx.String("dir", dir), logx.Err(err))
			if !wait() {
				return nil
			}
			continue
		}
		m.log.Debug("watching config", logx.String("dir", dir), logx.String("file", base))

		alive := true
		for alive {
			select {
			case <-ctx.Done():
				_ = w.Close()
				return nil
			case ev, ok := <-w.Events:
				if !ok {
					alive = false
					break
				}
				// Any op on our file counts: writes, renames over it,
				// deletion followed by recreation.
				if strings.EqualFold(filepath.Base(ev.Name), base) {
					schedule()
				}
			case werr, ok := <-w.Errors:
				if !ok {
					alive = false
					break
				}
				m.log.Warn("config watch error", logx.Err(werr))
			}
		}

		_ = w.Close()
		if ctx.Err() != nil {
			return nil
		}
		m.log.Warn("config watcher stopped, restarting", logx.String("dir", dir))
		if !wait() {
			return nil
		}
	}
	return nil
}

// toJSON coerces the raw file to JSON so one strict decoder handles both
// formats. YAML files are unmarshalled generically and re-marshalled; JSON
// files pass through untouched.
func toJSON(path string, raw []byte) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
	default:
		return raw, nil
	}

	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	jb, err := json.Marshal(stringifyKeys(doc))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return jb, nil
}

// stringifyKeys rewrites any map[any]any the YAML decoder may produce into
// map[string]any, since encoding/json refuses non-string keys.
func stringifyKeys(v any) any {
	switch x := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[fmt.Sprint(k)] = stringifyKeys(val)
		}
		return out
	case map[string]any:
		for k, val := range x {
			x[k] = stringifyKeys(val)
		}
		return x
	case []any:
		for i := range x {
			x[i] = stringifyKeys(x[i])
		}
		return x
	default:
		return v
	}
}
