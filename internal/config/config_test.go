package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
logging:
  level: debug
  console: true
store:
  driver: sqlite
  path: ./greenthumb.db
  busy_timeout: 5s
mail:
  host: smtp.example.com
  port: 587
  username: mailer
  password: hunter2
  from: noreply@example.com
  rate_per_sec: 2
scheduler:
  enabled: true
metrics:
  enabled: true
  addr: 127.0.0.1:9090
`)

	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	if cfg.Store.Driver != "sqlite" || cfg.Store.Path != "./greenthumb.db" {
		t.Fatalf("store = %+v", cfg.Store)
	}
	if cfg.Mail.Host != "smtp.example.com" || cfg.Mail.Port != 587 || cfg.Mail.RatePerSec != 2 {
		t.Fatalf("mail = %+v", cfg.Mail)
	}
	if !cfg.Scheduler.Enabled {
		t.Fatal("scheduler should be enabled")
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get should return the committed config")
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
mail:
  host: smtp.example.com
  retries: 5
`)
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", "mail: [\n")
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("expected error for malformed yaml")
	}
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{"scheduler":{"enabled":false},"store":{"driver":"sqlite","path":"x.db"},"mail":{"host":"h","port":25,"from":"a@b"},"logging":{"level":"info","console":false,"file":{"enabled":false,"path":""}}}`)
	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Scheduler.Enabled {
		t.Fatal("scheduler should be disabled")
	}
}

func TestReloadPublishesValidatedConfig(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{"scheduler":{"enabled":false}}`)
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	if err := os.WriteFile(path, []byte(`{"scheduler":{"enabled":true}}`), 0o600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	m.reload()

	select {
	case cfg := <-sub:
		if !cfg.Scheduler.Enabled {
			t.Fatal("published config should have scheduler enabled")
		}
	default:
		t.Fatal("expected a published config after reload")
	}
	if got := m.Get(); !got.Scheduler.Enabled {
		t.Fatal("committed config should have scheduler enabled")
	}
}

func TestReloadSkipsUnchangedContent(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{"scheduler":{"enabled":true}}`)
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	// Same content, fresh write timestamp: nothing should be published.
	if err := os.WriteFile(path, []byte(`{"scheduler":{"enabled":true}}`), 0o600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	m.reload()

	select {
	case <-sub:
		t.Fatal("unchanged content must not be republished")
	default:
	}
}

func TestReloadRejectionKeepsPreviousConfig(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{"mail":{"host":"smtp.example.com","port":587,"from":"a@b"}}`)
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	m.SetValidator(func(cfg *Config) error {
		if cfg.Mail.Host == "" {
			return errors.New("mail host required")
		}
		return nil
	})
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	if err := os.WriteFile(path, []byte(`{"mail":{"port":587,"from":"a@b"}}`), 0o600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	m.reload()

	select {
	case <-sub:
		t.Fatal("rejected config must not be published")
	default:
	}
	if got := m.Get(); got.Mail.Host != "smtp.example.com" {
		t.Fatalf("committed host = %q, want previous value retained", got.Mail.Host)
	}

	// A malformed file is likewise ignored.
	if err := os.WriteFile(path, []byte(`{"mail":`), 0o600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	m.reload()
	if got := m.Get(); got.Mail.Host != "smtp.example.com" {
		t.Fatalf("committed host = %q after malformed write, want previous value", got.Mail.Host)
	}
}

func TestLoadRejectsTrailingContent(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{"scheduler":{"enabled":true}} {"extra":1}`)
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("expected error for trailing content")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{"5s", 5 * time.Second, false},
		{" 1m ", time.Minute, false},
		{"-3s", 0, true},
		{"soon", 0, true},
	}
	for _, tc := range tests {
		got, err := ParseDurationField("store.busy_timeout", tc.raw)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseDurationField(%q): expected error", tc.raw)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Errorf("ParseDurationField(%q) = %v, %v; want %v", tc.raw, got, err, tc.want)
		}
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{
		Mail:      MailConfig{Host: "smtp.example.com", Port: 587, From: "a@b"},
		Scheduler: SchedulerConfig{Enabled: true},
	}
	newCfg := &Config{
		Mail:      MailConfig{Host: "smtp.example.com", Port: 587, From: "a@b", Password: "secret"},
		Scheduler: SchedulerConfig{Enabled: false},
	}

	changed, attrs := SummarizeConfigChange(oldCfg, newCfg)
	if len(changed) != 2 || changed[0] != "mail" || changed[1] != "scheduler" {
		t.Fatalf("changed = %v, want [mail scheduler]", changed)
	}
	if len(attrs) == 0 {
		t.Fatal("expected log attrs for changed sections")
	}

	// Identical configs produce no change set.
	changed, _ = SummarizeConfigChange(newCfg, newCfg)
	if len(changed) != 0 {
		t.Fatalf("changed = %v, want none", changed)
	}
}
