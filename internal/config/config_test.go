package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv(ConfigPathEnvVar, filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.PollInterval != 60*time.Second {
		t.Errorf("unexpected poll interval %s", cfg.PollInterval)
	}
	if cfg.HTTPTimeout != 10*time.Second {
		t.Errorf("unexpected http timeout %s", cfg.HTTPTimeout)
	}
	if cfg.QueuePath != "pending_data.json" {
		t.Errorf("unexpected queue path %q", cfg.QueuePath)
	}
	if cfg.Mirror.Enabled {
		t.Error("mirror should be disabled by default")
	}
	if !cfg.MDNSEnabled {
		t.Error("mDNS should be enabled by default")
	}
	if cfg.SnapshotPath == "" {
		t.Error("snapshot path default must not be empty")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv(ConfigPathEnvVar, filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("WAYPOINTRELAY_POLL_INTERVAL", "90s")
	t.Setenv("WAYPOINTRELAY_STATUS_PORT", "9000")
	t.Setenv("WAYPOINTRELAY_LOG_LEVEL", "debug")
	t.Setenv("WAYPOINTRELAY_MIRROR_ENABLED", "true")
	t.Setenv("WAYPOINTRELAY_MIRROR_BROKER_URL", "tcp://broker:1883")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.PollInterval != 90*time.Second {
		t.Errorf("env poll interval not applied: %s", cfg.PollInterval)
	}
	if cfg.StatusPort != 9000 {
		t.Errorf("env status port not applied: %d", cfg.StatusPort)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("env log level not applied: %q", cfg.LogLevel)
	}
	if !cfg.Mirror.Enabled {
		t.Error("env mirror enable not applied")
	}
	if cfg.Mirror.BrokerURL != "tcp://broker:1883" {
		t.Errorf("env mirror broker not applied: %q", cfg.Mirror.BrokerURL)
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "waypointrelay.yaml")
	content := []byte("poll_interval: 2m\nsnapshot_path: /tmp/Items.data\nmirror:\n  topic_prefix: tags\n")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv(ConfigPathEnvVar, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.PollInterval != 2*time.Minute {
		t.Errorf("file poll interval not applied: %s", cfg.PollInterval)
	}
	if cfg.SnapshotPath != "/tmp/Items.data" {
		t.Errorf("file snapshot path not applied: %q", cfg.SnapshotPath)
	}
	if cfg.Mirror.TopicPrefix != "tags" {
		t.Errorf("file mirror prefix not applied: %q", cfg.Mirror.TopicPrefix)
	}
	// Untouched settings keep their defaults.
	if cfg.StatusPort != 8471 {
		t.Errorf("default status port lost: %d", cfg.StatusPort)
	}
}

func TestEnvBeatsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "waypointrelay.yaml")
	if err := os.WriteFile(path, []byte("poll_interval: 2m\n"), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("WAYPOINTRELAY_POLL_INTERVAL", "15s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.PollInterval != 15*time.Second {
		t.Errorf("expected env to win over file, got %s", cfg.PollInterval)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults are valid", func(c *Config) {}, false},
		{"empty snapshot path", func(c *Config) { c.SnapshotPath = "" }, true},
		{"zero poll interval", func(c *Config) { c.PollInterval = 0 }, true},
		{"negative http timeout", func(c *Config) { c.HTTPTimeout = -time.Second }, true},
		{"port out of range", func(c *Config) { c.StatusPort = 70000 }, true},
		{"port zero", func(c *Config) { c.StatusPort = 0 }, true},
		{"mirror enabled without broker", func(c *Config) {
			c.Mirror.Enabled = true
			c.Mirror.BrokerURL = ""
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected a validation error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected validation error: %v", err)
			}
		})
	}
}
