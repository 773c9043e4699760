package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ConfigPathEnvVar overrides the config file search paths.
const ConfigPathEnvVar = "WAYPOINTRELAY_CONFIG"

// DefaultConfigPaths lists where the optional YAML config file is searched,
// in priority order.
var DefaultConfigPaths = []string{
	"waypointrelay.yaml",
	"waypointrelay.yml",
}

// MirrorConfig controls the optional MQTT fan-out of delivered fixes.
type MirrorConfig struct {
	Enabled     bool   `koanf:"enabled"`
	BrokerURL   string `koanf:"broker_url"`
	TopicPrefix string `koanf:"topic_prefix"`
}

// Config lists the tunable parameters for the relay daemon.
type Config struct {
	SnapshotPath     string        `koanf:"snapshot_path"`
	DestinationsPath string        `koanf:"destinations_path"`
	QueuePath        string        `koanf:"queue_path"`
	HistoryDBPath    string        `koanf:"history_db_path"`
	PollInterval     time.Duration `koanf:"poll_interval"`
	HTTPTimeout      time.Duration `koanf:"http_timeout"`
	StatusPort       int           `koanf:"status_port"`
	MDNSEnabled      bool          `koanf:"mdns_enabled"`
	LogLevel         string        `koanf:"log_level"`
	Mirror           MirrorConfig  `koanf:"mirror"`
}

func defaultConfig() Config {
	return Config{
		SnapshotPath:     defaultSnapshotPath(),
		DestinationsPath: "waypointdb_findmy_config.json",
		QueuePath:        "pending_data.json",
		HistoryDBPath:    "data/waypointrelay.db",
		PollInterval:     60 * time.Second,
		HTTPTimeout:      10 * time.Second,
		StatusPort:       8471,
		MDNSEnabled:      true,
		LogLevel:         "info",
		Mirror: MirrorConfig{
			Enabled:     false,
			BrokerURL:   "tcp://localhost:1883",
			TopicPrefix: "waypointrelay",
		},
	}
}

// defaultSnapshotPath points at the Find My items cache as written on macOS.
func defaultSnapshotPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "Items.data"
	}
	return filepath.Join(home, "Library", "Caches", "com.apple.findmy.fmipcore", "Items.data")
}

// Load builds the configuration from three layers, later layers winning:
// struct defaults, an optional YAML file, and WAYPOINTRELAY_* environment
// variables.
func Load() (Config, error) {
	k := koanf.New(".")

	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("WAYPOINTRELAY_", ".", envTransform), nil); err != nil {
		return Config{}, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// envTransform maps WAYPOINTRELAY_MIRROR_BROKER_URL to mirror.broker_url
// and every other WAYPOINTRELAY_* variable to its flat lowercase key.
func envTransform(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, "WAYPOINTRELAY_"))
	if rest, ok := strings.CutPrefix(s, "mirror_"); ok {
		return "mirror." + rest
	}
	return s
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
		return ""
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// Validate rejects values the daemon cannot run with.
func (c Config) Validate() error {
	if c.SnapshotPath == "" {
		return fmt.Errorf("snapshot_path must not be empty")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval)
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("http_timeout must be positive, got %s", c.HTTPTimeout)
	}
	if c.StatusPort < 1 || c.StatusPort > 65535 {
		return fmt.Errorf("status_port must be between 1 and 65535, got %d", c.StatusPort)
	}
	if c.Mirror.Enabled && c.Mirror.BrokerURL == "" {
		return fmt.Errorf("mirror.broker_url must be set when the mirror is enabled")
	}
	return nil
}
