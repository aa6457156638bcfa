// Package config defines the root configuration for Saturn: storage paths,
// the definition source directory, collaborator bounds, retention, and
// telemetry. Configuration is loaded from YAML with defaults applied
// before validation.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"cobalt-hq/saturn/pkg/audit"
	"cobalt-hq/saturn/pkg/telemetry/logging"
	"cobalt-hq/saturn/pkg/workflow"
)

// Config is the root configuration structure.
type Config struct {
	// Institution is the tenant this process serves. Definitions and
	// instances for other institutions are invisible to it.
	Institution string `yaml:"institution"`

	// Settings are tenant-scoped values seeded into every new instance as
	// facts under the "institution." prefix (e.g. settings.auto_approve_limit
	// becomes institution.auto_approve_limit).
	Settings map[string]any `yaml:"settings"`

	// Definitions configures where rule set and workflow definition files
	// are loaded from.
	Definitions DefinitionsConfig `yaml:"definitions"`

	// Storage configures the persistence backends.
	Storage StorageConfig `yaml:"storage"`

	// Collaborators bounds external collaborator calls.
	Collaborators workflow.InvokerConfig `yaml:"collaborators"`

	// Workers configures the event delivery pool.
	Workers WorkersConfig `yaml:"workers"`

	// Retention controls pruning of closed instances.
	Retention audit.RetentionConfig `yaml:"retention"`

	// Logging configures the structured logger.
	Logging logging.Config `yaml:"logging"`

	// Metrics configures the Prometheus endpoint.
	Metrics MetricsConfig `yaml:"metrics"`
}

// DefinitionsConfig configures the file-based definition source.
type DefinitionsConfig struct {
	// Dir is the directory holding definition files (.json, .yaml, .yml).
	// Default: "definitions"
	Dir string `yaml:"dir"`

	// Watch reloads the directory on file changes.
	// Default: true
	Watch bool `yaml:"watch"`

	// DebounceInterval collapses rapid file events into one reload.
	// Default: 200ms
	DebounceInterval time.Duration `yaml:"debounce_interval"`
}

// StorageConfig configures the persistence backends.
type StorageConfig struct {
	// Backend selects the store implementation ("sqlite" or "memory").
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	// DefinitionsPath is the SQLite file for published definitions.
	// Default: "data/definitions.db"
	DefinitionsPath string `yaml:"definitions_path"`

	// InstancesPath is the SQLite file for workflow instances.
	// Default: "data/instances.db"
	InstancesPath string `yaml:"instances_path"`
}

// WorkersConfig configures asynchronous event delivery.
type WorkersConfig struct {
	// Count is the number of progression workers.
	// Default: 4
	Count int `yaml:"count"`

	// QueueDepth is the per-worker queue capacity.
	// Default: 64
	QueueDepth int `yaml:"queue_depth"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Enabled controls whether metrics are served.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// ListenAddress is where the metrics HTTP handler listens.
	// Default: "127.0.0.1:9090"
	ListenAddress string `yaml:"listen_address"`
}

// Default returns the stock configuration.
func Default() *Config {
	return &Config{
		Definitions: DefinitionsConfig{
			Dir:              "definitions",
			Watch:            true,
			DebounceInterval: 200 * time.Millisecond,
		},
		Storage: StorageConfig{
			Backend:         "sqlite",
			DefinitionsPath: "data/definitions.db",
			InstancesPath:   "data/instances.db",
		},
		Collaborators: workflow.DefaultInvokerConfig(),
		Workers: WorkersConfig{
			Count:      4,
			QueueDepth: 64,
		},
		Retention: audit.DefaultRetentionConfig(),
		Logging: logging.Config{
			Level:  "info",
			Format: "json",
			Redact: true,
		},
		Metrics: MetricsConfig{
			Enabled:       true,
			ListenAddress: "127.0.0.1:9090",
		},
	}
}

// Load reads and validates a YAML configuration file, applying defaults
// for unset fields. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	d := Default()
	if c.Definitions.Dir == "" {
		c.Definitions.Dir = d.Definitions.Dir
	}
	if c.Definitions.DebounceInterval <= 0 {
		c.Definitions.DebounceInterval = d.Definitions.DebounceInterval
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = d.Storage.Backend
	}
	if c.Storage.DefinitionsPath == "" {
		c.Storage.DefinitionsPath = d.Storage.DefinitionsPath
	}
	if c.Storage.InstancesPath == "" {
		c.Storage.InstancesPath = d.Storage.InstancesPath
	}
	if c.Workers.Count <= 0 {
		c.Workers.Count = d.Workers.Count
	}
	if c.Workers.QueueDepth <= 0 {
		c.Workers.QueueDepth = d.Workers.QueueDepth
	}
	if c.Metrics.ListenAddress == "" {
		c.Metrics.ListenAddress = d.Metrics.ListenAddress
	}
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	if c.Institution == "" {
		return fmt.Errorf("config: institution is required")
	}
	switch c.Storage.Backend {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("config: unknown storage backend %q (want sqlite or memory)", c.Storage.Backend)
	}
	if c.Retention.RetentionDays < 0 {
		return fmt.Errorf("config: retention_days cannot be negative")
	}
	return nil
}
