// Package config loads the server configuration from a YAML file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shiftover/shiftover-server/internal/domain"
)

// Duration wraps time.Duration so YAML values like "30s" parse.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// DataStore names one migratable data store: its SQLite file and the
// directory holding its goose migrations. An empty Path defaults to
// <data_dir>/<name>.db.
type DataStore struct {
	Name          string `yaml:"name"`
	Path          string `yaml:"path"`
	MigrationsDir string `yaml:"migrations_dir"`
}

// Deploy carries the per-deployment option defaults.
type Deploy struct {
	HealthCheckTimeout      Duration `yaml:"health_check_timeout"`
	RollbackOnFailure       *bool    `yaml:"rollback_on_failure"`
	SkipHealthChecks        bool     `yaml:"skip_health_checks"`
	CleanupAfterSuccess     *bool    `yaml:"cleanup_after_success"`
	AutoCleanupBeforeDeploy bool     `yaml:"auto_cleanup_before_deploy"`
	BackupRequired          bool     `yaml:"backup_required"`
	RollbackStrategy        string   `yaml:"rollback_strategy"`

	// SkipExistenceCheck lets a deployment target a version that is not
	// installed yet; the pipeline installs it during activation.
	SkipExistenceCheck bool `yaml:"skip_existence_check"`
}

// Monitor carries the safety monitor defaults.
type Monitor struct {
	Timeout     Duration `yaml:"timeout"`
	Interval    Duration `yaml:"interval"`
	MaxFailures int      `yaml:"max_failures"`
}

// Health carries limits for the built-in critical probes. Zero means
// the corresponding probe always passes.
type Health struct {
	MaxHeapBytes  uint64 `yaml:"max_heap_bytes"`
	MaxGoroutines int    `yaml:"max_goroutines"`
}

// Config is the full server configuration.
type Config struct {
	AppName      string `yaml:"app_name"`
	DataDir      string `yaml:"data_dir"`
	ReleaseDir   string `yaml:"release_dir"`
	DatabasePath string `yaml:"database_path"`
	BackupDir    string `yaml:"backup_dir"`
	LogLevel     string `yaml:"log_level"`

	RetentionCount       int     `yaml:"retention_count"`
	DiskThresholdPercent float64 `yaml:"disk_threshold_percent"`
	AutoCleanup          bool    `yaml:"auto_cleanup"`
	MinFreeBytes         uint64  `yaml:"min_free_bytes"`

	HookRetryDelay Duration `yaml:"hook_retry_delay"`

	Deploy  Deploy      `yaml:"deploy"`
	Monitor Monitor     `yaml:"monitor"`
	Health  Health      `yaml:"health"`
	Stores  []DataStore `yaml:"stores"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		AppName:              "shiftover",
		DataDir:              "data",
		LogLevel:             "info",
		RetentionCount:       3,
		DiskThresholdPercent: 95,
		HookRetryDelay:       Duration(time.Second),
		Deploy: Deploy{
			HealthCheckTimeout: Duration(30 * time.Second),
			RollbackStrategy:   string(domain.RollbackMigrationFirst),
		},
		Monitor: Monitor{
			Timeout:     Duration(5 * time.Minute),
			Interval:    Duration(10 * time.Second),
			MaxFailures: 3,
		},
	}
}

// Load reads the YAML file at path over the defaults. An empty path
// returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg.finish()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg.finish()
}

// finish derives dependent paths and validates.
func (c Config) finish() (Config, error) {
	if c.ReleaseDir == "" {
		c.ReleaseDir = filepath.Join(c.DataDir, "releases")
	}
	if c.DatabasePath == "" {
		c.DatabasePath = filepath.Join(c.DataDir, "shiftover.db")
	}
	if c.BackupDir == "" {
		c.BackupDir = filepath.Join(c.DataDir, "backups")
	}
	for i, store := range c.Stores {
		if store.Name == "" {
			return c, fmt.Errorf("stores[%d]: name is required", i)
		}
		if store.Path == "" {
			c.Stores[i].Path = filepath.Join(c.DataDir, store.Name+".db")
		}
	}
	if c.RetentionCount < 1 {
		return c, fmt.Errorf("retention_count must be at least 1, got %d", c.RetentionCount)
	}
	switch domain.RollbackStrategy(c.Deploy.RollbackStrategy) {
	case domain.RollbackMigrationFirst, domain.RollbackBackupOnly, domain.RollbackSkip:
	default:
		return c, fmt.Errorf("unknown rollback_strategy %q", c.Deploy.RollbackStrategy)
	}
	return c, nil
}

// DeployOptions converts the configured deploy defaults into the domain
// options. Pointer fields distinguish "unset" from an explicit false.
func (c Config) DeployOptions() domain.DeployOptions {
	opts := domain.DefaultDeployOptions()
	if c.Deploy.HealthCheckTimeout > 0 {
		opts.HealthCheckTimeout = c.Deploy.HealthCheckTimeout.Std()
	}
	if c.Deploy.RollbackOnFailure != nil {
		opts.RollbackOnFailure = *c.Deploy.RollbackOnFailure
	}
	if c.Deploy.CleanupAfterSuccess != nil {
		opts.CleanupAfterSuccess = *c.Deploy.CleanupAfterSuccess
	}
	opts.SkipHealthChecks = c.Deploy.SkipHealthChecks
	opts.AutoCleanupBeforeDeploy = c.Deploy.AutoCleanupBeforeDeploy
	opts.BackupRequired = c.Deploy.BackupRequired
	opts.RollbackStrategy = domain.RollbackStrategy(c.Deploy.RollbackStrategy)
	return opts
}
