package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shiftover/shiftover-server/internal/config"
	"github.com/shiftover/shiftover-server/internal/domain"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shiftover.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AppName != "shiftover" {
		t.Errorf("AppName = %q", cfg.AppName)
	}
	if cfg.ReleaseDir != filepath.Join("data", "releases") {
		t.Errorf("ReleaseDir = %q", cfg.ReleaseDir)
	}
	if cfg.DatabasePath != filepath.Join("data", "shiftover.db") {
		t.Errorf("DatabasePath = %q", cfg.DatabasePath)
	}

	opts := cfg.DeployOptions()
	if opts.HealthCheckTimeout != 30*time.Second {
		t.Errorf("HealthCheckTimeout = %v", opts.HealthCheckTimeout)
	}
	if !opts.RollbackOnFailure || !opts.CleanupAfterSuccess {
		t.Errorf("option defaults not preserved: %+v", opts)
	}
	if opts.RollbackStrategy != domain.RollbackMigrationFirst {
		t.Errorf("RollbackStrategy = %q", opts.RollbackStrategy)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
app_name: myapp
data_dir: /srv/myapp
log_level: debug
retention_count: 5
deploy:
  health_check_timeout: 45s
  rollback_on_failure: false
  backup_required: true
  rollback_strategy: backup-only
  skip_existence_check: true
monitor:
  timeout: 2m
  interval: 5s
  max_failures: 4
stores:
  - name: primary
    migrations_dir: /srv/myapp/migrations/primary
`)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AppName != "myapp" || cfg.LogLevel != "debug" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.ReleaseDir != filepath.Join("/srv/myapp", "releases") {
		t.Errorf("ReleaseDir = %q", cfg.ReleaseDir)
	}
	if cfg.Monitor.Interval.Std() != 5*time.Second || cfg.Monitor.MaxFailures != 4 {
		t.Errorf("Monitor = %+v", cfg.Monitor)
	}
	if len(cfg.Stores) != 1 || cfg.Stores[0].Name != "primary" {
		t.Errorf("Stores = %+v", cfg.Stores)
	}
	if cfg.Stores[0].Path != filepath.Join("/srv/myapp", "primary.db") {
		t.Errorf("store Path = %q", cfg.Stores[0].Path)
	}

	opts := cfg.DeployOptions()
	if opts.HealthCheckTimeout != 45*time.Second {
		t.Errorf("HealthCheckTimeout = %v", opts.HealthCheckTimeout)
	}
	if opts.RollbackOnFailure {
		t.Error("RollbackOnFailure should be false")
	}
	if !opts.BackupRequired {
		t.Error("BackupRequired should be true")
	}
	if !cfg.Deploy.SkipExistenceCheck {
		t.Error("SkipExistenceCheck should be true")
	}
	if opts.RollbackStrategy != domain.RollbackBackupOnly {
		t.Errorf("RollbackStrategy = %q", opts.RollbackStrategy)
	}
	// Unset bool pointer keeps the default.
	if !opts.CleanupAfterSuccess {
		t.Error("CleanupAfterSuccess should default to true")
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	if _, err := config.Load(writeConfig(t, "retention_count: 0\n")); err == nil {
		t.Error("expected error for retention_count 0")
	}
	if _, err := config.Load(writeConfig(t, "deploy:\n  rollback_strategy: yolo\n")); err == nil {
		t.Error("expected error for unknown rollback strategy")
	}
	if _, err := config.Load(writeConfig(t, "monitor:\n  interval: banana\n")); err == nil {
		t.Error("expected error for unparsable duration")
	}
	if _, err := config.Load(writeConfig(t, "stores:\n  - migrations_dir: /tmp/mig\n")); err == nil {
		t.Error("expected error for unnamed store")
	}
}
