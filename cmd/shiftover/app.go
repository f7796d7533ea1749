package main

import (
	"database/sql"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/shiftover/shiftover-server/internal/application"
	"github.com/shiftover/shiftover-server/internal/config"
	"github.com/shiftover/shiftover-server/internal/domain"
	"github.com/shiftover/shiftover-server/internal/infrastructure/goosemigrate"
	"github.com/shiftover/shiftover-server/internal/infrastructure/releasedir"
	"github.com/shiftover/shiftover-server/internal/infrastructure/sqlite"
	"github.com/shiftover/shiftover-server/internal/infrastructure/sqlitebackup"
	"github.com/shiftover/shiftover-server/internal/infrastructure/syncworkflow"
)

// app bundles the wired components behind the CLI commands.
type app struct {
	cfg config.Config

	db       *sql.DB
	storeDBs []*sql.DB

	releases  *releasedir.Store
	lifecycle *domain.LifecycleManager
	backups   *sqlitebackup.Backend

	service *application.DeploymentService
	monitor *application.SafetyMonitor
}

func newApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("bad log level %q: %w", cfg.LogLevel, err)
	}
	logger := log.Logger.Level(level)

	for _, dir := range []string{cfg.DataDir, cfg.ReleaseDir, cfg.BackupDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	db, err := sqlite.Open(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, db: db}

	deployments := &sqlite.DeploymentRepo{DB: db}
	history := &sqlite.HistoryRepo{DB: db}
	migrationInfos := &sqlite.MigrationInfoRepo{DB: db}
	backupInfos := &sqlite.BackupInfoRepo{DB: db}

	store := &releasedir.Store{Root: cfg.ReleaseDir, AppName: cfg.AppName}
	a.releases = store

	runners := make(map[string]domain.MigrationRunner, len(cfg.Stores))
	backupDB, backupPath := db, cfg.DatabasePath
	for i, ds := range cfg.Stores {
		storeDB, err := sqlite.OpenStore(ds.Path)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("open store %s: %w", ds.Name, err)
		}
		a.storeDBs = append(a.storeDBs, storeDB)
		runners[ds.Name] = &goosemigrate.Runner{DB: storeDB, Dir: ds.MigrationsDir}

		// Backups snapshot the first configured store.
		if i == 0 {
			backupDB, backupPath = storeDB, ds.Path
		}
	}

	backend := &sqlitebackup.Backend{DB: backupDB, DBPath: backupPath, Dir: cfg.BackupDir}
	a.backups = backend

	tracker := &domain.MigrationTracker{Runners: runners, Infos: migrationInfos, Log: logger}

	rollback := &domain.RollbackEngine{
		Releases:    store,
		History:     history,
		Migrations:  tracker,
		Backups:     backend,
		BackupInfos: backupInfos,
		Log:         logger,
		Alert: func(f *domain.Failure) {
			logger.Error().
				Str("kind", string(f.Kind)).
				Strs("suggestions", f.SuggestedActions).
				Msg(f.Message)
		},
	}

	validator := &domain.Validator{
		Store:         store,
		SkipExistence: cfg.Deploy.SkipExistenceCheck,
		MinFreeBytes:  cfg.MinFreeBytes,
		DiskFree:      func() (uint64, error) { return releasedir.FreeBytes(cfg.ReleaseDir) },
		Log:           logger,
	}

	health := &domain.HealthRegistry{}
	domain.RegisterDefaultCriticalProbes(health, cfg.Health.MaxHeapBytes, cfg.Health.MaxGoroutines)

	hooks := &domain.HookRegistry{RetryDelay: cfg.HookRetryDelay.Std()}

	lifecycle := &domain.LifecycleManager{
		Store:          store,
		RetentionCount: cfg.RetentionCount,
		DiskThreshold:  cfg.DiskThresholdPercent,
		DiskUsage:      func() (float64, error) { return releasedir.UsedPercent(cfg.ReleaseDir) },
		AutoCleanup:    cfg.AutoCleanup,
		Log:            logger,
	}
	a.lifecycle = lifecycle

	pipeline := &domain.DeployPipeline{
		Deployments: deployments,
		History:     history,
		Releases:    store,
		Validator:   validator,
		Health:      health,
		Hooks:       hooks,
		Migrations:  tracker,
		Backups:     backend,
		BackupInfos: backupInfos,
		Rollback:    rollback,
		Lifecycle:   lifecycle,
		Log:         logger,
	}

	runner, err := (&syncworkflow.Engine{}).DeployRunner(pipeline)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.service = &application.DeploymentService{
		Deployments:   deployments,
		History:       history,
		Releases:      store,
		Rollback:      rollback,
		Orchestration: &application.OrchestrationService{Runner: runner},
		Log:           logger,
	}
	a.monitor = &application.SafetyMonitor{Health: health, Rollback: rollback, Log: logger}

	return a, nil
}

func (a *app) Close() {
	for _, db := range a.storeDBs {
		db.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}
