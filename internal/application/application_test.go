package application_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiftover/shiftover-server/internal/application"
	"github.com/shiftover/shiftover-server/internal/domain"
	"github.com/shiftover/shiftover-server/internal/infrastructure/releasedir"
	"github.com/shiftover/shiftover-server/internal/infrastructure/sqlite"
	"github.com/shiftover/shiftover-server/internal/infrastructure/syncworkflow"
)

type harness struct {
	svc         *application.DeploymentService
	store       *releasedir.Store
	history     *sqlite.HistoryRepo
	deployments *sqlite.DeploymentRepo
	hooks       *domain.HookRegistry
	rollback    *domain.RollbackEngine
}

// setup wires the real stack: sqlite repositories, a filesystem release
// store seeded with 1.0.0 current and 1.1.0 unpacked, and the synchronous
// pipeline engine.
func setup(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()

	db := sqlite.OpenTestDB(t)
	deploymentRepo := &sqlite.DeploymentRepo{DB: db}
	historyRepo := &sqlite.HistoryRepo{DB: db}
	migInfoRepo := &sqlite.MigrationInfoRepo{DB: db}
	backupInfoRepo := &sqlite.BackupInfoRepo{DB: db}

	store := &releasedir.Store{Root: t.TempDir(), AppName: "shiftover"}
	for _, v := range []string{"1.0.0", "1.1.0"} {
		require.NoError(t, store.Install(ctx, v))
	}
	require.NoError(t, store.MakeCurrent(ctx, "1.0.0"))
	require.NoError(t, historyRepo.Append(ctx, domain.HistoryRecord{Version: "1.0.0", DeployedAt: time.Now()}))

	tracker := &domain.MigrationTracker{Runners: map[string]domain.MigrationRunner{}, Infos: migInfoRepo}
	rollback := &domain.RollbackEngine{
		Releases:    store,
		History:     historyRepo,
		Migrations:  tracker,
		BackupInfos: backupInfoRepo,
	}
	hooks := &domain.HookRegistry{RetryDelay: time.Millisecond}
	pipeline := &domain.DeployPipeline{
		Deployments: deploymentRepo,
		History:     historyRepo,
		Releases:    store,
		Validator:   &domain.Validator{Store: store},
		Health:      &domain.HealthRegistry{},
		Hooks:       hooks,
		Migrations:  tracker,
		BackupInfos: backupInfoRepo,
		Rollback:    rollback,
	}

	runner, err := (&syncworkflow.Engine{}).DeployRunner(pipeline)
	require.NoError(t, err)

	return &harness{
		svc: &application.DeploymentService{
			Deployments:   deploymentRepo,
			History:       historyRepo,
			Releases:      store,
			Rollback:      rollback,
			Orchestration: &application.OrchestrationService{Runner: runner},
			Log:           zerolog.Nop(),
		},
		store:       store,
		history:     historyRepo,
		deployments: deploymentRepo,
		hooks:       hooks,
		rollback:    rollback,
	}
}

func TestDeploy_Succeeds(t *testing.T) {
	h := setup(t)
	ctx := context.Background()

	result, err := h.svc.Deploy(ctx, application.DeployInput{
		Version: "1.1.0",
		Options: domain.DefaultDeployOptions(),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.DeploymentStateCompleted, result.State)
	assert.Equal(t, domain.RollbackNotAttempted, result.Rollback)

	current, err := h.store.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", current.Version)

	records, err := h.svc.HistoryRecords(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "1.1.0", records[0].Version)

	dep, err := h.svc.Get(ctx, result.DeploymentID)
	require.NoError(t, err)
	assert.Equal(t, domain.DeploymentStateCompleted, dep.State)
}

func TestDeploy_RequiresVersion(t *testing.T) {
	h := setup(t)
	_, err := h.svc.Deploy(context.Background(), application.DeployInput{})
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestDeploy_RejectsSecondWhileInFlight(t *testing.T) {
	h := setup(t)
	ctx := context.Background()

	entered := make(chan struct{})
	release := make(chan struct{})
	err := h.hooks.Register(domain.HookConfig{
		Name:    "block",
		Phase:   domain.PhasePreDeployment,
		Timeout: 5 * time.Second,
		Enabled: true,
	}, func(context.Context, domain.HookContext) error {
		close(entered)
		<-release
		return nil
	})
	require.NoError(t, err)

	firstDone := make(chan error, 1)
	go func() {
		_, err := h.svc.Deploy(ctx, application.DeployInput{
			Version: "1.1.0",
			Options: domain.DefaultDeployOptions(),
		})
		firstDone <- err
	}()

	<-entered
	_, err = h.svc.Deploy(ctx, application.DeployInput{
		Version: "1.1.0",
		Options: domain.DefaultDeployOptions(),
	})
	require.ErrorIs(t, err, domain.ErrDeploymentInFlight)

	close(release)
	require.NoError(t, <-firstDone)

	// The slot frees up once the first deployment finishes.
	_, err = h.svc.Deploy(ctx, application.DeployInput{
		Version: "1.0.0",
		Options: domain.DefaultDeployOptions(),
	})
	require.NoError(t, err)
}

func TestCancel_OnlyWhileDeploying(t *testing.T) {
	h := setup(t)
	ctx := context.Background()

	opts := domain.DefaultDeployOptions()
	dep := domain.Deployment{
		ID:            "dep-cancel",
		TargetVersion: "1.1.0",
		StartedAt:     time.Now(),
		State:         domain.DeploymentStateCompleted,
		Options:       opts,
	}
	require.NoError(t, h.deployments.Create(ctx, dep))

	err := h.svc.Cancel(ctx, "dep-cancel")
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
	assert.ErrorContains(t, err, "completed")
}

func TestCancel_RollsBackMidSwitch(t *testing.T) {
	h := setup(t)
	ctx := context.Background()

	// Simulate a deployment caught mid-switch: 1.1.0 already current,
	// history appended, record still in deploying.
	require.NoError(t, h.store.MakeCurrent(ctx, "1.1.0"))
	require.NoError(t, h.history.Append(ctx, domain.HistoryRecord{Version: "1.1.0", DeployedAt: time.Now(), PreviousVersion: "1.0.0"}))
	dep := domain.Deployment{
		ID:            "dep-live",
		TargetVersion: "1.1.0",
		StartedAt:     time.Now(),
		State:         domain.DeploymentStateDeploying,
		Options:       domain.DefaultDeployOptions(),
	}
	require.NoError(t, h.deployments.Create(ctx, dep))

	require.NoError(t, h.svc.Cancel(ctx, "dep-live"))

	current, err := h.store.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", current.Version)

	got, err := h.deployments.Get(ctx, "dep-live")
	require.NoError(t, err)
	assert.Equal(t, domain.DeploymentStateRolledBack, got.State)
}

func TestRollbackTo_RestoresPreviousRelease(t *testing.T) {
	h := setup(t)
	ctx := context.Background()

	_, err := h.svc.Deploy(ctx, application.DeployInput{
		Version: "1.1.0",
		Options: domain.DefaultDeployOptions(),
	})
	require.NoError(t, err)

	require.NoError(t, h.svc.RollbackTo(ctx, application.RollbackInput{}))

	current, err := h.store.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", current.Version)
}

func TestRollbackTo_NoHistory(t *testing.T) {
	h := setup(t)
	// Only the seeded 1.0.0 entry exists, so there is nothing to return to.
	err := h.svc.RollbackTo(context.Background(), application.RollbackInput{})
	require.ErrorIs(t, err, domain.ErrNoRollbackTarget)
}
