package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/shiftover/shiftover-server/internal/metrics"
)

// DeployPipeline is the deployment saga: install → switch → verify →
// finalize, with a compensating rollback on any failure. Each step is an
// [Activity] so the pipeline can execute on any [PipelineEngine]; activity
// inputs and outputs are JSON-serializable for the durable engines.
type DeployPipeline struct {
	Deployments DeploymentRepository
	History     HistoryRepository
	Releases    ReleaseStore
	Validator   *Validator
	Health      *HealthRegistry
	Hooks       *HookRegistry
	Migrations  *MigrationTracker
	Backups     BackupBackend
	BackupInfos BackupInfoRepository
	Rollback    *RollbackEngine
	Lifecycle   *LifecycleManager
	Log         zerolog.Logger

	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

// Name is the stable workflow name registered with durable engines.
func (p *DeployPipeline) Name() string { return "deploy-pipeline" }

func (p *DeployPipeline) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// Activity payloads.

type MarkStateInput struct {
	ID    DeploymentID
	State DeploymentState
}

type ValidateInput struct {
	Version    string
	SkipHealth bool
}

type ValidateOutput struct {
	// PreviousVersion is the release current at validation time, empty on
	// a first deploy. It is the rollback target for every later phase.
	PreviousVersion string
}

type HookInput struct {
	ID              DeploymentID
	Version         string
	PreviousVersion string
	Phase           HookPhase
	FailureKind     FailureKind
	FailureMessage  string
}

type PrepareInput struct {
	AutoCleanup bool
}

type MigrateInput struct {
	Version        string
	BackupRequired bool
}

type MigrateOutput struct {
	Migrated bool
	BackedUp bool
}

type ActivateInput struct {
	Version string
}

type VerifyInput struct {
	Timeout time.Duration
}

type FinalizeInput struct {
	ID              DeploymentID
	Version         string
	PreviousVersion string
	DeployedBy      string
	Cleanup         bool
}

type FailInput struct {
	ID              DeploymentID
	Version         string
	PreviousVersion string
	Strategy        RollbackStrategy
	RollbackWanted  bool
	FailureKind     FailureKind
	FailureMessage  string
}

type FailOutput struct {
	Outcome RollbackOutcome
}

// Run executes the pipeline for one deployment. Handled failures are
// reported in the result, not as a workflow error; only an unloadable
// deployment fails the execution itself.
func (p *DeployPipeline) Run(runner DurableRunner, id DeploymentID) (DeployResult, error) {
	metrics.DeploymentsStarted.Inc()

	dep, err := RunActivity(runner, p.LoadDeployment(), id)
	if err != nil {
		return DeployResult{}, fmt.Errorf("load deployment %s: %w", id, err)
	}
	opts := dep.Options

	var prev string
	fail := func(cause error) (DeployResult, error) {
		return p.failDeployment(runner, dep, prev, cause)
	}

	// Phase 1: pre-deployment.
	if _, err := RunActivity(runner, p.MarkState(), MarkStateInput{ID: id, State: DeploymentStatePreparing}); err != nil {
		return fail(err)
	}
	vout, err := RunActivity(runner, p.ValidateDeployment(), ValidateInput{
		Version:    dep.TargetVersion,
		SkipHealth: opts.SkipHealthChecks,
	})
	if err != nil {
		return fail(err)
	}
	prev = vout.PreviousVersion

	if _, err := RunActivity(runner, p.RunPhaseHooks(), HookInput{
		ID: id, Version: dep.TargetVersion, PreviousVersion: prev, Phase: PhasePreDeployment,
	}); err != nil {
		return fail(err)
	}
	if _, err := RunActivity(runner, p.PrepareEnvironment(), PrepareInput{
		AutoCleanup: opts.AutoCleanupBeforeDeploy,
	}); err != nil {
		return fail(err)
	}

	// Phase 2: deployment.
	if _, err := RunActivity(runner, p.MarkState(), MarkStateInput{ID: id, State: DeploymentStateDeploying}); err != nil {
		return fail(err)
	}
	if _, err := RunActivity(runner, p.RunMigrations(), MigrateInput{
		Version:        dep.TargetVersion,
		BackupRequired: opts.BackupRequired,
	}); err != nil {
		return fail(err)
	}
	if _, err := RunActivity(runner, p.ActivateRelease(), ActivateInput{Version: dep.TargetVersion}); err != nil {
		return fail(err)
	}
	if !opts.SkipHealthChecks {
		if _, err := RunActivity(runner, p.VerifyHealth(), VerifyInput{Timeout: opts.HealthCheckTimeout}); err != nil {
			return fail(err)
		}
	}

	// Phase 3: post-deployment.
	if _, err := RunActivity(runner, p.MarkState(), MarkStateInput{ID: id, State: DeploymentStateFinalizing}); err != nil {
		return fail(err)
	}
	if _, err := RunActivity(runner, p.RunPhaseHooks(), HookInput{
		ID: id, Version: dep.TargetVersion, PreviousVersion: prev, Phase: PhasePostDeployment,
	}); err != nil {
		return fail(err)
	}
	if _, err := RunActivity(runner, p.FinalizeDeployment(), FinalizeInput{
		ID:              id,
		Version:         dep.TargetVersion,
		PreviousVersion: prev,
		DeployedBy:      opts.DeployedBy,
		Cleanup:         opts.CleanupAfterSuccess,
	}); err != nil {
		return fail(err)
	}

	metrics.DeploymentsCompleted.Inc()
	return DeployResult{
		DeploymentID: id,
		Version:      dep.TargetVersion,
		State:        DeploymentStateCompleted,
		Rollback:     RollbackNotAttempted,
	}, nil
}

func (p *DeployPipeline) failDeployment(runner DurableRunner, dep Deployment, prev string, cause error) (DeployResult, error) {
	metrics.DeploymentsFailed.Inc()
	failure := AsFailure(cause)

	out, err := RunActivity(runner, p.FailDeployment(), FailInput{
		ID:              dep.ID,
		Version:         dep.TargetVersion,
		PreviousVersion: prev,
		Strategy:        dep.Options.RollbackStrategy,
		RollbackWanted:  dep.Options.RollbackOnFailure,
		FailureKind:     failure.Kind,
		FailureMessage:  failure.Message,
	})
	if err != nil {
		// The failure handler itself broke; report the original failure
		// with the rollback marked failed.
		out = FailOutput{Outcome: RollbackFailed}
	}

	state := DeploymentStateFailed
	if out.Outcome == RollbackSucceeded {
		state = DeploymentStateRolledBack
	}
	return DeployResult{
		DeploymentID: dep.ID,
		Version:      dep.TargetVersion,
		State:        state,
		Rollback:     out.Outcome,
		Failure:      failure,
	}, nil
}

// LoadDeployment fetches the deployment record.
func (p *DeployPipeline) LoadDeployment() Activity[DeploymentID, Deployment] {
	return NewActivity("load-deployment", func(ctx context.Context, id DeploymentID) (Deployment, error) {
		return p.Deployments.Get(ctx, id)
	})
}

// MarkState persists a phase boundary.
func (p *DeployPipeline) MarkState() Activity[MarkStateInput, struct{}] {
	return NewActivity("mark-state", func(ctx context.Context, in MarkStateInput) (struct{}, error) {
		return struct{}{}, p.Deployments.UpdateState(ctx, in.ID, in.State)
	})
}

// ValidateDeployment runs the validator chain and an advisory full health
// pass, and resolves the rollback target for the rest of the pipeline.
func (p *DeployPipeline) ValidateDeployment() Activity[ValidateInput, ValidateOutput] {
	return NewActivity("validate-deployment", func(ctx context.Context, in ValidateInput) (ValidateOutput, error) {
		if err := p.Validator.Validate(ctx, in.Version); err != nil {
			return ValidateOutput{}, err
		}

		if !in.SkipHealth {
			// Pre-switch health is advisory: nothing has changed yet, so a
			// degraded probe is logged rather than blocking.
			if results, err := p.Health.RunAll(ctx); err != nil {
				for _, r := range results {
					if r.Err != nil {
						p.Log.Warn().Str("check", r.Name).Err(r.Err).Msg("pre-deployment health check failed")
					}
				}
			}
		}

		var prev string
		current, err := p.Releases.Current(ctx)
		switch {
		case err == nil:
			prev = current.Version
		case errors.Is(err, ErrNotFound):
		default:
			return ValidateOutput{}, WrapFailure(FailureValidation, "resolve current release", err)
		}
		return ValidateOutput{PreviousVersion: prev}, nil
	})
}

// RunPhaseHooks executes the registered hooks for one phase. Failures in
// on_failure hooks are logged and swallowed; every other phase is fail-fast.
func (p *DeployPipeline) RunPhaseHooks() Activity[HookInput, struct{}] {
	return NewActivity("run-hooks", func(ctx context.Context, in HookInput) (struct{}, error) {
		hctx := HookContext{
			DeploymentID:    in.ID,
			Version:         in.Version,
			PreviousVersion: in.PreviousVersion,
		}
		if in.Phase == PhaseOnFailure {
			hctx.Failure = NewFailure(in.FailureKind, in.FailureMessage)
			if err := p.Hooks.Execute(ctx, in.Phase, hctx); err != nil {
				p.Log.Error().Err(err).Msg("on_failure hook failed")
			}
			return struct{}{}, nil
		}
		return struct{}{}, p.Hooks.Execute(ctx, in.Phase, hctx)
	})
}

// PrepareEnvironment optionally frees disk before the switch.
func (p *DeployPipeline) PrepareEnvironment() Activity[PrepareInput, struct{}] {
	return NewActivity("prepare-environment", func(ctx context.Context, in PrepareInput) (struct{}, error) {
		if !in.AutoCleanup || p.Lifecycle == nil {
			return struct{}{}, nil
		}
		if err := p.Lifecycle.AutoCleanupIfNeeded(ctx); err != nil {
			p.Log.Warn().Err(err).Msg("pre-deploy cleanup failed")
		}
		return struct{}{}, nil
	})
}

// RunMigrations backs up and migrates when anything is pending. The backup
// is taken first so the rollback path always has a restore point; a failed
// backup aborts only when backups are required.
func (p *DeployPipeline) RunMigrations() Activity[MigrateInput, MigrateOutput] {
	return NewActivity("run-migrations", func(ctx context.Context, in MigrateInput) (MigrateOutput, error) {
		pending, err := p.Migrations.CheckPending(ctx)
		if err != nil {
			return MigrateOutput{}, err
		}
		if len(pending) == 0 {
			return MigrateOutput{}, nil
		}

		out := MigrateOutput{}
		info, err := p.Backups.Create(ctx, in.Version)
		if err != nil {
			if in.BackupRequired {
				return out, WrapFailure(FailureBackup, "create backup", err).
					WithContext("version", in.Version).
					WithSuggestion("check the backup backend or deploy without backup_required")
			}
			p.Log.Warn().Err(err).Msg("backup failed, proceeding without a safety net")
		} else if err := p.BackupInfos.Put(ctx, info); err != nil {
			// An unrecorded backup cannot be found at restore time, so it
			// counts as no backup at all.
			if in.BackupRequired {
				return out, WrapFailure(FailureBackup, "record backup info", err).
					WithContext("version", in.Version)
			}
			p.Log.Warn().Err(err).Msg("backup not recorded, proceeding without a safety net")
		} else {
			out.BackedUp = true
		}

		if _, err := p.Migrations.RunPending(ctx, in.Version); err != nil {
			return out, err
		}
		out.Migrated = true
		return out, nil
	})
}

// ActivateRelease installs, activates and promotes the target version.
func (p *DeployPipeline) ActivateRelease() Activity[ActivateInput, struct{}] {
	return NewActivity("activate-release", func(ctx context.Context, in ActivateInput) (struct{}, error) {
		if err := p.Releases.Install(ctx, in.Version); err != nil {
			return struct{}{}, WrapFailure(FailureInternal, fmt.Sprintf("install release %s", in.Version), err)
		}
		if err := p.Releases.Activate(ctx, in.Version); err != nil {
			return struct{}{}, WrapFailure(FailureInternal, fmt.Sprintf("activate release %s", in.Version), err)
		}
		if err := p.Releases.MakeCurrent(ctx, in.Version); err != nil {
			return struct{}{}, WrapFailure(FailureInternal, fmt.Sprintf("make release %s current", in.Version), err)
		}
		return struct{}{}, nil
	})
}

// VerifyHealth gates the switch on the critical probes under a hard
// timeout. The timeout itself is a health failure, not a crash.
func (p *DeployPipeline) VerifyHealth() Activity[VerifyInput, struct{}] {
	return NewActivity("verify-health", func(ctx context.Context, in VerifyInput) (struct{}, error) {
		timeout := in.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}

		done := make(chan error, 1)
		checkCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			_, err := p.Health.RunCritical(checkCtx)
			done <- err
		}()

		select {
		case err := <-done:
			if err != nil {
				return struct{}{}, err
			}
			return struct{}{}, nil
		case <-time.After(timeout):
			return struct{}{}, NewFailure(FailureHealthCheck, "health check timed out").
				WithContext("timeout", timeout.String())
		case <-ctx.Done():
			return struct{}{}, ctx.Err()
		}
	})
}

// FinalizeDeployment records history, marks the deployment completed and
// optionally trims old releases.
func (p *DeployPipeline) FinalizeDeployment() Activity[FinalizeInput, struct{}] {
	return NewActivity("finalize-deployment", func(ctx context.Context, in FinalizeInput) (struct{}, error) {
		if in.Cleanup && p.Lifecycle != nil {
			if _, err := p.Lifecycle.Cleanup(ctx, p.Lifecycle.RetentionCount, false, false); err != nil {
				p.Log.Warn().Err(err).Msg("post-deploy cleanup failed")
			}
		}

		if err := p.History.Append(ctx, HistoryRecord{
			Version:         in.Version,
			DeployedAt:      p.now(),
			DeployedBy:      in.DeployedBy,
			PreviousVersion: in.PreviousVersion,
		}); err != nil {
			return struct{}{}, fmt.Errorf("append history: %w", err)
		}
		return struct{}{}, p.Deployments.UpdateState(ctx, in.ID, DeploymentStateCompleted)
	})
}

// FailDeployment is the compensation path: persist the failed state, run
// on_failure hooks best-effort, then roll back through the shared engine
// when the deployment asked for it.
func (p *DeployPipeline) FailDeployment() Activity[FailInput, FailOutput] {
	return NewActivity("fail-deployment", func(ctx context.Context, in FailInput) (FailOutput, error) {
		if err := p.Deployments.UpdateState(ctx, in.ID, DeploymentStateFailed); err != nil {
			p.Log.Error().Err(err).Msg("persist failed state")
		}

		hctx := HookContext{
			DeploymentID:    in.ID,
			Version:         in.Version,
			PreviousVersion: in.PreviousVersion,
			Failure:         NewFailure(in.FailureKind, in.FailureMessage),
		}
		if err := p.Hooks.Execute(ctx, PhaseOnFailure, hctx); err != nil {
			p.Log.Error().Err(err).Msg("on_failure hook failed")
		}

		if !in.RollbackWanted {
			return FailOutput{Outcome: RollbackNotAttempted}, nil
		}

		err := p.Rollback.Run(ctx, RollbackRequest{
			FailedVersion: in.Version,
			TargetVersion: in.PreviousVersion,
			Strategy:      in.Strategy,
		})
		switch {
		case err == nil:
			metrics.Rollbacks.WithLabelValues("pipeline", "success").Inc()
			if err := p.Deployments.UpdateState(ctx, in.ID, DeploymentStateRolledBack); err != nil {
				p.Log.Error().Err(err).Msg("persist rolled_back state")
			}
			return FailOutput{Outcome: RollbackSucceeded}, nil
		case errors.Is(err, ErrNoRollbackTarget):
			p.Log.Warn().Msg("no rollback target, leaving deployment failed")
			return FailOutput{Outcome: RollbackNotAttempted}, nil
		default:
			metrics.Rollbacks.WithLabelValues("pipeline", "failure").Inc()
			p.Log.Error().Err(err).Msg("rollback failed")
			return FailOutput{Outcome: RollbackFailed}, nil
		}
	})
}
