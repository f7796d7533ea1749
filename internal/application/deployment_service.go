package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/shiftover/shiftover-server/internal/domain"
	"github.com/shiftover/shiftover-server/internal/metrics"
)

// DeployInput is the caller-provided input for starting a deployment.
type DeployInput struct {
	Version string
	Options domain.DeployOptions
}

// DeploymentService is the entry point for deployments. It serializes
// them: the history store assumes one writer, so a second Deploy while one
// is in flight is rejected with ErrDeploymentInFlight rather than queued.
type DeploymentService struct {
	Deployments   domain.DeploymentRepository
	History       domain.HistoryRepository
	Releases      domain.ReleaseStore
	Rollback      *domain.RollbackEngine
	Orchestration *OrchestrationService
	Log           zerolog.Logger

	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time

	mu       sync.Mutex
	inFlight domain.DeploymentID
}

func (s *DeploymentService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Deploy creates a deployment record and runs the deploy pipeline to
// completion. The returned result is terminal even when the deployment
// failed; err covers input and engine errors only.
func (s *DeploymentService) Deploy(ctx context.Context, in DeployInput) (domain.DeployResult, error) {
	if in.Version == "" {
		return domain.DeployResult{}, fmt.Errorf("%w: version is required", domain.ErrInvalidArgument)
	}

	id := domain.DeploymentID(uuid.NewString())
	if err := s.acquire(id); err != nil {
		return domain.DeployResult{}, err
	}
	defer s.release(id)

	dep := domain.Deployment{
		ID:            id,
		TargetVersion: in.Version,
		StartedAt:     s.now(),
		State:         domain.DeploymentStatePreparing,
		Options:       in.Options,
	}
	if err := s.Deployments.Create(ctx, dep); err != nil {
		return domain.DeployResult{}, fmt.Errorf("create deployment: %w", err)
	}

	s.Log.Info().
		Str("deployment_id", string(id)).
		Str("version", in.Version).
		Msg("deployment started")

	result, err := s.Orchestration.Orchestrate(ctx, id)
	if err != nil {
		return domain.DeployResult{}, err
	}

	evt := s.Log.Info()
	if result.State != domain.DeploymentStateCompleted {
		evt = s.Log.Error()
	}
	evt.Str("deployment_id", string(id)).
		Str("version", in.Version).
		Str("state", string(result.State)).
		Str("rollback", string(result.Rollback)).
		Msg("deployment finished")
	return result, nil
}

// Cancel aborts a deployment that is mid-switch. It is only legal while
// the deployment is in the deploying state; earlier states have nothing to
// undo and later states must run to completion. The release and database
// are restored through the rollback engine.
func (s *DeploymentService) Cancel(ctx context.Context, id domain.DeploymentID) error {
	dep, err := s.Deployments.Get(ctx, id)
	if err != nil {
		return err
	}
	if dep.State != domain.DeploymentStateDeploying {
		return fmt.Errorf("%w: cannot cancel deployment in state %q", domain.ErrInvalidArgument, dep.State)
	}

	if err := s.Deployments.UpdateState(ctx, id, domain.DeploymentStateFailed); err != nil {
		return fmt.Errorf("mark deployment failed: %w", err)
	}

	err = s.Rollback.Run(ctx, domain.RollbackRequest{
		FailedVersion: dep.TargetVersion,
		Strategy:      dep.Options.RollbackStrategy,
	})
	switch {
	case errors.Is(err, domain.ErrNoRollbackTarget):
		// Nothing was switched yet; the failed record is enough.
		s.Log.Warn().Str("deployment_id", string(id)).Msg("cancel: no rollback target, release untouched")
		return nil
	case err != nil:
		metrics.Rollbacks.WithLabelValues("cancel", "failure").Inc()
		return err
	}

	metrics.Rollbacks.WithLabelValues("cancel", "success").Inc()
	if err := s.Deployments.UpdateState(ctx, id, domain.DeploymentStateRolledBack); err != nil {
		return fmt.Errorf("mark deployment rolled back: %w", err)
	}
	s.Log.Info().Str("deployment_id", string(id)).Msg("deployment cancelled and rolled back")
	return nil
}

// RollbackInput is the caller-provided input for a manual rollback.
// TargetVersion empty resolves the previous release from history.
type RollbackInput struct {
	TargetVersion string
	Strategy      domain.RollbackStrategy
}

// RollbackTo reverts the current release to the target version through the
// shared rollback engine.
func (s *DeploymentService) RollbackTo(ctx context.Context, in RollbackInput) error {
	current, err := s.Releases.Current(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("%w: no current release to roll back", domain.ErrNoRollbackTarget)
		}
		return err
	}

	strategy := in.Strategy
	if strategy == "" {
		strategy = domain.RollbackMigrationFirst
	}
	err = s.Rollback.Run(ctx, domain.RollbackRequest{
		FailedVersion: current.Version,
		TargetVersion: in.TargetVersion,
		Strategy:      strategy,
	})
	if err != nil {
		if !errors.Is(err, domain.ErrNoRollbackTarget) {
			metrics.Rollbacks.WithLabelValues("manual", "failure").Inc()
		}
		return err
	}
	metrics.Rollbacks.WithLabelValues("manual", "success").Inc()
	return nil
}

// Get retrieves a deployment by ID.
func (s *DeploymentService) Get(ctx context.Context, id domain.DeploymentID) (domain.Deployment, error) {
	return s.Deployments.Get(ctx, id)
}

// List returns all deployment records.
func (s *DeploymentService) List(ctx context.Context) ([]domain.Deployment, error) {
	return s.Deployments.List(ctx)
}

// HistoryRecords returns deployment history, newest first.
func (s *DeploymentService) HistoryRecords(ctx context.Context) ([]domain.HistoryRecord, error) {
	return s.History.List(ctx)
}

func (s *DeploymentService) acquire(id domain.DeploymentID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight != "" {
		return fmt.Errorf("%w: deployment %s is in flight", domain.ErrDeploymentInFlight, s.inFlight)
	}
	s.inFlight = id
	return nil
}

func (s *DeploymentService) release(id domain.DeploymentID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight == id {
		s.inFlight = ""
	}
}
