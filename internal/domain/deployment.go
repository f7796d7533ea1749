package domain

import (
	"context"
	"time"
)

// DeploymentID uniquely identifies a deployment attempt.
type DeploymentID string

// DeploymentState indicates the lifecycle state of a deployment. States move
// forward monotonically; rolled_back is reachable only from failed.
type DeploymentState string

const (
	DeploymentStatePreparing  DeploymentState = "preparing"
	DeploymentStateDeploying  DeploymentState = "deploying"
	DeploymentStateFinalizing DeploymentState = "finalizing"
	DeploymentStateCompleted  DeploymentState = "completed"
	DeploymentStateFailed     DeploymentState = "failed"
	DeploymentStateRolledBack DeploymentState = "rolled_back"
)

// RollbackStrategy selects how the compensating rollback reverts database
// state.
type RollbackStrategy string

const (
	// RollbackMigrationFirst rolls migrations back and falls back to a
	// backup restore if that fails.
	RollbackMigrationFirst RollbackStrategy = "migration-first"

	// RollbackBackupOnly restores from backup without attempting a
	// migration rollback.
	RollbackBackupOnly RollbackStrategy = "backup-only"

	// RollbackSkip leaves database state untouched; only the release is
	// switched back.
	RollbackSkip RollbackStrategy = "skip"
)

// DeployOptions tunes a single deployment. The zero value is not usable;
// construct with DefaultDeployOptions and override.
type DeployOptions struct {
	HealthCheckTimeout      time.Duration
	RollbackOnFailure       bool
	SkipHealthChecks        bool
	CleanupAfterSuccess     bool
	AutoCleanupBeforeDeploy bool
	BackupRequired          bool
	RollbackStrategy        RollbackStrategy
	DeployedBy              string
}

// DefaultDeployOptions returns the documented option defaults.
func DefaultDeployOptions() DeployOptions {
	return DeployOptions{
		HealthCheckTimeout:  30 * time.Second,
		RollbackOnFailure:   true,
		CleanupAfterSuccess: true,
		RollbackStrategy:    RollbackMigrationFirst,
	}
}

// Deployment is the persisted record of one deployment attempt.
type Deployment struct {
	ID            DeploymentID
	TargetVersion string
	StartedAt     time.Time
	State         DeploymentState
	Options       DeployOptions
}

// RollbackOutcome reports what the compensating rollback achieved after a
// failed deployment.
type RollbackOutcome string

const (
	RollbackNotAttempted RollbackOutcome = "not_attempted"
	RollbackSucceeded    RollbackOutcome = "rolled_back"
	RollbackFailed       RollbackOutcome = "failed_with_rollback_failure"
)

// DeployResult is returned to the caller of a deployment.
type DeployResult struct {
	DeploymentID DeploymentID
	Version      string
	State        DeploymentState
	Rollback     RollbackOutcome
	Failure      *Failure
}

// DeploymentRepository persists deployment records.
type DeploymentRepository interface {
	Create(ctx context.Context, d Deployment) error
	Get(ctx context.Context, id DeploymentID) (Deployment, error)
	List(ctx context.Context) ([]Deployment, error)
	UpdateState(ctx context.Context, id DeploymentID, state DeploymentState) error
}
