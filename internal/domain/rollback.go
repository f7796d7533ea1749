package domain

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// RollbackRequest describes one compensating rollback. FailedVersion keys
// the migration record and backup to revert; TargetVersion is the release to
// switch back to, resolved from history when empty.
type RollbackRequest struct {
	FailedVersion string
	TargetVersion string
	Strategy      RollbackStrategy
}

// RollbackEngine is the single rollback implementation. The pipeline's
// failure path, cancellation, the CLI rollback command and the safety
// monitor all funnel through it, so overlapping triggers stay idempotent: a
// second attempt against an already-restored release observes
// ErrNoRollbackTarget instead of switching again.
type RollbackEngine struct {
	Releases    ReleaseStore
	History     HistoryRepository
	Migrations  *MigrationTracker
	Backups     BackupBackend
	BackupInfos BackupInfoRepository
	Log         zerolog.Logger

	// Alert, when set, is called with the failure whenever a rollback
	// itself fails.
	Alert func(*Failure)
}

// Run reverts database state per the request's strategy and switches the
// release store back to the target version. It never re-enters itself; a
// failure here is terminal and surfaced as a rollback failure.
func (e *RollbackEngine) Run(ctx context.Context, req RollbackRequest) error {
	target := req.TargetVersion
	fromHistory := target == ""
	if fromHistory {
		resolved, err := RollbackTarget(ctx, e.History)
		if err != nil {
			return e.fail(WrapFailure(FailureRollback, "resolve rollback target", err))
		}
		target = resolved
	}

	current, err := e.Releases.Current(ctx)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return e.fail(WrapFailure(FailureRollback, "resolve current release", err))
	}
	onTarget := err == nil && current.Version == target

	// A history-resolved rollback finding the target already current is a
	// repeat trigger: report it as having nothing to return to.
	if fromHistory && onTarget {
		return e.fail(WrapFailure(FailureRollback, "already on rollback target", ErrNoRollbackTarget).
			WithContext("target", target))
	}

	if err := e.revertDatabase(ctx, req); err != nil {
		return err
	}

	if onTarget {
		// The explicit target is still current (the failed switch never
		// took); database state is reverted and there is nothing to move.
		return nil
	}

	e.Log.Info().Str("target", target).Msg("switching release back")
	if err := e.Releases.MakeCurrent(ctx, target); err != nil {
		return e.fail(WrapFailure(FailureRollback, fmt.Sprintf("switch back to %s", target), err).
			WithContext("target", target).
			WithSuggestion("the release store is in an inconsistent state; intervene manually"))
	}
	return nil
}

func (e *RollbackEngine) revertDatabase(ctx context.Context, req RollbackRequest) error {
	switch req.Strategy {
	case RollbackSkip:
		return nil
	case RollbackBackupOnly:
		return e.restoreBackup(ctx, req.FailedVersion, nil)
	default:
		if err := e.Migrations.RollbackDeployment(ctx, req.FailedVersion); err != nil {
			e.Log.Warn().Err(err).Msg("migration rollback failed, falling back to backup restore")
			return e.restoreBackup(ctx, req.FailedVersion, err)
		}
		return nil
	}
}

// restoreBackup restores the backup recorded for version. No recorded
// backup is only fatal when a migration rollback already failed; otherwise
// there is nothing to restore.
func (e *RollbackEngine) restoreBackup(ctx context.Context, version string, migrationErr error) error {
	info, err := e.BackupInfos.GetByVersion(ctx, version)
	if errors.Is(err, ErrNotFound) {
		if migrationErr != nil {
			return e.fail(WrapFailure(FailureRollback, "migration rollback failed and no backup exists", migrationErr).
				WithContext("version", version))
		}
		e.Log.Info().Str("version", version).Msg("no backup recorded, skipping restore")
		return nil
	}
	if err != nil {
		return e.fail(WrapFailure(FailureRollback, "load backup info", err).WithContext("version", version))
	}

	e.Log.Info().Str("backup", info.Path).Msg("restoring backup")
	if err := e.Backups.Restore(ctx, info); err != nil {
		return e.fail(WrapFailure(FailureRollback, "restore backup", err).
			WithContext("backup", info.Path).
			WithContext("version", version))
	}
	return nil
}

func (e *RollbackEngine) fail(f *Failure) error {
	// Observing no rollback target is the benign idempotence signal, not
	// an escalation.
	if e.Alert != nil && !errors.Is(f, ErrNoRollbackTarget) {
		e.Alert(f)
	}
	return f
}
