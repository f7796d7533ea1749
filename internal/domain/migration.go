package domain

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
)

// MigrationID identifies a single schema migration within one data store.
// IDs within a store are totally ordered by their string-comparable form.
type MigrationID string

// MigrationRunner applies and reverts schema migrations for one data store.
type MigrationRunner interface {
	// Pending lists unapplied migrations in apply order.
	Pending(ctx context.Context) ([]MigrationID, error)

	// ApplyAll applies every pending migration and returns the IDs that
	// were applied, in order. On failure the returned slice holds what
	// was applied before the error.
	ApplyAll(ctx context.Context) ([]MigrationID, error)

	// CurrentVersions returns the applied set.
	CurrentVersions(ctx context.Context) ([]MigrationID, error)

	// RollbackTo reverts migrations until target is the newest applied
	// one. An empty target reverts everything.
	RollbackTo(ctx context.Context, target MigrationID) error
}

// StoreMigrationInfo records, for one data store, what one deployment did:
// the applied set captured before running (the rollback target) and the
// migrations the deployment executed.
type StoreMigrationInfo struct {
	Snapshot []MigrationID
	Applied  []MigrationID
}

// MigrationInfo is the per-deployment migration record, keyed by the
// deployment's target version.
type MigrationInfo struct {
	Version string
	Stores  map[string]StoreMigrationInfo
}

// MigrationInfoRepository persists migration records per deployment version.
type MigrationInfoRepository interface {
	Put(ctx context.Context, info MigrationInfo) error

	// GetByVersion returns ErrNotFound when the version ran no migrations.
	GetByVersion(ctx context.Context, version string) (MigrationInfo, error)

	Delete(ctx context.Context, version string) error
}

// MigrationTracker coordinates migrations across the configured data stores
// and keeps the per-deployment records that make rollback computable.
type MigrationTracker struct {
	Runners map[string]MigrationRunner
	Infos   MigrationInfoRepository
	Log     zerolog.Logger
}

// CheckPending returns the unapplied migrations per data store. Stores with
// nothing pending are omitted; an empty map means nothing is pending.
func (t *MigrationTracker) CheckPending(ctx context.Context) (map[string][]MigrationID, error) {
	pending := make(map[string][]MigrationID)
	for _, name := range t.storeNames() {
		ids, err := t.Runners[name].Pending(ctx)
		if err != nil {
			return nil, WrapFailure(FailureMigration, fmt.Sprintf("check pending migrations for store %q", name), err).
				WithContext("store", name)
		}
		if len(ids) > 0 {
			pending[name] = ids
		}
	}
	return pending, nil
}

// RunPending applies pending migrations store by store, snapshotting each
// store's applied set first. The resulting MigrationInfo is persisted keyed
// by version even when a store fails partway, so rollback targets exactly
// the stores that ran. Stores already migrated by the time of a failure are
// not reverted here; that is the rollback path's job.
func (t *MigrationTracker) RunPending(ctx context.Context, version string) (MigrationInfo, error) {
	info := MigrationInfo{Version: version, Stores: make(map[string]StoreMigrationInfo)}

	for _, name := range t.storeNames() {
		runner := t.Runners[name]

		pending, err := runner.Pending(ctx)
		if err != nil {
			return info, t.finishRun(ctx, info, name, "check pending migrations", err)
		}
		if len(pending) == 0 {
			continue
		}

		snapshot, err := runner.CurrentVersions(ctx)
		if err != nil {
			return info, t.finishRun(ctx, info, name, "snapshot applied migrations", err)
		}

		t.Log.Info().Str("store", name).Int("pending", len(pending)).Msg("running migrations")
		applied, err := runner.ApplyAll(ctx)
		if err != nil {
			return info, t.finishRun(ctx, info, name, "apply migrations", err)
		}

		info.Stores[name] = StoreMigrationInfo{Snapshot: snapshot, Applied: applied}
	}

	if len(info.Stores) == 0 {
		return info, nil
	}
	if err := t.Infos.Put(ctx, info); err != nil {
		return info, WrapFailure(FailureMigration, "persist migration info", err).
			WithContext("version", version)
	}
	return info, nil
}

// finishRun persists whatever completed before the failure and wraps the
// error with the failing store's name.
func (t *MigrationTracker) finishRun(ctx context.Context, info MigrationInfo, store, op string, cause error) error {
	if len(info.Stores) > 0 {
		if err := t.Infos.Put(ctx, info); err != nil {
			t.Log.Error().Err(err).Str("version", info.Version).Msg("persist partial migration info")
		}
	}
	return WrapFailure(FailureMigration, fmt.Sprintf("%s for store %q", op, store), cause).
		WithContext("store", store).
		WithContext("version", info.Version)
}

// RollbackDeployment reverts each store recorded for version back to its
// pre-migration snapshot. A version with no migration record means nothing
// ran, which is not an error. The record is deleted after a successful
// rollback so a second attempt is a no-op.
func (t *MigrationTracker) RollbackDeployment(ctx context.Context, version string) error {
	info, err := t.Infos.GetByVersion(ctx, version)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return WrapFailure(FailureMigration, "load migration info", err).WithContext("version", version)
	}

	names := make([]string, 0, len(info.Stores))
	for name := range info.Stores {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		runner, ok := t.Runners[name]
		if !ok {
			return NewFailure(FailureMigration, fmt.Sprintf("no runner configured for store %q", name)).
				WithContext("store", name)
		}
		target := snapshotTarget(info.Stores[name].Snapshot)
		t.Log.Info().Str("store", name).Str("target", string(target)).Msg("rolling back migrations")
		if err := runner.RollbackTo(ctx, target); err != nil {
			return WrapFailure(FailureMigration, fmt.Sprintf("roll back store %q", name), err).
				WithContext("store", name).
				WithContext("version", version)
		}
	}

	if err := t.Infos.Delete(ctx, version); err != nil {
		t.Log.Error().Err(err).Str("version", version).Msg("delete migration info after rollback")
	}
	return nil
}

func (t *MigrationTracker) storeNames() []string {
	names := make([]string, 0, len(t.Runners))
	for name := range t.Runners {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// snapshotTarget is the newest migration in the snapshot, or empty when the
// store had none applied.
func snapshotTarget(snapshot []MigrationID) MigrationID {
	var target MigrationID
	for _, id := range snapshot {
		if id > target {
			target = id
		}
	}
	return target
}
