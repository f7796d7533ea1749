// Package goosemigrate implements [domain.MigrationRunner] for one data
// store using goose SQL migrations from a directory on disk.
package goosemigrate

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"

	"github.com/pressly/goose/v3"

	"github.com/shiftover/shiftover-server/internal/domain"
)

// goose configuration (dialect, base FS) is process-global, so all runner
// operations serialize on one lock and reset it per call.
var gooseMu sync.Mutex

// Runner applies and reverts goose migrations for a single data store.
// Migration IDs are zero-padded goose version numbers, so their string
// order matches apply order.
type Runner struct {
	DB  *sql.DB
	Dir string

	// Dialect defaults to sqlite3.
	Dialect string
}

func (r *Runner) dialect() string {
	if r.Dialect != "" {
		return r.Dialect
	}
	return "sqlite3"
}

func (r *Runner) withGoose(fn func() error) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()
	goose.SetBaseFS(nil)
	if err := goose.SetDialect(r.dialect()); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	return fn()
}

// Pending lists unapplied migrations in apply order.
func (r *Runner) Pending(ctx context.Context) ([]domain.MigrationID, error) {
	var pending []domain.MigrationID
	err := r.withGoose(func() error {
		applied, err := r.appliedSet(ctx)
		if err != nil {
			return err
		}
		all, err := goose.CollectMigrations(r.Dir, 0, math.MaxInt64)
		if err != nil {
			return fmt.Errorf("collect migrations: %w", err)
		}
		for _, m := range all {
			if !applied[m.Version] {
				pending = append(pending, formatID(m.Version))
			}
		}
		return nil
	})
	return pending, err
}

// ApplyAll applies pending migrations one at a time so a failure reports
// exactly what was applied before it.
func (r *Runner) ApplyAll(ctx context.Context) ([]domain.MigrationID, error) {
	pending, err := r.Pending(ctx)
	if err != nil {
		return nil, err
	}

	var applied []domain.MigrationID
	err = r.withGoose(func() error {
		for _, id := range pending {
			if err := goose.UpByOne(r.DB, r.Dir); err != nil {
				return fmt.Errorf("apply migration %s: %w", id, err)
			}
			applied = append(applied, id)
		}
		return nil
	})
	return applied, err
}

// CurrentVersions returns the applied set.
func (r *Runner) CurrentVersions(ctx context.Context) ([]domain.MigrationID, error) {
	var versions []domain.MigrationID
	err := r.withGoose(func() error {
		applied, err := r.appliedSet(ctx)
		if err != nil {
			return err
		}
		for v := range applied {
			versions = append(versions, formatID(v))
		}
		sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
		return nil
	})
	return versions, err
}

// RollbackTo reverts migrations until target is the newest applied one.
// An empty target reverts everything.
func (r *Runner) RollbackTo(ctx context.Context, target domain.MigrationID) error {
	var version int64
	if target != "" {
		v, err := strconv.ParseInt(string(target), 10, 64)
		if err != nil {
			return fmt.Errorf("%w: migration target %q", domain.ErrInvalidArgument, target)
		}
		version = v
	}
	return r.withGoose(func() error {
		if err := goose.DownTo(r.DB, r.Dir, version); err != nil {
			return fmt.Errorf("roll back to %s: %w", target, err)
		}
		return nil
	})
}

// appliedSet replays the goose version table: each row records an up or a
// down, the newest row per version wins.
func (r *Runner) appliedSet(ctx context.Context) (map[int64]bool, error) {
	if _, err := goose.EnsureDBVersion(r.DB); err != nil {
		return nil, fmt.Errorf("ensure goose version table: %w", err)
	}

	rows, err := r.DB.QueryContext(ctx,
		`SELECT version_id, is_applied FROM goose_db_version ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("read goose version table: %w", err)
	}
	defer rows.Close()

	applied := make(map[int64]bool)
	for rows.Next() {
		var version int64
		var isApplied bool
		if err := rows.Scan(&version, &isApplied); err != nil {
			return nil, fmt.Errorf("scan goose version row: %w", err)
		}
		if version == 0 {
			continue
		}
		if isApplied {
			applied[version] = true
		} else {
			delete(applied, version)
		}
	}
	return applied, rows.Err()
}

func formatID(version int64) domain.MigrationID {
	return domain.MigrationID(fmt.Sprintf("%05d", version))
}
