package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shiftover/shiftover-server/internal/domain"
)

// MigrationInfoRepo implements [domain.MigrationInfoRepository] backed by
// SQLite. Put is an upsert: a deployment rewrites its own record as stores
// complete.
type MigrationInfoRepo struct {
	DB *sql.DB
}

func (r *MigrationInfoRepo) Put(ctx context.Context, info domain.MigrationInfo) error {
	stores, err := json.Marshal(info.Stores)
	if err != nil {
		return fmt.Errorf("marshal migration stores: %w", err)
	}

	_, err = r.DB.ExecContext(ctx,
		`INSERT INTO migration_info (version, stores) VALUES (?, ?)
		 ON CONFLICT (version) DO UPDATE SET stores = excluded.stores`,
		info.Version, string(stores),
	)
	if err != nil {
		return fmt.Errorf("upsert migration info: %w", err)
	}
	return nil
}

func (r *MigrationInfoRepo) GetByVersion(ctx context.Context, version string) (domain.MigrationInfo, error) {
	info := domain.MigrationInfo{Version: version}
	var storesJSON string
	err := r.DB.QueryRowContext(ctx,
		`SELECT stores FROM migration_info WHERE version = ?`, version,
	).Scan(&storesJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return info, fmt.Errorf("migration info %q: %w", version, domain.ErrNotFound)
		}
		return info, fmt.Errorf("get migration info: %w", err)
	}
	if err := json.Unmarshal([]byte(storesJSON), &info.Stores); err != nil {
		return info, fmt.Errorf("unmarshal migration stores: %w", err)
	}
	return info, nil
}

func (r *MigrationInfoRepo) Delete(ctx context.Context, version string) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM migration_info WHERE version = ?`, version)
	if err != nil {
		return fmt.Errorf("delete migration info: %w", err)
	}
	return nil
}
