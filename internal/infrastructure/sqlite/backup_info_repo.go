package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shiftover/shiftover-server/internal/domain"
)

// BackupInfoRepo implements [domain.BackupInfoRepository] backed by SQLite.
type BackupInfoRepo struct {
	DB *sql.DB
}

func (r *BackupInfoRepo) Put(ctx context.Context, info domain.BackupInfo) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO backups (version, path, size, created_at, backend)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (version) DO UPDATE SET
		   path = excluded.path,
		   size = excluded.size,
		   created_at = excluded.created_at,
		   backend = excluded.backend`,
		info.Version, info.Path, info.Size, info.CreatedAt.UTC().Format(time.RFC3339Nano), info.Backend,
	)
	if err != nil {
		return fmt.Errorf("upsert backup info: %w", err)
	}
	return nil
}

func (r *BackupInfoRepo) GetByVersion(ctx context.Context, version string) (domain.BackupInfo, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT version, path, size, created_at, backend FROM backups WHERE version = ?`,
		version,
	)
	info, err := scanBackupInfo(row)
	if errors.Is(err, domain.ErrNotFound) {
		return info, fmt.Errorf("backup for %q: %w", version, domain.ErrNotFound)
	}
	return info, err
}

func (r *BackupInfoRepo) List(ctx context.Context) ([]domain.BackupInfo, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT version, path, size, created_at, backend FROM backups ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list backup info: %w", err)
	}
	defer rows.Close()

	var infos []domain.BackupInfo
	for rows.Next() {
		info, err := scanBackupInfo(rows)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

func (r *BackupInfoRepo) Delete(ctx context.Context, version string) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM backups WHERE version = ?`, version)
	if err != nil {
		return fmt.Errorf("delete backup info: %w", err)
	}
	return nil
}

func scanBackupInfo(s scanner) (domain.BackupInfo, error) {
	var info domain.BackupInfo
	var createdAtStr string
	if err := s.Scan(&info.Version, &info.Path, &info.Size, &createdAtStr, &info.Backend); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return info, domain.ErrNotFound
		}
		return info, fmt.Errorf("scan backup info: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, createdAtStr)
	if err != nil {
		return info, fmt.Errorf("parse created_at: %w", err)
	}
	info.CreatedAt = t
	return info, nil
}
