package domain

import (
	"context"
	"time"
)

// BackupInfo identifies one backup held by a backend. Path is
// backend-specific (a file path for the bundled sqlite backend).
type BackupInfo struct {
	Path      string
	Size      int64
	CreatedAt time.Time
	Version   string
	Backend   string
}

// BackupBackend is the pluggable port for database backups. The pipeline
// decides whether to back up (only when migrations are pending) and how to
// treat a create failure (the backup_required option).
type BackupBackend interface {
	Create(ctx context.Context, version string) (BackupInfo, error)
	Restore(ctx context.Context, info BackupInfo) error
	List(ctx context.Context) ([]BackupInfo, error)
	Delete(ctx context.Context, info BackupInfo) error
}

// BackupInfoRepository persists backup metadata keyed by deployment version,
// so a rollback can locate the backup taken before that version's
// migrations ran.
type BackupInfoRepository interface {
	Put(ctx context.Context, info BackupInfo) error

	// GetByVersion returns ErrNotFound when no backup was recorded for
	// the version.
	GetByVersion(ctx context.Context, version string) (BackupInfo, error)

	List(ctx context.Context) ([]BackupInfo, error)
	Delete(ctx context.Context, version string) error
}
