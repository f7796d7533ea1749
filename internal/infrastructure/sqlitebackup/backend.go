// Package sqlitebackup implements [domain.BackupBackend] for a SQLite data
// store. Backups are consistent single-file snapshots taken with VACUUM
// INTO; restore rewrites the database file from the snapshot.
package sqlitebackup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"database/sql"

	"github.com/shiftover/shiftover-server/internal/domain"
)

const backendName = "sqlite"

// Backend backs up the SQLite database behind DB into Dir. DBPath is the
// database file VACUUM INTO snapshots are restored over; callers must
// quiesce the store (no open writers) before Restore.
type Backend struct {
	DB     *sql.DB
	DBPath string
	Dir    string

	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

func (b *Backend) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

// Create writes a consistent snapshot for the given deployment version.
func (b *Backend) Create(ctx context.Context, version string) (domain.BackupInfo, error) {
	if err := os.MkdirAll(b.Dir, 0o755); err != nil {
		return domain.BackupInfo{}, fmt.Errorf("create backup dir: %w", err)
	}

	createdAt := b.now()
	path := filepath.Join(b.Dir, backupFileName(version, createdAt))
	if _, err := b.DB.ExecContext(ctx, `VACUUM INTO ?`, path); err != nil {
		return domain.BackupInfo{}, fmt.Errorf("vacuum into %s: %w", path, err)
	}

	st, err := os.Stat(path)
	if err != nil {
		return domain.BackupInfo{}, fmt.Errorf("stat backup: %w", err)
	}
	return domain.BackupInfo{
		Path:      path,
		Size:      st.Size(),
		CreatedAt: createdAt,
		Version:   version,
		Backend:   backendName,
	}, nil
}

// Restore copies the snapshot back over the database file. Stale WAL and
// shared-memory files are removed so the restored file is authoritative.
func (b *Backend) Restore(_ context.Context, info domain.BackupInfo) error {
	src, err := os.Open(info.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("backup %s: %w", info.Path, domain.ErrNotFound)
		}
		return fmt.Errorf("open backup: %w", err)
	}
	defer src.Close()

	tmp := b.DBPath + ".restore"
	dst, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create restore file: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(tmp)
		return fmt.Errorf("copy backup: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close restore file: %w", err)
	}
	if err := os.Rename(tmp, b.DBPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace database file: %w", err)
	}

	os.Remove(b.DBPath + "-wal")
	os.Remove(b.DBPath + "-shm")
	return nil
}

// List returns the snapshots present in the backup directory, newest first.
func (b *Backend) List(_ context.Context) ([]domain.BackupInfo, error) {
	entries, err := os.ReadDir(b.Dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read backup dir: %w", err)
	}

	var infos []domain.BackupInfo
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		version, createdAt, ok := parseBackupFileName(e.Name())
		if !ok {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("stat backup %s: %w", e.Name(), err)
		}
		infos = append(infos, domain.BackupInfo{
			Path:      filepath.Join(b.Dir, e.Name()),
			Size:      fi.Size(),
			CreatedAt: createdAt,
			Version:   version,
			Backend:   backendName,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].CreatedAt.After(infos[j].CreatedAt) })
	return infos, nil
}

// Delete removes a snapshot. Deleting an already removed snapshot is a
// no-op.
func (b *Backend) Delete(_ context.Context, info domain.BackupInfo) error {
	if err := os.Remove(info.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete backup: %w", err)
	}
	return nil
}

// backupFileName is "<version>__<unix-nanos>.db"; the double underscore
// keeps version strings with hyphens or underscores parseable.
func backupFileName(version string, createdAt time.Time) string {
	return fmt.Sprintf("%s__%d.db", version, createdAt.UnixNano())
}

func parseBackupFileName(name string) (version string, createdAt time.Time, ok bool) {
	base, found := strings.CutSuffix(name, ".db")
	if !found {
		return "", time.Time{}, false
	}
	idx := strings.LastIndex(base, "__")
	if idx <= 0 {
		return "", time.Time{}, false
	}
	nanos, err := strconv.ParseInt(base[idx+2:], 10, 64)
	if err != nil {
		return "", time.Time{}, false
	}
	return base[:idx], time.Unix(0, nanos), true
}
