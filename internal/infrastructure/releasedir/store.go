// Package releasedir implements [domain.ReleaseStore] on the local
// filesystem. Releases live under <root>/releases/<version>/ with a small
// metadata file each; the active release is named by a pointer file at
// <root>/current, rewritten atomically via rename.
package releasedir

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/shiftover/shiftover-server/internal/domain"
)

const (
	releasesDir = "releases"
	currentFile = "current"
	metaFile    = "release.json"
)

// Store is a filesystem-backed release store rooted at Root.
type Store struct {
	Root string

	// AppName names installed releases; defaults to "app".
	AppName string
}

type releaseMeta struct {
	Name    string               `json:"name"`
	Version string               `json:"version"`
	Status  domain.ReleaseStatus `json:"status"`
}

func (s *Store) appName() string {
	if s.AppName != "" {
		return s.AppName
	}
	return "app"
}

func (s *Store) releaseDir(version string) string {
	return filepath.Join(s.Root, releasesDir, version)
}

// Install records a release directory for the version. Installing an
// already installed version is a no-op.
func (s *Store) Install(_ context.Context, version string) error {
	dir := s.releaseDir(version)
	if _, err := os.Stat(filepath.Join(dir, metaFile)); err == nil {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create release dir: %w", err)
	}
	meta := releaseMeta{
		Name:    s.appName() + "-" + version,
		Version: version,
		Status:  domain.ReleaseStatusUnpacked,
	}
	if err := s.writeMeta(version, meta); err != nil {
		return err
	}
	return nil
}

// Activate verifies the release is installed and ready to be switched to.
func (s *Store) Activate(_ context.Context, version string) error {
	if _, err := s.readMeta(version); err != nil {
		return err
	}
	return nil
}

// MakeCurrent promotes version to the permanent release and demotes the
// previous current one to old. The pointer rewrite is atomic, so a crash
// leaves either the old or the new release current, never neither.
func (s *Store) MakeCurrent(_ context.Context, version string) error {
	meta, err := s.readMeta(version)
	if err != nil {
		return err
	}

	prev, err := s.currentVersion()
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	if prev != "" && prev != version {
		if prevMeta, err := s.readMeta(prev); err == nil {
			prevMeta.Status = domain.ReleaseStatusOld
			if err := s.writeMeta(prev, prevMeta); err != nil {
				return err
			}
		}
	}

	meta.Status = domain.ReleaseStatusPermanent
	if err := s.writeMeta(version, meta); err != nil {
		return err
	}

	tmp := filepath.Join(s.Root, currentFile+".tmp")
	if err := os.WriteFile(tmp, []byte(version+"\n"), 0o644); err != nil {
		return fmt.Errorf("write current pointer: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(s.Root, currentFile)); err != nil {
		return fmt.Errorf("switch current pointer: %w", err)
	}
	return nil
}

// List returns all installed releases sorted by version string.
func (s *Store) List(_ context.Context) ([]domain.Release, error) {
	entries, err := os.ReadDir(filepath.Join(s.Root, releasesDir))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read releases dir: %w", err)
	}

	var releases []domain.Release
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		meta, err := s.readMeta(e.Name())
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return nil, err
		}
		releases = append(releases, domain.Release(meta))
	}
	sort.Slice(releases, func(i, j int) bool { return releases[i].Version < releases[j].Version })
	return releases, nil
}

// Current returns the release named by the pointer file.
func (s *Store) Current(_ context.Context) (domain.Release, error) {
	version, err := s.currentVersion()
	if err != nil {
		return domain.Release{}, err
	}
	meta, err := s.readMeta(version)
	if err != nil {
		return domain.Release{}, err
	}
	return domain.Release(meta), nil
}

// Remove deletes an installed release. The current release is never
// removable; switch away from it first.
func (s *Store) Remove(_ context.Context, version string) error {
	current, err := s.currentVersion()
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	if current == version {
		return fmt.Errorf("%w: release %s is current", domain.ErrInvalidArgument, version)
	}
	if _, err := s.readMeta(version); err != nil {
		return err
	}
	if err := os.RemoveAll(s.releaseDir(version)); err != nil {
		return fmt.Errorf("remove release %s: %w", version, err)
	}
	return nil
}

func (s *Store) currentVersion() (string, error) {
	b, err := os.ReadFile(filepath.Join(s.Root, currentFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("no current release: %w", domain.ErrNotFound)
		}
		return "", fmt.Errorf("read current pointer: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

func (s *Store) readMeta(version string) (releaseMeta, error) {
	var meta releaseMeta
	b, err := os.ReadFile(filepath.Join(s.releaseDir(version), metaFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return meta, fmt.Errorf("release %s: %w", version, domain.ErrNotFound)
		}
		return meta, fmt.Errorf("read release meta: %w", err)
	}
	if err := json.Unmarshal(b, &meta); err != nil {
		return meta, fmt.Errorf("decode release meta: %w", err)
	}
	return meta, nil
}

func (s *Store) writeMeta(version string, meta releaseMeta) error {
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encode release meta: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.releaseDir(version), metaFile), b, 0o644); err != nil {
		return fmt.Errorf("write release meta: %w", err)
	}
	return nil
}
