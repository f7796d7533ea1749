package domain

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"golang.org/x/mod/semver"
)

// DiskState classifies disk usage against a threshold.
type DiskState string

const (
	DiskOK      DiskState = "ok"
	DiskWarning DiskState = "warning"
	DiskError   DiskState = "error"
)

// DiskStatus is the outcome of a disk-space check. A Warning is
// informational; only Error means usage could not be determined.
type DiskStatus struct {
	State       DiskState
	UsedPercent float64
	Threshold   float64
	Detail      string
}

// CleanupReport lists what a cleanup pass selected and, unless it was a dry
// run, removed.
type CleanupReport struct {
	Candidates []Release
	Removed    []string
	DryRun     bool
}

// LifecycleManager applies the retention policy to installed releases and
// watches disk usage.
type LifecycleManager struct {
	Store ReleaseStore

	// RetentionCount releases are kept: the current one plus the newest
	// RetentionCount-1 others.
	RetentionCount int

	// DiskThreshold is the used-percent level at which CheckDiskSpace
	// reports a warning and AutoCleanupIfNeeded acts.
	DiskThreshold float64

	// DiskUsage reports used percent on the release volume.
	DiskUsage func() (float64, error)

	AutoCleanup bool

	Log zerolog.Logger
}

// Cleanup removes old releases beyond the retention count. The current
// release is never a candidate; permanent releases are candidates only when
// force is set. With dryRun the candidate set is reported without removal.
func (m *LifecycleManager) Cleanup(ctx context.Context, retention int, dryRun, force bool) (CleanupReport, error) {
	report := CleanupReport{DryRun: dryRun}

	releases, err := m.Store.List(ctx)
	if err != nil {
		return report, fmt.Errorf("list releases: %w", err)
	}

	var currentVersion string
	current, err := m.Store.Current(ctx)
	switch {
	case err == nil:
		currentVersion = current.Version
	case errors.Is(err, ErrNotFound):
	default:
		return report, fmt.Errorf("resolve current release: %w", err)
	}

	candidates := lo.Filter(releases, func(r Release, _ int) bool {
		if r.Version == currentVersion {
			return false
		}
		if r.Status == ReleaseStatusPermanent && !force {
			return false
		}
		return true
	})
	sortReleasesDescending(candidates)

	keep := retention - 1
	if keep < 0 {
		keep = 0
	}
	if len(candidates) <= keep {
		return report, nil
	}
	report.Candidates = candidates[keep:]

	if dryRun {
		return report, nil
	}

	for _, r := range report.Candidates {
		if err := m.Store.Remove(ctx, r.Version); err != nil {
			return report, fmt.Errorf("remove release %s: %w", r.Version, err)
		}
		m.Log.Info().Str("version", r.Version).Msg("removed old release")
		report.Removed = append(report.Removed, r.Version)
	}
	return report, nil
}

// Remove deletes a single release. The current release is never removable;
// a permanent release requires force.
func (m *LifecycleManager) Remove(ctx context.Context, version string, force bool) error {
	current, err := m.Store.Current(ctx)
	if err == nil && current.Version == version {
		return fmt.Errorf("%w: cannot remove the current release %s", ErrInvalidArgument, version)
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("resolve current release: %w", err)
	}

	releases, err := m.Store.List(ctx)
	if err != nil {
		return fmt.Errorf("list releases: %w", err)
	}
	for _, r := range releases {
		if r.Version == version && r.Status == ReleaseStatusPermanent && !force {
			return fmt.Errorf("%w: release %s is permanent; use force to remove it", ErrInvalidArgument, version)
		}
	}
	return m.Store.Remove(ctx, version)
}

// CheckDiskSpace reports usage against threshold (a used percent).
func (m *LifecycleManager) CheckDiskSpace(threshold float64) DiskStatus {
	if m.DiskUsage == nil {
		return DiskStatus{State: DiskError, Threshold: threshold, Detail: "no disk usage probe configured"}
	}
	used, err := m.DiskUsage()
	if err != nil {
		return DiskStatus{State: DiskError, Threshold: threshold, Detail: err.Error()}
	}
	state := DiskOK
	if used >= threshold {
		state = DiskWarning
	}
	return DiskStatus{State: state, UsedPercent: used, Threshold: threshold}
}

// AutoCleanupIfNeeded runs a cleanup pass only when auto-cleanup is enabled
// and disk usage is at or above the threshold.
func (m *LifecycleManager) AutoCleanupIfNeeded(ctx context.Context) error {
	if !m.AutoCleanup {
		return nil
	}
	status := m.CheckDiskSpace(m.DiskThreshold)
	if status.State != DiskWarning {
		return nil
	}
	m.Log.Info().Float64("used_percent", status.UsedPercent).Msg("disk usage above threshold, cleaning up")
	_, err := m.Cleanup(ctx, m.RetentionCount, false, false)
	return err
}

// sortReleasesDescending orders by semver, newest first. Unparsable versions
// sort last in plain string order so they become removal candidates before
// well-formed ones.
func sortReleasesDescending(releases []Release) {
	sort.SliceStable(releases, func(i, j int) bool {
		vi, vj := "v"+releases[i].Version, "v"+releases[j].Version
		iv, jv := semver.IsValid(vi), semver.IsValid(vj)
		switch {
		case iv && jv:
			return semver.Compare(vi, vj) > 0
		case iv:
			return true
		case jv:
			return false
		default:
			return releases[i].Version > releases[j].Version
		}
	})
}
