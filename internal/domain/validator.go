package domain

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/rs/zerolog"
	"golang.org/x/mod/semver"
)

var versionPattern = regexp.MustCompile(`^\d+\.\d+\.\d+(-\w+)?$`)

// Validator runs the pre-switch validation chain: version syntax, release
// existence, compatibility with the current release, and disk space. Checks
// short-circuit on the first failure.
type Validator struct {
	Store ReleaseStore

	// SkipExistence disables the release-existence check (test mode, or
	// deployments that install as part of the pipeline).
	SkipExistence bool

	// MinFreeBytes is the disk-space floor. Zero disables the check.
	MinFreeBytes uint64

	// DiskFree reports available bytes on the release volume. Required
	// when MinFreeBytes is set.
	DiskFree func() (uint64, error)

	Log zerolog.Logger
}

// ValidateVersion checks version syntax: three dot-separated numeric
// components with an optional -suffix.
func (v *Validator) ValidateVersion(version string) error {
	if !versionPattern.MatchString(version) {
		return NewFailure(FailureValidation, fmt.Sprintf("invalid version format %q", version)).
			WithSuggestion("use MAJOR.MINOR.PATCH with an optional -suffix").
			WithContext("version", version)
	}
	return nil
}

// CheckCompatibility rejects switching to the version that is already
// current and warns on downgrades. Versions that cannot be parsed are
// allowed through; the caller asked for a specific version and syntax has
// already been checked separately.
func (v *Validator) CheckCompatibility(from, to string) error {
	if from == to {
		return NewFailure(FailureValidation, fmt.Sprintf("version %s is already deployed", to)).
			WithSuggestion("pick a different target version").
			WithContext("current_version", from)
	}
	vf, vt := "v"+from, "v"+to
	if !semver.IsValid(vf) || !semver.IsValid(vt) {
		return nil
	}
	if semver.Compare(vt, vf) < 0 {
		v.Log.Warn().Str("from", from).Str("to", to).Msg("downgrading to an older version")
	}
	return nil
}

// Validate runs the full chain against the target version.
func (v *Validator) Validate(ctx context.Context, version string) error {
	if err := v.ValidateVersion(version); err != nil {
		return err
	}

	if !v.SkipExistence {
		if err := v.checkExists(ctx, version); err != nil {
			return err
		}
	}

	current, err := v.Store.Current(ctx)
	if err == nil {
		if err := v.CheckCompatibility(current.Version, version); err != nil {
			return err
		}
	} else if !errors.Is(err, ErrNotFound) {
		return WrapFailure(FailureValidation, "resolve current release", err)
	}

	if v.MinFreeBytes > 0 {
		if err := v.checkDiskSpace(); err != nil {
			return err
		}
	}
	return nil
}

func (v *Validator) checkExists(ctx context.Context, version string) error {
	releases, err := v.Store.List(ctx)
	if err != nil {
		return WrapFailure(FailureValidation, "list releases", err)
	}
	for _, r := range releases {
		if r.Version == version {
			return nil
		}
	}
	return NewFailure(FailureValidation, fmt.Sprintf("release %s is not installed", version)).
		WithSuggestion("install the release before deploying").
		WithContext("version", version)
}

func (v *Validator) checkDiskSpace() error {
	if v.DiskFree == nil {
		return NewFailure(FailureResource, "disk space check configured without a DiskFree probe")
	}
	free, err := v.DiskFree()
	if err != nil {
		return WrapFailure(FailureResource, "determine free disk space", err)
	}
	if free < v.MinFreeBytes {
		return NewFailure(FailureResource, "insufficient disk space").
			WithSuggestion("remove old releases or raise the volume size").
			WithContext("free_bytes", free).
			WithContext("min_free_bytes", v.MinFreeBytes)
	}
	return nil
}
