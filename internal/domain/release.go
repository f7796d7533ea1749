package domain

import "context"

// ReleaseStatus indicates the lifecycle state of an installed release.
type ReleaseStatus string

const (
	// ReleaseStatusUnpacked means the release is installed but has never
	// been activated.
	ReleaseStatusUnpacked ReleaseStatus = "unpacked"

	// ReleaseStatusOld means the release was current at some point and has
	// since been replaced.
	ReleaseStatusOld ReleaseStatus = "old"

	// ReleaseStatusPermanent marks the currently active release. At most
	// one release carries this status at a time.
	ReleaseStatusPermanent ReleaseStatus = "permanent"
)

// Release describes an installed release known to the release store.
type Release struct {
	Name    string
	Version string
	Status  ReleaseStatus
}

// ReleaseStore is the port through which the pipeline installs, activates
// and switches releases. The physical mechanism (file layout, code loading,
// process restart) is the store's concern; the pipeline treats each
// operation as atomic.
type ReleaseStore interface {
	Install(ctx context.Context, version string) error
	Activate(ctx context.Context, version string) error

	// MakeCurrent promotes version to the single permanent release,
	// demoting the previous one to old.
	MakeCurrent(ctx context.Context, version string) error

	List(ctx context.Context) ([]Release, error)

	// Current returns the active release, or ErrNotFound if no release
	// has been made current yet.
	Current(ctx context.Context) (Release, error)

	Remove(ctx context.Context, version string) error
}
