package domain_test

import (
	"context"
	"fmt"
	"sync"

	"github.com/shiftover/shiftover-server/internal/domain"
)

// inlineRunner executes activities synchronously with the given context.
type inlineRunner struct {
	ctx context.Context
}

func (r *inlineRunner) ID() string               { return "test-run" }
func (r *inlineRunner) Context() context.Context { return r.ctx }
func (r *inlineRunner) Run(activity domain.Activity[any, any], in any) (any, error) {
	return activity.Run(r.ctx, in)
}

// fakeReleaseStore is an in-memory ReleaseStore with per-operation error
// injection.
type fakeReleaseStore struct {
	mu       sync.Mutex
	releases map[string]domain.Release
	current  string

	installErr        error
	activateErr       error
	makeCurrentErr    error
	makeCurrentErrFor map[string]error
	removeErr         error

	removed []string
}

func newFakeReleaseStore(versions ...string) *fakeReleaseStore {
	s := &fakeReleaseStore{releases: make(map[string]domain.Release)}
	for _, v := range versions {
		s.releases[v] = domain.Release{Name: "app-" + v, Version: v, Status: domain.ReleaseStatusUnpacked}
	}
	return s
}

func (s *fakeReleaseStore) Install(_ context.Context, version string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.installErr != nil {
		return s.installErr
	}
	if _, ok := s.releases[version]; !ok {
		s.releases[version] = domain.Release{Name: "app-" + version, Version: version, Status: domain.ReleaseStatusUnpacked}
	}
	return nil
}

func (s *fakeReleaseStore) Activate(_ context.Context, version string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activateErr != nil {
		return s.activateErr
	}
	if _, ok := s.releases[version]; !ok {
		return fmt.Errorf("release %s: %w", version, domain.ErrNotFound)
	}
	return nil
}

func (s *fakeReleaseStore) MakeCurrent(_ context.Context, version string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.makeCurrentErr != nil {
		return s.makeCurrentErr
	}
	if err, ok := s.makeCurrentErrFor[version]; ok {
		return err
	}
	r, ok := s.releases[version]
	if !ok {
		return fmt.Errorf("release %s: %w", version, domain.ErrNotFound)
	}
	if prev, ok := s.releases[s.current]; ok && s.current != version {
		prev.Status = domain.ReleaseStatusOld
		s.releases[s.current] = prev
	}
	r.Status = domain.ReleaseStatusPermanent
	s.releases[version] = r
	s.current = version
	return nil
}

func (s *fakeReleaseStore) List(_ context.Context) ([]domain.Release, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Release, 0, len(s.releases))
	for _, r := range s.releases {
		out = append(out, r)
	}
	return out, nil
}

func (s *fakeReleaseStore) Current(_ context.Context) (domain.Release, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == "" {
		return domain.Release{}, domain.ErrNotFound
	}
	return s.releases[s.current], nil
}

func (s *fakeReleaseStore) Remove(_ context.Context, version string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removeErr != nil {
		return s.removeErr
	}
	if version == s.current {
		return fmt.Errorf("%w: release %s is current", domain.ErrInvalidArgument, version)
	}
	if _, ok := s.releases[version]; !ok {
		return fmt.Errorf("release %s: %w", version, domain.ErrNotFound)
	}
	delete(s.releases, version)
	s.removed = append(s.removed, version)
	return nil
}

// setCurrent seeds an already-active release.
func (s *fakeReleaseStore) setCurrent(version string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.releases[version]
	r.Version = version
	r.Status = domain.ReleaseStatusPermanent
	s.releases[version] = r
	s.current = version
}

// fakeHistory keeps records newest first.
type fakeHistory struct {
	mu      sync.Mutex
	records []domain.HistoryRecord
	listErr error
}

func (h *fakeHistory) Append(_ context.Context, rec domain.HistoryRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append([]domain.HistoryRecord{rec}, h.records...)
	return nil
}

func (h *fakeHistory) List(_ context.Context) ([]domain.HistoryRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listErr != nil {
		return nil, h.listErr
	}
	out := make([]domain.HistoryRecord, len(h.records))
	copy(out, h.records)
	return out, nil
}

// fakeDeployments records state transitions per deployment.
type fakeDeployments struct {
	mu          sync.Mutex
	deployments map[domain.DeploymentID]domain.Deployment
	states      map[domain.DeploymentID][]domain.DeploymentState
}

func newFakeDeployments() *fakeDeployments {
	return &fakeDeployments{
		deployments: make(map[domain.DeploymentID]domain.Deployment),
		states:      make(map[domain.DeploymentID][]domain.DeploymentState),
	}
}

func (d *fakeDeployments) Create(_ context.Context, dep domain.Deployment) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.deployments[dep.ID]; ok {
		return fmt.Errorf("deployment %s: %w", dep.ID, domain.ErrAlreadyExists)
	}
	d.deployments[dep.ID] = dep
	return nil
}

func (d *fakeDeployments) Get(_ context.Context, id domain.DeploymentID) (domain.Deployment, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	dep, ok := d.deployments[id]
	if !ok {
		return domain.Deployment{}, fmt.Errorf("deployment %s: %w", id, domain.ErrNotFound)
	}
	return dep, nil
}

func (d *fakeDeployments) List(_ context.Context) ([]domain.Deployment, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]domain.Deployment, 0, len(d.deployments))
	for _, dep := range d.deployments {
		out = append(out, dep)
	}
	return out, nil
}

func (d *fakeDeployments) UpdateState(_ context.Context, id domain.DeploymentID, state domain.DeploymentState) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	dep, ok := d.deployments[id]
	if !ok {
		return fmt.Errorf("deployment %s: %w", id, domain.ErrNotFound)
	}
	dep.State = state
	d.deployments[id] = dep
	d.states[id] = append(d.states[id], state)
	return nil
}

// fakeBackupBackend hands out synthetic backup infos.
type fakeBackupBackend struct {
	mu        sync.Mutex
	createErr error
	restoreErr error
	created   []domain.BackupInfo
	restored  []domain.BackupInfo
}

func (b *fakeBackupBackend) Create(_ context.Context, version string) (domain.BackupInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.createErr != nil {
		return domain.BackupInfo{}, b.createErr
	}
	info := domain.BackupInfo{Path: "backups/" + version + ".db", Version: version, Backend: "fake"}
	b.created = append(b.created, info)
	return info, nil
}

func (b *fakeBackupBackend) Restore(_ context.Context, info domain.BackupInfo) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.restoreErr != nil {
		return b.restoreErr
	}
	b.restored = append(b.restored, info)
	return nil
}

func (b *fakeBackupBackend) List(_ context.Context) ([]domain.BackupInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.BackupInfo, len(b.created))
	copy(out, b.created)
	return out, nil
}

func (b *fakeBackupBackend) Delete(_ context.Context, _ domain.BackupInfo) error { return nil }

// fakeBackupInfos is an in-memory BackupInfoRepository.
type fakeBackupInfos struct {
	mu     sync.Mutex
	infos  map[string]domain.BackupInfo
	putErr error
}

func newFakeBackupInfos() *fakeBackupInfos {
	return &fakeBackupInfos{infos: make(map[string]domain.BackupInfo)}
}

func (r *fakeBackupInfos) Put(_ context.Context, info domain.BackupInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.putErr != nil {
		return r.putErr
	}
	r.infos[info.Version] = info
	return nil
}

func (r *fakeBackupInfos) GetByVersion(_ context.Context, version string) (domain.BackupInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.infos[version]
	if !ok {
		return domain.BackupInfo{}, fmt.Errorf("backup for %s: %w", version, domain.ErrNotFound)
	}
	return info, nil
}

func (r *fakeBackupInfos) List(_ context.Context) ([]domain.BackupInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.BackupInfo, 0, len(r.infos))
	for _, info := range r.infos {
		out = append(out, info)
	}
	return out, nil
}

func (r *fakeBackupInfos) Delete(_ context.Context, version string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.infos, version)
	return nil
}

// fakeMigrationInfos is an in-memory MigrationInfoRepository.
type fakeMigrationInfos struct {
	mu    sync.Mutex
	infos map[string]domain.MigrationInfo
}

func newFakeMigrationInfos() *fakeMigrationInfos {
	return &fakeMigrationInfos{infos: make(map[string]domain.MigrationInfo)}
}

func (r *fakeMigrationInfos) Put(_ context.Context, info domain.MigrationInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.infos[info.Version] = info
	return nil
}

func (r *fakeMigrationInfos) GetByVersion(_ context.Context, version string) (domain.MigrationInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.infos[version]
	if !ok {
		return domain.MigrationInfo{}, fmt.Errorf("migration info for %s: %w", version, domain.ErrNotFound)
	}
	return info, nil
}

func (r *fakeMigrationInfos) Delete(_ context.Context, version string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.infos, version)
	return nil
}

// fakeMigrationRunner is a scripted MigrationRunner for one data store.
type fakeMigrationRunner struct {
	mu       sync.Mutex
	pending  []domain.MigrationID
	applied  []domain.MigrationID
	applyErr error
	rolledBackTo []domain.MigrationID
	rollbackErr  error
}

func (r *fakeMigrationRunner) Pending(_ context.Context) ([]domain.MigrationID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.MigrationID, len(r.pending))
	copy(out, r.pending)
	return out, nil
}

func (r *fakeMigrationRunner) ApplyAll(_ context.Context) ([]domain.MigrationID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.applyErr != nil {
		return nil, r.applyErr
	}
	applied := r.pending
	r.applied = append(r.applied, applied...)
	r.pending = nil
	return applied, nil
}

func (r *fakeMigrationRunner) CurrentVersions(_ context.Context) ([]domain.MigrationID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.MigrationID, len(r.applied))
	copy(out, r.applied)
	return out, nil
}

func (r *fakeMigrationRunner) RollbackTo(_ context.Context, target domain.MigrationID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rollbackErr != nil {
		return r.rollbackErr
	}
	var kept []domain.MigrationID
	for _, id := range r.applied {
		if id <= target {
			kept = append(kept, id)
		}
	}
	r.applied = kept
	r.rolledBackTo = append(r.rolledBackTo, target)
	return nil
}
