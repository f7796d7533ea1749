// Package deploymentrepotest provides contract tests for
// [domain.DeploymentRepository] implementations.
package deploymentrepotest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shiftover/shiftover-server/internal/domain"
)

// Factory creates a fresh [domain.DeploymentRepository] for each test.
type Factory func(t *testing.T) domain.DeploymentRepository

// Run exercises the [domain.DeploymentRepository] contract.
func Run(t *testing.T, factory Factory) {
	sampleDeployment := func() domain.Deployment {
		opts := domain.DefaultDeployOptions()
		opts.BackupRequired = true
		return domain.Deployment{
			ID:            "d1",
			TargetVersion: "1.2.0",
			StartedAt:     time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
			State:         domain.DeploymentStatePreparing,
			Options:       opts,
		}
	}

	t.Run("CreateAndGet", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		d := sampleDeployment()

		if err := repo.Create(ctx, d); err != nil {
			t.Fatalf("Create: %v", err)
		}

		got, err := repo.Get(ctx, "d1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.TargetVersion != "1.2.0" {
			t.Errorf("TargetVersion = %q, want %q", got.TargetVersion, "1.2.0")
		}
		if got.State != domain.DeploymentStatePreparing {
			t.Errorf("State = %q, want %q", got.State, domain.DeploymentStatePreparing)
		}
		if !got.StartedAt.Equal(d.StartedAt) {
			t.Errorf("StartedAt = %v, want %v", got.StartedAt, d.StartedAt)
		}
		if !got.Options.BackupRequired {
			t.Error("Options.BackupRequired not preserved")
		}
		if got.Options.HealthCheckTimeout != d.Options.HealthCheckTimeout {
			t.Errorf("Options.HealthCheckTimeout = %v, want %v", got.Options.HealthCheckTimeout, d.Options.HealthCheckTimeout)
		}
	})

	t.Run("CreateDuplicate", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		d := sampleDeployment()
		_ = repo.Create(ctx, d)
		err := repo.Create(ctx, d)
		if !errors.Is(err, domain.ErrAlreadyExists) {
			t.Fatalf("second Create: got %v, want ErrAlreadyExists", err)
		}
	})

	t.Run("GetNotFound", func(t *testing.T) {
		repo := factory(t)
		_, err := repo.Get(context.Background(), "nonexistent")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("Get: got %v, want ErrNotFound", err)
		}
	})

	t.Run("UpdateState", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		d := sampleDeployment()
		if err := repo.Create(ctx, d); err != nil {
			t.Fatalf("Create: %v", err)
		}

		if err := repo.UpdateState(ctx, d.ID, domain.DeploymentStateCompleted); err != nil {
			t.Fatalf("UpdateState: %v", err)
		}
		got, err := repo.Get(ctx, d.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.State != domain.DeploymentStateCompleted {
			t.Errorf("State = %q, want %q", got.State, domain.DeploymentStateCompleted)
		}
	})

	t.Run("UpdateStateNotFound", func(t *testing.T) {
		repo := factory(t)
		err := repo.UpdateState(context.Background(), "nonexistent", domain.DeploymentStateFailed)
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("UpdateState: got %v, want ErrNotFound", err)
		}
	})

	t.Run("List", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		for i, id := range []domain.DeploymentID{"d1", "d2", "d3"} {
			d := sampleDeployment()
			d.ID = id
			d.StartedAt = d.StartedAt.Add(time.Duration(i) * time.Minute)
			if err := repo.Create(ctx, d); err != nil {
				t.Fatalf("Create %s: %v", id, err)
			}
		}

		got, err := repo.List(ctx)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(got) != 3 {
			t.Fatalf("List: got %d deployments, want 3", len(got))
		}
	})
}
