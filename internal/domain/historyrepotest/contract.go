// Package historyrepotest provides contract tests for
// [domain.HistoryRepository] implementations.
package historyrepotest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shiftover/shiftover-server/internal/domain"
)

// Factory creates a fresh [domain.HistoryRepository] for each test.
type Factory func(t *testing.T) domain.HistoryRepository

// Run exercises the [domain.HistoryRepository] contract.
func Run(t *testing.T, factory Factory) {
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	appendVersions := func(t *testing.T, repo domain.HistoryRepository, versions ...string) {
		t.Helper()
		for i, v := range versions {
			rec := domain.HistoryRecord{
				Version:    v,
				DeployedAt: base.Add(time.Duration(i) * time.Hour),
				DeployedBy: "ops",
			}
			if i > 0 {
				rec.PreviousVersion = versions[i-1]
			}
			if err := repo.Append(context.Background(), rec); err != nil {
				t.Fatalf("Append %s: %v", v, err)
			}
		}
	}

	t.Run("ListNewestFirst", func(t *testing.T) {
		repo := factory(t)
		appendVersions(t, repo, "1.0.0", "1.1.0", "1.2.0")

		got, err := repo.List(context.Background())
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		want := []string{"1.2.0", "1.1.0", "1.0.0"}
		if len(got) != len(want) {
			t.Fatalf("List: got %d records, want %d", len(got), len(want))
		}
		for i, v := range want {
			if got[i].Version != v {
				t.Errorf("records[%d].Version = %q, want %q", i, got[i].Version, v)
			}
		}
		if got[0].PreviousVersion != "1.1.0" {
			t.Errorf("newest PreviousVersion = %q, want %q", got[0].PreviousVersion, "1.1.0")
		}
	})

	t.Run("RoundTrip", func(t *testing.T) {
		repo := factory(t)
		rec := domain.HistoryRecord{
			Version:         "2.0.0",
			DeployedAt:      base,
			DeployedBy:      "release-bot",
			PreviousVersion: "1.9.0",
			Info:            map[string]string{"ticket": "REL-42"},
		}
		if err := repo.Append(context.Background(), rec); err != nil {
			t.Fatalf("Append: %v", err)
		}

		got, err := repo.List(context.Background())
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("List: got %d records, want 1", len(got))
		}
		if got[0].DeployedBy != "release-bot" {
			t.Errorf("DeployedBy = %q, want %q", got[0].DeployedBy, "release-bot")
		}
		if !got[0].DeployedAt.Equal(base) {
			t.Errorf("DeployedAt = %v, want %v", got[0].DeployedAt, base)
		}
		if got[0].Info["ticket"] != "REL-42" {
			t.Errorf("Info[ticket] = %q, want %q", got[0].Info["ticket"], "REL-42")
		}
	})

	t.Run("EmptyList", func(t *testing.T) {
		repo := factory(t)
		got, err := repo.List(context.Background())
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(got) != 0 {
			t.Fatalf("List: got %d records, want 0", len(got))
		}
	})

	t.Run("RollbackTargetNeedsTwoEntries", func(t *testing.T) {
		repo := factory(t)
		appendVersions(t, repo, "1.0.0")

		_, err := domain.RollbackTarget(context.Background(), repo)
		if !errors.Is(err, domain.ErrNoRollbackTarget) {
			t.Fatalf("RollbackTarget: got %v, want ErrNoRollbackTarget", err)
		}

		appendVersions(t, repo, "1.1.0")
		target, err := domain.RollbackTarget(context.Background(), repo)
		if err != nil {
			t.Fatalf("RollbackTarget: %v", err)
		}
		if target != "1.0.0" {
			t.Errorf("RollbackTarget = %q, want %q", target, "1.0.0")
		}
	})
}
