package domain_test

import (
	"context"
	"testing"

	"github.com/shiftover/shiftover-server/internal/domain"
)

func TestValidateVersion(t *testing.T) {
	v := &domain.Validator{}

	valid := []string{"1.0.0", "0.0.1", "10.20.30", "1.2.3-beta", "2.0.0-rc1", "1.0.0-hotfix_2"}
	for _, version := range valid {
		if err := v.ValidateVersion(version); err != nil {
			t.Errorf("ValidateVersion(%q) = %v, want nil", version, err)
		}
	}

	invalid := []string{"", "1", "1.0", "1.0.0.0", "v1.0.0", "1.0.x", "1.0.0-", "1.0.0-beta.1", "1..0", "abc"}
	for _, version := range invalid {
		err := v.ValidateVersion(version)
		if err == nil {
			t.Errorf("ValidateVersion(%q) = nil, want error", version)
			continue
		}
		if domain.KindOf(err) != domain.FailureValidation {
			t.Errorf("ValidateVersion(%q) kind = %s, want validation", version, domain.KindOf(err))
		}
	}
}

func TestCheckCompatibility(t *testing.T) {
	v := &domain.Validator{}

	if err := v.CheckCompatibility("1.0.0", "1.0.0"); err == nil {
		t.Fatal("same-version switch accepted, want error")
	}

	// Downgrade is allowed (with a warning).
	if err := v.CheckCompatibility("2.0.0", "1.0.0"); err != nil {
		t.Fatalf("downgrade rejected: %v", err)
	}

	// Unparsable versions are let through.
	if err := v.CheckCompatibility("weird", "1.0.0"); err != nil {
		t.Fatalf("unparsable from rejected: %v", err)
	}
	if err := v.CheckCompatibility("1.0.0", "also-weird"); err != nil {
		t.Fatalf("unparsable to rejected: %v", err)
	}
}

func TestValidate_ReleaseMustExist(t *testing.T) {
	store := newFakeReleaseStore("1.0.0")
	v := &domain.Validator{Store: store}

	if err := v.Validate(context.Background(), "1.0.0"); err != nil {
		t.Fatalf("Validate existing release: %v", err)
	}

	err := v.Validate(context.Background(), "9.9.9")
	if err == nil {
		t.Fatal("Validate missing release = nil, want error")
	}
	if domain.KindOf(err) != domain.FailureValidation {
		t.Fatalf("kind = %s, want validation", domain.KindOf(err))
	}

	v.SkipExistence = true
	if err := v.Validate(context.Background(), "9.9.9"); err != nil {
		t.Fatalf("Validate with SkipExistence: %v", err)
	}
}

func TestValidate_SameVersionFailsBeforeAnyMutation(t *testing.T) {
	store := newFakeReleaseStore("1.0.0")
	store.setCurrent("1.0.0")
	v := &domain.Validator{Store: store}

	err := v.Validate(context.Background(), "1.0.0")
	if err == nil {
		t.Fatal("deploying the current version = nil, want error")
	}
	if domain.KindOf(err) != domain.FailureValidation {
		t.Fatalf("kind = %s, want validation", domain.KindOf(err))
	}
}

func TestValidate_DiskSpace(t *testing.T) {
	store := newFakeReleaseStore("2.0.0")
	v := &domain.Validator{
		Store:        store,
		MinFreeBytes: 1 << 30,
		DiskFree:     func() (uint64, error) { return 1 << 20, nil },
	}

	err := v.Validate(context.Background(), "2.0.0")
	if err == nil {
		t.Fatal("Validate with low disk = nil, want error")
	}
	if domain.KindOf(err) != domain.FailureResource {
		t.Fatalf("kind = %s, want resource", domain.KindOf(err))
	}

	v.DiskFree = func() (uint64, error) { return 2 << 30, nil }
	if err := v.Validate(context.Background(), "2.0.0"); err != nil {
		t.Fatalf("Validate with enough disk: %v", err)
	}
}
