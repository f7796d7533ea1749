package domain_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shiftover/shiftover-server/internal/domain"
)

func hookCfg(name string, phase domain.HookPhase, priority int) domain.HookConfig {
	return domain.HookConfig{
		Name:     name,
		Phase:    phase,
		Priority: priority,
		Timeout:  time.Second,
		Enabled:  true,
	}
}

func TestHookRegistry_PriorityOrderWithStableTies(t *testing.T) {
	reg := &domain.HookRegistry{RetryDelay: time.Millisecond}
	var order []string
	record := func(name string) domain.HookHandler {
		return func(context.Context, domain.HookContext) error {
			order = append(order, name)
			return nil
		}
	}

	// Registered out of priority order; b and c tie on priority.
	mustRegister(t, reg, hookCfg("c", domain.PhasePreDeployment, 20), record("c"))
	mustRegister(t, reg, hookCfg("a", domain.PhasePreDeployment, 10), record("a"))
	mustRegister(t, reg, hookCfg("b", domain.PhasePreDeployment, 20), record("b"))

	if err := reg.Execute(context.Background(), domain.PhasePreDeployment, domain.HookContext{}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	want := []string{"a", "c", "b"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("execution order = %v, want %v", order, want)
		}
	}
}

func TestHookRegistry_FailFastHaltsPhase(t *testing.T) {
	reg := &domain.HookRegistry{RetryDelay: time.Millisecond}
	ran := map[string]bool{}

	mustRegister(t, reg, hookCfg("first", domain.PhasePreDeployment, 10), func(context.Context, domain.HookContext) error {
		ran["first"] = true
		return errors.New("notify failed")
	})
	mustRegister(t, reg, hookCfg("second", domain.PhasePreDeployment, 20), func(context.Context, domain.HookContext) error {
		ran["second"] = true
		return nil
	})

	err := reg.Execute(context.Background(), domain.PhasePreDeployment, domain.HookContext{})
	if err == nil {
		t.Fatal("Execute = nil, want error")
	}
	if domain.KindOf(err) != domain.FailureHook {
		t.Fatalf("kind = %s, want hook", domain.KindOf(err))
	}
	f := domain.AsFailure(err)
	if f.Context["hook"] != "first" {
		t.Errorf("failure does not identify the hook: %v", f.Context)
	}
	if ran["second"] {
		t.Error("hook after the failing one ran; phase must halt")
	}
}

func TestHookRegistry_RetriesThenSucceeds(t *testing.T) {
	reg := &domain.HookRegistry{RetryDelay: time.Millisecond}
	attempts := 0

	cfg := hookCfg("flaky", domain.PhasePostDeployment, 10)
	cfg.Retries = 2
	mustRegister(t, reg, cfg, func(context.Context, domain.HookContext) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})

	if err := reg.Execute(context.Background(), domain.PhasePostDeployment, domain.HookContext{}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestHookRegistry_TimeoutAbandonsHook(t *testing.T) {
	reg := &domain.HookRegistry{RetryDelay: time.Millisecond}

	cfg := hookCfg("stuck", domain.PhasePreDeployment, 10)
	cfg.Timeout = 20 * time.Millisecond
	block := make(chan struct{})
	mustRegister(t, reg, cfg, func(context.Context, domain.HookContext) error {
		<-block
		return nil
	})

	start := time.Now()
	err := reg.Execute(context.Background(), domain.PhasePreDeployment, domain.HookContext{})
	close(block)
	if err == nil {
		t.Fatal("stuck hook did not time out")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("Execute blocked for %s; runaway hook must be abandoned", elapsed)
	}
}

func TestHookRegistry_DisabledHookSkipped(t *testing.T) {
	reg := &domain.HookRegistry{RetryDelay: time.Millisecond}
	ran := false

	cfg := hookCfg("off", domain.PhasePreDeployment, 10)
	mustRegister(t, reg, cfg, func(context.Context, domain.HookContext) error {
		ran = true
		return nil
	})
	if err := reg.SetEnabled(domain.PhasePreDeployment, "off", false); err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}

	if err := reg.Execute(context.Background(), domain.PhasePreDeployment, domain.HookContext{}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if ran {
		t.Error("disabled hook ran")
	}
}

func TestHookRegistry_PanicCountsAsFailure(t *testing.T) {
	reg := &domain.HookRegistry{RetryDelay: time.Millisecond}
	mustRegister(t, reg, hookCfg("boom", domain.PhasePreDeployment, 10), func(context.Context, domain.HookContext) error {
		panic("handler exploded")
	})

	if err := reg.Execute(context.Background(), domain.PhasePreDeployment, domain.HookContext{}); err == nil {
		t.Fatal("panicking hook reported success")
	}
}

func mustRegister(t *testing.T, reg *domain.HookRegistry, cfg domain.HookConfig, h domain.HookHandler) {
	t.Helper()
	if err := reg.Register(cfg, h); err != nil {
		t.Fatalf("Register %q: %v", cfg.Name, err)
	}
}
