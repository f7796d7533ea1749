package domain

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// HookPhase scopes a hook to one point in the pipeline.
type HookPhase string

const (
	PhasePreDeployment  HookPhase = "pre_deployment"
	PhasePostDeployment HookPhase = "post_deployment"
	PhaseOnFailure      HookPhase = "on_failure"
)

// HookContext is passed to every hook invocation.
type HookContext struct {
	DeploymentID    DeploymentID
	Version         string
	PreviousVersion string
	Phase           HookPhase

	// Failure is set for on_failure hooks.
	Failure *Failure
}

// HookHandler is a user-supplied callback.
type HookHandler func(ctx context.Context, hctx HookContext) error

// HookConfig describes one registered hook. Lower priority runs first; ties
// are broken by registration order.
type HookConfig struct {
	Name     string
	Phase    HookPhase
	Priority int
	Timeout  time.Duration
	Retries  int
	Enabled  bool
}

// HookRegistry holds phase-scoped hooks and executes them sequentially in
// priority order. A hook that exhausts its retries halts the phase; hooks
// may depend on earlier ones having run.
type HookRegistry struct {
	// RetryDelay is the fixed pause between retry attempts. Defaults to
	// one second.
	RetryDelay time.Duration

	mu    sync.Mutex
	hooks []registeredHook
}

type registeredHook struct {
	cfg     HookConfig
	handler HookHandler
	seq     int
}

// Register adds a hook. Name must be unique within the phase.
func (r *HookRegistry) Register(cfg HookConfig, handler HookHandler) error {
	if cfg.Name == "" {
		return fmt.Errorf("%w: hook name is required", ErrInvalidArgument)
	}
	if handler == nil {
		return fmt.Errorf("%w: hook %q has no handler", ErrInvalidArgument, cfg.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range r.hooks {
		if h.cfg.Name == cfg.Name && h.cfg.Phase == cfg.Phase {
			return fmt.Errorf("hook %q in phase %s: %w", cfg.Name, cfg.Phase, ErrAlreadyExists)
		}
	}
	r.hooks = append(r.hooks, registeredHook{cfg: cfg, handler: handler, seq: len(r.hooks)})
	return nil
}

// SetEnabled flips a hook on or off without re-registering it.
func (r *HookRegistry) SetEnabled(phase HookPhase, name string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, h := range r.hooks {
		if h.cfg.Name == name && h.cfg.Phase == phase {
			r.hooks[i].cfg.Enabled = enabled
			return nil
		}
	}
	return fmt.Errorf("hook %q in phase %s: %w", name, phase, ErrNotFound)
}

// Execute runs the enabled hooks for phase in ascending priority order. The
// first hook to exhaust its retries stops the phase; later hooks do not run.
func (r *HookRegistry) Execute(ctx context.Context, phase HookPhase, hctx HookContext) error {
	hctx.Phase = phase
	for _, h := range r.phaseHooks(phase) {
		if err := r.runHook(ctx, h, hctx); err != nil {
			return WrapFailure(FailureHook, fmt.Sprintf("hook %q failed", h.cfg.Name), err).
				WithContext("hook", h.cfg.Name).
				WithContext("phase", string(phase))
		}
	}
	return nil
}

func (r *HookRegistry) phaseHooks(phase HookPhase) []registeredHook {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []registeredHook
	for _, h := range r.hooks {
		if h.cfg.Phase == phase && h.cfg.Enabled {
			out = append(out, h)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].cfg.Priority != out[j].cfg.Priority {
			return out[i].cfg.Priority < out[j].cfg.Priority
		}
		return out[i].seq < out[j].seq
	})
	return out
}

func (r *HookRegistry) runHook(ctx context.Context, h registeredHook, hctx HookContext) error {
	delay := r.RetryDelay
	if delay == 0 {
		delay = time.Second
	}

	var lastErr error
	for attempt := 0; attempt <= h.cfg.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		lastErr = invokeHook(ctx, h, hctx)
		if lastErr == nil {
			return nil
		}
	}
	return lastErr
}

// invokeHook runs one attempt under the hook's hard timeout. A hook that
// does not return in time is abandoned; its goroutine keeps running but the
// eventual result is discarded.
func invokeHook(ctx context.Context, h registeredHook, hctx HookContext) error {
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("hook panicked: %v", r)
			}
		}()
		done <- h.handler(ctx, hctx)
	}()

	var timeout <-chan time.Time
	if h.cfg.Timeout > 0 {
		t := time.NewTimer(h.cfg.Timeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case err := <-done:
		return err
	case <-timeout:
		return fmt.Errorf("timed out after %s", h.cfg.Timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}
