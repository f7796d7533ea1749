package domain

import (
	"context"
	"fmt"
	"runtime"
	"sync"
)

// Probe is a single health check. A nil return means healthy.
type Probe func(ctx context.Context) error

// ProbeResult reports the outcome of one probe run.
type ProbeResult struct {
	Name     string
	Critical bool
	Err      error
}

// HealthRegistry holds named probes. A distinguished critical subset gates
// post-switch verification; non-critical probes are advisory and never block
// a deployment on their own.
type HealthRegistry struct {
	mu     sync.Mutex
	probes []registeredProbe
}

type registeredProbe struct {
	name     string
	probe    Probe
	critical bool
}

// Register adds a probe under a unique name. Registering a duplicate name
// replaces the previous probe.
func (r *HealthRegistry) Register(name string, probe Probe, critical bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, p := range r.probes {
		if p.name == name {
			r.probes[i] = registeredProbe{name: name, probe: probe, critical: critical}
			return
		}
	}
	r.probes = append(r.probes, registeredProbe{name: name, probe: probe, critical: critical})
}

// RunAll executes every probe in registration order and returns the
// per-probe results plus an aggregate error naming the first failing probe.
// A panicking probe is recorded as failed; it never aborts the run.
func (r *HealthRegistry) RunAll(ctx context.Context) ([]ProbeResult, error) {
	return r.run(ctx, false)
}

// RunCritical executes only the critical subset.
func (r *HealthRegistry) RunCritical(ctx context.Context) ([]ProbeResult, error) {
	return r.run(ctx, true)
}

func (r *HealthRegistry) run(ctx context.Context, criticalOnly bool) ([]ProbeResult, error) {
	r.mu.Lock()
	probes := make([]registeredProbe, len(r.probes))
	copy(probes, r.probes)
	r.mu.Unlock()

	var results []ProbeResult
	var firstErr error
	for _, p := range probes {
		if criticalOnly && !p.critical {
			continue
		}
		err := runProbe(ctx, p.probe)
		results = append(results, ProbeResult{Name: p.name, Critical: p.critical, Err: err})
		if err != nil && firstErr == nil {
			firstErr = WrapFailure(FailureHealthCheck, fmt.Sprintf("health check %q failed", p.name), err).
				WithContext("check", p.name)
		}
	}
	return results, firstErr
}

func runProbe(ctx context.Context, p Probe) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("probe panicked: %v", r)
		}
	}()
	return p(ctx)
}

// RegisterDefaultCriticalProbes installs the built-in post-switch gates:
// process liveness, heap usage, and goroutine count.
func RegisterDefaultCriticalProbes(r *HealthRegistry, maxHeapBytes uint64, maxGoroutines int) {
	r.Register("process_alive", func(context.Context) error { return nil }, true)

	r.Register("memory", func(context.Context) error {
		if maxHeapBytes == 0 {
			return nil
		}
		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		if m.HeapAlloc > maxHeapBytes {
			return fmt.Errorf("heap %d bytes exceeds limit %d", m.HeapAlloc, maxHeapBytes)
		}
		return nil
	}, true)

	r.Register("goroutines", func(context.Context) error {
		if maxGoroutines == 0 {
			return nil
		}
		if n := runtime.NumGoroutine(); n > maxGoroutines {
			return fmt.Errorf("%d goroutines exceeds limit %d", n, maxGoroutines)
		}
		return nil
	}, true)
}
