package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/shiftover/shiftover-server/internal/domain"
	"github.com/shiftover/shiftover-server/internal/metrics"
)

// MonitorState is the safety monitor's lifecycle state.
type MonitorState string

const (
	MonitorIdle       MonitorState = "idle"
	MonitorMonitoring MonitorState = "monitoring"
)

// MonitorConfig describes one monitoring session: watch the newly deployed
// ToVersion for Timeout, probing every Interval, and roll back to
// FromVersion after MaxFailures consecutive failed probe batches.
type MonitorConfig struct {
	FromVersion string
	ToVersion   string
	Timeout     time.Duration
	Interval    time.Duration
	MaxFailures int
	Strategy    domain.RollbackStrategy
}

// SafetyMonitor watches a fresh deployment independently of the deploy
// pipeline. It runs the critical probe battery on a ticker; surviving the
// window without MaxFailures consecutive failures counts as success. The
// rollback it may issue goes through the same engine as every other
// trigger, so a rollback that already happened elsewhere is observed as
// ErrNoRollbackTarget rather than repeated.
type SafetyMonitor struct {
	Health   *domain.HealthRegistry
	Rollback *domain.RollbackEngine
	Log      zerolog.Logger

	mu     sync.Mutex
	state  MonitorState
	cancel context.CancelFunc
	done   chan struct{}
}

// State reports the current monitor state.
func (m *SafetyMonitor) State() MonitorState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == "" {
		return MonitorIdle
	}
	return m.state
}

// Start begins a monitoring session. Only one session may be active;
// starting a second returns ErrMonitorActive.
func (m *SafetyMonitor) Start(ctx context.Context, cfg MonitorConfig) error {
	if cfg.Timeout <= 0 || cfg.Interval <= 0 {
		return fmt.Errorf("%w: timeout and interval must be positive", domain.ErrInvalidArgument)
	}
	if cfg.MaxFailures <= 0 {
		return fmt.Errorf("%w: max failures must be positive", domain.ErrInvalidArgument)
	}
	if cfg.Strategy == "" {
		cfg.Strategy = domain.RollbackMigrationFirst
	}

	m.mu.Lock()
	if m.state == MonitorMonitoring {
		m.mu.Unlock()
		return domain.ErrMonitorActive
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.state = MonitorMonitoring
	m.cancel = cancel
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()

	m.Log.Info().
		Str("from", cfg.FromVersion).
		Str("to", cfg.ToVersion).
		Dur("timeout", cfg.Timeout).
		Dur("interval", cfg.Interval).
		Int("max_failures", cfg.MaxFailures).
		Msg("safety monitoring started")

	go func() {
		defer close(done)
		defer m.toIdle()
		m.run(runCtx, cfg)
	}()
	return nil
}

// Stop ends the active session, if any, without rolling back. It returns
// once the monitoring goroutine has exited.
func (m *SafetyMonitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Wait blocks until the active session ends or ctx is done.
func (m *SafetyMonitor) Wait(ctx context.Context) error {
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *SafetyMonitor) toIdle() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = MonitorIdle
	m.cancel = nil
}

func (m *SafetyMonitor) run(ctx context.Context, cfg MonitorConfig) {
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()
	deadline := time.NewTimer(cfg.Timeout)
	defer deadline.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			m.Log.Info().Msg("safety monitoring stopped")
			return
		case <-deadline.C:
			// Surviving the window is the success case.
			m.Log.Info().Str("version", cfg.ToVersion).Msg("safety monitoring window elapsed, deployment healthy")
			return
		case <-ticker.C:
			if err := m.probe(ctx, cfg.Interval); err != nil {
				// A stopped session surfaces as a probe error too; let the
				// ctx.Done branch end it instead of counting a failure.
				if ctx.Err() != nil {
					continue
				}
				failures++
				metrics.MonitorChecksFailed.Inc()
				m.Log.Warn().
					Err(err).
					Int("consecutive_failures", failures).
					Int("max_failures", cfg.MaxFailures).
					Msg("safety probe failed")
				if failures >= cfg.MaxFailures {
					m.triggerRollback(cfg)
					return
				}
			} else {
				failures = 0
			}
		}
	}
}

// probe runs the critical battery under a hard deadline. A probe that
// ignores its context is abandoned and the batch counted as failed, so a
// wedged probe cannot stall the run loop.
func (m *SafetyMonitor) probe(ctx context.Context, interval time.Duration) error {
	probeCtx, cancel := context.WithTimeout(ctx, interval)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := m.Health.RunCritical(probeCtx)
		done <- err
	}()

	select {
	case err := <-done:
		return err
	case <-probeCtx.Done():
		return fmt.Errorf("probe batch abandoned after %s", interval)
	}
}

// triggerRollback runs the rollback before the session ends, so Stop and
// Wait observe a settled release state. Stopping the monitor does not
// abort a rollback already in flight.
func (m *SafetyMonitor) triggerRollback(cfg MonitorConfig) {
	m.Log.Error().
		Str("from", cfg.ToVersion).
		Str("to", cfg.FromVersion).
		Msg("failure threshold reached, rolling back")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	err := m.Rollback.Run(ctx, domain.RollbackRequest{
		FailedVersion: cfg.ToVersion,
		TargetVersion: cfg.FromVersion,
		Strategy:      cfg.Strategy,
	})
	switch {
	case errors.Is(err, domain.ErrNoRollbackTarget):
		m.Log.Warn().Msg("monitor rollback: already rolled back")
	case err != nil:
		metrics.Rollbacks.WithLabelValues("monitor", "failure").Inc()
		m.Log.Error().Err(err).Msg("monitor rollback failed")
	default:
		metrics.Rollbacks.WithLabelValues("monitor", "success").Inc()
		m.Log.Info().Str("version", cfg.FromVersion).Msg("monitor rollback completed")
	}
}
