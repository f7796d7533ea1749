// Package syncworkflow provides a synchronous, in-process [domain.PipelineEngine].
// Activities execute inline with no persistence or replay.
package syncworkflow

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/shiftover/shiftover-server/internal/domain"
)

var runCounter atomic.Int64

// Engine implements [domain.PipelineEngine] with synchronous, in-process
// execution. No durable state is kept.
type Engine struct{}

func (e *Engine) DeployRunner(p *domain.DeployPipeline) (domain.PipelineRunner, error) {
	return &runner{pipeline: p}, nil
}

type runner struct {
	pipeline *domain.DeployPipeline
}

func (r *runner) Run(ctx context.Context, deploymentID domain.DeploymentID) (domain.PipelineHandle, error) {
	id := runCounter.Add(1)
	dr := &syncRunner{id: id, ctx: ctx}
	result, err := r.pipeline.Run(dr, deploymentID)
	return &handle{id: id, result: result, err: err}, nil
}

type syncRunner struct {
	id  int64
	ctx context.Context
}

func (r *syncRunner) ID() string               { return fmt.Sprintf("sync-%d", r.id) }
func (r *syncRunner) Context() context.Context { return r.ctx }
func (r *syncRunner) Run(activity domain.Activity[any, any], in any) (any, error) {
	return activity.Run(r.ctx, in)
}

type handle struct {
	id     int64
	result domain.DeployResult
	err    error
}

func (h *handle) PipelineID() string { return fmt.Sprintf("sync-%d", h.id) }
func (h *handle) AwaitResult(_ context.Context) (domain.DeployResult, error) {
	return h.result, h.err
}
