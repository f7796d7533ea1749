// Package goworkflows implements [domain.PipelineEngine] using
// cschleiden/go-workflows for durable pipeline execution.
package goworkflows

import (
	"context"
	"fmt"
	"time"

	"github.com/cschleiden/go-workflows/client"
	"github.com/cschleiden/go-workflows/registry"
	"github.com/cschleiden/go-workflows/worker"
	"github.com/cschleiden/go-workflows/workflow"
	"github.com/google/uuid"

	"github.com/shiftover/shiftover-server/internal/domain"
)

// activityInvoker calls an activity from the workflow context with the
// correct generic types. Created at construction time when concrete
// types are known.
type activityInvoker func(wfCtx workflow.Context, in any) (any, error)

// Engine implements [domain.PipelineEngine] backed by go-workflows.
type Engine struct {
	Worker  *worker.Worker
	Client  *client.Client
	Timeout time.Duration
}

func (e *Engine) timeout() time.Duration {
	if e.Timeout > 0 {
		return e.Timeout
	}
	return 30 * time.Second
}

func (e *Engine) DeployRunner(p *domain.DeployPipeline) (domain.PipelineRunner, error) {
	invokers := make(map[string]activityInvoker)

	if err := registerActivity(e.Worker, invokers, p.LoadDeployment()); err != nil {
		return nil, err
	}
	if err := registerActivity(e.Worker, invokers, p.MarkState()); err != nil {
		return nil, err
	}
	if err := registerActivity(e.Worker, invokers, p.ValidateDeployment()); err != nil {
		return nil, err
	}
	if err := registerActivity(e.Worker, invokers, p.RunPhaseHooks()); err != nil {
		return nil, err
	}
	if err := registerActivity(e.Worker, invokers, p.PrepareEnvironment()); err != nil {
		return nil, err
	}
	if err := registerActivity(e.Worker, invokers, p.RunMigrations()); err != nil {
		return nil, err
	}
	if err := registerActivity(e.Worker, invokers, p.ActivateRelease()); err != nil {
		return nil, err
	}
	if err := registerActivity(e.Worker, invokers, p.VerifyHealth()); err != nil {
		return nil, err
	}
	if err := registerActivity(e.Worker, invokers, p.FinalizeDeployment()); err != nil {
		return nil, err
	}
	if err := registerActivity(e.Worker, invokers, p.FailDeployment()); err != nil {
		return nil, err
	}

	wfFunc := func(ctx workflow.Context, deploymentID domain.DeploymentID) (domain.DeployResult, error) {
		runner := &durableRunner{wfCtx: ctx, invokers: invokers}
		return p.Run(runner, deploymentID)
	}

	if err := e.Worker.RegisterWorkflow(wfFunc, registry.WithName(p.Name())); err != nil {
		return nil, fmt.Errorf("register workflow %q: %w", p.Name(), err)
	}

	return &pipelineRunner{
		client:  e.Client,
		wfName:  p.Name(),
		timeout: e.timeout(),
	}, nil
}

// registerActivity registers a typed activity with go-workflows and
// creates a corresponding typed invoker.
func registerActivity[I, O any](
	w *worker.Worker,
	invokers map[string]activityInvoker,
	activity domain.Activity[I, O],
) error {
	activityFn := func(ctx context.Context, in I) (O, error) {
		return activity.Run(ctx, in)
	}

	if err := w.RegisterActivity(activityFn, registry.WithName(activity.Name())); err != nil {
		return fmt.Errorf("register activity %q: %w", activity.Name(), err)
	}

	invokers[activity.Name()] = func(wfCtx workflow.Context, in any) (any, error) {
		result, err := workflow.ExecuteActivity[O](
			wfCtx, workflow.DefaultActivityOptions, activity.Name(), in,
		).Get(wfCtx)
		return result, err
	}

	return nil
}

type durableRunner struct {
	wfCtx    workflow.Context
	invokers map[string]activityInvoker
}

func (r *durableRunner) ID() string {
	return workflow.WorkflowInstance(r.wfCtx).InstanceID
}

func (r *durableRunner) Context() context.Context {
	return context.Background()
}

func (r *durableRunner) Run(activity domain.Activity[any, any], in any) (any, error) {
	invoke, ok := r.invokers[activity.Name()]
	if !ok {
		return nil, fmt.Errorf("activity %q not registered", activity.Name())
	}
	return invoke(r.wfCtx, in)
}

type pipelineRunner struct {
	client  *client.Client
	wfName  string
	timeout time.Duration
}

func (r *pipelineRunner) Run(ctx context.Context, deploymentID domain.DeploymentID) (domain.PipelineHandle, error) {
	instance, err := r.client.CreateWorkflowInstance(ctx, client.WorkflowInstanceOptions{
		InstanceID: uuid.NewString(),
	}, r.wfName, deploymentID)
	if err != nil {
		return nil, fmt.Errorf("create workflow instance: %w", err)
	}

	return &pipelineHandle{
		client:   r.client,
		instance: instance,
		timeout:  r.timeout,
	}, nil
}

type pipelineHandle struct {
	client   *client.Client
	instance *workflow.Instance
	timeout  time.Duration
}

func (h *pipelineHandle) PipelineID() string {
	return h.instance.InstanceID
}

func (h *pipelineHandle) AwaitResult(ctx context.Context) (domain.DeployResult, error) {
	return client.GetWorkflowResult[domain.DeployResult](ctx, h.client, h.instance, h.timeout)
}
