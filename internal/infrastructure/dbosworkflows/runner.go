// Package dbosworkflows implements [domain.PipelineEngine] using
// the DBOS Transact Go SDK.
package dbosworkflows

import (
	"context"
	"fmt"

	"github.com/dbos-inc/dbos-transact-golang/dbos"

	"github.com/shiftover/shiftover-server/internal/domain"
)

// activityInvoker calls RunAsStep with the correct concrete output type.
// Created at construction time when concrete types are known.
type activityInvoker func(ctx dbos.DBOSContext, in any) (any, error)

// Engine implements [domain.PipelineEngine] backed by DBOS.
//
// The caller must call [dbos.Launch] after creating runners and before
// invoking them.
type Engine struct {
	DBOSCtx dbos.DBOSContext
}

func (e *Engine) DeployRunner(p *domain.DeployPipeline) (domain.PipelineRunner, error) {
	invokers := make(map[string]activityInvoker)

	registerActivity(invokers, p.LoadDeployment())
	registerActivity(invokers, p.MarkState())
	registerActivity(invokers, p.ValidateDeployment())
	registerActivity(invokers, p.RunPhaseHooks())
	registerActivity(invokers, p.PrepareEnvironment())
	registerActivity(invokers, p.RunMigrations())
	registerActivity(invokers, p.ActivateRelease())
	registerActivity(invokers, p.VerifyHealth())
	registerActivity(invokers, p.FinalizeDeployment())
	registerActivity(invokers, p.FailDeployment())

	wfFunc := func(ctx dbos.DBOSContext, deploymentID domain.DeploymentID) (domain.DeployResult, error) {
		runner := &durableRunner{ctx: ctx, invokers: invokers}
		return p.Run(runner, deploymentID)
	}

	dbos.RegisterWorkflow(e.DBOSCtx, wfFunc, dbos.WithWorkflowName(p.Name()))

	return &pipelineRunner{
		dbosCtx: e.DBOSCtx,
		wfFunc:  wfFunc,
	}, nil
}

// registerActivity creates a typed invoker that calls [dbos.RunAsStep]
// with the concrete output type O, ensuring correct JSON deserialization
// during workflow replay.
func registerActivity[I, O any](invokers map[string]activityInvoker, activity domain.Activity[I, O]) {
	invokers[activity.Name()] = func(ctx dbos.DBOSContext, in any) (any, error) {
		return dbos.RunAsStep(ctx, func(stepCtx context.Context) (O, error) {
			return activity.Run(stepCtx, in.(I))
		}, dbos.WithStepName(activity.Name()))
	}
}

type durableRunner struct {
	ctx      dbos.DBOSContext
	invokers map[string]activityInvoker
}

func (r *durableRunner) ID() string {
	id, _ := dbos.GetWorkflowID(r.ctx)
	return id
}

func (r *durableRunner) Context() context.Context {
	return r.ctx
}

func (r *durableRunner) Run(activity domain.Activity[any, any], in any) (any, error) {
	invoke, ok := r.invokers[activity.Name()]
	if !ok {
		return nil, fmt.Errorf("activity %q not registered", activity.Name())
	}
	return invoke(r.ctx, in)
}

type pipelineRunner struct {
	dbosCtx dbos.DBOSContext
	wfFunc  dbos.Workflow[domain.DeploymentID, domain.DeployResult]
}

func (r *pipelineRunner) Run(ctx context.Context, deploymentID domain.DeploymentID) (domain.PipelineHandle, error) {
	handle, err := dbos.RunWorkflow(r.dbosCtx, r.wfFunc, deploymentID)
	if err != nil {
		return nil, fmt.Errorf("run DBOS workflow: %w", err)
	}
	return &pipelineHandle{handle: handle}, nil
}

type pipelineHandle struct {
	handle dbos.WorkflowHandle[domain.DeployResult]
}

func (h *pipelineHandle) PipelineID() string {
	return h.handle.GetWorkflowID()
}

func (h *pipelineHandle) AwaitResult(_ context.Context) (domain.DeployResult, error) {
	return h.handle.GetResult()
}
