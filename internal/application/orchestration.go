package application

import (
	"context"
	"fmt"

	"github.com/shiftover/shiftover-server/internal/domain"
)

// OrchestrationService executes the deploy pipeline as a durable workflow.
type OrchestrationService struct {
	Runner domain.PipelineRunner
}

// Orchestrate starts the deploy pipeline for a deployment and waits for
// it to complete. The returned result carries the terminal state and any
// rollback outcome; err is reserved for engine-level failures.
func (o *OrchestrationService) Orchestrate(ctx context.Context, id domain.DeploymentID) (domain.DeployResult, error) {
	handle, err := o.Runner.Run(ctx, id)
	if err != nil {
		return domain.DeployResult{}, fmt.Errorf("start deploy pipeline: %w", err)
	}
	return handle.AwaitResult(ctx)
}
