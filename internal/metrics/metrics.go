// Package metrics exposes the deployment counters on the default
// prometheus registerer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DeploymentsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shiftover_deployments_started_total",
		Help: "Deployment pipelines started.",
	})

	DeploymentsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shiftover_deployments_completed_total",
		Help: "Deployments that reached the completed state.",
	})

	DeploymentsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shiftover_deployments_failed_total",
		Help: "Deployments that failed, before any rollback.",
	})

	Rollbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shiftover_rollbacks_total",
		Help: "Rollback attempts by trigger and outcome.",
	}, []string{"trigger", "outcome"})

	MonitorChecksFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shiftover_monitor_checks_failed_total",
		Help: "Safety monitor probe batches that failed.",
	})
)
