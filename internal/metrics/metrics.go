// Package metrics holds the engine's Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/souravb-dev/GenAIOps-sub001/internal/models"
)

var (
	// transitionsTotal counts committed status transitions
	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "remediation_transitions_total",
		Help: "Committed action status transitions by source and target status",
	}, []string{"from", "to"})

	// conflictsTotal counts transitions rejected by the status check
	conflictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "remediation_transition_conflicts_total",
		Help: "Transitions rejected because the stored status had changed",
	}, []string{"operation"})

	// executionsTotal counts executor runs by type and outcome
	executionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "remediation_executions_total",
		Help: "Executor runs by action type, mode and outcome",
	}, []string{"action_type", "mode", "outcome"})

	executionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "remediation_execution_duration_seconds",
		Help:    "Executor run duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 15), // 50ms to ~13m
	}, []string{"action_type", "mode"})

	inFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "remediation_executions_in_flight",
		Help: "Executor runs currently holding a worker slot",
	})

	// riskVerdictsTotal counts risk verdicts by level
	riskVerdictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "remediation_risk_verdicts_total",
		Help: "Risk verdicts returned by the adapter by level",
	}, []string{"level"})
)

// Execution outcomes.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeTimedOut  = "timed_out"
)

// Execution modes.
const (
	ModeExecute  = "execute"
	ModeDryRun   = "dry_run"
	ModeRollback = "rollback"
)

func RecordTransition(from, to models.ActionStatus) {
	if from == "" {
		from = "none"
	}
	transitionsTotal.WithLabelValues(string(from), string(to)).Inc()
}

func RecordConflict(operation string) {
	conflictsTotal.WithLabelValues(operation).Inc()
}

func RecordExecution(actionType models.ActionType, mode, outcome string, d time.Duration) {
	executionsTotal.WithLabelValues(string(actionType), mode, outcome).Inc()
	executionDuration.WithLabelValues(string(actionType), mode).Observe(d.Seconds())
}

func ExecutionStarted()  { inFlight.Inc() }
func ExecutionFinished() { inFlight.Dec() }

func RecordRiskVerdict(level models.RiskLevel) {
	riskVerdictsTotal.WithLabelValues(string(level)).Inc()
}
