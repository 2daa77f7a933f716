package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskDecisionWarmup pre-computes verdicts for hot principal/permission pairs.
	TaskDecisionWarmup = "authz:decision_warmup"
	// TaskIntegrityScan sweeps assignments for concurrency-limit violations.
	TaskIntegrityScan = "authz:integrity_scan"
)

// DecisionWarmupPayload scopes a warmup run to one tenant; the zero UUID
// warms every tenant with recent decision traffic.
type DecisionWarmupPayload struct {
	TenantID string `json:"tenant_id,omitempty"`
}

// NewDecisionWarmupTask constructs an Asynq task.
func NewDecisionWarmupTask(payload DecisionWarmupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDecisionWarmup, data), nil
}

// IntegrityScanPayload configures an assignment integrity sweep.
type IntegrityScanPayload struct {
	TenantID string `json:"tenant_id,omitempty"`
}

// NewIntegrityScanTask constructs an Asynq task.
func NewIntegrityScanTask(payload IntegrityScanPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIntegrityScan, data), nil
}
