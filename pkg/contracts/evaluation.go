package contracts

import "time"

// Trigger identifies what caused an evaluation to run.
type Trigger string

const (
	TriggerAutomatic        Trigger = "AUTOMATIC"
	TriggerManualReview     Trigger = "MANUAL_REVIEW"
	TriggerAssumptionChange Trigger = "ASSUMPTION_CHANGE"
	TriggerConstraintChange Trigger = "CONSTRAINT_CHANGE"
	TriggerDependencyChange Trigger = "DEPENDENCY_CHANGE"
	TriggerTimeTick         Trigger = "TIME_TICK"
)

// TraceStep records one engine phase's outcome. Phases that run after
// a hard failure still append a step explaining why they were skipped.
type TraceStep struct {
	StepName  string         `json:"step_name"`
	Passed    bool           `json:"passed"`
	Details   string         `json:"details"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// EvaluationRecord is the persisted delta of one engine run. Written
// only when the run changed lifecycle, health, or reason.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type EvaluationRecord struct {
	ID             string `json:"id"`
	DecisionID     string `json:"decision_id"`
	OrganizationID string `json:"organization_id"`

	OldLifecycle Lifecycle `json:"old_lifecycle"`
	NewLifecycle Lifecycle `json:"new_lifecycle"`
	OldHealth    int       `json:"old_health"`
	NewHealth    int       `json:"new_health"`

	InvalidatedReason InvalidatedReason `json:"invalidated_reason,omitempty"`
	Trace             []TraceStep       `json:"trace"`
	// TraceHash is the canonical hash of the trace with timestamps
	// normalized out, so identical evaluations can be compared cheaply.
	TraceHash string `json:"trace_hash,omitempty"`

	TriggeredBy Trigger   `json:"triggered_by"`
	EvaluatedAt time.Time `json:"evaluated_at"`
}
