package contracts

import "time"

// AssumptionConflict records detected tension between an assumption
// and observed reality, or between two assumptions. Produced by
// external detectors; the core only reads resolved/unresolved counts.
type AssumptionConflict struct {
	ID             string     `json:"id"`
	OrganizationID string     `json:"organization_id"`
	AssumptionID   string     `json:"assumption_id"`
	DecisionID     string     `json:"decision_id,omitempty"`
	Description    string     `json:"description"`
	DetectedBy     string     `json:"detected_by"`
	Resolved       bool       `json:"resolved"`
	DetectedAt     time.Time  `json:"detected_at"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
}

// DecisionConflict records detected tension between two decisions.
type DecisionConflict struct {
	ID             string     `json:"id"`
	OrganizationID string     `json:"organization_id"`
	DecisionID     string     `json:"decision_id"`
	OtherID        string     `json:"other_id,omitempty"`
	Description    string     `json:"description"`
	DetectedBy     string     `json:"detected_by"`
	Resolved       bool       `json:"resolved"`
	DetectedAt     time.Time  `json:"detected_at"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
}
