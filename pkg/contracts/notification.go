package contracts

import "time"

// NotificationType categorizes a user-visible event.
type NotificationType string

const (
	NotifyAssumptionConflict NotificationType = "ASSUMPTION_CONFLICT"
	NotifyDecisionConflict   NotificationType = "DECISION_CONFLICT"
	NotifyHealthDegraded     NotificationType = "HEALTH_DEGRADED"
	NotifyLifecycleChanged   NotificationType = "LIFECYCLE_CHANGED"
	NotifyNeedsReview        NotificationType = "NEEDS_REVIEW"
	NotifyAssumptionBroken   NotificationType = "ASSUMPTION_BROKEN"
	NotifyDependencyBroken   NotificationType = "DEPENDENCY_BROKEN"
	NotifyExpiryApproaching  NotificationType = "EXPIRY_APPROACHING"
	NotifyGovernanceEvent    NotificationType = "GOVERNANCE_EVENT"
)

// Severity ranks how loudly a notification should surface.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Notification is a typed request for the external notifier to
// surface something to users. Delivery channels are out of scope.
type Notification struct {
	ID             string           `json:"id"`
	OrganizationID string           `json:"organization_id"`
	DecisionID     string           `json:"decision_id,omitempty"`
	Type           NotificationType `json:"type"`
	Severity       Severity         `json:"severity"`
	Message        string           `json:"message"`
	Fields         map[string]any   `json:"fields,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}
