package contracts

import "time"

// DependencyEdge is a directed edge in the decision dependency graph:
// the source decision depends on the target. The graph is kept acyclic;
// inserting an edge that would close a cycle fails.
type DependencyEdge struct {
	OrganizationID string    `json:"organization_id"`
	SourceID       string    `json:"source_id"`
	TargetID       string    `json:"target_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// AssumptionLink binds a decision-specific assumption to a decision.
// Universal assumptions never have link rows.
type AssumptionLink struct {
	OrganizationID string    `json:"organization_id"`
	DecisionID     string    `json:"decision_id"`
	AssumptionID   string    `json:"assumption_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// ConstraintLink binds a constraint to a decision.
type ConstraintLink struct {
	OrganizationID string    `json:"organization_id"`
	DecisionID     string    `json:"decision_id"`
	ConstraintID   string    `json:"constraint_id"`
	CreatedAt      time.Time `json:"created_at"`
}
