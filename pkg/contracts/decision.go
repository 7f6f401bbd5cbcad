// Package contracts defines the shared data model of the decision
// soundness monitor: decisions, assumptions, constraints, dependency
// edges, and the history records that explain how each decision got
// into its current state.
//
// Everything here is plain data. Behavior lives in the engine,
// governance, and scheduler packages; stores persist these shapes
// without interpreting them.
package contracts

import (
	"time"
)

// Lifecycle is the externally visible state of a decision.
type Lifecycle string

const (
	LifecycleStable      Lifecycle = "STABLE"
	LifecycleUnderReview Lifecycle = "UNDER_REVIEW"
	LifecycleAtRisk      Lifecycle = "AT_RISK"
	LifecycleInvalidated Lifecycle = "INVALIDATED"
	LifecycleRetired     Lifecycle = "RETIRED"
)

// Terminal reports whether the lifecycle is one the engine never
// leaves on its own. Recovery from INVALIDATED happens only through
// re-evaluation with reset semantics; RETIRED never recovers.
func (l Lifecycle) Terminal() bool {
	return l == LifecycleInvalidated || l == LifecycleRetired
}

// Valid reports whether l is a known lifecycle value.
func (l Lifecycle) Valid() bool {
	switch l {
	case LifecycleStable, LifecycleUnderReview, LifecycleAtRisk,
		LifecycleInvalidated, LifecycleRetired:
		return true
	}
	return false
}

// InvalidatedReason explains why a decision entered INVALIDATED or
// RETIRED. Present iff the lifecycle is one of those two.
type InvalidatedReason string

const (
	ReasonConstraintViolation InvalidatedReason = "CONSTRAINT_VIOLATION"
	ReasonBrokenAssumptions   InvalidatedReason = "BROKEN_ASSUMPTIONS"
	ReasonExpired             InvalidatedReason = "EXPIRED"
	ReasonManual              InvalidatedReason = "MANUAL"
)

// GovernanceTier controls how much ceremony an edit requires.
// Tiers are recomputed automatically from unresolved conflict counts.
type GovernanceTier string

const (
	TierStandard   GovernanceTier = "STANDARD"
	TierHighImpact GovernanceTier = "HIGH_IMPACT"
	TierCritical   GovernanceTier = "CRITICAL"
)

// Decision is a long-lived organizational decision under monitoring.
// HealthSignal is an internal scalar in [0,100]; it drives lifecycle
// and urgency but is never authoritative on its own.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type Decision struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organization_id"`
	CreatedBy      string `json:"created_by"`

	Title       string         `json:"title"`
	Description string         `json:"description"`
	Category    string         `json:"category,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`

	Lifecycle         Lifecycle         `json:"lifecycle"`
	HealthSignal      int               `json:"health_signal"`
	InvalidatedReason InvalidatedReason `json:"invalidated_reason,omitempty"`

	CreatedAt       time.Time  `json:"created_at"`
	LastReviewedAt  *time.Time `json:"last_reviewed_at,omitempty"`
	LastEvaluatedAt *time.Time `json:"last_evaluated_at,omitempty"`
	NeedsEvaluation bool       `json:"needs_evaluation"`
	ExpiryDate      *time.Time `json:"expiry_date,omitempty"`

	// Governance controls.
	GovernanceMode            bool           `json:"governance_mode"`
	GovernanceTier            GovernanceTier `json:"governance_tier"`
	RequiresSecondReviewer    bool           `json:"requires_second_reviewer"`
	EditJustificationRequired bool           `json:"edit_justification_required"`
	LockedAt                  *time.Time     `json:"locked_at,omitempty"`
	LockedBy                  string         `json:"locked_by,omitempty"`

	// Review intelligence, refreshed by the urgency calculator.
	ReviewUrgencyScore   int            `json:"review_urgency_score"`
	NextReviewDate       *time.Time     `json:"next_review_date,omitempty"`
	ReviewFrequencyDays  int            `json:"review_frequency_days"`
	ConsecutiveDeferrals int            `json:"consecutive_deferrals"`
	UrgencyFactors       map[string]int `json:"urgency_factors,omitempty"`
}

// Locked reports whether the decision currently carries a lock.
func (d *Decision) Locked() bool {
	return d.LockedAt != nil && d.LockedBy != ""
}

// ReviewAnchor is the reference time for review-age computations:
// the last explicit review, falling back to creation for decisions
// that have never been reviewed.
func (d *Decision) ReviewAnchor() time.Time {
	if d.LastReviewedAt != nil {
		return *d.LastReviewedAt
	}
	return d.CreatedAt
}

// DecisionSnapshot is the dependency-facing view of a decision:
// just enough for the engine to compute a health ceiling.
type DecisionSnapshot struct {
	ID           string    `json:"id"`
	Lifecycle    Lifecycle `json:"lifecycle"`
	HealthSignal int       `json:"health_signal"`
}

// Snapshot reduces a decision to its dependency-facing view.
func (d *Decision) Snapshot() DecisionSnapshot {
	return DecisionSnapshot{ID: d.ID, Lifecycle: d.Lifecycle, HealthSignal: d.HealthSignal}
}

// DecisionDetail is a decision joined with the counts callers need
// to render it without issuing follow-up queries.
type DecisionDetail struct {
	Decision Decision `json:"decision"`

	AssumptionCount     int `json:"assumption_count"`
	ConstraintCount     int `json:"constraint_count"`
	DependencyCount     int `json:"dependency_count"`
	DependentCount      int `json:"dependent_count"`
	VersionCount        int `json:"version_count"`
	UnresolvedConflicts int `json:"unresolved_conflicts"`
}
