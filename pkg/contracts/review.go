package contracts

import "time"

// ReviewType names why a human looked at a decision.
type ReviewType string

const (
	ReviewRoutine            ReviewType = "ROUTINE"
	ReviewConflictResolution ReviewType = "CONFLICT_RESOLUTION"
	ReviewExpiryCheck        ReviewType = "EXPIRY_CHECK"
	ReviewManual             ReviewType = "MANUAL"
)

// ReviewOutcome is what the reviewer concluded. DEFERRED increments
// the decision's deferral streak; every other outcome resets it and
// advances lastReviewedAt.
type ReviewOutcome string

const (
	OutcomeReaffirmed ReviewOutcome = "REAFFIRMED"
	OutcomeRevised    ReviewOutcome = "REVISED"
	OutcomeEscalated  ReviewOutcome = "ESCALATED"
	OutcomeDeferred   ReviewOutcome = "DEFERRED"
)

// DecisionReview is the record of one explicit human review.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type DecisionReview struct {
	ID             string `json:"id"`
	DecisionID     string `json:"decision_id"`
	OrganizationID string `json:"organization_id"`
	Reviewer       string `json:"reviewer"`

	ReviewType ReviewType    `json:"review_type"`
	Outcome    ReviewOutcome `json:"outcome"`
	Comment    string        `json:"comment,omitempty"`

	PreLifecycle  Lifecycle `json:"pre_lifecycle"`
	PostLifecycle Lifecycle `json:"post_lifecycle"`
	PreHealth     int       `json:"pre_health"`
	PostHealth    int       `json:"post_health"`

	DeferralReason string     `json:"deferral_reason,omitempty"`
	NextReviewDate *time.Time `json:"next_review_date,omitempty"`

	ReviewedAt time.Time `json:"reviewed_at"`
}
