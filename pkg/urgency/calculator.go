// Package urgency scores how badly a decision needs human review and
// derives an adaptive review cadence from the score.
//
// The calculator is pure: identical signals produce identical
// assessments. It starts from a base score and applies additive
// factors, each reported in a breakdown map so callers can explain
// why a review came due.
package urgency

import (
	"time"

	"github.com/decivue/core/pkg/contracts"
)

// Factor keys used in the assessment breakdown.
const (
	FactorLifecycleRisk       = "lifecycle_risk"
	FactorLowHealth           = "low_health"
	FactorAging               = "aging"
	FactorExpiryProximity     = "expiry_proximity"
	FactorDecisionConflicts   = "decision_conflicts"
	FactorAssumptionConflicts = "assumption_conflicts"
	FactorNeedsEvaluation     = "needs_evaluation"
	FactorReviewNeglect       = "review_neglect"
)

// BaseScore is the starting point before factors apply.
const BaseScore = 50

const day = 24 * time.Hour

// Signals carries everything the calculator reads. Conflict counts
// come from the store because the decision row does not embed them.
type Signals struct {
	Decision contracts.Decision

	// OpenDecisionConflicts counts unresolved conflicts where this
	// decision is either side.
	OpenDecisionConflicts int

	// OpenAssumptionConflicts counts unresolved conflicts on
	// assumptions linked to this decision.
	OpenAssumptionConflicts int

	Now time.Time
}

// Assessment is the calculator output. Factors holds every nonzero
// contribution; the values sum to the raw score minus BaseScore,
// before clamping.
type Assessment struct {
	Score               int            `json:"score"`
	Factors             map[string]int `json:"factors"`
	ReviewFrequencyDays int            `json:"review_frequency_days"`
	NextReviewDate      time.Time      `json:"next_review_date"`
}

// Compute scores the decision and picks its review cadence.
func Compute(sig Signals) Assessment {
	d := sig.Decision
	factors := make(map[string]int)

	add := func(key string, delta int) {
		if delta != 0 {
			factors[key] += delta
		}
	}

	switch d.Lifecycle {
	case contracts.LifecycleInvalidated:
		add(FactorLifecycleRisk, 25)
	case contracts.LifecycleAtRisk:
		add(FactorLifecycleRisk, 20)
	case contracts.LifecycleUnderReview:
		add(FactorLifecycleRisk, 10)
	case contracts.LifecycleRetired:
		add(FactorLifecycleRisk, -50)
	}

	switch {
	case d.HealthSignal < 30:
		add(FactorLowHealth, 20)
	case d.HealthSignal < 50:
		add(FactorLowHealth, 10)
	}

	sinceReview := sig.Now.Sub(d.ReviewAnchor())
	switch {
	case sinceReview > 180*day:
		add(FactorAging, 15)
	case sinceReview > 90*day:
		add(FactorAging, 8)
	}

	if d.ExpiryDate != nil {
		untilExpiry := d.ExpiryDate.Sub(sig.Now)
		switch {
		case untilExpiry < 7*day:
			add(FactorExpiryProximity, 15)
		case untilExpiry < 30*day:
			add(FactorExpiryProximity, 10)
		case untilExpiry < 60*day:
			add(FactorExpiryProximity, 5)
		}
	}

	switch {
	case sig.OpenDecisionConflicts > 2:
		add(FactorDecisionConflicts, 15)
	case sig.OpenDecisionConflicts > 0:
		add(FactorDecisionConflicts, 8)
	}

	switch {
	case sig.OpenAssumptionConflicts > 1:
		add(FactorAssumptionConflicts, 10)
	case sig.OpenAssumptionConflicts > 0:
		add(FactorAssumptionConflicts, 5)
	}

	if d.NeedsEvaluation {
		add(FactorNeedsEvaluation, 10)
	}

	switch {
	case d.ConsecutiveDeferrals >= 3:
		add(FactorReviewNeglect, 20)
	case d.ConsecutiveDeferrals == 2:
		add(FactorReviewNeglect, 10)
	case d.ConsecutiveDeferrals == 1:
		add(FactorReviewNeglect, 5)
	}

	raw := BaseScore
	for _, delta := range factors {
		raw += delta
	}

	score := raw
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	freq := FrequencyDays(score)
	return Assessment{
		Score:               score,
		Factors:             factors,
		ReviewFrequencyDays: freq,
		NextReviewDate:      sig.Now.Add(time.Duration(freq) * day),
	}
}

// FrequencyDays maps an urgency score onto a review cadence in days.
func FrequencyDays(score int) int {
	switch {
	case score >= 80:
		return 7
	case score >= 60:
		return 30
	case score >= 40:
		return 60
	default:
		return 90
	}
}
