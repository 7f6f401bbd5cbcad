package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/decivue/core/pkg/contracts"
	"github.com/decivue/core/pkg/predicate"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	v, err := predicate.NewValidator()
	require.NoError(t, err)
	return New(v)
}

func healthyDecision() contracts.Decision {
	reviewed := testNow
	return contracts.Decision{
		ID:             "d-1",
		OrganizationID: "org-1",
		Title:          "Adopt managed Postgres",
		Lifecycle:      contracts.LifecycleStable,
		HealthSignal:   100,
		CreatedAt:      testNow.Add(-90 * 24 * time.Hour),
		LastReviewedAt: &reviewed,
	}
}

func stepByName(t *testing.T, trace []contracts.TraceStep, name string) contracts.TraceStep {
	t.Helper()
	for _, s := range trace {
		if s.StepName == name {
			return s
		}
	}
	t.Fatalf("trace has no step %q", name)
	return contracts.TraceStep{}
}

func TestEvaluateHealthyStable(t *testing.T) {
	e := newTestEngine(t)

	res := e.Evaluate(Input{
		Decision: healthyDecision(),
		Assumptions: []contracts.Assumption{
			{ID: "a-1", Scope: contracts.ScopeDecisionSpecific, Status: contracts.AssumptionValid},
		},
		Now: testNow,
	})

	require.Equal(t, contracts.LifecycleStable, res.Lifecycle)
	require.Equal(t, 100, res.HealthSignal)
	require.Empty(t, res.InvalidatedReason)
	require.False(t, res.ChangesDetected)
	require.Len(t, res.Trace, 6)
	for _, s := range res.Trace {
		require.True(t, s.Passed, "step %s", s.StepName)
	}
}

func TestEvaluateBrokenUniversalAssumption(t *testing.T) {
	e := newTestEngine(t)

	res := e.Evaluate(Input{
		Decision: healthyDecision(),
		Assumptions: []contracts.Assumption{
			{ID: "a-u", Scope: contracts.ScopeUniversal, Status: contracts.AssumptionBroken},
		},
		Now: testNow,
	})

	require.Equal(t, contracts.LifecycleInvalidated, res.Lifecycle)
	require.Equal(t, contracts.ReasonBrokenAssumptions, res.InvalidatedReason)
	require.Equal(t, 0, res.HealthSignal)
	require.True(t, res.ChangesDetected)

	step := stepByName(t, res.Trace, StepAssumptionCheck)
	require.False(t, step.Passed)
	require.Equal(t, 1, step.Metadata["universal_broken"])

	// Later phases record skips, not state changes.
	expiry := stepByName(t, res.Trace, StepExpiryCheck)
	require.True(t, expiry.Metadata["skipped"].(bool))
}

func TestEvaluateProportionalPenalty(t *testing.T) {
	e := newTestEngine(t)

	specific := func(id string, status contracts.AssumptionStatus) contracts.Assumption {
		return contracts.Assumption{ID: id, Scope: contracts.ScopeDecisionSpecific, Status: status}
	}

	t.Run("one of four broken", func(t *testing.T) {
		res := e.Evaluate(Input{
			Decision: healthyDecision(),
			Assumptions: []contracts.Assumption{
				specific("a-1", contracts.AssumptionBroken),
				specific("a-2", contracts.AssumptionValid),
				specific("a-3", contracts.AssumptionValid),
				specific("a-4", contracts.AssumptionValid),
			},
			Now: testNow,
		})

		// p = 0.25, penalty = floor(0.25 * 60) = 15
		require.Equal(t, 85, res.HealthSignal)
		require.Equal(t, contracts.LifecycleStable, res.Lifecycle)

		step := stepByName(t, res.Trace, StepAssumptionCheck)
		require.True(t, step.Passed)
		require.Equal(t, 15, step.Metadata["penalty"])
	})

	t.Run("three of four broken fails hard", func(t *testing.T) {
		res := e.Evaluate(Input{
			Decision: healthyDecision(),
			Assumptions: []contracts.Assumption{
				specific("a-1", contracts.AssumptionBroken),
				specific("a-2", contracts.AssumptionBroken),
				specific("a-3", contracts.AssumptionBroken),
				specific("a-4", contracts.AssumptionValid),
			},
			Now: testNow,
		})

		// p = 0.75 >= 0.7
		require.Equal(t, contracts.LifecycleInvalidated, res.Lifecycle)
		require.Equal(t, contracts.ReasonBrokenAssumptions, res.InvalidatedReason)
		require.Equal(t, 0, res.HealthSignal)
	})

	t.Run("shaky is recorded but not penalized", func(t *testing.T) {
		res := e.Evaluate(Input{
			Decision: healthyDecision(),
			Assumptions: []contracts.Assumption{
				specific("a-1", contracts.AssumptionShaky),
				specific("a-2", contracts.AssumptionShaky),
			},
			Now: testNow,
		})

		require.Equal(t, 100, res.HealthSignal)
		step := stepByName(t, res.Trace, StepAssumptionCheck)
		require.Equal(t, 2, step.Metadata["shaky"])
	})
}

func TestEvaluateDependencyCeiling(t *testing.T) {
	e := newTestEngine(t)

	res := e.Evaluate(Input{
		Decision: healthyDecision(),
		Dependencies: []contracts.DecisionSnapshot{
			{ID: "d-5", Lifecycle: contracts.LifecycleAtRisk, HealthSignal: 30},
		},
		Now: testNow,
	})

	require.Equal(t, 30, res.HealthSignal)
	require.Equal(t, contracts.LifecycleAtRisk, res.Lifecycle)
	require.Empty(t, res.InvalidatedReason, "dependencies never invalidate")

	step := stepByName(t, res.Trace, StepDependencyCheck)
	require.True(t, step.Passed)
	require.Equal(t, 30, step.Metadata["ceiling"])
}

func TestEvaluateExpiryDecay(t *testing.T) {
	e := newTestEngine(t)

	t.Run("twenty days to expiry", func(t *testing.T) {
		d := healthyDecision()
		expiry := testNow.Add(20 * 24 * time.Hour)
		d.ExpiryDate = &expiry

		res := e.Evaluate(Input{Decision: d, Now: testNow})

		// 4 points for closing the warning band, floor(10/5)=2 inside
		// the critical window.
		require.Equal(t, 94, res.HealthSignal)
		require.Equal(t, contracts.LifecycleStable, res.Lifecycle)

		step := stepByName(t, res.Trace, StepTimeDecay)
		require.Equal(t, 6, step.Metadata["decay"])
		require.Equal(t, "expiry", step.Metadata["anchor"])
	})

	t.Run("sixty days to expiry", func(t *testing.T) {
		d := healthyDecision()
		expiry := testNow.Add(60 * 24 * time.Hour)
		d.ExpiryDate = &expiry

		res := e.Evaluate(Input{Decision: d, Now: testNow})

		// floor((90-60)/15) = 2
		require.Equal(t, 98, res.HealthSignal)
	})

	t.Run("far future expiry decays nothing", func(t *testing.T) {
		d := healthyDecision()
		expiry := testNow.Add(200 * 24 * time.Hour)
		d.ExpiryDate = &expiry

		res := e.Evaluate(Input{Decision: d, Now: testNow})
		require.Equal(t, 100, res.HealthSignal)
	})

	t.Run("overdue inside grace", func(t *testing.T) {
		d := healthyDecision()
		expiry := testNow.Add(-10 * 24 * time.Hour)
		d.ExpiryDate = &expiry

		res := e.Evaluate(Input{Decision: d, Now: testNow})

		// Full pre-expiry decay (10) plus one point per overdue day.
		require.Equal(t, 80, res.HealthSignal)
		require.Equal(t, contracts.LifecycleStable, res.Lifecycle)
	})
}

func TestEvaluateExpiryRetirement(t *testing.T) {
	e := newTestEngine(t)

	d := healthyDecision()
	expiry := testNow.Add(-31 * 24 * time.Hour)
	d.ExpiryDate = &expiry

	res := e.Evaluate(Input{Decision: d, Now: testNow})

	require.Equal(t, contracts.LifecycleRetired, res.Lifecycle)
	require.Equal(t, contracts.ReasonExpired, res.InvalidatedReason)

	step := stepByName(t, res.Trace, StepExpiryCheck)
	require.False(t, step.Passed)
	// Retirement is terminal within the evaluation: decay is skipped.
	decay := stepByName(t, res.Trace, StepTimeDecay)
	require.True(t, decay.Metadata["skipped"].(bool))
}

func TestEvaluateReviewAnchoredDecay(t *testing.T) {
	e := newTestEngine(t)

	t.Run("ninety five days since review", func(t *testing.T) {
		d := healthyDecision()
		reviewed := testNow.Add(-95 * 24 * time.Hour)
		d.LastReviewedAt = &reviewed

		res := e.Evaluate(Input{Decision: d, Now: testNow})
		require.Equal(t, 97, res.HealthSignal)

		step := stepByName(t, res.Trace, StepTimeDecay)
		require.Equal(t, "review", step.Metadata["anchor"])
	})

	t.Run("never reviewed falls back to creation", func(t *testing.T) {
		d := healthyDecision()
		d.LastReviewedAt = nil
		d.CreatedAt = testNow.Add(-65 * 24 * time.Hour)

		res := e.Evaluate(Input{Decision: d, Now: testNow})
		require.Equal(t, 98, res.HealthSignal)
	})

	t.Run("long neglect drops the band", func(t *testing.T) {
		d := healthyDecision()
		reviewed := testNow.Add(-700 * 24 * time.Hour)
		d.LastReviewedAt = &reviewed

		res := e.Evaluate(Input{Decision: d, Now: testNow})
		// floor(700/30) = 23
		require.Equal(t, 77, res.HealthSignal)
		require.Equal(t, contracts.LifecycleUnderReview, res.Lifecycle)
	})
}

func TestEvaluateConstraintViolation(t *testing.T) {
	e := newTestEngine(t)

	d := healthyDecision()
	d.Parameters = map[string]any{"budget": map[string]any{"annual": float64(900000)}}

	res := e.Evaluate(Input{
		Decision: d,
		Constraints: []contracts.Constraint{
			{
				ID:   "c-1",
				Name: "budget-cap",
				Type: contracts.ConstraintBudget,
				Validation: &contracts.ValidationConfig{Rules: []contracts.ValidationRule{
					{Path: "params.budget.annual", Op: contracts.OpLTE, Value: 500000},
				}},
			},
		},
		Now: testNow,
	})

	require.Equal(t, contracts.LifecycleInvalidated, res.Lifecycle)
	require.Equal(t, contracts.ReasonConstraintViolation, res.InvalidatedReason)
	require.Equal(t, 0, res.HealthSignal)

	step := stepByName(t, res.Trace, StepConstraintCheck)
	require.False(t, step.Passed)
	require.Contains(t, step.Details, "budget-cap")

	dep := stepByName(t, res.Trace, StepDependencyCheck)
	require.True(t, dep.Metadata["skipped"].(bool))
}

func TestEvaluateResetSemantics(t *testing.T) {
	e := newTestEngine(t)

	t.Run("healed inputs recover", func(t *testing.T) {
		d := healthyDecision()
		d.Lifecycle = contracts.LifecycleInvalidated
		d.HealthSignal = 0
		d.InvalidatedReason = contracts.ReasonBrokenAssumptions

		res := e.Evaluate(Input{
			Decision: d,
			Assumptions: []contracts.Assumption{
				{ID: "a-1", Scope: contracts.ScopeDecisionSpecific, Status: contracts.AssumptionValid},
			},
			Now: testNow,
		})

		require.Equal(t, contracts.LifecycleStable, res.Lifecycle)
		require.Equal(t, 100, res.HealthSignal)
		require.Empty(t, res.InvalidatedReason)
		require.True(t, res.ChangesDetected)

		step := stepByName(t, res.Trace, StepConstraintCheck)
		require.Equal(t, true, step.Metadata["reset_applied"])
	})

	t.Run("still broken stays invalidated", func(t *testing.T) {
		d := healthyDecision()
		d.Lifecycle = contracts.LifecycleInvalidated
		d.HealthSignal = 0
		d.InvalidatedReason = contracts.ReasonBrokenAssumptions

		res := e.Evaluate(Input{
			Decision: d,
			Assumptions: []contracts.Assumption{
				{ID: "a-u", Scope: contracts.ScopeUniversal, Status: contracts.AssumptionBroken},
			},
			Now: testNow,
		})

		require.Equal(t, contracts.LifecycleInvalidated, res.Lifecycle)
		require.Equal(t, 0, res.HealthSignal)
		require.False(t, res.ChangesDetected, "identical terminal state is not a change")
	})
}

func TestEvaluateRetiredInputUntouched(t *testing.T) {
	e := newTestEngine(t)

	d := healthyDecision()
	d.Lifecycle = contracts.LifecycleRetired
	d.HealthSignal = 42
	d.InvalidatedReason = contracts.ReasonExpired

	res := e.Evaluate(Input{Decision: d, Now: testNow})

	require.Equal(t, contracts.LifecycleRetired, res.Lifecycle)
	require.Equal(t, 42, res.HealthSignal)
	require.Equal(t, contracts.ReasonExpired, res.InvalidatedReason)
	require.False(t, res.ChangesDetected)
	require.Len(t, res.Trace, 6)
	for _, s := range res.Trace {
		require.True(t, s.Metadata["skipped"].(bool), "step %s", s.StepName)
	}
}

func TestEvaluateLifecycleBands(t *testing.T) {
	e := newTestEngine(t)

	tests := []struct {
		health int
		want   contracts.Lifecycle
	}{
		{100, contracts.LifecycleStable},
		{80, contracts.LifecycleStable},
		{79, contracts.LifecycleUnderReview},
		{60, contracts.LifecycleUnderReview},
		{59, contracts.LifecycleAtRisk},
		{40, contracts.LifecycleAtRisk},
		{1, contracts.LifecycleAtRisk},
	}

	for _, tc := range tests {
		d := healthyDecision()
		d.HealthSignal = tc.health
		d.Lifecycle = contracts.LifecycleStable

		res := e.Evaluate(Input{Decision: d, Now: testNow})
		require.Equal(t, tc.want, res.Lifecycle, "health %d", tc.health)
	}
}

func TestEvaluateHealthZeroIsNotInvalidated(t *testing.T) {
	e := newTestEngine(t)

	// Broken ratio below the threshold on a decision already at low
	// health: health bottoms out at 0 but lifecycle stays AT_RISK.
	d := healthyDecision()
	d.HealthSignal = 10

	res := e.Evaluate(Input{
		Decision: d,
		Assumptions: []contracts.Assumption{
			{ID: "a-1", Scope: contracts.ScopeDecisionSpecific, Status: contracts.AssumptionBroken},
			{ID: "a-2", Scope: contracts.ScopeDecisionSpecific, Status: contracts.AssumptionValid},
		},
		Now: testNow,
	})

	require.Equal(t, 0, res.HealthSignal)
	require.Equal(t, contracts.LifecycleAtRisk, res.Lifecycle)
	require.Empty(t, res.InvalidatedReason)
}

func TestEvaluateUniversalWinsTieBreak(t *testing.T) {
	e := newTestEngine(t)

	res := e.Evaluate(Input{
		Decision: healthyDecision(),
		Assumptions: []contracts.Assumption{
			{ID: "a-u", Scope: contracts.ScopeUniversal, Status: contracts.AssumptionBroken},
			{ID: "a-1", Scope: contracts.ScopeDecisionSpecific, Status: contracts.AssumptionBroken},
		},
		Now: testNow,
	})

	require.Equal(t, contracts.ReasonBrokenAssumptions, res.InvalidatedReason)
	step := stepByName(t, res.Trace, StepAssumptionCheck)
	require.Contains(t, step.Details, "universal")
	require.Equal(t, []string{"a-u"}, step.Metadata["broken_universal_ids"])
}

func TestEvaluateDeterminism(t *testing.T) {
	e := newTestEngine(t)

	in := Input{
		Decision: healthyDecision(),
		Assumptions: []contracts.Assumption{
			{ID: "a-1", Scope: contracts.ScopeDecisionSpecific, Status: contracts.AssumptionBroken},
			{ID: "a-2", Scope: contracts.ScopeDecisionSpecific, Status: contracts.AssumptionValid},
			{ID: "a-3", Scope: contracts.ScopeDecisionSpecific, Status: contracts.AssumptionValid},
		},
		Dependencies: []contracts.DecisionSnapshot{
			{ID: "d-9", Lifecycle: contracts.LifecycleStable, HealthSignal: 88},
		},
		Now: testNow,
	}

	first := e.Evaluate(in)
	second := e.Evaluate(in)

	require.Equal(t, first, second)
	require.NotEmpty(t, first.TraceHash)
	require.Equal(t, first.TraceHash, second.TraceHash)
}

func TestEvaluatePhaseOrder(t *testing.T) {
	e := newTestEngine(t)

	res := e.Evaluate(Input{Decision: healthyDecision(), Now: testNow})

	want := []string{
		StepConstraintCheck, StepDependencyCheck, StepAssumptionCheck,
		StepExpiryCheck, StepTimeDecay, StepLifecycle,
	}
	require.Len(t, res.Trace, len(want))
	for i, name := range want {
		require.Equal(t, name, res.Trace[i].StepName)
	}
}
