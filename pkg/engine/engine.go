// Package engine implements the deterministic evaluation pipeline.
//
// Evaluate is a pure function from an assembled input to a new
// lifecycle, health signal, and stepwise trace: no I/O, no randomness,
// no clock other than the timestamp carried by the input. Identical
// inputs produce byte-identical traces.
package engine

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/decivue/core/pkg/canonicalize"
	"github.com/decivue/core/pkg/contracts"
	"github.com/decivue/core/pkg/predicate"
)

// Trace step names, in pipeline order.
const (
	StepConstraintCheck = "constraint_check"
	StepDependencyCheck = "dependency_check"
	StepAssumptionCheck = "assumption_check"
	StepExpiryCheck     = "expiry_check"
	StepTimeDecay       = "time_decay"
	StepLifecycle       = "lifecycle_determination"
)

// Tunables are the deployment-fixed constants of the pipeline. They
// are tunable per deployment but must not change between evaluations,
// or traces stop being comparable.
type Tunables struct {
	// AssumptionPenaltyCap is the full-penalty ceiling for broken
	// decision-specific assumptions.
	AssumptionPenaltyCap int `json:"assumption_penalty_cap" yaml:"assumption_penalty_cap"`
	// AssumptionHardFailRatio is the broken ratio at which the
	// assumption check fails hard.
	AssumptionHardFailRatio float64 `json:"assumption_hard_fail_ratio" yaml:"assumption_hard_fail_ratio"`
	// ExpiryGraceDays is how long past expiry a decision may linger
	// before the engine retires it.
	ExpiryGraceDays int `json:"expiry_grace_days" yaml:"expiry_grace_days"`
	// ReviewDecayIntervalDays is the review-anchored decay period.
	ReviewDecayIntervalDays int `json:"review_decay_interval_days" yaml:"review_decay_interval_days"`
}

// DefaultTunables returns the standard deployment constants.
func DefaultTunables() Tunables {
	return Tunables{
		AssumptionPenaltyCap:    60,
		AssumptionHardFailRatio: 0.7,
		ExpiryGraceDays:         30,
		ReviewDecayIntervalDays: 30,
	}
}

// Input is one assembled evaluation: the decision snapshot, its
// resolved assumptions (universal and linked decision-specific), its
// linked constraints, its direct dependencies, and the timestamp the
// evaluation is anchored to.
type Input struct {
	Decision     contracts.Decision
	Assumptions  []contracts.Assumption
	Constraints  []contracts.Constraint
	Dependencies []contracts.DecisionSnapshot
	Now          time.Time
}

// Result is the engine's output. Failures are encoded, never raised.
type Result struct {
	Lifecycle         contracts.Lifecycle
	HealthSignal      int
	InvalidatedReason contracts.InvalidatedReason
	Trace             []contracts.TraceStep
	// TraceHash is the canonical hash of the trace with timestamps
	// stripped, so equal evaluations compare equal.
	TraceHash       string
	ChangesDetected bool
}

// Engine evaluates decisions. Safe for concurrent use; all mutable
// state is confined to the predicate validator's caches.
type Engine struct {
	validator *predicate.Validator
	tunables  Tunables
}

// Option configures an Engine.
type Option func(*Engine)

// WithTunables overrides the deployment constants.
func WithTunables(t Tunables) Option {
	return func(e *Engine) { e.tunables = t }
}

// New creates an engine around a shared predicate validator.
func New(validator *predicate.Validator, opts ...Option) *Engine {
	e := &Engine{
		validator: validator,
		tunables:  DefaultTunables(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// pipeline tracks working state across phases.
type pipeline struct {
	lifecycle contracts.Lifecycle
	health    int
	reason    contracts.InvalidatedReason
	// hardFailed is set once a phase reaches a terminal outcome;
	// later phases record skip steps and leave state alone.
	hardFailed bool
	trace      []contracts.TraceStep
	now        time.Time
}

func (p *pipeline) step(name string, passed bool, details string, metadata map[string]any) {
	p.trace = append(p.trace, contracts.TraceStep{
		StepName:  name,
		Passed:    passed,
		Details:   details,
		Timestamp: p.now,
		Metadata:  metadata,
	})
}

func (p *pipeline) skip(name, why string) {
	p.step(name, true, "skipped: "+why, map[string]any{"skipped": true})
}

// Evaluate runs the six-phase pipeline over one input.
func (e *Engine) Evaluate(in Input) Result {
	d := in.Decision
	p := &pipeline{
		lifecycle: d.Lifecycle,
		health:    clampHealth(d.HealthSignal),
		reason:    d.InvalidatedReason,
		now:       in.Now,
	}

	// Retired input is terminal: every phase records a skip and the
	// decision leaves exactly as it came.
	if d.Lifecycle == contracts.LifecycleRetired {
		for _, name := range []string{StepConstraintCheck, StepDependencyCheck,
			StepAssumptionCheck, StepExpiryCheck, StepTimeDecay, StepLifecycle} {
			p.skip(name, "decision is retired")
		}
		return e.finish(in, p)
	}

	// Reset semantics: an invalidated decision gets a clean slate so
	// it can recover if its inputs have healed.
	resetApplied := false
	if d.Lifecycle == contracts.LifecycleInvalidated {
		p.lifecycle = contracts.LifecycleStable
		p.health = 100
		p.reason = ""
		resetApplied = true
	}

	e.checkConstraints(in, p, resetApplied)
	e.checkDependencies(in, p)
	e.checkAssumptions(in, p)
	e.checkExpiry(in, p)
	e.applyTimeDecay(in, p)
	e.determineLifecycle(p)

	return e.finish(in, p)
}

func (e *Engine) finish(in Input, p *pipeline) Result {
	res := Result{
		Lifecycle:         p.lifecycle,
		HealthSignal:      p.health,
		InvalidatedReason: p.reason,
		Trace:             p.trace,
		TraceHash:         hashTrace(p.trace),
	}
	res.ChangesDetected = res.Lifecycle != in.Decision.Lifecycle ||
		res.HealthSignal != in.Decision.HealthSignal ||
		res.InvalidatedReason != in.Decision.InvalidatedReason
	return res
}

// checkConstraints is phase 1: any failed validation rule invalidates
// the decision outright.
func (e *Engine) checkConstraints(in Input, p *pipeline, resetApplied bool) {
	meta := map[string]any{"constraints": len(in.Constraints)}
	if resetApplied {
		meta["reset_applied"] = true
	}

	doc := predicate.DecisionDocument(&in.Decision)
	var violations []predicate.Violation
	violated := map[string]int{}
	for i := range in.Constraints {
		c := &in.Constraints[i]
		found := e.validator.Evaluate(c.Validation, doc)
		if len(found) > 0 {
			violated[c.Name] = len(found)
			violations = append(violations, found...)
		}
	}

	if len(violations) == 0 {
		p.step(StepConstraintCheck, true,
			fmt.Sprintf("%d constraint(s) satisfied", len(in.Constraints)), meta)
		return
	}

	meta["violations"] = violations
	names := make([]string, 0, len(violated))
	for name := range violated {
		names = append(names, name)
	}
	sort.Strings(names)

	p.lifecycle = contracts.LifecycleInvalidated
	p.health = 0
	p.reason = contracts.ReasonConstraintViolation
	p.hardFailed = true
	p.step(StepConstraintCheck, false,
		fmt.Sprintf("constraint(s) violated: %v", names), meta)
}

// checkDependencies is phase 2: dependencies cap health at the
// weakest dependency but never invalidate.
func (e *Engine) checkDependencies(in Input, p *pipeline) {
	if p.hardFailed {
		p.skip(StepDependencyCheck, "decision already invalidated")
		return
	}

	if len(in.Dependencies) == 0 {
		p.step(StepDependencyCheck, true, "no dependencies",
			map[string]any{"ceiling": 100})
		return
	}

	ceiling := 100
	healths := make(map[string]int, len(in.Dependencies))
	for _, dep := range in.Dependencies {
		healths[dep.ID] = dep.HealthSignal
		if dep.HealthSignal < ceiling {
			ceiling = dep.HealthSignal
		}
	}
	if ceiling < p.health {
		p.health = ceiling
	}
	p.step(StepDependencyCheck, true,
		fmt.Sprintf("health capped at weakest of %d dependencies (%d)", len(in.Dependencies), ceiling),
		map[string]any{"ceiling": ceiling, "dependency_health": healths})
}

// checkAssumptions is phase 3: a broken universal assumption or a
// broken ratio at or above the hard-fail threshold invalidates; below
// the threshold a proportional penalty applies.
func (e *Engine) checkAssumptions(in Input, p *pipeline) {
	if p.hardFailed {
		p.skip(StepAssumptionCheck, "decision already invalidated")
		return
	}

	var universalBroken, specificBroken, specificTotal, shaky int
	var brokenUniversalIDs []string
	for _, a := range in.Assumptions {
		if a.Status == contracts.AssumptionShaky {
			shaky++
		}
		switch a.Scope {
		case contracts.ScopeUniversal:
			if a.Status == contracts.AssumptionBroken {
				universalBroken++
				brokenUniversalIDs = append(brokenUniversalIDs, a.ID)
			}
		case contracts.ScopeDecisionSpecific:
			specificTotal++
			if a.Status == contracts.AssumptionBroken {
				specificBroken++
			}
		}
	}
	sort.Strings(brokenUniversalIDs)

	meta := map[string]any{
		"universal_broken": universalBroken,
		"specific_broken":  specificBroken,
		"specific_total":   specificTotal,
		"shaky":            shaky,
	}

	// Universal breakage wins the tie-break: it is checked first and
	// its detail names the assumptions.
	if universalBroken > 0 {
		p.lifecycle = contracts.LifecycleInvalidated
		p.health = 0
		p.reason = contracts.ReasonBrokenAssumptions
		p.hardFailed = true
		meta["broken_universal_ids"] = brokenUniversalIDs
		p.step(StepAssumptionCheck, false,
			fmt.Sprintf("%d universal assumption(s) broken", universalBroken), meta)
		return
	}

	var ratio float64
	if specificTotal > 0 {
		ratio = float64(specificBroken) / float64(specificTotal)
	}
	penalty := int(math.Floor(ratio * float64(e.tunables.AssumptionPenaltyCap)))
	meta["broken_ratio"] = ratio
	meta["penalty"] = penalty

	if ratio >= e.tunables.AssumptionHardFailRatio {
		p.lifecycle = contracts.LifecycleInvalidated
		p.health = 0
		p.reason = contracts.ReasonBrokenAssumptions
		p.hardFailed = true
		p.step(StepAssumptionCheck, false,
			fmt.Sprintf("%d/%d decision-specific assumptions broken (ratio %.2f)",
				specificBroken, specificTotal, ratio), meta)
		return
	}

	p.health = clampHealth(p.health - penalty)
	p.step(StepAssumptionCheck, true,
		fmt.Sprintf("%d/%d decision-specific assumptions broken, penalty %d, %d shaky",
			specificBroken, specificTotal, penalty, shaky), meta)
}

// checkExpiry is phase 4: a decision more than the grace period past
// its expiry date retires. Retirement is terminal for this evaluation.
func (e *Engine) checkExpiry(in Input, p *pipeline) {
	if p.hardFailed {
		p.skip(StepExpiryCheck, "decision already invalidated")
		return
	}

	if in.Decision.ExpiryDate == nil {
		p.step(StepExpiryCheck, true, "no expiry date", nil)
		return
	}

	grace := time.Duration(e.tunables.ExpiryGraceDays) * 24 * time.Hour
	overdue := in.Now.Sub(*in.Decision.ExpiryDate)
	if overdue > grace {
		p.lifecycle = contracts.LifecycleRetired
		p.reason = contracts.ReasonExpired
		p.hardFailed = true
		p.step(StepExpiryCheck, false,
			fmt.Sprintf("expired %.0f days ago, beyond %d-day grace",
				math.Floor(overdue.Hours()/24), e.tunables.ExpiryGraceDays),
			map[string]any{"overdue_days": math.Floor(overdue.Hours() / 24)})
		return
	}

	p.step(StepExpiryCheck, true, "within expiry horizon", nil)
}

// applyTimeDecay is phase 5: health erodes as the decision approaches
// or passes its expiry date, or as reviews age out. Never invalidates.
func (e *Engine) applyTimeDecay(in Input, p *pipeline) {
	if p.hardFailed {
		p.skip(StepTimeDecay, "decision already in terminal state")
		return
	}

	var decay int
	var anchor string
	meta := map[string]any{}

	if in.Decision.ExpiryDate != nil {
		anchor = "expiry"
		daysToExpiry := in.Decision.ExpiryDate.Sub(in.Now).Hours() / 24
		meta["days_to_expiry"] = math.Floor(daysToExpiry)
		switch {
		case daysToExpiry > 90:
			decay = 0
		case daysToExpiry > 30:
			decay = int(math.Floor((90 - daysToExpiry) / 15))
		case daysToExpiry > 0:
			decay = 4 + int(math.Floor((30-daysToExpiry)/5))
		default:
			// Past expiry but inside grace: full pre-expiry decay
			// plus a point per overdue day.
			decay = 10 + int(math.Floor(-daysToExpiry))
		}
	} else {
		anchor = "review"
		sinceReview := in.Now.Sub(in.Decision.ReviewAnchor())
		interval := time.Duration(e.tunables.ReviewDecayIntervalDays) * 24 * time.Hour
		if sinceReview > 0 {
			decay = int(sinceReview / interval)
		}
	}

	if decay < 0 {
		decay = 0
	}
	p.health = clampHealth(p.health - decay)
	meta["decay"] = decay
	meta["anchor"] = anchor
	p.step(StepTimeDecay, true,
		fmt.Sprintf("%s-anchored decay of %d point(s)", anchor, decay), meta)
}

// determineLifecycle is phase 6: health maps to lifecycle unless an
// earlier phase reached a terminal outcome. Health alone never
// produces INVALIDATED or RETIRED.
func (e *Engine) determineLifecycle(p *pipeline) {
	if p.hardFailed {
		p.step(StepLifecycle, true,
			fmt.Sprintf("terminal state %s retained", p.lifecycle),
			map[string]any{"lifecycle": string(p.lifecycle)})
		return
	}

	switch {
	case p.health >= 80:
		p.lifecycle = contracts.LifecycleStable
	case p.health >= 60:
		p.lifecycle = contracts.LifecycleUnderReview
	default:
		p.lifecycle = contracts.LifecycleAtRisk
	}
	// A recovered decision sheds its old invalidation reason.
	p.reason = ""
	p.step(StepLifecycle, true,
		fmt.Sprintf("health %d maps to %s", p.health, p.lifecycle),
		map[string]any{"health": p.health, "lifecycle": string(p.lifecycle)})
}

func clampHealth(h int) int {
	if h < 0 {
		return 0
	}
	if h > 100 {
		return 100
	}
	return h
}

// hashTrace canonicalizes the trace with timestamps stripped so two
// runs over identical inputs hash identically.
func hashTrace(trace []contracts.TraceStep) string {
	type hashable struct {
		StepName string         `json:"step_name"`
		Passed   bool           `json:"passed"`
		Details  string         `json:"details"`
		Metadata map[string]any `json:"metadata,omitempty"`
	}
	steps := make([]hashable, len(trace))
	for i, s := range trace {
		steps[i] = hashable{
			StepName: s.StepName,
			Passed:   s.Passed,
			Details:  s.Details,
			Metadata: s.Metadata,
		}
	}
	h, err := canonicalize.CanonicalHash(steps)
	if err != nil {
		return ""
	}
	return h
}
