// Package detector finds tension the engine cannot see on its own:
// decisions that contradict each other and assumptions that no longer
// square with reality. Detectors only produce findings; the runner
// stamps, dedupes, and records them as conflict rows for urgency and
// tier escalation to read.
package detector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/decivue/core/pkg/contracts"
	"github.com/decivue/core/pkg/store"
)

// DecisionContext is one decision plus its effective assumption set,
// the way the engine would see it.
type DecisionContext struct {
	Decision    contracts.Decision     `json:"decision"`
	Assumptions []contracts.Assumption `json:"assumptions"`
}

// Input is the organization snapshot handed to every detector.
type Input struct {
	OrganizationID string            `json:"organization_id"`
	Decisions      []DecisionContext `json:"decisions"`
	GeneratedAt    time.Time         `json:"generated_at"`
}

// DecisionFinding flags tension between two decisions.
type DecisionFinding struct {
	DecisionID  string `json:"decision_id"`
	OtherID     string `json:"other_id,omitempty"`
	Description string `json:"description"`
}

// AssumptionFinding flags tension around an assumption, optionally
// pinned to one decision.
type AssumptionFinding struct {
	AssumptionID string `json:"assumption_id"`
	DecisionID   string `json:"decision_id,omitempty"`
	Description  string `json:"description"`
}

// Findings is a detector's full output for one run.
type Findings struct {
	Decisions   []DecisionFinding   `json:"decisions,omitempty"`
	Assumptions []AssumptionFinding `json:"assumptions,omitempty"`
}

// Detector examines an organization snapshot and reports findings.
// Implementations must not write to the store; recording is the
// runner's job.
type Detector interface {
	Detect(ctx context.Context, in Input) (Findings, error)
}

// Func adapts a plain function to the Detector interface.
type Func func(ctx context.Context, in Input) (Findings, error)

func (f Func) Detect(ctx context.Context, in Input) (Findings, error) {
	return f(ctx, in)
}

// Report summarizes one detection run.
type Report struct {
	Detectors           int `json:"detectors"`
	DecisionConflicts   int `json:"decision_conflicts"`
	AssumptionConflicts int `json:"assumption_conflicts"`
	// Deduped counts findings whose conflict row already existed.
	Deduped  int `json:"deduped"`
	Failures int `json:"failures"`
	// AffectedDecisions lists every decision named by a newly
	// recorded conflict, sorted, for tier reconciliation.
	AffectedDecisions []string `json:"affected_decisions,omitempty"`
}

// Runner owns the detector registry and turns findings into conflict
// rows. Safe for concurrent use.
type Runner struct {
	store     store.Store
	mu        sync.RWMutex
	detectors map[string]Detector
	logger    *slog.Logger
	clock     func() time.Time
}

// NewRunner creates a runner over a store.
func NewRunner(st store.Store) *Runner {
	return &Runner{
		store:     st,
		detectors: make(map[string]Detector),
		logger:    slog.Default().With("component", "detector"),
		clock:     time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (r *Runner) WithClock(clock func() time.Time) *Runner {
	r.clock = clock
	return r
}

// WithLogger replaces the default logger.
func (r *Runner) WithLogger(logger *slog.Logger) *Runner {
	r.logger = logger
	return r
}

// Register adds a detector under a unique name. The name becomes the
// DetectedBy field of every conflict the detector produces.
func (r *Runner) Register(name string, d Detector) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.detectors[name]; ok {
		return fmt.Errorf("detector %q already registered", name)
	}
	r.detectors[name] = d
	return nil
}

// Names returns the registered detector names, sorted.
func (r *Runner) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.detectors))
	for name := range r.detectors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run assembles the organization snapshot, runs every registered
// detector, and records new conflicts. A failing detector is logged
// and counted; the others still run.
func (r *Runner) Run(ctx context.Context, orgID string) (Report, error) {
	in, err := r.assemble(ctx, orgID)
	if err != nil {
		return Report{}, err
	}

	r.mu.RLock()
	detectors := make(map[string]Detector, len(r.detectors))
	for name, d := range r.detectors {
		detectors[name] = d
	}
	r.mu.RUnlock()

	report := Report{Detectors: len(detectors)}
	affected := map[string]struct{}{}

	for _, name := range sortedKeys(detectors) {
		findings, err := detectors[name].Detect(ctx, in)
		if err != nil {
			r.logger.WarnContext(ctx, "detector failed",
				"detector", name, "organization_id", orgID, "error", err)
			report.Failures++
			continue
		}
		r.record(ctx, orgID, name, findings, &report, affected)
	}

	report.AffectedDecisions = sortedSet(affected)
	return report, nil
}

func (r *Runner) assemble(ctx context.Context, orgID string) (Input, error) {
	decisions, err := r.store.ListDecisions(ctx, orgID)
	if err != nil {
		return Input{}, fmt.Errorf("assemble snapshot: %w", err)
	}
	in := Input{OrganizationID: orgID, GeneratedAt: r.clock().UTC()}
	for _, d := range decisions {
		assumptions, err := r.store.ListAssumptionsForDecision(ctx, orgID, d.ID)
		if err != nil {
			return Input{}, fmt.Errorf("assemble snapshot for %s: %w", d.ID, err)
		}
		in.Decisions = append(in.Decisions, DecisionContext{Decision: d, Assumptions: assumptions})
	}
	return in, nil
}

func (r *Runner) record(ctx context.Context, orgID, detectedBy string, findings Findings, report *Report, affected map[string]struct{}) {
	now := r.clock().UTC()
	for _, f := range findings.Decisions {
		c := contracts.DecisionConflict{
			ID:             conflictID(detectedBy, "decision", f.DecisionID, f.OtherID),
			OrganizationID: orgID,
			DecisionID:     f.DecisionID,
			OtherID:        f.OtherID,
			Description:    f.Description,
			DetectedBy:     detectedBy,
			DetectedAt:     now,
		}
		switch err := r.store.RecordDecisionConflict(ctx, c); {
		case err == nil:
			report.DecisionConflicts++
			affected[f.DecisionID] = struct{}{}
			if f.OtherID != "" {
				affected[f.OtherID] = struct{}{}
			}
		case isDuplicate(err):
			report.Deduped++
		default:
			r.logger.WarnContext(ctx, "recording decision conflict failed",
				"detector", detectedBy, "decision_id", f.DecisionID, "error", err)
			report.Failures++
		}
	}
	for _, f := range findings.Assumptions {
		c := contracts.AssumptionConflict{
			ID:             conflictID(detectedBy, "assumption", f.AssumptionID, f.DecisionID),
			OrganizationID: orgID,
			AssumptionID:   f.AssumptionID,
			DecisionID:     f.DecisionID,
			Description:    f.Description,
			DetectedBy:     detectedBy,
			DetectedAt:     now,
		}
		switch err := r.store.RecordAssumptionConflict(ctx, c); {
		case err == nil:
			report.AssumptionConflicts++
			if f.DecisionID != "" {
				affected[f.DecisionID] = struct{}{}
			}
		case isDuplicate(err):
			report.Deduped++
		default:
			r.logger.WarnContext(ctx, "recording assumption conflict failed",
				"detector", detectedBy, "assumption_id", f.AssumptionID, "error", err)
			report.Failures++
		}
	}
}

func isDuplicate(err error) bool {
	return errors.Is(err, store.ErrConflict)
}

// conflictID is stable for one (detector, kind, subject pair), so a
// re-detected finding lands on the existing row instead of a new one.
func conflictID(detectedBy, kind, a, b string) string {
	seed := fmt.Sprintf("decivue:conflict:%s:%s:%s:%s", detectedBy, kind, a, b)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(seed)).String()
}

func sortedKeys(m map[string]Detector) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedSet(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ParameterContradictions is a built-in detector: two live decisions
// in the same category whose parameters disagree on a shared key are
// in tension.
func ParameterContradictions() Detector {
	return Func(func(_ context.Context, in Input) (Findings, error) {
		var out Findings
		decisions := make([]contracts.Decision, 0, len(in.Decisions))
		for _, dc := range in.Decisions {
			d := dc.Decision
			if d.Lifecycle == contracts.LifecycleRetired || d.Category == "" || len(d.Parameters) == 0 {
				continue
			}
			decisions = append(decisions, d)
		}
		sort.Slice(decisions, func(i, j int) bool { return decisions[i].ID < decisions[j].ID })

		for i := 0; i < len(decisions); i++ {
			for j := i + 1; j < len(decisions); j++ {
				a, b := decisions[i], decisions[j]
				if a.Category != b.Category {
					continue
				}
				if key := firstDisagreement(a.Parameters, b.Parameters); key != "" {
					out.Decisions = append(out.Decisions, DecisionFinding{
						DecisionID: a.ID,
						OtherID:    b.ID,
						Description: fmt.Sprintf("decisions %q and %q disagree on parameter %q in category %q",
							a.Title, b.Title, key, a.Category),
					})
				}
			}
		}
		return out, nil
	})
}

func firstDisagreement(a, b map[string]any) string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		bv, ok := b[k]
		if !ok {
			continue
		}
		if !reflect.DeepEqual(a[k], bv) {
			return k
		}
	}
	return ""
}
