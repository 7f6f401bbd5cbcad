package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/decivue/core/pkg/contracts"
)

// InputSource is the narrow store surface the assembler reads.
// ListAssumptionsForDecision resolves scope: it returns the
// organization's universal assumptions plus the explicitly linked
// decision-specific ones.
type InputSource interface {
	GetDecision(ctx context.Context, orgID, decisionID string) (contracts.Decision, error)
	ListAssumptionsForDecision(ctx context.Context, orgID, decisionID string) ([]contracts.Assumption, error)
	ListConstraintsForDecision(ctx context.Context, orgID, decisionID string) ([]contracts.Constraint, error)
	ListDependencies(ctx context.Context, orgID, decisionID string) ([]contracts.DecisionSnapshot, error)
}

// Assembler gathers everything one evaluation needs. Inputs are
// sorted by ID so the engine sees a stable order regardless of what
// the store returns.
type Assembler struct {
	source InputSource
	clock  func() time.Time
}

// NewAssembler creates an assembler over a store surface.
func NewAssembler(source InputSource) *Assembler {
	return &Assembler{source: source, clock: time.Now}
}

// WithClock overrides clock for testing.
func (a *Assembler) WithClock(clock func() time.Time) *Assembler {
	a.clock = clock
	return a
}

// Assemble builds the evaluation input for one decision.
func (a *Assembler) Assemble(ctx context.Context, orgID, decisionID string) (Input, error) {
	d, err := a.source.GetDecision(ctx, orgID, decisionID)
	if err != nil {
		return Input{}, fmt.Errorf("assemble %s: decision: %w", decisionID, err)
	}

	assumptions, err := a.source.ListAssumptionsForDecision(ctx, orgID, decisionID)
	if err != nil {
		return Input{}, fmt.Errorf("assemble %s: assumptions: %w", decisionID, err)
	}
	sort.Slice(assumptions, func(i, j int) bool { return assumptions[i].ID < assumptions[j].ID })

	constraints, err := a.source.ListConstraintsForDecision(ctx, orgID, decisionID)
	if err != nil {
		return Input{}, fmt.Errorf("assemble %s: constraints: %w", decisionID, err)
	}
	sort.Slice(constraints, func(i, j int) bool { return constraints[i].ID < constraints[j].ID })

	deps, err := a.source.ListDependencies(ctx, orgID, decisionID)
	if err != nil {
		return Input{}, fmt.Errorf("assemble %s: dependencies: %w", decisionID, err)
	}
	sort.Slice(deps, func(i, j int) bool { return deps[i].ID < deps[j].ID })

	return Input{
		Decision:     d,
		Assumptions:  assumptions,
		Constraints:  constraints,
		Dependencies: deps,
		Now:          a.clock().UTC(),
	}, nil
}
