// Package propagation turns change events into needs-evaluation marks
// on the decisions whose evaluation inputs those changes touch.
//
// Fan-out stays one hop: a dirtied decision's own evaluation emits the
// next state change, which dirties its dependents in turn. Marking is
// idempotent and retired decisions are never dirtied.
package propagation

import (
	"context"
	"fmt"
	"sort"

	"github.com/decivue/core/pkg/contracts"
)

// Store is the slice of the persistence layer the coordinator reads
// link topology from and writes dirty flags through.
type Store interface {
	ListDecisions(ctx context.Context, orgID string) ([]contracts.Decision, error)
	ListDecisionIDsForAssumption(ctx context.Context, orgID, assumptionID string) ([]string, error)
	ListDecisionIDsForConstraint(ctx context.Context, orgID, constraintID string) ([]string, error)
	ListDependents(ctx context.Context, orgID, decisionID string) ([]string, error)
	MarkNeedsEvaluation(ctx context.Context, orgID string, decisionIDs []string) error
}

// Coordinator computes affected-decision sets per event and marks
// them. Run it against the transactional store handle of the command
// that caused the event, so the marks commit or roll back with it.
type Coordinator struct {
	store Store
}

func New(store Store) *Coordinator {
	return &Coordinator{store: store}
}

// AssumptionChanged handles a status or scope change. Both scopes are
// passed so a scope transition reaches the audiences of the old and
// the new scope; for a plain status change they are equal.
func (c *Coordinator) AssumptionChanged(ctx context.Context, orgID, assumptionID string, oldScope, newScope contracts.AssumptionScope) ([]string, error) {
	if oldScope == contracts.ScopeUniversal || newScope == contracts.ScopeUniversal {
		return c.markAllInOrg(ctx, orgID)
	}
	ids, err := c.store.ListDecisionIDsForAssumption(ctx, orgID, assumptionID)
	if err != nil {
		return nil, fmt.Errorf("resolve assumption links: %w", err)
	}
	return c.mark(ctx, orgID, ids)
}

// ConstraintChanged dirties every decision linked to the constraint.
func (c *Coordinator) ConstraintChanged(ctx context.Context, orgID, constraintID string) ([]string, error) {
	ids, err := c.store.ListDecisionIDsForConstraint(ctx, orgID, constraintID)
	if err != nil {
		return nil, fmt.Errorf("resolve constraint links: %w", err)
	}
	return c.mark(ctx, orgID, ids)
}

// DependencyChanged handles an edge being added or removed. Only the
// source's inputs changed; the target is untouched.
func (c *Coordinator) DependencyChanged(ctx context.Context, orgID, sourceID string) ([]string, error) {
	return c.mark(ctx, orgID, []string{sourceID})
}

// DecisionStateChanged compares the pre- and post-evaluation state of
// a decision and, when its lifecycle or health moved, dirties every
// decision that depends on it.
func (c *Coordinator) DecisionStateChanged(ctx context.Context, orgID, decisionID string, before, after contracts.DecisionSnapshot) ([]string, error) {
	if before.Lifecycle == after.Lifecycle && before.HealthSignal == after.HealthSignal {
		return nil, nil
	}
	ids, err := c.store.ListDependents(ctx, orgID, decisionID)
	if err != nil {
		return nil, fmt.Errorf("resolve dependents: %w", err)
	}
	return c.mark(ctx, orgID, ids)
}

// DecisionEdited dirties just the edited decision itself; its
// downstream is reached through the evaluation that follows.
func (c *Coordinator) DecisionEdited(ctx context.Context, orgID, decisionID string) ([]string, error) {
	return c.mark(ctx, orgID, []string{decisionID})
}

func (c *Coordinator) markAllInOrg(ctx context.Context, orgID string) ([]string, error) {
	decisions, err := c.store.ListDecisions(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	ids := make([]string, 0, len(decisions))
	for _, d := range decisions {
		ids = append(ids, d.ID)
	}
	return c.mark(ctx, orgID, ids)
}

func (c *Coordinator) mark(ctx context.Context, orgID string, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	seen := make(map[string]struct{}, len(ids))
	unique := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	sort.Strings(unique)
	if err := c.store.MarkNeedsEvaluation(ctx, orgID, unique); err != nil {
		return nil, fmt.Errorf("mark needs evaluation: %w", err)
	}
	return unique, nil
}
