package service

import (
	"context"
	"fmt"

	"github.com/decivue/core/pkg/contracts"
	"github.com/decivue/core/pkg/history"
	"github.com/decivue/core/pkg/store"
)

// GetDecision returns the decision joined with its relation and
// history counts.
func (s *Service) GetDecision(ctx context.Context, actor contracts.Actor, decisionID string) (contracts.DecisionDetail, error) {
	orgID := actor.OrganizationID
	d, err := s.store.GetDecision(ctx, orgID, decisionID)
	if err != nil {
		return contracts.DecisionDetail{}, fmt.Errorf("get decision: %w", err)
	}

	assumptions, err := s.store.ListAssumptionsForDecision(ctx, orgID, decisionID)
	if err != nil {
		return contracts.DecisionDetail{}, fmt.Errorf("list assumptions: %w", err)
	}
	constraints, err := s.store.ListConstraintsForDecision(ctx, orgID, decisionID)
	if err != nil {
		return contracts.DecisionDetail{}, fmt.Errorf("list constraints: %w", err)
	}
	dependencies, err := s.store.ListDependencies(ctx, orgID, decisionID)
	if err != nil {
		return contracts.DecisionDetail{}, fmt.Errorf("list dependencies: %w", err)
	}
	dependents, err := s.store.ListDependents(ctx, orgID, decisionID)
	if err != nil {
		return contracts.DecisionDetail{}, fmt.Errorf("list dependents: %w", err)
	}
	versions, err := s.store.ListVersions(ctx, orgID, decisionID)
	if err != nil {
		return contracts.DecisionDetail{}, fmt.Errorf("list versions: %w", err)
	}
	counts, err := s.store.CountOpenConflicts(ctx, orgID, decisionID)
	if err != nil {
		return contracts.DecisionDetail{}, fmt.Errorf("count open conflicts: %w", err)
	}

	return contracts.DecisionDetail{
		Decision:            d,
		AssumptionCount:     len(assumptions),
		ConstraintCount:     len(constraints),
		DependencyCount:     len(dependencies),
		DependentCount:      len(dependents),
		VersionCount:        len(versions),
		UnresolvedConflicts: counts.Total(),
	}, nil
}

// ListDecisions returns every decision in the actor's organization.
func (s *Service) ListDecisions(ctx context.Context, actor contracts.Actor) ([]contracts.Decision, error) {
	return s.store.ListDecisions(ctx, actor.OrganizationID)
}

// GetVersionHistory returns the decision's versions in ascending
// version order. The decision must exist; a decision with no history
// is indistinguishable from a missing one otherwise.
func (s *Service) GetVersionHistory(ctx context.Context, actor contracts.Actor, decisionID string) ([]contracts.DecisionVersion, error) {
	orgID := actor.OrganizationID
	if _, err := s.store.GetDecision(ctx, orgID, decisionID); err != nil {
		return nil, fmt.Errorf("get decision: %w", err)
	}
	return s.store.ListVersions(ctx, orgID, decisionID)
}

// GetRelationHistory returns the decision's link and unlink records,
// newest first.
func (s *Service) GetRelationHistory(ctx context.Context, actor contracts.Actor, decisionID string) ([]contracts.RelationChange, error) {
	orgID := actor.OrganizationID
	if _, err := s.store.GetDecision(ctx, orgID, decisionID); err != nil {
		return nil, fmt.Errorf("get decision: %w", err)
	}
	return s.store.ListRelationChanges(ctx, orgID, decisionID)
}

// GetHealthHistory returns the decision's evaluation records, newest
// first. limit zero means no cap.
func (s *Service) GetHealthHistory(ctx context.Context, actor contracts.Actor, decisionID string, limit int) ([]contracts.EvaluationRecord, error) {
	orgID := actor.OrganizationID
	if _, err := s.store.GetDecision(ctx, orgID, decisionID); err != nil {
		return nil, fmt.Errorf("get decision: %w", err)
	}
	return s.store.ListEvaluations(ctx, orgID, decisionID, limit)
}

// GetChangeTimeline merges versions, relation changes, evaluations
// and reviews into one stream, newest first.
func (s *Service) GetChangeTimeline(ctx context.Context, actor contracts.Actor, decisionID string, limit int) ([]history.Entry, error) {
	orgID := actor.OrganizationID
	if _, err := s.store.GetDecision(ctx, orgID, decisionID); err != nil {
		return nil, fmt.Errorf("get decision: %w", err)
	}
	return history.Timeline(ctx, s.store, orgID, decisionID, limit)
}

// GetGovernanceAudit returns the decision's governance audit log,
// newest first.
func (s *Service) GetGovernanceAudit(ctx context.Context, actor contracts.Actor, decisionID string) ([]contracts.GovernanceAuditEntry, error) {
	orgID := actor.OrganizationID
	if _, err := s.store.GetDecision(ctx, orgID, decisionID); err != nil {
		return nil, fmt.Errorf("get decision: %w", err)
	}
	return s.store.ListAuditEntries(ctx, orgID, decisionID)
}

// GetDecisionsNeedingEvaluation returns the decisions the next tick
// would pick up, in tick order.
func (s *Service) GetDecisionsNeedingEvaluation(ctx context.Context, actor contracts.Actor, limit int) ([]contracts.Decision, error) {
	return s.store.ListEvaluationCandidates(ctx, store.CandidateFilter{
		OrganizationID: actor.OrganizationID,
		Now:            s.clock().UTC(),
		Staleness:      s.staleness,
		Limit:          limit,
	})
}

// ListNotifications returns the organization's notification feed,
// newest first. limit zero means no cap.
func (s *Service) ListNotifications(ctx context.Context, actor contracts.Actor, limit int) ([]contracts.Notification, error) {
	return s.store.ListNotifications(ctx, actor.OrganizationID, limit)
}
