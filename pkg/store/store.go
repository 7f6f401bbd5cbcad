// Package store persists the decision monitor's state. Three
// implementations share one interface: an in-memory store for tests,
// a SQLite store for single-node deployments, and a Postgres store
// for shared ones.
//
// All queries are tenant-scoped by organization; a row that exists
// under another organization reads as ErrNotFound. Multi-row writes
// that must land together go through WithinTx.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/decivue/core/pkg/contracts"
)

var (
	// ErrNotFound covers missing rows and cross-organization reads.
	ErrNotFound = errors.New("not found")
	// ErrConflict covers duplicate inserts and stale updates.
	ErrConflict = errors.New("conflict")
)

// Candidate selection windows for expiry-driven re-evaluation:
// decisions whose expiry lies within ExpiryWindow of now are selected
// unless they were already evaluated inside ExpiryRecheck.
const (
	ExpiryWindow  = 30 * 24 * time.Hour
	ExpiryRecheck = 24 * time.Hour
)

// CandidateFilter narrows the evaluation candidate query.
type CandidateFilter struct {
	OrganizationID string
	// Now anchors staleness and expiry windows.
	Now time.Time
	// Staleness is how old lastEvaluatedAt may get before the
	// decision is selected regardless of its dirty flag.
	Staleness time.Duration
	// Limit caps the batch; zero means no cap.
	Limit int
}

// ConflictCounts are the unresolved conflict totals for one decision.
type ConflictCounts struct {
	// Decision counts conflicts where the decision is either side.
	Decision int
	// Assumption counts conflicts on assumptions linked to the
	// decision, plus those naming the decision directly.
	Assumption int
}

// Total is the combined count used for tier escalation.
func (c ConflictCounts) Total() int {
	return c.Decision + c.Assumption
}

// DecisionStore reads and writes decision rows.
type DecisionStore interface {
	CreateDecision(ctx context.Context, d contracts.Decision) error
	GetDecision(ctx context.Context, orgID, decisionID string) (contracts.Decision, error)
	// UpdateDecision replaces the full row.
	UpdateDecision(ctx context.Context, d contracts.Decision) error
	ListDecisions(ctx context.Context, orgID string) ([]contracts.Decision, error)

	// MarkNeedsEvaluation sets the dirty flag on the given decisions.
	// Idempotent; retired decisions and unknown ids are skipped.
	MarkNeedsEvaluation(ctx context.Context, orgID string, decisionIDs []string) error

	// ListEvaluationCandidates returns non-retired decisions that are
	// dirty, never evaluated, stale, or near expiry, ordered by
	// urgency descending, then lastEvaluatedAt ascending with nulls
	// first, then id.
	ListEvaluationCandidates(ctx context.Context, f CandidateFilter) ([]contracts.Decision, error)
}

// AssumptionStore reads and writes assumptions and their links.
type AssumptionStore interface {
	CreateAssumption(ctx context.Context, a contracts.Assumption) error
	GetAssumption(ctx context.Context, orgID, assumptionID string) (contracts.Assumption, error)
	UpdateAssumption(ctx context.Context, a contracts.Assumption) error

	// ListAssumptionsForDecision resolves the decision's effective
	// assumption set: every universal assumption in the organization
	// plus the decision-specific ones linked to it.
	ListAssumptionsForDecision(ctx context.Context, orgID, decisionID string) ([]contracts.Assumption, error)

	// LinkAssumption inserts a link row; a duplicate link returns
	// ErrConflict.
	LinkAssumption(ctx context.Context, link contracts.AssumptionLink) error
	UnlinkAssumption(ctx context.Context, orgID, decisionID, assumptionID string) error

	// ListDecisionIDsForAssumption returns the ids of decisions linked
	// to the assumption, sorted.
	ListDecisionIDsForAssumption(ctx context.Context, orgID, assumptionID string) ([]string, error)
}

// ConstraintStore reads and writes constraints and their links.
type ConstraintStore interface {
	CreateConstraint(ctx context.Context, c contracts.Constraint) error
	GetConstraint(ctx context.Context, orgID, constraintID string) (contracts.Constraint, error)
	UpdateConstraint(ctx context.Context, c contracts.Constraint) error

	ListConstraintsForDecision(ctx context.Context, orgID, decisionID string) ([]contracts.Constraint, error)

	LinkConstraint(ctx context.Context, link contracts.ConstraintLink) error
	UnlinkConstraint(ctx context.Context, orgID, decisionID, constraintID string) error

	ListDecisionIDsForConstraint(ctx context.Context, orgID, constraintID string) ([]string, error)
}

// DependencyStore reads and writes dependency edges.
type DependencyStore interface {
	// CreateDependency inserts an edge; a duplicate returns
	// ErrConflict. Acyclicity is the caller's job.
	CreateDependency(ctx context.Context, e contracts.DependencyEdge) error
	DeleteDependency(ctx context.Context, orgID, sourceID, targetID string) error

	// ListDependencies returns snapshots of the decisions the given
	// decision depends on, sorted by id.
	ListDependencies(ctx context.Context, orgID, decisionID string) ([]contracts.DecisionSnapshot, error)

	// ListDependents returns ids of decisions that depend on the
	// target, sorted.
	ListDependents(ctx context.Context, orgID, targetID string) ([]string, error)

	ListEdges(ctx context.Context, orgID string) ([]contracts.DependencyEdge, error)
}

// HistoryStore appends and reads the append-only history streams.
type HistoryStore interface {
	// AppendVersion assigns the next dense version number for the
	// decision inside the write and returns it. The VersionNumber on
	// the input is ignored.
	AppendVersion(ctx context.Context, v contracts.DecisionVersion) (int, error)
	// ListVersions returns versions in ascending version order.
	ListVersions(ctx context.Context, orgID, decisionID string) ([]contracts.DecisionVersion, error)

	AppendRelationChange(ctx context.Context, rc contracts.RelationChange) error
	// ListRelationChanges returns changes newest first.
	ListRelationChanges(ctx context.Context, orgID, decisionID string) ([]contracts.RelationChange, error)

	AppendEvaluation(ctx context.Context, e contracts.EvaluationRecord) error
	// ListEvaluations returns records newest first; limit zero means
	// no cap.
	ListEvaluations(ctx context.Context, orgID, decisionID string, limit int) ([]contracts.EvaluationRecord, error)

	AppendReview(ctx context.Context, r contracts.DecisionReview) error
	// ListReviews returns reviews newest first.
	ListReviews(ctx context.Context, orgID, decisionID string) ([]contracts.DecisionReview, error)
}

// GovernanceStore reads and writes the governance audit log.
type GovernanceStore interface {
	AppendAuditEntry(ctx context.Context, e contracts.GovernanceAuditEntry) error
	GetAuditEntry(ctx context.Context, orgID, entryID string) (contracts.GovernanceAuditEntry, error)
	// UpdateAuditEntry replaces the full entry, typically to resolve it.
	UpdateAuditEntry(ctx context.Context, e contracts.GovernanceAuditEntry) error
	// ListAuditEntries returns entries newest first.
	ListAuditEntries(ctx context.Context, orgID, decisionID string) ([]contracts.GovernanceAuditEntry, error)
	// ListOpenEditRequests returns unresolved EDIT_REQUESTED entries,
	// oldest first.
	ListOpenEditRequests(ctx context.Context, orgID, decisionID string) ([]contracts.GovernanceAuditEntry, error)
}

// ConflictStore records externally detected conflicts and serves the
// unresolved counts consumed by urgency and tier escalation.
type ConflictStore interface {
	RecordAssumptionConflict(ctx context.Context, c contracts.AssumptionConflict) error
	RecordDecisionConflict(ctx context.Context, c contracts.DecisionConflict) error
	ResolveAssumptionConflict(ctx context.Context, orgID, conflictID string, resolvedAt time.Time) error
	ResolveDecisionConflict(ctx context.Context, orgID, conflictID string, resolvedAt time.Time) error
	CountOpenConflicts(ctx context.Context, orgID, decisionID string) (ConflictCounts, error)
}

// NotificationStore persists notification requests for the external
// notifier to drain.
type NotificationStore interface {
	AppendNotification(ctx context.Context, n contracts.Notification) error
	// ListNotifications returns notifications newest first; limit zero
	// means no cap.
	ListNotifications(ctx context.Context, orgID string, limit int) ([]contracts.Notification, error)
}

// Store is the full persistence surface.
type Store interface {
	DecisionStore
	AssumptionStore
	ConstraintStore
	DependencyStore
	HistoryStore
	GovernanceStore
	ConflictStore
	NotificationStore

	// WithinTx runs fn against a transactional view of the store.
	// If fn returns an error, nothing fn wrote is visible afterwards.
	// Implementations serialize transactions touching the same
	// decision.
	WithinTx(ctx context.Context, fn func(tx Store) error) error

	Close() error
}
