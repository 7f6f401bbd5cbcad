package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/decivue/core/pkg/contracts"
)

// Memory is an in-memory Store. Transactions clone the whole state
// and swap it in on commit, so a failed WithinTx leaves no trace.
// Values are copied on write and never mutated in place, which makes
// the shallow clone safe.
type Memory struct {
	mu   sync.RWMutex
	st   *memState
	inTx bool
}

type memState struct {
	decisions       map[string]contracts.Decision
	assumptions     map[string]contracts.Assumption
	constraints     map[string]contracts.Constraint
	assumptionLinks map[string]contracts.AssumptionLink
	constraintLinks map[string]contracts.ConstraintLink
	edges           map[string]contracts.DependencyEdge

	versions        map[string][]contracts.DecisionVersion
	relationChanges map[string][]contracts.RelationChange
	evaluations     map[string][]contracts.EvaluationRecord
	reviews         map[string][]contracts.DecisionReview

	audit               map[string]contracts.GovernanceAuditEntry
	assumptionConflicts map[string]contracts.AssumptionConflict
	decisionConflicts   map[string]contracts.DecisionConflict
	notifications       map[string][]contracts.Notification
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{st: newMemState()}
}

func newMemState() *memState {
	return &memState{
		decisions:           make(map[string]contracts.Decision),
		assumptions:         make(map[string]contracts.Assumption),
		constraints:         make(map[string]contracts.Constraint),
		assumptionLinks:     make(map[string]contracts.AssumptionLink),
		constraintLinks:     make(map[string]contracts.ConstraintLink),
		edges:               make(map[string]contracts.DependencyEdge),
		versions:            make(map[string][]contracts.DecisionVersion),
		relationChanges:     make(map[string][]contracts.RelationChange),
		evaluations:         make(map[string][]contracts.EvaluationRecord),
		reviews:             make(map[string][]contracts.DecisionReview),
		audit:               make(map[string]contracts.GovernanceAuditEntry),
		assumptionConflicts: make(map[string]contracts.AssumptionConflict),
		decisionConflicts:   make(map[string]contracts.DecisionConflict),
		notifications:       make(map[string][]contracts.Notification),
	}
}

func (s *memState) clone() *memState {
	out := newMemState()
	for k, v := range s.decisions {
		out.decisions[k] = v
	}
	for k, v := range s.assumptions {
		out.assumptions[k] = v
	}
	for k, v := range s.constraints {
		out.constraints[k] = v
	}
	for k, v := range s.assumptionLinks {
		out.assumptionLinks[k] = v
	}
	for k, v := range s.constraintLinks {
		out.constraintLinks[k] = v
	}
	for k, v := range s.edges {
		out.edges[k] = v
	}
	for k, v := range s.versions {
		out.versions[k] = append([]contracts.DecisionVersion(nil), v...)
	}
	for k, v := range s.relationChanges {
		out.relationChanges[k] = append([]contracts.RelationChange(nil), v...)
	}
	for k, v := range s.evaluations {
		out.evaluations[k] = append([]contracts.EvaluationRecord(nil), v...)
	}
	for k, v := range s.reviews {
		out.reviews[k] = append([]contracts.DecisionReview(nil), v...)
	}
	for k, v := range s.audit {
		out.audit[k] = v
	}
	for k, v := range s.assumptionConflicts {
		out.assumptionConflicts[k] = v
	}
	for k, v := range s.decisionConflicts {
		out.decisionConflicts[k] = v
	}
	for k, v := range s.notifications {
		out.notifications[k] = append([]contracts.Notification(nil), v...)
	}
	return out
}

func memKey(parts ...string) string {
	return strings.Join(parts, "\x1f")
}

func (m *Memory) lock() func() {
	if m.inTx {
		return func() {}
	}
	m.mu.Lock()
	return m.mu.Unlock
}

func (m *Memory) rlock() func() {
	if m.inTx {
		return func() {}
	}
	m.mu.RLock()
	return m.mu.RUnlock
}

// WithinTx clones the state, runs fn against the clone, and swaps the
// clone in if fn succeeds. Nested calls join the enclosing transaction.
func (m *Memory) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	if m.inTx {
		return fn(m)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	work := &Memory{st: m.st.clone(), inTx: true}
	if err := fn(work); err != nil {
		return err
	}
	m.st = work.st
	return nil
}

// Close is a no-op for the in-memory store.
func (m *Memory) Close() error { return nil }

// --- decisions ---

func (m *Memory) CreateDecision(ctx context.Context, d contracts.Decision) error {
	defer m.lock()()
	k := memKey(d.OrganizationID, d.ID)
	if _, ok := m.st.decisions[k]; ok {
		return ErrConflict
	}
	m.st.decisions[k] = d
	return nil
}

func (m *Memory) GetDecision(ctx context.Context, orgID, decisionID string) (contracts.Decision, error) {
	defer m.rlock()()
	d, ok := m.st.decisions[memKey(orgID, decisionID)]
	if !ok {
		return contracts.Decision{}, ErrNotFound
	}
	return d, nil
}

func (m *Memory) UpdateDecision(ctx context.Context, d contracts.Decision) error {
	defer m.lock()()
	k := memKey(d.OrganizationID, d.ID)
	if _, ok := m.st.decisions[k]; !ok {
		return ErrNotFound
	}
	m.st.decisions[k] = d
	return nil
}

func (m *Memory) ListDecisions(ctx context.Context, orgID string) ([]contracts.Decision, error) {
	defer m.rlock()()
	var out []contracts.Decision
	for _, d := range m.st.decisions {
		if d.OrganizationID == orgID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) MarkNeedsEvaluation(ctx context.Context, orgID string, decisionIDs []string) error {
	defer m.lock()()
	for _, id := range decisionIDs {
		k := memKey(orgID, id)
		d, ok := m.st.decisions[k]
		if !ok || d.Lifecycle == contracts.LifecycleRetired {
			continue
		}
		d.NeedsEvaluation = true
		m.st.decisions[k] = d
	}
	return nil
}

func (m *Memory) ListEvaluationCandidates(ctx context.Context, f CandidateFilter) ([]contracts.Decision, error) {
	defer m.rlock()()
	var out []contracts.Decision
	for _, d := range m.st.decisions {
		if d.OrganizationID != f.OrganizationID || d.Lifecycle == contracts.LifecycleRetired {
			continue
		}
		if candidateMatches(d, f) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.ReviewUrgencyScore != b.ReviewUrgencyScore {
			return a.ReviewUrgencyScore > b.ReviewUrgencyScore
		}
		switch {
		case a.LastEvaluatedAt == nil && b.LastEvaluatedAt != nil:
			return true
		case a.LastEvaluatedAt != nil && b.LastEvaluatedAt == nil:
			return false
		case a.LastEvaluatedAt != nil && b.LastEvaluatedAt != nil &&
			!a.LastEvaluatedAt.Equal(*b.LastEvaluatedAt):
			return a.LastEvaluatedAt.Before(*b.LastEvaluatedAt)
		}
		return a.ID < b.ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func candidateMatches(d contracts.Decision, f CandidateFilter) bool {
	if d.NeedsEvaluation || d.LastEvaluatedAt == nil {
		return true
	}
	if f.Now.Sub(*d.LastEvaluatedAt) > f.Staleness {
		return true
	}
	if d.ExpiryDate != nil {
		gap := d.ExpiryDate.Sub(f.Now)
		if gap < 0 {
			gap = -gap
		}
		if gap <= ExpiryWindow && f.Now.Sub(*d.LastEvaluatedAt) > ExpiryRecheck {
			return true
		}
	}
	return false
}

// --- assumptions ---

func (m *Memory) CreateAssumption(ctx context.Context, a contracts.Assumption) error {
	defer m.lock()()
	k := memKey(a.OrganizationID, a.ID)
	if _, ok := m.st.assumptions[k]; ok {
		return ErrConflict
	}
	m.st.assumptions[k] = a
	return nil
}

func (m *Memory) GetAssumption(ctx context.Context, orgID, assumptionID string) (contracts.Assumption, error) {
	defer m.rlock()()
	a, ok := m.st.assumptions[memKey(orgID, assumptionID)]
	if !ok {
		return contracts.Assumption{}, ErrNotFound
	}
	return a, nil
}

func (m *Memory) UpdateAssumption(ctx context.Context, a contracts.Assumption) error {
	defer m.lock()()
	k := memKey(a.OrganizationID, a.ID)
	if _, ok := m.st.assumptions[k]; !ok {
		return ErrNotFound
	}
	m.st.assumptions[k] = a
	return nil
}

func (m *Memory) ListAssumptionsForDecision(ctx context.Context, orgID, decisionID string) ([]contracts.Assumption, error) {
	defer m.rlock()()
	var out []contracts.Assumption
	for _, a := range m.st.assumptions {
		if a.OrganizationID != orgID {
			continue
		}
		if a.Scope == contracts.ScopeUniversal {
			out = append(out, a)
			continue
		}
		if _, ok := m.st.assumptionLinks[memKey(orgID, decisionID, a.ID)]; ok {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) LinkAssumption(ctx context.Context, link contracts.AssumptionLink) error {
	defer m.lock()()
	if _, ok := m.st.decisions[memKey(link.OrganizationID, link.DecisionID)]; !ok {
		return ErrNotFound
	}
	if _, ok := m.st.assumptions[memKey(link.OrganizationID, link.AssumptionID)]; !ok {
		return ErrNotFound
	}
	k := memKey(link.OrganizationID, link.DecisionID, link.AssumptionID)
	if _, ok := m.st.assumptionLinks[k]; ok {
		return ErrConflict
	}
	m.st.assumptionLinks[k] = link
	return nil
}

func (m *Memory) UnlinkAssumption(ctx context.Context, orgID, decisionID, assumptionID string) error {
	defer m.lock()()
	k := memKey(orgID, decisionID, assumptionID)
	if _, ok := m.st.assumptionLinks[k]; !ok {
		return ErrNotFound
	}
	delete(m.st.assumptionLinks, k)
	return nil
}

func (m *Memory) ListDecisionIDsForAssumption(ctx context.Context, orgID, assumptionID string) ([]string, error) {
	defer m.rlock()()
	var out []string
	for _, l := range m.st.assumptionLinks {
		if l.OrganizationID == orgID && l.AssumptionID == assumptionID {
			out = append(out, l.DecisionID)
		}
	}
	sort.Strings(out)
	return out, nil
}

// --- constraints ---

func (m *Memory) CreateConstraint(ctx context.Context, c contracts.Constraint) error {
	defer m.lock()()
	k := memKey(c.OrganizationID, c.ID)
	if _, ok := m.st.constraints[k]; ok {
		return ErrConflict
	}
	m.st.constraints[k] = c
	return nil
}

func (m *Memory) GetConstraint(ctx context.Context, orgID, constraintID string) (contracts.Constraint, error) {
	defer m.rlock()()
	c, ok := m.st.constraints[memKey(orgID, constraintID)]
	if !ok {
		return contracts.Constraint{}, ErrNotFound
	}
	return c, nil
}

func (m *Memory) UpdateConstraint(ctx context.Context, c contracts.Constraint) error {
	defer m.lock()()
	k := memKey(c.OrganizationID, c.ID)
	if _, ok := m.st.constraints[k]; !ok {
		return ErrNotFound
	}
	m.st.constraints[k] = c
	return nil
}

func (m *Memory) ListConstraintsForDecision(ctx context.Context, orgID, decisionID string) ([]contracts.Constraint, error) {
	defer m.rlock()()
	var out []contracts.Constraint
	for _, l := range m.st.constraintLinks {
		if l.OrganizationID != orgID || l.DecisionID != decisionID {
			continue
		}
		if c, ok := m.st.constraints[memKey(orgID, l.ConstraintID)]; ok {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) LinkConstraint(ctx context.Context, link contracts.ConstraintLink) error {
	defer m.lock()()
	if _, ok := m.st.decisions[memKey(link.OrganizationID, link.DecisionID)]; !ok {
		return ErrNotFound
	}
	if _, ok := m.st.constraints[memKey(link.OrganizationID, link.ConstraintID)]; !ok {
		return ErrNotFound
	}
	k := memKey(link.OrganizationID, link.DecisionID, link.ConstraintID)
	if _, ok := m.st.constraintLinks[k]; ok {
		return ErrConflict
	}
	m.st.constraintLinks[k] = link
	return nil
}

func (m *Memory) UnlinkConstraint(ctx context.Context, orgID, decisionID, constraintID string) error {
	defer m.lock()()
	k := memKey(orgID, decisionID, constraintID)
	if _, ok := m.st.constraintLinks[k]; !ok {
		return ErrNotFound
	}
	delete(m.st.constraintLinks, k)
	return nil
}

func (m *Memory) ListDecisionIDsForConstraint(ctx context.Context, orgID, constraintID string) ([]string, error) {
	defer m.rlock()()
	var out []string
	for _, l := range m.st.constraintLinks {
		if l.OrganizationID == orgID && l.ConstraintID == constraintID {
			out = append(out, l.DecisionID)
		}
	}
	sort.Strings(out)
	return out, nil
}

// --- dependencies ---

func (m *Memory) CreateDependency(ctx context.Context, e contracts.DependencyEdge) error {
	defer m.lock()()
	if _, ok := m.st.decisions[memKey(e.OrganizationID, e.SourceID)]; !ok {
		return ErrNotFound
	}
	if _, ok := m.st.decisions[memKey(e.OrganizationID, e.TargetID)]; !ok {
		return ErrNotFound
	}
	k := memKey(e.OrganizationID, e.SourceID, e.TargetID)
	if _, ok := m.st.edges[k]; ok {
		return ErrConflict
	}
	m.st.edges[k] = e
	return nil
}

func (m *Memory) DeleteDependency(ctx context.Context, orgID, sourceID, targetID string) error {
	defer m.lock()()
	k := memKey(orgID, sourceID, targetID)
	if _, ok := m.st.edges[k]; !ok {
		return ErrNotFound
	}
	delete(m.st.edges, k)
	return nil
}

func (m *Memory) ListDependencies(ctx context.Context, orgID, decisionID string) ([]contracts.DecisionSnapshot, error) {
	defer m.rlock()()
	var out []contracts.DecisionSnapshot
	for _, e := range m.st.edges {
		if e.OrganizationID != orgID || e.SourceID != decisionID {
			continue
		}
		if d, ok := m.st.decisions[memKey(orgID, e.TargetID)]; ok {
			out = append(out, d.Snapshot())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) ListDependents(ctx context.Context, orgID, targetID string) ([]string, error) {
	defer m.rlock()()
	var out []string
	for _, e := range m.st.edges {
		if e.OrganizationID == orgID && e.TargetID == targetID {
			out = append(out, e.SourceID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) ListEdges(ctx context.Context, orgID string) ([]contracts.DependencyEdge, error) {
	defer m.rlock()()
	var out []contracts.DependencyEdge
	for _, e := range m.st.edges {
		if e.OrganizationID == orgID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SourceID != out[j].SourceID {
			return out[i].SourceID < out[j].SourceID
		}
		return out[i].TargetID < out[j].TargetID
	})
	return out, nil
}

// --- history ---

func (m *Memory) AppendVersion(ctx context.Context, v contracts.DecisionVersion) (int, error) {
	defer m.lock()()
	k := memKey(v.OrganizationID, v.DecisionID)
	v.VersionNumber = len(m.st.versions[k]) + 1
	m.st.versions[k] = append(m.st.versions[k], v)
	return v.VersionNumber, nil
}

func (m *Memory) ListVersions(ctx context.Context, orgID, decisionID string) ([]contracts.DecisionVersion, error) {
	defer m.rlock()()
	vs := m.st.versions[memKey(orgID, decisionID)]
	return append([]contracts.DecisionVersion(nil), vs...), nil
}

func (m *Memory) AppendRelationChange(ctx context.Context, rc contracts.RelationChange) error {
	defer m.lock()()
	k := memKey(rc.OrganizationID, rc.DecisionID)
	m.st.relationChanges[k] = append(m.st.relationChanges[k], rc)
	return nil
}

func (m *Memory) ListRelationChanges(ctx context.Context, orgID, decisionID string) ([]contracts.RelationChange, error) {
	defer m.rlock()()
	rcs := append([]contracts.RelationChange(nil), m.st.relationChanges[memKey(orgID, decisionID)]...)
	sort.SliceStable(rcs, func(i, j int) bool { return rcs[i].ChangedAt.After(rcs[j].ChangedAt) })
	return rcs, nil
}

func (m *Memory) AppendEvaluation(ctx context.Context, e contracts.EvaluationRecord) error {
	defer m.lock()()
	k := memKey(e.OrganizationID, e.DecisionID)
	m.st.evaluations[k] = append(m.st.evaluations[k], e)
	return nil
}

func (m *Memory) ListEvaluations(ctx context.Context, orgID, decisionID string, limit int) ([]contracts.EvaluationRecord, error) {
	defer m.rlock()()
	es := append([]contracts.EvaluationRecord(nil), m.st.evaluations[memKey(orgID, decisionID)]...)
	sort.SliceStable(es, func(i, j int) bool { return es[i].EvaluatedAt.After(es[j].EvaluatedAt) })
	if limit > 0 && len(es) > limit {
		es = es[:limit]
	}
	return es, nil
}

func (m *Memory) AppendReview(ctx context.Context, r contracts.DecisionReview) error {
	defer m.lock()()
	k := memKey(r.OrganizationID, r.DecisionID)
	m.st.reviews[k] = append(m.st.reviews[k], r)
	return nil
}

func (m *Memory) ListReviews(ctx context.Context, orgID, decisionID string) ([]contracts.DecisionReview, error) {
	defer m.rlock()()
	rs := append([]contracts.DecisionReview(nil), m.st.reviews[memKey(orgID, decisionID)]...)
	sort.SliceStable(rs, func(i, j int) bool { return rs[i].ReviewedAt.After(rs[j].ReviewedAt) })
	return rs, nil
}

// --- governance audit ---

func (m *Memory) AppendAuditEntry(ctx context.Context, e contracts.GovernanceAuditEntry) error {
	defer m.lock()()
	k := memKey(e.OrganizationID, e.ID)
	if _, ok := m.st.audit[k]; ok {
		return ErrConflict
	}
	m.st.audit[k] = e
	return nil
}

func (m *Memory) GetAuditEntry(ctx context.Context, orgID, entryID string) (contracts.GovernanceAuditEntry, error) {
	defer m.rlock()()
	e, ok := m.st.audit[memKey(orgID, entryID)]
	if !ok {
		return contracts.GovernanceAuditEntry{}, ErrNotFound
	}
	return e, nil
}

func (m *Memory) UpdateAuditEntry(ctx context.Context, e contracts.GovernanceAuditEntry) error {
	defer m.lock()()
	k := memKey(e.OrganizationID, e.ID)
	if _, ok := m.st.audit[k]; !ok {
		return ErrNotFound
	}
	m.st.audit[k] = e
	return nil
}

func (m *Memory) ListAuditEntries(ctx context.Context, orgID, decisionID string) ([]contracts.GovernanceAuditEntry, error) {
	defer m.rlock()()
	var out []contracts.GovernanceAuditEntry
	for _, e := range m.st.audit {
		if e.OrganizationID == orgID && e.DecisionID == decisionID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) ListOpenEditRequests(ctx context.Context, orgID, decisionID string) ([]contracts.GovernanceAuditEntry, error) {
	defer m.rlock()()
	var out []contracts.GovernanceAuditEntry
	for _, e := range m.st.audit {
		if e.OrganizationID == orgID && e.DecisionID == decisionID &&
			e.Action == contracts.ActionEditRequested && !e.Resolved() {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// --- conflicts ---

func (m *Memory) RecordAssumptionConflict(ctx context.Context, c contracts.AssumptionConflict) error {
	defer m.lock()()
	k := memKey(c.OrganizationID, c.ID)
	if _, ok := m.st.assumptionConflicts[k]; ok {
		return ErrConflict
	}
	m.st.assumptionConflicts[k] = c
	return nil
}

func (m *Memory) RecordDecisionConflict(ctx context.Context, c contracts.DecisionConflict) error {
	defer m.lock()()
	k := memKey(c.OrganizationID, c.ID)
	if _, ok := m.st.decisionConflicts[k]; ok {
		return ErrConflict
	}
	m.st.decisionConflicts[k] = c
	return nil
}

func (m *Memory) ResolveAssumptionConflict(ctx context.Context, orgID, conflictID string, resolvedAt time.Time) error {
	defer m.lock()()
	k := memKey(orgID, conflictID)
	c, ok := m.st.assumptionConflicts[k]
	if !ok {
		return ErrNotFound
	}
	c.Resolved = true
	c.ResolvedAt = &resolvedAt
	m.st.assumptionConflicts[k] = c
	return nil
}

func (m *Memory) ResolveDecisionConflict(ctx context.Context, orgID, conflictID string, resolvedAt time.Time) error {
	defer m.lock()()
	k := memKey(orgID, conflictID)
	c, ok := m.st.decisionConflicts[k]
	if !ok {
		return ErrNotFound
	}
	c.Resolved = true
	c.ResolvedAt = &resolvedAt
	m.st.decisionConflicts[k] = c
	return nil
}

func (m *Memory) CountOpenConflicts(ctx context.Context, orgID, decisionID string) (ConflictCounts, error) {
	defer m.rlock()()
	var counts ConflictCounts
	for _, c := range m.st.decisionConflicts {
		if c.OrganizationID != orgID || c.Resolved {
			continue
		}
		if c.DecisionID == decisionID || c.OtherID == decisionID {
			counts.Decision++
		}
	}

	linked := make(map[string]bool)
	for _, l := range m.st.assumptionLinks {
		if l.OrganizationID == orgID && l.DecisionID == decisionID {
			linked[l.AssumptionID] = true
		}
	}
	for _, c := range m.st.assumptionConflicts {
		if c.OrganizationID != orgID || c.Resolved {
			continue
		}
		if c.DecisionID == decisionID || linked[c.AssumptionID] {
			counts.Assumption++
		}
	}
	return counts, nil
}

// --- notifications ---

func (m *Memory) AppendNotification(ctx context.Context, n contracts.Notification) error {
	defer m.lock()()
	m.st.notifications[n.OrganizationID] = append(m.st.notifications[n.OrganizationID], n)
	return nil
}

func (m *Memory) ListNotifications(ctx context.Context, orgID string, limit int) ([]contracts.Notification, error) {
	defer m.rlock()()
	ns := append([]contracts.Notification(nil), m.st.notifications[orgID]...)
	sort.SliceStable(ns, func(i, j int) bool { return ns[i].CreatedAt.After(ns[j].CreatedAt) })
	if limit > 0 && len(ns) > limit {
		ns = ns[:limit]
	}
	return ns, nil
}

var _ Store = (*Memory)(nil)
