package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/decivue/core/pkg/contracts"
	"github.com/decivue/core/pkg/governance"
	"github.com/decivue/core/pkg/graph"
	"github.com/decivue/core/pkg/history"
	"github.com/decivue/core/pkg/propagation"
	"github.com/decivue/core/pkg/scheduler"
	"github.com/decivue/core/pkg/store"
	"github.com/decivue/core/pkg/urgency"
)

// CreateDecisionInput carries the initial editable surface plus the
// governance posture of a new decision.
type CreateDecisionInput struct {
	Title       string
	Description string
	Category    string
	Parameters  map[string]any
	ExpiryDate  *time.Time

	GovernanceMode            bool
	RequiresSecondReviewer    bool
	EditJustificationRequired bool
}

// CreateDecision inserts a decision, writes version 1, and leaves the
// dirty flag set so the first evaluation happens on the next tick.
func (s *Service) CreateDecision(ctx context.Context, actor contracts.Actor, in CreateDecisionInput) (contracts.Decision, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return contracts.Decision{}, invalidf("title must not be empty")
	}

	now := s.clock().UTC()
	d := contracts.Decision{
		ID:             uuid.New().String(),
		OrganizationID: actor.OrganizationID,
		CreatedBy:      actor.UserID,

		Title:       title,
		Description: in.Description,
		Category:    in.Category,
		Parameters:  in.Parameters,

		Lifecycle:    contracts.LifecycleStable,
		HealthSignal: 100,

		CreatedAt:       now,
		NeedsEvaluation: true,
		ExpiryDate:      in.ExpiryDate,

		GovernanceMode:            in.GovernanceMode,
		GovernanceTier:            contracts.TierStandard,
		RequiresSecondReviewer:    in.RequiresSecondReviewer,
		EditJustificationRequired: in.EditJustificationRequired,
	}
	s.refreshUrgency(&d, store.ConflictCounts{}, now)

	err := s.store.WithinTx(ctx, func(tx store.Store) error {
		if err := tx.CreateDecision(ctx, d); err != nil {
			return fmt.Errorf("create decision: %w", err)
		}
		_, err := s.recorder.RecordVersion(ctx, tx, d, history.Change{
			Type:    contracts.ChangeCreated,
			Summary: "decision created",
			Actor:   actor.UserID,
		})
		return err
	})
	if err != nil {
		return contracts.Decision{}, err
	}

	s.logger.InfoContext(ctx, "decision created",
		"decision_id", d.ID, "organization_id", d.OrganizationID)
	return d, nil
}

// UpdateDecisionInput names the fields to change; nil pointers leave
// a field alone. ClearExpiry removes the expiry date.
type UpdateDecisionInput struct {
	DecisionID  string
	Title       *string
	Description *string
	Category    *string
	Parameters  map[string]any
	ExpiryDate  *time.Time
	ClearExpiry bool

	Justification string
}

// UpdateOutcome is the governance-aware answer to an update. A
// blocked edit is an answer, not an error: the code says what the
// caller must do next.
type UpdateOutcome struct {
	Code             Code               `json:"code"`
	Decision         contracts.Decision `json:"decision,omitempty"`
	Reason           string             `json:"reason,omitempty"`
	PendingRequestID string             `json:"pending_request_id,omitempty"`
}

// UpdateDecision runs the edit gate and, when allowed, applies the
// changes with a FIELD_UPDATED version in one transaction. A member
// hitting the approval gate gets an edit request filed on their
// behalf; resolving it applies the changes.
func (s *Service) UpdateDecision(ctx context.Context, actor contracts.Actor, in UpdateDecisionInput) (UpdateOutcome, error) {
	d, err := s.store.GetDecision(ctx, actor.OrganizationID, in.DecisionID)
	if err != nil {
		return UpdateOutcome{}, fmt.Errorf("get decision: %w", err)
	}
	if d.Lifecycle == contracts.LifecycleRetired {
		return UpdateOutcome{}, fmt.Errorf("%w: retired decisions cannot be edited", ErrTerminalState)
	}

	gate, err := s.governance.CanEdit(ctx, d, actor, in.Justification)
	if err != nil {
		return UpdateOutcome{}, err
	}
	switch gate.Verdict {
	case governance.EditLocked:
		return UpdateOutcome{Code: CodeLocked, Reason: gate.Reason}, nil
	case governance.EditRequiresJustification:
		return UpdateOutcome{Code: CodeRequiresJustification, Reason: gate.Reason}, nil
	case governance.EditRequiresApproval:
		if gate.PendingRequestID != "" {
			return UpdateOutcome{
				Code:             CodeRequiresApproval,
				Reason:           gate.Reason,
				PendingRequestID: gate.PendingRequestID,
			}, nil
		}
		entry, err := s.fileEditRequest(ctx, actor, d, in)
		if err != nil {
			return UpdateOutcome{}, err
		}
		return UpdateOutcome{
			Code:             CodeRequiresApproval,
			Reason:           gate.Reason,
			PendingRequestID: entry.ID,
		}, nil
	}

	fields := map[string]contracts.FieldChange{}
	if in.Title != nil {
		title := strings.TrimSpace(*in.Title)
		if title == "" {
			return UpdateOutcome{}, invalidf("title must not be empty")
		}
		if title != d.Title {
			fields["title"] = contracts.FieldChange{Old: d.Title, New: title}
			d.Title = title
		}
	}
	if in.Description != nil && *in.Description != d.Description {
		fields["description"] = contracts.FieldChange{Old: d.Description, New: *in.Description}
		d.Description = *in.Description
	}
	if in.Category != nil && *in.Category != d.Category {
		fields["category"] = contracts.FieldChange{Old: d.Category, New: *in.Category}
		d.Category = *in.Category
	}
	if in.Parameters != nil {
		fields["parameters"] = contracts.FieldChange{Old: d.Parameters, New: in.Parameters}
		d.Parameters = in.Parameters
	}
	switch {
	case in.ClearExpiry:
		if d.ExpiryDate != nil {
			fields["expiry_date"] = contracts.FieldChange{Old: *d.ExpiryDate, New: nil}
			d.ExpiryDate = nil
		}
	case in.ExpiryDate != nil:
		fields["expiry_date"] = contracts.FieldChange{Old: d.ExpiryDate, New: *in.ExpiryDate}
		d.ExpiryDate = in.ExpiryDate
	}

	if len(fields) == 0 {
		return UpdateOutcome{Code: CodeOK, Decision: d}, nil
	}

	err = s.store.WithinTx(ctx, func(tx store.Store) error {
		if err := tx.UpdateDecision(ctx, d); err != nil {
			return fmt.Errorf("update decision: %w", err)
		}
		if _, err := s.recorder.RecordVersion(ctx, tx, d, history.Change{
			Type:    contracts.ChangeFieldUpdated,
			Summary: fmt.Sprintf("%d fields updated", len(fields)),
			Fields:  fields,
			Actor:   actor.UserID,
		}); err != nil {
			return err
		}
		_, err := propagation.New(tx).DecisionEdited(ctx, d.OrganizationID, d.ID)
		return err
	})
	if err != nil {
		return UpdateOutcome{}, err
	}

	d.NeedsEvaluation = true
	return UpdateOutcome{Code: CodeOK, Decision: d}, nil
}

// fileEditRequest turns a blocked member edit into a pending edit
// request. An open request from the same requester is reused so
// retried updates do not pile up duplicates.
func (s *Service) fileEditRequest(ctx context.Context, actor contracts.Actor, d contracts.Decision, in UpdateDecisionInput) (contracts.GovernanceAuditEntry, error) {
	open, err := s.store.ListOpenEditRequests(ctx, d.OrganizationID, d.ID)
	if err != nil {
		return contracts.GovernanceAuditEntry{}, fmt.Errorf("list open edit requests: %w", err)
	}
	for _, e := range open {
		if e.Requester == actor.UserID {
			return e, nil
		}
	}
	changes := contracts.ProposedChanges{
		Title:       in.Title,
		Description: in.Description,
		Category:    in.Category,
	}
	return s.governance.RequestEdit(ctx, d.OrganizationID, d.ID, actor, in.Justification, changes)
}

// LinkAssumption binds a decision-specific assumption to a decision
// and records the relation change.
func (s *Service) LinkAssumption(ctx context.Context, actor contracts.Actor, decisionID, assumptionID, reason string) error {
	orgID := actor.OrganizationID
	if _, err := s.store.GetDecision(ctx, orgID, decisionID); err != nil {
		return fmt.Errorf("get decision: %w", err)
	}
	a, err := s.store.GetAssumption(ctx, orgID, assumptionID)
	if err != nil {
		return fmt.Errorf("get assumption: %w", err)
	}
	if a.Scope == contracts.ScopeUniversal {
		return fmt.Errorf("%w: %s is universal", ErrUniversalAssumption, assumptionID)
	}

	now := s.clock().UTC()
	return s.store.WithinTx(ctx, func(tx store.Store) error {
		if err := tx.LinkAssumption(ctx, contracts.AssumptionLink{
			OrganizationID: orgID,
			DecisionID:     decisionID,
			AssumptionID:   assumptionID,
			CreatedAt:      now,
		}); err != nil {
			return fmt.Errorf("link assumption: %w", err)
		}
		return s.recordRelationAndMark(ctx, tx, actor, decisionID,
			contracts.RelationAssumption, assumptionID, contracts.RelationLinked, reason)
	})
}

// UnlinkAssumption drops the link and records the relation change.
func (s *Service) UnlinkAssumption(ctx context.Context, actor contracts.Actor, decisionID, assumptionID, reason string) error {
	orgID := actor.OrganizationID
	return s.store.WithinTx(ctx, func(tx store.Store) error {
		if err := tx.UnlinkAssumption(ctx, orgID, decisionID, assumptionID); err != nil {
			return fmt.Errorf("unlink assumption: %w", err)
		}
		return s.recordRelationAndMark(ctx, tx, actor, decisionID,
			contracts.RelationAssumption, assumptionID, contracts.RelationUnlinked, reason)
	})
}

// LinkConstraint binds a constraint to a decision.
func (s *Service) LinkConstraint(ctx context.Context, actor contracts.Actor, decisionID, constraintID, reason string) error {
	orgID := actor.OrganizationID
	if _, err := s.store.GetDecision(ctx, orgID, decisionID); err != nil {
		return fmt.Errorf("get decision: %w", err)
	}
	if _, err := s.store.GetConstraint(ctx, orgID, constraintID); err != nil {
		return fmt.Errorf("get constraint: %w", err)
	}

	now := s.clock().UTC()
	return s.store.WithinTx(ctx, func(tx store.Store) error {
		if err := tx.LinkConstraint(ctx, contracts.ConstraintLink{
			OrganizationID: orgID,
			DecisionID:     decisionID,
			ConstraintID:   constraintID,
			CreatedAt:      now,
		}); err != nil {
			return fmt.Errorf("link constraint: %w", err)
		}
		return s.recordRelationAndMark(ctx, tx, actor, decisionID,
			contracts.RelationConstraint, constraintID, contracts.RelationLinked, reason)
	})
}

// UnlinkConstraint drops the link and records the relation change.
func (s *Service) UnlinkConstraint(ctx context.Context, actor contracts.Actor, decisionID, constraintID, reason string) error {
	orgID := actor.OrganizationID
	return s.store.WithinTx(ctx, func(tx store.Store) error {
		if err := tx.UnlinkConstraint(ctx, orgID, decisionID, constraintID); err != nil {
			return fmt.Errorf("unlink constraint: %w", err)
		}
		return s.recordRelationAndMark(ctx, tx, actor, decisionID,
			contracts.RelationConstraint, constraintID, contracts.RelationUnlinked, reason)
	})
}

// LinkDependency inserts the edge source→target after proving the
// graph stays acyclic. The check and the insert share a transaction,
// so two racing inserts cannot close a cycle between them.
func (s *Service) LinkDependency(ctx context.Context, actor contracts.Actor, sourceID, targetID, reason string) error {
	orgID := actor.OrganizationID
	if sourceID == targetID {
		return fmt.Errorf("%w: decision cannot depend on itself", graph.ErrCyclicDependency)
	}
	if _, err := s.store.GetDecision(ctx, orgID, sourceID); err != nil {
		return fmt.Errorf("get source decision: %w", err)
	}
	if _, err := s.store.GetDecision(ctx, orgID, targetID); err != nil {
		return fmt.Errorf("get target decision: %w", err)
	}

	now := s.clock().UTC()
	return s.store.WithinTx(ctx, func(tx store.Store) error {
		edges, err := tx.ListEdges(ctx, orgID)
		if err != nil {
			return fmt.Errorf("list edges: %w", err)
		}
		if err := graph.New(edges).CheckAcyclic(sourceID, targetID); err != nil {
			return err
		}
		if err := tx.CreateDependency(ctx, contracts.DependencyEdge{
			OrganizationID: orgID,
			SourceID:       sourceID,
			TargetID:       targetID,
			CreatedAt:      now,
		}); err != nil {
			return fmt.Errorf("create dependency: %w", err)
		}
		return s.recordRelationAndMark(ctx, tx, actor, sourceID,
			contracts.RelationDependency, targetID, contracts.RelationLinked, reason)
	})
}

// UnlinkDependency removes the edge source→target.
func (s *Service) UnlinkDependency(ctx context.Context, actor contracts.Actor, sourceID, targetID, reason string) error {
	orgID := actor.OrganizationID
	return s.store.WithinTx(ctx, func(tx store.Store) error {
		if err := tx.DeleteDependency(ctx, orgID, sourceID, targetID); err != nil {
			return fmt.Errorf("delete dependency: %w", err)
		}
		return s.recordRelationAndMark(ctx, tx, actor, sourceID,
			contracts.RelationDependency, targetID, contracts.RelationUnlinked, reason)
	})
}

// recordRelationAndMark appends the relation change and dirties the
// decision whose evaluation inputs just moved.
func (s *Service) recordRelationAndMark(ctx context.Context, tx store.Store, actor contracts.Actor, decisionID string, rt contracts.RelationType, relationID string, action contracts.RelationAction, reason string) error {
	if _, err := s.recorder.RecordRelation(ctx, tx, contracts.RelationChange{
		DecisionID:     decisionID,
		OrganizationID: actor.OrganizationID,
		RelationType:   rt,
		RelationID:     relationID,
		Action:         action,
		Reason:         reason,
		ChangedBy:      actor.UserID,
	}); err != nil {
		return err
	}
	_, err := propagation.New(tx).DecisionEdited(ctx, actor.OrganizationID, decisionID)
	return err
}

// SetAssumptionStatus updates the assumption and dirties every
// decision bound to it. Returns the affected decision ids. Marking an
// assumption broken additionally emits a notification.
func (s *Service) SetAssumptionStatus(ctx context.Context, actor contracts.Actor, assumptionID string, status contracts.AssumptionStatus) (contracts.Assumption, []string, error) {
	if !status.Valid() {
		return contracts.Assumption{}, nil, invalidf("unknown assumption status %q", status)
	}
	orgID := actor.OrganizationID
	a, err := s.store.GetAssumption(ctx, orgID, assumptionID)
	if err != nil {
		return contracts.Assumption{}, nil, fmt.Errorf("get assumption: %w", err)
	}
	if a.Status == status {
		return a, nil, nil
	}

	old := a.Status
	a.Status = status
	a.UpdatedAt = s.clock().UTC()

	var affected []string
	err = s.store.WithinTx(ctx, func(tx store.Store) error {
		if err := tx.UpdateAssumption(ctx, a); err != nil {
			return fmt.Errorf("update assumption: %w", err)
		}
		ids, err := propagation.New(tx).AssumptionChanged(ctx, orgID, a.ID, a.Scope, a.Scope)
		if err != nil {
			return err
		}
		affected = ids
		return nil
	})
	if err != nil {
		return contracts.Assumption{}, nil, err
	}

	s.logger.InfoContext(ctx, "assumption status changed",
		"assumption_id", a.ID, "old", string(old), "new", string(status),
		"affected", len(affected))

	if status == contracts.AssumptionBroken {
		s.notifyBestEffort(ctx, contracts.Notification{
			ID:             uuid.New().String(),
			OrganizationID: orgID,
			Type:           contracts.NotifyAssumptionBroken,
			Severity:       contracts.SeverityWarning,
			Message:        fmt.Sprintf("assumption marked broken; %d decisions queued for re-evaluation", len(affected)),
			Fields: map[string]any{
				"assumption_id": a.ID,
				"scope":         string(a.Scope),
				"affected":      affected,
			},
			CreatedAt: s.clock().UTC(),
		})
	}

	return a, affected, nil
}

// ReviewInput describes one explicit human review.
type ReviewInput struct {
	DecisionID     string
	ReviewType     contracts.ReviewType
	Outcome        contracts.ReviewOutcome
	Comment        string
	DeferralReason string
}

// ReviewDecision records the review and applies the outcome rules:
// a deferral only lengthens the streak, every other outcome resets it
// and moves the review anchor. The urgency score refreshes either way.
func (s *Service) ReviewDecision(ctx context.Context, actor contracts.Actor, in ReviewInput) (contracts.DecisionReview, error) {
	switch in.Outcome {
	case contracts.OutcomeReaffirmed, contracts.OutcomeRevised,
		contracts.OutcomeEscalated, contracts.OutcomeDeferred:
	default:
		return contracts.DecisionReview{}, invalidf("unknown review outcome %q", in.Outcome)
	}
	reviewType := in.ReviewType
	if reviewType == "" {
		reviewType = contracts.ReviewManual
	}

	orgID := actor.OrganizationID
	var (
		rev     contracts.DecisionReview
		updated contracts.Decision
	)
	err := s.store.WithinTx(ctx, func(tx store.Store) error {
		d, err := tx.GetDecision(ctx, orgID, in.DecisionID)
		if err != nil {
			return fmt.Errorf("get decision: %w", err)
		}
		if d.Lifecycle == contracts.LifecycleRetired {
			return fmt.Errorf("%w: retired decisions are not reviewed", ErrTerminalState)
		}

		now := s.clock().UTC()
		pre := d
		if in.Outcome == contracts.OutcomeDeferred {
			d.ConsecutiveDeferrals++
		} else {
			d.ConsecutiveDeferrals = 0
			t := now
			d.LastReviewedAt = &t
		}

		counts, err := tx.CountOpenConflicts(ctx, orgID, d.ID)
		if err != nil {
			return fmt.Errorf("count open conflicts: %w", err)
		}
		s.refreshUrgency(&d, counts, now)

		if err := tx.UpdateDecision(ctx, d); err != nil {
			return fmt.Errorf("update decision: %w", err)
		}

		rev, err = s.recorder.RecordReview(ctx, tx, contracts.DecisionReview{
			DecisionID:     d.ID,
			OrganizationID: orgID,
			Reviewer:       actor.UserID,
			ReviewType:     reviewType,
			Outcome:        in.Outcome,
			Comment:        in.Comment,
			PreLifecycle:   pre.Lifecycle,
			PostLifecycle:  d.Lifecycle,
			PreHealth:      pre.HealthSignal,
			PostHealth:     d.HealthSignal,
			DeferralReason: in.DeferralReason,
			NextReviewDate: d.NextReviewDate,
		})
		if err != nil {
			return err
		}
		updated = d
		return nil
	})
	if err != nil {
		return contracts.DecisionReview{}, err
	}

	if updated.ConsecutiveDeferrals >= 3 {
		s.notifyBestEffort(ctx, contracts.Notification{
			ID:             uuid.New().String(),
			OrganizationID: orgID,
			DecisionID:     updated.ID,
			Type:           contracts.NotifyNeedsReview,
			Severity:       contracts.SeverityWarning,
			Message:        fmt.Sprintf("review deferred %d consecutive times", updated.ConsecutiveDeferrals),
			Fields: map[string]any{
				"consecutive_deferrals": updated.ConsecutiveDeferrals,
				"urgency_score":         updated.ReviewUrgencyScore,
			},
			CreatedAt: s.clock().UTC(),
		})
	}

	return rev, nil
}

// MarkForEvaluation sets the dirty flag on one decision.
func (s *Service) MarkForEvaluation(ctx context.Context, actor contracts.Actor, decisionID string) error {
	orgID := actor.OrganizationID
	if _, err := s.store.GetDecision(ctx, orgID, decisionID); err != nil {
		return fmt.Errorf("get decision: %w", err)
	}
	return s.store.MarkNeedsEvaluation(ctx, orgID, []string{decisionID})
}

// RunEvaluationBatch runs one scheduler tick for the organization.
// Batch size, staleness and the tick budget come from the deployment
// profile the scheduler was built with.
func (s *Service) RunEvaluationBatch(ctx context.Context, orgID string) (scheduler.Report, error) {
	return s.scheduler.RunTick(ctx, orgID)
}

// RequestEdit files an edit-approval request.
func (s *Service) RequestEdit(ctx context.Context, actor contracts.Actor, decisionID, justification string, changes contracts.ProposedChanges) (contracts.GovernanceAuditEntry, error) {
	return s.governance.RequestEdit(ctx, actor.OrganizationID, decisionID, actor, justification, changes)
}

// ResolveEdit approves or rejects a pending edit request. Approval
// applies the proposal.
func (s *Service) ResolveEdit(ctx context.Context, actor contracts.Actor, entryID string, approved bool, reviewerNotes string) (contracts.GovernanceAuditEntry, error) {
	return s.governance.Resolve(ctx, actor.OrganizationID, entryID, actor, approved, reviewerNotes)
}

// LockDecision places a lead's edit lock.
func (s *Service) LockDecision(ctx context.Context, actor contracts.Actor, decisionID string) error {
	return s.governance.Lock(ctx, actor.OrganizationID, decisionID, actor)
}

// UnlockDecision releases the edit lock.
func (s *Service) UnlockDecision(ctx context.Context, actor contracts.Actor, decisionID string) error {
	return s.governance.Unlock(ctx, actor.OrganizationID, decisionID, actor)
}

// GovernanceSettingsInput toggles the per-decision governance posture.
type GovernanceSettingsInput struct {
	DecisionID                string
	GovernanceMode            *bool
	RequiresSecondReviewer    *bool
	EditJustificationRequired *bool
}

// UpdateGovernanceSettings is lead-only.
func (s *Service) UpdateGovernanceSettings(ctx context.Context, actor contracts.Actor, in GovernanceSettingsInput) (contracts.Decision, error) {
	if !actor.IsLead() {
		return contracts.Decision{}, fmt.Errorf("%w: only leads change governance settings", governance.ErrForbidden)
	}
	orgID := actor.OrganizationID
	d, err := s.store.GetDecision(ctx, orgID, in.DecisionID)
	if err != nil {
		return contracts.Decision{}, fmt.Errorf("get decision: %w", err)
	}

	changed := false
	if in.GovernanceMode != nil && d.GovernanceMode != *in.GovernanceMode {
		d.GovernanceMode = *in.GovernanceMode
		changed = true
	}
	if in.RequiresSecondReviewer != nil && d.RequiresSecondReviewer != *in.RequiresSecondReviewer {
		d.RequiresSecondReviewer = *in.RequiresSecondReviewer
		changed = true
	}
	if in.EditJustificationRequired != nil && d.EditJustificationRequired != *in.EditJustificationRequired {
		d.EditJustificationRequired = *in.EditJustificationRequired
		changed = true
	}
	if !changed {
		return d, nil
	}

	if err := s.store.UpdateDecision(ctx, d); err != nil {
		return contracts.Decision{}, fmt.Errorf("update decision: %w", err)
	}
	s.logger.InfoContext(ctx, "governance settings updated",
		"decision_id", d.ID, "governance_mode", d.GovernanceMode,
		"requires_second_reviewer", d.RequiresSecondReviewer)
	return d, nil
}

// CreateAssumptionInput registers a belief decisions can bind to.
type CreateAssumptionInput struct {
	Description string
	Scope       contracts.AssumptionScope
	Status      contracts.AssumptionStatus
}

// CreateAssumption inserts an assumption. A universal assumption that
// starts out non-valid dirties the whole organization.
func (s *Service) CreateAssumption(ctx context.Context, actor contracts.Actor, in CreateAssumptionInput) (contracts.Assumption, error) {
	if strings.TrimSpace(in.Description) == "" {
		return contracts.Assumption{}, invalidf("description must not be empty")
	}
	scope := in.Scope
	if scope == "" {
		scope = contracts.ScopeDecisionSpecific
	}
	if scope != contracts.ScopeUniversal && scope != contracts.ScopeDecisionSpecific {
		return contracts.Assumption{}, invalidf("unknown assumption scope %q", scope)
	}
	status := in.Status
	if status == "" {
		status = contracts.AssumptionValid
	}
	if !status.Valid() {
		return contracts.Assumption{}, invalidf("unknown assumption status %q", status)
	}

	now := s.clock().UTC()
	a := contracts.Assumption{
		ID:             uuid.New().String(),
		OrganizationID: actor.OrganizationID,
		Description:    strings.TrimSpace(in.Description),
		Status:         status,
		Scope:          scope,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err := s.store.WithinTx(ctx, func(tx store.Store) error {
		if err := tx.CreateAssumption(ctx, a); err != nil {
			return fmt.Errorf("create assumption: %w", err)
		}
		if a.Scope == contracts.ScopeUniversal && a.Status != contracts.AssumptionValid {
			_, err := propagation.New(tx).AssumptionChanged(ctx, a.OrganizationID, a.ID, a.Scope, a.Scope)
			return err
		}
		return nil
	})
	if err != nil {
		return contracts.Assumption{}, err
	}
	return a, nil
}

// CreateConstraintInput registers a rule decisions can bind to.
type CreateConstraintInput struct {
	Name        string
	Description string
	Type        contracts.ConstraintType
	Validation  *contracts.ValidationConfig
	IsImmutable bool
}

// CreateConstraint inserts a constraint.
func (s *Service) CreateConstraint(ctx context.Context, actor contracts.Actor, in CreateConstraintInput) (contracts.Constraint, error) {
	if strings.TrimSpace(in.Name) == "" {
		return contracts.Constraint{}, invalidf("name must not be empty")
	}
	ctype := in.Type
	if ctype == "" {
		ctype = contracts.ConstraintOther
	}

	now := s.clock().UTC()
	c := contracts.Constraint{
		ID:             uuid.New().String(),
		OrganizationID: actor.OrganizationID,
		Name:           strings.TrimSpace(in.Name),
		Description:    in.Description,
		Type:           ctype,
		Validation:     in.Validation,
		IsImmutable:    in.IsImmutable,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.CreateConstraint(ctx, c); err != nil {
		return contracts.Constraint{}, fmt.Errorf("create constraint: %w", err)
	}
	return c, nil
}

// refreshUrgency recomputes the decision's review intelligence in
// place.
func (s *Service) refreshUrgency(d *contracts.Decision, counts store.ConflictCounts, now time.Time) {
	assess := urgency.Compute(urgency.Signals{
		Decision:                *d,
		OpenDecisionConflicts:   counts.Decision,
		OpenAssumptionConflicts: counts.Assumption,
		Now:                     now,
	})
	d.ReviewUrgencyScore = assess.Score
	d.UrgencyFactors = assess.Factors
	d.ReviewFrequencyDays = assess.ReviewFrequencyDays
	next := assess.NextReviewDate
	d.NextReviewDate = &next
}
