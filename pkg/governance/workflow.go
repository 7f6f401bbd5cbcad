package governance

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/decivue/core/pkg/contracts"
	"github.com/decivue/core/pkg/history"
	"github.com/decivue/core/pkg/propagation"
	"github.com/decivue/core/pkg/store"
)

// RequestEdit opens an edit-approval request. The request stays open
// until a lead other than the requester resolves it; direct edits stay
// denied in the meantime.
func (m *Manager) RequestEdit(ctx context.Context, orgID, decisionID string, requester contracts.Actor, justification string, changes contracts.ProposedChanges) (contracts.GovernanceAuditEntry, error) {
	if changes.Empty() {
		return contracts.GovernanceAuditEntry{}, ErrEmptyProposal
	}
	if requester.OrganizationID != orgID {
		return contracts.GovernanceAuditEntry{}, ErrForbidden
	}

	leads, err := m.directory.Leads(ctx, orgID)
	if err != nil {
		return contracts.GovernanceAuditEntry{}, fmt.Errorf("resolve approver pool: %w", err)
	}
	pool := 0
	for _, lead := range leads {
		if lead.UserID != requester.UserID {
			pool++
		}
	}
	if pool == 0 {
		return contracts.GovernanceAuditEntry{}, ErrNoApprover
	}

	entry := contracts.GovernanceAuditEntry{
		ID:              uuid.New().String(),
		DecisionID:      decisionID,
		OrganizationID:  orgID,
		Action:          contracts.ActionEditRequested,
		Requester:       requester.UserID,
		Justification:   justification,
		ProposedChanges: &changes,
		CreatedAt:       m.clock(),
	}
	err = m.store.WithinTx(ctx, func(tx store.Store) error {
		if _, err := tx.GetDecision(ctx, orgID, decisionID); err != nil {
			return err
		}
		return tx.AppendAuditEntry(ctx, entry)
	})
	if err != nil {
		return contracts.GovernanceAuditEntry{}, err
	}
	return entry, nil
}

// Resolve closes an edit request. On approval the proposed changes,
// the resulting version, and the relation-change records land in one
// transaction; rejection only closes the entry.
func (m *Manager) Resolve(ctx context.Context, orgID, entryID string, approver contracts.Actor, approved bool, reviewerNotes string) (contracts.GovernanceAuditEntry, error) {
	if approver.OrganizationID != orgID || !approver.IsLead() {
		return contracts.GovernanceAuditEntry{}, ErrForbidden
	}

	var out contracts.GovernanceAuditEntry
	err := m.store.WithinTx(ctx, func(tx store.Store) error {
		entry, err := tx.GetAuditEntry(ctx, orgID, entryID)
		if err != nil {
			return err
		}
		if entry.Action != contracts.ActionEditRequested {
			return ErrNotEditRequest
		}
		if entry.Resolved() {
			return ErrAlreadyResolved
		}
		if entry.Requester == approver.UserID {
			return fmt.Errorf("%w: requester cannot resolve their own request", ErrForbidden)
		}

		now := m.clock()
		entry.Approver = approver.UserID
		entry.ReviewerNotes = reviewerNotes
		entry.ResolvedAt = &now
		if approved {
			entry.Action = contracts.ActionEditApproved
		} else {
			entry.Action = contracts.ActionEditRejected
		}
		if err := tx.UpdateAuditEntry(ctx, entry); err != nil {
			return err
		}
		if approved && entry.ProposedChanges != nil && !entry.ProposedChanges.Empty() {
			if err := m.applyProposal(ctx, tx, entry, approver); err != nil {
				return err
			}
		}
		out = entry
		return nil
	})
	if err != nil {
		return contracts.GovernanceAuditEntry{}, err
	}
	return out, nil
}

func (m *Manager) applyProposal(ctx context.Context, tx store.Store, entry contracts.GovernanceAuditEntry, approver contracts.Actor) error {
	d, err := tx.GetDecision(ctx, entry.OrganizationID, entry.DecisionID)
	if err != nil {
		return err
	}
	changes := *entry.ProposedChanges

	fields := map[string]contracts.FieldChange{}
	if changes.Title != nil && *changes.Title != d.Title {
		fields["title"] = contracts.FieldChange{Old: d.Title, New: *changes.Title}
		d.Title = *changes.Title
	}
	if changes.Description != nil && *changes.Description != d.Description {
		fields["description"] = contracts.FieldChange{Old: d.Description, New: *changes.Description}
		d.Description = *changes.Description
	}
	if changes.Category != nil && *changes.Category != d.Category {
		fields["category"] = contracts.FieldChange{Old: d.Category, New: *changes.Category}
		d.Category = *changes.Category
	}
	if len(fields) > 0 {
		if err := tx.UpdateDecision(ctx, d); err != nil {
			return err
		}
	}

	reason := fmt.Sprintf("edit request %s approved", entry.ID)
	for _, assumptionID := range changes.LinkAssumptions {
		err := tx.LinkAssumption(ctx, contracts.AssumptionLink{
			OrganizationID: entry.OrganizationID,
			DecisionID:     entry.DecisionID,
			AssumptionID:   assumptionID,
			CreatedAt:      m.clock(),
		})
		if errors.Is(err, store.ErrConflict) {
			continue // already linked; the proposal's intent holds
		}
		if err != nil {
			return err
		}
		if err := m.recordRelation(ctx, tx, entry, assumptionID, contracts.RelationLinked, reason, approver); err != nil {
			return err
		}
	}
	for _, assumptionID := range changes.UnlinkAssumptions {
		err := tx.UnlinkAssumption(ctx, entry.OrganizationID, entry.DecisionID, assumptionID)
		if errors.Is(err, store.ErrNotFound) {
			continue // already absent
		}
		if err != nil {
			return err
		}
		if err := m.recordRelation(ctx, tx, entry, assumptionID, contracts.RelationUnlinked, reason, approver); err != nil {
			return err
		}
	}

	_, err = m.recorder.RecordVersion(ctx, tx, d, history.Change{
		Type:            contracts.ChangeFieldUpdated,
		Summary:         "edit request approved",
		Fields:          fields,
		ReviewerComment: entry.ReviewerNotes,
		Metadata:        map[string]any{"approved_by": approver.UserID, "edit_request_id": entry.ID},
		Actor:           entry.Requester,
	})
	if err != nil {
		return err
	}

	_, err = propagation.New(tx).DecisionEdited(ctx, entry.OrganizationID, entry.DecisionID)
	return err
}

func (m *Manager) recordRelation(ctx context.Context, tx store.Store, entry contracts.GovernanceAuditEntry, assumptionID string, action contracts.RelationAction, reason string, approver contracts.Actor) error {
	_, err := m.recorder.RecordRelation(ctx, tx, contracts.RelationChange{
		DecisionID:     entry.DecisionID,
		OrganizationID: entry.OrganizationID,
		RelationType:   contracts.RelationAssumption,
		RelationID:     assumptionID,
		Action:         action,
		Reason:         reason,
		ChangedBy:      approver.UserID,
	})
	return err
}
