package governance

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/decivue/core/pkg/contracts"
	"github.com/decivue/core/pkg/store"
)

// Lock places an exclusive edit lock. Leads only; locking over another
// user's lock is refused rather than silently stolen.
func (m *Manager) Lock(ctx context.Context, orgID, decisionID string, actor contracts.Actor) error {
	if !actor.IsLead() || actor.OrganizationID != orgID {
		return ErrForbidden
	}
	return m.store.WithinTx(ctx, func(tx store.Store) error {
		d, err := tx.GetDecision(ctx, orgID, decisionID)
		if err != nil {
			return err
		}
		if d.Locked() && d.LockedBy != actor.UserID {
			return fmt.Errorf("%w by %s", ErrLocked, d.LockedBy)
		}
		previous := d.LockedBy
		now := m.clock()
		d.LockedAt = &now
		d.LockedBy = actor.UserID
		if err := tx.UpdateDecision(ctx, d); err != nil {
			return err
		}
		return tx.AppendAuditEntry(ctx, contracts.GovernanceAuditEntry{
			ID:             uuid.New().String(),
			DecisionID:     decisionID,
			OrganizationID: orgID,
			Action:         contracts.ActionDecisionLocked,
			Requester:      actor.UserID,
			PreviousState:  map[string]any{"locked_by": previous},
			NewState:       map[string]any{"locked_by": actor.UserID},
			CreatedAt:      now,
		})
	})
}

// Unlock releases the lock. Leads only; unlocking an unlocked decision
// is a no-op.
func (m *Manager) Unlock(ctx context.Context, orgID, decisionID string, actor contracts.Actor) error {
	if !actor.IsLead() || actor.OrganizationID != orgID {
		return ErrForbidden
	}
	return m.store.WithinTx(ctx, func(tx store.Store) error {
		d, err := tx.GetDecision(ctx, orgID, decisionID)
		if err != nil {
			return err
		}
		if !d.Locked() {
			return nil
		}
		previous := d.LockedBy
		now := m.clock()
		d.LockedAt = nil
		d.LockedBy = ""
		if err := tx.UpdateDecision(ctx, d); err != nil {
			return err
		}
		return tx.AppendAuditEntry(ctx, contracts.GovernanceAuditEntry{
			ID:             uuid.New().String(),
			DecisionID:     decisionID,
			OrganizationID: orgID,
			Action:         contracts.ActionDecisionUnlocked,
			Requester:      actor.UserID,
			PreviousState:  map[string]any{"locked_by": previous},
			NewState:       map[string]any{"locked_by": ""},
			CreatedAt:      now,
		})
	})
}
