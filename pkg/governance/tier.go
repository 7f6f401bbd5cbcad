package governance

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/decivue/core/pkg/contracts"
	"github.com/decivue/core/pkg/store"
)

// TierForConflicts maps an unresolved conflict count to the tier it
// demands.
func TierForConflicts(n int) contracts.GovernanceTier {
	switch {
	case n >= 5:
		return contracts.TierCritical
	case n >= 2:
		return contracts.TierHighImpact
	default:
		return contracts.TierStandard
	}
}

var tierRank = map[contracts.GovernanceTier]int{
	contracts.TierStandard:   0,
	contracts.TierHighImpact: 1,
	contracts.TierCritical:   2,
}

// ReconcileTier recounts a decision's unresolved conflicts and moves
// its tier to match. Upward moves emit a notification; downward moves
// are silent.
func (m *Manager) ReconcileTier(ctx context.Context, orgID, decisionID string) (contracts.GovernanceTier, error) {
	var (
		tier      contracts.GovernanceTier
		escalated bool
	)
	err := m.store.WithinTx(ctx, func(tx store.Store) error {
		d, err := tx.GetDecision(ctx, orgID, decisionID)
		if err != nil {
			return err
		}
		counts, err := tx.CountOpenConflicts(ctx, orgID, decisionID)
		if err != nil {
			return fmt.Errorf("count open conflicts: %w", err)
		}
		tier = TierForConflicts(counts.Total())
		if tier == d.GovernanceTier {
			return nil
		}
		escalated = tierRank[tier] > tierRank[d.GovernanceTier]
		d.GovernanceTier = tier
		return tx.UpdateDecision(ctx, d)
	})
	if err != nil {
		return "", err
	}

	if escalated && m.notifier != nil {
		severity := contracts.SeverityWarning
		if tier == contracts.TierCritical {
			severity = contracts.SeverityCritical
		}
		n := contracts.Notification{
			ID:             uuid.New().String(),
			OrganizationID: orgID,
			DecisionID:     decisionID,
			Type:           contracts.NotifyGovernanceEvent,
			Severity:       severity,
			Message:        fmt.Sprintf("governance tier escalated to %s", tier),
			CreatedAt:      m.clock(),
		}
		if err := m.notifier.Notify(ctx, n); err != nil {
			// The tier change is already committed; a notification
			// failure must not unwind it.
			m.logger.WarnContext(ctx, "escalation notification failed",
				"decision_id", decisionID, "error", err)
		}
	}
	return tier, nil
}
