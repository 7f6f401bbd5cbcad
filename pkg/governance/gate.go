package governance

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/decivue/core/pkg/contracts"
)

// EditVerdict is the gate's answer to "may this actor edit now".
type EditVerdict string

const (
	EditAllowed               EditVerdict = "ALLOWED"
	EditLocked                EditVerdict = "LOCKED"
	EditRequiresJustification EditVerdict = "REQUIRES_JUSTIFICATION"
	EditRequiresApproval      EditVerdict = "REQUIRES_APPROVAL"
)

// EditDecision carries the verdict and enough context to act on it.
type EditDecision struct {
	Verdict EditVerdict `json:"verdict"`
	Reason  string      `json:"reason,omitempty"`
	// PendingRequestID names the open edit request blocking a
	// critical-tier edit, when one does.
	PendingRequestID string `json:"pending_request_id,omitempty"`
}

func (e EditDecision) Allowed() bool {
	return e.Verdict == EditAllowed
}

// CanEdit runs the edit gate for one actor against one decision. The
// checks are ordered: lock first, then the governance-mode bypass,
// then the role-specific ceremony.
func (m *Manager) CanEdit(ctx context.Context, d contracts.Decision, actor contracts.Actor, justification string) (EditDecision, error) {
	if d.Locked() && d.LockedBy != actor.UserID && !actor.IsLead() {
		return EditDecision{
			Verdict: EditLocked,
			Reason:  fmt.Sprintf("decision locked by %s", d.LockedBy),
		}, nil
	}
	if !d.GovernanceMode {
		return EditDecision{Verdict: EditAllowed}, nil
	}

	if actor.IsLead() {
		if d.GovernanceTier == contracts.TierCritical && !justified(justification) {
			return EditDecision{
				Verdict: EditRequiresJustification,
				Reason:  fmt.Sprintf("critical tier edits need a justification of at least %d characters", MinJustificationChars),
			}, nil
		}
		if d.GovernanceTier == contracts.TierCritical && d.RequiresSecondReviewer {
			open, err := m.store.ListOpenEditRequests(ctx, d.OrganizationID, d.ID)
			if err != nil {
				return EditDecision{}, fmt.Errorf("list open edit requests: %w", err)
			}
			if len(open) > 0 {
				return EditDecision{
					Verdict:          EditRequiresApproval,
					Reason:           "an open edit request must be resolved first",
					PendingRequestID: open[0].ID,
				}, nil
			}
		}
		return EditDecision{Verdict: EditAllowed}, nil
	}

	if d.EditJustificationRequired && !justified(justification) {
		return EditDecision{
			Verdict: EditRequiresJustification,
			Reason:  fmt.Sprintf("edits to this decision need a justification of at least %d characters", MinJustificationChars),
		}, nil
	}
	if d.RequiresSecondReviewer {
		return EditDecision{
			Verdict: EditRequiresApproval,
			Reason:  "a second reviewer must approve this edit",
		}, nil
	}
	return EditDecision{Verdict: EditAllowed}, nil
}

func justified(justification string) bool {
	return utf8.RuneCountInString(justification) >= MinJustificationChars
}
