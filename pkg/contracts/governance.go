package contracts

import "time"

// GovernanceAction names one audited governance event.
type GovernanceAction string

const (
	ActionEditRequested        GovernanceAction = "EDIT_REQUESTED"
	ActionEditApproved         GovernanceAction = "EDIT_APPROVED"
	ActionEditRejected         GovernanceAction = "EDIT_REJECTED"
	ActionSecondReviewRequest  GovernanceAction = "SECOND_REVIEW_REQUESTED"
	ActionSecondReviewApproved GovernanceAction = "SECOND_REVIEW_APPROVED"
	ActionDecisionLocked       GovernanceAction = "DECISION_LOCKED"
	ActionDecisionUnlocked     GovernanceAction = "DECISION_UNLOCKED"
)

// ProposedChanges is the payload of an edit-approval request: the
// field values to apply and the assumption links to add or drop when
// the request is approved.
type ProposedChanges struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Category    *string `json:"category,omitempty"`

	LinkAssumptions   []string `json:"link_assumptions,omitempty"`
	UnlinkAssumptions []string `json:"unlink_assumptions,omitempty"`
}

// Empty reports whether the proposal would change nothing.
func (p ProposedChanges) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Category == nil &&
		len(p.LinkAssumptions) == 0 && len(p.UnlinkAssumptions) == 0
}

// GovernanceAuditEntry is one entry of the per-decision governance
// audit log. Edit requests stay unresolved (ResolvedAt nil) until a
// second reviewer approves or rejects them.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type GovernanceAuditEntry struct {
	ID             string `json:"id"`
	DecisionID     string `json:"decision_id"`
	OrganizationID string `json:"organization_id"`

	Action    GovernanceAction `json:"action"`
	Requester string           `json:"requester"`
	Approver  string           `json:"approver,omitempty"`

	// Justification is required for critical-tier actions.
	Justification string `json:"justification,omitempty"`

	PreviousState map[string]any `json:"previous_state,omitempty"`
	NewState      map[string]any `json:"new_state,omitempty"`

	ProposedChanges *ProposedChanges `json:"proposed_changes,omitempty"`
	ReviewerNotes   string           `json:"reviewer_notes,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Resolved reports whether the entry has been closed out.
func (e *GovernanceAuditEntry) Resolved() bool {
	return e.ResolvedAt != nil
}
