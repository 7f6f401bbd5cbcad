package contracts

import "time"

// ChangeType categorizes what a decision version snapshot records.
type ChangeType string

const (
	ChangeCreated                    ChangeType = "CREATED"
	ChangeFieldUpdated               ChangeType = "FIELD_UPDATED"
	ChangeLifecycleChanged           ChangeType = "LIFECYCLE_CHANGED"
	ChangeManualReview               ChangeType = "MANUAL_REVIEW"
	ChangeAssumptionConflictResolved ChangeType = "ASSUMPTION_CONFLICT_RESOLVED"
	ChangeDecisionConflictResolved   ChangeType = "DECISION_CONFLICT_RESOLVED"
	ChangeRelationAdded              ChangeType = "RELATION_ADDED"
	ChangeRelationRemoved            ChangeType = "RELATION_REMOVED"
	ChangeRetirement                 ChangeType = "RETIREMENT"
	ChangeDeprecation                ChangeType = "DEPRECATION"
	ChangeGovernanceLock             ChangeType = "GOVERNANCE_LOCK"
	ChangeGovernanceUnlock           ChangeType = "GOVERNANCE_UNLOCK"
	ChangeEditRequested              ChangeType = "EDIT_REQUESTED"
	ChangeEditApproved               ChangeType = "EDIT_APPROVED"
	ChangeEditRejected               ChangeType = "EDIT_REJECTED"
)

// FieldChange records one field's transition inside a version.
type FieldChange struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// VersionSnapshot is the editable surface of a decision frozen at a
// version boundary. Replaying snapshots from version 1 reconstructs
// the decision's current editable state.
type VersionSnapshot struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Category    string         `json:"category,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Lifecycle   Lifecycle      `json:"lifecycle"`
	ExpiryDate  *time.Time     `json:"expiry_date,omitempty"`
}

// DecisionVersion is one entry of a decision's append-only version
// history. Version numbers are dense per decision, starting at 1.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type DecisionVersion struct {
	ID             string `json:"id"`
	DecisionID     string `json:"decision_id"`
	OrganizationID string `json:"organization_id"`
	VersionNumber  int    `json:"version_number"`

	Snapshot VersionSnapshot `json:"snapshot"`
	// SnapshotHash is the canonical hash of Snapshot, for replay checks.
	SnapshotHash string `json:"snapshot_hash,omitempty"`

	ChangeType      ChangeType             `json:"change_type"`
	ChangeSummary   string                 `json:"change_summary,omitempty"`
	ChangedFields   map[string]FieldChange `json:"changed_fields,omitempty"`
	ReviewerComment string                 `json:"reviewer_comment,omitempty"`
	Metadata        map[string]any         `json:"metadata,omitempty"`

	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

// RelationType names which kind of link a relation change touched.
type RelationType string

const (
	RelationAssumption RelationType = "ASSUMPTION"
	RelationConstraint RelationType = "CONSTRAINT"
	RelationDependency RelationType = "DEPENDENCY"
)

// RelationAction is the direction of a relation change.
type RelationAction string

const (
	RelationLinked   RelationAction = "LINKED"
	RelationUnlinked RelationAction = "UNLINKED"
)

// RelationChange records one link or unlink against a decision.
type RelationChange struct {
	ID             string         `json:"id"`
	DecisionID     string         `json:"decision_id"`
	OrganizationID string         `json:"organization_id"`
	RelationType   RelationType   `json:"relation_type"`
	RelationID     string         `json:"relation_id"`
	Action         RelationAction `json:"action"`
	Reason         string         `json:"reason,omitempty"`
	ChangedBy      string         `json:"changed_by"`
	ChangedAt      time.Time      `json:"changed_at"`
}
