package contracts

import "time"

// AssumptionStatus tracks how much trust an assumption still deserves.
type AssumptionStatus string

const (
	AssumptionValid  AssumptionStatus = "VALID"
	AssumptionShaky  AssumptionStatus = "SHAKY"
	AssumptionBroken AssumptionStatus = "BROKEN"
)

// Valid reports whether s is a known status value.
func (s AssumptionStatus) Valid() bool {
	switch s {
	case AssumptionValid, AssumptionShaky, AssumptionBroken:
		return true
	}
	return false
}

// AssumptionScope determines which decisions an assumption applies to.
// Universal assumptions bind every decision in their organization
// without an explicit link row; decision-specific assumptions bind
// only the decisions they are linked to.
type AssumptionScope string

const (
	ScopeUniversal        AssumptionScope = "UNIVERSAL"
	ScopeDecisionSpecific AssumptionScope = "DECISION_SPECIFIC"
)

// Assumption is a belief a decision was made against.
type Assumption struct {
	ID             string           `json:"id"`
	OrganizationID string           `json:"organization_id"`
	Description    string           `json:"description"`
	Status         AssumptionStatus `json:"status"`
	Scope          AssumptionScope  `json:"scope"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}
