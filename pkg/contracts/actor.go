package contracts

// Role is the team role of an actor within an organization.
type Role string

const (
	RoleLead   Role = "LEAD"
	RoleMember Role = "MEMBER"
)

// Actor is the resolved identity performing an operation.
type Actor struct {
	UserID         string `json:"user_id"`
	OrganizationID string `json:"organization_id"`
	Role           Role   `json:"role"`
}

// IsLead reports whether the actor carries the lead role.
func (a Actor) IsLead() bool {
	return a.Role == RoleLead
}
