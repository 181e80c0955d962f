package models

const (
	RoleUser     = "user"
	RoleBusiness = "business"
	RoleStaff    = "staff"
	RoleOwner    = "owner"
	RoleAdmin    = "admin"
)

// Principal is the authenticated caller attached to every inbound request.
type Principal struct {
	UserID      string   `json:"user_id"`
	Role        string   `json:"role"`
	BusinessIDs []string `json:"business_ids"`
}

// CanActOn is the capability predicate for staff operations: may this
// principal act on behalf of the given business.
func (p Principal) CanActOn(businessID string) bool {
	if p.Role == RoleAdmin {
		return true
	}
	switch p.Role {
	case RoleBusiness, RoleStaff, RoleOwner:
		for _, id := range p.BusinessIDs {
			if id == businessID {
				return true
			}
		}
	}
	return false
}
