package auth

import "strings"

// Role is one of the closed set of campus wallet roles.
type Role string

const (
	RoleStudent      Role = "student"
	RoleTreasurer    Role = "treasurer"
	RoleOffice       Role = "office"
	RoleFinanceAdmin Role = "finance_admin"
)

// ParseRole normalises raw and reports whether it names a known role.
func ParseRole(raw string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(raw)))
	return r, r.Valid()
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleTreasurer, RoleOffice, RoleFinanceAdmin:
		return true
	}
	return false
}

// Identity is the authenticated caller as resolved by a Gateway.
type Identity struct {
	Subject string
	Role    Role
	// AccountID is the caller's own wallet account.
	AccountID string
	// OrgAccountID is set for treasurers: the organization account they manage.
	OrgAccountID string
}

// Owns reports whether accountID belongs to the caller (own wallet or managed organization).
func (id Identity) Owns(accountID string) bool {
	if accountID == "" {
		return false
	}
	return accountID == id.AccountID || (id.Role == RoleTreasurer && accountID == id.OrgAccountID)
}

// Actor is the value recorded in processed_by and audit entries.
func (id Identity) Actor() string {
	if id.Subject != "" {
		return id.Subject
	}
	return string(id.Role)
}
