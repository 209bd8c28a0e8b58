package model

// Role is the resolved role of the actor performing an operation. Identity
// resolution happens upstream; the engine only authorizes against the role
// value it is handed.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleStaff    Role = "staff"
	RoleAdmin    Role = "admin"
	// RoleSystem is used by in-process workers such as the missed sweep.
	RoleSystem Role = "system"
)

func ParseRole(raw string) (Role, bool) {
	switch Role(raw) {
	case RoleCustomer, RoleStaff, RoleAdmin, RoleSystem:
		return Role(raw), true
	}
	return "", false
}

// Actor is threaded explicitly into every engine operation. There is no
// ambient current-user state anywhere below the HTTP layer.
type Actor struct {
	ID      string
	Role    Role
	StoreID string
}

// CanManageAppointments reports whether the actor may confirm appointments
// and mark no-shows.
func (a Actor) CanManageAppointments() bool {
	switch a.Role {
	case RoleStaff, RoleAdmin, RoleSystem:
		return true
	case RoleCustomer:
		return false
	}
	return false
}
