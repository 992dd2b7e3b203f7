package circulation

import (
	"github.com/google/uuid"
)

// Role is the account role as provided by the account-management collaborator.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleLibrarian Role = "librarian"
	RoleStudent   Role = "student"
	RoleFaculty   Role = "faculty"
)

// User is the read-only view of an account that the engine consumes. The
// account module owns the record; the engine only reads role and status to
// decide eligibility.
type User struct {
	ID        uuid.UUID
	FullName  string
	Email     string
	Role      Role
	Active    bool
	Validated bool
}

// CanBorrow reports whether this user may receive loans and reservations.
// Only active students and faculty are borrowers.
func (u User) CanBorrow() bool {
	return u.Active && (u.Role == RoleStudent || u.Role == RoleFaculty)
}

// CanOperate reports whether this user may register loans on behalf of others:
// an active admin, or an active and validated librarian.
func (u User) CanOperate() bool {
	if !u.Active {
		return false
	}

	switch u.Role {
	case RoleAdmin:
		return true
	case RoleLibrarian:
		return u.Validated
	default:
		return false
	}
}
