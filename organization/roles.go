package organization

import "errors"

// Errors returned by the membership rules
var (
	ErrNotAllowed  = errors.New("not allowed to manage this member")
	ErrLastOwner   = errors.New("an organization needs at least one owner")
	ErrInvalidRole = errors.New("invalid role")
)

// CheckRoleChange validates that actor may give target the new role.
// Admins cannot touch owners nor grant ownership.
func CheckRoleChange(actor, target Membership, newRole Role, ownerCount int64) error {
	if !newRole.IsValid() {
		return ErrInvalidRole
	}
	if !actor.Role.CanManage() {
		return ErrNotAllowed
	}
	if actor.Role != RoleOwner && (target.Role == RoleOwner || newRole == RoleOwner) {
		return ErrNotAllowed
	}
	if target.Role == RoleOwner && newRole != RoleOwner && ownerCount <= 1 {
		return ErrLastOwner
	}
	return nil
}

// CheckRemoval validates that actor may remove target. Members may always leave.
func CheckRemoval(actor, target Membership, ownerCount int64) error {
	if actor.UserID != target.UserID {
		if !actor.Role.CanManage() {
			return ErrNotAllowed
		}
		if actor.Role != RoleOwner && target.Role == RoleOwner {
			return ErrNotAllowed
		}
	}
	if target.Role == RoleOwner && ownerCount <= 1 {
		return ErrLastOwner
	}
	return nil
}
