package models

import "strings"

type Permission string

const (
	PermissionCreate   Permission = "create"
	PermissionApprove  Permission = "approve"
	PermissionExecute  Permission = "execute"
	PermissionCancel   Permission = "cancel"
	PermissionRollback Permission = "rollback"
)

// SystemActor is recorded on transitions the engine performs on its own.
const SystemActor = "system"

// Actor is the authenticated caller identity handed in by the API layer.
type Actor struct {
	ID          string
	Permissions []Permission
}

func (a Actor) Can(p Permission) bool {
	for _, granted := range a.Permissions {
		if granted == p || granted == "*" {
			return true
		}
	}
	return false
}

// ParsePermissions turns a comma separated header value into permissions.
func ParsePermissions(header string) []Permission {
	var perms []Permission
	for _, v := range strings.Split(header, ",") {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		perms = append(perms, Permission(v))
	}
	return perms
}
