package rbac

import "strings"

type Role string
type Action string

const (
	RoleDriver  Role = "driver"
	RolePartner Role = "partner"
	RoleOps     Role = "ops"
	RoleAdmin   Role = "admin"
)

const (
	// ActionRead covers CRM listings and record detail views.
	ActionRead Action = "read"
	// ActionWrite covers creating and editing CRM records.
	ActionWrite Action = "write"
	// ActionDispatch covers sending tour offers and advancing planning phases.
	ActionDispatch Action = "dispatch"
	// ActionRespond covers driver offer responses and inspection submissions.
	ActionRespond Action = "respond"
	ActionAdmin   Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleOps:
		return action == ActionRead || action == ActionWrite || action == ActionDispatch
	case RolePartner:
		return action == ActionRead || action == ActionWrite
	case RoleDriver:
		return action == ActionRead || action == ActionRespond
	default:
		return false
	}
}

// Normalize maps a stored role string onto a known Role, defaulting to
// the least privileged role.
func Normalize(role string) Role {
	switch r := Role(strings.ToLower(role)); r {
	case RoleDriver, RolePartner, RoleOps, RoleAdmin:
		return r
	default:
		return RoleDriver
	}
}
