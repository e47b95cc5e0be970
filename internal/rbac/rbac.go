// Package rbac decides which mission party may perform which action.
package rbac

import "fmt"

// Role is the fixed part a conversation plays in a mission. It is set once
// when the conversation is bound and never changes.
type Role uint8

const (
	RoleUnknown Role = iota
	RoleHQ
	RoleField
)

type Action string

const (
	// ActionRead covers every query: briefing, status, KB, requests, log.
	ActionRead Action = "read"
	// ActionPlan covers briefing, goals, criteria and KB authoring.
	ActionPlan Action = "plan"
	// ActionLaunch moves a mission out of planning, or aborts it.
	ActionLaunch Action = "launch"
	// ActionInvite creates, lists and revokes invitations.
	ActionInvite Action = "invite"
	// ActionReport covers field progress: status updates, criteria, completion.
	ActionReport Action = "report"
	// ActionRequest raises or cancels a field request.
	ActionRequest Action = "request"
	// ActionTriage acknowledges, defers and resolves field requests.
	ActionTriage Action = "triage"
	// ActionAudit verifies the audit mirror.
	ActionAudit Action = "audit"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleHQ:
		switch action {
		case ActionRead, ActionPlan, ActionLaunch, ActionInvite, ActionTriage, ActionAudit:
			return true
		}
		return false
	case RoleField:
		switch action {
		case ActionRead, ActionReport, ActionRequest:
			return true
		}
		return false
	default:
		return false
	}
}

func (r Role) String() string {
	switch r {
	case RoleHQ:
		return "hq"
	case RoleField:
		return "field"
	default:
		return "unknown"
	}
}

// Valid reports whether r is one of the two mission roles.
func (r Role) Valid() bool {
	return r == RoleHQ || r == RoleField
}

func ParseRole(value string) (Role, error) {
	switch value {
	case "hq", "HQ":
		return RoleHQ, nil
	case "field", "FIELD":
		return RoleField, nil
	default:
		return RoleUnknown, fmt.Errorf("unknown role %q", value)
	}
}

func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("marshal role: invalid value %d", uint8(r))
	}
	return []byte(r.String()), nil
}

func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
