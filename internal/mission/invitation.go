package mission

import (
	"time"

	"missionsync/internal/rbac"
)

type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationExpired  InvitationStatus = "expired"
	InvitationRevoked  InvitationStatus = "revoked"
)

type Invitation struct {
	Meta
	ID             string           `json:"invitation_id"`
	MissionID      string           `json:"mission_id"`
	CreatorID      string           `json:"creator_id"`
	TokenHash      string           `json:"token_hash"`
	TargetUsername string           `json:"target_username,omitempty"`
	Expires        time.Time        `json:"expires"`
	Permanent      bool             `json:"permanent"`
	Status         InvitationStatus `json:"status"`
	AcceptedBy     string           `json:"accepted_by,omitempty"`
	AcceptedAt     *time.Time       `json:"accepted_at,omitempty"`
	Redemptions    int              `json:"redemptions"`
}

// Expired reports whether the invitation can no longer be redeemed because of
// its expiry time.
func (i Invitation) Expired(now time.Time) bool {
	return now.After(i.Expires)
}

// EffectiveStatus reports expired for pending invitations past their expiry.
func (i Invitation) EffectiveStatus(now time.Time) InvitationStatus {
	if i.Status == InvitationPending && i.Expired(now) {
		return InvitationExpired
	}
	return i.Status
}

// JoinCode is the HQ-private copy of the permanent invitation code.
type JoinCode struct {
	Meta
	InvitationID string `json:"invitation_id"`
	Code         string `json:"code"`
}

// Binding links a conversation to a mission with a fixed role.
type Binding struct {
	ConversationID string    `json:"conversation_id"`
	MissionID      string    `json:"mission_id"`
	Role           rbac.Role `json:"role"`
	BoundAt        time.Time `json:"bound_at"`
}
