// Package registry records which mission, and which role, each conversation
// belongs to.
package registry

import (
	"context"
	"errors"

	"missionsync/internal/mission"
	"missionsync/internal/rbac"
)

var (
	// ErrAlreadyBound reports a conversation that is linked to a different
	// mission or role. Links never change once made.
	ErrAlreadyBound = errors.New("conversation already bound")
	ErrUnbound      = errors.New("conversation is not bound to a mission")
)

type Registry interface {
	// Bind links a conversation to a mission. Binding the same pair again
	// succeeds without change.
	Bind(ctx context.Context, conversationID, missionID string, role rbac.Role) (mission.Binding, error)
	Lookup(ctx context.Context, conversationID string) (mission.Binding, error)
	// Members lists every conversation linked to a mission.
	Members(ctx context.Context, missionID string) ([]mission.Binding, error)
}

// sameLink decides the outcome of binding over an existing link.
func sameLink(existing mission.Binding, missionID string, role rbac.Role) error {
	if existing.MissionID == missionID && existing.Role == role {
		return nil
	}
	return ErrAlreadyBound
}
