// Package store keeps mission entities as versioned JSON records.
//
// A Backend only moves bytes and enforces that versions never regress; the
// Repository in versioned.go adds the application rules on top of it.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrStale reports a write whose version does not exceed the stored one.
	// Nothing was written.
	ErrStale = errors.New("stale write")
	// ErrInvalidVersion reports a first write whose version is not 1.
	ErrInvalidVersion = errors.New("first write must carry version 1")
)

// Scopes partition a mission's records.
const (
	ScopeShared        = "shared"
	ScopeInvitations   = "invitations"
	ScopeConversations = "conversations"
	ScopeHQ            = "hq"
)

// Shared entity types.
const (
	TypeBriefing = "briefing"
	TypeKB       = "kb"
	TypeStatus   = "status"
	TypeRequests = "requests"
	TypeLog      = "log"
)

// RegistryMission is the pseudo mission that indexes conversation bindings
// by conversation id.
const RegistryMission = "_conversations"

// InvitationIndexMission is the pseudo mission that maps invitation ids to
// the mission that issued them.
const InvitationIndexMission = "_invitations"

type Key struct {
	MissionID string
	Scope     string
	Type      string
	ID        string
}

// SharedKey addresses {mission}/shared/{type}/{id}.
func SharedKey(missionID, entityType, id string) Key {
	return Key{MissionID: missionID, Scope: ScopeShared, Type: entityType, ID: id}
}

// SingletonKey addresses the one record of a per-mission entity type, such
// as {mission}/shared/status/status.
func SingletonKey(missionID, entityType string) Key {
	return SharedKey(missionID, entityType, entityType)
}

// InvitationKey addresses {mission}/invitations/{id}.
func InvitationKey(missionID, invitationID string) Key {
	return Key{MissionID: missionID, Scope: ScopeInvitations, ID: invitationID}
}

// InvitationIndexKey addresses the index record of an invitation id.
func InvitationIndexKey(invitationID string) Key {
	return Key{MissionID: InvitationIndexMission, Scope: ScopeInvitations, ID: invitationID}
}

// ConversationKey addresses the role marker {mission}/conversations/{conversation}.
func ConversationKey(missionID, conversationID string) Key {
	return Key{MissionID: missionID, Scope: ScopeConversations, ID: conversationID}
}

// HQKey addresses HQ-private state {mission}/hq/{type}/{id}.
func HQKey(missionID, entityType, id string) Key {
	return Key{MissionID: missionID, Scope: ScopeHQ, Type: entityType, ID: id}
}

// Path renders the key as a slash separated path, skipping empty segments.
func (k Key) Path() string {
	parts := make([]string, 0, 4)
	for _, part := range []string{k.MissionID, k.Scope, k.Type, k.ID} {
		if part != "" {
			parts = append(parts, part)
		}
	}
	return strings.Join(parts, "/")
}

func (k Key) String() string {
	return k.Path()
}

func (k Key) valid() bool {
	return k.MissionID != "" && k.Scope != "" && k.ID != "" &&
		!strings.Contains(k.MissionID, "/") && !strings.Contains(k.ID, "/") && !strings.Contains(k.Type, "/")
}

type Record struct {
	Key       Key
	Version   int
	Data      json.RawMessage
	UpdatedAt time.Time
}

// Backend is durable keyed storage. Put must reject, atomically, any record
// whose version is not greater than the stored one by returning ErrStale.
type Backend interface {
	Get(ctx context.Context, key Key) (Record, error)
	Put(ctx context.Context, record Record) error
	// List returns the records of one mission, scope and type ordered by id.
	List(ctx context.Context, missionID, scope, entityType string) ([]Record, error)
	// Missions returns the ids of every mission with a status record.
	Missions(ctx context.Context) ([]string, error)
	Ping(ctx context.Context) error
}
