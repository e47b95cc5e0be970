package app

import (
	"context"
	"strings"
	"sync"

	"missionsync/internal/store"
)

// Directory resolves a user id to the display name shown in the audit log and
// matched against targeted invitations.
type Directory interface {
	DisplayName(ctx context.Context, userID string) (string, error)
}

type DirectoryFunc func(ctx context.Context, userID string) (string, error)

func (f DirectoryFunc) DisplayName(ctx context.Context, userID string) (string, error) {
	return f(ctx, userID)
}

// StaticDirectory maps user ids to display names.
type StaticDirectory map[string]string

func (d StaticDirectory) DisplayName(_ context.Context, userID string) (string, error) {
	name, ok := d[userID]
	if !ok {
		return "", store.ErrNotFound
	}
	return name, nil
}

// ParticipantRecorder stores the display name an authenticated caller
// presented. store.PostgresStore implements it.
type ParticipantRecorder interface {
	UpsertParticipant(ctx context.Context, userID, displayName string) error
}

// MemoryDirectory is a Directory that learns names as participants call in.
type MemoryDirectory struct {
	mu    sync.RWMutex
	names map[string]string
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{names: make(map[string]string)}
}

func (d *MemoryDirectory) DisplayName(_ context.Context, userID string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	name, ok := d.names[userID]
	if !ok {
		return "", store.ErrNotFound
	}
	return name, nil
}

func (d *MemoryDirectory) UpsertParticipant(_ context.Context, userID, displayName string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.names[userID] = displayName
	return nil
}

// RememberParticipant records the caller's display name when a recorder is
// configured. Failures are logged; they never block the call.
func (s *Service) RememberParticipant(ctx context.Context, actor Actor, displayName string) {
	displayName = strings.TrimSpace(displayName)
	if s.recorder == nil || displayName == "" || actor.UserID == "" {
		return
	}
	if err := s.recorder.UpsertParticipant(ctx, actor.UserID, displayName); err != nil {
		s.logger.Printf("directory: record participant %s: %v", actor.UserID, err)
	}
}
