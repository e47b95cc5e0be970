package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"missionsync/internal/mission"
	"missionsync/internal/rbac"
	"missionsync/internal/store"
)

// StoreRegistry keeps links in the entity store: an index record per
// conversation under the registry pseudo mission, plus the role marker in the
// mission's own conversation area. Both are written once at version 1, so the
// backend's version check makes the first bind win.
type StoreRegistry struct {
	backend store.Backend
	now     func() time.Time
}

func NewStoreRegistry(backend store.Backend) *StoreRegistry {
	return &StoreRegistry{backend: backend, now: time.Now}
}

func (r *StoreRegistry) Bind(ctx context.Context, conversationID, missionID string, role rbac.Role) (mission.Binding, error) {
	if !role.Valid() {
		return mission.Binding{}, fmt.Errorf("bind %s: invalid role", conversationID)
	}
	binding := mission.Binding{
		ConversationID: conversationID,
		MissionID:      missionID,
		Role:           role,
		BoundAt:        r.now().UTC(),
	}
	payload, err := json.Marshal(binding)
	if err != nil {
		return mission.Binding{}, fmt.Errorf("marshal binding: %w", err)
	}

	indexKey := store.Key{MissionID: store.RegistryMission, Scope: store.ScopeConversations, ID: conversationID}
	err = r.backend.Put(ctx, store.Record{Key: indexKey, Version: 1, Data: payload})
	switch {
	case errors.Is(err, store.ErrStale):
		existing, lookupErr := r.Lookup(ctx, conversationID)
		if lookupErr != nil {
			return mission.Binding{}, lookupErr
		}
		if err := sameLink(existing, missionID, role); err != nil {
			return existing, err
		}
		binding = existing
		payload, _ = json.Marshal(binding)
	case err != nil:
		return mission.Binding{}, fmt.Errorf("bind conversation: %w", err)
	}

	marker := store.Record{Key: store.ConversationKey(missionID, conversationID), Version: 1, Data: payload}
	if err := r.backend.Put(ctx, marker); err != nil && !errors.Is(err, store.ErrStale) {
		return mission.Binding{}, fmt.Errorf("write role marker: %w", err)
	}
	return binding, nil
}

func (r *StoreRegistry) Lookup(ctx context.Context, conversationID string) (mission.Binding, error) {
	indexKey := store.Key{MissionID: store.RegistryMission, Scope: store.ScopeConversations, ID: conversationID}
	record, err := r.backend.Get(ctx, indexKey)
	if errors.Is(err, store.ErrNotFound) {
		return mission.Binding{}, ErrUnbound
	}
	if err != nil {
		return mission.Binding{}, fmt.Errorf("lookup conversation: %w", err)
	}
	var binding mission.Binding
	if err := json.Unmarshal(record.Data, &binding); err != nil {
		return mission.Binding{}, fmt.Errorf("decode binding: %w", err)
	}
	return binding, nil
}

func (r *StoreRegistry) Members(ctx context.Context, missionID string) ([]mission.Binding, error) {
	records, err := r.backend.List(ctx, missionID, store.ScopeConversations, "")
	if err != nil {
		return nil, fmt.Errorf("list mission members: %w", err)
	}
	items := make([]mission.Binding, 0, len(records))
	for _, record := range records {
		var binding mission.Binding
		if err := json.Unmarshal(record.Data, &binding); err != nil {
			return nil, fmt.Errorf("decode binding %s: %w", record.Key, err)
		}
		items = append(items, binding)
	}
	return items, nil
}
