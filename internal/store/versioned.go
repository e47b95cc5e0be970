package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Versioned is implemented by every entity the Repository saves.
type Versioned interface {
	EntityVersion() int
}

// Repository wraps a Backend with the versioning rules: a first write must be
// version 1 and later writes must exceed the stored version.
type Repository struct {
	backend Backend
}

func NewRepository(backend Backend) *Repository {
	return &Repository{backend: backend}
}

func (r *Repository) Backend() Backend {
	return r.backend
}

// Save stores entity under key. It returns ErrStale, without writing, when the
// stored version is already at or beyond the entity's.
func (r *Repository) Save(ctx context.Context, key Key, entity Versioned) error {
	version := entity.EntityVersion()
	existing, err := r.backend.Get(ctx, key)
	switch {
	case errors.Is(err, ErrNotFound):
		if version != 1 {
			return fmt.Errorf("save %s at version %d: %w", key, version, ErrInvalidVersion)
		}
	case err != nil:
		return fmt.Errorf("load %s: %w", key, err)
	case version <= existing.Version:
		return ErrStale
	}

	data, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := r.backend.Put(ctx, Record{Key: key, Version: version, Data: data}); err != nil {
		if errors.Is(err, ErrStale) {
			return ErrStale
		}
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Exists reports whether a record is stored under key.
func (r *Repository) Exists(ctx context.Context, key Key) (bool, error) {
	_, err := r.backend.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Load decodes the record stored under key into a T.
func Load[T any](ctx context.Context, r *Repository, key Key) (T, error) {
	var out T
	record, err := r.backend.Get(ctx, key)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(record.Data, &out); err != nil {
		return out, fmt.Errorf("decode %s: %w", key, err)
	}
	return out, nil
}

// List decodes every record of one mission, scope and type.
func List[T any](ctx context.Context, r *Repository, missionID, scope, entityType string) ([]T, error) {
	records, err := r.backend.List(ctx, missionID, scope, entityType)
	if err != nil {
		return nil, fmt.Errorf("list %s/%s/%s: %w", missionID, scope, entityType, err)
	}
	items := make([]T, 0, len(records))
	for _, record := range records {
		var item T
		if err := json.Unmarshal(record.Data, &item); err != nil {
			return nil, fmt.Errorf("decode %s: %w", record.Key, err)
		}
		items = append(items, item)
	}
	return items, nil
}
