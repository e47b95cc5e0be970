package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a process-local Backend. It is used by tests and by
// single-process deployments that do not need durability.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[Key]Record
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[Key]Record{}, now: time.Now}
}

func (s *MemoryStore) Get(_ context.Context, key Key) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[key]
	if !ok {
		return Record{}, fmt.Errorf("get %s: %w", key, ErrNotFound)
	}
	return cloneRecord(record), nil
}

func (s *MemoryStore) Put(_ context.Context, record Record) error {
	if !record.Key.valid() {
		return fmt.Errorf("put %s: invalid key", record.Key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.records[record.Key]; ok && record.Version <= existing.Version {
		return ErrStale
	}
	record = cloneRecord(record)
	record.UpdatedAt = s.now().UTC()
	s.records[record.Key] = record
	return nil
}

func (s *MemoryStore) List(_ context.Context, missionID, scope, entityType string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]Record, 0)
	for key, record := range s.records {
		if key.MissionID == missionID && key.Scope == scope && key.Type == entityType {
			items = append(items, cloneRecord(record))
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Key.ID < items[j].Key.ID })
	return items, nil
}

func (s *MemoryStore) Missions(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0)
	for key := range s.records {
		if key.Scope == ScopeShared && key.Type == TypeStatus {
			ids = append(ids, key.MissionID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

func cloneRecord(record Record) Record {
	record.Data = append([]byte(nil), record.Data...)
	return record
}
