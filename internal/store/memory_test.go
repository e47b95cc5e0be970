package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func TestMemoryStorePutRejectsNonIncreasingVersions(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	key := SharedKey("m1", TypeStatus, "status")

	if err := s.Put(ctx, Record{Key: key, Version: 1, Data: json.RawMessage(`{"a":1}`)}); err != nil {
		t.Fatalf("put v1: %v", err)
	}

	for _, version := range []int{0, 1} {
		err := s.Put(ctx, Record{Key: key, Version: version, Data: json.RawMessage(`{"a":"stale"}`)})
		if !errors.Is(err, ErrStale) {
			t.Fatalf("version %d: expected ErrStale, got %v", version, err)
		}
	}

	got, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Version != 1 || string(got.Data) != `{"a":1}` {
		t.Fatalf("stored record changed: %+v", got)
	}

	if err := s.Put(ctx, Record{Key: key, Version: 2, Data: json.RawMessage(`{"a":2}`)}); err != nil {
		t.Fatalf("put v2: %v", err)
	}
	got, _ = s.Get(ctx, key)
	if got.Version != 2 {
		t.Fatalf("expected version 2, got %d", got.Version)
	}
}

func TestMemoryStoreGetMissing(t *testing.T) {
	_, err := NewMemoryStore().Get(context.Background(), SharedKey("m1", TypeBriefing, "briefing"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreListAndMissions(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	puts := []Key{
		SharedKey("m2", TypeRequests, "b"),
		SharedKey("m2", TypeRequests, "a"),
		SharedKey("m2", TypeStatus, "status"),
		SharedKey("m1", TypeStatus, "status"),
		InvitationKey("m2", "inv_1"),
	}
	for _, key := range puts {
		if err := s.Put(ctx, Record{Key: key, Version: 1, Data: json.RawMessage(`{}`)}); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}

	items, err := s.List(ctx, "m2", ScopeShared, TypeRequests)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 2 || items[0].Key.ID != "a" || items[1].Key.ID != "b" {
		t.Fatalf("unexpected list result: %+v", items)
	}

	missions, err := s.Missions(ctx)
	if err != nil {
		t.Fatalf("missions: %v", err)
	}
	if len(missions) != 2 || missions[0] != "m1" || missions[1] != "m2" {
		t.Fatalf("unexpected missions: %v", missions)
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	key := SharedKey("m1", TypeKB, "kb")
	data := json.RawMessage(`{"x":1}`)
	if err := s.Put(ctx, Record{Key: key, Version: 1, Data: data}); err != nil {
		t.Fatalf("put: %v", err)
	}
	data[2] = 'y'

	got, _ := s.Get(ctx, key)
	got.Data[2] = 'z'
	again, _ := s.Get(ctx, key)
	if string(again.Data) != `{"x":1}` {
		t.Fatalf("stored bytes were aliased: %s", again.Data)
	}
}

func TestKeyPath(t *testing.T) {
	cases := []struct {
		key  Key
		want string
	}{
		{SingletonKey("m1", TypeBriefing), "m1/shared/briefing/briefing"},
		{InvitationKey("m1", "inv_1"), "m1/invitations/inv_1"},
		{ConversationKey("m1", "c9"), "m1/conversations/c9"},
		{HQKey("m1", "join-code", "permanent"), "m1/hq/join-code/permanent"},
	}
	for _, tc := range cases {
		if got := tc.key.Path(); got != tc.want {
			t.Fatalf("Path() = %q, want %q", got, tc.want)
		}
	}
}
