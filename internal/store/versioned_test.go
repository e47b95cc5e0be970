package store

import (
	"context"
	"errors"
	"testing"
)

type note struct {
	Version int    `json:"version"`
	Text    string `json:"text"`
}

func (n note) EntityVersion() int { return n.Version }

func TestRepositoryFirstWriteMustBeVersionOne(t *testing.T) {
	repo := NewRepository(NewMemoryStore())
	key := SharedKey("m1", TypeBriefing, "briefing")

	err := repo.Save(context.Background(), key, note{Version: 2, Text: "skip"})
	if !errors.Is(err, ErrInvalidVersion) {
		t.Fatalf("expected ErrInvalidVersion, got %v", err)
	}
	if exists, _ := repo.Exists(context.Background(), key); exists {
		t.Fatal("record must not be written")
	}
}

func TestRepositoryVersionMonotonicity(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(NewMemoryStore())
	key := SharedKey("m1", TypeBriefing, "briefing")

	if err := repo.Save(ctx, key, note{Version: 1, Text: "one"}); err != nil {
		t.Fatalf("save v1: %v", err)
	}
	if err := repo.Save(ctx, key, note{Version: 2, Text: "two"}); err != nil {
		t.Fatalf("save v2: %v", err)
	}

	cases := []struct {
		name    string
		version int
	}{
		{name: "older", version: 1},
		{name: "equal", version: 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := repo.Save(ctx, key, note{Version: tc.version, Text: "stale"})
			if !errors.Is(err, ErrStale) {
				t.Fatalf("expected ErrStale, got %v", err)
			}
			got, err := Load[note](ctx, repo, key)
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if got.Version != 2 || got.Text != "two" {
				t.Fatalf("stale write changed state: %+v", got)
			}
		})
	}

	if err := repo.Save(ctx, key, note{Version: 3, Text: "three"}); err != nil {
		t.Fatalf("save v3: %v", err)
	}
}

// racingBackend lets a competing writer land between the Repository's read
// and its write.
type racingBackend struct {
	*MemoryStore
	race func()
}

func (b *racingBackend) Put(ctx context.Context, record Record) error {
	if b.race != nil {
		race := b.race
		b.race = nil
		race()
	}
	return b.MemoryStore.Put(ctx, record)
}

func TestRepositoryBackendGuardsRace(t *testing.T) {
	ctx := context.Background()
	backend := &racingBackend{MemoryStore: NewMemoryStore()}
	repo := NewRepository(backend)
	key := SharedKey("m1", TypeStatus, "status")
	if err := repo.Save(ctx, key, note{Version: 1}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	backend.race = func() {
		if err := repo.Save(ctx, key, note{Version: 2, Text: "winner"}); err != nil {
			t.Errorf("winner save: %v", err)
		}
	}
	err := repo.Save(ctx, key, note{Version: 2, Text: "loser"})
	if !errors.Is(err, ErrStale) {
		t.Fatalf("expected ErrStale for the losing writer, got %v", err)
	}
	got, _ := Load[note](ctx, repo, key)
	if got.Text != "winner" {
		t.Fatalf("expected winner to persist, got %+v", got)
	}
}

func TestListDecodes(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(NewMemoryStore())
	for _, id := range []string{"r2", "r1"} {
		if err := repo.Save(ctx, SharedKey("m1", TypeRequests, id), note{Version: 1, Text: id}); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	items, err := List[note](ctx, repo, "m1", ScopeShared, TypeRequests)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 2 || items[0].Text != "r1" {
		t.Fatalf("unexpected items: %+v", items)
	}
}
