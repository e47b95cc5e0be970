package propagate

import (
	"bytes"
	"context"
	"errors"
	"log"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"missionsync/internal/mission"
	"missionsync/internal/rbac"
)

type staticMembers []mission.Binding

func (m staticMembers) Members(context.Context, string) ([]mission.Binding, error) {
	return m, nil
}

type recorder struct {
	mu   sync.Mutex
	sent []string
	fail map[string]error
	slow map[string]bool
}

func (r *recorder) Notify(ctx context.Context, conversationID, text string) error {
	if r.slow[conversationID] {
		<-ctx.Done()
		return ctx.Err()
	}
	if err := r.fail[conversationID]; err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, conversationID)
	return nil
}

func members(ids ...string) staticMembers {
	out := make(staticMembers, 0, len(ids))
	for _, id := range ids {
		out = append(out, mission.Binding{ConversationID: id, MissionID: "m1", Role: rbac.RoleField})
	}
	return out
}

func TestBroadcastSkipsOrigin(t *testing.T) {
	rec := &recorder{}
	d := NewDispatcher(members("hq", "f1", "f2"), rec, time.Second, log.New(&bytes.Buffer{}, "", 0))

	result := d.Broadcast(context.Background(), "m1", "hq", "status changed")
	if result.Delivered != 2 || len(result.Failed) != 0 {
		t.Fatalf("unexpected result %+v", result)
	}
	sort.Strings(rec.sent)
	if strings.Join(rec.sent, ",") != "f1,f2" {
		t.Fatalf("unexpected recipients %v", rec.sent)
	}
}

func TestBroadcastCollectsFailures(t *testing.T) {
	var logs bytes.Buffer
	rec := &recorder{
		fail: map[string]error{"f1": errors.New("gateway down")},
		slow: map[string]bool{"f2": true},
	}
	d := NewDispatcher(members("hq", "f1", "f2", "f3"), rec, 20*time.Millisecond, log.New(&logs, "", 0))

	result := d.Broadcast(context.Background(), "m1", "hq", "request resolved")
	if result.Delivered != 1 {
		t.Fatalf("expected one delivery, got %+v", result)
	}
	if len(result.Failed) != 2 || result.Failed["f1"] == nil || !errors.Is(result.Failed["f2"], context.DeadlineExceeded) {
		t.Fatalf("unexpected failures %+v", result.Failed)
	}
	if !strings.Contains(logs.String(), "gateway down") {
		t.Fatalf("failure was not logged: %q", logs.String())
	}
}

func TestBroadcastRecoversNotifierPanic(t *testing.T) {
	notifier := NotifierFunc(func(context.Context, string, string) error { panic("boom") })
	d := NewDispatcher(members("f1"), notifier, time.Second, log.New(&bytes.Buffer{}, "", 0))
	result := d.Broadcast(context.Background(), "m1", "hq", "x")
	if result.Failed["f1"] == nil {
		t.Fatalf("expected panic to be reported, got %+v", result)
	}
}

type failingMembers struct{}

func (failingMembers) Members(context.Context, string) ([]mission.Binding, error) {
	return nil, errors.New("registry offline")
}

func TestBroadcastRegistryFailure(t *testing.T) {
	d := NewDispatcher(failingMembers{}, &recorder{}, time.Second, log.New(&bytes.Buffer{}, "", 0))
	result := d.Broadcast(context.Background(), "m1", "hq", "x")
	if result.Delivered != 0 || result.Failed["*"] == nil {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestRedisNotifierPublishes(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()
	n := NewRedisNotifier(client)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	notices, err := n.Subscribe(ctx, "f1")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := n.Notify(ctx, "f1", "briefing updated"); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	select {
	case notice := <-notices:
		if notice.ConversationID != "f1" || notice.Text != "briefing updated" {
			t.Fatalf("unexpected notice %+v", notice)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for notice")
	}
}
