package mission

import (
	"testing"
	"time"
)

func TestCanTransitionRequest(t *testing.T) {
	cases := []struct {
		from, to RequestStatus
		allow    bool
	}{
		{RequestNew, RequestAcknowledged, true},
		{RequestNew, RequestResolved, true},
		{RequestAcknowledged, RequestInProgress, true},
		{RequestInProgress, RequestAcknowledged, false},
		{RequestInProgress, RequestNew, false},
		{RequestNew, RequestDeferred, true},
		{RequestInProgress, RequestCancelled, true},
		{RequestDeferred, RequestInProgress, true},
		{RequestDeferred, RequestNew, false},
		{RequestDeferred, RequestDeferred, false},
		{RequestResolved, RequestCancelled, false},
		{RequestResolved, RequestDeferred, false},
		{RequestCancelled, RequestNew, false},
		{RequestCancelled, RequestResolved, false},
	}
	for _, tc := range cases {
		if got := CanTransitionRequest(tc.from, tc.to); got != tc.allow {
			t.Fatalf("CanTransitionRequest(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.allow)
		}
	}
}

func TestFieldRequestResolve(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	req := FieldRequest{ID: "r1", Status: RequestNew}
	if err := req.Resolve(now, "hq-1", "code is 4821"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if req.Status != RequestResolved || req.Resolution != "code is 4821" || req.ResolvedBy != "hq-1" {
		t.Fatalf("unexpected request %+v", req)
	}
	if req.ResolvedAt == nil || !req.ResolvedAt.Equal(now) {
		t.Fatalf("resolved_at not stamped: %v", req.ResolvedAt)
	}
	if len(req.Updates) != 1 || req.Updates[0].Status != RequestResolved {
		t.Fatalf("expected one resolved update, got %+v", req.Updates)
	}
	if err := req.Resolve(now, "hq-1", "again"); err == nil {
		t.Fatal("expected second resolve to fail")
	}
}

func TestParsePriority(t *testing.T) {
	cases := map[string]Priority{"": PriorityMedium, "HIGH": PriorityHigh, " critical ": PriorityCritical, "low": PriorityLow}
	for in, want := range cases {
		got, err := ParsePriority(in)
		if err != nil || got != want {
			t.Fatalf("ParsePriority(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParsePriority("urgent"); err == nil {
		t.Fatal("expected error for unknown priority")
	}
	if !PriorityCritical.Blocking() || PriorityMedium.Blocking() {
		t.Fatal("unexpected Blocking result")
	}
}

func TestInvitationEffectiveStatus(t *testing.T) {
	now := time.Now()
	inv := Invitation{Status: InvitationPending, Expires: now.Add(-time.Minute)}
	if inv.EffectiveStatus(now) != InvitationExpired {
		t.Fatalf("expected expired, got %s", inv.EffectiveStatus(now))
	}
	inv.Status = InvitationAccepted
	if inv.EffectiveStatus(now) != InvitationAccepted {
		t.Fatal("accepted invitations keep their status")
	}
}

func TestMetaTouch(t *testing.T) {
	now := time.Now()
	meta := NewMeta(now, "u1", "c1")
	meta.Touch(now.Add(time.Second), "u2", "c2")
	if meta.Version != 2 || meta.UpdatedBy != "u2" || meta.CreatedBy != "u1" || meta.ConversationID != "c2" {
		t.Fatalf("unexpected meta %+v", meta)
	}
}
