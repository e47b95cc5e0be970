package ledger

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"missionsync/internal/mission"
)

func sampleEntries(n int) []mission.LogEntry {
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	items := make([]mission.LogEntry, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, mission.LogEntry{
			ID:        "log_" + string(rune('a'+i)),
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			EntryType: mission.EntryStatusUpdated,
			Message:   "update",
			UserID:    "u1",
			UserName:  "Avery Quinn",
			Metadata:  map[string]string{"n": string(rune('0' + i))},
		})
	}
	return items
}

func TestSyncMirrorsEachEntryOnce(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)
	entries := sampleEntries(3)

	commits, err := svc.Sync("m1", entries[:2])
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if len(commits) != 2 {
		t.Fatalf("expected 2 commits, got %d", len(commits))
	}
	if _, err := os.Stat(filepath.Join(tempDir, "m1", ".git")); err != nil {
		t.Fatalf("repo missing: %v", err)
	}

	commits, err = svc.Sync("m1", entries)
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if len(commits) != 1 {
		t.Fatalf("expected only the new entry to be committed, got %d", len(commits))
	}
	if commits, _ = svc.Sync("m1", entries); len(commits) != 0 {
		t.Fatalf("expected no-op sync, got %d commits", len(commits))
	}

	history, err := svc.History("m1", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 commits, got %d", len(history))
	}
	if history[0].Author != "Avery Quinn" || !strings.HasPrefix(history[0].Message, "STATUS_UPDATED") {
		t.Fatalf("unexpected head commit %+v", history[0])
	}

	limited, err := svc.History("m1", 2)
	if err != nil || len(limited) != 2 {
		t.Fatalf("History(limit) = %d, %v", len(limited), err)
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	svc := New(t.TempDir())
	entries := sampleEntries(3)
	if _, err := svc.Sync("m1", entries); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}

	report, err := svc.Verify("m1", entries)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !report.OK() {
		t.Fatalf("expected clean report, got %+v", report)
	}

	tampered := append([]mission.LogEntry(nil), entries...)
	tampered[1].Message = "rewritten"
	report, err = svc.Verify("m1", tampered)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if report.OK() || report.Divergence != 1 {
		t.Fatalf("expected divergence at 1, got %+v", report)
	}

	if _, err := svc.Sync("m1", tampered); !errors.Is(err, ErrDiverged) {
		t.Fatalf("expected ErrDiverged, got %v", err)
	}

	truncated := entries[:1]
	report, _ = svc.Verify("m1", truncated)
	if report.Divergence != 1 {
		t.Fatalf("expected truncation to be detected at 1, got %+v", report)
	}
	if commits, err := svc.Sync("m1", truncated); err != nil || len(commits) != 0 {
		t.Fatalf("older snapshot should be a no-op, got %d commits, %v", len(commits), err)
	}
}

func TestVerifyWithoutMirror(t *testing.T) {
	svc := New(t.TempDir())
	report, err := svc.Verify("unknown", sampleEntries(2))
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if report.OK() || report.Mirrored != 0 || report.Divergence != -1 {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestConcurrentSyncSerialisesPerMission(t *testing.T) {
	svc := New(t.TempDir())
	entries := sampleEntries(4)

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 1; i <= 4; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if _, err := svc.Sync("m1", entries[:n]); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("Sync() error = %v", err)
	}

	report, err := svc.Verify("m1", entries)
	if err != nil || !report.OK() {
		t.Fatalf("expected complete mirror, got %+v, %v", report, err)
	}
}

func TestSanitizeEmail(t *testing.T) {
	if got := sanitizeEmail("Avery Quinn-2"); got != "Avery.Quinn.2" {
		t.Fatalf("sanitizeEmail = %q", got)
	}
	if got := sanitizeEmail("!!"); got != "user" {
		t.Fatalf("sanitizeEmail = %q", got)
	}
}
