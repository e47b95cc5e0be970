package bootstrap

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"missionsync/internal/app"
	"missionsync/internal/config"
)

func TestBuildMemoryRuntime(t *testing.T) {
	cfg := config.Load()
	cfg.StoreBackend = config.BackendMemory
	cfg.RedisURL = ""
	cfg.MeiliURL = ""
	cfg.InviteHashCost = 4
	cfg.LedgerDir = filepath.Join(t.TempDir(), "ledger")

	rt, err := Build(context.Background(), cfg, Options{})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer rt.Close()
	if rt.DB != nil {
		t.Fatal("memory runtime should not open a database")
	}

	ctx := context.Background()
	hq := app.Actor{UserID: "u-hq", ConversationID: "conv-hq"}
	created, err := rt.Service.CreateMission(ctx, hq)
	if err != nil {
		t.Fatalf("create mission: %v", err)
	}
	report, err := rt.Service.VerifyLedger(ctx, hq)
	if err != nil {
		t.Fatalf("verify ledger: %v", err)
	}
	if !report.OK() {
		t.Fatalf("expected a clean ledger for %s, got %+v", created.MissionID, report)
	}
	if count, err := rt.Service.ReindexAll(ctx); err != nil || count != 1 {
		t.Fatalf("expected one mission reindexed, got %d %v", count, err)
	}
}

func TestBuildRejectsUnknownBackend(t *testing.T) {
	cfg := config.Load()
	cfg.StoreBackend = "sqlite"
	cfg.RedisURL = ""

	_, err := Build(context.Background(), cfg, Options{})
	if err == nil || !strings.Contains(err.Error(), "sqlite") {
		t.Fatalf("expected unknown backend error, got %v", err)
	}
}
