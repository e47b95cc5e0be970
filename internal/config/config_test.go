package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MISSIONSYNC_STORE", "")
	t.Setenv("MISSIONSYNC_INVITE_TTL_HOURS", "")
	cfg := Load()
	if cfg.StoreBackend != BackendMemory {
		t.Fatalf("expected memory backend, got %q", cfg.StoreBackend)
	}
	if cfg.InviteTTL != 24*time.Hour {
		t.Fatalf("expected 24h invite ttl, got %s", cfg.InviteTTL)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("MISSIONSYNC_STORE", BackendPostgres)
	t.Setenv("MISSIONSYNC_NOTIFY_TIMEOUT_MS", "250")
	t.Setenv("MISSIONSYNC_LOG_APPEND_RETRIES", "not-a-number")
	t.Setenv("MINIO_USE_SSL", "true")
	cfg := Load()
	if cfg.StoreBackend != BackendPostgres {
		t.Fatalf("store backend = %q", cfg.StoreBackend)
	}
	if cfg.NotifyTimeout != 250*time.Millisecond {
		t.Fatalf("notify timeout = %s", cfg.NotifyTimeout)
	}
	if cfg.LogAppendRetries != 5 {
		t.Fatalf("invalid ints fall back to the default, got %d", cfg.LogAppendRetries)
	}
	if !cfg.MinioUseSSL {
		t.Fatal("expected MINIO_USE_SSL to parse")
	}
}

func TestLoadFileOverlay(t *testing.T) {
	t.Setenv("MISSIONSYNC_STORE", "")
	path := filepath.Join(t.TempDir(), "missionsync.yaml")
	body := "store_backend: minio\ninvite_ttl: 36h\nledger_dir: /var/lib/missionsync/ledger\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.StoreBackend != BackendMinio || cfg.InviteTTL != 36*time.Hour {
		t.Fatalf("overlay not applied: %+v", cfg)
	}
	if cfg.LedgerDir != "/var/lib/missionsync/ledger" {
		t.Fatalf("ledger dir = %q", cfg.LedgerDir)
	}
	if cfg.JWTSecret == "" {
		t.Fatal("fields absent from the file keep their env values")
	}
}

func TestLoadFileRejectsUnknownBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("store_backend: sqlite\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected validation error")
	}
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected read error")
	}
}
