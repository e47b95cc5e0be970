package util

import (
	"encoding/base64"
	"strings"
	"testing"
)

func TestNewIDPrefix(t *testing.T) {
	id := NewID("inv")
	if !strings.HasPrefix(id, "inv_") {
		t.Fatalf("expected inv_ prefix, got %q", id)
	}
	if NewID("inv") == id {
		t.Fatal("expected distinct ids")
	}
	if strings.Contains(NewID(""), "_") {
		t.Fatal("unprefixed id must not contain separator")
	}
}

func TestNewSecretLength(t *testing.T) {
	secret, err := NewSecret(32)
	if err != nil {
		t.Fatalf("NewSecret: %v", err)
	}
	raw, err := base64.RawURLEncoding.DecodeString(secret)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(raw) != 32 {
		t.Fatalf("expected 32 bytes, got %d", len(raw))
	}
}
