package invite

import (
	"errors"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestIssueAndVerify(t *testing.T) {
	h := NewHasher(bcrypt.MinCost)
	token, hash, err := h.Issue()
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if token == hash {
		t.Fatal("hash must differ from token")
	}
	if err := h.Verify(hash, token); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if err := h.Verify(hash, token+"x"); !errors.Is(err, ErrTokenMismatch) {
		t.Fatalf("expected ErrTokenMismatch, got %v", err)
	}

	other, _, err := h.Issue()
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if other == token {
		t.Fatal("tokens must be unique")
	}
}

func TestVerifyRejectsGarbageHash(t *testing.T) {
	err := NewHasher(bcrypt.MinCost).Verify("not-a-hash", "token")
	if err == nil || errors.Is(err, ErrTokenMismatch) {
		t.Fatalf("expected a non-mismatch error, got %v", err)
	}
}

func TestParseCode(t *testing.T) {
	cases := []struct {
		code    string
		id      string
		token   string
		wantErr bool
	}{
		{code: "inv_1:abc", id: "inv_1", token: "abc"},
		{code: "  inv_1:abc:def \n", id: "inv_1", token: "abc:def"},
		{code: "inv_1", wantErr: true},
		{code: ":abc", wantErr: true},
		{code: "inv_1:", wantErr: true},
	}
	for _, tc := range cases {
		id, token, err := ParseCode(tc.code)
		if tc.wantErr {
			if !errors.Is(err, ErrMalformedCode) {
				t.Fatalf("ParseCode(%q): expected ErrMalformedCode, got %v", tc.code, err)
			}
			continue
		}
		if err != nil || id != tc.id || token != tc.token {
			t.Fatalf("ParseCode(%q) = %q, %q, %v", tc.code, id, token, err)
		}
	}
	if FormatCode("inv_1", "abc") != "inv_1:abc" {
		t.Fatal("FormatCode mismatch")
	}
}

func TestNewHasherClampsCost(t *testing.T) {
	if NewHasher(0).cost != bcrypt.DefaultCost {
		t.Fatal("expected default cost for zero")
	}
	if NewHasher(bcrypt.MinCost).cost != bcrypt.MinCost {
		t.Fatal("expected min cost to be kept")
	}
}
