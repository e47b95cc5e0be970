// Package invite issues and checks the bearer tokens behind invitation codes.
//
// A code has the form "invitation_id:token". Only a bcrypt hash of the token
// is persisted; possession of the plaintext is the whole authorization.
package invite

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"missionsync/internal/util"
)

// TokenBytes is the token entropy, 256 bits.
const TokenBytes = 32

var (
	ErrMalformedCode = errors.New("malformed invitation code")
	ErrTokenMismatch = errors.New("invitation token does not match")
)

type Hasher struct {
	cost int
}

// NewHasher returns a Hasher using the given bcrypt cost; out of range values
// fall back to bcrypt.DefaultCost.
func NewHasher(cost int) Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return Hasher{cost: cost}
}

// Issue returns a fresh token and the hash to persist for it.
func (h Hasher) Issue() (token, hash string, err error) {
	token, err = util.NewSecret(TokenBytes)
	if err != nil {
		return "", "", fmt.Errorf("generate token: %w", err)
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(token), h.cost)
	if err != nil {
		return "", "", fmt.Errorf("hash token: %w", err)
	}
	return token, string(hashed), nil
}

// Verify compares token with a stored hash in constant time.
func (h Hasher) Verify(hash, token string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(token))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrTokenMismatch
	}
	if err != nil {
		return fmt.Errorf("compare token: %w", err)
	}
	return nil
}

func FormatCode(invitationID, token string) string {
	return invitationID + ":" + token
}

// ParseCode splits a code at its first colon. Surrounding whitespace is
// ignored since codes are usually pasted by hand.
func ParseCode(code string) (invitationID, token string, err error) {
	invitationID, token, ok := strings.Cut(strings.TrimSpace(code), ":")
	if !ok || invitationID == "" || token == "" {
		return "", "", ErrMalformedCode
	}
	return invitationID, token, nil
}
