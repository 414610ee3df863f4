package ir

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"strings"
)

// Identity is an authenticated caller: the raw ed25519 public key.
type Identity [ed25519.PublicKeySize]byte

// IdentityFromPublicKey copies an ed25519 public key into an Identity.
func IdentityFromPublicKey(pub ed25519.PublicKey) (Identity, error) {
	var id Identity
	if len(pub) != ed25519.PublicKeySize {
		return id, fmt.Errorf("public key has %d bytes, want %d", len(pub), ed25519.PublicKeySize)
	}
	copy(id[:], pub)
	return id, nil
}

// PublicKey returns the identity as an ed25519 public key.
func (id Identity) PublicKey() ed25519.PublicKey {
	return ed25519.PublicKey(id[:])
}

func (id Identity) String() string {
	return hex.EncodeToString(id[:])
}

// MarshalText implements encoding.TextMarshaler.
func (id Identity) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *Identity) UnmarshalText(text []byte) error {
	parsed, err := ParseIdentity(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseIdentity decodes a 64-character hex public key.
func ParseIdentity(s string) (Identity, error) {
	var id Identity
	s = strings.TrimPrefix(s, "0x")
	if len(s) != len(id)*2 {
		return id, fmt.Errorf("identity: want %d hex characters, got %d", len(id)*2, len(s))
	}
	if _, err := hex.Decode(id[:], []byte(s)); err != nil {
		return id, fmt.Errorf("identity: %w", err)
	}
	return id, nil
}
