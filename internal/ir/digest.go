package ir

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// DigestSize is the width of every committed hash in bytes.
const DigestSize = 32

// Digest is a SHA-256 output or a caller-supplied 32-byte content hash.
type Digest [DigestSize]byte

// String returns the lowercase hex encoding.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// IsZero reports whether every byte is zero.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// MarshalText implements encoding.TextMarshaler.
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Digest) UnmarshalText(text []byte) error {
	parsed, err := ParseDigest(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseDigest decodes a 64-character hex string. An optional "0x" prefix is accepted.
// Returns ErrInvalidHash for any other input.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s) != DigestSize*2 {
		return d, fmt.Errorf("%w: want %d hex characters, got %d", ErrInvalidHash, DigestSize*2, len(s))
	}
	if _, err := hex.Decode(d[:], []byte(s)); err != nil {
		return d, fmt.Errorf("%w: %v", ErrInvalidHash, err)
	}
	return d, nil
}

// MustParseDigest is like ParseDigest but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustParseDigest(s string) Digest {
	d, err := ParseDigest(s)
	if err != nil {
		panic(err)
	}
	return d
}

// RepeatByte returns a digest with every byte set to b (0xAA… style fixtures).
func RepeatByte(b byte) Digest {
	var d Digest
	for i := range d {
		d[i] = b
	}
	return d
}
