package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/anchor/internal/ir"
)

// KeyPair is an ed25519 signing key and its public half.
type KeyPair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// keyFile is the on-disk form. Only the seed is secret; the public key is
// stored for operators and cross-checked on load.
type keyFile struct {
	Algorithm string `yaml:"algorithm"`
	Public    string `yaml:"public"`
	Seed      string `yaml:"seed"`
}

const algorithmEd25519 = "ed25519"

// Generate creates a key pair from r. A nil reader uses crypto/rand.
func Generate(r io.Reader) (KeyPair, error) {
	if r == nil {
		r = rand.Reader
	}
	pub, priv, err := ed25519.GenerateKey(r)
	if err != nil {
		return KeyPair{}, fmt.Errorf("generate key: %w", err)
	}
	return KeyPair{Public: pub, Private: priv}, nil
}

// FromSeed derives a key pair from a 32-byte seed.
func FromSeed(seed []byte) (KeyPair, error) {
	if len(seed) != ed25519.SeedSize {
		return KeyPair{}, fmt.Errorf("seed has %d bytes, want %d", len(seed), ed25519.SeedSize)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return KeyPair{Public: priv.Public().(ed25519.PublicKey), Private: priv}, nil
}

// Identity returns the public key as an ir.Identity.
func (k KeyPair) Identity() ir.Identity {
	var id ir.Identity
	copy(id[:], k.Public)
	return id
}

// Save writes the key pair to path with mode 0600.
// It refuses to overwrite an existing file.
func Save(path string, k KeyPair) error {
	data, err := yaml.Marshal(keyFile{
		Algorithm: algorithmEd25519,
		Public:    hex.EncodeToString(k.Public),
		Seed:      hex.EncodeToString(k.Private.Seed()),
	})
	if err != nil {
		return fmt.Errorf("encode key: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("create key file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write key file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close key file: %w", err)
	}
	return nil
}

// ErrKeyMismatch is returned by Load when the stored public key does not
// match the one derived from the seed.
var ErrKeyMismatch = errors.New("identity: public key does not match seed")

// Load reads a key pair written by Save.
func Load(path string) (KeyPair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return KeyPair{}, fmt.Errorf("read key file: %w", err)
	}

	var kf keyFile
	if err := yaml.Unmarshal(data, &kf); err != nil {
		return KeyPair{}, fmt.Errorf("parse key file %s: %w", path, err)
	}
	if kf.Algorithm != algorithmEd25519 {
		return KeyPair{}, fmt.Errorf("key file %s: unsupported algorithm %q", path, kf.Algorithm)
	}

	seed, err := hex.DecodeString(kf.Seed)
	if err != nil {
		return KeyPair{}, fmt.Errorf("key file %s: seed: %w", path, err)
	}
	k, err := FromSeed(seed)
	if err != nil {
		return KeyPair{}, fmt.Errorf("key file %s: %w", path, err)
	}

	if kf.Public != "" {
		pub, err := ir.ParseIdentity(kf.Public)
		if err != nil {
			return KeyPair{}, fmt.Errorf("key file %s: public: %w", path, err)
		}
		if pub != k.Identity() {
			return KeyPair{}, ErrKeyMismatch
		}
	}
	return k, nil
}
