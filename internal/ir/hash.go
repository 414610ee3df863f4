package ir

import (
	"crypto/sha256"
	"fmt"
)

// DomainEvent prefixes EventHash inputs. Version suffix enables future algorithm migration.
const DomainEvent = "anchor/event/v1"

// BundleRoot commits to all six artifact hashes.
// Format: SHA256(core || evidence || contradictions || trust_receipt || decisions || timeline)
//
// The concatenation order is the commitment contract. Reordering produces a
// different, non-comparable root for the same inputs.
func BundleRoot(a ArtifactSet) Digest {
	h := sha256.New()
	for _, d := range a.Ordered() {
		h.Write(d[:])
	}
	var out Digest
	h.Sum(out[:0])
	return out
}

// ChainStep folds one event into the rolling chain head.
// Format: SHA256(prev_head || event_hash)
func ChainStep(prevHead, eventHash Digest) Digest {
	var buf [2 * DigestSize]byte
	copy(buf[:DigestSize], prevHead[:])
	copy(buf[DigestSize:], eventHash[:])
	return sha256.Sum256(buf[:])
}

// ReplayChain re-derives a chain head from the first event hash and every
// later event hash in append order. With no later events the head is the
// first event hash itself; the first link is never folded.
func ReplayChain(first Digest, events ...Digest) Digest {
	head := first
	for _, e := range events {
		head = ChainStep(head, e)
	}
	return head
}

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte (0x00) separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) Digest {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	var out Digest
	h.Sum(out[:0])
	return out
}

// EventHash derives a timeline event hash from a structured event document.
// The document is serialized with MarshalCanonical, so key order and
// Unicode normalization do not affect the result.
//
// Example: EventHash("sensor.reading", map[string]any{"sensor": "t-4", "value": 71})
func EventHash(kind string, doc map[string]any) (Digest, error) {
	canonical, err := MarshalCanonical(map[string]any{
		"kind": kind,
		"doc":  doc,
	})
	if err != nil {
		return Digest{}, fmt.Errorf("EventHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainEvent, canonical), nil
}

// MustEventHash is like EventHash but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustEventHash(kind string, doc map[string]any) Digest {
	d, err := EventHash(kind, doc)
	if err != nil {
		panic(err)
	}
	return d
}
