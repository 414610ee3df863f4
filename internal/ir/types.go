package ir

import (
	"fmt"
	"strings"
	"time"
)

// MaxURILen bounds PacketURI in bytes.
const MaxURILen = 200

// Role is the owner's position in the review hierarchy.
type Role uint8

const (
	RoleFrontline     Role = 0
	RoleReviewer      Role = 1
	RoleAdministrator Role = 2
)

var roleNames = [...]string{
	RoleFrontline:     "frontline",
	RoleReviewer:      "reviewer",
	RoleAdministrator: "administrator",
}

// Valid reports whether r is one of the three enumerants.
func (r Role) Valid() bool {
	return int(r) < len(roleNames)
}

func (r Role) String() string {
	if !r.Valid() {
		return fmt.Sprintf("role(%d)", uint8(r))
	}
	return roleNames[r]
}

// MarshalText implements encoding.TextMarshaler.
func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, ErrInvalidRole
	}
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// ParseRole accepts a role name (case-insensitive) or its numeric value.
func ParseRole(s string) (Role, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range roleNames {
		if s == name || s == fmt.Sprint(i) {
			return Role(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidRole, s)
}

// ArtifactKind names one of the six committed artifact categories.
// The numeric order is the canonical BundleRoot concatenation order.
type ArtifactKind int

const (
	ArtifactCore ArtifactKind = iota
	ArtifactEvidence
	ArtifactContradictions
	ArtifactTrustReceipt
	ArtifactDecisions
	ArtifactTimeline

	artifactKindCount
)

var artifactKindNames = [artifactKindCount]string{
	ArtifactCore:           "core",
	ArtifactEvidence:       "evidence",
	ArtifactContradictions: "contradictions",
	ArtifactTrustReceipt:   "trust_receipt",
	ArtifactDecisions:      "decisions",
	ArtifactTimeline:       "timeline",
}

// ArtifactKinds lists every kind in canonical order.
func ArtifactKinds() []ArtifactKind {
	kinds := make([]ArtifactKind, artifactKindCount)
	for i := range kinds {
		kinds[i] = ArtifactKind(i)
	}
	return kinds
}

func (k ArtifactKind) String() string {
	if k < 0 || k >= artifactKindCount {
		return fmt.Sprintf("artifact(%d)", int(k))
	}
	return artifactKindNames[k]
}

// MarshalText implements encoding.TextMarshaler.
func (k ArtifactKind) MarshalText() ([]byte, error) {
	if k < 0 || k >= artifactKindCount {
		return nil, fmt.Errorf("unknown artifact kind %d", int(k))
	}
	return []byte(artifactKindNames[k]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *ArtifactKind) UnmarshalText(text []byte) error {
	parsed, err := ParseArtifactKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseArtifactKind resolves a kind by name.
func ParseArtifactKind(s string) (ArtifactKind, error) {
	for i, name := range artifactKindNames {
		if s == name {
			return ArtifactKind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown artifact kind %q", s)
}

// ArtifactSet holds the six artifact hashes. Field order matches ArtifactKind.
type ArtifactSet struct {
	Core           Digest `json:"core"`
	Evidence       Digest `json:"evidence"`
	Contradictions Digest `json:"contradictions"`
	TrustReceipt   Digest `json:"trust_receipt"`
	Decisions      Digest `json:"decisions"`
	Timeline       Digest `json:"timeline"`
}

// Ordered returns the hashes in canonical BundleRoot order.
func (a ArtifactSet) Ordered() [artifactKindCount]Digest {
	return [artifactKindCount]Digest{
		a.Core, a.Evidence, a.Contradictions, a.TrustReceipt, a.Decisions, a.Timeline,
	}
}

// Get returns the hash for kind.
func (a ArtifactSet) Get(kind ArtifactKind) Digest {
	return a.Ordered()[kind]
}

// With returns a copy of a with kind set to d.
func (a ArtifactSet) With(kind ArtifactKind, d Digest) ArtifactSet {
	switch kind {
	case ArtifactCore:
		a.Core = d
	case ArtifactEvidence:
		a.Evidence = d
	case ArtifactContradictions:
		a.Contradictions = d
	case ArtifactTrustReceipt:
		a.TrustReceipt = d
	case ArtifactDecisions:
		a.Decisions = d
	case ArtifactTimeline:
		a.Timeline = d
	}
	return a
}

// IntegrityRecord is the per-incident committed state.
//
// INVARIANTS:
//   - BundleRoot == BundleRoot(Artifacts) after every artifact mutation
//   - EventChainHead == ReplayChain(first event, later events...)
//   - EventCount is the number of chain links, creation included; never decreases
//   - Owner, IncidentID, OwnerRole and CreatedAt never change after creation
//   - Approver and ApprovedAt are set together, once, when RequiresApproval flips false
type IntegrityRecord struct {
	Owner            Identity    `json:"owner"`
	IncidentID       uint64      `json:"incident_id"`
	Artifacts        ArtifactSet `json:"artifacts"`
	BundleRoot       Digest      `json:"bundle_root"`
	EventChainHead   Digest      `json:"event_chain_head"`
	EventCount       uint32      `json:"event_count"`
	OwnerRole        Role        `json:"owner_role"`
	Approver         *Identity   `json:"approver,omitempty"`
	RequiresApproval bool        `json:"requires_approval"`
	ApprovedAt       *time.Time  `json:"approved_at,omitempty"`
	PacketURI        string      `json:"packet_uri"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// Clone returns a deep copy; pointer fields are not shared with r.
func (r IntegrityRecord) Clone() IntegrityRecord {
	out := r
	if r.Approver != nil {
		approver := *r.Approver
		out.Approver = &approver
	}
	if r.ApprovedAt != nil {
		at := *r.ApprovedAt
		out.ApprovedAt = &at
	}
	return out
}

// CheckURI validates the PacketURI bound.
func CheckURI(uri string) error {
	if len(uri) > MaxURILen {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrURITooLong, len(uri), MaxURILen)
	}
	return nil
}
