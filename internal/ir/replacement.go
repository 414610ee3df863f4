package ir

// Replacement is a per-field update choice: Unchanged or Replace(value).
// The zero value is Unchanged, so an omitted field never overwrites a
// stored hash, not even with the zero digest.
type Replacement struct {
	set   bool
	value Digest
}

// Unchanged keeps the stored value.
func Unchanged() Replacement {
	return Replacement{}
}

// Replace overwrites the stored value with d.
func Replace(d Digest) Replacement {
	return Replacement{set: true, value: d}
}

// Get returns the replacement value and whether one was supplied.
func (r Replacement) Get() (Digest, bool) {
	return r.value, r.set
}

// Apply returns the replacement value if set, otherwise current.
func (r Replacement) Apply(current Digest) Digest {
	if r.set {
		return r.value
	}
	return current
}

// URIReplacement is the Unchanged | Replace(uri) choice for PacketURI.
// An explicit empty string is a valid replacement.
type URIReplacement struct {
	set   bool
	value string
}

// KeepURI keeps the stored PacketURI.
func KeepURI() URIReplacement {
	return URIReplacement{}
}

// ReplaceURI overwrites the stored PacketURI.
func ReplaceURI(uri string) URIReplacement {
	return URIReplacement{set: true, value: uri}
}

// Get returns the replacement URI and whether one was supplied.
func (r URIReplacement) Get() (string, bool) {
	return r.value, r.set
}

// ArtifactUpdate carries one Replacement per artifact kind.
type ArtifactUpdate struct {
	Core           Replacement
	Evidence       Replacement
	Contradictions Replacement
	TrustReceipt   Replacement
	Decisions      Replacement
	Timeline       Replacement
}

// Set records a replacement for kind and returns the updated value.
func (u ArtifactUpdate) Set(kind ArtifactKind, d Digest) ArtifactUpdate {
	r := Replace(d)
	switch kind {
	case ArtifactCore:
		u.Core = r
	case ArtifactEvidence:
		u.Evidence = r
	case ArtifactContradictions:
		u.Contradictions = r
	case ArtifactTrustReceipt:
		u.TrustReceipt = r
	case ArtifactDecisions:
		u.Decisions = r
	case ArtifactTimeline:
		u.Timeline = r
	}
	return u
}

// ApplyTo merges the supplied replacements over a.
func (u ArtifactUpdate) ApplyTo(a ArtifactSet) ArtifactSet {
	return ArtifactSet{
		Core:           u.Core.Apply(a.Core),
		Evidence:       u.Evidence.Apply(a.Evidence),
		Contradictions: u.Contradictions.Apply(a.Contradictions),
		TrustReceipt:   u.TrustReceipt.Apply(a.TrustReceipt),
		Decisions:      u.Decisions.Apply(a.Decisions),
		Timeline:       u.Timeline.Apply(a.Timeline),
	}
}

// Get returns the replacement for kind and whether one was supplied.
func (u ArtifactUpdate) Get(kind ArtifactKind) (Digest, bool) {
	if kind < 0 || kind >= artifactKindCount {
		return Digest{}, false
	}
	return u.ordered()[kind].Get()
}

// Changed lists the kinds with a supplied replacement, in canonical order.
func (u ArtifactUpdate) Changed() []ArtifactKind {
	var kinds []ArtifactKind
	for i, r := range u.ordered() {
		if _, ok := r.Get(); ok {
			kinds = append(kinds, ArtifactKind(i))
		}
	}
	return kinds
}

func (u ArtifactUpdate) ordered() [artifactKindCount]Replacement {
	return [artifactKindCount]Replacement{u.Core, u.Evidence, u.Contradictions, u.TrustReceipt, u.Decisions, u.Timeline}
}
