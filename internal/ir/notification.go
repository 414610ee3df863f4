package ir

import (
	"time"
)

// NotificationKind identifies which transition produced a notification.
type NotificationKind string

const (
	KindRecordCreated    NotificationKind = "record_created"
	KindEventAppended    NotificationKind = "event_appended"
	KindArtifactsUpdated NotificationKind = "artifacts_updated"
	KindRecordApproved   NotificationKind = "record_approved"
)

// Payload is the transition-specific body of a Notification.
// Implemented by RecordCreated, EventAppended, ArtifactsUpdated and RecordApproved.
type Payload interface {
	Kind() NotificationKind
	fields() map[string]any
}

// ChainLink describes the event-chain link a notification committed.
// Journals persist links in order so the head can be re-derived from genesis.
type ChainLink struct {
	EventHash Digest `json:"event_hash"`
	Head      Digest `json:"head"`
	Count     uint32 `json:"count"`
}

// Linked is implemented by payloads that add a link to the event chain.
// RecordApproved does not.
type Linked interface {
	Link() ChainLink
}

// Notification announces a committed transition.
type Notification struct {
	ID         string    `json:"id"`
	IncidentID uint64    `json:"incident_id"`
	Timestamp  time.Time `json:"timestamp"`
	Payload    Payload   `json:"payload"`
}

// Kind returns the payload kind.
func (n Notification) Kind() NotificationKind {
	if n.Payload == nil {
		return ""
	}
	return n.Payload.Kind()
}

// Link returns the chain link committed by n, if any.
func (n Notification) Link() (ChainLink, bool) {
	if l, ok := n.Payload.(Linked); ok {
		return l.Link(), true
	}
	return ChainLink{}, false
}

// Canonical returns the RFC 8785 canonical JSON form used for publishing
// and journaling. Timestamps are Unix seconds.
func (n Notification) Canonical() ([]byte, error) {
	obj := map[string]any{
		"id":          n.ID,
		"kind":        string(n.Kind()),
		"incident_id": n.IncidentID,
		"timestamp":   n.Timestamp.Unix(),
	}
	if n.Payload != nil {
		obj["payload"] = n.Payload.fields()
	}
	return MarshalCanonical(obj)
}

// RecordCreated is emitted by the creation transition.
type RecordCreated struct {
	Owner      Identity `json:"owner"`
	Role       Role     `json:"role"`
	BundleRoot Digest   `json:"bundle_root"`
	FirstEvent Digest   `json:"first_event"`
	PacketURI  string   `json:"packet_uri"`
}

func (RecordCreated) Kind() NotificationKind { return KindRecordCreated }

// Link returns the genesis link: the first event hash is the head itself.
func (p RecordCreated) Link() ChainLink {
	return ChainLink{EventHash: p.FirstEvent, Head: p.FirstEvent, Count: 1}
}

func (p RecordCreated) fields() map[string]any {
	return map[string]any{
		"owner":       p.Owner,
		"role":        p.Role.String(),
		"bundle_root": p.BundleRoot,
		"first_event": p.FirstEvent,
		"packet_uri":  p.PacketURI,
	}
}

// EventAppended is emitted by the append-event transition.
type EventAppended struct {
	EventHash  Digest `json:"event_hash"`
	NewHead    Digest `json:"new_head"`
	EventCount uint32 `json:"event_count"`
}

func (EventAppended) Kind() NotificationKind { return KindEventAppended }

func (p EventAppended) Link() ChainLink {
	return ChainLink{EventHash: p.EventHash, Head: p.NewHead, Count: p.EventCount}
}

func (p EventAppended) fields() map[string]any {
	return map[string]any{
		"event_hash":  p.EventHash,
		"new_head":    p.NewHead,
		"event_count": p.EventCount,
	}
}

// ArtifactsUpdated is emitted by the update-artifacts transition.
// The change event is itself a chain link.
type ArtifactsUpdated struct {
	Operator    Identity       `json:"operator"`
	OldRoot     Digest         `json:"old_bundle_root"`
	NewRoot     Digest         `json:"new_bundle_root"`
	Changed     []ArtifactKind `json:"changed"`
	ChangeEvent Digest         `json:"change_event"`
	NewHead     Digest         `json:"new_head"`
	EventCount  uint32         `json:"event_count"`
	PacketURI   string         `json:"packet_uri"`
}

func (ArtifactsUpdated) Kind() NotificationKind { return KindArtifactsUpdated }

func (p ArtifactsUpdated) Link() ChainLink {
	return ChainLink{EventHash: p.ChangeEvent, Head: p.NewHead, Count: p.EventCount}
}

func (p ArtifactsUpdated) fields() map[string]any {
	changed := make([]any, len(p.Changed))
	for i, k := range p.Changed {
		changed[i] = k.String()
	}
	return map[string]any{
		"operator":        p.Operator,
		"old_bundle_root": p.OldRoot,
		"new_bundle_root": p.NewRoot,
		"changed":         changed,
		"change_event":    p.ChangeEvent,
		"new_head":        p.NewHead,
		"event_count":     p.EventCount,
		"packet_uri":      p.PacketURI,
	}
}

// RecordApproved is emitted by the approval transition.
type RecordApproved struct {
	Operator Identity `json:"operator"`
	Approver Identity `json:"approver"`
}

func (RecordApproved) Kind() NotificationKind { return KindRecordApproved }

func (p RecordApproved) fields() map[string]any {
	return map[string]any{
		"operator": p.Operator,
		"approver": p.Approver,
	}
}
