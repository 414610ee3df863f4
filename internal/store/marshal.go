package store

import (
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/roach88/anchor/internal/ir"
)

// recordColumns lists records columns in scan order.
const recordColumns = `incident_id, owner, owner_role,
	core, evidence, contradictions, trust_receipt, decisions, timeline,
	bundle_root, event_chain_head, event_count, requires_approval,
	approver, approved_at, packet_uri, created_at, updated_at`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// incidentKey maps an incident id onto a signed 64-bit column.
// database/sql rejects uint64 values with the high bit set, so ids are
// stored bit-for-bit as int64.
func incidentKey(id uint64) int64 {
	return int64(id)
}

// recordArgs returns the column values for rec in recordColumns order.
func recordArgs(rec ir.IntegrityRecord) []any {
	var approver sql.NullString
	if rec.Approver != nil {
		approver = sql.NullString{String: rec.Approver.String(), Valid: true}
	}
	var approvedAt sql.NullInt64
	if rec.ApprovedAt != nil {
		approvedAt = sql.NullInt64{Int64: rec.ApprovedAt.Unix(), Valid: true}
	}
	a := rec.Artifacts
	return []any{
		incidentKey(rec.IncidentID),
		rec.Owner.String(),
		int64(rec.OwnerRole),
		a.Core.String(),
		a.Evidence.String(),
		a.Contradictions.String(),
		a.TrustReceipt.String(),
		a.Decisions.String(),
		a.Timeline.String(),
		rec.BundleRoot.String(),
		rec.EventChainHead.String(),
		int64(rec.EventCount),
		rec.RequiresApproval,
		approver,
		approvedAt,
		rec.PacketURI,
		rec.CreatedAt.Unix(),
		rec.UpdatedAt.Unix(),
	}
}

// scanRecord reads one records row in recordColumns order.
func scanRecord(row rowScanner) (ir.IntegrityRecord, error) {
	var (
		rec                  ir.IntegrityRecord
		id, role, count      int64
		owner, root, head    string
		artifacts            [6]string
		approver             sql.NullString
		approvedAt           sql.NullInt64
		createdAt, updatedAt int64
	)
	err := row.Scan(
		&id, &owner, &role,
		&artifacts[0], &artifacts[1], &artifacts[2], &artifacts[3], &artifacts[4], &artifacts[5],
		&root, &head, &count, &rec.RequiresApproval,
		&approver, &approvedAt, &rec.PacketURI, &createdAt, &updatedAt,
	)
	if err != nil {
		return rec, err
	}

	rec.IncidentID = uint64(id)
	rec.OwnerRole = ir.Role(role)
	rec.EventCount = uint32(count)
	rec.CreatedAt = time.Unix(createdAt, 0).UTC()
	rec.UpdatedAt = time.Unix(updatedAt, 0).UTC()

	if rec.Owner, err = ir.ParseIdentity(owner); err != nil {
		return rec, fmt.Errorf("owner: %w", err)
	}
	for i, kind := range ir.ArtifactKinds() {
		d, err := ir.ParseDigest(artifacts[i])
		if err != nil {
			return rec, fmt.Errorf("%s: %w", kind, err)
		}
		rec.Artifacts = rec.Artifacts.With(kind, d)
	}
	if rec.BundleRoot, err = ir.ParseDigest(root); err != nil {
		return rec, fmt.Errorf("bundle_root: %w", err)
	}
	if rec.EventChainHead, err = ir.ParseDigest(head); err != nil {
		return rec, fmt.Errorf("event_chain_head: %w", err)
	}
	if approver.Valid {
		id, err := ir.ParseIdentity(approver.String)
		if err != nil {
			return rec, fmt.Errorf("approver: %w", err)
		}
		rec.Approver = &id
	}
	if approvedAt.Valid {
		at := time.Unix(approvedAt.Int64, 0).UTC()
		rec.ApprovedAt = &at
	}
	return rec, nil
}

// JournalEntry is one committed notification as stored.
type JournalEntry struct {
	Seq        int64
	ID         string
	IncidentID uint64
	Kind       ir.NotificationKind
	Link       *ir.ChainLink
	Payload    string // canonical JSON of the whole notification
	Timestamp  time.Time
}

// journalColumns lists journal columns in scan order.
const journalColumns = `seq, id, incident_id, kind, event_hash, head, count, payload, ts`

// journalArgs returns insert values for n (everything but seq).
func journalArgs(n ir.Notification) ([]any, error) {
	payload, err := n.Canonical()
	if err != nil {
		return nil, fmt.Errorf("marshal notification: %w", err)
	}
	var (
		eventHash, head sql.NullString
		count           sql.NullInt64
	)
	if link, ok := n.Link(); ok {
		eventHash = sql.NullString{String: link.EventHash.String(), Valid: true}
		head = sql.NullString{String: link.Head.String(), Valid: true}
		count = sql.NullInt64{Int64: int64(link.Count), Valid: true}
	}
	return []any{
		n.ID,
		incidentKey(n.IncidentID),
		string(n.Kind()),
		eventHash,
		head,
		count,
		string(payload),
		n.Timestamp.Unix(),
	}, nil
}

func scanJournalEntry(row rowScanner) (JournalEntry, error) {
	var (
		e               JournalEntry
		incident, ts    int64
		kind            string
		eventHash, head sql.NullString
		count           sql.NullInt64
	)
	if err := row.Scan(&e.Seq, &e.ID, &incident, &kind, &eventHash, &head, &count, &e.Payload, &ts); err != nil {
		return e, err
	}
	e.IncidentID = uint64(incident)
	e.Kind = ir.NotificationKind(kind)
	e.Timestamp = time.Unix(ts, 0).UTC()

	if eventHash.Valid {
		link := ir.ChainLink{Count: uint32(count.Int64)}
		var err error
		if link.EventHash, err = ir.ParseDigest(eventHash.String); err != nil {
			return e, fmt.Errorf("journal %d event_hash: %w", e.Seq, err)
		}
		if link.Head, err = ir.ParseDigest(head.String); err != nil {
			return e, fmt.Errorf("journal %d head: %w", e.Seq, err)
		}
		e.Link = &link
	}
	return e, nil
}

// linksOf extracts the chain links from journal entries in chain order.
//
// Journal inserts happen after the record commits, so two concurrent writers
// may journal their links out of commit order. Count is assigned under the
// record lock and is strictly increasing, so links are ordered by it.
func linksOf(entries []JournalEntry) []ir.ChainLink {
	links := make([]ir.ChainLink, 0, len(entries))
	for _, e := range entries {
		if e.Link != nil {
			links = append(links, *e.Link)
		}
	}
	sort.SliceStable(links, func(i, j int) bool {
		return links[i].Count < links[j].Count
	})
	return links
}
