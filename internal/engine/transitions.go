package engine

import (
	"fmt"
	"math"
	"time"

	"github.com/roach88/anchor/internal/ir"
	"github.com/roach88/anchor/internal/policy"
)

// CreateInput is the payload of the creation transition.
type CreateInput struct {
	IncidentID uint64
	Artifacts  ir.ArtifactSet
	FirstEvent ir.Digest
	Role       ir.Role
	PacketURI  string
}

// UpdateInput is the payload of the update-artifacts transition.
// ChangeEvent is mandatory: every artifact change is also a chain link.
type UpdateInput struct {
	Artifacts   ir.ArtifactUpdate
	ChangeEvent ir.Digest
	PacketURI   ir.URIReplacement
}

// Create builds a new record owned by owner.
//
// Absence of an existing record is checked by the substrate, not here.
func Create(owner ir.Identity, in CreateInput, now time.Time, requiresApproval policy.ApprovalPolicy) (ir.IntegrityRecord, ir.RecordCreated, error) {
	if err := ir.CheckURI(in.PacketURI); err != nil {
		return ir.IntegrityRecord{}, ir.RecordCreated{}, err
	}
	if !in.Role.Valid() {
		return ir.IntegrityRecord{}, ir.RecordCreated{}, fmt.Errorf("%w: %d", ir.ErrInvalidRole, uint8(in.Role))
	}
	if requiresApproval == nil {
		requiresApproval = policy.FrontlineRequiresApproval
	}

	rec := ir.IntegrityRecord{
		Owner:            owner,
		IncidentID:       in.IncidentID,
		Artifacts:        in.Artifacts,
		BundleRoot:       ir.BundleRoot(in.Artifacts),
		EventChainHead:   in.FirstEvent,
		EventCount:       1,
		OwnerRole:        in.Role,
		RequiresApproval: requiresApproval(in.Role),
		PacketURI:        in.PacketURI,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	payload := ir.RecordCreated{
		Owner:      owner,
		Role:       in.Role,
		BundleRoot: rec.BundleRoot,
		FirstEvent: in.FirstEvent,
		PacketURI:  in.PacketURI,
	}
	return rec, payload, nil
}

// AppendEvent folds eventHash into the chain.
func AppendEvent(rec ir.IntegrityRecord, caller ir.Identity, eventHash ir.Digest, now time.Time) (ir.IntegrityRecord, ir.EventAppended, error) {
	if err := policy.Authorize(caller, rec); err != nil {
		return rec, ir.EventAppended{}, err
	}
	count, err := nextCount(rec)
	if err != nil {
		return rec, ir.EventAppended{}, err
	}

	out := rec.Clone()
	out.EventChainHead = ir.ChainStep(rec.EventChainHead, eventHash)
	out.EventCount = count
	out.UpdatedAt = now

	return out, ir.EventAppended{
		EventHash:  eventHash,
		NewHead:    out.EventChainHead,
		EventCount: count,
	}, nil
}

// UpdateArtifacts replaces the supplied artifact hashes, recomputes the
// bundle root over the merged set and links the change event into the chain.
func UpdateArtifacts(rec ir.IntegrityRecord, caller ir.Identity, in UpdateInput, now time.Time) (ir.IntegrityRecord, ir.ArtifactsUpdated, error) {
	if err := policy.Authorize(caller, rec); err != nil {
		return rec, ir.ArtifactsUpdated{}, err
	}
	uri, replaceURI := in.PacketURI.Get()
	if replaceURI {
		if err := ir.CheckURI(uri); err != nil {
			return rec, ir.ArtifactsUpdated{}, err
		}
	}
	count, err := nextCount(rec)
	if err != nil {
		return rec, ir.ArtifactsUpdated{}, err
	}

	out := rec.Clone()
	out.Artifacts = in.Artifacts.ApplyTo(rec.Artifacts)
	out.BundleRoot = ir.BundleRoot(out.Artifacts)
	if replaceURI {
		out.PacketURI = uri
	}
	out.EventChainHead = ir.ChainStep(rec.EventChainHead, in.ChangeEvent)
	out.EventCount = count
	out.UpdatedAt = now

	return out, ir.ArtifactsUpdated{
		Operator:    caller,
		OldRoot:     rec.BundleRoot,
		NewRoot:     out.BundleRoot,
		Changed:     in.Artifacts.Changed(),
		ChangeEvent: in.ChangeEvent,
		NewHead:     out.EventChainHead,
		EventCount:  count,
		PacketURI:   out.PacketURI,
	}, nil
}

// Approve moves a pending record to approved. The event chain is not touched.
func Approve(rec ir.IntegrityRecord, caller ir.Identity, now time.Time, rules policy.Rules) (ir.IntegrityRecord, ir.RecordApproved, error) {
	out, err := policy.Approve(rec, caller, now, rules)
	if err != nil {
		return rec, ir.RecordApproved{}, err
	}
	return out, ir.RecordApproved{Operator: rec.Owner, Approver: caller}, nil
}

// nextCount returns EventCount+1 or ErrEventCountOverflow.
func nextCount(rec ir.IntegrityRecord) (uint32, error) {
	if rec.EventCount == math.MaxUint32 {
		return 0, fmt.Errorf("%w: incident %d has %d events", ir.ErrEventCountOverflow, rec.IncidentID, rec.EventCount)
	}
	return rec.EventCount + 1, nil
}
