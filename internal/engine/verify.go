package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/anchor/internal/ir"
)

// ErrChainMismatch reports that a journal does not replay to the stored head.
var ErrChainMismatch = errors.New("event chain does not replay to stored head")

// ErrBundleRootMismatch reports that the stored bundle root does not match
// the stored artifact hashes.
var ErrBundleRootMismatch = errors.New("bundle root does not match artifacts")

// Verification is the outcome of checking a record against its journal.
type Verification struct {
	IncidentID uint64 `json:"incident_id"`

	// Links is the number of journal links replayed.
	Links int `json:"links"`

	StoredHead   ir.Digest `json:"stored_head"`
	ReplayedHead ir.Digest `json:"replayed_head"`

	// FirstDivergence is the index of the first link whose recorded head or
	// count disagrees with the replay, or -1.
	FirstDivergence int `json:"first_divergence"`

	ChainValid      bool `json:"chain_valid"`
	BundleRootValid bool `json:"bundle_root_valid"`
	Approved        bool `json:"approved"`
	PendingApproval bool `json:"pending_approval"`

	Reason string `json:"reason,omitempty"`
}

// Valid reports whether both commitments check out.
func (v Verification) Valid() bool {
	return v.ChainValid && v.BundleRootValid
}

// Err converts the verification into an error. With requireApproved, a
// record still pending approval fails with ir.ErrRequiresApproval.
func (v Verification) Err(requireApproved bool) error {
	switch {
	case !v.BundleRootValid:
		return fmt.Errorf("incident %d: %w", v.IncidentID, ErrBundleRootMismatch)
	case !v.ChainValid:
		return fmt.Errorf("incident %d: %w: %s", v.IncidentID, ErrChainMismatch, v.Reason)
	case requireApproved && v.PendingApproval:
		return fmt.Errorf("incident %d: %w", v.IncidentID, ir.ErrRequiresApproval)
	}
	return nil
}

// VerifyChain replays links from genesis and compares the result with rec.
//
// The first link must be the genesis link (head == event hash, count 1).
// Every later link must satisfy head == ChainStep(previous head, event hash)
// and count == previous count + 1. The final head and count must equal the
// record's.
func VerifyChain(rec ir.IntegrityRecord, links []ir.ChainLink) Verification {
	v := Verification{
		IncidentID:      rec.IncidentID,
		Links:           len(links),
		StoredHead:      rec.EventChainHead,
		FirstDivergence: -1,
		BundleRootValid: ir.BundleRoot(rec.Artifacts) == rec.BundleRoot,
		Approved:        rec.Approver != nil,
		PendingApproval: rec.RequiresApproval,
	}

	if len(links) == 0 {
		v.FirstDivergence = 0
		v.Reason = "journal is empty"
		return v
	}

	var head ir.Digest
	for i, link := range links {
		if i == 0 {
			head = link.EventHash
		} else {
			head = ir.ChainStep(head, link.EventHash)
		}
		if link.Head != head || link.Count != uint32(i+1) {
			v.ReplayedHead = head
			v.FirstDivergence = i
			v.Reason = fmt.Sprintf("link %d: recorded head %s count %d, replay gives %s count %d",
				i, link.Head, link.Count, head, i+1)
			return v
		}
	}
	v.ReplayedHead = head

	switch {
	case head != rec.EventChainHead:
		v.FirstDivergence = len(links)
		v.Reason = fmt.Sprintf("replayed head %s differs from stored head %s", head, rec.EventChainHead)
	case uint32(len(links)) != rec.EventCount:
		v.FirstDivergence = len(links)
		v.Reason = fmt.Sprintf("journal has %d links, record counts %d", len(links), rec.EventCount)
	default:
		v.ChainValid = true
	}
	return v
}
