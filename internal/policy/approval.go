package policy

import (
	"fmt"
	"time"

	"github.com/roach88/anchor/internal/ir"
)

// ApprovalPolicy decides at creation time whether a record needs approval.
type ApprovalPolicy func(role ir.Role) bool

// FrontlineRequiresApproval is the default policy: only frontline-created
// records start pending.
func FrontlineRequiresApproval(role ir.Role) bool {
	return role == ir.RoleFrontline
}

// RequireApprovalFor returns a policy that marks records created under any of
// roles as pending.
func RequireApprovalFor(roles ...ir.Role) ApprovalPolicy {
	set := make(map[ir.Role]bool, len(roles))
	for _, r := range roles {
		set[r] = true
	}
	return func(role ir.Role) bool {
		return set[role]
	}
}

// ApprovalAuthority decides who may approve pending records.
type ApprovalAuthority interface {
	MayApprove(caller ir.Identity) bool
}

// AuthorityFunc adapts a function to ApprovalAuthority.
type AuthorityFunc func(caller ir.Identity) bool

func (f AuthorityFunc) MayApprove(caller ir.Identity) bool { return f(caller) }

// OpenAuthority accepts any authenticated caller as approver.
// Deployments must opt into it explicitly.
var OpenAuthority ApprovalAuthority = AuthorityFunc(func(ir.Identity) bool { return true })

// ApprovalState is the position of a record in the approval lifecycle.
type ApprovalState int

const (
	// StateNotRequired: the record was created under a role that needs no approval.
	StateNotRequired ApprovalState = iota
	// StatePending: awaiting approval.
	StatePending
	// StateApproved: terminal.
	StateApproved
)

func (s ApprovalState) String() string {
	switch s {
	case StateNotRequired:
		return "not_required"
	case StatePending:
		return "pending_approval"
	case StateApproved:
		return "approved"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// StateOf derives the approval state from a record.
func StateOf(rec ir.IntegrityRecord) ApprovalState {
	switch {
	case rec.RequiresApproval:
		return StatePending
	case rec.Approver != nil:
		return StateApproved
	default:
		return StateNotRequired
	}
}

// Rules bundles the approval-time checks.
type Rules struct {
	Authority ApprovalAuthority

	// ForbidSelfApproval rejects approval by the record owner.
	ForbidSelfApproval bool
}

// CheckApprove validates an approval attempt without changing anything.
//
// Order of checks: pending state first (ErrAlreadyApproved), then authority
// (ErrNotApprover). A record that never needed approval reports
// ErrAlreadyApproved.
func CheckApprove(rec ir.IntegrityRecord, caller ir.Identity, rules Rules) error {
	if !rec.RequiresApproval {
		return fmt.Errorf("%w: incident %d is %s", ir.ErrAlreadyApproved, rec.IncidentID, StateOf(rec))
	}
	if rules.Authority == nil || !rules.Authority.MayApprove(caller) {
		return fmt.Errorf("%w: %s", ir.ErrNotApprover, short(caller))
	}
	if rules.ForbidSelfApproval && caller == rec.Owner {
		return fmt.Errorf("%w: owner may not approve own record", ir.ErrNotApprover)
	}
	return nil
}

// Approve advances rec from pending to approved.
// On error rec is returned unchanged.
func Approve(rec ir.IntegrityRecord, caller ir.Identity, now time.Time, rules Rules) (ir.IntegrityRecord, error) {
	if err := CheckApprove(rec, caller, rules); err != nil {
		return rec, err
	}
	out := rec.Clone()
	approver := caller
	at := now
	out.Approver = &approver
	out.ApprovedAt = &at
	out.RequiresApproval = false
	out.UpdatedAt = now
	return out, nil
}
