package policy

import "github.com/roach88/anchor/internal/ir"

// Policy is a complete deployment policy, usually compiled from CUE.
type Policy struct {
	// RequireApproval lists creation roles whose records start pending.
	RequireApproval []ir.Role

	// Registry assigns approver roles. Nil means nobody may approve
	// unless OpenApproval is set.
	Registry *Registry

	// OpenApproval lets any authenticated caller approve.
	OpenApproval bool

	ForbidSelfApproval bool
}

// Default returns the built-in policy: frontline records need approval and
// no approvers are registered.
func Default() *Policy {
	return &Policy{
		RequireApproval: []ir.Role{ir.RoleFrontline},
		Registry:        NewRegistry(),
	}
}

// ApprovalPolicy returns the creation-time predicate.
func (p *Policy) ApprovalPolicy() ApprovalPolicy {
	return RequireApprovalFor(p.RequireApproval...)
}

// Rules returns the approval-time checks.
func (p *Policy) Rules() Rules {
	var authority ApprovalAuthority = AuthorityFunc(func(ir.Identity) bool { return false })
	switch {
	case p.OpenApproval:
		authority = OpenAuthority
	case p.Registry != nil:
		authority = p.Registry
	}
	return Rules{Authority: authority, ForbidSelfApproval: p.ForbidSelfApproval}
}
