package compiler

import (
	"fmt"

	"github.com/roach88/anchor/internal/ir"
	"github.com/roach88/anchor/internal/policy"
)

// Validation error codes (E120-E129)
const (
	ErrNoApprovers       = "E120" // records can start pending but nobody can approve
	ErrApproversIgnored  = "E121" // open_approval makes the approver list meaningless
	ErrFrontlineApprover = "E122" // frontline entries never satisfy approval
)

// ValidationError represents a policy consistency error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// ValidatePolicy checks a compiled policy for settings that compile but
// cannot behave as intended. Returns all errors found (does not fail-fast).
func ValidatePolicy(p *policy.Policy) []ValidationError {
	var errs []ValidationError

	var ids []ir.Identity
	if p.Registry != nil {
		ids = p.Registry.Identities()
	}

	approvers := 0
	for _, id := range ids {
		role, _ := p.Registry.RoleOf(id)
		if role == ir.RoleFrontline {
			errs = append(errs, ValidationError{
				Field:   fieldApprovers + "." + id.String(),
				Message: "frontline identities may not approve",
				Code:    ErrFrontlineApprover,
			})
			continue
		}
		approvers++
	}

	if len(p.RequireApproval) > 0 && !p.OpenApproval && approvers == 0 {
		errs = append(errs, ValidationError{
			Field:   fieldApprovers,
			Message: fmt.Sprintf("roles %v require approval but no reviewer or administrator is registered", p.RequireApproval),
			Code:    ErrNoApprovers,
		})
	}

	if p.OpenApproval && len(ids) > 0 {
		errs = append(errs, ValidationError{
			Field:   fieldOpenApproval,
			Message: "open_approval is set; the approvers list has no effect",
			Code:    ErrApproversIgnored,
		})
	}

	return errs
}
