package compiler

import (
	"fmt"
	"strconv"

	"cuelang.org/go/cue"

	"github.com/roach88/anchor/internal/ir"
	"github.com/roach88/anchor/internal/policy"
)

// Policy field names as written in CUE.
const (
	fieldApprovalRequired   = "approval_required"
	fieldApprovers          = "approvers"
	fieldOpenApproval       = "open_approval"
	fieldForbidSelfApproval = "forbid_self_approval"
)

var knownPolicyFields = map[string]bool{
	fieldApprovalRequired:   true,
	fieldApprovers:          true,
	fieldOpenApproval:       true,
	fieldForbidSelfApproval: true,
}

// CompilePolicy parses a CUE value into a deployment policy.
//
// The value should be the policy struct itself, e.g.:
//
//	policy: {
//		approval_required: ["frontline"]
//		forbid_self_approval: true
//		approvers: {
//			"3b6a27bc…": "reviewer"
//		}
//	}
//
// approval_required defaults to ["frontline"] when absent; an explicit
// empty list means no record starts pending.
func CompilePolicy(v cue.Value) (*policy.Policy, error) {
	if err := v.Err(); err != nil {
		return nil, fromCUE(err)
	}

	iter, err := v.Fields()
	if err != nil {
		return nil, fromCUE(err)
	}
	for iter.Next() {
		if !knownPolicyFields[iter.Label()] {
			return nil, &CompileError{
				Field:   iter.Label(),
				Message: "unknown policy field",
				Pos:     iter.Value().Pos(),
			}
		}
	}

	p := policy.Default()

	reqVal := v.LookupPath(cue.ParsePath(fieldApprovalRequired))
	if reqVal.Exists() {
		p.RequireApproval, err = parseRoles(reqVal)
		if err != nil {
			return nil, err
		}
	}

	p.OpenApproval, err = parseBool(v, fieldOpenApproval)
	if err != nil {
		return nil, err
	}
	p.ForbidSelfApproval, err = parseBool(v, fieldForbidSelfApproval)
	if err != nil {
		return nil, err
	}

	approversVal := v.LookupPath(cue.ParsePath(fieldApprovers))
	if approversVal.Exists() {
		if err := parseApprovers(approversVal, p.Registry); err != nil {
			return nil, err
		}
	}

	return p, nil
}

// parseRoles reads a list of role names.
func parseRoles(v cue.Value) ([]ir.Role, error) {
	list, err := v.List()
	if err != nil {
		return nil, &CompileError{
			Field:   fieldApprovalRequired,
			Message: "must be a list of role names",
			Pos:     v.Pos(),
		}
	}

	roles := []ir.Role{}
	seen := make(map[ir.Role]bool)
	for list.Next() {
		role, err := parseRole(list.Value(), fieldApprovalRequired)
		if err != nil {
			return nil, err
		}
		if seen[role] {
			return nil, &CompileError{
				Field:   fieldApprovalRequired,
				Message: fmt.Sprintf("duplicate role %q", role),
				Pos:     list.Value().Pos(),
			}
		}
		seen[role] = true
		roles = append(roles, role)
	}
	return roles, nil
}

func parseRole(v cue.Value, field string) (ir.Role, error) {
	name, err := v.String()
	if err != nil {
		return 0, &CompileError{Field: field, Message: "role must be a string", Pos: v.Pos()}
	}
	role, err := ir.ParseRole(name)
	if err != nil {
		return 0, &CompileError{
			Field:   field,
			Message: fmt.Sprintf("unknown role %q (want frontline, reviewer or administrator)", name),
			Pos:     v.Pos(),
		}
	}
	return role, nil
}

// parseApprovers reads a struct of hex identity → role into reg.
func parseApprovers(v cue.Value, reg *policy.Registry) error {
	iter, err := v.Fields()
	if err != nil {
		return &CompileError{
			Field:   fieldApprovers,
			Message: "must be a struct of identity: role",
			Pos:     v.Pos(),
		}
	}

	for iter.Next() {
		label := unquoteLabel(iter.Label())
		path := fieldApprovers + "." + label

		id, err := ir.ParseIdentity(label)
		if err != nil {
			return &CompileError{Field: path, Message: err.Error(), Pos: iter.Value().Pos()}
		}
		role, err := parseRole(iter.Value(), path)
		if err != nil {
			return err
		}
		if err := reg.Grant(id, role); err != nil {
			return &CompileError{Field: path, Message: err.Error(), Pos: iter.Value().Pos()}
		}
	}
	return nil
}

func parseBool(v cue.Value, field string) (bool, error) {
	val := v.LookupPath(cue.ParsePath(field))
	if !val.Exists() {
		return false, nil
	}
	b, err := val.Bool()
	if err != nil {
		return false, &CompileError{Field: field, Message: "must be a boolean", Pos: val.Pos()}
	}
	return b, nil
}

// unquoteLabel strips CUE string-label quoting from non-identifier labels.
func unquoteLabel(label string) string {
	if unquoted, err := strconv.Unquote(label); err == nil {
		return unquoted
	}
	return label
}
