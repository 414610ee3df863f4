package policy

import (
	"sort"
	"sync"

	"github.com/roach88/anchor/internal/ir"
)

// Registry maps identities to deployment roles and acts as an
// ApprovalAuthority: reviewers and administrators may approve.
//
// Thread-safety: Registry is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	roles map[ir.Identity]ir.Role
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{roles: make(map[ir.Identity]ir.Role)}
}

// Grant assigns role to id, replacing any earlier assignment.
func (r *Registry) Grant(id ir.Identity, role ir.Role) error {
	if !role.Valid() {
		return ir.ErrInvalidRole
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roles[id] = role
	return nil
}

// Revoke removes id from the registry.
func (r *Registry) Revoke(id ir.Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.roles, id)
}

// RoleOf returns the role registered for id.
func (r *Registry) RoleOf(id ir.Identity) (ir.Role, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	role, ok := r.roles[id]
	return role, ok
}

// MayApprove implements ApprovalAuthority.
func (r *Registry) MayApprove(caller ir.Identity) bool {
	role, ok := r.RoleOf(caller)
	return ok && role >= ir.RoleReviewer
}

// Identities returns registered identities in hex order.
func (r *Registry) Identities() []ir.Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]ir.Identity, 0, len(r.roles))
	for id := range r.roles {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return ids[i].String() < ids[j].String()
	})
	return ids
}
