package policy

import (
	"fmt"

	"github.com/roach88/anchor/internal/ir"
)

// Authorize reports whether caller may mutate rec's artifacts or event chain.
// Only the owner may. Returns a wrapped ir.ErrUnauthorized otherwise.
func Authorize(caller ir.Identity, rec ir.IntegrityRecord) error {
	if caller != rec.Owner {
		return fmt.Errorf("%w: caller %s is not owner of incident %d",
			ir.ErrUnauthorized, short(caller), rec.IncidentID)
	}
	return nil
}

// short abbreviates an identity for error messages.
func short(id ir.Identity) string {
	return id.String()[:12]
}
