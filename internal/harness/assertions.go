package harness

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/roach88/anchor/internal/engine"
	"github.com/roach88/anchor/internal/ir"
	"github.com/roach88/anchor/internal/policy"
	"github.com/roach88/anchor/internal/store"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	return fmt.Sprintf("Assertion failed: %s\n  Expected: %s\n  Actual: %s\n", e.Type, e.Expected, e.Actual)
}

// AssertionContext provides what assertions read from.
type AssertionContext struct {
	Ctx           context.Context
	Store         store.Source
	Notifications []ir.Notification

	// NameOf renders identities as actor names. Nil renders hex.
	NameOf func(ir.Identity) string
}

// EvaluateAssertions evaluates all assertions.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertRecord:
			err = assertRecord(actx, assertion)
		case AssertNotifications:
			err = assertNotifications(actx.Notifications, assertion)
		case AssertChainValid:
			err = assertChainValid(actx, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}

// digestFields take the two-character shorthand in expectations.
var digestFields = map[string]bool{
	"bundle_root":      true,
	"event_chain_head": true,
}

func init() {
	for _, kind := range ir.ArtifactKinds() {
		digestFields["artifacts."+kind.String()] = true
	}
}

// RecordFields flattens a record into the names record assertions use.
func RecordFields(rec ir.IntegrityRecord, nameOf func(ir.Identity) string) map[string]any {
	if nameOf == nil {
		nameOf = ir.Identity.String
	}

	approver := ""
	if rec.Approver != nil {
		approver = nameOf(*rec.Approver)
	}

	fields := map[string]any{
		"owner":             nameOf(rec.Owner),
		"owner_role":        rec.OwnerRole.String(),
		"bundle_root":       rec.BundleRoot.String(),
		"event_chain_head":  rec.EventChainHead.String(),
		"event_count":       int(rec.EventCount),
		"requires_approval": rec.RequiresApproval,
		"approval":          policy.StateOf(rec).String(),
		"approver":          approver,
		"approved":          rec.ApprovedAt != nil,
		"packet_uri":        rec.PacketURI,
	}
	for _, kind := range ir.ArtifactKinds() {
		fields["artifacts."+kind.String()] = rec.Artifacts.Get(kind).String()
	}
	return fields
}

func assertRecord(actx *AssertionContext, a Assertion) error {
	rec, err := actx.Store.Load(actx.Ctx, a.Incident)
	if err != nil {
		return &AssertionError{
			Type:     AssertRecord,
			Expected: fmt.Sprintf("record for incident %d", a.Incident),
			Actual:   err.Error(),
		}
	}

	actual := RecordFields(rec, actx.NameOf)

	// Sort keys so the first reported mismatch is stable
	keys := make([]string, 0, len(a.Expect))
	for k := range a.Expect {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		expected := a.Expect[key]
		actualValue, exists := actual[key]
		if !exists {
			return &AssertionError{
				Type:     AssertRecord,
				Expected: fmt.Sprintf("field %q to exist", key),
				Actual:   fmt.Sprintf("field %q is not a record field", key),
			}
		}

		if digestFields[key] {
			if s, ok := expected.(string); ok {
				if d, err := ParseDigest(s); err == nil {
					expected = d.String()
				}
			}
		}

		if fmt.Sprint(expected) != fmt.Sprint(actualValue) {
			return &AssertionError{
				Type:     AssertRecord,
				Expected: fmt.Sprintf("incident %d field %q = %v", a.Incident, key, expected),
				Actual:   fmt.Sprintf("%v", actualValue),
			}
		}
	}
	return nil
}

func assertNotifications(ns []ir.Notification, a Assertion) error {
	actual := make([]string, len(ns))
	for i, n := range ns {
		actual[i] = string(n.Kind())
	}
	if !slices.Equal(actual, a.Kinds) {
		return &AssertionError{
			Type:     AssertNotifications,
			Expected: "[" + strings.Join(a.Kinds, ", ") + "]",
			Actual:   "[" + strings.Join(actual, ", ") + "]",
		}
	}
	return nil
}

func assertChainValid(actx *AssertionContext, a Assertion) error {
	rec, links, err := store.Snapshot(actx.Ctx, actx.Store, a.Incident)
	if err != nil {
		return &AssertionError{
			Type:     AssertChainValid,
			Expected: fmt.Sprintf("record for incident %d", a.Incident),
			Actual:   err.Error(),
		}
	}
	if v := engine.VerifyChain(rec, links); !v.Valid() {
		return &AssertionError{
			Type:     AssertChainValid,
			Expected: fmt.Sprintf("incident %d chain and bundle root verify", a.Incident),
			Actual:   v.Err(false).Error(),
		}
	}
	return nil
}
