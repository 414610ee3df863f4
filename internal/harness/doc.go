// Package harness runs YAML scenarios against a real engine.
//
// Each scenario gets a fresh in-memory SQLite substrate, a deterministic
// clock and sequential notification IDs, so the same scenario always yields
// the same trace and can be compared against a golden snapshot.
//
// # Scenario Format
//
//	name: lifecycle
//	description: "Create, append, approve"
//	policy:
//	  approval_required: [frontline]
//	  approvers: { bob: reviewer }
//	flow:
//	  - op: create
//	    actor: alice
//	    incident: 1
//	    role: frontline
//	    first_event: aa
//	  - op: append
//	    actor: alice
//	    incident: 1
//	    event: bb
//	  - op: approve
//	    actor: bob
//	    incident: 1
//	  - op: approve
//	    actor: bob
//	    incident: 1
//	    expect: ALREADY_APPROVED
//	assertions:
//	  - type: record
//	    incident: 1
//	    expect: { event_count: 2, approver: bob }
//
// Digest fields take 64 hex characters, or two hex characters as shorthand
// for that byte repeated 32 times ("aa" is 0xAA…).
//
// Actors are named. Each name maps to a fixed ed25519 key, and the engine
// sees that key's public half as the caller. Request signing is exercised
// by the CLI, not here.
//
// # Assertion Types
//
//   - record: subset match on a record's fields after the flow
//   - notifications: exact sequence of notification kinds
//   - chain_valid: the journal replays to the stored head
package harness
