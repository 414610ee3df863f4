// Package ir provides the integrity data model for incident anchors.
//
// This package contains the record types, the two hashing protocols and the
// sentinel errors. All other internal packages import ir; ir imports nothing
// internal. This keeps the commitment scheme in one foundational layer that
// audit tooling can depend on without pulling in storage or transport.
//
// Key design constraints:
//   - Digests are fixed-width [32]byte values, never variable-length slices
//   - BundleRoot concatenation order is part of the contract and never changes
//   - Transition inputs that may be omitted are explicit Replacement values,
//     never zero-value sentinels
//   - All JSON tags use snake_case; digests and identities encode as lowercase hex
package ir
