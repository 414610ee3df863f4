// Package policy holds the pure authorization and approval rules that gate
// every record transition.
//
// Nothing here touches storage or clocks. Callers pass a record snapshot and
// an authenticated caller; the functions answer yes or no (or return the
// approved copy of the record).
//
// Two rules live here:
//
//   - Ownership: only the identity that created a record may append events
//     or replace artifacts (Authorize).
//   - Approval: records created under a role the ApprovalPolicy names start
//     pending and move to approved exactly once, by an identity the
//     ApprovalAuthority accepts (Approve).
package policy
