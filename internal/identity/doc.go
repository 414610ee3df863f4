// Package identity authenticates callers.
//
// A caller holds an ed25519 key pair. Each transition request is signed
// over the canonical JSON of its operation, signer, issue time and body;
// Verifier checks the signature and yields the ir.Identity the engine
// authorizes against.
package identity
