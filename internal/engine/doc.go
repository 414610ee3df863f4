// Package engine applies the four record transitions: create, append event,
// update artifacts and approve.
//
// ARCHITECTURE:
//
// Pure transitions:
// Create, AppendEvent, UpdateArtifacts and Approve (transitions.go) take a
// record snapshot and return the next record plus the notification payload.
// They never perform I/O and never modify their input. On error the input
// record is returned unchanged.
//
// Orchestration:
// Engine (engine.go) wires a transition to its collaborators:
//
//  1. Substrate.Update loads the record inside an atomic read-modify-write
//  2. the pure transition runs against the snapshot
//  3. the substrate persists the result, or discards it if the transition failed
//  4. notifications go to the sinks after commit; sink errors are logged only
//
// Cross-incident operations are independent. Concurrent transitions on one
// incident are serialized by the substrate.
package engine
