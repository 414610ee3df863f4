package engine

import (
	"context"

	"github.com/roach88/anchor/internal/ir"
)

// MutateFunc computes the next record from a snapshot.
// Returning an error aborts the write; the stored record is left as it was.
type MutateFunc = func(current ir.IntegrityRecord) (ir.IntegrityRecord, error)

// Substrate is the durable record storage the engine writes through.
// Implemented by store.Store (SQLite) and store.PostgresStore.
//
// INVARIANTS:
//   - Create fails with ir.ErrAlreadyExists if the incident already has a record
//   - Load and Update fail with ir.ErrNotFound if it has none
//   - Update is an atomic read-modify-write: concurrent Updates on the same
//     incident observe each other's results, never a stale snapshot
type Substrate interface {
	Load(ctx context.Context, incidentID uint64) (ir.IntegrityRecord, error)
	Create(ctx context.Context, rec ir.IntegrityRecord) error
	Update(ctx context.Context, incidentID uint64, fn MutateFunc) error
}
