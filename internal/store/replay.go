package store

import (
	"context"
	"fmt"

	"github.com/roach88/anchor/internal/ir"
)

// Source is the read side shared by every substrate in this package.
type Source interface {
	Load(ctx context.Context, incidentID uint64) (ir.IntegrityRecord, error)
	Links(ctx context.Context, incidentID uint64) ([]ir.ChainLink, error)
}

// Snapshot returns a record together with its journaled chain links, the
// inputs to chain verification.
//
// Journal entries are written after the record commits, so a snapshot taken
// while transitions are in flight may trail the record by a link. Audits
// should run against a quiescent incident.
func Snapshot(ctx context.Context, src Source, incidentID uint64) (ir.IntegrityRecord, []ir.ChainLink, error) {
	rec, err := src.Load(ctx, incidentID)
	if err != nil {
		return ir.IntegrityRecord{}, nil, err
	}
	links, err := src.Links(ctx, incidentID)
	if err != nil {
		return ir.IntegrityRecord{}, nil, fmt.Errorf("snapshot incident %d: %w", incidentID, err)
	}
	return rec, links, nil
}
