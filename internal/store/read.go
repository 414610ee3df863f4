package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/anchor/internal/ir"
)

// Load returns the record for incidentID, or ir.ErrNotFound.
func (s *Store) Load(ctx context.Context, incidentID uint64) (ir.IntegrityRecord, error) {
	return loadRecord(ctx, s.db, `SELECT `+recordColumns+` FROM records WHERE incident_id = ?`, incidentID)
}

// Journal returns every journaled notification for incidentID.
// Results are ordered by commit: ORDER BY seq ASC.
//
// Returns an empty slice (not nil) if nothing was journaled.
func (s *Store) Journal(ctx context.Context, incidentID uint64) ([]JournalEntry, error) {
	return readJournal(ctx, s.db, `
		SELECT `+journalColumns+`
		FROM journal
		WHERE incident_id = ?
		ORDER BY seq ASC
	`, incidentID)
}

// Links returns the chain links journaled for incidentID in commit order.
func (s *Store) Links(ctx context.Context, incidentID uint64) ([]ir.ChainLink, error) {
	entries, err := s.Journal(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	return linksOf(entries), nil
}

func loadRecord(ctx context.Context, q querier, query string, incidentID uint64) (ir.IntegrityRecord, error) {
	rec, err := scanRecord(q.QueryRowContext(ctx, query, incidentKey(incidentID)))
	if errors.Is(err, sql.ErrNoRows) {
		return ir.IntegrityRecord{}, fmt.Errorf("%w: incident %d", ir.ErrNotFound, incidentID)
	}
	if err != nil {
		return ir.IntegrityRecord{}, fmt.Errorf("load incident %d: %w", incidentID, err)
	}
	return rec, nil
}

func readJournal(ctx context.Context, q querier, query string, incidentID uint64) ([]JournalEntry, error) {
	rows, err := q.QueryContext(ctx, query, incidentKey(incidentID))
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	entries := []JournalEntry{}
	for rows.Next() {
		e, err := scanJournalEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan journal: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal: %w", err)
	}
	return entries, nil
}
