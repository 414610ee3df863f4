package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/anchor/internal/ir"
)

const insertRecord = `
	INSERT INTO records (` + recordColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(incident_id) DO NOTHING
`

const updateRecord = `
	UPDATE records SET
		core = ?, evidence = ?, contradictions = ?, trust_receipt = ?, decisions = ?, timeline = ?,
		bundle_root = ?, event_chain_head = ?, event_count = ?, requires_approval = ?,
		approver = ?, approved_at = ?, packet_uri = ?, updated_at = ?
	WHERE incident_id = ?
`

const insertJournal = `
	INSERT INTO journal (id, incident_id, kind, event_hash, head, count, payload, ts)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO NOTHING
`

// Create inserts rec. Fails with ir.ErrAlreadyExists if the incident has a record.
func (s *Store) Create(ctx context.Context, rec ir.IntegrityRecord) error {
	return createRecord(ctx, s.db, insertRecord, rec)
}

// Update runs fn against the stored record inside one transaction and writes
// the result. If fn fails the transaction rolls back and its error is returned.
//
// The store holds a single connection, so concurrent Updates queue behind
// each other and never observe a stale snapshot.
func (s *Store) Update(ctx context.Context, incidentID uint64, fn func(ir.IntegrityRecord) (ir.IntegrityRecord, error)) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update: %w", err)
	}
	defer tx.Rollback()

	cur, err := loadRecord(ctx, tx, `SELECT `+recordColumns+` FROM records WHERE incident_id = ?`, incidentID)
	if err != nil {
		return err
	}
	next, err := fn(cur.Clone())
	if err != nil {
		return err
	}
	if err := writeUpdate(ctx, tx, updateRecord, incidentID, next); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update: %w", err)
	}
	return nil
}

// Publish journals n. Implements notify.Sink.
// Duplicate notification IDs are silently ignored for idempotency.
func (s *Store) Publish(ctx context.Context, n ir.Notification) error {
	return appendJournal(ctx, s.db, insertJournal, n)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func createRecord(ctx context.Context, db execer, query string, rec ir.IntegrityRecord) error {
	res, err := db.ExecContext(ctx, query, recordArgs(rec)...)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: incident %d", ir.ErrAlreadyExists, rec.IncidentID)
	}
	return nil
}

// writeUpdate stores the mutable columns of next. Immutable columns (owner,
// role, created_at) are never written after creation.
func writeUpdate(ctx context.Context, db execer, query string, incidentID uint64, next ir.IntegrityRecord) error {
	if next.IncidentID != incidentID {
		return fmt.Errorf("update incident %d: mutation changed incident id to %d", incidentID, next.IncidentID)
	}
	args := recordArgs(next)
	// recordArgs order: 0 id, 1 owner, 2 role, 3..15 mutable, 16 created_at, 17 updated_at
	values := append([]any{}, args[3:16]...)
	values = append(values, args[17], incidentKey(incidentID))
	if _, err := db.ExecContext(ctx, query, values...); err != nil {
		return fmt.Errorf("update record: %w", err)
	}
	return nil
}

func appendJournal(ctx context.Context, db execer, query string, n ir.Notification) error {
	args, err := journalArgs(n)
	if err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	return nil
}
