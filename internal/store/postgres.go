package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/roach88/anchor/internal/ir"
)

//go:embed schema_postgres.sql
var postgresSchemaSQL string

const (
	pgSelectRecord = `SELECT ` + recordColumns + ` FROM records WHERE incident_id = $1`

	pgSelectRecordForUpdate = pgSelectRecord + ` FOR UPDATE`

	pgInsertRecord = `
	INSERT INTO records (` + recordColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	ON CONFLICT (incident_id) DO NOTHING
`

	pgUpdateRecord = `
	UPDATE records SET
		core = $1, evidence = $2, contradictions = $3, trust_receipt = $4, decisions = $5, timeline = $6,
		bundle_root = $7, event_chain_head = $8, event_count = $9, requires_approval = $10,
		approver = $11, approved_at = $12, packet_uri = $13, updated_at = $14
	WHERE incident_id = $15
`

	pgInsertJournal = `
	INSERT INTO journal (id, incident_id, kind, event_hash, head, count, payload, ts)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (id) DO NOTHING
`

	pgSelectJournal = `SELECT ` + journalColumns + ` FROM journal WHERE incident_id = $1 ORDER BY seq ASC`
)

// PostgresStore implements the record substrate on PostgreSQL.
// Update serializes writers per incident with SELECT ... FOR UPDATE.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open database handle. The schema is not applied.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgres connects to dsn and applies the schema.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	s := NewPostgresStore(db)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates tables and indexes if they don't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, postgresSchemaSQL); err != nil {
		return fmt.Errorf("failed to apply postgres schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Load returns the record for incidentID, or ir.ErrNotFound.
func (s *PostgresStore) Load(ctx context.Context, incidentID uint64) (ir.IntegrityRecord, error) {
	return loadRecord(ctx, s.db, pgSelectRecord, incidentID)
}

// Create inserts rec. Fails with ir.ErrAlreadyExists if the incident has a record.
func (s *PostgresStore) Create(ctx context.Context, rec ir.IntegrityRecord) error {
	return createRecord(ctx, s.db, pgInsertRecord, rec)
}

// Update locks the incident row, runs fn and writes the result in one
// transaction. A failing fn rolls back.
func (s *PostgresStore) Update(ctx context.Context, incidentID uint64, fn func(ir.IntegrityRecord) (ir.IntegrityRecord, error)) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update: %w", err)
	}
	defer tx.Rollback()

	cur, err := loadRecord(ctx, tx, pgSelectRecordForUpdate, incidentID)
	if err != nil {
		return err
	}
	next, err := fn(cur.Clone())
	if err != nil {
		return err
	}
	if err := writeUpdate(ctx, tx, pgUpdateRecord, incidentID, next); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update: %w", err)
	}
	return nil
}

// Publish journals n. Implements notify.Sink.
func (s *PostgresStore) Publish(ctx context.Context, n ir.Notification) error {
	return appendJournal(ctx, s.db, pgInsertJournal, n)
}

// Journal returns every journaled notification for incidentID in commit order.
func (s *PostgresStore) Journal(ctx context.Context, incidentID uint64) ([]JournalEntry, error) {
	return readJournal(ctx, s.db, pgSelectJournal, incidentID)
}

// Links returns the chain links journaled for incidentID in commit order.
func (s *PostgresStore) Links(ctx context.Context, incidentID uint64) ([]ir.ChainLink, error) {
	entries, err := s.Journal(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	return linksOf(entries), nil
}
