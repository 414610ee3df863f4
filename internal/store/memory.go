package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/anchor/internal/ir"
)

// Memory is an in-process substrate and journal.
// Used by scenario runs and tests; nothing survives the process.
//
// Thread-safety: Memory is safe for concurrent use. Update holds the lock
// for the whole read-modify-write.
type Memory struct {
	mu      sync.Mutex
	records map[uint64]ir.IntegrityRecord
	journal []JournalEntry
	seen    map[string]bool
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		records: make(map[uint64]ir.IntegrityRecord),
		seen:    make(map[string]bool),
	}
}

func (m *Memory) Load(_ context.Context, incidentID uint64) (ir.IntegrityRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[incidentID]
	if !ok {
		return ir.IntegrityRecord{}, fmt.Errorf("%w: incident %d", ir.ErrNotFound, incidentID)
	}
	return rec.Clone(), nil
}

func (m *Memory) Create(_ context.Context, rec ir.IntegrityRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.IncidentID]; ok {
		return fmt.Errorf("%w: incident %d", ir.ErrAlreadyExists, rec.IncidentID)
	}
	m.records[rec.IncidentID] = rec.Clone()
	return nil
}

func (m *Memory) Update(_ context.Context, incidentID uint64, fn func(ir.IntegrityRecord) (ir.IntegrityRecord, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.records[incidentID]
	if !ok {
		return fmt.Errorf("%w: incident %d", ir.ErrNotFound, incidentID)
	}
	next, err := fn(cur.Clone())
	if err != nil {
		return err
	}
	if next.IncidentID != incidentID {
		return fmt.Errorf("update incident %d: mutation changed incident id to %d", incidentID, next.IncidentID)
	}
	m.records[incidentID] = next.Clone()
	return nil
}

// Publish journals n. Duplicate IDs are ignored.
func (m *Memory) Publish(_ context.Context, n ir.Notification) error {
	payload, err := n.Canonical()
	if err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen[n.ID] {
		return nil
	}
	m.seen[n.ID] = true
	e := JournalEntry{
		Seq:        int64(len(m.journal) + 1),
		ID:         n.ID,
		IncidentID: n.IncidentID,
		Kind:       n.Kind(),
		Payload:    string(payload),
		Timestamp:  n.Timestamp.UTC(),
	}
	if link, ok := n.Link(); ok {
		e.Link = &link
	}
	m.journal = append(m.journal, e)
	return nil
}

// Journal returns the entries for incidentID in commit order.
func (m *Memory) Journal(_ context.Context, incidentID uint64) ([]JournalEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []JournalEntry{}
	for _, e := range m.journal {
		if e.IncidentID == incidentID {
			out = append(out, e)
		}
	}
	return out, nil
}

// Links returns the chain links journaled for incidentID in commit order.
func (m *Memory) Links(ctx context.Context, incidentID uint64) ([]ir.ChainLink, error) {
	entries, err := m.Journal(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	return linksOf(entries), nil
}
