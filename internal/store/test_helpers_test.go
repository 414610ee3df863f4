package store

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/anchor/internal/ir"
)

var (
	testOwner    = ir.Identity(ir.RepeatByte(0x01))
	testApprover = ir.Identity(ir.RepeatByte(0x02))
	testEpoch    = time.Unix(1700000000, 0).UTC()
)

// createTestStore creates a new file-backed store in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestRecord creates a freshly created frontline record.
func createTestRecord(id uint64) ir.IntegrityRecord {
	artifacts := ir.ArtifactSet{Evidence: ir.RepeatByte(0x11)}
	return ir.IntegrityRecord{
		Owner:            testOwner,
		IncidentID:       id,
		Artifacts:        artifacts,
		BundleRoot:       ir.BundleRoot(artifacts),
		EventChainHead:   ir.RepeatByte(0xAA),
		EventCount:       1,
		OwnerRole:        ir.RoleFrontline,
		RequiresApproval: true,
		PacketURI:        "s3://bucket/incident",
		CreatedAt:        testEpoch,
		UpdatedAt:        testEpoch,
	}
}

func appendedNotification(id string, incident uint64, event, head ir.Digest, count uint32) ir.Notification {
	return ir.Notification{
		ID:         id,
		IncidentID: incident,
		Timestamp:  testEpoch,
		Payload:    ir.EventAppended{EventHash: event, NewHead: head, EventCount: count},
	}
}

// pragma reads a single pragma value.
func (s *Store) pragma(name string) (string, error) {
	var value string
	if err := s.db.QueryRow("PRAGMA " + name).Scan(&value); err != nil {
		return "", fmt.Errorf("failed to query %s: %w", name, err)
	}
	return value, nil
}
