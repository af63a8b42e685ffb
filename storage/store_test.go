package storage

import (
	"path/filepath"
	"testing"
	"time"

	"twocheck/native/escalation"
	"twocheck/native/evidence"
	"twocheck/native/transfer"
	"twocheck/native/trust"
)

var testNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func seedStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore()
	err := s.TransferPut(&transfer.Transaction{
		ID:        "tx-1",
		Sender:    "factory-a",
		Receiver:  "warehouse-b",
		Value:     1000,
		State:     transfer.StateSent,
		CreatedAt: testNow,
		TimeoutAt: testNow.Add(72 * time.Hour),
		History: []transfer.StateTransition{
			{From: transfer.StateCreated, To: transfer.StateCreated, Actor: "factory-a", At: testNow},
			{From: transfer.StateCreated, To: transfer.StateSent, Actor: "factory-a", At: testNow},
		},
	})
	if err != nil {
		t.Fatalf("transfer put: %v", err)
	}
	if err := s.TrustPut(&trust.Score{Participant: "factory-a", Score: 117.5, UpdatedAt: testNow}); err != nil {
		t.Fatalf("trust put: %v", err)
	}
	err = s.EvidencePut(&evidence.Evidence{
		ID:            "ev-1",
		TransactionID: "tx-1",
		Kind:          "tracking",
		Verified:      true,
		Confidence:    0.9,
		Data:          map[string]any{"trackingNumber": "1Z999AA10123456784"},
		SubmittedAt:   testNow,
	})
	if err != nil {
		t.Fatalf("evidence put: %v", err)
	}
	if err := s.EscalationPut(&escalation.Record{TransactionID: "tx-1", Level: 1, Action: "send_reminder", At: testNow}); err != nil {
		t.Fatalf("escalation put: %v", err)
	}
	if err := s.TimeoutMarkAdd("factory-a", testNow); err != nil {
		t.Fatalf("mark: %v", err)
	}
	return s
}

func TestReadsReturnClones(t *testing.T) {
	s := seedStore(t)
	tx, ok := s.TransferGet("tx-1")
	if !ok {
		t.Fatal("expected transfer present")
	}
	tx.State = transfer.StateCancelled
	tx.History[0].Actor = "mallory"

	again, _ := s.TransferGet("tx-1")
	if again.State != transfer.StateSent || again.History[0].Actor != "factory-a" {
		t.Fatal("stored transfer mutated through a returned clone")
	}
}

func TestEvidenceIndexedByTransaction(t *testing.T) {
	s := seedStore(t)
	if err := s.EvidencePut(&evidence.Evidence{ID: "ev-2", TransactionID: "tx-1", Kind: "photo"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	got := s.EvidenceByTransaction("tx-1")
	if len(got) != 2 || got[0].ID != "ev-1" || got[1].ID != "ev-2" {
		t.Fatalf("unexpected index contents: %d records", len(got))
	}
	// Updating a record must not duplicate its index entry.
	if err := s.EvidencePut(&evidence.Evidence{ID: "ev-2", TransactionID: "tx-1", Kind: "photo", Verified: true}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if got := s.EvidenceByTransaction("tx-1"); len(got) != 2 {
		t.Fatalf("expected 2 records after update, got %d", len(got))
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	s := seedStore(t)
	path := filepath.Join(t.TempDir(), "snapshot.db")
	p, err := OpenPersistence(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer p.Close()

	if err := p.Snapshot(s); err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	restored := NewStore()
	if err := p.Restore(restored); err != nil {
		t.Fatalf("restore: %v", err)
	}

	tx, ok := restored.TransferGet("tx-1")
	if !ok || tx.State != transfer.StateSent || len(tx.History) != 2 {
		t.Fatalf("transfer not restored: %+v", tx)
	}
	if !tx.TimeoutAt.Equal(testNow.Add(72 * time.Hour)) {
		t.Fatalf("deadline lost in restore: %s", tx.TimeoutAt)
	}
	score, ok := restored.TrustGet("factory-a")
	if !ok || score.Score != 117.5 {
		t.Fatalf("trust not restored: %+v", score)
	}
	if got := restored.EvidenceByTransaction("tx-1"); len(got) != 1 || got[0].ID != "ev-1" {
		t.Fatalf("evidence index not rebuilt: %d records", len(got))
	}
	if got := restored.EscalationHistory("tx-1"); len(got) != 1 || got[0].Level != 1 {
		t.Fatalf("escalation history not restored: %d records", len(got))
	}
	if got := restored.TimeoutMarks("factory-a"); len(got) != 1 || !got[0].Equal(testNow) {
		t.Fatalf("timeout marks not restored: %v", got)
	}
}

func TestRestoreFromEmptyDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fresh.db")
	p, err := OpenPersistence(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer p.Close()

	s := NewStore()
	if err := p.Restore(s); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if got := s.TransferList(); len(got) != 0 {
		t.Fatalf("expected empty store, got %d transfers", len(got))
	}
}

func TestSnapshotReplacesStaleEntries(t *testing.T) {
	s := seedStore(t)
	path := filepath.Join(t.TempDir(), "snapshot.db")
	p, err := OpenPersistence(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer p.Close()

	if err := p.Snapshot(s); err != nil {
		t.Fatalf("first snapshot: %v", err)
	}

	// Second snapshot from a store that only holds a different transfer.
	fresh := NewStore()
	if err := fresh.TransferPut(&transfer.Transaction{ID: "tx-2", State: transfer.StateCreated}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := p.Snapshot(fresh); err != nil {
		t.Fatalf("second snapshot: %v", err)
	}

	restored := NewStore()
	if err := p.Restore(restored); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if _, ok := restored.TransferGet("tx-1"); ok {
		t.Fatal("expected stale transfer gone after overwrite snapshot")
	}
	if _, ok := restored.TransferGet("tx-2"); !ok {
		t.Fatal("expected new transfer present")
	}
}
