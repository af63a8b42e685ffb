package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	bolt "go.etcd.io/bbolt"

	"twocheck/native/dispute"
	"twocheck/native/escalation"
	"twocheck/native/evidence"
	"twocheck/native/transfer"
	"twocheck/native/trust"
)

var (
	bucketTransfers     = []byte("transfers")
	bucketTrust         = []byte("trust")
	bucketEvidence      = []byte("evidence")
	bucketRequests      = []byte("evidenceRequests")
	bucketDisputes      = []byte("disputes")
	bucketCompensations = []byte("compensations")
	bucketEscalations   = []byte("escalations")
	bucketTimeoutMarks  = []byte("timeoutMarks")
)

var buckets = [][]byte{
	bucketTransfers, bucketTrust, bucketEvidence, bucketRequests,
	bucketDisputes, bucketCompensations, bucketEscalations, bucketTimeoutMarks,
}

// Persistence snapshots the in-memory store into a bbolt file so open
// transfers, scores, and deadlines survive a restart. Snapshots are whole-state
// and atomic per bbolt transaction.
type Persistence struct {
	db *bolt.DB
}

// OpenPersistence opens (or creates) the snapshot database at path.
func OpenPersistence(path string) (*Persistence, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open snapshot db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range buckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create snapshot buckets: %w", err)
	}
	return &Persistence{db: db}, nil
}

// Close releases the underlying database.
func (p *Persistence) Close() error { return p.db.Close() }

// Snapshot writes the store's entire contents in one transaction.
func (p *Persistence) Snapshot(s *Store) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return p.db.Update(func(tx *bolt.Tx) error {
		if err := writeBucket(tx, bucketTransfers, s.transfers); err != nil {
			return err
		}
		if err := writeBucket(tx, bucketTrust, s.scores); err != nil {
			return err
		}
		if err := writeBucket(tx, bucketEvidence, s.evidence); err != nil {
			return err
		}
		if err := writeBucket(tx, bucketRequests, s.requests); err != nil {
			return err
		}
		if err := writeBucket(tx, bucketDisputes, s.disputes); err != nil {
			return err
		}
		if err := writeBucket(tx, bucketCompensations, s.compensations); err != nil {
			return err
		}
		if err := writeBucket(tx, bucketEscalations, s.escalations); err != nil {
			return err
		}
		return writeBucket(tx, bucketTimeoutMarks, s.timeoutMarks)
	})
}

func writeBucket[V any](tx *bolt.Tx, name []byte, entries map[string]V) error {
	bucket := tx.Bucket(name)
	if err := clearBucket(bucket); err != nil {
		return err
	}
	for key, value := range entries {
		raw, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("encode %s/%s: %w", name, key, err)
		}
		if err := bucket.Put([]byte(key), raw); err != nil {
			return err
		}
	}
	return nil
}

func clearBucket(bucket *bolt.Bucket) error {
	cursor := bucket.Cursor()
	for key, _ := cursor.First(); key != nil; key, _ = cursor.Next() {
		if err := bucket.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

// Restore loads the last snapshot into the store, replacing its contents.
// A fresh database restores an empty store.
func (p *Persistence) Restore(s *Store) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return p.db.View(func(tx *bolt.Tx) error {
		if err := readBucket(tx, bucketTransfers, &s.transfers); err != nil {
			return err
		}
		if err := readBucket(tx, bucketTrust, &s.scores); err != nil {
			return err
		}
		if err := readBucket(tx, bucketEvidence, &s.evidence); err != nil {
			return err
		}
		if err := readBucket(tx, bucketRequests, &s.requests); err != nil {
			return err
		}
		if err := readBucket(tx, bucketDisputes, &s.disputes); err != nil {
			return err
		}
		if err := readBucket(tx, bucketCompensations, &s.compensations); err != nil {
			return err
		}
		if err := readBucket(tx, bucketEscalations, &s.escalations); err != nil {
			return err
		}
		if err := readBucket(tx, bucketTimeoutMarks, &s.timeoutMarks); err != nil {
			return err
		}
		s.reindexLocked()
		return nil
	})
}

func readBucket[V any](tx *bolt.Tx, name []byte, target *map[string]V) error {
	out := make(map[string]V)
	err := tx.Bucket(name).ForEach(func(key, raw []byte) error {
		var value V
		if err := json.Unmarshal(raw, &value); err != nil {
			return fmt.Errorf("decode %s/%s: %w", name, key, err)
		}
		out[string(key)] = value
		return nil
	})
	if err != nil {
		return err
	}
	*target = out
	return nil
}

// reindexLocked rebuilds derived indexes after a restore. Caller holds s.mu.
func (s *Store) reindexLocked() {
	s.evidenceByTx = make(map[string][]string)
	for id, ev := range s.evidence {
		s.evidenceByTx[ev.TransactionID] = append(s.evidenceByTx[ev.TransactionID], id)
	}
}

// RunSnapshots persists the store on the given interval until the context
// ends, then takes a final snapshot.
func (p *Persistence) RunSnapshots(ctx context.Context, s *Store, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := p.Snapshot(s); err != nil && logger != nil {
				logger.Error("final snapshot failed", "error", err)
			}
			return
		case <-ticker.C:
			if err := p.Snapshot(s); err != nil && logger != nil {
				logger.Error("snapshot failed", "error", err)
			}
		}
	}
}

// Interface assertions: the store backs every engine.
var (
	_ interface {
		TransferPut(*transfer.Transaction) error
		TransferGet(string) (*transfer.Transaction, bool)
		TransferList() []*transfer.Transaction
	} = (*Store)(nil)
	_ interface {
		TrustPut(*trust.Score) error
		TrustGet(string) (*trust.Score, bool)
		TrustList() []*trust.Score
	} = (*Store)(nil)
	_ interface {
		EvidencePut(*evidence.Evidence) error
		EvidenceRequestGet(string) (*evidence.Request, bool)
	} = (*Store)(nil)
	_ interface {
		DisputePut(*dispute.Dispute) error
		CompensationGet(string) (*dispute.Compensation, bool)
	} = (*Store)(nil)
	_ interface {
		EscalationPut(*escalation.Record) error
		TimeoutMarks(string) []time.Time
	} = (*Store)(nil)
)
