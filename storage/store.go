package storage

import (
	"sort"
	"sync"
	"time"

	"twocheck/native/dispute"
	"twocheck/native/escalation"
	"twocheck/native/evidence"
	"twocheck/native/transfer"
	"twocheck/native/trust"
)

// Store is the in-memory system of record shared by every engine. All reads
// hand out clones, so callers can never mutate stored state behind the lock.
type Store struct {
	mu sync.RWMutex

	transfers     map[string]*transfer.Transaction
	scores        map[string]*trust.Score
	evidence      map[string]*evidence.Evidence
	evidenceByTx  map[string][]string
	requests      map[string]*evidence.Request
	disputes      map[string]*dispute.Dispute
	compensations map[string]*dispute.Compensation
	escalations   map[string][]*escalation.Record
	timeoutMarks  map[string][]time.Time
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		transfers:     make(map[string]*transfer.Transaction),
		scores:        make(map[string]*trust.Score),
		evidence:      make(map[string]*evidence.Evidence),
		evidenceByTx:  make(map[string][]string),
		requests:      make(map[string]*evidence.Request),
		disputes:      make(map[string]*dispute.Dispute),
		compensations: make(map[string]*dispute.Compensation),
		escalations:   make(map[string][]*escalation.Record),
		timeoutMarks:  make(map[string][]time.Time),
	}
}

// TransferPut stores a transaction.
func (s *Store) TransferPut(tx *transfer.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transfers[tx.ID] = tx.Clone()
	return nil
}

// TransferGet returns a transaction by id.
func (s *Store) TransferGet(id string) (*transfer.Transaction, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.transfers[id]
	if !ok {
		return nil, false
	}
	return tx.Clone(), true
}

// TransferList returns every transaction, ordered by id for determinism.
func (s *Store) TransferList() []*transfer.Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*transfer.Transaction, 0, len(s.transfers))
	for _, tx := range s.transfers {
		out = append(out, tx.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// TrustPut stores a participant score.
func (s *Store) TrustPut(score *trust.Score) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scores[score.Participant] = score.Clone()
	return nil
}

// TrustGet returns a participant score.
func (s *Store) TrustGet(participant string) (*trust.Score, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	score, ok := s.scores[participant]
	if !ok {
		return nil, false
	}
	return score.Clone(), true
}

// TrustList returns every known score.
func (s *Store) TrustList() []*trust.Score {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*trust.Score, 0, len(s.scores))
	for _, score := range s.scores {
		out = append(out, score.Clone())
	}
	return out
}

// EvidencePut stores an evidence record and indexes it by transaction.
func (s *Store) EvidencePut(ev *evidence.Evidence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.evidence[ev.ID]; !exists {
		s.evidenceByTx[ev.TransactionID] = append(s.evidenceByTx[ev.TransactionID], ev.ID)
	}
	s.evidence[ev.ID] = ev.Clone()
	return nil
}

// EvidenceGet returns an evidence record by id.
func (s *Store) EvidenceGet(id string) (*evidence.Evidence, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.evidence[id]
	if !ok {
		return nil, false
	}
	return ev.Clone(), true
}

// EvidenceByTransaction returns the evidence submitted for a transaction in
// submission order.
func (s *Store) EvidenceByTransaction(txID string) []*evidence.Evidence {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.evidenceByTx[txID]
	out := make([]*evidence.Evidence, 0, len(ids))
	for _, id := range ids {
		if ev, ok := s.evidence[id]; ok {
			out = append(out, ev.Clone())
		}
	}
	return out
}

// EvidenceRequestPut stores the open evidence request for a transaction.
func (s *Store) EvidenceRequestPut(req *evidence.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[req.TransactionID] = req.Clone()
	return nil
}

// EvidenceRequestGet returns the evidence request for a transaction.
func (s *Store) EvidenceRequestGet(txID string) (*evidence.Request, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[txID]
	if !ok {
		return nil, false
	}
	return req.Clone(), true
}

// DisputePut stores a dispute.
func (s *Store) DisputePut(d *dispute.Dispute) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disputes[d.ID] = d.Clone()
	return nil
}

// DisputeGet returns a dispute by id.
func (s *Store) DisputeGet(id string) (*dispute.Dispute, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.disputes[id]
	if !ok {
		return nil, false
	}
	return d.Clone(), true
}

// DisputeList returns every dispute.
func (s *Store) DisputeList() []*dispute.Dispute {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*dispute.Dispute, 0, len(s.disputes))
	for _, d := range s.disputes {
		out = append(out, d.Clone())
	}
	return out
}

// CompensationPut stores a compensation calculation.
func (s *Store) CompensationPut(c *dispute.Compensation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.compensations[c.ID] = c.Clone()
	return nil
}

// CompensationGet returns a compensation calculation by id.
func (s *Store) CompensationGet(id string) (*dispute.Compensation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.compensations[id]
	if !ok {
		return nil, false
	}
	return c.Clone(), true
}

// EscalationPut appends a fired escalation record to a transaction's history.
func (s *Store) EscalationPut(rec *escalation.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.escalations[rec.TransactionID] = append(s.escalations[rec.TransactionID], rec.Clone())
	return nil
}

// EscalationHistory returns the fired records for a transaction in order.
func (s *Store) EscalationHistory(transactionID string) []*escalation.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := s.escalations[transactionID]
	out := make([]*escalation.Record, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.Clone())
	}
	return out
}

// TimeoutMarkAdd records a timeout against a participant.
func (s *Store) TimeoutMarkAdd(participant string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeoutMarks[participant] = append(s.timeoutMarks[participant], at)
	return nil
}

// TimeoutMarks returns a participant's recorded timeout instants.
func (s *Store) TimeoutMarks(participant string) []time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]time.Time(nil), s.timeoutMarks[participant]...)
}
