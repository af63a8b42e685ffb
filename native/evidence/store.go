package evidence

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"twocheck/core/events"
)

var (
	errNilState           = errors.New("evidence store: state not configured")
	ErrRequestNotFound    = errors.New("evidence store: no open request for transaction")
	errTransactionIDBlank = errors.New("evidence store: transaction id required")
	errSubmitterBlank     = errors.New("evidence store: submitter required")
)

type storeState interface {
	EvidencePut(*Evidence) error
	EvidenceGet(id string) (*Evidence, bool)
	EvidenceByTransaction(txID string) []*Evidence
	EvidenceRequestPut(*Request) error
	EvidenceRequestGet(txID string) (*Request, bool)
}

// Store collects proof artifacts and runs type-specific validation at
// submission time. Submissions for the same transaction are serialised
// relative to sufficiency checks so fulfilment never evaluates a half-updated
// set.
type Store struct {
	mu      sync.Mutex
	state   storeState
	emitter events.Emitter
	nowFn   func() time.Time
}

// NewStore creates an evidence store with a no-op emitter.
func NewStore() *Store {
	return &Store{
		emitter: events.NoopEmitter{},
		nowFn:   time.Now,
	}
}

// SetState configures the state backend used by the store.
func (s *Store) SetState(state storeState) { s.state = state }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (s *Store) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		s.emitter = events.NoopEmitter{}
		return
	}
	s.emitter = emitter
}

// SetNowFunc overrides the time source, primarily used in tests.
func (s *Store) SetNowFunc(now func() time.Time) {
	if now == nil {
		s.nowFn = time.Now
		return
	}
	s.nowFn = now
}

func (s *Store) emit(evt events.Event) {
	if s == nil || s.emitter == nil || evt == nil {
		return
	}
	s.emitter.Emit(evt)
}

func (s *Store) now() time.Time {
	if s == nil || s.nowFn == nil {
		return time.Now()
	}
	return s.nowFn()
}

// Submit stores a new artifact, hashes its payload for integrity and runs the
// kind's validator immediately. A failing validator yields an invalid record,
// not an error.
func (s *Store) Submit(txID string, kind Kind, data map[string]any, submittedBy string) (*Evidence, error) {
	if s.state == nil {
		return nil, errNilState
	}
	txID = strings.TrimSpace(txID)
	if txID == "" {
		return nil, errTransactionIDBlank
	}
	submittedBy = strings.TrimSpace(submittedBy)
	if submittedBy == "" {
		return nil, errSubmitterBlank
	}
	parsed, err := ParseKind(string(kind))
	if err != nil {
		return nil, err
	}
	hash, err := hashPayload(data)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	result := runValidator(parsed, data, now)
	record := &Evidence{
		ID:            uuid.NewString(),
		TransactionID: txID,
		Kind:          parsed,
		SubmittedBy:   submittedBy,
		SubmittedAt:   now,
		ContentHash:   hash,
		Data:          data,
		Verified:      result.IsValid(),
		Confidence:    result.Confidence,
		Issues:        result.Issues,
	}
	if err := s.state.EvidencePut(record); err != nil {
		return nil, err
	}
	s.emit(events.EvidenceSubmitted{
		ID:            record.ID,
		TransactionID: record.TransactionID,
		Kind:          string(record.Kind),
		SubmittedBy:   record.SubmittedBy,
		Verified:      record.Verified,
		Confidence:    record.Confidence,
	})
	return record.Clone(), nil
}

// Get returns the artifact by id.
func (s *Store) Get(id string) (*Evidence, bool) {
	if s.state == nil {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.state.EvidenceGet(id)
	if !ok {
		return nil, false
	}
	return record.Clone(), true
}

// ListByTransaction returns every artifact submitted for the transaction.
func (s *Store) ListByTransaction(txID string) []*Evidence {
	if s.state == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	records := s.state.EvidenceByTransaction(txID)
	out := make([]*Evidence, 0, len(records))
	for _, r := range records {
		out = append(out, r.Clone())
	}
	return out
}

// OpenRequest registers the required verified evidence types for a
// transaction, replacing any previous open request.
func (s *Store) OpenRequest(txID string, required []Kind) (*Request, error) {
	if s.state == nil {
		return nil, errNilState
	}
	txID = strings.TrimSpace(txID)
	if txID == "" {
		return nil, errTransactionIDBlank
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	request := &Request{
		TransactionID: txID,
		Required:      append([]Kind(nil), required...),
		OpenedAt:      s.now(),
	}
	if err := s.state.EvidenceRequestPut(request); err != nil {
		return nil, err
	}
	return request.Clone(), nil
}

// CheckRequestFulfillment compares verified evidence types against the open
// request. Satisfaction emits a fulfilled event; shortfall emits a pending
// event and is not an error.
func (s *Store) CheckRequestFulfillment(txID string) (bool, []Kind, error) {
	if s.state == nil {
		return false, nil, errNilState
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	request, ok := s.state.EvidenceRequestGet(txID)
	if !ok {
		return false, nil, ErrRequestNotFound
	}
	verified := make(map[Kind]bool)
	for _, record := range s.state.EvidenceByTransaction(txID) {
		if record.Verified {
			verified[record.Kind] = true
		}
	}
	var missing []Kind
	for _, kind := range request.Required {
		if !verified[kind] {
			missing = append(missing, kind)
		}
	}
	if len(missing) > 0 {
		names := make([]string, 0, len(missing))
		for _, kind := range missing {
			names = append(names, string(kind))
		}
		s.emit(events.EvidenceRequestPending{TransactionID: txID, Missing: names})
		return false, missing, nil
	}
	if request.FulfilledAt == nil {
		now := s.now()
		request.FulfilledAt = &now
		if err := s.state.EvidenceRequestPut(request); err != nil {
			return false, nil, err
		}
		s.emit(events.EvidenceRequestFulfilled{
			TransactionID: txID,
			Required:      len(request.Required),
			Submitted:     len(verified),
		})
	}
	return true, nil, nil
}
