package evidence

import (
	"testing"
	"time"

	"twocheck/core/events"
)

type mockState struct {
	records  map[string]*Evidence
	byTx     map[string][]string
	requests map[string]*Request
}

func newMockState() *mockState {
	return &mockState{
		records:  make(map[string]*Evidence),
		byTx:     make(map[string][]string),
		requests: make(map[string]*Request),
	}
}

func (m *mockState) EvidencePut(e *Evidence) error {
	if _, ok := m.records[e.ID]; !ok {
		m.byTx[e.TransactionID] = append(m.byTx[e.TransactionID], e.ID)
	}
	m.records[e.ID] = e.Clone()
	return nil
}

func (m *mockState) EvidenceGet(id string) (*Evidence, bool) {
	e, ok := m.records[id]
	if !ok {
		return nil, false
	}
	return e.Clone(), true
}

func (m *mockState) EvidenceByTransaction(txID string) []*Evidence {
	var out []*Evidence
	for _, id := range m.byTx[txID] {
		out = append(out, m.records[id].Clone())
	}
	return out
}

func (m *mockState) EvidenceRequestPut(r *Request) error {
	m.requests[r.TransactionID] = r.Clone()
	return nil
}

func (m *mockState) EvidenceRequestGet(txID string) (*Request, bool) {
	r, ok := m.requests[txID]
	if !ok {
		return nil, false
	}
	return r.Clone(), true
}

type captureEmitter struct {
	events []events.Event
}

func (c *captureEmitter) Emit(evt events.Event) { c.events = append(c.events, evt) }

func (c *captureEmitter) count(eventType string) int {
	n := 0
	for _, evt := range c.events {
		if evt.EventType() == eventType {
			n++
		}
	}
	return n
}

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) (*Store, *captureEmitter) {
	t.Helper()
	store := NewStore()
	store.SetState(newMockState())
	emitter := &captureEmitter{}
	store.SetEmitter(emitter)
	store.SetNowFunc(func() time.Time { return testNow })
	return store, emitter
}

func TestSubmitValidTrackingEvidence(t *testing.T) {
	store, emitter := newTestStore(t)
	record, err := store.Submit("tx-1", KindTracking, map[string]any{
		"trackingNumber": "1Z999AA10123456784",
		"carrier":        "ups",
	}, "sender-1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !record.Verified {
		t.Fatalf("expected verified record, issues: %v", record.Issues)
	}
	if record.Confidence <= 0.5 {
		t.Fatalf("expected confidence above 0.5, got %v", record.Confidence)
	}
	if record.ContentHash == "" {
		t.Fatal("expected content hash")
	}
	if emitter.count(events.TypeEvidenceSubmitted) != 1 {
		t.Fatal("expected submitted event")
	}
}

func TestSubmitRejectsMalformedTracking(t *testing.T) {
	store, _ := newTestStore(t)
	record, err := store.Submit("tx-1", KindTracking, map[string]any{
		"trackingNumber": "not-a-tracking-number",
		"carrier":        "ups",
	}, "sender-1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if record.Verified {
		t.Fatal("malformed tracking number must not verify")
	}
}

func TestDocumentValidatorRejectsFutureShipDate(t *testing.T) {
	store, _ := newTestStore(t)
	record, err := store.Submit("tx-1", KindDocument, map[string]any{
		"trackingNumber": "1Z999AA10123456784",
		"carrier":        "ups",
		"shipDate":       testNow.Add(48 * time.Hour).Format(time.RFC3339),
		"origin":         "warehouse-7",
	}, "sender-1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if record.Verified {
		t.Fatal("future ship date must not verify")
	}
}

func TestGPSValidatorChecksRangesAndAccuracy(t *testing.T) {
	store, _ := newTestStore(t)
	good, err := store.Submit("tx-1", KindGPS, map[string]any{
		"latitude":       51.5,
		"longitude":      -0.12,
		"capturedAt":     testNow.Add(-time.Hour).Format(time.RFC3339),
		"accuracyMeters": 12.0,
	}, "receiver-1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !good.Verified {
		t.Fatalf("expected verified gps record, issues: %v", good.Issues)
	}
	bad, err := store.Submit("tx-1", KindGPS, map[string]any{
		"latitude":       123.0,
		"longitude":      -0.12,
		"capturedAt":     testNow.Add(-time.Hour).Format(time.RFC3339),
		"accuracyMeters": 500.0,
	}, "receiver-1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if bad.Verified {
		t.Fatal("out-of-range coordinates must not verify")
	}
}

func TestUnparseableTimestampIsZeroConfidence(t *testing.T) {
	store, _ := newTestStore(t)
	record, err := store.Submit("tx-1", KindTimestamp, map[string]any{
		"at": "not-a-timestamp",
	}, "sender-1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if record.Verified || record.Confidence != 0 {
		t.Fatalf("expected invalid zero-confidence record, got %v", record.Confidence)
	}
}

func TestNilPayloadDoesNotValidate(t *testing.T) {
	result := runValidator(KindDocument, nil, testNow)
	if result.IsValid() {
		t.Fatal("nil payload must not validate")
	}
	if len(result.Issues) == 0 {
		t.Fatal("expected issues for nil payload")
	}
}

func TestSubmitRejectsUnknownKind(t *testing.T) {
	store, _ := newTestStore(t)
	if _, err := store.Submit("tx-1", Kind("hologram"), nil, "sender-1"); err == nil {
		t.Fatal("expected unknown kind error")
	}
}

func TestRequestFulfillmentLifecycle(t *testing.T) {
	store, emitter := newTestStore(t)
	if _, err := store.OpenRequest("tx-1", []Kind{KindTracking, KindSignature}); err != nil {
		t.Fatalf("open request: %v", err)
	}

	fulfilled, missing, err := store.CheckRequestFulfillment("tx-1")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if fulfilled || len(missing) != 2 {
		t.Fatalf("expected both kinds missing, got %v", missing)
	}
	if emitter.count(events.TypeEvidenceRequestPending) != 1 {
		t.Fatal("expected pending event")
	}

	if _, err := store.Submit("tx-1", KindTracking, map[string]any{
		"trackingNumber": "1Z999AA10123456784",
		"carrier":        "ups",
	}, "sender-1"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := store.Submit("tx-1", KindSignature, map[string]any{
		"signer":    "receiver-1",
		"signature": "deadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef",
	}, "receiver-1"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	fulfilled, missing, err = store.CheckRequestFulfillment("tx-1")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !fulfilled || missing != nil {
		t.Fatalf("expected fulfilled request, missing %v", missing)
	}
	if emitter.count(events.TypeEvidenceRequestFulfilled) != 1 {
		t.Fatal("expected fulfilled event")
	}

	// Re-checking a fulfilled request must not re-emit.
	if _, _, err := store.CheckRequestFulfillment("tx-1"); err != nil {
		t.Fatalf("recheck: %v", err)
	}
	if emitter.count(events.TypeEvidenceRequestFulfilled) != 1 {
		t.Fatal("fulfilled event must fire once")
	}
}

func TestUnverifiedEvidenceDoesNotFulfil(t *testing.T) {
	store, _ := newTestStore(t)
	if _, err := store.OpenRequest("tx-1", []Kind{KindTracking}); err != nil {
		t.Fatalf("open request: %v", err)
	}
	if _, err := store.Submit("tx-1", KindTracking, map[string]any{
		"trackingNumber": "bogus",
		"carrier":        "ups",
	}, "sender-1"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	fulfilled, missing, err := store.CheckRequestFulfillment("tx-1")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if fulfilled || len(missing) != 1 {
		t.Fatal("unverified evidence must not satisfy the request")
	}
}
