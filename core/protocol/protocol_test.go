package protocol

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"twocheck/config"
	"twocheck/core/events"
	"twocheck/ledger"
	"twocheck/native/anomaly"
	"twocheck/native/dispute"
	"twocheck/native/transfer"
	"twocheck/notify"
)

var testStart = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type captureEmitter struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *captureEmitter) Emit(evt events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
}

func (c *captureEmitter) ofType(eventType string) []events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []events.Event
	for _, evt := range c.events {
		if evt.EventType() == eventType {
			out = append(out, evt)
		}
	}
	return out
}

type captureLedger struct {
	mu      sync.Mutex
	actions []string
}

func (c *captureLedger) SubmitTransaction(_ context.Context, name string, _ []string) (*ledger.SubmitResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.actions = append(c.actions, name)
	return &ledger.SubmitResult{TransactionID: "0xabc"}, nil
}

func (c *captureLedger) EvaluateTransaction(context.Context, string, []string) (*ledger.EvaluateResult, error) {
	return &ledger.EvaluateResult{}, nil
}

func (c *captureLedger) count(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, action := range c.actions {
		if action == name {
			n++
		}
	}
	return n
}

type fixture struct {
	protocol *Protocol
	clock    *testClock
	emitter  *captureEmitter
	sender   *notify.MemorySender
	chain    *captureLedger
}

func newFixture(t *testing.T, mutate func(*config.Policy)) *fixture {
	t.Helper()
	policy := config.DefaultPolicy()
	if mutate != nil {
		mutate(policy)
	}
	clock := &testClock{now: testStart}
	emitter := &captureEmitter{}
	sender := notify.NewMemorySender()
	chain := &captureLedger{}
	p := New(Options{
		Policy:   policy,
		Emitter:  emitter,
		Notifier: sender,
		Ledger:   chain,
		Now:      clock.Now,
	})
	return &fixture{protocol: p, clock: clock, emitter: emitter, sender: sender, chain: chain}
}

func submitRequest(id string, value int64) transfer.CreateRequest {
	return transfer.CreateRequest{
		ID:       id,
		Sender:   "factory-a",
		Receiver: "warehouse-b",
		ItemID:   "batch-77",
		Value:    value,
	}
}

func TestSubmitThroughValidation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	tx, analysis, err := f.protocol.SubmitTransaction(ctx, submitRequest("tx-1", 1000))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if analysis.Action != anomaly.ActionProceed {
		t.Fatalf("expected proceed, got %s", analysis.Action)
	}
	if want := testStart.Add(72 * time.Hour); !tx.TimeoutAt.Equal(want) {
		t.Fatalf("expected default 72h deadline, got %v", tx.TimeoutAt)
	}

	f.clock.Advance(time.Hour)
	if _, err := f.protocol.ConfirmSent(ctx, "tx-1", "factory-a", ""); err != nil {
		t.Fatalf("confirm sent: %v", err)
	}
	f.clock.Advance(time.Hour)
	tx, err = f.protocol.ConfirmReceived(ctx, "tx-1", "warehouse-b", "")
	if err != nil {
		t.Fatalf("confirm received: %v", err)
	}
	if tx.State != transfer.StateValidated {
		t.Fatalf("expected validated, got %s", tx.State)
	}
	if tx.SenderConfirmedAt == nil || tx.ReceiverConfirmedAt == nil {
		t.Fatal("expected both confirmation timestamps")
	}

	if got := len(f.emitter.ofType(events.TypeTransferValidated)); got != 1 {
		t.Fatalf("expected one validated event, got %d", got)
	}
	// Each party earns the on-time confirmation bonus plus the validation
	// credit, so both end above the initial score.
	for _, party := range []string{"factory-a", "warehouse-b"} {
		score, err := f.protocol.TrustScore(party)
		if err != nil {
			t.Fatalf("trust score %s: %v", party, err)
		}
		if score.Score <= f.protocol.policy.Trust.InitialScore {
			t.Fatalf("expected %s above initial score, got %v", party, score.Score)
		}
	}
	for _, action := range []string{"transfer_create", "transfer_confirm_sent", "transfer_confirm_received"} {
		if f.chain.count(action) != 1 {
			t.Fatalf("expected one ledger record for %s", action)
		}
	}
}

func TestSubmitBlockedByAnomalyGate(t *testing.T) {
	f := newFixture(t, func(p *config.Policy) {
		p.Anomaly.VelocityPerHour = 1
		p.Anomaly.BurstPerHour = 1
	})
	ctx := context.Background()

	if _, _, err := f.protocol.SubmitTransaction(ctx, submitRequest("tx-1", 500)); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	req := submitRequest("tx-2", 500)
	req.Receiver = "warehouse-c"
	_, analysis, err := f.protocol.SubmitTransaction(ctx, req)
	if !errors.Is(err, ErrSubmissionBlocked) {
		t.Fatalf("expected blocked submission, got %v", err)
	}
	if analysis == nil || analysis.Action != anomaly.ActionBlock {
		t.Fatal("expected block analysis alongside the error")
	}
	if _, err := f.protocol.Transaction("tx-2"); !errors.Is(err, transfer.ErrNotFound) {
		t.Fatalf("blocked transaction must not be stored, got %v", err)
	}
}

func TestSubmitRejectsBlacklistedParty(t *testing.T) {
	f := newFixture(t, func(p *config.Policy) {
		p.Anomaly.Blacklist = []string{"factory-a"}
	})
	_, _, err := f.protocol.SubmitTransaction(context.Background(), submitRequest("tx-1", 500))
	if !errors.Is(err, ErrEmergencyStop) {
		t.Fatalf("expected emergency stop, got %v", err)
	}
}

func TestDisputeFlowWithEvidence(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if _, _, err := f.protocol.SubmitTransaction(ctx, submitRequest("tx-1", 1000)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := f.protocol.ConfirmSent(ctx, "tx-1", "factory-a", ""); err != nil {
		t.Fatalf("confirm sent: %v", err)
	}

	d, err := f.protocol.OpenDispute(ctx, "tx-1", "warehouse-b", "not_received", "nothing arrived", nil)
	if err != nil {
		t.Fatalf("open dispute: %v", err)
	}
	if d.Respondent != "factory-a" {
		t.Fatalf("expected factory-a respondent, got %s", d.Respondent)
	}
	tx, err := f.protocol.Transaction("tx-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if tx.State != transfer.StateDisputed {
		t.Fatalf("expected disputed transfer, got %s", tx.State)
	}

	ev, fulfilled, err := f.protocol.SubmitEvidence(ctx, "tx-1", "tracking", map[string]any{
		"trackingNumber": "1Z999AA10123456784",
		"carrier":        "ups",
	}, "factory-a")
	if err != nil {
		t.Fatalf("submit evidence: %v", err)
	}
	if !ev.Verified {
		t.Fatalf("expected verified tracking evidence, issues: %v", ev.Issues)
	}
	if !fulfilled {
		t.Fatal("expected the evidence request to be fulfilled")
	}

	// Verified carrier tracking on a not_received dispute clears the
	// auto-resolution bar.
	d, err = f.protocol.Dispute(d.ID)
	if err != nil {
		t.Fatalf("dispute get: %v", err)
	}
	if !d.Resolved() {
		t.Fatalf("expected auto-resolved dispute, status %s", d.Status)
	}
	if d.Resolution.Decision != dispute.DecisionFavorCreator || !d.Resolution.Automatic {
		t.Fatalf("unexpected resolution: %+v", d.Resolution)
	}
}

func TestTimeoutSweepPenalizesResponsible(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if _, _, err := f.protocol.SubmitTransaction(ctx, submitRequest("tx-1", 1000)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	before, err := f.protocol.TrustScore("factory-a")
	if err != nil {
		t.Fatalf("score: %v", err)
	}

	f.clock.Advance(73 * time.Hour)
	if err := f.protocol.SweepOnce(); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	tx, err := f.protocol.Transaction("tx-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if tx.State != transfer.StateTimeout {
		t.Fatalf("expected timeout, got %s", tx.State)
	}
	// The sender never confirmed, so the penalty lands on factory-a.
	after, err := f.protocol.TrustScore("factory-a")
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if after.Score >= before.Score {
		t.Fatalf("expected trust penalty, before %v after %v", before.Score, after.Score)
	}
	if err := f.protocol.SweepOnce(); err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if got := len(f.emitter.ofType(events.TypeTransferTimedOut)); got != 1 {
		t.Fatalf("expected exactly one timeout event, got %d", got)
	}
}

func TestRepeatedTimeoutsFlagPattern(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		id := "tx-" + string(rune('a'+i))
		if _, _, err := f.protocol.SubmitTransaction(ctx, submitRequest(id, 100)); err != nil {
			t.Fatalf("submit %s: %v", id, err)
		}
	}
	f.clock.Advance(73 * time.Hour)
	if err := f.protocol.SweepOnce(); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if got := len(f.emitter.ofType(events.TypeEscalationPatternFlagged)); got == 0 {
		t.Fatal("expected a flagged timeout pattern after four timeouts")
	}
}

func TestEscalationLadderStandard(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if _, _, err := f.protocol.SubmitTransaction(ctx, submitRequest("tx-1", 1000)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	// 55% of the 72h window.
	f.clock.Advance(39*time.Hour + 36*time.Minute)
	if err := f.protocol.EscalateOnce(); err != nil {
		t.Fatalf("escalate: %v", err)
	}
	history := f.protocol.EscalationHistory("tx-1")
	if len(history) != 1 {
		t.Fatalf("expected one escalation record, got %d", len(history))
	}
	if history[0].Level != 1 || history[0].Action != "send_reminder" {
		t.Fatalf("expected the level-1 reminder, got level %d action %s", history[0].Level, history[0].Action)
	}
	if history[0].Percent < 50 {
		t.Fatalf("expected recorded elapsed at or past the level threshold, got %v", history[0].Percent)
	}
	if err := f.protocol.EscalateOnce(); err != nil {
		t.Fatalf("repeat escalate: %v", err)
	}
	if got := len(f.protocol.EscalationHistory("tx-1")); got != 1 {
		t.Fatalf("escalation must fire once per level, got %d records", got)
	}
}

func TestEscalationUsesHighValueLadder(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	// 20000 is above the high-value bound but keeps a 24h window via the
	// high-value timeout category, so 45% elapsed is under 11h.
	if _, _, err := f.protocol.SubmitTransaction(ctx, submitRequest("tx-1", 20000)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	f.clock.Advance(11 * time.Hour)
	if err := f.protocol.EscalateOnce(); err != nil {
		t.Fatalf("escalate: %v", err)
	}
	history := f.protocol.EscalationHistory("tx-1")
	if len(history) != 1 {
		t.Fatalf("expected one escalation record, got %d", len(history))
	}
	// 11h of 24h is past the 40% level but short of the standard ladder's
	// 50% one, so only the high-value ladder fires here.
	if history[0].Level != 1 || history[0].Action != "send_reminder" {
		t.Fatalf("expected the high-value level-1 reminder, got level %d action %s", history[0].Level, history[0].Action)
	}
}

func TestPendingForAndLeaderboard(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if _, _, err := f.protocol.SubmitTransaction(ctx, submitRequest("tx-1", 1000)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := f.protocol.ConfirmSent(ctx, "tx-1", "factory-a", ""); err != nil {
		t.Fatalf("confirm sent: %v", err)
	}

	pending := f.protocol.PendingFor("warehouse-b")
	if len(pending) != 1 || pending[0].ID != "tx-1" {
		t.Fatalf("expected tx-1 pending for warehouse-b, got %v", pending)
	}
	board, err := f.protocol.Leaderboard(10)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(board) == 0 {
		t.Fatal("expected leaderboard entries after confirmations")
	}
}
