package transfer

import (
	"errors"
	"testing"
	"time"

	"twocheck/core/events"
)

func TestSweepExpiresOverdueTransfer(t *testing.T) {
	engine, state, emitter, sender := newTestEngine(t)
	mustCreate(t, engine, "tx-late", 100)

	engine.SetNowFunc(func() time.Time { return testNow.Add(73 * time.Hour) })
	if err := engine.SweepOnce(); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	tx, _ := state.TransferGet("tx-late")
	if tx.State != StateTimeout {
		t.Fatalf("expected TIMEOUT, got %s", tx.State)
	}
	if got := len(emitter.ofType(events.TypeTransferTimedOut)); got != 1 {
		t.Fatalf("expected one timeout event, got %d", got)
	}
	// sender, receiver and brand owner
	if got := len(sender.Messages()); got != 3 {
		t.Fatalf("expected 3 timeout notifications, got %d", got)
	}

	// A second sweep must leave the expired transfer alone.
	if err := engine.SweepOnce(); err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if got := len(emitter.ofType(events.TypeTransferTimedOut)); got != 1 {
		t.Fatalf("expected timeout event not re-emitted, got %d", got)
	}
}

func TestSweepSendsEachReminderOnce(t *testing.T) {
	engine, state, emitter, sender := newTestEngine(t)
	mustCreate(t, engine, "tx-slow", 100)

	// 60% elapsed crosses only the 50% threshold.
	engine.SetNowFunc(func() time.Time { return testNow.Add(time.Duration(0.6 * float64(72*time.Hour))) })
	if err := engine.SweepOnce(); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	reminders := emitter.ofType(events.TypeTransferReminder)
	if len(reminders) != 1 {
		t.Fatalf("expected one reminder, got %d", len(reminders))
	}
	first := reminders[0].(events.TransferReminder)
	if first.Threshold != 50 || first.Responsible != "factory-a" {
		t.Fatalf("expected 50%% reminder to sender, got %+v", first)
	}

	// Re-sweeping at the same instant must not resend.
	if err := engine.SweepOnce(); err != nil {
		t.Fatalf("re-sweep: %v", err)
	}
	if got := len(emitter.ofType(events.TypeTransferReminder)); got != 1 {
		t.Fatalf("expected reminder sent once, got %d", got)
	}

	// 92% elapsed crosses 75 and 90 in a single sweep.
	engine.SetNowFunc(func() time.Time { return testNow.Add(time.Duration(0.92 * float64(72*time.Hour))) })
	if err := engine.SweepOnce(); err != nil {
		t.Fatalf("late sweep: %v", err)
	}
	if got := len(emitter.ofType(events.TypeTransferReminder)); got != 3 {
		t.Fatalf("expected three reminders total, got %d", got)
	}
	tx, _ := state.TransferGet("tx-slow")
	if len(tx.RemindersSent) != 3 {
		t.Fatalf("expected all thresholds recorded, got %v", tx.RemindersSent)
	}
	if got := len(sender.SentTo("factory-a")); got != 3 {
		t.Fatalf("expected sender reminded three times, got %d", got)
	}
}

func TestSweepRemindsReceiverAfterSent(t *testing.T) {
	engine, _, emitter, _ := newTestEngine(t)
	mustCreate(t, engine, "tx-sent", 100)
	if _, err := engine.ConfirmSent("tx-sent", "factory-a", ""); err != nil {
		t.Fatalf("confirm sent: %v", err)
	}
	engine.SetNowFunc(func() time.Time { return testNow.Add(time.Duration(0.55 * float64(72*time.Hour))) })
	if err := engine.SweepOnce(); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	reminders := emitter.ofType(events.TypeTransferReminder)
	if len(reminders) != 1 {
		t.Fatalf("expected one reminder, got %d", len(reminders))
	}
	if got := reminders[0].(events.TransferReminder).Responsible; got != "warehouse-b" {
		t.Fatalf("expected receiver responsible in SENT, got %s", got)
	}
}

func TestSweepContinuesPastFailingTransfer(t *testing.T) {
	engine, state, emitter, _ := newTestEngine(t)
	mustCreate(t, engine, "tx-good-1", 100)
	mustCreate(t, engine, "tx-good-2", 100)

	// A record stuck in a state the graph does not know cannot expire; it
	// must surface an error without blocking the rest of the pass.
	stuck := &Transaction{
		ID:        "tx-stuck",
		Sender:    "factory-a",
		Receiver:  "warehouse-b",
		State:     State("LIMBO"),
		CreatedAt: testNow,
		UpdatedAt: testNow,
		TimeoutAt: testNow.Add(72 * time.Hour),
	}
	if err := state.TransferPut(stuck); err != nil {
		t.Fatalf("seed stuck transfer: %v", err)
	}

	engine.SetNowFunc(func() time.Time { return testNow.Add(73 * time.Hour) })
	err := engine.SweepOnce()
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected the stuck transfer's error surfaced, got %v", err)
	}
	for _, id := range []string{"tx-good-1", "tx-good-2"} {
		tx, _ := state.TransferGet(id)
		if tx.State != StateTimeout {
			t.Fatalf("expected %s expired despite the failing record, got %s", id, tx.State)
		}
	}
	if got := len(emitter.ofType(events.TypeTransferTimedOut)); got != 2 {
		t.Fatalf("expected two timeout events, got %d", got)
	}
}

func TestSweepSkipsDisputedTransfers(t *testing.T) {
	engine, state, emitter, _ := newTestEngine(t)
	mustCreate(t, engine, "tx-frozen", 100)
	if _, err := engine.ConfirmSent("tx-frozen", "factory-a", ""); err != nil {
		t.Fatalf("confirm sent: %v", err)
	}
	if _, err := engine.OpenDispute("tx-frozen", "warehouse-b", "damaged", ""); err != nil {
		t.Fatalf("open dispute: %v", err)
	}
	engine.SetNowFunc(func() time.Time { return testNow.Add(200 * time.Hour) })
	if err := engine.SweepOnce(); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	tx, _ := state.TransferGet("tx-frozen")
	if tx.State != StateDisputed {
		t.Fatalf("expected dispute to freeze the clock, got %s", tx.State)
	}
	if got := len(emitter.ofType(events.TypeTransferTimedOut)); got != 0 {
		t.Fatalf("expected no timeout for disputed transfer, got %d", got)
	}
}
