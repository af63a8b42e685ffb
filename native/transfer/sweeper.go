package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"twocheck/core/events"
	"twocheck/notify"
)

// SweepOnce scans every open transfer, expiring those past their deadline and
// sending any reminders whose thresholds the clock has crossed. Each reminder
// threshold fires at most once per transfer. A failing transfer never blocks
// the rest of the pass; its error is joined into the returned one.
func (e *Engine) SweepOnce() error {
	if e.state == nil {
		return errNilState
	}
	now := e.now()
	var errs []error
	for _, candidate := range e.state.TransferList() {
		id := candidate.ID
		mu := e.lockFor(id)
		mu.Lock()
		err := e.sweepLocked(id, now)
		mu.Unlock()
		if err != nil {
			errs = append(errs, fmt.Errorf("transfer %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) sweepLocked(id string, now time.Time) error {
	tx, ok := e.state.TransferGet(id)
	if !ok {
		return nil
	}
	if e.isTerminal(tx.State) || tx.State == StateDisputed || tx.State == StateTimeout {
		return nil
	}
	if !now.Before(tx.TimeoutAt) {
		_, err := e.transitionLocked(id, StateTimeout, ActorSystem, TransitionOpts{Reason: "confirmation deadline expired"})
		return err
	}
	elapsed := tx.ElapsedPercent(now)
	changed := false
	for _, threshold := range e.policy.Timeouts.ReminderThresholds {
		if elapsed < threshold || tx.ReminderSent(threshold) {
			continue
		}
		tx.RemindersSent = append(tx.RemindersSent, threshold)
		changed = true
		responsible := tx.ResponsibleParty()
		e.notifier.Send(notify.Message{
			To:            responsible,
			Subject:       "transfer confirmation pending",
			Priority:      notify.PriorityNormal,
			TransactionID: tx.ID,
			AdditionalInfo: map[string]string{
				"deadline": tx.TimeoutAt.UTC().Format(time.RFC3339),
			},
		})
		e.emit(events.TransferReminder{
			ID:          tx.ID,
			Responsible: responsible,
			Threshold:   threshold,
			Elapsed:     elapsed,
		})
	}
	if changed {
		return e.state.TransferPut(tx)
	}
	return nil
}

// Run drives the sweep on the configured interval until the context ends.
func (e *Engine) Run(ctx context.Context, logger *slog.Logger) {
	interval := e.policy.Timeouts.SweepInterval.Std()
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.SweepOnce(); err != nil && logger != nil {
				logger.Error("transfer sweep failed", "error", err)
			}
		}
	}
}
