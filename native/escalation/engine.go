package escalation

import (
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"twocheck/config"
	"twocheck/core/events"
	"twocheck/native/trust"
	"twocheck/notify"
)

var errNilState = errors.New("escalation engine: state not configured")

type engineState interface {
	EscalationPut(*Record) error
	EscalationHistory(transactionID string) []*Record
	TimeoutMarkAdd(participant string, at time.Time) error
	TimeoutMarks(participant string) []time.Time
}

// TrustUpdater applies the negative deltas attached to severe escalations.
type TrustUpdater interface {
	UpdateScore(trust.UpdateRequest) (*trust.Score, error)
}

// DisputeOpener opens a dispute on behalf of the escalation ladder.
type DisputeOpener interface {
	OpenDispute(transactionID, creator, kind, reason string) error
}

// Engine fires graduated responses as a transaction's elapsed-time percentage
// crosses its type's configured activation thresholds.
type Engine struct {
	mu       sync.Mutex
	state    engineState
	emitter  events.Emitter
	notifier notify.Sender
	logger   *slog.Logger
	policy   config.EscalationPolicy
	brand    string

	trust    TrustUpdater
	disputes DisputeOpener
	nowFn    func() time.Time
}

// NewEngine creates an escalation engine with no-op collaborators.
func NewEngine(policy config.EscalationPolicy, brandOwner string) *Engine {
	return &Engine{
		emitter:  events.NoopEmitter{},
		notifier: notify.NoopSender{},
		logger:   slog.Default(),
		policy:   policy,
		brand:    brandOwner,
		nowFn:    time.Now,
	}
}

// SetState configures the state backend.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNotifier configures the notification sender. Passing nil resets it to a
// no-op.
func (e *Engine) SetNotifier(sender notify.Sender) {
	if sender == nil {
		e.notifier = notify.NoopSender{}
		return
	}
	e.notifier = sender
}

// SetLogger configures the structured logger used for non-fatal conditions.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		e.logger = slog.Default()
		return
	}
	e.logger = logger
}

// SetTrustUpdater wires the reputation engine.
func (e *Engine) SetTrustUpdater(updater TrustUpdater) { e.trust = updater }

// SetDisputeOpener wires automatic dispute creation.
func (e *Engine) SetDisputeOpener(opener DisputeOpener) { e.disputes = opener }

// SetNowFunc overrides the time source, primarily used in tests.
func (e *Engine) SetNowFunc(now func() time.Time) {
	if now == nil {
		e.nowFn = time.Now
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) now() time.Time {
	if e == nil || e.nowFn == nil {
		return time.Now()
	}
	return e.nowFn()
}

// HandleEscalation selects the highest level of the transaction type's ladder
// activated by the elapsed percentage and fires it. A level already reached or
// exceeded for the transaction never fires again. Unknown transaction types
// are a logged no-op.
func (e *Engine) HandleEscalation(tx TransactionRef, percent float64, txType string) (*Record, error) {
	if e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	ladder, ok := e.policy.Types[txType]
	if !ok {
		e.logger.Warn("no escalation configuration for transaction type", "type", txType, "transaction", tx.ID)
		return nil, nil
	}

	var chosen *config.EscalationLevel
	for i := range ladder {
		level := &ladder[i]
		if level.Percent > percent {
			continue
		}
		if chosen == nil || level.Level > chosen.Level {
			chosen = level
		}
	}
	if chosen == nil {
		return nil, nil
	}
	for _, fired := range e.state.EscalationHistory(tx.ID) {
		if fired.Level >= chosen.Level {
			return nil, nil
		}
	}

	recipients := e.resolveRecipients(chosen.Notify, tx)
	record := &Record{
		TransactionID: tx.ID,
		Level:         chosen.Level,
		Action:        chosen.Action,
		Percent:       percent,
		Recipients:    recipients,
		At:            e.now(),
	}
	if err := e.state.EscalationPut(record); err != nil {
		return nil, err
	}
	e.dispatch(chosen, tx, recipients)
	e.emit(events.EscalationTriggered{
		TransactionID: tx.ID,
		Level:         chosen.Level,
		Action:        chosen.Action,
		Percent:       percent,
		Recipients:    recipients,
	})
	return record.Clone(), nil
}

// resolveRecipients expands notify-list tokens into concrete identifiers,
// dropping duplicates while preserving order.
func (e *Engine) resolveRecipients(tokens []string, tx TransactionRef) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(recipient string) {
		if recipient == "" || seen[recipient] {
			return
		}
		seen[recipient] = true
		out = append(out, recipient)
	}
	for _, token := range tokens {
		switch token {
		case TokenSender:
			add(tx.Sender)
		case TokenReceiver:
			add(tx.Receiver)
		case TokenAllStakeholders:
			add(tx.Sender)
			add(tx.Receiver)
			add(e.brand)
		case TokenBrandAdmin:
			add(e.brand)
		default:
			add(token)
		}
	}
	return out
}

func (e *Engine) dispatch(level *config.EscalationLevel, tx TransactionRef, recipients []string) {
	switch level.Action {
	case ActionSendReminder:
		e.send(recipients, tx, "transfer confirmation overdue", notify.PriorityNormal, level.Channel)
	case ActionUrgentNotification:
		// Urgent notifications go out on every channel regardless of config.
		e.send(recipients, tx, "urgent: transfer confirmation required", notify.PriorityCritical, "all")
	case ActionSupportTicket:
		e.send(recipients, tx, "support ticket: stalled custody transfer", notify.PriorityHigh, level.Channel)
	case ActionHaltProduction:
		e.send(recipients, tx, "production halt requested for stalled transfer", notify.PriorityCritical, level.Channel)
	case ActionCreateDispute:
		e.openDispute(tx)
		e.send(recipients, tx, "dispute opened automatically for stalled transfer", notify.PriorityHigh, level.Channel)
	case ActionAutoEscalate:
		e.openDispute(tx)
		e.send(recipients, tx, "transfer escalated automatically", notify.PriorityHigh, level.Channel)
		e.applyTrust(tx, trust.ActionEscalationTriggered)
	case ActionSecurityAlert:
		e.send(recipients, tx, "security alert: transfer unresolved at deadline", notify.PriorityCritical, "all")
		e.applyTrust(tx, trust.ActionSecurityAlert)
	default:
		e.logger.Warn("unknown escalation action", "action", level.Action, "transaction", tx.ID)
	}
}

func (e *Engine) send(recipients []string, tx TransactionRef, subject, priority, channel string) {
	for _, to := range recipients {
		e.notifier.Send(notify.Message{
			To:            to,
			Subject:       subject,
			Priority:      priority,
			Channel:       channel,
			TransactionID: tx.ID,
		})
	}
}

func (e *Engine) openDispute(tx TransactionRef) {
	if e.disputes == nil {
		return
	}
	if err := e.disputes.OpenDispute(tx.ID, tx.Receiver, "not_received", "opened by escalation ladder"); err != nil {
		e.logger.Error("automatic dispute creation failed", "transaction", tx.ID, "error", err)
	}
}

// applyTrust penalises both parties, the receiver at half weight.
func (e *Engine) applyTrust(tx TransactionRef, action trust.Action) {
	if e.trust == nil {
		return
	}
	for _, update := range []trust.UpdateRequest{
		{Participant: tx.Sender, Action: action, TransactionID: tx.ID},
		{Participant: tx.Receiver, Action: action, TransactionID: tx.ID, Scale: 0.5},
	} {
		if _, err := e.trust.UpdateScore(update); err != nil {
			e.logger.Error("trust update failed after escalation", "transaction", tx.ID, "participant", update.Participant, "error", err)
		}
	}
}

// History returns the fired escalation records for a transaction.
func (e *Engine) History(transactionID string) []*Record {
	if e.state == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	records := e.state.EscalationHistory(transactionID)
	out := make([]*Record, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.Clone())
	}
	return out
}

// RecordTimeout marks a timeout against the responsible party for the rolling
// pattern check.
func (e *Engine) RecordTimeout(participant string) error {
	if e.state == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.TimeoutMarkAdd(participant, e.now())
}

// CheckAutoEscalationPatterns reports whether the party's recent timeout count
// exceeds the configured threshold inside the rolling window, flagging it when
// it does.
func (e *Engine) CheckAutoEscalationPatterns(participant string) (bool, error) {
	if e.state == nil {
		return false, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	threshold := e.policy.PatternTimeoutThreshold
	window := e.policy.PatternWindow.Std()
	if threshold <= 0 || window <= 0 {
		return false, nil
	}
	cutoff := e.now().Add(-window)
	count := 0
	for _, at := range e.state.TimeoutMarks(participant) {
		if at.After(cutoff) {
			count++
		}
	}
	if count <= threshold {
		return false, nil
	}
	e.emit(events.EscalationPatternFlagged{
		Participant: participant,
		Timeouts:    count,
		WindowHours: int(window.Hours()),
	})
	e.notifier.Send(notify.Message{
		To:       e.brand,
		Subject:  "repeated timeout pattern detected",
		Priority: notify.PriorityHigh,
		AdditionalInfo: map[string]string{
			"participant": participant,
			"timeouts":    strconv.Itoa(count),
		},
	})
	return true, nil
}
