package protocol

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"twocheck/config"
	"twocheck/core/events"
	"twocheck/ledger"
	"twocheck/native/anomaly"
	"twocheck/native/dispute"
	"twocheck/native/escalation"
	"twocheck/native/evidence"
	"twocheck/native/transfer"
	"twocheck/native/trust"
	"twocheck/notify"
	"twocheck/observability/metrics"
	"twocheck/storage"
)

var (
	// ErrSubmissionBlocked indicates the anomaly gate rejected the
	// transaction before it entered the state machine.
	ErrSubmissionBlocked = errors.New("protocol: submission blocked by anomaly gate")
	// ErrEmergencyStop indicates a participant is under an emergency stop
	// and may not take part in new transactions.
	ErrEmergencyStop = errors.New("protocol: participant under emergency stop")
)

// Protocol composes the transfer, trust, evidence, dispute, escalation and
// anomaly engines into the confirmation protocol surface. All engines share
// one store and report through one emitter.
type Protocol struct {
	policy   *config.Policy
	store    *storage.Store
	sink     events.Emitter
	notifier notify.Sender
	chain    ledger.Client
	logger   *slog.Logger
	stats    *metrics.ProtocolMetrics
	nowFn    func() time.Time

	transfers   *transfer.Engine
	trust       *trust.Engine
	evidence    *evidence.Store
	disputes    *dispute.Engine
	escalations *escalation.Engine
	detector    *anomaly.Detector

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

// Options configures a Protocol. Zero fields fall back to safe defaults: the
// default policy, an empty in-memory store, and no-op emitter, notifier and
// ledger client.
type Options struct {
	Policy   *config.Policy
	Store    *storage.Store
	Emitter  events.Emitter
	Notifier notify.Sender
	Ledger   ledger.Client
	Logger   *slog.Logger
	Now      func() time.Time
}

// New wires all engines against the shared store and returns the assembled
// protocol.
func New(opts Options) *Protocol {
	policy := opts.Policy
	if policy == nil {
		policy = config.DefaultPolicy()
	}
	store := opts.Store
	if store == nil {
		store = storage.NewStore()
	}
	sink := opts.Emitter
	if sink == nil {
		sink = events.NoopEmitter{}
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.NoopSender{}
	}
	chain := opts.Ledger
	if chain == nil {
		chain = ledger.NoopClient{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	nowFn := opts.Now
	if nowFn == nil {
		nowFn = time.Now
	}

	p := &Protocol{
		policy:   policy,
		store:    store,
		sink:     sink,
		notifier: notifier,
		chain:    chain,
		logger:   logger,
		stats:    metrics.Protocol(),
		nowFn:    nowFn,
		locks:    make(map[string]*sync.Mutex),
	}

	bus := &relay{p: p}

	p.trust = trust.NewEngine(policy.Trust)
	p.trust.SetState(store)
	p.trust.SetEmitter(bus)
	p.trust.SetNowFunc(nowFn)

	p.transfers = transfer.NewEngine(policy)
	p.transfers.SetState(store)
	p.transfers.SetEmitter(bus)
	p.transfers.SetNotifier(notifier)
	p.transfers.SetTrustReader(p.trust)
	p.transfers.SetNowFunc(nowFn)

	p.evidence = evidence.NewStore()
	p.evidence.SetState(store)
	p.evidence.SetEmitter(bus)
	p.evidence.SetNowFunc(nowFn)

	p.disputes = dispute.NewEngine(policy.Disputes)
	p.disputes.SetState(store)
	p.disputes.SetEmitter(bus)
	p.disputes.SetNotifier(notifier)
	p.disputes.SetLogger(logger)
	p.disputes.SetTransferReader(transferFacts{p.transfers})
	p.disputes.SetEvidenceReader(evidenceFacts{p.evidence})
	p.disputes.SetTrustUpdater(p.trust)
	p.disputes.SetTrustReader(p.trust)
	p.disputes.SetNowFunc(nowFn)

	p.escalations = escalation.NewEngine(policy.Escalation, policy.BrandOwner)
	p.escalations.SetState(store)
	p.escalations.SetEmitter(bus)
	p.escalations.SetNotifier(notifier)
	p.escalations.SetLogger(logger)
	p.escalations.SetTrustUpdater(p.trust)
	p.escalations.SetDisputeOpener(disputeBridge{p})
	p.escalations.SetNowFunc(nowFn)

	p.detector = anomaly.NewDetector(policy.Anomaly)
	p.detector.SetEmitter(bus)
	p.detector.SetTrustReader(p.trust)
	p.detector.SetNowFunc(nowFn)

	return p
}

func (p *Protocol) now() time.Time { return p.nowFn() }

// lockParticipants acquires the per-participant mutexes in sorted order so
// concurrent submissions involving the same parties serialize without
// deadlocking.
func (p *Protocol) lockParticipants(parties ...string) func() {
	sorted := make([]string, 0, len(parties))
	seen := make(map[string]struct{}, len(parties))
	for _, party := range parties {
		if _, ok := seen[party]; ok {
			continue
		}
		seen[party] = struct{}{}
		sorted = append(sorted, party)
	}
	sort.Strings(sorted)

	held := make([]*sync.Mutex, 0, len(sorted))
	for _, party := range sorted {
		p.lockMu.Lock()
		mu, ok := p.locks[party]
		if !ok {
			mu = &sync.Mutex{}
			p.locks[party] = mu
		}
		p.lockMu.Unlock()
		mu.Lock()
		held = append(held, mu)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}

// SubmitTransaction runs the anomaly gate and, when the transaction is
// admitted, creates the transfer and records it on the ledger. The returned
// analysis is always populated when the gate ran, including on block.
func (p *Protocol) SubmitTransaction(ctx context.Context, req transfer.CreateRequest) (*transfer.Transaction, *anomaly.Analysis, error) {
	unlock := p.lockParticipants(req.Sender, req.Receiver)
	defer unlock()

	for _, party := range []string{req.Sender, req.Receiver} {
		if stop, reason := p.detector.ShouldTriggerEmergencyStop(party); stop {
			return nil, nil, fmt.Errorf("%w: %s (%s)", ErrEmergencyStop, party, reason)
		}
	}

	analysis := p.detector.AnalyzeTransaction(anomaly.TxInput{
		ID:       req.ID,
		Sender:   req.Sender,
		Receiver: req.Receiver,
		Value:    req.Value,
		At:       p.now(),
	})
	p.stats.ObserveAnomalyRisk(analysis.RiskScore)
	if analysis.Action == anomaly.ActionBlock {
		p.stats.ObserveSubmissionBlocked()
		return nil, analysis, fmt.Errorf("%w: risk %.0f", ErrSubmissionBlocked, analysis.RiskScore)
	}

	tx, err := p.transfers.Create(req)
	if err != nil {
		return nil, analysis, err
	}
	p.stats.ObserveTransferCreated(tx.Type)
	p.recordOnLedger(ctx, "transfer_create", tx.ID, tx.Sender, tx.Receiver, strconv.FormatInt(tx.Value, 10))
	return tx, analysis, nil
}

// ConfirmSent records the sender's confirmation. A confirmation inside the
// window earns the on-time trust bonus.
func (p *Protocol) ConfirmSent(ctx context.Context, id, senderID, evidenceID string) (*transfer.Transaction, error) {
	tx, err := p.transfers.ConfirmSent(id, senderID, evidenceID)
	if err != nil {
		return nil, err
	}
	p.rewardOnTime(tx, senderID)
	p.recordOnLedger(ctx, "transfer_confirm_sent", tx.ID, senderID)
	return tx, nil
}

// ConfirmReceived records the receiver's confirmation, completing the
// handshake when both sides have confirmed.
func (p *Protocol) ConfirmReceived(ctx context.Context, id, receiverID, evidenceID string) (*transfer.Transaction, error) {
	tx, err := p.transfers.ConfirmReceived(id, receiverID, evidenceID)
	if err != nil {
		return nil, err
	}
	p.rewardOnTime(tx, receiverID)
	p.recordOnLedger(ctx, "transfer_confirm_received", tx.ID, receiverID)
	return tx, nil
}

func (p *Protocol) rewardOnTime(tx *transfer.Transaction, participant string) {
	if !p.now().Before(tx.TimeoutAt) {
		return
	}
	if _, err := p.trust.UpdateScore(trust.UpdateRequest{
		Participant:   participant,
		Action:        trust.ActionConfirmationOnTime,
		TransactionID: tx.ID,
	}); err != nil {
		p.logger.Error("on-time trust update failed", "participant", participant, "error", err)
	}
}

// OpenDispute moves the transfer into the disputed state, opens the dispute
// record, and requests the evidence kinds the dispute type requires.
func (p *Protocol) OpenDispute(ctx context.Context, transactionID, creator, kind, reason string, evidenceIDs []string) (*dispute.Dispute, error) {
	if _, err := p.transfers.OpenDispute(transactionID, creator, reason, ""); err != nil {
		return nil, err
	}
	d, err := p.disputes.Create(dispute.CreateRequest{
		TransactionID: transactionID,
		Creator:       creator,
		Kind:          kind,
		Reason:        reason,
		EvidenceIDs:   evidenceIDs,
	})
	if err != nil {
		return nil, err
	}
	p.requestRequiredEvidence(transactionID, kind)
	p.recordOnLedger(ctx, "dispute_open", d.ID, transactionID, kind)
	return d, nil
}

func (p *Protocol) requestRequiredEvidence(transactionID, kind string) {
	cfg, ok := p.policy.Disputes.Types[kind]
	if !ok || len(cfg.RequiredEvidence) == 0 {
		return
	}
	kinds := make([]evidence.Kind, 0, len(cfg.RequiredEvidence))
	for _, raw := range cfg.RequiredEvidence {
		k, err := evidence.ParseKind(raw)
		if err != nil {
			p.logger.Warn("skipping unknown evidence kind", "kind", raw, "dispute_type", kind)
			continue
		}
		kinds = append(kinds, k)
	}
	if len(kinds) == 0 {
		return
	}
	if _, err := p.evidence.OpenRequest(transactionID, kinds); err != nil {
		p.logger.Error("evidence request failed", "transaction", transactionID, "error", err)
	}
}

// SubmitEvidence stores a piece of evidence and routes it into every open
// dispute on the transaction. The boolean reports whether an outstanding
// evidence request is now fulfilled.
func (p *Protocol) SubmitEvidence(ctx context.Context, transactionID, kind string, data map[string]any, submittedBy string) (*evidence.Evidence, bool, error) {
	parsed, err := evidence.ParseKind(kind)
	if err != nil {
		return nil, false, err
	}
	ev, err := p.evidence.Submit(transactionID, parsed, data, submittedBy)
	if err != nil {
		return nil, false, err
	}
	fulfilled, _, err := p.evidence.CheckRequestFulfillment(transactionID)
	if err != nil {
		fulfilled = false
	}
	for _, d := range p.disputes.ListOpenByTransaction(transactionID) {
		if _, err := p.disputes.AddEvidence(d.ID, ev.ID, submittedBy); err != nil {
			p.logger.Warn("evidence not attached to dispute", "dispute", d.ID, "evidence", ev.ID, "error", err)
		}
	}
	p.recordOnLedger(ctx, "evidence_submit", ev.ID, transactionID, string(parsed))
	return ev, fulfilled, nil
}

// ResolveDispute applies a manual resolution.
func (p *Protocol) ResolveDispute(ctx context.Context, disputeID string, res dispute.Resolution) (*dispute.Dispute, error) {
	d, err := p.disputes.Resolve(disputeID, res)
	if err != nil {
		return nil, err
	}
	p.recordOnLedger(ctx, "dispute_resolve", d.ID, string(d.Resolution.Decision))
	return d, nil
}

// DecideCompensation approves or rejects a pending compensation.
func (p *Protocol) DecideCompensation(ctx context.Context, id, approver string, approve bool) (*dispute.Compensation, error) {
	comp, err := p.disputes.DecideCompensation(id, approver, approve)
	if err != nil {
		return nil, err
	}
	p.recordOnLedger(ctx, "compensation_decide", comp.ID, strconv.FormatBool(approve))
	return comp, nil
}

// UpdateDisputeStatus advances a dispute through its workflow.
func (p *Protocol) UpdateDisputeStatus(disputeID string, status dispute.Status, actor string) (*dispute.Dispute, error) {
	return p.disputes.UpdateStatus(disputeID, status, actor)
}

// recordOnLedger submits a protocol action to the external ledger. Failures
// are logged, never surfaced: the ledger mirrors state, it does not own it.
func (p *Protocol) recordOnLedger(ctx context.Context, name string, args ...string) {
	if _, err := p.chain.SubmitTransaction(ctx, name, args); err != nil {
		p.logger.Warn("ledger submission failed", "action", name, "error", err)
	}
}

// Transaction returns one transfer by id.
func (p *Protocol) Transaction(id string) (*transfer.Transaction, error) {
	return p.transfers.Get(id)
}

// TransactionsByState lists transfers currently in the given state.
func (p *Protocol) TransactionsByState(state transfer.State) []*transfer.Transaction {
	return p.transfers.ListByState(state)
}

// PendingFor lists non-terminal transfers involving the participant.
func (p *Protocol) PendingFor(participant string) []*transfer.Transaction {
	return p.transfers.ListPendingFor(participant)
}

// Dispute returns one dispute by id.
func (p *Protocol) Dispute(id string) (*dispute.Dispute, error) {
	return p.disputes.Get(id)
}

// OpenDisputesFor lists unresolved disputes involving the participant.
func (p *Protocol) OpenDisputesFor(participant string) []*dispute.Dispute {
	return p.disputes.ListOpenFor(participant)
}

// TrustScore returns the participant's score, initializing it on first read.
func (p *Protocol) TrustScore(participant string) (*trust.Score, error) {
	return p.trust.Get(participant)
}

// Leaderboard returns the top n participants by trust score.
func (p *Protocol) Leaderboard(n int) ([]*trust.Score, error) {
	return p.trust.Leaderboard(n)
}

// EscalationHistory lists the escalation records fired for a transaction.
func (p *Protocol) EscalationHistory(transactionID string) []*escalation.Record {
	return p.escalations.History(transactionID)
}

// EvidenceForTransaction lists all evidence attached to a transaction.
func (p *Protocol) EvidenceForTransaction(transactionID string) []*evidence.Evidence {
	return p.evidence.ListByTransaction(transactionID)
}

// AnalyzeOnly runs the anomaly detector without admitting the transaction.
func (p *Protocol) AnalyzeOnly(tx anomaly.TxInput) *anomaly.Analysis {
	return p.detector.AnalyzeTransaction(tx)
}

// EscalateOnce walks every pending transfer and drives the escalation ladder
// for its elapsed window percentage.
func (p *Protocol) EscalateOnce() error {
	now := p.now()
	var firstErr error
	for _, state := range []transfer.State{transfer.StateCreated, transfer.StateSent} {
		for _, tx := range p.transfers.ListByState(state) {
			percent := tx.ElapsedPercent(now)
			ref := escalation.TransactionRef{
				ID:       tx.ID,
				Sender:   tx.Sender,
				Receiver: tx.Receiver,
				Value:    tx.Value,
				Type:     tx.Type,
			}
			if _, err := p.escalations.HandleEscalation(ref, percent, p.ladderFor(tx)); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// ladderFor selects the escalation ladder: the category's ladder when one is
// configured, the high-value ladder above the high-value threshold, and the
// standard ladder otherwise.
func (p *Protocol) ladderFor(tx *transfer.Transaction) string {
	if tx.Category != "" {
		if _, ok := p.policy.Escalation.Types[tx.Category]; ok {
			return tx.Category
		}
	}
	if _, ok := p.policy.Escalation.Types["high_value"]; ok && tx.Value > highValueThreshold {
		return "high_value"
	}
	return "standard"
}

// highValueThreshold mirrors the value bound used by the high-value timeout
// category and dispute escalation rule.
const highValueThreshold = 10000

// Run drives the background loops until the context is cancelled: the timeout
// sweeper, the escalation ladder, and trust decay. Dispute deadline timers are
// re-armed first so disputes restored from a snapshot keep their deadlines.
func (p *Protocol) Run(ctx context.Context) {
	p.disputes.RescheduleDeadlines()
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		p.transfers.Run(ctx, p.logger)
	}()
	go func() {
		defer wg.Done()
		p.trust.RunDecay(ctx, p.logger)
	}()
	go func() {
		defer wg.Done()
		interval := p.policy.Timeouts.SweepInterval.Std()
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
				if err := p.EscalateOnce(); err != nil {
					p.logger.Error("escalation pass failed", "error", err)
				}
			}
		}
	}()
	wg.Wait()
}

// SweepOnce runs a single timeout sweep pass.
func (p *Protocol) SweepOnce() error { return p.transfers.SweepOnce() }

// relay forwards every engine event to the configured sink, feeds the metrics
// registry, and applies the cross-engine reactions that tie the protocol
// together.
type relay struct {
	p *Protocol
}

func (r *relay) Emit(evt events.Event) {
	p := r.p
	p.sink.Emit(evt)

	switch e := evt.(type) {
	case events.TransferStateChanged:
		p.stats.ObserveStateTransition(e.To)
	case events.TransferValidated:
		p.creditValidation(e)
	case events.TransferTimedOut:
		p.stats.ObserveTransferTimeout()
		p.penalizeTimeout(e)
	case events.DisputeCreated:
		p.stats.ObserveDisputeOpened(e.Kind)
	case events.DisputeResolved:
		p.stats.ObserveDisputeResolved(e.Decision)
	case events.EscalationTriggered:
		p.stats.ObserveEscalation(e.Action)
	case events.TrustUpdated:
		p.stats.SetTrustScore(e.Participant, e.Score)
	case events.TrustDecayed:
		p.stats.SetTrustScore(e.Participant, e.After)
	}
}

// creditValidation rewards both parties once a transfer fully validates.
func (p *Protocol) creditValidation(e events.TransferValidated) {
	for _, party := range []string{e.Sender, e.Receiver} {
		if _, err := p.trust.UpdateScore(trust.UpdateRequest{
			Participant:   party,
			Action:        trust.ActionTransferValidated,
			Value:         e.Value,
			TransactionID: e.ID,
		}); err != nil {
			p.logger.Error("validation trust update failed", "participant", party, "error", err)
		}
	}
}

// penalizeTimeout charges the party whose confirmation was outstanding and
// feeds the repeated-timeout pattern check.
func (p *Protocol) penalizeTimeout(e events.TransferTimedOut) {
	if e.Responsible == "" {
		return
	}
	if _, err := p.trust.UpdateScore(trust.UpdateRequest{
		Participant:   e.Responsible,
		Action:        trust.ActionTransferTimeout,
		TransactionID: e.ID,
	}); err != nil {
		p.logger.Error("timeout trust update failed", "participant", e.Responsible, "error", err)
	}
	if err := p.escalations.RecordTimeout(e.Responsible); err != nil {
		p.logger.Error("timeout record failed", "participant", e.Responsible, "error", err)
		return
	}
	if _, err := p.escalations.CheckAutoEscalationPatterns(e.Responsible); err != nil {
		p.logger.Error("timeout pattern check failed", "participant", e.Responsible, "error", err)
	}
}

// transferFacts adapts the transfer engine to the dispute engine's read
// interface.
type transferFacts struct {
	engine *transfer.Engine
}

func (f transferFacts) TransferInfo(id string) (dispute.TransactionInfo, bool) {
	tx, err := f.engine.Get(id)
	if err != nil {
		return dispute.TransactionInfo{}, false
	}
	return dispute.TransactionInfo{
		ID:       tx.ID,
		Sender:   tx.Sender,
		Receiver: tx.Receiver,
		Value:    tx.Value,
	}, true
}

// evidenceFacts adapts the evidence store to the dispute engine's read
// interface.
type evidenceFacts struct {
	store *evidence.Store
}

func (f evidenceFacts) EvidenceInfo(id string) (dispute.EvidenceInfo, bool) {
	ev, ok := f.store.Get(id)
	if !ok {
		return dispute.EvidenceInfo{}, false
	}
	return dispute.EvidenceInfo{
		ID:          ev.ID,
		Kind:        string(ev.Kind),
		SubmittedBy: ev.SubmittedBy,
		Verified:    ev.Verified,
		Confidence:  ev.Confidence,
	}, true
}

// disputeBridge lets the escalation ladder open disputes through the full
// protocol path so the transfer transition and evidence request happen too.
type disputeBridge struct {
	p *Protocol
}

func (b disputeBridge) OpenDispute(transactionID, creator, kind, reason string) error {
	_, err := b.p.OpenDispute(context.Background(), transactionID, creator, kind, reason, nil)
	return err
}
