package dispute

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"twocheck/config"
	"twocheck/core/events"
	"twocheck/native/trust"
	"twocheck/notify"
)

var (
	errNilState = errors.New("dispute engine: state not configured")

	// ErrNotFound is returned for unknown dispute or compensation ids.
	ErrNotFound = errors.New("dispute engine: not found")
	// ErrUnauthorized is returned when the actor may not perform the action.
	ErrUnauthorized = errors.New("dispute engine: actor not authorized")
	// ErrInvalidTransition is returned for status graph violations.
	ErrInvalidTransition = errors.New("dispute engine: invalid status transition")
	// ErrAlreadyResolved is returned when a second resolution is attempted.
	ErrAlreadyResolved = errors.New("dispute engine: dispute already resolved")
	// ErrAlreadyDecided is returned when a compensation is decided twice.
	ErrAlreadyDecided = errors.New("dispute engine: compensation already decided")
	// ErrUnknownDecision is returned for decisions outside the known set.
	ErrUnknownDecision = errors.New("dispute engine: unknown decision")
)

type engineState interface {
	DisputePut(*Dispute) error
	DisputeGet(id string) (*Dispute, bool)
	DisputeList() []*Dispute
	CompensationPut(*Compensation) error
	CompensationGet(id string) (*Compensation, bool)
}

// TransactionInfo is the slice of transfer data dispute handling needs.
type TransactionInfo struct {
	ID       string
	Sender   string
	Receiver string
	Value    int64
}

// TransferReader resolves transaction ids to their parties and value.
type TransferReader interface {
	TransferInfo(id string) (TransactionInfo, bool)
}

// EvidenceInfo is the slice of an evidence record sufficiency checks need.
type EvidenceInfo struct {
	ID          string
	Kind        string
	SubmittedBy string
	Verified    bool
	Confidence  float64
}

// EvidenceReader resolves evidence ids submitted to a dispute.
type EvidenceReader interface {
	EvidenceInfo(id string) (EvidenceInfo, bool)
}

// TrustUpdater applies resolution outcome deltas to participant scores.
type TrustUpdater interface {
	UpdateScore(trust.UpdateRequest) (*trust.Score, error)
}

// TrustReader supplies participant scores for escalation rule conditions.
type TrustReader interface {
	ScoreOf(participant string) (float64, bool)
}

// Engine manages disputes from creation through resolution, including the
// deadline timers that auto-escalate stale disputes.
type Engine struct {
	mu       sync.Mutex
	state    engineState
	emitter  events.Emitter
	notifier notify.Sender
	logger   *slog.Logger
	policy   config.DisputePolicy

	transfers TransferReader
	evidence  EvidenceReader
	trust     TrustUpdater
	scores    TrustReader

	nowFn      func() time.Time
	scheduleFn func(time.Duration, func()) func()
	cancels    map[string]func()
}

// NewEngine creates a dispute engine with no-op collaborators.
func NewEngine(policy config.DisputePolicy) *Engine {
	return &Engine{
		emitter:  events.NoopEmitter{},
		notifier: notify.NoopSender{},
		logger:   slog.Default(),
		policy:   policy,
		nowFn:    time.Now,
		scheduleFn: func(d time.Duration, fn func()) func() {
			timer := time.AfterFunc(d, fn)
			return func() { timer.Stop() }
		},
		cancels: make(map[string]func()),
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

// SetTransferReader wires the transfer lookup.
func (e *Engine) SetTransferReader(reader TransferReader) { e.transfers = reader }

// SetEvidenceReader wires the evidence lookup.
func (e *Engine) SetEvidenceReader(reader EvidenceReader) { e.evidence = reader }

// SetTrustUpdater wires the reputation engine for outcome deltas.
func (e *Engine) SetTrustUpdater(updater TrustUpdater) { e.trust = updater }

// SetTrustReader wires the score lookup used by escalation rule conditions.
func (e *Engine) SetTrustReader(reader TrustReader) { e.scores = reader }

// SetNowFunc overrides the time source, primarily used in tests.
func (e *Engine) SetNowFunc(now func() time.Time) {
	if now == nil {
		e.nowFn = time.Now
		return
	}
	e.nowFn = now
}

// SetScheduleFunc overrides deadline timer scheduling, primarily used in
// tests. The returned function cancels the pending callback.
func (e *Engine) SetScheduleFunc(schedule func(time.Duration, func()) func()) {
	if schedule == nil {
		e.scheduleFn = func(d time.Duration, fn func()) func() {
			timer := time.AfterFunc(d, fn)
			return func() { timer.Stop() }
		}
		return
	}
	e.scheduleFn = schedule
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

func (e *Engine) typeConfig(kind string) (config.DisputeType, bool) {
	cfg, ok := e.policy.Types[kind]
	return cfg, ok
}

// CreateRequest carries the attributes of a new dispute.
type CreateRequest struct {
	TransactionID string
	Creator       string
	Kind          string
	Reason        string
	EvidenceIDs   []string
}

// Create opens a dispute. The respondent is the transaction's other party and
// the deadline comes from the dispute type configuration, falling back to the
// default when the type is unknown.
func (e *Engine) Create(req CreateRequest) (*Dispute, error) {
	if e.state == nil {
		return nil, errNilState
	}
	if e.transfers == nil {
		return nil, errors.New("dispute engine: transfer reader not configured")
	}
	creator := strings.TrimSpace(req.Creator)
	if creator == "" {
		return nil, fmt.Errorf("dispute engine: creator required")
	}
	info, ok := e.transfers.TransferInfo(req.TransactionID)
	if !ok {
		return nil, fmt.Errorf("%w: transaction %s", ErrNotFound, req.TransactionID)
	}
	var respondent string
	switch creator {
	case info.Sender:
		respondent = info.Receiver
	case info.Receiver:
		respondent = info.Sender
	default:
		return nil, fmt.Errorf("%w: %s is not a participant of %s", ErrUnauthorized, creator, info.ID)
	}

	deadline := e.policy.DefaultDeadline.Std()
	kind := strings.TrimSpace(req.Kind)
	if cfg, ok := e.typeConfig(kind); ok && cfg.Deadline.Std() > 0 {
		deadline = cfg.Deadline.Std()
	} else if !ok {
		e.logger.Warn("no dispute configuration for type, using default deadline", "type", kind)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	d := &Dispute{
		ID:            uuid.NewString(),
		TransactionID: info.ID,
		Kind:          kind,
		Creator:       creator,
		Respondent:    respondent,
		Reason:        strings.TrimSpace(req.Reason),
		Status:        StatusOpen,
		CreatedAt:     now,
		UpdatedAt:     now,
		Deadline:      now.Add(deadline),
	}
	for _, evidenceID := range req.EvidenceIDs {
		if e.evidenceExists(evidenceID) {
			d.EvidenceIDs = append(d.EvidenceIDs, evidenceID)
		}
	}
	if err := e.state.DisputePut(d); err != nil {
		return nil, err
	}
	id := d.ID
	e.cancels[id] = e.scheduleFn(deadline, func() { e.ExpireDeadline(id) })

	e.emit(events.DisputeCreated{
		ID:            d.ID,
		TransactionID: d.TransactionID,
		Kind:          d.Kind,
		Creator:       d.Creator,
		Respondent:    d.Respondent,
		Deadline:      d.Deadline,
	})
	e.notifier.Send(notify.Message{
		To:            respondent,
		Subject:       "dispute opened against your transfer",
		Priority:      notify.PriorityHigh,
		TransactionID: d.TransactionID,
		AdditionalInfo: map[string]string{
			"disputeId": d.ID,
			"type":      d.Kind,
		},
	})

	clone := d.Clone()
	if len(d.EvidenceIDs) > 0 {
		if err := e.evaluateLocked(d); err != nil {
			return nil, err
		}
		stored, _ := e.state.DisputeGet(id)
		clone = stored.Clone()
	}
	return clone, nil
}

func (e *Engine) evidenceExists(id string) bool {
	if e.evidence == nil {
		return false
	}
	_, ok := e.evidence.EvidenceInfo(id)
	return ok
}

// AddEvidence attaches evidence to an open dispute and re-evaluates
// sufficiency, possibly triggering automatic resolution.
func (e *Engine) AddEvidence(disputeID, evidenceID, submitter string) (*Dispute, error) {
	if e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	d, ok := e.state.DisputeGet(disputeID)
	if !ok {
		return nil, fmt.Errorf("%w: dispute %s", ErrNotFound, disputeID)
	}
	if d.Resolved() {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyResolved, disputeID)
	}
	if !d.Participant(submitter) {
		return nil, fmt.Errorf("%w: %s is not a party to dispute %s", ErrUnauthorized, submitter, disputeID)
	}
	if !e.evidenceExists(evidenceID) {
		return nil, fmt.Errorf("%w: evidence %s", ErrNotFound, evidenceID)
	}
	for _, existing := range d.EvidenceIDs {
		if existing == evidenceID {
			return d.Clone(), nil
		}
	}
	d.EvidenceIDs = append(d.EvidenceIDs, evidenceID)
	d.UpdatedAt = e.now()
	if err := e.state.DisputePut(d); err != nil {
		return nil, err
	}
	if err := e.evaluateLocked(d); err != nil {
		return nil, err
	}
	stored, _ := e.state.DisputeGet(disputeID)
	return stored.Clone(), nil
}

// evaluateLocked runs the sufficiency check and, for auto-resolvable types
// with complete evidence, the analysis step. Caller holds e.mu.
func (e *Engine) evaluateLocked(d *Dispute) error {
	cfg, ok := e.typeConfig(d.Kind)
	if !ok {
		e.logger.Warn("no dispute configuration for type, skipping analysis", "type", d.Kind, "dispute", d.ID)
		return nil
	}
	records := e.evidenceRecords(d)
	if !sufficient(cfg.RequiredEvidence, records) {
		if d.Status == StatusOpen {
			return e.updateStatusLocked(d, StatusAwaitingEvidence)
		}
		return nil
	}
	if !cfg.AutoResolvable {
		if d.Status != StatusUnderReview {
			return e.updateStatusLocked(d, StatusUnderReview)
		}
		return nil
	}

	verdict := analyze(d, records)
	if verdict.Confidence > e.policy.AutoResolveConfidence {
		return e.resolveLocked(d, Resolution{
			DecidedBy:  "system",
			Decision:   verdict.Decision,
			Reasoning:  verdict.Reasoning,
			Confidence: verdict.Confidence,
			Automatic:  true,
		})
	}
	d.ManualReview = true
	if err := e.state.DisputePut(d); err != nil {
		return err
	}
	e.emit(events.DisputeManualReview{
		ID:         d.ID,
		Confidence: verdict.Confidence,
		Suggested:  string(verdict.Decision),
	})
	if d.Status != StatusUnderReview {
		return e.updateStatusLocked(d, StatusUnderReview)
	}
	return nil
}

func (e *Engine) evidenceRecords(d *Dispute) []EvidenceInfo {
	if e.evidence == nil {
		return nil
	}
	out := make([]EvidenceInfo, 0, len(d.EvidenceIDs))
	for _, id := range d.EvidenceIDs {
		if info, ok := e.evidence.EvidenceInfo(id); ok {
			out = append(out, info)
		}
	}
	return out
}

func sufficient(required []string, records []EvidenceInfo) bool {
	if len(required) == 0 {
		return len(records) > 0
	}
	verified := make(map[string]bool, len(records))
	for _, rec := range records {
		if rec.Verified {
			verified[rec.Kind] = true
		}
	}
	for _, kind := range required {
		if !verified[kind] {
			return false
		}
	}
	return true
}

// Resolve attaches a resolution exactly once and applies its consequences:
// status RESOLVED, deadline timer cancelled, trust deltas, settlement action
// events, optional compensation.
func (e *Engine) Resolve(disputeID string, res Resolution) (*Dispute, error) {
	if e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	d, ok := e.state.DisputeGet(disputeID)
	if !ok {
		return nil, fmt.Errorf("%w: dispute %s", ErrNotFound, disputeID)
	}
	if err := e.resolveLocked(d, res); err != nil {
		return nil, err
	}
	stored, _ := e.state.DisputeGet(disputeID)
	return stored.Clone(), nil
}

func (e *Engine) resolveLocked(d *Dispute, res Resolution) error {
	if d.Resolved() {
		return fmt.Errorf("%w: %s", ErrAlreadyResolved, d.ID)
	}
	if !res.Decision.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownDecision, res.Decision)
	}
	now := e.now()
	res.DecidedAt = now

	var comp *Compensation
	for _, action := range res.Actions {
		if action.Type != ActionRefund && action.Type != ActionCredit {
			continue
		}
		var err error
		comp, err = e.compensationLocked(d, action)
		if err != nil {
			return err
		}
		res.CompensationID = comp.ID
		break
	}

	d.Resolution = &res
	d.Status = StatusResolved
	d.UpdatedAt = now
	if err := e.state.DisputePut(d); err != nil {
		return err
	}
	if cancel, ok := e.cancels[d.ID]; ok {
		cancel()
		delete(e.cancels, d.ID)
	}

	e.applyTrustOutcome(d, res.Decision)
	e.emit(events.DisputeResolved{
		ID:         d.ID,
		Decision:   string(res.Decision),
		DecidedBy:  res.DecidedBy,
		Confidence: res.Confidence,
		Automatic:  res.Automatic,
	})
	for _, action := range res.Actions {
		e.emit(events.DisputeAction{
			DisputeID: d.ID,
			Action:    string(action.Type),
			Target:    action.Target,
			Amount:    action.Amount,
		})
	}
	for _, party := range []string{d.Creator, d.Respondent} {
		e.notifier.Send(notify.Message{
			To:            party,
			Subject:       "dispute resolved",
			Priority:      notify.PriorityHigh,
			TransactionID: d.TransactionID,
			AdditionalInfo: map[string]string{
				"disputeId": d.ID,
				"decision":  string(res.Decision),
			},
		})
	}
	return nil
}

func (e *Engine) applyTrustOutcome(d *Dispute, decision Decision) {
	if e.trust == nil {
		return
	}
	type outcome struct {
		participant string
		action      trust.Action
	}
	var outcomes []outcome
	switch decision {
	case DecisionFavorCreator:
		outcomes = []outcome{
			{d.Creator, trust.ActionDisputeWon},
			{d.Respondent, trust.ActionDisputeLost},
		}
	case DecisionFavorRespondent:
		outcomes = []outcome{
			{d.Respondent, trust.ActionDisputeWon},
			{d.Creator, trust.ActionFalseClaim},
		}
	case DecisionSplit, DecisionVoid:
		return
	}
	for _, o := range outcomes {
		if _, err := e.trust.UpdateScore(trust.UpdateRequest{
			Participant:   o.participant,
			Action:        o.action,
			TransactionID: d.TransactionID,
		}); err != nil {
			e.logger.Error("trust update failed after resolution", "dispute", d.ID, "participant", o.participant, "error", err)
		}
	}
}

// compensationLocked derives the compensation record for a settlement action.
func (e *Engine) compensationLocked(d *Dispute, action ResolutionAction) (*Compensation, error) {
	base := int64(0)
	if e.transfers != nil {
		if info, ok := e.transfers.TransferInfo(d.TransactionID); ok {
			base = info.Value
		}
	}
	rule := RuleFixed
	amount := action.Amount
	if amount == 0 {
		rule = RulePercentage
		amount = base
	}
	comp := &Compensation{
		ID:         uuid.NewString(),
		DisputeID:  d.ID,
		BaseAmount: base,
		Amount:     amount,
		Rule:       rule,
		Status:     CompensationPending,
		CreatedAt:  e.now(),
	}
	if err := e.state.CompensationPut(comp); err != nil {
		return nil, err
	}
	e.emit(events.CompensationCreated{
		ID:        comp.ID,
		DisputeID: comp.DisputeID,
		Base:      comp.BaseAmount,
		Amount:    comp.Amount,
		Rule:      string(comp.Rule),
	})
	return comp, nil
}

// DecideCompensation approves or rejects a pending calculation exactly once.
func (e *Engine) DecideCompensation(id, approver string, approve bool) (*Compensation, error) {
	if e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	comp, ok := e.state.CompensationGet(id)
	if !ok {
		return nil, fmt.Errorf("%w: compensation %s", ErrNotFound, id)
	}
	if comp.Status != CompensationPending {
		return nil, fmt.Errorf("%w: %s is %s", ErrAlreadyDecided, id, comp.Status)
	}
	now := e.now()
	comp.Approver = approver
	comp.DecidedAt = &now
	if approve {
		comp.Status = CompensationApproved
	} else {
		comp.Status = CompensationRejected
	}
	if err := e.state.CompensationPut(comp); err != nil {
		return nil, err
	}
	e.emit(events.CompensationDecided{ID: comp.ID, Approved: approve, Approver: approver})
	return comp.Clone(), nil
}

// UpdateStatus advances the dispute through its status graph. Escalations
// additionally increment the level and notify the first matching rule handler.
func (e *Engine) UpdateStatus(disputeID string, status Status, actor string) (*Dispute, error) {
	if e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	d, ok := e.state.DisputeGet(disputeID)
	if !ok {
		return nil, fmt.Errorf("%w: dispute %s", ErrNotFound, disputeID)
	}
	if d.Resolved() {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyResolved, disputeID)
	}
	if status == StatusResolved {
		return nil, fmt.Errorf("%w: resolution requires Resolve", ErrInvalidTransition)
	}
	if err := e.updateStatusLocked(d, status); err != nil {
		return nil, err
	}
	stored, _ := e.state.DisputeGet(disputeID)
	return stored.Clone(), nil
}

func (e *Engine) updateStatusLocked(d *Dispute, status Status) error {
	if !canAdvance(d.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, d.Status, status)
	}
	from := d.Status
	d.Status = status
	d.UpdatedAt = e.now()
	if status == StatusEscalated {
		d.EscalationLevel++
	}
	if err := e.state.DisputePut(d); err != nil {
		return err
	}
	e.emit(events.DisputeStatusChanged{ID: d.ID, From: string(from), To: string(status)})
	if status == StatusEscalated {
		e.escalateLocked(d)
	}
	return nil
}

// escalateLocked routes an escalated dispute to the first matching configured
// rule's handler. Missing configuration is a logged no-op.
func (e *Engine) escalateLocked(d *Dispute) {
	rule, ok := e.matchEscalationRule(d)
	handler, priority := "", "normal"
	if ok {
		handler, priority = rule.Handler, rule.Priority
		e.notifier.Send(notify.Message{
			To:            rule.Handler,
			Subject:       "dispute escalated",
			Priority:      priority,
			TransactionID: d.TransactionID,
			AdditionalInfo: map[string]string{
				"disputeId": d.ID,
				"level":     strconv.Itoa(d.EscalationLevel),
			},
		})
	} else {
		e.logger.Warn("no escalation rule matched dispute", "dispute", d.ID, "level", d.EscalationLevel)
	}
	e.emit(events.DisputeEscalated{
		ID:       d.ID,
		Level:    d.EscalationLevel,
		Handler:  handler,
		Priority: priority,
	})
}

func (e *Engine) matchEscalationRule(d *Dispute) (config.DisputeEscalationRule, bool) {
	for _, rule := range e.policy.EscalationRules {
		if e.ruleMatches(rule, d) {
			return rule, true
		}
	}
	return config.DisputeEscalationRule{}, false
}

func (e *Engine) ruleMatches(rule config.DisputeEscalationRule, d *Dispute) bool {
	cond := rule.Condition
	switch cond.Field {
	case "elapsedHours":
		want, err := strconv.ParseFloat(cond.Value, 64)
		if err != nil {
			return false
		}
		elapsed := e.now().Sub(d.CreatedAt).Hours()
		return compareFloat(elapsed, cond.Op, want)
	case "value":
		if e.transfers == nil {
			return false
		}
		info, ok := e.transfers.TransferInfo(d.TransactionID)
		if !ok {
			return false
		}
		want, err := strconv.ParseInt(cond.Value, 10, 64)
		if err != nil {
			return false
		}
		return compareFloat(float64(info.Value), cond.Op, float64(want))
	case "trustScore":
		if e.scores == nil {
			return false
		}
		score, ok := e.scores.ScoreOf(d.Creator)
		if !ok {
			return false
		}
		want, err := strconv.ParseFloat(cond.Value, 64)
		if err != nil {
			return false
		}
		return compareFloat(score, cond.Op, want)
	default:
		return false
	}
}

func compareFloat(have float64, op string, want float64) bool {
	switch op {
	case "eq":
		return have == want
	case "neq":
		return have != want
	case "gt":
		return have > want
	case "gte":
		return have >= want
	case "lt":
		return have < want
	case "lte":
		return have <= want
	default:
		return false
	}
}

// ExpireDeadline escalates a dispute that is still unresolved past its
// deadline. Resolved disputes make this a no-op, so a fired timer is harmless.
func (e *Engine) ExpireDeadline(disputeID string) {
	if e.state == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	d, ok := e.state.DisputeGet(disputeID)
	if !ok || d.Resolved() {
		return
	}
	if e.now().Before(d.Deadline) {
		return
	}
	delete(e.cancels, disputeID)
	if err := e.updateStatusLocked(d, StatusEscalated); err != nil {
		e.logger.Error("deadline escalation failed", "dispute", disputeID, "error", err)
	}
}

// RescheduleDeadlines re-arms the deadline timer for every unresolved dispute
// that has none, escalating any whose deadline already passed. State restored
// from a snapshot carries disputes whose timers died with the old process;
// running this during startup turns a lost timer into at most startup latency.
func (e *Engine) RescheduleDeadlines() {
	if e.state == nil {
		return
	}
	e.mu.Lock()
	now := e.now()
	var expired []string
	for _, d := range e.state.DisputeList() {
		if d.Resolved() {
			continue
		}
		if _, armed := e.cancels[d.ID]; armed {
			continue
		}
		if !now.Before(d.Deadline) {
			expired = append(expired, d.ID)
			continue
		}
		id := d.ID
		e.cancels[id] = e.scheduleFn(d.Deadline.Sub(now), func() { e.ExpireDeadline(id) })
	}
	e.mu.Unlock()
	for _, id := range expired {
		e.ExpireDeadline(id)
	}
}

// Get returns a dispute by id.
func (e *Engine) Get(disputeID string) (*Dispute, error) {
	if e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	d, ok := e.state.DisputeGet(disputeID)
	if !ok {
		return nil, fmt.Errorf("%w: dispute %s", ErrNotFound, disputeID)
	}
	return d.Clone(), nil
}

// ListOpenByTransaction returns the unresolved disputes over a transaction.
func (e *Engine) ListOpenByTransaction(transactionID string) []*Dispute {
	if e.state == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []*Dispute
	for _, d := range e.state.DisputeList() {
		if d.Resolved() || d.TransactionID != transactionID {
			continue
		}
		out = append(out, d.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// ListOpenFor returns the unresolved disputes involving the participant,
// newest first.
func (e *Engine) ListOpenFor(participant string) []*Dispute {
	if e.state == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []*Dispute
	for _, d := range e.state.DisputeList() {
		if d.Resolved() || !d.Participant(participant) {
			continue
		}
		out = append(out, d.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}
