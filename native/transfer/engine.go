package transfer

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"twocheck/config"
	"twocheck/core/events"
	"twocheck/notify"
)

var (
	errNilState = errors.New("transfer engine: state not configured")

	// ErrAlreadyExists is returned when a transaction id is reused.
	ErrAlreadyExists = errors.New("transfer engine: transaction already exists")
	// ErrNotFound is returned for unknown transaction ids.
	ErrNotFound = errors.New("transfer engine: transaction not found")
	// ErrInvalidTransition is returned when the target state is not reachable
	// from the current state, or the current state is terminal.
	ErrInvalidTransition = errors.New("transfer engine: invalid state transition")
	// ErrUnauthorized is returned when the actor is not the required party.
	ErrUnauthorized = errors.New("transfer engine: actor not authorized")
)

type engineState interface {
	TransferPut(*Transaction) error
	TransferGet(id string) (*Transaction, bool)
	TransferList() []*Transaction
}

// TrustReader supplies counterpart trust scores for timeout category rules.
type TrustReader interface {
	ScoreOf(participant string) (float64, bool)
}

// TransitionOpts carries the optional context recorded with a transition.
type TransitionOpts struct {
	Reason     string
	EvidenceID string
}

// Engine owns the lifecycle and timing of every transfer transaction. Two
// requests racing on the same id are serialised by a per-id lock, so a
// confirmation and a timeout sweep can never both succeed.
type Engine struct {
	state    engineState
	emitter  events.Emitter
	notifier notify.Sender
	trust    TrustReader
	policy   *config.Policy
	nowFn    func() time.Time

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

// NewEngine creates a transfer engine with no-op collaborators.
func NewEngine(policy *config.Policy) *Engine {
	return &Engine{
		emitter:  events.NoopEmitter{},
		notifier: notify.NoopSender{},
		policy:   policy,
		nowFn:    time.Now,
		locks:    make(map[string]*sync.Mutex),
	}
}

// SetState configures the state backend used by the engine.
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

// SetTrustReader wires the reputation lookup used by timeout category rules.
func (e *Engine) SetTrustReader(reader TrustReader) { e.trust = reader }

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

func (e *Engine) lockFor(id string) *sync.Mutex {
	e.lockMu.Lock()
	defer e.lockMu.Unlock()
	mu, ok := e.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		e.locks[id] = mu
	}
	return mu
}

// CreateRequest carries the caller-supplied attributes of a new transfer.
type CreateRequest struct {
	ID       string
	Sender   string
	Receiver string
	ItemID   string
	Value    int64
	Type     string
	Category string
	Metadata map[string]string
}

// Create registers a new custody transfer in CREATED state. The confirmation
// deadline comes from the first matching timeout category, else the default.
func (e *Engine) Create(req CreateRequest) (*Transaction, error) {
	if e.state == nil {
		return nil, errNilState
	}
	id := strings.TrimSpace(req.ID)
	if id == "" {
		return nil, fmt.Errorf("transfer engine: id required")
	}
	sender := strings.TrimSpace(req.Sender)
	receiver := strings.TrimSpace(req.Receiver)
	if sender == "" || receiver == "" {
		return nil, fmt.Errorf("transfer engine: sender and receiver required")
	}
	if sender == receiver {
		return nil, fmt.Errorf("transfer engine: sender and receiver must differ")
	}
	if req.Value < 0 {
		return nil, fmt.Errorf("transfer engine: value must be non-negative")
	}
	txType := strings.TrimSpace(req.Type)
	if txType == "" {
		txType = "standard"
	}

	mu := e.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	if _, ok := e.state.TransferGet(id); ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, id)
	}
	now := e.now()
	tx := &Transaction{
		ID:        id,
		Sender:    sender,
		Receiver:  receiver,
		ItemID:    strings.TrimSpace(req.ItemID),
		Value:     req.Value,
		Type:      txType,
		Category:  strings.TrimSpace(req.Category),
		Metadata:  req.Metadata,
		CreatedAt: now,
		UpdatedAt: now,
		State:     StateCreated,
	}
	tx.TimeoutAt = now.Add(e.timeoutFor(tx))
	tx.History = append(tx.History, StateTransition{
		From:  StateCreated,
		To:    StateCreated,
		Actor: sender,
		At:    now,
	})
	if err := e.state.TransferPut(tx); err != nil {
		return nil, err
	}
	e.emit(events.TransferCreated{
		ID:        tx.ID,
		Sender:    tx.Sender,
		Receiver:  tx.Receiver,
		ItemID:    tx.ItemID,
		Value:     tx.Value,
		TimeoutAt: tx.TimeoutAt,
		CreatedAt: tx.CreatedAt,
	})
	return tx.Clone(), nil
}

// timeoutFor evaluates the configured category conditions in order and uses
// the first full match, falling back to the default window.
func (e *Engine) timeoutFor(tx *Transaction) time.Duration {
	for _, cat := range e.policy.Timeouts.Categories {
		if e.categoryMatches(cat, tx) {
			return cat.Timeout.Std()
		}
	}
	return e.policy.Timeouts.Default.Std()
}

func (e *Engine) categoryMatches(cat config.TimeoutCategory, tx *Transaction) bool {
	for _, cond := range cat.Conditions {
		if !e.conditionMatches(cond, tx) {
			return false
		}
	}
	return len(cat.Conditions) > 0
}

func (e *Engine) conditionMatches(cond config.Condition, tx *Transaction) bool {
	switch cond.Field {
	case "value":
		want, err := strconv.ParseInt(cond.Value, 10, 64)
		if err != nil {
			return false
		}
		return compareInt(tx.Value, cond.Op, want)
	case "category":
		return compareString(tx.Category, cond.Op, cond.Value)
	case "type":
		return compareString(tx.Type, cond.Op, cond.Value)
	case "counterpartTrust":
		if e.trust == nil {
			return false
		}
		score, ok := e.trust.ScoreOf(tx.Receiver)
		if !ok {
			return false
		}
		want, err := strconv.ParseFloat(cond.Value, 64)
		if err != nil {
			return false
		}
		return compareFloat(score, cond.Op, want)
	default:
		if tx.Metadata == nil {
			return false
		}
		return compareString(tx.Metadata[cond.Field], cond.Op, cond.Value)
	}
}

func compareInt(have int64, op string, want int64) bool {
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

func compareString(have, op, want string) bool {
	switch op {
	case "eq":
		return have == want
	case "neq":
		return have != want
	case "contains":
		return strings.Contains(have, want)
	default:
		return false
	}
}

func (e *Engine) isTerminal(state State) bool {
	for _, terminal := range e.policy.States.Terminal {
		if State(terminal) == state {
			return true
		}
	}
	return false
}

func (e *Engine) canTransition(from, to State) bool {
	targets, ok := e.policy.States.Graph[string(from)]
	if !ok {
		return false
	}
	for _, target := range targets {
		if State(target) == to {
			return true
		}
	}
	return false
}

// Transition moves a transaction to newState after validating the state
// graph, then performs state-entry side effects and emits a state-changed
// event.
func (e *Engine) Transition(id string, newState State, actor string, opts TransitionOpts) (*Transaction, error) {
	if e.state == nil {
		return nil, errNilState
	}
	mu := e.lockFor(id)
	mu.Lock()
	defer mu.Unlock()
	return e.transitionLocked(id, newState, actor, opts)
}

func (e *Engine) transitionLocked(id string, newState State, actor string, opts TransitionOpts) (*Transaction, error) {
	tx, ok := e.state.TransferGet(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if e.isTerminal(tx.State) {
		return nil, fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, tx.State)
	}
	if !e.canTransition(tx.State, newState) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, tx.State, newState)
	}
	now := e.now()
	from := tx.State
	tx.State = newState
	tx.UpdatedAt = now
	tx.History = append(tx.History, StateTransition{
		From:       from,
		To:         newState,
		Actor:      actor,
		Reason:     opts.Reason,
		EvidenceID: opts.EvidenceID,
		At:         now,
	})
	if err := e.state.TransferPut(tx); err != nil {
		return nil, err
	}
	e.applyEntryEffects(tx)
	e.emit(events.TransferStateChanged{
		ID:       tx.ID,
		From:     string(from),
		To:       string(newState),
		Actor:    actor,
		Reason:   opts.Reason,
		Occurred: now,
	})
	return tx.Clone(), nil
}

// applyEntryEffects runs the notifications and events tied to entering the
// new state.
func (e *Engine) applyEntryEffects(tx *Transaction) {
	switch tx.State {
	case StateSent:
		e.notifier.Send(notify.Message{
			To:            tx.Receiver,
			Subject:       "shipment confirmed by sender",
			Priority:      notify.PriorityNormal,
			TransactionID: tx.ID,
			AdditionalInfo: map[string]string{
				"sender": tx.Sender,
				"itemId": tx.ItemID,
			},
		})
	case StateDisputed:
		for _, to := range []string{tx.Sender, tx.Receiver, e.policy.BrandOwner} {
			e.notifier.Send(notify.Message{
				To:            to,
				Subject:       "transfer disputed",
				Priority:      notify.PriorityHigh,
				TransactionID: tx.ID,
			})
		}
	case StateTimeout:
		for _, to := range []string{tx.Sender, tx.Receiver, e.policy.BrandOwner} {
			e.notifier.Send(notify.Message{
				To:            to,
				Subject:       "transfer timed out",
				Priority:      notify.PriorityHigh,
				TransactionID: tx.ID,
			})
		}
		responsible := tx.Sender
		if len(tx.History) > 0 && tx.History[len(tx.History)-1].From != StateCreated {
			responsible = tx.Receiver
		}
		e.emit(events.TransferTimedOut{
			ID:          tx.ID,
			Sender:      tx.Sender,
			Receiver:    tx.Receiver,
			Responsible: responsible,
			TimeoutAt:   tx.TimeoutAt,
		})
	case StateValidated:
		e.emit(events.TransferValidated{
			ID:       tx.ID,
			Sender:   tx.Sender,
			Receiver: tx.Receiver,
			Value:    tx.Value,
		})
	}
}

// ConfirmSent records the sender's dispatch confirmation and moves the
// transfer to SENT.
func (e *Engine) ConfirmSent(id, senderID, evidenceID string) (*Transaction, error) {
	if e.state == nil {
		return nil, errNilState
	}
	mu := e.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	tx, ok := e.state.TransferGet(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if tx.Sender != senderID {
		return nil, fmt.Errorf("%w: %s is not the sender", ErrUnauthorized, senderID)
	}
	if tx.State != StateCreated {
		return nil, fmt.Errorf("%w: confirmSent requires %s, found %s", ErrInvalidTransition, StateCreated, tx.State)
	}
	now := e.now()
	tx.SenderConfirmedAt = &now
	if err := e.state.TransferPut(tx); err != nil {
		return nil, err
	}
	return e.transitionLocked(id, StateSent, senderID, TransitionOpts{EvidenceID: evidenceID})
}

// ConfirmReceived records the receiver's confirmation and moves the transfer
// to RECEIVED. With auto-validation enabled the engine immediately cascades to
// VALIDATED as a second, system-actor transition.
func (e *Engine) ConfirmReceived(id, receiverID, evidenceID string) (*Transaction, error) {
	if e.state == nil {
		return nil, errNilState
	}
	mu := e.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	tx, ok := e.state.TransferGet(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if tx.Receiver != receiverID {
		return nil, fmt.Errorf("%w: %s is not the receiver", ErrUnauthorized, receiverID)
	}
	if tx.State != StateSent {
		return nil, fmt.Errorf("%w: confirmReceived requires %s, found %s", ErrInvalidTransition, StateSent, tx.State)
	}
	now := e.now()
	tx.ReceiverConfirmedAt = &now
	if err := e.state.TransferPut(tx); err != nil {
		return nil, err
	}
	updated, err := e.transitionLocked(id, StateReceived, receiverID, TransitionOpts{EvidenceID: evidenceID})
	if err != nil {
		return nil, err
	}
	if !e.policy.AutoValidate {
		return updated, nil
	}
	return e.transitionLocked(id, StateValidated, ActorSystem, TransitionOpts{Reason: "both parties confirmed"})
}

// OpenDispute moves a transfer to DISPUTED. Only a participant may dispute,
// and only while the transfer is in transit or recently received.
func (e *Engine) OpenDispute(id, creator, reason, evidenceID string) (*Transaction, error) {
	if e.state == nil {
		return nil, errNilState
	}
	mu := e.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	tx, ok := e.state.TransferGet(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !tx.Participant(creator) {
		return nil, fmt.Errorf("%w: %s is not a participant", ErrUnauthorized, creator)
	}
	if tx.State != StateSent && tx.State != StateReceived {
		return nil, fmt.Errorf("%w: disputes require %s or %s, found %s", ErrInvalidTransition, StateSent, StateReceived, tx.State)
	}
	return e.transitionLocked(id, StateDisputed, creator, TransitionOpts{Reason: reason, EvidenceID: evidenceID})
}

// Get returns the transaction by id.
func (e *Engine) Get(id string) (*Transaction, error) {
	if e.state == nil {
		return nil, errNilState
	}
	tx, ok := e.state.TransferGet(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return tx.Clone(), nil
}

// ListByState returns every transaction currently in the given state.
func (e *Engine) ListByState(state State) []*Transaction {
	if e.state == nil {
		return nil
	}
	var out []*Transaction
	for _, tx := range e.state.TransferList() {
		if tx.State == state {
			out = append(out, tx.Clone())
		}
	}
	return out
}

// ListPendingFor returns the non-terminal transactions involving the
// participant.
func (e *Engine) ListPendingFor(participant string) []*Transaction {
	if e.state == nil {
		return nil
	}
	var out []*Transaction
	for _, tx := range e.state.TransferList() {
		if e.isTerminal(tx.State) {
			continue
		}
		if tx.Participant(participant) {
			out = append(out, tx.Clone())
		}
	}
	return out
}
