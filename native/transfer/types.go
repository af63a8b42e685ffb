package transfer

import (
	"time"

	"twocheck/config"
)

// State is a lifecycle state of a custody transfer.
type State string

const (
	StateCreated   State = config.StateCreated
	StateSent      State = config.StateSent
	StateReceived  State = config.StateReceived
	StateValidated State = config.StateValidated
	StateDisputed  State = config.StateDisputed
	StateTimeout   State = config.StateTimeout
	StateCancelled State = config.StateCancelled
	StateResolved  State = config.StateResolved
)

// ActorSystem is the actor recorded for engine-driven transitions such as the
// timeout sweep and the auto-validation cascade.
const ActorSystem = "system"

// StateTransition is one recorded edge in a transaction's history. It is
// never mutated after creation.
type StateTransition struct {
	From       State     `json:"from"`
	To         State     `json:"to"`
	Actor      string    `json:"actor"`
	Reason     string    `json:"reason,omitempty"`
	EvidenceID string    `json:"evidenceId,omitempty"`
	At         time.Time `json:"at"`
}

// Transaction is a single custody transfer attempt. State is mutated only
// through validated transitions; History is append-only and State always
// equals the To of its last entry.
type Transaction struct {
	ID       string            `json:"id"`
	Sender   string            `json:"sender"`
	Receiver string            `json:"receiver"`
	ItemID   string            `json:"itemId"`
	Value    int64             `json:"value"`
	Type     string            `json:"type"`
	Category string            `json:"category,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	TimeoutAt time.Time `json:"timeoutAt"`

	SenderConfirmedAt   *time.Time `json:"senderConfirmedAt,omitempty"`
	ReceiverConfirmedAt *time.Time `json:"receiverConfirmedAt,omitempty"`

	State   State             `json:"state"`
	History []StateTransition `json:"history"`

	// RemindersSent records reminder thresholds already delivered so the
	// sweep fires each crossing at most once.
	RemindersSent []float64 `json:"remindersSent,omitempty"`
}

// Clone returns a deep copy so callers can safely hold the result while the
// stored instance keeps evolving.
func (t *Transaction) Clone() *Transaction {
	if t == nil {
		return nil
	}
	clone := *t
	clone.History = append([]StateTransition(nil), t.History...)
	clone.RemindersSent = append([]float64(nil), t.RemindersSent...)
	if t.Metadata != nil {
		meta := make(map[string]string, len(t.Metadata))
		for k, v := range t.Metadata {
			meta[k] = v
		}
		clone.Metadata = meta
	}
	if t.SenderConfirmedAt != nil {
		at := *t.SenderConfirmedAt
		clone.SenderConfirmedAt = &at
	}
	if t.ReceiverConfirmedAt != nil {
		at := *t.ReceiverConfirmedAt
		clone.ReceiverConfirmedAt = &at
	}
	return &clone
}

// Participant reports whether the given party is the sender or receiver.
func (t *Transaction) Participant(party string) bool {
	return party != "" && (party == t.Sender || party == t.Receiver)
}

// Counterpart returns the other party, or "" when the given party is not a
// participant.
func (t *Transaction) Counterpart(party string) string {
	switch party {
	case t.Sender:
		return t.Receiver
	case t.Receiver:
		return t.Sender
	default:
		return ""
	}
}

// ElapsedPercent returns how much of the confirmation window has passed at
// the given instant, as a percentage. A zero window reports 100.
func (t *Transaction) ElapsedPercent(now time.Time) float64 {
	window := t.TimeoutAt.Sub(t.CreatedAt)
	if window <= 0 {
		return 100
	}
	pct := float64(now.Sub(t.CreatedAt)) / float64(window) * 100
	if pct < 0 {
		return 0
	}
	return pct
}

// ReminderSent reports whether the reminder for the given threshold has
// already gone out.
func (t *Transaction) ReminderSent(threshold float64) bool {
	for _, sent := range t.RemindersSent {
		if sent == threshold {
			return true
		}
	}
	return false
}

// ResponsibleParty returns who must act next: the sender before dispatch, the
// receiver once goods are in transit.
func (t *Transaction) ResponsibleParty() string {
	switch t.State {
	case StateCreated:
		return t.Sender
	case StateSent:
		return t.Receiver
	default:
		return ""
	}
}
