package events

import "twocheck/core/types"

const (
	TypeEvidenceSubmitted        = "evidence.submitted"
	TypeEvidenceRequestFulfilled = "evidence.requestFulfilled"
	TypeEvidenceRequestPending   = "evidence.requestPending"
)

// EvidenceSubmitted is emitted after a proof artifact has been stored and run
// through its type-specific validator.
type EvidenceSubmitted struct {
	ID            string
	TransactionID string
	Kind          string
	SubmittedBy   string
	Verified      bool
	Confidence    float64
}

func (EvidenceSubmitted) EventType() string { return TypeEvidenceSubmitted }

func (e EvidenceSubmitted) Event() *types.Event {
	verified := "false"
	if e.Verified {
		verified = "true"
	}
	return &types.Event{
		Type: TypeEvidenceSubmitted,
		Attributes: map[string]string{
			"id":            e.ID,
			"transactionId": e.TransactionID,
			"kind":          e.Kind,
			"submittedBy":   e.SubmittedBy,
			"verified":      verified,
			"confidence":    floatToString(e.Confidence),
		},
	}
}

// EvidenceRequestFulfilled is emitted when all required evidence types for an
// open request have verified submissions.
type EvidenceRequestFulfilled struct {
	TransactionID string
	Required      int
	Submitted     int
}

func (EvidenceRequestFulfilled) EventType() string { return TypeEvidenceRequestFulfilled }

func (e EvidenceRequestFulfilled) Event() *types.Event {
	return &types.Event{
		Type: TypeEvidenceRequestFulfilled,
		Attributes: map[string]string{
			"transactionId": e.TransactionID,
			"required":      intToString(int64(e.Required)),
			"submitted":     intToString(int64(e.Submitted)),
		},
	}
}

// EvidenceRequestPending is emitted when a sufficiency check finds required
// types still missing. Insufficiency is a pending signal, not an error.
type EvidenceRequestPending struct {
	TransactionID string
	Missing       []string
}

func (EvidenceRequestPending) EventType() string { return TypeEvidenceRequestPending }

func (e EvidenceRequestPending) Event() *types.Event {
	attrs := map[string]string{"transactionId": e.TransactionID}
	for i, kind := range e.Missing {
		attrs["missing."+intToString(int64(i))] = kind
	}
	return &types.Event{Type: TypeEvidenceRequestPending, Attributes: attrs}
}
