package events

import (
	"time"

	"twocheck/core/types"
)

const (
	TypeDisputeCreated       = "dispute.created"
	TypeDisputeStatusChanged = "dispute.statusChanged"
	TypeDisputeResolved      = "dispute.resolved"
	TypeDisputeEscalated     = "dispute.escalated"
	TypeDisputeManualReview  = "dispute.manualReview"
	TypeDisputeAction        = "dispute.actionRequested"
	TypeCompensationCreated  = "dispute.compensationCreated"
	TypeCompensationDecided  = "dispute.compensationDecided"
)

// DisputeCreated is emitted when a formal disagreement is opened.
type DisputeCreated struct {
	ID            string
	TransactionID string
	Kind          string
	Creator       string
	Respondent    string
	Deadline      time.Time
}

func (DisputeCreated) EventType() string { return TypeDisputeCreated }

func (e DisputeCreated) Event() *types.Event {
	return &types.Event{
		Type: TypeDisputeCreated,
		Attributes: map[string]string{
			"id":            e.ID,
			"transactionId": e.TransactionID,
			"kind":          e.Kind,
			"creator":       e.Creator,
			"respondent":    e.Respondent,
			"deadline":      timeToString(e.Deadline),
		},
	}
}

// DisputeStatusChanged is emitted for every status graph advancement.
type DisputeStatusChanged struct {
	ID   string
	From string
	To   string
}

func (DisputeStatusChanged) EventType() string { return TypeDisputeStatusChanged }

func (e DisputeStatusChanged) Event() *types.Event {
	return &types.Event{
		Type: TypeDisputeStatusChanged,
		Attributes: map[string]string{
			"id":   e.ID,
			"from": e.From,
			"to":   e.To,
		},
	}
}

// DisputeResolved is emitted once when a resolution is attached.
type DisputeResolved struct {
	ID         string
	Decision   string
	DecidedBy  string
	Confidence float64
	Automatic  bool
}

func (DisputeResolved) EventType() string { return TypeDisputeResolved }

func (e DisputeResolved) Event() *types.Event {
	automatic := "false"
	if e.Automatic {
		automatic = "true"
	}
	return &types.Event{
		Type: TypeDisputeResolved,
		Attributes: map[string]string{
			"id":         e.ID,
			"decision":   e.Decision,
			"decidedBy":  e.DecidedBy,
			"confidence": floatToString(e.Confidence),
			"automatic":  automatic,
		},
	}
}

// DisputeEscalated is emitted per escalation level increment together with the
// matched rule's handler and priority.
type DisputeEscalated struct {
	ID       string
	Level    int
	Handler  string
	Priority string
}

func (DisputeEscalated) EventType() string { return TypeDisputeEscalated }

func (e DisputeEscalated) Event() *types.Event {
	return &types.Event{
		Type: TypeDisputeEscalated,
		Attributes: map[string]string{
			"id":       e.ID,
			"level":    intToString(int64(e.Level)),
			"handler":  e.Handler,
			"priority": e.Priority,
		},
	}
}

// DisputeManualReview is emitted when automated analysis confidence falls
// short of the auto-apply threshold.
type DisputeManualReview struct {
	ID         string
	Confidence float64
	Suggested  string
}

func (DisputeManualReview) EventType() string { return TypeDisputeManualReview }

func (e DisputeManualReview) Event() *types.Event {
	return &types.Event{
		Type: TypeDisputeManualReview,
		Attributes: map[string]string{
			"id":         e.ID,
			"confidence": floatToString(e.Confidence),
			"suggested":  e.Suggested,
		},
	}
}

// DisputeAction requests execution of a resolution action by the external
// settlement system.
type DisputeAction struct {
	DisputeID string
	Action    string
	Target    string
	Amount    int64
}

func (DisputeAction) EventType() string { return TypeDisputeAction }

func (e DisputeAction) Event() *types.Event {
	return &types.Event{
		Type: TypeDisputeAction,
		Attributes: map[string]string{
			"disputeId": e.DisputeID,
			"action":    e.Action,
			"target":    e.Target,
			"amount":    intToString(e.Amount),
		},
	}
}

// CompensationCreated is emitted when a compensation calculation is derived
// from a dispute or timeout outcome.
type CompensationCreated struct {
	ID        string
	DisputeID string
	Base      int64
	Amount    int64
	Rule      string
}

func (CompensationCreated) EventType() string { return TypeCompensationCreated }

func (e CompensationCreated) Event() *types.Event {
	return &types.Event{
		Type: TypeCompensationCreated,
		Attributes: map[string]string{
			"id":        e.ID,
			"disputeId": e.DisputeID,
			"base":      intToString(e.Base),
			"amount":    intToString(e.Amount),
			"rule":      e.Rule,
		},
	}
}

// CompensationDecided is emitted exactly once when a calculation is approved
// or rejected.
type CompensationDecided struct {
	ID       string
	Approved bool
	Approver string
}

func (CompensationDecided) EventType() string { return TypeCompensationDecided }

func (e CompensationDecided) Event() *types.Event {
	approved := "false"
	if e.Approved {
		approved = "true"
	}
	return &types.Event{
		Type: TypeCompensationDecided,
		Attributes: map[string]string{
			"id":       e.ID,
			"approved": approved,
			"approver": e.Approver,
		},
	}
}
