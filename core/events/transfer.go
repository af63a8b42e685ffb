package events

import (
	"time"

	"twocheck/core/types"
)

const (
	TypeTransferCreated      = "transfer.created"
	TypeTransferStateChanged = "transfer.stateChanged"
	TypeTransferTimedOut     = "transfer.timedOut"
	TypeTransferReminder     = "transfer.reminder"
	TypeTransferValidated    = "transfer.validated"
)

// TransferCreated is emitted once when a custody transfer enters the engine.
type TransferCreated struct {
	ID        string
	Sender    string
	Receiver  string
	ItemID    string
	Value     int64
	TimeoutAt time.Time
	CreatedAt time.Time
}

func (TransferCreated) EventType() string { return TypeTransferCreated }

func (e TransferCreated) Event() *types.Event {
	return &types.Event{
		Type: TypeTransferCreated,
		Attributes: map[string]string{
			"id":        e.ID,
			"sender":    e.Sender,
			"receiver":  e.Receiver,
			"itemId":    e.ItemID,
			"value":     intToString(e.Value),
			"timeoutAt": timeToString(e.TimeoutAt),
			"createdAt": timeToString(e.CreatedAt),
		},
	}
}

// TransferStateChanged is emitted for every recorded transition, including the
// system-actor cascade from RECEIVED to VALIDATED.
type TransferStateChanged struct {
	ID       string
	From     string
	To       string
	Actor    string
	Reason   string
	Occurred time.Time
}

func (TransferStateChanged) EventType() string { return TypeTransferStateChanged }

func (e TransferStateChanged) Event() *types.Event {
	attrs := map[string]string{
		"id":       e.ID,
		"from":     e.From,
		"to":       e.To,
		"actor":    e.Actor,
		"occurred": timeToString(e.Occurred),
	}
	if e.Reason != "" {
		attrs["reason"] = e.Reason
	}
	return &types.Event{Type: TypeTransferStateChanged, Attributes: attrs}
}

// TransferTimedOut is emitted when the sweep expires a transfer. Responsible
// names the party whose confirmation was outstanding at the deadline.
type TransferTimedOut struct {
	ID          string
	Sender      string
	Receiver    string
	Responsible string
	TimeoutAt   time.Time
}

func (TransferTimedOut) EventType() string { return TypeTransferTimedOut }

func (e TransferTimedOut) Event() *types.Event {
	return &types.Event{
		Type: TypeTransferTimedOut,
		Attributes: map[string]string{
			"id":          e.ID,
			"sender":      e.Sender,
			"receiver":    e.Receiver,
			"responsible": e.Responsible,
			"timeoutAt":   timeToString(e.TimeoutAt),
		},
	}
}

// TransferReminder is emitted at most once per (transfer, threshold) when the
// elapsed share of the timeout window crosses a configured reminder mark.
type TransferReminder struct {
	ID          string
	Responsible string
	Threshold   float64
	Elapsed     float64
}

func (TransferReminder) EventType() string { return TypeTransferReminder }

func (e TransferReminder) Event() *types.Event {
	return &types.Event{
		Type: TypeTransferReminder,
		Attributes: map[string]string{
			"id":          e.ID,
			"responsible": e.Responsible,
			"threshold":   floatToString(e.Threshold),
			"elapsed":     floatToString(e.Elapsed),
		},
	}
}

// TransferValidated is emitted when both confirmations land and the transfer
// reaches its terminal VALIDATED state.
type TransferValidated struct {
	ID       string
	Sender   string
	Receiver string
	Value    int64
}

func (TransferValidated) EventType() string { return TypeTransferValidated }

func (e TransferValidated) Event() *types.Event {
	return &types.Event{
		Type: TypeTransferValidated,
		Attributes: map[string]string{
			"id":       e.ID,
			"sender":   e.Sender,
			"receiver": e.Receiver,
			"value":    intToString(e.Value),
		},
	}
}
