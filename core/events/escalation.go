package events

import "twocheck/core/types"

const (
	TypeEscalationTriggered      = "escalation.triggered"
	TypeEscalationPatternFlagged = "escalation.patternFlagged"
)

// EscalationTriggered is emitted once per (transaction, level) when a
// configured escalation level activates.
type EscalationTriggered struct {
	TransactionID string
	Level         int
	Action        string
	Percent       float64
	Recipients    []string
}

func (EscalationTriggered) EventType() string { return TypeEscalationTriggered }

func (e EscalationTriggered) Event() *types.Event {
	attrs := map[string]string{
		"transactionId": e.TransactionID,
		"level":         intToString(int64(e.Level)),
		"action":        e.Action,
		"percent":       floatToString(e.Percent),
	}
	for i, r := range e.Recipients {
		attrs["recipient."+intToString(int64(i))] = r
	}
	return &types.Event{Type: TypeEscalationTriggered, Attributes: attrs}
}

// EscalationPatternFlagged is emitted when a party accumulates more timeouts
// than the configured threshold inside the rolling window.
type EscalationPatternFlagged struct {
	Participant string
	Timeouts    int
	WindowHours int
}

func (EscalationPatternFlagged) EventType() string { return TypeEscalationPatternFlagged }

func (e EscalationPatternFlagged) Event() *types.Event {
	return &types.Event{
		Type: TypeEscalationPatternFlagged,
		Attributes: map[string]string{
			"participant": e.Participant,
			"timeouts":    intToString(int64(e.Timeouts)),
			"windowHours": intToString(int64(e.WindowHours)),
		},
	}
}
