package events

import "twocheck/core/types"

const (
	TypeTrustUpdated      = "trust.updated"
	TypeTrustLevelChanged = "trust.levelChanged"
	TypeTrustDecayed      = "trust.decayed"
)

// TrustUpdated is emitted after every applied scoring rule.
type TrustUpdated struct {
	Participant   string
	Action        string
	Delta         float64
	Score         float64
	Level         string
	TransactionID string
}

func (TrustUpdated) EventType() string { return TypeTrustUpdated }

func (e TrustUpdated) Event() *types.Event {
	attrs := map[string]string{
		"participant": e.Participant,
		"action":      e.Action,
		"delta":       floatToString(e.Delta),
		"score":       floatToString(e.Score),
		"level":       e.Level,
	}
	if e.TransactionID != "" {
		attrs["transactionId"] = e.TransactionID
	}
	return &types.Event{Type: TypeTrustUpdated, Attributes: attrs}
}

// TrustLevelChanged is emitted when a score update moves the participant into a
// different level band.
type TrustLevelChanged struct {
	Participant string
	From        string
	To          string
	Score       float64
}

func (TrustLevelChanged) EventType() string { return TypeTrustLevelChanged }

func (e TrustLevelChanged) Event() *types.Event {
	return &types.Event{
		Type: TypeTrustLevelChanged,
		Attributes: map[string]string{
			"participant": e.Participant,
			"from":        e.From,
			"to":          e.To,
			"score":       floatToString(e.Score),
		},
	}
}

// TrustDecayed is emitted when the background decay loop reduces an inactive
// participant's score.
type TrustDecayed struct {
	Participant string
	Before      float64
	After       float64
}

func (TrustDecayed) EventType() string { return TypeTrustDecayed }

func (e TrustDecayed) Event() *types.Event {
	return &types.Event{
		Type: TypeTrustDecayed,
		Attributes: map[string]string{
			"participant": e.Participant,
			"before":      floatToString(e.Before),
			"after":       floatToString(e.After),
		},
	}
}
