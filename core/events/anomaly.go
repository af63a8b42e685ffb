package events

import "twocheck/core/types"

const (
	TypeAnomalyDetected      = "anomaly.detected"
	TypeAnomalyEmergencyStop = "anomaly.emergencyStop"
)

// AnomalyDetected is emitted when analysis finds at least one pattern.
type AnomalyDetected struct {
	TransactionID string
	RiskScore     float64
	Action        string
	Patterns      []string
}

func (AnomalyDetected) EventType() string { return TypeAnomalyDetected }

func (e AnomalyDetected) Event() *types.Event {
	attrs := map[string]string{
		"transactionId": e.TransactionID,
		"riskScore":     floatToString(e.RiskScore),
		"action":        e.Action,
	}
	for i, p := range e.Patterns {
		attrs["pattern."+intToString(int64(i))] = p
	}
	return &types.Event{Type: TypeAnomalyDetected, Attributes: attrs}
}

// AnomalyEmergencyStop is emitted when a party trips the blacklist or the
// cumulative 24h risk ceiling, independent of any single transaction score.
type AnomalyEmergencyStop struct {
	Participant string
	Reason      string
	Risk24h     float64
}

func (AnomalyEmergencyStop) EventType() string { return TypeAnomalyEmergencyStop }

func (e AnomalyEmergencyStop) Event() *types.Event {
	return &types.Event{
		Type: TypeAnomalyEmergencyStop,
		Attributes: map[string]string{
			"participant": e.Participant,
			"reason":      e.Reason,
			"risk24h":     floatToString(e.Risk24h),
		},
	}
}
