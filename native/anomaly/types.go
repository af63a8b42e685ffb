package anomaly

import "time"

// Severity grades a detected pattern.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) weight() float64 {
	switch s {
	case SeverityLow:
		return 10
	case SeverityMedium:
		return 25
	case SeverityHigh:
		return 50
	case SeverityCritical:
		return 90
	default:
		return 0
	}
}

// Recommended actions, in increasing order of concern.
const (
	ActionProceed = "proceed"
	ActionReview  = "review"
	ActionFlag    = "flag"
	ActionBlock   = "block"
)

// Pattern is one suspicious trait found by a check.
type Pattern struct {
	Type        string   `json:"type"`
	Severity    Severity `json:"severity"`
	Confidence  float64  `json:"confidence"`
	Description string   `json:"description"`
}

// Analysis is the outcome of running every check against one transaction.
type Analysis struct {
	TransactionID string    `json:"transactionId"`
	Patterns      []Pattern `json:"patterns,omitempty"`
	RiskScore     float64   `json:"riskScore"`
	HasAnomalies  bool      `json:"hasAnomalies"`
	Action        string    `json:"recommendedAction"`
	AnalyzedAt    time.Time `json:"analyzedAt"`
}

// TxInput is the transaction slice the detector inspects.
type TxInput struct {
	ID       string
	Sender   string
	Receiver string
	Value    int64
	At       time.Time
}
