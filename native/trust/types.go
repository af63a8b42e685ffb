package trust

import (
	"fmt"
	"time"
)

// Action enumerates every protocol outcome that can move a trust score. The
// engine switches exhaustively over this type, so a new action that lacks a
// point rule fails at compile time instead of silently defaulting.
type Action uint8

const (
	ActionTransferValidated Action = iota
	ActionTransferTimeout
	ActionConfirmationOnTime
	ActionDisputeWon
	ActionDisputeLost
	ActionFalseClaim
	ActionEvidenceRejected
	ActionEscalationTriggered
	ActionSecurityAlert
)

// String returns the stable wire name for the action.
func (a Action) String() string {
	switch a {
	case ActionTransferValidated:
		return "transfer_validated"
	case ActionTransferTimeout:
		return "transfer_timeout"
	case ActionConfirmationOnTime:
		return "confirmation_on_time"
	case ActionDisputeWon:
		return "dispute_won"
	case ActionDisputeLost:
		return "dispute_lost"
	case ActionFalseClaim:
		return "false_claim"
	case ActionEvidenceRejected:
		return "evidence_rejected"
	case ActionEscalationTriggered:
		return "escalation_triggered"
	case ActionSecurityAlert:
		return "security_alert"
	default:
		return fmt.Sprintf("action(%d)", a)
	}
}

// Valid reports whether the action value is within the supported range.
func (a Action) Valid() bool {
	return a <= ActionSecurityAlert
}

// Capability names the automation privileges gated by trust levels.
type Capability string

const (
	CapabilityBatchOperations Capability = "batch_operations"
	CapabilityAutoApproval    Capability = "auto_approval"
	CapabilityExtendedTimeout Capability = "extended_timeout"
	CapabilityAPIAccess       Capability = "api_access"
)

// Level is the discrete band a score currently falls into.
type Level struct {
	Name     string   `json:"name"`
	MinScore float64  `json:"minScore"`
	MaxScore float64  `json:"maxScore"`
	Benefits []string `json:"benefits"`
}

// Grants reports whether the level's benefit set includes the capability.
func (l Level) Grants(cap Capability) bool {
	for _, benefit := range l.Benefits {
		if benefit == string(cap) {
			return true
		}
	}
	return false
}

// HistoryEntry records one applied scoring event.
type HistoryEntry struct {
	Action        string    `json:"action"`
	Delta         float64   `json:"delta"`
	Score         float64   `json:"score"`
	TransactionID string    `json:"transactionId,omitempty"`
	At            time.Time `json:"at"`
}

// Stats keeps the running counters used by recovery rules and queries.
type Stats struct {
	Transactions    int       `json:"transactions"`
	Validated       int       `json:"validated"`
	DisputesWon     int       `json:"disputesWon"`
	DisputesLost    int       `json:"disputesLost"`
	LastActivity    time.Time `json:"lastActivity"`
	LastNegative    time.Time `json:"lastNegative"`
	RecoveryGranted int       `json:"recoveryGranted"`
}

// Score is the reputation record for a single participant. Scores are lazily
// created on first reference and never deleted.
type Score struct {
	Participant string         `json:"participant"`
	Score       float64        `json:"score"`
	Level       Level          `json:"level"`
	History     []HistoryEntry `json:"history"`
	Stats       Stats          `json:"stats"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// Clone returns a deep copy so callers can mutate the result safely.
func (s *Score) Clone() *Score {
	if s == nil {
		return nil
	}
	clone := *s
	clone.History = append([]HistoryEntry(nil), s.History...)
	clone.Level.Benefits = append([]string(nil), s.Level.Benefits...)
	return &clone
}
