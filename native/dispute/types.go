package dispute

import "time"

// Status is the dispute lifecycle state.
type Status string

const (
	StatusOpen             Status = "OPEN"
	StatusInvestigating    Status = "INVESTIGATING"
	StatusAwaitingEvidence Status = "AWAITING_EVIDENCE"
	StatusUnderReview      Status = "UNDER_REVIEW"
	StatusResolved         Status = "RESOLVED"
	StatusEscalated        Status = "ESCALATED"
)

// statusGraph is the fixed dispute status adjacency list. ESCALATED keeps its
// own outgoing edges so a dispute can escalate repeatedly before resolution.
var statusGraph = map[Status][]Status{
	StatusOpen:             {StatusInvestigating, StatusAwaitingEvidence, StatusUnderReview, StatusResolved, StatusEscalated},
	StatusInvestigating:    {StatusAwaitingEvidence, StatusUnderReview, StatusResolved, StatusEscalated},
	StatusAwaitingEvidence: {StatusInvestigating, StatusUnderReview, StatusResolved, StatusEscalated},
	StatusUnderReview:      {StatusResolved, StatusEscalated},
	StatusEscalated:        {StatusInvestigating, StatusUnderReview, StatusResolved, StatusEscalated},
}

func canAdvance(from, to Status) bool {
	for _, next := range statusGraph[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Decision is the outcome of a resolution.
type Decision string

const (
	DecisionFavorCreator    Decision = "favor_creator"
	DecisionFavorRespondent Decision = "favor_respondent"
	DecisionSplit           Decision = "split"
	DecisionVoid            Decision = "void"
)

// Valid reports whether the decision is one of the known outcomes.
func (d Decision) Valid() bool {
	switch d {
	case DecisionFavorCreator, DecisionFavorRespondent, DecisionSplit, DecisionVoid:
		return true
	default:
		return false
	}
}

// ActionType names a settlement action executed outside the protocol core.
type ActionType string

const (
	ActionRefund      ActionType = "refund"
	ActionReplacement ActionType = "replacement"
	ActionCredit      ActionType = "credit"
	ActionPenalty     ActionType = "penalty"
	ActionWarning     ActionType = "warning"
)

// ResolutionAction pairs a settlement action with its target party and amount.
type ResolutionAction struct {
	Type   ActionType `json:"type"`
	Target string     `json:"target"`
	Amount int64      `json:"amount,omitempty"`
}

// Resolution is attached exactly once to a resolved dispute and is immutable
// afterwards.
type Resolution struct {
	DecidedBy      string             `json:"decidedBy"`
	Decision       Decision           `json:"decision"`
	Reasoning      string             `json:"reasoning"`
	Confidence     float64            `json:"confidence,omitempty"`
	Automatic      bool               `json:"automatic"`
	Actions        []ResolutionAction `json:"actions,omitempty"`
	CompensationID string             `json:"compensationId,omitempty"`
	DecidedAt      time.Time          `json:"decidedAt"`
}

// CompensationRule selects how a compensation amount is derived from the base.
type CompensationRule string

const (
	RulePercentage CompensationRule = "percentage"
	RuleFixed      CompensationRule = "fixed"
	RuleCustom     CompensationRule = "custom"
)

// CompensationStatus tracks the single allowed approval decision.
type CompensationStatus string

const (
	CompensationPending  CompensationStatus = "pending"
	CompensationApproved CompensationStatus = "approved"
	CompensationRejected CompensationStatus = "rejected"
)

// Compensation is derived once from a dispute or timeout outcome and decided
// exactly once.
type Compensation struct {
	ID         string             `json:"id"`
	DisputeID  string             `json:"disputeId"`
	BaseAmount int64              `json:"baseAmount"`
	Amount     int64              `json:"amount"`
	Rule       CompensationRule   `json:"rule"`
	Status     CompensationStatus `json:"status"`
	Approver   string             `json:"approver,omitempty"`
	CreatedAt  time.Time          `json:"createdAt"`
	DecidedAt  *time.Time         `json:"decidedAt,omitempty"`
}

// Clone returns a deep copy.
func (c *Compensation) Clone() *Compensation {
	if c == nil {
		return nil
	}
	clone := *c
	if c.DecidedAt != nil {
		decided := *c.DecidedAt
		clone.DecidedAt = &decided
	}
	return &clone
}

// Dispute is one formal disagreement over a custody transfer.
type Dispute struct {
	ID              string      `json:"id"`
	TransactionID   string      `json:"transactionId"`
	Kind            string      `json:"kind"`
	Creator         string      `json:"creator"`
	Respondent      string      `json:"respondent"`
	Reason          string      `json:"reason,omitempty"`
	Status          Status      `json:"status"`
	EvidenceIDs     []string    `json:"evidenceIds,omitempty"`
	EscalationLevel int         `json:"escalationLevel"`
	ManualReview    bool        `json:"manualReview"`
	Resolution      *Resolution `json:"resolution,omitempty"`
	CreatedAt       time.Time   `json:"createdAt"`
	UpdatedAt       time.Time   `json:"updatedAt"`
	Deadline        time.Time   `json:"deadline"`
}

// Clone returns a deep copy safe to hand to callers.
func (d *Dispute) Clone() *Dispute {
	if d == nil {
		return nil
	}
	clone := *d
	clone.EvidenceIDs = append([]string(nil), d.EvidenceIDs...)
	if d.Resolution != nil {
		res := *d.Resolution
		res.Actions = append([]ResolutionAction(nil), d.Resolution.Actions...)
		clone.Resolution = &res
	}
	return &clone
}

// Resolved reports whether a resolution has been attached.
func (d *Dispute) Resolved() bool { return d.Resolution != nil }

// Participant reports whether the party is the creator or respondent.
func (d *Dispute) Participant(party string) bool {
	return party != "" && (party == d.Creator || party == d.Respondent)
}
