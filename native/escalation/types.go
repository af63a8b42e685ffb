package escalation

import "time"

// Action names understood by the dispatcher.
const (
	ActionSendReminder       = "send_reminder"
	ActionUrgentNotification = "urgent_notification"
	ActionAutoEscalate       = "auto_escalate"
	ActionSupportTicket      = "support_ticket"
	ActionHaltProduction     = "halt_production"
	ActionCreateDispute      = "create_dispute"
	ActionSecurityAlert      = "security_alert"
)

// Notify-list tokens resolved to concrete recipients. Unrecognised entries
// pass through as literal recipient ids (e.g. customer_service).
const (
	TokenSender          = "sender"
	TokenReceiver        = "receiver"
	TokenAllStakeholders = "all_stakeholders"
	TokenBrandAdmin      = "brand_admin"
)

// TransactionRef is the slice of transfer data escalation handling needs.
type TransactionRef struct {
	ID       string
	Sender   string
	Receiver string
	Value    int64
	Type     string
}

// Record is one fired escalation level. The per-transaction record list is
// append-only and enforces at-most-once firing per level.
type Record struct {
	TransactionID string    `json:"transactionId"`
	Level         int       `json:"level"`
	Action        string    `json:"action"`
	Percent       float64   `json:"percent"`
	Recipients    []string  `json:"recipients,omitempty"`
	At            time.Time `json:"at"`
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	clone := *r
	clone.Recipients = append([]string(nil), r.Recipients...)
	return &clone
}
