package notify

import "sync"

// Priority levels understood by downstream notification transports.
const (
	PriorityNormal   = "normal"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

// Message is one notification handed to the external delivery layer. The
// engines treat delivery as fire-and-forget.
type Message struct {
	To             string            `json:"to"`
	Subject        string            `json:"subject"`
	Priority       string            `json:"priority"`
	Channel        string            `json:"channel,omitempty"`
	TransactionID  string            `json:"transactionId,omitempty"`
	AdditionalInfo map[string]string `json:"additionalInfo,omitempty"`
}

// Sender delivers messages to participants and stakeholders.
type Sender interface {
	Send(Message)
}

// NoopSender discards all messages. It is the default wired into engines until
// a real transport is configured.
type NoopSender struct{}

// Send implements the Sender interface.
func (NoopSender) Send(Message) {}

// MemorySender records messages for assertions in tests.
type MemorySender struct {
	mu       sync.Mutex
	messages []Message
}

// NewMemorySender returns an empty in-memory sender.
func NewMemorySender() *MemorySender { return &MemorySender{} }

// Send implements the Sender interface.
func (m *MemorySender) Send(msg Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
}

// Messages returns a snapshot of everything sent so far.
func (m *MemorySender) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.messages...)
}

// SentTo returns the messages addressed to the given recipient.
func (m *MemorySender) SentTo(recipient string) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Message
	for _, msg := range m.messages {
		if msg.To == recipient {
			out = append(out, msg)
		}
	}
	return out
}
