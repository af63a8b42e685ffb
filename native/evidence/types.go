package evidence

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Kind is the declared type of a submitted proof artifact.
type Kind string

const (
	KindDocument  Kind = "document"
	KindPhoto     Kind = "photo"
	KindGPS       Kind = "gps"
	KindTimestamp Kind = "timestamp"
	KindWitness   Kind = "witness"
	KindSignature Kind = "signature"
	KindTracking  Kind = "tracking"
)

// ParseKind normalises and validates a declared evidence type.
func ParseKind(raw string) (Kind, error) {
	kind := Kind(strings.ToLower(strings.TrimSpace(raw)))
	switch kind {
	case KindDocument, KindPhoto, KindGPS, KindTimestamp, KindWitness, KindSignature, KindTracking:
		return kind, nil
	default:
		return "", fmt.Errorf("evidence: unsupported kind %q", raw)
	}
}

// Evidence is one proof artifact tied to a transaction. Once validated, the
// Verified flag and confidence derive solely from the validator's rule set
// applied at submission time.
type Evidence struct {
	ID            string         `json:"id"`
	TransactionID string         `json:"transactionId"`
	Kind          Kind           `json:"kind"`
	SubmittedBy   string         `json:"submittedBy"`
	SubmittedAt   time.Time      `json:"submittedAt"`
	ContentHash   string         `json:"contentHash"`
	Data          map[string]any `json:"data"`
	Verified      bool           `json:"verified"`
	Confidence    float64        `json:"confidence"`
	Issues        []string       `json:"issues,omitempty"`
}

// Clone returns a deep-enough copy for callers to hold without aliasing the
// stored record. Payload values are shared; they are treated as immutable
// after submission.
func (e *Evidence) Clone() *Evidence {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Issues = append([]string(nil), e.Issues...)
	if e.Data != nil {
		data := make(map[string]any, len(e.Data))
		for k, v := range e.Data {
			data[k] = v
		}
		clone.Data = data
	}
	return &clone
}

// Request is an open demand for specific verified evidence types on a
// transaction, typically driven by a dispute.
type Request struct {
	TransactionID string     `json:"transactionId"`
	Required      []Kind     `json:"required"`
	OpenedAt      time.Time  `json:"openedAt"`
	FulfilledAt   *time.Time `json:"fulfilledAt,omitempty"`
}

// Clone returns a deep copy of the request.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	clone := *r
	clone.Required = append([]Kind(nil), r.Required...)
	if r.FulfilledAt != nil {
		at := *r.FulfilledAt
		clone.FulfilledAt = &at
	}
	return &clone
}

// hashPayload derives the keccak-256 integrity hash of the payload. Map keys
// are sorted by the JSON encoder, so the hash is deterministic.
func hashPayload(data map[string]any) (string, error) {
	encoded, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("evidence: encode payload: %w", err)
	}
	return hex.EncodeToString(ethcrypto.Keccak256(encoded)), nil
}
