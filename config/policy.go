package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Protocol state names. The transition graph is configuration, but the state
// vocabulary is fixed by the protocol.
const (
	StateCreated   = "CREATED"
	StateSent      = "SENT"
	StateReceived  = "RECEIVED"
	StateValidated = "VALIDATED"
	StateDisputed  = "DISPUTED"
	StateTimeout   = "TIMEOUT"
	StateCancelled = "CANCELLED"
	StateResolved  = "RESOLVED"
)

// LoadPolicy reads and validates the protocol policy document. A missing file
// is materialised with defaults so a fresh deployment starts with a complete,
// reviewable policy on disk.
func LoadPolicy(path string) (*Policy, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefaultPolicy(path)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy %s: %w", path, err)
	}
	policy := &Policy{}
	if err := yaml.Unmarshal(raw, policy); err != nil {
		return nil, fmt.Errorf("decode policy %s: %w", path, err)
	}
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("policy %s: %w", path, err)
	}
	return policy, nil
}

func createDefaultPolicy(path string) (*Policy, error) {
	policy := DefaultPolicy()
	encoded, err := yaml.Marshal(policy)
	if err != nil {
		return nil, err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	if err := os.WriteFile(path, encoded, 0o644); err != nil {
		return nil, err
	}
	return policy, nil
}

// DefaultPolicy returns the shipped protocol policy.
func DefaultPolicy() *Policy {
	return &Policy{
		AutoValidate: true,
		BrandOwner:   "brand_admin",
		States: StatePolicy{
			Graph: map[string][]string{
				StateCreated:  {StateSent, StateCancelled, StateTimeout},
				StateSent:     {StateReceived, StateDisputed, StateTimeout},
				StateReceived: {StateValidated, StateDisputed, StateTimeout},
				StateDisputed: {StateResolved, StateCancelled},
				StateTimeout:  {StateDisputed, StateResolved, StateCancelled},
			},
			Terminal: []string{StateValidated, StateCancelled, StateResolved},
		},
		Timeouts: TimeoutPolicy{
			Default:            Duration(72 * time.Hour),
			SweepInterval:      Duration(60 * time.Second),
			ReminderThresholds: []float64{50, 75, 90},
			Categories: []TimeoutCategory{
				{
					Name:       "high-value",
					Conditions: []Condition{{Field: "value", Op: "gt", Value: "10000"}},
					Timeout:    Duration(24 * time.Hour),
				},
				{
					Name:       "perishable",
					Conditions: []Condition{{Field: "category", Op: "eq", Value: "perishable"}},
					Timeout:    Duration(12 * time.Hour),
				},
				{
					Name:       "trusted-counterpart",
					Conditions: []Condition{{Field: "counterpartTrust", Op: "gte", Value: "160"}},
					Timeout:    Duration(120 * time.Hour),
				},
			},
		},
		Trust: TrustPolicy{
			MinScore:     0,
			MaxScore:     200,
			InitialScore: 100,
			Levels: []TrustLevel{
				{Name: "restricted", MinScore: 0, MaxScore: 49, Benefits: []string{}},
				{Name: "standard", MinScore: 50, MaxScore: 119, Benefits: []string{"api_access"}},
				{Name: "trusted", MinScore: 120, MaxScore: 159, Benefits: []string{"api_access", "batch_operations", "extended_timeout"}},
				{Name: "premium", MinScore: 160, MaxScore: 200, Benefits: []string{"api_access", "batch_operations", "extended_timeout", "auto_approval"}},
			},
			Points: TrustPoints{
				TransferValidated:   5,
				TransferTimeout:     -10,
				ConfirmationOnTime:  1,
				DisputeWon:          2,
				DisputeLost:         -5,
				FalseClaim:          -10,
				EvidenceRejected:    -2,
				EscalationTriggered: -0.05,
				SecurityAlert:       -0.20,
			},
			ValueTiers: []ValueTier{
				{MinValue: 0, MaxValue: 1_000, Multiplier: 1.0},
				{MinValue: 1_000, MaxValue: 10_000, Multiplier: 1.25},
				{MinValue: 10_000, MaxValue: 0, Multiplier: 1.5},
			},
			Decay: TrustDecay{
				Interval:      Duration(24 * time.Hour),
				InactiveAfter: Duration(30 * 24 * time.Hour),
				Factor:        0.95,
				Floor:         25,
			},
			Recovery: TrustRecovery{
				CleanRecordAfter: Duration(30 * 24 * time.Hour),
				CleanRecordBonus: 5,
				VolumeThreshold:  50,
				VolumeBonus:      10,
			},
		},
		Disputes: DisputePolicy{
			AutoResolveConfidence: 0.9,
			DefaultDeadline:       Duration(72 * time.Hour),
			Types: map[string]DisputeType{
				"not_received":      {Deadline: Duration(72 * time.Hour), RequiredEvidence: []string{"tracking"}, AutoResolvable: true},
				"wrong_item":        {Deadline: Duration(96 * time.Hour), RequiredEvidence: []string{"photo", "document"}, AutoResolvable: true},
				"damaged":           {Deadline: Duration(96 * time.Hour), RequiredEvidence: []string{"photo"}, AutoResolvable: false},
				"quantity_mismatch": {Deadline: Duration(72 * time.Hour), RequiredEvidence: []string{"document"}, AutoResolvable: true},
				"quality_issue":     {Deadline: Duration(120 * time.Hour), RequiredEvidence: []string{"photo", "witness"}, AutoResolvable: false},
				"counterfeit":       {Deadline: Duration(48 * time.Hour), RequiredEvidence: []string{"photo", "signature"}, AutoResolvable: false},
			},
			EscalationRules: []DisputeEscalationRule{
				{Condition: Condition{Field: "value", Op: "gt", Value: "10000"}, Handler: "brand_admin", Priority: "critical"},
				{Condition: Condition{Field: "trustScore", Op: "lt", Value: "50"}, Handler: "risk_team", Priority: "high"},
				{Condition: Condition{Field: "elapsedHours", Op: "gt", Value: "48"}, Handler: "senior_mediator", Priority: "high"},
			},
		},
		Escalation: EscalationPolicy{
			PatternTimeoutThreshold: 3,
			PatternWindow:           Duration(72 * time.Hour),
			Types: map[string][]EscalationLevel{
				"standard": {
					{Level: 1, Percent: 50, Action: "send_reminder", Notify: []string{"receiver"}},
					{Level: 2, Percent: 75, Action: "urgent_notification", Notify: []string{"sender", "receiver"}, Channel: "all"},
					{Level: 3, Percent: 90, Action: "auto_escalate", Notify: []string{"all_stakeholders"}},
					{Level: 4, Percent: 100, Action: "security_alert", Notify: []string{"brand_admin", "customer_service"}},
				},
				"high_value": {
					{Level: 1, Percent: 40, Action: "send_reminder", Notify: []string{"receiver"}},
					{Level: 2, Percent: 60, Action: "urgent_notification", Notify: []string{"sender", "receiver", "brand_admin"}, Channel: "all"},
					{Level: 3, Percent: 80, Action: "create_dispute", Notify: []string{"all_stakeholders"}},
					{Level: 4, Percent: 95, Action: "halt_production", Notify: []string{"brand_admin"}},
					{Level: 5, Percent: 100, Action: "security_alert", Notify: []string{"brand_admin", "customer_service"}},
				},
				"perishable": {
					{Level: 1, Percent: 30, Action: "send_reminder", Notify: []string{"receiver"}},
					{Level: 2, Percent: 60, Action: "support_ticket", Notify: []string{"customer_service"}},
					{Level: 3, Percent: 85, Action: "auto_escalate", Notify: []string{"all_stakeholders"}},
				},
			},
		},
		Anomaly: AnomalyPolicy{
			Blacklist:              []string{},
			VelocityPerHour:        20,
			OffHoursStart:          22,
			OffHoursEnd:            6,
			OffHoursValue:          5_000,
			ValueDeviationMultiple: 3.0,
			RoundValueMin:          10_000,
			PairCount24h:           10,
			BurstPerHour:           15,
			TrustGap:               100,
			NewRelationshipValue:   25_000,
			EmergencyRisk24h:       200,
			LowTrustRoute:          50,
		},
	}
}
