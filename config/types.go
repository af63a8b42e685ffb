package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so policy and service documents can use
// human-readable values like "72h" or "60s".
type Duration time.Duration

// Std returns the wrapped standard library duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// MarshalYAML encodes the duration as a human-readable string so generated
// documents round-trip through UnmarshalYAML.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// MarshalText implements encoding.TextMarshaler for TOML documents.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalYAML decodes either a duration string or a bare integer number of
// seconds.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err == nil {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("parse duration %q: %w", raw, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var secs int64
	if err := node.Decode(&secs); err != nil {
		return fmt.Errorf("duration must be a string or seconds: %w", err)
	}
	*d = Duration(time.Duration(secs) * time.Second)
	return nil
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML documents.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", string(text), err)
	}
	*d = Duration(parsed)
	return nil
}

// Condition is a field/operator/value triple evaluated against a transaction.
// Supported operators: eq, neq, gt, gte, lt, lte, contains.
type Condition struct {
	Field string `yaml:"field"`
	Op    string `yaml:"op"`
	Value string `yaml:"value"`
}

// TimeoutCategory overrides the default confirmation window when every one of
// its conditions matches the freshly created transaction. Categories are
// evaluated in document order; the first match wins.
type TimeoutCategory struct {
	Name       string      `yaml:"name"`
	Conditions []Condition `yaml:"conditions"`
	Timeout    Duration    `yaml:"timeout"`
}

// TimeoutPolicy controls deadline computation and the background sweep.
type TimeoutPolicy struct {
	Default            Duration          `yaml:"default"`
	SweepInterval      Duration          `yaml:"sweepInterval"`
	ReminderThresholds []float64         `yaml:"reminderThresholds"`
	Categories         []TimeoutCategory `yaml:"categories"`
}

// StatePolicy describes the transition graph and its terminal set.
type StatePolicy struct {
	Graph    map[string][]string `yaml:"graph"`
	Terminal []string            `yaml:"terminal"`
}

// TrustLevel is one contiguous score band with its benefit set.
type TrustLevel struct {
	Name     string   `yaml:"name"`
	MinScore float64  `yaml:"minScore"`
	MaxScore float64  `yaml:"maxScore"`
	Benefits []string `yaml:"benefits"`
}

// TrustPoints assigns base point deltas to each protocol action. The engine
// addresses these through an enumerated action type, so an unknown action is a
// compile-time error rather than a silent default.
type TrustPoints struct {
	TransferValidated   float64 `yaml:"transferValidated"`
	TransferTimeout     float64 `yaml:"transferTimeout"`
	ConfirmationOnTime  float64 `yaml:"confirmationOnTime"`
	DisputeWon          float64 `yaml:"disputeWon"`
	DisputeLost         float64 `yaml:"disputeLost"`
	FalseClaim          float64 `yaml:"falseClaim"`
	EvidenceRejected    float64 `yaml:"evidenceRejected"`
	EscalationTriggered float64 `yaml:"escalationTriggered"`
	SecurityAlert       float64 `yaml:"securityAlert"`
}

// ValueTier scales trust point deltas by transaction value. MaxValue of zero
// means unbounded.
type ValueTier struct {
	MinValue   int64   `yaml:"minValue"`
	MaxValue   int64   `yaml:"maxValue"`
	Multiplier float64 `yaml:"multiplier"`
}

// TrustDecay shapes the inactivity decay loop.
type TrustDecay struct {
	Interval      Duration `yaml:"interval"`
	InactiveAfter Duration `yaml:"inactiveAfter"`
	Factor        float64  `yaml:"factor"`
	Floor         float64  `yaml:"floor"`
}

// TrustRecovery grants bonus points for sustained good behaviour.
type TrustRecovery struct {
	CleanRecordAfter Duration `yaml:"cleanRecordAfter"`
	CleanRecordBonus float64  `yaml:"cleanRecordBonus"`
	VolumeThreshold  int      `yaml:"volumeThreshold"`
	VolumeBonus      float64  `yaml:"volumeBonus"`
}

// TrustPolicy bundles the reputation parameters.
type TrustPolicy struct {
	MinScore     float64       `yaml:"minScore"`
	MaxScore     float64       `yaml:"maxScore"`
	InitialScore float64       `yaml:"initialScore"`
	Levels       []TrustLevel  `yaml:"levels"`
	Points       TrustPoints   `yaml:"points"`
	ValueTiers   []ValueTier   `yaml:"valueTiers"`
	Decay        TrustDecay    `yaml:"decay"`
	Recovery     TrustRecovery `yaml:"recovery"`
}

// DisputeType configures one dispute category.
type DisputeType struct {
	Deadline         Duration `yaml:"deadline"`
	RequiredEvidence []string `yaml:"requiredEvidence"`
	AutoResolvable   bool     `yaml:"autoResolvable"`
}

// DisputeEscalationRule routes an escalated dispute to a handler when its
// condition matches. Condition fields: elapsedHours, value, trustScore.
type DisputeEscalationRule struct {
	Condition Condition `yaml:"condition"`
	Handler   string    `yaml:"handler"`
	Priority  string    `yaml:"priority"`
}

// DisputePolicy bundles dispute handling configuration.
type DisputePolicy struct {
	AutoResolveConfidence float64                 `yaml:"autoResolveConfidence"`
	DefaultDeadline       Duration                `yaml:"defaultDeadline"`
	Types                 map[string]DisputeType  `yaml:"types"`
	EscalationRules       []DisputeEscalationRule `yaml:"escalationRules"`
}

// EscalationLevel is one rung of a transaction type's escalation ladder.
type EscalationLevel struct {
	Level   int      `yaml:"level"`
	Percent float64  `yaml:"percent"`
	Action  string   `yaml:"action"`
	Notify  []string `yaml:"notify"`
	Channel string   `yaml:"channel"`
}

// EscalationPolicy maps transaction types to their ladders and configures the
// repeated-timeout pattern check.
type EscalationPolicy struct {
	Types                   map[string][]EscalationLevel `yaml:"types"`
	PatternTimeoutThreshold int                          `yaml:"patternTimeoutThreshold"`
	PatternWindow           Duration                     `yaml:"patternWindow"`
}

// AnomalyPolicy holds the rule thresholds for the detector.
type AnomalyPolicy struct {
	Blacklist              []string `yaml:"blacklist"`
	VelocityPerHour        int      `yaml:"velocityPerHour"`
	OffHoursStart          int      `yaml:"offHoursStart"`
	OffHoursEnd            int      `yaml:"offHoursEnd"`
	OffHoursValue          int64    `yaml:"offHoursValue"`
	ValueDeviationMultiple float64  `yaml:"valueDeviationMultiple"`
	RoundValueMin          int64    `yaml:"roundValueMin"`
	PairCount24h           int      `yaml:"pairCount24h"`
	BurstPerHour           int      `yaml:"burstPerHour"`
	TrustGap               float64  `yaml:"trustGap"`
	NewRelationshipValue   int64    `yaml:"newRelationshipValue"`
	EmergencyRisk24h       float64  `yaml:"emergencyRisk24h"`
	LowTrustRoute          float64  `yaml:"lowTrustRoute"`
}

// Policy is the full protocol policy document. It is loaded once at startup
// and validated before any engine is constructed.
type Policy struct {
	AutoValidate bool             `yaml:"autoValidate"`
	BrandOwner   string           `yaml:"brandOwner"`
	States       StatePolicy      `yaml:"states"`
	Timeouts     TimeoutPolicy    `yaml:"timeouts"`
	Trust        TrustPolicy      `yaml:"trust"`
	Disputes     DisputePolicy    `yaml:"disputes"`
	Escalation   EscalationPolicy `yaml:"escalation"`
	Anomaly      AnomalyPolicy    `yaml:"anomaly"`
}
