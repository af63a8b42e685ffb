package config

import (
	"errors"
	"fmt"
	"strings"
)

var knownStates = map[string]bool{
	StateCreated:   true,
	StateSent:      true,
	StateReceived:  true,
	StateValidated: true,
	StateDisputed:  true,
	StateTimeout:   true,
	StateCancelled: true,
	StateResolved:  true,
}

var knownOps = map[string]bool{
	"eq": true, "neq": true, "gt": true, "gte": true, "lt": true, "lte": true, "contains": true,
}

// Validate checks structural soundness of the policy document. Malformed
// configuration fails here, at startup, instead of surfacing later as a
// missing-config no-op.
func (p *Policy) Validate() error {
	if p == nil {
		return errors.New("nil policy")
	}
	if err := p.States.validate(); err != nil {
		return fmt.Errorf("states: %w", err)
	}
	if err := p.Timeouts.validate(); err != nil {
		return fmt.Errorf("timeouts: %w", err)
	}
	if err := p.Trust.validate(); err != nil {
		return fmt.Errorf("trust: %w", err)
	}
	if err := p.Disputes.validate(); err != nil {
		return fmt.Errorf("disputes: %w", err)
	}
	if err := p.Escalation.validate(); err != nil {
		return fmt.Errorf("escalation: %w", err)
	}
	if err := p.Anomaly.validate(); err != nil {
		return fmt.Errorf("anomaly: %w", err)
	}
	return nil
}

func (s StatePolicy) validate() error {
	if len(s.Graph) == 0 {
		return errors.New("transition graph required")
	}
	for from, targets := range s.Graph {
		if !knownStates[from] {
			return fmt.Errorf("unknown state %q", from)
		}
		for _, to := range targets {
			if !knownStates[to] {
				return fmt.Errorf("unknown target state %q for %q", to, from)
			}
		}
	}
	if len(s.Terminal) == 0 {
		return errors.New("terminal state set required")
	}
	for _, st := range s.Terminal {
		if !knownStates[st] {
			return fmt.Errorf("unknown terminal state %q", st)
		}
		if _, ok := s.Graph[st]; ok {
			return fmt.Errorf("terminal state %q must not have outgoing edges", st)
		}
	}
	return nil
}

func (t TimeoutPolicy) validate() error {
	if t.Default <= 0 {
		return errors.New("default timeout must be positive")
	}
	if t.SweepInterval <= 0 {
		return errors.New("sweep interval must be positive")
	}
	prev := 0.0
	for _, pct := range t.ReminderThresholds {
		if pct <= 0 || pct >= 100 {
			return fmt.Errorf("reminder threshold %v out of range (0,100)", pct)
		}
		if pct <= prev {
			return errors.New("reminder thresholds must be strictly increasing")
		}
		prev = pct
	}
	for _, cat := range t.Categories {
		if strings.TrimSpace(cat.Name) == "" {
			return errors.New("category name required")
		}
		if cat.Timeout <= 0 {
			return fmt.Errorf("category %q timeout must be positive", cat.Name)
		}
		if len(cat.Conditions) == 0 {
			return fmt.Errorf("category %q requires at least one condition", cat.Name)
		}
		for _, cond := range cat.Conditions {
			if err := cond.validate(); err != nil {
				return fmt.Errorf("category %q: %w", cat.Name, err)
			}
		}
	}
	return nil
}

func (c Condition) validate() error {
	if strings.TrimSpace(c.Field) == "" {
		return errors.New("condition field required")
	}
	if !knownOps[c.Op] {
		return fmt.Errorf("unknown condition operator %q", c.Op)
	}
	if strings.TrimSpace(c.Value) == "" {
		return errors.New("condition value required")
	}
	return nil
}

func (t TrustPolicy) validate() error {
	if t.MaxScore <= t.MinScore {
		return errors.New("maxScore must exceed minScore")
	}
	if t.InitialScore < t.MinScore || t.InitialScore > t.MaxScore {
		return errors.New("initialScore outside configured range")
	}
	if len(t.Levels) == 0 {
		return errors.New("at least one trust level required")
	}
	for i, lvl := range t.Levels {
		if strings.TrimSpace(lvl.Name) == "" {
			return fmt.Errorf("level %d name required", i)
		}
		if lvl.MaxScore < lvl.MinScore {
			return fmt.Errorf("level %q band inverted", lvl.Name)
		}
		if i > 0 && lvl.MinScore != t.Levels[i-1].MaxScore+1 {
			return fmt.Errorf("level %q band does not continue from previous", lvl.Name)
		}
	}
	if t.Levels[0].MinScore != t.MinScore {
		return errors.New("first level must start at minScore")
	}
	if t.Levels[len(t.Levels)-1].MaxScore != t.MaxScore {
		return errors.New("last level must end at maxScore")
	}
	for _, tier := range t.ValueTiers {
		if tier.Multiplier <= 0 {
			return errors.New("value tier multiplier must be positive")
		}
		if tier.MaxValue != 0 && tier.MaxValue <= tier.MinValue {
			return errors.New("value tier range inverted")
		}
	}
	if t.Decay.Factor <= 0 || t.Decay.Factor > 1 {
		return errors.New("decay factor must be in (0,1]")
	}
	if t.Decay.Floor < t.MinScore {
		return errors.New("decay floor below minScore")
	}
	return nil
}

func (d DisputePolicy) validate() error {
	if d.AutoResolveConfidence <= 0 || d.AutoResolveConfidence > 1 {
		return errors.New("autoResolveConfidence must be in (0,1]")
	}
	if d.DefaultDeadline <= 0 {
		return errors.New("default deadline must be positive")
	}
	for name, dt := range d.Types {
		if dt.Deadline <= 0 {
			return fmt.Errorf("type %q deadline must be positive", name)
		}
	}
	for i, rule := range d.EscalationRules {
		if err := rule.Condition.validate(); err != nil {
			return fmt.Errorf("escalation rule %d: %w", i, err)
		}
		if strings.TrimSpace(rule.Handler) == "" {
			return fmt.Errorf("escalation rule %d handler required", i)
		}
	}
	return nil
}

func (e EscalationPolicy) validate() error {
	if e.PatternTimeoutThreshold < 0 {
		return errors.New("pattern timeout threshold must be non-negative")
	}
	for txType, levels := range e.Types {
		prevLevel, prevPercent := 0, -1.0
		for _, lvl := range levels {
			if lvl.Level <= prevLevel {
				return fmt.Errorf("type %q levels must be strictly increasing", txType)
			}
			if lvl.Percent <= prevPercent {
				return fmt.Errorf("type %q activation percentages must be strictly increasing", txType)
			}
			if lvl.Percent < 0 || lvl.Percent > 100 {
				return fmt.Errorf("type %q percent %v out of range", txType, lvl.Percent)
			}
			if strings.TrimSpace(lvl.Action) == "" {
				return fmt.Errorf("type %q level %d action required", txType, lvl.Level)
			}
			prevLevel, prevPercent = lvl.Level, lvl.Percent
		}
	}
	return nil
}

func (a AnomalyPolicy) validate() error {
	if a.OffHoursStart < 0 || a.OffHoursStart > 23 || a.OffHoursEnd < 0 || a.OffHoursEnd > 23 {
		return errors.New("off-hours bounds must be valid hours")
	}
	if a.ValueDeviationMultiple <= 0 {
		return errors.New("value deviation multiple must be positive")
	}
	if a.EmergencyRisk24h <= 0 {
		return errors.New("emergency 24h risk threshold must be positive")
	}
	return nil
}
