package anomaly

import (
	"fmt"
	"sync"
	"time"

	"twocheck/config"
	"twocheck/core/events"
)

// TrustReader supplies participant scores for routing and relationship checks.
type TrustReader interface {
	ScoreOf(participant string) (float64, bool)
}

type routeKey struct {
	sender   string
	receiver string
}

type routeStats struct {
	count      int
	totalValue int64
}

func (r routeStats) typical() float64 {
	if r.count == 0 {
		return 0
	}
	return float64(r.totalValue) / float64(r.count)
}

type stamped struct {
	at    time.Time
	value int64
}

type riskEntry struct {
	at   time.Time
	risk float64
}

// Detector runs five independent rule families against each transaction and
// keeps the rolling histories the rules compare against. History is advisory
// detector state, not protocol state, so it lives in memory and starts cold
// after a restart.
type Detector struct {
	mu      sync.Mutex
	policy  config.AnomalyPolicy
	emitter events.Emitter
	trust   TrustReader
	nowFn   func() time.Time

	blacklist map[string]bool
	routes    map[routeKey]routeStats
	pairs     map[routeKey][]stamped
	senders   map[string][]time.Time
	hourHist  map[int64]int
	risks     map[string][]riskEntry
}

// NewDetector creates a detector with empty histories.
func NewDetector(policy config.AnomalyPolicy) *Detector {
	blacklist := make(map[string]bool, len(policy.Blacklist))
	for _, party := range policy.Blacklist {
		blacklist[party] = true
	}
	return &Detector{
		policy:    policy,
		emitter:   events.NoopEmitter{},
		nowFn:     time.Now,
		blacklist: blacklist,
		routes:    make(map[routeKey]routeStats),
		pairs:     make(map[routeKey][]stamped),
		senders:   make(map[string][]time.Time),
		hourHist:  make(map[int64]int),
		risks:     make(map[string][]riskEntry),
	}
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (d *Detector) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		d.emitter = events.NoopEmitter{}
		return
	}
	d.emitter = emitter
}

// SetTrustReader wires the reputation lookup.
func (d *Detector) SetTrustReader(reader TrustReader) { d.trust = reader }

// SetNowFunc overrides the time source, primarily used in tests.
func (d *Detector) SetNowFunc(now func() time.Time) {
	if now == nil {
		d.nowFn = time.Now
		return
	}
	d.nowFn = now
}

func (d *Detector) now() time.Time {
	if d == nil || d.nowFn == nil {
		return time.Now()
	}
	return d.nowFn()
}

// AnalyzeTransaction runs every check, computes the weighted risk score and
// the recommended action, then feeds the transaction into the histories so
// later analyses see it.
func (d *Detector) AnalyzeTransaction(tx TxInput) *Analysis {
	d.mu.Lock()
	defer d.mu.Unlock()

	at := tx.At
	if at.IsZero() {
		at = d.now()
	}

	var patterns []Pattern
	patterns = append(patterns, d.checkRouting(tx)...)
	patterns = append(patterns, d.checkTiming(tx, at)...)
	patterns = append(patterns, d.checkValue(tx, at)...)
	patterns = append(patterns, d.checkFrequency(tx, at)...)
	patterns = append(patterns, d.checkRelationship(tx)...)

	risk := 0.0
	critical := false
	names := make([]string, 0, len(patterns))
	for _, p := range patterns {
		risk += p.Severity.weight() * p.Confidence
		if p.Severity == SeverityCritical {
			critical = true
		}
		names = append(names, p.Type)
	}
	if risk > 100 {
		risk = 100
	}

	action := ActionProceed
	switch {
	case critical || risk >= 80:
		action = ActionBlock
	case risk >= 50:
		action = ActionFlag
	case risk >= 25:
		action = ActionReview
	}

	d.record(tx, at, risk)

	analysis := &Analysis{
		TransactionID: tx.ID,
		Patterns:      patterns,
		RiskScore:     risk,
		HasAnomalies:  len(patterns) > 0,
		Action:        action,
		AnalyzedAt:    at,
	}
	if analysis.HasAnomalies {
		d.emitter.Emit(events.AnomalyDetected{
			TransactionID: tx.ID,
			RiskScore:     risk,
			Action:        action,
			Patterns:      names,
		})
	}
	return analysis
}

func (d *Detector) checkRouting(tx TxInput) []Pattern {
	var out []Pattern
	for _, party := range []string{tx.Sender, tx.Receiver} {
		if d.blacklist[party] {
			out = append(out, Pattern{
				Type:        "blacklisted_party",
				Severity:    SeverityCritical,
				Confidence:  1.0,
				Description: fmt.Sprintf("%s is on the routing blacklist", party),
			})
		}
	}
	key := routeKey{tx.Sender, tx.Receiver}
	if _, seen := d.routes[key]; !seen && d.trust != nil {
		low := false
		for _, party := range []string{tx.Sender, tx.Receiver} {
			if score, ok := d.trust.ScoreOf(party); ok && score < d.policy.LowTrustRoute {
				low = true
			}
		}
		if low {
			out = append(out, Pattern{
				Type:        "novel_low_trust_route",
				Severity:    SeverityMedium,
				Confidence:  0.7,
				Description: "first transaction on a route involving a low-trust party",
			})
		}
	}
	if _, reverse := d.routes[routeKey{tx.Receiver, tx.Sender}]; reverse {
		out = append(out, Pattern{
			Type:        "circular_routing",
			Severity:    SeverityHigh,
			Confidence:  0.6,
			Description: "goods previously flowed in the opposite direction on this route",
		})
	}
	return out
}

func (d *Detector) checkTiming(tx TxInput, at time.Time) []Pattern {
	var out []Pattern
	hour := at.Hour()
	offHours := hour >= d.policy.OffHoursStart || hour < d.policy.OffHoursEnd
	if offHours && tx.Value > d.policy.OffHoursValue {
		out = append(out, Pattern{
			Type:        "off_hours_high_value",
			Severity:    SeverityMedium,
			Confidence:  0.8,
			Description: fmt.Sprintf("high-value transaction at hour %d", hour),
		})
	}
	cutoff := at.Add(-time.Hour)
	recent := 0
	for _, sent := range d.senders[tx.Sender] {
		if sent.After(cutoff) {
			recent++
		}
	}
	if recent+1 > d.policy.VelocityPerHour {
		out = append(out, Pattern{
			Type:        "velocity",
			Severity:    SeverityHigh,
			Confidence:  0.9,
			Description: fmt.Sprintf("%d transactions from %s within one hour", recent+1, tx.Sender),
		})
	}
	return out
}

func (d *Detector) checkValue(tx TxInput, at time.Time) []Pattern {
	var out []Pattern
	key := routeKey{tx.Sender, tx.Receiver}
	stats := d.routes[key]
	if stats.count >= 5 {
		typical := stats.typical()
		if typical > 0 && float64(tx.Value) > typical*d.policy.ValueDeviationMultiple {
			out = append(out, Pattern{
				Type:        "value_deviation",
				Severity:    SeverityHigh,
				Confidence:  0.8,
				Description: fmt.Sprintf("value %d far above the route's typical %.0f", tx.Value, typical),
			})
		}
	}
	if tx.Value >= d.policy.RoundValueMin && tx.Value%1000 == 0 {
		out = append(out, Pattern{
			Type:        "round_value",
			Severity:    SeverityLow,
			Confidence:  0.5,
			Description: "large round-number amount",
		})
	}
	// Several sub-threshold amounts on the same pair inside 24h that together
	// clear the round-value floor look like structuring.
	cutoff := at.Add(-24 * time.Hour)
	var sum int64
	small := 0
	for _, entry := range d.pairs[key] {
		if entry.at.After(cutoff) && entry.value < d.policy.RoundValueMin {
			small++
			sum += entry.value
		}
	}
	if tx.Value < d.policy.RoundValueMin {
		small++
		sum += tx.Value
	}
	if small >= 3 && sum >= d.policy.RoundValueMin {
		out = append(out, Pattern{
			Type:        "incremental_value",
			Severity:    SeverityMedium,
			Confidence:  0.6,
			Description: fmt.Sprintf("%d sub-threshold transfers totalling %d in 24h", small, sum),
		})
	}
	return out
}

func (d *Detector) checkFrequency(tx TxInput, at time.Time) []Pattern {
	var out []Pattern
	key := routeKey{tx.Sender, tx.Receiver}
	cutoff := at.Add(-24 * time.Hour)
	pairCount := 0
	for _, entry := range d.pairs[key] {
		if entry.at.After(cutoff) {
			pairCount++
		}
	}
	if pairCount+1 > d.policy.PairCount24h {
		out = append(out, Pattern{
			Type:        "pair_frequency",
			Severity:    SeverityMedium,
			Confidence:  0.8,
			Description: fmt.Sprintf("%d transactions between the pair in 24h", pairCount+1),
		})
	}
	bucket := at.Truncate(time.Hour).Unix()
	if d.hourHist[bucket]+1 > d.policy.BurstPerHour {
		out = append(out, Pattern{
			Type:        "burst",
			Severity:    SeverityHigh,
			Confidence:  0.7,
			Description: fmt.Sprintf("%d transactions system-wide in the current hour", d.hourHist[bucket]+1),
		})
	}
	return out
}

func (d *Detector) checkRelationship(tx TxInput) []Pattern {
	var out []Pattern
	key := routeKey{tx.Sender, tx.Receiver}
	if _, seen := d.routes[key]; !seen && tx.Value > d.policy.NewRelationshipValue {
		out = append(out, Pattern{
			Type:        "new_relationship_high_value",
			Severity:    SeverityHigh,
			Confidence:  0.7,
			Description: fmt.Sprintf("first transaction between the parties worth %d", tx.Value),
		})
	}
	if d.trust != nil {
		senderScore, senderOK := d.trust.ScoreOf(tx.Sender)
		receiverScore, receiverOK := d.trust.ScoreOf(tx.Receiver)
		if senderOK && receiverOK {
			gap := senderScore - receiverScore
			if gap < 0 {
				gap = -gap
			}
			if gap > d.policy.TrustGap {
				out = append(out, Pattern{
					Type:        "trust_gap",
					Severity:    SeverityMedium,
					Confidence:  0.6,
					Description: fmt.Sprintf("trust gap of %.0f between the parties", gap),
				})
			}
		}
	}
	return out
}

// record feeds the transaction into every rolling history, pruning entries
// older than 24 hours.
func (d *Detector) record(tx TxInput, at time.Time, risk float64) {
	key := routeKey{tx.Sender, tx.Receiver}
	stats := d.routes[key]
	stats.count++
	stats.totalValue += tx.Value
	d.routes[key] = stats

	cutoff := at.Add(-24 * time.Hour)
	pairs := d.pairs[key][:0]
	for _, entry := range d.pairs[key] {
		if entry.at.After(cutoff) {
			pairs = append(pairs, entry)
		}
	}
	d.pairs[key] = append(pairs, stamped{at: at, value: tx.Value})

	sent := d.senders[tx.Sender][:0]
	for _, ts := range d.senders[tx.Sender] {
		if ts.After(cutoff) {
			sent = append(sent, ts)
		}
	}
	d.senders[tx.Sender] = append(sent, at)

	bucket := at.Truncate(time.Hour).Unix()
	d.hourHist[bucket]++
	for b := range d.hourHist {
		if b < cutoff.Truncate(time.Hour).Unix() {
			delete(d.hourHist, b)
		}
	}

	if risk > 0 {
		for _, party := range []string{tx.Sender, tx.Receiver} {
			entries := d.risks[party][:0]
			for _, entry := range d.risks[party] {
				if entry.at.After(cutoff) {
					entries = append(entries, entry)
				}
			}
			d.risks[party] = append(entries, riskEntry{at: at, risk: risk})
		}
	}
}

// ShouldTriggerEmergencyStop reports whether the party must be halted outright:
// blacklist membership or cumulative 24h risk above the configured ceiling.
func (d *Detector) ShouldTriggerEmergencyStop(participant string) (bool, string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.blacklist[participant] {
		d.emitter.Emit(events.AnomalyEmergencyStop{
			Participant: participant,
			Reason:      "blacklisted",
		})
		return true, "blacklisted"
	}
	cutoff := d.now().Add(-24 * time.Hour)
	total := 0.0
	for _, entry := range d.risks[participant] {
		if entry.at.After(cutoff) {
			total += entry.risk
		}
	}
	if total > d.policy.EmergencyRisk24h {
		d.emitter.Emit(events.AnomalyEmergencyStop{
			Participant: participant,
			Reason:      "cumulative risk",
			Risk24h:     total,
		})
		return true, "cumulative risk"
	}
	return false, ""
}
