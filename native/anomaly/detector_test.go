package anomaly

import (
	"fmt"
	"testing"
	"time"

	"twocheck/config"
	"twocheck/core/events"
)

type captureEmitter struct {
	events []events.Event
}

func (c *captureEmitter) Emit(evt events.Event) { c.events = append(c.events, evt) }

func (c *captureEmitter) ofType(t string) []events.Event {
	var out []events.Event
	for _, evt := range c.events {
		if evt.EventType() == t {
			out = append(out, evt)
		}
	}
	return out
}

type fixedScores struct {
	scores map[string]float64
}

func (f fixedScores) ScoreOf(participant string) (float64, bool) {
	score, ok := f.scores[participant]
	return score, ok
}

// Mid-morning, well inside business hours.
var testNow = time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

func newDetector(t *testing.T, mutate func(*config.AnomalyPolicy)) (*Detector, *captureEmitter) {
	t.Helper()
	policy := config.DefaultPolicy().Anomaly
	if mutate != nil {
		mutate(&policy)
	}
	detector := NewDetector(policy)
	emitter := &captureEmitter{}
	detector.SetEmitter(emitter)
	detector.SetNowFunc(func() time.Time { return testNow })
	return detector, emitter
}

func tx(id string, value int64, at time.Time) TxInput {
	return TxInput{ID: id, Sender: "factory-a", Receiver: "warehouse-b", Value: value, At: at}
}

func TestCleanTransactionProceeds(t *testing.T) {
	detector, emitter := newDetector(t, nil)
	analysis := detector.AnalyzeTransaction(tx("tx-1", 750, testNow))
	if analysis.HasAnomalies || analysis.Action != ActionProceed || analysis.RiskScore != 0 {
		t.Fatalf("expected clean pass, got %+v", analysis)
	}
	if got := len(emitter.ofType(events.TypeAnomalyDetected)); got != 0 {
		t.Fatalf("expected no event for clean transaction, got %d", got)
	}
}

func TestBlacklistedSenderBlocks(t *testing.T) {
	detector, emitter := newDetector(t, func(p *config.AnomalyPolicy) {
		p.Blacklist = []string{"factory-a"}
	})
	analysis := detector.AnalyzeTransaction(tx("tx-bad", 750, testNow))
	if !analysis.HasAnomalies {
		t.Fatal("expected anomalies for blacklisted sender")
	}
	if analysis.Action != ActionBlock {
		t.Fatalf("expected block, got %s", analysis.Action)
	}
	critical := false
	for _, p := range analysis.Patterns {
		if p.Severity == SeverityCritical {
			critical = true
		}
	}
	if !critical {
		t.Fatal("expected a critical pattern")
	}
	if got := len(emitter.ofType(events.TypeAnomalyDetected)); got != 1 {
		t.Fatalf("expected one detection event, got %d", got)
	}
}

func TestOffHoursHighValueFlagsPattern(t *testing.T) {
	detector, _ := newDetector(t, nil)
	night := time.Date(2026, 3, 10, 23, 30, 0, 0, time.UTC)
	analysis := detector.AnalyzeTransaction(tx("tx-night", 8000, night))
	if !hasPattern(analysis, "off_hours_high_value") {
		t.Fatalf("expected off-hours pattern, got %+v", analysis.Patterns)
	}
	// Same value during the day is unremarkable (8000 is neither round-value
	// threshold nor deviant).
	analysis = detector.AnalyzeTransaction(tx("tx-day", 8000, testNow))
	if hasPattern(analysis, "off_hours_high_value") {
		t.Fatal("expected no off-hours pattern mid-morning")
	}
}

func TestVelocityOverThreshold(t *testing.T) {
	detector, _ := newDetector(t, func(p *config.AnomalyPolicy) {
		p.VelocityPerHour = 3
		p.BurstPerHour = 100
		p.PairCount24h = 100
	})
	var last *Analysis
	for i := 0; i < 4; i++ {
		last = detector.AnalyzeTransaction(tx(fmt.Sprintf("tx-%d", i), 500, testNow.Add(time.Duration(i)*time.Minute)))
	}
	if !hasPattern(last, "velocity") {
		t.Fatalf("expected velocity pattern on 4th transaction, got %+v", last.Patterns)
	}
}

func TestValueDeviationFromRouteBaseline(t *testing.T) {
	detector, _ := newDetector(t, nil)
	for i := 0; i < 5; i++ {
		detector.AnalyzeTransaction(tx(fmt.Sprintf("tx-base-%d", i), 1000, testNow.Add(time.Duration(i)*time.Minute)))
	}
	analysis := detector.AnalyzeTransaction(tx("tx-spike", 4500, testNow.Add(10*time.Minute)))
	if !hasPattern(analysis, "value_deviation") {
		t.Fatalf("expected deviation pattern at 4.5x typical, got %+v", analysis.Patterns)
	}
}

func TestRoundValuePattern(t *testing.T) {
	detector, _ := newDetector(t, nil)
	analysis := detector.AnalyzeTransaction(tx("tx-round", 50000, testNow))
	if !hasPattern(analysis, "round_value") {
		t.Fatalf("expected round value pattern, got %+v", analysis.Patterns)
	}
}

func TestIncrementalValuePattern(t *testing.T) {
	detector, _ := newDetector(t, nil)
	var last *Analysis
	for i := 0; i < 3; i++ {
		last = detector.AnalyzeTransaction(tx(fmt.Sprintf("tx-smurf-%d", i), 4000, testNow.Add(time.Duration(i)*time.Hour)))
	}
	if !hasPattern(last, "incremental_value") {
		t.Fatalf("expected incremental value pattern on 3x4000, got %+v", last.Patterns)
	}
}

func TestPairFrequencyPattern(t *testing.T) {
	detector, _ := newDetector(t, func(p *config.AnomalyPolicy) {
		p.PairCount24h = 3
		p.BurstPerHour = 100
		p.VelocityPerHour = 100
	})
	var last *Analysis
	for i := 0; i < 4; i++ {
		last = detector.AnalyzeTransaction(tx(fmt.Sprintf("tx-pair-%d", i), 500, testNow.Add(time.Duration(i)*time.Hour)))
	}
	if !hasPattern(last, "pair_frequency") {
		t.Fatalf("expected pair frequency pattern, got %+v", last.Patterns)
	}
}

func TestNewRelationshipHighValue(t *testing.T) {
	detector, _ := newDetector(t, nil)
	analysis := detector.AnalyzeTransaction(TxInput{
		ID: "tx-new", Sender: "unknown-x", Receiver: "unknown-y", Value: 30001, At: testNow,
	})
	if !hasPattern(analysis, "new_relationship_high_value") {
		t.Fatalf("expected new relationship pattern, got %+v", analysis.Patterns)
	}
}

func TestTrustGapPattern(t *testing.T) {
	detector, _ := newDetector(t, nil)
	detector.SetTrustReader(fixedScores{scores: map[string]float64{
		"factory-a":   180,
		"warehouse-b": 30,
	}})
	analysis := detector.AnalyzeTransaction(tx("tx-gap", 750, testNow))
	if !hasPattern(analysis, "trust_gap") {
		t.Fatalf("expected trust gap pattern, got %+v", analysis.Patterns)
	}
}

func TestCircularRoutingPattern(t *testing.T) {
	detector, _ := newDetector(t, nil)
	detector.AnalyzeTransaction(TxInput{ID: "tx-fwd", Sender: "a", Receiver: "b", Value: 500, At: testNow})
	analysis := detector.AnalyzeTransaction(TxInput{ID: "tx-back", Sender: "b", Receiver: "a", Value: 500, At: testNow.Add(time.Minute)})
	if !hasPattern(analysis, "circular_routing") {
		t.Fatalf("expected circular routing pattern, got %+v", analysis.Patterns)
	}
}

func TestEmergencyStopOnBlacklist(t *testing.T) {
	detector, emitter := newDetector(t, func(p *config.AnomalyPolicy) {
		p.Blacklist = []string{"factory-a"}
	})
	stop, reason := detector.ShouldTriggerEmergencyStop("factory-a")
	if !stop || reason != "blacklisted" {
		t.Fatalf("expected blacklist stop, got %v %q", stop, reason)
	}
	if got := len(emitter.ofType(events.TypeAnomalyEmergencyStop)); got != 1 {
		t.Fatalf("expected one emergency event, got %d", got)
	}
}

func TestEmergencyStopOnCumulativeRisk(t *testing.T) {
	detector, _ := newDetector(t, func(p *config.AnomalyPolicy) {
		p.EmergencyRisk24h = 50
	})
	// Each round-value hit carries risk; enough of them cross the ceiling.
	for i := 0; i < 20; i++ {
		detector.AnalyzeTransaction(tx(fmt.Sprintf("tx-risk-%d", i), 50000+int64(i)*1000, testNow.Add(time.Duration(i)*time.Minute)))
	}
	stop, reason := detector.ShouldTriggerEmergencyStop("factory-a")
	if !stop || reason != "cumulative risk" {
		t.Fatalf("expected cumulative risk stop, got %v %q", stop, reason)
	}
	if stop, _ := detector.ShouldTriggerEmergencyStop("someone-else"); stop {
		t.Fatal("expected unrelated party unaffected")
	}
}

func hasPattern(a *Analysis, kind string) bool {
	for _, p := range a.Patterns {
		if p.Type == kind {
			return true
		}
	}
	return false
}
