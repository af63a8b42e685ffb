package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// ProtocolMetrics aggregates the counters and histograms exposed by the
// confirmation protocol. A single registry-backed instance exists per process.
type ProtocolMetrics struct {
	transfersCreated    *prometheus.CounterVec
	stateTransitions    *prometheus.CounterVec
	transferTimeouts    prometheus.Counter
	disputesOpened      *prometheus.CounterVec
	disputesResolved    *prometheus.CounterVec
	escalationsFired    *prometheus.CounterVec
	anomalyRisk         prometheus.Histogram
	submissionsBlocked  prometheus.Counter
	webhookFailures     *prometheus.CounterVec
	trustScore          *prometheus.GaugeVec
}

var (
	protocolOnce     sync.Once
	protocolRegistry *ProtocolMetrics
)

// Protocol returns the process-wide metrics instance, registering the
// collectors on first use.
func Protocol() *ProtocolMetrics {
	protocolOnce.Do(func() {
		protocolRegistry = &ProtocolMetrics{
			transfersCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "twocheck_transfers_created_total",
				Help: "Count of transfer transactions created by type.",
			}, []string{"type"}),
			stateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "twocheck_state_transitions_total",
				Help: "Count of transfer state transitions by target state.",
			}, []string{"state"}),
			transferTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "twocheck_transfer_timeouts_total",
				Help: "Count of transfers that expired without confirmation.",
			}),
			disputesOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "twocheck_disputes_opened_total",
				Help: "Count of disputes opened by dispute type.",
			}, []string{"kind"}),
			disputesResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "twocheck_disputes_resolved_total",
				Help: "Count of disputes resolved by decision.",
			}, []string{"decision"}),
			escalationsFired: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "twocheck_escalations_total",
				Help: "Count of escalation ladder actions fired by action.",
			}, []string{"action"}),
			anomalyRisk: prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:    "twocheck_anomaly_risk_score",
				Help:    "Risk score distribution for analyzed transactions.",
				Buckets: []float64{5, 10, 25, 50, 80, 100},
			}),
			submissionsBlocked: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "twocheck_submissions_blocked_total",
				Help: "Count of transaction submissions rejected by the anomaly gate.",
			}),
			webhookFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "twocheck_webhook_failures_total",
				Help: "Number of failed webhook delivery attempts by destination.",
			}, []string{"destination"}),
			trustScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "twocheck_trust_score",
				Help: "Latest trust score per participant.",
			}, []string{"participant"}),
		}
		prometheus.MustRegister(
			protocolRegistry.transfersCreated,
			protocolRegistry.stateTransitions,
			protocolRegistry.transferTimeouts,
			protocolRegistry.disputesOpened,
			protocolRegistry.disputesResolved,
			protocolRegistry.escalationsFired,
			protocolRegistry.anomalyRisk,
			protocolRegistry.submissionsBlocked,
			protocolRegistry.webhookFailures,
			protocolRegistry.trustScore,
		)
	})
	return protocolRegistry
}

func (m *ProtocolMetrics) ObserveTransferCreated(txType string) {
	if m == nil {
		return
	}
	if txType == "" {
		txType = "standard"
	}
	m.transfersCreated.WithLabelValues(txType).Inc()
}

func (m *ProtocolMetrics) ObserveStateTransition(state string) {
	if m == nil {
		return
	}
	if state == "" {
		state = "unknown"
	}
	m.stateTransitions.WithLabelValues(state).Inc()
}

func (m *ProtocolMetrics) ObserveTransferTimeout() {
	if m == nil {
		return
	}
	m.transferTimeouts.Inc()
}

func (m *ProtocolMetrics) ObserveDisputeOpened(kind string) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	m.disputesOpened.WithLabelValues(kind).Inc()
}

func (m *ProtocolMetrics) ObserveDisputeResolved(decision string) {
	if m == nil {
		return
	}
	if decision == "" {
		decision = "unknown"
	}
	m.disputesResolved.WithLabelValues(decision).Inc()
}

func (m *ProtocolMetrics) ObserveEscalation(action string) {
	if m == nil {
		return
	}
	if action == "" {
		action = "unknown"
	}
	m.escalationsFired.WithLabelValues(action).Inc()
}

func (m *ProtocolMetrics) ObserveAnomalyRisk(score float64) {
	if m == nil {
		return
	}
	m.anomalyRisk.Observe(score)
}

func (m *ProtocolMetrics) ObserveSubmissionBlocked() {
	if m == nil {
		return
	}
	m.submissionsBlocked.Inc()
}

func (m *ProtocolMetrics) IncWebhookFailure(destination string) {
	if m == nil {
		return
	}
	if destination == "" {
		destination = "unknown"
	}
	m.webhookFailures.WithLabelValues(destination).Inc()
}

func (m *ProtocolMetrics) SetTrustScore(participant string, score float64) {
	if m == nil {
		return
	}
	if participant == "" {
		return
	}
	m.trustScore.WithLabelValues(participant).Set(score)
}
