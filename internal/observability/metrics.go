package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	turnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "medichat_turns_total",
		Help: "Conversation turns processed, by outcome",
	}, []string{"outcome"})

	capabilityRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "medichat_capability_requests_total",
		Help: "Capability invocations, by capability and status",
	}, []string{"capability", "status"})

	capabilityLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "medichat_capability_latency_seconds",
		Help:    "Capability latency in seconds",
		Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30},
	}, []string{"capability"})

	phaseTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "medichat_phase_transitions_total",
		Help: "Consultation phase transitions",
	}, []string{"from", "to"})

	emergencies = promauto.NewCounter(prometheus.CounterOpts{
		Name: "medichat_emergency_turns_total",
		Help: "Turns that ended with emergency urgency",
	})

	activeConsultations = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "medichat_active_consultations",
		Help: "Consultations currently held by the session store",
	})
)

func RecordTurn(outcome string) {
	turnsTotal.WithLabelValues(outcome).Inc()
}

func RecordCapability(capability string, success bool, latency time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	capabilityRequests.WithLabelValues(capability, status).Inc()
	capabilityLatency.WithLabelValues(capability).Observe(latency.Seconds())
}

func RecordPhaseTransition(from, to string) {
	phaseTransitions.WithLabelValues(from, to).Inc()
}

func RecordEmergency() {
	emergencies.Inc()
}

func ConsultationStarted() { activeConsultations.Inc() }
func ConsultationEnded()   { activeConsultations.Dec() }

// SetActiveConsultations resets the gauge to a count read from the store, so
// a restart against a persistent store does not start from zero.
func SetActiveConsultations(n int) { activeConsultations.Set(float64(n)) }
