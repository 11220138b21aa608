package metrics

import "github.com/prometheus/client_golang/prometheus"

// PaymentMetrics tracks the confirmation workflow.
type PaymentMetrics struct {
	transitions   *prometheus.CounterVec
	activations   *prometheus.CounterVec
	statusQueries *prometheus.CounterVec
	gatewayErrors *prometheus.CounterVec
}

// NewPaymentMetrics registers the payment metrics on reg. A nil registerer
// yields a no-op recorder.
func NewPaymentMetrics(reg prometheus.Registerer) *PaymentMetrics {
	if reg == nil {
		return &PaymentMetrics{}
	}
	m := &PaymentMetrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_status_transitions_total",
			Help:      "Payment status transitions applied.",
		}, []string{"from", "to"}),
		activations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enrollment_activations_total",
			Help:      "Enrollment activation attempts by outcome.",
		}, []string{"result"}),
		statusQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_status_queries_total",
			Help:      "Status queries answered, by reported status.",
		}, []string{"status"}),
		gatewayErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_errors_total",
			Help:      "Gateway calls that failed.",
		}, []string{"gateway", "operation"}),
	}
	reg.MustRegister(m.transitions, m.activations, m.statusQueries, m.gatewayErrors)
	return m
}

func (m *PaymentMetrics) ObserveTransition(from, to string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(from), normalizeLabel(to)).Inc()
}

func (m *PaymentMetrics) ObserveActivation(result string) {
	if m == nil || m.activations == nil {
		return
	}
	m.activations.WithLabelValues(normalizeLabel(result)).Inc()
}

func (m *PaymentMetrics) ObserveStatusQuery(status string) {
	if m == nil || m.statusQueries == nil {
		return
	}
	m.statusQueries.WithLabelValues(normalizeLabel(status)).Inc()
}

func (m *PaymentMetrics) ObserveGatewayError(gateway, operation string) {
	if m == nil || m.gatewayErrors == nil {
		return
	}
	m.gatewayErrors.WithLabelValues(normalizeLabel(gateway), normalizeLabel(operation)).Inc()
}
