package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 高级会员相关的 Prometheus 指标
type Metrics struct {
	Deactivations  *prometheus.CounterVec
	StaleTimers    prometheus.Counter
	Transitions    *prometheus.CounterVec
	NotifyFailures prometheus.Counter
	Active         *prometheus.GaugeVec
	Registry       *prometheus.Registry
}

// New 在独立的 Registry 上注册指标，便于测试中多次创建
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Deactivations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "premium",
			Name:      "deactivations_total",
			Help:      "Entitlements deactivated on expiry, by subject kind and trigger source.",
		}, []string{"kind", "source"}),
		StaleTimers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "premium",
			Name:      "stale_timers_total",
			Help:      "Expiry timers that fired after the entitlement had changed.",
		}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "premium",
			Name:      "transaction_transitions_total",
			Help:      "Transaction status transitions, by resulting status.",
		}, []string{"status"}),
		NotifyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "premium",
			Name:      "notify_failures_total",
			Help:      "Notifications that could not be published.",
		}),
		Active: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "premium",
			Name:      "active_entitlements",
			Help:      "Active entitlements by subject kind, refreshed after each sweep.",
		}, []string{"kind"}),
		Registry: reg,
	}
	reg.MustRegister(m.Deactivations, m.StaleTimers, m.Transitions, m.NotifyFailures, m.Active)
	return m
}

func (m *Metrics) Deactivated(kind, source string) {
	if m == nil {
		return
	}
	m.Deactivations.WithLabelValues(kind, source).Inc()
}

func (m *Metrics) StaleTimer() {
	if m == nil {
		return
	}
	m.StaleTimers.Inc()
}

func (m *Metrics) Transition(status string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(status).Inc()
}

func (m *Metrics) NotifyFailed() {
	if m == nil {
		return
	}
	m.NotifyFailures.Inc()
}

func (m *Metrics) SetActive(kind string, n int64) {
	if m == nil {
		return
	}
	m.Active.WithLabelValues(kind).Set(float64(n))
}
