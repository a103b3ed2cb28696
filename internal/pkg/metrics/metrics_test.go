package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.Deactivated("user", "timer")
	m.Deactivated("user", "timer")
	m.Deactivated("guild", "sweep")
	m.StaleTimer()
	m.Transition("verified")
	m.NotifyFailed()
	m.SetActive("guild", 4)
	m.SetActive("guild", 3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Deactivations.WithLabelValues("user", "timer")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Deactivations.WithLabelValues("guild", "sweep")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StaleTimers))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Transitions.WithLabelValues("verified")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotifyFailures))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Active.WithLabelValues("guild")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Deactivated("user", "timer")
		m.StaleTimer()
		m.Transition("denied")
		m.NotifyFailed()
		m.SetActive("user", 1)
	})
}
