// Package metrics centralizes the runtime's Prometheus instrumentation so
// call sites never construct their own collectors. Grounded on the
// teacher's RecordFunctionExecution-style call shape, generalized from one
// function-invocation counter to the core's three observable subsystems.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector owns every metric the core emits. Its methods must not be
// called on a nil *Collector; call sites (dispatcher, approval queue) check
// for nil before calling. New always returns a usable value.
type Collector struct {
	dispatchTotal       *prometheus.CounterVec
	sandboxDuration     *prometheus.HistogramVec
	sandboxOutcomeTotal *prometheus.CounterVec
	approvalTransitions *prometheus.CounterVec
}

// New registers every metric against reg and returns a ready Collector.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		dispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "botcore_dispatch_total",
			Help: "Total dispatched events by kind.",
		}, []string{"kind"}),
		sandboxDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "botcore_sandbox_run_duration_seconds",
			Help:    "Sandbox invocation duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"service_id"}),
		sandboxOutcomeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "botcore_sandbox_outcome_total",
			Help: "Sandbox invocation outcomes by service and result.",
		}, []string{"service_id", "ok"}),
		approvalTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "botcore_approval_transitions_total",
			Help: "Approval queue state transitions.",
		}, []string{"to"}),
	}

	reg.MustRegister(c.dispatchTotal, c.sandboxDuration, c.sandboxOutcomeTotal, c.approvalTransitions)
	return c
}

// ObserveDispatch records one dispatched event of the given kind.
func (c *Collector) ObserveDispatch(kind string) {
	c.dispatchTotal.WithLabelValues(kind).Inc()
}

// ObserveSandboxRun records one sandbox invocation's outcome and duration.
func (c *Collector) ObserveSandboxRun(serviceID string, ok bool, d time.Duration) {
	c.sandboxDuration.WithLabelValues(serviceID).Observe(d.Seconds())
	outcome := "true"
	if !ok {
		outcome = "false"
	}
	c.sandboxOutcomeTotal.WithLabelValues(serviceID, outcome).Inc()
}

// ObserveApprovalTransition records an approval queue record moving to a
// new status.
func (c *Collector) ObserveApprovalTransition(to string) {
	c.approvalTransitions.WithLabelValues(to).Inc()
}
