package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ResourceState reports, per resource, whether it is currently observed
	// in a given status (1 = current status, 0 = all others). Labeled by
	// resource_id and status so a dashboard can stack states over time.
	ResourceState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "halo_resource_state",
			Help: "Current observed status per resource (1 for the active status)",
		},
		[]string{"resource_id", "status"},
	)

	HostView = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "halo_host_view",
			Help: "Current view per host (1 for the active view)",
		},
		[]string{"host_id", "view"},
	)

	ProbeTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "halo_probe_total",
			Help: "Total monitor probes issued, by outcome",
		},
		[]string{"outcome"},
	)

	TickDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "halo_tick_duration_seconds",
			Help:    "Duration of a resource group engine tick",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"group_id"},
	)

	FenceAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "halo_fence_attempts_total",
			Help: "Total fence-agent invocations, by action and outcome",
		},
		[]string{"action", "outcome"},
	)

	FenceDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "halo_fence_duration_seconds",
			Help:    "Duration of a fence operation including retries",
			Buckets: prometheus.DefBuckets,
		},
	)

	OcfInvocationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "halo_ocf_invocation_duration_seconds",
			Help:    "Duration of an OCF subprocess invocation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"action"},
	)

	RPCErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "halo_rpc_errors_total",
			Help: "Total RPC errors observed talking to remote agents",
		},
		[]string{"host_id"},
	)
)

func init() {
	prometheus.MustRegister(ResourceState)
	prometheus.MustRegister(HostView)
	prometheus.MustRegister(ProbeTotal)
	prometheus.MustRegister(TickDuration)
	prometheus.MustRegister(FenceAttemptsTotal)
	prometheus.MustRegister(FenceDuration)
	prometheus.MustRegister(OcfInvocationDuration)
	prometheus.MustRegister(RPCErrorsTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve blocks serving the Prometheus text-format handler on addr at /metrics.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	return http.ListenAndServe(addr, mux)
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
