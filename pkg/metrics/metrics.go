package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Session lifecycle metrics
	SessionsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "raftsession_sessions_total",
			Help: "Total number of sessions by lifecycle state",
		},
		[]string{"state"},
	)

	SessionsOpenedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raftsession_sessions_opened_total",
			Help: "Total number of sessions opened by service type",
		},
		[]string{"service_type"},
	)

	// Event pipeline metrics
	EventQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "raftsession_event_queue_depth",
			Help: "Sum of unacknowledged event batches across all tracked sessions",
		},
	)

	ResultCacheSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "raftsession_result_cache_entries",
			Help: "Sum of memoized command results across all tracked sessions",
		},
	)

	PendingCommandsGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "raftsession_pending_commands",
			Help: "Sum of out-of-order buffered commands across all tracked sessions",
		},
	)

	// Query gate metrics
	QueriesGatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raftsession_queries_gated_total",
			Help: "Total number of queries that had to wait for a sequence/index gate",
		},
		[]string{"consistency"},
	)

	QueryGateWaitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "raftsession_query_gate_wait_seconds",
			Help:    "Time a gated query waited before release",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"consistency"},
	)

	// Raft metrics
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "raftsession_raft_is_leader",
			Help: "Whether this member is the Raft leader (1 = leader, 0 = follower)",
		},
	)

	RaftPeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "raftsession_raft_peers_total",
			Help: "Total number of Raft peers in the cluster",
		},
	)

	RaftAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "raftsession_raft_applied_index",
			Help: "Last applied Raft log index",
		},
	)

	RaftApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "raftsession_raft_apply_duration_seconds",
			Help:    "Time taken to apply a Raft log entry to the session FSM",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Client-side RPC metrics
	ClientRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raftsession_client_requests_total",
			Help: "Total number of client RPCs by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	ClientRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "raftsession_client_request_duration_seconds",
			Help:    "Client RPC duration in seconds including retries",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	ClientRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raftsession_client_retries_total",
			Help: "Total number of member retries by kind",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(SessionsTotal)
	prometheus.MustRegister(SessionsOpenedTotal)
	prometheus.MustRegister(EventQueueDepth)
	prometheus.MustRegister(ResultCacheSize)
	prometheus.MustRegister(PendingCommandsGauge)
	prometheus.MustRegister(QueriesGatedTotal)
	prometheus.MustRegister(QueryGateWaitDuration)
	prometheus.MustRegister(RaftLeader)
	prometheus.MustRegister(RaftPeers)
	prometheus.MustRegister(RaftAppliedIndex)
	prometheus.MustRegister(RaftApplyDuration)
	prometheus.MustRegister(ClientRequestsTotal)
	prometheus.MustRegister(ClientRequestDuration)
	prometheus.MustRegister(ClientRetriesTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
