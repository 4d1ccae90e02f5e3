package federation

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics tracks enterprise layer activity. A nil *Metrics records nothing.
type Metrics struct {
	// Request metrics
	Requests       *prometheus.CounterVec
	RequestLatency *prometheus.HistogramVec
	MemberFailures *prometheus.CounterVec
	AsOfRetries    prometheus.Counter

	// Membership metrics
	Members       prometheus.Gauge
	PeerProbes    *prometheus.CounterVec
	PeerStatus    *prometheus.GaugeVec
	LastProbeTime prometheus.Gauge
}

// NewMetrics creates and registers the metrics with registry, or with the
// default registerer when registry is nil.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	return &Metrics{
		Requests: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "metacohort_enterprise_requests_total",
			Help: "Total number of enterprise collection requests",
		}, []string{"method", "strategy"}),
		RequestLatency: promauto.With(registry).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "metacohort_enterprise_request_latency_seconds",
			Help:    "Enterprise collection request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		MemberFailures: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "metacohort_member_failures_total",
			Help: "Total number of failed member calls by error kind",
		}, []string{"method", "kind"}),
		AsOfRetries: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "metacohort_asof_retries_total",
			Help: "Total number of as-of entity retrievals retried against a fresh member list",
		}),

		Members: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
			Name: "metacohort_registered_members",
			Help: "Number of member collections registered with the enterprise layer",
		}),
		PeerProbes: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "metacohort_peer_probes_total",
			Help: "Total number of peer probes by result",
		}, []string{"result"}),
		PeerStatus: promauto.With(registry).NewGaugeVec(prometheus.GaugeOpts{
			Name: "metacohort_peer_status",
			Help: "Current peer status (1 alive, 2 suspected, 3 dead)",
		}, []string{"peer"}),
		LastProbeTime: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
			Name: "metacohort_last_probe_timestamp",
			Help: "Timestamp of the last membership probe round",
		}),
	}
}

func (m *Metrics) request(method, strategy string) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(method, strategy).Inc()
}

func (m *Metrics) observe(method string, start time.Time) {
	if m == nil {
		return
	}
	m.RequestLatency.WithLabelValues(method).Observe(time.Since(start).Seconds())
}

func (m *Metrics) memberFailure(method, kind string) {
	if m == nil {
		return
	}
	m.MemberFailures.WithLabelValues(method, kind).Inc()
}

func (m *Metrics) asOfRetry() {
	if m == nil {
		return
	}
	m.AsOfRetries.Inc()
}

func (m *Metrics) members(n int) {
	if m == nil {
		return
	}
	m.Members.Set(float64(n))
}

func (m *Metrics) probe(result string) {
	if m == nil {
		return
	}
	m.PeerProbes.WithLabelValues(result).Inc()
}

func (m *Metrics) peerStatus(peer string, status PeerStatus) {
	if m == nil {
		return
	}
	m.PeerStatus.WithLabelValues(peer).Set(float64(status))
}

func (m *Metrics) probed(at time.Time) {
	if m == nil {
		return
	}
	m.LastProbeTime.Set(float64(at.Unix()))
}

// RegisterHandlers mounts the metrics and liveness endpoints on mux.
func RegisterHandlers(mux *http.ServeMux, gatherer prometheus.Gatherer) {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
}

// StartMetricsServer serves RegisterHandlers on addr in the background.
func StartMetricsServer(addr string, gatherer prometheus.Gatherer, logger *zap.Logger) *http.Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	mux := http.NewServeMux()
	RegisterHandlers(mux, gatherer)

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("Starting metrics server", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	return server
}
