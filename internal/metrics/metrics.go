package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics defines the counters of the policy engine and its workers.
type Metrics interface {
	IncEvaluation(policyType, outcome string)
	ObserveEvaluation(durationSeconds float64)
	IncMutation(action string)
	SetConflicts(kind string, n int)
	IncSync(status string)
	IncRollback()
}

// GatewayMetrics captures request metrics for the HTTP API.
type GatewayMetrics interface {
	ObserveRequest(method, route, status string, durationSeconds float64)
}

// Noop implements Metrics without emitting anything.
type Noop struct{}

func (Noop) IncEvaluation(string, string) {}
func (Noop) ObserveEvaluation(float64)    {}
func (Noop) IncMutation(string)           {}
func (Noop) SetConflicts(string, int)     {}
func (Noop) IncSync(string)               {}
func (Noop) IncRollback()                 {}

// Prom implements Metrics backed by Prometheus collectors.
type Prom struct {
	evaluations *prometheus.CounterVec
	evalLatency prometheus.Histogram
	mutations   *prometheus.CounterVec
	conflicts   *prometheus.GaugeVec
	syncs       *prometheus.CounterVec
	rollbacks   prometheus.Counter
	once        sync.Once
}

func NewProm(namespace string) *Prom {
	p := &Prom{
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "Policy evaluations by policy type and outcome",
		}, []string{"type", "outcome"}),
		evalLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "evaluation_duration_seconds",
			Help:      "Latency of a full evaluate request",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "policy_mutations_total",
			Help:      "Committed policy mutations by audit action",
		}, []string{"action"}),
		conflicts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "conflicts",
			Help:      "Conflicts among active policies by kind",
		}, []string{"kind"}),
		syncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "idp_sync_total",
			Help:      "Identity provider sync attempts by resulting status",
		}, []string{"status"}),
		rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auto_rollbacks_total",
			Help:      "Policies deactivated by the rollback monitor",
		}),
	}
	p.register()
	return p
}

func (p *Prom) register() {
	p.once.Do(func() {
		prometheus.MustRegister(p.evaluations, p.evalLatency, p.mutations, p.conflicts, p.syncs, p.rollbacks)
	})
}

func (p *Prom) IncEvaluation(policyType, outcome string) {
	p.evaluations.WithLabelValues(policyType, outcome).Inc()
}

func (p *Prom) ObserveEvaluation(durationSeconds float64) {
	p.evalLatency.Observe(durationSeconds)
}

func (p *Prom) IncMutation(action string) {
	p.mutations.WithLabelValues(action).Inc()
}

func (p *Prom) SetConflicts(kind string, n int) {
	p.conflicts.WithLabelValues(kind).Set(float64(n))
}

func (p *Prom) IncSync(status string) {
	p.syncs.WithLabelValues(status).Inc()
}

func (p *Prom) IncRollback() {
	p.rollbacks.Inc()
}

// Handler returns an HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

type gatewayProm struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	once     sync.Once
}

// NewGatewayProm constructs a GatewayMetrics with counters/histograms.
func NewGatewayProm(namespace string) GatewayMetrics {
	g := &gatewayProm{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method/route/status",
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method/route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	g.once.Do(func() {
		prometheus.MustRegister(g.requests, g.latency)
	})
	return g
}

func (g *gatewayProm) ObserveRequest(method, route, status string, durationSeconds float64) {
	g.requests.WithLabelValues(method, route, status).Inc()
	g.latency.WithLabelValues(method, route).Observe(durationSeconds)
}
