package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Option configures a Collector.
type Option func(*options)

type options struct {
	namespace string
	buckets   []float64
}

func WithNamespace(ns string) Option {
	return func(o *options) { o.namespace = ns }
}

// WithBuckets overrides latency histogram buckets (seconds).
func WithBuckets(b ...float64) Option {
	return func(o *options) {
		if len(b) > 0 {
			o.buckets = b
		}
	}
}

// Collector records lifecycle outcomes into a private registry.
type Collector struct {
	registry *prometheus.Registry

	checkouts     *prometheus.CounterVec
	verifications *prometheus.CounterVec
	cancellations *prometheus.CounterVec
	grants        *prometheus.CounterVec
	procCalls     *prometheus.CounterVec
	procLatency   *prometheus.HistogramVec
	httpRequests  *prometheus.CounterVec
	httpLatency   *prometheus.HistogramVec
}

func New(opts ...Option) *Collector {
	o := options{namespace: "paycore", buckets: prometheus.DefBuckets}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Collector{
		registry: prometheus.NewRegistry(),
		checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: o.namespace,
			Name:      "checkout_sessions_total",
			Help:      "Checkout session attempts by outcome.",
		}, []string{"outcome"}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: o.namespace,
			Name:      "intent_verifications_total",
			Help:      "Intent verifications by resulting intent status.",
		}, []string{"status"}),
		cancellations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: o.namespace,
			Name:      "subscription_cancellations_total",
			Help:      "Subscription cancellations by mode and outcome.",
		}, []string{"mode", "outcome"}),
		grants: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: o.namespace,
			Name:      "promotion_grants_total",
			Help:      "Promotional grant attempts; result is created or existing.",
		}, []string{"result"}),
		procCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: o.namespace,
			Name:      "processor_calls_total",
			Help:      "Outbound payment processor calls by operation and status.",
		}, []string{"operation", "status"}),
		procLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: o.namespace,
			Name:      "processor_call_duration_seconds",
			Help:      "Latency of outbound payment processor calls.",
			Buckets:   o.buckets,
		}, []string{"operation"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: o.namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status_code"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: o.namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   o.buckets,
		}, []string{"method", "route"}),
	}

	c.registry.MustRegister(
		c.checkouts, c.verifications, c.cancellations, c.grants,
		c.procCalls, c.procLatency, c.httpRequests, c.httpLatency,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return c
}

// Registry exposes the underlying registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) CheckoutCreated(outcome string) {
	c.checkouts.WithLabelValues(outcome).Inc()
}

func (c *Collector) IntentVerified(status string) {
	c.verifications.WithLabelValues(status).Inc()
}

func (c *Collector) SubscriptionCancelled(mode, outcome string) {
	c.cancellations.WithLabelValues(mode, outcome).Inc()
}

func (c *Collector) PromotionGranted(created bool) {
	result := "existing"
	if created {
		result = "created"
	}
	c.grants.WithLabelValues(result).Inc()
}

func (c *Collector) ProcessorCall(operation string, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.procCalls.WithLabelValues(operation, status).Inc()
	c.procLatency.WithLabelValues(operation).Observe(d.Seconds())
}

// Middleware records request metrics labelled with the matched chi route
// pattern so path parameters do not explode label cardinality.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		c.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		c.httpLatency.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
