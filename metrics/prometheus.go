package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	promNamespace           = "intercept"
	promHandlerSubsystem    = "handler"
	promServeSubsystem      = "serve"
	defaultUnnamedHandlerID = "_unnamed_"
)

// Options for initializing the metrics collection.
type Options struct {
	// Common prefix of the metric names. Defaults to intercept.
	Prefix string

	// Buckets of the histograms. Defaults to prometheus.DefBuckets.
	HistogramBuckets []float64

	// If set, the Go runtime and the process metrics are collected in
	// addition to the interception metrics.
	EnableRuntimeMetrics bool

	// If set, the duration of serving the requests is collected by the
	// handlers returned from Instrument.
	EnableServeMetrics bool

	// The registry to register the metrics with. When not set, a new
	// registry is used.
	PrometheusRegistry *prometheus.Registry
}

// Prometheus implements the Metrics interface of the intercept package.
type Prometheus struct {
	outcomeM  *prometheus.CounterVec
	errorsM   *prometheus.CounterVec
	finalizeM *prometheus.HistogramVec
	serveM    *prometheus.HistogramVec

	opts     Options
	registry *prometheus.Registry
	handler  http.Handler
}

// NewPrometheus returns a new Prometheus metric backend.
func NewPrometheus(opts Options) *Prometheus {
	namespace := promNamespace
	if opts.Prefix != "" {
		namespace = strings.TrimSuffix(opts.Prefix, ".")
	}

	if len(opts.HistogramBuckets) == 0 {
		opts.HistogramBuckets = prometheus.DefBuckets
	}

	outcome := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: promHandlerSubsystem,
		Name:      "responses_total",
		Help:      "The total of responses seen by a handler, by outcome.",
	}, []string{"handler", "outcome"})

	errs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: promHandlerSubsystem,
		Name:      "error_total",
		Help:      "The total of errors contained by a handler, by kind.",
	}, []string{"handler", "kind"})

	finalize := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: promHandlerSubsystem,
		Name:      "finalize_duration_seconds",
		Help:      "Duration in seconds of finalizing an intercepted response.",
		Buckets:   opts.HistogramBuckets,
	}, []string{"handler"})

	serve := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: promServeSubsystem,
		Name:      "duration_seconds",
		Help:      "Duration in seconds of serving a request.",
		Buckets:   opts.HistogramBuckets,
	}, []string{"code", "method"})

	p := &Prometheus{
		outcomeM:  outcome,
		errorsM:   errs,
		finalizeM: finalize,
		serveM:    serve,
		registry:  opts.PrometheusRegistry,
		opts:      opts,
	}

	if p.registry == nil {
		p.registry = prometheus.NewRegistry()
	}

	p.registerMetrics()
	return p
}

func (p *Prometheus) registerMetrics() {
	p.registry.MustRegister(p.outcomeM)
	p.registry.MustRegister(p.errorsM)
	p.registry.MustRegister(p.finalizeM)
	if p.opts.EnableServeMetrics {
		p.registry.MustRegister(p.serveM)
	}

	// Register prometheus runtime collectors if required.
	if p.opts.EnableRuntimeMetrics {
		p.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		p.registry.MustRegister(collectors.NewGoCollector())
	}
}

func handlerID(name string) string {
	if name == "" {
		return defaultUnnamedHandlerID
	}

	return name
}

// sinceS returns the seconds passed since the start time until now.
func (p *Prometheus) sinceS(start time.Time) float64 {
	return time.Since(start).Seconds()
}

// CreateHandler returns a handler serving the collected metrics.
func (p *Prometheus) CreateHandler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

func (p *Prometheus) getHandler() http.Handler {
	if p.handler != nil {
		return p.handler
	}

	p.handler = p.CreateHandler()
	return p.handler
}

// RegisterHandler registers the metrics handler on the mux, under path.
func (p *Prometheus) RegisterHandler(path string, mux *http.ServeMux) {
	mux.Handle(path, p.getHandler())
}

// Instrument returns next measuring the duration of serving the
// requests. When the serve metrics are disabled, it returns next.
func (p *Prometheus) Instrument(next http.Handler) http.Handler {
	if !p.opts.EnableServeMetrics {
		return next
	}

	return promhttp.InstrumentHandlerDuration(p.serveM, next)
}

// IncOutcome satisfies the intercept.Metrics interface.
func (p *Prometheus) IncOutcome(handler, outcome string) {
	p.outcomeM.WithLabelValues(handlerID(handler), outcome).Inc()
}

// IncError satisfies the intercept.Metrics interface.
func (p *Prometheus) IncError(handler, kind string) {
	p.errorsM.WithLabelValues(handlerID(handler), kind).Inc()
}

// MeasureFinalize satisfies the intercept.Metrics interface.
func (p *Prometheus) MeasureFinalize(handler string, start time.Time) {
	p.finalizeM.WithLabelValues(handlerID(handler)).Observe(p.sinceS(start))
}
