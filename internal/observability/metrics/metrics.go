package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Stage outcome labels.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Swap outcome labels.
const (
	SwapSuccess = "success"
	SwapFailed  = "failed"
	SwapPartial = "partial"
)

// Collector owns the process registry and every pipeline metric. A nil
// *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	runs          *prometheus.CounterVec
	stages        *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	swaps         *prometheus.CounterVec
	inFlight      prometheus.Gauge
}

// New creates a collector backed by a private registry with Go runtime and
// process collectors attached.
func New() *Collector {
	registry := prometheus.NewRegistry()
	c := &Collector{
		registry: registry,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentd_http_requests_total",
			Help: "Total number of HTTP requests processed.",
		}, []string{"handler", "method", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentd_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"handler", "method"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_runs_total",
			Help: "Agent runs by final result.",
		}, []string{"result"}),
		stages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_stage_total",
			Help: "Pipeline stages by outcome.",
		}, []string{"stage", "status"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agent_stage_duration_seconds",
			Help:    "Pipeline stage duration in seconds.",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 20, 40, 60},
		}, []string{"stage"}),
		swaps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_swaps_total",
			Help: "Swap executions by result.",
		}, []string{"result"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agent_runs_in_flight",
			Help: "Agent runs currently executing.",
		}),
	}
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.httpRequests,
		c.httpDuration,
		c.runs,
		c.stages,
		c.stageDuration,
		c.swaps,
		c.inFlight,
	)
	return c
}

// Registry exposes the underlying registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func (c *Collector) ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	if c == nil {
		return
	}
	c.httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	c.httpDuration.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// ObserveRun counts a finished agent run.
func (c *Collector) ObserveRun(success bool) {
	if c == nil {
		return
	}
	result := "failed"
	if success {
		result = "success"
	}
	c.runs.WithLabelValues(result).Inc()
}

// ObserveStage counts a finished pipeline stage and its duration.
func (c *Collector) ObserveStage(stage string, err error, duration time.Duration) {
	if c == nil {
		return
	}
	status := StatusOK
	if err != nil {
		status = StatusError
	}
	c.stages.WithLabelValues(stage, status).Inc()
	c.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// ObserveSwap counts a swap execution outcome.
func (c *Collector) ObserveSwap(result string) {
	if c == nil {
		return
	}
	c.swaps.WithLabelValues(result).Inc()
}

// RunStarted and RunFinished track in-flight runs.
func (c *Collector) RunStarted() {
	if c != nil {
		c.inFlight.Inc()
	}
}

func (c *Collector) RunFinished() {
	if c != nil {
		c.inFlight.Dec()
	}
}

// Handler exposes the metrics in Prometheus text exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// StartServer launches a standalone HTTP server exposing the /metrics endpoint.
func StartServer(ctx context.Context, addr string, handler http.Handler) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
