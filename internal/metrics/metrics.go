// Package metrics exposes patch and audit counters to Prometheus. The
// Metrics type satisfies both patch.Recorder and webhook.IssueRecorder.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "flowpatch"

// Metrics holds every collector on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	patches       *prometheus.CounterVec
	operations    *prometheus.CounterVec
	patchDuration prometheus.Histogram
	webhookIssues *prometheus.CounterVec
}

// New creates the collectors and registers them, plus the Go runtime and
// process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		patches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "patches_total",
			Help:      "Patch invocations by outcome.",
		}, []string{"outcome"}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Applied patch operations by kind and whether they changed the graph.",
		}, []string{"kind", "changed"}),
		patchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "patch_duration_seconds",
			Help:      "Wall time of one patch invocation, including store round trips.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		webhookIssues: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_issues_total",
			Help:      "Webhook audit findings by severity.",
		}, []string{"severity"}),
	}
	m.registry.MustRegister(
		m.patches, m.operations, m.patchDuration, m.webhookIssues,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// PatchFinished records one patch outcome.
func (m *Metrics) PatchFinished(outcome string, elapsed time.Duration) {
	m.patches.WithLabelValues(outcome).Inc()
	m.patchDuration.Observe(elapsed.Seconds())
}

// OperationApplied records one applied operation.
func (m *Metrics) OperationApplied(kind string, changed bool) {
	m.operations.WithLabelValues(kind, strconv.FormatBool(changed)).Inc()
}

// WebhookIssue records one audit finding.
func (m *Metrics) WebhookIssue(severity string) {
	m.webhookIssues.WithLabelValues(severity).Inc()
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Serve exposes /metrics and /health on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics: serving on %s: %w", addr, err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
