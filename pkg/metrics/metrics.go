// Package metrics exposes run metrics in the Prometheus format: backend call
// counts and latency, poll outcomes, and flow and test results.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/devicelab-dev/pixelmon-runner/pkg/core"
	"github.com/devicelab-dev/pixelmon-runner/pkg/logger"
	"github.com/devicelab-dev/pixelmon-runner/pkg/poll"
	"github.com/devicelab-dev/pixelmon-runner/pkg/report"
)

const namespace = "pixelmon"

// Recorder collects metrics for one run. It implements askui.Observer and
// executor.Observer.
type Recorder struct {
	registry *prometheus.Registry

	backendCalls   *prometheus.CounterVec
	backendLatency *prometheus.HistogramVec
	pollOutcomes   *prometheus.CounterVec
	pollAttempts   prometheus.Histogram
	flowResults    *prometheus.CounterVec
	flowDuration   prometheus.Histogram
	testResults    *prometheus.CounterVec
	runInfo        *prometheus.GaugeVec
}

// New creates a Recorder on its own registry, labelled with the run.
func New(runID, driver string) *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		backendCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "backend_calls_total",
				Help:      "Automation backend calls by operation and outcome",
			},
			[]string{"op", "outcome"},
		),
		backendLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "backend_call_duration_seconds",
				Help:      "Duration of automation backend calls",
				Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
			},
			[]string{"op"},
		),
		pollOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "poll_outcomes_total",
				Help:      "Bounded polls by outcome",
			},
			[]string{"outcome"},
		),
		pollAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_attempts",
			Help:      "Attempts used per poll",
			Buckets:   prometheus.LinearBuckets(1, 1, 10),
		}),
		flowResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "flows_total",
				Help:      "Flows by final status",
			},
			[]string{"status"},
		),
		flowDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flow_duration_seconds",
			Help:      "Duration of flows",
			Buckets:   prometheus.ExponentialBuckets(5, 2, 9),
		}),
		testResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tests_total",
				Help:      "Test cases by final status",
			},
			[]string{"status"},
		),
		runInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "run_info",
				Help:      "Identifies the run these metrics belong to",
			},
			[]string{"run_id", "driver"},
		),
	}

	r.registry.MustRegister(
		r.backendCalls, r.backendLatency,
		r.pollOutcomes, r.pollAttempts,
		r.flowResults, r.flowDuration,
		r.testResults, r.runInfo,
	)
	r.runInfo.WithLabelValues(runID, driver).Set(1)
	return r
}

// Registry returns the registry the metrics are registered on.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveCall records one backend call.
func (r *Recorder) ObserveCall(op string, d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = core.CategoryOf(err).String()
	}
	r.backendCalls.WithLabelValues(op, outcome).Inc()
	r.backendLatency.WithLabelValues(op).Observe(d.Seconds())
}

// ObservePoll records how a poll ended.
func (r *Recorder) ObservePoll(outcome poll.Outcome, attempts int) {
	r.pollOutcomes.WithLabelValues(outcome.String()).Inc()
	r.pollAttempts.Observe(float64(attempts))
}

// ObserveFlow records a finished flow.
func (r *Recorder) ObserveFlow(status report.Status, d time.Duration) {
	r.flowResults.WithLabelValues(string(status)).Inc()
	if status != report.StatusSkipped {
		r.flowDuration.Observe(d.Seconds())
	}
}

// ObserveTest records a finished test case.
func (r *Recorder) ObserveTest(status report.Status, _ time.Duration) {
	r.testResults.WithLabelValues(string(status)).Inc()
}

// Handler serves /metrics and /healthz.
func (r *Recorder) Handler() http.Handler {
	router := chi.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{}))
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("ok"))
	})
	return router
}

// Serve exposes the handler on addr until ctx is done.
func (r *Recorder) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics server listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// WriteTextfile writes the current metrics in the node-exporter textfile
// format.
func (r *Recorder) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.registry)
}
