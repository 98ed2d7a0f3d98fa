// Package observer samples process memory and records judge metrics.
package observer

import (
	"context"
	"time"

	"fujudge/internal/judge/sandbox/result"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsRecorder records judge metrics.
type MetricsRecorder interface {
	ObserveJudge(ctx context.Context, verdict result.Verdict, elapsed time.Duration, peakBytes int64)
	ObserveCheckerFailure(ctx context.Context, checker string)
}

// NoopMetricsRecorder is a default recorder that does nothing.
type NoopMetricsRecorder struct{}

func (NoopMetricsRecorder) ObserveJudge(ctx context.Context, verdict result.Verdict, elapsed time.Duration, peakBytes int64) {
}

func (NoopMetricsRecorder) ObserveCheckerFailure(ctx context.Context, checker string) {}

// PrometheusRecorder exports judge metrics to a Prometheus registry.
type PrometheusRecorder struct {
	verdicts        *prometheus.CounterVec
	duration        *prometheus.HistogramVec
	memory          *prometheus.HistogramVec
	checkerFailures *prometheus.CounterVec
}

// NewPrometheusRecorder registers the judge collectors on reg.
func NewPrometheusRecorder(reg prometheus.Registerer, namespace string) (*PrometheusRecorder, error) {
	if namespace == "" {
		namespace = "fujudge"
	}
	r := &PrometheusRecorder{
		verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "judge",
			Name:      "verdicts_total",
			Help:      "Judged testcases by verdict.",
		}, []string{"verdict"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "judge",
			Name:      "run_seconds",
			Help:      "Wall-clock run time of judged programs.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"verdict"}),
		memory: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "judge",
			Name:      "peak_memory_bytes",
			Help:      "Sampled peak memory of judged programs.",
			Buckets:   prometheus.ExponentialBuckets(1<<20, 2, 12),
		}, []string{"verdict"}),
		checkerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "judge",
			Name:      "checker_failures_total",
			Help:      "Checker invocations that faulted.",
		}, []string{"checker"}),
	}
	for _, c := range []prometheus.Collector{r.verdicts, r.duration, r.memory, r.checkerFailures} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *PrometheusRecorder) ObserveJudge(ctx context.Context, verdict result.Verdict, elapsed time.Duration, peakBytes int64) {
	label := verdict.Short()
	r.verdicts.WithLabelValues(label).Inc()
	r.duration.WithLabelValues(label).Observe(elapsed.Seconds())
	r.memory.WithLabelValues(label).Observe(float64(peakBytes))
}

func (r *PrometheusRecorder) ObserveCheckerFailure(ctx context.Context, checker string) {
	r.checkerFailures.WithLabelValues(checker).Inc()
}
