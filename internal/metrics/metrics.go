// ABOUTME: Prometheus metrics for the concierge engine
// ABOUTME: Counters and histograms around batching, pipeline decisions and generation

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every collector the engine reports.
type Metrics struct {
	BatchesProcessed  *prometheus.CounterVec
	BatchFragments    prometheus.Histogram
	BatchWaitSeconds  prometheus.Histogram
	PipelineDecisions *prometheus.CounterVec
	PipelineDuration  prometheus.Histogram
	Handoffs          *prometheus.CounterVec
	GenerateAttempts  prometheus.Counter
	GenerateFailures  prometheus.Counter
	GenerateTokens    prometheus.Counter
	StallingMessages  prometheus.Counter
}

// New creates and registers the engine's collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BatchesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "concierge_batches_processed_total",
			Help: "Batches run through the pipeline, by outcome.",
		}, []string{"outcome"}),
		BatchFragments: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "concierge_batch_fragments",
			Help:    "Number of message fragments merged per batch.",
			Buckets: []float64{1, 2, 3, 5, 8, 13},
		}),
		BatchWaitSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "concierge_batch_wait_seconds",
			Help:    "Time from first fragment to pipeline start.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8),
		}),
		PipelineDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "concierge_pipeline_decisions_total",
			Help: "Terminal pipeline decisions, by stage.",
		}, []string{"stage", "decision"}),
		PipelineDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "concierge_pipeline_duration_seconds",
			Help:    "Wall time of one pipeline run.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		Handoffs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "concierge_handoffs_total",
			Help: "Escalations to human operators, by reason.",
		}, []string{"reason"}),
		GenerateAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "concierge_generate_attempts_total",
			Help: "Model generation attempts including retries.",
		}),
		GenerateFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "concierge_generate_failures_total",
			Help: "Model generation attempts that returned an error.",
		}),
		GenerateTokens: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "concierge_generate_tokens_total",
			Help: "Tokens consumed by successful generations.",
		}),
		StallingMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "concierge_stalling_messages_total",
			Help: "Hold-on messages sent while retrying generation.",
		}),
	}

	reg.MustRegister(
		m.BatchesProcessed,
		m.BatchFragments,
		m.BatchWaitSeconds,
		m.PipelineDecisions,
		m.PipelineDuration,
		m.Handoffs,
		m.GenerateAttempts,
		m.GenerateFailures,
		m.GenerateTokens,
		m.StallingMessages,
	)
	return m
}

// NewNop returns metrics backed by an unregistered registry, for tests
// and for running with metrics disabled.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
