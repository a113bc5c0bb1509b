package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
)

var (
	registry     *prometheus.Registry
	registryOnce sync.Once

	// Pipeline metrics
	PipelineRunsTotal     *prometheus.CounterVec
	PipelineDuration      *prometheus.HistogramVec
	PipelineFallbacks     *prometheus.CounterVec
	TranscriptionRequests *prometheus.CounterVec
	DiarizationRequests   *prometheus.CounterVec
	AnalysisRequests      *prometheus.CounterVec

	// Support metrics cache
	SupportCacheHits   prometheus.Counter
	SupportCacheMisses prometheus.Counter

	// HTTP metrics
	HTTPRequestsTotal *prometheus.CounterVec
	HTTPDuration      *prometheus.HistogramVec
)

// Init initializes all metrics and registers them with Prometheus.
func Init(logger *logrus.Logger) {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()

		PipelineRunsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callinsight_pipeline_runs_total",
				Help: "Total pipeline runs by entry point and provider tag",
			},
			[]string{"entry_point", "provider"},
		)

		PipelineDuration = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "callinsight_pipeline_duration_seconds",
				Help:    "Wall-clock duration of pipeline runs",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
			},
			[]string{"entry_point"},
		)

		PipelineFallbacks = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callinsight_pipeline_fallbacks_total",
				Help: "Fallback activations by diarization strategy",
			},
			[]string{"strategy"},
		)

		TranscriptionRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callinsight_transcription_requests_total",
				Help: "Transcription provider calls by outcome",
			},
			[]string{"provider", "outcome"},
		)

		DiarizationRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callinsight_diarization_requests_total",
				Help: "Diarization strategy calls by outcome",
			},
			[]string{"strategy", "outcome"},
		)

		AnalysisRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callinsight_analysis_requests_total",
				Help: "Text analysis calls by outcome",
			},
			[]string{"outcome"},
		)

		SupportCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "callinsight_support_cache_hits_total",
			Help: "Support metrics cache hits",
		})

		SupportCacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "callinsight_support_cache_misses_total",
			Help: "Support metrics cache misses",
		})

		HTTPRequestsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callinsight_http_requests_total",
				Help: "HTTP requests by path and status class",
			},
			[]string{"path", "status"},
		)

		HTTPDuration = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "callinsight_http_request_duration_seconds",
				Help:    "HTTP request duration",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
			},
			[]string{"path"},
		)

		registry.MustRegister(
			PipelineRunsTotal,
			PipelineDuration,
			PipelineFallbacks,
			TranscriptionRequests,
			DiarizationRequests,
			AnalysisRequests,
			SupportCacheHits,
			SupportCacheMisses,
			HTTPRequestsTotal,
			HTTPDuration,
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)

		logger.Info("Prometheus metrics registered")
	})
}

// GetRegistry returns the metrics registry, or nil before Init.
func GetRegistry() *prometheus.Registry {
	return registry
}
