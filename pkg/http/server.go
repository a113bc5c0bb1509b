package http

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"callinsight-server/pkg/analyze"
	"callinsight-server/pkg/config"
	"callinsight-server/pkg/diarize"
	"callinsight-server/pkg/errors"
	"callinsight-server/pkg/metrics"
	"callinsight-server/pkg/pipeline"
	"callinsight-server/pkg/stt"
	"callinsight-server/pkg/version"
)

// Deps are the components the HTTP surface exposes. Any of them may be
// nil when the corresponding provider is not configured; handlers answer
// with a provider-unavailable error in that case.
type Deps struct {
	Transcriber     stt.Provider
	AudioDiarizer   diarize.Strategy
	Pipeline        *pipeline.Pipeline
	TextAnalyzer    *analyze.TextAnalyzer
	SupportAnalyzer *analyze.SupportAnalyzer
	EventHub        *EventHub
}

// Server is the HTTP front end of the analysis pipeline.
type Server struct {
	config     *config.Config
	logger     *logrus.Logger
	httpServer *http.Server
	mux        *http.ServeMux
	deps       Deps
	startTime  time.Time
}

// NewServer creates the HTTP server and registers all routes.
func NewServer(logger *logrus.Logger, cfg *config.Config, deps Deps) *Server {
	server := &Server{
		config:    cfg,
		logger:    logger,
		deps:      deps,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	server.mux = mux

	mux.HandleFunc("/health", server.instrument("/health", server.HealthHandler))
	mux.HandleFunc("/health/live", server.instrument("/health/live", server.LivenessHandler))
	mux.HandleFunc("/health/ready", server.instrument("/health/ready", server.ReadinessHandler))

	mux.HandleFunc("/transcribe", server.instrument("/transcribe", server.TranscribeHandler))
	mux.HandleFunc("/diarize", server.instrument("/diarize", server.DiarizeHandler))
	mux.HandleFunc("/analyze-text", server.instrument("/analyze-text", server.AnalyzeTextHandler))
	mux.HandleFunc("/hybrid", server.instrument("/hybrid", server.HybridHandler))
	mux.HandleFunc("/support-metrics", server.instrument("/support-metrics", server.SupportMetricsHandler))

	if deps.EventHub != nil {
		mux.HandleFunc("/ws/events", deps.EventHub.ServeWS)
		logger.Info("Event WebSocket endpoint registered at /ws/events")
	}

	if cfg.Metrics.Enabled {
		if registry := metrics.GetRegistry(); registry != nil {
			promHandler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{
				EnableOpenMetrics: true,
				Registry:          registry,
			})
			mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Server", version.ServerHeader())
				promHandler.ServeHTTP(w, r)
			})
			logger.Info("Prometheus metrics endpoint enabled at /metrics")
		}
	} else {
		logger.Info("Metrics endpoint disabled")
	}

	server.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return server
}

// statusRecorder captures the response status for request metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// instrument wraps a handler with the Server header and request metrics.
func (s *Server) instrument(path string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", version.ServerHeader())
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next(recorder, r)
		if metrics.HTTPRequestsTotal != nil {
			metrics.HTTPRequestsTotal.WithLabelValues(path, strconv.Itoa(recorder.status)).Inc()
			metrics.HTTPDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())
		}
	}
}

// Start starts the HTTP server in a goroutine.
func (s *Server) Start() {
	s.logger.WithField("port", s.config.Server.Port).Info("Starting HTTP server")

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("HTTP server failed")
		}
	}()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server...")
	return s.httpServer.Shutdown(ctx)
}

// ErrorResponse sends a standardized error response.
func (s *Server) ErrorResponse(w http.ResponseWriter, err error) {
	errors.WriteError(w, err)
	s.logger.WithError(err).Warn("HTTP error response sent")
}
