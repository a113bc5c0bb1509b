package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"callinsight-server/pkg/analyze"
	"callinsight-server/pkg/cache"
	"callinsight-server/pkg/config"
	"callinsight-server/pkg/diarize"
	httpserver "callinsight-server/pkg/http"
	"callinsight-server/pkg/llm"
	"callinsight-server/pkg/messaging"
	"callinsight-server/pkg/metrics"
	"callinsight-server/pkg/pipeline"
	"callinsight-server/pkg/security"
	"callinsight-server/pkg/stt"
	"callinsight-server/pkg/version"
)

func main() {
	logger := setupLogger()

	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file found, using environment as-is")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	logger.WithField("version", version.Version).Info("Starting callinsight server")

	if cfg.Metrics.Enabled {
		metrics.Init(logger)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, completer := buildDeps(ctx, logger, cfg)

	var publisher *messaging.Publisher
	sinks := []pipeline.Sink{}
	if deps.EventHub != nil {
		go deps.EventHub.Run(ctx)
		sinks = append(sinks, deps.EventHub)
	}
	if cfg.Messaging.Enabled() {
		publisher = messaging.NewPublisher(logger, messaging.Config{
			URL:          cfg.Messaging.URL,
			ExchangeName: cfg.Messaging.ExchangeName,
			RoutingKey:   cfg.Messaging.RoutingKey,
		})
		if err := publisher.Connect(); err != nil {
			logger.WithError(err).Warn("AMQP broker unreachable, result publishing disabled until reconnect")
		}
		sinks = append(sinks, publisher)
	}

	deps.Pipeline = buildPipeline(logger, cfg, deps, completer, sinks)

	server := httpserver.NewServer(logger, cfg, deps)
	server.Start()

	<-ctx.Done()
	logger.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("HTTP server shutdown failed")
	}
	if publisher != nil {
		publisher.Close()
	}
	logger.Info("Shutdown complete")
}

// buildDeps constructs every provider the configuration enables. A
// missing credential disables its provider instead of failing startup;
// the affected endpoints report provider-unavailable.
func buildDeps(ctx context.Context, logger *logrus.Logger, cfg *config.Config) (httpserver.Deps, llm.Completer) {
	deps := httpserver.Deps{
		EventHub: httpserver.NewEventHub(logger),
	}
	var completer llm.Completer

	if cfg.OpenAI.Enabled() {
		transcriber, err := stt.NewWhisperProvider(logger, cfg.OpenAI.APIKey, cfg.OpenAI.TranscribeModel)
		if err != nil {
			logger.WithError(err).Warn("Whisper provider unavailable")
		} else {
			deps.Transcriber = transcriber
		}

		client, err := llm.NewClient(logger, cfg.OpenAI.APIKey)
		if err != nil {
			logger.WithError(err).Warn("LLM client unavailable")
		} else {
			completer = client
			deps.TextAnalyzer = analyze.NewTextAnalyzer(logger, client, cfg.OpenAI.ChatModel)
			metricsCache := cache.NewLRU(cfg.Cache.MaxEntries, cfg.Cache.TTL)
			deps.SupportAnalyzer = analyze.NewSupportAnalyzer(logger, client, cfg.OpenAI.SupportModel, metricsCache)
		}
	} else {
		logger.Warn("OPENAI_API_KEY not set, transcription and analysis endpoints disabled")
	}

	creds, err := security.ResolveGoogleCredentials(logger)
	if err != nil {
		logger.WithError(err).Warn("Google credentials invalid, audio diarization disabled")
	} else {
		googleDiarizer, err := diarize.NewGoogleDiarizer(ctx, logger, cfg.Google.LanguageCode, cfg.Pipeline.ProviderTimeout, creds.Options...)
		if err != nil {
			logger.WithError(err).Warn("Google diarizer unavailable")
		} else {
			deps.AudioDiarizer = googleDiarizer
		}
	}

	return deps, completer
}

// buildPipeline wires the fallback chains. The Google diarizer leads
// the audio chain when available; AI re-segmentation leads the text
// chain when an LLM is configured. The heuristic closes both chains.
func buildPipeline(logger *logrus.Logger, cfg *config.Config, deps httpserver.Deps, completer llm.Completer, sinks []pipeline.Sink) *pipeline.Pipeline {
	heuristic := diarize.NewHeuristicDiarizer(logger)

	audioChain := []diarize.Strategy{}
	if deps.AudioDiarizer != nil {
		audioChain = append(audioChain, deps.AudioDiarizer)
	}
	audioChain = append(audioChain, heuristic)

	textChain := []diarize.Strategy{}
	if completer != nil {
		textChain = append(textChain, diarize.NewAIDiarizer(logger, completer, cfg.OpenAI.ChatModel))
	}
	textChain = append(textChain, heuristic)

	return pipeline.New(logger, pipeline.Options{
		Transcriber: deps.Transcriber,
		AudioChain:  audioChain,
		TextChain:   textChain,
		Analyzer:    deps.TextAnalyzer,
		MinSpeakers: cfg.Google.DefaultMinSpeakers,
		MaxSpeakers: cfg.Google.DefaultMaxSpeakers,
		Timeout:     cfg.Pipeline.ProviderTimeout,
		Sinks:       sinks,
	})
}

func setupLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)

	switch strings.ToLower(os.Getenv("LOG_FORMAT")) {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	default:
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	level, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}
