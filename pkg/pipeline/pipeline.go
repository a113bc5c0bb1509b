package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"callinsight-server/pkg/analyze"
	"callinsight-server/pkg/audio"
	"callinsight-server/pkg/diarize"
	"callinsight-server/pkg/errors"
	"callinsight-server/pkg/metrics"
	"callinsight-server/pkg/stt"
)

// AnalysisResult is the unified output of one pipeline run. Provider
// records which path produced the result; the tag is stable and distinct
// per path so tests and dashboards can tell fallbacks apart.
type AnalysisResult struct {
	Transcript   string                `json:"transcript"`
	Conversation []diarize.SpeakerTurn `json:"conversation"`
	Sentiment    analyze.Sentiment     `json:"sentiment"`
	Topics       []string              `json:"topics"`
	ActionItems  []string              `json:"actionItems"`
	Summary      string                `json:"summary"`
	Duration     *float64              `json:"duration,omitempty"`
	Provider     string                `json:"provider"`
}

// Event is a progress notification emitted as a run moves through its
// stages.
type Event struct {
	RequestID string    `json:"request_id"`
	Stage     string    `json:"stage"`
	Provider  string    `json:"provider,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Sink receives pipeline progress events and completed results. Sinks
// must not block; slow consumers drop rather than stall a run.
type Sink interface {
	PublishEvent(event Event)
	PublishResult(requestID string, result *AnalysisResult)
}

// Pipeline orchestrates transcription, diarization and analysis with an
// explicit ordered fallback chain per entry point.
type Pipeline struct {
	logger      *logrus.Logger
	transcriber stt.Provider
	audioChain  []diarize.Strategy
	textChain   []diarize.Strategy
	analyzer    *analyze.TextAnalyzer
	minSpeakers int
	maxSpeakers int
	timeout     time.Duration
	sinks       []Sink
}

// Options configure a Pipeline.
type Options struct {
	Transcriber stt.Provider
	// AudioChain is tried in order for audio requests; the first strategy
	// to succeed wins. Typically [google, heuristic].
	AudioChain []diarize.Strategy
	// TextChain is tried in order for transcript-only requests.
	// Typically [ai, heuristic].
	TextChain   []diarize.Strategy
	Analyzer    *analyze.TextAnalyzer
	MinSpeakers int
	MaxSpeakers int
	// Timeout bounds each provider call. Defaults to 60s.
	Timeout time.Duration
	Sinks   []Sink
}

// New creates a Pipeline.
func New(logger *logrus.Logger, opts Options) *Pipeline {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	minSpeakers := opts.MinSpeakers
	if minSpeakers < 1 {
		minSpeakers = 2
	}
	maxSpeakers := opts.MaxSpeakers
	if maxSpeakers < minSpeakers {
		maxSpeakers = minSpeakers
	}
	return &Pipeline{
		logger:      logger,
		transcriber: opts.Transcriber,
		audioChain:  opts.AudioChain,
		textChain:   opts.TextChain,
		analyzer:    opts.Analyzer,
		minSpeakers: minSpeakers,
		maxSpeakers: maxSpeakers,
		timeout:     timeout,
		sinks:       opts.Sinks,
	}
}

// Provider tags per diarization strategy and entry point.
var (
	audioPathTags = map[string]string{
		"google":    "hybrid-whisper-google",
		"heuristic": "hybrid-whisper-heuristic",
	}
	textPathTags = map[string]string{
		"ai":        "ai-diarization",
		"heuristic": "heuristic-diarization",
	}
)

// ProcessAudio runs the full hybrid path: transcribe, diarize with
// fallback, analyze, assemble.
func (p *Pipeline) ProcessAudio(ctx context.Context, blob audio.Blob, language string) (*AnalysisResult, error) {
	if p.transcriber == nil {
		return nil, errors.NewProviderUnavailable("no transcription provider configured")
	}
	runID := uuid.New().String()
	log := p.logger.WithField("run_id", runID)

	// Step 1: transcribe. Failure here is terminal: with no transcript
	// there is nothing for any fallback to work on.
	p.emit(Event{RequestID: runID, Stage: "transcribing", Provider: p.transcriber.Name(), Timestamp: time.Now()})
	transcribeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	transcript, err := p.transcriber.Transcribe(transcribeCtx, blob, stt.TranscribeOptions{Language: language})
	cancel()
	if err != nil {
		log.WithError(err).Warn("Transcription failed")
		p.emit(Event{RequestID: runID, Stage: "failed", Detail: "transcription failed", Timestamp: time.Now()})
		return nil, errors.Wrap(err, "transcription failed")
	}
	if strings.TrimSpace(transcript.Text) == "" {
		log.Warn("Transcription produced empty text")
		p.emit(Event{RequestID: runID, Stage: "failed", Detail: "empty transcript", Timestamp: time.Now()})
		return nil, errors.NewNoTranscript("no transcript generated")
	}

	// Step 2: diarize through the ordered audio chain.
	req := diarize.Request{
		Audio:       blob,
		Transcript:  transcript,
		MinSpeakers: p.minSpeakers,
		MaxSpeakers: p.maxSpeakers,
	}
	turns, strategyName := p.runChain(ctx, runID, p.audioChain, req)

	tag := audioPathTags[strategyName]
	if len(turns) == 0 {
		turns = []diarize.SpeakerTurn{diarize.WholeTranscriptTurn(transcript.Text)}
		tag = "hybrid-whisper-single"
	}

	// Step 3: analyze.
	analysis := p.analyzeTranscript(ctx, runID, transcript)

	result := assemble(transcript.Text, turns, analysis, tag)
	log.WithFields(logrus.Fields{
		"provider": result.Provider,
		"turns":    len(result.Conversation),
	}).Info("Pipeline run completed")
	p.emit(Event{RequestID: runID, Stage: "completed", Provider: result.Provider, Timestamp: time.Now()})
	p.publishResult(runID, result)
	return result, nil
}

// ProcessTranscript runs the transcript-only path: AI re-segmentation
// with quality gating, heuristic fallback, then analysis.
func (p *Pipeline) ProcessTranscript(ctx context.Context, text, language string) (*AnalysisResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.NewInvalidInput("transcript is required")
	}
	runID := uuid.New().String()
	log := p.logger.WithField("run_id", runID)

	transcript := stt.Transcript{Text: text, Language: language}
	req := diarize.Request{
		Transcript:  transcript,
		MinSpeakers: p.minSpeakers,
		MaxSpeakers: p.maxSpeakers,
	}
	turns, strategyName := p.runChain(ctx, runID, p.textChain, req)

	tag := textPathTags[strategyName]
	if len(turns) == 0 {
		turns = []diarize.SpeakerTurn{diarize.WholeTranscriptTurn(text)}
		tag = "transcript-single"
	}

	analysis := p.analyzeTranscript(ctx, runID, transcript)

	result := assemble(text, turns, analysis, tag)
	log.WithFields(logrus.Fields{
		"provider": result.Provider,
		"turns":    len(result.Conversation),
	}).Info("Transcript run completed")
	p.emit(Event{RequestID: runID, Stage: "completed", Provider: result.Provider, Timestamp: time.Now()})
	p.publishResult(runID, result)
	return result, nil
}

// runChain tries each strategy in order and stops at the first success.
// Every failure, timeouts included, just moves to the next link.
func (p *Pipeline) runChain(ctx context.Context, runID string, chain []diarize.Strategy, req diarize.Request) ([]diarize.SpeakerTurn, string) {
	for _, strategy := range chain {
		p.emit(Event{RequestID: runID, Stage: "diarizing", Provider: strategy.Name(), Timestamp: time.Now()})

		strategyCtx, cancel := context.WithTimeout(ctx, p.timeout)
		turns, err := strategy.Diarize(strategyCtx, req)
		cancel()
		if err != nil {
			p.logger.WithError(err).WithFields(logrus.Fields{
				"run_id":   runID,
				"strategy": strategy.Name(),
			}).Warn("Diarization strategy failed, trying next")
			countFallback(strategy.Name())
			continue
		}
		if len(turns) == 0 {
			countFallback(strategy.Name())
			continue
		}
		return turns, strategy.Name()
	}
	return nil, ""
}

// analyzeTranscript never fails a run: a dead analyzer degrades to
// neutral defaults with empty topic and action lists.
func (p *Pipeline) analyzeTranscript(ctx context.Context, runID string, transcript stt.Transcript) analyze.TextAnalysis {
	p.emit(Event{RequestID: runID, Stage: "analyzing", Timestamp: time.Now()})

	if p.analyzer == nil {
		return analyze.TextAnalysis{
			Sentiment:   analyze.NeutralSentiment(),
			Topics:      []string{},
			ActionItems: []string{},
		}
	}

	analyzeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	analysis, err := p.analyzer.Analyze(analyzeCtx, transcript)
	if err != nil {
		p.logger.WithError(err).WithField("run_id", runID).Warn("Text analysis failed, using defaults")
		countAnalysis("error")
		return analyze.TextAnalysis{
			Sentiment:   analyze.NeutralSentiment(),
			Topics:      []string{},
			ActionItems: []string{},
		}
	}
	countAnalysis("ok")
	return analysis
}

func countFallback(strategy string) {
	if metrics.PipelineFallbacks != nil {
		metrics.PipelineFallbacks.WithLabelValues(strategy).Inc()
	}
}

func countAnalysis(outcome string) {
	if metrics.AnalysisRequests != nil {
		metrics.AnalysisRequests.WithLabelValues(outcome).Inc()
	}
}

func assemble(transcript string, turns []diarize.SpeakerTurn, analysis analyze.TextAnalysis, tag string) *AnalysisResult {
	result := &AnalysisResult{
		Transcript:   transcript,
		Conversation: turns,
		Sentiment:    analysis.Sentiment,
		Topics:       analysis.Topics,
		ActionItems:  analysis.ActionItems,
		Summary:      analysis.Summary,
		Provider:     tag,
	}
	if result.Topics == nil {
		result.Topics = []string{}
	}
	if result.ActionItems == nil {
		result.ActionItems = []string{}
	}
	if len(turns) > 0 {
		maxEnd := 0.0
		for _, t := range turns {
			if t.EndTime > maxEnd {
				maxEnd = t.EndTime
			}
		}
		result.Duration = &maxEnd
	}
	return result
}

func (p *Pipeline) emit(event Event) {
	for _, sink := range p.sinks {
		sink.PublishEvent(event)
	}
}

func (p *Pipeline) publishResult(runID string, result *AnalysisResult) {
	for _, sink := range p.sinks {
		sink.PublishResult(runID, result)
	}
}
