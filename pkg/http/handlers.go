package http

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"callinsight-server/pkg/analyze"
	"callinsight-server/pkg/audio"
	"callinsight-server/pkg/diarize"
	"callinsight-server/pkg/errors"
	"callinsight-server/pkg/metrics"
	"callinsight-server/pkg/pipeline"
	"callinsight-server/pkg/stt"
)

// maxUploadBytes bounds multipart memory buffering.
const maxUploadBytes = 32 << 20

// TranscribeHandler handles POST /transcribe: multipart audio in, plain
// transcript out. With analyze=true the transcript is additionally run
// through text analysis and the response carries a full analysis result
// with an empty conversation.
func (s *Server) TranscribeHandler(w http.ResponseWriter, r *http.Request) {
	log, ok := s.postOnly(w, r)
	if !ok {
		return
	}
	if s.deps.Transcriber == nil {
		s.ErrorResponse(w, errors.NewProviderUnavailable("transcription provider not configured"))
		return
	}

	blob, err := readAudioBlob(r)
	if err != nil {
		s.ErrorResponse(w, err)
		return
	}
	language := r.FormValue("language")

	transcript, err := s.deps.Transcriber.Transcribe(r.Context(), blob, stt.TranscribeOptions{Language: language})
	if err != nil {
		s.countTranscription("error")
		s.ErrorResponse(w, err)
		return
	}
	s.countTranscription("ok")

	wantAnalysis := r.URL.Query().Get("analyze") == "true" || r.FormValue("analyze") == "true"
	if !wantAnalysis {
		log.WithField("chars", len(transcript.Text)).Info("Transcription completed")
		writeJSON(w, http.StatusOK, map[string]string{"text": transcript.Text})
		return
	}

	result, err := s.analyzeWhisperTranscript(r, transcript)
	if err != nil {
		s.ErrorResponse(w, err)
		return
	}
	log.WithField("provider", result.Provider).Info("Transcription with analysis completed")
	writeJSON(w, http.StatusOK, map[string]interface{}{"analysis": result})
}

// analyzeWhisperTranscript runs text analysis over a fresh transcript
// and assembles a single-path analysis result tagged with the
// transcription provider.
func (s *Server) analyzeWhisperTranscript(r *http.Request, transcript stt.Transcript) (*pipeline.AnalysisResult, error) {
	if s.deps.TextAnalyzer == nil {
		return nil, errors.NewProviderUnavailable("text analyzer not configured")
	}
	analysis, err := s.deps.TextAnalyzer.Analyze(r.Context(), transcript)
	if err != nil {
		analysis = analyze.TextAnalysis{
			Sentiment:   analyze.NeutralSentiment(),
			Topics:      []string{},
			ActionItems: []string{},
		}
	}
	return &pipeline.AnalysisResult{
		Transcript:   transcript.Text,
		Conversation: []diarize.SpeakerTurn{},
		Sentiment:    analysis.Sentiment,
		Topics:       analysis.Topics,
		ActionItems:  analysis.ActionItems,
		Summary:      analysis.Summary,
		Provider:     s.deps.Transcriber.Name(),
	}, nil
}

// DiarizeHandler handles POST /diarize: multipart audio plus optional
// minSpeakers/maxSpeakers form fields, speaker turns out.
func (s *Server) DiarizeHandler(w http.ResponseWriter, r *http.Request) {
	log, ok := s.postOnly(w, r)
	if !ok {
		return
	}
	if s.deps.AudioDiarizer == nil {
		s.ErrorResponse(w, errors.NewProviderUnavailable("audio diarizer not configured"))
		return
	}

	blob, err := readAudioBlob(r)
	if err != nil {
		s.ErrorResponse(w, err)
		return
	}

	minSpeakers := formInt(r, "minSpeakers", s.config.Google.DefaultMinSpeakers)
	maxSpeakers := formInt(r, "maxSpeakers", s.config.Google.DefaultMaxSpeakers)
	if minSpeakers < 1 || maxSpeakers < minSpeakers {
		s.ErrorResponse(w, errors.NewInvalidInput("invalid speaker bounds"))
		return
	}

	turns, err := s.deps.AudioDiarizer.Diarize(r.Context(), diarize.Request{
		Audio:       blob,
		MinSpeakers: minSpeakers,
		MaxSpeakers: maxSpeakers,
	})
	if err != nil {
		if metrics.DiarizationRequests != nil {
			metrics.DiarizationRequests.WithLabelValues(s.deps.AudioDiarizer.Name(), "error").Inc()
		}
		s.ErrorResponse(w, err)
		return
	}
	if metrics.DiarizationRequests != nil {
		metrics.DiarizationRequests.WithLabelValues(s.deps.AudioDiarizer.Name(), "ok").Inc()
	}

	log.WithField("turns", len(turns)).Info("Diarization completed")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"speakers":      turns,
		"totalSpeakers": diarize.TotalSpeakers(turns),
	})
}

// AnalyzeTextHandler handles POST /analyze-text: a JSON transcript in,
// the transcript-path analysis result out.
func (s *Server) AnalyzeTextHandler(w http.ResponseWriter, r *http.Request) {
	log, ok := s.postOnly(w, r)
	if !ok {
		return
	}

	var body struct {
		Transcript string `json:"transcript"`
		Text       string `json:"text"`
		Language   string `json:"language"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.ErrorResponse(w, errors.NewInvalidInput("request body is not valid JSON"))
		return
	}
	text := body.Transcript
	if strings.TrimSpace(text) == "" {
		text = body.Text
	}

	start := time.Now()
	result, err := s.deps.Pipeline.ProcessTranscript(r.Context(), text, body.Language)
	if err != nil {
		s.ErrorResponse(w, err)
		return
	}
	s.countRun("transcript", result.Provider, time.Since(start))

	log.WithFields(logrus.Fields{
		"provider": result.Provider,
		"turns":    len(result.Conversation),
	}).Info("Text analysis completed")
	writeJSON(w, http.StatusOK, map[string]interface{}{"analysis": result})
}

// HybridHandler handles POST /hybrid: multipart audio in, the full
// transcribe-diarize-analyze result out.
func (s *Server) HybridHandler(w http.ResponseWriter, r *http.Request) {
	log, ok := s.postOnly(w, r)
	if !ok {
		return
	}

	blob, err := readAudioBlob(r)
	if err != nil {
		s.ErrorResponse(w, err)
		return
	}
	language := r.FormValue("language")

	start := time.Now()
	result, err := s.deps.Pipeline.ProcessAudio(r.Context(), blob, language)
	if err != nil {
		s.ErrorResponse(w, err)
		return
	}
	s.countRun("audio", result.Provider, time.Since(start))

	log.WithFields(logrus.Fields{
		"provider": result.Provider,
		"turns":    len(result.Conversation),
	}).Info("Hybrid analysis completed")
	writeJSON(w, http.StatusOK, map[string]interface{}{"analysis": result})
}

// SupportMetricsHandler handles POST /support-metrics: a JSON message
// list in, derived KPIs plus a cache flag out.
func (s *Server) SupportMetricsHandler(w http.ResponseWriter, r *http.Request) {
	log, ok := s.postOnly(w, r)
	if !ok {
		return
	}
	if s.deps.SupportAnalyzer == nil {
		s.ErrorResponse(w, errors.NewProviderUnavailable("support analyzer not configured"))
		return
	}

	var body struct {
		Messages []analyze.SupportMessage `json:"messages"`
		Model    string                   `json:"model"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.ErrorResponse(w, errors.NewInvalidInput("request body is not valid JSON"))
		return
	}

	derived, cached, err := s.deps.SupportAnalyzer.Analyze(r.Context(), body.Messages, body.Model)
	if err != nil {
		s.ErrorResponse(w, err)
		return
	}
	if metrics.SupportCacheHits != nil {
		if cached {
			metrics.SupportCacheHits.Inc()
		} else {
			metrics.SupportCacheMisses.Inc()
		}
	}

	log.WithField("cached", cached).Info("Support metrics served")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"metrics": derived,
		"cached":  cached,
	})
}

// postOnly rejects non-POST methods and returns a request-scoped log
// entry carrying a fresh request id.
func (s *Server) postOnly(w http.ResponseWriter, r *http.Request) (*logrus.Entry, bool) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return nil, false
	}
	log := s.logger.WithFields(logrus.Fields{
		"request_id": uuid.New().String(),
		"path":       r.URL.Path,
	})
	return log, true
}

// readAudioBlob pulls the uploaded audio file out of a multipart form.
// Both "audio" and "file" field names are accepted.
func readAudioBlob(r *http.Request) (audio.Blob, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return audio.Blob{}, errors.NewInvalidInput("request is not valid multipart form data")
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		file, header, err = r.FormFile("file")
	}
	if err != nil {
		return audio.Blob{}, errors.NewInvalidInput("audio file is required")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return audio.Blob{}, errors.Wrap(err, "failed to read uploaded audio")
	}
	if len(data) == 0 {
		return audio.Blob{}, errors.NewInvalidInput("audio file is empty")
	}

	return audio.Blob{
		Data:     data,
		MIMEType: header.Header.Get("Content-Type"),
		Filename: header.Filename,
	}, nil
}

func formInt(r *http.Request, key string, def int) int {
	raw := strings.TrimSpace(r.FormValue(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func (s *Server) countTranscription(outcome string) {
	if metrics.TranscriptionRequests != nil && s.deps.Transcriber != nil {
		metrics.TranscriptionRequests.WithLabelValues(s.deps.Transcriber.Name(), outcome).Inc()
	}
}

func (s *Server) countRun(entryPoint, provider string, elapsed time.Duration) {
	if metrics.PipelineRunsTotal == nil {
		return
	}
	metrics.PipelineRunsTotal.WithLabelValues(entryPoint, provider).Inc()
	metrics.PipelineDuration.WithLabelValues(entryPoint).Observe(elapsed.Seconds())
}
