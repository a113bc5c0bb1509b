package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callinsight-server/pkg/analyze"
	"callinsight-server/pkg/cache"
	"callinsight-server/pkg/config"
	"callinsight-server/pkg/diarize"
	"callinsight-server/pkg/errors"
	"callinsight-server/pkg/llm"
	"callinsight-server/pkg/pipeline"
	"callinsight-server/pkg/stt"
)

type scriptedCompleter struct{ response string }

func (s *scriptedCompleter) Complete(ctx context.Context, req llm.CompletionRequest) (string, error) {
	return s.response, nil
}

func newStubSupportAnalyzer() *analyze.SupportAnalyzer {
	completer := &scriptedCompleter{response: `{"csat": 4, "fcr": 80, "aht": "02:00", "responseTime": 30, "transfers": 0, "sentiment": 70, "compliance": 90}`}
	return analyze.NewSupportAnalyzer(testLogger(), completer, "gpt-4o-mini", cache.NewLRU(16, time.Minute))
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Port:         0,
			ReadTimeout:  time.Second,
			WriteTimeout: time.Second,
			IdleTimeout:  time.Second,
		},
		Google: config.GoogleConfig{
			DefaultMinSpeakers: 2,
			DefaultMaxSpeakers: 4,
		},
	}
}

func newTestServer(deps Deps) *Server {
	if deps.Pipeline == nil {
		deps.Pipeline = pipeline.New(testLogger(), pipeline.Options{
			Transcriber: deps.Transcriber,
			TextChain:   []diarize.Strategy{diarize.NewHeuristicDiarizer(testLogger())},
		})
	}
	return NewServer(testLogger(), testConfig(), deps)
}

func audioForm(t *testing.T, field string) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile(field, "call.mp3")
	require.NoError(t, err)
	_, err = part.Write([]byte("fake-mp3-bytes"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	return &body, writer.FormDataContentType()
}

func TestTranscribeReturnsText(t *testing.T) {
	server := newTestServer(Deps{Transcriber: &stt.MockProvider{TranscriptText: "hello from the call"}})

	body, contentType := audioForm(t, "audio")
	req := httptest.NewRequest(http.MethodPost, "/transcribe", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	server.TranscribeHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "hello from the call", resp["text"])
}

func TestTranscribeAcceptsFileField(t *testing.T) {
	server := newTestServer(Deps{Transcriber: &stt.MockProvider{TranscriptText: "ok"}})

	body, contentType := audioForm(t, "file")
	req := httptest.NewRequest(http.MethodPost, "/transcribe", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	server.TranscribeHandler(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTranscribeMissingFileIs400(t *testing.T) {
	server := newTestServer(Deps{Transcriber: &stt.MockProvider{}})

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	require.NoError(t, writer.WriteField("language", "en"))
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/transcribe", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	server.TranscribeHandler(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "error")
}

func TestTranscribeWithoutProviderIs500(t *testing.T) {
	server := newTestServer(Deps{})

	body, contentType := audioForm(t, "audio")
	req := httptest.NewRequest(http.MethodPost, "/transcribe", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	server.TranscribeHandler(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestTranscribeProviderRejectionIs502(t *testing.T) {
	server := newTestServer(Deps{Transcriber: &stt.MockProvider{Err: errors.NewProviderRejected("upstream said no")}})

	body, contentType := audioForm(t, "audio")
	req := httptest.NewRequest(http.MethodPost, "/transcribe", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	server.TranscribeHandler(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestTranscribeRejectsGet(t *testing.T) {
	server := newTestServer(Deps{Transcriber: &stt.MockProvider{}})

	req := httptest.NewRequest(http.MethodGet, "/transcribe", nil)
	rec := httptest.NewRecorder()
	server.TranscribeHandler(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, http.MethodPost, rec.Header().Get("Allow"))
}

func TestDiarizeWithoutDiarizerIs500(t *testing.T) {
	server := newTestServer(Deps{})

	body, contentType := audioForm(t, "audio")
	req := httptest.NewRequest(http.MethodPost, "/diarize", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	server.DiarizeHandler(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

type stubDiarizer struct {
	turns   []diarize.SpeakerTurn
	lastReq diarize.Request
}

func (s *stubDiarizer) Name() string { return "stub" }

func (s *stubDiarizer) Diarize(ctx context.Context, req diarize.Request) ([]diarize.SpeakerTurn, error) {
	s.lastReq = req
	return s.turns, nil
}

func TestDiarizeReturnsSpeakers(t *testing.T) {
	diarizer := &stubDiarizer{turns: []diarize.SpeakerTurn{
		{Speaker: "Speaker 1", Message: "hello", Timestamp: "0:00"},
		{Speaker: "Speaker 2", Message: "hi", Timestamp: "0:02"},
	}}
	server := newTestServer(Deps{AudioDiarizer: diarizer})

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("audio", "call.wav")
	require.NoError(t, err)
	_, err = part.Write([]byte("wav-bytes"))
	require.NoError(t, err)
	require.NoError(t, writer.WriteField("minSpeakers", "1"))
	require.NoError(t, writer.WriteField("maxSpeakers", "3"))
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/diarize", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	server.DiarizeHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Speakers      []diarize.SpeakerTurn `json:"speakers"`
		TotalSpeakers int                   `json:"totalSpeakers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Speakers, 2)
	assert.Equal(t, 2, resp.TotalSpeakers)
	assert.Equal(t, 1, diarizer.lastReq.MinSpeakers)
	assert.Equal(t, 3, diarizer.lastReq.MaxSpeakers)
}

func TestDiarizeRejectsBadSpeakerBounds(t *testing.T) {
	server := newTestServer(Deps{AudioDiarizer: &stubDiarizer{}})

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("audio", "call.wav")
	require.NoError(t, err)
	_, err = part.Write([]byte("wav-bytes"))
	require.NoError(t, err)
	require.NoError(t, writer.WriteField("minSpeakers", "5"))
	require.NoError(t, writer.WriteField("maxSpeakers", "2"))
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/diarize", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	server.DiarizeHandler(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnalyzeTextReturnsAnalysis(t *testing.T) {
	server := newTestServer(Deps{})

	payload := `{"transcript":"Hello there. How can I help? I need support. My order failed.","language":"en"}`
	req := httptest.NewRequest(http.MethodPost, "/analyze-text", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	server.AnalyzeTextHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Analysis pipeline.AnalysisResult `json:"analysis"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "heuristic-diarization", resp.Analysis.Provider)
	assert.Len(t, resp.Analysis.Conversation, 4)
}

func TestAnalyzeTextMissingTranscriptIs400(t *testing.T) {
	server := newTestServer(Deps{})

	req := httptest.NewRequest(http.MethodPost, "/analyze-text", strings.NewReader(`{"language":"en"}`))
	rec := httptest.NewRecorder()
	server.AnalyzeTextHandler(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnalyzeTextBadJSONIs400(t *testing.T) {
	server := newTestServer(Deps{})

	req := httptest.NewRequest(http.MethodPost, "/analyze-text", strings.NewReader("{nope"))
	rec := httptest.NewRecorder()
	server.AnalyzeTextHandler(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSupportMetricsWithoutAnalyzerIs500(t *testing.T) {
	server := newTestServer(Deps{})

	req := httptest.NewRequest(http.MethodPost, "/support-metrics", strings.NewReader(`{"messages":[{"text":"hi"}]}`))
	rec := httptest.NewRecorder()
	server.SupportMetricsHandler(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestSupportMetricsEmptyMessagesIs400(t *testing.T) {
	server := newTestServer(Deps{SupportAnalyzer: newStubSupportAnalyzer()})

	req := httptest.NewRequest(http.MethodPost, "/support-metrics", strings.NewReader(`{"messages":[]}`))
	rec := httptest.NewRecorder()
	server.SupportMetricsHandler(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSupportMetricsReturnsMetricsAndCacheFlag(t *testing.T) {
	server := newTestServer(Deps{SupportAnalyzer: newStubSupportAnalyzer()})

	payload := `{"messages":[{"sender":"customer","text":"where is my order"},{"sender":"agent","text":"it ships today"}]}`

	req := httptest.NewRequest(http.MethodPost, "/support-metrics", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	server.SupportMetricsHandler(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var first struct {
		Metrics analyze.SupportMetrics `json:"metrics"`
		Cached  bool                   `json:"cached"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))
	assert.False(t, first.Cached)
	assert.Equal(t, 4.0, first.Metrics.CSAT)

	req = httptest.NewRequest(http.MethodPost, "/support-metrics", strings.NewReader(payload))
	rec = httptest.NewRecorder()
	server.SupportMetricsHandler(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var second struct {
		Cached bool `json:"cached"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))
	assert.True(t, second.Cached)
}

func TestHealthEndpoints(t *testing.T) {
	server := newTestServer(Deps{Transcriber: &stt.MockProvider{}})

	rec := httptest.NewRecorder()
	server.LivenessHandler(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	server.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadinessFailsWithoutTranscriber(t *testing.T) {
	server := newTestServer(Deps{})

	rec := httptest.NewRecorder()
	server.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestTranscribeWithAnalysisReturnsResultEnvelope(t *testing.T) {
	completer := &scriptedCompleter{response: `{"sentiment":{"label":"positive","score":0.9},` +
		`"topics":["orders","shipping","billing"],` +
		`"actionItems":["Send tracking link","Confirm refund"],` +
		`"summary":"Customer asked about a delayed order."}`}
	server := newTestServer(Deps{
		Transcriber:  &stt.MockProvider{TranscriptText: "hello from the call"},
		TextAnalyzer: analyze.NewTextAnalyzer(testLogger(), completer, "gpt-4o-mini"),
	})

	body, contentType := audioForm(t, "audio")
	req := httptest.NewRequest(http.MethodPost, "/transcribe?analyze=true", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	server.TranscribeHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp struct {
		Analysis pipeline.AnalysisResult `json:"analysis"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "mock", resp.Analysis.Provider)
	assert.Equal(t, "hello from the call", resp.Analysis.Transcript)
	assert.Empty(t, resp.Analysis.Conversation)
	assert.Equal(t, "Customer asked about a delayed order.", resp.Analysis.Summary)
}

func TestAnalyzeTextCarriesSummary(t *testing.T) {
	completer := &scriptedCompleter{response: `{"sentiment":{"label":"negative","score":0.3},` +
		`"topics":["orders"],"actionItems":["Escalate the order issue"],` +
		`"summary":"Customer reported a failed order."}`}
	server := newTestServer(Deps{Pipeline: pipeline.New(testLogger(), pipeline.Options{
		TextChain: []diarize.Strategy{diarize.NewHeuristicDiarizer(testLogger())},
		Analyzer:  analyze.NewTextAnalyzer(testLogger(), completer, "gpt-4o-mini"),
	})})

	payload := `{"transcript":"Hello there. How can I help? I need support. My order failed.","language":"en"}`
	req := httptest.NewRequest(http.MethodPost, "/analyze-text", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	server.AnalyzeTextHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Analysis pipeline.AnalysisResult `json:"analysis"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Customer reported a failed order.", resp.Analysis.Summary)
}
