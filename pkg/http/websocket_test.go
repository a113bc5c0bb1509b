package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callinsight-server/pkg/pipeline"
)

func newHubServer(t *testing.T) (*EventHub, *websocket.Conn, context.CancelFunc) {
	t.Helper()

	hub := NewEventHub(testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r)
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool {
		return hub.ClientCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	return hub, conn, cancel
}

func readEnvelope(t *testing.T, conn *websocket.Conn) eventEnvelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	var env eventEnvelope
	require.NoError(t, json.Unmarshal(payload, &env))
	return env
}

func TestEventHubBroadcastsStageEvents(t *testing.T) {
	hub, conn, cancel := newHubServer(t)
	defer cancel()

	hub.PublishEvent(pipeline.Event{
		RequestID: "req-1",
		Stage:     "transcribing",
		Provider:  "openai-whisper",
		Timestamp: time.Now().UTC(),
	})

	env := readEnvelope(t, conn)
	assert.Equal(t, "stage", env.Type)
	assert.Equal(t, "req-1", env.RequestID)
	assert.Equal(t, "transcribing", env.Stage)
	assert.Equal(t, "openai-whisper", env.Provider)
	assert.Nil(t, env.Result)
}

func TestEventHubBroadcastsResults(t *testing.T) {
	hub, conn, cancel := newHubServer(t)
	defer cancel()

	hub.PublishResult("req-2", &pipeline.AnalysisResult{
		Transcript: "hello there",
		Provider:   "heuristic-diarization",
	})

	env := readEnvelope(t, conn)
	assert.Equal(t, "result", env.Type)
	assert.Equal(t, "req-2", env.RequestID)

	var result pipeline.AnalysisResult
	require.NoError(t, json.Unmarshal(env.Result, &result))
	assert.Equal(t, "heuristic-diarization", result.Provider)
	assert.Equal(t, "hello there", result.Transcript)
}

func TestEventHubShutdownDisconnectsClients(t *testing.T) {
	hub, _, cancel := newHubServer(t)

	cancel()

	assert.Eventually(t, func() bool {
		return !hub.IsRunning() && hub.ClientCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServeWSAfterShutdownClosesConnection(t *testing.T) {
	hub := NewEventHub(testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	require.Eventually(t, func() bool { return hub.IsRunning() }, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.Eventually(t, func() bool { return !hub.IsRunning() }, 2*time.Second, 10*time.Millisecond)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r)
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// The hub is gone, so the server drops the connection immediately
	// instead of parking the handler on the register channel.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
	assert.Zero(t, hub.ClientCount())
}
