package stt

import (
	"context"

	"callinsight-server/pkg/audio"
)

// MockProvider is a scripted provider for tests.
type MockProvider struct {
	// TranscriptText is returned on success.
	TranscriptText string

	// Err, when set, is returned instead.
	Err error

	// Calls counts Transcribe invocations.
	Calls int
}

// Name returns the provider name.
func (m *MockProvider) Name() string {
	return "mock"
}

// Transcribe returns the scripted transcript or error.
func (m *MockProvider) Transcribe(ctx context.Context, blob audio.Blob, opts TranscribeOptions) (Transcript, error) {
	m.Calls++
	if m.Err != nil {
		return Transcript{}, m.Err
	}
	language := opts.Language
	if language == "" {
		language = "en"
	}
	return Transcript{Text: m.TranscriptText, Language: language}, nil
}
