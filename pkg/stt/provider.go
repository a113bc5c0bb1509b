package stt

import (
	"context"

	"callinsight-server/pkg/audio"
)

// Transcript is the verbatim output of a speech-to-text provider. It is
// never paraphrased downstream; diarizers only split it into spans.
type Transcript struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

// TranscribeOptions tune a single transcription call.
type TranscribeOptions struct {
	// Language is a BCP-47-ish code; defaults to "en" when empty.
	Language string

	// Model overrides the provider's default model id.
	Model string
}

// Provider converts raw audio to a transcript. Implementations do not
// retry; the orchestrator owns retry/fallback semantics.
type Provider interface {
	// Name returns the provider name used in logs and provider tags.
	Name() string

	// Transcribe converts the audio blob to text.
	Transcribe(ctx context.Context, blob audio.Blob, opts TranscribeOptions) (Transcript, error)
}
