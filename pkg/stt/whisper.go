package stt

import (
	"bytes"
	"context"
	goerrors "errors"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"callinsight-server/pkg/audio"
	"callinsight-server/pkg/errors"
)

// DefaultTranscribeModel is used when the caller does not override the
// model per request.
const DefaultTranscribeModel = "gpt-4o-mini-transcribe"

// WhisperProvider transcribes audio through the OpenAI audio API.
type WhisperProvider struct {
	logger       *logrus.Logger
	api          *openai.Client
	defaultModel string
}

// NewWhisperProvider creates the provider. Fails when no API key is
// configured so the misconfiguration surfaces at startup.
func NewWhisperProvider(logger *logrus.Logger, apiKey, defaultModel string) (*WhisperProvider, error) {
	if apiKey == "" {
		return nil, errors.NewProviderUnavailable("OPENAI_API_KEY is not set",
			map[string]interface{}{"hint": "set OPENAI_API_KEY in the environment"})
	}
	if defaultModel == "" {
		defaultModel = DefaultTranscribeModel
	}
	return &WhisperProvider{
		logger:       logger,
		api:          openai.NewClient(apiKey),
		defaultModel: defaultModel,
	}, nil
}

// Name returns the provider name.
func (p *WhisperProvider) Name() string {
	return "openai-whisper"
}

// Transcribe sends the audio blob to the transcription endpoint.
func (p *WhisperProvider) Transcribe(ctx context.Context, blob audio.Blob, opts TranscribeOptions) (Transcript, error) {
	if blob.Empty() {
		return Transcript{}, errors.NewInvalidInput("no audio provided")
	}

	language := opts.Language
	if language == "" {
		language = "en"
	}
	model := opts.Model
	if model == "" {
		model = p.defaultModel
	}

	resp, err := p.api.CreateTranscription(ctx, openai.AudioRequest{
		Model:    model,
		FilePath: blob.Name(),
		Reader:   bytes.NewReader(blob.Data),
		Language: language,
	})
	if err != nil {
		p.logger.WithError(err).WithFields(logrus.Fields{
			"model":    model,
			"language": language,
		}).Warn("Whisper transcription failed")

		var apiErr *openai.APIError
		if goerrors.As(err, &apiErr) {
			return Transcript{}, errors.Wrap(errors.ErrProviderRejected, "transcription request failed",
				map[string]interface{}{
					"status":  apiErr.HTTPStatusCode,
					"details": apiErr.Message,
				})
		}
		return Transcript{}, errors.Wrap(errors.ErrProviderUnavailable, "transcription provider unreachable",
			map[string]interface{}{"cause": err.Error()})
	}

	p.logger.WithFields(logrus.Fields{
		"model":    model,
		"language": language,
		"chars":    len(resp.Text),
	}).Info("Transcription completed")

	return Transcript{Text: resp.Text, Language: language}, nil
}
