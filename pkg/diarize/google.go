package diarize

import (
	"context"
	goerrors "errors"
	"fmt"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"

	"callinsight-server/pkg/errors"
)

// GoogleDiarizer produces speaker turns from audio through the Google
// Speech-to-Text batch API with speaker diarization and word-level time
// offsets enabled.
type GoogleDiarizer struct {
	logger       *logrus.Logger
	client       *speech.Client
	languageCode string
	timeout      time.Duration
}

// wordToken is the provider-neutral view of one recognized word.
type wordToken struct {
	text       string
	speakerTag int
	start      float64
	end        float64
}

// NewGoogleDiarizer creates the diarizer with credentials resolved by the
// caller (pkg/security). languageCode is only used to steer the
// recognizer; transcription itself comes from the STT provider.
func NewGoogleDiarizer(ctx context.Context, logger *logrus.Logger, languageCode string, timeout time.Duration, opts ...option.ClientOption) (*GoogleDiarizer, error) {
	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrProviderUnavailable, "failed to create Google Speech client",
			map[string]interface{}{
				"cause": err.Error(),
				"hint":  "set GOOGLE_APPLICATION_CREDENTIALS_JSON, GOOGLE_CREDENTIALS_BASE64 or GOOGLE_APPLICATION_CREDENTIALS",
			})
	}
	if languageCode == "" {
		languageCode = "en-US"
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &GoogleDiarizer{
		logger:       logger,
		client:       client,
		languageCode: languageCode,
		timeout:      timeout,
	}, nil
}

// Name returns the strategy name.
func (d *GoogleDiarizer) Name() string {
	return "google"
}

// Close releases the underlying gRPC connection.
func (d *GoogleDiarizer) Close() error {
	if d.client == nil {
		return nil
	}
	return d.client.Close()
}

// Diarize implements the Strategy interface over the request's audio.
func (d *GoogleDiarizer) Diarize(ctx context.Context, req Request) ([]SpeakerTurn, error) {
	if req.Audio.Empty() {
		return nil, errors.NewInvalidInput("no audio provided")
	}

	minSpeakers := req.MinSpeakers
	if minSpeakers < 1 {
		minSpeakers = 2
	}
	maxSpeakers := req.MaxSpeakers
	if maxSpeakers < minSpeakers {
		maxSpeakers = minSpeakers
	}

	config := &speechpb.RecognitionConfig{
		EnableAutomaticPunctuation: true,
		LanguageCode:               d.languageCode,
		EnableWordTimeOffsets:      true,
		DiarizationConfig: &speechpb.SpeakerDiarizationConfig{
			EnableSpeakerDiarization: true,
			MinSpeakerCount:          int32(minSpeakers),
			MaxSpeakerCount:          int32(maxSpeakers),
		},
	}
	// MP3 needs an explicit encoding; WAV and the rest let the API infer.
	if req.Audio.IsMP3() {
		config.Encoding = speechpb.RecognitionConfig_MP3
	}

	recognizeCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	resp, err := d.client.Recognize(recognizeCtx, &speechpb.RecognizeRequest{
		Config: config,
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: req.Audio.Data},
		},
	})
	if err != nil {
		if goerrors.Is(err, context.DeadlineExceeded) || recognizeCtx.Err() != nil {
			d.logger.WithField("timeout", d.timeout).Warn("Diarization timed out")
			return nil, errors.Wrap(errors.ErrProviderTimeout, "diarization timed out",
				map[string]interface{}{"timeout": d.timeout.String()})
		}
		d.logger.WithError(err).Warn("Diarization request failed")
		return nil, errors.Wrap(errors.ErrProviderRejected, "diarization request failed",
			map[string]interface{}{"cause": err.Error()})
	}

	turns := turnsFromResponse(resp)
	d.logger.WithFields(logrus.Fields{
		"turns":       len(turns),
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("Diarization completed")
	return turns, nil
}

// turnsFromResponse flattens every recognition result into speaker turns.
func turnsFromResponse(resp *speechpb.RecognizeResponse) []SpeakerTurn {
	var turns []SpeakerTurn
	for _, result := range resp.GetResults() {
		alts := result.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		alt := alts[0]
		if len(alt.GetWords()) == 0 {
			// No word-level timing: emit one turn covering the whole
			// alternative so the transcript is never dropped.
			if alt.GetTranscript() != "" {
				turns = append(turns, SpeakerTurn{
					Speaker:   "Speaker 1",
					Message:   alt.GetTranscript(),
					Timestamp: "00:00",
					StartTime: 0,
					EndTime:   0,
				})
			}
			continue
		}

		words := make([]wordToken, 0, len(alt.GetWords()))
		for _, w := range alt.GetWords() {
			words = append(words, wordToken{
				text:       w.GetWord(),
				speakerTag: int(w.GetSpeakerTag()),
				start:      w.GetStartTime().AsDuration().Seconds(),
				end:        w.GetEndTime().AsDuration().Seconds(),
			})
		}
		turns = append(turns, groupWords(words)...)
	}
	return turns
}

// groupWords merges consecutive words sharing a speaker tag into turns.
// A turn closes when the tag changes and the accumulated message is
// non-empty. Speaker labels are 1-based.
func groupWords(words []wordToken) []SpeakerTurn {
	var turns []SpeakerTurn
	var (
		currentSpeaker string
		currentMessage string
		currentStart   float64
		currentEnd     float64
	)

	for _, w := range words {
		speaker := fmt.Sprintf("Speaker %d", w.speakerTag+1)
		if speaker != currentSpeaker && currentMessage != "" {
			turns = append(turns, SpeakerTurn{
				Speaker:   currentSpeaker,
				Message:   currentMessage,
				Timestamp: FormatTimestamp(currentStart),
				StartTime: currentStart,
				EndTime:   currentEnd,
			})
			currentSpeaker = speaker
			currentMessage = w.text
			currentStart = w.start
			currentEnd = w.end
			continue
		}
		currentSpeaker = speaker
		if currentMessage == "" {
			currentMessage = w.text
			currentStart = w.start
		} else {
			currentMessage += " " + w.text
		}
		currentEnd = w.end
	}

	if currentMessage != "" {
		turns = append(turns, SpeakerTurn{
			Speaker:   currentSpeaker,
			Message:   currentMessage,
			Timestamp: FormatTimestamp(currentStart),
			StartTime: currentStart,
			EndTime:   currentEnd,
		})
	}
	return turns
}
