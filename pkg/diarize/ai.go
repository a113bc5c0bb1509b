package diarize

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"callinsight-server/pkg/errors"
	"callinsight-server/pkg/llm"
)

const aiDiarizationSystemPrompt = "You return ONLY strict JSON that validates. " +
	"Do not paraphrase or add words. Use transcript text verbatim and only split it into turns."

// AIDiarizer re-segments a transcript into speaker turns by prompting a
// language model. The model never transcribes; the prompt restricts it
// to splitting the input text verbatim, and QualityCheck rejects
// degenerate output.
type AIDiarizer struct {
	logger    *logrus.Logger
	completer llm.Completer
	model     string
}

// NewAIDiarizer creates the text re-segmentation strategy.
func NewAIDiarizer(logger *logrus.Logger, completer llm.Completer, model string) *AIDiarizer {
	return &AIDiarizer{logger: logger, completer: completer, model: model}
}

// Name returns the strategy name.
func (d *AIDiarizer) Name() string {
	return "ai"
}

type aiTurn struct {
	Speaker   string  `json:"speaker"`
	Message   string  `json:"message"`
	Timestamp string  `json:"timestamp"`
	StartTime float64 `json:"startTime"`
	EndTime   float64 `json:"endTime"`
}

type aiDiarizationResponse struct {
	Speakers []aiTurn `json:"speakers"`
}

// Diarize implements the Strategy interface over the request's transcript.
// Output that fails the quality gate is reported as an error so the chain
// falls through to the heuristic diarizer.
func (d *AIDiarizer) Diarize(ctx context.Context, req Request) ([]SpeakerTurn, error) {
	text := strings.TrimSpace(req.Transcript.Text)
	if text == "" {
		return nil, errors.NewInvalidInput("transcript is empty")
	}

	content, err := d.completer.Complete(ctx, llm.CompletionRequest{
		Model:        d.model,
		SystemPrompt: aiDiarizationSystemPrompt,
		UserPrompt:   buildSegmentationPrompt(text),
		Temperature:  0,
		MaxTokens:    1200,
		JSONMode:     true,
	})
	if err != nil {
		return nil, err
	}

	var parsed aiDiarizationResponse
	if err := llm.Parse(content, &parsed); err != nil {
		d.logger.WithError(err).Warn("AI diarization returned unparseable output")
		return nil, err
	}

	turns := make([]SpeakerTurn, 0, len(parsed.Speakers))
	for _, t := range parsed.Speakers {
		speaker := t.Speaker
		if speaker == "" {
			speaker = "Speaker 1"
		}
		timestamp := t.Timestamp
		if timestamp == "" {
			timestamp = "0:00"
		}
		turns = append(turns, SpeakerTurn{
			Speaker:   speaker,
			Message:   t.Message,
			Timestamp: timestamp,
			StartTime: t.StartTime,
			EndTime:   t.EndTime,
		})
	}

	if reason, ok := QualityCheck(turns); !ok {
		d.logger.WithFields(logrus.Fields{
			"turns":  len(turns),
			"reason": reason,
		}).Warn("AI diarization output rejected by quality gate")
		return nil, errors.NewMalformedOutput("segmentation output rejected",
			map[string]interface{}{"reason": reason})
	}

	d.logger.WithField("turns", len(turns)).Info("AI diarization completed")
	return turns, nil
}

// QualityCheck judges whether AI-segmented turns are trustworthy. Output
// is rejected when, among at least 6 turns, 80% or more carry a
// missing/zero/placeholder timestamp, or 60% or more carry a message of
// 3 words or fewer. Below 6 turns there is too little to judge, so the
// output is accepted as-is.
func QualityCheck(turns []SpeakerTurn) (string, bool) {
	if len(turns) == 0 {
		return "no turns produced", false
	}
	if len(turns) < 6 {
		return "", true
	}

	placeholder := 0
	short := 0
	for _, t := range turns {
		if isPlaceholderTimestamp(t.Timestamp) {
			placeholder++
		}
		if len(strings.Fields(t.Message)) <= 3 {
			short++
		}
	}

	total := float64(len(turns))
	if float64(placeholder)/total >= 0.8 {
		return fmt.Sprintf("%d of %d turns have placeholder timestamps", placeholder, len(turns)), false
	}
	if float64(short)/total >= 0.6 {
		return fmt.Sprintf("%d of %d turns are 3 words or fewer", short, len(turns)), false
	}
	return "", true
}

func isPlaceholderTimestamp(ts string) bool {
	switch strings.TrimSpace(ts) {
	case "", "—", "-", "0:00", "00:00":
		return true
	}
	return false
}

func buildSegmentationPrompt(transcript string) string {
	return `Instruction: this is a dialogue between more than 1 people. Divide it like a chat between people.

STRICT RULES:
- Use VERBATIM text from the transcript. Do NOT invent, paraphrase, or change wording.
- Each message must be a contiguous span from the transcript; do not reorder.
- Split at natural sentence/phrase boundaries to form short chat turns.
- Alternate speakers sensibly; if unclear, use "Speaker 1" and "Speaker 2".
- Start timestamps at 0:00 and increase; rough estimates are fine.
- Output ONLY JSON with this exact structure, no extra keys or commentary:
{
  "speakers": [
    { "speaker": "Speaker 1|Agent|Customer", "message": "...", "timestamp": "m:ss", "startTime": 0, "endTime": 5 },
    { "speaker": "Speaker 2", "message": "...", "timestamp": "m:ss", "startTime": 5, "endTime": 11 }
  ]
}

Transcript:
` + transcript
}
