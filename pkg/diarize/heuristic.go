package diarize

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"callinsight-server/pkg/errors"
)

// HeuristicDiarizer splits a transcript into alternating-speaker turns on
// sentence boundaries. It is fully deterministic and makes no external
// calls, which makes it the terminal fallback in every chain.
type HeuristicDiarizer struct {
	logger *logrus.Logger
}

// NewHeuristicDiarizer creates the heuristic fallback diarizer.
func NewHeuristicDiarizer(logger *logrus.Logger) *HeuristicDiarizer {
	return &HeuristicDiarizer{logger: logger}
}

// Name returns the strategy name.
func (d *HeuristicDiarizer) Name() string {
	return "heuristic"
}

// Diarize implements the Strategy interface over the request's transcript.
func (d *HeuristicDiarizer) Diarize(ctx context.Context, req Request) ([]SpeakerTurn, error) {
	text := strings.TrimSpace(req.Transcript.Text)
	if text == "" {
		return nil, errors.NewInvalidInput("transcript is empty")
	}
	turns := d.Split(text)
	d.logger.WithField("turns", len(turns)).Debug("Heuristic diarization completed")
	return turns, nil
}

// Split performs the actual segmentation:
//   - sentences are split on . ! ? and sentences under 3 characters dropped
//   - speakers alternate every 2 sentences, starting at Speaker 1
//   - each turn's duration is max(0.1 x sentence length, 2) seconds and
//     turns are laid back-to-back from time 0
//   - when the result has 2 turns or fewer, all turns collapse to
//     "Speaker 1": too little material to attribute multiple speakers
func (d *HeuristicDiarizer) Split(transcript string) []SpeakerTurn {
	sentences := splitSentences(transcript)

	var turns []SpeakerTurn
	speaker := 1
	offset := 0.0

	for i, sentence := range sentences {
		if len(sentence) < 3 {
			continue
		}
		if i > 0 && i%2 == 0 {
			if speaker == 1 {
				speaker = 2
			} else {
				speaker = 1
			}
		}

		duration := float64(len(sentence)) * 0.1
		if duration < 2 {
			duration = 2
		}

		turns = append(turns, SpeakerTurn{
			Speaker:   fmt.Sprintf("Speaker %d", speaker),
			Message:   sentence,
			Timestamp: FormatTimestamp(offset),
			StartTime: offset,
			EndTime:   offset + duration,
		})
		offset += duration
	}

	if len(turns) <= 2 {
		for i := range turns {
			turns[i].Speaker = "Speaker 1"
		}
	}
	return turns
}

func splitSentences(text string) []string {
	var sentences []string
	var b strings.Builder
	for _, r := range text {
		switch r {
		case '.', '!', '?':
			if s := strings.TrimSpace(b.String()); s != "" {
				sentences = append(sentences, s)
			}
			b.Reset()
		default:
			b.WriteRune(r)
		}
	}
	if s := strings.TrimSpace(b.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}
