package diarize

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"callinsight-server/pkg/audio"
	"callinsight-server/pkg/stt"
)

// SpeakerTurn is one contiguous utterance attributed to a single speaker.
// Message is always a verbatim span of some transcript, never invented.
type SpeakerTurn struct {
	Speaker   string  `json:"speaker"`
	Message   string  `json:"message"`
	Timestamp string  `json:"timestamp"`
	StartTime float64 `json:"startTime"`
	EndTime   float64 `json:"endTime"`
}

// Request carries everything a diarization strategy may need. Audio-based
// strategies read Audio; text-based ones read Transcript.
type Request struct {
	Audio       audio.Blob
	Transcript  stt.Transcript
	MinSpeakers int
	MaxSpeakers int
}

// Strategy is one link in the ordered fallback chain. The orchestrator
// iterates strategies and stops at the first success, which keeps the
// chain's order and exhaustiveness independently testable.
type Strategy interface {
	// Name identifies the strategy in logs and provider tags.
	Name() string

	// Diarize attempts to produce speaker turns. Any error, including a
	// timeout or a quality-gate rejection, means "try the next strategy".
	Diarize(ctx context.Context, req Request) ([]SpeakerTurn, error)
}

// FormatTimestamp renders a start offset as m:ss. Minutes are not
// zero-padded; seconds are.
func FormatTimestamp(seconds float64) string {
	total := int(seconds)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}

// TotalSpeakers reports the maximum observed 1-based speaker index across
// the turns, or 0 when no numbered speaker label is present.
func TotalSpeakers(turns []SpeakerTurn) int {
	max := 0
	for _, t := range turns {
		if n := speakerIndex(t.Speaker); n > max {
			max = n
		}
	}
	return max
}

func speakerIndex(label string) int {
	fields := strings.Fields(label)
	if len(fields) == 0 {
		return 0
	}
	n, err := strconv.Atoi(fields[len(fields)-1])
	if err != nil || n < 1 {
		return 0
	}
	return n
}

// WholeTranscriptTurn is the last-resort single turn covering the entire
// transcript when every strategy produced nothing usable.
func WholeTranscriptTurn(transcript string) SpeakerTurn {
	return SpeakerTurn{
		Speaker:   "Speaker 1",
		Message:   transcript,
		Timestamp: "00:00",
		StartTime: 0,
		EndTime:   0,
	}
}
