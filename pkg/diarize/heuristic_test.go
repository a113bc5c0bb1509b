package diarize

import (
	"context"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callinsight-server/pkg/errors"
	"callinsight-server/pkg/stt"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestHeuristicSplitAlternatesEveryTwoSentences(t *testing.T) {
	d := NewHeuristicDiarizer(testLogger())

	turns := d.Split("Hello there. How can I help? I need support. My order failed.")
	require.Len(t, turns, 4)

	assert.Equal(t, "Speaker 1", turns[0].Speaker)
	assert.Equal(t, "Speaker 1", turns[1].Speaker)
	assert.Equal(t, "Speaker 2", turns[2].Speaker)
	assert.Equal(t, "Speaker 2", turns[3].Speaker)

	assert.Equal(t, "Hello there", turns[0].Message)
	assert.Equal(t, "How can I help", turns[1].Message)
	assert.Equal(t, "I need support", turns[2].Message)
	assert.Equal(t, "My order failed", turns[3].Message)
}

func TestHeuristicTurnsAreBackToBack(t *testing.T) {
	d := NewHeuristicDiarizer(testLogger())

	turns := d.Split("Hello there. How can I help? I need support. My order failed.")
	require.Len(t, turns, 4)

	// Every sentence here is short, so every duration floors at 2s.
	assert.Equal(t, 0.0, turns[0].StartTime)
	for i, turn := range turns {
		assert.Equal(t, turn.StartTime+2, turn.EndTime)
		if i > 0 {
			assert.Equal(t, turns[i-1].EndTime, turn.StartTime)
		}
	}
	assert.Equal(t, "0:00", turns[0].Timestamp)
	assert.Equal(t, "0:02", turns[1].Timestamp)
	assert.Equal(t, "0:04", turns[2].Timestamp)
	assert.Equal(t, "0:06", turns[3].Timestamp)
}

func TestHeuristicDurationScalesWithLength(t *testing.T) {
	d := NewHeuristicDiarizer(testLogger())

	long := "This sentence is deliberately much longer than twenty characters total."
	turns := d.Split(long + " Short one here. Another one follows now.")
	require.NotEmpty(t, turns)

	expected := float64(len(long)-1) * 0.1 // trailing period is the separator
	assert.InDelta(t, expected, turns[0].EndTime-turns[0].StartTime, 0.0001)
}

func TestHeuristicCollapsesTwoTurnsToSingleSpeaker(t *testing.T) {
	d := NewHeuristicDiarizer(testLogger())

	turns := d.Split("Hello everyone. Goodbye for now.")
	require.Len(t, turns, 2)
	assert.Equal(t, "Speaker 1", turns[0].Speaker)
	assert.Equal(t, "Speaker 1", turns[1].Speaker)
}

func TestHeuristicDropsShortSentences(t *testing.T) {
	d := NewHeuristicDiarizer(testLogger())

	turns := d.Split("Hi. Ok. This is the only real sentence in here.")
	require.Len(t, turns, 1)
	assert.Equal(t, "This is the only real sentence in here", turns[0].Message)
}

func TestHeuristicIsDeterministic(t *testing.T) {
	d := NewHeuristicDiarizer(testLogger())
	input := "First sentence here. Second sentence here. Third sentence here. Fourth sentence here."

	first := d.Split(input)
	second := d.Split(input)
	assert.Equal(t, first, second)
}

func TestHeuristicDiarizeRejectsEmptyTranscript(t *testing.T) {
	d := NewHeuristicDiarizer(testLogger())

	_, err := d.Diarize(context.Background(), Request{Transcript: stt.Transcript{Text: "   "}})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidInput)
}

func TestFormatTimestamp(t *testing.T) {
	assert.Equal(t, "0:00", FormatTimestamp(0))
	assert.Equal(t, "0:05", FormatTimestamp(5.9))
	assert.Equal(t, "1:05", FormatTimestamp(65))
	assert.Equal(t, "10:00", FormatTimestamp(600))
}

func TestTotalSpeakers(t *testing.T) {
	turns := []SpeakerTurn{
		{Speaker: "Speaker 1"},
		{Speaker: "Speaker 3"},
		{Speaker: "Speaker 2"},
	}
	assert.Equal(t, 3, TotalSpeakers(turns))
	assert.Equal(t, 0, TotalSpeakers(nil))
	assert.Equal(t, 0, TotalSpeakers([]SpeakerTurn{{Speaker: "Agent"}}))
}
