package analyze

import (
	"context"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callinsight-server/pkg/llm"
	"callinsight-server/pkg/stt"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type fakeCompleter struct {
	response string
	err      error
	calls    int
	last     llm.CompletionRequest
}

func (f *fakeCompleter) Complete(ctx context.Context, req llm.CompletionRequest) (string, error) {
	f.calls++
	f.last = req
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func TestAnalyzePassesThroughModelOutput(t *testing.T) {
	completer := &fakeCompleter{response: `{
		"sentiment": {"label": "positive", "score": 0.9},
		"topics": ["billing", "refund", "shipping"],
		"actionItems": ["Send refund confirmation", "Follow up next week"],
		"summary": "Customer requested a refund and got one."
	}`}
	analyzer := NewTextAnalyzer(testLogger(), completer, "gpt-4o-mini")

	analysis, err := analyzer.Analyze(context.Background(), stt.Transcript{Text: "refund conversation", Language: "en"})
	require.NoError(t, err)

	assert.Equal(t, "positive", analysis.Sentiment.Label)
	assert.Equal(t, 0.9, analysis.Sentiment.Score)
	assert.Equal(t, []string{"billing", "refund", "shipping"}, analysis.Topics)
	assert.Len(t, analysis.ActionItems, 2)
	assert.Equal(t, float32(0), completer.last.Temperature)
	assert.True(t, completer.last.JSONMode)
}

func TestAnalyzeUnparseableOutputDegradesToNeutral(t *testing.T) {
	completer := &fakeCompleter{response: "The customer sounded happy overall."}
	analyzer := NewTextAnalyzer(testLogger(), completer, "gpt-4o-mini")

	analysis, err := analyzer.Analyze(context.Background(), stt.Transcript{Text: "We discussed billing issues today"})
	require.NoError(t, err)

	assert.Equal(t, "neutral", analysis.Sentiment.Label)
	assert.Equal(t, 0.5, analysis.Sentiment.Score)
	assert.Equal(t, "The customer sounded happy overall.", analysis.Summary)
	assert.GreaterOrEqual(t, len(analysis.Topics), 3, "topics should be backfilled heuristically")
	assert.GreaterOrEqual(t, len(analysis.ActionItems), 2)
}

func TestAnalyzeCompletionFailureIsAnError(t *testing.T) {
	completer := &fakeCompleter{err: assert.AnError}
	analyzer := NewTextAnalyzer(testLogger(), completer, "gpt-4o-mini")

	_, err := analyzer.Analyze(context.Background(), stt.Transcript{Text: "anything"})
	assert.Error(t, err)
}

func TestExtractTopicsRanksByFrequency(t *testing.T) {
	topics := ExtractTopics("billing billing billing invoice invoice payment", 5)
	assert.Equal(t, []string{"billing", "invoice", "payment"}, topics)
}

func TestExtractTopicsPadsToThree(t *testing.T) {
	topics := ExtractTopics("alpha alpha beta", 5)
	assert.Equal(t, []string{"alpha", "beta", "beta"}, topics)
}

func TestExtractTopicsDropsStopwordsAndShortTokens(t *testing.T) {
	topics := ExtractTopics("the and for ok hi shipping shipping delays", 5)
	assert.Equal(t, "shipping", topics[0])
	assert.NotContains(t, topics, "the")
	assert.NotContains(t, topics, "ok")
}

func TestExtractTopicsEmptyInput(t *testing.T) {
	topics := ExtractTopics("", 5)
	assert.Equal(t, []string{"conversation", "conversation", "conversation"}, topics)
}

func TestExtractTopicsClampLimit(t *testing.T) {
	text := "one1 two2 three3 four4 five5 six6 seven7 eight8"
	assert.Len(t, ExtractTopics(text, 1), 3)
	assert.Len(t, ExtractTopics(text, 10), 6)
}

func TestExtractActionItemsFindsIndicators(t *testing.T) {
	items := ExtractActionItems("I will send the report tomorrow. Please confirm your address. The weather was nice.")
	require.Len(t, items, 2)
	assert.Equal(t, "I will send the report tomorrow", items[0])
	assert.Equal(t, "Please confirm your address", items[1])
}

func TestExtractActionItemsCapsAtFour(t *testing.T) {
	text := "We will do a. We will do b. We will do c. We will do d. We will do e."
	assert.Len(t, ExtractActionItems(text), 4)
}

func TestExtractActionItemsPadsSingleMatch(t *testing.T) {
	items := ExtractActionItems("I will call you back. The sky is blue.")
	require.Len(t, items, 2)
	assert.Equal(t, items[0], items[1])
}

func TestExtractActionItemsCannedDefaults(t *testing.T) {
	items := ExtractActionItems("Nothing actionable was said here.")
	assert.Equal(t, []string{"Follow up on discussion", "Confirm next steps"}, items)
}
