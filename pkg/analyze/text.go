package analyze

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"callinsight-server/pkg/llm"
	"callinsight-server/pkg/stt"
)

// Sentiment is the overall tone of a conversation.
type Sentiment struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// NeutralSentiment is the default when no analysis is available.
func NeutralSentiment() Sentiment {
	return Sentiment{Label: "neutral", Score: 0.5}
}

// TextAnalysis is the insight bundle extracted from one transcript.
type TextAnalysis struct {
	Sentiment   Sentiment `json:"sentiment"`
	Topics      []string  `json:"topics"`
	ActionItems []string  `json:"actionItems"`
	Summary     string    `json:"summary"`
}

// TextAnalyzer extracts sentiment, topics and action items from a
// transcript through a language model, with deterministic heuristic
// enrichment when the model returns empty lists.
type TextAnalyzer struct {
	logger    *logrus.Logger
	completer llm.Completer
	model     string
}

// NewTextAnalyzer creates the analyzer.
func NewTextAnalyzer(logger *logrus.Logger, completer llm.Completer, model string) *TextAnalyzer {
	return &TextAnalyzer{logger: logger, completer: completer, model: model}
}

const analysisSystemPrompt = "You are an expert business analyst who extracts key insights " +
	"from conversation transcripts. Always respond with valid JSON only."

// Analyze runs the model and enriches its output. The only hard failure
// is the completion call itself; unparseable output degrades to a
// neutral result carrying the raw text as summary.
func (a *TextAnalyzer) Analyze(ctx context.Context, transcript stt.Transcript) (TextAnalysis, error) {
	content, err := a.completer.Complete(ctx, llm.CompletionRequest{
		Model:        a.model,
		SystemPrompt: analysisSystemPrompt,
		UserPrompt:   buildAnalysisPrompt(transcript.Text, transcript.Language),
		Temperature:  0,
		MaxTokens:    1000,
		JSONMode:     true,
	})
	if err != nil {
		return TextAnalysis{}, err
	}

	var analysis TextAnalysis
	if parseErr := llm.Parse(content, &analysis); parseErr != nil {
		a.logger.WithError(parseErr).Warn("Analysis output unparseable, using neutral default")
		analysis = TextAnalysis{
			Sentiment: NeutralSentiment(),
			Summary:   content,
		}
	}
	if analysis.Sentiment.Label == "" {
		analysis.Sentiment = NeutralSentiment()
	}

	if len(analysis.Topics) == 0 {
		analysis.Topics = ExtractTopics(transcript.Text, 5)
	}
	if len(analysis.ActionItems) == 0 {
		analysis.ActionItems = ExtractActionItems(transcript.Text)
	}

	a.logger.WithFields(logrus.Fields{
		"sentiment":    analysis.Sentiment.Label,
		"topics":       len(analysis.Topics),
		"action_items": len(analysis.ActionItems),
	}).Info("Text analysis completed")
	return analysis, nil
}

func buildAnalysisPrompt(transcript, language string) string {
	languageContext := map[string]string{
		"en": "English",
		"ru": "Russian",
		"tr": "Turkish",
		"ka": "Georgian",
	}[language]
	if languageContext == "" {
		languageContext = "English"
	}

	return fmt.Sprintf(`Analyze this %s conversation transcript and extract key business insights. Return ONLY a JSON object with this exact structure:

{
  "sentiment": {
    "label": "positive|negative|neutral",
    "score": 0.0-1.0
  },
  "topics": ["topic1", "topic2", "topic3"],
  "actionItems": ["action1", "action2", "action3"],
  "summary": "Brief 1-2 sentence summary of the conversation"
}

Transcript:
%s

Guidelines:
- Extract 3-5 main topics discussed
- Identify 2-4 specific action items or next steps
- Determine overall sentiment and confidence score
- Keep topics and action items concise but descriptive
- If no clear action items, use "Follow up on discussion" or similar
- Respond with valid JSON only, no other text`, languageContext, transcript)
}

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "but": true,
	"not": true, "you": true, "all": true, "can": true, "had": true,
	"her": true, "was": true, "one": true, "our": true, "out": true,
	"has": true, "have": true, "this": true, "that": true, "with": true,
	"they": true, "will": true, "would": true, "there": true, "their": true,
	"what": true, "about": true, "which": true, "when": true, "your": true,
	"just": true, "like": true, "yeah": true, "okay": true, "well": true,
	"know": true, "going": true, "really": true, "think": true, "were": true,
	"been": true, "from": true, "some": true, "them": true, "then": true,
	"than": true, "into": true, "could": true, "also": true, "because": true,
}

// ExtractTopics ranks transcript tokens by frequency as a stand-in for
// model-provided topics. The result always has between 3 and limit
// entries, padding by repeating the last topic when fewer than 3
// distinct tokens qualify.
func ExtractTopics(transcript string, limit int) []string {
	if limit < 3 {
		limit = 3
	} else if limit > 6 {
		limit = 6
	}

	counts := make(map[string]int)
	var order []string
	for _, raw := range strings.Fields(strings.ToLower(transcript)) {
		token := stripNonAlnum(raw)
		if len(token) <= 2 || stopwords[token] {
			continue
		}
		if counts[token] == 0 {
			order = append(order, token)
		}
		counts[token]++
	}

	// Stable ranking: frequency descending, first occurrence breaking ties.
	topics := make([]string, 0, limit)
	for len(topics) < limit && len(order) > 0 {
		best := 0
		for i := 1; i < len(order); i++ {
			if counts[order[i]] > counts[order[best]] {
				best = i
			}
		}
		topics = append(topics, order[best])
		order = append(order[:best], order[best+1:]...)
	}

	if len(topics) == 0 {
		return []string{"conversation", "conversation", "conversation"}
	}
	for len(topics) < 3 {
		topics = append(topics, topics[len(topics)-1])
	}
	return topics
}

func stripNonAlnum(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

var actionIndicators = []string{
	"will", "please", "follow up", "schedule", "send", "call back",
	"next step", "need to", "going to", "let's", "make sure", "confirm",
}

var cannedActionItems = []string{
	"Follow up on discussion",
	"Confirm next steps",
}

// ExtractActionItems scans transcript sentences for action-indicating
// phrases. It returns at most 4 matching sentences and at least 2 items,
// padding with canned defaults or by repeating the last match.
func ExtractActionItems(transcript string) []string {
	var items []string
	for _, sentence := range splitOnSentenceEnd(transcript) {
		lower := strings.ToLower(sentence)
		for _, indicator := range actionIndicators {
			if strings.Contains(lower, indicator) {
				items = append(items, sentence)
				break
			}
		}
		if len(items) == 4 {
			break
		}
	}

	if len(items) == 0 {
		return append([]string(nil), cannedActionItems...)
	}
	for len(items) < 2 {
		items = append(items, items[len(items)-1])
	}
	return items
}

func splitOnSentenceEnd(text string) []string {
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
