package analyze

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"callinsight-server/pkg/cache"
	"callinsight-server/pkg/errors"
	"callinsight-server/pkg/llm"
)

// SupportMessage is one message of a support conversation as submitted
// by the caller. Only timestamp, sender and text participate in analysis.
type SupportMessage struct {
	Timestamp string `json:"timestamp,omitempty"`
	Sender    string `json:"sender,omitempty"`
	Text      string `json:"text"`
}

// SupportMetrics are the derived support-call KPIs. Every numeric field
// is clamped into its documented range regardless of model output.
type SupportMetrics struct {
	CSAT           float64 `json:"csat"`           // 1.0-5.0, one decimal
	FCR            int     `json:"fcr"`            // 0-100
	AHT            int     `json:"aht"`            // seconds
	ResponseTime   int     `json:"responseTime"`   // seconds, 0-86400
	Transfers      int     `json:"transfers"`      // 0-999
	SentimentScore float64 `json:"sentimentScore"` // 0.0-1.0
	Compliance     int     `json:"compliance"`     // 0-100
}

const (
	maxSupportMessages  = 80
	maxConversationLen  = 12000
	maxCacheKeyLen      = 20000
	truncationMarker    = "\n...(truncated)"
	maxResponseTimeSecs = 24 * 60 * 60
)

// SupportAnalyzer derives support KPIs from a conversation through a
// language model, memoizing results in a bounded LRU keyed by the
// normalized conversation content.
type SupportAnalyzer struct {
	logger       *logrus.Logger
	completer    llm.Completer
	defaultModel string
	cache        *cache.LRU
}

// NewSupportAnalyzer creates the analyzer with an injected cache.
func NewSupportAnalyzer(logger *logrus.Logger, completer llm.Completer, defaultModel string, metricsCache *cache.LRU) *SupportAnalyzer {
	return &SupportAnalyzer{
		logger:       logger,
		completer:    completer,
		defaultModel: defaultModel,
		cache:        metricsCache,
	}
}

const supportRubricPrompt = `You are a support analytics expert. Analyze the following customer support conversation and return ONLY a JSON object with these exact metrics:
{
  "csat": <number 1-5>,
  "fcr": <number 0-100 representing percentage>,
  "aht": <string in format "MM:SS">,
  "responseTime": <number in seconds>,
  "transfers": <number of agent transfers>,
  "sentiment": <number 0-100 representing percentage>,
  "compliance": <number 0-100 representing percentage>
}

Analysis criteria:
- CSAT: Infer customer satisfaction from tone, resolution, and feedback
- FCR: Was the issue completely resolved in this conversation?
- AHT: Calculate total conversation duration from first to last message
- Response Time: Average time agent took to respond to customer
- Transfers: Count how many times conversation was handed between agents
- Sentiment: Overall customer emotional tone (positive=100, negative=0)
- Compliance: Professional language, empathy, policy adherence

Return ONLY the JSON object, no explanation.`

// Analyze validates, normalizes and truncates the message list, then
// returns cached metrics or derives fresh ones from the model. The
// second return value reports whether the result came from the cache.
func (a *SupportAnalyzer) Analyze(ctx context.Context, messages []SupportMessage, model string) (SupportMetrics, bool, error) {
	normalized := normalizeMessages(messages)
	if len(normalized) == 0 {
		return SupportMetrics{}, false, errors.NewInvalidInput("messages array is empty")
	}
	if model == "" {
		model = a.defaultModel
	}

	key := cacheKey(normalized)
	if cached, ok := a.cache.Get(key); ok {
		if metrics, ok := cached.(SupportMetrics); ok {
			a.logger.Debug("Support metrics cache hit")
			return metrics, true, nil
		}
	}

	content, err := a.completer.Complete(ctx, llm.CompletionRequest{
		Model:        model,
		SystemPrompt: supportRubricPrompt,
		UserPrompt:   formatConversation(normalized),
		Temperature:  0,
		MaxTokens:    220,
		JSONMode:     true,
	})
	if err != nil {
		return SupportMetrics{}, false, err
	}

	var raw rawSupportMetrics
	if err := llm.Parse(content, &raw); err != nil {
		return SupportMetrics{}, false, err
	}

	metrics := raw.clamp()
	a.cache.Set(key, metrics)

	a.logger.WithFields(logrus.Fields{
		"csat": metrics.CSAT,
		"fcr":  metrics.FCR,
	}).Info("Support metrics derived")
	return metrics, false, nil
}

// rawSupportMetrics tolerates whatever shapes the model emits; clamping
// turns it into a valid SupportMetrics. Fields are interface{} because
// models occasionally return numbers as strings.
type rawSupportMetrics struct {
	CSAT         interface{} `json:"csat"`
	FCR          interface{} `json:"fcr"`
	AHT          interface{} `json:"aht"`
	ResponseTime interface{} `json:"responseTime"`
	Transfers    interface{} `json:"transfers"`
	Sentiment    interface{} `json:"sentiment"`
	Compliance   interface{} `json:"compliance"`
}

func (r rawSupportMetrics) clamp() SupportMetrics {
	csat := clamp(numberOr(r.CSAT, 1), 1, 5)
	sentimentPct := clamp(numberOr(r.Sentiment, 0), 0, 100)

	return SupportMetrics{
		CSAT:           math.Round(csat*10) / 10,
		FCR:            int(math.Round(clamp(numberOr(r.FCR, 0), 0, 100))),
		AHT:            parseAHTSeconds(r.AHT),
		ResponseTime:   int(math.Round(clamp(numberOr(r.ResponseTime, 0), 0, maxResponseTimeSecs))),
		Transfers:      int(math.Round(clamp(numberOr(r.Transfers, 0), 0, 999))),
		SentimentScore: math.Round(sentimentPct) / 100,
		Compliance:     int(math.Round(clamp(numberOr(r.Compliance, 0), 0, 100))),
	}
}

func numberOr(v interface{}, def float64) float64 {
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return def
		}
		return t
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return def
		}
		return f
	}
	return def
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

var mmssPattern = regexp.MustCompile(`^(\d{1,3}):([0-5]\d)$`)

// parseAHTSeconds accepts either a non-negative number of seconds or an
// "MM:SS" string; anything else yields 0.
func parseAHTSeconds(v interface{}) int {
	switch t := v.(type) {
	case float64:
		if t < 0 || math.IsNaN(t) || math.IsInf(t, 0) {
			return 0
		}
		return int(math.Round(t))
	case string:
		m := mmssPattern.FindStringSubmatch(strings.TrimSpace(t))
		if m == nil {
			return 0
		}
		var minutes, seconds int
		fmt.Sscanf(m[1], "%d", &minutes)
		fmt.Sscanf(m[2], "%d", &seconds)
		return minutes*60 + seconds
	}
	return 0
}

// normalizeMessages keeps only timestamp/sender/text, drops entries with
// empty text and truncates to the first 80 messages.
func normalizeMessages(messages []SupportMessage) []SupportMessage {
	normalized := make([]SupportMessage, 0, len(messages))
	for _, m := range messages {
		text := strings.TrimSpace(m.Text)
		if text == "" {
			continue
		}
		sender := strings.TrimSpace(m.Sender)
		if sender == "" {
			sender = "unknown"
		}
		normalized = append(normalized, SupportMessage{
			Timestamp: strings.TrimSpace(m.Timestamp),
			Sender:    sender,
			Text:      text,
		})
		if len(normalized) == maxSupportMessages {
			break
		}
	}
	return normalized
}

// formatConversation renders messages as numbered lines, truncating
// past the character cap with a marker.
func formatConversation(messages []SupportMessage) string {
	lines := make([]string, 0, len(messages))
	for i, m := range messages {
		ts := ""
		if m.Timestamp != "" {
			ts = "[" + m.Timestamp + "] "
		}
		lines = append(lines, fmt.Sprintf("%d. %s%s: %s", i+1, ts, m.Sender, m.Text))
	}
	out := strings.Join(lines, "\n")
	if len(out) > maxConversationLen {
		out = out[:maxConversationLen] + truncationMarker
	}
	return out
}

// cacheKey is a stable serialization of the normalized message list,
// capped so a pathological conversation cannot blow up key storage.
func cacheKey(messages []SupportMessage) string {
	type keyTuple struct {
		T string `json:"t"`
		S string `json:"s"`
		X string `json:"x"`
	}
	tuples := make([]keyTuple, 0, len(messages))
	for _, m := range messages {
		tuples = append(tuples, keyTuple{T: m.Timestamp, S: m.Sender, X: m.Text})
	}
	raw, _ := json.Marshal(tuples)
	key := string(raw)
	if len(key) > maxCacheKeyLen {
		key = key[:maxCacheKeyLen]
	}
	return key
}
