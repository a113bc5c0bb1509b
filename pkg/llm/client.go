package llm

import (
	"context"
	"math"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"callinsight-server/pkg/errors"
)

// Completer is the chat-completion contract the analysis components
// depend on. Tests substitute a scripted fake.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// CompletionRequest describes a single completion call.
type CompletionRequest struct {
	Model        string
	SystemPrompt string
	UserPrompt   string
	Temperature  float32
	MaxTokens    int
	JSONMode     bool
}

// Client wraps the OpenAI chat-completion API. No retries: fallback
// decisions belong to the caller.
type Client struct {
	logger *logrus.Logger
	api    *openai.Client
}

// NewClient creates a completion client. Fails when no API key is
// configured so the misconfiguration surfaces at startup, not per request.
func NewClient(logger *logrus.Logger, apiKey string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.NewProviderUnavailable("OPENAI_API_KEY is not set",
			map[string]interface{}{"hint": "set OPENAI_API_KEY in the environment"})
	}
	return &Client{
		logger: logger,
		api:    openai.NewClient(apiKey),
	}, nil
}

// Complete performs one chat completion and returns the raw content of
// the first choice.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:       req.Model,
		Temperature: wireTemperature(req.Temperature),
		MaxTokens:   req.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: req.UserPrompt},
		},
	}
	if req.JSONMode {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.api.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		c.logger.WithError(err).WithField("model", req.Model).Warn("Chat completion failed")
		return "", errors.Wrap(errors.ErrProviderRejected, "chat completion failed",
			map[string]interface{}{"model": req.Model, "cause": err.Error()})
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", errors.NewProviderRejected("chat completion returned no content",
			map[string]interface{}{"model": req.Model})
	}
	return resp.Choices[0].Message.Content, nil
}

// wireTemperature maps a requested temperature of 0 to the smallest
// non-zero float32. go-openai tags Temperature with omitempty, so a
// literal 0 never reaches the wire and the API would fall back to its
// 1.0 default.
func wireTemperature(t float32) float32 {
	if t == 0 {
		return math.SmallestNonzeroFloat32
	}
	return t
}
