// Package llm exposes the two narrow language-model calls the voice runtime
// needs: a yes/no classification and composing a short operational message.
// The wider chat pipeline lives elsewhere and is not this package's concern.
package llm

import (
	"context"
	"fmt"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"
)

// Client is the narrow LLM surface used by the voice runtime.
type Client interface {
	// ClassifyYesNo runs one short classification call and returns the raw
	// model output for contract parsing by the caller.
	ClassifyYesNo(ctx context.Context, system, user string) (string, error)

	// Compose produces a short operational message from a prompt, returning
	// fallback verbatim on any failure. It never returns an error: operator
	// messaging must not break control flow.
	Compose(ctx context.Context, prompt, fallback string) string
}

// OpenAIClient implements Client over the chat completions API.
type OpenAIClient struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

func NewOpenAIClient(apiKey, model string, logger *slog.Logger) *OpenAIClient {
	if model == "" {
		model = openai.GPT4oMini
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAIClient{
		client: openai.NewClient(apiKey),
		model:  model,
		logger: logger,
	}
}

func (c *OpenAIClient) ClassifyYesNo(ctx context.Context, system, user string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		MaxTokens:   8,
		Temperature: 0,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		return "", fmt.Errorf("classify call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("classify call: empty response")
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *OpenAIClient) Compose(ctx context.Context, prompt, fallback string) string {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     c.model,
		MaxTokens: 120,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil || len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		if err != nil {
			c.logger.Warn("compose call failed, using fallback", slog.String("error", err.Error()))
		}
		return fallback
	}
	return resp.Choices[0].Message.Content
}
