// Package llm adapts the OpenAI chat completion API to the chat completer.
package llm

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/nika/server/internal/chat"
)

const defaultModel = openai.GPT3Dot5Turbo

// OpenAI is a chat.Completer backed by the OpenAI API
type OpenAI struct {
	client *openai.Client
	model  string
}

// NewOpenAI creates a completer for apiKey and model
func NewOpenAI(apiKey, model string) *OpenAI {
	return NewOpenAIWithConfig(openai.DefaultConfig(apiKey), model)
}

// NewOpenAIWithConfig creates a completer from a client config, e.g. to
// point it at a proxy or a test server
func NewOpenAIWithConfig(cfg openai.ClientConfig, model string) *OpenAI {
	if model == "" {
		model = defaultModel
	}
	return &OpenAI{client: openai.NewClientWithConfig(cfg), model: model}
}

var _ chat.Completer = (*OpenAI)(nil)

// Complete returns the first choice of a chat completion over turns
func (o *OpenAI) Complete(ctx context.Context, turns []chat.Turn) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(turns))
	for _, t := range turns {
		messages = append(messages, openai.ChatCompletionMessage{Role: t.Role, Content: t.Content})
	}

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    o.model,
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("create chat completion: no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}
