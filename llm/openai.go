package llm

import (
	"context"
	"errors"

	"bloodtest/analyser-app/core"
	"github.com/sashabaranov/go-openai"
)

const DefaultOpenAIModel = openai.GPT4oMini

type OpenAI struct {
	Client      *openai.Client
	Model       string
	Temperature float32
}

// NewOpenAI builds a chat-completions client. baseURL points it at any
// OpenAI-compatible server.
func NewOpenAI(apiKey, model, baseURL string) (*OpenAI, error) {
	if apiKey == "" && baseURL == "" {
		return nil, errors.New("openai: api key is required (OPENAI_API_KEY)")
	}
	if model == "" {
		model = DefaultOpenAIModel
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAI{Client: openai.NewClientWithConfig(cfg), Model: model}, nil
}

func (o *OpenAI) Generate(ctx context.Context, systemContext string, history []core.ChatContent, input core.LLMInput) (core.LLMOutput, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	if systemContext != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: systemContext})
	}
	for _, content := range history {
		switch content.Role {
		case "user":
			messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: content.Content})
		case "assistant":
			messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content.Content})
		}
	}
	if input.Text != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: input.Text})
	}

	resp, err := o.Client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.Model,
		Messages:    messages,
		Temperature: o.Temperature,
	})
	if err != nil {
		return core.LLMOutput{}, err
	}
	if len(resp.Choices) == 0 {
		return core.LLMOutput{}, errors.New("no response from OpenAI")
	}
	return core.LLMOutput{
		Text: resp.Choices[0].Message.Content,
		Stats: core.Stats{
			InputTokenCount:  int32(resp.Usage.PromptTokens),
			OutputTokenCount: int32(resp.Usage.CompletionTokens),
			TotalTokenCount:  int32(resp.Usage.TotalTokens),
		},
	}, nil
}
