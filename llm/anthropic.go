package llm

import (
	"context"
	"errors"
	"strings"

	"bloodtest/analyser-app/core"
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	DefaultAnthropicModel     = anthropic.ModelClaudeSonnet4_20250514
	defaultAnthropicMaxTokens = 4096
)

type Anthropic struct {
	Client      anthropic.Client
	Model       anthropic.Model
	MaxTokens   int64
	Temperature *float64
}

func NewAnthropic(apiKey, model, baseURL string) (*Anthropic, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: api key is required (ANTHROPIC_API_KEY)")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	m := anthropic.Model(model)
	if model == "" {
		m = DefaultAnthropicModel
	}
	return &Anthropic{
		Client:    anthropic.NewClient(opts...),
		Model:     m,
		MaxTokens: defaultAnthropicMaxTokens,
	}, nil
}

func (a *Anthropic) Generate(ctx context.Context, systemContext string, history []core.ChatContent, input core.LLMInput) (core.LLMOutput, error) {
	messages := make([]anthropic.MessageParam, 0, len(history)+1)
	for _, content := range history {
		switch content.Role {
		case "user":
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(content.Content)))
		case "assistant":
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(content.Content)))
		}
	}
	if input.Text != "" {
		messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(input.Text)))
	}

	params := anthropic.MessageNewParams{
		Model:     a.Model,
		MaxTokens: a.MaxTokens,
		Messages:  messages,
	}
	if systemContext != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemContext}}
	}
	if a.Temperature != nil {
		params.Temperature = anthropic.Float(*a.Temperature)
	}

	msg, err := a.Client.Messages.New(ctx, params)
	if err != nil {
		return core.LLMOutput{}, err
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			b.WriteString(tb.Text)
		}
	}
	return core.LLMOutput{
		Text: b.String(),
		Stats: core.Stats{
			InputTokenCount:  int32(msg.Usage.InputTokens),
			OutputTokenCount: int32(msg.Usage.OutputTokens),
			TotalTokenCount:  int32(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}, nil
}
