package llm

import (
	"context"
	"errors"

	"bloodtest/analyser-app/core"
	"google.golang.org/genai"
)

const DefaultGeminiModel = "gemini-2.0-flash"

type Gemini struct {
	ModelName   string
	Temperature *float32
	client      *genai.Client
}

// NewGemini connects to the Gemini API; baseURL is only set for proxies and tests.
func NewGemini(ctx context.Context, apiKey, modelName, baseURL string) (*Gemini, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: api key is required (GEMINI_API_KEY or GOOGLE_API_KEY)")
	}
	if modelName == "" {
		modelName = DefaultGeminiModel
	}
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cfg.HTTPOptions.BaseURL = baseURL
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return &Gemini{
		ModelName: modelName,
		client:    client,
	}, nil
}

func (g *Gemini) Generate(ctx context.Context, systemContext string, history []core.ChatContent, input core.LLMInput) (core.LLMOutput, error) {
	var contents []*genai.Content
	for _, content := range history {
		switch content.Role {
		case "user":
			contents = append(contents, &genai.Content{Role: "user", Parts: []*genai.Part{{Text: content.Content}}})
		case "assistant":
			contents = append(contents, &genai.Content{Role: "model", Parts: []*genai.Part{{Text: content.Content}}})
		}
	}
	if input.Text != "" {
		contents = append(contents, &genai.Content{Role: "user", Parts: []*genai.Part{{Text: input.Text}}})
	}

	config := &genai.GenerateContentConfig{Temperature: g.Temperature}
	if systemContext != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: systemContext}}}
	}

	result, err := g.client.Models.GenerateContent(ctx, g.ModelName, contents, config)
	if err != nil {
		return core.LLMOutput{}, err
	}

	var stats core.Stats
	if result.UsageMetadata != nil {
		stats.InputTokenCount = result.UsageMetadata.PromptTokenCount
		stats.OutputTokenCount = result.UsageMetadata.CandidatesTokenCount
		stats.TotalTokenCount = result.UsageMetadata.TotalTokenCount
	}
	return core.LLMOutput{Text: result.Text(), Stats: stats}, nil
}
