package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"bloodtest/analyser-app/core"
	ollama "github.com/ollama/ollama/api"
)

const (
	DefaultOllamaHost  = "http://localhost:11434"
	DefaultOllamaModel = "llama3.1"
)

type Ollama struct {
	Client  *ollama.Client
	Model   string
	Options map[string]any
}

func NewOllama(host, model string) (*Ollama, error) {
	if host == "" {
		host = DefaultOllamaHost
	}
	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama host %q: %w", host, err)
	}
	if model == "" {
		model = DefaultOllamaModel
	}
	return &Ollama{
		Client: ollama.NewClient(u, &http.Client{Timeout: 5 * time.Minute}),
		Model:  model,
	}, nil
}

func (o *Ollama) Generate(ctx context.Context, systemContext string, history []core.ChatContent, input core.LLMInput) (core.LLMOutput, error) {
	messages := make([]ollama.Message, 0, len(history)+2)
	if systemContext != "" {
		messages = append(messages, ollama.Message{Role: "system", Content: systemContext})
	}
	for _, content := range history {
		messages = append(messages, ollama.Message{Role: content.Role, Content: content.Content})
	}
	if input.Text != "" {
		messages = append(messages, ollama.Message{Role: "user", Content: input.Text})
	}

	stream := false
	var (
		text strings.Builder
		last ollama.ChatResponse
	)
	err := o.Client.Chat(ctx, &ollama.ChatRequest{
		Model:    o.Model,
		Messages: messages,
		Stream:   &stream,
		Options:  o.Options,
	}, func(resp ollama.ChatResponse) error {
		text.WriteString(resp.Message.Content)
		last = resp
		return nil
	})
	if err != nil {
		return core.LLMOutput{}, err
	}

	return core.LLMOutput{
		Text: text.String(),
		Stats: core.Stats{
			InputTokenCount:  int32(last.PromptEvalCount),
			OutputTokenCount: int32(last.EvalCount),
			TotalTokenCount:  int32(last.PromptEvalCount + last.EvalCount),
		},
	}, nil
}
