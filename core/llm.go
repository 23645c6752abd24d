package core

import "context"

type LLMInput struct {
	RunID  string
	Agent  string
	Text   string
	Labels map[string]string
}

type LLMOutput struct {
	Text  string
	Stats Stats
}

type Stats struct {
	InputTokenCount  int32 `json:"input_token_count,omitempty"`
	OutputTokenCount int32 `json:"output_token_count,omitempty"`
	TotalTokenCount  int32 `json:"total_token_count,omitempty"`
	ModelCalls       int32 `json:"model_calls,omitempty"`
}

func (s *Stats) Add(other Stats) {
	s.InputTokenCount += other.InputTokenCount
	s.OutputTokenCount += other.OutputTokenCount
	s.TotalTokenCount += other.TotalTokenCount
	s.ModelCalls += other.ModelCalls
}

type ChatContent struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func NewContent(role string, content string) ChatContent {
	return ChatContent{
		Role:    role,
		Content: content,
	}
}

// LLM is the language-model capability an agent reasons with. Generate must be
// safe for concurrent use; history holds the prior turns of the current step
// with roles "user" and "assistant".
type LLM interface {
	Generate(ctx context.Context, systemContext string, history []ChatContent, input LLMInput) (LLMOutput, error)
}
