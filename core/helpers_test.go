package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

// fakeLLM answers with respond; it records every input it saw.
type fakeLLM struct {
	mu      sync.Mutex
	respond func(n int, systemContext string, input LLMInput) (string, error)
	inputs  []LLMInput
	systems []string
}

func (f *fakeLLM) Generate(_ context.Context, systemContext string, _ []ChatContent, input LLMInput) (LLMOutput, error) {
	f.mu.Lock()
	n := len(f.inputs)
	f.inputs = append(f.inputs, input)
	f.systems = append(f.systems, systemContext)
	f.mu.Unlock()

	text, err := f.respond(n, systemContext, input)
	if err != nil {
		return LLMOutput{}, err
	}
	return LLMOutput{Text: text, Stats: Stats{InputTokenCount: 10, OutputTokenCount: 5, TotalTokenCount: 15}}, nil
}

func (f *fakeLLM) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inputs)
}

func (f *fakeLLM) Input(i int) LLMInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inputs[i]
}

// replies returns the scripted texts in order and repeats the last one.
func replies(texts ...string) *fakeLLM {
	return &fakeLLM{respond: func(n int, _ string, _ LLMInput) (string, error) {
		if n >= len(texts) {
			n = len(texts) - 1
		}
		return texts[n], nil
	}}
}

func failingLLM(err error) *fakeLLM {
	return &fakeLLM{respond: func(int, string, LLMInput) (string, error) { return "", err }}
}

func toolCall(name string, params string) string {
	return fmt.Sprintf("<thinking>need data</thinking>\n<tool_call>\n  <tool_name>%s</tool_name>\n  <parameters>\n    %s\n  </parameters>\n</tool_call>", name, params)
}

type pathInput struct {
	FilePath string `json:"file_path" jsonschema_description:"Path of the document"`
}

type queryInput struct {
	Query string `json:"query"`
}

var errNoSuchFile = errors.New("no such file")

func testRegistry(t *testing.T) *ToolRegistry {
	t.Helper()
	reader, err := NewInbuiltToolExecutor("read_report", "reads a report", func(_ context.Context, in pathInput) (string, error) {
		if in.FilePath == "" || strings.Contains(in.FilePath, "missing") {
			return "", NewToolError(ToolNotFound, fmt.Errorf("%s: %w", in.FilePath, errNoSuchFile))
		}
		return "Hemoglobin: 13.5 g/dL", nil
	})
	if err != nil {
		t.Fatalf("reader tool: %v", err)
	}
	search, err := NewInbuiltToolExecutor("search", "searches the web", func(_ context.Context, in queryInput) ([]string, error) {
		return []string{"result for " + in.Query}, nil
	})
	if err != nil {
		t.Fatalf("search tool: %v", err)
	}
	registry, err := NewToolRegistry(reader, search)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return registry
}

func mustAgent(t *testing.T, registry *ToolRegistry, def AgentDefinition, opts ...AgentOption) *Agent {
	t.Helper()
	if def.Role == "" {
		def.Role = "Tester"
	}
	agent, err := NewAgent(def, registry, opts...)
	if err != nil {
		t.Fatalf("NewAgent(%s): %v", def.Name, err)
	}
	return agent
}

func mustTask(t *testing.T, def TaskDefinition) *Task {
	t.Helper()
	task, err := NewTask(def)
	if err != nil {
		t.Fatalf("NewTask(%s): %v", def.Name, err)
	}
	return task
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testStep(agent *Agent, instruction string) step {
	return step{
		rc:          NewRunContext("run-1", RunRequest{Query: "q", DocumentPath: "/tmp/report.pdf"}),
		task:        "t",
		instruction: instruction,
		tools:       agent.Tools(),
		logger:      quietLogger(),
	}
}
