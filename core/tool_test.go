package core

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestExtractToolCalls(t *testing.T) {
	content := "<thinking>x</thinking>" +
		toolCall("read_report", `{"file_path": "/tmp/a.pdf"}`) +
		"\n<tool_call><tool_name> search </tool_name><parameters>{\"query\":\n \"iron\"}</parameters></tool_call>"

	calls := ExtractToolCalls(content)
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(calls))
	}
	if calls[0].ToolName != "read_report" || calls[0].Err != nil {
		t.Errorf("unexpected first call: %+v", calls[0])
	}
	if calls[1].ToolName != "search" || !strings.Contains(calls[1].Arguments, "iron") {
		t.Errorf("unexpected second call: %+v", calls[1])
	}
}

func TestExtractToolCallsMalformedParameters(t *testing.T) {
	calls := ExtractToolCalls(toolCall("read_report", `{file_path: nope`))
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if !IsToolError(calls[0].Err, ToolInvalidInput) {
		t.Fatalf("expected invalid input error, got %v", calls[0].Err)
	}
}

func TestExtractAgentCalls(t *testing.T) {
	calls := ExtractAgentCalls("<agent_call>\n<agent_name>verifier</agent_name>\n<input>\nIs this a blood report?\n</input>\n</agent_call>")
	if len(calls) != 1 || calls[0].AgentName != "verifier" || calls[0].Input != "Is this a blood report?" {
		t.Fatalf("unexpected agent calls: %+v", calls)
	}
}

func TestFinalAnswer(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"<thinking>hmm</thinking><response>\nAll normal.\n</response>", "All normal."},
		{"<response>a</response> and <response>b</response>", "a\nb"},
		{"<thinking>hmm</thinking>Plain answer", "Plain answer"},
		{"<thinking>only thoughts</thinking>", ""},
	}
	for _, tt := range tests {
		if got := finalAnswer(tt.in); got != tt.want {
			t.Errorf("finalAnswer(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestInbuiltToolExecutorSchemaAndExecute(t *testing.T) {
	executor, err := NewInbuiltToolExecutor("search", "searches", func(_ context.Context, in queryInput) ([]string, error) {
		return []string{in.Query, in.Query}, nil
	})
	if err != nil {
		t.Fatalf("NewInbuiltToolExecutor: %v", err)
	}

	var schema map[string]any
	if err := json.Unmarshal(executor.GetToolDescriptor().Parameters, &schema); err != nil {
		t.Fatalf("schema is not JSON: %v", err)
	}
	props, ok := schema["properties"].(map[string]any)
	if !ok || props["query"] == nil {
		t.Fatalf("schema lacks query property: %s", executor.GetToolDescriptor().Parameters)
	}

	out, err := executor.Execute(context.Background(), `{"query":"ferritin"}`)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out != `["ferritin","ferritin"]` {
		t.Errorf("unexpected output %q", out)
	}
}

func TestInbuiltToolExecutorErrors(t *testing.T) {
	executor, err := NewInbuiltToolExecutor("read_report", "reads", func(_ context.Context, in pathInput) (string, error) {
		if in.FilePath == "plain" {
			return "", errors.New("boom")
		}
		return "", NewToolError(ToolNotFound, errNoSuchFile)
	})
	if err != nil {
		t.Fatalf("NewInbuiltToolExecutor: %v", err)
	}

	_, err = executor.Execute(context.Background(), `{"file_path":"x"}`)
	var te *ToolError
	if !errors.As(err, &te) || te.Kind != ToolNotFound || te.Tool != "read_report" {
		t.Fatalf("expected named not-found tool error, got %v", err)
	}
	if !errors.Is(err, errNoSuchFile) {
		t.Errorf("tool error must unwrap to its cause")
	}

	_, err = executor.Execute(context.Background(), `{"file_path":"plain"}`)
	if !IsToolError(err, ToolExtractionError) {
		t.Errorf("untyped handler errors become extraction errors, got %v", err)
	}

	_, err = executor.Execute(context.Background(), `not json`)
	if !IsToolError(err, ToolInvalidInput) {
		t.Errorf("bad JSON must be invalid input, got %v", err)
	}
}

func TestNewInbuiltToolExecutorRejectsBadHandlers(t *testing.T) {
	bad := []any{
		nil,
		"not a func",
		func(in pathInput) (string, error) { return "", nil },
		func(_ context.Context, in pathInput) string { return "" },
		func(_ context.Context, in []string) (string, error) { return "", nil },
	}
	for i, handler := range bad {
		if _, err := NewInbuiltToolExecutor("t", "", handler); !errors.Is(err, ErrConfiguration) {
			t.Errorf("handler %d: expected configuration error, got %v", i, err)
		}
	}
}

func TestToolRegistryRejectsDuplicates(t *testing.T) {
	registry := testRegistry(t)
	executor, _ := NewInbuiltToolExecutor("search", "again", func(_ context.Context, in queryInput) (string, error) { return "", nil })
	var ce *ConfigError
	if err := registry.Register(executor); !errors.As(err, &ce) || ce.Kind != ConfigDuplicateName {
		t.Fatalf("expected duplicate name error, got %v", err)
	}
	if got := registry.Names(); len(got) != 2 || got[0] != "read_report" || got[1] != "search" {
		t.Errorf("Names = %v", got)
	}
}

func TestToolSetInvokeOutsideSet(t *testing.T) {
	registry := testRegistry(t)
	set, err := newToolSet(registry, "agent a", []string{"read_report"})
	if err != nil {
		t.Fatalf("newToolSet: %v", err)
	}
	if _, err := set.Invoke(context.Background(), "search", `{"query":"x"}`); !IsToolError(err, ToolNotPermitted) {
		t.Fatalf("expected tool not permitted, got %v", err)
	}
	if _, err := newToolSet(registry, "agent a", []string{"nope"}); err == nil {
		t.Fatalf("expected unknown tool error")
	}
}
