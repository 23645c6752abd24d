package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

func newTestCrew(t *testing.T, composition CompositionPolicy, tasks ...*Task) *Crew {
	t.Helper()
	crew, err := NewCrew(CrewConfig{Name: "test", Tasks: tasks, Composition: composition, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("NewCrew: %v", err)
	}
	return crew
}

func TestNewCrewValidation(t *testing.T) {
	registry := testRegistry(t)
	agent := mustAgent(t, registry, AgentDefinition{Name: "doctor", LLM: replies("x")})
	impostor := mustAgent(t, registry, AgentDefinition{Name: "doctor", LLM: replies("y")})
	first := mustTask(t, TaskDefinition{Name: "first", Description: "d", Agent: agent})
	needsLater := mustTask(t, TaskDefinition{Name: "early", Description: "use {{output.late}}", Agent: agent})
	late := mustTask(t, TaskDefinition{Name: "late", Description: "d", Agent: agent})
	selfRef := mustTask(t, TaskDefinition{Name: "self", Description: "{{output.self}}", Agent: agent})
	other := mustTask(t, TaskDefinition{Name: "other", Description: "d", Agent: impostor})

	tests := []struct {
		name string
		cfg  CrewConfig
		kind ConfigErrorKind
	}{
		{"no tasks", CrewConfig{}, ConfigMissingField},
		{"nil task", CrewConfig{Tasks: []*Task{nil}}, ConfigMissingField},
		{"duplicate task", CrewConfig{Tasks: []*Task{first, first}}, ConfigDuplicateName},
		{"forward reference", CrewConfig{Tasks: []*Task{needsLater, late}}, ConfigForwardReference},
		{"self reference", CrewConfig{Tasks: []*Task{selfRef}}, ConfigForwardReference},
		{"parallel process", CrewConfig{Tasks: []*Task{first}, Process: "hierarchical"}, ConfigUnsupported},
		{"bad composition", CrewConfig{Tasks: []*Task{first}, Composition: "merge"}, ConfigInvalidValue},
		{"agent name clash", CrewConfig{Tasks: []*Task{first, other}}, ConfigDuplicateName},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCrew(tt.cfg)
			var ce *ConfigError
			if !errors.As(err, &ce) || ce.Kind != tt.kind {
				t.Fatalf("expected %s, got %v", tt.kind, err)
			}
		})
	}
}

func TestCrewRunSingleTask(t *testing.T) {
	llm := replies(
		toolCall("read_report", `{"file_path": "/data/report.txt"}`),
		"<response>Hemoglobin 13.5 g/dL is normal.</response>",
	)
	agent := mustAgent(t, testRegistry(t), AgentDefinition{Name: "doctor", LLM: llm, Tools: []string{"read_report", "search"}})
	task := mustTask(t, TaskDefinition{Name: "help_patients", Description: "Analyze {{file_path}}: {{query}}", Agent: agent, Tools: []string{"read_report"}})
	crew := newTestCrew(t, "", task)

	result := crew.Run(context.Background(), RunRequest{Query: "Summarise my report", DocumentPath: "/data/report.txt"})
	if !result.Succeeded() {
		t.Fatalf("expected success, got %+v", result.Error)
	}
	if result.Text != "Hemoglobin 13.5 g/dL is normal." {
		t.Errorf("unexpected text %q", result.Text)
	}
	if len(result.Tasks) != 1 || result.Tasks[0].ToolCalls != 1 {
		t.Errorf("expected exactly one task execution with one tool call, got %+v", result.Tasks)
	}
	if result.RunID == "" || result.FinishedAt.Before(result.StartedAt) {
		t.Errorf("run metadata not set: %+v", result)
	}
	if !strings.Contains(llm.Input(0).Text, "Analyze /data/report.txt: Summarise my report") {
		t.Errorf("template not rendered: %q", llm.Input(0).Text)
	}
}

func TestCrewRunThreadsOutputsInOrder(t *testing.T) {
	registry := testRegistry(t)
	echo := func(name string) *fakeLLM {
		return &fakeLLM{respond: func(_ int, _ string, _ LLMInput) (string, error) {
			return "<response>output of " + name + "</response>", nil
		}}
	}
	llm1, llm2, llm3 := echo("T1"), echo("T2"), echo("T3")
	a1 := mustAgent(t, registry, AgentDefinition{Name: "a1", LLM: llm1})
	a2 := mustAgent(t, registry, AgentDefinition{Name: "a2", LLM: llm2})
	a3 := mustAgent(t, registry, AgentDefinition{Name: "a3", LLM: llm3})
	t1 := mustTask(t, TaskDefinition{Name: "t1", Description: "first {{query}}", Agent: a1})
	t2 := mustTask(t, TaskDefinition{Name: "t2", Description: "second, building on [{{output.t1}}]", Agent: a2})
	t3 := mustTask(t, TaskDefinition{Name: "t3", Description: "third", Agent: a3})

	crew := newTestCrew(t, ComposeConcatenateAll, t1, t2, t3)
	result := crew.Run(context.Background(), RunRequest{Query: "q", DocumentPath: "/d"})
	if !result.Succeeded() {
		t.Fatalf("run failed: %+v", result.Error)
	}

	t2Prompt := llm2.Input(0).Text
	if !strings.Contains(t2Prompt, "second, building on [output of T1]") {
		t.Errorf("T2 did not receive T1's output: %q", t2Prompt)
	}
	if strings.Contains(t2Prompt, "output of T3") {
		t.Errorf("T2 saw T3's output: %q", t2Prompt)
	}
	t3Prompt := llm3.Input(0).Text
	if strings.Index(t3Prompt, "output of T1") > strings.Index(t3Prompt, "output of T2") {
		t.Errorf("prior outputs out of order: %q", t3Prompt)
	}

	want := "## t1\n\noutput of T1\n\n## t2\n\noutput of T2\n\n## t3\n\noutput of T3"
	if result.Text != want {
		t.Errorf("concatenation =\n%q\nwant\n%q", result.Text, want)
	}
	for i, name := range []string{"t1", "t2", "t3"} {
		if result.Tasks[i].Task != name {
			t.Errorf("task %d = %s, want %s", i, result.Tasks[i].Task, name)
		}
	}
}

func TestCrewRunLastOnly(t *testing.T) {
	registry := testRegistry(t)
	a := mustAgent(t, registry, AgentDefinition{Name: "a", LLM: replies("<response>one</response>", "<response>two</response>")})
	crew := newTestCrew(t, ComposeLastOnly,
		mustTask(t, TaskDefinition{Name: "verify", Description: "v", Agent: a}),
		mustTask(t, TaskDefinition{Name: "analyse", Description: "a", Agent: a}),
	)
	result := crew.Run(context.Background(), RunRequest{})
	if result.Text != "two" {
		t.Fatalf("last-only text = %q", result.Text)
	}
}

func TestCrewRunModelFailureStopsRun(t *testing.T) {
	registry := testRegistry(t)
	ok := mustAgent(t, registry, AgentDefinition{Name: "ok", LLM: replies("<response>fine</response>")})
	downLLM := failingLLM(errors.New("503 service unavailable"))
	down := mustAgent(t, registry, AgentDefinition{Name: "down", LLM: downLLM})
	neverLLM := replies("<response>never</response>")
	never := mustAgent(t, registry, AgentDefinition{Name: "never", LLM: neverLLM})

	crew := newTestCrew(t, "",
		mustTask(t, TaskDefinition{Name: "t1", Description: "d", Agent: ok}),
		mustTask(t, TaskDefinition{Name: "t2", Description: "d", Agent: down}),
		mustTask(t, TaskDefinition{Name: "t3", Description: "d", Agent: never}),
	)
	result := crew.Run(context.Background(), RunRequest{Query: "q"})
	if result.Succeeded() {
		t.Fatalf("expected failure")
	}
	if result.Error == nil || result.Error.Kind != "model_unavailable" || result.Error.Task != "t2" {
		t.Fatalf("unexpected error detail %+v", result.Error)
	}
	if neverLLM.Calls() != 0 {
		t.Errorf("tasks after the failure must not run")
	}
	if result.Text != "" {
		t.Errorf("failed runs carry no text, got %q", result.Text)
	}
}

func TestCrewRunToolErrorIsNotFatal(t *testing.T) {
	llm := replies(
		toolCall("read_report", `{"file_path": "/data/missing.pdf"}`),
		"<response>The report could not be opened.</response>",
	)
	agent := mustAgent(t, testRegistry(t), AgentDefinition{Name: "doctor", LLM: llm, Tools: []string{"read_report"}})
	crew := newTestCrew(t, "", mustTask(t, TaskDefinition{Name: "help", Description: "{{file_path}}", Agent: agent}))

	result := crew.Run(context.Background(), RunRequest{Query: "q", DocumentPath: "/data/missing.pdf"})
	if !result.Succeeded() {
		t.Fatalf("tool errors must not fail the run: %+v", result.Error)
	}
	if !strings.Contains(result.Text, "file not found") {
		t.Errorf("text lacks the tool note: %q", result.Text)
	}
}

func TestCrewRunCancelledContext(t *testing.T) {
	llm := replies("<response>x</response>")
	agent := mustAgent(t, testRegistry(t), AgentDefinition{Name: "a", LLM: llm})
	crew := newTestCrew(t, "", mustTask(t, TaskDefinition{Name: "t", Description: "d", Agent: agent}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := crew.Run(ctx, RunRequest{})
	if result.Succeeded() || result.Error.Kind != "cancelled" {
		t.Fatalf("expected cancelled failure, got %+v", result)
	}
	if llm.Calls() != 0 {
		t.Errorf("no model call expected after cancellation")
	}
}

func TestCrewRunRateLimitWaitFailsWhenContextEnds(t *testing.T) {
	llm := replies(toolCall("search", `{"query":"a"}`), "<response>done</response>")
	agent := mustAgent(t, testRegistry(t), AgentDefinition{Name: "a", LLM: llm, Tools: []string{"search"}, MaxCallsPerMinute: 1}, WithRateWindow(time.Hour))
	crew := newTestCrew(t, "", mustTask(t, TaskDefinition{Name: "t", Description: "d", Agent: agent}))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	result := crew.Run(ctx, RunRequest{})
	if result.Succeeded() || result.Error.Kind != "rate_limit_exceeded" {
		t.Fatalf("expected rate limit failure, got %+v", result.Error)
	}
}

func TestCrewRunRecoversPanics(t *testing.T) {
	llm := &fakeLLM{respond: func(int, string, LLMInput) (string, error) { panic("model adapter bug") }}
	agent := mustAgent(t, testRegistry(t), AgentDefinition{Name: "a", LLM: llm})
	crew := newTestCrew(t, "", mustTask(t, TaskDefinition{Name: "t", Description: "d", Agent: agent}))

	result := crew.Run(context.Background(), RunRequest{})
	if result.Succeeded() || result.Error.Kind != "internal_error" || result.Error.Task != "t" {
		t.Fatalf("expected recovered failure, got %+v", result.Error)
	}
}

func TestCrewRunConcurrentRunsAreIsolated(t *testing.T) {
	llm := &fakeLLM{respond: func(_ int, _ string, input LLMInput) (string, error) {
		return "<response>answer to " + input.Labels[LabelQuery] + "</response>", nil
	}}
	agent := mustAgent(t, testRegistry(t), AgentDefinition{Name: "doctor", LLM: llm})
	crew := newTestCrew(t, "", mustTask(t, TaskDefinition{Name: "t", Description: "{{query}}", Agent: agent}))

	var wg sync.WaitGroup
	results := make([]RunResult, 20)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = crew.Run(context.Background(), RunRequest{Query: fmt.Sprintf("q%d", i)})
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for i, r := range results {
		if want := fmt.Sprintf("answer to q%d", i); r.Text != want {
			t.Errorf("run %d text = %q, want %q", i, r.Text, want)
		}
		if seen[r.RunID] {
			t.Errorf("duplicate run id %s", r.RunID)
		}
		seen[r.RunID] = true
	}
}

func TestCrewRunSharedRateBudget(t *testing.T) {
	llm := replies("<response>ok</response>")
	window := 300 * time.Millisecond
	agent := mustAgent(t, testRegistry(t), AgentDefinition{Name: "doctor", LLM: llm, MaxCallsPerMinute: 2}, WithRateWindow(window))
	crew := newTestCrew(t, "", mustTask(t, TaskDefinition{Name: "t", Description: "d", Agent: agent}))

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r := crew.Run(context.Background(), RunRequest{}); !r.Succeeded() {
				t.Errorf("run failed: %+v", r.Error)
			}
		}()
	}
	wg.Wait()
	if elapsed := time.Since(start); elapsed < window-clockSlack {
		t.Errorf("three runs sharing a 2-call budget finished in %s", elapsed)
	}
}
