package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

var systemAgentContext = `
You are {{role}}.
Your personal goal is: {{goal}}

{{backstory}}

You will receive the current task inside <user_input></user_input> tags.

Follow these steps to complete the task:

1. Read and understand the task provided in the <user_input> tags.

2. Use the available tools whenever you need facts you do not already have. Never invent the content of a document you have not read.

3. Think step by step and put your thinking between the <thinking></thinking> tags.

4. When you are ready, write your final answer between <response></response> tags. Do not call tools in the same reply as your final answer.

Your final answer should match this description:
<expected_output>
{{expected_output}}
</expected_output>
`

const DefaultMaxIterations = 15

// AgentDefinition is the policy bundle of one role: who it is, which tools it
// may use and how much it may call the model.
type AgentDefinition struct {
	Name              string
	Role              string
	Goal              string
	Backstory         string
	LLM               LLM
	Tools             []string
	MaxIterations     int
	MaxCallsPerMinute int
	AllowDelegation   bool
}

type agentOptions struct {
	rateWindow time.Duration
}

type AgentOption func(*agentOptions)

// WithRateWindow changes the window MaxCallsPerMinute is measured over.
func WithRateWindow(window time.Duration) AgentOption {
	return func(o *agentOptions) {
		o.rateWindow = window
	}
}

// Agent is an AgentDefinition bound to its resolved tools and call limiter.
// It is immutable after NewAgent and shared by every run that uses it.
type Agent struct {
	def     AgentDefinition
	tools   *ToolSet
	limiter *CallLimiter
}

func NewAgent(def AgentDefinition, registry *ToolRegistry, opts ...AgentOption) (*Agent, error) {
	o := agentOptions{rateWindow: DefaultRateWindow}
	for _, opt := range opts {
		opt(&o)
	}

	subject := "agent " + def.Name
	switch {
	case def.Name == "":
		return nil, configErrorf(ConfigMissingField, "agent", "name is required")
	case def.Role == "":
		return nil, configErrorf(ConfigMissingField, subject, "role is required")
	case def.LLM == nil:
		return nil, configErrorf(ConfigMissingField, subject, "language model is required")
	case def.MaxIterations < 0:
		return nil, configErrorf(ConfigInvalidValue, subject, "max iterations must not be negative")
	case def.MaxCallsPerMinute < 0:
		return nil, configErrorf(ConfigInvalidValue, subject, "max calls per minute must not be negative")
	}
	if def.MaxIterations == 0 {
		def.MaxIterations = DefaultMaxIterations
	}
	if err := checkPlaceholders(subject+" goal", def.Goal, isRunLabel); err != nil {
		return nil, err
	}
	if err := checkPlaceholders(subject+" backstory", def.Backstory, isRunLabel); err != nil {
		return nil, err
	}
	if registry == nil {
		registry = &ToolRegistry{tools: map[string]ToolExecutor{}}
	}
	tools, err := newToolSet(registry, subject, def.Tools)
	if err != nil {
		return nil, err
	}
	def.Tools = tools.Names()

	return &Agent{
		def:     def,
		tools:   tools,
		limiter: NewCallLimiter(def.MaxCallsPerMinute, o.rateWindow),
	}, nil
}

func (agent *Agent) GetName() string {
	return agent.def.Name
}

func (agent *Agent) GetRole() string {
	return agent.def.Role
}

func (agent *Agent) Tools() *ToolSet {
	return agent.tools
}

func (agent *Agent) MaxIterations() int {
	return agent.def.MaxIterations
}

func (agent *Agent) AllowDelegation() bool {
	return agent.def.AllowDelegation
}

func (agent *Agent) Limiter() *CallLimiter {
	return agent.limiter
}

func (agent *Agent) GetAgentDescriptor() AgentDescriptor {
	return AgentDescriptor{Name: agent.def.Name, Role: agent.def.Role, Description: agent.def.Goal}
}

// step is one agent invocation inside a run.
type step struct {
	rc             *RunContext
	task           string
	instruction    string
	expectedOutput string
	tools          *ToolSet
	coworkers      map[string]*Agent
	logger         *slog.Logger
}

type stepResult struct {
	text       string
	iterations int
	toolCalls  int
	toolErrors []string
	truncated  bool
	stats      Stats
}

func (agent *Agent) systemContext(s step) (string, error) {
	labels := s.rc.Labels()
	goal, err := RenderTemplate(agent.def.Goal, labels)
	if err != nil {
		return "", configErrorf(ConfigUnknownPlaceholder, "agent "+agent.def.Name+" goal", "%v", err)
	}
	backstory, err := RenderTemplate(agent.def.Backstory, labels)
	if err != nil {
		return "", configErrorf(ConfigUnknownPlaceholder, "agent "+agent.def.Name+" backstory", "%v", err)
	}
	expected := s.expectedOutput
	if expected == "" {
		expected = "A clear, complete answer to the task."
	}

	systemContext, err := RenderTemplate(systemAgentContext, map[string]string{
		"role":            agent.def.Role,
		"goal":            goal,
		"backstory":       backstory,
		"expected_output": expected,
	})
	if err != nil {
		return "", fmt.Errorf("agent %s system prompt: %w", agent.def.Name, err)
	}
	if s.tools != nil && s.tools.Len() > 0 {
		systemContext += "\n" + GetToolPrompt(s.tools.ListToolDescriptors())
	}
	if len(s.coworkers) > 0 {
		var coworkers []AgentDescriptor
		for _, name := range sortedKeys(s.coworkers) {
			coworkers = append(coworkers, s.coworkers[name].GetAgentDescriptor())
		}
		systemContext += "\n" + GetDelegationPrompt(coworkers)
	}
	return systemContext, nil
}

// execute runs the reasoning loop: ask the model, run the tools it asks for,
// feed the results back, until it answers or MaxIterations rounds are spent.
// Only model, rate-limit and cancellation faults are returned as errors.
func (agent *Agent) execute(ctx context.Context, s step) (stepResult, error) {
	var res stepResult
	logger := s.logger.With("agent", agent.def.Name)

	systemContext, err := agent.systemContext(s)
	if err != nil {
		return res, err
	}

	var history []ChatContent
	input := agent.input(s, "<user_input>"+s.instruction+"</user_input>")
	var lastProse string
	var lastResults []ToolResult

	for res.iterations < agent.def.MaxIterations {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("%w: %v", errRunCancelled, err)
		}
		if err := agent.limiter.Wait(ctx); err != nil {
			return res, err
		}
		res.iterations++

		output, err := agent.def.LLM.Generate(ctx, systemContext, history, input)
		if err != nil {
			if ctx.Err() != nil {
				return res, fmt.Errorf("%w: %v", errRunCancelled, ctx.Err())
			}
			return res, fmt.Errorf("%w: agent %s: %v", ErrModelUnavailable, agent.def.Name, err)
		}
		output.Stats.ModelCalls = 1
		res.stats.Add(output.Stats)
		history = append(history, NewContent("user", input.Text), NewContent("assistant", output.Text))

		toolCalls := ExtractToolCalls(output.Text)
		var agentCalls []AgentCall
		if len(s.coworkers) > 0 {
			agentCalls = ExtractAgentCalls(output.Text)
		}

		if len(toolCalls) == 0 && len(agentCalls) == 0 {
			if answer := finalAnswer(output.Text); answer != "" {
				res.text = answer
				return agent.finish(res), nil
			}
			logger.Warn("empty reply from model", "iteration", res.iterations)
			input = agent.input(s, "Your previous reply was empty. Write your final answer between <response></response> tags.")
			continue
		}

		if prose := finalAnswer(output.Text); prose != "" {
			lastProse = prose
		}

		var feedback strings.Builder
		if len(toolCalls) > 0 {
			lastResults = agent.runTools(ctx, s, toolCalls, &res, logger)
			b, err := json.Marshal(lastResults)
			if err != nil {
				return res, err
			}
			feedback.WriteString("<tool_result>" + string(b) + "</tool_result>")
		}
		if len(agentCalls) > 0 {
			results, err := agent.delegate(ctx, s, agentCalls, &res, logger)
			if err != nil {
				return res, err
			}
			b, err := json.Marshal(results)
			if err != nil {
				return res, err
			}
			feedback.WriteString("<agent_result>" + string(b) + "</agent_result>")
		}
		input = agent.input(s, feedback.String())
	}

	logger.Warn("iteration limit reached", "max_iterations", agent.def.MaxIterations)
	res.truncated = true
	res.text = bestEffort(agent.def.MaxIterations, lastProse, lastResults)
	return agent.finish(res), nil
}

func (agent *Agent) input(s step, text string) LLMInput {
	return LLMInput{RunID: s.rc.ID, Agent: agent.def.Name, Text: text, Labels: s.rc.Labels()}
}

func (agent *Agent) runTools(ctx context.Context, s step, calls []ToolCall, res *stepResult, logger *slog.Logger) []ToolResult {
	results := make([]ToolResult, 0, len(calls))
	for _, call := range calls {
		res.toolCalls++
		out, err := call.Arguments, call.Err
		if err == nil {
			out, err = s.tools.Invoke(ctx, call.ToolName, call.Arguments)
		}
		if err != nil {
			var te *ToolError
			if !errors.As(err, &te) {
				te = &ToolError{Kind: ToolExtractionError, Tool: call.ToolName, Cause: err}
			}
			logger.Info("tool call failed", "tool", call.ToolName, "kind", te.Kind, "error", te.Error())
			res.toolErrors = append(res.toolErrors, te.Error())
			out = "error: " + te.Error()
		} else {
			logger.Debug("tool call", "tool", call.ToolName, "output_bytes", len(out))
		}
		results = append(results, ToolResult{ToolName: call.ToolName, Output: out})
	}
	return results
}

func (agent *Agent) delegate(ctx context.Context, s step, calls []AgentCall, res *stepResult, logger *slog.Logger) ([]AgentResult, error) {
	results := make([]AgentResult, 0, len(calls))
	for _, call := range calls {
		coworker, ok := s.coworkers[call.AgentName]
		if !ok || coworker == agent {
			results = append(results, AgentResult{AgentName: call.AgentName, Output: "error: no coworker named " + call.AgentName})
			continue
		}
		logger.Info("delegating", "coworker", call.AgentName)
		sub, err := coworker.execute(ctx, step{
			rc:             s.rc,
			task:           s.task,
			instruction:    call.Input,
			expectedOutput: "A direct answer to the question you were asked.",
			tools:          coworker.tools,
			logger:         s.logger,
		})
		res.stats.Add(sub.stats)
		res.toolCalls += sub.toolCalls
		if err != nil {
			return nil, err
		}
		results = append(results, AgentResult{AgentName: call.AgentName, Output: sub.text})
	}
	return results, nil
}

// finish folds tool errors the answer does not already mention into the text.
func (agent *Agent) finish(res stepResult) stepResult {
	var notes []string
	for _, msg := range res.toolErrors {
		if !strings.Contains(res.text, msg) {
			notes = append(notes, "- "+msg)
		}
	}
	if len(notes) > 0 {
		res.text = strings.TrimSpace(res.text) + "\n\nTool notes:\n" + strings.Join(dedupe(notes), "\n")
	}
	return res
}

const bestEffortToolOutputLimit = 2000

func bestEffort(maxIterations int, prose string, results []ToolResult) string {
	if prose != "" {
		return prose
	}
	var b strings.Builder
	fmt.Fprintf(&b, "No final answer was reached within %d reasoning rounds.", maxIterations)
	if len(results) > 0 {
		b.WriteString(" Latest tool results:")
		for _, r := range results {
			out, cut := TruncateRunes(r.Output, bestEffortToolOutputLimit)
			if cut {
				out += "…"
			}
			fmt.Fprintf(&b, "\n- %s: %s", r.ToolName, out)
		}
	}
	return b.String()
}

func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := items[:0]
	for _, item := range items {
		if !seen[item] {
			seen[item] = true
			out = append(out, item)
		}
	}
	return out
}
