package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

var errRunCancelled = errors.New("run cancelled")

type RunPhase string

const (
	PhasePending   RunPhase = "pending"
	PhaseRunning   RunPhase = "running"
	PhaseCompleted RunPhase = "completed"
	PhaseFailed    RunPhase = "failed"
)

type CrewConfig struct {
	Name        string
	Tasks       []*Task
	Process     ProcessPolicy
	Composition CompositionPolicy
	Logger      *slog.Logger
	// NewRunID overrides run id generation, mostly for tests.
	NewRunID func() string
}

// Crew runs an ordered list of tasks against their agents. It holds only
// configuration, so one Crew serves any number of concurrent runs.
type Crew struct {
	name        string
	tasks       []*Task
	agents      map[string]*Agent
	process     ProcessPolicy
	composition CompositionPolicy
	logger      *slog.Logger
	newRunID    func() string
}

func NewCrew(cfg CrewConfig) (*Crew, error) {
	subject := "crew " + cfg.Name
	if len(cfg.Tasks) == 0 {
		return nil, configErrorf(ConfigMissingField, subject, "at least one task is required")
	}

	process := cfg.Process
	if process == "" {
		process = ProcessSequential
	}
	if process != ProcessSequential {
		return nil, configErrorf(ConfigUnsupported, subject, "process %q is not supported", process)
	}

	composition := cfg.Composition
	if composition == "" {
		composition = ComposeLastOnly
	}
	if composition != ComposeLastOnly && composition != ComposeConcatenateAll {
		return nil, configErrorf(ConfigInvalidValue, subject, "unknown composition policy %q", composition)
	}

	declared := make(map[string]bool, len(cfg.Tasks))
	agents := make(map[string]*Agent)
	for i, task := range cfg.Tasks {
		if task == nil {
			return nil, configErrorf(ConfigMissingField, subject, "task %d is nil", i)
		}
		name := task.GetName()
		if declared[name] {
			return nil, configErrorf(ConfigDuplicateName, subject, "task %q declared twice", name)
		}
		for _, ref := range task.References() {
			if !declared[ref] {
				return nil, configErrorf(ConfigForwardReference, "task "+name, "{{%s}} does not name an earlier task", OutputLabel(ref))
			}
		}
		declared[name] = true

		agent := task.Agent()
		if other, ok := agents[agent.GetName()]; ok && other != agent {
			return nil, configErrorf(ConfigDuplicateName, subject, "two different agents are named %q", agent.GetName())
		}
		agents[agent.GetName()] = agent
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	newRunID := cfg.NewRunID
	if newRunID == nil {
		newRunID = uuid.NewString
	}

	return &Crew{
		name:        cfg.Name,
		tasks:       append([]*Task(nil), cfg.Tasks...),
		agents:      agents,
		process:     process,
		composition: composition,
		logger:      logger,
		newRunID:    newRunID,
	}, nil
}

func (c *Crew) GetName() string {
	return c.name
}

func (c *Crew) Tasks() []*Task {
	return append([]*Task(nil), c.tasks...)
}

func (c *Crew) Composition() CompositionPolicy {
	return c.composition
}

// Run executes every task in declaration order and always returns a result.
// The first model, rate-limit or configuration fault ends the run as a
// failure; tool faults only show up in the task text.
func (c *Crew) Run(ctx context.Context, req RunRequest) (result RunResult) {
	rc := NewRunContext(c.newRunID(), req)
	result = RunResult{RunID: rc.ID, StartedAt: time.Now()}
	logger := c.logger.With("run_id", rc.ID, "crew", c.name)
	logger.Info("run started", "phase", PhasePending, "tasks", len(c.tasks))

	current := ""
	defer func() {
		if r := recover(); r != nil {
			logger.Error("run panicked", "phase", PhaseFailed, "task", current, "panic", r)
			result = c.fail(result, current, fmt.Errorf("internal error: %v", r))
		}
		result.FinishedAt = time.Now()
	}()

	for i, task := range c.tasks {
		current = task.GetName()
		if err := ctx.Err(); err != nil {
			return c.fail(result, current, fmt.Errorf("%w: %v", errRunCancelled, err))
		}

		taskLogger := logger.With("task", current, "index", i)
		taskLogger.Info("task started", "phase", PhaseRunning, "agent", task.Agent().GetName())

		out, err := c.runTask(ctx, rc, task, taskLogger)
		result.Stats.Add(out.Stats)
		if err != nil {
			taskLogger.Error("task failed", "phase", PhaseFailed, "error", err)
			result.Tasks = append(result.Tasks, out)
			return c.fail(result, current, err)
		}

		rc.Record(out)
		result.Tasks = append(result.Tasks, out)
		taskLogger.Info("task finished",
			"iterations", out.Iterations,
			"tool_calls", out.ToolCalls,
			"tool_errors", len(out.ToolErrors),
			"truncated", out.Truncated)
	}

	result.Status = StatusSuccess
	result.Text = c.compose(rc.Outputs())
	logger.Info("run finished", "phase", PhaseCompleted, "model_calls", result.Stats.ModelCalls)
	return result
}

func (c *Crew) runTask(ctx context.Context, rc *RunContext, task *Task, logger *slog.Logger) (TaskOutput, error) {
	agent := task.Agent()
	out := TaskOutput{Task: task.GetName(), Agent: agent.GetName()}

	instruction, err := task.instruction(rc)
	if err != nil {
		return out, err
	}

	var coworkers map[string]*Agent
	if agent.AllowDelegation() {
		for name, other := range c.agents {
			if other == agent {
				continue
			}
			if coworkers == nil {
				coworkers = make(map[string]*Agent)
			}
			coworkers[name] = other
		}
	}

	res, err := agent.execute(ctx, step{
		rc:             rc,
		task:           task.GetName(),
		instruction:    instruction,
		expectedOutput: task.ExpectedOutput(),
		tools:          task.Tools(),
		coworkers:      coworkers,
		logger:         logger,
	})
	out.Text = res.text
	out.Iterations = res.iterations
	out.ToolCalls = res.toolCalls
	out.ToolErrors = res.toolErrors
	out.Truncated = res.truncated
	out.Stats = res.stats
	return out, err
}

func (c *Crew) compose(outputs []TaskOutput) string {
	if len(outputs) == 0 {
		return ""
	}
	if c.composition == ComposeLastOnly {
		return outputs[len(outputs)-1].Text
	}
	parts := make([]string, 0, len(outputs))
	for _, out := range outputs {
		parts = append(parts, "## "+out.Task+"\n\n"+strings.TrimSpace(out.Text))
	}
	return strings.Join(parts, "\n\n")
}

func (c *Crew) fail(result RunResult, task string, err error) RunResult {
	result.Status = StatusFailure
	result.Text = ""
	result.Error = &ErrorDetail{Kind: errorKind(err), Message: err.Error(), Task: task}
	return result
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
