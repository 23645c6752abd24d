// Package crew loads the agent and task catalog and assembles pipelines of it
// into runnable crews.
package crew

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"time"

	"bloodtest/analyser-app/core"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultCatalog []byte

type ModelRef struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

type AgentSpec struct {
	Name            string    `yaml:"name" validate:"required"`
	Role            string    `yaml:"role" validate:"required"`
	Goal            string    `yaml:"goal"`
	Backstory       string    `yaml:"backstory"`
	Tools           []string  `yaml:"tools" validate:"dive,required"`
	MaxIter         int       `yaml:"max_iter" validate:"gte=0"`
	MaxRPM          int       `yaml:"max_rpm" validate:"gte=0"`
	AllowDelegation bool      `yaml:"allow_delegation"`
	LLM             *ModelRef `yaml:"llm"`
}

type TaskSpec struct {
	Name           string   `yaml:"name" validate:"required"`
	Description    string   `yaml:"description" validate:"required"`
	ExpectedOutput string   `yaml:"expected_output"`
	Agent          string   `yaml:"agent" validate:"required"`
	Tools          []string `yaml:"tools" validate:"dive,required"`
	AsyncExecution bool     `yaml:"async_execution"`
}

type PipelineSpec struct {
	Name        string   `yaml:"name" validate:"required"`
	Tasks       []string `yaml:"tasks" validate:"required,min=1,dive,required"`
	Composition string   `yaml:"composition" validate:"omitempty,oneof=last-only concatenate-all"`
}

// Catalog is the declarative description of every agent, task and pipeline.
type Catalog struct {
	DefaultPipeline string         `yaml:"default_pipeline"`
	Agents          []AgentSpec    `yaml:"agents" validate:"required,min=1,dive"`
	Tasks           []TaskSpec     `yaml:"tasks" validate:"required,min=1,dive"`
	Pipelines       []PipelineSpec `yaml:"pipelines" validate:"required,min=1,dive"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func configError(kind core.ConfigErrorKind, subject, format string, args ...any) error {
	return &core.ConfigError{Kind: kind, Subject: subject, Detail: fmt.Sprintf(format, args...)}
}

// Parse decodes and validates a YAML catalog. Unknown keys are rejected.
func Parse(data []byte) (*Catalog, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var c Catalog
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return nil, configError(core.ConfigInvalidValue, "crew catalog", "%v", err)
	}
	if err := validate.Struct(&c); err != nil {
		return nil, configError(core.ConfigMissingField, "crew catalog", "%v", err)
	}
	if err := c.checkNames(); err != nil {
		return nil, err
	}
	if c.DefaultPipeline != "" {
		if _, ok := c.Pipeline(c.DefaultPipeline); !ok {
			return nil, configError(core.ConfigInvalidValue, "crew catalog", "default pipeline %q is not defined", c.DefaultPipeline)
		}
	}
	return &c, nil
}

// Load reads a catalog file; an empty path returns the embedded default.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading crew catalog: %w", err)
	}
	return Parse(data)
}

func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

func (c *Catalog) checkNames() error {
	seen := make(map[string]bool)
	check := func(kind, name string) error {
		key := kind + "/" + name
		if seen[key] {
			return configError(core.ConfigDuplicateName, "crew catalog", "%s %q declared twice", kind, name)
		}
		seen[key] = true
		return nil
	}
	for _, a := range c.Agents {
		if err := check("agent", a.Name); err != nil {
			return err
		}
	}
	for _, t := range c.Tasks {
		if err := check("task", t.Name); err != nil {
			return err
		}
	}
	for _, p := range c.Pipelines {
		if err := check("pipeline", p.Name); err != nil {
			return err
		}
	}
	return nil
}

func (c *Catalog) Agent(name string) (AgentSpec, bool) {
	for _, a := range c.Agents {
		if a.Name == name {
			return a, true
		}
	}
	return AgentSpec{}, false
}

func (c *Catalog) Task(name string) (TaskSpec, bool) {
	for _, t := range c.Tasks {
		if t.Name == name {
			return t, true
		}
	}
	return TaskSpec{}, false
}

func (c *Catalog) Pipeline(name string) (PipelineSpec, bool) {
	for _, p := range c.Pipelines {
		if p.Name == name {
			return p, true
		}
	}
	return PipelineSpec{}, false
}

func (c *Catalog) PipelineNames() []string {
	names := make([]string, 0, len(c.Pipelines))
	for _, p := range c.Pipelines {
		names = append(names, p.Name)
	}
	sort.Strings(names)
	return names
}

// ModelSource hands out language models; provider and model are empty unless
// an agent overrides them.
type ModelSource interface {
	Get(provider, model string) (core.LLM, error)
}

type Deps struct {
	Registry *core.ToolRegistry
	Models   ModelSource
	// RateWindow replaces the one-minute window of max_rpm; zero keeps it.
	RateWindow time.Duration
	Logger     *slog.Logger
}

// Build assembles the named pipeline, or the catalog's default when name is
// empty. Every configuration error surfaces here.
func Build(c *Catalog, name string, deps Deps) (*core.Crew, error) {
	return newBuilder(c, deps).crew(name)
}

// BuildAll assembles every pipeline. Pipelines share agent instances, so an
// agent's call budget is shared too.
func BuildAll(c *Catalog, deps Deps) (map[string]*core.Crew, error) {
	b := newBuilder(c, deps)
	crews := make(map[string]*core.Crew, len(c.Pipelines))
	for _, name := range c.PipelineNames() {
		crew, err := b.crew(name)
		if err != nil {
			return nil, fmt.Errorf("pipeline %s: %w", name, err)
		}
		crews[name] = crew
	}
	return crews, nil
}

type builder struct {
	catalog *Catalog
	deps    Deps
	agents  map[string]*core.Agent
}

func newBuilder(c *Catalog, deps Deps) *builder {
	return &builder{catalog: c, deps: deps, agents: make(map[string]*core.Agent)}
}

func (b *builder) crew(name string) (*core.Crew, error) {
	if b.catalog == nil {
		return nil, configError(core.ConfigMissingField, "crew", "catalog is required")
	}
	if name == "" {
		name = b.catalog.DefaultPipeline
	}
	if name == "" {
		name = b.catalog.Pipelines[0].Name
	}
	pipeline, ok := b.catalog.Pipeline(name)
	if !ok {
		return nil, configError(core.ConfigInvalidValue, "crew", "unknown pipeline %q", name)
	}

	tasks := make([]*core.Task, 0, len(pipeline.Tasks))
	for _, taskName := range pipeline.Tasks {
		spec, ok := b.catalog.Task(taskName)
		if !ok {
			return nil, configError(core.ConfigInvalidValue, "pipeline "+name, "unknown task %q", taskName)
		}
		agent, err := b.agent(spec.Agent)
		if err != nil {
			return nil, err
		}
		task, err := core.NewTask(core.TaskDefinition{
			Name:           spec.Name,
			Description:    spec.Description,
			ExpectedOutput: spec.ExpectedOutput,
			Agent:          agent,
			Tools:          spec.Tools,
			Async:          spec.AsyncExecution,
		})
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}

	return core.NewCrew(core.CrewConfig{
		Name:        name,
		Tasks:       tasks,
		Process:     core.ProcessSequential,
		Composition: core.CompositionPolicy(pipeline.Composition),
		Logger:      b.deps.Logger,
	})
}

func (b *builder) agent(name string) (*core.Agent, error) {
	if agent, ok := b.agents[name]; ok {
		return agent, nil
	}
	spec, ok := b.catalog.Agent(name)
	if !ok {
		return nil, configError(core.ConfigInvalidValue, "crew catalog", "unknown agent %q", name)
	}
	if b.deps.Models == nil {
		return nil, configError(core.ConfigMissingField, "agent "+name, "no language model source")
	}
	var ref ModelRef
	if spec.LLM != nil {
		ref = *spec.LLM
	}
	model, err := b.deps.Models.Get(ref.Provider, ref.Model)
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", name, err)
	}

	var opts []core.AgentOption
	if b.deps.RateWindow > 0 {
		opts = append(opts, core.WithRateWindow(b.deps.RateWindow))
	}
	agent, err := core.NewAgent(core.AgentDefinition{
		Name:              spec.Name,
		Role:              spec.Role,
		Goal:              spec.Goal,
		Backstory:         spec.Backstory,
		LLM:               model,
		Tools:             spec.Tools,
		MaxIterations:     spec.MaxIter,
		MaxCallsPerMinute: spec.MaxRPM,
		AllowDelegation:   spec.AllowDelegation,
	}, b.deps.Registry, opts...)
	if err != nil {
		return nil, err
	}
	b.agents[name] = agent
	return agent, nil
}
