package core

import "strings"

// TaskDefinition is one unit of work. Description is the instruction
// template; ExpectedOutput only guides the model and is never enforced.
// An empty Tools list grants every tool of the bound agent.
type TaskDefinition struct {
	Name           string
	Description    string
	ExpectedOutput string
	Agent          *Agent
	Tools          []string
	Async          bool
}

type Task struct {
	def   TaskDefinition
	tools *ToolSet
	refs  []string
}

// NewTask checks everything that can be checked without the rest of the crew:
// required fields, tool scoping and placeholder names. References to other
// tasks' outputs are checked by NewCrew.
func NewTask(def TaskDefinition) (*Task, error) {
	subject := "task " + def.Name
	switch {
	case def.Name == "":
		return nil, configErrorf(ConfigMissingField, "task", "name is required")
	case strings.TrimSpace(def.Description) == "":
		return nil, configErrorf(ConfigMissingField, subject, "description is required")
	case def.Agent == nil:
		return nil, configErrorf(ConfigMissingField, subject, "agent is required")
	case def.Async:
		return nil, configErrorf(ConfigUnsupported, subject, "asynchronous execution is not supported by the sequential process")
	}

	tools := def.Agent.Tools()
	if len(def.Tools) > 0 {
		var err error
		tools, err = def.Agent.Tools().subset(subject, def.Tools)
		if err != nil {
			return nil, err
		}
	}

	var refs []string
	err := checkPlaceholders(subject, def.Description, func(name string) bool {
		if isRunLabel(name) {
			return true
		}
		if ref, ok := outputReference(name); ok {
			refs = append(refs, ref)
			return true
		}
		return false
	})
	if err != nil {
		return nil, err
	}

	def.Tools = tools.Names()
	return &Task{def: def, tools: tools, refs: refs}, nil
}

func (t *Task) GetName() string {
	return t.def.Name
}

func (t *Task) Agent() *Agent {
	return t.def.Agent
}

func (t *Task) Tools() *ToolSet {
	return t.tools
}

func (t *Task) ExpectedOutput() string {
	return t.def.ExpectedOutput
}

// References lists the tasks whose output the description uses.
func (t *Task) References() []string {
	return append([]string(nil), t.refs...)
}

// instruction renders the description against rc and appends the outputs of
// the tasks that already ran.
func (t *Task) instruction(rc *RunContext) (string, error) {
	text, err := RenderTemplate(t.def.Description, rc.Labels())
	if err != nil {
		return "", configErrorf(ConfigUnknownPlaceholder, "task "+t.def.Name, "%v", err)
	}
	if prior := rc.priorContext(); prior != "" {
		text += "\n\nContext from previous tasks:\n" + prior
	}
	return text, nil
}
