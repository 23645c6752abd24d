package core

import (
	"fmt"
	"strings"
)

// RunContext is the per-run state threaded through a crew: the request
// labels plus every completed task's output in declaration order. It belongs
// to exactly one run and is never shared.
type RunContext struct {
	ID           string
	Query        string
	DocumentPath string
	outputs      []TaskOutput
}

func NewRunContext(id string, req RunRequest) *RunContext {
	return &RunContext{ID: id, Query: req.Query, DocumentPath: req.DocumentPath}
}

// Labels returns the template variables visible at this point of the run.
func (rc *RunContext) Labels() map[string]string {
	labels := map[string]string{
		LabelQuery:    rc.Query,
		LabelFilePath: rc.DocumentPath,
	}
	for _, out := range rc.outputs {
		labels[OutputLabel(out.Task)] = out.Text
	}
	return labels
}

func (rc *RunContext) Record(out TaskOutput) {
	rc.outputs = append(rc.outputs, out)
}

func (rc *RunContext) Output(task string) (TaskOutput, bool) {
	for _, out := range rc.outputs {
		if out.Task == task {
			return out, true
		}
	}
	return TaskOutput{}, false
}

func (rc *RunContext) Outputs() []TaskOutput {
	return append([]TaskOutput(nil), rc.outputs...)
}

// priorContext renders the completed outputs for the next task's prompt.
func (rc *RunContext) priorContext() string {
	if len(rc.outputs) == 0 {
		return ""
	}
	var b strings.Builder
	for _, out := range rc.outputs {
		fmt.Fprintf(&b, "<task_output name=%q agent=%q>\n%s\n</task_output>\n", out.Task, out.Agent, out.Text)
	}
	return b.String()
}
