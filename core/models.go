package core

import "time"

type RunStatus string

const (
	StatusSuccess RunStatus = "success"
	StatusFailure RunStatus = "failure"
)

type RunRequest struct {
	Query        string
	DocumentPath string
}

type ErrorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Task    string `json:"task,omitempty"`
}

type TaskOutput struct {
	Task       string   `json:"task"`
	Agent      string   `json:"agent"`
	Text       string   `json:"text"`
	Iterations int      `json:"iterations"`
	ToolCalls  int      `json:"tool_calls"`
	ToolErrors []string `json:"tool_errors,omitempty"`
	Truncated  bool     `json:"truncated,omitempty"`
	Stats      Stats    `json:"stats"`
}

type RunResult struct {
	RunID      string       `json:"run_id"`
	Status     RunStatus    `json:"status"`
	Text       string       `json:"text"`
	Error      *ErrorDetail `json:"error,omitempty"`
	Tasks      []TaskOutput `json:"tasks"`
	Stats      Stats        `json:"stats"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
}

func (r RunResult) Succeeded() bool {
	return r.Status == StatusSuccess
}

type ProcessPolicy string

const ProcessSequential ProcessPolicy = "sequential"

// CompositionPolicy decides how task outputs become RunResult.Text.
type CompositionPolicy string

const (
	ComposeLastOnly       CompositionPolicy = "last-only"
	ComposeConcatenateAll CompositionPolicy = "concatenate-all"
)
