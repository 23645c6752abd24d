package llm

import (
	"context"
	"fmt"
	"strings"

	"bloodtest/analyser-app/core"
	"bloodtest/analyser-app/tools"
)

const dummyReplyLimit = 2000

// Dummy is an offline model for local runs. On the first turn of a step it
// reads the report when the reader tool is offered; afterwards it answers
// with the last non-empty line of its input.
type Dummy struct {
	Prefix string
}

func NewDummy(prefix string) *Dummy {
	if strings.TrimSpace(prefix) == "" {
		prefix = "Dummy response:"
	}
	return &Dummy{Prefix: prefix}
}

func (d *Dummy) Generate(_ context.Context, systemContext string, history []core.ChatContent, input core.LLMInput) (core.LLMOutput, error) {
	path := input.Labels[core.LabelFilePath]
	if len(history) == 0 && path != "" && strings.Contains(systemContext, fmt.Sprintf("%q", tools.ReportReaderTool)) {
		text := fmt.Sprintf("<thinking>I should read the report first.</thinking>\n<tool_call>\n<tool_name>%s</tool_name>\n<parameters>{\"file_path\": %q}</parameters>\n</tool_call>",
			tools.ReportReaderTool, path)
		return d.output(input.Text, text), nil
	}

	lines := strings.Split(input.Text, "\n")
	var last string
	for i := len(lines) - 1; i >= 0; i-- {
		if candidate := strings.TrimSpace(lines[i]); candidate != "" {
			last = candidate
			break
		}
	}
	if last == "" {
		last = "<empty prompt>"
	}
	last, _ = core.TruncateRunes(last, dummyReplyLimit)
	return d.output(input.Text, fmt.Sprintf("<response>%s %s</response>", d.Prefix, last)), nil
}

func (d *Dummy) output(prompt, text string) core.LLMOutput {
	in, out := int32(len(strings.Fields(prompt))), int32(len(strings.Fields(text)))
	return core.LLMOutput{Text: text, Stats: core.Stats{InputTokenCount: in, OutputTokenCount: out, TotalTokenCount: in + out}}
}

var _ core.LLM = (*Dummy)(nil)
