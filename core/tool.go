package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/invopop/jsonschema"
)

var systemToolPrompt = `
You have access to the following tools. Each tool has specific capabilities and parameters that you must understand to use them correctly.
<tools>
{{tools}}
</tools>
Tools Usage Instructions
When using tools, follow these guidelines:

1. Tool Selection: Choose the most appropriate tool for the current step. Only the tools listed above exist.
2. Parameter Formatting: Provide every required parameter as a JSON object.
3. Tool Invocation Format: Use the following format to invoke a tool, then stop and wait for the result:

<tool_call>
  <tool_name>name_of_the_tool</tool_name>
  <parameters>
    {"param1": "value1", "param2": "value2"}
  </parameters>
</tool_call>

4. Response Handling: Tool results arrive inside <tool_result></tool_result>. Incorporate them into your answer.
5. Error Handling: If a tool result starts with "error:", explain the problem in your answer instead of inventing data.
6. Multiple Tool Calls: You can make several tool calls in sequence when necessary.
`

var systemDelegationPrompt = `
You can ask the following coworkers for help:
<agents>
{{agents}}
</agents>
Delegation Instructions
1. Delegate only when a coworker's role fits the question better than yours.
2. Agent Invocation Format:

<agent_call>
  <agent_name>name_of_the_agent</agent_name>
  <input>
    natural text input
  </input>
</agent_call>

3. Coworker answers arrive inside <agent_result></agent_result>.
`

type AgentDescriptor struct {
	Name        string `json:"name"`
	Role        string `json:"role"`
	Description string `json:"description"`
}

type AgentCall struct {
	AgentName string
	Input     string
}

type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolCall represents a parsed tool call from the content
type ToolCall struct {
	ToolName  string
	Arguments string
	Err       error
}

type ToolResult struct {
	ToolName string `json:"tool_name"`
	Output   string `json:"output"`
}

type AgentResult struct {
	AgentName string `json:"agent_name"`
	Output    string `json:"output"`
}

func GetToolPrompt(tools []ToolDescriptor) string {
	toolsStr := []byte("[]")
	if len(tools) > 0 {
		b, err := json.Marshal(tools)
		if err == nil {
			toolsStr = b
		}
	}
	return ReplaceLabels(systemToolPrompt, map[string]string{"tools": string(toolsStr)})
}

func GetDelegationPrompt(agents []AgentDescriptor) string {
	agentsStr := []byte("[]")
	if len(agents) > 0 {
		b, err := json.Marshal(agents)
		if err == nil {
			agentsStr = b
		}
	}
	return ReplaceLabels(systemDelegationPrompt, map[string]string{"agents": string(agentsStr)})
}

var toolPattern = `(?s)<tool_call>\s*<tool_name>(.*?)</tool_name>\s*<parameters>\s*(.*?)\s*</parameters>\s*</tool_call>`
var toolRegEx = regexp.MustCompile(toolPattern)

var agentPattern = `(?s)<agent_call>\s*<agent_name>(.*?)</agent_name>\s*<input>\s*(.*?)\s*</input>\s*</agent_call>`
var agentRegEx = regexp.MustCompile(agentPattern)

// ExtractToolCalls extracts tool calls from the given content. A call whose
// parameters are not a JSON object is still returned, with Err set, so the
// model can be told what went wrong.
func ExtractToolCalls(content string) []ToolCall {
	var toolCalls []ToolCall
	for _, match := range toolRegEx.FindAllStringSubmatch(content, -1) {
		toolName := strings.TrimSpace(match[1])
		params := strings.TrimSpace(match[2])
		if params == "" {
			params = "{}"
		}

		call := ToolCall{ToolName: toolName, Arguments: params}
		var probe map[string]any
		if err := json.Unmarshal([]byte(params), &probe); err != nil {
			call.Err = &ToolError{
				Kind:  ToolInvalidInput,
				Tool:  toolName,
				Cause: fmt.Errorf("parameters are not a JSON object: %w", err),
			}
		}
		toolCalls = append(toolCalls, call)
	}
	return toolCalls
}

// ExtractAgentCalls extracts agent calls from the given content
func ExtractAgentCalls(content string) []AgentCall {
	var agentCalls []AgentCall
	for _, match := range agentRegEx.FindAllStringSubmatch(content, -1) {
		agentCalls = append(agentCalls, AgentCall{
			AgentName: strings.TrimSpace(match[1]),
			Input:     strings.TrimSpace(match[2]),
		})
	}
	return agentCalls
}

var thinkingRegEx = regexp.MustCompile(`(?s)<thinking>.*?</thinking>`)
var anyTagRegEx = regexp.MustCompile(`</?[a-z_]+>`)

// StripCalls removes tool calls, agent calls and thinking blocks from a reply,
// leaving whatever prose the model wrote around them.
func StripCalls(content string) string {
	content = toolRegEx.ReplaceAllString(content, "")
	content = agentRegEx.ReplaceAllString(content, "")
	content = thinkingRegEx.ReplaceAllString(content, "")
	return strings.TrimSpace(content)
}

// extractTagContent returns the inner text of every <tag>…</tag> in s, joined by newlines.
func extractTagContent(s, tag string) (string, bool) {
	var results []string
	openTag := fmt.Sprintf("<%s>", tag)
	closeTag := fmt.Sprintf("</%s>", tag)

	for {
		start := strings.Index(s, openTag)
		if start == -1 {
			break
		}
		end := strings.Index(s[start:], closeTag)
		if end == -1 {
			break
		}
		results = append(results, s[start+len(openTag):start+end])
		s = s[start+end+len(closeTag):]
	}
	if len(results) == 0 {
		return "", false
	}
	return strings.TrimSpace(strings.Join(results, "\n")), true
}

// finalAnswer picks the user-facing part of a reply without calls.
func finalAnswer(content string) string {
	if resp, ok := extractTagContent(content, "response"); ok && resp != "" {
		return resp
	}
	return strings.TrimSpace(anyTagRegEx.ReplaceAllString(StripCalls(content), ""))
}

var schemaReflector = &jsonschema.Reflector{ExpandedStruct: true, DoNotReference: true}

// GetSchema returns the JSON schema of the struct obj points to.
func GetSchema(obj any) (json.RawMessage, error) {
	if reflect.ValueOf(obj).Kind() != reflect.Ptr {
		return nil, errors.New("object must be a pointer")
	}
	pointsToValue := reflect.Indirect(reflect.ValueOf(obj))
	if pointsToValue.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%s not supported as an input", pointsToValue.Kind())
	}
	b, err := schemaReflector.Reflect(obj).MarshalJSON()
	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}
