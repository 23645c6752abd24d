package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
)

type ToolExecutor interface {
	GetName() string
	GetDescription() string
	Execute(ctx context.Context, input string) (string, error)
	GetToolDescriptor() ToolDescriptor
}

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// NewInbuiltToolExecutor wraps handler, a func(context.Context, In) (Out, error)
// where In is a struct, into a ToolExecutor. In's JSON schema becomes the
// parameters advertised to the model.
func NewInbuiltToolExecutor(name string, description string, handler any) (ToolExecutor, error) {
	if name == "" {
		return nil, configErrorf(ConfigMissingField, "tool", "name is required")
	}
	handlerValue := reflect.ValueOf(handler)
	if !handlerValue.IsValid() || handlerValue.Kind() != reflect.Func {
		return nil, configErrorf(ConfigInvalidValue, name, "handler is not a function")
	}
	handlerType := handlerValue.Type()
	if handlerType.NumIn() != 2 || !handlerType.In(0).Implements(contextType) {
		return nil, configErrorf(ConfigInvalidValue, name, "handler must take (context.Context, input)")
	}
	if handlerType.NumOut() != 2 || !handlerType.Out(1).Implements(errorType) {
		return nil, configErrorf(ConfigInvalidValue, name, "handler must return (output, error)")
	}

	inputType := handlerType.In(1)
	schema, err := GetSchema(reflect.New(inputType).Interface())
	if err != nil {
		return nil, configErrorf(ConfigInvalidValue, name, "input schema: %v", err)
	}

	return &InbuiltToolExecutor{
		toolDescriptor: ToolDescriptor{
			Name:        name,
			Description: description,
			Parameters:  schema,
		},
		inputType: inputType,
		handler:   handlerValue,
	}, nil
}

type InbuiltToolExecutor struct {
	toolDescriptor ToolDescriptor
	inputType      reflect.Type
	handler        reflect.Value
}

func (i *InbuiltToolExecutor) GetName() string {
	return i.toolDescriptor.Name
}

func (i *InbuiltToolExecutor) GetDescription() string {
	return i.toolDescriptor.Description
}

func (i *InbuiltToolExecutor) GetToolDescriptor() ToolDescriptor {
	return i.toolDescriptor
}

// Execute decodes input into the handler's input struct and calls it. Errors
// come back as *ToolError with the tool name filled in.
func (i *InbuiltToolExecutor) Execute(ctx context.Context, input string) (string, error) {
	inputPtr := reflect.New(i.inputType)
	if input == "" {
		input = "{}"
	}
	if err := json.Unmarshal([]byte(input), inputPtr.Interface()); err != nil {
		return "", i.toolError(NewToolError(ToolInvalidInput, fmt.Errorf("failed to unmarshal JSON input: %w", err)))
	}

	results := i.handler.Call([]reflect.Value{reflect.ValueOf(ctx), inputPtr.Elem()})

	if errInterface := results[1].Interface(); errInterface != nil {
		return "", i.toolError(errInterface.(error))
	}

	switch result := results[0].Interface().(type) {
	case nil:
		return "", nil
	case string:
		return result, nil
	default:
		b, err := json.Marshal(result)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}

func (i *InbuiltToolExecutor) toolError(err error) error {
	var te *ToolError
	if errors.As(err, &te) {
		if te.Tool == "" {
			te.Tool = i.toolDescriptor.Name
		}
		return te
	}
	return &ToolError{Kind: ToolExtractionError, Tool: i.toolDescriptor.Name, Cause: err}
}

// ToolSet is an immutable subset of a registry, resolved once at construction.
type ToolSet struct {
	tools map[string]ToolExecutor
	names []string
}

func newToolSet(registry *ToolRegistry, subject string, names []string) (*ToolSet, error) {
	set := &ToolSet{tools: make(map[string]ToolExecutor, len(names))}
	for _, name := range names {
		if _, dup := set.tools[name]; dup {
			return nil, configErrorf(ConfigDuplicateName, subject, "tool %q listed twice", name)
		}
		executor := registry.Get(name)
		if executor == nil {
			return nil, configErrorf(ConfigUnknownTool, subject, "tool %q is not registered", name)
		}
		set.tools[name] = executor
		set.names = append(set.names, name)
	}
	sort.Strings(set.names)
	return set, nil
}

// subset returns the tools of names, all of which must belong to s.
func (s *ToolSet) subset(subject string, names []string) (*ToolSet, error) {
	out := &ToolSet{tools: make(map[string]ToolExecutor, len(names))}
	for _, name := range names {
		executor, ok := s.tools[name]
		if !ok {
			return nil, configErrorf(ConfigToolNotPermitted, subject, "tool %q is not permitted to the bound agent", name)
		}
		out.tools[name] = executor
		out.names = append(out.names, name)
	}
	sort.Strings(out.names)
	return out, nil
}

func (s *ToolSet) Names() []string {
	return append([]string(nil), s.names...)
}

func (s *ToolSet) Has(name string) bool {
	_, ok := s.tools[name]
	return ok
}

func (s *ToolSet) Len() int {
	return len(s.names)
}

func (s *ToolSet) ListToolDescriptors() []ToolDescriptor {
	list := make([]ToolDescriptor, 0, len(s.names))
	for _, name := range s.names {
		list = append(list, s.tools[name].GetToolDescriptor())
	}
	return list
}

// Invoke runs a permitted tool synchronously. Names outside the set fail with
// ToolNotPermitted.
func (s *ToolSet) Invoke(ctx context.Context, name string, args string) (string, error) {
	executor, ok := s.tools[name]
	if !ok {
		return "", &ToolError{Kind: ToolNotPermitted, Tool: name, Cause: fmt.Errorf("available tools: %v", s.names)}
	}
	return executor.Execute(ctx, args)
}
