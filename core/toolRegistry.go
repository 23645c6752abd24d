package core

import (
	"context"
	"sort"
	"sync"
)

// ToolRegistry maps tool names to executors. It is filled at startup and only
// read afterwards.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]ToolExecutor
}

func NewToolRegistry(executors ...ToolExecutor) (*ToolRegistry, error) {
	registry := &ToolRegistry{tools: make(map[string]ToolExecutor)}
	for _, executor := range executors {
		if err := registry.Register(executor); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func (tr *ToolRegistry) Register(executor ToolExecutor) error {
	name := executor.GetName()
	if name == "" {
		return configErrorf(ConfigMissingField, "tool registry", "tool name is required")
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if _, ok := tr.tools[name]; ok {
		return configErrorf(ConfigDuplicateName, "tool registry", "tool %q already registered", name)
	}
	tr.tools[name] = executor
	return nil
}

func (tr *ToolRegistry) Get(name string) ToolExecutor {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return tr.tools[name]
}

func (tr *ToolRegistry) Names() []string {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	names := make([]string, 0, len(tr.tools))
	for name := range tr.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Invoke runs any registered tool; unknown names yield ToolNotPermitted.
func (tr *ToolRegistry) Invoke(ctx context.Context, name string, args string) (string, error) {
	executor := tr.Get(name)
	if executor == nil {
		return "", &ToolError{Kind: ToolNotPermitted, Tool: name}
	}
	return executor.Execute(ctx, args)
}
