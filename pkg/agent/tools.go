package agent

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/netra-ai/netra/pkg/execution"
)

// Tool is one capability the supervisor can invoke on behalf of a user. Tools
// receive the execution context so they can scope their work to the calling
// user; they must never cache it.
type Tool interface {
	Name() string
	Description() string
	Execute(ctx context.Context, execCtx *execution.UserExecutionContext, args map[string]any) (string, error)
}

// Dispatcher is a thread-safe registry of tools keyed by name.
type Dispatcher struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewDispatcher creates an empty tool registry.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{tools: make(map[string]Tool)}
}

// Register adds a tool. Registering a duplicate name is an error: silent
// replacement would make tool behavior depend on registration order.
func (d *Dispatcher) Register(tool Tool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.tools[tool.Name()]; exists {
		return fmt.Errorf("tool %q is already registered", tool.Name())
	}
	d.tools[tool.Name()] = tool
	return nil
}

// Dispatch runs the named tool for the given execution context.
func (d *Dispatcher) Dispatch(ctx context.Context, execCtx *execution.UserExecutionContext, name string, args map[string]any) (string, error) {
	d.mu.RLock()
	tool, ok := d.tools[name]
	d.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("unknown tool %q", name)
	}
	return tool.Execute(ctx, execCtx, args)
}

// Names returns the registered tool names, sorted.
func (d *Dispatcher) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.tools))
	for name := range d.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe returns one "name: description" line per registered tool, sorted
// by name. Used to advertise the registry to the model.
func (d *Dispatcher) Describe() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	lines := make([]string, 0, len(d.tools))
	for _, tool := range d.tools {
		lines = append(lines, tool.Name()+": "+tool.Description())
	}
	sort.Strings(lines)
	return lines
}

// CurrentTimeTool reports the current UTC time. The one builtin every
// deployment registers, since models have no clock of their own.
type CurrentTimeTool struct{}

func (CurrentTimeTool) Name() string        { return "current_time" }
func (CurrentTimeTool) Description() string { return "returns the current UTC date and time" }

func (CurrentTimeTool) Execute(_ context.Context, _ *execution.UserExecutionContext, _ map[string]any) (string, error) {
	return time.Now().UTC().Format(time.RFC3339), nil
}
