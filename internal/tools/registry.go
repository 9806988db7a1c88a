package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ananyateklu/second-brain-go/internal/llm"
)

// Tool describes a callable agent tool.
type Tool interface {
	Spec() llm.ToolSpec
	Execute(ctx context.Context, args json.RawMessage) (string, error)
	// Preview returns a human-readable description of what the tool will do,
	// shown in the event stream before execution starts.
	// Returns empty string if no preview is available.
	Preview(args json.RawMessage) string
}

// Registry stores tools by name for execution.
type Registry struct {
	tools map[string]Tool
	order []string
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

func (r *Registry) Register(tool Tool) {
	name := tool.Spec().Name
	if _, exists := r.tools[name]; !exists {
		r.order = append(r.order, name)
	}
	r.tools[name] = tool
}

func (r *Registry) Get(name string) (Tool, bool) {
	tool, ok := r.tools[name]
	return tool, ok
}

// AllSpecs returns the specs for all registered tools in registration order.
func (r *Registry) AllSpecs() []llm.ToolSpec {
	specs := make([]llm.ToolSpec, 0, len(r.tools))
	for _, name := range r.order {
		specs = append(specs, r.tools[name].Spec())
	}
	return specs
}

// Outcome is the record of a single tool execution.
type Outcome struct {
	Content  string
	Success  bool
	Duration time.Duration
}

// Dispatcher executes tool calls. Failures never cross the boundary as
// errors or panics: an unknown tool, an execution error, or a panic all
// come back as an Outcome with Success=false and a diagnostic message the
// model can read.
type Dispatcher struct {
	registry *Registry
}

func NewDispatcher(registry *Registry) *Dispatcher {
	return &Dispatcher{registry: registry}
}

// Execute runs the named tool with the given JSON arguments.
func (d *Dispatcher) Execute(ctx context.Context, name string, args json.RawMessage) (out Outcome) {
	start := time.Now()
	defer func() {
		out.Duration = time.Since(start)
		if r := recover(); r != nil {
			log.Error().Str("tool", name).Interface("panic", r).Msg("tool execution panicked")
			out = Outcome{
				Content:  fmt.Sprintf("Tool %s failed: internal error", name),
				Success:  false,
				Duration: time.Since(start),
			}
		}
	}()

	tool, ok := d.registry.Get(name)
	if !ok {
		return Outcome{Content: fmt.Sprintf("Unknown tool: %s", name), Success: false}
	}

	content, err := tool.Execute(ctx, args)
	if err != nil {
		log.Warn().Str("tool", name).Err(err).Msg("tool execution failed")
		return Outcome{Content: fmt.Sprintf("Tool %s failed: %v", name, err), Success: false}
	}
	return Outcome{Content: content, Success: true}
}

// Preview returns the registered tool's preview text, or "" when the tool is
// unknown or offers none.
func (d *Dispatcher) Preview(name string, args json.RawMessage) string {
	tool, ok := d.registry.Get(name)
	if !ok {
		return ""
	}
	return tool.Preview(args)
}
