package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/capylabs/capybot/pkg/logger"
	"github.com/capylabs/capybot/pkg/providers"
)

// ErrUnknownTool marks a dispatch to a name outside the catalog. It aborts
// the current tool-call branch, never the whole process.
var ErrUnknownTool = errors.New("unknown tool")

type Registry struct {
	tools map[string]Tool
	mu    sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Execute dispatches by exact name match. channelID and messageID identify
// the triggering message and are made available to the tool via its context.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}, channelID, messageID string) *ToolResult {
	logger.InfoCF("tool", "Tool execution started", map[string]interface{}{
		"tool": name, "channelId": channelID,
	})

	tool, ok := r.Get(name)
	if !ok {
		logger.ErrorCF("tool", "Tool not found", map[string]interface{}{"tool": name})
		return ErrorResult(fmt.Sprintf("tool %q not found", name)).
			WithError(fmt.Errorf("%w: %s", ErrUnknownTool, name))
	}

	execCtx := withToolExecutionContext(ctx, channelID, messageID)

	start := time.Now()
	result := tool.Execute(execCtx, args)
	duration := time.Since(start)
	if result == nil {
		err := fmt.Errorf("tool %q returned nil result", name)
		logger.ErrorCF("tool", "Tool returned nil result", map[string]interface{}{"tool": name})
		return ErrorResult(err.Error()).WithError(err)
	}

	if result.IsError {
		logger.ErrorCF("tool", "Tool execution failed", map[string]interface{}{
			"tool": name, "duration_ms": duration.Milliseconds(), "error": result.Output,
		})
	} else {
		logger.InfoCF("tool", "Tool execution completed", map[string]interface{}{
			"tool": name, "duration_ms": duration.Milliseconds(), "result_length": len(result.Output),
		})
	}
	return result
}

// Definitions returns the catalog in provider format, sorted by name so the
// prompt is stable across runs.
func (r *Registry) Definitions() []providers.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	definitions := make([]providers.ToolDefinition, 0, len(names))
	for _, name := range names {
		tool := r.tools[name]
		definitions = append(definitions, providers.ToolDefinition{
			Type: "function",
			Function: providers.FunctionDef{
				Name:        tool.Name(),
				Description: tool.Description(),
				Parameters:  tool.Parameters(),
			},
		})
	}
	return definitions
}

// List returns all registered tool names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
