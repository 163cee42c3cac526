package tools

import (
	"context"
	"errors"
	"testing"
	"time"
)

type probeTool struct {
	name    string
	result  *ToolResult
	gotArgs map[string]interface{}
	gotCtx  context.Context
}

func (p *probeTool) Name() string        { return p.name }
func (p *probeTool) Description() string { return "probe" }
func (p *probeTool) Parameters() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
}
func (p *probeTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	p.gotArgs = args
	p.gotCtx = ctx
	return p.result
}

func TestRegistry_ExecuteDispatchesByName(t *testing.T) {
	registry := NewRegistry()
	probe := &probeTool{name: "probe", result: SuccessResult("ok")}
	registry.Register(probe)

	result := registry.Execute(context.Background(), "probe", map[string]interface{}{"x": 1}, "ch1", "m1")
	if result.IsError || result.Output != "ok" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if probe.gotArgs["x"] != 1 {
		t.Fatalf("args not forwarded: %v", probe.gotArgs)
	}

	channelID, messageID := channelMessageFromContext(probe.gotCtx)
	if channelID != "ch1" || messageID != "m1" {
		t.Fatalf("execution context not attached: %s, %s", channelID, messageID)
	}
}

func TestRegistry_UnknownToolIsHardError(t *testing.T) {
	registry := NewRegistry()
	result := registry.Execute(context.Background(), "nope", nil, "ch1", "m1")
	if !result.IsError {
		t.Fatalf("expected error result")
	}
	if !errors.Is(result.Err, ErrUnknownTool) {
		t.Fatalf("expected ErrUnknownTool, got %v", result.Err)
	}
}

func TestRegistry_NilResultBecomesError(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&probeTool{name: "broken", result: nil})

	result := registry.Execute(context.Background(), "broken", nil, "", "")
	if !result.IsError || result.Err == nil {
		t.Fatalf("nil result not converted: %+v", result)
	}
}

func TestRegistry_DefinitionsSortedByName(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&probeTool{name: "zeta", result: SuccessResult("")})
	registry.Register(&probeTool{name: "alpha", result: SuccessResult("")})

	defs := registry.Definitions()
	if len(defs) != 2 {
		t.Fatalf("expected 2 definitions, got %d", len(defs))
	}
	if defs[0].Function.Name != "alpha" || defs[1].Function.Name != "zeta" {
		t.Fatalf("definitions not sorted: %s, %s", defs[0].Function.Name, defs[1].Function.Name)
	}
	if defs[0].Type != "function" {
		t.Fatalf("wrong definition type: %s", defs[0].Type)
	}
}

func TestCurrentTimeTool(t *testing.T) {
	tool := NewCurrentTimeTool()
	tool.now = func() time.Time {
		return time.Date(2026, 9, 1, 15, 30, 0, 0, time.UTC)
	}

	result := tool.Execute(context.Background(), map[string]interface{}{})
	if result.IsError {
		t.Fatalf("unexpected error: %+v", result)
	}
	if result.Output != "Tuesday, September 1, 2026 15:30:00 UTC" {
		t.Fatalf("unexpected output: %q", result.Output)
	}

	bad := tool.Execute(context.Background(), map[string]interface{}{"timezone": "Not/AZone"})
	if !bad.IsError {
		t.Fatalf("expected error for unknown timezone")
	}
}
