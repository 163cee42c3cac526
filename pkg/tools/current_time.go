package tools

import (
	"context"
	"fmt"
	"time"
)

// CurrentTimeTool reports the current time, optionally in a named zone.
type CurrentTimeTool struct {
	now func() time.Time
}

func NewCurrentTimeTool() *CurrentTimeTool {
	return &CurrentTimeTool{now: time.Now}
}

func (t *CurrentTimeTool) Name() string {
	return "current_time"
}

func (t *CurrentTimeTool) Description() string {
	return "Get the current date and time. Accepts an optional IANA timezone name like America/New_York."
}

func (t *CurrentTimeTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"timezone": map[string]interface{}{
				"type":        "string",
				"description": "Optional: IANA timezone name, defaults to UTC",
			},
		},
	}
}

func (t *CurrentTimeTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	loc := time.UTC
	if name, _ := args["timezone"].(string); name != "" {
		parsed, err := time.LoadLocation(name)
		if err != nil {
			return ErrorResult(fmt.Sprintf("unknown timezone %q", name)).WithError(err)
		}
		loc = parsed
	}
	return SuccessResult(t.now().In(loc).Format("Monday, January 2, 2006 15:04:05 MST"))
}
