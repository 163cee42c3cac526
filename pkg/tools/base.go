// Package tools holds the closed catalog of capabilities the generation loop
// may invoke, plus the registry that dispatches calls by name.
package tools

import "context"

// Tool is the interface that all tools must implement.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) *ToolResult
}

// ToolResult carries either Output or an error, never both.
type ToolResult struct {
	Output  string
	IsError bool
	Err     error
}

func SuccessResult(output string) *ToolResult {
	return &ToolResult{Output: output}
}

func ErrorResult(message string) *ToolResult {
	return &ToolResult{Output: message, IsError: true}
}

func (r *ToolResult) WithError(err error) *ToolResult {
	r.Err = err
	return r
}

type toolExecutionContext struct {
	channelID string
	messageID string
}

type toolExecutionContextKey struct{}

// withToolExecutionContext annotates a call context with the triggering
// message's location so tools can act on "here" without extra arguments.
func withToolExecutionContext(ctx context.Context, channelID, messageID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, toolExecutionContextKey{}, toolExecutionContext{
		channelID: channelID,
		messageID: messageID,
	})
}

func channelMessageFromContext(ctx context.Context) (string, string) {
	if ctx == nil {
		return "", ""
	}
	execCtx, ok := ctx.Value(toolExecutionContextKey{}).(toolExecutionContext)
	if !ok {
		return "", ""
	}
	return execCtx.channelID, execCtx.messageID
}
