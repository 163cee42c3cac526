package tools

import (
	"context"
	"fmt"

	"github.com/capylabs/capybot/pkg/platform"
)

// ReactTool adds an emoji reaction, defaulting to the triggering message.
type ReactTool struct {
	client platform.Client
}

func NewReactTool(client platform.Client) *ReactTool {
	return &ReactTool{client: client}
}

func (t *ReactTool) Name() string {
	return "react"
}

func (t *ReactTool) Description() string {
	return "Add an emoji reaction to a message. Defaults to the message being replied to when message_id is omitted."
}

func (t *ReactTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"emoji": map[string]interface{}{
				"type":        "string",
				"description": "The emoji to react with, e.g. 👍",
			},
			"message_id": map[string]interface{}{
				"type":        "string",
				"description": "Optional: the id of the message to react to",
			},
		},
		"required": []string{"emoji"},
	}
}

func (t *ReactTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	emoji, ok := args["emoji"].(string)
	if !ok || emoji == "" {
		return ErrorResult("emoji is required")
	}

	ctxChannel, ctxMessage := channelMessageFromContext(ctx)
	messageID, _ := args["message_id"].(string)
	if messageID == "" {
		messageID = ctxMessage
	}
	if ctxChannel == "" || messageID == "" {
		return ErrorResult("no target message available for reaction")
	}

	if err := t.client.React(ctx, ctxChannel, messageID, emoji); err != nil {
		return ErrorResult(fmt.Sprintf("adding reaction %s: %v", emoji, err)).WithError(err)
	}
	return SuccessResult(fmt.Sprintf("Reacted to message %s with %s", messageID, emoji))
}
