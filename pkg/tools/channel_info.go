package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/capylabs/capybot/pkg/platform"
)

// ChannelInfoTool returns metadata for a channel. With no argument it
// describes the channel the conversation is happening in.
type ChannelInfoTool struct {
	client platform.Client
}

func NewChannelInfoTool(client platform.Client) *ChannelInfoTool {
	return &ChannelInfoTool{client: client}
}

func (t *ChannelInfoTool) Name() string {
	return "channel_info"
}

func (t *ChannelInfoTool) Description() string {
	return "Get metadata about a channel (name, topic, server). Defaults to the current channel when channel_id is omitted."
}

func (t *ChannelInfoTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"channel_id": map[string]interface{}{
				"type":        "string",
				"description": "Optional: the id of the channel to describe",
			},
		},
	}
}

func (t *ChannelInfoTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	channelID, _ := args["channel_id"].(string)
	if channelID == "" {
		channelID, _ = channelMessageFromContext(ctx)
	}
	if channelID == "" {
		return ErrorResult("no channel specified and no current channel available")
	}

	channel, err := t.client.Channel(ctx, channelID)
	if err != nil {
		return ErrorResult(fmt.Sprintf("fetching channel %s: %v", channelID, err)).WithError(err)
	}

	data, err := json.Marshal(channel)
	if err != nil {
		return ErrorResult(fmt.Sprintf("encoding channel: %v", err)).WithError(err)
	}
	return SuccessResult(string(data))
}
