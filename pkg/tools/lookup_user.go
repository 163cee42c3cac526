package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/capylabs/capybot/pkg/platform"
)

// LookupUserTool resolves a user id to profile metadata.
type LookupUserTool struct {
	client platform.Client
}

func NewLookupUserTool(client platform.Client) *LookupUserTool {
	return &LookupUserTool{client: client}
}

func (t *LookupUserTool) Name() string {
	return "lookup_user"
}

func (t *LookupUserTool) Description() string {
	return "Look up a user's profile by their id. Returns username, display name, and whether they are a bot."
}

func (t *LookupUserTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"user_id": map[string]interface{}{
				"type":        "string",
				"description": "The id of the user to look up",
			},
		},
		"required": []string{"user_id"},
	}
}

func (t *LookupUserTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	userID, ok := args["user_id"].(string)
	if !ok || userID == "" {
		return ErrorResult("user_id is required")
	}

	user, err := t.client.User(ctx, userID)
	if err != nil {
		return ErrorResult(fmt.Sprintf("looking up user %s: %v", userID, err)).WithError(err)
	}

	data, err := json.Marshal(user)
	if err != nil {
		return ErrorResult(fmt.Sprintf("encoding user: %v", err)).WithError(err)
	}
	return SuccessResult(string(data))
}
