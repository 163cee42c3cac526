// Package audit persists the per-message trail of tool invocations and
// response fragments produced by the orchestration loop, with retention-based
// pruning. Two backends share the Store contract: a file-per-message JSON
// store and a sqlite store.
package audit

import (
	"time"
)

// ToolCall is one recorded tool invocation. Output and the error fields are
// mutually exclusive; StepNumber is non-decreasing within one generation.
type ToolCall struct {
	ID          string                 `json:"id"`
	ToolCallID  string                 `json:"toolCallId"`
	ToolName    string                 `json:"toolName"`
	Input       map[string]interface{} `json:"input"`
	Output      string                 `json:"output,omitempty"`
	IsError     bool                   `json:"isError"`
	Error       string                 `json:"error,omitempty"`
	StepNumber  int                    `json:"stepNumber"`
	TimestampMS int64                  `json:"timestampMs"`
}

type PartType string

const (
	PartText         PartType = "text"
	PartToolCall     PartType = "tool_call"
	PartToolResponse PartType = "tool_response"
)

// ResponsePart is one ordered fragment of a generated response. Order starts
// at 0 and increases by exactly 1 within one response id; at most one text
// part terminates a generation.
type ResponsePart struct {
	ID         string                 `json:"id"`
	MessageID  string                 `json:"messageId"`
	Type       PartType               `json:"type"`
	Content    string                 `json:"content"`
	ToolName   string                 `json:"toolName,omitempty"`
	ToolArgs   map[string]interface{} `json:"toolArgs,omitempty"`
	ToolResult string                 `json:"toolResult,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	Order      int                    `json:"order"`
}

// Store is the audit persistence contract. Reads are best-effort: absent or
// unreadable records yield empty slices, never errors. Writes report errors
// so callers can log them, but callers never let a failed save block a reply.
type Store interface {
	// SaveCalls persists the full ordered call list for a triggering message.
	// A nil or empty list is a no-op.
	SaveCalls(messageID string, calls []ToolCall) error
	// Calls returns the recorded call list, empty if absent or unreadable.
	Calls(messageID string) []ToolCall

	// AppendPart adds one response part to the message's part log.
	AppendPart(messageID string, part ResponsePart) error
	// Parts returns the recorded parts in order, empty if absent.
	Parts(messageID string) []ResponsePart

	// Prune removes entries older than retentionDays and deletes records left
	// empty. Returns the number of entries removed.
	Prune(retentionDays int) (int, error)

	Close() error
}

func retentionHorizon(retentionDays int, now time.Time) time.Time {
	return now.Add(-time.Duration(retentionDays) * 24 * time.Hour)
}
