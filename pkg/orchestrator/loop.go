// Package orchestrator drives the bounded tool-augmented generation loop.
// Every internal failure resolves to user-facing text; Run never errors.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/capylabs/capybot/pkg/audit"
	"github.com/capylabs/capybot/pkg/logger"
	"github.com/capylabs/capybot/pkg/providers"
	"github.com/capylabs/capybot/pkg/snapshot"
	"github.com/capylabs/capybot/pkg/tools"
)

const (
	overloadedText    = "Sorry, I'm a bit overloaded right now. Try me again in a moment."
	maxStepsText      = "I reached my maximum number of steps working on that. Here's where I got stuck; try rephrasing?"
	stillThinkingText = "Still thinking about that one... ask me again and I'll take another run at it."
)

func toolErrorText(toolName string) string {
	return fmt.Sprintf("I hit an error running the %s tool and had to stop there.", toolName)
}

// Result is the loop's terminal outcome. ResponseID groups the persisted
// parts of one generation.
type Result struct {
	Text       string
	ResponseID string
}

type Loop struct {
	provider providers.LLMProvider
	registry *tools.Registry
	store    audit.Store
	model    string
	maxSteps int
	system   string

	now   func() time.Time
	newID func() string
}

func NewLoop(provider providers.LLMProvider, registry *tools.Registry, store audit.Store, model string, maxSteps int, systemPrompt string) *Loop {
	if maxSteps <= 0 {
		maxSteps = 10
	}
	return &Loop{
		provider: provider,
		registry: registry,
		store:    store,
		model:    model,
		maxSteps: maxSteps,
		system:   systemPrompt,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Run executes up to maxSteps model rounds for the snapshot's current message.
// The response id is the message id joined with the generation's start time so
// retries of the same message produce distinct part groups.
func (l *Loop) Run(ctx context.Context, snap *snapshot.Snapshot) Result {
	messageID := snap.Current.ID
	responseID := fmt.Sprintf("%s:%d", messageID, l.now().Unix())

	messages := []providers.Message{
		{Role: "system", Content: l.system},
		{Role: "user", Content: snap.Markup()},
	}
	definitions := l.registry.Definitions()

	var recorded []audit.ToolCall
	partOrder := 0
	partialText := ""

	finish := func(text string) Result {
		l.saveCalls(messageID, recorded)
		return Result{Text: text, ResponseID: responseID}
	}

	for step := 0; step < l.maxSteps; step++ {
		response, err := l.provider.Chat(ctx, messages, definitions, l.model)
		if err != nil {
			logger.ErrorCF("loop", "Model call failed", map[string]interface{}{
				"messageId": messageID, "step": step, "error": err.Error(),
			})
			return finish(overloadedText)
		}

		if len(response.ToolCalls) > 0 {
			if response.Content != "" {
				partialText = response.Content
			}

			assistantMsg := providers.Message{Role: "assistant", Content: response.Content, ToolCalls: response.ToolCalls}
			messages = append(messages, assistantMsg)

			for _, tc := range response.ToolCalls {
				args := parseArguments(tc.Function.Arguments)

				l.appendPart(responseID, audit.ResponsePart{
					ID:        l.newID(),
					MessageID: messageID,
					Type:      audit.PartToolCall,
					Content:   fmt.Sprintf("Calling %s", tc.Function.Name),
					ToolName:  tc.Function.Name,
					ToolArgs:  args,
					Timestamp: l.now().UTC(),
					Order:     partOrder,
				})
				partOrder++

				result := l.registry.Execute(ctx, tc.Function.Name, args, snap.Channel.ID, messageID)

				entry := audit.ToolCall{
					ID:          l.newID(),
					ToolCallID:  tc.ID,
					ToolName:    tc.Function.Name,
					Input:       args,
					StepNumber:  step,
					TimestampMS: l.now().UnixMilli(),
				}
				if result.IsError {
					entry.IsError = true
					entry.Error = result.Output
					recorded = append(recorded, entry)
					return finish(toolErrorText(tc.Function.Name))
				}
				entry.Output = result.Output
				recorded = append(recorded, entry)

				l.appendPart(responseID, audit.ResponsePart{
					ID:         l.newID(),
					MessageID:  messageID,
					Type:       audit.PartToolResponse,
					Content:    fmt.Sprintf("%s returned", tc.Function.Name),
					ToolName:   tc.Function.Name,
					ToolResult: result.Output,
					Timestamp:  l.now().UTC(),
					Order:      partOrder,
				})
				partOrder++

				messages = append(messages, providers.Message{
					Role:       "tool",
					Content:    result.Output,
					ToolCallID: tc.ID,
					Name:       tc.Function.Name,
				})
			}
			continue
		}

		if response.Content != "" {
			l.appendPart(responseID, audit.ResponsePart{
				ID:        l.newID(),
				MessageID: messageID,
				Type:      audit.PartText,
				Content:   response.Content,
				Timestamp: l.now().UTC(),
				Order:     partOrder,
			})
			return finish(response.Content)
		}

		if response.Reasoning != "" {
			if step == l.maxSteps-1 {
				if partialText != "" {
					return finish(partialText)
				}
				return finish(stillThinkingText)
			}
			messages = append(messages, providers.Message{Role: "assistant", Content: response.Reasoning})
			continue
		}

		logger.WarnCF("loop", "Empty model response", map[string]interface{}{
			"messageId": messageID, "step": step, "finishReason": response.FinishReason,
		})
		return finish(overloadedText)
	}

	return finish(maxStepsText)
}

// saveCalls is best-effort; a failed save never blocks the reply.
func (l *Loop) saveCalls(messageID string, calls []audit.ToolCall) {
	if err := l.store.SaveCalls(messageID, calls); err != nil {
		logger.ErrorCF("loop", "Saving tool calls failed", map[string]interface{}{
			"messageId": messageID, "error": err.Error(),
		})
	}
}

func (l *Loop) appendPart(responseID string, part audit.ResponsePart) {
	if err := l.store.AppendPart(responseID, part); err != nil {
		logger.ErrorCF("loop", "Persisting response part failed", map[string]interface{}{
			"responseId": responseID, "order": part.Order, "error": err.Error(),
		})
	}
}

func parseArguments(raw string) map[string]interface{} {
	args := map[string]interface{}{}
	if raw == "" {
		return args
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		args["raw"] = raw
	}
	return args
}
