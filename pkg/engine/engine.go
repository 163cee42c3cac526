// Package engine wires the gate, assembler, and orchestration loop into the
// per-message pipeline.
package engine

import (
	"context"

	"github.com/capylabs/capybot/pkg/audit"
	"github.com/capylabs/capybot/pkg/events"
	"github.com/capylabs/capybot/pkg/gate"
	"github.com/capylabs/capybot/pkg/logger"
	"github.com/capylabs/capybot/pkg/orchestrator"
	"github.com/capylabs/capybot/pkg/platform"
	"github.com/capylabs/capybot/pkg/snapshot"
)

// typingClient is implemented by platforms that support a typing indicator.
type typingClient interface {
	BeginTyping(channelID string)
	EndTyping(channelID string)
}

type Engine struct {
	client    platform.Client
	gate      *gate.Engine
	assembler *snapshot.Assembler
	loop      *orchestrator.Loop
	store     audit.Store
	sink      *events.Sink
}

func New(client platform.Client, gateEngine *gate.Engine, assembler *snapshot.Assembler, loop *orchestrator.Loop, store audit.Store, sink *events.Sink) *Engine {
	return &Engine{
		client:    client,
		gate:      gateEngine,
		assembler: assembler,
		loop:      loop,
		store:     store,
		sink:      sink,
	}
}

// HandleMessage runs the full pipeline for one inbound message. It is safe
// to call concurrently for messages in different channels; the gate's
// generation slot serializes same-channel work.
func (e *Engine) HandleMessage(ctx context.Context, msg platform.Message) {
	self := e.client.Self()
	if msg.Author.ID == self.ID {
		return
	}

	addressed := msg.MentionsUser(self.ID) || (msg.ReferencedAuthorID != "" && msg.ReferencedAuthorID == self.ID)

	decision := e.gate.Decide(ctx, msg, addressed)
	if !decision.Process {
		logger.DebugCF("engine", "Message declined", map[string]interface{}{
			"channelId": msg.ChannelID, "messageId": msg.ID, "reason": decision.Reason,
		})
		e.publish(events.Event{Kind: events.KindDeclined, ChannelID: msg.ChannelID, MessageID: msg.ID, Reason: decision.Reason})
		return
	}

	if !e.gate.BeginGeneration(msg.ChannelID) {
		logger.InfoCF("engine", "Generation slot busy", map[string]interface{}{
			"channelId": msg.ChannelID, "messageId": msg.ID,
		})
		e.publish(events.Event{Kind: events.KindDeclined, ChannelID: msg.ChannelID, MessageID: msg.ID, Reason: gate.ReasonBusyGenerating})
		return
	}
	defer e.gate.EndGeneration(msg.ChannelID)

	logger.InfoCF("engine", "Engaging", map[string]interface{}{
		"channelId": msg.ChannelID, "messageId": msg.ID, "reason": decision.Reason,
	})
	e.publish(events.Event{Kind: events.KindEngaged, ChannelID: msg.ChannelID, MessageID: msg.ID, Reason: decision.Reason})

	if typing, ok := e.client.(typingClient); ok {
		typing.BeginTyping(msg.ChannelID)
		defer typing.EndTyping(msg.ChannelID)
	}

	snap, err := e.assembler.Build(ctx, msg)
	if err != nil {
		// Total platform failure at the outermost handler: log, no reply.
		logger.ErrorCF("engine", "Context build failed", map[string]interface{}{
			"channelId": msg.ChannelID, "messageId": msg.ID, "error": err.Error(),
		})
		e.publish(events.Event{Kind: events.KindLoopError, ChannelID: msg.ChannelID, MessageID: msg.ID, Reason: "context_build_failed"})
		return
	}

	result := e.loop.Run(ctx, snap)
	if result.Text == "" {
		return
	}

	if _, err := e.client.Send(ctx, msg.ChannelID, result.Text); err != nil {
		logger.ErrorCF("engine", "Reply send failed", map[string]interface{}{
			"channelId": msg.ChannelID, "messageId": msg.ID, "error": err.Error(),
		})
		e.publish(events.Event{Kind: events.KindLoopError, ChannelID: msg.ChannelID, MessageID: msg.ID, Reason: "send_failed"})
		return
	}

	e.gate.MarkEngaged(msg.ChannelID, msg.Author.ID)
	e.publish(events.Event{Kind: events.KindReplied, ChannelID: msg.ChannelID, MessageID: msg.ID, Reason: decision.Reason})
}

// ToolCalls exposes the recorded audit trail for a triggering message.
func (e *Engine) ToolCalls(messageID string) []audit.ToolCall {
	return e.store.Calls(messageID)
}

// ContextMarkup builds and serializes the snapshot for a message without
// running the generation loop. Used for debugging and export.
func (e *Engine) ContextMarkup(ctx context.Context, msg platform.Message) (string, error) {
	snap, err := e.assembler.Build(ctx, msg)
	if err != nil {
		return "", err
	}
	return snap.Markup(), nil
}

func (e *Engine) publish(evt events.Event) {
	if e.sink != nil {
		e.sink.Publish(evt)
	}
}
