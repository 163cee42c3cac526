package snapshot

import (
	"context"
	"fmt"
	"time"

	"github.com/capylabs/capybot/pkg/audit"
	"github.com/capylabs/capybot/pkg/logger"
	"github.com/capylabs/capybot/pkg/platform"
)

// MessageView is one message as the model sees it: resolved author name,
// attachments, and any tool calls recorded for it in a previous generation.
type MessageView struct {
	ID           string                `json:"id"`
	AuthorID     string                `json:"authorId"`
	AuthorName   string                `json:"authorName"`
	Content      string                `json:"content"`
	Timestamp    time.Time             `json:"timestampUtc"`
	ReferencedID string                `json:"referencedMessageId,omitempty"`
	Attachments  []platform.Attachment `json:"attachments,omitempty"`
	ToolCalls    []audit.ToolCall      `json:"toolCalls,omitempty"`
}

// Snapshot is the full situational bundle for one generation. History never
// contains the current message; messages referenced but outside the history
// window appear under Referenced instead of being dropped.
type Snapshot struct {
	Guild      *platform.Guild      `json:"guild,omitempty"`
	Channel    platform.ChannelInfo `json:"channel"`
	Entities   []Entity             `json:"entities"`
	History    []MessageView        `json:"messageHistory"`
	Referenced []MessageView        `json:"referencedMessages,omitempty"`
	Current    MessageView          `json:"currentMessage"`
}

// BuildError is returned only when the channel itself cannot be fetched.
// Every other enrichment failure degrades to an omission.
type BuildError struct {
	ChannelID string
	Err       error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build context for channel %s: %v", e.ChannelID, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

type Assembler struct {
	client       platform.Client
	store        audit.Store
	historyLimit int
}

func NewAssembler(client platform.Client, store audit.Store, historyLimit int) *Assembler {
	if historyLimit <= 0 {
		historyLimit = 50
	}
	return &Assembler{client: client, store: store, historyLimit: historyLimit}
}

// Build assembles a snapshot around msg. Channel metadata is the one fetch
// that must succeed; guild, history, and reference resolution all fail soft.
func (a *Assembler) Build(ctx context.Context, msg platform.Message) (*Snapshot, error) {
	channel, err := a.client.Channel(ctx, msg.ChannelID)
	if err != nil {
		return nil, &BuildError{ChannelID: msg.ChannelID, Err: err}
	}

	snap := &Snapshot{Channel: *channel}
	registry := NewRegistry()
	selfID := a.client.Self().ID

	if msg.GuildID != "" {
		guild, err := a.client.Guild(ctx, msg.GuildID)
		if err != nil {
			logger.DebugCF("snapshot", "Guild fetch failed, omitting", map[string]interface{}{
				"guildId": msg.GuildID, "error": err.Error(),
			})
		} else {
			snap.Guild = guild
		}
	}

	a.registerMessage(ctx, registry, msg, selfID)

	history, err := a.client.RecentMessages(ctx, msg.ChannelID, a.historyLimit, "")
	if err != nil {
		logger.WarnCF("snapshot", "History fetch failed, continuing without", map[string]interface{}{
			"channelId": msg.ChannelID, "error": err.Error(),
		})
		history = nil
	}

	// Track which ids the history window covers so missing references can be
	// resolved individually afterwards.
	inWindow := map[string]bool{msg.ID: true}
	wanted := map[string]bool{}
	if msg.ReferencedID != "" {
		wanted[msg.ReferencedID] = true
	}

	// Platform returns newest first; the model reads oldest first.
	for i := len(history) - 1; i >= 0; i-- {
		hm := history[i]
		if hm.ID == msg.ID || hm.System {
			continue
		}
		inWindow[hm.ID] = true
		a.registerMessage(ctx, registry, hm, selfID)
		if hm.ReferencedID != "" {
			wanted[hm.ReferencedID] = true
		}
		snap.History = append(snap.History, a.view(hm, true))
	}

	for id := range wanted {
		if inWindow[id] {
			continue
		}
		ref, err := a.client.Message(ctx, msg.ChannelID, id)
		if err != nil {
			logger.DebugCF("snapshot", "Referenced message unavailable, omitting", map[string]interface{}{
				"messageId": id, "error": err.Error(),
			})
			continue
		}
		a.registerMessage(ctx, registry, *ref, selfID)
		snap.Referenced = append(snap.Referenced, a.view(*ref, false))
	}

	// The current message is annotated too: on a retry the model sees the
	// tool work already done for it.
	snap.Current = a.view(msg, true)
	snap.Entities = registry.All()
	return snap, nil
}

// registerMessage folds a message's author, mentioned users, channels, and
// roles into the registry. Metadata fetches for channels and roles fail soft.
func (a *Assembler) registerMessage(ctx context.Context, registry *Registry, msg platform.Message, selfID string) {
	registry.RegisterUser(msg.Author, selfID)
	for _, u := range msg.Mentions {
		registry.RegisterUser(u, selfID)
	}
	for _, id := range msg.MentionedChannelIDs() {
		if registry.Has(id) {
			continue
		}
		ch, err := a.client.Channel(ctx, id)
		if err != nil {
			registry.Register(Entity{ID: id, Kind: KindChannel, DisplayName: "unknown-channel"})
			continue
		}
		registry.Register(Entity{ID: id, Kind: KindChannel, DisplayName: ch.Name})
	}
	for _, id := range msg.MentionRoleIDs {
		if registry.Has(id) || msg.GuildID == "" {
			continue
		}
		role, err := a.client.Role(ctx, msg.GuildID, id)
		if err != nil {
			registry.Register(Entity{ID: id, Kind: KindRole, DisplayName: "unknown-role"})
			continue
		}
		registry.Register(Entity{ID: id, Kind: KindRole, DisplayName: role.Name})
	}
}

func (a *Assembler) view(msg platform.Message, annotate bool) MessageView {
	view := MessageView{
		ID:           msg.ID,
		AuthorID:     msg.Author.ID,
		AuthorName:   msg.Author.Name(),
		Content:      msg.Content,
		Timestamp:    msg.Timestamp.UTC(),
		ReferencedID: msg.ReferencedID,
		Attachments:  msg.Attachments,
	}
	if annotate {
		view.ToolCalls = a.store.Calls(msg.ID)
	}
	return view
}
