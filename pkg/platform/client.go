// Package platform abstracts the group-chat platform behind a small fetch/send
// capability so the gate, assembler, and tools never touch a session type
// directly.
package platform

import (
	"context"
	"regexp"
	"time"
)

type User struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName,omitempty"`
	Bot         bool   `json:"bot,omitempty"`
}

// Name returns the best human-facing name for the user.
func (u User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}

type Role struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type ChannelInfo struct {
	ID      string `json:"id"`
	GuildID string `json:"guildId,omitempty"`
	Name    string `json:"name"`
	Topic   string `json:"topic,omitempty"`
}

type Guild struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type Attachment struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	URL         string `json:"url"`
	ContentType string `json:"mimeType,omitempty"`
	SizeBytes   int    `json:"sizeBytes"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
}

type Message struct {
	ID        string    `json:"id"`
	ChannelID string    `json:"channelId"`
	GuildID   string    `json:"guildId,omitempty"`
	Author    User      `json:"author"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`

	// ReferencedID is the id of the message this one replies to, if any.
	// ReferencedAuthorID is filled when the platform delivered the referenced
	// message inline; it spares a fetch when checking reply-to-self.
	ReferencedID       string `json:"referencedMessageId,omitempty"`
	ReferencedAuthorID string `json:"-"`

	Mentions        []User       `json:"-"`
	MentionRoleIDs  []string     `json:"-"`
	Attachments     []Attachment `json:"attachments,omitempty"`
	System          bool         `json:"-"`
}

var channelMentionRe = regexp.MustCompile(`<#(\d+)>`)

// MentionedChannelIDs extracts channel references from the raw content.
func (m Message) MentionedChannelIDs() []string {
	matches := channelMentionRe.FindAllStringSubmatch(m.Content, -1)
	if len(matches) == 0 {
		return nil
	}
	ids := make([]string, 0, len(matches))
	seen := make(map[string]struct{}, len(matches))
	for _, match := range matches {
		if _, ok := seen[match[1]]; ok {
			continue
		}
		seen[match[1]] = struct{}{}
		ids = append(ids, match[1])
	}
	return ids
}

// MentionsUser reports whether the message directly mentions the given user id.
func (m Message) MentionsUser(id string) bool {
	for _, u := range m.Mentions {
		if u.ID == id {
			return true
		}
	}
	return false
}

// Client is the consumed chat-platform capability. Every call is independently
// fallible; callers decide which failures are soft.
type Client interface {
	// Self returns the identity the client is connected as.
	Self() User

	Message(ctx context.Context, channelID, messageID string) (*Message, error)
	// RecentMessages returns up to limit messages from the channel, newest
	// first, optionally only those before beforeID.
	RecentMessages(ctx context.Context, channelID string, limit int, beforeID string) ([]Message, error)

	Channel(ctx context.Context, channelID string) (*ChannelInfo, error)
	Guild(ctx context.Context, guildID string) (*Guild, error)
	Role(ctx context.Context, guildID, roleID string) (*Role, error)
	User(ctx context.Context, userID string) (*User, error)

	Send(ctx context.Context, channelID, content string) (*Message, error)
	React(ctx context.Context, channelID, messageID, emoji string) error
}
