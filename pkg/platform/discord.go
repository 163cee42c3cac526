package platform

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/capylabs/capybot/pkg/logger"
)

const (
	sendTimeout           = 10 * time.Second
	typingRefreshInterval = 8 * time.Second
	// Discord caps messages at 2000 characters; leave headroom for natural
	// split points around code blocks.
	sendChunkLimit = 1500
)

// DiscordClient implements Client on top of a discordgo session. Lookups
// prefer the session state cache and fall back to REST.
type DiscordClient struct {
	session   *discordgo.Session
	onMessage func(Message)

	typing   map[string]*typingSession
	typingMu sync.Mutex
}

type typingSession struct {
	pending int
	cancel  context.CancelFunc
}

func NewDiscordClient(token string) (*DiscordClient, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentMessageContent

	return &DiscordClient{
		session: session,
		typing:  make(map[string]*typingSession),
	}, nil
}

// SetHandler registers the inbound message callback. Must be called before
// Start. The client's own messages are not delivered to the handler.
func (c *DiscordClient) SetHandler(handler func(Message)) {
	c.onMessage = handler
}

func (c *DiscordClient) Start(ctx context.Context) error {
	c.session.AddHandler(c.handleMessageCreate)

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}

	self, err := c.session.User("@me")
	if err != nil {
		_ = c.session.Close()
		return fmt.Errorf("fetch bot user: %w", err)
	}
	logger.InfoCF("discord", "Connected", map[string]interface{}{
		"username": self.Username,
		"user_id":  self.ID,
	})
	return nil
}

func (c *DiscordClient) Stop() error {
	c.stopAllTyping()
	if err := c.session.Close(); err != nil {
		return fmt.Errorf("close discord session: %w", err)
	}
	return nil
}

func (c *DiscordClient) handleMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m == nil || m.Author == nil || c.onMessage == nil {
		return
	}
	if s.State.User != nil && m.Author.ID == s.State.User.ID {
		return
	}
	c.onMessage(fromDiscordMessage(m.Message))
}

func (c *DiscordClient) Self() User {
	if c.session.State != nil && c.session.State.User != nil {
		return fromDiscordUser(c.session.State.User, nil)
	}
	return User{}
}

func (c *DiscordClient) Message(ctx context.Context, channelID, messageID string) (*Message, error) {
	dm, err := c.session.ChannelMessage(channelID, messageID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("fetch message %s: %w", messageID, err)
	}
	msg := fromDiscordMessage(dm)
	return &msg, nil
}

func (c *DiscordClient) RecentMessages(ctx context.Context, channelID string, limit int, beforeID string) ([]Message, error) {
	dms, err := c.session.ChannelMessages(channelID, limit, beforeID, "", "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("fetch channel history %s: %w", channelID, err)
	}
	out := make([]Message, 0, len(dms))
	for _, dm := range dms {
		out = append(out, fromDiscordMessage(dm))
	}
	return out, nil
}

func (c *DiscordClient) Channel(ctx context.Context, channelID string) (*ChannelInfo, error) {
	if ch, err := c.session.State.Channel(channelID); err == nil {
		return fromDiscordChannel(ch), nil
	}
	ch, err := c.session.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("fetch channel %s: %w", channelID, err)
	}
	return fromDiscordChannel(ch), nil
}

func (c *DiscordClient) Guild(ctx context.Context, guildID string) (*Guild, error) {
	if g, err := c.session.State.Guild(guildID); err == nil {
		return &Guild{ID: g.ID, Name: g.Name, Description: g.Description}, nil
	}
	g, err := c.session.Guild(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("fetch guild %s: %w", guildID, err)
	}
	return &Guild{ID: g.ID, Name: g.Name, Description: g.Description}, nil
}

func (c *DiscordClient) Role(ctx context.Context, guildID, roleID string) (*Role, error) {
	if r, err := c.session.State.Role(guildID, roleID); err == nil {
		return &Role{ID: r.ID, Name: r.Name}, nil
	}
	roles, err := c.session.GuildRoles(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("fetch roles for guild %s: %w", guildID, err)
	}
	for _, r := range roles {
		if r.ID == roleID {
			return &Role{ID: r.ID, Name: r.Name}, nil
		}
	}
	return nil, fmt.Errorf("role %s not found in guild %s", roleID, guildID)
}

func (c *DiscordClient) User(ctx context.Context, userID string) (*User, error) {
	du, err := c.session.User(userID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("fetch user %s: %w", userID, err)
	}
	u := fromDiscordUser(du, nil)
	return &u, nil
}

func (c *DiscordClient) Send(ctx context.Context, channelID, content string) (*Message, error) {
	defer c.endTyping(channelID)

	if strings.TrimSpace(content) == "" {
		return nil, nil
	}

	var last *discordgo.Message
	for _, chunk := range splitMessage(content, sendChunkLimit) {
		sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		sent, err := c.session.ChannelMessageSend(channelID, chunk, discordgo.WithContext(sendCtx))
		cancel()
		if err != nil {
			return nil, fmt.Errorf("send message to %s: %w", channelID, err)
		}
		last = sent
	}
	if last == nil {
		return nil, nil
	}
	msg := fromDiscordMessage(last)
	return &msg, nil
}

func (c *DiscordClient) React(ctx context.Context, channelID, messageID, emoji string) error {
	if err := c.session.MessageReactionAdd(channelID, messageID, emoji, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("add reaction to %s: %w", messageID, err)
	}
	return nil
}

// BeginTyping shows the typing indicator until the next Send on the channel
// completes (or EndTyping is called). Nested begins are reference counted.
func (c *DiscordClient) BeginTyping(channelID string) {
	if channelID == "" {
		return
	}

	c.typingMu.Lock()
	if sess, ok := c.typing[channelID]; ok {
		sess.pending++
		c.typingMu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.typing[channelID] = &typingSession{pending: 1, cancel: cancel}
	c.typingMu.Unlock()

	c.sendTyping(channelID)

	go func() {
		ticker := time.NewTicker(typingRefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.sendTyping(channelID)
			}
		}
	}()
}

func (c *DiscordClient) EndTyping(channelID string) {
	c.endTyping(channelID)
}

func (c *DiscordClient) sendTyping(channelID string) {
	if err := c.session.ChannelTyping(channelID); err != nil {
		logger.DebugCF("discord", "Typing indicator failed", map[string]interface{}{
			"channel_id": channelID,
			"error":      err.Error(),
		})
	}
}

func (c *DiscordClient) endTyping(channelID string) {
	if channelID == "" {
		return
	}
	c.typingMu.Lock()
	defer c.typingMu.Unlock()

	sess, ok := c.typing[channelID]
	if !ok {
		return
	}
	sess.pending--
	if sess.pending > 0 {
		return
	}
	delete(c.typing, channelID)
	sess.cancel()
}

func (c *DiscordClient) stopAllTyping() {
	c.typingMu.Lock()
	defer c.typingMu.Unlock()
	for id, sess := range c.typing {
		sess.cancel()
		delete(c.typing, id)
	}
}

func fromDiscordUser(du *discordgo.User, member *discordgo.Member) User {
	if du == nil {
		return User{}
	}
	display := du.GlobalName
	if member != nil && member.Nick != "" {
		display = member.Nick
	}
	return User{
		ID:          du.ID,
		Username:    du.Username,
		DisplayName: display,
		Bot:         du.Bot,
	}
}

func fromDiscordChannel(ch *discordgo.Channel) *ChannelInfo {
	name := ch.Name
	if name == "" && ch.Type == discordgo.ChannelTypeDM {
		name = "DM"
	}
	return &ChannelInfo{
		ID:      ch.ID,
		GuildID: ch.GuildID,
		Name:    name,
		Topic:   ch.Topic,
	}
}

func fromDiscordMessage(dm *discordgo.Message) Message {
	msg := Message{
		ID:        dm.ID,
		ChannelID: dm.ChannelID,
		GuildID:   dm.GuildID,
		Author:    fromDiscordUser(dm.Author, dm.Member),
		Content:   dm.Content,
		Timestamp: dm.Timestamp.UTC(),
		System:    dm.Type != discordgo.MessageTypeDefault && dm.Type != discordgo.MessageTypeReply,
	}

	if dm.MessageReference != nil {
		msg.ReferencedID = dm.MessageReference.MessageID
	}
	if dm.ReferencedMessage != nil && dm.ReferencedMessage.Author != nil {
		msg.ReferencedAuthorID = dm.ReferencedMessage.Author.ID
	}

	for _, u := range dm.Mentions {
		msg.Mentions = append(msg.Mentions, fromDiscordUser(u, nil))
	}
	msg.MentionRoleIDs = append(msg.MentionRoleIDs, dm.MentionRoles...)

	for _, a := range dm.Attachments {
		msg.Attachments = append(msg.Attachments, Attachment{
			ID:          a.ID,
			Name:        a.Filename,
			URL:         a.URL,
			ContentType: a.ContentType,
			SizeBytes:   a.Size,
			Width:       a.Width,
			Height:      a.Height,
		})
	}
	return msg
}

// splitMessage splits long content into chunks at natural boundaries,
// extending slightly when a split would land inside a code block.
func splitMessage(content string, limit int) []string {
	var messages []string

	for len(content) > 0 {
		if len(content) <= limit {
			messages = append(messages, content)
			break
		}

		msgEnd := findLastNewline(content[:limit], 200)
		if msgEnd <= 0 {
			msgEnd = findLastSpace(content[:limit], 100)
		}
		if msgEnd <= 0 {
			msgEnd = limit
		}

		candidate := content[:msgEnd]
		if unclosedIdx := findLastUnclosedCodeBlock(candidate); unclosedIdx >= 0 {
			extendedLimit := limit + 500
			if len(content) > extendedLimit {
				if closingIdx := findNextClosingCodeBlock(content, msgEnd); closingIdx > 0 && closingIdx <= extendedLimit {
					msgEnd = closingIdx
				} else {
					msgEnd = findLastNewline(content[:unclosedIdx], 200)
					if msgEnd <= 0 {
						msgEnd = findLastSpace(content[:unclosedIdx], 100)
					}
					if msgEnd <= 0 {
						msgEnd = unclosedIdx
					}
				}
			} else {
				msgEnd = len(content)
			}
		}

		if msgEnd <= 0 {
			msgEnd = limit
		}

		messages = append(messages, content[:msgEnd])
		content = strings.TrimSpace(content[msgEnd:])
	}

	return messages
}

func findLastUnclosedCodeBlock(text string) int {
	count := 0
	lastOpenIdx := -1
	for i := 0; i < len(text); i++ {
		if i+2 < len(text) && text[i] == '`' && text[i+1] == '`' && text[i+2] == '`' {
			if count%2 == 0 {
				lastOpenIdx = i
			}
			count++
			i += 2
		}
	}
	if count%2 == 1 {
		return lastOpenIdx
	}
	return -1
}

func findNextClosingCodeBlock(text string, startIdx int) int {
	for i := startIdx; i < len(text); i++ {
		if i+2 < len(text) && text[i] == '`' && text[i+1] == '`' && text[i+2] == '`' {
			return i + 3
		}
	}
	return -1
}

func findLastNewline(s string, searchWindow int) int {
	searchStart := len(s) - searchWindow
	if searchStart < 0 {
		searchStart = 0
	}
	for i := len(s) - 1; i >= searchStart; i-- {
		if s[i] == '\n' {
			return i
		}
	}
	return -1
}

func findLastSpace(s string, searchWindow int) int {
	searchStart := len(s) - searchWindow
	if searchStart < 0 {
		searchStart = 0
	}
	for i := len(s) - 1; i >= searchStart; i-- {
		if s[i] == ' ' || s[i] == '\t' {
			return i
		}
	}
	return -1
}
