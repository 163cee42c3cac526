package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/capylabs/capybot/pkg/config"
	"github.com/capylabs/capybot/pkg/events"
	"github.com/capylabs/capybot/pkg/platform"
)

func newChatCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "chat",
		Short:   "Talk to the agent in a local terminal session (no Discord)",
		Long:    "Run the full pipeline against an in-memory channel. Useful for trying prompts and tools without a bot token.",
		Example: "  capybot chat",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath())
			if err != nil {
				return err
			}
			if err := cfg.Validate(false); err != nil {
				return err
			}
			return runChat(cfg)
		},
	}
}

// localClient is an in-memory platform for terminal sessions. One channel,
// two users, replies printed to stdout.
type localClient struct {
	mu       sync.Mutex
	messages []platform.Message
	nextID   int
}

var (
	localSelf = platform.User{ID: "0", Username: "capybot", Bot: true}
	localYou  = platform.User{ID: "1", Username: "you"}
)

func (c *localClient) record(author platform.User, content string) platform.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	msg := platform.Message{
		ID:        strconv.Itoa(c.nextID),
		ChannelID: "terminal",
		Author:    author,
		Content:   content,
		Timestamp: time.Now(),
	}
	c.messages = append(c.messages, msg)
	return msg
}

func (c *localClient) Self() platform.User { return localSelf }

func (c *localClient) Message(ctx context.Context, channelID, messageID string) (*platform.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range c.messages {
		if m.ID == messageID {
			return &m, nil
		}
	}
	return nil, errors.New("message not found")
}

func (c *localClient) RecentMessages(ctx context.Context, channelID string, limit int, beforeID string) ([]platform.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]platform.Message, 0, limit)
	for i := len(c.messages) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, c.messages[i])
	}
	return out, nil
}

func (c *localClient) Channel(ctx context.Context, channelID string) (*platform.ChannelInfo, error) {
	return &platform.ChannelInfo{ID: "terminal", Name: "terminal"}, nil
}

func (c *localClient) Guild(ctx context.Context, guildID string) (*platform.Guild, error) {
	return nil, errors.New("no guild in terminal mode")
}

func (c *localClient) Role(ctx context.Context, guildID, roleID string) (*platform.Role, error) {
	return nil, errors.New("no roles in terminal mode")
}

func (c *localClient) User(ctx context.Context, userID string) (*platform.User, error) {
	switch userID {
	case localSelf.ID:
		u := localSelf
		return &u, nil
	case localYou.ID:
		u := localYou
		return &u, nil
	}
	return nil, errors.New("user not found")
}

func (c *localClient) Send(ctx context.Context, channelID, content string) (*platform.Message, error) {
	msg := c.record(localSelf, content)
	fmt.Printf("capybot> %s\n", content)
	return &msg, nil
}

func (c *localClient) React(ctx context.Context, channelID, messageID, emoji string) error {
	fmt.Printf("capybot reacted with %s\n", emoji)
	return nil
}

func runChat(cfg *config.Config) error {
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	client := &localClient{}
	sink := events.NewSink()
	defer sink.Close()

	eng, _, err := buildEngine(cfg, client, store, sink)
	if err != nil {
		return err
	}

	rl, err := readline.New("you> ")
	if err != nil {
		return err
	}
	defer rl.Close()

	fmt.Println("Chatting with capybot. /context dumps the assembled context, /quit exits.")
	ctx := context.Background()

	for {
		line, err := rl.Readline()
		if err != nil {
			return nil
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			return nil
		}

		msg := client.record(localYou, line)

		if line == "/context" {
			markup, err := eng.ContextMarkup(ctx, msg)
			if err != nil {
				fmt.Printf("context build failed: %v\n", err)
				continue
			}
			fmt.Println(markup)
			continue
		}

		// Terminal messages always address the bot directly.
		msg.Mentions = append(msg.Mentions, localSelf)
		eng.HandleMessage(ctx, msg)
	}
}
