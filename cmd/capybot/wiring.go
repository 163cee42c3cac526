package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/capylabs/capybot/pkg/audit"
	"github.com/capylabs/capybot/pkg/config"
	"github.com/capylabs/capybot/pkg/engine"
	"github.com/capylabs/capybot/pkg/events"
	"github.com/capylabs/capybot/pkg/gate"
	"github.com/capylabs/capybot/pkg/orchestrator"
	"github.com/capylabs/capybot/pkg/platform"
	"github.com/capylabs/capybot/pkg/providers"
	"github.com/capylabs/capybot/pkg/snapshot"
	"github.com/capylabs/capybot/pkg/tools"
)

func openStore(cfg *config.Config) (audit.Store, error) {
	switch cfg.Audit.Backend {
	case "sqlite":
		return audit.NewSQLiteStore(filepath.Join(cfg.DataDir(), "audit.db"))
	default:
		return audit.NewFileStore(cfg.AuditDir())
	}
}

func gateOptions(cfg *config.Config) gate.Options {
	return gate.Options{
		Keywords:            cfg.Gate.TriggerKeywords,
		OverhearProbability: cfg.Gate.OverhearProbability,
		MinOverhearLength:   cfg.Gate.MinOverhearLength,
		HotWindow:           time.Duration(cfg.Gate.HotWindowSeconds) * time.Second,
		ReactionWindow:      time.Duration(cfg.Gate.ReactionWindowSecs) * time.Second,
		RecentWindow:        cfg.Gate.RecentWindow,
	}
}

func buildRegistry(client platform.Client) *tools.Registry {
	registry := tools.NewRegistry()
	registry.Register(tools.NewLookupUserTool(client))
	registry.Register(tools.NewChannelInfoTool(client))
	registry.Register(tools.NewReactTool(client))
	registry.Register(tools.NewCurrentTimeTool())
	return registry
}

func systemPrompt(cfg *config.Config, toolNames []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, a casual member of this chat server.\n", cfg.Bot.Name)
	b.WriteString("You see the conversation as a tagged context block: the channel, the people in it, recent history, and the current message.\n")
	b.WriteString("Reply like a regular participant. Keep it short and conversational; this is a group chat, not a help desk.\n")
	b.WriteString("You were not necessarily addressed directly. If you jumped in on your own, make it feel natural.\n")
	if len(toolNames) > 0 {
		fmt.Fprintf(&b, "You can use these tools when they genuinely help: %s.\n", strings.Join(toolNames, ", "))
	}
	return b.String()
}

// buildEngine wires the full per-message pipeline around a platform client.
func buildEngine(cfg *config.Config, client platform.Client, store audit.Store, sink *events.Sink) (*engine.Engine, *gate.StateStore, error) {
	provider, err := providers.NewChatCompletionsProvider(cfg.Provider.APIKey, cfg.Provider.APIBase, cfg.Provider.Model, cfg.Provider.Proxy)
	if err != nil {
		return nil, nil, err
	}

	states := gate.NewStateStore()
	recent := func(ctx context.Context, channelID string, limit int) ([]platform.Message, error) {
		return client.RecentMessages(ctx, channelID, limit, "")
	}
	gateEngine := gate.NewEngine(states, gateOptions(cfg), client.Self().ID, recent)

	registry := buildRegistry(client)
	assembler := snapshot.NewAssembler(client, store, cfg.Context.HistoryLimit)
	loop := orchestrator.NewLoop(provider, registry, store, cfg.Provider.Model, cfg.Loop.MaxSteps, systemPrompt(cfg, registry.List()))

	return engine.New(client, gateEngine, assembler, loop, store, sink), states, nil
}
