package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/capylabs/capybot/pkg/audit"
	"github.com/capylabs/capybot/pkg/config"
	"github.com/capylabs/capybot/pkg/events"
	"github.com/capylabs/capybot/pkg/logger"
	"github.com/capylabs/capybot/pkg/platform"
)

func newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "run",
		Short:   "Connect to Discord and run the agent until interrupted",
		Example: "  capybot run --debug",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath())
			if err != nil {
				return err
			}
			if err := cfg.Validate(true); err != nil {
				return err
			}
			return runGateway(cfg)
		},
	}
}

func runGateway(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open audit store: %w", err)
	}
	defer store.Close()

	client, err := platform.NewDiscordClient(cfg.Discord.Token)
	if err != nil {
		return fmt.Errorf("create discord client: %w", err)
	}
	if err := client.Start(ctx); err != nil {
		return fmt.Errorf("connect to discord: %w", err)
	}
	defer client.Stop()

	sink := events.NewSink()
	defer sink.Close()

	eng, _, err := buildEngine(cfg, client, store, sink)
	if err != nil {
		return err
	}

	pruner, err := audit.NewPruner(store, cfg.Audit.PruneSchedule, cfg.Audit.RetentionDays)
	if err != nil {
		return err
	}
	go pruner.Run(ctx)

	// Channels are independent; every inbound message gets its own goroutine
	// and the gate's generation slot serializes same-channel work.
	client.SetHandler(func(msg platform.Message) {
		go eng.HandleMessage(ctx, msg)
	})

	logger.InfoCF("main", "Capybot is up", map[string]interface{}{
		"user": client.Self().Username, "auditBackend": cfg.Audit.Backend,
	})

	<-ctx.Done()
	logger.InfoC("main", "Shutting down")
	return nil
}
