package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/capylabs/capybot/pkg/config"
)

func newToolCallsCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "toolcalls <message-id>",
		Short:   "Show the recorded tool calls for a message",
		Args:    cobra.ExactArgs(1),
		Example: "  capybot toolcalls 1287650011223344",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath())
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			calls := store.Calls(args[0])
			if len(calls) == 0 {
				fmt.Println("No tool calls recorded for this message.")
				return nil
			}
			data, err := json.MarshalIndent(calls, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		},
	}
}

func newPruneCommand() *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:     "prune",
		Short:   "Delete audit entries older than the retention window",
		Example: "  capybot prune --days 14",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath())
			if err != nil {
				return err
			}
			if days <= 0 {
				days = cfg.Audit.RetentionDays
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			removed, err := store.Prune(days)
			if err != nil {
				return err
			}
			fmt.Printf("Removed %d entries older than %d days.\n", removed, days)
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", 0, "Retention in days (defaults to the configured value)")
	return cmd
}

func newOnboardCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "onboard",
		Short:   "Write a default config file to ~/.capybot",
		Example: "  capybot onboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath()
			if _, err := os.Stat(path); err == nil {
				fmt.Printf("Config already exists at %s, leaving it alone.\n", path)
				return nil
			}

			cfg := config.DefaultConfig()
			if err := config.SaveConfig(path, cfg); err != nil {
				return err
			}
			fmt.Printf("Wrote default config to %s\n", path)
			fmt.Println("Set discord.token and provider.api_key (or CAPYBOT_DISCORD_TOKEN / CAPYBOT_PROVIDER_API_KEY), then run `capybot run`.")
			return nil
		},
	}
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		Short:   "Show configuration and readiness",
		Example: "  capybot status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath())
			if err != nil {
				return err
			}

			fmt.Printf("Config:     %s\n", configPath())
			fmt.Printf("Data dir:   %s\n", cfg.DataDir())
			fmt.Printf("Model:      %s @ %s\n", cfg.Provider.Model, cfg.Provider.APIBase)
			fmt.Printf("Audit:      %s backend, %d day retention, prune at %q\n",
				cfg.Audit.Backend, cfg.Audit.RetentionDays, cfg.Audit.PruneSchedule)
			fmt.Printf("Keywords:   %s\n", strings.Join(cfg.Gate.TriggerKeywords, ", "))
			fmt.Printf("Gate:       overhear %.1f%%, hot window %s, reaction window %s\n",
				cfg.Gate.OverhearProbability*100,
				time.Duration(cfg.Gate.HotWindowSeconds)*time.Second,
				time.Duration(cfg.Gate.ReactionWindowSecs)*time.Second)

			if err := cfg.Validate(true); err != nil {
				fmt.Printf("\nNot ready: %v\n", err)
				return nil
			}
			fmt.Println("\nReady to run.")
			return nil
		},
	}
}
