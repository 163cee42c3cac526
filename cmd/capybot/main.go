package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/capylabs/capybot/pkg/logger"
)

var version = "dev"

func main() {
	defer logger.Sync()
	if err := buildRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func buildRootCommand() *cobra.Command {
	var debug bool

	root := &cobra.Command{
		Use:   "capybot",
		Short: "Ambient Discord chat agent with engagement gating and tool calling",
		Long: strings.TrimSpace(`capybot lurks in your Discord channels and decides on its own when to join
the conversation. It assembles channel context, can call tools mid-reply, and
keeps an auditable trail of everything it did.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if debug {
				logger.SetLevel(logger.DEBUG)
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = cmd.Help()
			return fmt.Errorf("a subcommand is required")
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	root.AddCommand(newOnboardCommand())
	root.AddCommand(newRunCommand())
	root.AddCommand(newChatCommand())
	root.AddCommand(newToolCallsCommand())
	root.AddCommand(newPruneCommand())
	root.AddCommand(newStatusCommand())
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("capybot %s\n", version)
		},
	})

	return root
}

func configPath() string {
	if p := os.Getenv("CAPYBOT_CONFIG"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".capybot/config.json"
	}
	return filepath.Join(home, ".capybot", "config.json")
}
