package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Bot      BotConfig      `json:"bot"`
	Gate     GateConfig     `json:"gate"`
	Context  ContextConfig  `json:"context"`
	Loop     LoopConfig     `json:"loop"`
	Audit    AuditConfig    `json:"audit"`
	Discord  DiscordConfig  `json:"discord"`
	Provider ProviderConfig `json:"provider"`
}

type BotConfig struct {
	// Name is the persona name used in the system prompt.
	Name string `json:"name" env:"CAPYBOT_BOT_NAME"`
	// DataDir is the root for all on-disk state.
	DataDir string `json:"data_dir" env:"CAPYBOT_BOT_DATA_DIR"`
}

// GateConfig holds the engagement-gating knobs. The windows and the overhear
// probability are deliberately plain config values rather than derived
// constants; tune them per deployment.
type GateConfig struct {
	TriggerKeywords     []string `json:"trigger_keywords" env:"CAPYBOT_GATE_TRIGGER_KEYWORDS"`
	OverhearProbability float64  `json:"overhear_probability" env:"CAPYBOT_GATE_OVERHEAR_PROBABILITY"`
	MinOverhearLength   int      `json:"min_overhear_length" env:"CAPYBOT_GATE_MIN_OVERHEAR_LENGTH"`
	HotWindowSeconds    int      `json:"hot_window_seconds" env:"CAPYBOT_GATE_HOT_WINDOW_SECONDS"`
	ReactionWindowSecs  int      `json:"reaction_window_seconds" env:"CAPYBOT_GATE_REACTION_WINDOW_SECONDS"`
	RecentWindow        int      `json:"recent_window" env:"CAPYBOT_GATE_RECENT_WINDOW"`
}

type ContextConfig struct {
	HistoryLimit int `json:"history_limit" env:"CAPYBOT_CONTEXT_HISTORY_LIMIT"`
}

type LoopConfig struct {
	MaxSteps int `json:"max_steps" env:"CAPYBOT_LOOP_MAX_STEPS"`
}

type AuditConfig struct {
	// Backend selects the store implementation: "file" or "sqlite".
	Backend       string `json:"backend" env:"CAPYBOT_AUDIT_BACKEND"`
	Dir           string `json:"dir" env:"CAPYBOT_AUDIT_DIR"`
	RetentionDays int    `json:"retention_days" env:"CAPYBOT_AUDIT_RETENTION_DAYS"`
	PruneSchedule string `json:"prune_schedule" env:"CAPYBOT_AUDIT_PRUNE_SCHEDULE"`
}

type DiscordConfig struct {
	Token string `json:"token" env:"CAPYBOT_DISCORD_TOKEN"`
}

type ProviderConfig struct {
	APIKey  string `json:"api_key" env:"CAPYBOT_PROVIDER_API_KEY"`
	APIBase string `json:"api_base" env:"CAPYBOT_PROVIDER_API_BASE"`
	Model   string `json:"model" env:"CAPYBOT_PROVIDER_MODEL"`
	Proxy   string `json:"proxy,omitempty" env:"CAPYBOT_PROVIDER_PROXY"`
}

func DefaultConfig() *Config {
	return &Config{
		Bot: BotConfig{
			Name:    "capybot",
			DataDir: "~/.capybot",
		},
		Gate: GateConfig{
			TriggerKeywords:     []string{"capybot"},
			OverhearProbability: 0.02,
			MinOverhearLength:   12,
			HotWindowSeconds:    300,
			ReactionWindowSecs:  30,
			RecentWindow:        5,
		},
		Context: ContextConfig{
			HistoryLimit: 50,
		},
		Loop: LoopConfig{
			MaxSteps: 10,
		},
		Audit: AuditConfig{
			Backend:       "file",
			Dir:           "~/.capybot/audit",
			RetentionDays: 30,
			PruneSchedule: "0 4 * * *",
		},
		Provider: ProviderConfig{
			APIBase: "https://openrouter.ai/api/v1",
			Model:   "openai/gpt-5.2",
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if envErr := env.Parse(cfg); envErr != nil {
				return nil, envErr
			}
			return cfg, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// DataDir returns the expanded on-disk state root.
func (c *Config) DataDir() string {
	return expandHome(c.Bot.DataDir)
}

// AuditDir returns the expanded audit store directory.
func (c *Config) AuditDir() string {
	return expandHome(c.Audit.Dir)
}

// Validate checks the fields a live gateway cannot run without.
func (c *Config) Validate(requireDiscord bool) error {
	if strings.TrimSpace(c.Provider.APIKey) == "" {
		return fmt.Errorf("provider.api_key is required (or CAPYBOT_PROVIDER_API_KEY)")
	}
	if requireDiscord && strings.TrimSpace(c.Discord.Token) == "" {
		return fmt.Errorf("discord.token is required (or CAPYBOT_DISCORD_TOKEN)")
	}
	if c.Gate.OverhearProbability < 0 || c.Gate.OverhearProbability > 1 {
		return fmt.Errorf("gate.overhear_probability must be within [0, 1], got %v", c.Gate.OverhearProbability)
	}
	if c.Loop.MaxSteps < 1 {
		return fmt.Errorf("loop.max_steps must be at least 1, got %d", c.Loop.MaxSteps)
	}
	switch c.Audit.Backend {
	case "file", "sqlite":
	default:
		return fmt.Errorf("audit.backend must be \"file\" or \"sqlite\", got %q", c.Audit.Backend)
	}
	return nil
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
