package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

const (
	envConfigPath        = "AUTOREPLY_CONFIG"
	envRulesPath         = "AUTOREPLY_RULES_PATH"
	envTelegramBotToken  = "TELEGRAM_BOT_TOKEN"
	envTelegramAllowFrom = "TELEGRAM_ALLOW_FROM"
	envDiscordBotToken   = "DISCORD_BOT_TOKEN"
	envDiscordAllowFrom  = "DISCORD_ALLOW_FROM"

	TransportTelegram = "telegram"
	TransportDiscord  = "discord"

	DefaultRulesPath   = "rules.json"
	DefaultGatewayHost = "0.0.0.0"
	DefaultGatewayPort = 18790
)

// Config is the root runtime configuration loaded from config.json.
type Config struct {
	Bot      BotConfig      `json:"bot"`
	Channels ChannelsConfig `json:"channels"`
	Gateway  GatewayConfig  `json:"gateway"`
	Logging  LoggingConfig  `json:"logging,omitempty"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `json:"format,omitempty"`
	Level     string `json:"level,omitempty"`
	AddSource bool   `json:"add_source,omitempty"`
	// File redirects log output to a file instead of stderr.
	File string `json:"file,omitempty"`
}

// BotConfig selects the transport and tunes the auto-reply engine.
type BotConfig struct {
	// Transport names the channel the bot connects through.
	Transport string `json:"transport"`
	// RulesPath is the rule file. A .yaml/.yml extension selects YAML.
	RulesPath string `json:"rules_path"`
	// AutoStart connects as soon as the process is up.
	AutoStart             bool   `json:"auto_start"`
	ConnectTimeoutSeconds int    `json:"connect_timeout_seconds"`
	SendTimeoutSeconds    int    `json:"send_timeout_seconds"`
	ForwardPrefix         string `json:"forward_prefix"`
}

// ConnectTimeout returns the connection watchdog period, zero when disabled.
func (b BotConfig) ConnectTimeout() time.Duration {
	return seconds(b.ConnectTimeoutSeconds)
}

// SendTimeout returns the per-send bound, zero when unbounded.
func (b BotConfig) SendTimeout() time.Duration {
	return seconds(b.SendTimeoutSeconds)
}

func seconds(value int) time.Duration {
	if value <= 0 {
		return 0
	}

	return time.Duration(value) * time.Second
}

// ChannelsConfig stores transport adapter settings.
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
}

// TelegramConfig configures Telegram channel integration.
type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	AllowFrom []string `json:"allow_from"`
}

// DiscordConfig configures Discord channel integration.
type DiscordConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	AllowFrom []string `json:"allow_from"`
}

// GatewayConfig configures HTTP gateway bind settings.
type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Addr returns host:port for net/http.
func (g GatewayConfig) Addr() string {
	return fmt.Sprintf("%s:%d", g.Host, g.Port)
}

// Default returns a configuration with every default applied and no
// transport credentials.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	applyEnvOverrides(cfg)

	return cfg
}

// LoadConfig resolves config.json, unmarshals it, and applies environment overrides.
func LoadConfig() (*Config, error) {
	configPath, err := findConfigPath()
	if err != nil {
		return nil, err
	}

	return LoadConfigFile(configPath)
}

// LoadConfigFile reads one config file, then applies defaults and env overrides.
func LoadConfigFile(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg.applyDefaults()
	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// Validate checks that the selected transport is enabled and has a token.
func (c *Config) Validate() error {
	switch c.Bot.Transport {
	case TransportTelegram:
		if !c.Channels.Telegram.Enabled {
			return errors.New("bot.transport is telegram but channels.telegram.enabled is false")
		}
		if strings.TrimSpace(c.Channels.Telegram.Token) == "" {
			return errors.New("channels.telegram.token is required")
		}
	case TransportDiscord:
		if !c.Channels.Discord.Enabled {
			return errors.New("bot.transport is discord but channels.discord.enabled is false")
		}
		if strings.TrimSpace(c.Channels.Discord.Token) == "" {
			return errors.New("channels.discord.token is required")
		}
	case "":
		return errors.New("bot.transport is required (telegram or discord)")
	default:
		return fmt.Errorf("unknown bot.transport %q (want telegram or discord)", c.Bot.Transport)
	}

	if c.Bot.ConnectTimeoutSeconds < 0 || c.Bot.SendTimeoutSeconds < 0 {
		return errors.New("bot timeouts must not be negative")
	}

	return nil
}

// applyDefaults fills optional values that were left empty.
func (c *Config) applyDefaults() {
	c.Bot.Transport = strings.ToLower(strings.TrimSpace(c.Bot.Transport))
	if c.Bot.Transport == "" {
		switch {
		case c.Channels.Telegram.Enabled:
			c.Bot.Transport = TransportTelegram
		case c.Channels.Discord.Enabled:
			c.Bot.Transport = TransportDiscord
		}
	}
	if strings.TrimSpace(c.Bot.RulesPath) == "" {
		c.Bot.RulesPath = DefaultRulesPath
	}
	if strings.TrimSpace(c.Gateway.Host) == "" {
		c.Gateway.Host = DefaultGatewayHost
	}
	if c.Gateway.Port == 0 {
		c.Gateway.Port = DefaultGatewayPort
	}
}

// applyEnvOverrides injects selected env-driven settings on top of file config.
func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	if token := strings.TrimSpace(os.Getenv(envTelegramBotToken)); token != "" {
		cfg.Channels.Telegram.Token = token
	}

	if rawAllowFrom := strings.TrimSpace(os.Getenv(envTelegramAllowFrom)); rawAllowFrom != "" {
		cfg.Channels.Telegram.AllowFrom = parseCSV(rawAllowFrom)
	}

	if token := strings.TrimSpace(os.Getenv(envDiscordBotToken)); token != "" {
		cfg.Channels.Discord.Token = token
	}

	if rawAllowFrom := strings.TrimSpace(os.Getenv(envDiscordAllowFrom)); rawAllowFrom != "" {
		cfg.Channels.Discord.AllowFrom = parseCSV(rawAllowFrom)
	}

	if rulesPath := strings.TrimSpace(os.Getenv(envRulesPath)); rulesPath != "" {
		cfg.Bot.RulesPath = rulesPath
	}
}

// parseCSV splits comma-separated values and returns a trimmed compact slice.
func parseCSV(input string) []string {
	parts := strings.Split(input, ",")
	clean := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		clean = append(clean, trimmed)
	}

	return slices.Clip(clean)
}

// findConfigPath resolves the active config file location.
//
// Precedence is AUTOREPLY_CONFIG first, then cwd-local fallback paths.
func findConfigPath() (string, error) {
	if value := strings.TrimSpace(os.Getenv(envConfigPath)); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("%s does not point to a file: %s", envConfigPath, value)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current working directory: %w", err)
	}

	candidates := []string{
		filepath.Join(cwd, "config.json"),
		filepath.Join(cwd, "config", "config.json"),
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("config.json not found (checked %s and %s)", candidates[0], candidates[1])
}
