package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	return path
}

func TestLoadConfigFromEnvPath(t *testing.T) {
	path := writeConfig(t, `{
	  "bot": {"transport": "Telegram", "rules_path": "data/rules.yaml", "auto_start": true, "connect_timeout_seconds": 90},
	  "channels": {"telegram": {"enabled": true, "token": "file-token", "allow_from": ["1"]}},
	  "gateway": {"host": "127.0.0.1", "port": 9000},
	  "logging": {"format": "json", "level": "debug", "add_source": true}
	}`)

	t.Setenv("AUTOREPLY_CONFIG", path)
	t.Setenv("AUTOREPLY_RULES_PATH", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}

	if cfg.Bot.Transport != TransportTelegram {
		t.Fatalf("bot.transport = %q, want %q", cfg.Bot.Transport, TransportTelegram)
	}
	if cfg.Bot.RulesPath != "data/rules.yaml" {
		t.Fatalf("bot.rules_path = %q, want data/rules.yaml", cfg.Bot.RulesPath)
	}
	if !cfg.Bot.AutoStart {
		t.Fatal("bot.auto_start = false, want true")
	}
	if got := cfg.Bot.ConnectTimeout(); got != 90*time.Second {
		t.Fatalf("connect timeout = %v, want 90s", got)
	}
	if got := cfg.Bot.SendTimeout(); got != 0 {
		t.Fatalf("send timeout = %v, want 0", got)
	}
	if got := cfg.Gateway.Addr(); got != "127.0.0.1:9000" {
		t.Fatalf("gateway addr = %q, want 127.0.0.1:9000", got)
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("logging.format = %q, want %q", cfg.Logging.Format, "json")
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("logging.level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if !cfg.Logging.AddSource {
		t.Fatal("logging.add_source = false, want true")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate error: %v", err)
	}
}

func TestLoadConfigInvalidEnvPath(t *testing.T) {
	t.Setenv("AUTOREPLY_CONFIG", filepath.Join(t.TempDir(), "missing.json"))

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error for missing config path")
	}
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	t.Setenv("AUTOREPLY_RULES_PATH", "")
	path := writeConfig(t, `{"channels": {"discord": {"enabled": true, "token": "d"}}}`)

	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile error: %v", err)
	}

	if cfg.Bot.Transport != TransportDiscord {
		t.Fatalf("bot.transport = %q, want inferred discord", cfg.Bot.Transport)
	}
	if cfg.Bot.RulesPath != DefaultRulesPath {
		t.Fatalf("bot.rules_path = %q, want %q", cfg.Bot.RulesPath, DefaultRulesPath)
	}
	if got := cfg.Gateway.Addr(); got != "0.0.0.0:18790" {
		t.Fatalf("gateway addr = %q, want default", got)
	}
}

func TestEnvOverrides(t *testing.T) {
	path := writeConfig(t, `{"bot": {"transport": "discord"}, "channels": {"discord": {"enabled": true}}}`)

	t.Setenv("TELEGRAM_BOT_TOKEN", " tg-token ")
	t.Setenv("TELEGRAM_ALLOW_FROM", "1, 2,,3")
	t.Setenv("DISCORD_BOT_TOKEN", "dc-token")
	t.Setenv("DISCORD_ALLOW_FROM", "99")
	t.Setenv("AUTOREPLY_RULES_PATH", "/var/lib/autoreply/rules.json")

	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile error: %v", err)
	}

	if cfg.Channels.Telegram.Token != "tg-token" {
		t.Fatalf("telegram token = %q, want tg-token", cfg.Channels.Telegram.Token)
	}
	if got := strings.Join(cfg.Channels.Telegram.AllowFrom, ","); got != "1,2,3" {
		t.Fatalf("telegram allow_from = %q, want 1,2,3", got)
	}
	if cfg.Channels.Discord.Token != "dc-token" {
		t.Fatalf("discord token = %q, want dc-token", cfg.Channels.Discord.Token)
	}
	if got := strings.Join(cfg.Channels.Discord.AllowFrom, ","); got != "99" {
		t.Fatalf("discord allow_from = %q, want 99", got)
	}
	if cfg.Bot.RulesPath != "/var/lib/autoreply/rules.json" {
		t.Fatalf("rules path = %q, want env override", cfg.Bot.RulesPath)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate error: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "missing transport", cfg: Config{}, wantErr: "bot.transport is required"},
		{name: "unknown transport", cfg: Config{Bot: BotConfig{Transport: "whatsapp"}}, wantErr: "unknown bot.transport"},
		{
			name:    "disabled channel",
			cfg:     Config{Bot: BotConfig{Transport: TransportTelegram}, Channels: ChannelsConfig{Telegram: TelegramConfig{Token: "x"}}},
			wantErr: "enabled is false",
		},
		{
			name:    "missing token",
			cfg:     Config{Bot: BotConfig{Transport: TransportDiscord}, Channels: ChannelsConfig{Discord: DiscordConfig{Enabled: true}}},
			wantErr: "token is required",
		},
		{
			name: "negative timeout",
			cfg: Config{
				Bot:      BotConfig{Transport: TransportTelegram, SendTimeoutSeconds: -1},
				Channels: ChannelsConfig{Telegram: TelegramConfig{Enabled: true, Token: "x"}},
			},
			wantErr: "must not be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestDefault(t *testing.T) {
	t.Setenv("AUTOREPLY_RULES_PATH", "")

	cfg := Default()
	if cfg.Bot.RulesPath != DefaultRulesPath {
		t.Fatalf("rules path = %q, want %q", cfg.Bot.RulesPath, DefaultRulesPath)
	}
	if cfg.Gateway.Port != DefaultGatewayPort {
		t.Fatalf("gateway port = %d, want %d", cfg.Gateway.Port, DefaultGatewayPort)
	}
}
