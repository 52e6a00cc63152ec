// Package config loads the deployment configuration from config.toml.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultConfigPath        = "config.toml"
	DefaultHTTPAddr          = ":8080"
	DefaultRulesPath         = "abilities.yaml"
	DefaultDataRoot          = "data"
	DefaultFeedTokenTTL      = "1h"
	DefaultKeyRotationSpec   = "0 */6 * * *"
	DefaultGenerativeModel   = "gpt-4o-mini"
	DefaultHistoryLimit      = 15
	DefaultHistoryCharBudget = 6000
	DefaultReplyChainDepth   = 20
)

type Config struct {
	Log        LogConfig        `toml:"log"`
	Server     ServerConfig     `toml:"server"`
	Auth       AuthConfig       `toml:"auth"`
	Discord    DiscordConfig    `toml:"discord"`
	Telegram   TelegramConfig   `toml:"telegram"`
	Generative GenerativeConfig `toml:"generative"`
	Image      ImageConfig      `toml:"image"`
	Weather    WeatherConfig    `toml:"weather"`
	Sports     SportsConfig     `toml:"sports"`
	Search     SearchConfig     `toml:"search"`
	Context    ContextConfig    `toml:"context"`
	Abilities  AbilityConfig    `toml:"abilities"`
	Storage    StorageConfig    `toml:"storage"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

// AuthConfig configures the rotating-key auth gating the activity feed.
type AuthConfig struct {
	FeedSecret      string `toml:"feed_secret" validate:"required,min=16"`
	FeedTokenTTL    string `toml:"feed_token_ttl"`
	KeyRotationSpec string `toml:"key_rotation_spec"`
}

type DiscordConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token" validate:"required_if=Enabled true"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token" validate:"required_if=Enabled true"`
}

type GenerativeConfig struct {
	BaseURL        string `toml:"base_url" validate:"required,url"`
	APIKey         string `toml:"api_key"`
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

type ImageConfig struct {
	BaseURL        string `toml:"base_url" validate:"omitempty,url"`
	APIKey         string `toml:"api_key"`
	Model          string `toml:"model"`
	Size           string `toml:"size"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

type WeatherConfig struct {
	BaseURL        string `toml:"base_url" validate:"omitempty,url"`
	APIKey         string `toml:"api_key"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

type SportsConfig struct {
	BaseURL        string `toml:"base_url" validate:"omitempty,url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// SearchConfig selects the web search provider.
type SearchConfig struct {
	Provider       string `toml:"provider" validate:"omitempty,oneof=brave google"`
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url" validate:"omitempty,url"`
	GoogleCX       string `toml:"google_cx"`
	FetchTopResult bool   `toml:"fetch_top_result"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// ContextConfig bounds the conversation window the pipeline assembles.
type ContextConfig struct {
	HistoryLimit      int `toml:"history_limit" validate:"omitempty,min=1"`
	HistoryCharBudget int `toml:"history_char_budget" validate:"omitempty,min=100"`
	ReplyChainDepth   int `toml:"reply_chain_depth" validate:"omitempty,min=1"`
}

type AbilityConfig struct {
	RulesPath string `toml:"rules_path"`
}

type StorageConfig struct {
	DataRoot string `toml:"data_root"`
}

// Load reads config from path (or DefaultConfigPath when empty), fills
// defaults, and validates required fields.
func Load(path string) (Config, error) {
	cfg := defaults()

	if path == "" {
		path = DefaultConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	fillDefaults(&cfg)

	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func defaults() Config {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
	fillDefaults(&cfg)
	return cfg
}

func fillDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = DefaultHTTPAddr
	}
	if cfg.Auth.FeedTokenTTL == "" {
		cfg.Auth.FeedTokenTTL = DefaultFeedTokenTTL
	}
	if cfg.Auth.KeyRotationSpec == "" {
		cfg.Auth.KeyRotationSpec = DefaultKeyRotationSpec
	}
	if cfg.Generative.Model == "" {
		cfg.Generative.Model = DefaultGenerativeModel
	}
	if cfg.Generative.TimeoutSeconds <= 0 {
		cfg.Generative.TimeoutSeconds = 60
	}
	if cfg.Context.HistoryLimit <= 0 {
		cfg.Context.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.Context.HistoryCharBudget <= 0 {
		cfg.Context.HistoryCharBudget = DefaultHistoryCharBudget
	}
	if cfg.Context.ReplyChainDepth <= 0 {
		cfg.Context.ReplyChainDepth = DefaultReplyChainDepth
	}
	if cfg.Abilities.RulesPath == "" {
		cfg.Abilities.RulesPath = DefaultRulesPath
	}
	if cfg.Storage.DataRoot == "" {
		cfg.Storage.DataRoot = DefaultDataRoot
	}
	if cfg.Search.Provider == "" {
		cfg.Search.Provider = "brave"
	}
}
