package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFillsDefaults(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `
[auth]
feed_secret = "0123456789abcdef0123"

[generative]
base_url = "https://api.example.com/v1"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != DefaultHTTPAddr {
		t.Fatalf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Generative.Model != DefaultGenerativeModel {
		t.Fatalf("model = %q", cfg.Generative.Model)
	}
	if cfg.Context.HistoryLimit != DefaultHistoryLimit || cfg.Context.HistoryCharBudget != DefaultHistoryCharBudget {
		t.Fatalf("context defaults = %+v", cfg.Context)
	}
	if cfg.Auth.FeedTokenTTL != DefaultFeedTokenTTL || cfg.Auth.KeyRotationSpec != DefaultKeyRotationSpec {
		t.Fatalf("auth defaults = %+v", cfg.Auth)
	}
	if cfg.Abilities.RulesPath != DefaultRulesPath || cfg.Storage.DataRoot != DefaultDataRoot {
		t.Fatalf("path defaults = %+v / %+v", cfg.Abilities, cfg.Storage)
	}
	if cfg.Search.Provider != "brave" {
		t.Fatalf("search provider = %q", cfg.Search.Provider)
	}
}

func TestLoadRejectsShortFeedSecret(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `
[auth]
feed_secret = "short"

[generative]
base_url = "https://api.example.com/v1"
`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for short feed_secret")
	}
}

func TestLoadRequiresGenerativeBaseURL(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `
[auth]
feed_secret = "0123456789abcdef0123"
`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for missing generative base_url")
	}
}

func TestLoadRequiresTokenWhenChannelEnabled(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `
[auth]
feed_secret = "0123456789abcdef0123"

[generative]
base_url = "https://api.example.com/v1"

[discord]
enabled = true
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error for enabled discord without bot_token")
	}
	if !strings.Contains(err.Error(), "BotToken") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
