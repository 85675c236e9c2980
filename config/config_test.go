package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DATA_DIR", dir)
	t.Setenv("TWITCH_REDIRECT_URL", "")
	t.Setenv("TWITCH_SCOPES", "")
	t.Setenv("TWITCH_AUTH_TIMEOUT", "")
	t.Setenv("CHAT_PIN_TOLERANCE", "")
	t.Setenv("CHAT_SCROLLBACK", "")
	t.Setenv("PLAYER_CMD", "")
	t.Setenv("LOG_FILE", "")
	t.Setenv("TWITCH_IRC_TLS", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.TwitchRedirectURL != DefaultRedirectURL {
		t.Errorf("redirect = %q, want %q", cfg.TwitchRedirectURL, DefaultRedirectURL)
	}
	if len(cfg.TwitchScopes) != 1 || cfg.TwitchScopes[0] != "chat:read" {
		t.Errorf("scopes = %v, want [chat:read]", cfg.TwitchScopes)
	}
	if cfg.AuthTimeout != 600*time.Second {
		t.Errorf("auth timeout = %v, want 600s", cfg.AuthTimeout)
	}
	if cfg.PinTolerance != 0 {
		t.Errorf("pin tolerance = %v, want 0", cfg.PinTolerance)
	}
	if cfg.Scrollback != DefaultScrollback {
		t.Errorf("scrollback = %d, want %d", cfg.Scrollback, DefaultScrollback)
	}
	if !cfg.TwitchIRCTLS {
		t.Errorf("irc tls should default to true")
	}
	if cfg.PlayerCmd != "mpv" {
		t.Errorf("player = %q, want mpv", cfg.PlayerCmd)
	}
	if want := filepath.Join(dir, "cache", "oauth-token"); cfg.TokenCachePath() != want {
		t.Errorf("TokenCachePath() = %q, want %q", cfg.TokenCachePath(), want)
	}
	if want := filepath.Join(dir, "viewer.log"); cfg.LogFile != want {
		t.Errorf("LogFile = %q, want %q", cfg.LogFile, want)
	}
}

func TestLoadScopesCommaOrSpace(t *testing.T) {
	t.Setenv("DATA_DIR", t.TempDir())
	t.Setenv("TWITCH_SCOPES", "chat:read, user:read:email moderator:read:chatters")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	want := []string{"chat:read", "user:read:email", "moderator:read:chatters"}
	if len(cfg.TwitchScopes) != len(want) {
		t.Fatalf("scopes = %v, want %v", cfg.TwitchScopes, want)
	}
	for i := range want {
		if cfg.TwitchScopes[i] != want[i] {
			t.Errorf("scope[%d] = %q, want %q", i, cfg.TwitchScopes[i], want[i])
		}
	}
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"bad timeout", "TWITCH_AUTH_TIMEOUT", "ten minutes"},
		{"negative timeout", "TWITCH_AUTH_TIMEOUT", "-1s"},
		{"bad tolerance", "CHAT_PIN_TOLERANCE", "abc"},
		{"negative tolerance", "CHAT_PIN_TOLERANCE", "-0.5"},
		{"bad tls flag", "TWITCH_IRC_TLS", "maybe"},
		{"zero scrollback", "CHAT_SCROLLBACK", "0"},
		{"bad scrollback", "CHAT_SCROLLBACK", "lots"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DATA_DIR", t.TempDir())
			t.Setenv(tt.key, tt.val)
			if _, err := Load(); err == nil {
				t.Errorf("Load() with %s=%q: expected error", tt.key, tt.val)
			}
		})
	}
}

func TestValidateAuth(t *testing.T) {
	t.Setenv("DATA_DIR", t.TempDir())
	t.Setenv("TWITCH_CLIENT_ID", "client")
	t.Setenv("TWITCH_REDIRECT_URL", "")
	cfg, _ := Load()
	if err := cfg.ValidateAuth(); err != nil {
		t.Errorf("expected valid auth config, got %v", err)
	}

	cfg.TwitchRedirectURL = "https://example.com/callback"
	if err := cfg.ValidateAuth(); err == nil {
		t.Errorf("expected error for non-local redirect without port")
	}

	cfg.TwitchRedirectURL = DefaultRedirectURL
	cfg.TwitchClientID = ""
	if err := cfg.ValidateAuth(); err == nil {
		t.Errorf("expected error when TWITCH_CLIENT_ID missing")
	}
}
