// Package config loads environment variables and provides a typed Config used across the viewer.
// It applies sensible defaults so the binary can run with only TWITCH_CLIENT_ID set.
// Use ValidateAuth before starting the interactive authorization flow.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// DefaultRedirectURL is the local callback registered for the Twitch application.
const DefaultRedirectURL = "http://localhost:17563"

// DefaultAuthTimeout bounds how long the interactive authorization waits for the browser.
const DefaultAuthTimeout = 600 * time.Second

// DefaultScrollback is how many log entries the chat panel keeps before dropping the oldest.
const DefaultScrollback = 5000

type Config struct {
	// Twitch
	TwitchClientID    string
	TwitchRedirectURL string
	TwitchScopes      []string
	TwitchIRCAddress  string
	TwitchIRCTLS      bool
	AuthTimeout       time.Duration

	// Storage
	DataDir            string
	TokenEncryptionKey string

	// Chat panel
	PinTolerance float64
	Scrollback   int
	ArchiveDSN   string

	// Player
	PlayerCmd string

	// Observability
	StatusAddr string
	LogLevel   string
	LogFormat  string
	LogFile    string
}

// Load reads environment variables and applies defaults. Missing optional variables disable
// features (archive, status listener, encryption); malformed values are reported as errors.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.TwitchClientID = os.Getenv("TWITCH_CLIENT_ID")
	cfg.TwitchRedirectURL = os.Getenv("TWITCH_REDIRECT_URL")
	if cfg.TwitchRedirectURL == "" {
		cfg.TwitchRedirectURL = DefaultRedirectURL
	}
	cfg.TwitchScopes = parseScopes(os.Getenv("TWITCH_SCOPES"))
	if len(cfg.TwitchScopes) == 0 {
		// reading chat is all the viewer does
		cfg.TwitchScopes = []string{"chat:read"}
	}
	cfg.TwitchIRCAddress = os.Getenv("TWITCH_IRC_ADDRESS")
	cfg.TwitchIRCTLS = true
	if v := os.Getenv("TWITCH_IRC_TLS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid TWITCH_IRC_TLS %q: %w", v, err)
		}
		cfg.TwitchIRCTLS = b
	}

	cfg.AuthTimeout = DefaultAuthTimeout
	if v := os.Getenv("TWITCH_AUTH_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid TWITCH_AUTH_TIMEOUT %q (want positive duration)", v)
		}
		cfg.AuthTimeout = d
	}

	cfg.DataDir = os.Getenv("DATA_DIR")
	if cfg.DataDir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("resolve user config dir: %w", err)
		}
		cfg.DataDir = filepath.Join(base, "twitch-viewer")
	}
	cfg.TokenEncryptionKey = os.Getenv("TOKEN_ENCRYPTION_KEY")

	if v := os.Getenv("CHAT_PIN_TOLERANCE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 {
			return nil, fmt.Errorf("invalid CHAT_PIN_TOLERANCE %q (want non-negative number)", v)
		}
		cfg.PinTolerance = f
	}
	cfg.Scrollback = DefaultScrollback
	if v := os.Getenv("CHAT_SCROLLBACK"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid CHAT_SCROLLBACK %q (want positive integer)", v)
		}
		cfg.Scrollback = n
	}
	cfg.ArchiveDSN = os.Getenv("CHAT_ARCHIVE_DSN")

	cfg.PlayerCmd = os.Getenv("PLAYER_CMD")
	if cfg.PlayerCmd == "" {
		cfg.PlayerCmd = "mpv"
	}

	cfg.StatusAddr = os.Getenv("STATUS_ADDR")
	cfg.LogLevel = strings.ToLower(os.Getenv("LOG_LEVEL"))
	cfg.LogFormat = strings.ToLower(os.Getenv("LOG_FORMAT"))
	cfg.LogFile = os.Getenv("LOG_FILE")
	if cfg.LogFile == "" {
		cfg.LogFile = filepath.Join(cfg.DataDir, "viewer.log")
	}

	return cfg, nil
}

// ValidateAuth checks the fields the credential flow needs.
func (c *Config) ValidateAuth() error {
	if c.TwitchClientID == "" {
		return fmt.Errorf("missing twitch env: require TWITCH_CLIENT_ID")
	}
	u, err := url.Parse(c.TwitchRedirectURL)
	if err != nil {
		return fmt.Errorf("invalid TWITCH_REDIRECT_URL: %w", err)
	}
	if u.Scheme != "http" || u.Port() == "" {
		return fmt.Errorf("invalid TWITCH_REDIRECT_URL %q: need http://host:port for the local callback", c.TwitchRedirectURL)
	}
	return nil
}

// TokenCachePath is where the single cached bearer token lives.
func (c *Config) TokenCachePath() string {
	return filepath.Join(c.DataDir, "cache", "oauth-token")
}

// parseScopes allows comma or space separated scope lists.
func parseScopes(raw string) []string {
	return strings.Fields(strings.ReplaceAll(raw, ",", " "))
}
