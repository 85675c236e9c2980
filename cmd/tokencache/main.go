// Package main provides a CLI tool to inspect and manage the cached Twitch user token.
//
// Usage:
//
//	tokencache [--env-file FILE] show       print the cached token, masked
//	tokencache [--env-file FILE] validate   probe Helix with the cached token
//	tokencache [--env-file FILE] clear      delete the cache so the next run re-authorizes
//	tokencache [--env-file FILE] seal [--dry-run]
//	                                        rewrite a plaintext cache sealed with TOKEN_ENCRYPTION_KEY
//
// Environment Variables:
//
//	TWITCH_CLIENT_ID: required by validate
//	DATA_DIR: where the cache lives (default: user config dir)
//	TOKEN_ENCRYPTION_KEY: base64 32-byte key; required by seal
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/twitch-viewer/config"
	"github.com/onnwee/twitch-viewer/credential"
	"github.com/onnwee/twitch-viewer/crypto"
	"github.com/onnwee/twitch-viewer/telemetry"
	"github.com/onnwee/twitch-viewer/tokenstore"
	"github.com/onnwee/twitch-viewer/twitchapi"
)

func main() {
	envFile := flag.String("env-file", ".env", "optional env file to load")
	flag.Parse()
	_ = godotenv.Load(*envFile)

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	t, err := newTool(cfg, os.Stdout)
	if err != nil {
		slog.Error("setup failed", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := t.run(ctx, flag.Args()); err != nil {
		fmt.Fprintln(os.Stderr, "tokencache:", err)
		os.Exit(1)
	}
}

// tool holds everything the subcommands need.
type tool struct {
	path   string
	sealer *crypto.Sealer // nil when TOKEN_ENCRYPTION_KEY is unset
	prober credential.Prober
	out    io.Writer
}

func newTool(cfg *config.Config, out io.Writer) (*tool, error) {
	t := &tool{
		path:   cfg.TokenCachePath(),
		prober: &twitchapi.HelixClient{ClientID: cfg.TwitchClientID, HTTPClient: &http.Client{Timeout: 10 * time.Second}},
		out:    out,
	}
	if cfg.TokenEncryptionKey != "" {
		s, err := crypto.NewSealer(cfg.TokenEncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("TOKEN_ENCRYPTION_KEY: %w", err)
		}
		t.sealer = s
	}
	return t, nil
}

func (t *tool) store() *tokenstore.FileStore {
	if t.sealer == nil {
		return tokenstore.New(t.path, nil)
	}
	return tokenstore.New(t.path, t.sealer)
}

func (t *tool) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("missing command: show | validate | clear | seal")
	}
	switch args[0] {
	case "show":
		return t.show()
	case "validate":
		return t.validate(ctx)
	case "clear":
		return t.clear()
	case "seal":
		fs := flag.NewFlagSet("seal", flag.ContinueOnError)
		dryRun := fs.Bool("dry-run", false, "show what would be done without changing the cache")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		return t.seal(*dryRun)
	}
	return fmt.Errorf("unknown command %q", args[0])
}

func (t *tool) show() error {
	tok, err := t.store().Read()
	if err != nil {
		return err
	}
	if tok == "" {
		fmt.Fprintf(t.out, "%s: no cached token\n", t.path)
		return nil
	}
	fmt.Fprintf(t.out, "%s: %s\n", t.path, telemetry.MaskToken(tok))
	return nil
}

func (t *tool) validate(ctx context.Context) error {
	tok, err := t.store().Read()
	if err != nil {
		return err
	}
	if tok == "" {
		return errors.New("no cached token")
	}
	id, ok, err := credential.New(nil, t.prober, nil).Validate(ctx, tok)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(t.out, "invalid: token rejected by Twitch; the next run will re-authorize")
		return nil
	}
	fmt.Fprintf(t.out, "valid: %s (login %s, id %s)\n", id.DisplayName, id.Login, id.UserID)
	return nil
}

func (t *tool) clear() error {
	if err := t.store().Clear(); err != nil {
		return err
	}
	fmt.Fprintf(t.out, "%s: cleared\n", t.path)
	return nil
}

// seal encrypts a plaintext cache in place.
func (t *tool) seal(dryRun bool) error {
	if t.sealer == nil {
		return errors.New("TOKEN_ENCRYPTION_KEY is required for seal")
	}
	raw, err := tokenstore.New(t.path, nil).Read()
	if err != nil {
		return err
	}
	if raw == "" {
		fmt.Fprintln(t.out, "no cached token")
		return nil
	}
	if _, err := t.sealer.Open(raw); err == nil {
		fmt.Fprintln(t.out, "already sealed")
		return nil
	}
	if dryRun {
		fmt.Fprintf(t.out, "would seal %s (dry-run)\n", t.path)
		return nil
	}
	if err := tokenstore.New(t.path, t.sealer).Write(raw); err != nil {
		return err
	}
	fmt.Fprintf(t.out, "%s: sealed\n", t.path)
	return nil
}
