// Command twitch-viewer watches a Twitch channel: it starts an external media
// player for the stream and shows the channel's live chat in a terminal panel.
// It:
//   - Loads configuration (.env + environment) and logs to LOG_FILE, since the
//     chat panel owns the terminal.
//   - Obtains a user token (cache, Helix identity probe, browser authorization
//     when needed) and joins the channel's chat as that user.
//   - Streams chat into the panel and, when CHAT_ARCHIVE_DSN is set, into Postgres.
//   - Optionally exposes /healthz, /status and /metrics on STATUS_ADDR.
//
// Shutdown is graceful on q/ctrl+c, SIGINT or SIGTERM.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/onnwee/twitch-viewer/chat"
	"github.com/onnwee/twitch-viewer/config"
	"github.com/onnwee/twitch-viewer/credential"
	"github.com/onnwee/twitch-viewer/crypto"
	"github.com/onnwee/twitch-viewer/db"
	"github.com/onnwee/twitch-viewer/oauth"
	"github.com/onnwee/twitch-viewer/player"
	"github.com/onnwee/twitch-viewer/server"
	"github.com/onnwee/twitch-viewer/telemetry"
	"github.com/onnwee/twitch-viewer/tokenstore"
	"github.com/onnwee/twitch-viewer/tui"
	"github.com/onnwee/twitch-viewer/twitchapi"
)

const version = "1.0.0"

// archiveQueueSize is how many messages may wait for Postgres before new ones are dropped.
const archiveQueueSize = 4096

type options struct {
	channel  string
	location string
	noPlayer bool
	reauth   bool
	envFile  string
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := flag.NewFlagSet("twitch-viewer", flag.ContinueOnError)
	fs.StringVar(&o.channel, "channel-name", "", "Twitch channel whose chat to show (required)")
	fs.StringVar(&o.location, "stream-location", "", "stream URL or path handed to the player")
	fs.BoolVar(&o.noPlayer, "no-player", false, "show chat only, do not start the player")
	fs.BoolVar(&o.reauth, "reauth", false, "ignore the cached token and authorize again")
	fs.StringVar(&o.envFile, "env-file", ".env", "optional env file to load")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if o.channel == "" {
		return o, errors.New("--channel-name is required")
	}
	if o.location == "" && !o.noPlayer {
		return o, errors.New("--stream-location is required unless --no-player is set")
	}
	return o, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, "twitch-viewer:", err)
		os.Exit(2)
	}
	if err := run(opts); err != nil {
		fmt.Fprintln(os.Stderr, "twitch-viewer:", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	// Load .env file if present (local dev convenience only)
	_ = godotenv.Load(opts.envFile)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := cfg.ValidateAuth(); err != nil {
		return err
	}

	logOut, err := setupLogging(cfg)
	if err != nil {
		return err
	}
	defer logOut.Close()

	telemetry.Init()
	shutdownTracing, err := telemetry.InitTracing("twitch-viewer", version)
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		return err
	}
	defer shutdownTracing()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	broker, err := newBroker(cfg)
	if err != nil {
		return err
	}
	id, err := broker.Obtain(ctx, !opts.reauth)
	if err != nil {
		slog.Error("no usable credential", slog.Any("err", err))
		return err
	}
	slog.Info("authenticated", slog.String("login", id.Login), slog.String("token", telemetry.MaskToken(id.Token)))

	chatID := chat.Identity{Channel: opts.channel, Nick: id.DisplayName}
	stream, err := chat.NewSession(cfg.TwitchIRCAddress, cfg.TwitchIRCTLS).Open(ctx, id.Token, chatID)
	if err != nil {
		slog.Error("chat session failed", slog.Any("err", err))
		return err
	}
	defer stream.Close()

	var archive *chat.Archive
	if cfg.ArchiveDSN != "" {
		database, a, err := openArchive(ctx, cfg.ArchiveDSN, chatID)
		if err != nil {
			return err
		}
		defer database.Close()
		archive = a
	}

	var proc *player.Process
	if !opts.noPlayer {
		p := &player.Player{Command: cfg.PlayerCmd, Output: logOut}
		if proc, err = p.Start(ctx, opts.location); err != nil {
			slog.Error("player failed to start", slog.Any("err", err))
			return err
		}
		defer proc.Stop()
	}

	model := tui.New(tui.Options{Channel: stream.Channel(), Nick: id.DisplayName, PinTolerance: cfg.PinTolerance, Scrollback: cfg.Scrollback})
	prog := tui.NewProgram(ctx, model)

	if cfg.StatusAddr != "" {
		started := time.Now().UTC()
		go func() {
			err := server.Start(ctx, cfg.StatusAddr, func() server.Status {
				s := server.Status{
					Channel:   stream.Channel(),
					Nick:      id.DisplayName,
					State:     stream.State().String(),
					Received:  stream.Received(),
					Archive:   archive != nil,
					StartedAt: started,
				}
				if err := stream.Err(); err != nil {
					s.Error = err.Error()
				}
				return s
			})
			if err != nil {
				slog.Error("status server exited with error", slog.Any("err", err))
			}
		}()
	}

	// The UI gets each message first; inserts run behind a queue.
	var archiveQueue *chat.Queue
	var archiveSink chat.Sink
	if archive != nil {
		archiveQueue = chat.NewQueue(archive.Record, archiveQueueSize)
		archiveSink = archiveQueue.Send
	}
	worker := chat.NewWorker(stream, chat.Chain(tui.Handoff(prog), archiveSink), tui.ErrHandoff(prog))
	worker.Start(ctx)

	if proc != nil {
		go func() {
			select {
			case <-proc.Done():
				prog.Send(tui.StatusMsg("player exited"))
			case <-ctx.Done():
			}
		}()
	}

	_, runErr := prog.Run()
	worker.Stop()
	if archive != nil {
		archiveQueue.Close()
		if n := archiveQueue.Dropped(); n > 0 {
			slog.Warn("archive fell behind", slog.Uint64("dropped", n), slog.String("component", "chat_archive"))
		}
		endCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		archive.End(endCtx, model.Err())
		cancel()
	}
	if runErr != nil && !errors.Is(runErr, tea.ErrProgramKilled) {
		slog.Error("chat panel failed", slog.Any("err", runErr))
		return runErr
	}
	if err := model.Err(); err != nil {
		slog.Info("chat ended", slog.Any("err", err))
		return err
	}
	slog.Info("shutting down")
	return nil
}

// setupLogging sends slog output to LOG_FILE. Level and format follow LOG_LEVEL and LOG_FORMAT.
func setupLogging(cfg *config.Config) (io.WriteCloser, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o700); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	lvl := slog.LevelInfo
	unknownLevel := false
	switch cfg.LogLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		unknownLevel = true
	}
	var handler slog.Handler
	switch cfg.LogFormat {
	case "json":
		handler = slog.NewJSONHandler(f, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(f, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	if unknownLevel {
		slog.Warn("unknown LOG_LEVEL, using info", slog.String("value", cfg.LogLevel))
	}
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("file", cfg.LogFile))
	return f, nil
}

func newBroker(cfg *config.Config) (*credential.Broker, error) {
	var sealer tokenstore.Sealer
	if cfg.TokenEncryptionKey != "" {
		s, err := crypto.NewSealer(cfg.TokenEncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("TOKEN_ENCRYPTION_KEY: %w", err)
		}
		sealer = s
	}
	store := tokenstore.New(cfg.TokenCachePath(), sealer)
	helix := &twitchapi.HelixClient{ClientID: cfg.TwitchClientID, HTTPClient: &http.Client{Timeout: 10 * time.Second}}
	flow := &oauth.ImplicitFlow{
		ClientID:    cfg.TwitchClientID,
		RedirectURL: cfg.TwitchRedirectURL,
		Scopes:      cfg.TwitchScopes,
		Timeout:     cfg.AuthTimeout,
	}
	return credential.New(store, helix, flow), nil
}

func openArchive(ctx context.Context, dsn string, id chat.Identity) (*sql.DB, *chat.Archive, error) {
	database, err := db.Connect(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("archive db: %w", err)
	}
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.Migrate(ctx, database); err != nil {
		database.Close()
		return nil, nil, fmt.Errorf("archive migrate: %w", err)
	}
	archive := chat.NewArchive(database, uuid.New().String())
	if err := archive.Begin(ctx, id); err != nil {
		database.Close()
		return nil, nil, fmt.Errorf("archive session: %w", err)
	}
	slog.Info("chat archive enabled", slog.String("session", archive.SessionID), slog.String("component", "chat_archive"))
	return database, archive, nil
}
