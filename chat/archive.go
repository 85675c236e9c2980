package chat

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/onnwee/twitch-viewer/db"
	"github.com/onnwee/twitch-viewer/telemetry"
)

// Archive records a session's messages into Postgres. Failures are logged and
// counted; they never stop the worker.
type Archive struct {
	DB        *sql.DB
	SessionID string
	Timeout   time.Duration
}

// NewArchive returns an archive writing under sessionID.
func NewArchive(database *sql.DB, sessionID string) *Archive {
	return &Archive{DB: database, SessionID: sessionID, Timeout: 2 * time.Second}
}

// Begin registers the session row.
func (a *Archive) Begin(ctx context.Context, id Identity) error {
	return db.StartSession(ctx, a.DB, a.SessionID, id.Channel, id.Nick)
}

// End stamps the session with the error that ended it, if any.
func (a *Archive) End(ctx context.Context, cause error) {
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	if err := db.EndSession(ctx, a.DB, a.SessionID, reason); err != nil {
		slog.Warn("archive end session", slog.Any("err", err), slog.String("component", "chat_archive"))
	}
}

// Record is a Sink.
func (a *Archive) Record(m Message) {
	timeout := a.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	err := db.InsertChatMessage(ctx, a.DB, db.ChatMessage{
		SessionID:   a.SessionID,
		Channel:     m.Channel,
		Seq:         m.Seq,
		TwitchMsgID: m.ID,
		Author:      m.Author,
		Body:        m.Body,
		Color:       m.Color,
		SentAt:      m.SentAt,
		ReceivedAt:  m.ReceivedAt,
	})
	if err != nil {
		telemetry.Inc(telemetry.ArchiveFailures)
		slog.Warn("failed to archive chat message", slog.Any("err", err), slog.Uint64("seq", m.Seq), slog.String("component", "chat_archive"))
		return
	}
	telemetry.Inc(telemetry.MessagesArchived)
}
