// Package db provides the optional Postgres chat archive: connection, schema
// migration and the few queries the viewer runs against it.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'
)

// ErrNoDSN is returned by Connect when the archive is not configured.
var ErrNoDSN = errors.New("chat archive DSN not set")

// Connect opens and pings a Postgres connection for dsn (CHAT_ARCHIVE_DSN).
func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, ErrNoDSN
	}
	database, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	database.SetMaxOpenConns(4)
	database.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := database.PingContext(pingCtx); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping chat archive: %w", err)
	}
	return database, nil
}

// Migrate brings the archive schema up to date.
func Migrate(_ context.Context, database *sql.DB) error { return RunMigrations(database) }

// ChatMessage is one archived chat line.
type ChatMessage struct {
	SessionID   string
	Channel     string
	Seq         uint64
	TwitchMsgID string
	Author      string
	Body        string
	Color       string
	SentAt      time.Time
	ReceivedAt  time.Time
}

// InsertChatMessage records m. A message already stored for the same session and seq is ignored.
func InsertChatMessage(ctx context.Context, dbx *sql.DB, m ChatMessage) error {
	var sentAt sql.NullTime
	if !m.SentAt.IsZero() {
		sentAt = sql.NullTime{Time: m.SentAt, Valid: true}
	}
	_, err := dbx.ExecContext(ctx,
		`INSERT INTO chat_messages (session_id, channel, seq, twitch_msg_id, author, body, color, sent_at, received_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		 ON CONFLICT (session_id, seq) DO NOTHING`,
		m.SessionID, m.Channel, int64(m.Seq), m.TwitchMsgID, m.Author, m.Body, m.Color, sentAt, m.ReceivedAt)
	return err
}

// StartSession records the beginning of a chat session.
func StartSession(ctx context.Context, dbx *sql.DB, id, channel, nick string) error {
	_, err := dbx.ExecContext(ctx,
		`INSERT INTO chat_sessions (id, channel, nick, started_at) VALUES ($1,$2,$3,NOW())
		 ON CONFLICT (id) DO NOTHING`, id, channel, nick)
	return err
}

// EndSession stamps the end of a chat session with why it ended ("" for a clean stop).
func EndSession(ctx context.Context, dbx *sql.DB, id, reason string) error {
	_, err := dbx.ExecContext(ctx,
		`UPDATE chat_sessions SET ended_at = NOW(), end_reason = NULLIF($2, '') WHERE id = $1`, id, reason)
	return err
}

// CountChatMessages returns how many messages are archived for a session.
func CountChatMessages(ctx context.Context, dbx *sql.DB, sessionID string) (int, error) {
	var n int
	err := dbx.QueryRowContext(ctx, `SELECT COUNT(*) FROM chat_messages WHERE session_id = $1`, sessionID).Scan(&n)
	return n, err
}
