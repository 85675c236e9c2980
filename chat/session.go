package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"
	"github.com/google/uuid"

	"github.com/onnwee/twitch-viewer/telemetry"
)

var (
	// ErrSessionAuthRejected means Twitch refused the token/nick at login.
	ErrSessionAuthRejected = errors.New("chat: login rejected by twitch")
	// ErrConnectionLost means the connection ended without anyone closing the stream.
	ErrConnectionLost = errors.New("chat: connection lost")
	// ErrClosed is returned by Recv after Close.
	ErrClosed = errors.New("chat: stream closed")
)

// Session kinds recorded in telemetry.SessionErrors.
const (
	errKindAuth       = "auth"
	errKindConnection = "connection"
)

// DefaultJoinTimeout bounds Open when the caller's context has no deadline.
const DefaultJoinTimeout = 30 * time.Second

// Message is one chat line as delivered by Twitch. Seq is the arrival order
// within its stream, starting at 1.
type Message struct {
	Author     string
	Body       string
	Seq        uint64
	Channel    string
	ID         string
	Color      string // #RRGGBB chosen by the author, may be empty
	SentAt     time.Time
	ReceivedAt time.Time
}

// Identity selects the channel to join and the nick to join it as.
// Nick is the display name of the account owning the token.
type Identity struct {
	Channel string
	Nick    string
}

// State is the lifecycle of a Stream.
type State int32

const (
	Disconnected State = iota
	Connecting
	Joined
	Closed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Joined:
		return "joined"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// ircClient is the subset of *twitch.Client the session drives.
type ircClient interface {
	OnConnect(callback func())
	OnPrivateMessage(callback func(message twitch.PrivateMessage))
	OnSelfJoinMessage(callback func(message twitch.UserJoinMessage))
	OnReconnectMessage(callback func(message twitch.ReconnectMessage))
	Join(channels ...string)
	Connect() error
	Disconnect() error
}

// Session opens chat streams.
type Session struct {
	// IRCAddress overrides the Twitch IRC endpoint (host:port). Empty uses the library default.
	IRCAddress string
	// TLS applies only together with IRCAddress.
	TLS bool
	// Buffer is how many received messages may wait for Recv before the network goroutine blocks.
	Buffer int
	// JoinTimeout bounds Open when ctx has no deadline.
	JoinTimeout time.Duration

	dial func(nick, pass string) ircClient
}

// NewSession returns a session against Twitch. ircAddress may be empty.
func NewSession(ircAddress string, tls bool) *Session {
	return &Session{IRCAddress: ircAddress, TLS: tls, Buffer: 256, JoinTimeout: DefaultJoinTimeout}
}

func (s *Session) newClient(nick, pass string) ircClient {
	if s.dial != nil {
		return s.dial(nick, pass)
	}
	c := twitch.NewClient(nick, pass)
	if s.IRCAddress != "" {
		c.IrcAddress = s.IRCAddress
		c.TLS = s.TLS
	}
	return c
}

// Open authenticates with token, joins id.Channel and returns its message stream.
// It returns once Twitch has confirmed the join, or fails with ErrSessionAuthRejected,
// ErrConnectionLost or the context's error.
func (s *Session) Open(ctx context.Context, token string, id Identity) (st *Stream, err error) {
	if token == "" {
		return nil, errors.New("chat: empty token")
	}
	channel := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(id.Channel), "#"))
	if channel == "" {
		return nil, errors.New("chat: empty channel")
	}
	if id.Nick == "" {
		return nil, errors.New("chat: empty nick")
	}
	if _, ok := ctx.Deadline(); !ok {
		timeout := s.JoinTimeout
		if timeout <= 0 {
			timeout = DefaultJoinTimeout
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	corr := uuid.NewString()
	ctx = telemetry.WithCorrelation(ctx, corr)
	ctx, span := telemetry.StartSpan(ctx, "chat.open", telemetry.ChannelAttr(channel))
	defer func() { telemetry.EndSpan(span, err) }()
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "chat"), slog.String("channel", channel))

	buf := s.Buffer
	if buf <= 0 {
		buf = 1
	}
	st = &Stream{
		channel: channel,
		log:     log,
		msgs:    make(chan Message, buf),
		closed:  make(chan struct{}),
		ended:   make(chan struct{}),
	}
	st.state.Store(int32(Connecting))

	// Twitch nicks are lowercase logins; the display name only differs in case.
	client := s.newClient(strings.ToLower(id.Nick), "oauth:"+token)
	st.client = client

	joined := make(chan struct{})
	var joinOnce sync.Once
	client.OnConnect(func() {
		// The client redials on its own after a drop and calls this again.
		// Any welcome after the first one means the session was lost.
		if st.connects.Add(1) > 1 {
			st.lost(errors.New("connection dropped and redialed"))
		}
		select {
		case <-st.closed:
		case <-st.ended:
		default:
			return
		}
		// a Close that raced the handshake, or a redial we refuse
		_ = client.Disconnect()
	})
	client.OnReconnectMessage(func(twitch.ReconnectMessage) {
		st.lost(errors.New("server requested reconnect"))
		_ = client.Disconnect()
	})
	client.OnSelfJoinMessage(func(m twitch.UserJoinMessage) {
		if strings.EqualFold(m.Channel, channel) {
			joinOnce.Do(func() { close(joined) })
		}
	})
	client.OnPrivateMessage(st.push)
	client.Join(channel)

	log.Info("connecting to chat", slog.String("nick", strings.ToLower(id.Nick)))
	start := time.Now()
	go func() {
		st.finish(client.Connect())
	}()

	select {
	case <-joined:
		st.state.CompareAndSwap(int32(Connecting), int32(Joined))
		if telemetry.SessionOpenDuration != nil {
			telemetry.SessionOpenDuration.Observe(time.Since(start).Seconds())
		}
		telemetry.SetSessionJoined(true)
		log.Info("joined chat", slog.Duration("took", time.Since(start)))
		return st, nil
	case <-st.ended:
		return nil, st.Err()
	case <-ctx.Done():
		st.Close()
		log.Warn("chat join aborted", slog.Any("err", ctx.Err()))
		return nil, ctx.Err()
	}
}

// Stream is the message sequence of one joined channel.
// Recv may be called from one goroutine while Close is called from another.
type Stream struct {
	channel string
	client  ircClient
	log     *slog.Logger

	msgs   chan Message
	closed chan struct{} // Close called
	ended  chan struct{} // session over, err set

	state     atomic.Int32
	seq       atomic.Uint64
	connects  atomic.Int32
	errMu     sync.Mutex
	err       error
	closeOnce sync.Once
	endOnce   sync.Once
}

// Channel is the joined channel (lowercase, without '#').
func (st *Stream) Channel() string { return st.channel }

// State reports the current lifecycle state.
func (st *Stream) State() State { return State(st.state.Load()) }

// Received counts messages read off the connection so far.
func (st *Stream) Received() uint64 { return st.seq.Load() }

// Err is the reason the stream ended, or nil while it is live.
func (st *Stream) Err() error {
	st.errMu.Lock()
	defer st.errMu.Unlock()
	return st.err
}

// push runs on the IRC reader goroutine. It blocks while the buffer is full.
func (st *Stream) push(pm twitch.PrivateMessage) {
	author := pm.User.DisplayName
	if author == "" {
		author = pm.User.Name
	}
	m := Message{
		Author:     author,
		Body:       pm.Message,
		Seq:        st.seq.Add(1),
		Channel:    pm.Channel,
		ID:         pm.ID,
		Color:      pm.User.Color,
		SentAt:     pm.Time,
		ReceivedAt: time.Now().UTC(),
	}
	select {
	case st.msgs <- m:
	case <-st.closed:
	}
}

// Recv returns the next message in arrival order. After Close it returns ErrClosed;
// after a connection failure it drains what was already received, then returns
// ErrConnectionLost or ErrSessionAuthRejected.
func (st *Stream) Recv(ctx context.Context) (Message, error) {
	select {
	case <-st.closed:
		return Message{}, ErrClosed
	default:
	}
	select {
	case m := <-st.msgs:
		return m, nil
	case <-st.closed:
		return Message{}, ErrClosed
	case <-st.ended:
		select {
		case m := <-st.msgs:
			return m, nil
		default:
		}
		return Message{}, st.Err()
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

// Close disconnects and unblocks any pending Recv. It is safe to call more than once.
func (st *Stream) Close() error {
	st.closeOnce.Do(func() {
		st.state.Store(int32(Closed))
		close(st.closed)
		telemetry.SetSessionJoined(false)
		if err := st.client.Disconnect(); err != nil && !errors.Is(err, twitch.ErrConnectionIsNotOpen) {
			st.log.Debug("chat disconnect", slog.Any("err", err))
		}
		st.log.Info("chat stream closed")
	})
	return nil
}

// lost ends the stream with ErrConnectionLost unless it already ended or was closed.
func (st *Stream) lost(cause error) {
	select {
	case <-st.closed:
		return
	default:
	}
	st.end(fmt.Errorf("%w: %w", ErrConnectionLost, cause))
}

// finish records why Connect returned. A disconnect we asked for is ErrClosed.
// It does not override an earlier lost.
func (st *Stream) finish(err error) {
	select {
	case <-st.closed:
		err = ErrClosed
	default:
		switch {
		case errors.Is(err, twitch.ErrLoginAuthenticationFailed):
			err = fmt.Errorf("%w: %w", ErrSessionAuthRejected, err)
		case errors.Is(err, twitch.ErrClientDisconnected):
			err = ErrClosed
		case err == nil:
			err = ErrConnectionLost
		default:
			err = fmt.Errorf("%w: %w", ErrConnectionLost, err)
		}
	}
	st.end(err)
}

// end records the first reason the session is over and wakes Recv.
func (st *Stream) end(err error) {
	st.endOnce.Do(func() {
		wasJoined := st.State() == Joined
		st.errMu.Lock()
		st.err = err
		st.errMu.Unlock()
		st.state.Store(int32(Closed))
		telemetry.SetSessionJoined(false)
		switch {
		case errors.Is(err, ErrSessionAuthRejected):
			telemetry.IncVec(telemetry.SessionErrors, errKindAuth)
		case errors.Is(err, ErrConnectionLost):
			telemetry.IncVec(telemetry.SessionErrors, errKindConnection)
		}
		if !errors.Is(err, ErrClosed) {
			st.log.Error("chat connection ended", slog.Any("err", err), slog.Bool("was_joined", wasJoined))
		}
		close(st.ended)
	})
}
