package chat

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// ircServer speaks just enough Twitch IRC for *twitch.Client: it welcomes on
// NICK, echoes JOIN back as the self-join and then hands the connection to
// afterJoin. Every accepted connection gets the same treatment, so a client
// that redials is welcomed again.
type ircServer struct {
	ln      net.Listener
	accepts atomic.Int32
}

func newIRCServer(t *testing.T, afterJoin func(conn net.Conn)) *ircServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &ircServer{ln: ln}
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			n := srv.accepts.Add(1)
			go srv.serve(conn, n, afterJoin)
		}
	}()
	return srv
}

func (srv *ircServer) serve(conn net.Conn, n int32, afterJoin func(net.Conn)) {
	defer conn.Close()
	sc := bufio.NewScanner(conn)
	var nick string
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "NICK "):
			nick = strings.TrimPrefix(line, "NICK ")
			writeIRC(conn, ":tmi.twitch.tv 001 "+nick+" :Welcome, GLHF!")
		case strings.HasPrefix(line, "JOIN "):
			for _, ch := range strings.Split(strings.TrimPrefix(line, "JOIN "), ",") {
				writeIRC(conn, ":"+nick+"!"+nick+"@"+nick+".tmi.twitch.tv JOIN "+ch)
			}
			if n == 1 && afterJoin != nil {
				afterJoin(conn)
				return
			}
		}
	}
}

func writeIRC(conn net.Conn, line string) {
	_, _ = conn.Write([]byte(line + "\r\n"))
}

const helloLine = "@badge-info=;badges=;color=#FF4500;display-name=Bar;id=b3f1;tmi-sent-ts=1700000000000;user-id=42 " +
	":bar!bar@bar.tmi.twitch.tv PRIVMSG #harddrop :hi"

func openIRC(t *testing.T, srv *ircServer) *Stream {
	t.Helper()
	s := NewSession(srv.ln.Addr().String(), false)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err := s.Open(ctx, "tok456", Identity{Channel: "#HardDrop", Nick: "Foo"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestStream_TwitchClientDropAfterJoin(t *testing.T) {
	got := make(chan struct{})
	srv := newIRCServer(t, func(conn net.Conn) {
		writeIRC(conn, helloLine)
		// the client may discard queued lines once its reader sees EOF
		select {
		case <-got:
		case <-time.After(5 * time.Second):
		}
	})
	st := openIRC(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	m, err := st.Recv(ctx)
	if err != nil {
		t.Fatalf("first Recv() error = %v", err)
	}
	if m.Body != "hi" || m.Author != "Bar" || m.Color != "#FF4500" {
		t.Errorf("first Recv() = %+v, want hi from Bar", m)
	}
	close(got)

	_, err = st.Recv(ctx)
	if !errors.Is(err, ErrConnectionLost) {
		t.Fatalf("Recv() after drop = %v, want ErrConnectionLost", err)
	}
	if st.State() != Closed {
		t.Errorf("State() = %v, want closed", st.State())
	}
}

func TestStream_TwitchClientReconnectRequest(t *testing.T) {
	srv := newIRCServer(t, func(conn net.Conn) {
		writeIRC(conn, ":tmi.twitch.tv RECONNECT")
		time.Sleep(time.Second)
	})
	st := openIRC(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := st.Recv(ctx); !errors.Is(err, ErrConnectionLost) {
		t.Fatalf("Recv() after RECONNECT = %v, want ErrConnectionLost", err)
	}
	if st.State() != Closed {
		t.Errorf("State() = %v, want closed", st.State())
	}
}
