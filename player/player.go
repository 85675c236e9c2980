// Package player launches the external media player for the stream location.
// The TUI owns the terminal, so the player's output goes to the log writer.
package player

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

// DefaultCommand is used when no player command is configured.
const DefaultCommand = "mpv"

// ErrNoLocation is returned when there is nothing to play.
var ErrNoLocation = errors.New("player: no stream location")

// Player starts Command with the stream location appended as the last argument.
// Command may carry its own flags, e.g. "streamlink --player mpv".
type Player struct {
	Command string
	Output  io.Writer

	// StopGrace is how long Stop waits after interrupting before it kills.
	StopGrace time.Duration
}

func (p *Player) argv(location string) (string, []string, error) {
	if strings.TrimSpace(location) == "" {
		return "", nil, ErrNoLocation
	}
	fields := strings.Fields(p.Command)
	if len(fields) == 0 {
		fields = []string{DefaultCommand}
	}
	return fields[0], append(fields[1:], location), nil
}

// Process is a running player.
type Process struct {
	cmd   *exec.Cmd
	grace time.Duration
	done  chan struct{}
	err   error
}

// Start launches the player. Cancelling ctx kills it.
func (p *Player) Start(ctx context.Context, location string) (*Process, error) {
	name, args, err := p.argv(location)
	if err != nil {
		return nil, err
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return nil, fmt.Errorf("player %q: %w", name, err)
	}

	cmd := exec.CommandContext(ctx, path, args...)
	out := p.Output
	if out == nil {
		out = io.Discard
	}
	cmd.Stdout = out
	cmd.Stderr = out
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start player: %w", err)
	}

	grace := p.StopGrace
	if grace <= 0 {
		grace = 3 * time.Second
	}
	proc := &Process{cmd: cmd, grace: grace, done: make(chan struct{})}
	slog.Info("player started", slog.String("cmd", name), slog.Int("pid", cmd.Process.Pid), slog.String("component", "player"))
	go func() {
		proc.err = cmd.Wait()
		close(proc.done)
		if proc.err != nil {
			slog.Warn("player exited", slog.Any("err", proc.err), slog.String("component", "player"))
		} else {
			slog.Info("player exited", slog.String("component", "player"))
		}
	}()
	return proc, nil
}

// Done is closed once the player has exited.
func (p *Process) Done() <-chan struct{} { return p.done }

// Err is the exit error. Only valid after Done is closed.
func (p *Process) Err() error { return p.err }

// Stop interrupts the player and kills it if it outlives the grace period.
func (p *Process) Stop() {
	select {
	case <-p.done:
		return
	default:
	}
	_ = p.cmd.Process.Signal(os.Interrupt)
	select {
	case <-p.done:
	case <-time.After(p.grace):
		_ = p.cmd.Process.Kill()
		<-p.done
	}
}
