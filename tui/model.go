// Package tui is the chat panel: a bubbletea program whose event loop is the
// only goroutine that touches the visible log.
//
// Chat workers never call into the model. They hand messages over with
// Handoff, which goes through tea.Program.Send and therefore reaches Update in
// the order it was sent.
package tui

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/onnwee/twitch-viewer/chat"
)

// ChatMsg carries one chat message into the event loop.
type ChatMsg chat.Message

// ErrMsg reports the error that ended the chat worker.
type ErrMsg struct{ Err error }

// StatusMsg replaces the status line note.
type StatusMsg string

// Options configures the chat panel.
type Options struct {
	Channel      string
	Nick         string
	PinTolerance float64
	// Scrollback caps the entries kept in the log. Zero keeps everything.
	Scrollback int
}

// Model is the bubbletea model of the chat panel.
type Model struct {
	log       *logView
	presenter *Presenter

	channel  string
	nick     string
	note     string
	received int
	err      error

	width  int
	height int
	ready  bool

	headerStyle lipgloss.Style
	pinStyle    lipgloss.Style
	errStyle    lipgloss.Style
}

// New returns the chat panel model.
func New(opts Options) *Model {
	lv := newLogView(opts.Scrollback)
	return &Model{
		log:         lv,
		presenter:   NewPresenter(lv, ScrollState{Tolerance: opts.PinTolerance}),
		channel:     opts.Channel,
		nick:        opts.Nick,
		note:        "connected",
		headerStyle: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99")),
		pinStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
		errStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
	}
}

func (m *Model) Init() tea.Cmd { return nil }

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.ready = true
		h := msg.Height - 1 // status line
		if h < 1 {
			h = 1
		}
		m.presenter.Relayout(func() { m.log.resize(msg.Width, h) })
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "end", "G":
			m.log.vp.GotoBottom()
			return m, nil
		case "home", "g":
			m.log.vp.GotoTop()
			return m, nil
		}

	case ChatMsg:
		m.received++
		m.presenter.Append(chat.Message(msg))
		return m, nil

	case ErrMsg:
		m.err = msg.Err
		m.presenter.apply(func() { m.log.appendError(fmt.Sprintf("[chat ended] %v\n", msg.Err)) })
		return m, nil

	case StatusMsg:
		m.note = string(msg)
		return m, nil
	}

	var cmd tea.Cmd
	m.log.vp, cmd = m.log.vp.Update(msg)
	return m, cmd
}

func (m *Model) View() string {
	if !m.ready {
		return "Connecting to chat…"
	}
	return m.statusLine() + "\n" + m.log.vp.View()
}

func (m *Model) statusLine() string {
	left := m.headerStyle.Render("#"+m.channel) + " as " + m.nick
	pos := "live"
	if m.log.vp.YOffset < m.log.vp.TotalLineCount()-m.log.vp.Height {
		pos = "scrolled ↑ (End to follow)"
	}
	note := m.note
	if m.err != nil {
		note = m.errStyle.Render("disconnected")
	}
	right := m.pinStyle.Render(fmt.Sprintf("%d msgs · %s · %s", m.received, pos, note))
	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		gap = 1
	}
	return left + strings.Repeat(" ", gap) + right
}

// Text is the chat log as plain text.
func (m *Model) Text() string { return m.log.Text() }

// Err is the error that ended the chat worker, if any.
func (m *Model) Err() error { return m.err }

// Handoff returns a chat.Sink that delivers messages to p's event loop in order.
// It blocks until the loop accepts each message and returns at once after p exits.
func Handoff(p *tea.Program) chat.Sink {
	return func(msg chat.Message) { p.Send(ChatMsg(msg)) }
}

// ErrHandoff returns an error sink that reports into p's event loop.
func ErrHandoff(p *tea.Program) func(error) {
	return func(err error) { p.Send(ErrMsg{Err: err}) }
}

// NewProgram builds the full-screen program for m. Cancelling ctx stops it.
func NewProgram(ctx context.Context, m *Model, opts ...tea.ProgramOption) *tea.Program {
	// fixed profile avoids OSC background queries leaking into stdin
	lipgloss.SetColorProfile(termenv.EnvColorProfile())
	lipgloss.SetHasDarkBackground(true)

	opts = append([]tea.ProgramOption{tea.WithContext(ctx), tea.WithAltScreen(), tea.WithMouseCellMotion()}, opts...)
	return tea.NewProgram(m, opts...)
}
