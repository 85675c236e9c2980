package tui

import (
	"hash/fnv"
	"math"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"
	"github.com/muesli/reflow/wrap"

	"github.com/onnwee/twitch-viewer/chat"
)

type entryKind int

const (
	entryPlain entryKind = iota
	entryMessage
	entryError
)

type logEntry struct {
	kind   entryKind
	text   string // exactly what the log shows, newline included
	author string
	color  string
	out    string // rendered at the current width, empty until flushed
}

// authorPalette colours authors that never picked a colour, stable per name.
var authorPalette = []string{"33", "39", "70", "99", "129", "166", "172", "203", "208", "214"}

// logView is the Surface behind the chat panel: a bubbles viewport whose
// content is the word-wrapped log. Rendering is incremental; a width change
// re-wraps everything.
//
// At most limit entries are kept. Snapshot and SetOffset count lines from the
// start of the session, dropped lines included, so an offset taken before a
// trim still points at the same line after it.
type logView struct {
	vp      viewport.Model
	entries []logEntry
	content strings.Builder
	pending int // first entry not yet rendered into content
	width   int
	limit   int
	dropped int // lines trimmed off the top

	errStyle  lipgloss.Style
	noteStyle lipgloss.Style
}

func newLogView(limit int) *logView {
	vp := viewport.New(0, 0)
	return &logView{
		vp:        vp,
		limit:     limit,
		errStyle:  lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		noteStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
	}
}

func (l *logView) Snapshot() Snapshot {
	return Snapshot{
		Offset:   float64(l.vp.YOffset + l.dropped),
		Content:  float64(l.vp.TotalLineCount() + l.dropped),
		Viewport: float64(l.vp.Height),
	}
}

func (l *logView) AppendText(text string) {
	l.entries = append(l.entries, logEntry{kind: entryPlain, text: text})
}

func (l *logView) AppendMessage(text string, m chat.Message) {
	l.entries = append(l.entries, logEntry{kind: entryMessage, text: text, author: m.Author, color: m.Color})
}

func (l *logView) appendError(text string) {
	l.entries = append(l.entries, logEntry{kind: entryError, text: text})
}

// Flush renders pending entries and hands the content to the viewport, which
// re-splits its lines immediately. The trim keeps that split bounded.
func (l *logView) Flush() {
	for ; l.pending < len(l.entries); l.pending++ {
		e := &l.entries[l.pending]
		e.out = l.render(*e)
		l.content.WriteString(e.out)
	}
	l.trim()
	l.vp.SetContent(strings.TrimSuffix(l.content.String(), "\n"))
}

// trim drops the oldest entries once the log is an eighth over its limit.
func (l *logView) trim() {
	if l.limit <= 0 || len(l.entries) <= l.limit+l.limit/8 {
		return
	}
	cut := len(l.entries) - l.limit
	for _, e := range l.entries[:cut] {
		l.dropped += strings.Count(e.out, "\n")
	}
	l.entries = append([]logEntry(nil), l.entries[cut:]...)
	l.pending = len(l.entries)
	l.content.Reset()
	for _, e := range l.entries {
		l.content.WriteString(e.out)
	}
}

func (l *logView) SetOffset(offset float64) {
	l.vp.SetYOffset(int(math.Round(offset)) - l.dropped)
}

// resize changes the viewport geometry; the caller flushes.
func (l *logView) resize(width, height int) {
	l.vp.Height = height
	if width != l.width {
		l.width = width
		l.vp.Width = width
		l.content.Reset()
		l.pending = 0
	}
}

// Text is the retained log as plain text.
func (l *logView) Text() string {
	var b strings.Builder
	for _, e := range l.entries {
		b.WriteString(e.text)
	}
	return b.String()
}

func (l *logView) render(e logEntry) string {
	line := strings.TrimSuffix(e.text, "\n")
	switch e.kind {
	case entryMessage:
		if rest, ok := strings.CutPrefix(line, e.author); ok && e.author != "" {
			line = authorStyle(e.author, e.color).Render(e.author) + rest
		}
	case entryError:
		line = l.errStyle.Render(line)
	default:
		line = l.noteStyle.Render(line)
	}
	if l.width > 0 {
		line = wrap.String(wordwrap.String(line, l.width), l.width)
	}
	if strings.HasSuffix(e.text, "\n") {
		line += "\n"
	}
	return line
}

func authorStyle(author, color string) lipgloss.Style {
	if color == "" {
		h := fnv.New32a()
		_, _ = h.Write([]byte(strings.ToLower(author)))
		color = authorPalette[h.Sum32()%uint32(len(authorPalette))]
	}
	return lipgloss.NewStyle().Foreground(lipgloss.Color(color)).Bold(true)
}
