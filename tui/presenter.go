package tui

import "github.com/onnwee/twitch-viewer/chat"

// Surface is the visible chat log. Implementations are owned by the UI goroutine.
type Surface interface {
	Snapshot() Snapshot
	AppendText(text string)
	// Flush lays out pending text so Snapshot reflects it.
	Flush()
	SetOffset(offset float64)
}

// MessageSurface is implemented by surfaces that style a message beyond its text
// (author colours). The text written is still exactly Format(m).
type MessageSurface interface {
	Surface
	AppendMessage(text string, m chat.Message)
}

// Format renders a message as one log line.
func Format(m chat.Message) string {
	return m.Author + ": " + m.Body + "\n"
}

// Presenter is the single writer of a Surface. It must only be used from the UI goroutine.
type Presenter struct {
	Surface Surface
	Scroll  ScrollState
}

// NewPresenter returns a presenter over s.
func NewPresenter(s Surface, scroll ScrollState) *Presenter {
	return &Presenter{Surface: s, Scroll: scroll}
}

// Append adds m to the end of the log and keeps the viewer pinned to the
// bottom if they were there.
func (p *Presenter) Append(m chat.Message) {
	text := Format(m)
	p.apply(func() {
		if ms, ok := p.Surface.(MessageSurface); ok {
			ms.AppendMessage(text, m)
			return
		}
		p.Surface.AppendText(text)
	})
}

// AppendText adds a raw line (status or error notes) with the same scroll rule.
func (p *Presenter) AppendText(text string) {
	p.apply(func() { p.Surface.AppendText(text) })
}

// Relayout re-measures after a geometry change, keeping a pinned viewer at the bottom.
func (p *Presenter) Relayout(resize func()) {
	p.apply(resize)
}

func (p *Presenter) apply(mutate func()) {
	pin := p.Scroll.BeforeAppend(p.Surface.Snapshot())
	mutate()
	p.Surface.Flush()
	p.Surface.SetOffset(p.Scroll.AfterAppend(pin, p.Surface.Snapshot()))
}
