package tui

// Snapshot is the scroll geometry at one instant, in lines.
type Snapshot struct {
	Offset   float64
	Content  float64
	Viewport float64
}

// Max is the largest reachable offset. A log shorter than the viewport cannot scroll.
func (s Snapshot) Max() float64 {
	if m := s.Content - s.Viewport; m > 0 {
		return m
	}
	return 0
}

// PinState is carried from BeforeAppend to AfterAppend.
type PinState struct {
	Pinned bool
	Offset float64 // offset before the append
}

// ScrollState decides where the log sits after it grows: it follows the
// bottom if the viewer was at the bottom, otherwise it stays where it was.
//
// The decision is taken on the pre-append geometry; the target is read from
// the post-append geometry, after layout.
type ScrollState struct {
	// Tolerance counts offsets within this many lines of the bottom as pinned.
	// Zero means the viewer must be exactly at the bottom.
	Tolerance float64
}

// BeforeAppend records whether the viewer is at the bottom.
func (s ScrollState) BeforeAppend(snap Snapshot) PinState {
	tol := s.Tolerance
	if tol < 0 {
		tol = 0
	}
	return PinState{Pinned: snap.Offset >= snap.Max()-tol, Offset: snap.Offset}
}

// AfterAppend returns the offset to apply once the appended text has been laid out.
func (s ScrollState) AfterAppend(pin PinState, snap Snapshot) float64 {
	if pin.Pinned {
		return snap.Max()
	}
	return pin.Offset
}
