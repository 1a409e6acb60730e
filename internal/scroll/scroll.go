// Package scroll implements the marquee animation used for text fields that do
// not fit their area. One Animator per field; advance it once per render tick.
package scroll

const ellipsis = "..."

// Config controls one field's animation
type Config struct {
	Enabled            bool
	Speed              int    // ticks per one-character advance (>= 1)
	Separator          string // placed between the end of the text and its wrapped start
	InitialPauseFrames int    // ticks the unshifted text is held before scrolling
	EndPauseFrames     int    // ticks held at the last offset before wrapping
}

// DefaultConfig returns the stock field configuration
func DefaultConfig() Config {
	return Config{
		Enabled:   true,
		Speed:     5,
		Separator: "   ",
	}
}

// State is the per-field animation state
type State struct {
	Offset       int  // rune offset into the text
	Tick         int  // ticks since the last advance
	InitialPause int  // initial-pause ticks consumed
	EndPause     int  // end-pause ticks consumed
	AtEnd        bool // holding at the last offset
}

// Measurer returns the rendered width of s in pixels
type Measurer func(s string) int

// Animator is not safe for concurrent use; it belongs to the render loop
type Animator struct {
	cfg   Config
	state State
	text  string // text the current state belongs to
}

// New creates an Animator; speed below 1 is treated as 1
func New(cfg Config) *Animator {
	if cfg.Speed < 1 {
		cfg.Speed = 1
	}
	if cfg.InitialPauseFrames < 0 {
		cfg.InitialPauseFrames = 0
	}
	if cfg.EndPauseFrames < 0 {
		cfg.EndPauseFrames = 0
	}
	return &Animator{cfg: cfg}
}

// Reset returns the animation to its initial state
func (a *Animator) Reset() {
	a.state = State{}
}

// State returns a copy of the current state
func (a *Animator) State() State {
	return a.state
}

// Next returns the text to draw this tick for a field of width available, and
// advances the animation by one tick. A different text than the previous call
// restarts the animation, initial pause included.
func (a *Animator) Next(text string, available int, measure Measurer) string {
	if text != a.text {
		a.Reset()
		a.text = text
	}
	if measure(text) <= available {
		a.Reset()
		return text
	}
	if !a.cfg.Enabled {
		a.Reset()
		return Truncate(text, available, measure)
	}

	if a.state.InitialPause < a.cfg.InitialPauseFrames {
		a.state.InitialPause++
		return text
	}

	runes := []rune(text)
	n := len(runes)
	if a.state.Offset >= n {
		a.state.Offset = 0
	}

	var out string
	if a.state.Offset >= n-1 {
		a.state.AtEnd = true
		if a.state.EndPause < a.cfg.EndPauseFrames {
			a.state.EndPause++
			out = a.rotate(runes, a.state.Offset)
		} else {
			a.Reset()
			return a.rotate(runes, 0)
		}
	} else {
		out = a.rotate(runes, a.state.Offset)
	}

	a.state.Tick++
	if a.state.Tick >= a.cfg.Speed {
		if !a.state.AtEnd {
			a.state.Offset = (a.state.Offset + 1) % n
		}
		a.state.Tick = 0
	}
	return out
}

func (a *Animator) rotate(runes []rune, offset int) string {
	return string(runes[offset:]) + a.cfg.Separator + string(runes[:offset])
}

// Truncate shortens text until it plus an ellipsis fits available
func Truncate(text string, available int, measure Measurer) string {
	if measure(text) <= available {
		return text
	}
	runes := []rune(text)
	for n := len(runes) - 1; n > 0; n-- {
		candidate := string(runes[:n]) + ellipsis
		if measure(candidate) <= available {
			return candidate
		}
	}
	if measure(ellipsis) <= available {
		return ellipsis
	}
	return ""
}
