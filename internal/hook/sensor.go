package hook

import (
	"context"
	"log/slog"
	"time"
)

// Level is the raw electrical level of the hook switch. The switch is wired
// active-low: lifting the handset pulls the line to ground.
type Level int

const (
	LevelOffHook Level = 0
	LevelOnHook  Level = 1
)

// EventKind classifies a debounced hook transition.
type EventKind int

const (
	// Lifted means the handset left the cradle.
	Lifted EventKind = iota
	// HungUp means the handset returned to the cradle.
	HungUp
	// ToggleBurst means the hook was flicked rapidly enough to request
	// greeting-record mode.
	ToggleBurst
)

func (k EventKind) String() string {
	switch k {
	case Lifted:
		return "lifted"
	case HungUp:
		return "hung_up"
	case ToggleBurst:
		return "toggle_burst"
	default:
		return "unknown"
	}
}

// Event is a single debounced hook transition.
type Event struct {
	Kind EventKind
	At   time.Time
}

// LevelReader reads the current raw hook level from hardware.
type LevelReader interface {
	Read() (Level, error)
}

// Options tunes the sensor loop. Zero values fall back to the defaults used
// on the reference hardware.
type Options struct {
	PollInterval time.Duration
	Debounce     time.Duration

	// Toggle-burst detection counts raw (undebounced) transitions so that
	// deliberate rapid flicking is seen even though each flick is too short
	// to survive the debounce window.
	ToggleEnabled bool
	ToggleCount   int
	ToggleWindow  time.Duration

	// now is injectable for tests.
	now func() time.Time
}

// Sensor polls a hook switch and emits stable, edge-triggered transitions.
// A transition is reported only once the raw level has held steady for the
// debounce window; bounces faster than the window are swallowed.
type Sensor struct {
	reader LevelReader
	opts   Options
	events chan Event
}

func NewSensor(reader LevelReader, opts Options) *Sensor {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 10 * time.Millisecond
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 200 * time.Millisecond
	}
	if opts.ToggleCount <= 0 {
		opts.ToggleCount = 10
	}
	if opts.ToggleWindow <= 0 {
		opts.ToggleWindow = 6 * time.Second
	}
	if opts.now == nil {
		opts.now = time.Now
	}

	return &Sensor{
		reader: reader,
		opts:   opts,
		events: make(chan Event, 16),
	}
}

// Events returns the channel of debounced transitions, delivered in the
// order they settled.
func (s *Sensor) Events() <-chan Event {
	return s.events
}

// Run polls until ctx is cancelled. Hardware read failures are logged and
// the previous raw level is retained, so a flaky line never fabricates a
// transition.
func (s *Sensor) Run(ctx context.Context) {
	last, err := s.reader.Read()
	if err != nil {
		slog.Warn("hook: initial read failed, assuming on-hook", "error", err)
		last = LevelOnHook
	}

	lastDebounced := last
	lastChange := s.opts.now()
	var toggles []time.Time

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		level, err := s.reader.Read()
		if err != nil {
			slog.Warn("hook: read failed, retaining last level", "error", err)
			continue
		}

		now := s.opts.now()

		if level != last {
			last = level
			lastChange = now

			if s.opts.ToggleEnabled {
				toggles = appendToggle(toggles, now, s.opts.ToggleWindow)
				if len(toggles) >= s.opts.ToggleCount {
					slog.Info("hook: toggle burst detected", "count", len(toggles), "window", s.opts.ToggleWindow)
					toggles = nil
					s.emit(Event{Kind: ToggleBurst, At: now})
				}
			}
			continue
		}

		if level != lastDebounced && now.Sub(lastChange) >= s.opts.Debounce {
			lastDebounced = level
			kind := HungUp
			if level == LevelOffHook {
				kind = Lifted
			}
			slog.Info("hook: state settled", "state", kind.String())
			s.emit(Event{Kind: kind, At: now})
		}
	}
}

// emit never blocks the poll loop: when the consumer lags, the oldest
// pending event is dropped in favor of the newest.
func (s *Sensor) emit(ev Event) {
	for {
		select {
		case s.events <- ev:
			return
		default:
		}
		select {
		case dropped := <-s.events:
			slog.Warn("hook: event buffer full, dropping oldest", "kind", dropped.Kind.String())
		default:
		}
	}
}

func appendToggle(toggles []time.Time, now time.Time, window time.Duration) []time.Time {
	kept := toggles[:0]
	for _, t := range toggles {
		if now.Sub(t) < window {
			kept = append(kept, t)
		}
	}
	return append(kept, now)
}
