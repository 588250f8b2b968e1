// Package call owns the phone-facing state machine. One session instance
// exists per process; its state is mutated only by Run's event loop, and all
// cross-thread communication goes through the hook event channel in and the
// enrichment enqueue hand-off out.
package call

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rotaryline/guestbook/internal/hook"
	"github.com/rotaryline/guestbook/internal/indicator"
)

// State is the call lifecycle state.
type State int

const (
	StateIdle State = iota
	StateGreeting
	StateBeeping
	StateRecording
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateGreeting:
		return "greeting"
	case StateBeeping:
		return "beeping"
	case StateRecording:
		return "recording"
	default:
		return "unknown"
	}
}

// Handle is the subset of an audio process handle the session needs.
type Handle interface {
	Done() <-chan struct{}
	Err() error
	Path() string
}

// AudioEngine abstracts supervised playback and recording processes.
type AudioEngine interface {
	Play(file string) (Handle, error)
	StartRecording(path string) (Handle, error)
	Stop(h Handle)
}

// Store registers completed recordings for the enrichment pipeline.
type Store interface {
	Initialize(filename string, sizeBytes int64, duration time.Duration, createdAt time.Time) error
}

// Enqueuer accepts finished recordings for background enrichment. It must
// never block.
type Enqueuer interface {
	Enqueue(path, filename string)
}

// Options configures a session.
type Options struct {
	RecordingsDir       string
	GreetingsDir        string
	GreetingSound       string
	GreetingPromptSound string
	BeepSound           string
	TimeExceededSound   string

	RecordingLimit     time.Duration
	MinMessageDuration time.Duration
	MinFileSizeBytes   int64
	DeleteInvalid      bool
}

// Session reacts to hook transitions and sequences greeting → beep →
// record → finalize, enforcing the recording time limit and the validity
// filter. Waits on playback and the deadline stay interruptible so a hangup
// is honored immediately.
type Session struct {
	engine   AudioEngine
	store    Store
	queue    Enqueuer
	notifier indicator.Notifier
	events   <-chan hook.Event
	opts     Options

	// probe measures a finished recording; injectable for tests.
	probe func(path string) (time.Duration, error)
	// saveGreeting persists a re-recorded greeting path; nil disables.
	saveGreeting func(path string) error
	now          func() time.Time

	mu              sync.Mutex
	state           State
	greetingSound   string
	pendingGreeting bool
}

func NewSession(engine AudioEngine, store Store, queue Enqueuer, notifier indicator.Notifier, events <-chan hook.Event, probe func(string) (time.Duration, error), opts Options) *Session {
	if notifier == nil {
		notifier = indicator.Nop{}
	}
	if opts.RecordingLimit <= 0 {
		opts.RecordingLimit = 3 * time.Minute
	}

	return &Session{
		engine:        engine,
		store:         store,
		queue:         queue,
		notifier:      notifier,
		events:        events,
		opts:          opts,
		probe:         probe,
		now:           time.Now,
		greetingSound: opts.GreetingSound,
	}
}

// OnGreetingSaved registers the callback that persists a newly recorded
// greeting (typically a config file write-back).
func (s *Session) OnGreetingSaved(save func(path string) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveGreeting = save
}

// State returns the current call state. Safe for concurrent readers.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Idle reports whether no call is in progress. Used by the enrichment gate.
func (s *Session) Idle() bool {
	return s.State() == StateIdle
}

// Run consumes hook events until ctx is cancelled. Only one transition is
// ever processed at a time.
func (s *Session) Run(ctx context.Context) {
	s.notifier.Notify(indicator.StateIdle)

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.events:
			switch ev.Kind {
			case hook.ToggleBurst:
				s.armGreetingRecord()
			case hook.Lifted:
				if s.takePendingGreeting() {
					s.runGreetingRecord(ctx)
				} else {
					s.runCall(ctx)
				}
			case hook.HungUp:
				// Already idle; nothing to stop.
			}
		}
	}
}

// runCall drives the happy path: greeting → beep → record → finalize.
// A hangup at any point short-circuits to idle.
func (s *Session) runCall(ctx context.Context) {
	defer s.toIdle()

	s.setState(StateGreeting)
	s.notifier.Notify(indicator.StateGreeting)

	if hung := s.playStep(ctx, s.currentGreeting()); hung {
		return
	}

	s.setState(StateBeeping)
	if hung := s.playStep(ctx, s.opts.BeepSound); hung {
		return
	}

	filename := s.now().Format("2006-01-02T15-04-05") + ".wav"
	path := filepath.Join(s.opts.RecordingsDir, filename)

	handle, err := s.engine.StartRecording(path)
	if err != nil {
		// Fatal to this call attempt; the next lift starts fresh.
		slog.Error("call: recording start failed, abandoning attempt", "error", err)
		return
	}

	s.setState(StateRecording)
	s.notifier.Notify(indicator.StateRecording)
	startedAt := s.now()

	s.waitRecording(ctx, handle)
	s.finalizeRecording(path, filename, startedAt)
}

// waitRecording blocks until hangup, the hard deadline, or shutdown, then
// stops the recording process. On deadline it also plays the time-exceeded
// notice after the recorder has released the device.
func (s *Session) waitRecording(ctx context.Context, handle Handle) {
	deadline := time.NewTimer(s.opts.RecordingLimit)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			s.engine.Stop(handle)
			return
		case ev := <-s.events:
			switch ev.Kind {
			case hook.HungUp:
				slog.Info("call: hung up, saving recording")
				s.engine.Stop(handle)
				return
			case hook.ToggleBurst:
				slog.Info("call: toggle burst during recording, ending call")
				s.armGreetingRecord()
				s.engine.Stop(handle)
				return
			case hook.Lifted:
				// Already off-hook; ignore.
			}
		case <-deadline.C:
			slog.Info("call: recording limit reached, stopping")
			s.engine.Stop(handle)
			s.playStep(ctx, s.opts.TimeExceededSound)
			return
		case <-handle.Done():
			if err := handle.Err(); err != nil {
				slog.Warn("call: recording process exited early", "error", err)
			}
			return
		}
	}
}

// finalizeRecording applies the validity filter and hands valid recordings
// to the store and the enrichment queue. Misdials and instant hangups leave
// no file and no metadata entry.
func (s *Session) finalizeRecording(path, filename string, startedAt time.Time) {
	info, err := os.Stat(path)
	if err != nil {
		slog.Warn("call: no recording artifact to finalize", "path", path, "error", err)
		return
	}

	if err := s.validate(path, info.Size()); err != nil {
		slog.Info("call: discarding recording", "file", filename, "reason", err)
		if s.opts.DeleteInvalid {
			if rmErr := os.Remove(path); rmErr != nil {
				slog.Warn("call: remove invalid recording failed", "path", path, "error", rmErr)
			}
		}
		return
	}

	duration, _ := s.probe(path)
	if err := s.store.Initialize(filename, info.Size(), duration, startedAt); err != nil {
		slog.Error("call: register recording failed", "file", filename, "error", err)
	}
	s.queue.Enqueue(path, filename)
	s.notifier.Notify(indicator.StateSaved)
	slog.Info("call: recording saved", "file", filename, "bytes", info.Size(), "duration", duration)
}

func (s *Session) validate(path string, sizeBytes int64) error {
	if sizeBytes < s.opts.MinFileSizeBytes {
		return fmt.Errorf("file too small: %d < %d bytes", sizeBytes, s.opts.MinFileSizeBytes)
	}

	duration, err := s.probe(path)
	if err != nil {
		return fmt.Errorf("duration probe: %w", err)
	}
	if duration < s.opts.MinMessageDuration {
		return fmt.Errorf("message too short: %s < %s", duration, s.opts.MinMessageDuration)
	}
	return nil
}

// playStep plays one sound to completion, returning true if the caller hung
// up (or the process is shutting down) and the call must end. Playback
// failures are logged and treated as completed: a missing greeting must not
// prevent recording.
func (s *Session) playStep(ctx context.Context, file string) (hungUp bool) {
	if file == "" {
		return false
	}

	handle, err := s.engine.Play(file)
	if err != nil {
		slog.Warn("call: playback failed, continuing", "file", file, "error", err)
		return false
	}

	for {
		select {
		case <-ctx.Done():
			s.engine.Stop(handle)
			return true
		case ev := <-s.events:
			switch ev.Kind {
			case hook.HungUp:
				s.engine.Stop(handle)
				return true
			case hook.ToggleBurst:
				s.armGreetingRecord()
				s.engine.Stop(handle)
				return true
			case hook.Lifted:
				// Already off-hook; ignore.
			}
		case <-handle.Done():
			if err := handle.Err(); err != nil {
				slog.Warn("call: playback ended with error", "file", file, "error", err)
			}
			return false
		}
	}
}

// runGreetingRecord records a replacement greeting: prompt → beep → record
// until hangup, then persist the new greeting path.
func (s *Session) runGreetingRecord(ctx context.Context) {
	defer s.toIdle()

	slog.Info("call: entering greeting-record mode")
	s.setState(StateGreeting)
	s.notifier.Notify(indicator.StateGreeting)

	prompt := s.opts.GreetingPromptSound
	if prompt == "" {
		prompt = s.opts.BeepSound
	}
	if hung := s.playStep(ctx, prompt); hung {
		slog.Info("call: greeting-record cancelled before capture")
		return
	}

	s.setState(StateBeeping)
	if hung := s.playStep(ctx, s.opts.BeepSound); hung {
		slog.Info("call: greeting-record cancelled before capture")
		return
	}

	path := filepath.Join(s.opts.GreetingsDir, "greeting-"+s.now().Format("20060102-150405")+".wav")
	handle, err := s.engine.StartRecording(path)
	if err != nil {
		slog.Error("call: greeting recording start failed", "error", err)
		return
	}

	s.setState(StateRecording)
	s.notifier.Notify(indicator.StateRecording)

	// No deadline here: the greeting runs until hangup.
	for {
		select {
		case <-ctx.Done():
			s.engine.Stop(handle)
			s.persistGreeting(path)
			return
		case ev := <-s.events:
			switch ev.Kind {
			case hook.HungUp:
				s.engine.Stop(handle)
				s.persistGreeting(path)
				return
			case hook.Lifted, hook.ToggleBurst:
				// Already capturing; ignore.
			}
		case <-handle.Done():
			s.persistGreeting(path)
			return
		}
	}
}

func (s *Session) persistGreeting(path string) {
	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		slog.Info("call: greeting capture empty, keeping existing greeting")
		_ = os.Remove(path)
		return
	}

	s.mu.Lock()
	s.greetingSound = path
	save := s.saveGreeting
	s.mu.Unlock()

	if save != nil {
		if err := save(path); err != nil {
			slog.Error("call: persist new greeting failed", "path", path, "error", err)
			return
		}
	}
	s.notifier.Notify(indicator.StateSaved)
	slog.Info("call: new greeting saved", "path", path)
}

func (s *Session) armGreetingRecord() {
	s.mu.Lock()
	s.pendingGreeting = true
	s.mu.Unlock()
	slog.Info("call: greeting-record mode armed, lift handset to record")
}

func (s *Session) takePendingGreeting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending := s.pendingGreeting
	s.pendingGreeting = false
	return pending
}

func (s *Session) currentGreeting() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.greetingSound
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Session) toIdle() {
	s.setState(StateIdle)
	s.notifier.Notify(indicator.StateIdle)
}
